// Package handlers provides HTTP handlers for the keepalive server.
//
// Each handler is in its own file and implements http.Handler.
// Handlers use interfaces to access server dependencies, avoiding
// circular imports.
package handlers

import (
	"context"
	"time"

	"github.com/nomis52/keepalive/activity"
	"github.com/nomis52/keepalive/config"
	"github.com/nomis52/keepalive/coordinator"
	"github.com/nomis52/keepalive/history"
	"github.com/nomis52/keepalive/lease"
)

// ConfigProvider provides access to the current configuration.
type ConfigProvider interface {
	Config() *config.Config
}

// Reloader can reload its configuration.
type Reloader interface {
	Reload() error
}

// ActivityController drives the activity registry.
type ActivityController interface {
	Start(key string, opts activity.StartOptions)
	Stop(key string)
	Expire(key string)
	Snapshot() []activity.EntryInfo
}

// Lifecycle receives application lifecycle events.
type Lifecycle interface {
	HandleSilentPush(payload map[string]any, completion func(coordinator.FetchResult))
	DidEnterBackground()
	WillEnterForeground()
	Fire(ctx context.Context, taskID string) error
}

// LeaseManager exposes the simulated lease provider. Servers configured
// with another provider pass nil.
type LeaseManager interface {
	Leases() []lease.Info
	RevokeAll() int
}

// HistoryProvider provides access to ended activities.
type HistoryProvider interface {
	Records() []history.Record
}

// StatusProvider provides the values reported by /api/status.
type StatusProvider interface {
	Snapshot() []activity.EntryInfo
	NextRefresh() time.Time
	AddTime() time.Duration
}
