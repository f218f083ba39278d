// Package types holds values shared between the server and its handlers.
package types

import (
	"time"

	"github.com/nomis52/keepalive/buildinfo"
)

// ServerProperties describes the running keepalive instance as reported
// by /api/status. The wiring fields are fixed at startup; reload never
// changes them.
type ServerProperties struct {
	Build         buildinfo.Properties `json:"build"`
	StartedAt     time.Time            `json:"started_at"`
	Hostname      string               `json:"hostname"`
	LeaseProvider string               `json:"lease_provider"`
	Executor      string               `json:"executor"`
	MetricsMode   string               `json:"metrics_mode"`
}

// Uptime reports how long the server has been running as of now.
func (p ServerProperties) Uptime(now time.Time) time.Duration {
	if p.StartedAt.IsZero() {
		return 0
	}
	return now.Sub(p.StartedAt).Truncate(time.Second)
}
