// Package server provides the HTTP server for keepalive.
//
// The server owns one activity registry and exposes it, together with the
// lifecycle coordinator and the lease simulator, over a small JSON API.
//
// # Endpoints
//
//   - GET /health/live, GET /health/ready - Liveness and readiness checks
//   - GET /metrics - Prometheus metrics (scrape mode only)
//   - GET /api/status - Live activity count, leases held, next refresh, build info
//   - GET /api/activities - Snapshot of live activities
//   - POST /api/activities/{key}/start - Start or join an activity
//   - POST /api/activities/{key}/stop - Release one reference
//   - POST /api/activities/{key}/expire - Force the activity to end as expired
//   - POST /api/push - Handle a silent push
//   - POST /api/lifecycle/{event} - background or foreground
//   - POST /api/tasks/{id}/run - Fire a scheduled task now
//   - GET /api/leases - Outstanding simulator leases
//   - POST /api/leases/revoke - Reclaim every lease, as the environment would
//   - GET /api/history - Ended activities, most recent first
//   - GET /config - Returns current configuration as YAML
//   - POST /reload - Reloads configuration from disk
//
// # Architecture
//
// The registry, lease provider, callback executor and metrics registry are
// built once from the initial config. Reload swaps the config atomically
// and applies what can change at runtime: the log level and the
// coordinator's DefaultAddTime and TaskBudget. Changes to the lease
// provider, executor or monitoring mode take effect on restart.
//
// # Example
//
//	srv, err := server.New("/etc/keepalive/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := srv.Run(ctx); err != nil {
//	    log.Fatal(err)
//	}
package server

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"sync/atomic"
	"time"

	"github.com/nomis52/keepalive/activity"
	"github.com/nomis52/keepalive/buildinfo"
	"github.com/nomis52/keepalive/config"
	"github.com/nomis52/keepalive/coordinator"
	"github.com/nomis52/keepalive/history"
	"github.com/nomis52/keepalive/lease"
	"github.com/nomis52/keepalive/logging"
	"github.com/nomis52/keepalive/metrics"
	"github.com/nomis52/keepalive/server/handlers"
	"github.com/nomis52/keepalive/server/types"
)

const (
	defaultReadTimeout     = 10 * time.Second
	defaultWriteTimeout    = 10 * time.Second
	defaultShutdownTimeout = 5 * time.Second
)

// serverDeps holds config-derived state that is swapped atomically on reload.
type serverDeps struct {
	config *config.Config
}

// Server is the keepalive HTTP server.
type Server struct {
	addr        string
	configPath  string
	logWriter   io.Writer
	pushHandler coordinator.PushHandler

	logger    *logging.Logger
	collector *logging.LogCollector
	deps      atomic.Pointer[serverDeps]
	props     types.ServerProperties

	registry      *activity.Registry
	simulator     *lease.Simulator
	coordinator   *coordinator.Coordinator
	history       history.Store
	scrape        *metrics.ScrapeRegistry
	push          *metrics.PushRegistry
	closeExecutor func()

	draining   atomic.Bool
	httpServer *http.Server
}

// Option configures a Server.
type Option func(*Server) error

// WithListenAddr overrides the listener address from the config.
func WithListenAddr(addr string) Option {
	return func(s *Server) error {
		s.addr = addr
		return nil
	}
}

// WithPushHandler installs the work run for each silent push.
func WithPushHandler(h coordinator.PushHandler) Option {
	return func(s *Server) error {
		s.pushHandler = h
		return nil
	}
}

// WithLogWriter sends log output to w instead of the configured output.
func WithLogWriter(w io.Writer) Option {
	return func(s *Server) error {
		s.logWriter = w
		return nil
	}
}

// New creates a new Server with the given config path and options.
// It loads the configuration and initializes all dependencies.
func New(configPath string, opts ...Option) (*Server, error) {
	s := &Server{configPath: configPath}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, err
	}
	if s.addr == "" {
		s.addr = cfg.Listener.Addr
	}

	s.collector = logging.NewLogCollector()
	logOpts := []logging.Option{logging.WithCollector(s.collector)}
	if s.logWriter != nil {
		logOpts = append(logOpts, logging.WithWriter(s.logWriter))
	}
	if s.logger, err = logging.New(cfg.Logging, logOpts...); err != nil {
		return nil, err
	}

	if err := s.build(cfg); err != nil {
		return nil, err
	}
	s.deps.Store(&serverDeps{config: cfg})

	hostname, _ := os.Hostname()
	s.props = types.ServerProperties{
		Build:         buildinfo.Get(),
		StartedAt:     time.Now(),
		Hostname:      hostname,
		LeaseProvider: cfg.Lease.Provider,
		Executor:      cfg.Callbacks.Executor,
		MetricsMode:   cfg.Monitoring.Mode,
	}

	s.logger.Info("configuration loaded", "config_path", configPath)
	return s, nil
}

// build wires the registry and everything hanging off it.
func (s *Server) build(cfg *config.Config) error {
	logger := s.logger.Logger

	var observers []activity.Option
	var reg metrics.Registry
	switch cfg.Monitoring.Mode {
	case config.ModePush:
		s.push = metrics.NewPushRegistry(metrics.PushConfig{
			URL:      cfg.Monitoring.URL,
			Prefix:   cfg.Monitoring.Prefix,
			Job:      cfg.Monitoring.Job,
			Instance: cfg.Monitoring.Instance,
		})
		reg = s.push
	default:
		scrape, err := metrics.NewScrapeRegistry(cfg.Monitoring.Prefix)
		if err != nil {
			return err
		}
		s.scrape = scrape
		reg = scrape
	}
	activityMetrics, err := metrics.NewActivityMetrics(reg)
	if err != nil {
		return err
	}
	observers = append(observers, activity.WithObserver(activityMetrics))

	if cfg.History.StateDir != "" {
		store, err := history.NewDiskStore(cfg.History.StateDir, cfg.History.MaxSize, logger)
		if err != nil {
			return err
		}
		s.history = store
	} else {
		s.history = history.NewMemoryStore(cfg.History.MaxSize)
	}
	observers = append(observers, activity.WithObserver(history.NewRecorder(s.history, s.collector, logger)))

	executor, closeExecutor, err := cfg.Callbacks.NewExecutor(logger)
	if err != nil {
		return err
	}
	s.closeExecutor = closeExecutor

	provider := cfg.Lease.NewProvider(logger)
	if sim, ok := provider.(*lease.Simulator); ok {
		s.simulator = sim
	}

	regOpts := append([]activity.Option{
		activity.WithLogger(logger),
		activity.WithExecutor(executor),
	}, observers...)
	s.registry = activity.NewRegistry(provider, regOpts...)

	coordOpts := []coordinator.Option{coordinator.WithLogger(logger)}
	if s.pushHandler != nil {
		coordOpts = append(coordOpts, coordinator.WithPushHandler(s.pushHandler))
	}
	if s.coordinator, err = coordinator.New(cfg.Coordinator, s.registry, coordOpts...); err != nil {
		closeExecutor()
		return fmt.Errorf("creating coordinator: %w", err)
	}
	return nil
}

// Logger returns the server's logger.
func (s *Server) Logger() *slog.Logger {
	return s.logger.Logger
}

// Registry returns the activity registry.
func (s *Server) Registry() *activity.Registry {
	return s.registry
}

// Coordinator returns the lifecycle coordinator.
func (s *Server) Coordinator() *coordinator.Coordinator {
	return s.coordinator
}

// Reload reads the config from disk and applies the runtime-adjustable
// settings. On error the previous config stays in place.
func (s *Server) Reload() error {
	cfg, err := config.LoadConfig(s.configPath)
	if err != nil {
		return err
	}
	// Check everything before applying anything so a rejected reload
	// leaves no partial state behind.
	if _, err := logging.ParseLevel(cfg.Logging.Level); err != nil {
		return err
	}
	coord := cfg.Coordinator
	coord.SetDefaults()
	if err := coord.Validate(); err != nil {
		return fmt.Errorf("reconfiguring coordinator: %w", err)
	}

	if err := s.logger.SetLevel(cfg.Logging.Level); err != nil {
		return err
	}
	if err := s.coordinator.Reconfigure(cfg.Coordinator); err != nil {
		return fmt.Errorf("reconfiguring coordinator: %w", err)
	}

	prev := s.deps.Load().config
	if prev.Lease != cfg.Lease || prev.Callbacks != cfg.Callbacks || prev.Monitoring != cfg.Monitoring || prev.History != cfg.History {
		s.logger.Warn("lease, callbacks, history and monitoring changes take effect on restart")
	}

	s.deps.Store(&serverDeps{config: cfg})
	s.logger.Info("configuration reloaded", "config_path", s.configPath)
	return nil
}

// Config returns the current configuration.
func (s *Server) Config() *config.Config {
	return s.deps.Load().config
}

// Snapshot implements handlers.StatusProvider.
func (s *Server) Snapshot() []activity.EntryInfo {
	return s.registry.Snapshot()
}

// NextRefresh implements handlers.StatusProvider.
func (s *Server) NextRefresh() time.Time {
	return s.coordinator.NextRefresh()
}

// AddTime implements handlers.StatusProvider.
func (s *Server) AddTime() time.Duration {
	return s.coordinator.AddTime()
}

// Handler returns the HTTP handler with every route registered.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.registerRoutes(mux)
	return mux
}

// Run starts the HTTP server and blocks until the context is cancelled.
// It performs a graceful shutdown when the context is done.
// The coordinator's scheduled tasks run for the lifetime of ctx.
func (s *Server) Run(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:         s.addr,
		Handler:      s.Handler(),
		ReadTimeout:  defaultReadTimeout,
		WriteTimeout: defaultWriteTimeout,
	}

	s.coordinator.Start(ctx)
	s.logger.Info("coordinator started", "next_refresh", s.coordinator.NextRefresh())

	if s.push != nil {
		go s.pushLoop(ctx, s.Config().Monitoring.PushInterval)
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting server",
			"addr", s.addr,
			"config_path", s.configPath,
		)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		s.closeExecutor()
		return err
	case <-ctx.Done():
		s.logger.Info("shutting down server", "live_activities", s.registry.Len())
		s.draining.Store(true)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
		defer cancel()
		err := s.httpServer.Shutdown(shutdownCtx)
		s.closeExecutor()
		s.flushMetrics(shutdownCtx)
		return err
	}
}

func (s *Server) pushLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.flushMetrics(ctx)
		}
	}
}

func (s *Server) flushMetrics(ctx context.Context) {
	if s.push == nil {
		return
	}
	if err := s.push.Push(ctx); err != nil {
		s.logger.Warn("failed to push metrics", "error", err)
	}
}

func (s *Server) ready() error {
	if s.draining.Load() {
		return fmt.Errorf("%w: shutting down", handlers.ErrNotReady)
	}
	return nil
}

func (s *Server) registerRoutes(mux *http.ServeMux) {
	logger := s.logger.Logger

	activities := handlers.NewActivitiesHandler(logger, s.registry)
	lifecycle := handlers.NewLifecycleHandler(logger, s.coordinator)
	var leaseManager handlers.LeaseManager
	if s.simulator != nil {
		leaseManager = s.simulator
	}
	leases := handlers.NewLeasesHandler(leaseManager)

	mux.Handle("GET /health/", http.StripPrefix("/health", handlers.NewHealthHandler(
		handlers.ReadinessCheck{Name: "accepting-requests", Check: s.ready},
	)))
	if s.scrape != nil {
		mux.Handle("GET /metrics", s.scrape.Handler())
	}

	mux.Handle("GET /api/status", handlers.NewAPIStatusHandler(s.props, s))
	mux.HandleFunc("GET /api/activities", activities.List)
	mux.HandleFunc("POST /api/activities/{key}/start", activities.Start)
	mux.HandleFunc("POST /api/activities/{key}/stop", activities.Stop)
	mux.HandleFunc("POST /api/activities/{key}/expire", activities.Expire)
	mux.HandleFunc("POST /api/push", lifecycle.Push)
	mux.HandleFunc("POST /api/lifecycle/{event}", lifecycle.Event)
	mux.HandleFunc("POST /api/tasks/{id}/run", lifecycle.RunTask)
	mux.HandleFunc("GET /api/leases", leases.List)
	mux.HandleFunc("POST /api/leases/revoke", leases.Revoke)
	mux.Handle("GET /api/history", handlers.NewHistoryHandler(s.history))
	mux.Handle("GET /config", handlers.NewConfigHandler(logger, s))
	mux.Handle("POST /reload", handlers.NewReloadHandler(logger, s))
}
