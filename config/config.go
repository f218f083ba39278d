package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/nomis52/keepalive/activity"
	"github.com/nomis52/keepalive/coordinator"
	"github.com/nomis52/keepalive/lease"
	"github.com/nomis52/keepalive/logging"
)

const (
	// Default listener settings
	defaultListenAddr = ":8080"

	// Default lease settings
	defaultLeaseProvider = ProviderSimulator
	defaultGrantWindow   = 30 * time.Second

	// Default callback settings
	defaultExecutor = ExecutorGoroutine
	defaultPoolSize = 16

	// Default history settings
	defaultHistorySize = 100

	// Default monitoring settings
	defaultMonitoringMode = ModeScrape
	defaultMetricsPrefix  = "keepalive"
	defaultJobName        = "keepalive"
	defaultPushInterval   = time.Minute
)

// Lease providers.
const (
	ProviderSimulator = "simulator"
	ProviderDeny      = "deny"
	ProviderNone      = "none"
)

// Callback executors.
const (
	ExecutorGoroutine = "goroutine"
	ExecutorSerial    = "serial"
	ExecutorPool      = "pool"
)

// Monitoring modes.
const (
	ModeScrape = "scrape"
	ModePush   = "push"
)

// Config represents the complete application configuration
type Config struct {
	Listener    ListenerConfig     `yaml:"listener"`
	Logging     logging.Config     `yaml:"logging"`
	Lease       LeaseConfig        `yaml:"lease"`
	Coordinator coordinator.Config `yaml:"coordinator"`
	Callbacks   CallbacksConfig    `yaml:"callbacks"`
	History     HistoryConfig      `yaml:"history"`
	Monitoring  MonitoringConfig   `yaml:"monitoring"`
}

// ListenerConfig holds HTTP server listener settings.
type ListenerConfig struct {
	// The listen address, defaults to :8080
	Addr string `yaml:"addr"`
}

// LeaseConfig selects and tunes the lease provider.
type LeaseConfig struct {
	// Provider is one of simulator, deny or none
	Provider string `yaml:"provider"`
	// GrantWindow is how long the simulator lets a lease live before reclaiming it
	GrantWindow time.Duration `yaml:"grant_window"`
	// MaxLeases caps outstanding simulator leases, 0 means unlimited
	MaxLeases int `yaml:"max_leases"`
}

// CallbacksConfig selects where end callbacks run by default.
type CallbacksConfig struct {
	// Executor is one of goroutine, serial or pool
	Executor string `yaml:"executor"`
	// PoolSize is the worker count for the pool executor
	PoolSize int `yaml:"pool_size"`
}

// HistoryConfig bounds the ended-activity history.
type HistoryConfig struct {
	MaxSize int `yaml:"max_size"`
	// StateDir, if set, persists history as JSON files in this directory
	StateDir string `yaml:"state_dir"`
}

// MonitoringConfig holds metrics settings
type MonitoringConfig struct {
	// Mode is scrape (serve /metrics) or push (remote write to URL)
	Mode         string        `yaml:"mode"`
	URL          string        `yaml:"url"`
	Prefix       string        `yaml:"prefix"`
	Job          string        `yaml:"job"`
	Instance     string        `yaml:"instance"`
	PushInterval time.Duration `yaml:"push_interval"`
}

// SetDefaults sets reasonable default values for optional fields
func (c *Config) SetDefaults() {
	if c.Listener.Addr == "" {
		c.Listener.Addr = defaultListenAddr
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if c.Logging.Output == "" {
		c.Logging.Output = "stdout"
	}
	if c.Lease.Provider == "" {
		c.Lease.Provider = defaultLeaseProvider
	}
	if c.Lease.GrantWindow == 0 {
		c.Lease.GrantWindow = defaultGrantWindow
	}
	c.Coordinator.SetDefaults()
	if c.Callbacks.Executor == "" {
		c.Callbacks.Executor = defaultExecutor
	}
	if c.Callbacks.PoolSize == 0 {
		c.Callbacks.PoolSize = defaultPoolSize
	}
	if c.History.MaxSize == 0 {
		c.History.MaxSize = defaultHistorySize
	}
	if c.Monitoring.Mode == "" {
		c.Monitoring.Mode = defaultMonitoringMode
	}
	if c.Monitoring.Prefix == "" {
		c.Monitoring.Prefix = defaultMetricsPrefix
	}
	if c.Monitoring.Job == "" {
		c.Monitoring.Job = defaultJobName
	}
	if c.Monitoring.PushInterval == 0 {
		c.Monitoring.PushInterval = defaultPushInterval
	}
	if c.Monitoring.Instance == "" {
		if host, err := os.Hostname(); err == nil {
			c.Monitoring.Instance = host
		}
	}
}

// Validate performs basic validation on the configuration
func (c *Config) Validate() error {
	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("logging: %w", err)
	}
	switch c.Logging.Format {
	case "json", "text":
	default:
		return fmt.Errorf("logging: format must be json or text, got %q", c.Logging.Format)
	}

	switch c.Lease.Provider {
	case ProviderSimulator, ProviderDeny, ProviderNone:
	default:
		return fmt.Errorf("lease: unknown provider %q", c.Lease.Provider)
	}
	if c.Lease.GrantWindow < 0 {
		return fmt.Errorf("lease: grant_window must not be negative")
	}
	if c.Lease.MaxLeases < 0 {
		return fmt.Errorf("lease: max_leases must not be negative")
	}

	if err := c.Coordinator.Validate(); err != nil {
		return fmt.Errorf("coordinator: %w", err)
	}

	switch c.Callbacks.Executor {
	case ExecutorGoroutine, ExecutorSerial, ExecutorPool:
	default:
		return fmt.Errorf("callbacks: unknown executor %q", c.Callbacks.Executor)
	}
	if c.Callbacks.Executor == ExecutorPool && c.Callbacks.PoolSize <= 0 {
		return fmt.Errorf("callbacks: pool_size must be positive")
	}

	if c.History.MaxSize <= 0 {
		return fmt.Errorf("history: max_size must be positive")
	}

	switch c.Monitoring.Mode {
	case ModeScrape:
	case ModePush:
		if c.Monitoring.URL == "" {
			return fmt.Errorf("monitoring: url is required in push mode")
		}
		if c.Monitoring.PushInterval <= 0 {
			return fmt.Errorf("monitoring: push_interval must be positive")
		}
	default:
		return fmt.Errorf("monitoring: unknown mode %q", c.Monitoring.Mode)
	}
	return nil
}

// Redacted returns a copy of the config with credentials removed from the
// monitoring URL.
func (c *Config) Redacted() *Config {
	out := *c
	if u, err := url.Parse(c.Monitoring.URL); err == nil && u.User != nil {
		u.User = url.User("REDACTED")
		out.Monitoring.URL = u.String()
	}
	return &out
}

// NewProvider builds the configured lease provider. It returns nil for
// ProviderNone, which makes every activity run without a lease.
func (c LeaseConfig) NewProvider(logger *slog.Logger) activity.LeaseProvider {
	switch c.Provider {
	case ProviderDeny:
		return lease.Deny{}
	case ProviderNone:
		return nil
	default:
		return lease.NewSimulator(
			lease.WithGrantWindow(c.GrantWindow),
			lease.WithMaxLeases(c.MaxLeases),
			lease.WithLogger(logger),
		)
	}
}

// NewExecutor builds the configured callback executor. The returned close
// function releases its resources and is never nil.
func (c CallbacksConfig) NewExecutor(logger *slog.Logger) (activity.Executor, func(), error) {
	switch c.Executor {
	case ExecutorSerial:
		q := activity.NewSerialQueue()
		return q, q.Close, nil
	case ExecutorPool:
		p, err := activity.NewPool(c.PoolSize, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("creating callback pool: %w", err)
		}
		return p, func() {
			if err := p.Close(); err != nil {
				logger.Warn("callback pool did not drain", "error", err)
			}
		}, nil
	default:
		return activity.Goroutine, func() {}, nil
	}
}

// Parse decodes, defaults and validates a YAML document. An empty document
// yields the defaults. Unknown fields are rejected.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to decode YAML config: %w", err)
	}

	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

// LoadConfig reads the YAML config file at the given path and returns a Config struct
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	return Parse(data)
}
