// Command leasectl holds a single activity for a fixed time and reports how
// it ended. It is the one-shot counterpart of the server: metrics are pushed
// to the configured remote write endpoint when the activity is over.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nomis52/keepalive/activity"
	"github.com/nomis52/keepalive/buildinfo"
	"github.com/nomis52/keepalive/config"
	"github.com/nomis52/keepalive/logging"
	"github.com/nomis52/keepalive/metrics"
)

const pushTimeout = 30 * time.Second

type Args struct {
	ConfigPath  string
	Key         string
	Hold        time.Duration
	MaxDuration time.Duration
	NoLease     bool
	ShowVersion bool
	Validate    bool
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	args := parseArgs()

	if args.ShowVersion {
		showVersion()
		return nil
	}

	if args.ConfigPath == "" {
		return fmt.Errorf("config flag (-c or --config) is required")
	}

	cfg, err := config.LoadConfig(args.ConfigPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if args.Validate {
		fmt.Printf("Configuration validation successful: %s\n", args.ConfigPath)
		return nil
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	props := buildinfo.Get()
	logger.Info("leasectl started",
		"version", props.Version,
		"git_commit", props.GitCommit,
		"config_path", args.ConfigPath,
	)

	var push *metrics.PushRegistry
	opts := []activity.Option{activity.WithLogger(logger.Logger)}
	if cfg.Monitoring.URL != "" {
		push = metrics.NewPushRegistry(metrics.PushConfig{
			URL:      cfg.Monitoring.URL,
			Prefix:   cfg.Monitoring.Prefix,
			Job:      "leasectl",
			Instance: cfg.Monitoring.Instance,
		})
		m, err := metrics.NewActivityMetrics(push)
		if err != nil {
			return fmt.Errorf("failed to create metrics: %w", err)
		}
		opts = append(opts, activity.WithObserver(m))
	}

	executor, closeExecutor, err := cfg.Callbacks.NewExecutor(logger.Logger)
	if err != nil {
		return err
	}
	defer closeExecutor()
	opts = append(opts, activity.WithExecutor(executor))

	registry := activity.NewRegistry(cfg.Lease.NewProvider(logger.Logger), opts...)

	maxDuration := args.MaxDuration
	if maxDuration == 0 {
		maxDuration = cfg.Coordinator.DefaultAddTime
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ended := make(chan activity.EndReason, 1)
	started := time.Now()
	registry.Run(args.Key, activity.StartOptions{
		WantsLease:  !args.NoLease,
		MaxDuration: maxDuration,
		OnEnd:       func(r activity.EndReason) { ended <- r },
	}, func(done func()) {
		go func() {
			select {
			case <-time.After(args.Hold):
			case <-ctx.Done():
				logger.Info("interrupted, releasing activity", "activity_key", args.Key)
			}
			done()
		}()
	})

	reason := <-ended
	fmt.Printf("%s ended %s after %s\n", args.Key, reason, time.Since(started).Round(time.Millisecond))

	if push != nil {
		pushCtx, cancel := context.WithTimeout(context.Background(), pushTimeout)
		defer cancel()
		if err := push.Push(pushCtx); err != nil {
			return fmt.Errorf("failed to push metrics: %w", err)
		}
	}
	return nil
}

func showVersion() {
	props := buildinfo.Get()
	fmt.Printf("leasectl %s\n", props.Version)
	fmt.Printf("Built: %s\n", props.BuildTime)
	fmt.Printf("Commit: %s\n", props.GitCommit)
}

func parseArgs() Args {
	configPath := flag.String("config", "", "Path to config file")
	configPathShort := flag.String("c", "", "Path to config file (shorthand)")
	key := flag.String("key", "leasectl.hold", "Activity key to hold")
	hold := flag.Duration("hold", 10*time.Second, "How long to hold the activity before stopping it")
	maxDuration := flag.Duration("max-duration", 0, "Lease bound, defaults to coordinator.default_add_time")
	noLease := flag.Bool("no-lease", false, "Hold the activity without requesting a lease")
	showVersion := flag.Bool("version", false, "Show version information")
	versionShort := flag.Bool("v", false, "Show version information (shorthand)")
	validate := flag.Bool("validate", false, "Validate configuration and exit")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [options]\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "\nHold one activity and report how it ended\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  %s --config /etc/keepalive/config.yaml -hold 45s\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s --version\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s --config config.yaml --validate\n", os.Args[0])
	}

	flag.Parse()

	path := *configPath
	if path == "" && *configPathShort != "" {
		path = *configPathShort
	}

	return Args{
		ConfigPath:  path,
		Key:         *key,
		Hold:        *hold,
		MaxDuration: *maxDuration,
		NoLease:     *noLease,
		ShowVersion: *showVersion || *versionShort,
		Validate:    *validate,
	}
}
