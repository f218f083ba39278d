// Package coordinator maps application lifecycle events onto activities.
//
// It is the caller that decides which keys exist: silent pushes, entering
// the background, and the periodic refresh and processing tasks each hold
// an activity (and usually a lease) for at most DefaultAddTime.
//
// Example usage:
//
//	c, err := coordinator.New(cfg, registry, coordinator.WithLogger(logger))
//	if err != nil {
//	    return err
//	}
//	c.Start(ctx)
//	c.HandleSilentPush(payload, func(r coordinator.FetchResult) { ... })
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/nomis52/keepalive/activity"
)

// Activity keys held by the coordinator.
const (
	SilentPushKey      = "bg.silent.push"
	EnterBackgroundKey = "bg.app.enter.background"
	RefreshKey         = "bg.app.refresh"
	ProcessingKey      = "bg.app.processing"
)

const (
	defaultAddTime          = 27 * time.Second
	defaultRefreshSchedule  = "@every 15m"
	defaultRefreshTaskID    = "com.keepalive.app.refresh"
	defaultProcessingTaskID = "com.keepalive.app.processing"
)

// ErrUnknownTask is returned by Fire for a task ID that is not configured.
var ErrUnknownTask = errors.New("unknown task")

// FetchResult is reported to silent push completions.
type FetchResult int

const (
	NoData FetchResult = iota
	NewData
	Failed
)

func (r FetchResult) String() string {
	switch r {
	case NoData:
		return "no_data"
	case NewData:
		return "new_data"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("FetchResult(%d)", int(r))
	}
}

// Config holds the coordinator settings.
type Config struct {
	// RefreshTaskID and ProcessingTaskID name the scheduled tasks.
	RefreshTaskID    string `yaml:"refresh_task_id"`
	ProcessingTaskID string `yaml:"processing_task_id"`
	// DefaultAddTime bounds every activity the coordinator starts.
	DefaultAddTime time.Duration `yaml:"default_add_time"`
	// RefreshSchedule is a cron expression or descriptor, e.g. "@every 15m".
	RefreshSchedule string `yaml:"refresh_schedule"`
	// ProcessingSchedule is optional; the processing task is not scheduled when empty.
	ProcessingSchedule string `yaml:"processing_schedule"`
	// TaskBudget is how long a scheduled task may run before its expiration
	// stops the activity. Defaults to DefaultAddTime and may not exceed it.
	TaskBudget time.Duration `yaml:"task_budget"`
}

// SetDefaults fills in unset fields.
func (c *Config) SetDefaults() {
	if c.RefreshTaskID == "" {
		c.RefreshTaskID = defaultRefreshTaskID
	}
	if c.ProcessingTaskID == "" {
		c.ProcessingTaskID = defaultProcessingTaskID
	}
	if c.DefaultAddTime == 0 {
		c.DefaultAddTime = defaultAddTime
	}
	if c.RefreshSchedule == "" {
		c.RefreshSchedule = defaultRefreshSchedule
	}
	if c.TaskBudget == 0 {
		c.TaskBudget = c.DefaultAddTime
	}
}

// Validate checks durations and schedules.
func (c *Config) Validate() error {
	if c.DefaultAddTime < 0 {
		return fmt.Errorf("default_add_time must not be negative")
	}
	if c.TaskBudget < 0 {
		return fmt.Errorf("task_budget must not be negative")
	}
	if c.DefaultAddTime > 0 && c.TaskBudget > c.DefaultAddTime {
		return fmt.Errorf("task_budget %s must not exceed default_add_time %s", c.TaskBudget, c.DefaultAddTime)
	}
	if c.RefreshTaskID == c.ProcessingTaskID && c.RefreshTaskID != "" {
		return fmt.Errorf("refresh and processing task IDs must differ, both are %q", c.RefreshTaskID)
	}
	if c.RefreshSchedule != "" {
		if _, err := ParseSchedule(c.RefreshSchedule); err != nil {
			return fmt.Errorf("refresh_schedule %q: %w", c.RefreshSchedule, err)
		}
	}
	if c.ProcessingSchedule != "" {
		if _, err := ParseSchedule(c.ProcessingSchedule); err != nil {
			return fmt.Errorf("processing_schedule %q: %w", c.ProcessingSchedule, err)
		}
	}
	return nil
}

// Activities is the subset of *activity.Registry the coordinator drives.
type Activities interface {
	Start(key string, opts activity.StartOptions)
	Stop(key string)
	Run(key string, opts activity.StartOptions, work func(done func()))
}

// PushHandler processes a silent push payload. ctx expires after
// DefaultAddTime.
type PushHandler func(ctx context.Context, payload map[string]any) error

// timing is the part of Config that Reconfigure can swap.
type timing struct {
	addTime    time.Duration
	taskBudget time.Duration
}

// Coordinator translates lifecycle events into activity starts and stops.
type Coordinator struct {
	activities  Activities
	logger      *slog.Logger
	pushHandler PushHandler
	cfg         Config
	timing      atomic.Pointer[timing]

	// tasks maps task IDs to activity keys.
	tasks    map[string]string
	refresh  *trigger
	triggers []*trigger
	started  atomic.Bool
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Coordinator) {
		c.logger = logger
	}
}

// WithPushHandler installs the work run for each silent push.
func WithPushHandler(h PushHandler) Option {
	return func(c *Coordinator) {
		c.pushHandler = h
	}
}

// New creates a Coordinator. cfg is defaulted and validated.
func New(cfg Config, activities Activities, opts ...Option) (*Coordinator, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	c := &Coordinator{
		activities: activities,
		logger:     slog.Default(),
		cfg:        cfg,
		tasks: map[string]string{
			cfg.RefreshTaskID:    RefreshKey,
			cfg.ProcessingTaskID: ProcessingKey,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("component", "coordinator")
	c.timing.Store(&timing{addTime: cfg.DefaultAddTime, taskBudget: cfg.TaskBudget})

	var err error
	if cfg.RefreshSchedule != "" {
		if c.refresh, err = c.newTaskTrigger(cfg.RefreshTaskID, cfg.RefreshSchedule); err != nil {
			return nil, err
		}
		c.triggers = append(c.triggers, c.refresh)
	}
	if cfg.ProcessingSchedule != "" {
		t, err := c.newTaskTrigger(cfg.ProcessingTaskID, cfg.ProcessingSchedule)
		if err != nil {
			return nil, err
		}
		c.triggers = append(c.triggers, t)
	}

	for _, t := range c.triggers {
		c.logger.Info("task registered",
			"task_id", t.taskID,
			"schedule", t.spec,
			"next_run", t.nextRun(),
		)
	}
	return c, nil
}

func (c *Coordinator) newTaskTrigger(taskID, spec string) (*trigger, error) {
	t, err := newTrigger(taskID, spec, func(ctx context.Context) {
		if err := c.Fire(ctx, taskID); err != nil {
			c.logger.Warn("scheduled task failed", "task_id", taskID, "error", err)
		}
	}, c.logger)
	if err != nil {
		return nil, fmt.Errorf("creating trigger for %s: %w", taskID, err)
	}
	return t, nil
}

// Start launches the task triggers. Returns immediately; the triggers stop
// when ctx is cancelled. Subsequent calls are no-ops.
func (c *Coordinator) Start(ctx context.Context) {
	if !c.started.CompareAndSwap(false, true) {
		return
	}
	for _, t := range c.triggers {
		t.start(ctx)
	}
}

// NextRefresh returns the next scheduled refresh, or the zero time if the
// refresh task is not scheduled.
func (c *Coordinator) NextRefresh() time.Time {
	if c.refresh == nil {
		return time.Time{}
	}
	return c.refresh.nextRun()
}

// AddTime returns the current DefaultAddTime.
func (c *Coordinator) AddTime() time.Duration {
	return c.timing.Load().addTime
}

// Reconfigure swaps DefaultAddTime and TaskBudget. Activities already
// started keep the bound they were started with. Schedule and task ID
// changes take effect on restart.
func (c *Coordinator) Reconfigure(cfg Config) error {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return err
	}
	if cfg.RefreshSchedule != c.cfg.RefreshSchedule || cfg.ProcessingSchedule != c.cfg.ProcessingSchedule {
		c.logger.Warn("schedule changes take effect on restart")
	}

	c.timing.Store(&timing{addTime: cfg.DefaultAddTime, taskBudget: cfg.TaskBudget})
	c.logger.Info("coordinator reconfigured",
		"default_add_time", cfg.DefaultAddTime,
		"task_budget", cfg.TaskBudget,
	)
	return nil
}

func (c *Coordinator) leaseOptions(onEnd func(activity.EndReason)) activity.StartOptions {
	return activity.StartOptions{
		WantsLease:  true,
		MaxDuration: c.AddTime(),
		OnEnd:       onEnd,
	}
}

// HandleSilentPush holds SilentPushKey while the push is processed.
// completion is called once, when the activity ends, with NewData unless
// the push handler returned an error.
func (c *Coordinator) HandleSilentPush(payload map[string]any, completion func(FetchResult)) {
	if c.pushHandler == nil {
		c.activities.Start(SilentPushKey, c.leaseOptions(func(reason activity.EndReason) {
			c.logger.Debug("silent push activity ended", "reason", reason)
			if completion != nil {
				completion(NewData)
			}
		}))
		return
	}

	var failed atomic.Bool
	opts := c.leaseOptions(func(reason activity.EndReason) {
		result := NewData
		if failed.Load() {
			result = Failed
		}
		c.logger.Debug("silent push activity ended", "reason", reason, "result", result)
		if completion != nil {
			completion(result)
		}
	})

	addTime := opts.MaxDuration
	c.activities.Run(SilentPushKey, opts, func(done func()) {
		go func() {
			defer done()

			ctx := context.Background()
			if addTime > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, addTime)
				defer cancel()
			}
			if err := c.pushHandler(ctx, payload); err != nil {
				failed.Store(true)
				c.logger.Warn("silent push handler failed", "error", err)
			}
		}()
	})
}

// DidEnterBackground holds EnterBackgroundKey for at most DefaultAddTime.
func (c *Coordinator) DidEnterBackground() {
	c.activities.Start(EnterBackgroundKey, c.leaseOptions(nil))
}

// WillEnterForeground releases one reference on EnterBackgroundKey.
func (c *Coordinator) WillEnterForeground() {
	c.activities.Stop(EnterBackgroundKey)
}

// Fire runs the task with the given ID now. The task's activity is stopped
// when its budget runs out or ctx is cancelled, whichever is first. If the
// activity has already ended by then its reference is gone and nothing is
// stopped, so a newer activity for the same key keeps its references.
func (c *Coordinator) Fire(ctx context.Context, taskID string) error {
	key, ok := c.tasks[taskID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTask, taskID)
	}

	ended := make(chan struct{})
	var endOnce activity.Once
	tm := c.timing.Load()
	c.activities.Start(key, activity.StartOptions{
		WantsLease:  true,
		MaxDuration: tm.addTime,
		OnEnd: func(activity.EndReason) {
			endOnce.Run(func() { close(ended) })
		},
	})
	c.logger.Info("task started", "task_id", taskID, "activity_key", key, "budget", tm.taskBudget)

	taskCtx, cancel := context.WithTimeout(ctx, tm.taskBudget)
	go func() {
		defer cancel()
		select {
		case <-ended:
			return
		case <-taskCtx.Done():
		}
		select {
		case <-ended:
			return
		default:
		}
		c.logger.Debug("task expired", "task_id", taskID, "cause", taskCtx.Err())
		c.activities.Stop(key)
	}()
	return nil
}

// Tasks returns the configured task IDs and their activity keys.
func (c *Coordinator) Tasks() map[string]string {
	tasks := make(map[string]string, len(c.tasks))
	for id, key := range c.tasks {
		tasks[id] = key
	}
	return tasks
}
