package coordinator

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// ErrInvalidSchedule is returned when a task schedule cannot be parsed.
var ErrInvalidSchedule = errors.New("invalid schedule")

// scheduleParser accepts standard 5-field cron expressions and descriptors
// such as "@hourly" or "@every 15m".
var scheduleParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ParseSchedule parses a task schedule.
// Returns ErrInvalidSchedule if the specification cannot be parsed.
func ParseSchedule(spec string) (cron.Schedule, error) {
	schedule, err := scheduleParser.Parse(spec)
	if err != nil {
		return nil, errors.Join(ErrInvalidSchedule, err)
	}
	return schedule, nil
}

// trigger fires a task according to a schedule until its context is
// cancelled.
type trigger struct {
	taskID   string
	spec     string
	schedule cron.Schedule
	fire     func(ctx context.Context)
	logger   *slog.Logger
}

func newTrigger(taskID, spec string, fire func(ctx context.Context), logger *slog.Logger) (*trigger, error) {
	schedule, err := ParseSchedule(spec)
	if err != nil {
		return nil, err
	}

	return &trigger{
		taskID:   taskID,
		spec:     spec,
		schedule: schedule,
		fire:     fire,
		logger:   logger.With("task_id", taskID, "schedule", spec),
	}, nil
}

// start launches the scheduling loop. Returns immediately.
func (t *trigger) start(ctx context.Context) {
	go t.loop(ctx)
}

// nextRun returns the next scheduled run time from now.
func (t *trigger) nextRun() time.Time {
	return t.schedule.Next(time.Now())
}

func (t *trigger) loop(ctx context.Context) {
	for {
		next := t.nextRun()
		wait := time.Until(next)

		t.logger.Debug("waiting for next task run",
			"next_run", next,
			"wait_duration", wait,
		)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			t.logger.Info("task trigger shutting down")
			return
		case <-timer.C:
			t.logger.Info("scheduled task firing")
			t.fire(ctx)
		}
	}
}
