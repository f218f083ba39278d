// Package history keeps a bounded record of ended activities.
//
// A Recorder is registered as an activity.Observer. Each time an activity
// ends it builds a Record from the end event plus the log lines captured for
// the activity key, and saves it to a Store.
//
//	collector := logging.NewLogCollector()
//	store := history.NewMemoryStore(100)
//	reg := activity.NewRegistry(provider,
//		activity.WithObserver(history.NewRecorder(store, collector, logger)),
//	)
//
//	for _, rec := range store.Records() {
//		fmt.Println(rec.Key, rec.Reason, rec.EndedAt.Sub(rec.StartedAt))
//	}
package history

import (
	"log/slog"
	"time"

	"github.com/nomis52/keepalive/activity"
	"github.com/nomis52/keepalive/logging"
)

// Record describes one ended activity.
type Record struct {
	Key       string             `json:"key"`
	Reason    activity.EndReason `json:"reason"`
	LeaseHeld bool               `json:"lease_held"`
	StartedAt time.Time          `json:"started_at"`
	EndedAt   time.Time          `json:"ended_at"`
	Duration  string             `json:"duration"`
	Starts    int                `json:"starts"`
	Callbacks int                `json:"callbacks"`
	Logs      []logging.LogEntry `json:"logs,omitempty"`
}

// Store persists records.
type Store interface {
	// Records returns saved records, most recent first.
	Records() []Record
	// Save stores a record.
	Save(Record) error
}

// Recorder turns activity end events into records.
type Recorder struct {
	store     Store
	collector *logging.LogCollector
	logger    *slog.Logger
}

// NewRecorder creates a Recorder. collector may be nil, in which case
// records carry no logs.
func NewRecorder(store Store, collector *logging.LogCollector, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{
		store:     store,
		collector: collector,
		logger:    logger.With("component", "history"),
	}
}

// ActivityStarted implements activity.Observer.
func (r *Recorder) ActivityStarted(activity.StartEvent) {}

// ActivityEnded implements activity.Observer.
func (r *Recorder) ActivityEnded(ev activity.EndEvent) {
	rec := Record{
		Key:       ev.Key,
		Reason:    ev.Reason,
		LeaseHeld: ev.LeaseHeld,
		StartedAt: ev.StartedAt,
		EndedAt:   ev.EndedAt,
		Duration:  ev.Duration().String(),
		Starts:    ev.Starts,
		Callbacks: ev.Callbacks,
	}
	if r.collector != nil {
		rec.Logs = r.collector.Drain(ev.Key)
	}

	if err := r.store.Save(rec); err != nil {
		r.logger.Error("failed to save activity record", "key", ev.Key, "error", err)
	}
}
