package activity

import "time"

// StartEvent is reported to observers after every Start.
type StartEvent struct {
	Key string
	// Joined is true when the call joined a live entry instead of creating one.
	Joined bool
	// WantsLease and LeaseGranted describe the lease request of a new entry.
	// Both are false for joins.
	WantsLease   bool
	LeaseGranted bool
	// Refs is the reference count after the call.
	Refs int
	At   time.Time
}

// EndEvent is reported to observers once per entry, after the lease has
// been released and before callbacks are dispatched.
type EndEvent struct {
	Key       string
	Reason    EndReason
	LeaseHeld bool
	StartedAt time.Time
	EndedAt   time.Time
	// Starts counts every Start that created or joined the entry.
	Starts    int
	Callbacks int
}

// Duration returns how long the entry was live.
func (e EndEvent) Duration() time.Duration {
	return e.EndedAt.Sub(e.StartedAt)
}

// Observer is notified of registry transitions. Methods are called outside
// the registry lock, possibly from timer or provider goroutines, and must not
// block for long.
type Observer interface {
	ActivityStarted(StartEvent)
	ActivityEnded(EndEvent)
}
