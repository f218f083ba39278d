package activity

import "time"

// LeaseID identifies a lease granted by a LeaseProvider.
type LeaseID string

// NoLease is the sentinel for "no lease was requested or granted".
const NoLease LeaseID = ""

// LeaseProvider grants and reclaims extended-execution leases.
type LeaseProvider interface {
	// Acquire asks the environment for a lease labelled with the activity key.
	// onRevoke is called at most once, asynchronously, if the environment
	// forcibly reclaims the lease before Release. Acquire must not call
	// onRevoke synchronously. ok is false if the lease was denied.
	Acquire(label string, onRevoke func()) (id LeaseID, ok bool)

	// Release hands the lease back. The Registry calls it at most once per id.
	Release(id LeaseID)
}

// Timer is a cancellable pending callback. *time.Timer satisfies it.
type Timer interface {
	Stop() bool
}

// Scheduler runs a function once after a delay.
type Scheduler interface {
	AfterFunc(d time.Duration, f func()) Timer
}

// SchedulerFunc adapts a function to the Scheduler interface.
type SchedulerFunc func(d time.Duration, f func()) Timer

// AfterFunc calls fn(d, f).
func (fn SchedulerFunc) AfterFunc(d time.Duration, f func()) Timer {
	return fn(d, f)
}

// WallClock schedules on the real clock using time.AfterFunc.
var WallClock Scheduler = SchedulerFunc(func(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
})
