package activity

import "sync"

// Once runs an action at most once no matter how many goroutines call Run.
//
// Unlike sync.Once, callers that lose the race return immediately instead of
// waiting for the winner's action to finish.
type Once struct {
	mu  sync.Mutex
	ran bool
}

// Run executes action if no previous call has. It reports whether this call
// was the one that ran it. The action runs outside the guard's lock.
func (o *Once) Run(action func()) bool {
	o.mu.Lock()
	if o.ran {
		o.mu.Unlock()
		return false
	}
	o.ran = true
	o.mu.Unlock()

	action()
	return true
}
