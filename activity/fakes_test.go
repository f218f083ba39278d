package activity

import (
	"fmt"
	"sync"
	"time"
)

// fakeProvider grants leases with sequential IDs and lets tests revoke them.
type fakeProvider struct {
	mu        sync.Mutex
	deny      bool
	seq       int
	revokers  map[LeaseID]func()
	acquired  []LeaseID
	released  []LeaseID
	onRelease func(id LeaseID)
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{revokers: make(map[LeaseID]func())}
}

func (p *fakeProvider) Acquire(label string, onRevoke func()) (LeaseID, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.deny {
		return NoLease, false
	}
	p.seq++
	id := LeaseID(fmt.Sprintf("%s-%d", label, p.seq))
	p.revokers[id] = onRevoke
	p.acquired = append(p.acquired, id)
	return id, true
}

func (p *fakeProvider) Release(id LeaseID) {
	p.mu.Lock()
	p.released = append(p.released, id)
	hook := p.onRelease
	p.mu.Unlock()

	if hook != nil {
		hook(id)
	}
}

// revoke simulates the environment reclaiming id.
func (p *fakeProvider) revoke(id LeaseID) {
	p.mu.Lock()
	fn := p.revokers[id]
	p.mu.Unlock()
	if fn != nil {
		fn()
	}
}

func (p *fakeProvider) acquiredIDs() []LeaseID {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]LeaseID(nil), p.acquired...)
}

func (p *fakeProvider) releasedIDs() []LeaseID {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]LeaseID(nil), p.released...)
}

// fakeScheduler records timers and fires them on demand.
type fakeScheduler struct {
	mu     sync.Mutex
	timers []*fakeTimer
}

type fakeTimer struct {
	mu      sync.Mutex
	d       time.Duration
	f       func()
	stopped bool
	fired   bool
}

func (t *fakeTimer) Stop() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	pending := !t.stopped && !t.fired
	t.stopped = true
	return pending
}

func (t *fakeTimer) isStopped() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopped
}

func (s *fakeScheduler) AfterFunc(d time.Duration, f func()) Timer {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := &fakeTimer{d: d, f: f}
	s.timers = append(s.timers, t)
	return t
}

func (s *fakeScheduler) timer(i int) *fakeTimer {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.timers[i]
}

func (s *fakeScheduler) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

// fire runs timer i as if it elapsed, unless it was stopped.
func (s *fakeScheduler) fire(i int) {
	t := s.timer(i)
	t.mu.Lock()
	if t.stopped || t.fired {
		t.mu.Unlock()
		return
	}
	t.fired = true
	t.mu.Unlock()
	t.f()
}

// reasons collects end callbacks.
type reasons struct {
	mu   sync.Mutex
	got  map[string][]EndReason
	seen chan struct{}
}

func newReasons() *reasons {
	return &reasons{got: make(map[string][]EndReason), seen: make(chan struct{}, 16)}
}

func (r *reasons) callback(name string) func(EndReason) {
	return func(reason EndReason) {
		r.mu.Lock()
		r.got[name] = append(r.got[name], reason)
		r.mu.Unlock()
		select {
		case r.seen <- struct{}{}:
		default:
		}
	}
}

func (r *reasons) get(name string) []EndReason {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]EndReason(nil), r.got[name]...)
}

func (r *reasons) total() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, v := range r.got {
		n += len(v)
	}
	return n
}

// recordingObserver keeps every event it sees.
type recordingObserver struct {
	mu     sync.Mutex
	starts []StartEvent
	ends   []EndEvent
}

func (o *recordingObserver) ActivityStarted(ev StartEvent) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.starts = append(o.starts, ev)
}

func (o *recordingObserver) ActivityEnded(ev EndEvent) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.ends = append(o.ends, ev)
}

func (o *recordingObserver) endEvents() []EndEvent {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]EndEvent(nil), o.ends...)
}
