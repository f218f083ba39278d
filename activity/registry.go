package activity

import (
	"log/slog"
	"sort"
	"sync"
	"time"
)

// StartOptions configures a Start or Run call.
type StartOptions struct {
	// WantsLease asks the provider for a lease when a new entry is created.
	// A denied lease leaves the activity running without one.
	WantsLease bool
	// MaxDuration bounds a granted lease. The entry is expired when it
	// elapses. Zero or negative means no timer.
	MaxDuration time.Duration
	// OnEnd, if set, is called exactly once with the final reason.
	OnEnd func(EndReason)
	// Executor delivers OnEnd. Nil means the registry default.
	Executor Executor
}

// EntryInfo is a point-in-time view of a live entry.
type EntryInfo struct {
	Key       string    `json:"key"`
	Refs      int       `json:"refs"`
	LeaseHeld bool      `json:"lease_held"`
	HasTimer  bool      `json:"has_timer"`
	Callbacks int       `json:"callbacks"`
	Starts    int       `json:"starts"`
	StartedAt time.Time `json:"started_at"`
}

type callback struct {
	executor Executor
	fn       func(EndReason)
}

type entry struct {
	key       string
	lease     LeaseID
	refs      int
	expired   bool
	ended     bool
	timeout   Timer
	callbacks []callback
	starts    int
	startedAt time.Time
}

// ending is everything a terminal transition hands back for execution
// outside the lock.
type ending struct {
	key       string
	lease     LeaseID
	timeout   Timer
	callbacks []callback
	reason    EndReason
	starts    int
	startedAt time.Time
	endedAt   time.Time
}

// Registry maps activity keys to live entries.
type Registry struct {
	provider  LeaseProvider
	scheduler Scheduler
	executor  Executor
	observers []Observer
	logger    *slog.Logger
	now       func() time.Time

	mu      sync.Mutex
	entries map[string]*entry
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the registry logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Registry) {
		r.logger = logger.With("component", "activity_registry")
	}
}

// WithScheduler sets the scheduler used for MaxDuration timers.
func WithScheduler(s Scheduler) Option {
	return func(r *Registry) {
		r.scheduler = s
	}
}

// WithExecutor sets the executor used for callbacks that don't name one.
// The default is Goroutine.
func WithExecutor(e Executor) Option {
	return func(r *Registry) {
		r.executor = e
	}
}

// WithObserver adds an observer. May be given more than once.
func WithObserver(o Observer) Option {
	return func(r *Registry) {
		r.observers = append(r.observers, o)
	}
}

// WithClock overrides the time source used for event timestamps.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		r.now = now
	}
}

// NewRegistry creates a registry backed by provider. A nil provider denies
// every lease.
func NewRegistry(provider LeaseProvider, opts ...Option) *Registry {
	r := &Registry{
		provider:  provider,
		scheduler: WallClock,
		executor:  Goroutine,
		logger:    slog.Default().With("component", "activity_registry"),
		now:       time.Now,
		entries:   make(map[string]*entry),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Start registers interest in key. It joins the live entry if there is one,
// otherwise it creates a new entry, acquiring a lease and arming the timer
// as requested.
func (r *Registry) Start(key string, opts StartOptions) {
	executor := opts.Executor
	if executor == nil {
		executor = r.executor
	}

	r.mu.Lock()
	ev := r.startLocked(key, opts, executor)
	r.mu.Unlock()

	logger := r.logger.With("activity_key", key)
	switch {
	case ev.Joined:
		logger.Debug("joined activity", "refs", ev.Refs)
	case ev.WantsLease && !ev.LeaseGranted:
		logger.Warn("lease denied, running without one")
	default:
		logger.Info("activity started", "lease", ev.LeaseGranted, "max_duration", opts.MaxDuration)
	}

	for _, o := range r.observers {
		o.ActivityStarted(ev)
	}
}

func (r *Registry) startLocked(key string, opts StartOptions, executor Executor) StartEvent {
	now := r.now()

	if e, ok := r.entries[key]; ok && !e.ended && !e.expired {
		e.refs++
		e.starts++
		if opts.OnEnd != nil {
			e.callbacks = append(e.callbacks, callback{executor: executor, fn: opts.OnEnd})
		}
		return StartEvent{Key: key, Joined: true, Refs: e.refs, At: now}
	}

	e := &entry{
		key:       key,
		lease:     NoLease,
		refs:      1,
		starts:    1,
		startedAt: now,
	}

	if opts.WantsLease && r.provider != nil {
		// The provider may not call onRevoke synchronously, and if it calls it
		// from another goroutine expireEntry blocks on r.mu until e is stored.
		id, ok := r.provider.Acquire(key, func() {
			r.expireEntry(e, "lease revoked")
		})
		if ok && id != NoLease {
			e.lease = id
			if opts.MaxDuration > 0 {
				e.timeout = r.scheduler.AfterFunc(opts.MaxDuration, func() {
					r.expireEntry(e, "max duration elapsed")
				})
			}
		}
	}

	if opts.OnEnd != nil {
		e.callbacks = append(e.callbacks, callback{executor: executor, fn: opts.OnEnd})
	}
	r.entries[key] = e

	return StartEvent{
		Key:          key,
		WantsLease:   opts.WantsLease,
		LeaseGranted: e.lease != NoLease,
		Refs:         1,
		At:           now,
	}
}

// Stop releases one reference to key. The activity ends with reason Normal
// when the last reference goes. Stopping an unknown key does nothing.
func (r *Registry) Stop(key string) {
	r.mu.Lock()
	e, ok := r.entries[key]
	if !ok {
		r.mu.Unlock()
		r.logger.Debug("stop for unknown activity", "key", key)
		return
	}

	if e.refs > 0 {
		e.refs--
	}
	var end *ending
	if e.refs == 0 {
		reason := Normal
		if e.expired {
			reason = Expired
		}
		end = r.tryEndLocked(key, false, reason)
	}
	r.mu.Unlock()

	if end != nil {
		r.finish(end)
	}
}

// Expire ends key immediately with reason Expired, whatever its reference
// count. Expiring an unknown key does nothing.
func (r *Registry) Expire(key string) {
	r.mu.Lock()
	end := r.expireLocked(key)
	r.mu.Unlock()

	if end != nil {
		r.logger.Info("activity expired", "activity_key", key, "cause", "expire requested")
		r.finish(end)
	}
}

// expireEntry is the target of revocation and timeout callbacks. It only
// acts if e is still the live entry for its key.
func (r *Registry) expireEntry(e *entry, cause string) {
	r.mu.Lock()
	if r.entries[e.key] != e {
		r.mu.Unlock()
		r.logger.Debug("ignoring expiry for ended activity", "key", e.key, "cause", cause)
		return
	}
	end := r.expireLocked(e.key)
	r.mu.Unlock()

	if end != nil {
		r.logger.Info("activity expired", "activity_key", e.key, "cause", cause)
		r.finish(end)
	}
}

func (r *Registry) expireLocked(key string) *ending {
	e, ok := r.entries[key]
	if !ok {
		return nil
	}
	e.expired = true
	return r.tryEndLocked(key, true, Expired)
}

// tryEndLocked performs the terminal transition for key. It returns nil if
// the entry is absent, already ended, or still referenced and not forced.
// The entry leaves the map in the same critical section that marks it ended.
func (r *Registry) tryEndLocked(key string, force bool, reason EndReason) *ending {
	e, ok := r.entries[key]
	if !ok || e.ended {
		return nil
	}
	if !force && e.refs != 0 {
		return nil
	}

	e.ended = true
	delete(r.entries, key)

	if e.expired {
		reason = Expired
	}

	return &ending{
		key:       key,
		lease:     e.lease,
		timeout:   e.timeout,
		callbacks: e.callbacks,
		reason:    reason,
		starts:    e.starts,
		startedAt: e.startedAt,
		endedAt:   r.now(),
	}
}

// finish runs the side effects of a terminal transition. Must be called
// without r.mu held.
func (r *Registry) finish(end *ending) {
	if end.timeout != nil {
		end.timeout.Stop()
	}
	if end.lease != NoLease {
		r.provider.Release(end.lease)
	}

	ev := EndEvent{
		Key:       end.key,
		Reason:    end.reason,
		LeaseHeld: end.lease != NoLease,
		StartedAt: end.startedAt,
		EndedAt:   end.endedAt,
		Starts:    end.starts,
		Callbacks: len(end.callbacks),
	}

	r.logger.Info("activity ended",
		"activity_key", end.key,
		"reason", end.reason.String(),
		"lease", ev.LeaseHeld,
		"duration", ev.Duration(),
		"callbacks", ev.Callbacks,
	)

	for _, o := range r.observers {
		o.ActivityEnded(ev)
	}

	reason := end.reason
	for _, cb := range end.callbacks {
		fn := cb.fn
		cb.executor.Execute(func() { fn(reason) })
	}
}

// Run starts key and hands work a done function. The first call to done
// stops key; later calls are ignored. Run does not call done itself.
func (r *Registry) Run(key string, opts StartOptions, work func(done func())) {
	r.Start(key, opts)

	var once Once
	work(func() {
		once.Run(func() { r.Stop(key) })
	})
}

// Snapshot returns the live entries sorted by key.
func (r *Registry) Snapshot() []EntryInfo {
	r.mu.Lock()
	infos := make([]EntryInfo, 0, len(r.entries))
	for _, e := range r.entries {
		infos = append(infos, EntryInfo{
			Key:       e.key,
			Refs:      e.refs,
			LeaseHeld: e.lease != NoLease,
			HasTimer:  e.timeout != nil,
			Callbacks: len(e.callbacks),
			Starts:    e.starts,
			StartedAt: e.startedAt,
		})
	}
	r.mu.Unlock()

	sort.Slice(infos, func(i, j int) bool {
		return infos[i].Key < infos[j].Key
	})
	return infos
}

// Len returns the number of live entries.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}
