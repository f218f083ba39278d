// Package lease provides activity.LeaseProvider implementations.
//
// Simulator stands in for the operating system: it hands out leases with a
// bounded lifetime, caps how many can be outstanding, and reclaims a lease
// on its own when the grant window runs out, the way a mobile OS ends a
// background task when the app's remaining time is exhausted.
package lease

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	cmap "github.com/orcaman/concurrent-map/v2"

	"github.com/nomis52/keepalive/activity"
)

const defaultGrantWindow = 30 * time.Second

// Info describes an outstanding lease.
type Info struct {
	ID        activity.LeaseID `json:"id"`
	Label     string           `json:"label"`
	GrantedAt time.Time        `json:"granted_at"`
	ExpiresAt time.Time        `json:"expires_at"`
}

type grant struct {
	info     Info
	onRevoke func()
	once     activity.Once

	mu    sync.Mutex
	timer activity.Timer
}

func (g *grant) setTimer(t activity.Timer) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.timer = t
}

func (g *grant) stopTimer() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.timer != nil {
		g.timer.Stop()
	}
}

// Simulator is an in-process lease provider.
type Simulator struct {
	grantWindow time.Duration
	maxLeases   int
	scheduler   activity.Scheduler
	logger      *slog.Logger
	now         func() time.Time

	// admit serialises the capacity check with the insert.
	admit  sync.Mutex
	grants cmap.ConcurrentMap[string, *grant]
}

// Option configures a Simulator.
type Option func(*Simulator)

// WithGrantWindow sets how long a lease lives before the simulator
// reclaims it. Zero or negative disables reclamation.
func WithGrantWindow(d time.Duration) Option {
	return func(s *Simulator) {
		s.grantWindow = d
	}
}

// WithMaxLeases caps the number of outstanding leases. Zero means no cap.
func WithMaxLeases(n int) Option {
	return func(s *Simulator) {
		s.maxLeases = n
	}
}

// WithScheduler sets the scheduler used for reclamation timers.
func WithScheduler(sched activity.Scheduler) Option {
	return func(s *Simulator) {
		s.scheduler = sched
	}
}

// WithLogger sets the simulator logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Simulator) {
		s.logger = logger.With("component", "lease_simulator")
	}
}

// NewSimulator creates a Simulator.
func NewSimulator(opts ...Option) *Simulator {
	s := &Simulator{
		grantWindow: defaultGrantWindow,
		scheduler:   activity.WallClock,
		logger:      slog.Default().With("component", "lease_simulator"),
		now:         time.Now,
		grants:      cmap.New[*grant](),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Acquire grants a lease unless the cap has been reached.
func (s *Simulator) Acquire(label string, onRevoke func()) (activity.LeaseID, bool) {
	s.admit.Lock()
	defer s.admit.Unlock()

	if s.maxLeases > 0 && s.grants.Count() >= s.maxLeases {
		s.logger.Warn("lease denied, capacity reached", "label", label, "max_leases", s.maxLeases)
		return activity.NoLease, false
	}

	now := s.now()
	g := &grant{
		info: Info{
			ID:        activity.LeaseID(uuid.NewString()),
			Label:     label,
			GrantedAt: now,
		},
		onRevoke: onRevoke,
	}
	if s.grantWindow > 0 {
		g.info.ExpiresAt = now.Add(s.grantWindow)
	}
	s.grants.Set(string(g.info.ID), g)

	if s.grantWindow > 0 {
		id := g.info.ID
		g.setTimer(s.scheduler.AfterFunc(s.grantWindow, func() {
			s.revoke(id, "grant window exhausted")
		}))
	}

	s.logger.Debug("lease granted", "label", label, "lease_id", g.info.ID, "expires_at", g.info.ExpiresAt)
	return g.info.ID, true
}

// Release returns a lease. Unknown or already released IDs are ignored.
func (s *Simulator) Release(id activity.LeaseID) {
	g, ok := s.grants.Pop(string(id))
	if !ok {
		return
	}
	g.stopTimer()
	s.logger.Debug("lease released", "label", g.info.Label, "lease_id", id)
}

// Revoke reclaims a lease as the environment would. The holder's revocation
// handler runs on its own goroutine. It reports whether the lease existed.
func (s *Simulator) Revoke(id activity.LeaseID) bool {
	return s.revoke(id, "revoked")
}

// RevokeAll reclaims every outstanding lease and returns how many there were.
func (s *Simulator) RevokeAll() int {
	n := 0
	for _, key := range s.grants.Keys() {
		if s.revoke(activity.LeaseID(key), "revoked") {
			n++
		}
	}
	return n
}

func (s *Simulator) revoke(id activity.LeaseID, cause string) bool {
	g, ok := s.grants.Pop(string(id))
	if !ok {
		return false
	}
	g.stopTimer()

	s.logger.Info("lease reclaimed", "label", g.info.Label, "lease_id", id, "cause", cause)
	if g.onRevoke != nil {
		go g.once.Run(g.onRevoke)
	}
	return true
}

// Active returns the number of outstanding leases.
func (s *Simulator) Active() int {
	return s.grants.Count()
}

// Leases returns the outstanding leases, oldest first.
func (s *Simulator) Leases() []Info {
	items := s.grants.Items()
	infos := make([]Info, 0, len(items))
	for _, g := range items {
		infos = append(infos, g.info)
	}
	sort.Slice(infos, func(i, j int) bool {
		if !infos[i].GrantedAt.Equal(infos[j].GrantedAt) {
			return infos[i].GrantedAt.Before(infos[j].GrantedAt)
		}
		return infos[i].ID < infos[j].ID
	})
	return infos
}

// Deny is a provider that refuses every lease.
type Deny struct{}

// Acquire always fails.
func (Deny) Acquire(string, func()) (activity.LeaseID, bool) {
	return activity.NoLease, false
}

// Release does nothing.
func (Deny) Release(activity.LeaseID) {}
