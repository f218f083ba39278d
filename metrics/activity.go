package metrics

import (
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/nomis52/keepalive/activity"
)

// ActivityMetrics records registry transitions. It implements
// activity.Observer.
type ActivityMetrics struct {
	starts        CounterVec
	ends          CounterVec
	leaseRequests CounterVec
	live          Gauge
	leases        Gauge
	lastDuration  GaugeVec

	mu        sync.Mutex
	liveCount int
	leaseHeld int
}

// NewActivityMetrics creates and registers the activity metrics.
func NewActivityMetrics(reg Registry) (*ActivityMetrics, error) {
	m := &ActivityMetrics{}
	var err error

	if m.starts, err = reg.NewCounterVec(prometheus.CounterOpts{
		Name: "activity_starts_total",
		Help: "Start calls, by key and whether they created or joined an entry.",
	}, []string{"key", "kind"}); err != nil {
		return nil, fmt.Errorf("creating starts counter: %w", err)
	}

	if m.ends, err = reg.NewCounterVec(prometheus.CounterOpts{
		Name: "activity_ends_total",
		Help: "Terminal transitions, by key and end reason.",
	}, []string{"key", "reason"}); err != nil {
		return nil, fmt.Errorf("creating ends counter: %w", err)
	}

	if m.leaseRequests, err = reg.NewCounterVec(prometheus.CounterOpts{
		Name: "lease_requests_total",
		Help: "Lease acquisitions, by result.",
	}, []string{"result"}); err != nil {
		return nil, fmt.Errorf("creating lease requests counter: %w", err)
	}

	if m.live, err = reg.NewGauge(prometheus.GaugeOpts{
		Name: "activities_live",
		Help: "Activities currently registered.",
	}); err != nil {
		return nil, fmt.Errorf("creating live gauge: %w", err)
	}

	if m.leases, err = reg.NewGauge(prometheus.GaugeOpts{
		Name: "leases_held",
		Help: "Activities currently holding a lease.",
	}); err != nil {
		return nil, fmt.Errorf("creating leases gauge: %w", err)
	}

	if m.lastDuration, err = reg.NewGaugeVec(prometheus.GaugeOpts{
		Name: "activity_last_duration_seconds",
		Help: "How long the most recently ended activity for a key was live.",
	}, []string{"key"}); err != nil {
		return nil, fmt.Errorf("creating duration gauge: %w", err)
	}

	return m, nil
}

// ActivityStarted implements activity.Observer.
func (m *ActivityMetrics) ActivityStarted(ev activity.StartEvent) {
	kind := "created"
	if ev.Joined {
		kind = "joined"
	}
	m.starts.With(prometheus.Labels{"key": ev.Key, "kind": kind}).Inc()

	if ev.Joined {
		return
	}
	if ev.WantsLease {
		result := "granted"
		if !ev.LeaseGranted {
			result = "denied"
		}
		m.leaseRequests.With(prometheus.Labels{"result": result}).Inc()
	}

	m.mu.Lock()
	m.liveCount++
	if ev.LeaseGranted {
		m.leaseHeld++
	}
	m.publishLocked()
	m.mu.Unlock()
}

// ActivityEnded implements activity.Observer.
func (m *ActivityMetrics) ActivityEnded(ev activity.EndEvent) {
	m.ends.With(prometheus.Labels{"key": ev.Key, "reason": ev.Reason.String()}).Inc()
	m.lastDuration.With(prometheus.Labels{"key": ev.Key}).Set(ev.Duration().Seconds())

	// Unclamped: observers run outside the registry lock, so an end can
	// arrive before its start.
	m.mu.Lock()
	m.liveCount--
	if ev.LeaseHeld {
		m.leaseHeld--
	}
	m.publishLocked()
	m.mu.Unlock()
}

// publishLocked copies the live counts to the gauges. Setting them under
// m.mu keeps concurrent updates from publishing out of order.
func (m *ActivityMetrics) publishLocked() {
	m.live.Set(float64(m.liveCount))
	m.leases.Set(float64(m.leaseHeld))
}
