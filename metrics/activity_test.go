package metrics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nomis52/keepalive/activity"
)

func value(t *testing.T, r *PushRegistry, name string, labels map[string]string) float64 {
	t.Helper()
	v, ok := r.Value(name, labels)
	require.True(t, ok, "series %s%v missing", name, labels)
	return v
}

func TestActivityMetrics(t *testing.T) {
	reg := NewPushRegistry(PushConfig{URL: "http://localhost:8428"})
	m, err := NewActivityMetrics(reg)
	require.NoError(t, err)

	m.ActivityStarted(activity.StartEvent{Key: "push", WantsLease: true, LeaseGranted: true})
	m.ActivityStarted(activity.StartEvent{Key: "push", Joined: true})
	m.ActivityStarted(activity.StartEvent{Key: "bg", WantsLease: true})

	assert.Equal(t, 1.0, value(t, reg, "activity_starts_total", map[string]string{"key": "push", "kind": "created"}))
	assert.Equal(t, 1.0, value(t, reg, "activity_starts_total", map[string]string{"key": "push", "kind": "joined"}))
	assert.Equal(t, 1.0, value(t, reg, "lease_requests_total", map[string]string{"result": "granted"}))
	assert.Equal(t, 1.0, value(t, reg, "lease_requests_total", map[string]string{"result": "denied"}))
	assert.Equal(t, 2.0, value(t, reg, "activities_live", nil))
	assert.Equal(t, 1.0, value(t, reg, "leases_held", nil))

	start := time.Now()
	m.ActivityEnded(activity.EndEvent{Key: "push", Reason: activity.Expired, LeaseHeld: true, StartedAt: start, EndedAt: start.Add(2 * time.Second)})

	assert.Equal(t, 1.0, value(t, reg, "activity_ends_total", map[string]string{"key": "push", "reason": "expired"}))
	assert.Equal(t, 2.0, value(t, reg, "activity_last_duration_seconds", map[string]string{"key": "push"}))
	assert.Equal(t, 1.0, value(t, reg, "activities_live", nil))
	assert.Equal(t, 0.0, value(t, reg, "leases_held", nil))
}

func TestActivityMetrics_WithRegistry(t *testing.T) {
	reg, err := NewScrapeRegistry("")
	require.NoError(t, err)
	m, err := NewActivityMetrics(reg)
	require.NoError(t, err)

	r := activity.NewRegistry(nil, activity.WithObserver(m), activity.WithExecutor(activity.Inline))
	r.Start("k", activity.StartOptions{})
	r.Stop("k")

	families, err := reg.Gatherer().Gather()
	require.NoError(t, err)
	for _, f := range families {
		if f.GetName() == "activities_live" {
			require.Len(t, f.GetMetric(), 1)
			assert.Equal(t, 0.0, f.GetMetric()[0].GetGauge().GetValue())
			return
		}
	}
	t.Fatal("activities_live not gathered")
}

func TestActivityMetrics_EndBeforeStart(t *testing.T) {
	reg := NewPushRegistry(PushConfig{URL: "http://localhost:8428"})
	m, err := NewActivityMetrics(reg)
	require.NoError(t, err)

	m.ActivityEnded(activity.EndEvent{Key: "k", Reason: activity.Normal, LeaseHeld: true})
	m.ActivityStarted(activity.StartEvent{Key: "k", WantsLease: true, LeaseGranted: true})

	assert.Equal(t, 0.0, value(t, reg, "activities_live", nil))
	assert.Equal(t, 0.0, value(t, reg, "leases_held", nil))
}

// gateObserver holds ActivityStarted until released so a concurrent end
// reaches later observers first.
type gateObserver struct {
	entered chan struct{}
	release chan struct{}
}

func (g *gateObserver) ActivityStarted(activity.StartEvent) {
	close(g.entered)
	<-g.release
}

func (g *gateObserver) ActivityEnded(activity.EndEvent) {}

func TestActivityMetrics_StopDuringStartNotification(t *testing.T) {
	reg := NewPushRegistry(PushConfig{URL: "http://localhost:8428"})
	m, err := NewActivityMetrics(reg)
	require.NoError(t, err)

	gate := &gateObserver{entered: make(chan struct{}), release: make(chan struct{})}
	r := activity.NewRegistry(nil,
		activity.WithObserver(gate),
		activity.WithObserver(m),
		activity.WithExecutor(activity.Inline),
	)

	started := make(chan struct{})
	go func() {
		defer close(started)
		r.Start("k", activity.StartOptions{})
	}()

	<-gate.entered
	r.Stop("k")
	assert.Equal(t, 0, r.Len())
	close(gate.release)
	<-started

	assert.Equal(t, 0.0, value(t, reg, "activities_live", nil))
	assert.Equal(t, 1.0, value(t, reg, "activity_ends_total", map[string]string{"key": "k", "reason": "normal"}))
}

func TestNewActivityMetrics_RegistrationError(t *testing.T) {
	reg, err := NewScrapeRegistry("")
	require.NoError(t, err)
	_, err = NewActivityMetrics(reg)
	require.NoError(t, err)

	_, err = NewActivityMetrics(reg)
	assert.Error(t, err)
}
