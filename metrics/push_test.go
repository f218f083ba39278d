package metrics

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang/protobuf/proto"
	"github.com/golang/snappy"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/prometheus/prompb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// remoteWriteServer decodes every request it receives onto a channel and
// answers with the next status from statuses (200 once they run out).
func remoteWriteServer(t *testing.T, statuses ...int) (*httptest.Server, <-chan *prompb.WriteRequest, *atomic.Int32) {
	t.Helper()
	received := make(chan *prompb.WriteRequest, 10)
	var calls atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := int(calls.Add(1))
		assert.Equal(t, "/api/v1/write", r.URL.Path)
		assert.Equal(t, "snappy", r.Header.Get("Content-Encoding"))
		assert.Equal(t, "application/x-protobuf", r.Header.Get("Content-Type"))
		assert.Equal(t, "0.1.0", r.Header.Get("X-Prometheus-Remote-Write-Version"))

		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		decoded, err := snappy.Decode(nil, body)
		require.NoError(t, err)
		var req prompb.WriteRequest
		require.NoError(t, proto.Unmarshal(decoded, &req))
		received <- &req

		if n <= len(statuses) {
			w.WriteHeader(statuses[n-1])
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	t.Cleanup(server.Close)
	return server, received, &calls
}

func findLabel(labels []prompb.Label, name string) string {
	for _, l := range labels {
		if l.Name == name {
			return l.Value
		}
	}
	return ""
}

func TestPushRegistry_PushAll(t *testing.T) {
	server, received, _ := remoteWriteServer(t)
	registry := NewPushRegistry(PushConfig{
		URL:      server.URL,
		Prefix:   "keepalive",
		Job:      "leasectl",
		Instance: "host1",
	})

	gauge, err := registry.NewGauge(prometheus.GaugeOpts{Name: "leases_held"})
	require.NoError(t, err)
	counters, err := registry.NewCounterVec(prometheus.CounterOpts{Name: "activity_ends_total"}, []string{"key", "reason"})
	require.NoError(t, err)

	gauge.Set(2)
	counters.With(prometheus.Labels{"key": "k", "reason": "normal"}).Inc()
	counters.With(prometheus.Labels{"key": "k", "reason": "normal"}).Add(2)

	require.NoError(t, registry.Push(context.Background()))

	req := <-received
	require.Len(t, req.Timeseries, 2)

	byName := map[string]prompb.TimeSeries{}
	for _, ts := range req.Timeseries {
		byName[findLabel(ts.Labels, "__name__")] = ts
	}

	ends := byName["keepalive_activity_ends_total"]
	require.Len(t, ends.Samples, 1)
	assert.Equal(t, 3.0, ends.Samples[0].Value)
	assert.Equal(t, "k", findLabel(ends.Labels, "key"))
	assert.Equal(t, "normal", findLabel(ends.Labels, "reason"))
	assert.Equal(t, "leasectl", findLabel(ends.Labels, "job"))
	assert.Equal(t, "host1", findLabel(ends.Labels, "instance"))

	held := byName["keepalive_leases_held"]
	require.Len(t, held.Samples, 1)
	assert.Equal(t, 2.0, held.Samples[0].Value)
}

func TestPushRegistry_NothingToPush(t *testing.T) {
	server, _, calls := remoteWriteServer(t)
	registry := NewPushRegistry(PushConfig{URL: server.URL})

	require.NoError(t, registry.Push(context.Background()))
	assert.Equal(t, int32(0), calls.Load())
}

func TestPushRegistry_RetriesServerErrors(t *testing.T) {
	server, _, calls := remoteWriteServer(t, http.StatusServiceUnavailable, http.StatusInternalServerError)
	registry := NewPushRegistry(PushConfig{URL: server.URL, RetryInterval: time.Millisecond})

	g, err := registry.NewGauge(prometheus.GaugeOpts{Name: "g"})
	require.NoError(t, err)
	g.Set(1)

	require.NoError(t, registry.Push(context.Background()))
	assert.Equal(t, int32(3), calls.Load())
}

func TestPushRegistry_ClientErrorIsPermanent(t *testing.T) {
	server, _, calls := remoteWriteServer(t, http.StatusBadRequest)
	registry := NewPushRegistry(PushConfig{URL: server.URL, RetryInterval: time.Millisecond})

	g, err := registry.NewGauge(prometheus.GaugeOpts{Name: "g"})
	require.NoError(t, err)
	g.Set(1)

	err = registry.Push(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected status 400")
	assert.Equal(t, int32(1), calls.Load())
}

func TestPushRegistry_GivesUp(t *testing.T) {
	server, _, calls := remoteWriteServer(t, 500, 500, 500, 500, 500)
	registry := NewPushRegistry(PushConfig{URL: server.URL, RetryInterval: time.Millisecond, MaxRetries: 2})

	g, err := registry.NewGauge(prometheus.GaugeOpts{Name: "g"})
	require.NoError(t, err)
	g.Set(1)

	require.Error(t, registry.Push(context.Background()))
	assert.Equal(t, int32(3), calls.Load())
}

func TestPushRegistry_Value(t *testing.T) {
	registry := NewPushRegistry(PushConfig{URL: "http://localhost:8428"})
	vec, err := registry.NewGaugeVec(prometheus.GaugeOpts{Name: "d"}, []string{"key"})
	require.NoError(t, err)

	labels := prometheus.Labels{"key": "k"}
	vec.With(labels).Set(1.5)
	labels["key"] = "mutated"

	v, ok := registry.Value("d", map[string]string{"key": "k"})
	require.True(t, ok)
	assert.Equal(t, 1.5, v)

	_, ok = registry.Value("d", map[string]string{"key": "other"})
	assert.False(t, ok)
}

func TestSeriesKey_StableOrder(t *testing.T) {
	a := seriesKey("m", map[string]string{"a": "1", "b": "2", "c": "3"})
	b := seriesKey("m", map[string]string{"c": "3", "a": "1", "b": "2"})
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, seriesKey("m", map[string]string{"a": "1"}))
}
