package metrics

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/golang/protobuf/proto"
	"github.com/golang/snappy"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/prometheus/prompb"
)

const (
	// DefaultTimeout is the default timeout for each remote write request.
	DefaultTimeout = 30 * time.Second
	// DefaultMaxRetries is how many times a failed push is retried.
	DefaultMaxRetries = 3
	// DefaultRetryInterval is the first backoff interval between retries.
	DefaultRetryInterval = 500 * time.Millisecond
)

// PushConfig configures a PushRegistry.
type PushConfig struct {
	// URL is the base URL of the remote write endpoint (e.g., "http://localhost:8428").
	URL string
	// Prefix is prepended to every metric name, followed by an underscore.
	Prefix string
	// Job is the job label for all metrics.
	Job string
	// Instance is the instance label for all metrics.
	Instance string
	// Timeout is the per-request HTTP timeout. Defaults to DefaultTimeout.
	Timeout time.Duration
	// MaxRetries bounds retries of a failed push. Defaults to DefaultMaxRetries.
	MaxRetries uint64
	// RetryInterval is the initial backoff. Defaults to DefaultRetryInterval.
	RetryInterval time.Duration
}

// PushRegistry implements Registry by keeping the latest value of every
// series in memory. Push writes them all in a single remote write request.
type PushRegistry struct {
	cfg        PushConfig
	url        string
	httpClient *http.Client

	mu     sync.Mutex
	series map[string]*series
}

type series struct {
	name   string
	labels map[string]string
	value  float64
}

// NewPushRegistry creates a PushRegistry for the given endpoint.
func NewPushRegistry(cfg PushConfig) *PushRegistry {
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	if cfg.RetryInterval == 0 {
		cfg.RetryInterval = DefaultRetryInterval
	}
	return &PushRegistry{
		cfg:        cfg,
		url:        strings.TrimSuffix(cfg.URL, "/") + "/api/v1/write",
		httpClient: &http.Client{Timeout: cfg.Timeout},
		series:     make(map[string]*series),
	}
}

// NewGauge creates a push-mode Gauge.
func (r *PushRegistry) NewGauge(opts prometheus.GaugeOpts) (Gauge, error) {
	return &pushMetric{registry: r, name: opts.Name}, nil
}

// NewGaugeVec creates a push-mode GaugeVec.
func (r *PushRegistry) NewGaugeVec(opts prometheus.GaugeOpts, labels []string) (GaugeVec, error) {
	return pushGaugeVec{&pushVec{registry: r, name: opts.Name, labels: labels}}, nil
}

// NewCounter creates a push-mode Counter.
func (r *PushRegistry) NewCounter(opts prometheus.CounterOpts) (Counter, error) {
	return &pushMetric{registry: r, name: opts.Name}, nil
}

// NewCounterVec creates a push-mode CounterVec.
func (r *PushRegistry) NewCounterVec(opts prometheus.CounterOpts, labels []string) (CounterVec, error) {
	return pushCounterVec{&pushVec{registry: r, name: opts.Name, labels: labels}}, nil
}

func (r *PushRegistry) update(name string, labels map[string]string, fn func(float64) float64) {
	key := seriesKey(name, labels)

	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.series[key]
	if !ok {
		s = &series{name: name, labels: labels}
		r.series[key] = s
	}
	s.value = fn(s.value)
}

// Value returns the current value of a series and whether it exists.
func (r *PushRegistry) Value(name string, labels map[string]string) (float64, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.series[seriesKey(name, labels)]
	if !ok {
		return 0, false
	}
	return s.value, true
}

// Push writes every series to the remote write endpoint, retrying with
// exponential backoff. Client errors (4xx) are not retried.
func (r *PushRegistry) Push(ctx context.Context) error {
	req := r.writeRequest(time.Now())
	if len(req.Timeseries) == 0 {
		return nil
	}

	data, err := proto.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshaling write request: %w", err)
	}
	body := snappy.Encode(nil, data)

	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.InitialInterval = r.cfg.RetryInterval
	policy := backoff.WithContext(backoff.WithMaxRetries(expBackoff, r.cfg.MaxRetries), ctx)

	return backoff.Retry(func() error {
		return r.send(ctx, body)
	}, policy)
}

func (r *PushRegistry) send(ctx context.Context, body []byte) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url, bytes.NewReader(body))
	if err != nil {
		return backoff.Permanent(fmt.Errorf("creating HTTP request: %w", err))
	}

	httpReq.Header.Set("Content-Encoding", "snappy")
	httpReq.Header.Set("Content-Type", "application/x-protobuf")
	httpReq.Header.Set("X-Prometheus-Remote-Write-Version", "0.1.0")

	resp, err := r.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 == 2 {
		return nil
	}

	msg, _ := io.ReadAll(resp.Body)
	err = fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(msg))
	if resp.StatusCode/100 == 4 {
		return backoff.Permanent(err)
	}
	return err
}

// writeRequest snapshots every series as a remote write request.
func (r *PushRegistry) writeRequest(now time.Time) *prompb.WriteRequest {
	r.mu.Lock()
	defer r.mu.Unlock()

	keys := make([]string, 0, len(r.series))
	for k := range r.series {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	timeseries := make([]prompb.TimeSeries, 0, len(keys))
	for _, k := range keys {
		s := r.series[k]
		timeseries = append(timeseries, prompb.TimeSeries{
			Labels:  r.promLabels(s),
			Samples: []prompb.Sample{{Value: s.value, Timestamp: now.UnixMilli()}},
		})
	}
	return &prompb.WriteRequest{Timeseries: timeseries}
}

func (r *PushRegistry) promLabels(s *series) []prompb.Label {
	name := s.name
	if r.cfg.Prefix != "" {
		name = r.cfg.Prefix + "_" + name
	}

	labels := make([]prompb.Label, 0, len(s.labels)+3)
	labels = append(labels, prompb.Label{Name: "__name__", Value: name})
	if r.cfg.Job != "" {
		labels = append(labels, prompb.Label{Name: "job", Value: r.cfg.Job})
	}
	if r.cfg.Instance != "" {
		labels = append(labels, prompb.Label{Name: "instance", Value: r.cfg.Instance})
	}

	names := make([]string, 0, len(s.labels))
	for k := range s.labels {
		names = append(names, k)
	}
	sort.Strings(names)
	for _, k := range names {
		labels = append(labels, prompb.Label{Name: k, Value: s.labels[k]})
	}
	return labels
}

// seriesKey builds a stable map key from a name and its labels.
func seriesKey(name string, labels map[string]string) string {
	names := make([]string, 0, len(labels))
	for k := range labels {
		names = append(names, k)
	}
	sort.Strings(names)

	var b strings.Builder
	b.WriteString(name)
	for _, k := range names {
		b.WriteString("|")
		b.WriteString(k)
		b.WriteString("=")
		b.WriteString(labels[k])
	}
	return b.String()
}

// pushMetric is a Gauge and a Counter for push mode.
type pushMetric struct {
	registry *PushRegistry
	name     string
	labels   map[string]string
}

func (m *pushMetric) Set(v float64) {
	m.registry.update(m.name, m.labels, func(float64) float64 { return v })
}

func (m *pushMetric) Inc() {
	m.Add(1)
}

func (m *pushMetric) Add(v float64) {
	m.registry.update(m.name, m.labels, func(cur float64) float64 { return cur + v })
}

// pushVec is a GaugeVec and a CounterVec for push mode.
type pushVec struct {
	registry *PushRegistry
	name     string
	labels   []string
}

func (v *pushVec) with(labels prometheus.Labels) *pushMetric {
	copied := make(map[string]string, len(labels))
	for k, val := range labels {
		copied[k] = val
	}
	return &pushMetric{registry: v.registry, name: v.name, labels: copied}
}

// pushGaugeVec and pushCounterVec exist only to give pushVec two With methods.
type pushGaugeVec struct{ *pushVec }

type pushCounterVec struct{ *pushVec }

func (v pushGaugeVec) With(labels prometheus.Labels) Gauge {
	return v.with(labels)
}

func (v pushCounterVec) With(labels prometheus.Labels) Counter {
	return v.with(labels)
}
