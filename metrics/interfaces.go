// Package metrics exports registry activity as Prometheus series.
//
// The server uses a ScrapeRegistry, backed by a prometheus.Registry and
// served on /metrics. leasectl exits too quickly to be scraped, so it uses a
// PushRegistry that keeps values in memory and sends them to a remote write
// endpoint on Push. ActivityMetrics is an activity.Observer that works
// against either.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Gauge holds a value that can go up and down.
type Gauge interface {
	Set(float64)
}

// Counter only increases.
type Counter interface {
	Inc()
	Add(float64)
}

// Vec resolves a labelled child metric.
type Vec[M any] interface {
	With(prometheus.Labels) M
}

// GaugeVec is a family of gauges partitioned by label values.
type GaugeVec interface {
	Vec[Gauge]
}

// CounterVec is a family of counters partitioned by label values.
type CounterVec interface {
	Vec[Counter]
}

// Registry creates metrics. Names are prefixed by the implementation and
// registering a name twice is an error.
type Registry interface {
	NewGauge(prometheus.GaugeOpts) (Gauge, error)
	NewGaugeVec(opts prometheus.GaugeOpts, labels []string) (GaugeVec, error)
	NewCounter(prometheus.CounterOpts) (Counter, error)
	NewCounterVec(opts prometheus.CounterOpts, labels []string) (CounterVec, error)
}
