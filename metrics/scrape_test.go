package metrics

import (
	"io"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScrapeRegistry(t *testing.T) {
	registry, err := NewScrapeRegistry("keepalive")
	require.NoError(t, err)

	g, err := registry.NewGauge(prometheus.GaugeOpts{Name: "leases_held", Help: "h"})
	require.NoError(t, err)
	g.Set(3)

	cv, err := registry.NewCounterVec(prometheus.CounterOpts{Name: "activity_ends_total", Help: "h"}, []string{"reason"})
	require.NoError(t, err)
	cv.With(prometheus.Labels{"reason": "expired"}).Inc()

	families, err := registry.Gatherer().Gather()
	require.NoError(t, err)
	names := map[string]bool{}
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["keepalive_leases_held"])
	assert.True(t, names["keepalive_activity_ends_total"])
	assert.True(t, names["go_goroutines"], "go collector registered")

	srv := httptest.NewServer(registry.Handler())
	defer srv.Close()
	resp, err := srv.Client().Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `keepalive_activity_ends_total{reason="expired"} 1`)
}

func TestScrapeRegistry_DuplicateRegistration(t *testing.T) {
	registry, err := NewScrapeRegistry("")
	require.NoError(t, err)

	_, err = registry.NewCounter(prometheus.CounterOpts{Name: "c", Help: "h"})
	require.NoError(t, err)
	_, err = registry.NewCounter(prometheus.CounterOpts{Name: "c", Help: "h"})
	assert.Error(t, err)

	_, err = registry.NewGaugeVec(prometheus.GaugeOpts{Name: "g", Help: "h"}, []string{"l"})
	require.NoError(t, err)
	_, err = registry.NewGaugeVec(prometheus.GaugeOpts{Name: "g", Help: "h"}, []string{"l"})
	assert.Error(t, err)
}
