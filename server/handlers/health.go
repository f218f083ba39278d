package handlers

import (
	"errors"
	"net/http"

	"github.com/heptiolabs/healthcheck"
)

// maxGoroutines fails the liveness check when callbacks or timers pile up.
const maxGoroutines = 10000

// ReadinessCheck reports whether a dependency is ready to serve.
type ReadinessCheck struct {
	Name  string
	Check func() error
}

// NewHealthHandler returns a handler serving /live and /ready. Mount it
// under a prefix with http.StripPrefix.
func NewHealthHandler(checks ...ReadinessCheck) http.Handler {
	h := healthcheck.NewHandler()
	h.AddLivenessCheck("goroutine-threshold", healthcheck.GoroutineCountCheck(maxGoroutines))
	for _, c := range checks {
		h.AddReadinessCheck(c.Name, healthcheck.Check(c.Check))
	}
	return h
}

// ErrNotReady is returned by readiness checks that fail without a more
// specific cause.
var ErrNotReady = errors.New("not ready")
