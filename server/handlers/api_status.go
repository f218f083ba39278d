package handlers

import (
	"net/http"
	"time"

	"github.com/nomis52/keepalive/server/types"
)

// NextRefreshResponse describes the next scheduled refresh task.
type NextRefreshResponse struct {
	Scheduled bool       `json:"scheduled"`
	NextRun   *time.Time `json:"next_run,omitempty"`
}

// APIStatusResponse is the consolidated response for /api/status.
type APIStatusResponse struct {
	Server         types.ServerProperties `json:"server"`
	Uptime         string                 `json:"uptime"`
	Activities     int                    `json:"activities"`
	LeasesHeld     int                    `json:"leases_held"`
	DefaultAddTime string                 `json:"default_add_time"`
	NextRefresh    NextRefreshResponse    `json:"next_refresh"`
}

// APIStatusHandler handles requests for the consolidated status endpoint.
type APIStatusHandler struct {
	props    types.ServerProperties
	provider StatusProvider
}

// NewAPIStatusHandler creates a new APIStatusHandler.
func NewAPIStatusHandler(props types.ServerProperties, provider StatusProvider) *APIStatusHandler {
	return &APIStatusHandler{
		props:    props,
		provider: provider,
	}
}

// ServeHTTP implements http.Handler.
func (h *APIStatusHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	snap := h.provider.Snapshot()
	held := 0
	for _, e := range snap {
		if e.LeaseHeld {
			held++
		}
	}

	next := NextRefreshResponse{}
	if t := h.provider.NextRefresh(); !t.IsZero() {
		next.Scheduled = true
		next.NextRun = &t
	}

	writeJSON(w, http.StatusOK, APIStatusResponse{
		Server:         h.props,
		Uptime:         h.props.Uptime(time.Now()).String(),
		Activities:     len(snap),
		LeasesHeld:     held,
		DefaultAddTime: h.provider.AddTime().String(),
		NextRefresh:    next,
	})
}
