package handlers

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/nomis52/keepalive/activity"
)

// StartRequest is the optional body of POST /api/activities/{key}/start.
type StartRequest struct {
	WantsLease bool `json:"wants_lease"`
	// MaxDuration is a Go duration string such as "27s". Empty means no timer.
	MaxDuration string `json:"max_duration"`
}

// ActivityResponse reports the entry for a key after a request. Entry is
// nil when the key is no longer live.
type ActivityResponse struct {
	Key   string              `json:"key"`
	Live  bool                `json:"live"`
	Entry *activity.EntryInfo `json:"entry,omitempty"`
}

// ActivitiesHandler serves the activity API.
type ActivitiesHandler struct {
	logger     *slog.Logger
	activities ActivityController
}

// NewActivitiesHandler creates a new ActivitiesHandler.
func NewActivitiesHandler(logger *slog.Logger, activities ActivityController) *ActivitiesHandler {
	return &ActivitiesHandler{
		logger:     logger,
		activities: activities,
	}
}

// List handles GET /api/activities.
func (h *ActivitiesHandler) List(w http.ResponseWriter, r *http.Request) {
	snap := h.activities.Snapshot()
	if snap == nil {
		snap = []activity.EntryInfo{}
	}
	writeJSON(w, http.StatusOK, snap)
}

// Start handles POST /api/activities/{key}/start.
func (h *ActivitiesHandler) Start(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")

	var req StartRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	opts := activity.StartOptions{WantsLease: req.WantsLease}
	if req.MaxDuration != "" {
		d, err := time.ParseDuration(req.MaxDuration)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid max_duration: "+err.Error())
			return
		}
		opts.MaxDuration = d
	}

	h.logger.Debug("start requested", "activity_key", key, "wants_lease", opts.WantsLease, "max_duration", opts.MaxDuration)
	h.activities.Start(key, opts)
	writeJSON(w, http.StatusOK, h.response(key))
}

// Stop handles POST /api/activities/{key}/stop.
func (h *ActivitiesHandler) Stop(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	h.activities.Stop(key)
	writeJSON(w, http.StatusOK, h.response(key))
}

// Expire handles POST /api/activities/{key}/expire.
func (h *ActivitiesHandler) Expire(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	h.activities.Expire(key)
	writeJSON(w, http.StatusOK, h.response(key))
}

func (h *ActivitiesHandler) response(key string) ActivityResponse {
	for _, e := range h.activities.Snapshot() {
		if e.Key == key {
			return ActivityResponse{Key: key, Live: true, Entry: &e}
		}
	}
	return ActivityResponse{Key: key}
}
