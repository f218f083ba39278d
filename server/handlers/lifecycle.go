package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/nomis52/keepalive/coordinator"
)

// PushResponse acknowledges a silent push.
type PushResponse struct {
	Key string `json:"key"`
}

// LifecycleHandler forwards lifecycle events to the coordinator.
type LifecycleHandler struct {
	logger    *slog.Logger
	lifecycle Lifecycle
}

// NewLifecycleHandler creates a new LifecycleHandler.
func NewLifecycleHandler(logger *slog.Logger, lifecycle Lifecycle) *LifecycleHandler {
	return &LifecycleHandler{
		logger:    logger,
		lifecycle: lifecycle,
	}
}

// Push handles POST /api/push. The body is the push payload. The request
// returns as soon as the activity holds; the fetch result is logged when it
// ends.
func (h *LifecycleHandler) Push(w http.ResponseWriter, r *http.Request) {
	var payload map[string]any
	if err := decodeJSON(r, &payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid push payload: "+err.Error())
		return
	}

	h.lifecycle.HandleSilentPush(payload, func(result coordinator.FetchResult) {
		h.logger.Info("silent push completed", "key", coordinator.SilentPushKey, "result", result.String())
	})
	writeJSON(w, http.StatusAccepted, PushResponse{Key: coordinator.SilentPushKey})
}

// Event handles POST /api/lifecycle/{event}, where event is background or
// foreground.
func (h *LifecycleHandler) Event(w http.ResponseWriter, r *http.Request) {
	switch event := r.PathValue("event"); event {
	case "background":
		h.lifecycle.DidEnterBackground()
	case "foreground":
		h.lifecycle.WillEnterForeground()
	default:
		writeError(w, http.StatusNotFound, "unknown lifecycle event: "+event)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RunTask handles POST /api/tasks/{id}/run.
func (h *LifecycleHandler) RunTask(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	// The task outlives the request, so it is not bound to r.Context().
	err := h.lifecycle.Fire(context.WithoutCancel(r.Context()), id)
	if errors.Is(err, coordinator.ErrUnknownTask) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusAccepted)
}
