package handlers

import (
	"log/slog"
	"net/http"
)

// ReloadHandler handles requests to reload configuration from disk.
type ReloadHandler struct {
	logger   *slog.Logger
	reloader Reloader
}

// NewReloadHandler creates a new ReloadHandler.
func NewReloadHandler(logger *slog.Logger, reloader Reloader) *ReloadHandler {
	return &ReloadHandler{
		logger:   logger,
		reloader: reloader,
	}
}

// ServeHTTP implements http.Handler. A failed reload leaves the previous
// configuration in place.
func (h *ReloadHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.logger.Info("reload requested", "remote_addr", r.RemoteAddr)

	if err := h.reloader.Reload(); err != nil {
		h.logger.Error("reload failed, keeping previous configuration", "error", err)
		writeError(w, http.StatusUnprocessableEntity, "failed to reload configuration: "+err.Error())
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
