package handlers

import (
	"net/http"

	"github.com/nomis52/keepalive/history"
)

// HistoryHandler handles requests for ended activities. The optional key
// query parameter filters by activity key.
type HistoryHandler struct {
	provider HistoryProvider
}

// NewHistoryHandler creates a new HistoryHandler.
func NewHistoryHandler(provider HistoryProvider) *HistoryHandler {
	return &HistoryHandler{
		provider: provider,
	}
}

// ServeHTTP implements http.Handler.
func (h *HistoryHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	records := h.provider.Records()

	if key := r.URL.Query().Get("key"); key != "" {
		filtered := make([]history.Record, 0, len(records))
		for _, rec := range records {
			if rec.Key == key {
				filtered = append(filtered, rec)
			}
		}
		records = filtered
	}

	if records == nil {
		records = []history.Record{}
	}
	writeJSON(w, http.StatusOK, records)
}
