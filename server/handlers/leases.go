package handlers

import (
	"net/http"

	"github.com/nomis52/keepalive/lease"
)

// RevokeResponse reports how many leases were reclaimed.
type RevokeResponse struct {
	Revoked int `json:"revoked"`
}

// LeasesHandler exposes the lease simulator.
type LeasesHandler struct {
	leases LeaseManager
}

// NewLeasesHandler creates a new LeasesHandler. leases may be nil when the
// server runs without the simulator.
func NewLeasesHandler(leases LeaseManager) *LeasesHandler {
	return &LeasesHandler{leases: leases}
}

// List handles GET /api/leases.
func (h *LeasesHandler) List(w http.ResponseWriter, r *http.Request) {
	if h.leases == nil {
		writeJSON(w, http.StatusOK, []lease.Info{})
		return
	}
	writeJSON(w, http.StatusOK, h.leases.Leases())
}

// Revoke handles POST /api/leases/revoke, reclaiming every outstanding
// lease as the environment would.
func (h *LeasesHandler) Revoke(w http.ResponseWriter, r *http.Request) {
	if h.leases == nil {
		writeError(w, http.StatusConflict, "lease provider does not support revocation")
		return
	}
	writeJSON(w, http.StatusOK, RevokeResponse{Revoked: h.leases.RevokeAll()})
}
