package handler

import (
	"net/http"

	"github.com/eggtrack/eggtrack/internal/api/respond"
)

// Root returns basic service identification.
func (h *Handler) Root(w http.ResponseWriter, r *http.Request) {
	respond.WriteJSONObject(w, http.StatusOK, map[string]any{
		"service":     "eggtrack",
		"environment": h.cfg.Environment,
	})
}

// HealthCheck reports process liveness.
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	respond.WriteJSONObject(w, http.StatusOK, map[string]string{"status": "ok"})
}

// HealthCheckDB reports database connectivity.
func (h *Handler) HealthCheckDB(w http.ResponseWriter, r *http.Request) {
	if err := h.db.HealthCheck(r.Context()); err != nil {
		respond.WriteErrorDetail(w, http.StatusServiceUnavailable, "DB_UNAVAILABLE",
			"Database health check failed", err.Error())
		return
	}
	respond.WriteJSONObject(w, http.StatusOK, map[string]string{"status": "ok"})
}
