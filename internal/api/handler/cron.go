package handler

import (
	"net/http"

	"github.com/eggtrack/eggtrack/internal/api/respond"
	"github.com/eggtrack/eggtrack/internal/controller"
)

// cronResponse wraps a tick result in the envelope the scheduler expects.
type cronResponse struct {
	Success bool `json:"success"`
	controller.TickResult
}

// RefreshLeaderboardCron runs one controller cycle: poll the upstream,
// rebuild the leaderboard cache, and evaluate the snapshot decision.
// Invoked by the external scheduler and by operators for a manual kick.
func (h *Handler) RefreshLeaderboardCron(w http.ResponseWriter, r *http.Request) {
	if !h.cronAuthOK(r) {
		respond.WriteError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Missing or invalid credentials")
		return
	}

	result, err := h.runner.Tick(r.Context())
	if err != nil {
		h.logger.Error("Tick failed", "tick_id", result.TickID, "error", err)
		respond.WriteErrorDetail(w, http.StatusBadGateway, "TICK_FAILED",
			"Refresh cycle failed", err.Error())
		return
	}

	respond.WriteJSONObject(w, http.StatusOK, cronResponse{Success: true, TickResult: result})
}

// cronAuthOK accepts either the service-role key or any valid session
// token. The scheduler calls with the service role; operators can trigger
// a cycle with their own session.
func (h *Handler) cronAuthOK(r *http.Request) bool {
	token := bearerToken(r)
	if token == "" {
		return false
	}
	if h.cfg.ServiceRoleKey != "" && token == h.cfg.ServiceRoleKey {
		return true
	}
	_, err := h.tokens.Verify(token)
	return err == nil
}
