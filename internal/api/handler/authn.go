package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/eggtrack/eggtrack/internal/api/respond"
	"github.com/eggtrack/eggtrack/internal/auth"
)

type authRequest struct {
	Code        string `json:"code"`
	RedirectURI string `json:"redirect_uri"`
}

type authUser struct {
	DiscordID  string  `json:"discord_id"`
	Username   string  `json:"username"`
	GlobalName *string `json:"global_name"`
	Avatar     *string `json:"avatar"`
}

type authResponse struct {
	JWT         string    `json:"jwt"`
	User        authUser  `json:"user"`
	AccessLevel string    `json:"access_level"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// DiscordAuth exchanges a Discord OAuth authorization code for a session
// token. The client never sees the signing secret, only the finished token.
func (h *Handler) DiscordAuth(w http.ResponseWriter, r *http.Request) {
	var req authRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respond.WriteErrorDetail(w, http.StatusBadRequest, "INVALID_BODY",
			"Request body must be JSON", err.Error())
		return
	}
	if req.Code == "" || req.RedirectURI == "" {
		respond.WriteError(w, http.StatusBadRequest, "MISSING_FIELDS", "code and redirect_uri are required")
		return
	}

	res, err := h.exchange.Exchange(r.Context(), req.Code, req.RedirectURI)
	if err != nil {
		var denied *auth.AccessDeniedError
		if errors.As(err, &denied) {
			respond.WriteError(w, http.StatusForbidden, "access_denied", denied.Message)
			return
		}
		h.logger.Error("Identity exchange failed", "error", err)
		respond.WriteError(w, http.StatusInternalServerError, "AUTH_FAILED", "Authentication failed")
		return
	}

	respond.WriteJSONObject(w, http.StatusOK, authResponse{
		JWT: res.Token,
		User: authUser{
			DiscordID:  res.User.ID,
			Username:   res.User.Username,
			GlobalName: res.User.GlobalName,
			Avatar:     res.User.Avatar,
		},
		AccessLevel: res.AccessLevel,
		ExpiresAt:   res.ExpiresAt,
	})
}
