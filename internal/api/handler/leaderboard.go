package handler

import (
	"net/http"
	"time"

	"github.com/eggtrack/eggtrack/internal/api/respond"
	"github.com/eggtrack/eggtrack/internal/store"
)

type leaderboardResponse struct {
	Players     []store.CacheEntry `json:"players"`
	LastUpdated time.Time          `json:"lastUpdated"`
	PlayerCount int                `json:"playerCount"`
	FromCache   bool               `json:"fromCache"`
}

type playerStatsResponse struct {
	Player      *store.CacheEntry `json:"player"`
	LastUpdated time.Time         `json:"lastUpdated"`
	FromCache   bool              `json:"fromCache"`
}

// GetLeaderboard serves the current leaderboard from the cache, refreshing
// from the upstream first when the cache is older than the freshness
// contract. A failed refresh degrades to serving the stale rows.
func (h *Handler) GetLeaderboard(w http.ResponseWriter, r *http.Request) {
	fromCache, lastUpdated, err := h.refreshIfStale(r)
	if err != nil {
		respond.WriteErrorDetail(w, http.StatusInternalServerError, "CACHE_READ_FAILED",
			"Failed to read leaderboard cache", err.Error())
		return
	}

	entries, err := h.store.ReadCache(r.Context())
	if err != nil {
		respond.WriteErrorDetail(w, http.StatusInternalServerError, "CACHE_READ_FAILED",
			"Failed to read leaderboard cache", err.Error())
		return
	}

	if !PrincipalFrom(r.Context()).IsAdmin() {
		for i := range entries {
			entries[i].NumPrestiges = nil
		}
	}
	if entries == nil {
		entries = []store.CacheEntry{}
	}

	respond.WriteJSONObject(w, http.StatusOK, leaderboardResponse{
		Players:     entries,
		LastUpdated: lastUpdated,
		PlayerCount: len(entries),
		FromCache:   fromCache,
	})
}

// GetPlayerCurrentStats serves one player's cache row. Without a discord_id
// query parameter the caller's own row is returned; reading another
// player's row requires admin access.
func (h *Handler) GetPlayerCurrentStats(w http.ResponseWriter, r *http.Request) {
	principal := PrincipalFrom(r.Context())

	id := r.URL.Query().Get("discord_id")
	if id == "" {
		id = principal.SubjectID
	}
	if id != principal.SubjectID && !principal.IsAdmin() {
		respond.WriteError(w, http.StatusForbidden, "FORBIDDEN", "Admin access required to view other players")
		return
	}

	fromCache, lastUpdated, err := h.refreshIfStale(r)
	if err != nil {
		respond.WriteErrorDetail(w, http.StatusInternalServerError, "CACHE_READ_FAILED",
			"Failed to read leaderboard cache", err.Error())
		return
	}

	entry, err := h.store.ReadCacheRow(r.Context(), id)
	if err != nil {
		respond.WriteErrorDetail(w, http.StatusInternalServerError, "CACHE_READ_FAILED",
			"Failed to read player row", err.Error())
		return
	}
	if entry == nil {
		respond.WriteError(w, http.StatusNotFound, "NOT_FOUND", "Player not found in cache")
		return
	}

	if !principal.IsAdmin() {
		entry.NumPrestiges = nil
	}

	respond.WriteJSONObject(w, http.StatusOK, playerStatsResponse{
		Player:      entry,
		LastUpdated: lastUpdated,
		FromCache:   fromCache,
	})
}

// refreshIfStale rebuilds the cache from the upstream when the freshness
// marker is older than the configured duration. Returns whether the
// response is served from the pre-existing cache and the marker value.
// Upstream failures are logged and the stale cache served; read endpoints
// never fail because the feed is down.
func (h *Handler) refreshIfStale(r *http.Request) (fromCache bool, lastUpdated time.Time, err error) {
	ctx := r.Context()
	now := h.now().UTC()

	lastUpdated, err = h.store.CacheLastUpdated(ctx)
	if err != nil {
		return false, time.Time{}, err
	}

	// Fresh only while strictly younger than the configured duration.
	if now.Sub(lastUpdated) < h.cfg.CacheDuration {
		return true, lastUpdated, nil
	}

	records, fetchErr := h.fetcher.Fetch(ctx)
	if fetchErr != nil {
		h.logger.Warn("Stale cache refresh failed, serving cached rows",
			"cache_age", now.Sub(lastUpdated).String(), "error", fetchErr)
		return true, lastUpdated, nil
	}

	if _, err := h.store.ReplaceCache(ctx, records, now); err != nil {
		h.logger.Warn("Cache replacement failed, serving cached rows", "error", err)
		return true, lastUpdated, nil
	}
	return false, now, nil
}
