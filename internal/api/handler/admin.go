package handler

import (
	"net/http"
	"strconv"

	"github.com/eggtrack/eggtrack/internal/api/respond"
	"github.com/eggtrack/eggtrack/internal/store"
)

// GetWeeklyStatistics returns per-week aggregates from the statistics view.
// Admin only.
func (h *Handler) GetWeeklyStatistics(w http.ResponseWriter, r *http.Request) {
	weeks, err := h.store.WeeklyStatistics(r.Context())
	if err != nil {
		respond.WriteErrorDetail(w, http.StatusInternalServerError, "QUERY_FAILED",
			"Failed to read weekly statistics", err.Error())
		return
	}
	if weeks == nil {
		weeks = []store.WeeklyStatRow{}
	}
	respond.WriteJSONObject(w, http.StatusOK, map[string]any{
		"weeks": weeks,
		"count": len(weeks),
	})
}

// GetEmailLog returns recent notification delivery attempts, newest first.
// Admin only.
func (h *Handler) GetEmailLog(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	entries, err := h.store.ListEmailLog(r.Context(), limit, offset)
	if err != nil {
		respond.WriteErrorDetail(w, http.StatusInternalServerError, "QUERY_FAILED",
			"Failed to read email log", err.Error())
		return
	}
	if entries == nil {
		entries = []store.EmailLogEntry{}
	}
	respond.WriteJSONObject(w, http.StatusOK, map[string]any{
		"entries": entries,
		"count":   len(entries),
	})
}
