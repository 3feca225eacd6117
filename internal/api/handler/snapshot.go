package handler

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/eggtrack/eggtrack/internal/api/respond"
)

type deleteRequest struct {
	SnapshotDate string `json:"snapshot_date"`
}

type deleteResponse struct {
	Success        bool   `json:"success"`
	SnapshotDate   string `json:"snapshotDate"`
	DeletedRecords int64  `json:"deletedRecords"`
	Message        string `json:"message"`
	PerformedBy    string `json:"performedBy,omitempty"`
}

// DeleteSnapshot removes one snapshot date from the history tables. Admin
// session or operator secret only; every call is written to the audit log
// with the caller's identity.
func (h *Handler) DeleteSnapshot(w http.ResponseWriter, r *http.Request) {
	performedBy := ""
	switch {
	case h.operatorSecretOK(r):
		performedBy = "operator-secret"
	default:
		token := bearerToken(r)
		if token == "" {
			respond.WriteError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Missing credentials")
			return
		}
		p, err := h.tokens.Verify(token)
		if err != nil {
			respond.WriteError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Invalid or expired token")
			return
		}
		if !p.IsAdmin() {
			respond.WriteError(w, http.StatusForbidden, "FORBIDDEN", "Admin access required")
			return
		}
		performedBy = p.SubjectID
	}

	var req deleteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respond.WriteErrorDetail(w, http.StatusBadRequest, "INVALID_BODY",
			"Request body must be JSON", err.Error())
		return
	}
	if !snapshotDateRe.MatchString(req.SnapshotDate) {
		respond.WriteError(w, http.StatusBadRequest, "INVALID_DATE", "snapshot_date must be YYYY-MM-DD")
		return
	}

	deleted, err := h.store.DeleteSnapshot(r.Context(), req.SnapshotDate, performedBy)
	if err != nil {
		respond.WriteErrorDetail(w, http.StatusInternalServerError, "DELETE_FAILED",
			"Snapshot deletion failed", err.Error())
		return
	}

	h.logger.Info("Snapshot deleted",
		"snapshot_date", req.SnapshotDate,
		"deleted", deleted,
		"performed_by", performedBy)

	respond.WriteJSONObject(w, http.StatusOK, deleteResponse{
		Success:        true,
		SnapshotDate:   req.SnapshotDate,
		DeletedRecords: deleted,
		Message:        fmt.Sprintf("Deleted %d records for %s", deleted, req.SnapshotDate),
		PerformedBy:    performedBy,
	})
}
