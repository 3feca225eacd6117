package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"regexp"

	"github.com/eggtrack/eggtrack/internal/api/respond"
	"github.com/eggtrack/eggtrack/internal/controller"
	"github.com/eggtrack/eggtrack/internal/upstream"
)

var snapshotDateRe = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

// updateRequest is the body of the update-player-data endpoint. Players is
// optional; when omitted the current feed is fetched instead.
type updateRequest struct {
	InternalCall bool            `json:"internalCall"`
	Players      json.RawMessage `json:"players"`
	SnapshotDate string          `json:"snapshotDate"`
	ForceUpdate  bool            `json:"forceUpdate"`
	DryRun       bool            `json:"dryRun"`
	SendEmail    bool            `json:"sendEmail"`
	EmailContext string          `json:"emailContext"`
}

type writeCounts struct {
	Inserted int `json:"inserted"`
	Errors   int `json:"errors"`
}

// updateResponse mirrors the envelope external tooling already parses.
type updateResponse struct {
	Success       bool        `json:"success"`
	SnapshotDate  string      `json:"snapshotDate"`
	PlayerCount   int         `json:"playerCount"`
	DryRun        bool        `json:"dryRun,omitempty"`
	Snapshots     writeCounts `json:"snapshots"`
	EggDayGains   writeCounts `json:"eggdayGains"`
	Errors        []string    `json:"errors"`
	RefreshResult string      `json:"refreshMaterializedViewsResponse"`
	EmailSent     bool        `json:"emailSent,omitempty"`
	EmailError    string      `json:"emailError,omitempty"`
}

// UpdatePlayerData saves a snapshot outside the decision cycle. Reserved for
// operator tooling (secret token) and internal service calls.
func (h *Handler) UpdatePlayerData(w http.ResponseWriter, r *http.Request) {
	if !h.operatorSecretOK(r) && !h.serviceRoleOK(r) {
		respond.WriteError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Missing or invalid credentials")
		return
	}

	var req updateRequest
	if r.Body != nil {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			respond.WriteErrorDetail(w, http.StatusBadRequest, "INVALID_BODY",
				"Request body must be JSON", err.Error())
			return
		}
	}

	if req.SnapshotDate != "" && !snapshotDateRe.MatchString(req.SnapshotDate) {
		respond.WriteError(w, http.StatusBadRequest, "INVALID_DATE", "snapshotDate must be YYYY-MM-DD")
		return
	}

	var records []upstream.PlayerRecord
	if len(req.Players) > 0 {
		var unparseable int
		var err error
		records, unparseable, err = upstream.DecodeRecords(req.Players)
		if err != nil {
			respond.WriteErrorDetail(w, http.StatusBadRequest, "INVALID_PLAYERS",
				"players must be a wire-format player array", err.Error())
			return
		}
		if unparseable > 0 {
			h.logger.Warn("Import records with unparseable updatedAt", "count", unparseable)
		}
	}

	result, err := h.runner.Import(r.Context(), controller.ImportOptions{
		Records:      records,
		SnapshotDate: req.SnapshotDate,
		ForceUpdate:  req.ForceUpdate,
		DryRun:       req.DryRun,
		SendEmail:    req.SendEmail,
		EmailContext: req.EmailContext,
	})
	if err != nil {
		respond.WriteErrorDetail(w, http.StatusConflict, "IMPORT_FAILED",
			"Snapshot import failed", err.Error())
		return
	}

	errs := result.Save.Errors
	if errs == nil {
		errs = []string{}
	}
	respond.WriteJSONObject(w, http.StatusOK, updateResponse{
		Success:      true,
		SnapshotDate: result.SnapshotDate,
		PlayerCount:  result.PlayerCount,
		DryRun:       result.DryRun,
		Snapshots: writeCounts{
			Inserted: result.Save.SnapshotsWritten,
			Errors:   result.Save.SnapshotErrors,
		},
		EggDayGains: writeCounts{
			Inserted: result.Save.GainsWritten,
			Errors:   result.Save.GainErrors,
		},
		Errors:        errs,
		RefreshResult: result.Save.RefreshResult,
		EmailSent:     result.EmailSent,
		EmailError:    result.EmailError,
	})
}
