package controller

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/eggtrack/eggtrack/internal/engine"
	"github.com/eggtrack/eggtrack/internal/store"
	"github.com/eggtrack/eggtrack/internal/upstream"
)

// ImportOptions controls a direct snapshot import, the path behind the
// update-player-data endpoint and the eggctl save command.
type ImportOptions struct {
	// Records to import; fetched from the upstream when nil.
	Records []upstream.PlayerRecord
	// SnapshotDate overrides the derived UTC calendar day when non-empty.
	SnapshotDate string
	// ForceUpdate bypasses the cooldown guard.
	ForceUpdate bool
	// DryRun computes counts without writing anything.
	DryRun bool
	// SendEmail dispatches a snapshot_saved notification on success.
	SendEmail bool
	// EmailContext is threaded into the notification metadata.
	EmailContext string
}

// ImportResult mirrors the update-player-data response envelope.
type ImportResult struct {
	SnapshotDate string           `json:"snapshotDate"`
	PlayerCount  int              `json:"playerCount"`
	DryRun       bool             `json:"dryRun,omitempty"`
	Save         store.SaveResult `json:"-"`
	EmailSent    bool             `json:"emailSent,omitempty"`
	EmailError   string           `json:"emailError,omitempty"`
}

// Import saves a snapshot outside the periodic decision cycle. Unless
// forced, the cooldown still applies: two saves inside the cooldown window
// require ForceUpdate (operator intent), which keeps the save-spacing
// invariant honest.
func (c *Controller) Import(ctx context.Context, opts ImportOptions) (ImportResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now().UTC()
	result := ImportResult{DryRun: opts.DryRun}

	records := opts.Records
	if records == nil {
		var err error
		records, err = c.upstream.Fetch(ctx)
		if err != nil {
			return result, fmt.Errorf("upstream fetch: %w", err)
		}
	}
	result.PlayerCount = len(records)
	if len(records) == 0 {
		return result, fmt.Errorf("no player records to import")
	}

	snapshotDate := opts.SnapshotDate
	if snapshotDate == "" {
		snapshotDate = store.SnapshotDateUTC(now)
	}
	result.SnapshotDate = snapshotDate

	if !opts.ForceUpdate {
		state, err := c.state.LoadState(ctx)
		if err != nil {
			return result, fmt.Errorf("load state: %w", err)
		}
		if state != nil && state.LastSavedAt != nil {
			if h := now.Sub(*state.LastSavedAt).Hours(); h <= c.engine.Params().CooldownHours {
				return result, fmt.Errorf("cooldown not passed: %.2fh since last save, use forceUpdate to override", h)
			}
		}
	}

	if opts.DryRun {
		gains := 0
		for _, r := range records {
			gains += len(r.EggDay)
		}
		result.Save = store.SaveResult{
			SnapshotDate:     snapshotDate,
			SnapshotsWritten: len(records),
			GainsWritten:     gains,
			RefreshResult:    "skipped (dry run)",
		}
		return result, nil
	}

	result.Save = c.snapshots.SaveSnapshot(ctx, records, snapshotDate, now)

	if err := c.state.UpdateState(ctx, store.StatePatch{
		LastSavedAt:  &now,
		ClearPending: true,
	}); err != nil {
		return result, fmt.Errorf("record save: %w", err)
	}

	if opts.SendEmail {
		dec := engine.Decision{
			ShouldSave:       true,
			SyncPercentage:   100,
			TotalReceived:    len(records),
			TotalNonExcluded: len(records),
			Reason:           "Manual import",
		}
		if opts.EmailContext != "" {
			dec.Reason = "Manual import: " + opts.EmailContext
		}
		c.notifier.SnapshotSaved(ctx, dec, result.Save, uuid.New().String())
		result.EmailSent = true
	}

	return result, nil
}
