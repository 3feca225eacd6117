package controller

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/eggtrack/eggtrack/internal/engine"
	"github.com/eggtrack/eggtrack/internal/notify"
	"github.com/eggtrack/eggtrack/internal/store"
)

// TickResult is the outcome of one controller cycle, returned to the cron
// endpoint verbatim.
type TickResult struct {
	TickID        string            `json:"tickId"`
	Timestamp     time.Time         `json:"timestamp"`
	CacheUpdated  bool              `json:"leaderboardCacheUpdated"`
	PlayerCount   int               `json:"playerCount"`
	ExcludedCount int               `json:"excludedCount"`
	Decision      engine.Decision   `json:"decision"`
	SnapshotSaved bool              `json:"snapshotSaved"`
	SaveResult    *store.SaveResult `json:"snapshotResult,omitempty"`
	AlertSent     bool              `json:"alertSent"`
	CacheErrors   []string          `json:"cacheErrors,omitempty"`
}

// Tick runs one full decision cycle. An upstream failure aborts before any
// state is touched; everything after the fetch degrades instead of aborting.
func (c *Controller) Tick(ctx context.Context) (TickResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now().UTC()
	result := TickResult{
		TickID:    uuid.New().String(),
		Timestamp: now,
	}
	log := c.logger.With("tick_id", result.TickID)

	records, err := c.upstream.Fetch(ctx)
	if err != nil {
		// No data: leave cache, state, and history untouched.
		return result, fmt.Errorf("upstream fetch: %w", err)
	}
	result.PlayerCount = len(records)

	excluded, err := c.registry.ExcludedIDs(ctx)
	if err != nil {
		return result, fmt.Errorf("load exclusions: %w", err)
	}

	// Cache always reflects the latest successful poll, saved or not.
	cacheRes, err := c.cache.ReplaceCache(ctx, records, now)
	if err != nil {
		return result, fmt.Errorf("replace cache: %w", err)
	}
	result.CacheUpdated = true
	result.CacheErrors = cacheRes.Errors

	state, err := c.state.LoadState(ctx)
	if err != nil {
		return result, fmt.Errorf("load state: %w", err)
	}
	if state == nil {
		state = &engine.ControllerState{}
	}

	decision := c.engine.Decide(records, excluded, state, now)
	result.Decision = decision
	result.ExcludedCount = decision.ExcludedCount
	log.Info("Decision evaluated",
		"should_save", decision.ShouldSave,
		"sync_pct", decision.SyncPercentage,
		"in_window", decision.PlayersInSyncWindow,
		"non_excluded", decision.TotalNonExcluded,
		"reason", decision.Reason)

	if err := c.state.UpdateState(ctx, store.StatePatch{
		LastDecisionAt:     &now,
		LastDecisionResult: &decision,
	}); err != nil {
		return result, fmt.Errorf("record decision: %w", err)
	}

	switch {
	case decision.ShouldSave:
		save := c.snapshots.SaveSnapshot(ctx, records, store.SnapshotDateUTC(now), now)
		result.SnapshotSaved = true
		result.SaveResult = &save

		// State advances even on a partial write; retrying the same date
		// every tick would thrash the history tables.
		if err := c.state.UpdateState(ctx, store.StatePatch{
			LastSavedAt:  &now,
			ClearPending: true,
		}); err != nil {
			return result, fmt.Errorf("record save: %w", err)
		}
		state.LastSavedAt = &now

		if decision.SyncPercentage < 100 || save.SnapshotErrors > 0 {
			c.notifier.PartialSync(ctx, decision, save, result.TickID)
		} else {
			c.notifier.SnapshotSaved(ctx, decision, save, result.TickID)
		}

	case decision.IsPendingSync:
		firstAttempt := now
		if state.PendingFirstAttempt != nil {
			firstAttempt = *state.PendingFirstAttempt
		}
		parcel := engine.PendingParcel{
			Records:        records,
			CapturedAt:     now,
			SyncPercentage: decision.SyncPercentage,
			AttemptCount:   decision.PendingAttemptCount,
			Missing:        decision.Missing,
		}
		attempts := decision.PendingAttemptCount
		if err := c.state.UpdateState(ctx, store.StatePatch{
			Pending:             &parcel,
			PendingFirstAttempt: &firstAttempt,
			PendingAttemptCount: &attempts,
			PendingMeta: map[string]any{
				"tickId":       result.TickID,
				"missingCount": len(decision.Missing),
			},
		}); err != nil {
			return result, fmt.Errorf("park pending parcel: %w", err)
		}
		log.Info("Parked pending parcel",
			"sync_pct", decision.SyncPercentage,
			"attempt", attempts,
			"missing", len(decision.Missing))
	}

	if c.engine.ShouldSendWeekNoUpdateAlert(state, now) {
		c.notifier.WeekNoUpdate(ctx, state, now, result.TickID)
		kind := notify.KindWeekNoUpdate
		if err := c.state.UpdateState(ctx, store.StatePatch{
			LastEmailSentAt: &now,
			LastEmailType:   &kind,
		}); err != nil {
			return result, fmt.Errorf("record alert: %w", err)
		}
		result.AlertSent = true
	}

	return result, nil
}
