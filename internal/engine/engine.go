// Package engine implements the snapshot decision engine.
//
// The upstream refreshes each player independently, so a historical snapshot
// is only worth recording when the whole population refreshed together. The
// engine is a pure function over (records, exclusions, controller state,
// clock): it never touches the database, the network, or the real clock,
// which keeps every rule unit-testable.
package engine

import (
	"fmt"
	"math"
	"time"

	"github.com/eggtrack/eggtrack/internal/upstream"
)

// Params holds the tunable decision constants.
type Params struct {
	SyncWindowHours       float64 // recency window for the oldest update
	CooldownHours         float64 // minimum gap between saves
	PartialSyncThreshold  float64 // percent; >= this parks or saves-with-warning
	PartialSyncRetries    int     // attempts before a partial parcel is saved
	PendingSyncStaleHours float64 // pending parcels older than this are dropped
	AlertThresholdDays    int     // week-no-update alert trigger
	AlertCooldownHours    float64 // minimum gap between repeated alerts
}

// syncWindow is the width of the population sync window, measured from the
// oldest updatedAt. Kept at exactly one hour: the 65-minute recency window
// in SyncWindowHours is intentionally looser (see DESIGN.md).
const syncWindow = time.Hour

// Engine evaluates poll observations against the decision rules.
type Engine struct {
	p Params
}

// New creates an engine with the given parameters.
func New(p Params) *Engine {
	return &Engine{p: p}
}

// Params returns the engine's parameters.
func (e *Engine) Params() Params {
	return e.p
}

// MissingPlayer identifies a filtered record outside the sync window.
type MissingPlayer struct {
	ID                  string     `json:"id"`
	IGN                 string     `json:"ign"`
	UpdatedAt           *time.Time `json:"updatedAt"`
	TimeDifferenceHours float64    `json:"timeDifferenceHours"`
}

// Decision is the pure output of one evaluation.
type Decision struct {
	ShouldSave             bool            `json:"shouldSave"`
	SyncPercentage         float64         `json:"syncPercentage"`
	PlayersInSyncWindow    int             `json:"playersInSyncWindow"`
	TotalNonExcluded       int             `json:"totalNonExcluded"`
	TotalReceived          int             `json:"totalReceived"`
	ExcludedCount          int             `json:"excludedCount"`
	LowestUpdatedAt        *time.Time      `json:"lowestUpdatedAt"`
	HoursSinceLowestUpdate float64         `json:"hoursSinceLowestUpdate"`
	HoursSinceLastSave     float64         `json:"hoursSinceLastSave"` // +Inf when never saved
	Reason                 string          `json:"reason"`
	IsPendingSync          bool            `json:"isPendingSync"`
	PendingAttemptCount    int             `json:"pendingAttemptCount"`
	Missing                []MissingPlayer `json:"missing,omitempty"`
}

// PendingParcel is a parked observation awaiting one more tick to either
// reach full sync or be saved with a warning.
type PendingParcel struct {
	Records        []upstream.PlayerRecord `json:"records"`
	CapturedAt     time.Time               `json:"capturedAt"`
	SyncPercentage float64                 `json:"syncPercentage"`
	AttemptCount   int                     `json:"attemptCount"`
	Missing        []MissingPlayer         `json:"missing,omitempty"`
}

// ControllerState is the persisted single-row state machine the engine
// consults. At most one pending parcel exists; a successful save clears all
// pending fields.
type ControllerState struct {
	LastSavedAt         *time.Time     `json:"lastSavedAt"`
	LastDecisionAt      time.Time      `json:"lastDecisionAt"`
	LastDecisionResult  *Decision      `json:"lastDecisionResult"`
	LastEmailSentAt     *time.Time     `json:"lastEmailSentAt"`
	LastEmailType       string         `json:"lastEmailType"`
	Pending             *PendingParcel `json:"pending"`
	PendingFirstAttempt *time.Time     `json:"pendingFirstAttempt"`
	PendingAttemptCount int            `json:"pendingAttemptCount"`
	PendingMeta         map[string]any `json:"pendingMeta"`
	UpdatedAt           time.Time      `json:"updatedAt"`
}

// Decide evaluates one poll. Guests and excluded IDs are dropped before any
// statistic is computed; records with no parseable updatedAt are dropped as
// well since they cannot participate in sync-window math.
func (e *Engine) Decide(records []upstream.PlayerRecord, excluded map[string]struct{}, state *ControllerState, now time.Time) Decision {
	d := Decision{
		TotalReceived:      len(records),
		HoursSinceLastSave: math.Inf(1),
	}

	filtered := make([]upstream.PlayerRecord, 0, len(records))
	for _, r := range records {
		if r.IsGuest {
			continue
		}
		if _, ok := excluded[r.ID]; ok {
			continue
		}
		if r.UpdatedAt == nil {
			continue
		}
		filtered = append(filtered, r)
	}
	d.TotalNonExcluded = len(filtered)
	d.ExcludedCount = d.TotalReceived - d.TotalNonExcluded

	if state != nil && state.LastSavedAt != nil {
		d.HoursSinceLastSave = now.Sub(*state.LastSavedAt).Hours()
	}

	if d.TotalNonExcluded == 0 {
		d.Reason = "No valid players"
		return d
	}

	// Synchronization statistic: one-hour window anchored at the oldest
	// updatedAt, strict upper bound.
	lowest := *filtered[0].UpdatedAt
	for _, r := range filtered[1:] {
		if r.UpdatedAt.Before(lowest) {
			lowest = *r.UpdatedAt
		}
	}
	d.LowestUpdatedAt = &lowest

	for _, r := range filtered {
		diff := r.UpdatedAt.Sub(lowest)
		if diff < syncWindow {
			d.PlayersInSyncWindow++
		} else {
			d.Missing = append(d.Missing, MissingPlayer{
				ID:                  r.ID,
				IGN:                 r.IGN,
				UpdatedAt:           r.UpdatedAt,
				TimeDifferenceHours: diff.Hours(),
			})
		}
	}
	d.SyncPercentage = 100 * float64(d.PlayersInSyncWindow) / float64(d.TotalNonExcluded)

	d.HoursSinceLowestUpdate = now.Sub(lowest).Hours()
	updateIsRecent := d.HoursSinceLowestUpdate < e.p.SyncWindowHours
	cooldownPassed := d.HoursSinceLastSave > e.p.CooldownHours

	fullySynced := d.SyncPercentage >= 100
	partiallySynced := d.SyncPercentage >= e.p.PartialSyncThreshold

	// Pending-state handling runs before the primary rules. A parcel older
	// than the stale horizon is treated as if it never existed.
	hasPending := state != nil && state.Pending != nil
	if hasPending && state.PendingFirstAttempt != nil &&
		now.Sub(*state.PendingFirstAttempt).Hours() > e.p.PendingSyncStaleHours {
		hasPending = false
	}

	if hasPending {
		if fullySynced {
			d.ShouldSave = true
			d.Reason = "100% sync achieved after pending sync"
			d.PendingAttemptCount = state.PendingAttemptCount + 1
			return d
		}
		if partiallySynced && state.PendingAttemptCount >= e.p.PartialSyncRetries-1 {
			d.ShouldSave = true
			d.PendingAttemptCount = state.PendingAttemptCount + 1
			d.Reason = fmt.Sprintf("Partial sync after %d attempts, saving with warning", d.PendingAttemptCount)
			return d
		}
		if partiallySynced {
			// Retry budget not exhausted yet; keep the parcel parked.
			d.IsPendingSync = true
			d.PendingAttemptCount = state.PendingAttemptCount + 1
			d.Reason = fmt.Sprintf("Partial sync persists, attempt %d of %d",
				d.PendingAttemptCount, e.p.PartialSyncRetries)
			return d
		}
	}

	// Primary rules, first match wins.
	switch {
	case fullySynced && updateIsRecent && cooldownPassed:
		d.ShouldSave = true
		d.Reason = "All conditions met"

	case partiallySynced && updateIsRecent && cooldownPassed && !hasPending:
		d.IsPendingSync = true
		d.PendingAttemptCount = 1
		d.Reason = "Partial sync detected, storing for retry"

	case !updateIsRecent:
		d.Reason = fmt.Sprintf("Update not recent: lowest update %.2fh ago (window %.2fh)",
			d.HoursSinceLowestUpdate, e.p.SyncWindowHours)

	case !cooldownPassed:
		d.Reason = fmt.Sprintf("Cooldown not passed: %.2fh since last save (cooldown %.2fh)",
			d.HoursSinceLastSave, e.p.CooldownHours)

	default:
		d.Reason = fmt.Sprintf("Insufficient sync: %.1f%% (threshold %.1f%%)",
			d.SyncPercentage, e.p.PartialSyncThreshold)
	}

	return d
}
