package engine

import (
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eggtrack/eggtrack/internal/upstream"
)

func testParams() Params {
	return Params{
		SyncWindowHours:       65.0 / 60.0,
		CooldownHours:         1.5,
		PartialSyncThreshold:  99.0,
		PartialSyncRetries:    2,
		PendingSyncStaleHours: 2,
		AlertThresholdDays:    7,
		AlertCooldownHours:    2,
	}
}

func tp(t time.Time) *time.Time { return &t }

// players returns n records all refreshed at the given instant.
func players(n int, updatedAt time.Time) []upstream.PlayerRecord {
	recs := make([]upstream.PlayerRecord, n)
	for i := range recs {
		recs[i] = upstream.PlayerRecord{
			ID:        fmt.Sprintf("player-%03d", i),
			IGN:       fmt.Sprintf("ign-%03d", i),
			UpdatedAt: tp(updatedAt),
		}
	}
	return recs
}

func TestDecideCleanSave(t *testing.T) {
	e := New(testParams())
	base := time.Date(2026, 3, 7, 12, 0, 0, 0, time.UTC)
	now := base.Add(30 * time.Minute)

	state := &ControllerState{LastSavedAt: tp(base.Add(-2 * time.Hour))}
	d := e.Decide(players(100, base), nil, state, now)

	assert.True(t, d.ShouldSave)
	assert.Equal(t, "All conditions met", d.Reason)
	assert.Equal(t, 100.0, d.SyncPercentage)
	assert.Equal(t, 100, d.PlayersInSyncWindow)
	assert.Equal(t, 100, d.TotalNonExcluded)
	assert.False(t, d.IsPendingSync)
	assert.Empty(t, d.Missing)
}

func TestDecideFirstPartialSyncParks(t *testing.T) {
	e := New(testParams())
	base := time.Date(2026, 3, 7, 12, 0, 0, 0, time.UTC)
	now := base.Add(40 * time.Minute)

	recs := players(100, base)
	recs[42].UpdatedAt = tp(base.Add(75 * time.Minute)) // one laggard outside window

	state := &ControllerState{LastSavedAt: tp(base.Add(-2 * time.Hour))}
	d := e.Decide(recs, nil, state, now)

	assert.False(t, d.ShouldSave)
	assert.True(t, d.IsPendingSync)
	assert.Equal(t, 1, d.PendingAttemptCount)
	assert.Equal(t, 99, d.PlayersInSyncWindow)
	assert.InDelta(t, 99.0, d.SyncPercentage, 0.001)
	assert.Equal(t, "Partial sync detected, storing for retry", d.Reason)
	require.Len(t, d.Missing, 1)
	assert.Equal(t, "player-042", d.Missing[0].ID)
	assert.InDelta(t, 1.25, d.Missing[0].TimeDifferenceHours, 0.001)
}

func TestDecidePendingRetrySavesWithWarning(t *testing.T) {
	e := New(testParams())
	base := time.Date(2026, 3, 7, 12, 0, 0, 0, time.UTC)
	now := base.Add(55 * time.Minute)

	recs := players(100, base)
	recs[42].UpdatedAt = tp(base.Add(75 * time.Minute))

	first := base.Add(40 * time.Minute)
	state := &ControllerState{
		LastSavedAt:         tp(base.Add(-2 * time.Hour)),
		Pending:             &PendingParcel{CapturedAt: first, SyncPercentage: 99, AttemptCount: 1},
		PendingFirstAttempt: tp(first),
		PendingAttemptCount: 1,
	}
	d := e.Decide(recs, nil, state, now)

	assert.True(t, d.ShouldSave)
	assert.False(t, d.IsPendingSync)
	assert.Contains(t, d.Reason, "Partial sync after 2 attempts")
	require.Len(t, d.Missing, 1)
	assert.Equal(t, "player-042", d.Missing[0].ID)
}

func TestDecidePendingReparksWhileRetriesRemain(t *testing.T) {
	p := testParams()
	p.PartialSyncRetries = 3
	e := New(p)
	base := time.Date(2026, 3, 7, 12, 0, 0, 0, time.UTC)
	now := base.Add(55 * time.Minute)

	recs := players(100, base)
	recs[42].UpdatedAt = tp(base.Add(75 * time.Minute))

	first := base.Add(40 * time.Minute)
	state := &ControllerState{
		LastSavedAt:         tp(base.Add(-2 * time.Hour)),
		Pending:             &PendingParcel{CapturedAt: first, SyncPercentage: 99, AttemptCount: 1},
		PendingFirstAttempt: tp(first),
		PendingAttemptCount: 1,
	}
	d := e.Decide(recs, nil, state, now)

	assert.False(t, d.ShouldSave)
	assert.True(t, d.IsPendingSync)
	assert.Equal(t, 2, d.PendingAttemptCount)
	assert.Contains(t, d.Reason, "attempt 2 of 3")
}

func TestDecidePendingResolvesAtFullSync(t *testing.T) {
	e := New(testParams())
	base := time.Date(2026, 3, 7, 12, 0, 0, 0, time.UTC)
	now := base.Add(55 * time.Minute)

	first := base.Add(40 * time.Minute)
	state := &ControllerState{
		LastSavedAt:         tp(base.Add(-2 * time.Hour)),
		Pending:             &PendingParcel{CapturedAt: first, SyncPercentage: 99, AttemptCount: 1},
		PendingFirstAttempt: tp(first),
		PendingAttemptCount: 1,
	}
	d := e.Decide(players(100, base), nil, state, now)

	assert.True(t, d.ShouldSave)
	assert.Equal(t, "100% sync achieved after pending sync", d.Reason)
	assert.Equal(t, 2, d.PendingAttemptCount)
}

func TestDecideStalePendingIsIgnored(t *testing.T) {
	e := New(testParams())
	base := time.Date(2026, 3, 7, 12, 0, 0, 0, time.UTC)
	now := base.Add(30 * time.Minute)

	stale := now.Add(-3 * time.Hour)
	state := &ControllerState{
		LastSavedAt:         tp(base.Add(-2 * time.Hour)),
		Pending:             &PendingParcel{CapturedAt: stale, SyncPercentage: 99, AttemptCount: 1},
		PendingFirstAttempt: tp(stale),
		PendingAttemptCount: 1,
	}
	d := e.Decide(players(100, base), nil, state, now)

	// Stale parcel dropped: this is a fresh full-sync evaluation.
	assert.True(t, d.ShouldSave)
	assert.Equal(t, "All conditions met", d.Reason)
}

func TestDecideCooldownBlocks(t *testing.T) {
	e := New(testParams())
	base := time.Date(2026, 3, 7, 12, 0, 0, 0, time.UTC)
	now := base.Add(10 * time.Minute)

	state := &ControllerState{LastSavedAt: tp(now.Add(-30 * time.Minute))}
	d := e.Decide(players(50, base), nil, state, now)

	assert.False(t, d.ShouldSave)
	assert.Contains(t, d.Reason, "Cooldown not passed")
}

func TestDecideNotRecentBlocks(t *testing.T) {
	e := New(testParams())
	base := time.Date(2026, 3, 7, 12, 0, 0, 0, time.UTC)
	now := base.Add(3 * time.Hour) // lowest update 3h old, window is 65m

	state := &ControllerState{LastSavedAt: tp(base.Add(-6 * time.Hour))}
	d := e.Decide(players(50, base), nil, state, now)

	assert.False(t, d.ShouldSave)
	assert.Contains(t, d.Reason, "not recent")
}

func TestDecideInsufficientSync(t *testing.T) {
	e := New(testParams())
	base := time.Date(2026, 3, 7, 12, 0, 0, 0, time.UTC)
	now := base.Add(30 * time.Minute)

	// 5 of 50 outside the window: 90% sync, below the 99% threshold.
	recs := players(50, base)
	for i := 0; i < 5; i++ {
		recs[i].UpdatedAt = tp(base.Add(90 * time.Minute))
	}

	state := &ControllerState{LastSavedAt: tp(base.Add(-2 * time.Hour))}
	d := e.Decide(recs, nil, state, now)

	assert.False(t, d.ShouldSave)
	assert.False(t, d.IsPendingSync)
	assert.Contains(t, d.Reason, "Insufficient sync")
	assert.Len(t, d.Missing, 5)
}

func TestDecideGuestsAndExclusionsFiltered(t *testing.T) {
	e := New(testParams())
	base := time.Date(2026, 3, 7, 12, 0, 0, 0, time.UTC)
	now := base.Add(30 * time.Minute)

	recs := players(10, base)
	recs[0].IsGuest = true
	recs[1].UpdatedAt = nil // unparseable timestamp upstream

	excluded := map[string]struct{}{"player-002": {}}

	state := &ControllerState{LastSavedAt: tp(base.Add(-2 * time.Hour))}
	d := e.Decide(recs, excluded, state, now)

	assert.Equal(t, 10, d.TotalReceived)
	assert.Equal(t, 7, d.TotalNonExcluded)
	assert.Equal(t, 3, d.ExcludedCount)
	assert.Equal(t, d.TotalReceived-d.TotalNonExcluded, d.ExcludedCount)
	assert.True(t, d.ShouldSave)
}

func TestDecideNoValidPlayers(t *testing.T) {
	e := New(testParams())
	now := time.Date(2026, 3, 7, 12, 0, 0, 0, time.UTC)

	recs := players(3, now)
	for i := range recs {
		recs[i].IsGuest = true
	}
	d := e.Decide(recs, nil, &ControllerState{}, now)

	assert.False(t, d.ShouldSave)
	assert.Equal(t, "No valid players", d.Reason)
	assert.Equal(t, 0, d.TotalNonExcluded)
}

func TestDecideNeverSavedHasInfiniteCooldown(t *testing.T) {
	e := New(testParams())
	base := time.Date(2026, 3, 7, 12, 0, 0, 0, time.UTC)

	d := e.Decide(players(10, base), nil, &ControllerState{}, base.Add(10*time.Minute))

	assert.True(t, math.IsInf(d.HoursSinceLastSave, 1))
	assert.True(t, d.ShouldSave)
}

func TestDecideWindowBoundaryIsExclusive(t *testing.T) {
	e := New(testParams())
	base := time.Date(2026, 3, 7, 12, 0, 0, 0, time.UTC)
	now := base.Add(30 * time.Minute)

	recs := players(3, base)
	recs[1].UpdatedAt = tp(base.Add(time.Hour))                   // exactly 1h: outside
	recs[2].UpdatedAt = tp(base.Add(time.Hour - time.Nanosecond)) // just inside

	d := e.Decide(recs, nil, &ControllerState{}, now)

	assert.Equal(t, 2, d.PlayersInSyncWindow)
	require.Len(t, d.Missing, 1)
	assert.Equal(t, "player-001", d.Missing[0].ID)
}

func TestDecideIsDeterministic(t *testing.T) {
	e := New(testParams())
	base := time.Date(2026, 3, 7, 12, 0, 0, 0, time.UTC)
	now := base.Add(40 * time.Minute)

	recs := players(100, base)
	recs[7].UpdatedAt = tp(base.Add(80 * time.Minute))
	state := &ControllerState{LastSavedAt: tp(base.Add(-2 * time.Hour))}

	d1 := e.Decide(recs, nil, state, now)
	d2 := e.Decide(recs, nil, state, now)
	assert.Equal(t, d1, d2)
}

func TestWeekNoUpdateAlert(t *testing.T) {
	e := New(testParams())
	now := time.Date(2026, 3, 7, 12, 0, 0, 0, time.UTC)

	t.Run("fires after 8 days without save", func(t *testing.T) {
		state := &ControllerState{LastSavedAt: tp(now.AddDate(0, 0, -8))}
		assert.True(t, e.ShouldSendWeekNoUpdateAlert(state, now))
	})

	t.Run("does not fire within the threshold", func(t *testing.T) {
		state := &ControllerState{LastSavedAt: tp(now.AddDate(0, 0, -6))}
		assert.False(t, e.ShouldSendWeekNoUpdateAlert(state, now))
	})

	t.Run("exactly one week is inside the one hour slack", func(t *testing.T) {
		state := &ControllerState{LastSavedAt: tp(now.AddDate(0, 0, -7))}
		assert.False(t, e.ShouldSendWeekNoUpdateAlert(state, now))
	})

	t.Run("suppressed by a recent alert", func(t *testing.T) {
		state := &ControllerState{
			LastSavedAt:     tp(now.AddDate(0, 0, -8)),
			LastEmailSentAt: tp(now.Add(-30 * time.Minute)),
			LastEmailType:   "week_no_update",
		}
		assert.False(t, e.ShouldSendWeekNoUpdateAlert(state, now))
	})

	t.Run("re-fires after the alert cooldown", func(t *testing.T) {
		state := &ControllerState{
			LastSavedAt:     tp(now.AddDate(0, 0, -8)),
			LastEmailSentAt: tp(now.Add(-3 * time.Hour)),
			LastEmailType:   "week_no_update",
		}
		assert.True(t, e.ShouldSendWeekNoUpdateAlert(state, now))
	})

	t.Run("never saved counts as stale", func(t *testing.T) {
		assert.True(t, e.ShouldSendWeekNoUpdateAlert(&ControllerState{}, now))
	})
}
