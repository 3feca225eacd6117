package engine

import "time"

// ShouldSendWeekNoUpdateAlert reports whether the outage alert is due.
// Fires when no save has landed for the alert threshold (plus one hour of
// slack so a save exactly a week ago does not flap) and the previous alert,
// if any, is outside the alert cooldown.
func (e *Engine) ShouldSendWeekNoUpdateAlert(state *ControllerState, now time.Time) bool {
	if state == nil {
		return false
	}

	thresholdHours := float64(e.p.AlertThresholdDays)*24 + 1

	if state.LastSavedAt != nil {
		if now.Sub(*state.LastSavedAt).Hours() < thresholdHours {
			return false
		}
	}
	// A never-saved state counts as infinitely stale and qualifies.

	if state.LastEmailSentAt == nil {
		return true
	}
	return now.Sub(*state.LastEmailSentAt).Hours() > e.p.AlertCooldownHours
}
