package notify

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/eggtrack/eggtrack/internal/engine"
	"github.com/eggtrack/eggtrack/internal/store"
)

// Email composition. Bodies are deliberately plain: a small table of counts
// and, for partial syncs, the straggler list with how far behind each is.

func composeSnapshotSaved(dec engine.Decision, save store.SaveResult) (subject, html, text string) {
	subject = fmt.Sprintf("Snapshot saved for %s (%d players)", save.SnapshotDate, save.SnapshotsWritten)

	var tb strings.Builder
	fmt.Fprintf(&tb, "Snapshot saved for %s.\n\n", save.SnapshotDate)
	fmt.Fprintf(&tb, "Reason: %s\n", dec.Reason)
	fmt.Fprintf(&tb, "Sync: %.1f%% (%d of %d players in window)\n",
		dec.SyncPercentage, dec.PlayersInSyncWindow, dec.TotalNonExcluded)
	fmt.Fprintf(&tb, "Rows written: %d snapshots (%d errors), %d egg day gains (%d errors)\n",
		save.SnapshotsWritten, save.SnapshotErrors, save.GainsWritten, save.GainErrors)
	fmt.Fprintf(&tb, "View refresh: %s\n", save.RefreshResult)
	appendErrors(&tb, save.Errors)
	text = tb.String()

	var hb strings.Builder
	hb.WriteString("<h2>Snapshot saved</h2>")
	fmt.Fprintf(&hb, "<p>Date: <strong>%s</strong></p>", save.SnapshotDate)
	fmt.Fprintf(&hb, "<p>Reason: %s</p>", dec.Reason)
	hb.WriteString("<table border=\"1\" cellpadding=\"4\">")
	fmt.Fprintf(&hb, "<tr><td>Sync</td><td>%.1f%% (%d/%d)</td></tr>",
		dec.SyncPercentage, dec.PlayersInSyncWindow, dec.TotalNonExcluded)
	fmt.Fprintf(&hb, "<tr><td>Snapshots</td><td>%d written, %d errors</td></tr>",
		save.SnapshotsWritten, save.SnapshotErrors)
	fmt.Fprintf(&hb, "<tr><td>Egg day gains</td><td>%d written, %d errors</td></tr>",
		save.GainsWritten, save.GainErrors)
	fmt.Fprintf(&hb, "<tr><td>View refresh</td><td>%s</td></tr>", save.RefreshResult)
	hb.WriteString("</table>")
	html = hb.String()

	return subject, html, text
}

func composePartialSync(dec engine.Decision, save store.SaveResult) (subject, html, text string) {
	subject = fmt.Sprintf("Snapshot saved with warning for %s (%.1f%% sync)",
		save.SnapshotDate, dec.SyncPercentage)

	var tb strings.Builder
	fmt.Fprintf(&tb, "Snapshot for %s was saved after repeated partial syncs.\n\n", save.SnapshotDate)
	fmt.Fprintf(&tb, "Reason: %s\n", dec.Reason)
	fmt.Fprintf(&tb, "Sync: %.1f%% (%d of %d players in window)\n",
		dec.SyncPercentage, dec.PlayersInSyncWindow, dec.TotalNonExcluded)
	fmt.Fprintf(&tb, "Rows written: %d snapshots (%d errors), %d egg day gains (%d errors)\n\n",
		save.SnapshotsWritten, save.SnapshotErrors, save.GainsWritten, save.GainErrors)
	tb.WriteString("Players outside the sync window:\n")
	for _, m := range dec.Missing {
		fmt.Fprintf(&tb, "  - %s (%s): %.2fh behind the window anchor\n", m.IGN, m.ID, m.TimeDifferenceHours)
	}
	appendErrors(&tb, save.Errors)
	text = tb.String()

	var hb strings.Builder
	hb.WriteString("<h2>Snapshot saved with warning</h2>")
	fmt.Fprintf(&hb, "<p>Date: <strong>%s</strong> — sync %.1f%%</p>", save.SnapshotDate, dec.SyncPercentage)
	fmt.Fprintf(&hb, "<p>%s</p>", dec.Reason)
	hb.WriteString("<h3>Players outside the sync window</h3><ul>")
	for _, m := range dec.Missing {
		fmt.Fprintf(&hb, "<li>%s (%s): %.2fh behind</li>", m.IGN, m.ID, m.TimeDifferenceHours)
	}
	hb.WriteString("</ul>")
	fmt.Fprintf(&hb, "<p>Rows written: %d snapshots (%d errors), %d gains (%d errors)</p>",
		save.SnapshotsWritten, save.SnapshotErrors, save.GainsWritten, save.GainErrors)
	html = hb.String()

	return subject, html, text
}

func composeWeekNoUpdate(state *engine.ControllerState, now time.Time) (subject, html, text string) {
	days := math.Inf(1)
	lastSaved := "never"
	if state != nil && state.LastSavedAt != nil {
		days = now.Sub(*state.LastSavedAt).Hours() / 24
		lastSaved = state.LastSavedAt.UTC().Format(time.RFC3339)
	}

	if math.IsInf(days, 1) {
		subject = "No leaderboard snapshot has ever been saved"
	} else {
		subject = fmt.Sprintf("No leaderboard snapshot for %.1f days", days)
	}

	var tb strings.Builder
	tb.WriteString("The snapshot controller has not recorded a historical snapshot for over a week.\n\n")
	fmt.Fprintf(&tb, "Last successful save: %s\n", lastSaved)
	if state != nil && state.LastDecisionResult != nil {
		fmt.Fprintf(&tb, "Last decision: %s\n", state.LastDecisionResult.Reason)
	}
	tb.WriteString("\nCheck the upstream feed and the exclusion registry; a single player with a broken updatedAt can hold the sync percentage below threshold indefinitely.\n")
	text = tb.String()

	var hb strings.Builder
	hb.WriteString("<h2>No recent snapshot</h2>")
	fmt.Fprintf(&hb, "<p>Last successful save: <strong>%s</strong></p>", lastSaved)
	if state != nil && state.LastDecisionResult != nil {
		fmt.Fprintf(&hb, "<p>Last decision: %s</p>", state.LastDecisionResult.Reason)
	}
	hb.WriteString("<p>Check the upstream feed and the exclusion registry.</p>")
	html = hb.String()

	return subject, html, text
}

func appendErrors(tb *strings.Builder, errs []string) {
	if len(errs) == 0 {
		return
	}
	tb.WriteString("\nBatch errors:\n")
	for _, e := range errs {
		fmt.Fprintf(tb, "  - %s\n", e)
	}
}
