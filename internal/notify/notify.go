// Package notify composes and sends the three classes of operator email and
// records every attempt in the email audit table.
//
// Sends are fire-and-forget: a failure is logged and audited but never
// propagates into the controller. The audit table is the authoritative
// record; nothing in the decision path reads it back.
package notify

import (
	"context"
	"log/slog"
	"time"

	"github.com/eggtrack/eggtrack/internal/engine"
	"github.com/eggtrack/eggtrack/internal/store"
)

// Email kinds. KindSyncFailed is reserved; nothing emits it yet.
const (
	KindSnapshotSaved = "snapshot_saved"
	KindPartialSync   = "partial_sync"
	KindWeekNoUpdate  = "week_no_update"
	KindSyncFailed    = "sync_failed"
)

const bodyPreviewLen = 200

// AuditLog records send attempts. Satisfied by *store.Store.
type AuditLog interface {
	LogEmail(ctx context.Context, e store.EmailLogEntry) error
}

// Dispatcher composes and sends operator notifications.
type Dispatcher struct {
	sender    *ResendClient
	audit     AuditLog
	from      string
	recipient string
	logger    *slog.Logger
}

// NewDispatcher creates a dispatcher. A nil sender disables delivery but
// attempts are still audited, so local runs leave a trace.
func NewDispatcher(sender *ResendClient, audit AuditLog, from, recipient string, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		sender:    sender,
		audit:     audit,
		from:      from,
		recipient: recipient,
		logger:    logger,
	}
}

// SnapshotSaved announces a clean save (100% sync).
func (d *Dispatcher) SnapshotSaved(ctx context.Context, dec engine.Decision, save store.SaveResult, tickID string) {
	subject, html, text := composeSnapshotSaved(dec, save)
	d.deliver(ctx, KindSnapshotSaved, subject, html, text, &save.SnapshotDate, map[string]any{
		"tickId":         tickID,
		"syncPercentage": dec.SyncPercentage,
		"recordCount":    save.SnapshotsWritten,
	})
}

// PartialSync announces a degraded save: the parcel was persisted with
// stragglers still outside the sync window.
func (d *Dispatcher) PartialSync(ctx context.Context, dec engine.Decision, save store.SaveResult, tickID string) {
	subject, html, text := composePartialSync(dec, save)
	d.deliver(ctx, KindPartialSync, subject, html, text, &save.SnapshotDate, map[string]any{
		"tickId":         tickID,
		"syncPercentage": dec.SyncPercentage,
		"missingCount":   len(dec.Missing),
		"attemptCount":   dec.PendingAttemptCount,
	})
}

// WeekNoUpdate announces an outage: no snapshot has landed for over a week.
func (d *Dispatcher) WeekNoUpdate(ctx context.Context, state *engine.ControllerState, now time.Time, tickID string) {
	subject, html, text := composeWeekNoUpdate(state, now)
	d.deliver(ctx, KindWeekNoUpdate, subject, html, text, nil, map[string]any{
		"tickId": tickID,
	})
}

// deliver sends one message and audits the attempt. Never returns an error.
func (d *Dispatcher) deliver(ctx context.Context, kind, subject, html, text string, snapshotDate *string, meta map[string]any) {
	if d.recipient == "" {
		d.logger.Warn("Notification dropped: no recipient configured", "kind", kind)
		return
	}

	responseData, err := d.sender.Send(ctx, Message{
		From:    d.from,
		To:      []string{d.recipient},
		Subject: subject,
		HTML:    html,
		Text:    text,
	})

	entry := store.EmailLogEntry{
		SentAt:              time.Now().UTC(),
		Kind:                kind,
		Recipient:           d.recipient,
		Subject:             subject,
		BodyPreview:         previewOf(text),
		Success:             err == nil,
		RelatedSnapshotDate: snapshotDate,
		Metadata:            meta,
	}
	if err != nil {
		msg := err.Error()
		entry.ErrorMessage = &msg
		d.logger.Error("Notification send failed", "kind", kind, "error", err)
	} else {
		d.logger.Info("Notification sent", "kind", kind, "subject", subject)
	}
	if responseData != "" {
		entry.ResponseData = &responseData
	}

	if auditErr := d.audit.LogEmail(ctx, entry); auditErr != nil {
		d.logger.Error("Failed to record email audit row", "kind", kind, "error", auditErr)
	}
}

// previewOf truncates on rune boundaries so the stored preview is always
// valid UTF-8.
func previewOf(text string) string {
	if len(text) <= bodyPreviewLen {
		return text
	}
	runes := []rune(text)
	if len(runes) <= bodyPreviewLen {
		return text
	}
	return string(runes[:bodyPreviewLen])
}
