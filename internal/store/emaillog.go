package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/eggtrack/eggtrack/internal/config"
)

// EmailLogEntry is one send attempt, successful or not. The audit table is
// the authoritative record of notifications; the controller's decision path
// never reads it.
type EmailLogEntry struct {
	ID                  uuid.UUID      `json:"id"`
	SentAt              time.Time      `json:"sentAt"`
	Kind                string         `json:"kind"`
	Recipient           string         `json:"recipient"`
	Subject             string         `json:"subject"`
	BodyPreview         string         `json:"bodyPreview"`
	Success             bool           `json:"success"`
	ErrorMessage        *string        `json:"errorMessage"`
	ResponseData        *string        `json:"responseData"`
	RelatedSnapshotDate *string        `json:"relatedSnapshotDate"`
	Metadata            map[string]any `json:"metadata"`
}

// LogEmail appends one row to the email audit table.
func (s *Store) LogEmail(ctx context.Context, e EmailLogEntry) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	meta, err := json.Marshal(e.Metadata)
	if err != nil {
		meta = []byte("{}")
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO `+config.EmailLogTable+` (
			id, sent_at, kind, recipient, subject, body_preview,
			success, error_message, response_data, related_snapshot_date, metadata
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		e.ID, e.SentAt, e.Kind, e.Recipient, e.Subject, e.BodyPreview,
		e.Success, e.ErrorMessage, e.ResponseData, e.RelatedSnapshotDate, meta)
	if err != nil {
		return fmt.Errorf("log email: %w", err)
	}
	return nil
}

// ListEmailLog pages over the audit table, newest first.
func (s *Store) ListEmailLog(ctx context.Context, limit, offset int) ([]EmailLogEntry, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, sent_at, kind, recipient, subject, body_preview,
			success, error_message, response_data, related_snapshot_date, metadata
		FROM `+config.EmailLogTable+`
		ORDER BY sent_at DESC
		LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list email log: %w", err)
	}
	defer rows.Close()

	var out []EmailLogEntry
	for rows.Next() {
		var e EmailLogEntry
		var meta []byte
		if err := rows.Scan(&e.ID, &e.SentAt, &e.Kind, &e.Recipient, &e.Subject,
			&e.BodyPreview, &e.Success, &e.ErrorMessage, &e.ResponseData,
			&e.RelatedSnapshotDate, &meta); err != nil {
			return nil, fmt.Errorf("scan email log: %w", err)
		}
		if len(meta) > 0 {
			_ = json.Unmarshal(meta, &e.Metadata)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// WeeklyStatRow is one row of the weekly_statistics materialized view.
type WeeklyStatRow struct {
	WeekStart     time.Time `json:"weekStart"`
	PlayerCount   int       `json:"playerCount"`
	SnapshotCount int       `json:"snapshotCount"`
	AvgEB         float64   `json:"avgEb"`
	TopEB         float64   `json:"topEb"`
}

// WeeklyStatistics reads the weekly_statistics view, newest week first.
func (s *Store) WeeklyStatistics(ctx context.Context) ([]WeeklyStatRow, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT week_start, player_count, snapshot_count, avg_eb, top_eb
		FROM weekly_statistics
		ORDER BY week_start DESC`)
	if err != nil {
		return nil, fmt.Errorf("read weekly statistics: %w", err)
	}
	defer rows.Close()

	var out []WeeklyStatRow
	for rows.Next() {
		var w WeeklyStatRow
		if err := rows.Scan(&w.WeekStart, &w.PlayerCount, &w.SnapshotCount, &w.AvgEB, &w.TopEB); err != nil {
			return nil, fmt.Errorf("scan weekly statistics: %w", err)
		}
		out = append(out, w)
	}
	return out, rows.Err()
}
