package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/eggtrack/eggtrack/internal/config"
	"github.com/eggtrack/eggtrack/internal/upstream"
)

// SaveResult reports aggregate counts from a snapshot save. Batch failures
// do not abort the run; the caller inspects the counts and decides whether
// a degraded-save email is warranted.
type SaveResult struct {
	SnapshotDate     string   `json:"snapshotDate"`
	SnapshotsWritten int      `json:"snapshotsWritten"`
	SnapshotErrors   int      `json:"snapshotErrors"`
	GainsWritten     int      `json:"gainsWritten"`
	GainErrors       int      `json:"gainErrors"`
	Errors           []string `json:"errors,omitempty"`
	RefreshResult    string   `json:"refreshResult"`
}

// SnapshotDateUTC derives the calendar day (YYYY-MM-DD) in UTC.
func SnapshotDateUTC(now time.Time) string {
	return now.UTC().Format("2006-01-02")
}

// SaveSnapshot appends one dated copy of the population to the history
// tables: per-player snapshot rows upserted on (snapshot_date, id), yearly
// egg day gains upserted on (id, year), the per-date metadata row, and
// finally the materialized-view refresh whose status string is recorded
// verbatim.
func (s *Store) SaveSnapshot(ctx context.Context, records []upstream.PlayerRecord, snapshotDate string, now time.Time) SaveResult {
	result := SaveResult{SnapshotDate: snapshotDate}

	const snapshotSQL = `
		INSERT INTO ` + config.SnapshotsTable + ` (
			snapshot_date, id, ign, display_name, discord_name, eb, se, pe, te,
			num_prestiges, farmer_role, grade, is_guest, active,
			updated_at, gains_saturday, max_mystical_eggs
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)
		ON CONFLICT (snapshot_date, id) DO UPDATE SET
			ign = EXCLUDED.ign,
			display_name = EXCLUDED.display_name,
			discord_name = EXCLUDED.discord_name,
			eb = EXCLUDED.eb,
			se = EXCLUDED.se,
			pe = EXCLUDED.pe,
			te = EXCLUDED.te,
			num_prestiges = EXCLUDED.num_prestiges,
			farmer_role = EXCLUDED.farmer_role,
			grade = EXCLUDED.grade,
			is_guest = EXCLUDED.is_guest,
			active = EXCLUDED.active,
			updated_at = EXCLUDED.updated_at,
			gains_saturday = EXCLUDED.gains_saturday,
			max_mystical_eggs = EXCLUDED.max_mystical_eggs`

	for batchNum, batch := range chunk(records) {
		b := &pgx.Batch{}
		for _, r := range batch {
			e := entryFromRecord(r)
			b.Queue(snapshotSQL,
				snapshotDate, e.ID, e.IGN, e.DisplayName, e.DiscordName,
				e.EB, e.SE, e.PE, e.TE, e.NumPrestiges, e.FarmerRole, e.Grade,
				e.IsGuest, e.Active,
				r.UpdatedAt, r.GainsSaturday, r.MaxMysticalEggs)
		}
		br := s.pool.SendBatch(ctx, b)
		for _, r := range batch {
			if _, err := br.Exec(); err != nil {
				result.SnapshotErrors++
				if len(result.Errors) < 20 {
					result.Errors = append(result.Errors,
						fmt.Sprintf("snapshot batch %d player %s: %v", batchNum, r.ID, err))
				}
			} else {
				result.SnapshotsWritten++
			}
		}
		_ = br.Close()
	}

	// Derived yearly gain rows, one per (id, year) found in eggDay.
	type gainRow struct {
		id   string
		gain upstream.YearlyGain
	}
	var gains []gainRow
	for _, r := range records {
		for _, g := range r.EggDay {
			gains = append(gains, gainRow{id: r.ID, gain: g})
		}
	}

	const gainSQL = `
		INSERT INTO ` + config.EggDayGainsTable + ` (
			id, year,
			start_se, start_pe, start_eb, start_role, start_prestiges,
			end_se, end_pe, end_eb, end_role, end_prestiges
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		ON CONFLICT (id, year) DO UPDATE SET
			start_se = EXCLUDED.start_se,
			start_pe = EXCLUDED.start_pe,
			start_eb = EXCLUDED.start_eb,
			start_role = EXCLUDED.start_role,
			start_prestiges = EXCLUDED.start_prestiges,
			end_se = EXCLUDED.end_se,
			end_pe = EXCLUDED.end_pe,
			end_eb = EXCLUDED.end_eb,
			end_role = EXCLUDED.end_role,
			end_prestiges = EXCLUDED.end_prestiges,
			updated_at = NOW()`

	for batchNum, batch := range chunk(gains) {
		b := &pgx.Batch{}
		for _, g := range batch {
			b.Queue(gainSQL,
				g.id, g.gain.Year,
				g.gain.Start.SE, g.gain.Start.PE, g.gain.Start.EB, g.gain.Start.Role, g.gain.Start.Prestiges,
				g.gain.End.SE, g.gain.End.PE, g.gain.End.EB, g.gain.End.Role, g.gain.End.Prestiges)
		}
		br := s.pool.SendBatch(ctx, b)
		for _, g := range batch {
			if _, err := br.Exec(); err != nil {
				result.GainErrors++
				if len(result.Errors) < 20 {
					result.Errors = append(result.Errors,
						fmt.Sprintf("eggday batch %d player %s year %d: %v", batchNum, g.id, g.gain.Year, err))
				}
			} else {
				result.GainsWritten++
			}
		}
		_ = br.Close()
	}

	// Per-date metadata row.
	_, err := s.pool.Exec(ctx, `
		INSERT INTO `+config.SnapshotMetaTable+` (snapshot_date, record_count, imported_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (snapshot_date) DO UPDATE SET
			record_count = EXCLUDED.record_count,
			imported_at = EXCLUDED.imported_at`,
		snapshotDate, len(records), now)
	if err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("snapshot metadata: %v", err))
	}

	result.RefreshResult = s.refreshViews(ctx)

	s.logger.Info("Snapshot saved",
		"date", snapshotDate,
		"snapshots", result.SnapshotsWritten,
		"snapshot_errors", result.SnapshotErrors,
		"gains", result.GainsWritten,
		"gain_errors", result.GainErrors,
		"refresh", result.RefreshResult)

	return result
}

// refreshViews invokes the stored procedure that refreshes
// unique_players_latest and weekly_statistics. The controller treats the
// refresh as opaque and only records its status string.
func (s *Store) refreshViews(ctx context.Context) string {
	var status string
	err := s.pool.QueryRow(ctx, "SELECT refresh_leaderboard_views()").Scan(&status)
	if err != nil {
		s.logger.Warn("Materialized view refresh failed", "error", err)
		return fmt.Sprintf("error: %v", err)
	}
	return status
}

// CountSnapshotRows returns the number of snapshot rows for a date.
func (s *Store) CountSnapshotRows(ctx context.Context, snapshotDate string) (int, error) {
	var n int
	if err := s.pool.QueryRow(ctx, "snapshot_count_for_date", snapshotDate).Scan(&n); err != nil {
		return 0, fmt.Errorf("count snapshot rows: %w", err)
	}
	return n, nil
}

// DeleteSnapshot removes every snapshot row and the metadata row for a date
// and records who asked for it in the deletion audit table.
func (s *Store) DeleteSnapshot(ctx context.Context, snapshotDate, performedBy string) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		"DELETE FROM "+config.SnapshotsTable+" WHERE snapshot_date = $1", snapshotDate)
	if err != nil {
		return 0, fmt.Errorf("delete snapshot rows: %w", err)
	}
	deleted := tag.RowsAffected()

	if _, err := s.pool.Exec(ctx,
		"DELETE FROM "+config.SnapshotMetaTable+" WHERE snapshot_date = $1", snapshotDate); err != nil {
		return deleted, fmt.Errorf("delete snapshot metadata: %w", err)
	}

	if _, err := s.pool.Exec(ctx, `
		INSERT INTO `+config.DeletionAuditTable+` (snapshot_date, deleted_records, performed_by)
		VALUES ($1, $2, $3)`,
		snapshotDate, deleted, performedBy); err != nil {
		return deleted, fmt.Errorf("record deletion audit: %w", err)
	}

	return deleted, nil
}
