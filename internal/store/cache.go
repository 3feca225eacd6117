package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/eggtrack/eggtrack/internal/config"
	"github.com/eggtrack/eggtrack/internal/upstream"
)

// CacheEntry is the current-state image of one player, the subset of the
// upstream record the leaderboard serves. NumPrestiges is nulled for
// non-admin callers at the API layer, never here.
type CacheEntry struct {
	ID           string  `json:"id"`
	IGN          string  `json:"ign"`
	DisplayName  *string `json:"displayName"`
	DiscordName  string  `json:"discordName"`
	EB           float64 `json:"eb"`
	SE           float64 `json:"se"`
	PE           int     `json:"pe"`
	TE           *int    `json:"te"`
	NumPrestiges *int    `json:"numPrestiges"`
	FarmerRole   *string `json:"farmerRole"`
	Grade        string  `json:"grade"`
	IsGuest      bool    `json:"isGuest"`
	Active       bool    `json:"active"`
}

// CacheResult reports the outcome of a cache replacement.
type CacheResult struct {
	Deleted  int64
	Inserted int
	Errors   []string
}

// entryFromRecord projects an upstream record onto the cache subset.
// Grade is normalized to uppercase; the cache emission is the canonical
// spelling for the rest of the system.
func entryFromRecord(r upstream.PlayerRecord) CacheEntry {
	return CacheEntry{
		ID:           r.ID,
		IGN:          r.IGN,
		DisplayName:  r.DisplayName,
		DiscordName:  r.DiscordName,
		EB:           r.EB,
		SE:           r.SE,
		PE:           r.PE,
		TE:           r.TE,
		NumPrestiges: r.NumPrestiges,
		FarmerRole:   r.FarmerRole,
		Grade:        strings.ToUpper(r.Grade),
		IsGuest:      r.IsGuest,
		Active:       r.Active,
	}
}

// ReplaceCache overwrites the leaderboard cache with the latest poll and
// advances the freshness marker. The delete + insert sequence is not
// transactional; readers treat the marker as a staleness hint only, so a
// mid-sequence failure self-heals on the next tick.
func (s *Store) ReplaceCache(ctx context.Context, records []upstream.PlayerRecord, now time.Time) (CacheResult, error) {
	var result CacheResult

	tag, err := s.pool.Exec(ctx, "DELETE FROM "+config.CacheTable)
	if err != nil {
		return result, fmt.Errorf("clear cache: %w", err)
	}
	result.Deleted = tag.RowsAffected()

	const insertSQL = `
		INSERT INTO ` + config.CacheTable + ` (
			id, ign, display_name, discord_name, eb, se, pe, te,
			num_prestiges, farmer_role, grade, is_guest, active
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
		ON CONFLICT (id) DO UPDATE SET
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
			active = EXCLUDED.active`

	for batchNum, batch := range chunk(records) {
		b := &pgx.Batch{}
		for _, r := range batch {
			e := entryFromRecord(r)
			b.Queue(insertSQL,
				e.ID, e.IGN, e.DisplayName, e.DiscordName, e.EB, e.SE, e.PE, e.TE,
				e.NumPrestiges, e.FarmerRole, e.Grade, e.IsGuest, e.Active)
		}
		br := s.pool.SendBatch(ctx, b)
		failed := 0
		for range batch {
			if _, err := br.Exec(); err != nil {
				failed++
				if len(result.Errors) < 10 {
					result.Errors = append(result.Errors, fmt.Sprintf("cache batch %d: %v", batchNum, err))
				}
			} else {
				result.Inserted++
			}
		}
		if err := br.Close(); err != nil && failed == 0 {
			result.Errors = append(result.Errors, fmt.Sprintf("cache batch %d close: %v", batchNum, err))
		}
	}

	// Freshness marker advances even on a partial insert; accepted
	// staleness risk, the next tick overwrites everything anyway.
	_, err = s.pool.Exec(ctx, `
		INSERT INTO `+config.CacheMetaTable+` (id, last_updated)
		VALUES (1, $1)
		ON CONFLICT (id) DO UPDATE SET last_updated = EXCLUDED.last_updated`,
		now)
	if err != nil {
		return result, fmt.Errorf("update freshness marker: %w", err)
	}

	return result, nil
}

// ReadCache returns every cache row ordered by EB descending.
func (s *Store) ReadCache(ctx context.Context) ([]CacheEntry, error) {
	rows, err := s.pool.Query(ctx, "cache_all_rows")
	if err != nil {
		return nil, fmt.Errorf("read cache: %w", err)
	}
	defer rows.Close()

	var out []CacheEntry
	for rows.Next() {
		e, err := scanCacheEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// ReadCacheRow returns one player's cache row, or (nil, nil) when absent.
func (s *Store) ReadCacheRow(ctx context.Context, id string) (*CacheEntry, error) {
	rows, err := s.pool.Query(ctx, "cache_row_by_id", id)
	if err != nil {
		return nil, fmt.Errorf("read cache row: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Err()
	}
	e, err := scanCacheEntry(rows)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// CacheLastUpdated returns the freshness marker. Zero time when the marker
// has never been written.
func (s *Store) CacheLastUpdated(ctx context.Context) (time.Time, error) {
	var t time.Time
	err := s.pool.QueryRow(ctx, "cache_last_write").Scan(&t)
	if errors.Is(err, pgx.ErrNoRows) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("read freshness marker: %w", err)
	}
	return t, nil
}

func scanCacheEntry(rows pgx.Rows) (CacheEntry, error) {
	var e CacheEntry
	if err := rows.Scan(&e.ID, &e.IGN, &e.DisplayName, &e.DiscordName,
		&e.EB, &e.SE, &e.PE, &e.TE, &e.NumPrestiges,
		&e.FarmerRole, &e.Grade, &e.IsGuest, &e.Active); err != nil {
		return CacheEntry{}, fmt.Errorf("scan cache entry: %w", err)
	}
	return e, nil
}
