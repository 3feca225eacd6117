package store

import (
	"context"
	"fmt"

	"github.com/eggtrack/eggtrack/internal/config"
)

// Exclusion is a player whose upstream update timestamp is known-broken.
// Excluded IDs are subtracted from the denominator of the sync statistic.
type Exclusion struct {
	ID     string `json:"id"`
	Reason string `json:"reason"`
}

// ListExclusions returns the full exclusion registry. The registry is
// expected to hold a single-digit number of entries.
func (s *Store) ListExclusions(ctx context.Context) ([]Exclusion, error) {
	rows, err := s.pool.Query(ctx, "list_exclusions")
	if err != nil {
		return nil, fmt.Errorf("list exclusions: %w", err)
	}
	defer rows.Close()

	var out []Exclusion
	for rows.Next() {
		var e Exclusion
		if err := rows.Scan(&e.ID, &e.Reason); err != nil {
			return nil, fmt.Errorf("scan exclusion: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// ExcludedIDs returns the registry as a set for the decision engine.
func (s *Store) ExcludedIDs(ctx context.Context) (map[string]struct{}, error) {
	list, err := s.ListExclusions(ctx)
	if err != nil {
		return nil, err
	}
	set := make(map[string]struct{}, len(list))
	for _, e := range list {
		set[e.ID] = struct{}{}
	}
	return set, nil
}

// AddExclusion registers a player ID with a human reason. Operator tooling
// only; the controller never mutates the registry.
func (s *Store) AddExclusion(ctx context.Context, id, reason string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO `+config.ExclusionsTable+` (id, reason)
		VALUES ($1, $2)
		ON CONFLICT (id) DO UPDATE SET reason = EXCLUDED.reason, updated_at = NOW()`,
		id, reason)
	if err != nil {
		return fmt.Errorf("add exclusion: %w", err)
	}
	return nil
}

// RemoveExclusion deletes a player ID from the registry.
func (s *Store) RemoveExclusion(ctx context.Context, id string) (bool, error) {
	tag, err := s.pool.Exec(ctx, "DELETE FROM "+config.ExclusionsTable+" WHERE id = $1", id)
	if err != nil {
		return false, fmt.Errorf("remove exclusion: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}
