// Package store provides all Postgres persistence for the controller: the
// exclusion registry, the controller-state singleton, the current-state
// leaderboard cache, the historical snapshot tables, and the email audit log.
//
// Mutations are single statements or short sequences of them; no
// multi-statement transactions are assumed. Batch writes go through
// pgx.Batch in chunks of 100 and report per-batch counts instead of rolling
// back, so a partial failure surfaces in the result rather than aborting
// the run.
package store

import (
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
)

// batchSize is the chunk size for cache inserts and snapshot upserts.
const batchSize = 100

// Store bundles the connection pool with a logger. All persistence methods
// hang off it so the controller can depend on narrow interfaces.
type Store struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// New creates a Store.
func New(pool *pgxpool.Pool, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{pool: pool, logger: logger}
}

// chunk splits a slice into batches of at most batchSize.
func chunk[T any](items []T) [][]T {
	var out [][]T
	for len(items) > 0 {
		n := min(batchSize, len(items))
		out = append(out, items[:n])
		items = items[n:]
	}
	return out
}
