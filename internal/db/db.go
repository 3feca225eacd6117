// Package db provides a pgxpool-based connection pool with prepared statement
// registration and health checking.
package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/eggtrack/eggtrack/internal/config"
)

// Pool wraps pgxpool.Pool with application-specific helpers.
type Pool struct {
	*pgxpool.Pool
}

// New creates and validates a new connection pool.
func New(ctx context.Context, cfg *config.Config) (*Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database URL: %w", err)
	}

	poolCfg.MinConns = int32(cfg.DBPoolMinConns)
	poolCfg.MaxConns = int32(cfg.DBPoolMaxConns)
	poolCfg.MaxConnLifetime = cfg.DBPoolMaxLife
	poolCfg.MaxConnIdleTime = 5 * time.Minute

	// Register prepared statements on every new connection.
	poolCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return registerPreparedStatements(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	// Verify connectivity
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &Pool{Pool: pool}, nil
}

// HealthCheck runs a trivial query to verify the database is reachable.
func (p *Pool) HealthCheck(ctx context.Context) error {
	var n int
	return p.QueryRow(ctx, "health_check").Scan(&n)
}

// registerPreparedStatements registers all statements the controller and API
// layers use. Prepared statements eliminate parse overhead on every tick.
func registerPreparedStatements(ctx context.Context, conn *pgx.Conn) error {
	stmts := map[string]string{
		// Health
		"health_check": "SELECT 1",

		// Exclusion registry
		"list_exclusions": "SELECT id, reason FROM " + config.ExclusionsTable + " ORDER BY id",

		// Controller state singleton
		"load_controller_state": `SELECT last_saved_at, last_decision_at, last_decision_result,
			last_email_sent_at, last_email_type,
			pending_data, pending_first_attempt, pending_attempt_count, pending_meta,
			updated_at
			FROM ` + config.SaveMetaTable + ` WHERE id = 1`,

		// Cache
		"cache_row_by_id":  "SELECT id, ign, display_name, discord_name, eb, se, pe, te, num_prestiges, farmer_role, grade, is_guest, active FROM " + config.CacheTable + " WHERE id = $1",
		"cache_all_rows":   "SELECT id, ign, display_name, discord_name, eb, se, pe, te, num_prestiges, farmer_role, grade, is_guest, active FROM " + config.CacheTable + " ORDER BY eb DESC",
		"cache_last_write": "SELECT last_updated FROM " + config.CacheMetaTable + " WHERE id = 1",

		// Snapshot reads
		"snapshot_count_for_date": "SELECT COUNT(*) FROM " + config.SnapshotsTable + " WHERE snapshot_date = $1",
	}

	for name, sql := range stmts {
		if _, err := conn.Prepare(ctx, name, sql); err != nil {
			return fmt.Errorf("prepare %q: %w", name, err)
		}
	}
	return nil
}
