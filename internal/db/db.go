// Package db provides a pgxpool-based connection pool with prepared statement
// registration and health checking.
package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nearping/proximity-api/internal/config"
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

// registerPreparedStatements registers all statements the ingest and
// housekeeping paths use. Prepared statements eliminate parse overhead on
// the hot per-report path.
func registerPreparedStatements(ctx context.Context, conn *pgx.Conn) error {
	stmts := map[string]string{
		// Health
		"health_check": "SELECT 1",

		// Ingest: proximity counter read (includes CAS version)
		"location_read": `
			SELECT latitude, longitude, last_updated, proximity_count, last_notified_at, version
			FROM locations
			WHERE user_id = $1`,

		// Ingest: coordinate upsert. Counters and version are untouched so
		// the conditional counter write below can detect concurrent races.
		"location_upsert": `
			INSERT INTO locations (user_id, latitude, longitude, last_updated)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (user_id) DO UPDATE
			SET latitude = EXCLUDED.latitude,
			    longitude = EXCLUDED.longitude,
			    last_updated = EXCLUDED.last_updated`,

		// Ingest: conditional counter commit (optimistic concurrency)
		"location_write_counters": `
			UPDATE locations
			SET proximity_count = $2, last_notified_at = $3, version = version + 1
			WHERE user_id = $1 AND version = $4`,

		// Nearby search: haversine great-circle radius query
		"nearby_locations": `
			SELECT user_id, distance_m, last_updated
			FROM (
				SELECT user_id, last_updated,
					2 * 6371000 * asin(sqrt(
						power(sin(radians(latitude - $1) / 2), 2) +
						cos(radians($1)) * cos(radians(latitude)) *
						power(sin(radians(longitude - $2) / 2), 2)
					)) AS distance_m
				FROM locations
				WHERE user_id <> $3
				  AND last_updated > now() - make_interval(secs => $4)
			) candidates
			WHERE distance_m <= $5
			ORDER BY distance_m
			LIMIT $6`,

		// Housekeeping
		"cleanup_stale_locations": `
			DELETE FROM locations
			WHERE last_updated < now() - make_interval(secs => $1)`,
		"location_stats": `
			SELECT count(*),
			       count(*) FILTER (WHERE last_updated > now() - make_interval(secs => $1))
			FROM locations`,
	}

	for name, sql := range stmts {
		if _, err := conn.Prepare(ctx, name, sql); err != nil {
			return fmt.Errorf("prepare %q: %w", name, err)
		}
	}
	return nil
}
