// Package store provides the proximity state store adapters: a Postgres
// implementation backed by pgxpool prepared statements, and an in-memory
// implementation for tests and local development.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/nearping/proximity-api/internal/db"
	"github.com/nearping/proximity-api/internal/location"
)

// Postgres implements location.Store, location.NearbyQuerier and
// location.StaleSweeper over the locations table.
//
// Concurrency discipline: UpsertCoordinates never touches counters or the
// version column, and WriteCounters commits in a single conditional UPDATE
// keyed on the version read earlier. A losing writer matches zero rows and
// gets location.ErrVersionConflict instead of silently overwriting a newer
// transition.
type Postgres struct {
	pool *db.Pool
}

// NewPostgres creates the Postgres store adapter.
func NewPostgres(pool *db.Pool) *Postgres {
	return &Postgres{pool: pool}
}

// InitSchema creates the locations table and supporting index if absent.
func (p *Postgres) InitSchema(ctx context.Context) error {
	_, err := p.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS locations (
			user_id          text PRIMARY KEY,
			latitude         double precision NOT NULL,
			longitude        double precision NOT NULL,
			last_updated     timestamptz NOT NULL,
			proximity_count  integer NOT NULL DEFAULT 0,
			last_notified_at timestamptz,
			version          bigint NOT NULL DEFAULT 0
		)`)
	if err != nil {
		return fmt.Errorf("create locations table: %w", err)
	}

	// Nearby searches and cleanup both filter on recency.
	_, err = p.pool.Exec(ctx,
		`CREATE INDEX IF NOT EXISTS idx_locations_last_updated ON locations (last_updated)`)
	if err != nil {
		return fmt.Errorf("create last_updated index: %w", err)
	}
	return nil
}

// ReadOrDefault returns the stored record, or the zero record (version 0)
// when the user has never reported.
func (p *Postgres) ReadOrDefault(ctx context.Context, userID string) (location.Record, error) {
	rec := location.Record{UserID: userID}
	err := p.pool.QueryRow(ctx, "location_read", userID).Scan(
		&rec.Latitude, &rec.Longitude, &rec.LastUpdated,
		&rec.ProximityCount, &rec.LastNotifiedAt, &rec.Version,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return location.Record{UserID: userID}, nil
	}
	if err != nil {
		return location.Record{}, fmt.Errorf("read location %q: %w", userID, err)
	}
	return rec, nil
}

// UpsertCoordinates creates or refreshes the coordinate fields.
func (p *Postgres) UpsertCoordinates(ctx context.Context, userID string, lat, lng float64, now time.Time) error {
	_, err := p.pool.Exec(ctx, "location_upsert", userID, lat, lng, now)
	if err != nil {
		return fmt.Errorf("upsert location %q: %w", userID, err)
	}
	return nil
}

// WriteCounters commits the hysteresis output with a version check.
func (p *Postgres) WriteCounters(ctx context.Context, userID string, expectedVersion int64, count int, notifiedAt *time.Time) error {
	tag, err := p.pool.Exec(ctx, "location_write_counters", userID, count, notifiedAt, expectedVersion)
	if err != nil {
		return fmt.Errorf("write counters %q: %w", userID, err)
	}
	if tag.RowsAffected() == 0 {
		return location.ErrVersionConflict
	}
	return nil
}

// FindNearby runs the haversine radius search, excluding the reporting user
// and records not updated within the staleness window.
func (p *Postgres) FindNearby(ctx context.Context, lat, lng float64, q location.NearbyQuery) ([]location.NearbyUser, error) {
	rows, err := p.pool.Query(ctx, "nearby_locations",
		lat, lng, q.ExcludeUserID, q.InactiveAfter.Seconds(), q.RadiusMeters, q.Limit)
	if err != nil {
		return nil, fmt.Errorf("nearby search: %w", err)
	}
	defer rows.Close()

	var nearby []location.NearbyUser
	for rows.Next() {
		var n location.NearbyUser
		if err := rows.Scan(&n.UserID, &n.DistanceMeters, &n.LastUpdated); err != nil {
			return nil, fmt.Errorf("scan nearby row: %w", err)
		}
		nearby = append(nearby, n)
	}
	return nearby, rows.Err()
}

// RemoveStale deletes records older than the retention window and reports
// how many were removed.
func (p *Postgres) RemoveStale(ctx context.Context, olderThan time.Duration) (int64, error) {
	tag, err := p.pool.Exec(ctx, "cleanup_stale_locations", olderThan.Seconds())
	if err != nil {
		return 0, fmt.Errorf("cleanup stale locations: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Stats returns the total and recently-active record counts.
func (p *Postgres) Stats(ctx context.Context, activeWithin time.Duration) (total, active int64, err error) {
	err = p.pool.QueryRow(ctx, "location_stats", activeWithin.Seconds()).Scan(&total, &active)
	if err != nil {
		return 0, 0, fmt.Errorf("location stats: %w", err)
	}
	return total, active, nil
}
