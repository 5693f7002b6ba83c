// Package location implements the proximity detection core: per-user
// location records, the hysteresis engine that debounces noisy nearby
// detections into alert decisions, and the ingest service that ties
// validation, storage, nearby searches and alert dispatch together.
//
// Pipeline per report: validate → accuracy gate → read counters → upsert
// coordinates → nearby search → hysteresis → conditional counter commit →
// best-effort alert dispatch.
package location

import (
	"context"
	"time"
)

// --------------------------------------------------------------------------
// Types
// --------------------------------------------------------------------------

// Record is the stored proximity state for one user. The zero value (with
// UserID set) is the pre-first-report default.
type Record struct {
	UserID         string
	Latitude       float64
	Longitude      float64
	LastUpdated    time.Time
	ProximityCount int
	LastNotifiedAt *time.Time
	// Version increments on every counter commit and backs the
	// compare-and-swap discipline in Store.WriteCounters.
	Version int64
}

// Report is a single incoming device location fix.
type Report struct {
	UserID string
	Lat    float64
	Lng    float64
	// Accuracy is the reported horizontal GPS accuracy in meters.
	// Nil means the device did not report one.
	Accuracy *float64
}

// NearbyUser is one entry in a nearby search result.
type NearbyUser struct {
	UserID         string    `json:"userId"`
	DistanceMeters float64   `json:"distanceMeters"`
	LastUpdated    time.Time `json:"lastUpdated"`
}

// Outcome is the result of processing an accepted (non-erroring) report.
type Outcome struct {
	// Ignored is true when the accuracy gate rejected the fix. No state
	// was touched and the remaining fields are zero.
	Ignored        bool
	Nearby         []NearbyUser
	ProximityCount int
	Notified       bool
}

// NearbyQuery bundles the tuning parameters of a nearby search.
type NearbyQuery struct {
	RadiusMeters  float64
	ExcludeUserID string
	InactiveAfter time.Duration
	Limit         int
}

// --------------------------------------------------------------------------
// Ports
// --------------------------------------------------------------------------

// Store is the proximity state store. Reports for the same user race on the
// read → search → write sequence; WriteCounters detects lost updates via the
// record version so no commit silently discards a transition computed from a
// newer read.
type Store interface {
	// ReadOrDefault returns the stored record, or a zero record with
	// version 0 when the user has never reported.
	ReadOrDefault(ctx context.Context, userID string) (Record, error)

	// UpsertCoordinates creates or refreshes the coordinate fields without
	// touching counters or the CAS version.
	UpsertCoordinates(ctx context.Context, userID string, lat, lng float64, now time.Time) error

	// WriteCounters commits the hysteresis output if the record version
	// still matches expectedVersion. Returns ErrVersionConflict otherwise.
	// The commit is atomic: no partial field update is ever visible.
	WriteCounters(ctx context.Context, userID string, expectedVersion int64, count int, notifiedAt *time.Time) error
}

// NearbyQuerier finds active users within a radius of a point, excluding
// the reporting user. Read-only with respect to the store.
type NearbyQuerier interface {
	FindNearby(ctx context.Context, lat, lng float64, q NearbyQuery) ([]NearbyUser, error)
}

// Notifier delivers a proximity alert. Delivery is best effort; callers log
// failures instead of propagating them.
type Notifier interface {
	SendProximityAlert(ctx context.Context, userID string, nearby []NearbyUser) error
}

// StaleSweeper removes records that have not been updated within the
// retention window. Implemented by the store adapters and driven by the
// maintenance ticker, the DELETE /cleanup endpoint and the admin CLI.
type StaleSweeper interface {
	RemoveStale(ctx context.Context, olderThan time.Duration) (int64, error)
}
