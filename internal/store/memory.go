package store

import (
	"context"
	"sort"
	"sync"
	"time"

	cmap "github.com/orcaman/concurrent-map/v2"

	"github.com/nearping/proximity-api/internal/location"
)

// Memory implements location.Store, location.NearbyQuerier and
// location.StaleSweeper in process memory. Used by tests and for running
// the API without a database.
//
// Records live in a sharded concurrent map keyed by user id; each entry
// carries its own mutex so same-user operations serialize while different
// users never contend. The version discipline matches the Postgres adapter.
type Memory struct {
	records cmap.ConcurrentMap[string, *memoryRecord]
}

type memoryRecord struct {
	mu  sync.Mutex
	rec location.Record
	// set marks that at least one accepted report created the record;
	// unset entries behave as absent.
	set bool
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{records: cmap.New[*memoryRecord]()}
}

func (m *Memory) entry(userID string) *memoryRecord {
	if e, ok := m.records.Get(userID); ok {
		return e
	}
	m.records.SetIfAbsent(userID, &memoryRecord{rec: location.Record{UserID: userID}})
	e, _ := m.records.Get(userID)
	return e
}

// ReadOrDefault returns a copy of the stored record, or the zero record
// with version 0 when the user has never reported.
func (m *Memory) ReadOrDefault(ctx context.Context, userID string) (location.Record, error) {
	e, ok := m.records.Get(userID)
	if !ok {
		return location.Record{UserID: userID}, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.set {
		return location.Record{UserID: userID}, nil
	}
	return cloneRecord(e.rec), nil
}

// UpsertCoordinates creates or refreshes the coordinate fields without
// touching counters or the version.
func (m *Memory) UpsertCoordinates(ctx context.Context, userID string, lat, lng float64, now time.Time) error {
	e := m.entry(userID)

	e.mu.Lock()
	defer e.mu.Unlock()
	e.rec.Latitude = lat
	e.rec.Longitude = lng
	e.rec.LastUpdated = now
	e.set = true
	return nil
}

// WriteCounters commits the hysteresis output if the version still matches.
func (m *Memory) WriteCounters(ctx context.Context, userID string, expectedVersion int64, count int, notifiedAt *time.Time) error {
	e, ok := m.records.Get(userID)
	if !ok {
		return location.ErrVersionConflict
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.set || e.rec.Version != expectedVersion {
		return location.ErrVersionConflict
	}
	e.rec.ProximityCount = count
	if notifiedAt != nil {
		t := *notifiedAt
		e.rec.LastNotifiedAt = &t
	} else {
		e.rec.LastNotifiedAt = nil
	}
	e.rec.Version++
	return nil
}

// FindNearby scans all records and returns active users within the radius,
// nearest first.
func (m *Memory) FindNearby(ctx context.Context, lat, lng float64, q location.NearbyQuery) ([]location.NearbyUser, error) {
	cutoff := time.Now().UTC().Add(-q.InactiveAfter)

	var nearby []location.NearbyUser
	for item := range m.records.IterBuffered() {
		e := item.Val

		e.mu.Lock()
		rec := cloneRecord(e.rec)
		set := e.set
		e.mu.Unlock()

		if !set || rec.UserID == q.ExcludeUserID || !rec.LastUpdated.After(cutoff) {
			continue
		}
		dist := location.Distance(lat, lng, rec.Latitude, rec.Longitude)
		if dist > q.RadiusMeters {
			continue
		}
		nearby = append(nearby, location.NearbyUser{
			UserID:         rec.UserID,
			DistanceMeters: dist,
			LastUpdated:    rec.LastUpdated,
		})
	}

	sort.Slice(nearby, func(i, j int) bool {
		return nearby[i].DistanceMeters < nearby[j].DistanceMeters
	})
	if q.Limit > 0 && len(nearby) > q.Limit {
		nearby = nearby[:q.Limit]
	}
	return nearby, nil
}

// RemoveStale drops records older than the retention window.
func (m *Memory) RemoveStale(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-olderThan)

	var removed int64
	for item := range m.records.IterBuffered() {
		e := item.Val

		e.mu.Lock()
		stale := e.set && e.rec.LastUpdated.Before(cutoff)
		e.mu.Unlock()

		if stale {
			m.records.Remove(item.Key)
			removed++
		}
	}
	return removed, nil
}

func cloneRecord(rec location.Record) location.Record {
	if rec.LastNotifiedAt != nil {
		t := *rec.LastNotifiedAt
		rec.LastNotifiedAt = &t
	}
	return rec
}
