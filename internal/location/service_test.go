package location_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nearping/proximity-api/internal/location"
	"github.com/nearping/proximity-api/internal/store"
)

// stubQuerier returns a canned nearby result, standing in for the external
// proximity query service.
type stubQuerier struct {
	result []location.NearbyUser
	err    error
	last   location.NearbyQuery
}

func (s *stubQuerier) FindNearby(ctx context.Context, lat, lng float64, q location.NearbyQuery) ([]location.NearbyUser, error) {
	s.last = q
	return s.result, s.err
}

// recordingNotifier captures dispatched alerts on a channel so tests can
// wait for the detached dispatch goroutine.
type recordingNotifier struct {
	calls chan string
	err   error
}

func newRecordingNotifier() *recordingNotifier {
	return &recordingNotifier{calls: make(chan string, 8)}
}

func (n *recordingNotifier) SendProximityAlert(ctx context.Context, userID string, nearby []location.NearbyUser) error {
	n.calls <- userID
	return n.err
}

// conflictStore wraps a Store and fails the first n counter writes with a
// version conflict.
type conflictStore struct {
	location.Store
	conflicts int
}

func (c *conflictStore) WriteCounters(ctx context.Context, userID string, expectedVersion int64, count int, notifiedAt *time.Time) error {
	if c.conflicts > 0 {
		c.conflicts--
		return location.ErrVersionConflict
	}
	return c.Store.WriteCounters(ctx, userID, expectedVersion, count, notifiedAt)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestService(st location.Store, q location.NearbyQuerier, n location.Notifier) *location.Service {
	return location.NewService(st, q, n, location.DefaultEngine(), location.DefaultParams(), testLogger())
}

func oneNearby() []location.NearbyUser {
	return []location.NearbyUser{
		{UserID: "bob", DistanceMeters: 42.5, LastUpdated: time.Now().UTC()},
	}
}

func TestHandleReportRejectsMalformedInput(t *testing.T) {
	mem := store.NewMemory()
	svc := newTestService(mem, &stubQuerier{}, nil)
	ctx := context.Background()

	_, err := svc.HandleReport(ctx, location.Report{UserID: "x", Lat: 1, Lng: 2})
	require.Error(t, err)
	assert.True(t, location.IsValidation(err))

	// Nothing was written
	rec, err := mem.ReadOrDefault(ctx, "x")
	require.NoError(t, err)
	assert.True(t, rec.LastUpdated.IsZero())
}

func TestHandleReportAccuracyGate(t *testing.T) {
	mem := store.NewMemory()
	q := &stubQuerier{}
	svc := newTestService(mem, q, nil)
	ctx := context.Background()

	// Establish a record with a good fix.
	_, err := svc.HandleReport(ctx, location.Report{UserID: "alice", Lat: 40.7128, Lng: -74.0060})
	require.NoError(t, err)
	before, err := mem.ReadOrDefault(ctx, "alice")
	require.NoError(t, err)

	// A poor fix is ignored and leaves the record untouched.
	poor := 51.0
	outcome, err := svc.HandleReport(ctx, location.Report{UserID: "alice", Lat: 0, Lng: 0, Accuracy: &poor})
	require.NoError(t, err)
	assert.True(t, outcome.Ignored)
	assert.Empty(t, outcome.Nearby)
	assert.False(t, outcome.Notified)

	after, err := mem.ReadOrDefault(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestHandleReportAccuracyAtLimitAccepted(t *testing.T) {
	mem := store.NewMemory()
	svc := newTestService(mem, &stubQuerier{}, nil)

	// Exactly 50 m is still acceptable; only worse fixes are gated.
	limit := 50.0
	outcome, err := svc.HandleReport(context.Background(),
		location.Report{UserID: "alice", Lat: 40.7128, Lng: -74.0060, Accuracy: &limit})
	require.NoError(t, err)
	assert.False(t, outcome.Ignored)
}

func TestHandleReportDebounceSequence(t *testing.T) {
	mem := store.NewMemory()
	q := &stubQuerier{result: oneNearby()}
	svc := newTestService(mem, q, nil)
	ctx := context.Background()
	report := location.Report{UserID: "alice", Lat: 40.7128, Lng: -74.0060}

	// First detection: below threshold, no alert.
	outcome, err := svc.HandleReport(ctx, report)
	require.NoError(t, err)
	assert.Equal(t, 1, outcome.ProximityCount)
	assert.False(t, outcome.Notified)
	assert.Len(t, outcome.Nearby, 1)

	// Second consecutive detection: threshold reached, alert fires.
	outcome, err = svc.HandleReport(ctx, report)
	require.NoError(t, err)
	assert.Equal(t, 2, outcome.ProximityCount)
	assert.True(t, outcome.Notified)

	// Third detection: saturated, still within cooldown, no alert.
	outcome, err = svc.HandleReport(ctx, report)
	require.NoError(t, err)
	assert.Equal(t, 2, outcome.ProximityCount)
	assert.False(t, outcome.Notified)

	notifiedAt := mustRead(t, mem, "alice").LastNotifiedAt
	require.NotNil(t, notifiedAt)

	// A miss resets the counter but keeps the notification time.
	q.result = nil
	outcome, err = svc.HandleReport(ctx, report)
	require.NoError(t, err)
	assert.Equal(t, 0, outcome.ProximityCount)
	assert.False(t, outcome.Notified)

	rec := mustRead(t, mem, "alice")
	assert.Equal(t, 0, rec.ProximityCount)
	require.NotNil(t, rec.LastNotifiedAt)
	assert.Equal(t, *notifiedAt, *rec.LastNotifiedAt)
}

func TestHandleReportQueryExcludesReporter(t *testing.T) {
	mem := store.NewMemory()
	q := &stubQuerier{}
	svc := newTestService(mem, q, nil)

	_, err := svc.HandleReport(context.Background(),
		location.Report{UserID: "alice", Lat: 1, Lng: 2})
	require.NoError(t, err)

	assert.Equal(t, "alice", q.last.ExcludeUserID)
	assert.Equal(t, 100.0, q.last.RadiusMeters)
	assert.Equal(t, 120*time.Second, q.last.InactiveAfter)
	assert.Equal(t, 10, q.last.Limit)
}

func TestHandleReportDispatchesAlert(t *testing.T) {
	mem := store.NewMemory()
	notifier := newRecordingNotifier()
	svc := newTestService(mem, &stubQuerier{result: oneNearby()}, notifier)
	ctx := context.Background()
	report := location.Report{UserID: "alice", Lat: 40.7128, Lng: -74.0060}

	_, err := svc.HandleReport(ctx, report)
	require.NoError(t, err)

	outcome, err := svc.HandleReport(ctx, report)
	require.NoError(t, err)
	require.True(t, outcome.Notified)

	select {
	case userID := <-notifier.calls:
		assert.Equal(t, "alice", userID)
	case <-time.After(2 * time.Second):
		t.Fatal("expected an alert dispatch")
	}
}

func TestHandleReportNotifierFailureNotSurfaced(t *testing.T) {
	mem := store.NewMemory()
	notifier := newRecordingNotifier()
	notifier.err = errors.New("fcm unavailable")
	svc := newTestService(mem, &stubQuerier{result: oneNearby()}, notifier)
	ctx := context.Background()
	report := location.Report{UserID: "alice", Lat: 40.7128, Lng: -74.0060}

	_, err := svc.HandleReport(ctx, report)
	require.NoError(t, err)

	outcome, err := svc.HandleReport(ctx, report)
	require.NoError(t, err, "a delivery failure must not fail the request")
	assert.True(t, outcome.Notified)

	select {
	case <-notifier.calls:
	case <-time.After(2 * time.Second):
		t.Fatal("expected a dispatch attempt")
	}
}

func TestHandleReportRetriesOnConflict(t *testing.T) {
	mem := store.NewMemory()
	st := &conflictStore{Store: mem, conflicts: 1}
	svc := newTestService(st, &stubQuerier{result: oneNearby()}, nil)

	outcome, err := svc.HandleReport(context.Background(),
		location.Report{UserID: "alice", Lat: 40.7128, Lng: -74.0060})
	require.NoError(t, err)
	assert.Equal(t, 1, outcome.ProximityCount)
	assert.Equal(t, 1, mustRead(t, mem, "alice").ProximityCount)
}

func TestHandleReportPersistentConflictEscalates(t *testing.T) {
	mem := store.NewMemory()
	st := &conflictStore{Store: mem, conflicts: 2}
	svc := newTestService(st, &stubQuerier{result: oneNearby()}, nil)

	_, err := svc.HandleReport(context.Background(),
		location.Report{UserID: "alice", Lat: 40.7128, Lng: -74.0060})
	require.Error(t, err)
	assert.False(t, location.IsValidation(err))

	var upstream *location.UpstreamError
	assert.ErrorAs(t, err, &upstream)
}

func TestHandleReportSurfacesQuerierFailure(t *testing.T) {
	mem := store.NewMemory()
	q := &stubQuerier{err: errors.New("search backend down")}
	svc := newTestService(mem, q, nil)

	_, err := svc.HandleReport(context.Background(),
		location.Report{UserID: "alice", Lat: 1, Lng: 2})
	require.Error(t, err)

	var upstream *location.UpstreamError
	require.ErrorAs(t, err, &upstream)
	assert.Equal(t, "nearby search", upstream.Op)

	// The decision was never committed.
	assert.Equal(t, 0, mustRead(t, mem, "alice").ProximityCount)
}

func TestNearby(t *testing.T) {
	q := &stubQuerier{result: oneNearby()}
	svc := newTestService(store.NewMemory(), q, nil)
	ctx := context.Background()

	_, err := svc.Nearby(ctx, "no spaces allowed", 1, 2)
	require.Error(t, err)
	assert.True(t, location.IsValidation(err))

	users, err := svc.Nearby(ctx, "alice", 1, 2)
	require.NoError(t, err)
	assert.Len(t, users, 1)
	assert.Equal(t, "alice", q.last.ExcludeUserID)
}

func mustRead(t *testing.T, st location.Store, userID string) location.Record {
	t.Helper()
	rec, err := st.ReadOrDefault(context.Background(), userID)
	require.NoError(t, err)
	return rec
}
