package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nearping/proximity-api/internal/api"
	"github.com/nearping/proximity-api/internal/config"
	"github.com/nearping/proximity-api/internal/location"
	"github.com/nearping/proximity-api/internal/store"
)

// fixedQuerier stands in for the external proximity search.
type fixedQuerier struct {
	result []location.NearbyUser
}

func (f *fixedQuerier) FindNearby(ctx context.Context, lat, lng float64, q location.NearbyQuery) ([]location.NearbyUser, error) {
	return f.result, nil
}

type testEnv struct {
	router http.Handler
	mem    *store.Memory
	q      *fixedQuerier
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	mem := store.NewMemory()
	q := &fixedQuerier{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := location.NewService(mem, q, nil, location.DefaultEngine(), location.DefaultParams(), logger)

	cfg := &config.Config{
		RateLimitEnabled: false,
		RetentionWindow:  24 * time.Hour,
	}

	return &testEnv{
		router: api.NewRouter(svc, mem, nil, cfg, logger),
		mem:    mem,
		q:      q,
	}
}

func (e *testEnv) do(t *testing.T, method, target string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, target, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	rr := httptest.NewRecorder()
	e.router.ServeHTTP(rr, req)
	return rr
}

func decode(t *testing.T, rr *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &out))
	return out
}

func TestUpdateLocationRejectsBadUserID(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(t, http.MethodPost, "/location/update",
		map[string]interface{}{"userId": "a b", "lat": 1.0, "lng": 2.0})

	assert.Equal(t, http.StatusBadRequest, rr.Code)
	body := decode(t, rr)
	assert.Equal(t, false, body["success"])
	assert.NotEmpty(t, body["error"])
}

func TestUpdateLocationRequiresCoordinates(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(t, http.MethodPost, "/location/update",
		map[string]interface{}{"userId": "alice"})

	assert.Equal(t, http.StatusBadRequest, rr.Code)
	body := decode(t, rr)
	assert.Equal(t, false, body["success"])
}

func TestUpdateLocationIgnoresPoorAccuracy(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(t, http.MethodPost, "/location/update",
		map[string]interface{}{"userId": "alice", "lat": 1.0, "lng": 2.0, "accuracy": 120.0})

	assert.Equal(t, http.StatusOK, rr.Code)
	body := decode(t, rr)
	assert.Equal(t, false, body["success"])
	assert.Equal(t, "Location ignored due to poor accuracy", body["message"])
	assert.Empty(t, body["nearby"])

	// The gate fired before any state change.
	rec, err := env.mem.ReadOrDefault(context.Background(), "alice")
	require.NoError(t, err)
	assert.True(t, rec.LastUpdated.IsZero())
}

func TestUpdateLocationDebounce(t *testing.T) {
	env := newTestEnv(t)
	env.q.result = []location.NearbyUser{
		{UserID: "bob", DistanceMeters: 12.3, LastUpdated: time.Now().UTC()},
	}
	report := map[string]interface{}{"userId": "alice", "lat": 40.7128, "lng": -74.0060}

	rr := env.do(t, http.MethodPost, "/location/update", report)
	require.Equal(t, http.StatusOK, rr.Code)
	body := decode(t, rr)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, float64(1), body["proximityCount"])
	assert.Equal(t, false, body["notified"])

	rr = env.do(t, http.MethodPost, "/location/update", report)
	require.Equal(t, http.StatusOK, rr.Code)
	body = decode(t, rr)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, float64(2), body["proximityCount"])
	assert.Equal(t, true, body["notified"])

	nearby, ok := body["nearby"].([]interface{})
	require.True(t, ok)
	require.Len(t, nearby, 1)
	entry := nearby[0].(map[string]interface{})
	assert.Equal(t, "bob", entry["userId"])
	assert.Equal(t, 12.3, entry["distanceMeters"])
	assert.NotEmpty(t, entry["lastUpdated"])
}

func TestGetNearby(t *testing.T) {
	env := newTestEnv(t)
	env.q.result = []location.NearbyUser{
		{UserID: "bob", DistanceMeters: 30, LastUpdated: time.Now().UTC()},
	}

	rr := env.do(t, http.MethodGet, "/location/nearby?userId=alice&lat=40.7&lng=-74.0", nil)
	require.Equal(t, http.StatusOK, rr.Code)

	body := decode(t, rr)
	users, ok := body["users"].([]interface{})
	require.True(t, ok)
	assert.Len(t, users, 1)
}

func TestGetNearbyValidation(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(t, http.MethodGet, "/location/nearby?userId=alice&lat=abc&lng=-74.0", nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = env.do(t, http.MethodGet, "/location/nearby?userId=!!&lat=40.7&lng=-74.0", nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestCleanup(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, env.mem.UpsertCoordinates(ctx, "old", 1, 2, now.Add(-48*time.Hour)))
	require.NoError(t, env.mem.UpsertCoordinates(ctx, "fresh", 3, 4, now))

	rr := env.do(t, http.MethodDelete, "/cleanup", nil)
	require.Equal(t, http.StatusOK, rr.Code)

	body := decode(t, rr)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, float64(1), body["removed"])

	rec, err := env.mem.ReadOrDefault(ctx, "fresh")
	require.NoError(t, err)
	assert.False(t, rec.LastUpdated.IsZero())
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rr.Code)

	// No database wired in tests: readiness must report unavailable.
	rr = env.do(t, http.MethodGet, "/health/db", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
}
