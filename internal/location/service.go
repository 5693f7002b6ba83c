package location

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Params tunes the ingest pipeline. All values have spec defaults applied
// by DefaultParams; config overrides flow in from main.
type Params struct {
	RadiusMeters         float64
	MaxGPSAccuracyMeters float64
	InactiveAfter        time.Duration
	NearbyLimit          int
}

// DefaultParams returns the stock ingest tuning.
func DefaultParams() Params {
	return Params{
		RadiusMeters:         100,
		MaxGPSAccuracyMeters: 50,
		InactiveAfter:        120 * time.Second,
		NearbyLimit:          10,
	}
}

// Service is the location ingest orchestrator. One instance is shared by
// all transports; per-request state lives on the stack, so concurrent
// reports for different users proceed fully in parallel. Same-user races
// are resolved by the store's version check.
type Service struct {
	store    Store
	nearby   NearbyQuerier
	notifier Notifier // nil disables alert dispatch
	engine   Engine
	params   Params
	logger   *slog.Logger
}

// NewService wires the orchestrator. notifier may be nil when push delivery
// is not configured.
func NewService(store Store, nearby NearbyQuerier, notifier Notifier, engine Engine, params Params, logger *slog.Logger) *Service {
	return &Service{
		store:    store,
		nearby:   nearby,
		notifier: notifier,
		engine:   engine,
		params:   params,
		logger:   logger,
	}
}

// HandleReport processes one incoming location fix.
//
// Returns a *ValidationError for malformed input, an *UpstreamError when the
// store or nearby search fails, and an Outcome otherwise. An accuracy-gated
// fix is a successful Outcome with Ignored set — not an error — and leaves
// all state untouched.
func (s *Service) HandleReport(ctx context.Context, r Report) (Outcome, error) {
	if err := ValidateUserID(r.UserID); err != nil {
		return Outcome{}, err
	}
	if err := ValidateCoordinates(r.Lat, r.Lng); err != nil {
		return Outcome{}, err
	}

	// Accuracy gate: poor fixes would pollute both the stored position and
	// the hysteresis counter, so they are dropped before any state change.
	if r.Accuracy != nil && *r.Accuracy > s.params.MaxGPSAccuracyMeters {
		s.logger.Debug("report ignored: poor accuracy",
			"user_id", r.UserID, "accuracy_m", *r.Accuracy)
		return Outcome{Ignored: true, Nearby: []NearbyUser{}}, nil
	}

	now := time.Now().UTC()

	rec, err := s.store.ReadOrDefault(ctx, r.UserID)
	if err != nil {
		return Outcome{}, &UpstreamError{Op: "read location record", Err: err}
	}

	if err := s.store.UpsertCoordinates(ctx, r.UserID, r.Lat, r.Lng, now); err != nil {
		return Outcome{}, &UpstreamError{Op: "upsert coordinates", Err: err}
	}

	nearby, err := s.nearby.FindNearby(ctx, r.Lat, r.Lng, NearbyQuery{
		RadiusMeters:  s.params.RadiusMeters,
		ExcludeUserID: r.UserID,
		InactiveAfter: s.params.InactiveAfter,
		Limit:         s.params.NearbyLimit,
	})
	if err != nil {
		return Outcome{}, &UpstreamError{Op: "nearby search", Err: err}
	}
	detected := len(nearby) > 0

	decision, err := s.commitDecision(ctx, r.UserID, rec, detected, now)
	if err != nil {
		return Outcome{}, err
	}

	if decision.Notify {
		// Detached: the client response waits on dispatch initiation only,
		// and a delivery failure never fails the request.
		go s.dispatchAlert(context.WithoutCancel(ctx), r.UserID, nearby)
	}

	if nearby == nil {
		nearby = []NearbyUser{}
	}
	return Outcome{
		Nearby:         nearby,
		ProximityCount: decision.Count,
		Notified:       decision.Notify,
	}, nil
}

// commitDecision runs the engine and commits its output with the store's
// version check. On a conflict the counters were moved by a concurrent
// report: re-read, re-evaluate against the fresh state (the detection
// result still holds for this report's coordinates) and retry exactly once.
func (s *Service) commitDecision(ctx context.Context, userID string, rec Record, detected bool, now time.Time) (Decision, error) {
	decision := s.engine.Evaluate(rec.ProximityCount, rec.LastNotifiedAt, detected, now)

	err := s.store.WriteCounters(ctx, userID, rec.Version, decision.Count, decision.NotifiedAt)
	if errors.Is(err, ErrVersionConflict) {
		s.logger.Warn("counter write conflict, retrying from fresh read", "user_id", userID)

		rec, err = s.store.ReadOrDefault(ctx, userID)
		if err != nil {
			return Decision{}, &UpstreamError{Op: "re-read after conflict", Err: err}
		}
		decision = s.engine.Evaluate(rec.ProximityCount, rec.LastNotifiedAt, detected, now)
		err = s.store.WriteCounters(ctx, userID, rec.Version, decision.Count, decision.NotifiedAt)
	}
	if err != nil {
		return Decision{}, &UpstreamError{Op: "commit counters", Err: err}
	}
	return decision, nil
}

// Nearby runs a standalone nearby search for the query endpoint. It shares
// the ingest tuning but mutates nothing.
func (s *Service) Nearby(ctx context.Context, userID string, lat, lng float64) ([]NearbyUser, error) {
	if err := ValidateUserID(userID); err != nil {
		return nil, err
	}
	if err := ValidateCoordinates(lat, lng); err != nil {
		return nil, err
	}

	nearby, err := s.nearby.FindNearby(ctx, lat, lng, NearbyQuery{
		RadiusMeters:  s.params.RadiusMeters,
		ExcludeUserID: userID,
		InactiveAfter: s.params.InactiveAfter,
		Limit:         s.params.NearbyLimit,
	})
	if err != nil {
		return nil, &UpstreamError{Op: "nearby search", Err: err}
	}
	if nearby == nil {
		nearby = []NearbyUser{}
	}
	return nearby, nil
}

// dispatchAlert delivers one proximity alert. Failures are logged with a
// correlation id and swallowed.
func (s *Service) dispatchAlert(ctx context.Context, userID string, nearby []NearbyUser) {
	if s.notifier == nil {
		return
	}

	dispatchID := uuid.NewString()
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := s.notifier.SendProximityAlert(ctx, userID, nearby); err != nil {
		s.logger.Error("proximity alert dispatch failed",
			"dispatch_id", dispatchID, "user_id", userID, "error", err)
		return
	}
	s.logger.Info("proximity alert dispatched",
		"dispatch_id", dispatchID, "user_id", userID, "nearby", len(nearby))
}
