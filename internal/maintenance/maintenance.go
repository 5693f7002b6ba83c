// Package maintenance runs periodic background tasks as Go tickers.
// Replaces the external cron that invoked DELETE /cleanup — the sweep is
// driven in-process since the API is already a persistent service. The
// endpoint and admin CLI remain for manual or scheduled invocation.
package maintenance

import (
	"context"
	"log/slog"
	"time"

	"github.com/nearping/proximity-api/internal/location"
)

// Config controls maintenance task intervals. Zero duration disables a task.
type Config struct {
	CleanupInterval time.Duration // stale location record sweep
	Retention       time.Duration // records older than this are removed
}

// DefaultConfig returns sensible production defaults.
func DefaultConfig() Config {
	return Config{
		CleanupInterval: 30 * time.Minute,
		Retention:       24 * time.Hour,
	}
}

// Start launches the configured maintenance tickers. Blocks until ctx is
// cancelled. Intended to be called with `go`.
func Start(ctx context.Context, sweeper location.StaleSweeper, cfg Config, logger *slog.Logger) {
	logger.Info("Maintenance tickers started",
		"cleanup", cfg.CleanupInterval,
		"retention", cfg.Retention)

	if cfg.CleanupInterval > 0 {
		t := time.NewTicker(cfg.CleanupInterval)
		defer t.Stop()
		go runLoop(ctx, t.C, func() { cleanup(ctx, sweeper, cfg.Retention, logger) })
	}

	<-ctx.Done()
	logger.Info("Maintenance tickers stopped")
}

func runLoop(ctx context.Context, ch <-chan time.Time, fn func()) {
	for {
		select {
		case <-ch:
			fn()
		case <-ctx.Done():
			return
		}
	}
}

// cleanup removes location records whose last update is older than the
// retention window. Stale records are already invisible to nearby searches;
// this reclaims the rows.
func cleanup(ctx context.Context, sweeper location.StaleSweeper, retention time.Duration, logger *slog.Logger) {
	removed, err := sweeper.RemoveStale(ctx, retention)
	if err != nil {
		logger.Warn("Cleanup: stale location sweep failed", "error", err)
		return
	}
	if removed > 0 {
		logger.Info("Cleanup: removed stale location records", "count", removed)
	}
}
