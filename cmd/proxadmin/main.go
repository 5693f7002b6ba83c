// Command proxadmin is the Proximity GPS admin CLI.
//
// Usage:
//
//	proxadmin cleanup --retention 24h
//	proxadmin stats
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/nearping/proximity-api/internal/config"
	"github.com/nearping/proximity-api/internal/db"
	"github.com/nearping/proximity-api/internal/store"
)

var logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

func main() {
	// Load .env if present
	_ = godotenv.Load(".env")

	root := &cobra.Command{
		Use:   "proxadmin",
		Short: "Proximity GPS admin CLI",
	}

	root.AddCommand(cleanupCmd())
	root.AddCommand(statsCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// --------------------------------------------------------------------------
// cleanup command
// --------------------------------------------------------------------------

func cleanupCmd() *cobra.Command {
	var retention time.Duration
	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Remove stale location records once and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(func(ctx context.Context, cfg *config.Config, locations *store.Postgres) error {
				start := time.Now()
				removed, err := locations.RemoveStale(ctx, retention)
				if err != nil {
					return err
				}
				logger.Info("Cleanup finished",
					"removed", removed,
					"retention", retention,
					"duration", time.Since(start).Round(time.Millisecond))
				return nil
			})
		},
	}
	cmd.Flags().DurationVar(&retention, "retention", 24*time.Hour, "Remove records not updated within this window")
	return cmd
}

// --------------------------------------------------------------------------
// stats command
// --------------------------------------------------------------------------

func statsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show location record counts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(func(ctx context.Context, cfg *config.Config, locations *store.Postgres) error {
				activeWithin := cfg.InactiveAfter
				total, active, err := locations.Stats(ctx, activeWithin)
				if err != nil {
					return err
				}
				logger.Info("Location records",
					"total", total,
					"active", active,
					"active_within", activeWithin)
				return nil
			})
		},
	}
	return cmd
}

// --------------------------------------------------------------------------
// Helpers
// --------------------------------------------------------------------------

func withStore(fn func(ctx context.Context, cfg *config.Config, locations *store.Postgres) error) error {
	cfg, err := config.Load()
	if err != nil {
		logger.Error("Failed to load configuration", "error", err)
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	pool, err := db.New(ctx, cfg)
	if err != nil {
		logger.Error("Failed to connect to database", "error", err)
		return err
	}
	defer pool.Close()

	if err := fn(ctx, cfg, store.NewPostgres(pool)); err != nil {
		logger.Error("Command failed", "error", err)
		return err
	}
	return nil
}
