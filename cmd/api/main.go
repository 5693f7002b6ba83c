// Command api is the Proximity GPS API server.
//
// Usage:
//
//	proximity-api
//	API_PORT=8080 proximity-api

// @title Proximity GPS API
// @version 1.0.0
// @description Ingests periodic device location reports, tracks which users are persistently near each other, and pushes rate-limited proximity alerts via FCM.
// @host localhost:8080
// @BasePath /
// @schemes http https
// @license.name MIT
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/joho/godotenv"

	"github.com/nearping/proximity-api/internal/api"
	"github.com/nearping/proximity-api/internal/config"
	"github.com/nearping/proximity-api/internal/db"
	"github.com/nearping/proximity-api/internal/location"
	"github.com/nearping/proximity-api/internal/maintenance"
	"github.com/nearping/proximity-api/internal/notifications"
	"github.com/nearping/proximity-api/internal/store"

	_ "github.com/nearping/proximity-api/docs" // swagger docs
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	// Load .env if present
	_ = godotenv.Load(".env")

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	// Context with signal handling
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	// Connect to database
	logger.Info("Connecting to database...")
	pool, err := db.New(ctx, cfg)
	if err != nil {
		logger.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()
	logger.Info("Database connected",
		"min_conns", cfg.DBPoolMinConns,
		"max_conns", cfg.DBPoolMaxConns)

	// Initialize schema
	locations := store.NewPostgres(pool)
	if err := locations.InitSchema(ctx); err != nil {
		logger.Error("Failed to initialize schema", "error", err)
		os.Exit(1)
	}

	// FCM sender (nil when FIREBASE_CREDENTIALS_FILE is unset)
	fcmSender, err := notifications.NewFCMSender(ctx, cfg.FCMCredentialsFile, cfg.RadiusMeters, logger)
	if err != nil {
		logger.Error("Failed to initialize FCM sender", "error", err)
		os.Exit(1)
	}
	var notifier location.Notifier
	if fcmSender != nil {
		notifier = fcmSender
		logger.Info("Proximity alert dispatch enabled")
	} else {
		logger.Info("Proximity alert dispatch disabled (no FIREBASE_CREDENTIALS_FILE)")
	}

	// Location ingest service
	engine := location.Engine{
		Threshold: cfg.ConsecutiveThreshold,
		Cooldown:  cfg.NotificationCooldown,
	}
	params := location.Params{
		RadiusMeters:         cfg.RadiusMeters,
		MaxGPSAccuracyMeters: cfg.MaxGPSAccuracyMeters,
		InactiveAfter:        cfg.InactiveAfter,
		NearbyLimit:          cfg.NearbyLimit,
	}
	svc := location.NewService(locations, locations, notifier, engine, params, logger)

	// Start maintenance tickers (stale record cleanup)
	go maintenance.Start(ctx, locations, maintenance.Config{
		CleanupInterval: cfg.CleanupInterval,
		Retention:       cfg.RetentionWindow,
	}, logger)

	// Create router
	router := api.NewRouter(svc, locations, pool, cfg, logger)

	// Create HTTP server
	addr := fmt.Sprintf("%s:%d", cfg.APIHost, cfg.APIPort)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in background
	go func() {
		logger.Info("Starting Proximity GPS API",
			"addr", addr,
			"environment", cfg.Environment,
			"radius_m", cfg.RadiusMeters,
			"docs", fmt.Sprintf("http://localhost:%d/docs/", cfg.APIPort))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt
	<-ctx.Done()
	logger.Info("Shutting down...")

	// Graceful shutdown with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Shutdown error", "error", err)
	}
	logger.Info("Server stopped")
}
