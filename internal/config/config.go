// Package config provides centralized configuration loaded from environment
// variables. Shared by both cmd/api and cmd/proxadmin.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// --------------------------------------------------------------------------
// Config struct — populated from environment variables
// --------------------------------------------------------------------------

type Config struct {
	// Database
	DatabaseURL    string
	DBPoolMinConns int
	DBPoolMaxConns int
	DBPoolMaxLife  time.Duration

	// API server
	APIHost     string
	APIPort     int
	Environment string // development, staging, production
	Debug       bool

	// CORS
	CORSAllowOrigins []string

	// Rate limiting
	RateLimitEnabled  bool
	RateLimitRequests int
	RateLimitWindow   time.Duration

	// Push notifications
	FCMCredentialsFile string

	// Proximity engine tuning
	RadiusMeters         float64       // alert radius for nearby searches
	MaxGPSAccuracyMeters float64       // fixes worse than this are ignored
	ConsecutiveThreshold int           // detections required before alerting
	NotificationCooldown time.Duration // minimum gap between alerts per user
	InactiveAfter        time.Duration // records older than this are invisible to searches
	NearbyLimit          int           // max results per nearby search

	// Housekeeping
	RetentionWindow time.Duration // records older than this are swept
	CleanupInterval time.Duration // zero disables the in-process sweeper
}

// Load reads configuration from environment variables with sensible defaults.
func Load() (*Config, error) {
	dbURL := envOr("DATABASE_URL", envOr("SUPABASE_DB_URL", ""))
	if dbURL == "" {
		return nil, fmt.Errorf("DATABASE_URL or SUPABASE_DB_URL must be set")
	}

	return &Config{
		DatabaseURL:    dbURL,
		DBPoolMinConns: envInt("DB_POOL_MIN_CONNS", 2),
		DBPoolMaxConns: envInt("DB_POOL_MAX_CONNS", 10),
		DBPoolMaxLife:  time.Duration(envInt("DB_POOL_MAX_LIFE_MINUTES", 30)) * time.Minute,

		APIHost:     envOr("API_HOST", "0.0.0.0"),
		APIPort:     envInt("API_PORT", envInt("PORT", 8080)),
		Environment: envOr("ENVIRONMENT", "development"),
		Debug:       envBool("DEBUG", false),

		CORSAllowOrigins: envList("CORS_ALLOW_ORIGINS", []string{
			"http://localhost:3000",
			"http://localhost:19006",
		}),

		RateLimitEnabled:  envBool("RATE_LIMIT_ENABLED", true),
		RateLimitRequests: envInt("RATE_LIMIT_REQUESTS", 120),
		RateLimitWindow:   time.Duration(envInt("RATE_LIMIT_WINDOW", 60)) * time.Second,

		FCMCredentialsFile: envOr("FIREBASE_CREDENTIALS_FILE", ""),

		RadiusMeters:         envFloat("PROXIMITY_RADIUS_METERS", 100),
		MaxGPSAccuracyMeters: envFloat("MAX_GPS_ACCURACY_METERS", 50),
		ConsecutiveThreshold: envInt("CONSECUTIVE_THRESHOLD", 2),
		NotificationCooldown: time.Duration(envInt("NOTIFICATION_COOLDOWN_SECONDS", 60)) * time.Second,
		InactiveAfter:        time.Duration(envInt("INACTIVE_AFTER_SECONDS", 120)) * time.Second,
		NearbyLimit:          envInt("NEARBY_LIMIT", 10),

		RetentionWindow: time.Duration(envInt("RETENTION_WINDOW_MINUTES", 24*60)) * time.Minute,
		CleanupInterval: time.Duration(envInt("CLEANUP_INTERVAL_MINUTES", 30)) * time.Minute,
	}, nil
}

// IsProduction returns true if running in production environment.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// --------------------------------------------------------------------------
// Env helpers
// --------------------------------------------------------------------------

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err == nil {
			return b
		}
	}
	return fallback
}

func envList(key string, fallback []string) []string {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				result = append(result, trimmed)
			}
		}
		if len(result) > 0 {
			return result
		}
	}
	return fallback
}
