// Package handler provides HTTP handlers for all API endpoints. Handlers
// are thin adapters: they translate wire requests into the location
// service's typed calls and its outcomes back into wire responses.
package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/nearping/proximity-api/internal/api/respond"
	"github.com/nearping/proximity-api/internal/config"
	"github.com/nearping/proximity-api/internal/db"
	"github.com/nearping/proximity-api/internal/location"
)

// Handler holds shared dependencies for all endpoint handlers.
type Handler struct {
	svc     *location.Service
	sweeper location.StaleSweeper
	pool    *db.Pool // nil when running without Postgres
	cfg     *config.Config
	logger  *slog.Logger
}

// New creates a Handler with shared dependencies.
func New(svc *location.Service, sweeper location.StaleSweeper, pool *db.Pool, cfg *config.Config, logger *slog.Logger) *Handler {
	return &Handler{
		svc:     svc,
		sweeper: sweeper,
		pool:    pool,
		cfg:     cfg,
		logger:  logger,
	}
}

// Root serves API info at /.
// @Summary API root info
// @Description Returns API name, status, and available endpoints.
// @Tags meta
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Router / [get]
func (h *Handler) Root(w http.ResponseWriter, r *http.Request) {
	respond.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"name":   "Proximity GPS API",
		"status": "running",
		"docs":   "/docs",
		"endpoints": map[string]string{
			"POST /location/update":   "Update user location and check for nearby users",
			"GET /location/nearby":    "Get nearby users for a given location",
			"DELETE /cleanup":         "Remove stale location records",
			"GET /health, /health/db": "Liveness and database readiness",
		},
	})
}

// HealthCheck returns basic health status.
// @Summary Health check
// @Description Returns basic health status and timestamp.
// @Tags health
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Router /health [get]
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	respond.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// HealthCheckDB verifies database connectivity.
// @Summary Database health check
// @Description Verifies Postgres connectivity.
// @Tags health
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Failure 503 {object} map[string]interface{}
// @Router /health/db [get]
func (h *Handler) HealthCheckDB(w http.ResponseWriter, r *http.Request) {
	if h.pool == nil || h.pool.HealthCheck(r.Context()) != nil {
		respond.WriteJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
			"status":    "unhealthy",
			"database":  "disconnected",
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		})
		return
	}
	respond.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"database":  "connected",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}
