// Package api wires the HTTP surface: router, middleware and handlers.
package api

import (
	"log/slog"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	corslib "github.com/rs/cors"
	httpSwagger "github.com/swaggo/http-swagger/v2"

	"github.com/nearping/proximity-api/internal/api/handler"
	"github.com/nearping/proximity-api/internal/config"
	"github.com/nearping/proximity-api/internal/db"
	"github.com/nearping/proximity-api/internal/location"
)

// NewRouter creates and configures the Chi router with all middleware and
// routes. Both the report ingest and the standalone nearby query are thin
// bindings over the same location service.
func NewRouter(svc *location.Service, sweeper location.StaleSweeper, pool *db.Pool, cfg *config.Config, logger *slog.Logger) *chi.Mux {
	r := chi.NewRouter()

	// --- Middleware stack ---
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(TimingMiddleware)
	r.Use(middleware.Compress(5)) // gzip

	// CORS
	c := corslib.New(corslib.Options{
		AllowedOrigins:   cfg.CORSAllowOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "HEAD", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Accept-Encoding", "Content-Type"},
		ExposedHeaders:   []string{"X-Process-Time", "Retry-After"},
		AllowCredentials: false,
	})
	r.Use(c.Handler)

	// Rate limiting
	if cfg.RateLimitEnabled {
		r.Use(RateLimitMiddleware(cfg.RateLimitRequests, cfg.RateLimitWindow))
	}

	// --- Handler dependencies ---
	h := handler.New(svc, sweeper, pool, cfg, logger)

	// --- Routes ---

	// Root
	r.Get("/", h.Root)

	// Health checks
	r.Route("/health", func(r chi.Router) {
		r.Get("/", h.HealthCheck)
		r.Get("/db", h.HealthCheckDB)
	})

	// Swagger UI
	r.Get("/docs/*", httpSwagger.Handler(
		httpSwagger.URL("/docs/doc.json"),
	))

	// Location endpoints
	r.Route("/location", func(r chi.Router) {
		r.Post("/update", h.UpdateLocation)
		r.Get("/nearby", h.GetNearby)
	})

	// Maintenance
	r.Delete("/cleanup", h.Cleanup)

	return r
}
