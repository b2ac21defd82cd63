// Package api provides the HTTP API for RoadPulse.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/roadpulse/roadpulse/internal/api/handler"
	"github.com/roadpulse/roadpulse/internal/api/middleware"
	"github.com/roadpulse/roadpulse/internal/api/response"
)

// SnapshotService is the congestion cache the API serves from.
type SnapshotService interface {
	handler.Snapshots
	handler.SnapshotStatus
}

// RouterConfig holds configuration for the router.
type RouterConfig struct {
	Version     string
	BuildTime   string
	Logger      zerolog.Logger
	ServiceName string
	Metrics     *middleware.Metrics
	Snapshot    SnapshotService
	Registry    handler.ProviderRegistry

	// RequireTLS rejects plain-HTTP requests forwarded by the load balancer.
	RequireTLS bool
	// CORSOrigins lists browser origins allowed to read the API; "*" allows all.
	CORSOrigins []string

	// Zero budgets fall back to middleware.StandardRateLimit and
	// middleware.RefreshRateLimit.
	ReadRateLimit    middleware.RateLimitConfig
	RefreshRateLimit middleware.RateLimitConfig
}

// NewRouter creates a new chi router with all API routes configured.
func NewRouter(cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	// Set default service name if not provided
	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = "roadpulse-api"
	}

	// Global middleware - order matters
	r.Use(middleware.RequestID)            // Generate/propagate request ID first
	r.Use(middleware.Tracing(serviceName)) // Distributed tracing
	if cfg.Metrics != nil {
		r.Use(cfg.Metrics.Middleware()) // HTTP metrics
	}
	r.Use(middleware.Logger(cfg.Logger))   // Structured logging
	r.Use(middleware.Recovery(cfg.Logger)) // Panic recovery
	r.Use(chimiddleware.RealIP)            // Real IP extraction
	r.Use(middleware.SecurityHeaders)      // Security headers (HSTS, CSP, etc.)
	r.Use(middleware.RequireTLS(cfg.RequireTLS))
	r.Use(middleware.CORS(cfg.CORSOrigins))
	r.Use(middleware.DefaultContentType(response.ContentTypeJSON))

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		response.NotFound(w, r, "no route for "+r.URL.Path)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		response.MethodNotAllowed(w, r, r.Method+" is not supported on "+r.URL.Path)
	})

	var status handler.SnapshotStatus
	if cfg.Snapshot != nil {
		status = cfg.Snapshot
	}
	opsHandler := handler.NewOpsHandler(cfg.Version, cfg.BuildTime, status, cfg.Registry)

	readLimit := middleware.RateLimit(cfg.ReadRateLimit.OrDefault(middleware.StandardRateLimit))
	refreshLimit := middleware.RateLimit(cfg.RefreshRateLimit.OrDefault(middleware.RefreshRateLimit))

	r.Route("/v1", func(r chi.Router) {
		r.Route("/ops", func(r chi.Router) {
			r.Get("/health", opsHandler.HealthCheck)
			r.Get("/ready", opsHandler.ReadinessCheck)
			r.Get("/status", opsHandler.SystemStatus)
		})

		if cfg.Snapshot == nil {
			return
		}
		congestionHandler := handler.NewCongestionHandler(cfg.Snapshot, cfg.Logger)

		r.Group(func(r chi.Router) {
			r.Use(readLimit)
			r.With(middleware.Accepts(response.ContentTypeGeoJSON, response.ContentTypeJSON)).
				Get("/congestion", congestionHandler.GetCongestion)
			r.Get("/congestion/segments", congestionHandler.ListSegments)
			r.Get("/congestion/statistics", congestionHandler.GetStatistics)
		})

		// Refresh runs the whole pipeline.
		r.With(refreshLimit).Post("/congestion:refresh", congestionHandler.Refresh)
	})

	return r
}
