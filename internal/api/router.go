// Package api provides the HTTP API of the aqfield concentration engine.
package api

import (
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/aqfield/aqfield/internal/analysis"
	"github.com/aqfield/aqfield/internal/api/handler"
	"github.com/aqfield/aqfield/internal/api/middleware"
)

// RouterConfig holds configuration for the router.
type RouterConfig struct {
	Version     string
	BuildTime   string
	ServiceName string
	Logger      zerolog.Logger
	Metrics     *middleware.Metrics
	Service     *analysis.Service

	// Store is pinged by the readiness check.
	Store handler.Pinger

	// Breaker reports the store circuit state on the readiness check.
	Breaker handler.HealthReporter

	RequireTLS bool

	// ComputeRateLimit overrides middleware.ComputeRateLimit when set.
	ComputeRateLimit *middleware.RateLimitConfig
}

// NewRouter creates a new chi router with all API routes configured.
func NewRouter(cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = "aqfield-api"
	}

	// Order matters: the request ID must exist before spans and logs are written.
	r.Use(middleware.RequestID)
	r.Use(middleware.Tracing(serviceName))
	if cfg.Metrics != nil {
		r.Use(cfg.Metrics.Middleware())
	}
	r.Use(middleware.Logger(cfg.Logger))
	r.Use(middleware.Recovery(cfg.Logger))
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.RequireTLS(cfg.RequireTLS))

	opsHandler := handler.NewOpsHandler(handler.OpsConfig{
		Version:   cfg.Version,
		BuildTime: cfg.BuildTime,
		Store:     cfg.Store,
		Breaker:   cfg.Breaker,
	})
	pollutantHandler := handler.NewPollutantHandler(cfg.Service, nil)
	gridHandler := handler.NewGridHandler(cfg.Service, cfg.Logger)
	coverageHandler := handler.NewCoverageHandler(cfg.Service, cfg.Logger)
	changeHandler := handler.NewChangeHandler(cfg.Service, cfg.Logger)

	computeLimit := middleware.ComputeRateLimit
	if cfg.ComputeRateLimit != nil {
		computeLimit = *cfg.ComputeRateLimit
	}
	computeRateLimit := middleware.RateLimitByIP(computeLimit)
	standardRateLimit := middleware.RateLimitByIP(middleware.StandardRateLimit)

	r.Route("/v1", func(r chi.Router) {
		r.Route("/ops", func(r chi.Router) {
			r.Get("/health", opsHandler.HealthCheck)
			r.Get("/ready", opsHandler.ReadinessCheck)
		})

		r.Group(func(r chi.Router) {
			r.Use(standardRateLimit)
			r.Get("/pollutants", pollutantHandler.ListPollutants)
			r.Get("/convert", pollutantHandler.Convert)
			r.Get("/coverage", coverageHandler.GetCoverage)
			r.Get("/change", changeHandler.GetChange)
			r.Get("/grids/{runId}", gridHandler.GetGrid)
		})

		r.With(computeRateLimit, middleware.RequireJSON).Post("/grids:compute", gridHandler.ComputeGrid)
	})

	return r
}
