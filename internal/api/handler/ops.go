// Package handler provides HTTP handlers for the aqfield API.
package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/aqfield/aqfield/internal/api/models"
	"github.com/aqfield/aqfield/internal/api/response"
	"github.com/aqfield/aqfield/internal/store"
)

// Pinger checks a dependency.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthReporter reports the circuit state of a guarded dependency.
type HealthReporter interface {
	Health() store.Health
}

// OpsConfig holds configuration for the ops handler.
type OpsConfig struct {
	Version   string
	BuildTime string

	// Store is pinged by the readiness check. Nil skips the check.
	Store Pinger

	// Breaker reports the store circuit. Nil skips it.
	Breaker HealthReporter

	// PingTimeout bounds the readiness ping (default: 2 seconds).
	PingTimeout time.Duration
}

// OpsHandler handles operational endpoints.
type OpsHandler struct {
	cfg OpsConfig
}

// NewOpsHandler creates a new OpsHandler.
func NewOpsHandler(cfg OpsConfig) *OpsHandler {
	if cfg.PingTimeout == 0 {
		cfg.PingTimeout = 2 * time.Second
	}
	return &OpsHandler{cfg: cfg}
}

// HealthCheck handles GET /v1/ops/health - liveness check.
func (h *OpsHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	response.JSON(w, r, http.StatusOK, models.Health{
		Status: models.HealthStatusOK,
		Time:   models.Timestamp(time.Now()),
		Details: map[string]any{
			"version":   h.cfg.Version,
			"buildTime": h.cfg.BuildTime,
		},
	})
}

// ReadinessCheck handles GET /v1/ops/ready - responds 503 when the store is unreachable.
func (h *OpsHandler) ReadinessCheck(w http.ResponseWriter, r *http.Request) {
	health := models.Health{
		Status: models.HealthStatusOK,
		Time:   models.Timestamp(time.Now()),
	}

	if h.cfg.Store != nil {
		ctx, cancel := context.WithTimeout(r.Context(), h.cfg.PingTimeout)
		defer cancel()

		check := models.Check{Name: "store", Status: models.HealthStatusOK}
		if err := h.cfg.Store.Ping(ctx); err != nil {
			check.Status = models.HealthStatusFail
			check.Detail = err.Error()
			health.Status = models.HealthStatusFail
		}
		health.Checks = append(health.Checks, check)
	}

	if h.cfg.Breaker != nil {
		state := h.cfg.Breaker.Health()
		check := models.Check{Name: "store-circuit", Status: models.HealthStatusOK, Detail: state.CircuitState.String()}
		switch {
		case state.IsDegraded():
			check.Status = models.HealthStatusDegraded
		case !state.IsHealthy():
			check.Status = models.HealthStatusFail
		}
		if check.Status != models.HealthStatusOK && health.Status == models.HealthStatusOK {
			health.Status = models.HealthStatusDegraded
		}
		health.Checks = append(health.Checks, check)
	}

	status := http.StatusOK
	if health.Status == models.HealthStatusFail {
		status = http.StatusServiceUnavailable
	}
	response.JSON(w, r, status, health)
}
