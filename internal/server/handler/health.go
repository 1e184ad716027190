package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/breakoutlab/tradecore/internal/domain"
)

// HealthService exposes the recovery system's health summary.
type HealthService interface {
	Health() domain.SystemHealth
}

// HealthHandler serves the health-check endpoint.
type HealthHandler struct {
	health HealthService
	logger *slog.Logger
}

// NewHealthHandler creates a HealthHandler with the provided service and logger.
func NewHealthHandler(health HealthService, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{health: health, logger: logger}
}

// HealthCheck responds with the current system health summary. The endpoint
// stays reachable in every recovery state so operators can inspect an
// emergency-stopped system.
// GET /api/health
func (h *HealthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	health := h.health.Health()

	status := http.StatusOK
	if health.State == domain.RecoveryCritical || health.State == domain.RecoveryEmergency {
		status = http.StatusServiceUnavailable
	}

	writeJSON(w, status, map[string]any{
		"health":    health,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}
