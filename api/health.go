package api

import (
	"context"
	"net/http"

	"github.com/malwarebo/cashback/monitoring"
)

type HealthReporter interface {
	GetHealth(ctx context.Context) monitoring.SystemHealth
}

type HealthHandler struct {
	health HealthReporter
}

func CreateHealthHandler(health HealthReporter) *HealthHandler {
	return &HealthHandler{health: health}
}

func (h *HealthHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	health := h.health.GetHealth(r.Context())

	status := http.StatusOK
	if health.Status == monitoring.Unhealthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, health)
}
