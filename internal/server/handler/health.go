package handler

import (
	"net/http"
	"time"

	"github.com/stuartoffabean/sentinel/internal/domain"
)

// RiskReader exposes the risk snapshot to handlers.
type RiskReader interface {
	State() domain.RiskState
}

// HealthHandler serves the health-check endpoint.
type HealthHandler struct {
	risk RiskReader
}

// NewHealthHandler creates a HealthHandler.
func NewHealthHandler(risk RiskReader) *HealthHandler {
	return &HealthHandler{risk: risk}
}

// HealthCheck reports liveness plus the coarse risk posture.
// GET /api/health
func (h *HealthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	state := h.risk.State()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"ready":     state.Ready,
		"emergency": state.EmergencyMode,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}
