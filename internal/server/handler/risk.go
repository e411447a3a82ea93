package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/stuartoffabean/sentinel/internal/domain"
)

// RiskControl is the slice of the risk machine the API can drive.
type RiskControl interface {
	RiskReader
	ResetBreaker(ctx context.Context)
	SetAutoExecute(enabled bool)
}

// BudgetReader exposes deployed capital per strategy.
type BudgetReader interface {
	Deployed() map[string]float64
}

// AlertSource returns recent operator alerts, newest first.
type AlertSource interface {
	Recent(limit int) []domain.Alert
}

// RiskHandler serves the risk state and its operator controls.
type RiskHandler struct {
	risk   RiskControl
	budget BudgetReader
	alerts AlertSource
}

// NewRiskHandler creates a RiskHandler. alerts may be nil.
func NewRiskHandler(risk RiskControl, budget BudgetReader, alerts AlertSource) *RiskHandler {
	return &RiskHandler{risk: risk, budget: budget, alerts: alerts}
}

// Get returns the full risk snapshot and deployed budget.
// GET /api/risk
func (h *RiskHandler) Get(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"state":           h.risk.State(),
		"budget_deployed": h.budget.Deployed(),
	})
}

// ResetBreaker clears a tripped circuit breaker and re-baselines drawdown.
// POST /api/risk/breaker/reset
func (h *RiskHandler) ResetBreaker(w http.ResponseWriter, r *http.Request) {
	h.risk.ResetBreaker(r.Context())
	writeJSON(w, http.StatusOK, h.risk.State())
}

// SetAutoExecute toggles automated opportunity execution. Enabling is
// silently refused while emergency mode holds execution off; the returned
// state shows the outcome.
// POST /api/risk/autoexec
func (h *RiskHandler) SetAutoExecute(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Enabled bool `json:"enabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	h.risk.SetAutoExecute(body.Enabled)
	writeJSON(w, http.StatusOK, h.risk.State())
}

// Alerts returns recent operator alerts.
// GET /api/alerts
func (h *RiskHandler) Alerts(w http.ResponseWriter, r *http.Request) {
	limit := queryLimit(r, 50, 200)
	var alerts []domain.Alert
	if h.alerts != nil {
		alerts = h.alerts.Recent(limit)
	}
	writeJSON(w, http.StatusOK, map[string]any{"alerts": alerts})
}
