package domain

import "time"

// RiskState is the process-wide risk snapshot. A single instance is owned by
// the risk machine; everything else reads copies.
type RiskState struct {
	DailyStartValue       float64   `json:"daily_start_value"`
	CurrentPortfolioValue float64   `json:"current_portfolio_value"`
	CashBalance           float64   `json:"cash_balance"`
	CashStale             bool      `json:"cash_stale"`
	CircuitBreakerTripped bool      `json:"circuit_breaker_tripped"`
	CircuitBreakerResumeAt time.Time `json:"circuit_breaker_resume_at,omitzero"`
	SurvivalMode          bool      `json:"survival_mode"`
	EmergencyMode         bool      `json:"emergency_mode"`
	AutoExecuteEnabled    bool      `json:"auto_execute_enabled"`
	Ready                 bool      `json:"ready"`
	ReadyAt               time.Time `json:"ready_at,omitzero"`
}

// Alert is an operator notification retained for the API.
type Alert struct {
	ID      string    `json:"id"`
	Kind    string    `json:"kind"`
	Title   string    `json:"title"`
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}
