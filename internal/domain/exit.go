package domain

import "time"

// ExitReason enumerates why a position was exited (or abandoned).
type ExitReason string

const (
	ExitStopLoss     ExitReason = "stop_loss"
	ExitTakeProfit   ExitReason = "take_profit"
	ExitTrailingStop ExitReason = "trailing_stop"
	ExitManual       ExitReason = "manual"
	ExitExternal     ExitReason = "external" // closed at the venue (e.g. market resolved)
	ExitAbandoned    ExitReason = "abandoned" // sell ladder exhausted, quarantined
)

// ExitRecord is one append-only audit entry for a completed or permanently
// abandoned exit. Records are never mutated after being logged.
type ExitRecord struct {
	ID          string     `json:"id"`
	AssetID     string     `json:"asset_id"`
	Market      string     `json:"market"`
	Outcome     string     `json:"outcome"`
	Reason      ExitReason `json:"reason"`
	Trigger     string     `json:"trigger"` // which component initiated the exit
	EntryPrice  float64    `json:"entry_price"`
	ExitPrice   float64    `json:"exit_price"`
	Size        float64    `json:"size"`
	CostBasis   float64    `json:"cost_basis"`
	Proceeds    float64    `json:"proceeds"`
	RealizedPnL float64    `json:"realized_pnl"`
	Strategy    string     `json:"strategy"`
	Note        string     `json:"note,omitempty"`
	At          time.Time  `json:"at"`
}

// ExitFilter narrows an exit ledger query. Zero values mean "any".
type ExitFilter struct {
	AssetID  string
	Reason   ExitReason
	Strategy string
	Since    *time.Time
	Limit    int
}

// ExitSummary aggregates exit history for reporting.
type ExitSummary struct {
	Count         int
	Wins          int
	WinRate       float64
	TotalPnL      float64
	PnLByReason   map[ExitReason]float64
	PnLByStrategy map[string]float64
}
