package domain

import "time"

// Position is the in-memory view of one tracked holding. One instance exists
// per distinct asset; a position whose size reaches ~0 is removed from
// tracking.
type Position struct {
	AssetID  string
	Market   string // human-readable market label
	Outcome  string // e.g. "YES" / "NO"
	Size     float64
	AvgPrice float64 // cost basis per share
	Strategy string
	Manual   bool // operator-injected, not opened by the automated system

	// Live market state, updated on every tick.
	CurPrice    float64
	CurBid      float64
	CurAsk      float64
	LastPriceAt time.Time

	// Risk configuration. StopLoss and TakeProfit are fractional thresholds
	// on unrealized PnL (0.15 = 15%). TrailingFloor is an absolute price; a
	// zero floor means the trailing stop has not armed yet.
	StopLoss            float64
	TakeProfit          float64
	TrailingFloor       float64
	HighWaterMarkPnLPct float64

	// Transient control flags consumed by the trigger engine and the
	// execution coordinator.
	RetryCount     int
	CooldownUntil  time.Time
	ExitFailed     bool
	StopLossFired  bool
	TakeProfitFired bool
	LossAlerted    bool

	OpenedAt time.Time
}

// UnrealizedPnL returns the dollar PnL at the current price, or 0 when the
// position lacks a price or cost basis.
func (p Position) UnrealizedPnL() float64 {
	if p.AvgPrice <= 0 || p.CurPrice <= 0 {
		return 0
	}
	return (p.CurPrice - p.AvgPrice) * p.Size
}

// PnLPct returns the fractional unrealized PnL (-0.2 = down 20%), or 0 when
// the position lacks a price or cost basis.
func (p Position) PnLPct() float64 {
	if p.AvgPrice <= 0 || p.CurPrice <= 0 {
		return 0
	}
	return (p.CurPrice - p.AvgPrice) / p.AvgPrice
}

// Evaluable reports whether the position carries enough data for trigger
// evaluation.
func (p Position) Evaluable() bool {
	return p.AssetID != "" && p.Size > 0 && p.AvgPrice > 0 && p.CurPrice > 0
}

// Tick is a single price update from the venue feed.
type Tick struct {
	AssetID string
	Bid     float64
	Ask     float64
	Price   float64 // mid or last, whichever the feed carries
	At      time.Time
}

// VenuePosition is a holding as reported by the venue. Venue truth wins over
// local state during reconciliation.
type VenuePosition struct {
	AssetID  string
	Market   string
	Outcome  string
	Size     float64
	AvgPrice float64
	CurPrice float64
}

// ManualPosition is an operator-injected holding the automated system did not
// originate. Persisted separately and merged during reconciliation.
type ManualPosition struct {
	AssetID    string  `json:"asset_id"`
	Market     string  `json:"market"`
	Outcome    string  `json:"outcome"`
	Size       float64 `json:"size"`
	AvgPrice   float64 `json:"avg_price"`
	Strategy   string  `json:"strategy"`
	StopLoss   float64 `json:"stop_loss"`
	TakeProfit float64 `json:"take_profit"`
}

// SyncResult summarizes one reconciliation pass.
type SyncResult struct {
	Added   []string
	Updated []string
	Removed []string
}
