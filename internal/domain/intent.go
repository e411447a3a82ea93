package domain

import "time"

// IntentType classifies an order intent recorded in the write-ahead log.
type IntentType string

const (
	IntentSingle     IntentType = "single"
	IntentMarketSell IntentType = "market_sell"
	IntentMultiLeg   IntentType = "multi_leg"
)

// IntentStatus is the WAL entry lifecycle. Every entry starts pending and
// transitions to exactly one terminal status. Unresolved is assigned on
// startup to entries left pending by a crashed run; it is terminal-like but
// must never be auto-cleared.
type IntentStatus string

const (
	IntentPending    IntentStatus = "pending"
	IntentFilled     IntentStatus = "filled"
	IntentFailed     IntentStatus = "failed"
	IntentUnresolved IntentStatus = "unresolved"
)

// Terminal reports whether s is a final status.
func (s IntentStatus) Terminal() bool {
	return s == IntentFilled || s == IntentFailed || s == IntentUnresolved
}

// IntentLeg is one asset/side/price/size tuple of an order intent.
type IntentLeg struct {
	AssetID string    `json:"asset_id"`
	Side    OrderSide `json:"side"`
	Price   float64   `json:"price"`
	Size    float64   `json:"size"`
}

// OrderIntent records what the process was about to submit to the venue. It
// is durably persisted before the network call begins so a crash mid-order
// leaves evidence instead of a silently unknown fill.
type OrderIntent struct {
	ID         string            `json:"id"`
	Type       IntentType        `json:"type"`
	Legs       []IntentLeg       `json:"legs"`
	Strategy   string            `json:"strategy"`
	Source     string            `json:"source"` // e.g. "trigger_engine", "operator", "opportunity"
	Metadata   map[string]string `json:"metadata,omitempty"`
	Status     IntentStatus      `json:"status"`
	Result     string            `json:"result,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
	ResolvedAt *time.Time        `json:"resolved_at,omitempty"`
}
