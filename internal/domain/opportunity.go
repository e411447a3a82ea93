package domain

import "time"

// OpportunityLeg is one order a scanner wants executed.
type OpportunityLeg struct {
	AssetID string    `json:"asset_id"`
	Side    OrderSide `json:"side"`
	Price   float64   `json:"price"`
	Size    float64   `json:"size"`
}

// Opportunity is a trade candidate produced by an upstream scanner (arbitrage
// spreads, resolution harvesting, forecast edges). It carries everything the
// execution coordinator needs to size and submit without re-deriving strategy
// logic. Scanners never hold authority to bypass the risk gate.
type Opportunity struct {
	ID              string           `json:"id"`
	Strategy        string           `json:"strategy"`
	Source          string           `json:"source"`
	Legs            []OpportunityLeg `json:"legs"`
	ExpectedEdgeBps float64          `json:"expected_edge_bps"`
	ResolutionAt    time.Time        `json:"resolution_at,omitzero"`
	DetectedAt      time.Time        `json:"detected_at"`
	ExpiresAt       time.Time        `json:"expires_at,omitzero"`
}

// Notional returns the total buy-side dollar amount of the opportunity.
func (o Opportunity) Notional() float64 {
	var total float64
	for _, leg := range o.Legs {
		if leg.Side == OrderSideBuy {
			total += leg.Price * leg.Size
		}
	}
	return total
}

// Expired reports whether the opportunity is past its expiry.
func (o Opportunity) Expired(now time.Time) bool {
	return !o.ExpiresAt.IsZero() && now.After(o.ExpiresAt)
}
