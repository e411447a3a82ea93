package domain

// OrderSide indicates whether this is a buy or sell.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

// OrderRequest is a single immediate-or-cancel order submitted to the
// order-submission sidecar. SlippagePct widens the acceptable fill price
// around Price; Force bypasses the sidecar's pre-trade risk check and is
// always logged.
type OrderRequest struct {
	AssetID     string    `json:"asset_id"`
	Side        OrderSide `json:"side"`
	Price       float64   `json:"price"`
	Size        float64   `json:"size"`
	SlippagePct float64   `json:"slippage_pct"`
	Force       bool      `json:"force,omitempty"`
	Strategy    string    `json:"strategy,omitempty"`
	Source      string    `json:"source,omitempty"`
}

// OrderResult is the sidecar's answer for a single order.
type OrderResult struct {
	Filled      bool    `json:"filled"`
	OrderID     string  `json:"order_id"`
	FilledPrice float64 `json:"filled_price"`
	FilledSize  float64 `json:"filled_size"`
	Message     string  `json:"message,omitempty"`
}

// MultiLegStatus is the outcome of a multi-leg fill-or-kill submission.
type MultiLegStatus string

const (
	MultiLegAllFilled         MultiLegStatus = "ALL_FILLED"
	MultiLegAllFailed         MultiLegStatus = "ALL_FAILED"
	MultiLegPartialFillUnwound MultiLegStatus = "PARTIAL_FILL_UNWOUND"
)

// LegResult is the per-leg outcome of a multi-leg submission or unwind.
type LegResult struct {
	AssetID     string    `json:"asset_id"`
	Side        OrderSide `json:"side"`
	Filled      bool      `json:"filled"`
	FilledPrice float64   `json:"filled_price"`
	FilledSize  float64   `json:"filled_size"`
	Message     string    `json:"message,omitempty"`
}

// MultiLegResult is the sidecar's answer for a multi-leg submission. When the
// status is PARTIAL_FILL_UNWOUND the sidecar has already flattened the
// one-sided exposure and UnwindLegs describes the offsetting orders.
type MultiLegResult struct {
	Status     MultiLegStatus `json:"status"`
	Legs       []LegResult    `json:"legs"`
	UnwindLegs []LegResult    `json:"unwind_legs,omitempty"`
}

// Orderbook is a top-of-book quote from the sidecar.
type Orderbook struct {
	AssetID string  `json:"asset_id"`
	BestBid float64 `json:"best_bid"`
	BestAsk float64 `json:"best_ask"`
	BidSize float64 `json:"bid_size"`
	AskSize float64 `json:"ask_size"`
}
