// Package book holds the in-memory working set of tracked positions. The
// position ledger on disk is the source of truth; the book is the live view
// the trigger engine evaluates on every tick.
package book

import (
	"sync"
	"time"

	"github.com/stuartoffabean/sentinel/internal/domain"
)

// Book is a concurrency-safe map of tracked positions keyed by asset ID.
type Book struct {
	mu        sync.RWMutex
	positions map[string]*domain.Position
}

// New creates an empty book.
func New() *Book {
	return &Book{positions: make(map[string]*domain.Position)}
}

// ApplyLedger refreshes the book from reconciled ledger state. Live fields of
// positions already tracked (current prices, high-water marks, retry and
// cooldown flags) are preserved; sizes and cost bases follow the ledger.
// Tracked assets absent from the ledger are dropped.
func (b *Book) ApplyLedger(ledger []domain.LedgerPosition, manual []domain.ManualPosition) {
	limits := make(map[string]domain.ManualPosition, len(manual))
	for _, m := range manual {
		limits[m.AssetID] = m
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	seen := make(map[string]bool, len(ledger))
	for _, lp := range ledger {
		seen[lp.AssetID] = true
		pos, ok := b.positions[lp.AssetID]
		if !ok {
			pos = &domain.Position{AssetID: lp.AssetID, OpenedAt: lp.UpdatedAt}
			b.positions[lp.AssetID] = pos
		}
		pos.Market = lp.Market
		pos.Outcome = lp.Outcome
		pos.Size = lp.Size
		pos.AvgPrice = lp.AvgPrice
		pos.Strategy = lp.Strategy
		pos.Manual = lp.Manual
		if m, ok := limits[lp.AssetID]; ok {
			if m.StopLoss > 0 {
				pos.StopLoss = m.StopLoss
			}
			if m.TakeProfit > 0 {
				pos.TakeProfit = m.TakeProfit
			}
		}
	}
	for assetID := range b.positions {
		if !seen[assetID] {
			delete(b.positions, assetID)
		}
	}
}

// ApplyTick records a price update and returns a copy of the updated
// position. ok is false when the asset is not tracked.
func (b *Book) ApplyTick(t domain.Tick) (domain.Position, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	pos, ok := b.positions[t.AssetID]
	if !ok {
		return domain.Position{}, false
	}
	if t.Bid > 0 {
		pos.CurBid = t.Bid
	}
	if t.Ask > 0 {
		pos.CurAsk = t.Ask
	}
	switch {
	case t.Price > 0:
		pos.CurPrice = t.Price
	case t.Bid > 0 && t.Ask > 0:
		pos.CurPrice = (t.Bid + t.Ask) / 2
	case t.Bid > 0:
		pos.CurPrice = t.Bid
	}
	if !t.At.IsZero() {
		pos.LastPriceAt = t.At
	} else {
		pos.LastPriceAt = time.Now()
	}
	return *pos, true
}

// Get returns a copy of one tracked position.
func (b *Book) Get(assetID string) (domain.Position, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	pos, ok := b.positions[assetID]
	if !ok {
		return domain.Position{}, false
	}
	return *pos, true
}

// List returns copies of every tracked position.
func (b *Book) List() []domain.Position {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]domain.Position, 0, len(b.positions))
	for _, pos := range b.positions {
		out = append(out, *pos)
	}
	return out
}

// Len returns the number of tracked positions.
func (b *Book) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.positions)
}

// PricedCount returns how many tracked positions have received at least one
// price update.
func (b *Book) PricedCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	n := 0
	for _, pos := range b.positions {
		if pos.CurPrice > 0 {
			n++
		}
	}
	return n
}

// AssetIDs returns the tracked asset IDs, for feed subscription.
func (b *Book) AssetIDs() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]string, 0, len(b.positions))
	for id := range b.positions {
		out = append(out, id)
	}
	return out
}

// Mutate applies fn to the tracked position under the write lock. ok is false
// when the asset is not tracked.
func (b *Book) Mutate(assetID string, fn func(*domain.Position)) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	pos, ok := b.positions[assetID]
	if !ok {
		return false
	}
	fn(pos)
	return true
}

// Remove drops a position from tracking.
func (b *Book) Remove(assetID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.positions, assetID)
}

// SetLimits overrides the stop-loss and take-profit thresholds for one
// position. A nil pointer leaves the current value in place; re-arming a
// changed threshold clears its fired latch.
func (b *Book) SetLimits(assetID string, stopLoss, takeProfit *float64) bool {
	return b.Mutate(assetID, func(pos *domain.Position) {
		if stopLoss != nil {
			pos.StopLoss = *stopLoss
			pos.StopLossFired = false
		}
		if takeProfit != nil {
			pos.TakeProfit = *takeProfit
			pos.TakeProfitFired = false
		}
	})
}

// PortfolioValue sums size times current price across priced positions.
func (b *Book) PortfolioValue() float64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var total float64
	for _, pos := range b.positions {
		if pos.CurPrice > 0 {
			total += pos.Size * pos.CurPrice
		}
	}
	return total
}
