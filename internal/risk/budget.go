package risk

import (
	"fmt"
	"sync"

	"github.com/stuartoffabean/sentinel/internal/domain"
)

// Budget enforces the global ceiling on capital deployed by automated
// strategies: a percentage of portfolio value floored at a minimum dollar
// amount, with deployment tracked per strategy. Manual trades never pass
// through the budget.
type Budget struct {
	pct      float64
	floorUSD float64

	mu       sync.Mutex
	deployed map[string]float64
}

// NewBudget creates a budget. pct is the fraction of portfolio value
// (0.25 = 25%); floorUSD keeps small accounts from rounding the ceiling to
// nothing.
func NewBudget(pct, floorUSD float64) *Budget {
	return &Budget{
		pct:      pct,
		floorUSD: floorUSD,
		deployed: make(map[string]float64),
	}
}

// Ceiling returns the current deployment ceiling for the given portfolio
// value.
func (b *Budget) Ceiling(portfolioValue float64) float64 {
	ceiling := b.pct * portfolioValue
	if ceiling < b.floorUSD {
		ceiling = b.floorUSD
	}
	return ceiling
}

// Check returns ErrBudgetExceeded when deploying amount for strategy would
// push total automated deployment past the ceiling. A rejection is final for
// that opportunity; callers must not retry with a smaller size.
func (b *Budget) Check(strategy string, amount, portfolioValue float64) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	var total float64
	for _, v := range b.deployed {
		total += v
	}
	ceiling := b.Ceiling(portfolioValue)
	if total+amount > ceiling {
		return fmt.Errorf("risk: strategy %s deploying $%.2f (total $%.2f, ceiling $%.2f): %w",
			strategy, amount, total, ceiling, domain.ErrBudgetExceeded)
	}
	return nil
}

// Commit records amount as deployed for strategy.
func (b *Budget) Commit(strategy string, amount float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.deployed[strategy] += amount
}

// Release returns amount to the budget when a position closes or an entry
// fails after commitment.
func (b *Budget) Release(strategy string, amount float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.deployed[strategy] -= amount
	if b.deployed[strategy] <= 0 {
		delete(b.deployed, strategy)
	}
}

// Deployed returns a copy of per-strategy deployment.
func (b *Budget) Deployed() map[string]float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make(map[string]float64, len(b.deployed))
	for k, v := range b.deployed {
		out[k] = v
	}
	return out
}
