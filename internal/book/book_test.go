package book

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stuartoffabean/sentinel/internal/domain"
)

func TestApplyLedgerPreservesLiveState(t *testing.T) {
	b := New()
	b.ApplyLedger([]domain.LedgerPosition{
		{AssetID: "a", Size: 100, AvgPrice: 0.40},
	}, nil)

	_, ok := b.ApplyTick(domain.Tick{AssetID: "a", Price: 0.55, At: time.Now()})
	require.True(t, ok)
	b.Mutate("a", func(p *domain.Position) { p.HighWaterMarkPnLPct = 0.375 })

	// Re-sync with a drifted size; live fields must survive.
	b.ApplyLedger([]domain.LedgerPosition{
		{AssetID: "a", Size: 80, AvgPrice: 0.40},
		{AssetID: "b", Size: 10, AvgPrice: 0.20},
	}, nil)

	a, ok := b.Get("a")
	require.True(t, ok)
	assert.InDelta(t, 80, a.Size, 1e-9)
	assert.InDelta(t, 0.55, a.CurPrice, 1e-9)
	assert.InDelta(t, 0.375, a.HighWaterMarkPnLPct, 1e-9)

	// Dropping from the ledger drops from the book.
	b.ApplyLedger([]domain.LedgerPosition{{AssetID: "b", Size: 10, AvgPrice: 0.20}}, nil)
	_, ok = b.Get("a")
	assert.False(t, ok)
}

func TestApplyLedgerManualLimits(t *testing.T) {
	b := New()
	b.ApplyLedger(
		[]domain.LedgerPosition{{AssetID: "m", Size: 10, AvgPrice: 0.50, Manual: true}},
		[]domain.ManualPosition{{AssetID: "m", StopLoss: 0.30, TakeProfit: 0.80}},
	)

	pos, ok := b.Get("m")
	require.True(t, ok)
	assert.InDelta(t, 0.30, pos.StopLoss, 1e-9)
	assert.InDelta(t, 0.80, pos.TakeProfit, 1e-9)
}

func TestApplyTickMidFromQuotes(t *testing.T) {
	b := New()
	b.ApplyLedger([]domain.LedgerPosition{{AssetID: "a", Size: 1, AvgPrice: 0.5}}, nil)

	pos, ok := b.ApplyTick(domain.Tick{AssetID: "a", Bid: 0.40, Ask: 0.50})
	require.True(t, ok)
	assert.InDelta(t, 0.45, pos.CurPrice, 1e-9)
	assert.False(t, pos.LastPriceAt.IsZero())

	_, ok = b.ApplyTick(domain.Tick{AssetID: "untracked", Price: 0.5})
	assert.False(t, ok)
}

func TestSetLimitsRearmsLatch(t *testing.T) {
	b := New()
	b.ApplyLedger([]domain.LedgerPosition{{AssetID: "a", Size: 1, AvgPrice: 0.5}}, nil)
	b.Mutate("a", func(p *domain.Position) {
		p.StopLoss = 0.15
		p.StopLossFired = true
	})

	sl := 0.25
	require.True(t, b.SetLimits("a", &sl, nil))

	pos, _ := b.Get("a")
	assert.InDelta(t, 0.25, pos.StopLoss, 1e-9)
	assert.False(t, pos.StopLossFired)
}

func TestPortfolioValueSkipsUnpriced(t *testing.T) {
	b := New()
	b.ApplyLedger([]domain.LedgerPosition{
		{AssetID: "priced", Size: 100, AvgPrice: 0.40},
		{AssetID: "unpriced", Size: 50, AvgPrice: 0.30},
	}, nil)
	b.ApplyTick(domain.Tick{AssetID: "priced", Price: 0.60})

	assert.InDelta(t, 60, b.PortfolioValue(), 1e-9)
	assert.Equal(t, 1, b.PricedCount())
	assert.Equal(t, 2, b.Len())
}
