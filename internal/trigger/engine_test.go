package trigger

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stuartoffabean/sentinel/internal/book"
	"github.com/stuartoffabean/sentinel/internal/domain"
)

type fakeSeller struct {
	calls        []string
	reasons      []domain.ExitReason
	locked       bool
	lockOnCall   bool
	recentlySold bool
}

func (f *fakeSeller) SellPosition(_ context.Context, assetID string, reason domain.ExitReason) error {
	f.calls = append(f.calls, assetID)
	f.reasons = append(f.reasons, reason)
	if f.lockOnCall {
		f.locked = true
	}
	return nil
}

func (f *fakeSeller) Locked(string) bool       { return f.locked }
func (f *fakeSeller) RecentlySold(string) bool { return f.recentlySold }

type fakeGate struct{ ok bool }

func (g fakeGate) CanTrigger() bool { return g.ok }

type fakeAlerts struct{ kinds []string }

func (a *fakeAlerts) Alert(_ context.Context, kind, _, _ string) { a.kinds = append(a.kinds, kind) }

func testEngine(seller *fakeSeller, gate Gate, alerts Alerter) (*Engine, *book.Book) {
	b := book.New()
	cfg := Config{
		DefaultStopLoss:    0.15,
		DefaultTakeProfit:  0.30,
		TrailingActivation: 0.10,
		TrailingDistance:   0.05,
		DollarLossAlert:    50,
	}
	return New(cfg, b, seller, gate, alerts, slog.New(slog.DiscardHandler)), b
}

func track(b *book.Book, assetID string, size, avgPrice float64) {
	b.ApplyLedger([]domain.LedgerPosition{{AssetID: assetID, Size: size, AvgPrice: avgPrice}}, nil)
}

func tick(price float64) domain.Tick {
	return domain.Tick{AssetID: "a", Price: price, At: time.Now()}
}

func TestTrailingFloorRatchetsUpOnly(t *testing.T) {
	ctx := context.Background()
	seller := &fakeSeller{}
	e, b := testEngine(seller, fakeGate{ok: true}, nil)
	track(b, "a", 100, 1.00)

	// +12% arms the trailing stop: floor = 1.00 * (1 + 0.12 - 0.05) = 1.07.
	e.HandleTick(ctx, tick(1.12))
	pos, _ := b.Get("a")
	assert.InDelta(t, 1.07, pos.TrailingFloor, 1e-9)

	// +20% raises the floor to 1.15.
	e.HandleTick(ctx, tick(1.20))
	pos, _ = b.Get("a")
	assert.InDelta(t, 1.15, pos.TrailingFloor, 1e-9)

	// A dip does not lower the floor.
	e.HandleTick(ctx, tick(1.17))
	pos, _ = b.Get("a")
	assert.InDelta(t, 1.15, pos.TrailingFloor, 1e-9)
	assert.Empty(t, seller.calls)

	// Falling to the floor sells with the trailing reason.
	e.HandleTick(ctx, tick(1.15))
	require.Len(t, seller.calls, 1)
	assert.Equal(t, domain.ExitTrailingStop, seller.reasons[0])
}

func TestStopLossFiresOncePerArming(t *testing.T) {
	ctx := context.Background()
	seller := &fakeSeller{}
	e, b := testEngine(seller, fakeGate{ok: true}, nil)
	track(b, "a", 100, 1.00)

	e.HandleTick(ctx, tick(0.80))
	require.Len(t, seller.calls, 1)
	assert.Equal(t, domain.ExitStopLoss, seller.reasons[0])

	// Still under the threshold: the latch prevents a re-fire.
	e.HandleTick(ctx, tick(0.78))
	assert.Len(t, seller.calls, 1)

	// Re-arming the threshold clears the latch.
	sl := 0.25
	b.SetLimits("a", &sl, nil)
	e.HandleTick(ctx, tick(0.70))
	require.Len(t, seller.calls, 2)
	assert.Equal(t, domain.ExitStopLoss, seller.reasons[1])
}

func TestTakeProfitFires(t *testing.T) {
	ctx := context.Background()
	seller := &fakeSeller{}
	e, b := testEngine(seller, fakeGate{ok: true}, nil)
	track(b, "a", 100, 1.00)
	// Disarm the trailing stop so take-profit is reachable.
	e.cfg.TrailingActivation = 0

	e.HandleTick(ctx, tick(1.35))
	require.Len(t, seller.calls, 1)
	assert.Equal(t, domain.ExitTakeProfit, seller.reasons[0])
}

func TestSellLockPreventsDuplicateSubmission(t *testing.T) {
	ctx := context.Background()
	seller := &fakeSeller{lockOnCall: true}
	e, b := testEngine(seller, fakeGate{ok: true}, nil)
	track(b, "a", 100, 1.00)

	// Two back-to-back ticks both under the stop: exactly one submission.
	e.HandleTick(ctx, tick(0.80))
	e.HandleTick(ctx, tick(0.79))
	assert.Len(t, seller.calls, 1)
}

func TestGuardsSkipEvaluation(t *testing.T) {
	ctx := context.Background()

	t.Run("not ready", func(t *testing.T) {
		seller := &fakeSeller{}
		e, b := testEngine(seller, fakeGate{ok: false}, nil)
		track(b, "a", 100, 1.00)
		e.HandleTick(ctx, tick(0.70))
		assert.Empty(t, seller.calls)
	})

	t.Run("quarantined even with expired cooldown", func(t *testing.T) {
		seller := &fakeSeller{}
		e, b := testEngine(seller, fakeGate{ok: true}, nil)
		track(b, "a", 100, 1.00)
		b.Mutate("a", func(p *domain.Position) {
			p.ExitFailed = true
			p.CooldownUntil = time.Now().Add(-time.Minute)
		})
		e.HandleTick(ctx, tick(0.70))
		assert.Empty(t, seller.calls, "quarantine is checked before cooldown and never auto-retried")
	})

	t.Run("cooldown active", func(t *testing.T) {
		seller := &fakeSeller{}
		e, b := testEngine(seller, fakeGate{ok: true}, nil)
		track(b, "a", 100, 1.00)
		b.Mutate("a", func(p *domain.Position) { p.CooldownUntil = time.Now().Add(time.Minute) })
		e.HandleTick(ctx, tick(0.70))
		assert.Empty(t, seller.calls)
	})

	t.Run("recently sold", func(t *testing.T) {
		seller := &fakeSeller{recentlySold: true}
		e, b := testEngine(seller, fakeGate{ok: true}, nil)
		track(b, "a", 100, 1.00)
		e.HandleTick(ctx, tick(0.70))
		assert.Empty(t, seller.calls)
	})

	t.Run("missing cost basis", func(t *testing.T) {
		seller := &fakeSeller{}
		e, b := testEngine(seller, fakeGate{ok: true}, nil)
		track(b, "a", 100, 0)
		e.HandleTick(ctx, tick(0.70))
		assert.Empty(t, seller.calls)
	})
}

func TestDollarLossAlertFiresOnce(t *testing.T) {
	ctx := context.Background()
	seller := &fakeSeller{}
	alerts := &fakeAlerts{}
	e, b := testEngine(seller, fakeGate{ok: true}, alerts)
	// Large position so the dollar loss trips before the stop-loss fraction.
	track(b, "a", 1000, 1.00)
	e.cfg.DefaultStopLoss = 0.50

	e.HandleTick(ctx, tick(0.90)) // down $100
	e.HandleTick(ctx, tick(0.89))
	assert.Equal(t, []string{"trade_loss"}, alerts.kinds)
	assert.Empty(t, seller.calls)
}
