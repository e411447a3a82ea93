package risk

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stuartoffabean/sentinel/internal/domain"
)

type stubCash struct {
	balance float64
	err     error
	calls   int
}

func (s *stubCash) CashBalance(context.Context) (float64, error) {
	s.calls++
	return s.balance, s.err
}

type captureAlerts struct {
	kinds []string
}

func (c *captureAlerts) Alert(_ context.Context, kind, _, _ string) {
	c.kinds = append(c.kinds, kind)
}

func testConfig() Config {
	return Config{
		DrawdownThreshold:    0.15,
		SanityMultiple:       2,
		BreakerPause:         30 * time.Minute,
		SurvivalFloor:        100,
		EmergencyFloor:       50,
		WarmupPricedFraction: 0.8,
		CashFetchTimeout:     90 * time.Second,
		ReadyGrace:           2 * time.Minute,
	}
}

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func TestWarmupRequiresSyncPricesAndCash(t *testing.T) {
	ctx := context.Background()
	m := New(testConfig(), &stubCash{balance: 50}, nil, testLogger())
	m.Start()

	m.EvaluateWarmup(ctx, 400, 1.0)
	assert.False(t, m.State().Ready, "no sync yet")

	m.MarkSyncComplete()
	m.EvaluateWarmup(ctx, 400, 0.5)
	assert.False(t, m.State().Ready, "not enough priced positions")

	m.EvaluateWarmup(ctx, 400, 0.9)
	assert.False(t, m.State().Ready, "cash not fetched and timeout not elapsed")

	m.SetCash(50)
	m.EvaluateWarmup(ctx, 400, 0.9)

	st := m.State()
	require.True(t, st.Ready)
	assert.False(t, st.CashStale)
	assert.InDelta(t, 450, st.DailyStartValue, 1e-9, "baseline set only on entering ready")
}

func TestWarmupCashTimeoutProceedsStale(t *testing.T) {
	ctx := context.Background()
	m := New(testConfig(), &stubCash{}, nil, testLogger())
	m.Start()
	m.MarkSyncComplete()

	m.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	m.EvaluateWarmup(ctx, 400, 1.0)

	st := m.State()
	require.True(t, st.Ready)
	assert.True(t, st.CashStale)
	assert.InDelta(t, 400, st.DailyStartValue, 1e-9)
}

func TestCircuitBreakerTripsAtThreshold(t *testing.T) {
	ctx := context.Background()
	alerts := &captureAlerts{}
	m := New(testConfig(), &stubCash{balance: 50}, alerts, testLogger())
	m.Start()
	m.MarkSyncComplete()
	m.SetCash(50)
	m.EvaluateWarmup(ctx, 400, 1.0)
	require.InDelta(t, 450, m.State().DailyStartValue, 1e-9)

	// 400 -> 330 in positions: total 380, a 15.5% drawdown against 450.
	m.Recompute(ctx, 330)

	st := m.State()
	assert.True(t, st.CircuitBreakerTripped)
	assert.False(t, m.CanAutoExecute())
	assert.Contains(t, alerts.kinds, "breaker_trip")
}

func TestStaleCashRefetchAbortsTrip(t *testing.T) {
	ctx := context.Background()
	cash := &stubCash{balance: 70}
	m := New(testConfig(), cash, nil, testLogger())
	m.Start()
	m.MarkSyncComplete()

	// Become ready via the cash timeout so the balance is stale at zero.
	m.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	m.EvaluateWarmup(ctx, 450, 1.0)
	st := m.State()
	require.True(t, st.Ready)
	require.True(t, st.CashStale)
	require.InDelta(t, 450, st.DailyStartValue, 1e-9)

	// Positions mark at 380; with cached cash 0 that looks like a 15.5%
	// drawdown, but the re-fetched balance of 70 brings it back to zero.
	m.Recompute(ctx, 380)

	st = m.State()
	assert.False(t, st.CircuitBreakerTripped, "trip must abort after cash re-fetch")
	assert.Equal(t, 1, cash.calls)
	assert.InDelta(t, 70, st.CashBalance, 1e-9)
	assert.False(t, st.CashStale)
}

func TestStaleCashRefetchFailureStillTrips(t *testing.T) {
	ctx := context.Background()
	cash := &stubCash{err: errors.New("sidecar down")}
	m := New(testConfig(), cash, nil, testLogger())
	m.Start()
	m.MarkSyncComplete()
	m.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	m.EvaluateWarmup(ctx, 450, 1.0)

	m.Recompute(ctx, 380)
	assert.True(t, m.State().CircuitBreakerTripped)
}

func TestBreakerAutoResumeRebaselines(t *testing.T) {
	ctx := context.Background()
	m := New(testConfig(), &stubCash{balance: 50}, nil, testLogger())
	m.Start()
	m.MarkSyncComplete()
	m.SetCash(50)
	m.EvaluateWarmup(ctx, 400, 1.0)
	m.Recompute(ctx, 330)
	require.True(t, m.State().CircuitBreakerTripped)

	m.now = func() time.Time { return time.Now().Add(time.Hour) }
	m.Recompute(ctx, 330)

	st := m.State()
	assert.False(t, st.CircuitBreakerTripped)
	assert.InDelta(t, 380, st.DailyStartValue, 1e-9, "resume re-baselines to current value")
}

func TestOperatorResetRebaselines(t *testing.T) {
	ctx := context.Background()
	m := New(testConfig(), &stubCash{balance: 50}, nil, testLogger())
	m.Start()
	m.MarkSyncComplete()
	m.SetCash(50)
	m.EvaluateWarmup(ctx, 400, 1.0)
	m.Recompute(ctx, 330)
	require.True(t, m.State().CircuitBreakerTripped)

	m.ResetBreaker(ctx)
	st := m.State()
	assert.False(t, st.CircuitBreakerTripped)
	assert.InDelta(t, 380, st.DailyStartValue, 1e-9)
}

func TestEmergencyModeForcesAutoExecuteOff(t *testing.T) {
	ctx := context.Background()
	alerts := &captureAlerts{}
	m := New(testConfig(), &stubCash{balance: 10}, alerts, testLogger())
	m.Start()
	m.MarkSyncComplete()
	m.SetCash(10)
	m.EvaluateWarmup(ctx, 400, 1.0)

	m.Recompute(ctx, 30) // total 40, under both floors
	st := m.State()
	assert.True(t, st.SurvivalMode)
	assert.True(t, st.EmergencyMode)
	assert.False(t, st.AutoExecuteEnabled)
	assert.False(t, m.CanTrigger(), "emergency halts trigger evaluation")

	// The toggle cannot override emergency mode.
	m.SetAutoExecute(true)
	assert.False(t, m.State().AutoExecuteEnabled)

	// Level-triggered: both clear on recovery.
	m.Recompute(ctx, 300)
	st = m.State()
	assert.False(t, st.SurvivalMode)
	assert.False(t, st.EmergencyMode)
	assert.True(t, m.CanTrigger())
}

func TestCanAutoExecuteHonorsReadyGrace(t *testing.T) {
	ctx := context.Background()
	m := New(testConfig(), &stubCash{balance: 50}, nil, testLogger())
	m.Start()
	m.MarkSyncComplete()
	m.SetCash(50)
	m.EvaluateWarmup(ctx, 400, 1.0)

	assert.False(t, m.CanAutoExecute(), "inside the post-ready grace period")

	m.now = func() time.Time { return time.Now().Add(5 * time.Minute) }
	assert.True(t, m.CanAutoExecute())
}

func TestBudget(t *testing.T) {
	b := NewBudget(0.25, 50)

	assert.InDelta(t, 100, b.Ceiling(400), 1e-9)
	assert.InDelta(t, 50, b.Ceiling(100), 1e-9, "floor applies to small accounts")

	require.NoError(t, b.Check("arb", 60, 400))
	b.Commit("arb", 60)

	err := b.Check("forecast", 50, 400)
	assert.ErrorIs(t, err, domain.ErrBudgetExceeded)

	require.NoError(t, b.Check("forecast", 40, 400))
	b.Commit("forecast", 40)

	b.Release("arb", 60)
	require.NoError(t, b.Check("arb", 60, 400))

	deployed := b.Deployed()
	assert.NotContains(t, deployed, "arb")
	assert.InDelta(t, 40, deployed["forecast"], 1e-9)
}
