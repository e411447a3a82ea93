// Package risk owns the process-wide risk state: warmup gating, the drawdown
// circuit breaker, survival and emergency floors, and the auto-capital budget.
// The machine is the only writer of the risk state; everything else reads
// copies and asks the gate methods before acting.
package risk

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/stuartoffabean/sentinel/internal/domain"
)

// CashFetcher fetches the venue cash balance, used both during warmup and for
// the synchronous re-check before an anomalous circuit-breaker trip.
type CashFetcher interface {
	CashBalance(ctx context.Context) (float64, error)
}

// Alerter pushes operator notifications. Alert failures are swallowed by the
// implementation; risk transitions never block on notification delivery.
type Alerter interface {
	Alert(ctx context.Context, kind, title, message string)
}

// Config tunes the machine.
type Config struct {
	// DrawdownThreshold is the fractional daily drawdown that trips the
	// circuit breaker (0.15 = 15%).
	DrawdownThreshold float64

	// SanityMultiple: a drawdown beyond threshold*SanityMultiple is treated
	// as anomalous and re-verified against a fresh cash balance before
	// tripping.
	SanityMultiple float64

	// BreakerPause is how long auto-execution stays halted after a trip
	// before resuming automatically.
	BreakerPause time.Duration

	// SurvivalFloor and EmergencyFloor are absolute portfolio-value floors
	// in dollars. Emergency additionally forces auto-execution off.
	SurvivalFloor  float64
	EmergencyFloor float64

	// WarmupPricedFraction is the share of tracked positions that must have
	// a live price before the machine can become Ready.
	WarmupPricedFraction float64

	// CashFetchTimeout bounds how long warmup waits for a first cash
	// balance before proceeding with a stale-cash caveat.
	CashFetchTimeout time.Duration

	// ReadyGrace suppresses auto-execution for a period after becoming
	// Ready, so just-resynced stale positions cannot fire triggers.
	ReadyGrace time.Duration
}

// Machine is the risk state machine.
type Machine struct {
	cfg    Config
	cash   CashFetcher
	alerts Alerter
	logger *slog.Logger

	mu          sync.Mutex
	state       domain.RiskState
	syncDone    bool
	cashFetched bool
	startedAt   time.Time
	now         func() time.Time

	// persist, when set, receives a snapshot after every mode transition.
	persist func(domain.RiskState)
}

// New creates a machine in warmup. alerts may be nil.
func New(cfg Config, cash CashFetcher, alerts Alerter, logger *slog.Logger) *Machine {
	return &Machine{
		cfg:    cfg,
		cash:   cash,
		alerts: alerts,
		logger: logger.With(slog.String("component", "risk_machine")),
		now:    time.Now,
		state: domain.RiskState{
			AutoExecuteEnabled: true,
		},
	}
}

// OnTransition registers a snapshot sink invoked after every mode change.
func (m *Machine) OnTransition(fn func(domain.RiskState)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.persist = fn
}

// Start records the warmup start time for the cash-fetch timeout.
func (m *Machine) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.startedAt = m.now()
}

// MarkSyncComplete records that a full position sync has finished.
func (m *Machine) MarkSyncComplete() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.syncDone = true
}

// SetCash records a freshly fetched cash balance.
func (m *Machine) SetCash(balance float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.CashBalance = balance
	m.state.CashStale = false
	m.cashFetched = true
}

// EvaluateWarmup attempts the Warmup to Ready transition. pricedFraction is
// the share of tracked positions that have received a live price. Only on
// entering Ready is the daily drawdown baseline set, so a restart never trips
// the breaker against a zero or stale baseline.
func (m *Machine) EvaluateWarmup(ctx context.Context, positionValue, pricedFraction float64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state.Ready {
		return
	}
	if !m.syncDone || pricedFraction < m.cfg.WarmupPricedFraction {
		return
	}
	if !m.cashFetched {
		if m.startedAt.IsZero() || m.now().Sub(m.startedAt) < m.cfg.CashFetchTimeout {
			return
		}
		m.state.CashStale = true
		m.logger.Warn("becoming ready without a cash balance, treating cash as stale")
	}

	m.state.Ready = true
	m.state.ReadyAt = m.now()
	m.state.CurrentPortfolioValue = positionValue + m.state.CashBalance
	m.state.DailyStartValue = m.state.CurrentPortfolioValue
	m.logger.Info("risk machine ready",
		slog.Float64("daily_start_value", m.state.DailyStartValue),
		slog.Bool("cash_stale", m.state.CashStale))
	m.alert(ctx, "ready", "Risk machine ready",
		fmt.Sprintf("baseline $%.2f, cash stale=%v", m.state.DailyStartValue, m.state.CashStale))
	m.snapshot()
}

// Recompute updates the portfolio value and re-evaluates every level-triggered
// mode. positionValue is the mark-to-market value of tracked positions; cash
// is added from the last known balance. Called on every tick batch and after
// every fill.
func (m *Machine) Recompute(ctx context.Context, positionValue float64) {
	m.mu.Lock()
	if !m.state.Ready {
		m.mu.Unlock()
		return
	}

	total := positionValue + m.state.CashBalance
	m.state.CurrentPortfolioValue = total
	m.evaluateFloors(ctx, total)
	m.maybeResumeBreaker(ctx)

	drawdown := m.drawdown(total)
	shouldTrip := !m.state.CircuitBreakerTripped && drawdown > m.cfg.DrawdownThreshold
	anomalous := drawdown > m.cfg.DrawdownThreshold*m.cfg.SanityMultiple
	reverify := shouldTrip && (anomalous || m.state.CashStale) && m.cash != nil
	m.mu.Unlock()

	if !shouldTrip {
		return
	}

	if reverify {
		// A huge or stale-cash drawdown is more often a bad balance than a
		// real loss. Re-fetch synchronously and recompute before halting.
		fetchCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		fresh, err := m.cash.CashBalance(fetchCtx)
		cancel()

		m.mu.Lock()
		if err != nil {
			m.logger.Warn("cash re-fetch failed, tripping on cached value", slog.String("error", err.Error()))
		} else {
			m.state.CashBalance = fresh
			m.state.CashStale = false
			m.cashFetched = true
			total := positionValue + fresh
			m.state.CurrentPortfolioValue = total
			if m.drawdown(total) <= m.cfg.DrawdownThreshold {
				m.logger.Info("circuit breaker trip aborted after cash re-fetch",
					slog.Float64("recomputed_value", total))
				m.mu.Unlock()
				return
			}
		}
		m.tripBreakerLocked(ctx)
		m.mu.Unlock()
		return
	}

	m.mu.Lock()
	// Re-check: another goroutine may have tripped or reset meanwhile.
	if !m.state.CircuitBreakerTripped && m.drawdown(m.state.CurrentPortfolioValue) > m.cfg.DrawdownThreshold {
		m.tripBreakerLocked(ctx)
	}
	m.mu.Unlock()
}

// ResetBreaker is the operator override: it clears the trip and re-baselines
// the daily start value to the current portfolio value.
func (m *Machine) ResetBreaker(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.CircuitBreakerTripped = false
	m.state.CircuitBreakerResumeAt = time.Time{}
	m.state.DailyStartValue = m.state.CurrentPortfolioValue
	m.logger.Info("circuit breaker reset by operator",
		slog.Float64("new_baseline", m.state.DailyStartValue))
	m.alert(ctx, "breaker_reset", "Circuit breaker reset",
		fmt.Sprintf("new baseline $%.2f", m.state.DailyStartValue))
	m.snapshot()
}

// SetAutoExecute is the operator toggle for automated opportunity execution.
// It cannot re-enable execution while emergency mode holds it off.
func (m *Machine) SetAutoExecute(enabled bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if enabled && m.state.EmergencyMode {
		return
	}
	m.state.AutoExecuteEnabled = enabled
	m.snapshot()
}

// State returns a copy of the current risk state.
func (m *Machine) State() domain.RiskState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// CanTrigger reports whether exit triggers may be evaluated at all: the
// machine must be Ready and not in emergency mode. The circuit breaker does
// not stop protective exits.
func (m *Machine) CanTrigger() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.Ready && !m.state.EmergencyMode
}

// CanAutoExecute reports whether new automated entries are allowed: Ready,
// past the post-Ready grace period, breaker not tripped, not in emergency or
// survival mode, and the operator toggle on.
func (m *Machine) CanAutoExecute() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.state.Ready || m.state.EmergencyMode || m.state.SurvivalMode {
		return false
	}
	if m.state.CircuitBreakerTripped || !m.state.AutoExecuteEnabled {
		return false
	}
	return m.now().Sub(m.state.ReadyAt) >= m.cfg.ReadyGrace
}

// evaluateFloors applies the survival and emergency floors. Both are
// level-triggered and clear once value recovers. Caller holds m.mu.
func (m *Machine) evaluateFloors(ctx context.Context, total float64) {
	survival := m.cfg.SurvivalFloor > 0 && total <= m.cfg.SurvivalFloor
	if survival != m.state.SurvivalMode {
		m.state.SurvivalMode = survival
		if survival {
			m.logger.Warn("entering survival mode", slog.Float64("portfolio_value", total))
			m.alert(ctx, "survival", "Survival mode", fmt.Sprintf("portfolio value $%.2f at or below floor $%.2f", total, m.cfg.SurvivalFloor))
		} else {
			m.logger.Info("leaving survival mode", slog.Float64("portfolio_value", total))
			m.alert(ctx, "survival", "Survival mode cleared", fmt.Sprintf("portfolio value recovered to $%.2f", total))
		}
		m.snapshot()
	}

	emergency := m.cfg.EmergencyFloor > 0 && total <= m.cfg.EmergencyFloor
	if emergency != m.state.EmergencyMode {
		m.state.EmergencyMode = emergency
		if emergency {
			m.state.AutoExecuteEnabled = false
			m.logger.Error("entering emergency mode", slog.Float64("portfolio_value", total))
			m.alert(ctx, "emergency", "EMERGENCY MODE", fmt.Sprintf("portfolio value $%.2f at or below floor $%.2f, auto-execution disabled", total, m.cfg.EmergencyFloor))
		} else {
			m.logger.Warn("leaving emergency mode", slog.Float64("portfolio_value", total))
			m.alert(ctx, "emergency", "Emergency mode cleared", fmt.Sprintf("portfolio value recovered to $%.2f", total))
		}
		m.snapshot()
	}
}

// maybeResumeBreaker auto-resumes a tripped breaker once the pause elapses.
// Caller holds m.mu.
func (m *Machine) maybeResumeBreaker(ctx context.Context) {
	if !m.state.CircuitBreakerTripped {
		return
	}
	if m.now().Before(m.state.CircuitBreakerResumeAt) {
		return
	}
	m.state.CircuitBreakerTripped = false
	m.state.CircuitBreakerResumeAt = time.Time{}
	m.state.DailyStartValue = m.state.CurrentPortfolioValue
	m.logger.Info("circuit breaker auto-resumed",
		slog.Float64("new_baseline", m.state.DailyStartValue))
	m.alert(ctx, "breaker_resume", "Circuit breaker resumed",
		fmt.Sprintf("new baseline $%.2f", m.state.DailyStartValue))
	m.snapshot()
}

// tripBreakerLocked halts auto-execution. Caller holds m.mu.
func (m *Machine) tripBreakerLocked(ctx context.Context) {
	m.state.CircuitBreakerTripped = true
	m.state.CircuitBreakerResumeAt = m.now().Add(m.cfg.BreakerPause)
	dd := m.drawdown(m.state.CurrentPortfolioValue)
	m.logger.Error("circuit breaker tripped",
		slog.Float64("drawdown", dd),
		slog.Float64("daily_start_value", m.state.DailyStartValue),
		slog.Float64("current_value", m.state.CurrentPortfolioValue),
		slog.Time("resume_at", m.state.CircuitBreakerResumeAt))
	m.alert(ctx, "breaker_trip", "Circuit breaker TRIPPED",
		fmt.Sprintf("drawdown %.1f%% exceeds %.1f%%, auto-execution halted until %s",
			dd*100, m.cfg.DrawdownThreshold*100,
			m.state.CircuitBreakerResumeAt.Format(time.RFC3339)))
	m.snapshot()
}

// drawdown returns the fractional loss from the daily baseline.
func (m *Machine) drawdown(total float64) float64 {
	if m.state.DailyStartValue <= 0 {
		return 0
	}
	return (m.state.DailyStartValue - total) / m.state.DailyStartValue
}

func (m *Machine) alert(ctx context.Context, kind, title, message string) {
	if m.alerts != nil {
		m.alerts.Alert(ctx, kind, title, message)
	}
}

// snapshot hands the current state to the persistence sink. Caller holds m.mu.
func (m *Machine) snapshot() {
	if m.persist != nil {
		m.persist(m.state)
	}
}
