// Package trigger evaluates every tracked position on every price tick and
// decides when an exit must be initiated. It never submits orders itself; it
// hands a sell request to the execution coordinator and trusts the
// coordinator's locks to reject duplicates.
package trigger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/stuartoffabean/sentinel/internal/book"
	"github.com/stuartoffabean/sentinel/internal/domain"
)

// Seller initiates a position exit. Locked and RecentlySold are cheap
// in-memory checks consulted before evaluation.
type Seller interface {
	SellPosition(ctx context.Context, assetID string, reason domain.ExitReason) error
	Locked(assetID string) bool
	RecentlySold(assetID string) bool
}

// Gate is the risk machine's veto over trigger evaluation.
type Gate interface {
	CanTrigger() bool
}

// Alerter pushes informational operator notifications.
type Alerter interface {
	Alert(ctx context.Context, kind, title, message string)
}

// Config tunes the engine.
type Config struct {
	// DefaultStopLoss and DefaultTakeProfit apply to positions without
	// per-position thresholds (fractional, 0.15 = 15%).
	DefaultStopLoss   float64
	DefaultTakeProfit float64

	// TrailingActivation is the unrealized gain fraction at which the
	// trailing stop arms; TrailingDistance is how far below the high-water
	// mark the floor sits.
	TrailingActivation float64
	TrailingDistance   float64

	// DollarLossAlert fires an informational alert once when a single
	// position's unrealized loss exceeds this many dollars. Zero disables.
	DollarLossAlert float64
}

// Engine is the per-tick trigger evaluator.
type Engine struct {
	cfg    Config
	book   *book.Book
	seller Seller
	gate   Gate
	alerts Alerter
	logger *slog.Logger
	now    func() time.Time
}

// New creates an engine. alerts may be nil.
func New(cfg Config, b *book.Book, seller Seller, gate Gate, alerts Alerter, logger *slog.Logger) *Engine {
	return &Engine{
		cfg:    cfg,
		book:   b,
		seller: seller,
		gate:   gate,
		alerts: alerts,
		logger: logger.With(slog.String("component", "trigger_engine")),
		now:    time.Now,
	}
}

// HandleTick applies a price update and evaluates the exit rules for the
// affected position. Guards run in a fixed order; quarantine outranks
// cooldown so the log always names the guard that actually held the retry.
func (e *Engine) HandleTick(ctx context.Context, tick domain.Tick) {
	pos, tracked := e.book.ApplyTick(tick)
	if !tracked || !pos.Evaluable() {
		return
	}
	if !e.gate.CanTrigger() {
		return
	}
	if pos.ExitFailed {
		return
	}
	if e.seller.Locked(pos.AssetID) {
		return
	}
	if !pos.CooldownUntil.IsZero() && e.now().Before(pos.CooldownUntil) {
		return
	}
	if e.seller.RecentlySold(pos.AssetID) {
		return
	}

	e.updateTrailing(&pos)
	e.checkDollarLoss(ctx, pos)

	if reason, ok := e.evaluate(&pos); ok {
		e.logger.Info("exit trigger fired",
			slog.String("asset_id", pos.AssetID),
			slog.String("reason", string(reason)),
			slog.Float64("price", pos.CurPrice),
			slog.Float64("pnl_pct", pos.PnLPct()))
		if err := e.seller.SellPosition(ctx, pos.AssetID, reason); err != nil &&
			!errors.Is(err, domain.ErrSellLocked) {
			e.logger.Warn("sell initiation failed",
				slog.String("asset_id", pos.AssetID),
				slog.String("error", err.Error()))
		}
	}
}

// evaluate applies the rules in precedence order: trailing stop, stop-loss,
// take-profit. The first match wins.
func (e *Engine) evaluate(pos *domain.Position) (domain.ExitReason, bool) {
	if pos.TrailingFloor > 0 && pos.CurPrice <= pos.TrailingFloor {
		return domain.ExitTrailingStop, true
	}

	stopLoss := pos.StopLoss
	if stopLoss == 0 {
		stopLoss = e.cfg.DefaultStopLoss
	}
	if stopLoss > 0 && !pos.StopLossFired && pos.PnLPct() <= -stopLoss {
		e.book.Mutate(pos.AssetID, func(p *domain.Position) { p.StopLossFired = true })
		return domain.ExitStopLoss, true
	}

	takeProfit := pos.TakeProfit
	if takeProfit == 0 {
		takeProfit = e.cfg.DefaultTakeProfit
	}
	if takeProfit > 0 && !pos.TakeProfitFired && pos.PnLPct() >= takeProfit {
		e.book.Mutate(pos.AssetID, func(p *domain.Position) { p.TakeProfitFired = true })
		return domain.ExitTakeProfit, true
	}

	return "", false
}

// updateTrailing advances the high-water mark and, once the activation
// threshold has been reached, ratchets the floor price upward. The floor
// never moves down.
func (e *Engine) updateTrailing(pos *domain.Position) {
	if e.cfg.TrailingActivation <= 0 {
		return
	}
	pnl := pos.PnLPct()
	e.book.Mutate(pos.AssetID, func(p *domain.Position) {
		if pnl > p.HighWaterMarkPnLPct {
			p.HighWaterMarkPnLPct = pnl
		}
		if p.HighWaterMarkPnLPct >= e.cfg.TrailingActivation {
			floor := p.AvgPrice * (1 + (p.HighWaterMarkPnLPct - e.cfg.TrailingDistance))
			if floor > p.TrailingFloor {
				p.TrailingFloor = floor
			}
		}
		pos.HighWaterMarkPnLPct = p.HighWaterMarkPnLPct
		pos.TrailingFloor = p.TrailingFloor
	})
}

// checkDollarLoss fires the informational single-trade-loss alert once per
// position.
func (e *Engine) checkDollarLoss(ctx context.Context, pos domain.Position) {
	if e.cfg.DollarLossAlert <= 0 || e.alerts == nil || pos.LossAlerted {
		return
	}
	if pos.UnrealizedPnL() > -e.cfg.DollarLossAlert {
		return
	}
	e.book.Mutate(pos.AssetID, func(p *domain.Position) { p.LossAlerted = true })
	e.alerts.Alert(ctx, "trade_loss", "Large unrealized loss",
		fmt.Sprintf("%s down $%.2f (%.1f%%) at %.3f", pos.AssetID, -pos.UnrealizedPnL(), pos.PnLPct()*100, pos.CurPrice))
}
