package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/stuartoffabean/sentinel/internal/domain"
)

// ExecuteOpportunity submits a scanner opportunity: a budget-gated,
// deduplicated, multi-leg fill-or-kill entry. A partially filled basket is
// flattened immediately; it is never left half-executed and never retried.
func (c *Coordinator) ExecuteOpportunity(ctx context.Context, opp domain.Opportunity) error {
	if opp.Expired(c.now()) {
		c.logger.Info("opportunity expired, skipping", slog.String("opportunity_id", opp.ID))
		return nil
	}
	if !c.gate.CanAutoExecute() {
		c.logger.Info("auto-execution gated off, skipping opportunity",
			slog.String("opportunity_id", opp.ID))
		if c.gate.State().EmergencyMode {
			return fmt.Errorf("executor: opportunity %s: %w", opp.ID, domain.ErrEmergencyMode)
		}
		return fmt.Errorf("executor: opportunity %s: %w", opp.ID, domain.ErrNotReady)
	}
	if c.backoff.Active() {
		return fmt.Errorf("executor: opportunity %s: %w", opp.ID, domain.ErrBackoffActive)
	}

	seen, err := c.dedupe.Contains(ctx, opp.ID)
	if err != nil {
		return fmt.Errorf("executor: opportunity %s: dedupe check: %w", opp.ID, err)
	}
	if seen {
		return nil
	}
	// Record the ID before submitting so a replayed stream entry can never
	// double-execute, even if this attempt fails midway.
	if err := c.dedupe.Add(ctx, opp.ID); err != nil {
		return fmt.Errorf("executor: opportunity %s: dedupe add: %w", opp.ID, err)
	}

	notional := opp.Notional()
	portfolio := c.gate.State().CurrentPortfolioValue
	if err := c.budget.Check(opp.Strategy, notional, portfolio); err != nil {
		c.logger.Warn("opportunity rejected by budget",
			slog.String("opportunity_id", opp.ID),
			slog.String("strategy", opp.Strategy),
			slog.Float64("notional", notional))
		c.alert(ctx, "budget", "Opportunity rejected by capital budget",
			fmt.Sprintf("%s (%s) needs $%.2f: %v", opp.ID, opp.Strategy, notional, err))
		return err
	}

	legs := make([]domain.IntentLeg, len(opp.Legs))
	for i, l := range opp.Legs {
		legs[i] = domain.IntentLeg{AssetID: l.AssetID, Side: l.Side, Price: l.Price, Size: l.Size}
	}
	intentID, err := c.wal.LogIntent(ctx, domain.OrderIntent{
		Type:     domain.IntentMultiLeg,
		Legs:     legs,
		Strategy: opp.Strategy,
		Source:   opp.Source,
		Metadata: map[string]string{"opportunity_id": opp.ID},
	})
	if err != nil {
		return fmt.Errorf("executor: opportunity %s: log intent: %w", opp.ID, err)
	}

	result := c.submitLegs(ctx, legs)

	switch result.Status {
	case domain.MultiLegAllFilled:
		c.resolveIntent(ctx, intentID, domain.IntentFilled, "all legs filled")
		c.recordEntries(ctx, opp, result.Legs)
		c.budget.Commit(opp.Strategy, notional)
		c.logger.Info("opportunity executed",
			slog.String("opportunity_id", opp.ID),
			slog.String("strategy", opp.Strategy),
			slog.Float64("notional", notional))
		if c.resync != nil {
			if err := c.resync(ctx); err != nil {
				c.logger.Warn("re-sync after entry failed", slog.String("error", err.Error()))
			}
		}
	case domain.MultiLegAllFailed:
		c.resolveIntent(ctx, intentID, domain.IntentFailed, "all legs failed")
		c.logger.Info("opportunity failed cleanly", slog.String("opportunity_id", opp.ID))
	case domain.MultiLegPartialFillUnwound:
		c.resolveIntent(ctx, intentID, domain.IntentFailed, "partial fill, unwound")
		c.logger.Warn("partial multi-leg fill unwound",
			slog.String("opportunity_id", opp.ID),
			slog.Int("unwind_legs", len(result.UnwindLegs)))
		c.alert(ctx, "partial_unwind", "Partial multi-leg fill unwound",
			fmt.Sprintf("%s: %d of %d legs filled; offsetting orders submitted to flatten",
				opp.ID, countFilled(result.Legs), len(result.Legs)))
	}
	return nil
}

// submitLegs places all legs concurrently as immediate-or-cancel orders and
// classifies the outcome. Filled legs of a partial basket are each unwound
// with exactly one offsetting order.
func (c *Coordinator) submitLegs(ctx context.Context, legs []domain.IntentLeg) domain.MultiLegResult {
	results := make([]domain.LegResult, len(legs))

	var g errgroup.Group
	var rateLimited sync.Once
	for i, leg := range legs {
		g.Go(func() error {
			res, err := c.venue.PlaceOrder(ctx, domain.OrderRequest{
				AssetID:     leg.AssetID,
				Side:        leg.Side,
				Price:       leg.Price,
				Size:        leg.Size,
				SlippagePct: c.cfg.EntrySlippagePct,
				Source:      "opportunity",
			})
			if err != nil {
				if errors.Is(err, domain.ErrRateLimited) {
					rateLimited.Do(func() { c.backoff.Hit() })
				}
				results[i] = domain.LegResult{AssetID: leg.AssetID, Side: leg.Side, Message: err.Error()}
				return nil
			}
			results[i] = domain.LegResult{
				AssetID:     leg.AssetID,
				Side:        leg.Side,
				Filled:      res.Filled,
				FilledPrice: res.FilledPrice,
				FilledSize:  res.FilledSize,
				Message:     res.Message,
			}
			return nil
		})
	}
	_ = g.Wait()

	filled := countFilled(results)
	switch filled {
	case len(results):
		return domain.MultiLegResult{Status: domain.MultiLegAllFilled, Legs: results}
	case 0:
		return domain.MultiLegResult{Status: domain.MultiLegAllFailed, Legs: results}
	}

	unwinds := make([]domain.LegResult, 0, filled)
	for _, leg := range results {
		if leg.Filled {
			unwinds = append(unwinds, c.unwindLeg(ctx, leg))
		}
	}
	return domain.MultiLegResult{
		Status:     domain.MultiLegPartialFillUnwound,
		Legs:       results,
		UnwindLegs: unwinds,
	}
}

// unwindLeg flattens one unintended fill at the opposing best quote: sell
// what was bought at the best bid, buy back what was sold at the best ask.
// The order carries the force flag; flattening must not be vetoed by the
// sidecar's pre-trade check.
func (c *Coordinator) unwindLeg(ctx context.Context, leg domain.LegResult) domain.LegResult {
	side := domain.OrderSideSell
	if leg.Side == domain.OrderSideSell {
		side = domain.OrderSideBuy
	}

	price := leg.FilledPrice
	if book, err := c.venue.Orderbook(ctx, leg.AssetID); err == nil {
		if side == domain.OrderSideSell && book.BestBid > 0 {
			price = book.BestBid
		}
		if side == domain.OrderSideBuy && book.BestAsk > 0 {
			price = book.BestAsk
		}
	}

	res, err := c.venue.PlaceOrder(ctx, domain.OrderRequest{
		AssetID:     leg.AssetID,
		Side:        side,
		Price:       price,
		Size:        leg.FilledSize,
		SlippagePct: c.cfg.UnwindSlippagePct,
		Force:       true,
		Source:      "partial_unwind",
	})
	if err != nil {
		c.logger.Error("unwind order failed, exposure may remain",
			slog.String("asset_id", leg.AssetID),
			slog.String("error", err.Error()))
		c.alert(ctx, "unwind_failed", "UNWIND ORDER FAILED",
			fmt.Sprintf("could not flatten %s after partial fill: %v", leg.AssetID, err))
		return domain.LegResult{AssetID: leg.AssetID, Side: side, Message: err.Error()}
	}
	return domain.LegResult{
		AssetID:     leg.AssetID,
		Side:        side,
		Filled:      res.Filled,
		FilledPrice: res.FilledPrice,
		FilledSize:  res.FilledSize,
		Message:     res.Message,
	}
}

// recordEntries applies filled buy legs to the position ledger.
func (c *Coordinator) recordEntries(ctx context.Context, opp domain.Opportunity, legs []domain.LegResult) {
	for _, leg := range legs {
		if !leg.Filled || leg.Side != domain.OrderSideBuy {
			continue
		}
		if err := c.ledger.RecordEntry(ctx, leg.AssetID, leg.FilledSize, leg.FilledPrice, opp.Strategy); err != nil {
			c.logger.Error("recording entry failed",
				slog.String("asset_id", leg.AssetID),
				slog.String("error", err.Error()))
		}
	}
}

func countFilled(legs []domain.LegResult) int {
	n := 0
	for _, l := range legs {
		if l.Filled {
			n++
		}
	}
	return n
}

// ManualSell is the operator-initiated exit path exposed through the API. It
// skips the retry ladder and liquidates at best bid via the sidecar's
// market-sell endpoint.
func (c *Coordinator) ManualSell(ctx context.Context, assetID string) error {
	if !c.tryLock(assetID) {
		return fmt.Errorf("executor: manual sell %s: %w", assetID, domain.ErrSellLocked)
	}
	defer c.unlock(assetID)

	pos, ok := c.book.Get(assetID)
	if !ok {
		return fmt.Errorf("executor: manual sell %s: %w", assetID, domain.ErrNotFound)
	}

	intentID, err := c.wal.LogIntent(ctx, domain.OrderIntent{
		Type:     domain.IntentMarketSell,
		Legs:     []domain.IntentLeg{{AssetID: assetID, Side: domain.OrderSideSell, Price: pos.CurBid, Size: pos.Size}},
		Strategy: pos.Strategy,
		Source:   "operator",
	})
	if err != nil {
		return fmt.Errorf("executor: manual sell %s: log intent: %w", assetID, err)
	}

	res, err := c.venue.MarketSell(ctx, assetID, pos.Size)
	if err != nil {
		c.resolveIntent(ctx, intentID, domain.IntentFailed, err.Error())
		return fmt.Errorf("executor: manual sell %s: %w", assetID, err)
	}
	if !res.Filled {
		c.resolveIntent(ctx, intentID, domain.IntentFailed, res.Message)
		return fmt.Errorf("executor: manual sell %s: not filled: %s", assetID, res.Message)
	}

	c.resolveIntent(ctx, intentID, domain.IntentFilled,
		fmt.Sprintf("order %s filled %.4f @ %.4f", res.OrderID, res.FilledSize, res.FilledPrice))
	c.finalizeExit(ctx, pos, domain.ExitManual, res)
	return nil
}
