// Package executor turns trigger decisions and scanner opportunities into
// venue orders. Every submission is intent-logged before the network call,
// guarded by per-asset sell locks, and escalated through a bounded slippage
// ladder before an asset is quarantined.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/stuartoffabean/sentinel/internal/book"
	"github.com/stuartoffabean/sentinel/internal/domain"
	"github.com/stuartoffabean/sentinel/internal/risk"
)

// phantomSizeEpsilon is the venue-reported size above which a supposedly
// sold asset counts as a phantom fill.
const phantomSizeEpsilon = 0.01

// Venue is the slice of the sidecar client the coordinator needs.
type Venue interface {
	Orderbook(ctx context.Context, assetID string) (domain.Orderbook, error)
	Positions(ctx context.Context) ([]domain.VenuePosition, error)
	PlaceOrder(ctx context.Context, req domain.OrderRequest) (domain.OrderResult, error)
	MarketSell(ctx context.Context, assetID string, size float64) (domain.OrderResult, error)
}

// Gate is the risk machine's veto over automated entries.
type Gate interface {
	CanAutoExecute() bool
	State() domain.RiskState
}

// Alerter pushes operator notifications.
type Alerter interface {
	Alert(ctx context.Context, kind, title, message string)
}

// Config tunes the coordinator.
type Config struct {
	// SlippageLadder is the per-attempt slippage tolerance in percent. The
	// ladder length bounds the retry count; exhausting it quarantines the
	// asset.
	SlippageLadder []float64

	// RetryCooldown is how long a position waits after an unfilled attempt
	// before the next rung is tried.
	RetryCooldown time.Duration

	// RecentlySoldTTL is how long a sold asset is shielded from
	// re-evaluation while the reconciliation source catches up.
	RecentlySoldTTL time.Duration

	// PhantomCheckDelay is how long after a reported fill the venue is
	// re-queried to confirm the asset is really gone.
	PhantomCheckDelay time.Duration

	// EntrySlippagePct is the tolerance for opportunity entry legs.
	EntrySlippagePct float64

	// UnwindSlippagePct is the wide tolerance used when flattening a
	// partial multi-leg fill. Getting flat beats getting a good price.
	UnwindSlippagePct float64
}

// Coordinator owns order submission.
type Coordinator struct {
	cfg     Config
	venue   Venue
	wal     domain.IntentLog
	ledger  domain.PositionLedger
	exits   domain.ExitStore
	mirror  domain.ExitMirror
	quar    domain.SetStore
	recent  domain.SetStore
	dedupe  domain.SetStore
	book    *book.Book
	gate    Gate
	budget  *risk.Budget
	backoff *Backoff
	alerts  Alerter
	logger  *slog.Logger

	mu        sync.Mutex
	sellLocks map[string]struct{}
	recentMem map[string]time.Time

	// resync, when set, triggers an immediate ledger re-sync (used after
	// phantom fills and all-filled entries).
	resync func(ctx context.Context) error

	now       func() time.Time
	afterFunc func(d time.Duration, fn func()) *time.Timer
}

// Deps bundles the coordinator's collaborators. Mirror and Alerts may be nil.
type Deps struct {
	Venue   Venue
	WAL     domain.IntentLog
	Ledger  domain.PositionLedger
	Exits   domain.ExitStore
	Mirror  domain.ExitMirror
	Quar    domain.SetStore
	Recent  domain.SetStore
	Dedupe  domain.SetStore
	Book    *book.Book
	Gate    Gate
	Budget  *risk.Budget
	Backoff *Backoff
	Alerts  Alerter
	Logger  *slog.Logger
}

// New creates a coordinator.
func New(cfg Config, d Deps) *Coordinator {
	return &Coordinator{
		cfg:       cfg,
		venue:     d.Venue,
		wal:       d.WAL,
		ledger:    d.Ledger,
		exits:     d.Exits,
		mirror:    d.Mirror,
		quar:      d.Quar,
		recent:    d.Recent,
		dedupe:    d.Dedupe,
		book:      d.Book,
		gate:      d.Gate,
		budget:    d.Budget,
		backoff:   d.Backoff,
		alerts:    d.Alerts,
		logger:    d.Logger.With(slog.String("component", "executor")),
		sellLocks: make(map[string]struct{}),
		recentMem: make(map[string]time.Time),
		now:       time.Now,
		afterFunc: time.AfterFunc,
	}
}

// OnResync registers the re-sync hook.
func (c *Coordinator) OnResync(fn func(ctx context.Context) error) {
	c.resync = fn
}

// Locked reports whether a sell is in flight for the asset.
func (c *Coordinator) Locked(assetID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.sellLocks[assetID]
	return ok
}

// RecentlySold reports whether the asset was sold within the shield TTL.
func (c *Coordinator) RecentlySold(assetID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	at, ok := c.recentMem[assetID]
	if !ok {
		return false
	}
	if c.now().Sub(at) > c.cfg.RecentlySoldTTL {
		delete(c.recentMem, assetID)
		return false
	}
	return true
}

// SeedRecentlySold restores the in-memory recently-sold mirror from the
// persisted set at startup.
func (c *Coordinator) SeedRecentlySold(ctx context.Context) error {
	if _, err := c.recent.ExpireOlderThan(ctx, c.cfg.RecentlySoldTTL); err != nil {
		return err
	}
	members, err := c.recent.Members(ctx)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	for _, m := range members {
		c.recentMem[m] = now
	}
	return nil
}

// SellPosition exits one tracked position. It is safe to call from
// back-to-back trigger evaluations: the per-asset lock rejects the duplicate
// with ErrSellLocked and no second order is submitted.
func (c *Coordinator) SellPosition(ctx context.Context, assetID string, reason domain.ExitReason) error {
	if c.backoff.Active() {
		return fmt.Errorf("executor: sell %s: %w", assetID, domain.ErrBackoffActive)
	}
	if !c.tryLock(assetID) {
		return fmt.Errorf("executor: sell %s: %w", assetID, domain.ErrSellLocked)
	}
	defer c.unlock(assetID)

	pos, ok := c.book.Get(assetID)
	if !ok {
		return fmt.Errorf("executor: sell %s: %w", assetID, domain.ErrNotFound)
	}
	if pos.ExitFailed {
		return fmt.Errorf("executor: sell %s: %w", assetID, domain.ErrExitFailed)
	}

	attempt := pos.RetryCount
	if attempt >= len(c.cfg.SlippageLadder) {
		// Should have been quarantined already; refuse rather than submit.
		return fmt.Errorf("executor: sell %s: ladder exhausted: %w", assetID, domain.ErrExitFailed)
	}
	slippage := c.cfg.SlippageLadder[attempt]

	price := pos.CurBid
	if price <= 0 {
		price = pos.CurPrice
	}

	intentID, err := c.wal.LogIntent(ctx, domain.OrderIntent{
		Type:     domain.IntentSingle,
		Legs:     []domain.IntentLeg{{AssetID: assetID, Side: domain.OrderSideSell, Price: price, Size: pos.Size}},
		Strategy: pos.Strategy,
		Source:   string(reason),
		Metadata: map[string]string{"attempt": fmt.Sprintf("%d", attempt+1)},
	})
	if err != nil {
		// Never submit an order whose intent is not durably recorded.
		return fmt.Errorf("executor: sell %s: log intent: %w", assetID, err)
	}

	c.logger.Info("submitting sell",
		slog.String("asset_id", assetID),
		slog.String("reason", string(reason)),
		slog.Int("attempt", attempt+1),
		slog.Float64("slippage_pct", slippage))

	res, err := c.venue.PlaceOrder(ctx, domain.OrderRequest{
		AssetID:     assetID,
		Side:        domain.OrderSideSell,
		Price:       price,
		Size:        pos.Size,
		SlippagePct: slippage,
		Strategy:    pos.Strategy,
		Source:      string(reason),
	})

	if err != nil {
		c.resolveIntent(ctx, intentID, domain.IntentFailed, err.Error())
		if errors.Is(err, domain.ErrRateLimited) {
			c.onRateLimit(ctx, assetID)
			return err
		}
		c.handleUnfilled(ctx, pos, reason, err.Error())
		return err
	}
	if !res.Filled {
		c.resolveIntent(ctx, intentID, domain.IntentFailed, res.Message)
		c.handleUnfilled(ctx, pos, reason, res.Message)
		return nil
	}

	c.resolveIntent(ctx, intentID, domain.IntentFilled,
		fmt.Sprintf("order %s filled %.4f @ %.4f", res.OrderID, res.FilledSize, res.FilledPrice))
	c.finalizeExit(ctx, pos, reason, res)
	return nil
}

// handleUnfilled advances the retry ladder. Exhausting the ladder quarantines
// the asset permanently; anything earlier sets a cooldown for the next rung.
func (c *Coordinator) handleUnfilled(ctx context.Context, pos domain.Position, reason domain.ExitReason, detail string) {
	retries := pos.RetryCount + 1
	if retries >= len(c.cfg.SlippageLadder) {
		c.quarantineAsset(ctx, pos, reason, detail)
		return
	}

	until := c.now().Add(c.cfg.RetryCooldown)
	c.book.Mutate(pos.AssetID, func(p *domain.Position) {
		p.RetryCount = retries
		p.CooldownUntil = until
	})
	c.logger.Warn("sell unfilled, cooling down",
		slog.String("asset_id", pos.AssetID),
		slog.Int("retries", retries),
		slog.Time("cooldown_until", until),
		slog.String("detail", detail))
}

// quarantineAsset moves a position to the persisted exit-failed set. Only an
// operator can clear it; no automatic retry will ever touch it again.
func (c *Coordinator) quarantineAsset(ctx context.Context, pos domain.Position, reason domain.ExitReason, detail string) {
	if err := c.quar.Add(ctx, pos.AssetID); err != nil {
		c.logger.Error("persisting quarantine failed",
			slog.String("asset_id", pos.AssetID),
			slog.String("error", err.Error()))
	}
	c.book.Mutate(pos.AssetID, func(p *domain.Position) {
		p.ExitFailed = true
		p.RetryCount = len(c.cfg.SlippageLadder)
	})

	// Audit the abandonment; failure here must not block the quarantine.
	rec := domain.ExitRecord{
		AssetID:    pos.AssetID,
		Market:     pos.Market,
		Outcome:    pos.Outcome,
		Reason:     domain.ExitAbandoned,
		Trigger:    string(reason),
		EntryPrice: pos.AvgPrice,
		ExitPrice:  pos.CurPrice,
		Size:       pos.Size,
		CostBasis:  pos.AvgPrice * pos.Size,
		Strategy:   pos.Strategy,
		Note:       fmt.Sprintf("sell ladder exhausted: %s", detail),
	}
	if err := c.exits.LogExit(ctx, rec); err != nil {
		c.logger.Error("abandoned-exit audit failed", slog.String("error", err.Error()))
	}

	c.logger.Error("asset quarantined after failed exits",
		slog.String("asset_id", pos.AssetID),
		slog.String("detail", detail))
	c.alert(ctx, "exit_failed", "Exit PERMANENTLY FAILED",
		fmt.Sprintf("%s could not be sold after %d attempts; quarantined until operator clearance. Last error: %s",
			pos.AssetID, len(c.cfg.SlippageLadder), detail))
}

// finalizeExit settles the books after a confirmed fill. Audit and alert
// failures are logged but never block the position-state cleanup.
func (c *Coordinator) finalizeExit(ctx context.Context, pos domain.Position, reason domain.ExitReason, res domain.OrderResult) {
	filledSize := res.FilledSize
	if filledSize <= 0 {
		filledSize = pos.Size
	}
	costBasis := pos.AvgPrice * filledSize
	proceeds := res.FilledPrice * filledSize

	if err := c.ledger.RecordExit(ctx, pos.AssetID, filledSize, res.FilledPrice); err != nil {
		c.logger.Error("ledger exit failed", slog.String("asset_id", pos.AssetID), slog.String("error", err.Error()))
	}

	rec := domain.ExitRecord{
		AssetID:     pos.AssetID,
		Market:      pos.Market,
		Outcome:     pos.Outcome,
		Reason:      reason,
		Trigger:     "trigger_engine",
		EntryPrice:  pos.AvgPrice,
		ExitPrice:   res.FilledPrice,
		Size:        filledSize,
		CostBasis:   costBasis,
		Proceeds:    proceeds,
		RealizedPnL: proceeds - costBasis,
		Strategy:    pos.Strategy,
	}
	if err := c.exits.LogExit(ctx, rec); err != nil {
		c.logger.Error("exit audit failed", slog.String("asset_id", pos.AssetID), slog.String("error", err.Error()))
	}
	if c.mirror != nil {
		go func() {
			mctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := c.mirror.Append(mctx, rec); err != nil {
				c.logger.Warn("exit mirror append failed", slog.String("error", err.Error()))
			}
		}()
	}

	if !pos.Manual && pos.Strategy != "" {
		c.budget.Release(pos.Strategy, costBasis)
	}

	c.book.Remove(pos.AssetID)
	c.markRecentlySold(ctx, pos.AssetID)

	c.logger.Info("position exited",
		slog.String("asset_id", pos.AssetID),
		slog.String("reason", string(reason)),
		slog.Float64("realized_pnl", rec.RealizedPnL))
	c.alert(ctx, "exit", fmt.Sprintf("Exited %s (%s)", pos.AssetID, reason),
		fmt.Sprintf("sold %.2f @ %.4f, realized PnL $%.2f", filledSize, res.FilledPrice, rec.RealizedPnL))

	c.schedulePhantomCheck(pos.AssetID)
}

// schedulePhantomCheck re-queries venue truth after a delay; a fill the venue
// still reports as held is phantom and must be re-tracked, never dropped.
func (c *Coordinator) schedulePhantomCheck(assetID string) {
	c.afterFunc(c.cfg.PhantomCheckDelay, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		c.phantomCheck(ctx, assetID)
	})
}

func (c *Coordinator) phantomCheck(ctx context.Context, assetID string) {
	positions, err := c.venue.Positions(ctx)
	if err != nil {
		c.logger.Warn("phantom-fill check failed",
			slog.String("asset_id", assetID),
			slog.String("error", err.Error()))
		return
	}
	for _, vp := range positions {
		if vp.AssetID != assetID || vp.Size <= phantomSizeEpsilon {
			continue
		}
		c.logger.Error("phantom fill detected",
			slog.String("asset_id", assetID),
			slog.Float64("venue_size", vp.Size))
		c.alert(ctx, "phantom_fill", "Phantom fill detected",
			fmt.Sprintf("%s reported filled but venue still holds %.2f shares; re-tracking", assetID, vp.Size))
		c.clearRecentlySold(ctx, assetID)
		if c.resync != nil {
			if err := c.resync(ctx); err != nil {
				c.logger.Error("re-sync after phantom fill failed", slog.String("error", err.Error()))
			}
		}
		return
	}
}

func (c *Coordinator) onRateLimit(ctx context.Context, assetID string) {
	engaged := c.backoff.Hit()
	c.book.Mutate(assetID, func(p *domain.Position) {
		p.CooldownUntil = c.now().Add(c.cfg.RetryCooldown)
	})
	if engaged {
		c.logger.Warn("rate-limit backoff engaged", slog.Time("until", c.backoff.Until()))
		c.alert(ctx, "backoff", "Submission backoff engaged",
			fmt.Sprintf("repeated venue rate limits; suspending submissions until %s", c.backoff.Until().Format(time.RFC3339)))
	}
}

func (c *Coordinator) markRecentlySold(ctx context.Context, assetID string) {
	c.mu.Lock()
	c.recentMem[assetID] = c.now()
	c.mu.Unlock()
	if err := c.recent.Add(ctx, assetID); err != nil {
		c.logger.Warn("persisting recently-sold marker failed", slog.String("error", err.Error()))
	}
}

func (c *Coordinator) clearRecentlySold(ctx context.Context, assetID string) {
	c.mu.Lock()
	delete(c.recentMem, assetID)
	c.mu.Unlock()
	if err := c.recent.Remove(ctx, assetID); err != nil {
		c.logger.Warn("clearing recently-sold marker failed", slog.String("error", err.Error()))
	}
}

// ClearQuarantine removes an asset from the exit-failed set (operator
// action). An empty assetID clears the whole set.
func (c *Coordinator) ClearQuarantine(ctx context.Context, assetID string) error {
	if assetID == "" {
		if err := c.quar.Clear(ctx); err != nil {
			return fmt.Errorf("executor: clear quarantine: %w", err)
		}
		for _, pos := range c.book.List() {
			c.book.Mutate(pos.AssetID, func(p *domain.Position) {
				p.ExitFailed = false
				p.RetryCount = 0
				p.CooldownUntil = time.Time{}
			})
		}
		return nil
	}
	if err := c.quar.Remove(ctx, assetID); err != nil {
		return fmt.Errorf("executor: clear quarantine %s: %w", assetID, err)
	}
	c.book.Mutate(assetID, func(p *domain.Position) {
		p.ExitFailed = false
		p.RetryCount = 0
		p.CooldownUntil = time.Time{}
	})
	return nil
}

func (c *Coordinator) resolveIntent(ctx context.Context, id string, status domain.IntentStatus, result string) {
	if err := c.wal.ResolveIntent(ctx, id, status, result); err != nil {
		c.logger.Error("resolving intent failed",
			slog.String("intent_id", id),
			slog.String("error", err.Error()))
	}
}

func (c *Coordinator) tryLock(assetID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, held := c.sellLocks[assetID]; held {
		return false
	}
	c.sellLocks[assetID] = struct{}{}
	return true
}

func (c *Coordinator) unlock(assetID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.sellLocks, assetID)
}

func (c *Coordinator) alert(ctx context.Context, kind, title, message string) {
	if c.alerts != nil {
		c.alerts.Alert(ctx, kind, title, message)
	}
}
