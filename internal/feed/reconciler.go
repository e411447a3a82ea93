package feed

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/stuartoffabean/sentinel/internal/book"
	"github.com/stuartoffabean/sentinel/internal/domain"
	"github.com/stuartoffabean/sentinel/internal/risk"
)

// VenueTruth is the slice of the sidecar client the reconciler needs.
type VenueTruth interface {
	Positions(ctx context.Context) ([]domain.VenuePosition, error)
	CashBalance(ctx context.Context) (float64, error)
}

// ReconcilerConfig tunes the reconciler.
type ReconcilerConfig struct {
	// SyncInterval is how often positions and cash are re-synced.
	SyncInterval time.Duration

	// StartupRetryDelay is the pause between startup sync attempts while
	// the venue keeps reporting an empty book.
	StartupRetryDelay time.Duration

	// StartupMaxEmpty bounds how many empty startup responses are retried
	// before an empty book is accepted as truth. Zero means 5.
	StartupMaxEmpty int

	// WALRetention is the age beyond which terminal intent entries are
	// pruned.
	WALRetention time.Duration

	// RecentlySoldTTL expires persisted recently-sold markers.
	RecentlySoldTTL time.Duration

	// DedupeTTL expires persisted auto-execution dedupe entries.
	DedupeTTL time.Duration
}

// Reconciler keeps the position ledger aligned with venue truth and performs
// the periodic housekeeping passes.
type Reconciler struct {
	cfg     ReconcilerConfig
	venue   VenueTruth
	ledger  domain.PositionLedger
	manual  domain.ManualStore
	wal     domain.IntentLog
	quar    domain.SetStore
	recent  domain.SetStore
	dedupe  domain.SetStore
	book    *book.Book
	machine *risk.Machine
	alerts  Alerter
	logger  *slog.Logger

	// subscribe, when set, receives the full tracked asset set after every
	// sync so positions added mid-run get price coverage.
	subscribe func(ctx context.Context, assetIDs []string) error
}

// NewReconciler creates a reconciler. alerts may be nil.
func NewReconciler(cfg ReconcilerConfig, v VenueTruth, ledger domain.PositionLedger, manual domain.ManualStore, wal domain.IntentLog, quar, recent, dedupe domain.SetStore, b *book.Book, machine *risk.Machine, alerts Alerter, logger *slog.Logger) *Reconciler {
	if cfg.StartupMaxEmpty <= 0 {
		cfg.StartupMaxEmpty = 5
	}
	return &Reconciler{
		cfg:     cfg,
		venue:   v,
		ledger:  ledger,
		manual:  manual,
		wal:     wal,
		quar:    quar,
		recent:  recent,
		dedupe:  dedupe,
		book:    b,
		machine: machine,
		alerts:  alerts,
		logger:  logger.With(slog.String("component", "reconciler")),
	}
}

// OnSync registers the subscription refresh hook, called with the tracked
// asset set after every successful sync.
func (r *Reconciler) OnSync(fn func(ctx context.Context, assetIDs []string) error) {
	r.subscribe = fn
}

// Run performs the startup pass and then re-syncs on an interval.
func (r *Reconciler) Run(ctx context.Context) error {
	if err := r.startup(ctx); err != nil {
		return err
	}

	ticker := time.NewTicker(r.cfg.SyncInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := r.SyncNow(ctx); err != nil {
				r.logger.Error("periodic sync failed", slog.String("error", err.Error()))
			}
			r.refreshCash(ctx)
			r.evaluateRisk(ctx)
			r.housekeep(ctx)
		}
	}
}

// startup surfaces crash-interrupted intents, syncs positions (retrying while
// the venue reports an empty book), and fetches the first cash balance.
func (r *Reconciler) startup(ctx context.Context) error {
	if err := r.SurfaceUnresolved(ctx); err != nil {
		r.logger.Error("surfacing unresolved intents failed", slog.String("error", err.Error()))
	}

	emptySeen := 0
	for {
		err := r.SyncNow(ctx)
		if err == nil {
			if r.book.Len() > 0 || emptySeen >= r.cfg.StartupMaxEmpty {
				break
			}
			emptySeen++
			r.logger.Info("startup sync returned no positions, retrying",
				slog.Int("attempt", emptySeen))
		} else {
			r.logger.Warn("startup sync failed, retrying", slog.String("error", err.Error()))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(r.cfg.StartupRetryDelay):
		}
	}

	r.refreshCash(ctx)
	r.evaluateRisk(ctx)
	return nil
}

// SurfaceUnresolved relabels intents left pending by a prior run and pushes
// each to the operator channel exactly once.
func (r *Reconciler) SurfaceUnresolved(ctx context.Context) error {
	open, err := r.wal.Unresolved(ctx)
	if err != nil {
		return fmt.Errorf("feed: load unresolved intents: %w", err)
	}
	for _, intent := range open {
		if intent.Status != domain.IntentPending {
			continue // already surfaced on an earlier start
		}
		if err := r.wal.MarkUnresolved(ctx, intent.ID); err != nil {
			r.logger.Error("marking intent unresolved failed",
				slog.String("intent_id", intent.ID),
				slog.String("error", err.Error()))
			continue
		}
		r.logger.Error("crash-interrupted order intent found",
			slog.String("intent_id", intent.ID),
			slog.String("type", string(intent.Type)))
		if r.alerts != nil {
			r.alerts.Alert(ctx, "wal_unresolved", "Unresolved order intent",
				fmt.Sprintf("intent %s (%s, created %s) was pending at shutdown; verify at the venue and resolve explicitly",
					intent.ID, intent.Type, intent.CreatedAt.Format(time.RFC3339)))
		}
	}
	return nil
}

// SyncNow reconciles venue truth plus manual declarations into the ledger and
// refreshes the in-memory book from the result. This is the one path where
// venue state overrides local state.
func (r *Reconciler) SyncNow(ctx context.Context) error {
	venuePositions, err := r.venue.Positions(ctx)
	if err != nil {
		return fmt.Errorf("feed: venue positions: %w", err)
	}
	manual, err := r.manual.List(ctx)
	if err != nil {
		return fmt.Errorf("feed: manual positions: %w", err)
	}

	res, err := r.ledger.RecordSync(ctx, venuePositions, manual)
	if err != nil {
		return fmt.Errorf("feed: record sync: %w", err)
	}
	if len(res.Added)+len(res.Updated)+len(res.Removed) > 0 {
		r.logger.Info("position sync applied",
			slog.Int("added", len(res.Added)),
			slog.Int("updated", len(res.Updated)),
			slog.Int("removed", len(res.Removed)))
	}

	ledger, err := r.ledger.List(ctx)
	if err != nil {
		return fmt.Errorf("feed: list ledger: %w", err)
	}
	r.book.ApplyLedger(ledger, manual)
	r.seedQuarantineFlags(ctx)
	r.machine.MarkSyncComplete()
	r.evaluateRisk(ctx)

	if r.subscribe != nil {
		if assets := r.book.AssetIDs(); len(assets) > 0 {
			if err := r.subscribe(ctx, assets); err != nil {
				// Expected before the feed connects; the subscriber sends the
				// full set itself on connect.
				r.logger.Debug("subscription refresh failed", slog.String("error", err.Error()))
			}
		}
	}
	return nil
}

// evaluateRisk feeds the current book into the risk machine. An empty book
// counts as fully priced: a flat account has nothing to wait on and must
// still leave warmup, or auto-execution would be gated off forever on an
// account with no positions and therefore no ticks.
func (r *Reconciler) evaluateRisk(ctx context.Context) {
	value := r.book.PortfolioValue()
	priced := 1.0
	if n := r.book.Len(); n > 0 {
		priced = float64(r.book.PricedCount()) / float64(n)
	}
	r.machine.EvaluateWarmup(ctx, value, priced)
	r.machine.Recompute(ctx, value)
}

// seedQuarantineFlags re-applies the persisted exit-failed set to the book so
// quarantine survives both restarts and re-syncs.
func (r *Reconciler) seedQuarantineFlags(ctx context.Context) {
	members, err := r.quar.Members(ctx)
	if err != nil {
		r.logger.Error("loading quarantine set failed", slog.String("error", err.Error()))
		return
	}
	for _, assetID := range members {
		r.book.Mutate(assetID, func(p *domain.Position) { p.ExitFailed = true })
	}
}

func (r *Reconciler) refreshCash(ctx context.Context) {
	cctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	cash, err := r.venue.CashBalance(cctx)
	if err != nil {
		r.logger.Warn("cash balance fetch failed, keeping last good value",
			slog.String("error", err.Error()))
		return
	}
	r.machine.SetCash(cash)
}

// housekeep prunes aged WAL entries and expires the bounded marker sets.
func (r *Reconciler) housekeep(ctx context.Context) {
	if n, err := r.wal.Prune(ctx, r.cfg.WALRetention); err != nil {
		r.logger.Error("wal prune failed", slog.String("error", err.Error()))
	} else if n > 0 {
		r.logger.Info("pruned wal entries", slog.Int("count", n))
	}
	if _, err := r.recent.ExpireOlderThan(ctx, r.cfg.RecentlySoldTTL); err != nil {
		r.logger.Error("recently-sold expiry failed", slog.String("error", err.Error()))
	}
	if _, err := r.dedupe.ExpireOlderThan(ctx, r.cfg.DedupeTTL); err != nil {
		r.logger.Error("dedupe expiry failed", slog.String("error", err.Error()))
	}
}
