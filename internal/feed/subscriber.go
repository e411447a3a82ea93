// Package feed wires the venue's streaming prices into the trigger engine,
// keeps the position ledger reconciled against venue truth, and drains
// scanner opportunities from the signal stream.
package feed

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/stuartoffabean/sentinel/internal/book"
	"github.com/stuartoffabean/sentinel/internal/domain"
	"github.com/stuartoffabean/sentinel/internal/risk"
	"github.com/stuartoffabean/sentinel/internal/trigger"
	"github.com/stuartoffabean/sentinel/internal/venue"
)

// Canceller cancels all resting orders at the venue.
type Canceller interface {
	CancelAll(ctx context.Context) error
}

// Alerter pushes operator notifications.
type Alerter interface {
	Alert(ctx context.Context, kind, title, message string)
}

// SubscriberConfig tunes the price subscriber.
type SubscriberConfig struct {
	// SilenceThreshold is how long the feed may deliver nothing before the
	// watchdog bounces the connection.
	SilenceThreshold time.Duration

	// WatchdogInterval is how often the watchdog checks.
	WatchdogInterval time.Duration
}

// Subscriber owns the streaming price connection.
type Subscriber struct {
	cfg       SubscriberConfig
	ws        *venue.WSClient
	engine    *trigger.Engine
	book      *book.Book
	machine   *risk.Machine
	canceller Canceller
	prices    domain.PriceCache
	alerts    Alerter
	logger    *slog.Logger
}

// NewSubscriber creates a subscriber. prices and alerts may be nil.
func NewSubscriber(cfg SubscriberConfig, ws *venue.WSClient, engine *trigger.Engine, b *book.Book, machine *risk.Machine, canceller Canceller, prices domain.PriceCache, alerts Alerter, logger *slog.Logger) *Subscriber {
	return &Subscriber{
		cfg:       cfg,
		ws:        ws,
		engine:    engine,
		book:      b,
		machine:   machine,
		canceller: canceller,
		prices:    prices,
		alerts:    alerts,
		logger:    logger.With(slog.String("component", "feed_subscriber")),
	}
}

// Run connects, subscribes to every tracked asset, and blocks until ctx is
// cancelled. Reconnection is handled inside the websocket client; this loop
// only adds the silent-feed watchdog on top.
func (s *Subscriber) Run(ctx context.Context) error {
	s.ws.OnTick(func(t domain.Tick) { s.handleTick(ctx, t) })
	s.ws.OnDisconnect(func(err error) { s.handleDisconnect(err) })

	if err := s.ws.Connect(ctx); err != nil {
		return fmt.Errorf("feed: connect: %w", err)
	}
	defer s.ws.Close()

	assets := s.book.AssetIDs()
	if len(assets) > 0 {
		if err := s.ws.Subscribe(ctx, assets); err != nil {
			return fmt.Errorf("feed: subscribe: %w", err)
		}
	}
	s.logger.Info("price feed subscribed", slog.Int("assets", len(assets)))

	ticker := time.NewTicker(s.cfg.WatchdogInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.checkSilence()
		}
	}
}

// SubscribeAssets adds assets to the live subscription. The reconciler calls
// it with the full tracked set after every sync, so positions that appear
// mid-run (multi-leg entries, venue-only positions picked up by the periodic
// pass) get price coverage without a restart. Already-subscribed assets are
// deduplicated inside the websocket client.
func (s *Subscriber) SubscribeAssets(ctx context.Context, assetIDs []string) error {
	if len(assetIDs) == 0 {
		return nil
	}
	return s.ws.Subscribe(ctx, assetIDs)
}

// handleTick is the hot path: update the book, evaluate triggers, mirror the
// price, and let the risk machine recompute.
func (s *Subscriber) handleTick(ctx context.Context, t domain.Tick) {
	s.engine.HandleTick(ctx, t)

	if s.prices != nil {
		cctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		if err := s.prices.SetPrice(cctx, t.AssetID, t.Bid, t.Ask, t.At); err != nil {
			s.logger.Debug("price mirror write failed", slog.String("error", err.Error()))
		}
		cancel()
	}

	value := s.book.PortfolioValue()
	if n := s.book.Len(); n > 0 {
		s.machine.EvaluateWarmup(ctx, value, float64(s.book.PricedCount())/float64(n))
	}
	s.machine.Recompute(ctx, value)
}

// handleDisconnect cancels resting orders the moment counterparty visibility
// is lost. An order left live on a blind book is an unbounded liability.
func (s *Subscriber) handleDisconnect(err error) {
	s.logger.Warn("price feed disconnected, cancelling resting orders",
		slog.String("error", err.Error()))

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if cerr := s.canceller.CancelAll(ctx); cerr != nil {
		s.logger.Error("cancel-all after disconnect failed", slog.String("error", cerr.Error()))
	}
	if s.alerts != nil {
		s.alerts.Alert(ctx, "feed_disconnect", "Price feed disconnected",
			fmt.Sprintf("resting orders cancelled; reconnecting. Cause: %v", err))
	}
}

// checkSilence bounces a connection that is open but has gone quiet. A zombie
// connection is worse than a dead one: it looks healthy while prices rot.
func (s *Subscriber) checkSilence() {
	last := s.ws.LastMessageAt()
	if last.IsZero() {
		return
	}
	if time.Since(last) > s.cfg.SilenceThreshold {
		s.logger.Warn("feed silent beyond threshold, forcing reconnect",
			slog.Time("last_message_at", last))
		s.ws.Bounce()
	}
}
