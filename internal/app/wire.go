package app

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	s3blob "github.com/stuartoffabean/sentinel/internal/blob/s3"
	"github.com/stuartoffabean/sentinel/internal/book"
	"github.com/stuartoffabean/sentinel/internal/cache/redis"
	"github.com/stuartoffabean/sentinel/internal/config"
	"github.com/stuartoffabean/sentinel/internal/crypto"
	"github.com/stuartoffabean/sentinel/internal/domain"
	"github.com/stuartoffabean/sentinel/internal/executor"
	"github.com/stuartoffabean/sentinel/internal/feed"
	"github.com/stuartoffabean/sentinel/internal/notify"
	"github.com/stuartoffabean/sentinel/internal/risk"
	"github.com/stuartoffabean/sentinel/internal/server"
	"github.com/stuartoffabean/sentinel/internal/server/handler"
	"github.com/stuartoffabean/sentinel/internal/store/jsonfile"
	"github.com/stuartoffabean/sentinel/internal/store/postgres"
	"github.com/stuartoffabean/sentinel/internal/trigger"
	"github.com/stuartoffabean/sentinel/internal/venue"
)

// Dependencies bundles everything the modes need, constructed by Wire and
// torn down by its cleanup function. Optional infrastructure (Redis,
// Postgres, S3) leaves its fields nil when not configured.
type Dependencies struct {
	Book    *book.Book
	WAL     *jsonfile.IntentLog
	Ledger  *jsonfile.PositionLedger
	Exits   *jsonfile.ExitLedger
	Manual  *jsonfile.ManualStore
	Quar    *jsonfile.Set
	Recent  *jsonfile.Set
	Dedupe  *jsonfile.Set

	Venue *venue.Client
	WS    *venue.WSClient

	Machine     *risk.Machine
	Budget      *risk.Budget
	Coordinator *executor.Coordinator
	Engine      *trigger.Engine

	Subscriber *feed.Subscriber
	Reconciler *feed.Reconciler
	Intake     *feed.Intake

	Notifier *notify.Notifier
	Archiver *s3blob.Archiver
	Server   *server.Server
}

// dryRunSeller replaces the coordinator in monitor mode: triggers evaluate
// and alert but never reach the venue.
type dryRunSeller struct {
	alerts *notify.Notifier
	logger *slog.Logger
}

func (d *dryRunSeller) SellPosition(ctx context.Context, assetID string, reason domain.ExitReason) error {
	d.logger.Info("monitor mode: exit trigger fired, not selling",
		slog.String("asset_id", assetID),
		slog.String("reason", string(reason)))
	d.alerts.Alert(ctx, "monitor_trigger", "Exit trigger (monitor mode)",
		fmt.Sprintf("%s would be sold (%s); monitor mode takes no action", assetID, reason))
	return nil
}

func (d *dryRunSeller) Locked(string) bool       { return false }
func (d *dryRunSeller) RecentlySold(string) bool { return false }

// Wire constructs the full dependency graph from cfg. The returned cleanup
// releases external connections in reverse order.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, err
	}

	deps := &Dependencies{Book: book.New()}

	// On-disk state. One Atomic serializes writes per file across the app.
	atomic := jsonfile.NewAtomic()
	dataDir := cfg.Store.DataDir
	deps.WAL = jsonfile.NewIntentLog(atomic, filepath.Join(dataDir, "wal.json"))
	deps.Ledger = jsonfile.NewPositionLedger(atomic, filepath.Join(dataDir, "positions.json"))
	deps.Exits = jsonfile.NewExitLedger(atomic, filepath.Join(dataDir, "exits.json"))
	deps.Manual = jsonfile.NewManualStore(atomic, filepath.Join(dataDir, "manual_positions.json"))
	deps.Quar = jsonfile.NewSet(atomic, filepath.Join(dataDir, "quarantine.json"))
	deps.Recent = jsonfile.NewSet(atomic, filepath.Join(dataDir, "recently_sold.json"))
	deps.Dedupe = jsonfile.NewSet(atomic, filepath.Join(dataDir, "executed_opportunities.json"))

	// Optional Redis: dashboard price mirror, the scanner stream, and the
	// outbound risk-event channel.
	var prices domain.PriceCache
	var bus domain.SignalBus
	if cfg.Redis.Addr != "" {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: redis: %w", err))
		}
		closers = append(closers, func() { _ = redisClient.Close() })
		prices = redis.NewPriceCache(redisClient)
		bus = redis.NewSignalBus(redisClient)
	}

	// Notifications. Alerts also go out on the signal bus when Redis is up.
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	if bus != nil && cfg.Redis.EventChannel != "" {
		senders = append(senders, notify.NewBusSender(bus, cfg.Redis.EventChannel))
	}
	deps.Notifier = notify.New(senders, cfg.Notify.CooledKinds, cfg.Notify.Cooldown.Duration, logger)

	// Venue sidecar client. Server mode never talks to the venue, so it may
	// run without a secret.
	var secret string
	if cfg.Venue.APISecret != "" || cfg.Venue.EncryptedSecretPath != "" {
		var err error
		secret, err = crypto.LoadSecret(crypto.SecretConfig{
			RawSecret:           cfg.Venue.APISecret,
			EncryptedSecretPath: cfg.Venue.EncryptedSecretPath,
			Password:            cfg.Venue.SecretPassword,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: venue secret: %w", err))
		}
	}
	auth := &crypto.HMACAuth{Key: cfg.Venue.APIKey, Secret: secret}
	deps.Venue = venue.NewClient(cfg.Venue.BaseURL, auth)
	deps.WS = venue.NewWSClient(cfg.Venue.WSURL)

	// Risk machine, persisted across restarts through the atomic writer.
	deps.Machine = risk.New(risk.Config{
		DrawdownThreshold:    cfg.Risk.DrawdownThreshold,
		SanityMultiple:       cfg.Risk.SanityMultiple,
		BreakerPause:         cfg.Risk.BreakerPause.Duration,
		SurvivalFloor:        cfg.Risk.SurvivalFloor,
		EmergencyFloor:       cfg.Risk.EmergencyFloor,
		WarmupPricedFraction: cfg.Risk.WarmupPricedFraction,
		CashFetchTimeout:     cfg.Risk.CashFetchTimeout.Duration,
		ReadyGrace:           cfg.Risk.ReadyGrace.Duration,
	}, deps.Venue, deps.Notifier, logger)

	riskStatePath := filepath.Join(dataDir, "risk_state.json")
	deps.Machine.OnTransition(func(state domain.RiskState) {
		if err := atomic.WriteJSON(riskStatePath, state); err != nil {
			logger.Error("risk state snapshot failed", slog.String("error", err.Error()))
		}
	})

	deps.Budget = risk.NewBudget(cfg.Budget.PortfolioPct, cfg.Budget.FloorUSD)

	// Optional Postgres exit mirror.
	var mirror domain.ExitMirror
	if cfg.Postgres.Enabled {
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: postgres: %w", err))
		}
		closers = append(closers, pgClient.Close)
		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				return fail(fmt.Errorf("wire: postgres migrations: %w", err))
			}
		}
		mirror = postgres.NewExitMirror(pgClient.Pool())
	}

	// Optional S3 exit archiver.
	if cfg.S3.Bucket != "" {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: s3: %w", err))
		}
		deps.Archiver = s3blob.NewArchiver(s3blob.NewWriter(s3Client), deps.Exits,
			filepath.Join(dataDir, "wal.json"), logger)
	}

	// Execution coordinator.
	deps.Coordinator = executor.New(executor.Config{
		SlippageLadder:    cfg.Executor.SlippageLadder,
		RetryCooldown:     cfg.Executor.RetryCooldown.Duration,
		RecentlySoldTTL:   cfg.Executor.RecentlySoldTTL.Duration,
		PhantomCheckDelay: cfg.Executor.PhantomCheckDelay.Duration,
		EntrySlippagePct:  cfg.Executor.EntrySlippagePct,
		UnwindSlippagePct: cfg.Executor.UnwindSlippagePct,
	}, executor.Deps{
		Venue:   deps.Venue,
		WAL:     deps.WAL,
		Ledger:  deps.Ledger,
		Exits:   deps.Exits,
		Mirror:  mirror,
		Quar:    deps.Quar,
		Recent:  deps.Recent,
		Dedupe:  deps.Dedupe,
		Book:    deps.Book,
		Gate:    deps.Machine,
		Budget:  deps.Budget,
		Backoff: executor.NewBackoff(cfg.Executor.BackoffWindow.Duration, cfg.Executor.BackoffThreshold, cfg.Executor.BackoffCooldown.Duration),
		Alerts:  deps.Notifier,
		Logger:  logger,
	})

	// Trigger engine. Monitor mode swaps the coordinator for a seller that
	// only alerts.
	var seller trigger.Seller = deps.Coordinator
	if strings.EqualFold(cfg.Mode, "monitor") {
		seller = &dryRunSeller{alerts: deps.Notifier, logger: logger}
	}
	deps.Engine = trigger.New(trigger.Config{
		DefaultStopLoss:    cfg.Trigger.DefaultStopLoss,
		DefaultTakeProfit:  cfg.Trigger.DefaultTakeProfit,
		TrailingActivation: cfg.Trigger.TrailingActivation,
		TrailingDistance:   cfg.Trigger.TrailingDistance,
		DollarLossAlert:    cfg.Trigger.DollarLossAlert,
	}, deps.Book, seller, deps.Machine, deps.Notifier, logger)

	// Reconciliation and price feed.
	deps.Reconciler = feed.NewReconciler(feed.ReconcilerConfig{
		SyncInterval:      cfg.Feed.SyncInterval.Duration,
		StartupRetryDelay: cfg.Feed.StartupRetryDelay.Duration,
		WALRetention:      cfg.Feed.WALRetention.Duration,
		RecentlySoldTTL:   cfg.Executor.RecentlySoldTTL.Duration,
		DedupeTTL:         cfg.Feed.DedupeTTL.Duration,
	}, deps.Venue, deps.Ledger, deps.Manual, deps.WAL, deps.Quar, deps.Recent, deps.Dedupe,
		deps.Book, deps.Machine, deps.Notifier, logger)
	deps.Coordinator.OnResync(deps.Reconciler.SyncNow)

	deps.Subscriber = feed.NewSubscriber(feed.SubscriberConfig{
		SilenceThreshold: cfg.Feed.SilenceThreshold.Duration,
		WatchdogInterval: cfg.Feed.WatchdogInterval.Duration,
	}, deps.WS, deps.Engine, deps.Book, deps.Machine, deps.Venue, prices, deps.Notifier, logger)
	deps.Reconciler.OnSync(deps.Subscriber.SubscribeAssets)

	if bus != nil {
		deps.Intake = feed.NewIntake(bus, cfg.Feed.OpportunityStream, deps.Coordinator,
			cfg.Feed.IntakeInterval.Duration, logger)
	}

	// Operator API.
	if cfg.Server.Enabled {
		deps.Server = server.NewServer(server.Config{
			Port:        cfg.Server.Port,
			APIKey:      cfg.Server.APIKey,
			CORSOrigins: cfg.Server.CORSOrigins,
		}, server.Handlers{
			Health:    handler.NewHealthHandler(deps.Machine),
			Positions: handler.NewPositionHandler(deps.Book, deps.Manual, deps.Coordinator, deps.Reconciler.SyncNow, logger),
			Risk:      handler.NewRiskHandler(deps.Machine, deps.Budget, deps.Notifier),
			Ops:       handler.NewOpsHandler(deps.WAL, deps.Quar, deps.Coordinator, deps.Exits),
		}, logger)
	}

	return deps, cleanup, nil
}
