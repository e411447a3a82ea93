package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML file at path, merges it over the built-in defaults,
// applies SENTINEL_* environment overrides, and returns the result. The
// returned Config has NOT been validated; call Config.Validate after Load.
// An empty path skips the file and uses defaults plus environment only.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	// Load .env if present; ignore when missing.
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)
	return &cfg, nil
}

// applyEnvOverrides overwrites config fields from well-known SENTINEL_*
// variables so operators can inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	setStr(&cfg.Venue.BaseURL, "SENTINEL_VENUE_BASE_URL")
	setStr(&cfg.Venue.WSURL, "SENTINEL_VENUE_WS_URL")
	setStr(&cfg.Venue.APIKey, "SENTINEL_VENUE_API_KEY")
	setStr(&cfg.Venue.APISecret, "SENTINEL_VENUE_API_SECRET")
	setStr(&cfg.Venue.EncryptedSecretPath, "SENTINEL_VENUE_ENCRYPTED_SECRET_PATH")
	setStr(&cfg.Venue.SecretPassword, "SENTINEL_VENUE_SECRET_PASSWORD")

	setFloat64(&cfg.Trigger.DefaultStopLoss, "SENTINEL_TRIGGER_DEFAULT_STOP_LOSS")
	setFloat64(&cfg.Trigger.DefaultTakeProfit, "SENTINEL_TRIGGER_DEFAULT_TAKE_PROFIT")
	setFloat64(&cfg.Trigger.TrailingActivation, "SENTINEL_TRIGGER_TRAILING_ACTIVATION")
	setFloat64(&cfg.Trigger.TrailingDistance, "SENTINEL_TRIGGER_TRAILING_DISTANCE")
	setFloat64(&cfg.Trigger.DollarLossAlert, "SENTINEL_TRIGGER_DOLLAR_LOSS_ALERT")

	setFloat64(&cfg.Risk.DrawdownThreshold, "SENTINEL_RISK_DRAWDOWN_THRESHOLD")
	setFloat64(&cfg.Risk.SanityMultiple, "SENTINEL_RISK_SANITY_MULTIPLE")
	setDuration(&cfg.Risk.BreakerPause, "SENTINEL_RISK_BREAKER_PAUSE")
	setFloat64(&cfg.Risk.SurvivalFloor, "SENTINEL_RISK_SURVIVAL_FLOOR")
	setFloat64(&cfg.Risk.EmergencyFloor, "SENTINEL_RISK_EMERGENCY_FLOOR")
	setFloat64(&cfg.Risk.WarmupPricedFraction, "SENTINEL_RISK_WARMUP_PRICED_FRACTION")
	setDuration(&cfg.Risk.CashFetchTimeout, "SENTINEL_RISK_CASH_FETCH_TIMEOUT")
	setDuration(&cfg.Risk.ReadyGrace, "SENTINEL_RISK_READY_GRACE")

	setFloat64(&cfg.Budget.PortfolioPct, "SENTINEL_BUDGET_PORTFOLIO_PCT")
	setFloat64(&cfg.Budget.FloorUSD, "SENTINEL_BUDGET_FLOOR_USD")

	setDuration(&cfg.Executor.RetryCooldown, "SENTINEL_EXECUTOR_RETRY_COOLDOWN")
	setDuration(&cfg.Executor.RecentlySoldTTL, "SENTINEL_EXECUTOR_RECENTLY_SOLD_TTL")
	setDuration(&cfg.Executor.PhantomCheckDelay, "SENTINEL_EXECUTOR_PHANTOM_CHECK_DELAY")
	setFloat64(&cfg.Executor.EntrySlippagePct, "SENTINEL_EXECUTOR_ENTRY_SLIPPAGE_PCT")
	setFloat64(&cfg.Executor.UnwindSlippagePct, "SENTINEL_EXECUTOR_UNWIND_SLIPPAGE_PCT")
	setDuration(&cfg.Executor.BackoffWindow, "SENTINEL_EXECUTOR_BACKOFF_WINDOW")
	setInt(&cfg.Executor.BackoffThreshold, "SENTINEL_EXECUTOR_BACKOFF_THRESHOLD")
	setDuration(&cfg.Executor.BackoffCooldown, "SENTINEL_EXECUTOR_BACKOFF_COOLDOWN")

	setDuration(&cfg.Feed.SilenceThreshold, "SENTINEL_FEED_SILENCE_THRESHOLD")
	setDuration(&cfg.Feed.WatchdogInterval, "SENTINEL_FEED_WATCHDOG_INTERVAL")
	setDuration(&cfg.Feed.SyncInterval, "SENTINEL_FEED_SYNC_INTERVAL")
	setDuration(&cfg.Feed.StartupRetryDelay, "SENTINEL_FEED_STARTUP_RETRY_DELAY")
	setDuration(&cfg.Feed.WALRetention, "SENTINEL_FEED_WAL_RETENTION")
	setDuration(&cfg.Feed.DedupeTTL, "SENTINEL_FEED_DEDUPE_TTL")
	setStr(&cfg.Feed.OpportunityStream, "SENTINEL_FEED_OPPORTUNITY_STREAM")
	setDuration(&cfg.Feed.IntakeInterval, "SENTINEL_FEED_INTAKE_INTERVAL")

	setStr(&cfg.Store.DataDir, "SENTINEL_STORE_DATA_DIR")

	setStr(&cfg.Redis.Addr, "SENTINEL_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "SENTINEL_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "SENTINEL_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "SENTINEL_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "SENTINEL_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "SENTINEL_REDIS_TLS_ENABLED")
	setStr(&cfg.Redis.EventChannel, "SENTINEL_REDIS_EVENT_CHANNEL")

	setBool(&cfg.Postgres.Enabled, "SENTINEL_POSTGRES_ENABLED")
	setStr(&cfg.Postgres.DSN, "SENTINEL_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "SENTINEL_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "SENTINEL_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "SENTINEL_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "SENTINEL_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "SENTINEL_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "SENTINEL_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "SENTINEL_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "SENTINEL_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "SENTINEL_POSTGRES_RUN_MIGRATIONS")

	setStr(&cfg.S3.Endpoint, "SENTINEL_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "SENTINEL_S3_REGION")
	setStr(&cfg.S3.Bucket, "SENTINEL_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "SENTINEL_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "SENTINEL_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "SENTINEL_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "SENTINEL_S3_FORCE_PATH_STYLE")
	setDuration(&cfg.S3.ArchiveInterval, "SENTINEL_S3_ARCHIVE_INTERVAL")

	setBool(&cfg.Server.Enabled, "SENTINEL_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "SENTINEL_SERVER_PORT")
	setStr(&cfg.Server.APIKey, "SENTINEL_SERVER_API_KEY")
	setStringSlice(&cfg.Server.CORSOrigins, "SENTINEL_SERVER_CORS_ORIGINS")

	setStr(&cfg.Notify.TelegramToken, "SENTINEL_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "SENTINEL_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "SENTINEL_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.CooledKinds, "SENTINEL_NOTIFY_COOLED_KINDS")
	setDuration(&cfg.Notify.Cooldown, "SENTINEL_NOTIFY_COOLDOWN")

	setStr(&cfg.Mode, "SENTINEL_MODE")
	setStr(&cfg.LogLevel, "SENTINEL_LOG_LEVEL")
}

// Typed env helpers. Each mutates the target only when the variable is set
// and parses cleanly.

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
