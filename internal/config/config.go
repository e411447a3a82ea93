// Package config defines the top-level configuration for the sentinel control
// plane and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration. Fields are populated from a TOML file and
// then optionally overridden by SENTINEL_* environment variables.
type Config struct {
	Venue    VenueConfig    `toml:"venue"`
	Trigger  TriggerConfig  `toml:"trigger"`
	Risk     RiskConfig     `toml:"risk"`
	Budget   BudgetConfig   `toml:"budget"`
	Executor ExecutorConfig `toml:"executor"`
	Feed     FeedConfig     `toml:"feed"`
	Store    StoreConfig    `toml:"store"`
	Redis    RedisConfig    `toml:"redis"`
	Postgres PostgresConfig `toml:"postgres"`
	S3       S3Config       `toml:"s3"`
	Server   ServerConfig   `toml:"server"`
	Notify   NotifyConfig   `toml:"notify"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// VenueConfig holds the execution sidecar endpoints and HMAC credentials.
type VenueConfig struct {
	BaseURL string `toml:"base_url"`
	WSURL   string `toml:"ws_url"`

	APIKey              string `toml:"api_key"`
	APISecret           string `toml:"api_secret"`
	EncryptedSecretPath string `toml:"encrypted_secret_path"`
	SecretPassword      string `toml:"secret_password"`
}

// TriggerConfig holds exit-trigger thresholds. Stop-loss and take-profit are
// fractional PnL (0.15 means 15%).
type TriggerConfig struct {
	DefaultStopLoss    float64 `toml:"default_stop_loss"`
	DefaultTakeProfit  float64 `toml:"default_take_profit"`
	TrailingActivation float64 `toml:"trailing_activation"`
	TrailingDistance   float64 `toml:"trailing_distance"`
	DollarLossAlert    float64 `toml:"dollar_loss_alert"`
}

// RiskConfig holds the risk state machine parameters.
type RiskConfig struct {
	DrawdownThreshold    float64  `toml:"drawdown_threshold"`
	SanityMultiple       float64  `toml:"sanity_multiple"`
	BreakerPause         duration `toml:"breaker_pause"`
	SurvivalFloor        float64  `toml:"survival_floor"`
	EmergencyFloor       float64  `toml:"emergency_floor"`
	WarmupPricedFraction float64  `toml:"warmup_priced_fraction"`
	CashFetchTimeout     duration `toml:"cash_fetch_timeout"`
	ReadyGrace           duration `toml:"ready_grace"`
}

// BudgetConfig bounds capital deployed by automated execution.
type BudgetConfig struct {
	PortfolioPct float64 `toml:"portfolio_pct"`
	FloorUSD     float64 `toml:"floor_usd"`
}

// ExecutorConfig holds order execution parameters. SlippageLadder lists the
// per-attempt slippage fractions for the escalating sell ladder.
type ExecutorConfig struct {
	SlippageLadder    []float64 `toml:"slippage_ladder"`
	RetryCooldown     duration  `toml:"retry_cooldown"`
	RecentlySoldTTL   duration  `toml:"recently_sold_ttl"`
	PhantomCheckDelay duration  `toml:"phantom_check_delay"`
	EntrySlippagePct  float64   `toml:"entry_slippage_pct"`
	UnwindSlippagePct float64   `toml:"unwind_slippage_pct"`

	BackoffWindow    duration `toml:"backoff_window"`
	BackoffThreshold int      `toml:"backoff_threshold"`
	BackoffCooldown  duration `toml:"backoff_cooldown"`
}

// FeedConfig holds price feed, reconciliation, and opportunity intake tuning.
type FeedConfig struct {
	SilenceThreshold  duration `toml:"silence_threshold"`
	WatchdogInterval  duration `toml:"watchdog_interval"`
	SyncInterval      duration `toml:"sync_interval"`
	StartupRetryDelay duration `toml:"startup_retry_delay"`
	WALRetention      duration `toml:"wal_retention"`
	DedupeTTL         duration `toml:"dedupe_ttl"`

	OpportunityStream string   `toml:"opportunity_stream"`
	IntakeInterval    duration `toml:"intake_interval"`
}

// StoreConfig locates the on-disk JSON state.
type StoreConfig struct {
	DataDir string `toml:"data_dir"`
}

// RedisConfig holds Redis connection parameters. Addr empty disables Redis.
// EventChannel names the pub/sub channel risk events are mirrored to.
type RedisConfig struct {
	Addr         string `toml:"addr"`
	Password     string `toml:"password"`
	DB           int    `toml:"db"`
	PoolSize     int    `toml:"pool_size"`
	MaxRetries   int    `toml:"max_retries"`
	TLSEnabled   bool   `toml:"tls_enabled"`
	EventChannel string `toml:"event_channel"`
}

// PostgresConfig holds PostgreSQL connection parameters for the exit mirror.
// Enabled false disables the mirror entirely.
type PostgresConfig struct {
	Enabled       bool   `toml:"enabled"`
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// S3Config holds object storage parameters for exit archives. Bucket empty
// disables archiving.
type S3Config struct {
	Endpoint        string   `toml:"endpoint"`
	Region          string   `toml:"region"`
	Bucket          string   `toml:"bucket"`
	AccessKey       string   `toml:"access_key"`
	SecretKey       string   `toml:"secret_key"`
	UseSSL          bool     `toml:"use_ssl"`
	ForcePathStyle  bool     `toml:"force_path_style"`
	ArchiveInterval duration `toml:"archive_interval"`
}

// ServerConfig holds operator API parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	APIKey      string   `toml:"api_key"`
	CORSOrigins []string `toml:"cors_origins"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	CooledKinds       []string `toml:"cooled_kinds"`
	Cooldown          duration `toml:"cooldown"`
}

// duration wraps time.Duration with TOML string decoding ("5m", "30s").
type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with the operating defaults. Thresholds
// mirror the values the desk has run in production.
func Defaults() Config {
	return Config{
		Venue: VenueConfig{
			BaseURL: "http://127.0.0.1:8800",
			WSURL:   "ws://127.0.0.1:8800/stream",
		},
		Trigger: TriggerConfig{
			DefaultStopLoss:    0.15,
			DefaultTakeProfit:  0.30,
			TrailingActivation: 0.10,
			TrailingDistance:   0.05,
			DollarLossAlert:    25.0,
		},
		Risk: RiskConfig{
			DrawdownThreshold:    0.15,
			SanityMultiple:       2.0,
			BreakerPause:         duration{30 * time.Minute},
			SurvivalFloor:        100.0,
			EmergencyFloor:       50.0,
			WarmupPricedFraction: 0.8,
			CashFetchTimeout:     duration{90 * time.Second},
			ReadyGrace:           duration{2 * time.Minute},
		},
		Budget: BudgetConfig{
			PortfolioPct: 0.25,
			FloorUSD:     50.0,
		},
		Executor: ExecutorConfig{
			SlippageLadder:    []float64{0.03, 0.10, 0.25, 0.40},
			RetryCooldown:     duration{2 * time.Minute},
			RecentlySoldTTL:   duration{10 * time.Minute},
			PhantomCheckDelay: duration{30 * time.Second},
			EntrySlippagePct:  0.02,
			UnwindSlippagePct: 0.10,
			BackoffWindow:     duration{5 * time.Minute},
			BackoffThreshold:  3,
			BackoffCooldown:   duration{10 * time.Minute},
		},
		Feed: FeedConfig{
			SilenceThreshold:  duration{90 * time.Second},
			WatchdogInterval:  duration{15 * time.Second},
			SyncInterval:      duration{5 * time.Minute},
			StartupRetryDelay: duration{5 * time.Second},
			WALRetention:      duration{24 * time.Hour},
			DedupeTTL:         duration{24 * time.Hour},
			OpportunityStream: "opportunities",
			IntakeInterval:    duration{2 * time.Second},
		},
		Store: StoreConfig{
			DataDir: "data",
		},
		Redis: RedisConfig{
			PoolSize:     10,
			MaxRetries:   3,
			EventChannel: "risk_events",
		},
		Postgres: PostgresConfig{
			SSLMode:       "disable",
			PoolMaxConns:  4,
			RunMigrations: true,
		},
		S3: S3Config{
			ArchiveInterval: duration{1 * time.Hour},
		},
		Server: ServerConfig{
			Enabled:     true,
			Port:        8600,
			CORSOrigins: []string{"http://localhost:3000"},
		},
		Notify: NotifyConfig{
			CooledKinds: []string{"feed_disconnect", "backoff"},
			Cooldown:    duration{5 * time.Minute},
		},
		Mode:     "trade",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"trade":   true,
	"monitor": true,
	"server":  true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks the config for invalid or missing values and returns one
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: trade, monitor, server)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	if c.Venue.BaseURL == "" {
		errs = append(errs, "venue: base_url must be set")
	}
	if c.Venue.WSURL == "" {
		errs = append(errs, "venue: ws_url must be set")
	}
	needsSecret := strings.ToLower(c.Mode) != "server"
	if needsSecret && c.Venue.APISecret == "" && c.Venue.EncryptedSecretPath == "" {
		errs = append(errs, "venue: either api_secret or encrypted_secret_path must be set for mode "+c.Mode)
	}
	if c.Venue.EncryptedSecretPath != "" && c.Venue.SecretPassword == "" {
		errs = append(errs, "venue: secret_password must be set when encrypted_secret_path is used")
	}

	if c.Trigger.DefaultStopLoss <= 0 || c.Trigger.DefaultStopLoss >= 1 {
		errs = append(errs, "trigger: default_stop_loss must be in (0, 1)")
	}
	if c.Trigger.DefaultTakeProfit <= 0 {
		errs = append(errs, "trigger: default_take_profit must be positive")
	}
	if c.Trigger.TrailingDistance < 0 {
		errs = append(errs, "trigger: trailing_distance must not be negative")
	}

	if c.Risk.DrawdownThreshold <= 0 || c.Risk.DrawdownThreshold >= 1 {
		errs = append(errs, "risk: drawdown_threshold must be in (0, 1)")
	}
	if c.Risk.SanityMultiple < 1 {
		errs = append(errs, "risk: sanity_multiple must be at least 1")
	}
	if c.Risk.WarmupPricedFraction <= 0 || c.Risk.WarmupPricedFraction > 1 {
		errs = append(errs, "risk: warmup_priced_fraction must be in (0, 1]")
	}
	if c.Risk.EmergencyFloor > c.Risk.SurvivalFloor {
		errs = append(errs, "risk: emergency_floor must not exceed survival_floor")
	}

	if c.Budget.PortfolioPct <= 0 || c.Budget.PortfolioPct > 1 {
		errs = append(errs, "budget: portfolio_pct must be in (0, 1]")
	}

	if len(c.Executor.SlippageLadder) == 0 {
		errs = append(errs, "executor: slippage_ladder must have at least one rung")
	}
	for i := 1; i < len(c.Executor.SlippageLadder); i++ {
		if c.Executor.SlippageLadder[i] <= c.Executor.SlippageLadder[i-1] {
			errs = append(errs, "executor: slippage_ladder must be strictly increasing")
			break
		}
	}
	if c.Executor.BackoffThreshold <= 0 {
		errs = append(errs, "executor: backoff_threshold must be positive")
	}

	if c.Feed.SilenceThreshold.Duration <= 0 {
		errs = append(errs, "feed: silence_threshold must be positive")
	}
	if c.Feed.WALRetention.Duration <= 0 {
		errs = append(errs, "feed: wal_retention must be positive")
	}

	if c.Store.DataDir == "" {
		errs = append(errs, "store: data_dir must be set")
	}

	if c.Server.Enabled && (c.Server.Port <= 0 || c.Server.Port > 65535) {
		errs = append(errs, fmt.Sprintf("server: invalid port %d", c.Server.Port))
	}

	if c.Postgres.Enabled && c.Postgres.DSN == "" && c.Postgres.Host == "" {
		errs = append(errs, "postgres: dsn or host must be set when enabled")
	}
	if c.S3.Bucket != "" && c.S3.Region == "" {
		errs = append(errs, "s3: region must be set when bucket is configured")
	}
	if c.Notify.TelegramToken != "" && c.Notify.TelegramChatID == "" {
		errs = append(errs, "notify: telegram_chat_id must be set with telegram_token")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}
