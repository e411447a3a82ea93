package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsValidateForServerMode(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "server"
	require.NoError(t, cfg.Validate())
}

func TestDefaultsRequireVenueSecretForTrading(t *testing.T) {
	cfg := Defaults()
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "api_secret")

	cfg.Venue.APISecret = "s"
	require.NoError(t, cfg.Validate())
}

func TestLoadMergesFileOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
mode = "monitor"

[venue]
base_url = "http://sidecar:9000"
api_secret = "topsecret"

[risk]
drawdown_threshold = 0.2
breaker_pause = "45m"

[executor]
slippage_ladder = [0.05, 0.15]
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "monitor", cfg.Mode)
	assert.Equal(t, "http://sidecar:9000", cfg.Venue.BaseURL)
	assert.InDelta(t, 0.2, cfg.Risk.DrawdownThreshold, 1e-9)
	assert.Equal(t, 45*time.Minute, cfg.Risk.BreakerPause.Duration)
	assert.Equal(t, []float64{0.05, 0.15}, cfg.Executor.SlippageLadder)

	// Untouched sections keep their defaults.
	assert.InDelta(t, 0.15, cfg.Trigger.DefaultStopLoss, 1e-9)
	assert.Equal(t, 10*time.Minute, cfg.Executor.RecentlySoldTTL.Duration)
}

func TestEnvOverridesWinOverFile(t *testing.T) {
	t.Setenv("SENTINEL_RISK_DRAWDOWN_THRESHOLD", "0.25")
	t.Setenv("SENTINEL_VENUE_API_SECRET", "from-env")
	t.Setenv("SENTINEL_SERVER_CORS_ORIGINS", "https://a.example, https://b.example")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.InDelta(t, 0.25, cfg.Risk.DrawdownThreshold, 1e-9)
	assert.Equal(t, "from-env", cfg.Venue.APISecret)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Server.CORSOrigins)
}

func TestValidateCollectsAllErrors(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "bogus"
	cfg.Risk.DrawdownThreshold = 2
	cfg.Executor.SlippageLadder = []float64{0.4, 0.1}
	cfg.Store.DataDir = ""

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown mode")
	assert.Contains(t, err.Error(), "drawdown_threshold")
	assert.Contains(t, err.Error(), "strictly increasing")
	assert.Contains(t, err.Error(), "data_dir")
}

func TestRedactedConfigHidesSecrets(t *testing.T) {
	cfg := Defaults()
	cfg.Venue.APISecret = "hunter2"
	cfg.Notify.TelegramToken = "tok"

	red := RedactedConfig(&cfg)
	assert.Equal(t, "***", red.Venue.APISecret)
	assert.Equal(t, "***", red.Notify.TelegramToken)
	assert.Equal(t, "hunter2", cfg.Venue.APISecret, "original is untouched")
}
