package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	chdir(t, t.TempDir())

	cfg, err := Load("", nil)
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.Addr)
	assert.Equal(t, 6*time.Hour, cfg.Window)
	assert.Equal(t, int64(8), cfg.ScoreThreshold)
	assert.Equal(t, 72*time.Hour, cfg.MaxAge)
	assert.True(t, cfg.MinMarketCap.IsZero())
	assert.Equal(t, 8, cfg.Workers)
	assert.Equal(t, 4, cfg.PriceWorkers)
	assert.Equal(t, 2*time.Second, cfg.LookupTimeout)
	assert.Equal(t, 3, cfg.LookupRetries)
	assert.Equal(t, "info", cfg.LogLevel)

	p := cfg.LookupPolicy()
	assert.Equal(t, 2*time.Second, p.Timeout)
	assert.Equal(t, 3, p.Retries)
}

func TestLoad_Precedence(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)

	file := filepath.Join(dir, "engine.yaml")
	require.NoError(t, os.WriteFile(file, []byte("score-threshold: 12\nworkers: 3\nlog-level: warn\n"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("MONITOR_MIN_MARKET_CAP=250000\n"), 0o600))
	t.Cleanup(func() { os.Unsetenv("MONITOR_MIN_MARKET_CAP") })
	t.Setenv("MONITOR_WORKERS", "5")
	t.Setenv("MONITOR_DATABASE_URL", "postgres://localhost/monitor")

	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	Flags(fs)
	require.NoError(t, fs.Parse([]string{"--log-level=debug", "--window=2h"}))

	cfg, err := Load(file, fs)
	require.NoError(t, err)
	assert.Equal(t, int64(12), cfg.ScoreThreshold, "file over default")
	assert.Equal(t, 5, cfg.Workers, "env over file")
	assert.Equal(t, "debug", cfg.LogLevel, "flag over file")
	assert.Equal(t, 2*time.Hour, cfg.Window)
	assert.Equal(t, "postgres://localhost/monitor", cfg.DatabaseURL)
	assert.True(t, cfg.MinMarketCap.Equal(decimal.NewFromInt(250000)), ".env feeds the environment")
}

func TestLoad_Invalid(t *testing.T) {
	chdir(t, t.TempDir())

	t.Setenv("MONITOR_WINDOW", "0s")
	_, err := Load("", nil)
	assert.ErrorContains(t, err, "window")

	t.Setenv("MONITOR_WINDOW", "1h")
	t.Setenv("MONITOR_MIN_MARKET_CAP", "lots")
	_, err = Load("", nil)
	assert.ErrorContains(t, err, "min-market-cap")
}

func TestValidate(t *testing.T) {
	ok := Config{Window: time.Hour, Workers: 1, PriceWorkers: 1, QueueSize: 1, LookupTimeout: time.Second}
	assert.NoError(t, ok.Validate())

	half := ok
	half.TelegramToken = "token"
	assert.Error(t, half.Validate())

	neg := ok
	neg.MinMarketCap = decimal.NewFromInt(-1)
	assert.Error(t, neg.Validate())
}

// chdir changes the working directory for the duration of the test.
func chdir(t *testing.T, dir string) {
	t.Helper()
	prev, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(prev) })
}
