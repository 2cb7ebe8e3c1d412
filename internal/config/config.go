// Package config loads runtime settings from flags, MONITOR_* environment
// variables, an optional .env file and an optional config file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/walletmonitor/signal-engine/internal/retry"
)

// EnvPrefix prefixes every environment variable, e.g. MONITOR_DATABASE_URL.
const EnvPrefix = "MONITOR"

// Config holds the resolved settings.
type Config struct {
	Addr           string
	DatabaseURL    string
	RedisURL       string
	ClickHouseDSN  string
	RPCEndpoint    string
	DexScreenerURL string

	Window         time.Duration
	ScoreThreshold int64
	MaxAge         time.Duration
	MinMarketCap   decimal.Decimal

	Workers      int
	PriceWorkers int
	QueueSize    int

	LookupTimeout time.Duration
	LookupRetries int
	CacheTTL      time.Duration

	WebhookToken   string
	TelegramToken  string
	TelegramChatID string
	OpenAIKey      string
	OpenAIURL      string
	OpenAIModel    string

	LogLevel string
}

// Flags declares every setting on fs with its default.
func Flags(fs *pflag.FlagSet) {
	fs.String("addr", ":8080", "HTTP listen address")
	fs.String("database-url", "", "Postgres connection string (in-memory store when empty)")
	fs.String("redis-url", "", "Redis URL for the wallet cache")
	fs.String("clickhouse-dsn", "", "ClickHouse DSN for the signal archive")
	fs.String("rpc-endpoint", "https://api.mainnet-beta.solana.com", "Solana JSON-RPC endpoint")
	fs.String("dexscreener-url", "https://api.dexscreener.com", "DexScreener API base URL")
	fs.Duration("window", 6*time.Hour, "aggregation window")
	fs.Int64("score-threshold", 8, "combined wallet score that fires a signal")
	fs.Duration("max-age", 72*time.Hour, "maximum pair age for a signal (0 disables)")
	fs.String("min-market-cap", "0", "minimum market cap in USD")
	fs.Int("workers", 8, "pipeline workers")
	fs.Int("price-workers", 4, "concurrent price lookups per analysis")
	fs.Int("queue-size", 1024, "pipeline queue capacity")
	fs.Duration("lookup-timeout", 2*time.Second, "per-attempt timeout of external lookups")
	fs.Int("lookup-retries", 3, "retries of a failed lookup")
	fs.Duration("cache-ttl", 30*time.Second, "wallet cache TTL")
	fs.String("webhook-token", "", "expected webhook Authorization value")
	fs.String("telegram-token", "", "Telegram bot token")
	fs.String("telegram-chat-id", "", "Telegram chat id")
	fs.String("openai-key", "", "OpenAI API key for signal summaries")
	fs.String("openai-url", "", "OpenAI-compatible base URL")
	fs.String("openai-model", "gpt-4o-mini", "summary model")
	fs.String("log-level", "info", "log level (debug, info, warn, error)")
}

// Load merges defaults, config file, .env, environment and flags, in
// increasing precedence.
func Load(cfgFile string, flags *pflag.FlagSet) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	defaults := pflag.NewFlagSet("defaults", pflag.ContinueOnError)
	Flags(defaults)
	defaults.VisitAll(func(f *pflag.Flag) { v.SetDefault(f.Name, f.DefValue) })

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return Config{}, fmt.Errorf("bind flags: %w", err)
		}
	}

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	minCap, err := decimal.NewFromString(strings.TrimSpace(v.GetString("min-market-cap")))
	if err != nil {
		return Config{}, fmt.Errorf("min-market-cap: %w", err)
	}

	cfg := Config{
		Addr:           v.GetString("addr"),
		DatabaseURL:    v.GetString("database-url"),
		RedisURL:       v.GetString("redis-url"),
		ClickHouseDSN:  v.GetString("clickhouse-dsn"),
		RPCEndpoint:    v.GetString("rpc-endpoint"),
		DexScreenerURL: v.GetString("dexscreener-url"),
		Window:         v.GetDuration("window"),
		ScoreThreshold: v.GetInt64("score-threshold"),
		MaxAge:         v.GetDuration("max-age"),
		MinMarketCap:   minCap,
		Workers:        v.GetInt("workers"),
		PriceWorkers:   v.GetInt("price-workers"),
		QueueSize:      v.GetInt("queue-size"),
		LookupTimeout:  v.GetDuration("lookup-timeout"),
		LookupRetries:  v.GetInt("lookup-retries"),
		CacheTTL:       v.GetDuration("cache-ttl"),
		WebhookToken:   v.GetString("webhook-token"),
		TelegramToken:  v.GetString("telegram-token"),
		TelegramChatID: v.GetString("telegram-chat-id"),
		OpenAIKey:      v.GetString("openai-key"),
		OpenAIURL:      v.GetString("openai-url"),
		OpenAIModel:    v.GetString("openai-model"),
		LogLevel:       v.GetString("log-level"),
	}
	return cfg, cfg.Validate()
}

// Validate rejects settings the engine cannot run with.
func (c Config) Validate() error {
	var errs []error
	if c.Window <= 0 {
		errs = append(errs, fmt.Errorf("window must be positive, got %s", c.Window))
	}
	if c.MaxAge < 0 {
		errs = append(errs, fmt.Errorf("max-age must not be negative, got %s", c.MaxAge))
	}
	if c.MinMarketCap.IsNegative() {
		errs = append(errs, fmt.Errorf("min-market-cap must not be negative"))
	}
	if c.Workers <= 0 || c.PriceWorkers <= 0 || c.QueueSize <= 0 {
		errs = append(errs, fmt.Errorf("workers, price-workers and queue-size must be positive"))
	}
	if c.LookupTimeout <= 0 {
		errs = append(errs, fmt.Errorf("lookup-timeout must be positive, got %s", c.LookupTimeout))
	}
	if c.LookupRetries < 0 {
		errs = append(errs, fmt.Errorf("lookup-retries must not be negative"))
	}
	if (c.TelegramToken == "") != (c.TelegramChatID == "") {
		errs = append(errs, fmt.Errorf("telegram-token and telegram-chat-id must be set together"))
	}
	return errors.Join(errs...)
}

// LookupPolicy is the retry policy for store and reputation lookups.
func (c Config) LookupPolicy() retry.Policy {
	return retry.Policy{
		Timeout: c.LookupTimeout,
		Retries: c.LookupRetries,
		Backoff: 200 * time.Millisecond,
		MaxWait: 2 * time.Second,
	}
}
