package main

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/walletmonitor/signal-engine/internal/analytics"
	"github.com/walletmonitor/signal-engine/internal/config"
	"github.com/walletmonitor/signal-engine/internal/oracle"
	"github.com/walletmonitor/signal-engine/internal/store"
)

// openStore picks PostgreSQL (optionally behind Redis) or the in-memory
// store. The returned cleanup closes every opened connection.
func openStore(ctx context.Context, cfg config.Config, logger *zap.Logger) (store.Store, func(), error) {
	var cleanup []func()
	closeAll := func() {
		for i := len(cleanup) - 1; i >= 0; i-- {
			cleanup[i]()
		}
	}

	if cfg.DatabaseURL == "" {
		logger.Warn("database-url not set, using in-memory store (data will not persist)")
		return store.NewMemoryStore(), closeAll, nil
	}

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, closeAll, fmt.Errorf("connect postgres: %w", err)
	}
	cleanup = append(cleanup, pool.Close)
	if err := pool.Ping(ctx); err != nil {
		closeAll()
		return nil, func() {}, fmt.Errorf("ping postgres: %w", err)
	}

	pg := store.NewPostgresStore(pool)
	if err := pg.Migrate(ctx); err != nil {
		closeAll()
		return nil, func() {}, err
	}
	logger.Info("connected to PostgreSQL")

	var st store.Store = pg
	if cfg.RedisURL != "" {
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			closeAll()
			return nil, func() {}, fmt.Errorf("invalid redis-url: %w", err)
		}
		rdb := redis.NewClient(opt)
		cleanup = append(cleanup, func() { _ = rdb.Close() })
		st = store.NewCachedStore(st, rdb, cfg.CacheTTL)
		logger.Info("Redis wallet cache enabled", zap.Duration("ttl", cfg.CacheTTL))
	}
	return st, closeAll, nil
}

// newAnalytics builds the analytics engine with the live market oracles.
func newAnalytics(cfg config.Config, st store.Store, dex *oracle.DexScreener, logger *zap.Logger) *analytics.Engine {
	prices := oracle.NewPriceOracle(dex, logger)
	supply := oracle.NewSupplyClient(cfg.RPCEndpoint, cfg.LookupPolicy(), logger)
	return analytics.NewEngine(st, prices, supply, st, analytics.Options{
		PriceWorkers: cfg.PriceWorkers,
		Logger:       logger,
	})
}
