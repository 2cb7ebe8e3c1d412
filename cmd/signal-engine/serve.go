package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/walletmonitor/signal-engine/internal/api"
	"github.com/walletmonitor/signal-engine/internal/archive"
	"github.com/walletmonitor/signal-engine/internal/notify"
	"github.com/walletmonitor/signal-engine/internal/oracle"
	"github.com/walletmonitor/signal-engine/internal/pipeline"
	sig "github.com/walletmonitor/signal-engine/internal/signal"
)

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	dex := oracle.NewDexScreener(cfg.DexScreenerURL, cfg.LookupPolicy(), logger)
	engine := newAnalytics(cfg, st, dex, logger)

	aggregator, err := sig.NewAggregator(st, st, st, sig.Config{
		Window:         cfg.Window,
		ScoreThreshold: cfg.ScoreThreshold,
	}, cfg.LookupPolicy())
	if err != nil {
		return err
	}

	// --- Sinks ---
	hub := notify.NewHub(logger)
	go hub.Run(ctx)
	sinks := []notify.Sink{hub}

	if cfg.TelegramToken != "" {
		opts := []notify.TelegramOption{notify.WithTelegramLogger(logger)}
		if cfg.OpenAIKey != "" {
			opts = append(opts, notify.WithSummarizer(notify.NewSummarizer(cfg.OpenAIKey, cfg.OpenAIURL, cfg.OpenAIModel)))
		}
		sinks = append(sinks, notify.NewTelegram(cfg.TelegramToken, cfg.TelegramChatID, opts...))
		logger.Info("Telegram notifications enabled", zap.Bool("summary", cfg.OpenAIKey != ""))
	}

	if cfg.ClickHouseDSN != "" {
		ch, err := archive.Open(ctx, cfg.ClickHouseDSN)
		if err != nil {
			return fmt.Errorf("open clickhouse: %w", err)
		}
		defer ch.Close()
		sinks = append(sinks, ch)
		logger.Info("ClickHouse archive enabled")
	}

	// --- Pipeline ---
	dispatcher := pipeline.New(aggregator, engine, dex, st, notify.NewMulti(logger, sinks...), pipeline.Config{
		Workers:   cfg.Workers,
		QueueSize: cfg.QueueSize,
		Suppress:  cfg.Window,
		Filter:    sig.MarketFilter{MaxAge: cfg.MaxAge, MinMarketCap: cfg.MinMarketCap},
		Logger:    logger,
	})
	go dispatcher.Run(ctx)

	// --- HTTP ---
	svc := api.NewService(dispatcher, st, engine, api.Options{
		WebhookToken: cfg.WebhookToken,
		WebSocket:    hub.HandleWS,
		Logger:       logger,
	})
	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           svc.Router(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("signal-engine listening",
			zap.String("addr", cfg.Addr),
			zap.Duration("window", cfg.Window),
			zap.Int64("threshold", cfg.ScoreThreshold))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		stop()
		return fmt.Errorf("http server: %w", err)
	}

	logger.Info("shutting down signal-engine")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", zap.Error(err))
	}
	select {
	case <-dispatcher.Done():
	case <-shutdownCtx.Done():
		logger.Warn("pipeline did not stop in time")
	}
	logger.Info("signal-engine stopped")
	return nil
}
