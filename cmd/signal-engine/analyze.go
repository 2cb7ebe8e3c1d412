package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/walletmonitor/signal-engine/internal/api"
	"github.com/walletmonitor/signal-engine/internal/ingest"
	"github.com/walletmonitor/signal-engine/internal/model"
	"github.com/walletmonitor/signal-engine/internal/oracle"
)

func runAnalyze(cmd *cobra.Command, args []string) error {
	token := args[0]
	if err := ingest.ValidateAddress(token); err != nil {
		return err
	}

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
	rep, err := newAnalytics(cfg, st, dex, logger).Analyze(ctx, token)
	if err != nil {
		return err
	}
	if rep.SupplyFallback {
		logger.Warn("holdings computed against fallback supply", zap.String("token", token))
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(api.WalletsResponse{
		Token:          rep.Token,
		TotalSupply:    rep.TotalSupply,
		SupplyFallback: rep.SupplyFallback,
		Wallets:        rep.Sorted(),
	})
}

func runImportWallets(cmd *cobra.Command, args []string) error {
	raw, err := os.ReadFile(args[0])
	if err != nil {
		return err
	}
	var wallets []model.Wallet
	if err := json.Unmarshal(raw, &wallets); err != nil {
		return fmt.Errorf("decode %s: %w", args[0], err)
	}

	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	st, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	for i := range wallets {
		w := &wallets[i]
		if err := ingest.ValidateAddress(w.Address); err != nil {
			return fmt.Errorf("wallet %d: %w", i, err)
		}
		if err := st.UpsertWallet(ctx, w); err != nil {
			return fmt.Errorf("upsert %s: %w", w.Address, err)
		}
	}
	logger.Info("wallets imported", zap.Int("count", len(wallets)))
	return nil
}
