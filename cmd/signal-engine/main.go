package main

import (
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/walletmonitor/signal-engine/internal/config"
)

func main() {
	root := &cobra.Command{
		Use:          "signal-engine",
		Short:        "Multi-wallet buy signal engine for Solana tokens",
		SilenceUsage: true,
	}
	root.PersistentFlags().String("config", "", "config file path")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Receive webhooks, evaluate signals and notify",
		RunE:  runServe,
	}
	config.Flags(serveCmd.Flags())
	root.AddCommand(serveCmd)

	analyzeCmd := &cobra.Command{
		Use:   "analyze <token>",
		Short: "Print the wallet breakdown of a token as JSON",
		Args:  cobra.ExactArgs(1),
		RunE:  runAnalyze,
	}
	config.Flags(analyzeCmd.Flags())
	root.AddCommand(analyzeCmd)

	walletsCmd := &cobra.Command{
		Use:   "wallets",
		Short: "Manage tracked wallets",
	}
	importCmd := &cobra.Command{
		Use:   "import <file.json>",
		Short: "Upsert tracked wallets from a JSON array of {address, name, score}",
		Args:  cobra.ExactArgs(1),
		RunE:  runImportWallets,
	}
	config.Flags(importCmd.Flags())
	walletsCmd.AddCommand(importCmd)
	root.AddCommand(walletsCmd)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadConfig(cmd *cobra.Command) (config.Config, *zap.Logger, error) {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cfgFile, cmd.Flags())
	if err != nil {
		return config.Config{}, nil, err
	}
	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return config.Config{}, nil, err
	}
	return cfg, logger, nil
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevel()
	if err := cfg.Level.UnmarshalText([]byte(level)); err != nil {
		return nil, err
	}

	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	return cfg.Build()
}
