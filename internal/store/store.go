// Package store defines the persistence interface for the signal engine.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache for wallet lookups), and in-memory (for testing).
package store

import (
	"context"

	"github.com/walletmonitor/signal-engine/internal/model"
)

// Store is the persistence interface. PostgreSQL is the source of truth;
// Redis provides a read-through cache layer.
type Store interface {
	// --- Swap log ---

	// InsertSwap appends a swap record.
	InsertSwap(ctx context.Context, rec *model.SwapRecord) error

	// SetSwapScore attaches the wallet score resolved at ingestion time.
	SetSwapScore(ctx context.Context, id string, score int64) error

	// QueryRecords returns buy records matching q, ordered by
	// (timestamp ASC, id ASC).
	QueryRecords(ctx context.Context, q model.RecordQuery) ([]model.SwapRecord, error)

	// GetTokenSwaps returns every record with token on either leg,
	// ordered by (timestamp ASC, id ASC).
	GetTokenSwaps(ctx context.Context, token string) ([]model.SwapRecord, error)

	// --- Wallets ---

	// UpsertWallet creates or replaces a tracked wallet.
	UpsertWallet(ctx context.Context, w *model.Wallet) error

	// GetWalletScore returns the reputation of account, or model.ErrNotFound.
	GetWalletScore(ctx context.Context, account string) (int64, error)

	// GetWalletNames returns display names for the known accounts only.
	GetWalletNames(ctx context.Context, accounts []string) (map[string]string, error)

	// --- Signals ---

	// InsertSignal records a fired signal.
	InsertSignal(ctx context.Context, sig *model.Signal) error

	// ListSignals returns the most recent signals, newest first.
	ListSignals(ctx context.Context, limit int) ([]model.Signal, error)
}
