package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/walletmonitor/signal-engine/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu      sync.RWMutex
	swaps   []model.SwapRecord
	index   map[string]int // swap id → position in swaps
	wallets map[string]model.Wallet
	signals []model.Signal
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		index:   make(map[string]int),
		wallets: make(map[string]model.Wallet),
	}
}

func (s *MemoryStore) InsertSwap(_ context.Context, rec *model.SwapRecord) error {
	if rec.ID == "" {
		return fmt.Errorf("swap id is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.index[rec.ID]; exists {
		return fmt.Errorf("swap %s: %w", rec.ID, model.ErrDuplicate)
	}
	s.index[rec.ID] = len(s.swaps)
	s.swaps = append(s.swaps, *rec)
	return nil
}

func (s *MemoryStore) SetSwapScore(_ context.Context, id string, score int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	i, ok := s.index[id]
	if !ok {
		return fmt.Errorf("swap %s: %w", id, model.ErrNotFound)
	}
	s.swaps[i].WalletScore = score
	return nil
}

func (s *MemoryStore) QueryRecords(_ context.Context, q model.RecordQuery) ([]model.SwapRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.SwapRecord
	for i := range s.swaps {
		if q.Matches(&s.swaps[i]) {
			result = append(result, s.swaps[i])
		}
	}
	sortRecords(result)
	return result, nil
}

func (s *MemoryStore) GetTokenSwaps(_ context.Context, token string) ([]model.SwapRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.SwapRecord
	for _, r := range s.swaps {
		if r.TokenInAddress == token || r.TokenOutAddress == token {
			result = append(result, r)
		}
	}
	sortRecords(result)
	return result, nil
}

func (s *MemoryStore) UpsertWallet(_ context.Context, w *model.Wallet) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.wallets[w.Address] = *w
	return nil
}

func (s *MemoryStore) GetWalletScore(_ context.Context, account string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	w, ok := s.wallets[account]
	if !ok {
		return 0, fmt.Errorf("wallet %s: %w", account, model.ErrNotFound)
	}
	return w.Score, nil
}

func (s *MemoryStore) GetWalletNames(_ context.Context, accounts []string) (map[string]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make(map[string]string, len(accounts))
	for _, a := range accounts {
		if w, ok := s.wallets[a]; ok && w.Name != "" {
			names[a] = w.Name
		}
	}
	return names, nil
}

func (s *MemoryStore) InsertSignal(_ context.Context, sig *model.Signal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *sig
	cp.Accounts = append([]string(nil), sig.Accounts...)
	s.signals = append(s.signals, cp)
	return nil
}

func (s *MemoryStore) ListSignals(_ context.Context, limit int) ([]model.Signal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]model.Signal, 0, len(s.signals))
	for i := len(s.signals) - 1; i >= 0; i-- {
		if limit > 0 && len(result) == limit {
			break
		}
		result = append(result, s.signals[i])
	}
	return result, nil
}

// sortRecords orders by (timestamp, id) so retrieval order is deterministic.
func sortRecords(recs []model.SwapRecord) {
	sort.SliceStable(recs, func(i, j int) bool {
		if recs[i].Timestamp != recs[j].Timestamp {
			return recs[i].Timestamp < recs[j].Timestamp
		}
		return recs[i].ID < recs[j].ID
	})
}

var _ Store = (*MemoryStore)(nil)
