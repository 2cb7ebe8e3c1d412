package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/walletmonitor/signal-engine/internal/model"
)

// missingScore is cached for wallets the primary store does not know, so
// unscored wallets do not hit PostgreSQL on every swap.
const missingScore = "-"

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache for wallet lookups. Swap and signal traffic always goes to the
// primary; wallet writes invalidate the cache.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Write-through (write to primary, invalidate cache) ---

func (s *CachedStore) UpsertWallet(ctx context.Context, w *model.Wallet) error {
	if err := s.primary.UpsertWallet(ctx, w); err != nil {
		return err
	}
	s.rdb.Del(ctx, scoreKey(w.Address), nameKey(w.Address))
	return nil
}

// --- Read-through (check cache first) ---

func (s *CachedStore) GetWalletScore(ctx context.Context, account string) (int64, error) {
	if v, err := s.rdb.Get(ctx, scoreKey(account)).Result(); err == nil {
		if v == missingScore {
			return 0, fmt.Errorf("wallet %s: %w", account, model.ErrNotFound)
		}
		if score, err := strconv.ParseInt(v, 10, 64); err == nil {
			return score, nil
		}
	}

	score, err := s.primary.GetWalletScore(ctx, account)
	if errors.Is(err, model.ErrNotFound) {
		s.rdb.Set(ctx, scoreKey(account), missingScore, s.ttl)
		return 0, err
	}
	if err != nil {
		return 0, err
	}

	s.rdb.Set(ctx, scoreKey(account), strconv.FormatInt(score, 10), s.ttl)
	return score, nil
}

func (s *CachedStore) GetWalletNames(ctx context.Context, accounts []string) (map[string]string, error) {
	names := make(map[string]string, len(accounts))
	if len(accounts) == 0 {
		return names, nil
	}

	keys := make([]string, len(accounts))
	for i, a := range accounts {
		keys[i] = nameKey(a)
	}

	var misses []string
	vals, err := s.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		misses = accounts
	} else {
		for i, v := range vals {
			name, ok := v.(string)
			switch {
			case !ok:
				misses = append(misses, accounts[i])
			case name != "":
				names[accounts[i]] = name
			}
		}
	}
	if len(misses) == 0 {
		return names, nil
	}

	fetched, err := s.primary.GetWalletNames(ctx, misses)
	if err != nil {
		return nil, err
	}

	pipe := s.rdb.Pipeline()
	for _, a := range misses {
		// Empty string caches "no name" so unknown wallets stay cheap.
		pipe.Set(ctx, nameKey(a), fetched[a], s.ttl)
		if n, ok := fetched[a]; ok {
			names[a] = n
		}
	}
	pipe.Exec(ctx)

	return names, nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) InsertSwap(ctx context.Context, rec *model.SwapRecord) error {
	return s.primary.InsertSwap(ctx, rec)
}

func (s *CachedStore) SetSwapScore(ctx context.Context, id string, score int64) error {
	return s.primary.SetSwapScore(ctx, id, score)
}

func (s *CachedStore) QueryRecords(ctx context.Context, q model.RecordQuery) ([]model.SwapRecord, error) {
	return s.primary.QueryRecords(ctx, q)
}

func (s *CachedStore) GetTokenSwaps(ctx context.Context, token string) ([]model.SwapRecord, error) {
	return s.primary.GetTokenSwaps(ctx, token)
}

func (s *CachedStore) InsertSignal(ctx context.Context, sig *model.Signal) error {
	return s.primary.InsertSignal(ctx, sig)
}

func (s *CachedStore) ListSignals(ctx context.Context, limit int) ([]model.Signal, error) {
	return s.primary.ListSignals(ctx, limit)
}

// --- Cache helpers ---

func scoreKey(addr string) string { return fmt.Sprintf("wallet:score:%s", addr) }
func nameKey(addr string) string  { return fmt.Sprintf("wallet:name:%s", addr) }

var _ Store = (*CachedStore)(nil)
