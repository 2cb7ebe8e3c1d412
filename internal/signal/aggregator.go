// Package signal decides whether accumulated buy activity of tracked wallets
// on a token crossed the configured score threshold inside a sliding window.
//
// The window is recomputed from the swap store on every evaluation, so no
// per-token state survives between calls and a restart loses nothing.
package signal

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/walletmonitor/signal-engine/internal/model"
	"github.com/walletmonitor/signal-engine/internal/retry"
)

// DefaultWindow is the six-hour buy interval.
const DefaultWindow = 6 * time.Hour

// RecordQuerier is the historical-query collaborator.
type RecordQuerier interface {
	QueryRecords(ctx context.Context, q model.RecordQuery) ([]model.SwapRecord, error)
}

// ReputationLookup resolves wallet scores. Unknown wallets return model.ErrNotFound.
type ReputationLookup interface {
	GetWalletScore(ctx context.Context, account string) (int64, error)
}

// ScoreWriter persists the score attached to a stored record.
type ScoreWriter interface {
	SetSwapScore(ctx context.Context, id string, score int64) error
}

// Config holds the firing parameters.
type Config struct {
	Window         time.Duration
	ScoreThreshold int64
}

// Validate rejects a non-positive window.
func (c Config) Validate() error {
	if c.Window <= 0 {
		return fmt.Errorf("signal: window must be positive, got %s", c.Window)
	}
	return nil
}

// Decision is the outcome of one evaluation.
type Decision struct {
	Fired        bool
	Exit         bool // token out was native/stable; nothing was evaluated
	TokenAddress string
	TotalScore   int64
	Accounts     []string // contributing accounts, trigger first
	WindowStart  int64
}

// Aggregator evaluates swap records against the windowed score threshold.
type Aggregator struct {
	records    RecordQuerier
	reputation ReputationLookup
	scores     ScoreWriter // optional
	cfg        Config
	policy     retry.Policy
}

// NewAggregator creates an aggregator. scores may be nil when the record
// store does not need the score written back.
func NewAggregator(records RecordQuerier, reputation ReputationLookup, scores ScoreWriter, cfg Config, policy retry.Policy) (*Aggregator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Aggregator{
		records:    records,
		reputation: reputation,
		scores:     scores,
		cfg:        cfg,
		policy:     policy,
	}, nil
}

// Config returns the firing parameters in use.
func (a *Aggregator) Config() Config { return a.cfg }

// ScoreRecord resolves the reputation of rec.Account, attaches it to rec and,
// when a ScoreWriter is configured, to the stored record. Unknown wallets
// score zero.
func (a *Aggregator) ScoreRecord(ctx context.Context, rec *model.SwapRecord) (int64, error) {
	var score int64
	err := retry.Do(ctx, a.policy, func(ctx context.Context) error {
		s, err := a.reputation.GetWalletScore(ctx, rec.Account)
		if errors.Is(err, model.ErrNotFound) {
			return retry.Permanent(err)
		}
		score = s
		return err
	})
	switch {
	case errors.Is(err, model.ErrNotFound):
		score = 0
	case err != nil:
		return 0, model.NewLookupError("wallet score", err)
	}

	rec.WalletScore = score
	if a.scores != nil && rec.ID != "" {
		err := retry.Do(ctx, a.policy, func(ctx context.Context) error {
			return a.scores.SetSwapScore(ctx, rec.ID, score)
		})
		if err != nil {
			return score, model.NewLookupError("persist swap score", err)
		}
	}
	return score, nil
}

// Evaluate decides whether rec pushes its output token over the threshold.
//
// The trigger's own account and WalletScore seed the accumulator; every other
// account inside [rec.Timestamp-window, rec.Timestamp] contributes the score of
// its first record in retrieval order (timestamp, id), once.
func (a *Aggregator) Evaluate(ctx context.Context, rec *model.SwapRecord) (Decision, error) {
	d := Decision{TokenAddress: rec.TokenOutAddress}
	if model.IsExit(rec.TokenOutAddress) {
		d.Exit = true
		return d, nil
	}
	if err := rec.Validate(); err != nil {
		return d, err
	}

	d.WindowStart = rec.Timestamp - int64(a.cfg.Window/time.Second)
	q := model.RecordQuery{
		TokenOut:       rec.TokenOutAddress,
		Since:          d.WindowStart,
		Until:          model.UpTo(rec.Timestamp),
		ExcludeAccount: rec.Account,
	}

	var others []model.SwapRecord
	err := retry.Do(ctx, a.policy, func(ctx context.Context) error {
		var err error
		others, err = a.records.QueryRecords(ctx, q)
		return err
	})
	if err != nil {
		return d, model.NewLookupError("query records", err)
	}

	d.TotalScore, d.Accounts = fold(rec, others)
	d.Fired = d.TotalScore >= a.cfg.ScoreThreshold
	return d, nil
}

// fold sums one score per distinct account, trigger first.
func fold(trigger *model.SwapRecord, others []model.SwapRecord) (int64, []string) {
	seen := map[string]struct{}{trigger.Account: {}}
	accounts := []string{trigger.Account}
	total := trigger.WalletScore

	for i := range others {
		acc := others[i].Account
		if _, ok := seen[acc]; ok {
			continue
		}
		seen[acc] = struct{}{}
		accounts = append(accounts, acc)
		total += others[i].WalletScore
	}
	return total, accounts
}
