package analytics

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/walletmonitor/signal-engine/internal/model"
	"github.com/walletmonitor/signal-engine/internal/store"
)

const (
	tokenT = "DezXAZ8z7PnrnRJjz3wXBoRgixCaSNSqv2XUXEWz5sV"
	other  = "JUPyiwrYJFskUPiHa7hkeR8VUtAeFoSYbKedZNsDvCN"
)

var errOracleDown = errors.New("oracle down")

type fakePrices struct {
	mu     sync.Mutex
	prices map[string]decimal.Decimal
	calls  map[string]int
}

func newFakePrices(p map[string]decimal.Decimal) *fakePrices {
	return &fakePrices{prices: p, calls: make(map[string]int)}
}

func (f *fakePrices) GetPrice(_ context.Context, token string) (decimal.Decimal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[token]++
	p, ok := f.prices[token]
	if !ok {
		return decimal.Zero, errOracleDown
	}
	return p, nil
}

type fakeSupply struct {
	supply decimal.Decimal
	err    error
}

func (f fakeSupply) GetTotalSupply(context.Context, string) (decimal.Decimal, error) {
	return f.supply, f.err
}

type failingLabels struct{}

func (failingLabels) GetWalletNames(context.Context, []string) (map[string]string, error) {
	return nil, errors.New("db down")
}

type failingHistory struct{}

func (failingHistory) GetTokenSwaps(context.Context, string) ([]model.SwapRecord, error) {
	return nil, errors.New("db down")
}

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func swap(id, account, in, inAmt, out, outAmt string, ts int64) *model.SwapRecord {
	return &model.SwapRecord{
		ID:              id,
		Account:         account,
		TokenInAddress:  in,
		TokenInAmount:   d(inAmt),
		TokenOutAddress: out,
		TokenOutAmount:  d(outAmt),
		Timestamp:       ts,
	}
}

func seeded(t *testing.T, recs ...*model.SwapRecord) *store.MemoryStore {
	t.Helper()
	ms := store.NewMemoryStore()
	for _, r := range recs {
		require.NoError(t, ms.InsertSwap(context.Background(), r))
	}
	return ms
}

func TestAnalyze_HoldsAfterPartialSell(t *testing.T) {
	ms := seeded(t,
		swap("1", "W1", model.NativeMint, "2", tokenT, "1000", 100),
		swap("2", "W1", tokenT, "600", model.NativeMint, "3", 200),
	)
	require.NoError(t, ms.UpsertWallet(context.Background(), &model.Wallet{Address: "W1", Name: "alpha"}))
	prices := newFakePrices(map[string]decimal.Decimal{model.NativeMint: d("150")})
	e := NewEngine(ms, prices, fakeSupply{supply: d("1000000")}, ms, Options{})

	rep, err := e.Analyze(context.Background(), tokenT)
	require.NoError(t, err)
	require.Len(t, rep.Wallets, 1)

	w := rep.Wallets["W1"]
	assert.Equal(t, "alpha", w.Label)
	assert.True(t, w.HoldsPercentage.Equal(d("40")), "got %s", w.HoldsPercentage)
	assert.True(t, w.TotalBuyCost.Equal(d("300")))
	assert.True(t, w.TotalBuyAmount.Equal(d("1000")))
	assert.True(t, w.TotalSellAmount.Equal(d("600")))
	assert.True(t, w.AverageBuyPrice.Equal(d("0.3")))
	assert.True(t, w.AverageMarketCap.Equal(d("300000")))
	assert.Equal(t, int64(100), w.LatestBuyTimestamp)
	assert.False(t, rep.SupplyFallback)
}

func TestAnalyze_FailedPriceLeg(t *testing.T) {
	ms := seeded(t,
		swap("1", "W1", model.StableMint, "100", tokenT, "1000", 100),
		swap("2", "W1", other, "5", tokenT, "500", 200),
	)
	// no price for `other`
	prices := newFakePrices(map[string]decimal.Decimal{model.StableMint: d("1")})
	e := NewEngine(ms, prices, fakeSupply{supply: d("1000000")}, ms, Options{})

	rep, err := e.Analyze(context.Background(), tokenT)
	require.NoError(t, err)

	w := rep.Wallets["W1"]
	assert.True(t, w.TotalBuyCost.Equal(d("100")), "failed leg adds zero cost")
	assert.True(t, w.AverageBuyPrice.Equal(d("0.1")), "average over priced legs only, got %s", w.AverageBuyPrice)
	assert.True(t, w.TotalBuyAmount.Equal(d("1500")), "amount still counts toward holdings")
	assert.True(t, w.HoldsPercentage.Equal(d("100")))
	assert.Equal(t, int64(200), w.LatestBuyTimestamp)
}

func TestAnalyze_HoldingsFloor(t *testing.T) {
	ms := seeded(t,
		swap("1", "W1", model.NativeMint, "1", tokenT, "100", 100),
		// sold more than bought here (tokens received elsewhere)
		swap("2", "W1", tokenT, "250", model.NativeMint, "2", 200),
	)
	e := NewEngine(ms, newFakePrices(nil), fakeSupply{supply: d("1")}, ms, Options{})

	rep, err := e.Analyze(context.Background(), tokenT)
	require.NoError(t, err)
	assert.True(t, rep.Wallets["W1"].HoldsPercentage.IsZero())
	assert.False(t, rep.Wallets["W1"].HoldsPercentage.IsNegative())
}

func TestAnalyze_SellerWithoutBuysExcluded(t *testing.T) {
	ms := seeded(t,
		swap("1", "W1", model.NativeMint, "1", tokenT, "100", 100),
		swap("2", "W2", tokenT, "50", model.NativeMint, "1", 200),
	)
	e := NewEngine(ms, newFakePrices(nil), fakeSupply{supply: d("1")}, ms, Options{})

	rep, err := e.Analyze(context.Background(), tokenT)
	require.NoError(t, err)
	assert.Contains(t, rep.Wallets, "W1")
	assert.NotContains(t, rep.Wallets, "W2")
	assert.Equal(t, UnknownLabel, rep.Wallets["W1"].Label)
}

func TestAnalyze_SupplyFallback(t *testing.T) {
	ms := seeded(t, swap("1", "W1", model.StableMint, "10", tokenT, "100", 100))
	prices := newFakePrices(map[string]decimal.Decimal{model.StableMint: d("1")})
	e := NewEngine(ms, prices, fakeSupply{err: errOracleDown}, ms, Options{})

	rep, err := e.Analyze(context.Background(), tokenT)
	require.NoError(t, err)
	assert.True(t, rep.SupplyFallback)
	assert.True(t, rep.TotalSupply.Equal(DefaultTotalSupply))
	assert.True(t, rep.Wallets["W1"].AverageMarketCap.Equal(d("100000000")))
}

func TestAnalyze_NoBuyersIsNotFallback(t *testing.T) {
	ms := seeded(t, swap("1", "W1", tokenT, "50", model.NativeMint, "1", 100))
	e := NewEngine(ms, newFakePrices(nil), fakeSupply{err: errOracleDown}, ms, Options{})

	rep, err := e.Analyze(context.Background(), tokenT)
	require.NoError(t, err)
	assert.Empty(t, rep.Wallets)
	assert.False(t, rep.SupplyFallback)
	assert.True(t, rep.TotalSupply.IsZero())
}

func TestAnalyze_AverageMarketCapPrecision(t *testing.T) {
	ms := seeded(t, swap("1", "W1", model.StableMint, "1", tokenT, "3000000000000", 100))
	prices := newFakePrices(map[string]decimal.Decimal{model.StableMint: d("1")})
	e := NewEngine(ms, prices, fakeSupply{supply: d("1000000000000000")}, ms, Options{})

	rep, err := e.Analyze(context.Background(), tokenT)
	require.NoError(t, err)
	agg := rep.Wallets["W1"]
	assert.Equal(t, "333.33", agg.AverageMarketCap.StringFixed(2))
	assert.True(t, agg.AverageBuyPrice.IsPositive())
}

func TestAnalyze_IncludesBuyAtEpoch(t *testing.T) {
	ms := seeded(t,
		swap("1", "W1", model.NativeMint, "1", tokenT, "1000", 0),
		swap("2", "W2", model.NativeMint, "1", tokenT, "1000", 3600),
	)
	prices := newFakePrices(map[string]decimal.Decimal{model.NativeMint: d("150")})
	e := NewEngine(ms, prices, fakeSupply{supply: d("1000000")}, ms, Options{})

	rep, err := e.Analyze(context.Background(), tokenT)
	require.NoError(t, err)
	assert.Len(t, rep.Wallets, 2)
	assert.Contains(t, rep.Wallets, "W1")
	assert.Contains(t, rep.Wallets, "W2")
}

func TestAnalyze_PriceResolvedOncePerToken(t *testing.T) {
	ms := seeded(t,
		swap("1", "W1", model.NativeMint, "1", tokenT, "100", 100),
		swap("2", "W2", model.NativeMint, "2", tokenT, "200", 110),
		swap("3", "W3", model.NativeMint, "3", tokenT, "300", 120),
	)
	prices := newFakePrices(map[string]decimal.Decimal{model.NativeMint: d("100")})
	e := NewEngine(ms, prices, fakeSupply{supply: d("1")}, ms, Options{PriceWorkers: 2})

	_, err := e.Analyze(context.Background(), tokenT)
	require.NoError(t, err)
	assert.Equal(t, 1, prices.calls[model.NativeMint])
}

func TestAnalyze_Idempotent(t *testing.T) {
	ms := seeded(t,
		swap("1", "W1", model.NativeMint, "1.5", tokenT, "1000", 100),
		swap("2", "W2", model.StableMint, "30", tokenT, "100", 110),
		swap("3", "W1", tokenT, "333", model.NativeMint, "0.4", 120),
	)
	prices := newFakePrices(map[string]decimal.Decimal{model.NativeMint: d("142.37"), model.StableMint: d("1")})
	e := NewEngine(ms, prices, fakeSupply{supply: d("999999999.123")}, ms, Options{})

	first, err := e.Analyze(context.Background(), tokenT)
	require.NoError(t, err)
	second, err := e.Analyze(context.Background(), tokenT)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestAnalyze_LabelFailureDegrades(t *testing.T) {
	ms := seeded(t, swap("1", "W1", model.NativeMint, "1", tokenT, "100", 100))
	e := NewEngine(ms, newFakePrices(nil), fakeSupply{supply: d("1")}, failingLabels{}, Options{})

	rep, err := e.Analyze(context.Background(), tokenT)
	require.NoError(t, err)
	assert.Equal(t, UnknownLabel, rep.Wallets["W1"].Label)
}

func TestAnalyze_HistoryFailureIsLookupError(t *testing.T) {
	e := NewEngine(failingHistory{}, newFakePrices(nil), fakeSupply{}, failingLabels{}, Options{})

	_, err := e.Analyze(context.Background(), tokenT)
	assert.True(t, errors.Is(err, model.ErrLookup))
}

func TestAnalyze_BoundedFanOut(t *testing.T) {
	var recs []*model.SwapRecord
	tokens := make(map[string]decimal.Decimal)
	for i := 0; i < 20; i++ {
		in := string(rune('a'+i)) + "-mint"
		tokens[in] = d("1")
		recs = append(recs, swap(in, "W1", in, "1", tokenT, "1", int64(100+i)))
	}
	ms := seeded(t, recs...)
	oracle := &concurrencyProbe{prices: tokens}
	e := NewEngine(ms, oracle, fakeSupply{supply: d("1")}, ms, Options{PriceWorkers: 3})

	_, err := e.Analyze(context.Background(), tokenT)
	require.NoError(t, err)
	assert.LessOrEqual(t, oracle.peak.Load(), int64(3))
}

type concurrencyProbe struct {
	prices   map[string]decimal.Decimal
	inFlight atomic.Int64
	peak     atomic.Int64
}

func (p *concurrencyProbe) GetPrice(_ context.Context, token string) (decimal.Decimal, error) {
	n := p.inFlight.Add(1)
	defer p.inFlight.Add(-1)
	for {
		old := p.peak.Load()
		if n <= old || p.peak.CompareAndSwap(old, n) {
			break
		}
	}
	return p.prices[token], nil
}

func TestReport_Sorted(t *testing.T) {
	rep := &Report{Wallets: map[string]model.WalletAggregate{
		"A": {Account: "A", LatestBuyTimestamp: 10},
		"B": {Account: "B", LatestBuyTimestamp: 30},
		"C": {Account: "C", LatestBuyTimestamp: 30},
	}}
	got := rep.Sorted()
	require.Len(t, got, 3)
	assert.Equal(t, []string{"B", "C", "A"}, []string{got[0].Account, got[1].Account, got[2].Account})
}
