// Package analytics computes per-wallet trading snapshots for a token from
// the stored swap history and current market data.
package analytics

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/walletmonitor/signal-engine/internal/metrics"
	"github.com/walletmonitor/signal-engine/internal/model"
)

// UnknownLabel is used for wallets without a display name.
const UnknownLabel = "Unknown"

// DefaultTotalSupply is substituted when the chain supply lookup fails.
// It is the common pump-style launch supply and only an approximation:
// market caps derived from it are flagged via Report.SupplyFallback.
var DefaultTotalSupply = decimal.NewFromInt(1_000_000_000)

const defaultPriceWorkers = 4

// divPrecision is the number of decimal places kept by averages.
const divPrecision = 20

var hundred = decimal.NewFromInt(100)

// HistorySource returns every swap with token on either leg.
type HistorySource interface {
	GetTokenSwaps(ctx context.Context, token string) ([]model.SwapRecord, error)
}

// PriceOracle returns the current USD price of a token.
type PriceOracle interface {
	GetPrice(ctx context.Context, token string) (decimal.Decimal, error)
}

// SupplyOracle returns the total supply of a token, already scaled by decimals.
type SupplyOracle interface {
	GetTotalSupply(ctx context.Context, token string) (decimal.Decimal, error)
}

// LabelLookup resolves display names for a batch of accounts. Accounts
// without a name are absent from the result.
type LabelLookup interface {
	GetWalletNames(ctx context.Context, accounts []string) (map[string]string, error)
}

// Report is the analytics snapshot of one token.
type Report struct {
	Token          string                           `json:"token"`
	TotalSupply    decimal.Decimal                  `json:"total_supply"`
	SupplyFallback bool                             `json:"supply_fallback"`
	Wallets        map[string]model.WalletAggregate `json:"wallets"`
}

// Sorted returns the wallets ordered by latest buy, newest first.
func (r *Report) Sorted() []model.WalletAggregate {
	out := make([]model.WalletAggregate, 0, len(r.Wallets))
	for _, w := range r.Wallets {
		out = append(out, w)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].LatestBuyTimestamp != out[j].LatestBuyTimestamp {
			return out[i].LatestBuyTimestamp > out[j].LatestBuyTimestamp
		}
		return out[i].Account < out[j].Account
	})
	return out
}

// Options tunes an Engine.
type Options struct {
	PriceWorkers int
	Logger       *zap.Logger
}

// Engine builds Reports. It holds no per-token state between calls.
type Engine struct {
	history HistorySource
	prices  PriceOracle
	supply  SupplyOracle
	labels  LabelLookup
	workers int
	logger  *zap.Logger
}

// NewEngine creates an analytics engine.
func NewEngine(history HistorySource, prices PriceOracle, supply SupplyOracle, labels LabelLookup, opts Options) *Engine {
	if opts.PriceWorkers <= 0 {
		opts.PriceWorkers = defaultPriceWorkers
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Engine{
		history: history,
		prices:  prices,
		supply:  supply,
		labels:  labels,
		workers: opts.PriceWorkers,
		logger:  opts.Logger.Named("analytics"),
	}
}

// legs groups one account's records for the analysed token.
type legs struct {
	buys  []model.SwapRecord
	sells []model.SwapRecord
}

// Analyze returns one WalletAggregate per account that bought token.
// Oracle failures degrade to zero price or DefaultTotalSupply; only a
// failed history lookup is returned, as a *model.LookupError.
func (e *Engine) Analyze(ctx context.Context, token string) (*Report, error) {
	start := time.Now()
	defer func() { metrics.AnalysisLatency.Observe(time.Since(start).Seconds()) }()

	recs, err := e.history.GetTokenSwaps(ctx, token)
	if err != nil {
		metrics.LookupFailures.WithLabelValues("history").Inc()
		return nil, model.NewLookupError("token history", err)
	}

	byAccount := make(map[string]*legs)
	inputTokens := make(map[string]struct{})
	for i := range recs {
		r := recs[i]
		if err := r.Validate(); err != nil {
			e.logger.Warn("skipping invalid swap record", zap.String("id", r.ID), zap.Error(err))
			continue
		}
		l, ok := byAccount[r.Account]
		if !ok {
			l = &legs{}
			byAccount[r.Account] = l
		}
		switch {
		case r.IsBuyOf(token):
			l.buys = append(l.buys, r)
		case r.IsSellOf(token):
			l.sells = append(l.sells, r)
		}
	}
	for acc, l := range byAccount {
		if len(l.buys) == 0 {
			delete(byAccount, acc)
			continue
		}
		for _, b := range l.buys {
			inputTokens[b.TokenInAddress] = struct{}{}
		}
	}

	report := &Report{Token: token, Wallets: make(map[string]model.WalletAggregate, len(byAccount))}
	if len(byAccount) == 0 {
		return report, nil
	}

	report.TotalSupply, report.SupplyFallback = e.resolveSupply(ctx, token)
	prices := e.resolvePrices(ctx, inputTokens)

	accounts := make([]string, 0, len(byAccount))
	for acc, l := range byAccount {
		agg := aggregate(acc, l, prices, report.TotalSupply)
		report.Wallets[acc] = agg
		accounts = append(accounts, acc)
	}
	sort.Strings(accounts)

	names, err := e.labels.GetWalletNames(ctx, accounts)
	if err != nil {
		metrics.LookupFailures.WithLabelValues("labels").Inc()
		e.logger.Warn("wallet label lookup failed", zap.String("token", token), zap.Error(err))
		names = nil
	}
	for _, acc := range accounts {
		agg := report.Wallets[acc]
		agg.Label = UnknownLabel
		if n := names[acc]; n != "" {
			agg.Label = n
		}
		report.Wallets[acc] = agg
	}
	return report, nil
}

// aggregate folds one account's legs. Buy legs whose input price could
// not be resolved contribute zero cost and are left out of the average
// price denominator; their amount still counts toward holdings.
func aggregate(account string, l *legs, prices map[string]pricePoint, supply decimal.Decimal) model.WalletAggregate {
	agg := model.WalletAggregate{Account: account}
	pricedAmount := decimal.Zero

	for _, b := range l.buys {
		agg.TotalBuyAmount = agg.TotalBuyAmount.Add(b.TokenOutAmount)
		if b.Timestamp > agg.LatestBuyTimestamp {
			agg.LatestBuyTimestamp = b.Timestamp
		}
		p := prices[b.TokenInAddress]
		if !p.ok {
			continue
		}
		agg.TotalBuyCost = agg.TotalBuyCost.Add(p.price.Mul(b.TokenInAmount))
		pricedAmount = pricedAmount.Add(b.TokenOutAmount)
	}
	for _, s := range l.sells {
		agg.TotalSellAmount = agg.TotalSellAmount.Add(s.TokenInAmount)
	}

	if pricedAmount.IsPositive() {
		agg.AverageBuyPrice = agg.TotalBuyCost.DivRound(pricedAmount, divPrecision)
		agg.AverageMarketCap = agg.TotalBuyCost.Mul(supply).DivRound(pricedAmount, divPrecision)
	}

	if agg.TotalBuyAmount.IsPositive() {
		remaining := decimal.Max(decimal.Zero, agg.TotalBuyAmount.Sub(agg.TotalSellAmount))
		agg.HoldsPercentage = remaining.Div(agg.TotalBuyAmount).Mul(hundred)
	}
	return agg
}

type pricePoint struct {
	price decimal.Decimal
	ok    bool
}

// resolvePrices looks up each distinct token once with bounded fan-out.
// Failures are recorded as unpriced and never cancel the other lookups.
func (e *Engine) resolvePrices(ctx context.Context, tokens map[string]struct{}) map[string]pricePoint {
	var (
		mu  sync.Mutex
		out = make(map[string]pricePoint, len(tokens))
		g   errgroup.Group
	)
	g.SetLimit(e.workers)

	for tok := range tokens {
		tok := tok
		g.Go(func() error {
			p, err := e.prices.GetPrice(ctx, tok)
			pp := pricePoint{price: p, ok: err == nil}
			if err != nil {
				metrics.LookupFailures.WithLabelValues("price").Inc()
				e.logger.Warn("price lookup failed, leg priced at zero",
					zap.String("token", tok), zap.Error(err))
				pp.price = decimal.Zero
			}
			mu.Lock()
			out[tok] = pp
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return out
}

func (e *Engine) resolveSupply(ctx context.Context, token string) (decimal.Decimal, bool) {
	supply, err := e.supply.GetTotalSupply(ctx, token)
	if err == nil && supply.IsPositive() {
		return supply, false
	}
	if err != nil {
		metrics.LookupFailures.WithLabelValues("supply").Inc()
	}
	e.logger.Warn("total supply unavailable, using default",
		zap.String("token", token),
		zap.String("default", DefaultTotalSupply.String()),
		zap.Error(err))
	return DefaultTotalSupply, true
}
