package oracle

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/walletmonitor/signal-engine/internal/cache"
	"github.com/walletmonitor/signal-engine/internal/model"
)

// NativePriceTTL is how long a fetched SOL price is served without refresh.
const NativePriceTTL = 10 * time.Minute

// PriceSource answers raw price lookups.
type PriceSource interface {
	GetPrice(ctx context.Context, token string) (decimal.Decimal, error)
}

// PriceOracle prices tokens in USD. The stablecoin is pinned at 1, the
// native asset is cached for NativePriceTTL and the last known value is
// served when a refresh fails. Everything else goes to the source.
type PriceOracle struct {
	source PriceSource
	fresh  *cache.TTL[string, decimal.Decimal]
	logger *zap.Logger

	mu    sync.Mutex
	stale map[string]decimal.Decimal
}

// NewPriceOracle wraps source.
func NewPriceOracle(source PriceSource, logger *zap.Logger) *PriceOracle {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PriceOracle{
		source: source,
		fresh:  cache.NewTTL[string, decimal.Decimal](NativePriceTTL),
		logger: logger.Named("price"),
		stale:  make(map[string]decimal.Decimal),
	}
}

var one = decimal.NewFromInt(1)

// GetPrice returns the current USD price of token.
func (o *PriceOracle) GetPrice(ctx context.Context, token string) (decimal.Decimal, error) {
	switch token {
	case model.StableMint:
		return one, nil
	case model.NativeMint:
		return o.cachedPrice(ctx, token)
	default:
		return o.source.GetPrice(ctx, token)
	}
}

func (o *PriceOracle) cachedPrice(ctx context.Context, token string) (decimal.Decimal, error) {
	if p, ok := o.fresh.Get(token); ok {
		return p, nil
	}

	p, err := o.source.GetPrice(ctx, token)
	if err != nil {
		o.mu.Lock()
		last, ok := o.stale[token]
		o.mu.Unlock()
		if ok {
			o.logger.Warn("price refresh failed, serving last known value",
				zap.String("token", token), zap.String("price", last.String()), zap.Error(err))
			return last, nil
		}
		return decimal.Zero, err
	}

	o.fresh.Set(token, p)
	o.mu.Lock()
	o.stale[token] = p
	o.mu.Unlock()
	return p, nil
}
