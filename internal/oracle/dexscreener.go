package oracle

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/walletmonitor/signal-engine/internal/model"
	"github.com/walletmonitor/signal-engine/internal/retry"
)

// DefaultDexScreenerURL is the public API root.
const DefaultDexScreenerURL = "https://api.dexscreener.com"

// DexScreenerTimeout bounds a single HTTP attempt.
const DexScreenerTimeout = 5 * time.Second

// DexScreener reads token market snapshots from the DexScreener API.
type DexScreener struct {
	baseURL string
	chain   string
	client  *http.Client
	policy  retry.Policy
	logger  *zap.Logger
}

// NewDexScreener creates a client for the solana chain. An empty baseURL
// selects DefaultDexScreenerURL.
func NewDexScreener(baseURL string, policy retry.Policy, logger *zap.Logger) *DexScreener {
	if baseURL == "" {
		baseURL = DefaultDexScreenerURL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if policy.Timeout <= 0 || policy.Timeout > DexScreenerTimeout {
		policy.Timeout = DexScreenerTimeout
	}
	return &DexScreener{
		baseURL: strings.TrimRight(baseURL, "/"),
		chain:   "solana",
		client:  &http.Client{Timeout: DexScreenerTimeout},
		policy:  policy,
		logger:  logger.Named("dexscreener"),
	}
}

type dexPair struct {
	ChainID   string `json:"chainId"`
	BaseToken struct {
		Address string `json:"address"`
		Name    string `json:"name"`
		Symbol  string `json:"symbol"`
	} `json:"baseToken"`
	PriceUSD  decimal.NullDecimal `json:"priceUsd"`
	MarketCap decimal.NullDecimal `json:"marketCap"`
	Liquidity struct {
		USD decimal.NullDecimal `json:"usd"`
	} `json:"liquidity"`
	Volume struct {
		H24 decimal.NullDecimal `json:"h24"`
		H6  decimal.NullDecimal `json:"h6"`
		H1  decimal.NullDecimal `json:"h1"`
		M5  decimal.NullDecimal `json:"m5"`
	} `json:"volume"`
	PriceChange struct {
		H6 decimal.NullDecimal `json:"h6"`
	} `json:"priceChange"`
	PairCreatedAt int64 `json:"pairCreatedAt"` // milliseconds
	Info          *struct {
		Websites []struct {
			URL string `json:"url"`
		} `json:"websites"`
		Socials []struct {
			Type string `json:"type"`
			URL  string `json:"url"`
		} `json:"socials"`
	} `json:"info"`
}

func (p *dexPair) tokenInfo() *model.TokenInfo {
	info := &model.TokenInfo{
		Address:   p.BaseToken.Address,
		Name:      p.BaseToken.Name,
		Symbol:    p.BaseToken.Symbol,
		Chain:     p.ChainID,
		PriceUSD:  p.PriceUSD.Decimal,
		MarketCap: p.MarketCap.Decimal,
		Liquidity: p.Liquidity.USD.Decimal,
		VolumeH24: p.Volume.H24.Decimal,
		VolumeH6:  p.Volume.H6.Decimal,
		VolumeH1:  p.Volume.H1.Decimal,
		VolumeM5:  p.Volume.M5.Decimal,
		ChangeH6:  p.PriceChange.H6.Decimal,
		CreatedAt: p.PairCreatedAt / 1000,
	}
	if p.Info != nil {
		if len(p.Info.Websites) > 0 {
			info.Website = p.Info.Websites[0].URL
		}
		for _, s := range p.Info.Socials {
			if s.Type == "twitter" {
				info.Twitter = s.URL
				break
			}
		}
	}
	return info
}

// TokenInfo returns the market snapshot of the token's first listed pair.
// A token with no pairs yields model.ErrNotFound.
func (d *DexScreener) TokenInfo(ctx context.Context, token string) (*model.TokenInfo, error) {
	endpoint := fmt.Sprintf("%s/tokens/v1/%s/%s", d.baseURL, d.chain, url.PathEscape(token))

	var pairs []dexPair
	err := doJSON(ctx, d.client, d.policy, func(ctx context.Context) (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	}, &pairs)
	if err != nil {
		d.logger.Warn("token lookup failed", zap.String("token", token), zap.Error(err))
		return nil, fmt.Errorf("dexscreener %s: %w: %w", token, model.ErrUnavailable, err)
	}
	if len(pairs) == 0 {
		return nil, fmt.Errorf("dexscreener %s: no pairs: %w", token, model.ErrNotFound)
	}
	return pairs[0].tokenInfo(), nil
}

// GetPrice returns the USD price of token. A missing or zero price is
// reported as model.ErrUnavailable.
func (d *DexScreener) GetPrice(ctx context.Context, token string) (decimal.Decimal, error) {
	info, err := d.TokenInfo(ctx, token)
	if err != nil {
		return decimal.Zero, err
	}
	if !info.PriceUSD.IsPositive() {
		return decimal.Zero, fmt.Errorf("dexscreener %s: no price: %w", token, model.ErrUnavailable)
	}
	return info.PriceUSD, nil
}
