package signal

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/walletmonitor/signal-engine/internal/model"
)

func TestMarketFilter(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	f := MarketFilter{MaxAge: 72 * time.Hour, MinMarketCap: decimal.NewFromInt(100_000)}

	young := &model.TokenInfo{CreatedAt: now.Add(-time.Hour).Unix(), MarketCap: decimal.NewFromInt(250_000)}
	old := &model.TokenInfo{CreatedAt: now.Add(-100 * time.Hour).Unix(), MarketCap: decimal.NewFromInt(250_000)}
	small := &model.TokenInfo{CreatedAt: now.Add(-time.Hour).Unix(), MarketCap: decimal.NewFromInt(99_999)}
	exact := &model.TokenInfo{CreatedAt: now.Add(-72 * time.Hour).Unix(), MarketCap: decimal.NewFromInt(100_000)}

	assert.True(t, f.Allow(young, now))
	assert.False(t, f.Allow(old, now))
	assert.False(t, f.Allow(small, now))
	assert.True(t, f.Allow(exact, now))
	assert.False(t, f.Allow(nil, now))

	assert.True(t, MarketFilter{}.Allow(old, now), "zero filter allows everything")
}
