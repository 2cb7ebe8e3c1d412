package signal

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/walletmonitor/signal-engine/internal/model"
)

// MarketFilter gates a fired signal on the token's market snapshot.
// A zero MaxAge disables the age check.
type MarketFilter struct {
	MaxAge       time.Duration
	MinMarketCap decimal.Decimal
}

// Allow reports whether info passes the filter at now.
func (f MarketFilter) Allow(info *model.TokenInfo, now time.Time) bool {
	if info == nil {
		return false
	}
	if f.MaxAge > 0 && info.CreatedAt > 0 {
		age := now.Sub(time.Unix(info.CreatedAt, 0))
		if age > f.MaxAge {
			return false
		}
	}
	return info.MarketCap.GreaterThanOrEqual(f.MinMarketCap)
}
