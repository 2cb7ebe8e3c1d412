package notify

import (
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/walletmonitor/signal-engine/internal/analytics"
	"github.com/walletmonitor/signal-engine/internal/model"
)

var (
	thousand = decimal.NewFromInt(1_000)
	million  = decimal.NewFromInt(1_000_000)
)

// FormatUSD renders an amount as $1.2M, $12K or $12. The unit is picked
// after rounding, so 999.6 renders as $1K rather than $1000.
func FormatUSD(d decimal.Decimal) string {
	units := d.Round(0)
	thousands := d.Div(thousand).Round(0)
	switch {
	case d.GreaterThanOrEqual(million) || thousands.GreaterThanOrEqual(thousand):
		return "$" + d.Div(million).StringFixed(1) + "M"
	case units.GreaterThanOrEqual(thousand):
		return "$" + thousands.String() + "K"
	default:
		return "$" + units.String()
	}
}

// FormatTimeAgo renders the age of a unix timestamp relative to now.
func FormatTimeAgo(ts int64, now time.Time) string {
	diff := now.Unix() - ts
	const (
		minute = 60
		hour   = 60 * minute
		day    = 24 * hour
	)
	switch {
	case diff < minute:
		return fmt.Sprintf("%ds ago", diff)
	case diff < hour:
		return fmt.Sprintf("%dm ago", diff/minute)
	case diff < day:
		return fmt.Sprintf("%dh ago", diff/hour)
	default:
		return fmt.Sprintf("%dd ago", diff/day)
	}
}

// Render builds the Telegram HTML message for a fired signal.
func Render(info *model.TokenInfo, rep *analytics.Report, now time.Time) string {
	symbol := html.EscapeString(info.Symbol)
	addr := html.EscapeString(info.Address)

	var b strings.Builder
	fmt.Fprintf(&b, "\U0001F436 Multi Buy Token: <b>$%s</b>\n", symbol)
	fmt.Fprintf(&b, "<code>%s</code>\n\n", addr)
	b.WriteString("\U0001F90D <b>Solana</b>\n")
	fmt.Fprintf(&b, "\U0001F49B <b>MC:</b> <code>%s</code>\n", FormatUSD(info.MarketCap))
	fmt.Fprintf(&b, "\U0001F90E <b>Vol/24h:</b> <code>%s</code>\n", FormatUSD(info.VolumeH24))
	fmt.Fprintf(&b, "\U0001F90D <b>Vol/1h:</b> <code>%s</code>\n", FormatUSD(info.VolumeH1))
	fmt.Fprintf(&b, "\U0001F49B <b>Liq:</b> <code>%s</code>\n", FormatUSD(info.Liquidity))
	fmt.Fprintf(&b, "\U0001F90E <b>USD:</b> <code>$%s</code>\n", info.PriceUSD.StringFixed(6))
	fmt.Fprintf(&b, "\U0001F90D <b>Age:</b> <code>%s</code>\n", FormatTimeAgo(info.CreatedAt, now))
	fmt.Fprintf(&b, "\U0001F49B <b>6H:</b> <code>%s%%</code>\n", info.ChangeH6.String())
	b.WriteString("\U0001F90E <b>SmartMoney:</b>\n")

	wallets := rep.Sorted()
	fmt.Fprintf(&b, "%d wallets bought $%s\n\n", len(wallets), symbol)

	for _, w := range wallets {
		fmt.Fprintf(&b, "▫<a href=\"https://solscan.io/account/%s\">%s</a> bought %s at MC %s(%s), Holds: %s%%\n",
			html.EscapeString(w.Account),
			html.EscapeString(w.Label),
			FormatUSD(w.TotalBuyCost),
			FormatUSD(w.AverageMarketCap),
			FormatTimeAgo(w.LatestBuyTimestamp, now),
			w.HoldsPercentage.StringFixed(2))
	}
	if len(wallets) > 0 {
		b.WriteString("\n")
	}

	fmt.Fprintf(&b, "<a href=\"https://dexscreener.com/solana/%s\">DexScreener</a> | <a href=\"https://gmgn.ai/sol/token/%s\">GMGN</a>", addr, addr)
	if info.Website != "" {
		fmt.Fprintf(&b, " | <a href=\"%s\">Website</a>", html.EscapeString(info.Website))
	}
	if info.Twitter != "" {
		fmt.Fprintf(&b, " | <a href=\"%s\">Twitter</a>", html.EscapeString(info.Twitter))
	}
	return b.String()
}
