// Package model defines the core domain types shared across the signal engine.
// Token amounts and prices use shopspring/decimal, never float64.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Well-known Solana mints. Swaps into either of these are exits, not buys.
const (
	NativeMint = "So11111111111111111111111111111111111111112"  // wrapped SOL
	StableMint = "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v" // USDC
)

// IsExit reports whether token is the native asset or the primary stablecoin.
func IsExit(token string) bool {
	return token == NativeMint || token == StableMint
}

// SwapRecord is one observed swap by a tracked wallet.
// Records are immutable once stored, except for the WalletScore attached
// right after ingestion.
type SwapRecord struct {
	ID              string          `json:"id" db:"id"`
	Signature       string          `json:"signature,omitempty" db:"signature"`
	Account         string          `json:"account" db:"account"`
	TokenInAddress  string          `json:"token_in_address" db:"token_in_address"`
	TokenInAmount   decimal.Decimal `json:"token_in_amount" db:"token_in_amount"`   // scaled by decimals
	TokenOutAddress string          `json:"token_out_address" db:"token_out_address"`
	TokenOutAmount  decimal.Decimal `json:"token_out_amount" db:"token_out_amount"` // scaled by decimals
	Timestamp       int64           `json:"timestamp" db:"timestamp"`               // event time, unix seconds
	WalletScore     int64           `json:"score" db:"score"`
	Description     string          `json:"description,omitempty" db:"description"`
}

// IsBuyOf reports whether the record acquires token.
func (r *SwapRecord) IsBuyOf(token string) bool { return r.TokenOutAddress == token }

// IsSellOf reports whether the record disposes of token.
func (r *SwapRecord) IsSellOf(token string) bool { return r.TokenInAddress == token }

// Validate checks the record invariants. Violations are returned as *DataError.
func (r *SwapRecord) Validate() error {
	switch {
	case r.Account == "":
		return &DataError{Field: "account", Reason: "empty"}
	case r.TokenInAddress == "":
		return &DataError{Field: "token_in_address", Reason: "empty"}
	case r.TokenOutAddress == "":
		return &DataError{Field: "token_out_address", Reason: "empty"}
	case r.TokenInAddress == r.TokenOutAddress:
		return &DataError{Field: "token_out_address", Reason: "equals token_in_address"}
	case r.TokenInAmount.IsNegative():
		return &DataError{Field: "token_in_amount", Reason: "negative"}
	case r.TokenOutAmount.IsNegative():
		return &DataError{Field: "token_out_amount", Reason: "negative"}
	case r.Timestamp < 0:
		return &DataError{Field: "timestamp", Reason: "negative"}
	}
	return nil
}

// RecordQuery selects buy records of one token inside [Since, Until].
// A nil Until means no upper bound.
type RecordQuery struct {
	TokenOut       string
	Since          int64
	Until          *int64
	ExcludeAccount string
}

// UpTo returns an inclusive upper bound for RecordQuery.Until.
func UpTo(ts int64) *int64 { return &ts }

// Matches applies the query predicate to a single record.
func (q RecordQuery) Matches(r *SwapRecord) bool {
	if r.TokenOutAddress != q.TokenOut || r.Timestamp < q.Since {
		return false
	}
	if q.Until != nil && r.Timestamp > *q.Until {
		return false
	}
	return q.ExcludeAccount == "" || r.Account != q.ExcludeAccount
}

// Wallet is a tracked account with its externally maintained reputation.
type Wallet struct {
	Address string `json:"address" db:"address"`
	Name    string `json:"name" db:"name"`
	Score   int64  `json:"score" db:"score"`
}

// WalletAggregate is the per-(account, token) trading snapshot.
// Derived on demand; never persisted.
type WalletAggregate struct {
	Account            string          `json:"account"`
	Label              string          `json:"label"`
	TotalBuyCost       decimal.Decimal `json:"total_buy_cost"`    // USD, Σ price(tokenIn) * amountIn
	TotalBuyAmount     decimal.Decimal `json:"total_buy_amount"`  // tokens acquired
	TotalSellAmount    decimal.Decimal `json:"total_sell_amount"` // tokens disposed
	AverageBuyPrice    decimal.Decimal `json:"average_buy_price"`
	AverageMarketCap   decimal.Decimal `json:"average_market_cap"`
	HoldsPercentage    decimal.Decimal `json:"holds_percentage"`
	LatestBuyTimestamp int64           `json:"latest_buy_timestamp"`
}

// Signal is a fired multi-wallet buy signal.
type Signal struct {
	ID             string    `json:"id" db:"id"`
	TokenAddress   string    `json:"token_address" db:"token_address"`
	TotalScore     int64     `json:"total_score" db:"total_score"`
	Accounts       []string  `json:"accounts" db:"accounts"`
	TriggerAccount string    `json:"trigger_account" db:"trigger_account"`
	Timestamp      int64     `json:"timestamp" db:"timestamp"` // event time of the triggering swap
	FiredAt        time.Time `json:"fired_at" db:"fired_at"`
}

// TokenInfo is the market snapshot for a token as reported by DexScreener.
type TokenInfo struct {
	Address   string          `json:"address"`
	Name      string          `json:"name"`
	Symbol    string          `json:"symbol"`
	Chain     string          `json:"chain"`
	PriceUSD  decimal.Decimal `json:"price_usd"`
	MarketCap decimal.Decimal `json:"market_cap"`
	Liquidity decimal.Decimal `json:"liquidity"`
	VolumeH24 decimal.Decimal `json:"volume_h24"`
	VolumeH6  decimal.Decimal `json:"volume_h6"`
	VolumeH1  decimal.Decimal `json:"volume_h1"`
	VolumeM5  decimal.Decimal `json:"volume_m5"`
	ChangeH6  decimal.Decimal `json:"change_h6"`
	CreatedAt int64           `json:"created_at"` // pair creation, unix seconds
	Website   string          `json:"website,omitempty"`
	Twitter   string          `json:"twitter,omitempty"`
}
