package ingest

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/walletmonitor/signal-engine/internal/model"
)

// SourcePumpFun marks bonding-curve trades, which are not tracked.
const SourcePumpFun = "PUMP_FUN"

const nativeDecimals = 9

// ErrSkipped matches every *SkipError.
var ErrSkipped = errors.New("transaction skipped")

// SkipError reports a well-formed transaction that carries no trackable swap.
type SkipError struct {
	Signature string
	Reason    string
}

func (e *SkipError) Error() string {
	return fmt.Sprintf("skip %s: %s", e.Signature, e.Reason)
}

func (e *SkipError) Is(target error) bool { return target == ErrSkipped }

// EnhancedTransaction is the subset of a Helius enhanced transaction the
// engine reads.
type EnhancedTransaction struct {
	Description      string          `json:"description"`
	Type             string          `json:"type"`
	Source           string          `json:"source"`
	FeePayer         string          `json:"feePayer"`
	Signature        string          `json:"signature"`
	Timestamp        int64           `json:"timestamp"`
	TransactionError json.RawMessage `json:"transactionError"`
	Events           Events          `json:"events"`
}

// Events holds the structured event data parsed by Helius.
type Events struct {
	Swap *SwapEvent `json:"swap"`
}

// SwapEvent is the aggregate swap of a transaction.
type SwapEvent struct {
	NativeInput  *NativeAmount `json:"nativeInput"`
	NativeOutput *NativeAmount `json:"nativeOutput"`
	TokenInputs  []SwapToken   `json:"tokenInputs"`
	TokenOutputs []SwapToken   `json:"tokenOutputs"`
}

// NativeAmount is a lamport amount tied to an account.
type NativeAmount struct {
	Account string          `json:"account"`
	Amount  json.RawMessage `json:"amount"` // string or number of lamports
}

// SwapToken is one token leg of a swap.
type SwapToken struct {
	UserAccount    string         `json:"userAccount"`
	TokenAccount   string         `json:"tokenAccount"`
	Mint           string         `json:"mint"`
	RawTokenAmount RawTokenAmount `json:"rawTokenAmount"`
}

// RawTokenAmount is an unscaled integer amount with its decimals.
type RawTokenAmount struct {
	TokenAmount string `json:"tokenAmount"`
	Decimals    int32  `json:"decimals"`
}

// DecodeWebhook accepts either a JSON array of transactions or a single
// transaction object.
func DecodeWebhook(body []byte) ([]EnhancedTransaction, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil, errors.New("empty webhook body")
	}
	if body[0] == '[' {
		var txs []EnhancedTransaction
		if err := json.Unmarshal(body, &txs); err != nil {
			return nil, fmt.Errorf("decode webhook: %w", err)
		}
		return txs, nil
	}
	var tx EnhancedTransaction
	if err := json.Unmarshal(body, &tx); err != nil {
		return nil, fmt.Errorf("decode webhook: %w", err)
	}
	return []EnhancedTransaction{tx}, nil
}

// recordNamespace derives stable record ids from transaction signatures so
// a redelivered webhook maps onto the stored record.
var recordNamespace = uuid.MustParse("6f1c1f5e-8a51-4d7e-9f0c-3b1d2c9e7a40")

// Normalize converts one transaction into a SwapRecord. Unsupported
// transactions return a *SkipError; malformed ones a *model.DataError.
func Normalize(tx *EnhancedTransaction) (*model.SwapRecord, error) {
	switch {
	case tx.Source == SourcePumpFun:
		return nil, &SkipError{Signature: tx.Signature, Reason: "pump.fun transaction"}
	case len(tx.TransactionError) > 0 && string(tx.TransactionError) != "null":
		return nil, &SkipError{Signature: tx.Signature, Reason: "failed transaction"}
	case tx.Events.Swap == nil:
		return nil, &SkipError{Signature: tx.Signature, Reason: "no swap event"}
	}

	if err := ValidateAddress(tx.FeePayer); err != nil {
		return nil, &model.DataError{Field: "account", Reason: err.Error()}
	}
	if !IsWallet(tx.FeePayer) {
		return nil, &model.DataError{Field: "account", Reason: "fee payer is not an on-curve key"}
	}

	swap := tx.Events.Swap
	rec := &model.SwapRecord{
		Signature:   tx.Signature,
		Account:     tx.FeePayer,
		Timestamp:   tx.Timestamp,
		Description: tx.Description,
	}

	var err error
	rec.TokenInAddress, rec.TokenInAmount, err = leg(swap.NativeInput, swap.TokenInputs)
	if err != nil {
		return nil, &model.DataError{Field: "token_in", Reason: err.Error()}
	}
	rec.TokenOutAddress, rec.TokenOutAmount, err = leg(swap.NativeOutput, swap.TokenOutputs)
	if err != nil {
		return nil, &model.DataError{Field: "token_out", Reason: err.Error()}
	}
	if err := ValidateAddress(rec.TokenInAddress); err != nil {
		return nil, &model.DataError{Field: "token_in_address", Reason: err.Error()}
	}
	if err := ValidateAddress(rec.TokenOutAddress); err != nil {
		return nil, &model.DataError{Field: "token_out_address", Reason: err.Error()}
	}

	if tx.Signature != "" {
		rec.ID = uuid.NewSHA1(recordNamespace, []byte(tx.Signature+":"+tx.FeePayer)).String()
	} else {
		rec.ID = uuid.NewString()
	}

	if err := rec.Validate(); err != nil {
		return nil, err
	}
	return rec, nil
}

// leg picks the native amount when present, else the first token entry.
func leg(native *NativeAmount, tokens []SwapToken) (string, decimal.Decimal, error) {
	if native != nil && len(native.Amount) > 0 {
		lamports, err := parseRaw(native.Amount)
		if err != nil {
			return "", decimal.Zero, fmt.Errorf("native amount: %w", err)
		}
		if lamports.IsPositive() {
			return model.NativeMint, lamports.Shift(-nativeDecimals), nil
		}
	}
	if len(tokens) == 0 {
		return "", decimal.Zero, errors.New("no native or token amount")
	}
	t := tokens[0]
	raw, err := decimal.NewFromString(t.RawTokenAmount.TokenAmount)
	if err != nil {
		return "", decimal.Zero, fmt.Errorf("token amount %q: %w", t.RawTokenAmount.TokenAmount, err)
	}
	return t.Mint, raw.Shift(-t.RawTokenAmount.Decimals), nil
}

// parseRaw accepts a JSON string or number.
func parseRaw(raw json.RawMessage) (decimal.Decimal, error) {
	s := string(bytes.Trim(raw, `"`))
	if s == "" || s == "null" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(s)
}
