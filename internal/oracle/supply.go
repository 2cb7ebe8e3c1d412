package oracle

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync/atomic"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/walletmonitor/signal-engine/internal/model"
	"github.com/walletmonitor/signal-engine/internal/retry"
)

// SupplyClient reads token supply over Solana JSON-RPC.
type SupplyClient struct {
	endpoint  string
	client    *http.Client
	policy    retry.Policy
	logger    *zap.Logger
	requestID atomic.Uint64
}

// NewSupplyClient creates a client against an RPC endpoint.
func NewSupplyClient(endpoint string, policy retry.Policy, logger *zap.Logger) *SupplyClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SupplyClient{
		endpoint: endpoint,
		client:   &http.Client{},
		policy:   policy,
		logger:   logger.Named("supply"),
	}
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      uint64 `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("RPC error %d: %s", e.Code, e.Message)
}

type tokenSupplyResponse struct {
	Result *struct {
		Value struct {
			Amount         string `json:"amount"`
			Decimals       int32  `json:"decimals"`
			UIAmountString string `json:"uiAmountString"`
		} `json:"value"`
	} `json:"result"`
	Error *rpcError `json:"error"`
}

// GetTotalSupply returns the supply of mint scaled by its decimals.
func (c *SupplyClient) GetTotalSupply(ctx context.Context, mint string) (decimal.Decimal, error) {
	if c.endpoint == "" {
		return decimal.Zero, fmt.Errorf("supply %s: no rpc endpoint: %w", mint, model.ErrUnavailable)
	}

	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      c.requestID.Add(1),
		Method:  "getTokenSupply",
		Params:  []any{mint},
	})
	if err != nil {
		return decimal.Zero, fmt.Errorf("marshal request: %w", err)
	}

	var resp tokenSupplyResponse
	err = doJSON(ctx, c.client, c.policy, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		return req, nil
	}, &resp)
	if err != nil {
		c.logger.Warn("getTokenSupply failed", zap.String("mint", mint), zap.Error(err))
		return decimal.Zero, fmt.Errorf("supply %s: %w: %w", mint, model.ErrUnavailable, err)
	}
	if resp.Error != nil {
		return decimal.Zero, fmt.Errorf("supply %s: %w: %w", mint, model.ErrUnavailable, resp.Error)
	}
	if resp.Result == nil {
		return decimal.Zero, fmt.Errorf("supply %s: empty result: %w", mint, model.ErrUnavailable)
	}

	v := resp.Result.Value
	if v.UIAmountString != "" {
		s, err := decimal.NewFromString(v.UIAmountString)
		if err != nil {
			return decimal.Zero, fmt.Errorf("supply %s: parse %q: %w", mint, v.UIAmountString, err)
		}
		return s, nil
	}
	raw, err := decimal.NewFromString(v.Amount)
	if err != nil {
		return decimal.Zero, fmt.Errorf("supply %s: parse %q: %w", mint, v.Amount, err)
	}
	return raw.Shift(-v.Decimals), nil
}
