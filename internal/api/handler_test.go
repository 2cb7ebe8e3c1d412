package api_test

import (
	"context"
	"crypto/ed25519"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mr-tron/base58"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/walletmonitor/signal-engine/internal/analytics"
	"github.com/walletmonitor/signal-engine/internal/api"
	"github.com/walletmonitor/signal-engine/internal/model"
	"github.com/walletmonitor/signal-engine/internal/store"
)

const bonk = "DezXAZ8z7PnrnRJjz3wXBoRgixCaSNSqv2XUXEWz5sV"

type fakeIngester struct {
	mu   sync.Mutex
	seen map[string]bool
	got  []*model.SwapRecord
	err  error
}

func (f *fakeIngester) Ingest(_ context.Context, rec *model.SwapRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	if f.seen == nil {
		f.seen = map[string]bool{}
	}
	if f.seen[rec.ID] {
		return fmt.Errorf("swap %s: %w", rec.ID, model.ErrDuplicate)
	}
	f.seen[rec.ID] = true
	f.got = append(f.got, rec)
	return nil
}

type fakeAnalyzer struct {
	rep *analytics.Report
	err error
}

func (f *fakeAnalyzer) Analyze(_ context.Context, token string) (*analytics.Report, error) {
	if f.err != nil {
		return nil, f.err
	}
	rep := *f.rep
	rep.Token = token
	return &rep, nil
}

type env struct {
	ms       *store.MemoryStore
	ingester *fakeIngester
	analyzer *fakeAnalyzer
	handler  http.Handler
}

func newEnv(t *testing.T, token string) *env {
	t.Helper()
	e := &env{
		ms:       store.NewMemoryStore(),
		ingester: &fakeIngester{},
		analyzer: &fakeAnalyzer{rep: &analytics.Report{
			TotalSupply: decimal.NewFromInt(1_000_000_000),
			Wallets: map[string]model.WalletAggregate{
				"A": {Account: "A", Label: "alpha", LatestBuyTimestamp: 10},
				"B": {Account: "B", Label: "beta", LatestBuyTimestamp: 20},
			},
		}},
	}
	svc := api.NewService(e.ingester, e.ms, e.analyzer, api.Options{WebhookToken: token})
	e.handler = svc.Router()
	return e
}

func wallet(t *testing.T) string {
	t.Helper()
	pub, _, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	return base58.Encode(pub)
}

func swapTx(payer, sig, source string) string {
	return fmt.Sprintf(`{
		"source": %q, "feePayer": %q, "signature": %q, "timestamp": 1700000000,
		"events": {"swap": {
			"nativeInput": {"account": %q, "amount": "1000000000"},
			"tokenOutputs": [{"mint": %q, "rawTokenAmount": {"tokenAmount": "500000", "decimals": 5}}]
		}}
	}`, source, payer, sig, payer, bonk)
}

func post(t *testing.T, h http.Handler, body, auth string) (*httptest.ResponseRecorder, api.WebhookResult) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(body))
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	var res api.WebhookResult
	if w.Code == http.StatusOK {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	}
	return w, res
}

func TestWebhook_AcceptsSkipsAndDeduplicates(t *testing.T) {
	e := newEnv(t, "")
	payer := wallet(t)
	body := "[" + strings.Join([]string{
		swapTx(payer, "sig-1", "JUPITER"),
		swapTx(payer, "sig-2", "PUMP_FUN"),
		swapTx("not-a-wallet", "sig-3", "RAYDIUM"),
	}, ",") + "]"

	w, res := post(t, e.handler, body, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, api.WebhookResult{Received: 3, Accepted: 1, Skipped: 1, Invalid: 1}, res)
	require.Len(t, e.ingester.got, 1)
	assert.Equal(t, payer, e.ingester.got[0].Account)
	assert.Equal(t, bonk, e.ingester.got[0].TokenOutAddress)

	_, res = post(t, e.handler, swapTx(payer, "sig-1", "JUPITER"), "")
	assert.Equal(t, 1, res.Duplicate)
	assert.Len(t, e.ingester.got, 1)
}

func TestWebhook_Auth(t *testing.T) {
	e := newEnv(t, "s3cret")
	body := swapTx(wallet(t), "sig", "JUPITER")

	w, _ := post(t, e.handler, body, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	w, _ = post(t, e.handler, body, "Bearer wrong")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	w, _ = post(t, e.handler, body, "Bearer s3cret")
	assert.Equal(t, http.StatusOK, w.Code)
	w, _ = post(t, e.handler, body, "s3cret")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestWebhook_Errors(t *testing.T) {
	e := newEnv(t, "")
	w, _ := post(t, e.handler, `{"broken":`, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	e.ingester.err = errors.New("db down")
	w, _ = post(t, e.handler, swapTx(wallet(t), "sig", "JUPITER"), "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestListSignals(t *testing.T) {
	e := newEnv(t, "")
	ctx := context.Background()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		require.NoError(t, e.ms.InsertSignal(ctx, &model.Signal{
			ID:           fmt.Sprintf("s%d", i),
			TokenAddress: bonk,
			TotalScore:   int64(10 + i),
			Accounts:     []string{"A"},
			FiredAt:      base.Add(time.Duration(i) * time.Minute),
		}))
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/signals?limit=2", nil)
	w := httptest.NewRecorder()
	e.handler.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var sigs []model.Signal
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &sigs))
	require.Len(t, sigs, 2)
	assert.Equal(t, "s2", sigs[0].ID)

	req = httptest.NewRequest(http.MethodGet, "/api/v1/signals?limit=zero", nil)
	w = httptest.NewRecorder()
	e.handler.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestTokenWallets(t *testing.T) {
	e := newEnv(t, "")

	req := httptest.NewRequest(http.MethodGet, "/api/v1/tokens/"+bonk+"/wallets", nil)
	w := httptest.NewRecorder()
	e.handler.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var resp api.WalletsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, bonk, resp.Token)
	require.Len(t, resp.Wallets, 2)
	assert.Equal(t, "B", resp.Wallets[0].Account, "latest buyer first")

	req = httptest.NewRequest(http.MethodGet, "/api/v1/tokens/xyz/wallets", nil)
	w = httptest.NewRecorder()
	e.handler.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	e.analyzer.err = model.NewLookupError("token history", errors.New("timeout"))
	req = httptest.NewRequest(http.MethodGet, "/api/v1/tokens/"+bonk+"/wallets", nil)
	w = httptest.NewRecorder()
	e.handler.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadGateway, w.Code)
}

func TestHealthAndMetrics(t *testing.T) {
	e := newEnv(t, "")
	for _, path := range []string{"/health", "/metrics"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		w := httptest.NewRecorder()
		e.handler.ServeHTTP(w, req)
		assert.Equal(t, http.StatusOK, w.Code, path)
	}

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/signals", nil)
	w := httptest.NewRecorder()
	e.handler.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}
