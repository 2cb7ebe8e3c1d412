// Package api exposes the webhook receiver and the read-only query endpoints.
package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/walletmonitor/signal-engine/internal/analytics"
	"github.com/walletmonitor/signal-engine/internal/ingest"
	"github.com/walletmonitor/signal-engine/internal/metrics"
	"github.com/walletmonitor/signal-engine/internal/model"
	"github.com/walletmonitor/signal-engine/internal/pipeline"
)

const (
	maxWebhookBody   = 8 << 20
	defaultListLimit = 50
	maxListLimit     = 500
)

// Ingester accepts normalised swap records.
type Ingester interface {
	Ingest(ctx context.Context, rec *model.SwapRecord) error
}

// SignalLister returns recently fired signals, newest first.
type SignalLister interface {
	ListSignals(ctx context.Context, limit int) ([]model.Signal, error)
}

// Analyzer produces the wallet breakdown of a token.
type Analyzer interface {
	Analyze(ctx context.Context, token string) (*analytics.Report, error)
}

// Service holds the HTTP handlers.
type Service struct {
	ingester     Ingester
	signals      SignalLister
	analyzer     Analyzer
	ws           http.HandlerFunc
	webhookToken string
	logger       *zap.Logger
}

// Options configures optional parts of a Service.
type Options struct {
	// WebhookToken, when set, must be presented in the Authorization header.
	WebhookToken string
	// WebSocket serves /api/v1/ws when non-nil.
	WebSocket http.HandlerFunc
	Logger    *zap.Logger
}

// NewService creates a Service.
func NewService(ingester Ingester, signals SignalLister, analyzer Analyzer, opts Options) *Service {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Service{
		ingester:     ingester,
		signals:      signals,
		analyzer:     analyzer,
		ws:           opts.WebSocket,
		webhookToken: opts.WebhookToken,
		logger:       opts.Logger.Named("api"),
	}
}

// Router mounts every route with the standard middleware stack.
func (s *Service) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(metrics.Middleware)
	r.Use(cors)

	r.Get("/health", s.Health)
	r.Handle("/metrics", metrics.Handler())
	r.With(middleware.Timeout(30 * time.Second)).Post("/webhook", s.Webhook)

	r.Route("/api/v1", func(r chi.Router) {
		if s.ws != nil {
			r.Get("/ws", s.ws)
		}
		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(30 * time.Second))
			r.Get("/signals", s.ListSignals)
			r.Get("/tokens/{token}/wallets", s.TokenWallets)
		})
	})
	return r
}

// WebhookResult summarises one webhook delivery.
type WebhookResult struct {
	Received  int `json:"received"`
	Accepted  int `json:"accepted"`
	Skipped   int `json:"skipped"`
	Invalid   int `json:"invalid"`
	Duplicate int `json:"duplicate"`
	Dropped   int `json:"dropped"`
}

// Webhook receives enhanced transactions, normalises them and hands the
// swaps to the pipeline. Storage failures answer 503 so the provider
// redelivers; redelivered records are recognised as duplicates.
func (s *Service) Webhook(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(r) {
		writeError(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		writeError(w, "failed to read body", http.StatusBadRequest)
		return
	}
	txs, err := ingest.DecodeWebhook(body)
	if err != nil {
		writeError(w, "invalid webhook payload", http.StatusBadRequest)
		return
	}

	res := WebhookResult{Received: len(txs)}
	for i := range txs {
		rec, err := ingest.Normalize(&txs[i])
		switch {
		case errors.Is(err, ingest.ErrSkipped):
			res.Skipped++
			metrics.RecordsDropped.WithLabelValues("skipped").Inc()
			continue
		case err != nil:
			res.Invalid++
			metrics.RecordsDropped.WithLabelValues("invalid").Inc()
			s.logger.Warn("invalid transaction", zap.String("signature", txs[i].Signature), zap.Error(err))
			continue
		}

		err = s.ingester.Ingest(r.Context(), rec)
		switch {
		case err == nil:
			res.Accepted++
		case errors.Is(err, model.ErrDuplicate):
			res.Duplicate++
		case errors.Is(err, pipeline.ErrQueueFull):
			res.Dropped++
		case errors.Is(err, model.ErrInvalidRecord):
			res.Invalid++
		default:
			s.logger.Error("ingest failed", zap.String("signature", rec.Signature), zap.Error(err))
			writeError(w, "ingest unavailable", http.StatusServiceUnavailable)
			return
		}
	}

	s.logger.Debug("webhook processed",
		zap.Int("received", res.Received),
		zap.Int("accepted", res.Accepted),
		zap.Int("skipped", res.Skipped))
	writeJSON(w, http.StatusOK, res)
}

func (s *Service) authorized(r *http.Request) bool {
	if s.webhookToken == "" {
		return true
	}
	got := strings.TrimSpace(r.Header.Get("Authorization"))
	got = strings.TrimPrefix(got, "Bearer ")
	return subtle.ConstantTimeCompare([]byte(got), []byte(s.webhookToken)) == 1
}

// ListSignals returns recent signals. ?limit= caps the result.
func (s *Service) ListSignals(w http.ResponseWriter, r *http.Request) {
	limit := defaultListLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = min(n, maxListLimit)
	}

	sigs, err := s.signals.ListSignals(r.Context(), limit)
	if err != nil {
		s.logger.Error("list signals failed", zap.Error(err))
		writeError(w, "failed to list signals", http.StatusInternalServerError)
		return
	}
	if sigs == nil {
		sigs = []model.Signal{}
	}
	writeJSON(w, http.StatusOK, sigs)
}

// WalletsResponse is the analytics view of one token.
type WalletsResponse struct {
	Token          string                  `json:"token"`
	TotalSupply    decimal.Decimal         `json:"total_supply"`
	SupplyFallback bool                    `json:"supply_fallback"`
	Wallets        []model.WalletAggregate `json:"wallets"`
}

// TokenWallets runs the analytics engine for {token}.
func (s *Service) TokenWallets(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")
	if err := ingest.ValidateAddress(token); err != nil {
		writeError(w, "invalid token address", http.StatusBadRequest)
		return
	}

	rep, err := s.analyzer.Analyze(r.Context(), token)
	if err != nil {
		s.logger.Warn("analysis failed", zap.String("token", token), zap.Error(err))
		writeError(w, "token history unavailable", http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusOK, WalletsResponse{
		Token:          rep.Token,
		TotalSupply:    rep.TotalSupply,
		SupplyFallback: rep.SupplyFallback,
		Wallets:        rep.Sorted(),
	})
}

// Health reports liveness.
func (s *Service) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "service": "signal-engine"})
}

func (s *Service) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())))
	})
}

func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, msg string, status int) {
	writeJSON(w, status, map[string]string{"error": msg})
}
