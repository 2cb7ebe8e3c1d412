// Package metrics provides Prometheus instrumentation for the signal engine.
package metrics

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// RecordsIngested counts swap records accepted by the pipeline.
	RecordsIngested = promauto.NewCounter(prometheus.CounterOpts{
		Name: "signal_engine_records_ingested_total",
		Help: "Swap records accepted by the pipeline",
	})

	// RecordsDropped counts records abandoned before evaluation, by reason.
	RecordsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "signal_engine_records_dropped_total",
		Help: "Swap records dropped, by reason",
	}, []string{"reason"})

	// Evaluations counts aggregator decisions by outcome.
	Evaluations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "signal_engine_evaluations_total",
		Help: "Signal evaluations, by outcome",
	}, []string{"outcome"})

	// SignalsFired counts signals handed to the sinks.
	SignalsFired = promauto.NewCounter(prometheus.CounterOpts{
		Name: "signal_engine_signals_fired_total",
		Help: "Signals fired and dispatched",
	})

	// LookupFailures counts failed external lookups, by collaborator.
	LookupFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "signal_engine_lookup_failures_total",
		Help: "Failed external lookups, by collaborator",
	}, []string{"collaborator"})

	// SinkFailures counts notification sinks that returned an error.
	SinkFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "signal_engine_sink_failures_total",
		Help: "Notification sink failures, by sink",
	}, []string{"sink"})

	// EvaluationLatency tracks one record through score and evaluate.
	EvaluationLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "signal_engine_evaluation_latency_seconds",
		Help:    "Record evaluation latency in seconds",
		Buckets: prometheus.DefBuckets,
	})

	// AnalysisLatency tracks one wallet analytics run.
	AnalysisLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "signal_engine_analysis_latency_seconds",
		Help:    "Wallet analytics latency in seconds",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	})

	// QueueDepth tracks records waiting for a worker.
	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "signal_engine_queue_depth",
		Help: "Swap records waiting in the dispatcher queue",
	})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "signal_engine_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, route, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "signal_engine_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and route.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "signal_engine_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware returns an HTTP middleware that records request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(wrapped, r)
		duration := time.Since(start).Seconds()

		path := routePattern(r)
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// routePattern keeps label cardinality bounded: /api/v1/tokens/{token}/wallets
// rather than one series per mint.
func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			return p
		}
	}
	return "unmatched"
}

// statusWriter wraps http.ResponseWriter to capture the status code.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Hijack is required by the websocket upgrader behind this middleware.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	return h.Hijack()
}
