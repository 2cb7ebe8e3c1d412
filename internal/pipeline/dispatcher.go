// Package pipeline drives swap records through scoring, signal evaluation,
// analytics and notification with a bounded pool of workers.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/walletmonitor/signal-engine/internal/analytics"
	"github.com/walletmonitor/signal-engine/internal/cache"
	"github.com/walletmonitor/signal-engine/internal/metrics"
	"github.com/walletmonitor/signal-engine/internal/model"
	"github.com/walletmonitor/signal-engine/internal/notify"
	"github.com/walletmonitor/signal-engine/internal/signal"
)

// ErrQueueFull is returned by Submit when the queue has no room.
var ErrQueueFull = errors.New("pipeline: queue full")

const (
	defaultWorkers   = 8
	defaultQueueSize = 1024
)

// Evaluator scores records and decides whether a signal fires.
type Evaluator interface {
	ScoreRecord(ctx context.Context, rec *model.SwapRecord) (int64, error)
	Evaluate(ctx context.Context, rec *model.SwapRecord) (signal.Decision, error)
}

// Analyzer produces the wallet breakdown of a token.
type Analyzer interface {
	Analyze(ctx context.Context, token string) (*analytics.Report, error)
}

// MarketData returns the current market snapshot of a token.
type MarketData interface {
	TokenInfo(ctx context.Context, token string) (*model.TokenInfo, error)
}

// Store persists incoming records and fired signals.
type Store interface {
	InsertSwap(ctx context.Context, rec *model.SwapRecord) error
	InsertSignal(ctx context.Context, sig *model.Signal) error
}

// Config tunes a Dispatcher.
type Config struct {
	Workers   int
	QueueSize int
	// Suppress is the event-time distance from a fired record within which
	// the token stays muted. Usually the aggregation window. Mute entries
	// are also evicted after this much wall-clock time.
	Suppress time.Duration
	Filter   signal.MarketFilter
	Logger   *zap.Logger
}

// Outcome describes what Process did with one record.
type Outcome struct {
	Decision   signal.Decision
	Suppressed bool
	Filtered   bool
	Signal     *model.Signal
}

// Dispatcher owns the worker pool.
type Dispatcher struct {
	evaluator Evaluator
	analyzer  Analyzer
	market    MarketData
	store     Store
	sink      notify.Sink

	cfg      Config
	queue    chan *model.SwapRecord
	locks    *keyedMutex
	muted    *cache.TTL[string, int64] // token -> event time of the last fire
	logger   *zap.Logger
	now      func() time.Time
	runOnce  sync.Once
	finished chan struct{}
}

// New creates a Dispatcher. sink may be nil.
func New(evaluator Evaluator, analyzer Analyzer, market MarketData, store Store, sink notify.Sink, cfg Config) *Dispatcher {
	if cfg.Workers <= 0 {
		cfg.Workers = defaultWorkers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueSize
	}
	if cfg.Suppress <= 0 {
		cfg.Suppress = signal.DefaultWindow
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if sink == nil {
		sink = notify.NewMulti(cfg.Logger)
	}
	return &Dispatcher{
		evaluator: evaluator,
		analyzer:  analyzer,
		market:    market,
		store:     store,
		sink:      sink,
		cfg:       cfg,
		queue:     make(chan *model.SwapRecord, cfg.QueueSize),
		locks:     newKeyedMutex(),
		muted:     cache.NewTTL[string, int64](cfg.Suppress),
		logger:    cfg.Logger.Named("pipeline"),
		now:       time.Now,
		finished:  make(chan struct{}),
	}
}

// Run starts the workers and the suppression janitor and blocks until ctx
// is done and every worker has returned.
func (d *Dispatcher) Run(ctx context.Context) {
	d.runOnce.Do(func() {
		defer close(d.finished)

		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			d.muted.Run(ctx, time.Minute)
		}()
		for i := 0; i < d.cfg.Workers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				d.worker(ctx)
			}()
		}
		d.logger.Info("pipeline started", zap.Int("workers", d.cfg.Workers), zap.Int("queue", d.cfg.QueueSize))
		wg.Wait()
		d.logger.Info("pipeline stopped", zap.Int("pending", len(d.queue)))
	})
}

// Done is closed once Run has returned.
func (d *Dispatcher) Done() <-chan struct{} { return d.finished }

func (d *Dispatcher) worker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case rec := <-d.queue:
			metrics.QueueDepth.Set(float64(len(d.queue)))
			if _, err := d.Process(ctx, rec); err != nil {
				d.logFailure(rec, err)
			}
		}
	}
}

// Ingest stores rec and queues it for evaluation. A redelivered record is
// reported as model.ErrDuplicate and not queued again.
func (d *Dispatcher) Ingest(ctx context.Context, rec *model.SwapRecord) error {
	if err := rec.Validate(); err != nil {
		metrics.RecordsDropped.WithLabelValues("invalid").Inc()
		return err
	}
	if err := d.store.InsertSwap(ctx, rec); err != nil {
		if errors.Is(err, model.ErrDuplicate) {
			metrics.RecordsDropped.WithLabelValues("duplicate").Inc()
			return err
		}
		metrics.LookupFailures.WithLabelValues("store").Inc()
		return model.NewLookupError("insert swap", err)
	}
	metrics.RecordsIngested.Inc()
	return d.Submit(ctx, rec)
}

// Submit queues an already stored record. It never waits for room: a full
// queue drops the record.
func (d *Dispatcher) Submit(ctx context.Context, rec *model.SwapRecord) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	select {
	case d.queue <- rec:
		metrics.QueueDepth.Set(float64(len(d.queue)))
		return nil
	default:
		metrics.RecordsDropped.WithLabelValues("queue_full").Inc()
		d.logger.Warn("queue full, dropping record", zap.String("id", rec.ID), zap.String("token", rec.TokenOutAddress))
		return ErrQueueFull
	}
}

// Process runs rec through the whole pipeline synchronously.
func (d *Dispatcher) Process(ctx context.Context, rec *model.SwapRecord) (*Outcome, error) {
	if err := rec.Validate(); err != nil {
		metrics.RecordsDropped.WithLabelValues("invalid").Inc()
		return nil, err
	}

	start := time.Now()
	if _, err := d.evaluator.ScoreRecord(ctx, rec); err != nil {
		metrics.LookupFailures.WithLabelValues("reputation").Inc()
		return nil, err
	}

	out, c, err := d.evaluate(ctx, rec)
	metrics.EvaluationLatency.Observe(time.Since(start).Seconds())
	if err != nil || c == nil {
		return out, err
	}

	token := rec.TokenOutAddress
	info, err := d.market.TokenInfo(ctx, token)
	if err != nil {
		d.release(token, rec.Timestamp, c)
		metrics.LookupFailures.WithLabelValues("market").Inc()
		return out, model.NewLookupError("token info", err)
	}
	if !d.cfg.Filter.Allow(info, d.now()) {
		d.release(token, rec.Timestamp, c)
		out.Filtered = true
		metrics.Evaluations.WithLabelValues("filtered").Inc()
		d.logger.Info("signal filtered by market",
			zap.String("token", token),
			zap.String("market_cap", info.MarketCap.String()),
			zap.Int64("created_at", info.CreatedAt))
		return out, nil
	}

	report, err := d.analyzer.Analyze(ctx, token)
	if err != nil {
		d.release(token, rec.Timestamp, c)
		return out, err
	}

	sig := &model.Signal{
		ID:             uuid.NewString(),
		TokenAddress:   token,
		TotalScore:     out.Decision.TotalScore,
		Accounts:       out.Decision.Accounts,
		TriggerAccount: rec.Account,
		Timestamp:      rec.Timestamp,
		FiredAt:        d.now().UTC(),
	}
	if err := d.store.InsertSignal(ctx, sig); err != nil {
		metrics.LookupFailures.WithLabelValues("store").Inc()
		d.logger.Warn("persist signal failed", zap.String("token", token), zap.Error(err))
	}
	out.Signal = sig

	metrics.Evaluations.WithLabelValues("fired").Inc()
	metrics.SignalsFired.Inc()
	d.logger.Info("signal fired",
		zap.String("token", token),
		zap.String("symbol", info.Symbol),
		zap.Int64("score", sig.TotalScore),
		zap.Strings("accounts", sig.Accounts))

	n := &notify.Notification{
		Signal:  *sig,
		Token:   info,
		Report:  report,
		Message: notify.Render(info, report, d.now()),
	}
	// Delivery failures are logged per sink and never retried.
	_ = d.sink.OnSignal(ctx, n)
	return out, nil
}

// claim is the mute entry a firing record replaced.
type claim struct {
	prev int64
	held bool
}

// evaluate runs the aggregator under the token lock and, when it fires,
// claims the token so concurrent evaluations and later records within
// Suppress of the fired event time stay silent.
func (d *Dispatcher) evaluate(ctx context.Context, rec *model.SwapRecord) (*Outcome, *claim, error) {
	if model.IsExit(rec.TokenOutAddress) {
		metrics.Evaluations.WithLabelValues("exit").Inc()
		return &Outcome{Decision: signal.Decision{TokenAddress: rec.TokenOutAddress, Exit: true}}, nil, nil
	}

	unlock := d.locks.Lock(rec.TokenOutAddress)
	defer unlock()

	decision, err := d.evaluator.Evaluate(ctx, rec)
	if err != nil {
		metrics.LookupFailures.WithLabelValues("history").Inc()
		return nil, nil, err
	}
	out := &Outcome{Decision: decision}
	if !decision.Fired {
		metrics.Evaluations.WithLabelValues("below_threshold").Inc()
		return out, nil, nil
	}
	last, held := d.muted.Get(rec.TokenOutAddress)
	if held && d.withinSuppress(rec.Timestamp, last) {
		out.Suppressed = true
		metrics.Evaluations.WithLabelValues("suppressed").Inc()
		return out, nil, nil
	}
	d.muted.SetWithTTL(rec.TokenOutAddress, rec.Timestamp, d.cfg.Suppress)
	return out, &claim{prev: last, held: held}, nil
}

func (d *Dispatcher) withinSuppress(ts, fired int64) bool {
	gap := ts - fired
	if gap < 0 {
		gap = -gap
	}
	return gap < int64(d.cfg.Suppress/time.Second)
}

// release undoes a claim that did not end in a signal. A claim taken over
// by a later fire is left alone.
func (d *Dispatcher) release(token string, ts int64, c *claim) {
	unlock := d.locks.Lock(token)
	defer unlock()

	if cur, ok := d.muted.Get(token); !ok || cur != ts {
		return
	}
	if c.held {
		d.muted.SetWithTTL(token, c.prev, d.cfg.Suppress)
		return
	}
	d.muted.Delete(token)
}

func (d *Dispatcher) logFailure(rec *model.SwapRecord, err error) {
	fields := []zap.Field{zap.String("id", rec.ID), zap.String("token", rec.TokenOutAddress), zap.Error(err)}
	switch {
	case errors.Is(err, model.ErrInvalidRecord):
		d.logger.Warn("dropping invalid record", fields...)
	case errors.Is(err, model.ErrLookup):
		metrics.RecordsDropped.WithLabelValues("lookup").Inc()
		d.logger.Warn("evaluation abandoned", fields...)
	case errors.Is(err, context.Canceled):
		d.logger.Debug("evaluation cancelled", fields...)
	default:
		d.logger.Error("evaluation failed", append(fields, zap.String("kind", fmt.Sprintf("%T", err)))...)
	}
}
