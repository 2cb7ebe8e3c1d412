// Package notify renders fired signals and delivers them to operators.
package notify

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/walletmonitor/signal-engine/internal/analytics"
	"github.com/walletmonitor/signal-engine/internal/metrics"
	"github.com/walletmonitor/signal-engine/internal/model"
)

// Notification is everything a sink gets about one fired signal.
type Notification struct {
	Signal  model.Signal
	Token   *model.TokenInfo
	Report  *analytics.Report
	Message string // HTML rendered by Render
}

// Sink receives fired signals. Delivery is best-effort: callers log a
// returned error and move on.
type Sink interface {
	OnSignal(ctx context.Context, n *Notification) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, n *Notification) error

func (f SinkFunc) OnSignal(ctx context.Context, n *Notification) error { return f(ctx, n) }

// Multi delivers to every sink concurrently.
type Multi struct {
	sinks  []Sink
	logger *zap.Logger
}

// NewMulti fans out to sinks; nil entries are skipped.
func NewMulti(logger *zap.Logger, sinks ...Sink) *Multi {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Multi{logger: logger.Named("notify")}
	for _, s := range sinks {
		if s != nil {
			m.sinks = append(m.sinks, s)
		}
	}
	return m
}

// Len returns the number of attached sinks.
func (m *Multi) Len() int { return len(m.sinks) }

// OnSignal delivers n once to each sink. Failures are logged and counted,
// never retried. The returned error joins every failure.
func (m *Multi) OnSignal(ctx context.Context, n *Notification) error {
	var g errgroup.Group
	errs := make([]error, len(m.sinks))
	for i, s := range m.sinks {
		i, s := i, s
		g.Go(func() error {
			if err := s.OnSignal(ctx, n); err != nil {
				name := sinkName(s)
				metrics.SinkFailures.WithLabelValues(name).Inc()
				m.logger.Warn("sink delivery failed",
					zap.String("sink", name),
					zap.String("token", n.Signal.TokenAddress),
					zap.Error(err))
				errs[i] = fmt.Errorf("%s: %w", name, err)
			}
			return nil
		})
	}
	_ = g.Wait()

	var failed []string
	for _, err := range errs {
		if err != nil {
			failed = append(failed, err.Error())
		}
	}
	if len(failed) > 0 {
		return fmt.Errorf("notify: %s", strings.Join(failed, "; "))
	}
	return nil
}

func sinkName(s Sink) string {
	name := fmt.Sprintf("%T", s)
	if i := strings.LastIndex(name, "."); i >= 0 {
		name = name[i+1:]
	}
	return strings.ToLower(name)
}
