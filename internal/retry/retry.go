// Package retry runs external lookups under a per-attempt timeout with a
// small bounded number of retries and exponential backoff.
package retry

import (
	"context"
	"errors"
	"time"
)

// Default policy values for external lookups.
const (
	DefaultTimeout = 2 * time.Second
	DefaultRetries = 2
	DefaultBackoff = 200 * time.Millisecond
	DefaultMaxWait = 2 * time.Second
)

// Policy bounds one logical lookup.
type Policy struct {
	Timeout time.Duration // per attempt; 0 means no per-attempt deadline
	Retries int           // additional attempts after the first
	Backoff time.Duration // initial delay, doubled after each failure
	MaxWait time.Duration // cap on the delay between attempts
}

// DefaultPolicy returns the policy used when none is configured.
func DefaultPolicy() Policy {
	return Policy{
		Timeout: DefaultTimeout,
		Retries: DefaultRetries,
		Backoff: DefaultBackoff,
		MaxWait: DefaultMaxWait,
	}
}

type permanent struct{ err error }

func (p *permanent) Error() string { return p.err.Error() }
func (p *permanent) Unwrap() error { return p.err }

// Permanent marks err as not worth retrying. Do returns the wrapped error.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanent{err: err}
}

// Do calls fn until it succeeds, returns a Permanent error, the retry
// budget is spent, or ctx is done.
func Do(ctx context.Context, p Policy, fn func(context.Context) error) error {
	if p.Retries < 0 {
		p.Retries = 0
	}
	if p.Backoff <= 0 {
		p.Backoff = DefaultBackoff
	}
	if p.MaxWait <= 0 {
		p.MaxWait = DefaultMaxWait
	}

	delay := p.Backoff
	for attempt := 0; ; attempt++ {
		err := attemptOnce(ctx, p.Timeout, fn)
		if err == nil {
			return nil
		}
		var perm *permanent
		if errors.As(err, &perm) {
			return perm.err
		}
		if attempt >= p.Retries || ctx.Err() != nil {
			return err
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		delay *= 2
		if delay > p.MaxWait {
			delay = p.MaxWait
		}
	}
}

func attemptOnce(ctx context.Context, timeout time.Duration, fn func(context.Context) error) error {
	if timeout <= 0 {
		return fn(ctx)
	}
	actx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return fn(actx)
}
