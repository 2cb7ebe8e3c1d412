package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastPolicy(retries int) Policy {
	return Policy{Timeout: 50 * time.Millisecond, Retries: retries, Backoff: time.Millisecond, MaxWait: 2 * time.Millisecond}
}

func TestDo_RetriesUntilSuccess(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastPolicy(3), func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("flaky")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDo_BudgetExhausted(t *testing.T) {
	calls := 0
	boom := errors.New("down")
	err := Do(context.Background(), fastPolicy(2), func(context.Context) error {
		calls++
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 3, calls, "first attempt plus two retries")
}

func TestDo_PermanentStopsImmediately(t *testing.T) {
	calls := 0
	notFound := errors.New("not found")
	err := Do(context.Background(), fastPolicy(5), func(context.Context) error {
		calls++
		return Permanent(notFound)
	})
	assert.Same(t, notFound, err)
	assert.Equal(t, 1, calls)
}

func TestDo_PerAttemptTimeout(t *testing.T) {
	err := Do(context.Background(), fastPolicy(0), func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestDo_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	calls := 0
	err := Do(ctx, fastPolicy(5), func(context.Context) error {
		calls++
		return errors.New("x")
	})
	assert.Error(t, err)
	assert.Equal(t, 1, calls)
}
