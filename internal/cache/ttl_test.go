package cache

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newTestCache(ttl time.Duration) (*TTL[string, int], *fakeClock) {
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	c := NewTTL[string, int](ttl)
	c.now = clock.Now
	return c, clock
}

func TestTTL_LazyExpiry(t *testing.T) {
	c, clock := newTestCache(time.Minute)
	c.Set("a", 1)

	v, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, 1, v)

	clock.Advance(time.Minute)
	_, ok = c.Get("a")
	assert.False(t, ok, "entry expires exactly at its deadline")
	assert.Zero(t, c.Len(), "expired entry removed on read")
}

func TestTTL_SetIfAbsent(t *testing.T) {
	c, clock := newTestCache(time.Minute)

	assert.True(t, c.SetIfAbsent("tok", 1, time.Hour))
	assert.False(t, c.SetIfAbsent("tok", 2, time.Hour))

	v, _ := c.Get("tok")
	assert.Equal(t, 1, v)

	clock.Advance(time.Hour)
	assert.True(t, c.SetIfAbsent("tok", 3, time.Hour), "expired entry can be replaced")
}

func TestTTL_Sweep(t *testing.T) {
	c, clock := newTestCache(time.Minute)
	c.Set("short", 1)
	c.SetWithTTL("long", 2, time.Hour)
	c.Set("gone", 3)
	c.Delete("gone")

	clock.Advance(2 * time.Minute)
	assert.Equal(t, 1, c.Sweep())
	assert.Equal(t, 1, c.Len())

	_, ok := c.Get("long")
	assert.True(t, ok)
}

func TestTTL_RunStopsOnCancel(t *testing.T) {
	c := NewTTL[string, int](time.Millisecond)
	c.Set("a", 1)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.Run(ctx, time.Millisecond)
		close(done)
	}()

	assert.Eventually(t, func() bool { return c.Len() == 0 }, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("janitor did not stop")
	}
}
