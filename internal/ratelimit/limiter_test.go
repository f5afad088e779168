package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLimiter(rpm, burst int) (*SlidingWindow, *clock.Mock) {
	clk := clock.NewMock()
	clk.Set(time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC))
	return NewSlidingWindow(Config{RequestsPerMinute: rpm, BurstSize: burst}, clk), clk
}

func TestSlidingWindow_PerMinuteCeiling(t *testing.T) {
	l, clk := newTestLimiter(5, 100)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		d := l.Allow(ctx, "k")
		require.True(t, d.Allowed, "request %d", i+1)
		clk.Add(time.Second)
	}

	d := l.Allow(ctx, "k")
	assert.False(t, d.Allowed)
	assert.Equal(t, ReasonWindow, d.Reason)
	assert.Equal(t, 0, d.Remaining)

	clk.Add(DefaultWindow)
	assert.True(t, l.Allow(ctx, "k").Allowed, "window has slid past every recorded request")
}

func TestSlidingWindow_BurstCeilingDominates(t *testing.T) {
	l, clk := newTestLimiter(1000, 3)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.True(t, l.Allow(ctx, "k").Allowed)
		clk.Add(100 * time.Millisecond)
	}

	d := l.Allow(ctx, "k")
	assert.False(t, d.Allowed)
	assert.Equal(t, ReasonBurst, d.Reason)
	assert.Greater(t, d.RetryAfter, time.Duration(0))
	assert.LessOrEqual(t, d.RetryAfter, DefaultBurstWindow)
}

func TestSlidingWindow_BurstThenWindowScenario(t *testing.T) {
	l, clk := newTestLimiter(5, 3)
	ctx := context.Background()
	key := "1.2.3.4"

	for i := 0; i < 3; i++ {
		require.True(t, l.Allow(ctx, key).Allowed)
		clk.Add(500 * time.Millisecond)
	}
	d := l.Allow(ctx, key)
	require.False(t, d.Allowed)
	assert.Equal(t, ReasonBurst, d.Reason)

	clk.Add(DefaultBurstWindow + time.Second)
	require.True(t, l.Allow(ctx, key).Allowed)
	require.True(t, l.Allow(ctx, key).Allowed)

	d = l.Allow(ctx, key)
	require.False(t, d.Allowed)
	assert.Equal(t, ReasonWindow, d.Reason)
	assert.Equal(t, 5, l.Count(key))
}

func TestSlidingWindow_DeniedRequestsDoNotOccupySlots(t *testing.T) {
	l, clk := newTestLimiter(2, 10)
	ctx := context.Background()

	require.True(t, l.Allow(ctx, "k").Allowed)
	require.True(t, l.Allow(ctx, "k").Allowed)
	for i := 0; i < 10; i++ {
		require.False(t, l.Allow(ctx, "k").Allowed)
	}
	assert.Equal(t, 2, l.Count("k"))

	clk.Add(DefaultWindow + time.Millisecond)
	assert.True(t, l.Allow(ctx, "k").Allowed)
}

func TestSlidingWindow_RemainingAndReset(t *testing.T) {
	l, clk := newTestLimiter(5, 5)
	ctx := context.Background()

	d := l.Allow(ctx, "k")
	require.True(t, d.Allowed)
	assert.Equal(t, 5, d.Limit)
	assert.Equal(t, 4, d.Remaining)
	assert.Equal(t, clk.Now().Add(DefaultWindow), d.ResetAt)

	d = l.Allow(ctx, "k")
	assert.Equal(t, 3, d.Remaining)
}

func TestSlidingWindow_AdmitDoesNotRecord(t *testing.T) {
	l, clk := newTestLimiter(1, 1)

	d := l.Admit("k", clk.Now())
	require.True(t, d.Allowed)
	require.True(t, l.Admit("k", clk.Now()).Allowed, "admit alone never consumes a slot")

	l.Record("k", clk.Now())
	assert.False(t, l.Admit("k", clk.Now()).Allowed)
}

func TestSlidingWindow_KeysAreIndependent(t *testing.T) {
	l, _ := newTestLimiter(1, 1)
	ctx := context.Background()

	require.True(t, l.Allow(ctx, "a").Allowed)
	require.False(t, l.Allow(ctx, "a").Allowed)
	assert.True(t, l.Allow(ctx, "b").Allowed)
}

func TestSlidingWindow_Sweep(t *testing.T) {
	l, clk := newTestLimiter(10, 10)
	ctx := context.Background()

	l.Allow(ctx, "old")
	clk.Add(30 * time.Second)
	l.Allow(ctx, "fresh")
	clk.Add(31 * time.Second)

	assert.Equal(t, 1, l.Sweep(clk.Now()))
	assert.Equal(t, 0, l.Count("old"))
	assert.Equal(t, 1, l.Count("fresh"))
}

func TestSlidingWindow_Reset(t *testing.T) {
	l, _ := newTestLimiter(1, 1)
	ctx := context.Background()

	require.True(t, l.Allow(ctx, "k").Allowed)
	l.Reset("k")
	assert.True(t, l.Allow(ctx, "k").Allowed)
}

func TestSlidingWindow_ConcurrentSameKey(t *testing.T) {
	l, _ := newTestLimiter(50, 50)
	ctx := context.Background()

	var wg sync.WaitGroup
	var mu sync.Mutex
	allowed := 0
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if l.Allow(ctx, "shared").Allowed {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 50, allowed)
}

func TestEvict(t *testing.T) {
	base := time.Unix(1000, 0)
	events := []time.Time{base, base.Add(time.Second), base.Add(2 * time.Second)}

	assert.Len(t, evict(events, base.Add(time.Second)), 2)
	assert.Len(t, evict(events, base), 3)
	assert.Empty(t, evict(events, base.Add(time.Hour)))
}
