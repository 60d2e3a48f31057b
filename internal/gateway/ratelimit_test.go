package gateway

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestLimiter(clock *fakeClock) *RateLimiter {
	limiter := NewRateLimiter(RateLimitConfig{})
	limiter.Clock = clock.Now
	return limiter
}

func TestRateLimiterRejectsBurstOverMax(t *testing.T) {
	clock := newFakeClock()
	limiter := newTestLimiter(clock)

	for i := 0; i < DefaultRateMaxRequests; i++ {
		require.True(t, limiter.Admit("key"), "request %d", i+1)
	}
	require.False(t, limiter.Admit("key"))
	require.Equal(t, time.Minute, limiter.RetryAfter())

	// Other identities are unaffected.
	require.True(t, limiter.Admit("other"))
}

func TestRateLimiterSteadyRateNeverRejects(t *testing.T) {
	clock := newFakeClock()
	limiter := newTestLimiter(clock)

	interval := DefaultRateWindow / DefaultRateMaxRequests
	for i := 0; i < DefaultRateMaxRequests*5; i++ {
		require.True(t, limiter.Admit("key"), "request %d", i+1)
		clock.Advance(interval)
	}
}

func TestRateLimiterResetsAfterWindow(t *testing.T) {
	clock := newFakeClock()
	limiter := newTestLimiter(clock)

	for i := 0; i < DefaultRateMaxRequests; i++ {
		require.True(t, limiter.Admit("key"))
	}
	require.False(t, limiter.Admit("key"))

	clock.Advance(DefaultRateWindow - time.Millisecond)
	require.False(t, limiter.Admit("key"))

	clock.Advance(time.Millisecond)
	for i := 0; i < DefaultRateMaxRequests; i++ {
		require.True(t, limiter.Admit("key"))
	}
}

func TestRateLimiterRejectionsAreNotRecorded(t *testing.T) {
	clock := newFakeClock()
	limiter := NewRateLimiter(RateLimitConfig{Window: 10 * time.Second, MaxRequests: 2})
	limiter.Clock = clock.Now

	require.True(t, limiter.Admit("key"))
	clock.Advance(5 * time.Second)
	require.True(t, limiter.Admit("key"))
	require.False(t, limiter.Admit("key"))
	require.False(t, limiter.Admit("key"))

	// Only the first admission has left the window.
	clock.Advance(5 * time.Second)
	require.True(t, limiter.Admit("key"))
	require.False(t, limiter.Admit("key"))
}

func TestRateLimiterSweepDropsIdleIdentities(t *testing.T) {
	clock := newFakeClock()
	limiter := newTestLimiter(clock)

	require.True(t, limiter.Admit("a"))
	clock.Advance(30 * time.Second)
	require.True(t, limiter.Admit("b"))
	require.Equal(t, 2, limiter.Len())

	clock.Advance(30 * time.Second)
	require.Equal(t, 1, limiter.Sweep())
	require.Equal(t, 1, limiter.Len())

	clock.Advance(30 * time.Second)
	require.Equal(t, 1, limiter.Sweep())
	require.Equal(t, 0, limiter.Len())
}

func TestRateLimiterConcurrentAdmitsDoNotOverAdmit(t *testing.T) {
	limiter := NewRateLimiter(RateLimitConfig{})

	var admitted atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if limiter.Admit("shared") {
				admitted.Add(1)
			}
		}()
	}
	wg.Wait()

	require.EqualValues(t, DefaultRateMaxRequests, admitted.Load())
}

func TestRateLimiterBackgroundSweep(t *testing.T) {
	clock := newFakeClock()
	limiter := NewRateLimiter(RateLimitConfig{SweepInterval: 5 * time.Millisecond})
	limiter.Clock = clock.Now

	require.True(t, limiter.Admit("idle"))
	clock.Advance(2 * DefaultRateWindow)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	limiter.Start(ctx)
	defer limiter.Stop()

	require.Eventually(t, func() bool { return limiter.Len() == 0 }, time.Second, 5*time.Millisecond)
}

func TestRateLimiterStopIsIdempotent(t *testing.T) {
	limiter := NewRateLimiter(RateLimitConfig{})
	limiter.Stop()

	limiter = NewRateLimiter(RateLimitConfig{SweepInterval: time.Millisecond})
	limiter.Start(context.Background())
	limiter.Stop()
	limiter.Stop()
}
