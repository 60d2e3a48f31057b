package gateway

import (
	"context"
	"sync"
	"time"
)

const (
	DefaultRateWindow      = time.Minute
	DefaultRateMaxRequests = 60
)

// RateLimitConfig configures a RateLimiter.
type RateLimitConfig struct {
	Window        time.Duration
	MaxRequests   int
	SweepInterval time.Duration
}

// RateLimiter admits at most MaxRequests per identity in any trailing Window.
//
// Each identity holds the timestamps it was admitted at, oldest first. The
// window is the half-open interval (now-Window, now].
type RateLimiter struct {
	Clock func() time.Time

	window   time.Duration
	max      int
	interval time.Duration

	mu      sync.Mutex
	windows map[string][]time.Time

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// NewRateLimiter returns a limiter with defaults applied for zero fields.
func NewRateLimiter(cfg RateLimitConfig) *RateLimiter {
	if cfg.Window <= 0 {
		cfg.Window = DefaultRateWindow
	}
	if cfg.MaxRequests <= 0 {
		cfg.MaxRequests = DefaultRateMaxRequests
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = cfg.Window
	}

	return &RateLimiter{
		window:   cfg.Window,
		max:      cfg.MaxRequests,
		interval: cfg.SweepInterval,
		windows:  make(map[string][]time.Time),
		stop:     make(chan struct{}),
	}
}

// Admit records a request for identity and reports whether it is allowed.
// Rejected requests are not recorded.
func (r *RateLimiter) Admit(identity string) bool {
	now := r.now()

	r.mu.Lock()
	defer r.mu.Unlock()

	stamps := evict(r.windows[identity], now.Add(-r.window))
	if len(stamps) >= r.max {
		r.windows[identity] = stamps
		return false
	}
	r.windows[identity] = append(stamps, now)
	return true
}

// RetryAfter is the hint returned to rejected callers.
func (r *RateLimiter) RetryAfter() time.Duration {
	return r.window
}

// Limit returns the configured maximum and window.
func (r *RateLimiter) Limit() (int, time.Duration) {
	return r.max, r.window
}

// Sweep evicts stale timestamps for every identity and forgets identities
// with none left. It returns the number of identities removed.
func (r *RateLimiter) Sweep() int {
	cutoff := r.now().Add(-r.window)

	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for identity, stamps := range r.windows {
		stamps = evict(stamps, cutoff)
		if len(stamps) == 0 {
			delete(r.windows, identity)
			removed++
			continue
		}
		r.windows[identity] = stamps
	}
	return removed
}

// Len returns the number of tracked identities.
func (r *RateLimiter) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.windows)
}

// Start runs the periodic sweep until ctx is canceled or Stop is called.
func (r *RateLimiter) Start(ctx context.Context) {
	r.mu.Lock()
	if r.done != nil {
		r.mu.Unlock()
		return
	}
	r.done = make(chan struct{})
	r.mu.Unlock()

	go func() {
		defer close(r.done)

		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-r.stop:
				return
			case <-ticker.C:
				r.Sweep()
			}
		}
	}()
}

// Stop halts the sweep goroutine and waits for it to exit. Safe to call more
// than once, and before Start.
func (r *RateLimiter) Stop() {
	r.stopOnce.Do(func() { close(r.stop) })

	r.mu.Lock()
	done := r.done
	r.mu.Unlock()
	if done != nil {
		<-done
	}
}

func (r *RateLimiter) now() time.Time {
	if r.Clock != nil {
		return r.Clock()
	}
	return time.Now()
}

// evict drops the prefix of stamps at or before cutoff. Stamps after now
// (clock skew) are kept and still count.
func evict(stamps []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(stamps) && !stamps[i].After(cutoff) {
		i++
	}
	if i == 0 {
		return stamps
	}
	return append(stamps[:0:0], stamps[i:]...)
}
