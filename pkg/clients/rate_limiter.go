// Package clients provides the protective fetch pipeline: a sliding-window
// rate limiter, a jittered delayer, a backoff retrier, and the fetcher that
// composes them around the HTTP client.
package clients

import (
	"context"
	"fmt"
	"sync"
	"time"
)

const (
	// RateWindow is the trailing window the limiter counts admissions in.
	RateWindow = 60 * time.Second
	// rateEpsilon is added to computed waits so the oldest admission has
	// left the window when the limiter wakes up.
	rateEpsilon = 100 * time.Millisecond
)

// Clock returns the current time.
type Clock func() time.Time

// Sleeper blocks for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// SleepContext is the default Sleeper.
func SleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RateLimiter admits requests subject to a per-minute budget.
type RateLimiter interface {
	// Admit blocks until one more request fits the budget, records it and
	// returns the time spent waiting.
	Admit(ctx context.Context) (time.Duration, error)
}

// RateLimiterStats provides statistics about limiter state.
type RateLimiterStats struct {
	MaxPerMinute int           `json:"max_per_minute"`
	Admitted     int64         `json:"admitted"`
	Waited       int64         `json:"waited"`
	TotalWait    time.Duration `json:"total_wait"`
	InWindow     int           `json:"in_window"`
}

// SlidingWindowRateLimiter keeps a FIFO of admission timestamps over the
// trailing RateWindow. The window never holds more than maxPerMinute entries.
type SlidingWindowRateLimiter struct {
	maxPerMinute int
	clock        Clock
	sleep        Sleeper

	// admitMu serializes Admit calls so waiters are served in arrival order.
	admitMu sync.Mutex

	mu        sync.Mutex
	window    []time.Time
	admitted  int64
	waited    int64
	totalWait time.Duration
}

// RateLimiterOption configures a SlidingWindowRateLimiter.
type RateLimiterOption func(*SlidingWindowRateLimiter)

// WithClock overrides the limiter clock.
func WithClock(c Clock) RateLimiterOption {
	return func(l *SlidingWindowRateLimiter) {
		if c != nil {
			l.clock = c
		}
	}
}

// WithSleeper overrides how the limiter waits.
func WithSleeper(s Sleeper) RateLimiterOption {
	return func(l *SlidingWindowRateLimiter) {
		if s != nil {
			l.sleep = s
		}
	}
}

// NewRateLimiter creates a sliding-window limiter allowing maxPerMinute
// admissions in any trailing minute.
func NewRateLimiter(maxPerMinute int, opts ...RateLimiterOption) (*SlidingWindowRateLimiter, error) {
	if maxPerMinute <= 0 {
		return nil, fmt.Errorf("max requests per minute must be positive, got %d", maxPerMinute)
	}
	l := &SlidingWindowRateLimiter{
		maxPerMinute: maxPerMinute,
		clock:        time.Now,
		sleep:        SleepContext,
		window:       make([]time.Time, 0, maxPerMinute),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// Admit implements RateLimiter. The context is checked before waiting and
// cancels an in-progress wait.
func (l *SlidingWindowRateLimiter) Admit(ctx context.Context) (time.Duration, error) {
	l.admitMu.Lock()
	defer l.admitMu.Unlock()

	var waited time.Duration
	for {
		if err := ctx.Err(); err != nil {
			return waited, err
		}

		l.mu.Lock()
		now := l.clock()
		l.evict(now)

		if len(l.window) < l.maxPerMinute {
			l.window = append(l.window, now)
			l.admitted++
			if waited > 0 {
				l.waited++
				l.totalWait += waited
			}
			l.mu.Unlock()
			return waited, nil
		}

		wait := RateWindow - now.Sub(l.window[0]) + rateEpsilon
		l.mu.Unlock()

		if err := l.sleep(ctx, wait); err != nil {
			return waited, err
		}
		waited += wait
	}
}

// evict drops admissions that have left the window. Caller holds mu.
func (l *SlidingWindowRateLimiter) evict(now time.Time) {
	cutoff := now.Add(-RateWindow)
	i := 0
	for i < len(l.window) && !l.window[i].After(cutoff) {
		i++
	}
	if i > 0 {
		l.window = append(l.window[:0], l.window[i:]...)
	}
}

// CurrentRate returns the number of admissions in the trailing window.
func (l *SlidingWindowRateLimiter) CurrentRate() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.evict(l.clock())
	return len(l.window)
}

// MaxPerMinute returns the configured budget.
func (l *SlidingWindowRateLimiter) MaxPerMinute() int {
	return l.maxPerMinute
}

// GetStats returns limiter statistics
func (l *SlidingWindowRateLimiter) GetStats() RateLimiterStats {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.evict(l.clock())

	return RateLimiterStats{
		MaxPerMinute: l.maxPerMinute,
		Admitted:     l.admitted,
		Waited:       l.waited,
		TotalWait:    l.totalWait,
		InWindow:     len(l.window),
	}
}
