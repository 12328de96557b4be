package clients

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"time"
)

const (
	// jitterLow and jitterHigh bound the multiplicative jitter on backoff.
	jitterLow  = 0.9
	jitterHigh = 1.1
)

// RetryPolicy defines retry behavior. Every error is retried the same way;
// callers decide upstream which failures never reach the retrier.
type RetryPolicy struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration

	rand  func() float64
	sleep Sleeper
}

// Result is the outcome of one attempt.
type Result[T any] struct {
	Value   T
	Err     error
	Attempt int
}

// OK reports whether the attempt succeeded.
func (r Result[T]) OK() bool { return r.Err == nil }

// NewRetryPolicy creates a new retry policy with exponential backoff
func NewRetryPolicy(maxAttempts int, initialDelay, maxDelay time.Duration) *RetryPolicy {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &RetryPolicy{
		MaxAttempts:  maxAttempts,
		InitialDelay: initialDelay,
		MaxDelay:     maxDelay,
		rand:         rand.Float64,
		sleep:        SleepContext,
	}
}

// DefaultRetryPolicy returns three attempts starting at one second, capped at 60s.
func DefaultRetryPolicy() *RetryPolicy {
	return NewRetryPolicy(3, time.Second, 60*time.Second)
}

// WithSleeper returns a copy of the policy that waits with s.
func (rp *RetryPolicy) WithSleeper(s Sleeper) *RetryPolicy {
	policy := rp.Clone()
	policy.sleep = s
	return policy
}

// WithRandom returns a copy of the policy using r as its [0,1) source.
func (rp *RetryPolicy) WithRandom(r func() float64) *RetryPolicy {
	policy := rp.Clone()
	policy.rand = r
	return policy
}

// Clone creates a copy of the retry policy
func (rp *RetryPolicy) Clone() *RetryPolicy {
	c := *rp
	return &c
}

// GetDelay returns the backoff before retrying after the given attempt:
// min(InitialDelay * 2^attempt * U(0.9, 1.1), MaxDelay).
func (rp *RetryPolicy) GetDelay(attempt int) time.Duration {
	r := rp.rand
	if r == nil {
		r = rand.Float64
	}
	jitter := jitterLow + r()*(jitterHigh-jitterLow)
	delay := float64(rp.InitialDelay) * math.Pow(2, float64(attempt)) * jitter

	if rp.MaxDelay > 0 && delay > float64(rp.MaxDelay) {
		return rp.MaxDelay
	}
	return time.Duration(delay)
}

// Execute runs fn under the policy and returns nil or the last error unchanged.
func (rp *RetryPolicy) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	_, err := Do(ctx, rp, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// Do runs fn up to MaxAttempts times and returns the first successful value.
// On exhaustion it returns the error of the final attempt, unwrapped. A
// cancelled context during backoff returns the context error.
func Do[T any](ctx context.Context, rp *RetryPolicy, fn func(ctx context.Context) (T, error)) (T, error) {
	return DoWithHook(ctx, rp, fn, nil)
}

// DoWithHook is Do with a callback invoked after each failed attempt that
// will be retried.
func DoWithHook[T any](ctx context.Context, rp *RetryPolicy, fn func(ctx context.Context) (T, error), onRetry func(attempt int, err error, delay time.Duration)) (T, error) {
	res := rp.run(ctx, func(ctx context.Context, attempt int) Result[any] {
		v, err := fn(ctx)
		return Result[any]{Value: v, Err: err, Attempt: attempt}
	}, onRetry)

	var zero T
	if res.Err != nil {
		return zero, res.Err
	}
	v, _ := res.Value.(T)
	return v, nil
}

func (rp *RetryPolicy) run(ctx context.Context, attemptFn func(ctx context.Context, attempt int) Result[any], onRetry func(int, error, time.Duration)) Result[any] {
	sleep := rp.sleep
	if sleep == nil {
		sleep = SleepContext
	}
	attempts := rp.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var last Result[any]
	for attempt := 0; attempt < attempts; attempt++ {
		last = attemptFn(ctx, attempt)
		if last.OK() {
			return last
		}

		// Don't wait after the final attempt
		if attempt == attempts-1 {
			break
		}

		delay := rp.GetDelay(attempt)
		if onRetry != nil {
			onRetry(attempt, last.Err, delay)
		}
		if err := sleep(ctx, delay); err != nil {
			return Result[any]{Err: fmt.Errorf("retry cancelled: %w", err), Attempt: attempt}
		}
	}

	return last
}
