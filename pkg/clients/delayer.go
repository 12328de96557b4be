package clients

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"
)

// Delayer inserts a pause before each outbound request.
type Delayer interface {
	Sleep(ctx context.Context) (time.Duration, error)
}

// JitteredDelayer sleeps for a uniformly random duration in [min, max].
type JitteredDelayer struct {
	min   time.Duration
	max   time.Duration
	rand  func() float64
	sleep Sleeper
}

// DelayerOption configures a JitteredDelayer.
type DelayerOption func(*JitteredDelayer)

// WithDelayerSleeper overrides how the delayer waits.
func WithDelayerSleeper(s Sleeper) DelayerOption {
	return func(d *JitteredDelayer) {
		if s != nil {
			d.sleep = s
		}
	}
}

// WithRandom overrides the uniform [0,1) source.
func WithRandom(r func() float64) DelayerOption {
	return func(d *JitteredDelayer) {
		if r != nil {
			d.rand = r
		}
	}
}

// NewJitteredDelayer creates a delayer. A zero range disables the pause.
func NewJitteredDelayer(min, max time.Duration, opts ...DelayerOption) (*JitteredDelayer, error) {
	if min < 0 || max < min {
		return nil, fmt.Errorf("invalid delay range [%s, %s]", min, max)
	}
	d := &JitteredDelayer{
		min:   min,
		max:   max,
		rand:  rand.Float64,
		sleep: SleepContext,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// Delay returns the next random duration without sleeping.
func (d *JitteredDelayer) Delay() time.Duration {
	span := d.max - d.min
	if span <= 0 {
		return d.min
	}
	return d.min + time.Duration(d.rand()*float64(span))
}

// Sleep blocks for Delay() and returns the duration slept.
func (d *JitteredDelayer) Sleep(ctx context.Context) (time.Duration, error) {
	delay := d.Delay()
	if delay <= 0 {
		return 0, ctx.Err()
	}
	if err := d.sleep(ctx, delay); err != nil {
		return 0, err
	}
	return delay, nil
}

// Range returns the configured bounds.
func (d *JitteredDelayer) Range() (time.Duration, time.Duration) {
	return d.min, d.max
}
