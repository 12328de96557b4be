package clients

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJitteredDelayerBounds(t *testing.T) {
	d, err := NewJitteredDelayer(500*time.Millisecond, 1500*time.Millisecond)
	require.NoError(t, err)

	for i := 0; i < 1000; i++ {
		delay := d.Delay()
		assert.GreaterOrEqual(t, delay, 500*time.Millisecond)
		assert.LessOrEqual(t, delay, 1500*time.Millisecond)
	}
}

func TestJitteredDelayerSleepReturnsDuration(t *testing.T) {
	clk := newFakeClock()
	d, err := NewJitteredDelayer(time.Second, 3*time.Second,
		WithDelayerSleeper(clk.Sleep),
		WithRandom(func() float64 { return 0.5 }))
	require.NoError(t, err)

	slept, err := d.Sleep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2*time.Second, slept)
	assert.Equal(t, []time.Duration{2 * time.Second}, clk.Sleeps())
}

func TestJitteredDelayerZeroRange(t *testing.T) {
	d, err := NewJitteredDelayer(0, 0)
	require.NoError(t, err)
	slept, err := d.Sleep(context.Background())
	require.NoError(t, err)
	assert.Zero(t, slept)
}

func TestJitteredDelayerInvalidRange(t *testing.T) {
	_, err := NewJitteredDelayer(2*time.Second, time.Second)
	assert.Error(t, err)
	_, err = NewJitteredDelayer(-time.Second, time.Second)
	assert.Error(t, err)
}

func TestJitteredDelayerCancelled(t *testing.T) {
	d, err := NewJitteredDelayer(time.Hour, time.Hour)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = d.Sleep(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
