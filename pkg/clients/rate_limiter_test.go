package clients

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRateLimiterRejectsNonPositive(t *testing.T) {
	_, err := NewRateLimiter(0)
	assert.Error(t, err)
}

func TestRateLimiterAdmitsWithoutWaitUnderBudget(t *testing.T) {
	clk := newFakeClock()
	l, err := NewRateLimiter(5, WithClock(clk.Now), WithSleeper(clk.Sleep))
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		waited, err := l.Admit(context.Background())
		require.NoError(t, err)
		assert.Zero(t, waited)
	}
	assert.Equal(t, 5, l.CurrentRate())
	assert.Empty(t, clk.Sleeps())
}

func TestRateLimiterWaitsForOldestToExpire(t *testing.T) {
	clk := newFakeClock()
	l, err := NewRateLimiter(3, WithClock(clk.Now), WithSleeper(clk.Sleep))
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err := l.Admit(context.Background())
		require.NoError(t, err)
		clk.Advance(10 * time.Second)
	}

	// Oldest admission is 30s old: wait 30s plus epsilon.
	waited, err := l.Admit(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second+rateEpsilon, waited)

	stats := l.GetStats()
	assert.Equal(t, int64(4), stats.Admitted)
	assert.Equal(t, int64(1), stats.Waited)
	assert.Equal(t, waited, stats.TotalWait)
	assert.Equal(t, 3, stats.InWindow)
}

func TestRateLimiterNeverExceedsBudgetInTrailingWindow(t *testing.T) {
	const max = 4
	clk := newFakeClock()
	l, err := NewRateLimiter(max, WithClock(clk.Now), WithSleeper(clk.Sleep))
	require.NoError(t, err)

	gaps := []time.Duration{0, time.Second, 0, 7 * time.Second, 0, 0, 30 * time.Second, 2 * time.Second, 0, 45 * time.Second}
	var admitted []time.Time
	for i := 0; i < 40; i++ {
		clk.Advance(gaps[i%len(gaps)])
		_, err := l.Admit(context.Background())
		require.NoError(t, err)
		admitted = append(admitted, clk.Now())
	}

	for i, at := range admitted {
		count := 0
		for _, other := range admitted[:i+1] {
			if at.Sub(other) < RateWindow {
				count++
			}
		}
		assert.LessOrEqual(t, count, max, "admission %d at %s", i, at)
	}
}

func TestRateLimiterCurrentRateEvicts(t *testing.T) {
	clk := newFakeClock()
	l, err := NewRateLimiter(10, WithClock(clk.Now), WithSleeper(clk.Sleep))
	require.NoError(t, err)

	for i := 0; i < 4; i++ {
		_, err := l.Admit(context.Background())
		require.NoError(t, err)
	}
	assert.Equal(t, 4, l.CurrentRate())

	clk.Advance(RateWindow + time.Millisecond)
	assert.Equal(t, 0, l.CurrentRate())
}

func TestRateLimiterHonoursCancelledContext(t *testing.T) {
	clk := newFakeClock()
	l, err := NewRateLimiter(1, WithClock(clk.Now), WithSleeper(clk.Sleep))
	require.NoError(t, err)

	_, err = l.Admit(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = l.Admit(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, int64(1), l.GetStats().Admitted)
}

func TestRateLimiterRealSleeperCancels(t *testing.T) {
	l, err := NewRateLimiter(1)
	require.NoError(t, err)
	_, err = l.Admit(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = l.Admit(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
