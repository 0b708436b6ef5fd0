package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBackoff_Delay(t *testing.T) {
	b := ReconnectBackoff()

	tests := []struct {
		name    string
		attempt int
		r       float64
		want    time.Duration
	}{
		{"zero random", 5, 0, 0},
		{"attempt two half", 2, 0.5, time.Duration(0.5 * 2.25 * float64(2*time.Second))},
		{"attempt one", 1, 1.0 / 3.0, time.Duration(1.0 / 3.0 * 1.5 * float64(2*time.Second))},
		{"capped", 20, 0.99, 60 * time.Second},
		{"huge attempt", 100000, 0.5, 60 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, b.Delay(tt.attempt, tt.r))
		})
	}
}

func TestBackoff_DelayNeverExceedsCap(t *testing.T) {
	b := ReconnectBackoff()
	for attempt := 0; attempt < 64; attempt++ {
		for _, r := range []float64{0, 0.1, 0.5, 0.999, 1, 2} {
			d := b.Delay(attempt, r)
			assert.GreaterOrEqual(t, d, time.Duration(0))
			assert.LessOrEqual(t, d, 60*time.Second)
		}
	}
}

func TestBackoff_DelayNonDecreasing(t *testing.T) {
	b := ReconnectBackoff()
	for _, r := range []float64{0.1, 0.5, 0.999} {
		for attempt := 0; attempt < 64; attempt++ {
			cur, next := b.Delay(attempt, r), b.Delay(attempt+1, r)
			require.GreaterOrEqual(t, next, cur, "r=%v attempt=%d", r, attempt)
		}
		assert.Equal(t, 60*time.Second, b.Delay(64, r))
	}
}

func TestFloat64_Range(t *testing.T) {
	for i := 0; i < 1000; i++ {
		r := Float64()
		require.GreaterOrEqual(t, r, 0.0)
		require.Less(t, r, 1.0)
	}
}

func TestRetry_Success(t *testing.T) {
	cfg := Config{
		MaxAttempts:  3,
		InitialDelay: 10 * time.Millisecond,
		MaxDelay:     100 * time.Millisecond,
		Multiplier:   2.0,
	}

	attempts := 0
	err := Do(context.Background(), cfg, func() error {
		attempts++
		if attempts < 3 {
			return errors.New("transient error")
		}
		return nil
	})

	assert.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestRetry_AllAttemptsFail(t *testing.T) {
	cfg := Config{
		MaxAttempts:  3,
		InitialDelay: 5 * time.Millisecond,
		MaxDelay:     20 * time.Millisecond,
		Multiplier:   2.0,
	}

	attempts := 0
	err := Do(context.Background(), cfg, func() error {
		attempts++
		return errors.New("persistent error")
	})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed after 3 attempts")
	assert.Equal(t, 3, attempts)
}

func TestRetry_NonRetryable(t *testing.T) {
	sentinel := errors.New("bad url")
	attempts := 0
	err := Do(context.Background(), DefaultConfig(), func() error {
		attempts++
		return NonRetryable(sentinel)
	})

	assert.Equal(t, 1, attempts)
	assert.True(t, IsNonRetryable(err))
	assert.ErrorIs(t, err, sentinel)
	assert.Nil(t, NonRetryable(nil))
}

func TestRetry_ContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := Config{
		MaxAttempts:  5,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     time.Second,
		Multiplier:   2.0,
	}

	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	attempts := 0
	err := Do(ctx, cfg, func() error {
		attempts++
		return errors.New("error")
	})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "retry cancelled")
	assert.Less(t, attempts, 5)
}

func TestRetry_InvalidConfig(t *testing.T) {
	err := Do(context.Background(), Config{InitialDelay: -1}, func() error { return nil })
	assert.Error(t, err)

	err = Do(context.Background(), Config{InitialDelay: time.Second, MaxDelay: time.Millisecond}, func() error { return nil })
	assert.Error(t, err)
}

func TestDoWithResult(t *testing.T) {
	calls := 0
	v, err := DoWithResult(context.Background(), Quick(), func() (string, error) {
		calls++
		if calls == 1 {
			return "", errors.New("not yet")
		}
		return "connected", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "connected", v)
	assert.Equal(t, 2, calls)
}
