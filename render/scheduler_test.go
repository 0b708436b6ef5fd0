package render

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/streamview/errors"
	"github.com/c360/streamview/metric"
)

func TestScheduler_Defaults(t *testing.T) {
	s := NewScheduler()
	assert.Equal(t, SteppedFPS, s.TargetFrameRate())
	assert.Empty(t, s.Views())
}

func TestScheduler_RenderFrameSharesTimestamp(t *testing.T) {
	fixed := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	s := NewScheduler(WithClock(func() time.Time { return fixed }))

	var seen []time.Time
	s.Register("a", RendererFunc(func(now time.Time) { seen = append(seen, now) }))
	s.Register("b", RendererFunc(func(now time.Time) { seen = append(seen, now) }))

	s.RenderFrame()

	require.Len(t, seen, 2)
	assert.Equal(t, fixed, seen[0])
	assert.Equal(t, fixed, seen[1])
	assert.Equal(t, []string{"a", "b"}, s.Views())

	s.Unregister("a")
	assert.Equal(t, []string{"b"}, s.Views())
}

func TestScheduler_RunUntilCancelled(t *testing.T) {
	s := NewScheduler()
	require.NoError(t, s.SetTargetFrameRate(1000))

	var frames atomic.Int64
	s.Register("count", RendererFunc(func(time.Time) { frames.Add(1) }))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	require.Eventually(t, func() bool { return frames.Load() >= 5 }, 2*time.Second, time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("render loop did not stop")
	}

	stopped := frames.Load()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, stopped, frames.Load())
}

func TestScheduler_FrameRateLimits(t *testing.T) {
	s := NewScheduler()
	require.NoError(t, s.SetTargetFrameRate(10))

	var frames atomic.Int64
	s.Register("count", RendererFunc(func(time.Time) { frames.Add(1) }))

	ctx, cancel := context.WithTimeout(context.Background(), 250*time.Millisecond)
	defer cancel()
	require.NoError(t, s.Run(ctx))

	// One burst frame plus roughly 10/s over 250ms.
	assert.LessOrEqual(t, frames.Load(), int64(5))
	assert.GreaterOrEqual(t, frames.Load(), int64(1))
}

func TestScheduler_SetTargetFrameRate(t *testing.T) {
	s := NewScheduler()

	err := s.SetTargetFrameRate(0)
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))

	require.NoError(t, s.SetTargetFrameRate(30))
	assert.Equal(t, 30.0, s.TargetFrameRate())

	s.SetContinuous(true)
	assert.Equal(t, ContinuousFPS, s.TargetFrameRate())
	s.SetContinuous(false)
	assert.Equal(t, SteppedFPS, s.TargetFrameRate())
}

func TestScheduler_Metrics(t *testing.T) {
	registry := metric.NewMetricsRegistry()
	s := NewScheduler(WithMetrics(registry))

	s.RenderFrame()
	s.RenderFrame()

	assert.Equal(t, 2.0, testutil.ToFloat64(s.frames))

	// A second scheduler on the same registry runs without metrics.
	other := NewScheduler(WithMetrics(registry))
	assert.NotPanics(t, other.RenderFrame)
}
