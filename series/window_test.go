package series

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seriesOf(t *testing.T, policy MergePolicy, samples ...Sample) *Series {
	t.Helper()
	s := New("test", policy, nil)
	for _, smp := range samples {
		require.NoError(t, s.Push(smp.Timestamp, smp.Value, false))
	}
	return s
}

func TestRenderWindow_Bounds(t *testing.T) {
	w := RenderWindow{Duration: 30 * time.Second, EndOffset: 10 * time.Second}
	start, end := w.Bounds(100_000)
	assert.Equal(t, int64(90_000), end)
	assert.Equal(t, int64(60_000), start)
}

func TestWindowFromSlider(t *testing.T) {
	w := WindowFromSlider(5*time.Minute, 9*time.Minute, 10*time.Minute)
	assert.Equal(t, 4*time.Minute, w.Duration)
	assert.Equal(t, time.Minute, w.EndOffset)

	swapped := WindowFromSlider(9*time.Minute, 5*time.Minute, 10*time.Minute)
	assert.Equal(t, w, swapped)
}

func TestVisibleRange(t *testing.T) {
	var samples []Sample
	for ts := int64(1000); ts <= 10000; ts += 1000 {
		samples = append(samples, Sample{Timestamp: ts, Value: float64(ts)})
	}

	tests := []struct {
		name       string
		start, end int64
		want       IndexRange
	}{
		{"middle widened both sides", 3500, 6500, IndexRange{2, 6}},
		{"exact bounds", 3000, 6000, IndexRange{1, 6}},
		{"starts at first", 0, 2500, IndexRange{0, 2}},
		{"ends at last", 8500, 20000, IndexRange{7, 9}},
		{"all before window", 20000, 30000, IndexRange{0, -1}},
		{"all after window", 0, 500, IndexRange{0, 0}},
		{"gap straddles window", 4100, 4900, IndexRange{3, 4}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, VisibleRange(samples, tt.start, tt.end))
		})
	}

	assert.True(t, VisibleRange(nil, 0, 10).Empty())
}

func TestVisibleRange_NeverInvertedWithData(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	for iter := 0; iter < 300; iter++ {
		n := rng.Intn(20) + 1
		samples := make([]Sample, n)
		ts := int64(rng.Intn(100))
		for i := range samples {
			ts += int64(rng.Intn(50) + 1)
			samples[i] = Sample{Timestamp: ts}
		}
		start := int64(rng.Intn(1200))
		end := start + int64(rng.Intn(300))

		r := VisibleRange(samples, start, end)
		if samples[n-1].Timestamp < start {
			require.True(t, r.Empty(), "stale series should be empty, got %v", r)
			continue
		}
		require.LessOrEqual(t, r.Lower, r.Upper)
		require.GreaterOrEqual(t, r.Lower, 0)
		require.Less(t, r.Upper, n)
		for i, s := range samples {
			if s.Timestamp >= start && s.Timestamp <= end {
				require.True(t, i >= r.Lower && i <= r.Upper, "in-window sample %d outside %v", i, r)
			}
		}
	}
}

func TestComputeWindow_ValueRange(t *testing.T) {
	w := RenderWindow{Duration: 10 * time.Second}
	now := int64(20_000)

	t.Run("no data", func(t *testing.T) {
		res := ComputeWindow(nil, w, DefaultRetention, now, false, false)
		assert.Equal(t, ValueRange{0, 1}, res.Values)
	})

	t.Run("only stale samples", func(t *testing.T) {
		s := seriesOf(t, Max, Sample{1_000, 1_000}, Sample{2_000, 2_000}, Sample{3_000, 3_000})
		res := ComputeWindow([]*Series{s}, RenderWindow{Duration: 10 * time.Second}, DefaultRetention, 30_000, false, false)
		assert.Equal(t, int64(20_000), res.Start)
		assert.True(t, res.Ranges[0].Empty())
		assert.Equal(t, ValueRange{0, 1}, res.Values)
	})

	t.Run("flat line", func(t *testing.T) {
		s := seriesOf(t, Max, Sample{15_000, 4}, Sample{16_000, 4})
		res := ComputeWindow([]*Series{s}, w, DefaultRetention, now, false, false)
		assert.Equal(t, ValueRange{3, 5}, res.Values)
	})

	t.Run("padded spread", func(t *testing.T) {
		a := seriesOf(t, Max, Sample{15_000, 10}, Sample{16_000, 20})
		b := seriesOf(t, Max, Sample{15_000, 0})
		res := ComputeWindow([]*Series{a, b}, w, DefaultRetention, now, false, false)
		assert.InDelta(t, -2.0, res.Values.Min, 1e-9)
		assert.InDelta(t, 22.0, res.Values.Max, 1e-9)
		assert.Equal(t, []IndexRange{{0, 1}, {0, 0}}, res.Ranges)
	})

	t.Run("stacked uses per timestamp sums", func(t *testing.T) {
		a := seriesOf(t, Max, Sample{15_000, 10}, Sample{16_000, 1})
		b := seriesOf(t, Max, Sample{15_000, 5}, Sample{17_000, 2})
		res := ComputeWindow([]*Series{a, b}, w, DefaultRetention, now, false, true)
		// sums: 15000 -> 15, 16000 -> 1, 17000 -> 2; min value 1
		assert.InDelta(t, 1-1.4, res.Values.Min, 1e-9)
		assert.InDelta(t, 15+1.4, res.Values.Max, 1e-9)
	})
}

func TestComputeWindow_TrimOnlyWhenLive(t *testing.T) {
	w := RenderWindow{Duration: 10 * time.Second}
	build := func() *Series {
		return seriesOf(t, Sum, Sample{1_000, 1}, Sample{2_000, 1}, Sample{3_000, 1}, Sample{100_000, 1})
	}

	live := build()
	ComputeWindow([]*Series{live}, w, 60*time.Second, 101_000, false, false)
	// cutoff = 101000 - 60000 = 41000; keep 3000 as anchor
	assert.Equal(t, []Sample{{3_000, 1}, {100_000, 1}}, live.Samples())

	paused := build()
	ComputeWindow([]*Series{paused}, w, 60*time.Second, 101_000, true, false)
	assert.Equal(t, 4, paused.Len())
}
