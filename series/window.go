package series

import (
	"math"
	"sort"
	"time"
)

const (
	// DefaultDuration is the visible span of a new graph.
	DefaultDuration = 30 * time.Second
	// DefaultRetention bounds how much history a series keeps.
	DefaultRetention = 10 * time.Minute
)

// RenderWindow is a relative time window. At render time the absolute bounds
// are End = now - EndOffset and Start = End - Duration.
type RenderWindow struct {
	Duration  time.Duration `json:"duration"`
	EndOffset time.Duration `json:"end_offset"`
}

// DefaultWindow shows the most recent DefaultDuration.
func DefaultWindow() RenderWindow {
	return RenderWindow{Duration: DefaultDuration}
}

// WindowFromSlider converts a [start, end] selection on a slider spanning
// [0, retention] into a RenderWindow, where end == retention means "now".
func WindowFromSlider(start, end, retention time.Duration) RenderWindow {
	if end < start {
		start, end = end, start
	}
	return RenderWindow{
		Duration:  end - start,
		EndOffset: retention - end,
	}
}

// Bounds returns the absolute [start, end] in Unix milliseconds.
func (w RenderWindow) Bounds(now int64) (start, end int64) {
	end = now - w.EndOffset.Milliseconds()
	return end - w.Duration.Milliseconds(), end
}

// IndexRange is an inclusive index range into a series. Lower > Upper
// denotes an empty range.
type IndexRange struct {
	Lower int `json:"lower"`
	Upper int `json:"upper"`
}

// Empty reports whether the range selects nothing.
func (r IndexRange) Empty() bool {
	return r.Lower > r.Upper
}

// ValueRange is the vertical extent of a frame.
type ValueRange struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// WindowResult describes what a renderer should draw for one frame.
type WindowResult struct {
	Start  int64        `json:"start"`
	End    int64        `json:"end"`
	Ranges []IndexRange `json:"ranges"`
	Values ValueRange   `json:"values"`
}

// VisibleRange returns the minimal index range covering every sample in
// [start, end], widened by one sample on each side where available so a
// clipped segment stays connected to its out-of-window neighbor. When no
// sample lies inside the window the range covers the neighbors straddling
// it. The range is empty when the series is empty or every sample is older
// than start.
func VisibleRange(samples []Sample, start, end int64) IndexRange {
	n := len(samples)
	if n == 0 {
		return IndexRange{Lower: 0, Upper: -1}
	}
	first := sort.Search(n, func(i int) bool { return samples[i].Timestamp >= start })
	if first == n {
		return IndexRange{Lower: 0, Upper: -1}
	}
	last := sort.Search(n, func(i int) bool { return samples[i].Timestamp > end }) - 1

	lower := first - 1
	if lower < 0 {
		lower = 0
	}
	upper := last + 1
	if upper > n-1 {
		upper = n - 1
	}
	return IndexRange{Lower: lower, Upper: upper}
}

// ComputeWindow trims stale history (unless paused), finds the visible range
// of every series and derives the value range. now is the render instant, or
// the pause instant when paused. When stacked, the upper bound is the largest
// per-timestamp sum across series.
func ComputeWindow(list []*Series, w RenderWindow, retention time.Duration, now int64, paused, stacked bool) WindowResult {
	start, end := w.Bounds(now)
	res := WindowResult{
		Start:  start,
		End:    end,
		Ranges: make([]IndexRange, len(list)),
	}

	lo, hi := math.Inf(1), math.Inf(-1)
	var sums map[int64]float64
	if stacked {
		sums = make(map[int64]float64)
	}

	for i, s := range list {
		if !paused {
			s.Trim(end - retention.Milliseconds())
		}
		r := VisibleRange(s.samples, start, end)
		res.Ranges[i] = r
		for k := r.Lower; k <= r.Upper; k++ {
			v := s.samples[k].Value
			lo = math.Min(lo, v)
			hi = math.Max(hi, v)
			if stacked {
				sums[s.samples[k].Timestamp] += v
			}
		}
	}

	if stacked && len(sums) > 0 {
		hi = math.Inf(-1)
		for _, sum := range sums {
			hi = math.Max(hi, sum)
			lo = math.Min(lo, sum)
		}
	}

	res.Values = padRange(lo, hi)
	return res
}

func padRange(lo, hi float64) ValueRange {
	switch {
	case lo > hi:
		return ValueRange{Min: 0, Max: 1}
	case lo == hi:
		return ValueRange{Min: lo - 1, Max: hi + 1}
	default:
		pad := (hi - lo) / 10
		return ValueRange{Min: lo - pad, Max: hi + pad}
	}
}
