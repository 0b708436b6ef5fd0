// Package series holds the in-memory time-series model: per-connection
// sample sequences with duplicate-timestamp merging and pause buffering,
// render-window computation, and Graph, the per-metric aggregate that
// multiplexes one Series per connection.
package series

import (
	"fmt"
	"log/slog"

	"github.com/c360/streamview/errors"
)

// Sample is one timestamped value. Timestamps are Unix milliseconds.
type Sample struct {
	Timestamp int64   `json:"ts"`
	Value     float64 `json:"value"`
}

// Series is an ordered sample sequence with strictly increasing timestamps.
// While paused, samples accumulate in a pending buffer that obeys the same
// ordering rules and is flushed on the first unpaused push.
//
// Series is not safe for concurrent use; Graph serializes access.
type Series struct {
	samples []Sample
	pending []Sample
	policy  MergePolicy
	logger  *slog.Logger
	name    string
}

// New creates an empty series. A nil logger discards out-of-order reports.
func New(name string, policy MergePolicy, logger *slog.Logger) *Series {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Series{
		name:   name,
		policy: policy,
		logger: logger,
	}
}

// Policy returns the merge policy.
func (s *Series) Policy() MergePolicy {
	return s.policy
}

// Push ingests one sample. Paused pushes go to the pending buffer; the first
// unpaused push flushes it. A sample older than the newest stored timestamp
// is discarded and reported as ErrOutOfOrderSample.
func (s *Series) Push(ts int64, value float64, paused bool) error {
	if paused {
		var err error
		s.pending, err = s.insert(s.pending, Sample{Timestamp: ts, Value: value})
		return err
	}
	s.Flush()
	var err error
	s.samples, err = s.insert(s.samples, Sample{Timestamp: ts, Value: value})
	return err
}

// Flush appends the pending buffer to the stored samples and clears it.
func (s *Series) Flush() {
	if len(s.pending) == 0 {
		return
	}
	for _, p := range s.pending {
		s.samples, _ = s.insert(s.samples, p)
	}
	s.pending = s.pending[:0]
}

func (s *Series) insert(buf []Sample, sample Sample) ([]Sample, error) {
	n := len(buf)
	switch {
	case n == 0 || sample.Timestamp > buf[n-1].Timestamp:
		return append(buf, sample), nil
	case sample.Timestamp == buf[n-1].Timestamp:
		buf[n-1].Value = s.policy.Merge(buf[n-1].Value, sample.Value)
		return buf, nil
	default:
		s.logger.Warn("Dropping out-of-order sample",
			"series", s.name,
			"timestamp", sample.Timestamp,
			"last_timestamp", buf[n-1].Timestamp)
		return buf, errors.WrapInvalid(
			fmt.Errorf("%w: %d < %d", errors.ErrOutOfOrderSample, sample.Timestamp, buf[n-1].Timestamp),
			"Series", "Push", "order sample")
	}
}

// Trim drops leading samples while the second sample is older than cutoff,
// so at least one sample older than the cutoff survives as the left anchor.
func (s *Series) Trim(cutoff int64) int {
	i := 0
	for i+1 < len(s.samples) && s.samples[i+1].Timestamp < cutoff {
		i++
	}
	if i == 0 {
		return 0
	}
	s.samples = append(s.samples[:0], s.samples[i:]...)
	return i
}

// Len returns the number of stored samples, excluding pending ones.
func (s *Series) Len() int {
	return len(s.samples)
}

// PendingLen returns the number of samples buffered while paused.
func (s *Series) PendingLen() int {
	return len(s.pending)
}

// Samples returns a copy of the stored samples.
func (s *Series) Samples() []Sample {
	out := make([]Sample, len(s.samples))
	copy(out, s.samples)
	return out
}

// Pending returns a copy of the pending buffer.
func (s *Series) Pending() []Sample {
	out := make([]Sample, len(s.pending))
	copy(out, s.pending)
	return out
}
