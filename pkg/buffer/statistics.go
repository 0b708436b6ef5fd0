package buffer

import (
	"sync/atomic"
)

// Statistics tracks buffer activity. All methods are safe for concurrent use.
type Statistics struct {
	writes  atomic.Int64
	reads   atomic.Int64
	drops   atomic.Int64
	current atomic.Int64
	max     atomic.Int64
}

// NewStatistics creates a zeroed statistics tracker.
func NewStatistics() *Statistics {
	return &Statistics{}
}

func (s *Statistics) recordWrite() { s.writes.Add(1) }

func (s *Statistics) recordReads(n int) { s.reads.Add(int64(n)) }

func (s *Statistics) recordDrops(n int) { s.drops.Add(int64(n)) }

func (s *Statistics) updateSize(size int) {
	s.current.Store(int64(size))
	for {
		m := s.max.Load()
		if int64(size) <= m || s.max.CompareAndSwap(m, int64(size)) {
			return
		}
	}
}

// Writes returns the number of accepted writes.
func (s *Statistics) Writes() int64 { return s.writes.Load() }

// Reads returns the number of items removed by Read or ReadBatch.
func (s *Statistics) Reads() int64 { return s.reads.Load() }

// Drops returns the number of items lost to overflow or Clear.
func (s *Statistics) Drops() int64 { return s.drops.Load() }

// CurrentSize returns the number of queued items.
func (s *Statistics) CurrentSize() int64 { return s.current.Load() }

// MaxSize returns the high-water mark.
func (s *Statistics) MaxSize() int64 { return s.max.Load() }

// StatsSummary is a point-in-time copy of Statistics.
type StatsSummary struct {
	Writes      int64 `json:"writes"`
	Reads       int64 `json:"reads"`
	Drops       int64 `json:"drops"`
	CurrentSize int64 `json:"current_size"`
	MaxSize     int64 `json:"max_size"`
}

// Summary returns a snapshot of all statistics.
func (s *Statistics) Summary() StatsSummary {
	return StatsSummary{
		Writes:      s.Writes(),
		Reads:       s.Reads(),
		Drops:       s.Drops(),
		CurrentSize: s.CurrentSize(),
		MaxSize:     s.MaxSize(),
	}
}
