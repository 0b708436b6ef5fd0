package buffer

import (
	"sync"

	"github.com/c360/streamview/errors"
)

type circularBuffer[T any] struct {
	mu       sync.Mutex
	items    []T
	capacity int
	size     int
	head     int // next write position
	tail     int // next read position
	stats    *Statistics
	metrics  *bufferMetrics
	opts     *bufferOptions[T]
	closed   bool
}

func newCircularBuffer[T any](capacity int, opts *bufferOptions[T]) (*circularBuffer[T], error) {
	if capacity <= 0 {
		capacity = 1
	}

	var metrics *bufferMetrics
	if opts.metricsReg != nil {
		var err error
		metrics, err = newBufferMetrics(opts.metricsReg, opts.metricsPrefix)
		if err != nil {
			return nil, errors.WrapTransient(err, "buffer", "newCircularBuffer", "metrics registration")
		}
	}

	return &circularBuffer[T]{
		items:    make([]T, capacity),
		capacity: capacity,
		stats:    NewStatistics(),
		metrics:  metrics,
		opts:     opts,
	}, nil
}

// Write adds an item according to the overflow policy. The drop callback,
// if any, runs after the lock is released.
func (cb *circularBuffer[T]) Write(item T) error {
	var dropped []T
	defer func() {
		if cb.opts.dropCallback != nil {
			for _, d := range dropped {
				cb.opts.dropCallback(d)
			}
		}
	}()

	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.closed {
		return errors.WrapInvalid(errors.ErrShuttingDown, "Buffer", "Write", "buffer closed")
	}

	if cb.size == cb.capacity {
		switch cb.opts.overflowPolicy {
		case DropNewest:
			cb.recordDrop()
			dropped = append(dropped, item)
			return nil
		default:
			var zero T
			dropped = append(dropped, cb.items[cb.tail])
			cb.items[cb.tail] = zero
			cb.tail = (cb.tail + 1) % cb.capacity
			cb.size--
			cb.recordDrop()
		}
	}

	cb.items[cb.head] = item
	cb.head = (cb.head + 1) % cb.capacity
	cb.size++

	cb.stats.recordWrite()
	cb.stats.updateSize(cb.size)
	if cb.metrics != nil {
		cb.metrics.writes.Inc()
		cb.metrics.size.Set(float64(cb.size))
	}
	return nil
}

func (cb *circularBuffer[T]) recordDrop() {
	cb.stats.recordDrops(1)
	if cb.metrics != nil {
		cb.metrics.drops.Inc()
	}
}

// Read removes and returns the oldest item.
func (cb *circularBuffer[T]) Read() (T, bool) {
	items := cb.ReadBatch(1)
	if len(items) == 0 {
		var zero T
		return zero, false
	}
	return items[0], true
}

// ReadBatch removes and returns up to max items, oldest first.
func (cb *circularBuffer[T]) ReadBatch(max int) []T {
	if max <= 0 {
		return nil
	}

	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.size == 0 {
		return nil
	}
	n := max
	if n > cb.size {
		n = cb.size
	}

	var zero T
	result := make([]T, n)
	for i := 0; i < n; i++ {
		result[i] = cb.items[cb.tail]
		cb.items[cb.tail] = zero
		cb.tail = (cb.tail + 1) % cb.capacity
	}
	cb.size -= n

	cb.stats.recordReads(n)
	cb.stats.updateSize(cb.size)
	if cb.metrics != nil {
		cb.metrics.size.Set(float64(cb.size))
	}
	return result
}

// Peek returns the oldest item without removing it.
func (cb *circularBuffer[T]) Peek() (T, bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.size == 0 {
		var zero T
		return zero, false
	}
	return cb.items[cb.tail], true
}

func (cb *circularBuffer[T]) Size() int {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.size
}

func (cb *circularBuffer[T]) Capacity() int {
	return cb.capacity
}

func (cb *circularBuffer[T]) IsFull() bool {
	return cb.Size() == cb.capacity
}

func (cb *circularBuffer[T]) IsEmpty() bool {
	return cb.Size() == 0
}

// Clear drops every queued item.
func (cb *circularBuffer[T]) Clear() {
	cb.mu.Lock()
	var zero T
	dropped := make([]T, 0, cb.size)
	for cb.size > 0 {
		dropped = append(dropped, cb.items[cb.tail])
		cb.items[cb.tail] = zero
		cb.tail = (cb.tail + 1) % cb.capacity
		cb.size--
	}
	cb.head, cb.tail = 0, 0
	cb.stats.recordDrops(len(dropped))
	cb.stats.updateSize(0)
	if cb.metrics != nil {
		cb.metrics.drops.Add(float64(len(dropped)))
		cb.metrics.size.Set(0)
	}
	cb.mu.Unlock()

	if cb.opts.dropCallback != nil {
		for _, item := range dropped {
			cb.opts.dropCallback(item)
		}
	}
}

func (cb *circularBuffer[T]) Stats() *Statistics {
	return cb.stats
}

// Close rejects further writes and releases any registered metrics.
func (cb *circularBuffer[T]) Close() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.closed {
		return nil
	}
	cb.closed = true
	if cb.metrics != nil {
		cb.metrics.unregister(cb.opts.metricsReg, cb.opts.metricsPrefix)
	}
	return nil
}
