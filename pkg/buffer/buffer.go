// Package buffer provides a generic, thread-safe circular buffer with
// overflow policies, always-on statistics and optional Prometheus metrics.
//
// The proxy uses it to hold frames that arrive on one leg before the other
// leg is established:
//
//	pending, err := buffer.NewCircularBuffer[[]byte](256,
//	    buffer.WithOverflowPolicy[[]byte](buffer.DropOldest),
//	    buffer.WithMetrics[[]byte](registry, "proxy_upstream"),
//	)
//	_ = pending.Write(frame)
//	for _, f := range pending.ReadBatch(pending.Size()) { ... }
package buffer

// Buffer is a bounded FIFO queue of items of type T.
type Buffer[T any] interface {
	// Write adds an item, applying the overflow policy when full.
	Write(item T) error

	// Read removes and returns the oldest item.
	Read() (T, bool)

	// ReadBatch removes and returns up to max items, oldest first.
	ReadBatch(max int) []T

	// Peek returns the oldest item without removing it.
	Peek() (T, bool)

	Size() int
	Capacity() int
	IsFull() bool
	IsEmpty() bool

	// Clear drops every item, invoking the drop callback for each.
	Clear()

	// Stats returns buffer statistics.
	Stats() *Statistics

	// Close rejects further writes. Items already queued remain readable.
	Close() error
}

// OverflowPolicy defines how the buffer behaves when it reaches capacity.
type OverflowPolicy int

const (
	// DropOldest evicts the oldest item to make room for the new one.
	DropOldest OverflowPolicy = iota

	// DropNewest discards the incoming item.
	DropNewest
)

// String returns a human-readable representation of the overflow policy.
func (p OverflowPolicy) String() string {
	switch p {
	case DropOldest:
		return "DropOldest"
	case DropNewest:
		return "DropNewest"
	default:
		return "Unknown"
	}
}

// DropCallback is called with every item dropped by the overflow policy or Clear.
type DropCallback[T any] func(item T)

// NewCircularBuffer creates a circular buffer. Capacity below 1 is raised to 1.
// An error is returned only when requested metrics cannot be registered.
func NewCircularBuffer[T any](capacity int, options ...Option[T]) (Buffer[T], error) {
	opts := applyOptions(options...)
	return newCircularBuffer(capacity, opts)
}
