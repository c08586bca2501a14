// Package buffer provides generic, thread-safe fixed-capacity buffers.
//
// The main use in resourcekit is the sliding window: a CircularBuffer with the
// DropOldest policy keeps the most recent N items and discards the oldest item
// whenever a write would exceed capacity. Statistics are always collected;
// Prometheus metrics are optional via WithMetrics().
package buffer

// Buffer represents a generic buffer interface that all buffer implementations must satisfy.
type Buffer[T any] interface {
	// Write adds an item to the buffer. Behavior when full depends on the overflow policy.
	Write(item T) error

	// Read retrieves and removes the oldest item.
	// Returns the zero value and false if the buffer is empty.
	Read() (T, bool)

	// Peek returns the oldest item without removing it.
	Peek() (T, bool)

	// Last returns the most recently written item without removing it.
	Last() (T, bool)

	// Snapshot returns a copy of all items, oldest first.
	Snapshot() []T

	// Size returns the current number of items in the buffer.
	Size() int

	// Capacity returns the maximum number of items the buffer can hold.
	Capacity() int

	// Clear removes all items from the buffer.
	Clear()

	// Stats returns buffer statistics.
	Stats() *Statistics

	// Close marks the buffer closed; later writes fail.
	Close() error
}

// OverflowPolicy defines how the buffer behaves when it reaches capacity.
type OverflowPolicy int

const (
	// DropOldest removes the oldest item to make room for new items.
	DropOldest OverflowPolicy = iota

	// DropNewest drops new items when the buffer is full.
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

// DropCallback is called when an item is dropped due to overflow policy.
type DropCallback[T any] func(item T)

// NewCircularBuffer creates a new circular buffer with the specified capacity and options.
// Returns an error if metrics registration fails when metrics are requested.
func NewCircularBuffer[T any](capacity int, options ...Option[T]) (Buffer[T], error) {
	opts := applyOptions(options...)
	return newCircularBuffer(capacity, opts)
}
