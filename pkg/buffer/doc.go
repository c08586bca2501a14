// Package buffer provides thread-safe circular buffers with configurable overflow policies,
// built-in statistics tracking, and optional Prometheus metrics integration.
//
// # Sliding windows
//
// Performance samples and memory history are kept in DropOldest buffers so that only
// the most recent N items survive:
//
//	window, err := buffer.NewCircularBuffer[time.Duration](100)
//	if err != nil {
//		return err
//	}
//	_ = window.Write(elapsed)
//	recent := window.Snapshot() // oldest first
//
// # Overflow Policies
//
//   - DropOldest: Remove oldest item to make room (default)
//   - DropNewest: Discard the incoming item when full
//
// A DropCallback, if configured, receives every discarded item. It is invoked
// after the buffer lock is released.
//
// # Observability
//
// Statistics are always on and available via Stats(). Prometheus metrics are
// opt-in through WithMetrics(registry, prefix).
package buffer
