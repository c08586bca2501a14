// Package storage defines the usage record model and the store contract used
// for maintenance by the background processor.
package storage

import (
	"context"
	"time"
)

// UsageRecord is one measured operation.
type UsageRecord struct {
	ID          string        `json:"id"`
	Operation   string        `json:"operation"`
	Duration    time.Duration `json:"duration"`
	MemoryDelta int64         `json:"memory_delta"`
	Failed      bool          `json:"failed"`
	RecordedAt  time.Time     `json:"recorded_at"`
}

// Store persists usage records and supports maintenance.
//
// Implementations must be safe for concurrent use.
type Store interface {
	// Append stores rec, assigning an ID when empty.
	Append(ctx context.Context, rec UsageRecord) error

	// Count returns the number of stored records.
	Count(ctx context.Context) (int64, error)

	// OptimizeStorage reclaims space and refreshes planner statistics.
	OptimizeStorage(ctx context.Context) error

	// DeleteRecordsOlderThan removes records recorded strictly before cutoff
	// and returns how many were removed.
	DeleteRecordsOlderThan(ctx context.Context, cutoff time.Time) (int64, error)

	Close() error
}
