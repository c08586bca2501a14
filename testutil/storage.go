package testutil

import (
	"context"
	"sync"
	"time"
)

// StorageMaintainer records maintenance calls and can inject failures.
type StorageMaintainer struct {
	mu          sync.Mutex
	optimizeErr error
	deleteErr   error
	deleted     int64

	optimizeCalls int
	cutoffs       []time.Time
	order         []string
}

// NewStorageMaintainer creates a maintainer that succeeds and reports deleted rows per cleanup.
func NewStorageMaintainer(deleted int64) *StorageMaintainer {
	return &StorageMaintainer{deleted: deleted}
}

// OptimizeStorage records the call.
func (s *StorageMaintainer) OptimizeStorage(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.optimizeCalls++
	s.order = append(s.order, "optimize")
	return s.optimizeErr
}

// DeleteRecordsOlderThan records the cutoff.
func (s *StorageMaintainer) DeleteRecordsOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cutoffs = append(s.cutoffs, cutoff)
	s.order = append(s.order, "cleanup")
	if s.deleteErr != nil {
		return 0, s.deleteErr
	}
	return s.deleted, nil
}

// FailOptimize makes OptimizeStorage return err.
func (s *StorageMaintainer) FailOptimize(err error) {
	s.mu.Lock()
	s.optimizeErr = err
	s.mu.Unlock()
}

// FailDelete makes DeleteRecordsOlderThan return err.
func (s *StorageMaintainer) FailDelete(err error) {
	s.mu.Lock()
	s.deleteErr = err
	s.mu.Unlock()
}

// OptimizeCalls returns how many times OptimizeStorage ran.
func (s *StorageMaintainer) OptimizeCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.optimizeCalls
}

// Cutoffs returns every cutoff passed to DeleteRecordsOlderThan.
func (s *StorageMaintainer) Cutoffs() []time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Time(nil), s.cutoffs...)
}

// Calls returns the maintenance calls in the order they happened.
func (s *StorageMaintainer) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.order...)
}
