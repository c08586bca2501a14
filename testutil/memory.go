package testutil

import (
	"sync"
	"sync/atomic"
)

// MemoryReader is a settable memory source for monitor and cache tests.
type MemoryReader struct {
	mu          sync.Mutex
	physical    uint64
	resident    uint64
	physicalErr error
	residentErr error

	residentReads int64
}

// NewMemoryReader creates a reader returning the given figures.
func NewMemoryReader(resident, physical uint64) *MemoryReader {
	return &MemoryReader{resident: resident, physical: physical}
}

// PhysicalMemory returns the configured physical memory.
func (r *MemoryReader) PhysicalMemory() (uint64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.physicalErr != nil {
		return 0, r.physicalErr
	}
	return r.physical, nil
}

// ResidentMemory returns the configured resident size.
func (r *MemoryReader) ResidentMemory() (uint64, error) {
	atomic.AddInt64(&r.residentReads, 1)
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.residentErr != nil {
		return 0, r.residentErr
	}
	return r.resident, nil
}

// SetResident changes the resident size returned from now on.
func (r *MemoryReader) SetResident(resident uint64) {
	r.mu.Lock()
	r.resident = resident
	r.mu.Unlock()
}

// SetPhysical changes the physical memory returned from now on.
func (r *MemoryReader) SetPhysical(physical uint64) {
	r.mu.Lock()
	r.physical = physical
	r.mu.Unlock()
}

// FailResident makes ResidentMemory return err. Pass nil to recover.
func (r *MemoryReader) FailResident(err error) {
	r.mu.Lock()
	r.residentErr = err
	r.mu.Unlock()
}

// FailPhysical makes PhysicalMemory return err. Pass nil to recover.
func (r *MemoryReader) FailPhysical(err error) {
	r.mu.Lock()
	r.physicalErr = err
	r.mu.Unlock()
}

// ResidentReads counts ResidentMemory calls.
func (r *MemoryReader) ResidentReads() int64 {
	return atomic.LoadInt64(&r.residentReads)
}
