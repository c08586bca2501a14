package testutil

import (
	"context"
	"sync/atomic"
)

// RecordingObserver counts resource events delivered by an event source.
type RecordingObserver struct {
	warnings    int64
	backgrounds int64

	Warnings    chan struct{}
	Backgrounds chan struct{}
}

// NewRecordingObserver creates an observer whose channels buffer up to 16 events each.
func NewRecordingObserver() *RecordingObserver {
	return &RecordingObserver{
		Warnings:    make(chan struct{}, 16),
		Backgrounds: make(chan struct{}, 16),
	}
}

// OnMemoryWarning records a memory warning.
func (o *RecordingObserver) OnMemoryWarning(_ context.Context) {
	atomic.AddInt64(&o.warnings, 1)
	select {
	case o.Warnings <- struct{}{}:
	default:
	}
}

// OnEnteredBackground records a background transition.
func (o *RecordingObserver) OnEnteredBackground(_ context.Context) {
	atomic.AddInt64(&o.backgrounds, 1)
	select {
	case o.Backgrounds <- struct{}{}:
	default:
	}
}

// WarningCount returns the number of memory warnings received.
func (o *RecordingObserver) WarningCount() int64 {
	return atomic.LoadInt64(&o.warnings)
}

// BackgroundCount returns the number of background transitions received.
func (o *RecordingObserver) BackgroundCount() int64 {
	return atomic.LoadInt64(&o.backgrounds)
}
