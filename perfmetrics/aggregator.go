// Package perfmetrics keeps bounded per-operation performance history and
// per-cache-kind hit/miss counters for diagnostics and reporting.
package perfmetrics

import (
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/c360/resourcekit/metric"
	"github.com/c360/resourcekit/pkg/buffer"
)

// DefaultWindowSize is the number of samples retained per operation.
const DefaultWindowSize = 100

// Lifecycle marker operations recorded with zero duration and zero memory delta.
const (
	MarkerMemoryOptimization   = "memory_optimization"
	MarkerDatabaseOptimization = "database_optimization"
	MarkerNetworkOptimization  = "network_optimization"
	MarkerUIOptimization       = "ui_optimization"
)

// Sample is one recorded execution of an operation.
type Sample struct {
	Operation   string        `json:"operation"`
	Timestamp   time.Time     `json:"timestamp"`
	Duration    time.Duration `json:"duration"`
	MemoryDelta int64         `json:"memory_delta"`
}

type operationWindow struct {
	samples  buffer.Buffer[Sample]
	failures int64
}

type cacheCounters struct {
	hits   int64
	misses int64
	stored int64
}

// Aggregator records operation samples into fixed-size sliding windows.
// All methods are safe for concurrent use.
type Aggregator struct {
	mu         sync.RWMutex
	windowSize int
	windows    map[string]*operationWindow
	cache      map[string]*cacheCounters

	clock   clockwork.Clock
	metrics *metric.Metrics
	logger  *slog.Logger
}

// Option configures an Aggregator.
type Option func(*Aggregator)

// WithWindowSize overrides the per-operation window capacity. Values <= 0 are ignored.
func WithWindowSize(size int) Option {
	return func(a *Aggregator) {
		if size > 0 {
			a.windowSize = size
		}
	}
}

// WithClock overrides the time source used to stamp samples.
func WithClock(clock clockwork.Clock) Option {
	return func(a *Aggregator) {
		if clock != nil {
			a.clock = clock
		}
	}
}

// WithMetrics mirrors samples and cache counters into Prometheus.
func WithMetrics(m *metric.Metrics) Option {
	return func(a *Aggregator) {
		a.metrics = m
	}
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(a *Aggregator) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// New creates an Aggregator.
func New(opts ...Option) *Aggregator {
	a := &Aggregator{
		windowSize: DefaultWindowSize,
		windows:    make(map[string]*operationWindow),
		cache:      make(map[string]*cacheCounters),
		clock:      clockwork.NewRealClock(),
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.logger = a.logger.With("component", "perfmetrics")
	return a
}

// Record appends a sample to the operation's window, dropping the oldest sample past capacity.
func (a *Aggregator) Record(operation string, duration time.Duration, memoryDelta int64) {
	a.record(operation, duration, memoryDelta, false)
}

// RecordFailed records a sample for an operation that returned an error.
func (a *Aggregator) RecordFailed(operation string, duration time.Duration, memoryDelta int64) {
	a.record(operation, duration, memoryDelta, true)
}

func (a *Aggregator) record(operation string, duration time.Duration, memoryDelta int64, failed bool) {
	window := a.window(operation)
	if window == nil {
		return
	}

	sample := Sample{
		Operation:   operation,
		Timestamp:   a.clock.Now(),
		Duration:    duration,
		MemoryDelta: memoryDelta,
	}
	if err := window.samples.Write(sample); err != nil {
		a.logger.Warn("Failed to record sample", "operation", operation, "error", err)
		return
	}
	if failed {
		atomic.AddInt64(&window.failures, 1)
	}

	if a.metrics != nil {
		a.metrics.RecordOperation(operation, duration, failed)
	}
}

// window returns the operation's window, creating it on first use.
func (a *Aggregator) window(operation string) *operationWindow {
	a.mu.RLock()
	w, ok := a.windows[operation]
	a.mu.RUnlock()
	if ok {
		return w
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if w, ok = a.windows[operation]; ok {
		return w
	}

	samples, err := buffer.NewCircularBuffer[Sample](a.windowSize,
		buffer.WithOverflowPolicy[Sample](buffer.DropOldest))
	if err != nil {
		a.logger.Error("Failed to create sample window", "operation", operation, "error", err)
		return nil
	}
	w = &operationWindow{samples: samples}
	a.windows[operation] = w
	return w
}

// AverageDuration is the arithmetic mean over the retained window, or 0 if nothing is recorded.
func (a *Aggregator) AverageDuration(operation string) time.Duration {
	samples := a.Samples(operation)
	if len(samples) == 0 {
		return 0
	}

	var total time.Duration
	for _, s := range samples {
		total += s.Duration
	}
	return total / time.Duration(len(samples))
}

// Samples returns a copy of the operation's retained samples, oldest first.
func (a *Aggregator) Samples(operation string) []Sample {
	a.mu.RLock()
	w, ok := a.windows[operation]
	a.mu.RUnlock()
	if !ok {
		return nil
	}
	return w.samples.Snapshot()
}

// RecordMemoryOptimization records a memory optimization marker.
func (a *Aggregator) RecordMemoryOptimization() {
	a.Record(MarkerMemoryOptimization, 0, 0)
}

// RecordDatabaseOptimization records a database optimization marker.
func (a *Aggregator) RecordDatabaseOptimization() {
	a.Record(MarkerDatabaseOptimization, 0, 0)
}

// RecordNetworkOptimization records a network optimization marker.
func (a *Aggregator) RecordNetworkOptimization() {
	a.Record(MarkerNetworkOptimization, 0, 0)
}

// RecordUIOptimization records a UI optimization marker.
func (a *Aggregator) RecordUIOptimization() {
	a.Record(MarkerUIOptimization, 0, 0)
}

// RecordCacheHit counts a hit for a cache kind.
func (a *Aggregator) RecordCacheHit(kind string) {
	atomic.AddInt64(&a.counters(kind).hits, 1)
	if a.metrics != nil {
		a.metrics.RecordCacheEvent(kind, "hit")
	}
}

// RecordCacheMiss counts a miss for a cache kind.
func (a *Aggregator) RecordCacheMiss(kind string) {
	atomic.AddInt64(&a.counters(kind).misses, 1)
	if a.metrics != nil {
		a.metrics.RecordCacheEvent(kind, "miss")
	}
}

// RecordCacheStore counts a store for a cache kind.
func (a *Aggregator) RecordCacheStore(kind string) {
	atomic.AddInt64(&a.counters(kind).stored, 1)
	if a.metrics != nil {
		a.metrics.RecordCacheEvent(kind, "store")
	}
}

func (a *Aggregator) counters(kind string) *cacheCounters {
	a.mu.RLock()
	c, ok := a.cache[kind]
	a.mu.RUnlock()
	if ok {
		return c
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if c, ok = a.cache[kind]; !ok {
		c = &cacheCounters{}
		a.cache[kind] = c
	}
	return c
}

// OperationSummary describes the retained window of one operation.
type OperationSummary struct {
	Count            int           `json:"count"`
	Failures         int64         `json:"failures"`
	AverageDuration  time.Duration `json:"average_duration"`
	MaxDuration      time.Duration `json:"max_duration"`
	TotalMemoryDelta int64         `json:"total_memory_delta"`
	LastRecorded     time.Time     `json:"last_recorded"`
}

// CacheCounts holds the monotonically increasing counters of one cache kind.
type CacheCounts struct {
	Hits   int64 `json:"hits"`
	Misses int64 `json:"misses"`
	Stored int64 `json:"stored"`
}

// Snapshot is a point-in-time copy of everything the aggregator holds.
type Snapshot struct {
	Operations map[string]OperationSummary `json:"operations"`
	Cache      map[string]CacheCounts      `json:"cache"`
}

// Operations returns the names of all recorded operations, sorted.
func (a *Aggregator) Operations() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()

	names := make([]string, 0, len(a.windows))
	for name := range a.windows {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// CacheCounts returns the counters for one cache kind.
func (a *Aggregator) CacheCounts(kind string) CacheCounts {
	a.mu.RLock()
	c, ok := a.cache[kind]
	a.mu.RUnlock()
	if !ok {
		return CacheCounts{}
	}
	return CacheCounts{
		Hits:   atomic.LoadInt64(&c.hits),
		Misses: atomic.LoadInt64(&c.misses),
		Stored: atomic.LoadInt64(&c.stored),
	}
}

// Snapshot summarizes every operation window and cache counter.
func (a *Aggregator) Snapshot() Snapshot {
	snap := Snapshot{
		Operations: make(map[string]OperationSummary),
		Cache:      make(map[string]CacheCounts),
	}

	a.mu.RLock()
	windows := make(map[string]*operationWindow, len(a.windows))
	for name, w := range a.windows {
		windows[name] = w
	}
	kinds := make([]string, 0, len(a.cache))
	for kind := range a.cache {
		kinds = append(kinds, kind)
	}
	a.mu.RUnlock()

	for name, w := range windows {
		snap.Operations[name] = summarize(w.samples.Snapshot(), atomic.LoadInt64(&w.failures))
	}
	for _, kind := range kinds {
		snap.Cache[kind] = a.CacheCounts(kind)
	}
	return snap
}

func summarize(samples []Sample, failures int64) OperationSummary {
	summary := OperationSummary{Count: len(samples), Failures: failures}
	if len(samples) == 0 {
		return summary
	}

	var total time.Duration
	for _, s := range samples {
		total += s.Duration
		summary.TotalMemoryDelta += s.MemoryDelta
		if s.Duration > summary.MaxDuration {
			summary.MaxDuration = s.Duration
		}
	}
	summary.AverageDuration = total / time.Duration(len(samples))
	summary.LastRecorded = samples[len(samples)-1].Timestamp
	return summary
}
