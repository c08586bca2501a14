// Package cachemanager owns the process-wide object, data and response caches
// and sizes them from physical memory.
package cachemanager

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/c360/resourcekit/errors"
	"github.com/c360/resourcekit/metric"
	"github.com/c360/resourcekit/pkg/cache"
)

// Cache kinds used for counters and reports.
const (
	KindObject   = "object"
	KindData     = "data"
	KindResponse = "response"
)

// Priority selects how aggressively Clear frees memory.
type Priority string

const (
	// PriorityHigh empties the object cache and every response.
	PriorityHigh Priority = "high"
	// PriorityMedium halves the object budget and sweeps expired responses.
	PriorityMedium Priority = "medium"
	// PriorityLow sweeps expired responses only.
	PriorityLow Priority = "low"
)

// MemoryReader reports installed physical memory.
type MemoryReader interface {
	PhysicalMemory() (uint64, error)
}

// Recorder receives per-kind cache counters. perfmetrics.Aggregator implements it.
type Recorder interface {
	RecordCacheHit(kind string)
	RecordCacheMiss(kind string)
	RecordCacheStore(kind string)
}

// Config holds cache sizing parameters.
type Config struct {
	ObjectCountLimit   int
	DataCountLimit     int
	BudgetDivisor      uint64
	BudgetCap          uint64
	DefaultResponseTTL time.Duration
}

// DefaultConfig returns 100 objects, 200 data blobs, a budget of
// min(physical/10, 100 MB) and a 300 s response TTL.
func DefaultConfig() Config {
	return Config{
		ObjectCountLimit:   100,
		DataCountLimit:     200,
		BudgetDivisor:      10,
		BudgetCap:          100_000_000,
		DefaultResponseTTL: 300 * time.Second,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.ObjectCountLimit <= 0 || c.DataCountLimit <= 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "cachemanager", "Validate", "count limits must be positive")
	}
	if c.BudgetDivisor == 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "cachemanager", "Validate", "budget divisor must be positive")
	}
	if c.DefaultResponseTTL <= 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "cachemanager", "Validate", "default response ttl must be positive")
	}
	return nil
}

// Manager owns the caches. All methods are safe for concurrent use.
type Manager struct {
	cfg      Config
	reader   MemoryReader
	recorder Recorder
	logger   *slog.Logger

	objects   *cache.CostLRU[any]
	data      *cache.CostLRU[[]byte]
	responses *cache.TTL[[]byte]

	mu     sync.Mutex
	budget uint64
	// objectLimit is the configured object cost limit; pressure reductions
	// are computed from it and RestoreObjectCacheBudget returns to it.
	objectLimit int64
	// reducedFrom pins the reference cost of an unconfigured cache for the
	// duration of a pressure episode.
	reducedFrom int64
}

// Option configures a Manager.
type Option func(*managerOptions)

type managerOptions struct {
	cfg           Config
	recorder      Recorder
	logger        *slog.Logger
	clock         clockwork.Clock
	registry      *metric.MetricsRegistry
	sweepInterval time.Duration
}

// WithConfig overrides DefaultConfig.
func WithConfig(cfg Config) Option {
	return func(o *managerOptions) {
		o.cfg = cfg
	}
}

// WithRecorder forwards hit, miss and store counts.
func WithRecorder(r Recorder) Option {
	return func(o *managerOptions) {
		o.recorder = r
	}
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(o *managerOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithClock overrides the time source for response expiry.
func WithClock(clock clockwork.Clock) Option {
	return func(o *managerOptions) {
		if clock != nil {
			o.clock = clock
		}
	}
}

// WithMetrics exports per-cache Prometheus metrics.
func WithMetrics(registry *metric.MetricsRegistry) Option {
	return func(o *managerOptions) {
		o.registry = registry
	}
}

// WithResponseSweepInterval sweeps expired responses in the background. Zero disables it.
func WithResponseSweepInterval(d time.Duration) Option {
	return func(o *managerOptions) {
		o.sweepInterval = d
	}
}

type noopRecorder struct{}

func (noopRecorder) RecordCacheHit(string)   {}
func (noopRecorder) RecordCacheMiss(string)  {}
func (noopRecorder) RecordCacheStore(string) {}

// New creates a Manager. Cost limits stay unbounded until Configure runs.
func New(reader MemoryReader, opts ...Option) (*Manager, error) {
	if reader == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "cachemanager", "New", "memory reader required")
	}

	o := managerOptions{
		cfg:      DefaultConfig(),
		recorder: noopRecorder{},
		logger:   slog.Default(),
		clock:    clockwork.NewRealClock(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.recorder == nil {
		o.recorder = noopRecorder{}
	}
	if err := o.cfg.Validate(); err != nil {
		return nil, err
	}

	objectOpts := []cache.Option[any]{cache.WithCostFunc[any](EstimateCost)}
	dataOpts := []cache.Option[[]byte]{cache.WithCostFunc[[]byte](func(b []byte) int64 { return int64(len(b)) })}
	responseOpts := []cache.Option[[]byte]{
		cache.WithClock[[]byte](o.clock),
		cache.WithCleanupInterval[[]byte](o.sweepInterval),
	}
	if o.registry != nil {
		objectOpts = append(objectOpts, cache.WithMetrics[any](o.registry, "object_cache"))
		dataOpts = append(dataOpts, cache.WithMetrics[[]byte](o.registry, "data_cache"))
		responseOpts = append(responseOpts, cache.WithMetrics[[]byte](o.registry, "response_cache"))
	}

	objects, err := cache.NewCostLRU[any](o.cfg.ObjectCountLimit, 0, objectOpts...)
	if err != nil {
		return nil, errors.Wrap(err, "cachemanager", "New", "object cache creation")
	}
	data, err := cache.NewCostLRU[[]byte](o.cfg.DataCountLimit, 0, dataOpts...)
	if err != nil {
		return nil, errors.Wrap(err, "cachemanager", "New", "data cache creation")
	}
	responses, err := cache.NewTTL[[]byte](context.Background(), o.cfg.DefaultResponseTTL, responseOpts...)
	if err != nil {
		return nil, errors.Wrap(err, "cachemanager", "New", "response cache creation")
	}

	return &Manager{
		cfg:       o.cfg,
		reader:    reader,
		recorder:  o.recorder,
		logger:    o.logger.With("component", "cache-manager"),
		objects:   objects,
		data:      data,
		responses: responses,
	}, nil
}

// Configure sizes both byte-bounded caches from physical memory:
// budget = min(physical / divisor, cap), split evenly. Safe to call repeatedly.
func (m *Manager) Configure() error {
	physical, err := m.reader.PhysicalMemory()
	if err != nil {
		return errors.WrapTransient(err, "cachemanager", "Configure", "read physical memory")
	}

	budget := physical / m.cfg.BudgetDivisor
	if m.cfg.BudgetCap > 0 && budget > m.cfg.BudgetCap {
		budget = m.cfg.BudgetCap
	}
	half := int64(budget / 2)

	m.mu.Lock()
	m.budget = budget
	m.objectLimit = half
	m.reducedFrom = 0
	m.objects.SetCountLimit(m.cfg.ObjectCountLimit)
	m.objects.SetCostLimit(half)
	m.mu.Unlock()

	m.data.SetCountLimit(m.cfg.DataCountLimit)
	m.data.SetCostLimit(half)

	m.logger.Info("Cache limits configured",
		"physical_bytes", physical,
		"budget_bytes", budget,
		"object_cost_limit", half,
		"data_cost_limit", half)
	return nil
}

// PutObject stores v priced by EstimateCost. Least recently used objects are
// evicted until both limits hold.
func (m *Manager) PutObject(key string, v any) error {
	if _, err := m.objects.Set(key, v); err != nil {
		return err
	}
	m.recorder.RecordCacheStore(KindObject)
	return nil
}

// GetObject returns the object and marks it most recently used.
func (m *Manager) GetObject(key string) (any, bool) {
	v, ok := m.objects.Get(key)
	m.recordLookup(KindObject, ok)
	return v, ok
}

// PutData stores a blob priced by its length.
func (m *Manager) PutData(key string, blob []byte) error {
	if _, err := m.data.Set(key, blob); err != nil {
		return err
	}
	m.recorder.RecordCacheStore(KindData)
	return nil
}

// GetData returns a blob and marks it most recently used.
func (m *Manager) GetData(key string) ([]byte, bool) {
	v, ok := m.data.Get(key)
	m.recordLookup(KindData, ok)
	return v, ok
}

// PutResponse stores payload until now + ttl. A ttl <= 0 uses the default TTL.
func (m *Manager) PutResponse(key string, payload []byte, ttl time.Duration) error {
	if _, err := m.responses.SetWithTTL(key, payload, ttl); err != nil {
		return err
	}
	m.recorder.RecordCacheStore(KindResponse)
	return nil
}

// GetResponse returns a payload that has not expired. Expired entries are removed and reported as a miss.
func (m *Manager) GetResponse(key string) ([]byte, bool) {
	v, ok := m.responses.Get(key)
	m.recordLookup(KindResponse, ok)
	return v, ok
}

func (m *Manager) recordLookup(kind string, hit bool) {
	if hit {
		m.recorder.RecordCacheHit(kind)
	} else {
		m.recorder.RecordCacheMiss(kind)
	}
}

// ClearExpiredResponses removes every expired response and returns how many were removed.
func (m *Manager) ClearExpiredResponses() int {
	removed := m.responses.RemoveExpired()
	if removed > 0 {
		m.logger.Debug("Expired responses removed", "count", removed)
	}
	return removed
}

// ClearObjectCache evicts every object.
func (m *Manager) ClearObjectCache() {
	_ = m.objects.Clear()
}

// ReduceObjectCacheBudget lowers the object cost limit to (1 - ratio) of the
// configured limit (0.5 halves it) and evicts down to it. Repeated calls with
// the same ratio do not compound and a reduction never raises the current
// limit. A ratio <= 0 does nothing; a ratio >= 1 empties the cache and leaves
// the limit unchanged. An unconfigured cache is reduced relative to its total
// cost at the first reduction. RestoreObjectCacheBudget undoes the reduction.
func (m *Manager) ReduceObjectCacheBudget(ratio float64) {
	if ratio <= 0 {
		return
	}
	if ratio >= 1 {
		m.ClearObjectCache()
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	base := m.objectLimit
	if base <= 0 {
		if m.reducedFrom <= 0 {
			m.reducedFrom = m.objects.TotalCost()
		}
		base = m.reducedFrom
	}
	if base <= 0 {
		return
	}

	limit := max(int64(float64(base)*(1-ratio)), 1)
	current := m.objects.CostLimit()
	if current > 0 && current <= limit {
		return
	}
	m.objects.SetCostLimit(limit)

	m.logger.Debug("Object cache budget reduced", "ratio", ratio, "from", base, "to", limit)
}

// RestoreObjectCacheBudget returns the object cost limit to its configured
// value after a pressure episode. Unconfigured caches become unbounded again.
func (m *Manager) RestoreObjectCacheBudget() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.reducedFrom = 0
	if m.objects.CostLimit() == m.objectLimit {
		return
	}
	m.objects.SetCostLimit(m.objectLimit)
	m.logger.Debug("Object cache budget restored", "limit", m.objectLimit)
}

// Clear frees cache memory according to priority.
func (m *Manager) Clear(priority Priority) error {
	switch priority {
	case PriorityHigh:
		m.ClearObjectCache()
		_ = m.responses.Clear()
	case PriorityMedium:
		m.ReduceObjectCacheBudget(0.5)
		m.ClearExpiredResponses()
	case PriorityLow:
		m.ClearExpiredResponses()
	default:
		return errors.WrapInvalid(errors.ErrInvalidData, "cachemanager", "Clear",
			fmt.Sprintf("unknown priority %q", priority))
	}

	m.logger.Info("Caches cleared", "priority", priority)
	return nil
}

// KindReport describes one cache.
type KindReport struct {
	CostLimit  int64 `json:"cost_limit,omitempty"`
	CountLimit int   `json:"count_limit,omitempty"`
	Cost       int64 `json:"cost,omitempty"`
	Entries    int   `json:"entries"`
	Hits       int64 `json:"hits"`
	Misses     int64 `json:"misses"`
	Stored     int64 `json:"stored"`
	Evictions  int64 `json:"evictions"`
}

// Report is a snapshot of cache limits, occupancy and counters.
type Report struct {
	BudgetBytes uint64     `json:"budget_bytes"`
	Objects     KindReport `json:"objects"`
	Data        KindReport `json:"data"`
	Responses   KindReport `json:"responses"`
}

// Report returns current limits, entry counts and accumulated counters.
func (m *Manager) Report() Report {
	m.mu.Lock()
	budget := m.budget
	m.mu.Unlock()

	objects := kindReport(m.objects.Stats())
	objects.CostLimit = m.objects.CostLimit()
	objects.CountLimit = m.objects.CountLimit()
	objects.Cost = m.objects.TotalCost()
	objects.Entries = m.objects.Size()

	data := kindReport(m.data.Stats())
	data.CostLimit = m.data.CostLimit()
	data.CountLimit = m.data.CountLimit()
	data.Cost = m.data.TotalCost()
	data.Entries = m.data.Size()

	responses := kindReport(m.responses.Stats())
	responses.Entries = m.responses.Size()

	return Report{
		BudgetBytes: budget,
		Objects:     objects,
		Data:        data,
		Responses:   responses,
	}
}

func kindReport(stats *cache.Statistics) KindReport {
	return KindReport{
		Hits:      stats.Hits(),
		Misses:    stats.Misses(),
		Stored:    stats.Sets(),
		Evictions: stats.Evictions(),
	}
}

// Close stops the background response sweep, if enabled.
func (m *Manager) Close() error {
	return m.responses.Close()
}
