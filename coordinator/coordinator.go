// Package coordinator owns the cache manager, memory monitor, background
// processor and metrics aggregator, and reacts to resource events.
package coordinator

import (
	"context"
	stderrors "errors"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/time/rate"

	"github.com/c360/resourcekit/background"
	"github.com/c360/resourcekit/cachemanager"
	"github.com/c360/resourcekit/errors"
	"github.com/c360/resourcekit/health"
	"github.com/c360/resourcekit/memmonitor"
	"github.com/c360/resourcekit/metric"
	"github.com/c360/resourcekit/perfmetrics"
	"github.com/c360/resourcekit/pkg/worker"
	"github.com/c360/resourcekit/storage"
)

// DefaultCloseTimeout bounds Close when ctx carries no deadline.
const DefaultCloseTimeout = 5 * time.Second

// Resource event kinds recorded in metrics.
const (
	eventMemoryWarning = "memory_warning"
	eventBackground    = "background"
	eventPressure      = "pressure"
)

// Config holds the tunables of every owned component.
type Config struct {
	Cache                 cachemanager.Config
	ResponseSweepInterval time.Duration

	SampleInterval time.Duration
	HistorySize    int
	Thresholds     memmonitor.Thresholds

	Workers        int
	QueueSize      int
	BatchDelay     time.Duration
	MaintenanceAge time.Duration

	// UsageRetention is the age past which OptimizeMemoryUsage prunes usage records.
	UsageRetention time.Duration
	// MinOptimizeInterval throttles background-transition and pressure reactions.
	MinOptimizeInterval time.Duration

	MetricsWindow int
}

// DefaultConfig returns the standard tunables.
func DefaultConfig() Config {
	return Config{
		Cache:                 cachemanager.DefaultConfig(),
		ResponseSweepInterval: time.Minute,
		SampleInterval:        memmonitor.DefaultInterval,
		HistorySize:           memmonitor.DefaultHistorySize,
		Thresholds:            memmonitor.DefaultThresholds(),
		Workers:               background.DefaultWorkers,
		QueueSize:             background.DefaultQueueSize,
		BatchDelay:            background.DefaultBatchDelay,
		MaintenanceAge:        background.DefaultMaintenanceAge,
		UsageRetention:        30 * 24 * time.Hour,
		MinOptimizeInterval:   30 * time.Second,
		MetricsWindow:         perfmetrics.DefaultWindowSize,
	}
}

// UsageRecorder persists measured operations.
type UsageRecorder interface {
	Append(ctx context.Context, rec storage.UsageRecord) error
}

// Coordinator is the composition root of the resource manager.
// Construct one per process and pass it to code that needs it.
type Coordinator struct {
	cfg     Config
	clock   clockwork.Clock
	logger  *slog.Logger
	metrics *metric.Metrics

	perf       *perfmetrics.Aggregator
	cache      *cachemanager.Manager
	monitor    *memmonitor.Monitor
	background *background.Processor
	usage      UsageRecorder
	health     *health.Monitor

	backgroundLimiter *rate.Limiter
	pressureLimiter   *rate.Limiter

	mu         sync.Mutex
	configured bool
	closed     bool
}

// Option configures a Coordinator.
type Option func(*options)

type options struct {
	cfg      Config
	clock    clockwork.Clock
	logger   *slog.Logger
	registry *metric.MetricsRegistry
	usage    UsageRecorder
}

// WithConfig replaces DefaultConfig.
func WithConfig(cfg Config) Option {
	return func(o *options) {
		o.cfg = cfg
	}
}

// WithClock overrides the time source of every component.
func WithClock(clock clockwork.Clock) Option {
	return func(o *options) {
		if clock != nil {
			o.clock = clock
		}
	}
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithMetrics exports every component's metrics to registry.
func WithMetrics(registry *metric.MetricsRegistry) Option {
	return func(o *options) {
		o.registry = registry
	}
}

// WithUsageRecorder persists every Measure call through a detached task.
func WithUsageRecorder(r UsageRecorder) Option {
	return func(o *options) {
		o.usage = r
	}
}

func newLimiter(interval time.Duration) *rate.Limiter {
	if interval <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Every(interval), 1)
}

// New builds every component. reader supplies physical and resident memory;
// maintainer may be nil, in which case storage maintenance is skipped.
func New(reader memmonitor.Reader, maintainer background.StorageMaintainer, opts ...Option) (*Coordinator, error) {
	if reader == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "Coordinator", "New", "memory reader required")
	}

	o := options{
		cfg:    DefaultConfig(),
		clock:  clockwork.NewRealClock(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(&o)
	}

	c := &Coordinator{
		cfg:               o.cfg,
		clock:             o.clock,
		logger:            o.logger.With("component", "coordinator"),
		usage:             o.usage,
		health:            health.NewMonitor(),
		backgroundLimiter: newLimiter(o.cfg.MinOptimizeInterval),
		pressureLimiter:   newLimiter(o.cfg.MinOptimizeInterval),
	}

	perfOpts := []perfmetrics.Option{
		perfmetrics.WithWindowSize(o.cfg.MetricsWindow),
		perfmetrics.WithClock(o.clock),
		perfmetrics.WithLogger(o.logger),
	}
	cacheOpts := []cachemanager.Option{
		cachemanager.WithConfig(o.cfg.Cache),
		cachemanager.WithClock(o.clock),
		cachemanager.WithLogger(o.logger),
		cachemanager.WithResponseSweepInterval(o.cfg.ResponseSweepInterval),
	}
	monitorOpts := []memmonitor.Option{
		memmonitor.WithInterval(o.cfg.SampleInterval),
		memmonitor.WithHistorySize(o.cfg.HistorySize),
		memmonitor.WithThresholds(o.cfg.Thresholds),
		memmonitor.WithClock(o.clock),
		memmonitor.WithLogger(o.logger),
		memmonitor.WithPressureHandler(c.handlePressure),
	}
	bgOpts := []background.Option{
		background.WithWorkers(o.cfg.Workers),
		background.WithQueueSize(o.cfg.QueueSize),
		background.WithBatchDelay(o.cfg.BatchDelay),
		background.WithMaintenanceAge(o.cfg.MaintenanceAge),
		background.WithClock(o.clock),
		background.WithLogger(o.logger),
	}
	if o.registry != nil {
		c.metrics = o.registry.CoreMetrics()
		perfOpts = append(perfOpts, perfmetrics.WithMetrics(c.metrics))
		cacheOpts = append(cacheOpts, cachemanager.WithMetrics(o.registry))
		monitorOpts = append(monitorOpts, memmonitor.WithMetrics(c.metrics))
		bgOpts = append(bgOpts, background.WithMetrics(o.registry))
	}

	c.perf = perfmetrics.New(perfOpts...)
	cacheOpts = append(cacheOpts, cachemanager.WithRecorder(c.perf))
	bgOpts = append(bgOpts, background.WithMarkers(c.perf))

	var err error
	if c.cache, err = cachemanager.New(reader, cacheOpts...); err != nil {
		return nil, err
	}
	if c.monitor, err = memmonitor.New(reader, monitorOpts...); err != nil {
		_ = c.cache.Close()
		return nil, err
	}
	c.background = background.New(maintainer, bgOpts...)

	return c, nil
}

// Configure sizes the caches, starts memory sampling and the background
// workers, then runs OptimizeMemoryUsage. Sampling and workers stop when ctx
// is cancelled or Close is called.
func (c *Coordinator) Configure(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return errors.WrapInvalid(errors.ErrAlreadyStopped, "Coordinator", "Configure", "configure components")
	}
	c.mu.Unlock()

	if err := c.cache.Configure(); err != nil {
		return errors.Wrap(err, "Coordinator", "Configure", "cache configuration")
	}
	if err := c.monitor.Start(ctx); err != nil {
		return errors.Wrap(err, "Coordinator", "Configure", "memory monitor start")
	}
	if err := c.background.Configure(ctx); err != nil {
		return errors.Wrap(err, "Coordinator", "Configure", "background processor start")
	}

	c.mu.Lock()
	c.configured = true
	c.mu.Unlock()

	c.OptimizeMemoryUsage(ctx)
	c.logger.Info("Resource manager configured", "cache_budget_bytes", c.cache.Report().BudgetBytes)
	return nil
}

// OptimizeMemoryUsage sweeps expired responses, shrinks the object cache
// according to current pressure and schedules pruning of old usage records.
// It returns the pressure level it acted on.
func (c *Coordinator) OptimizeMemoryUsage(ctx context.Context) memmonitor.Level {
	swept := c.cache.ClearExpiredResponses()

	level, err := c.monitor.CurrentPressure()
	switch {
	case err != nil:
		c.logger.Warn("Pressure unavailable, object cache left unchanged", "error", err)
		level = memmonitor.LevelNormal
	case level == memmonitor.LevelCritical:
		c.cache.ClearObjectCache()
		c.recordRemediation("clear_object_cache")
	case level == memmonitor.LevelWarning:
		c.cache.ReduceObjectCacheBudget(0.5)
		c.recordRemediation("reduce_object_cache")
	default:
		c.cache.RestoreObjectCacheBudget()
	}

	c.perf.RecordMemoryOptimization()
	c.scheduleUsageCleanup()

	c.logger.Debug("Memory optimized", "pressure", level, "expired_responses", swept)
	return level
}

func (c *Coordinator) scheduleUsageCleanup() {
	cutoff := c.clock.Now().Add(-c.cfg.UsageRetention)
	_, err := c.background.RunDetached(worker.PriorityBackground, func(ctx context.Context) error {
		c.background.CleanupOldData(ctx, cutoff)
		return nil
	})
	if err != nil {
		c.logger.Debug("Usage cleanup not scheduled", "error", err)
	}
}

// OptimizeStorage optimizes the storage backend. Failures are logged, not returned.
func (c *Coordinator) OptimizeStorage(ctx context.Context) {
	c.background.OptimizeDatabase(ctx)
}

// ScheduleBackgroundTask runs task detached at background priority.
func (c *Coordinator) ScheduleBackgroundTask(task background.Task) (*background.Handle, error) {
	return c.background.RunDetached(worker.PriorityBackground, task)
}

// BatchProcess runs fn over items in chunks of batchSize on the coordinator's
// background processor. See background.BatchProcess.
func BatchProcess[T, R any](
	ctx context.Context, c *Coordinator, items []T, batchSize int, fn func(context.Context, T) (R, error),
) ([]R, error) {
	return background.BatchProcess(ctx, c.background, items, batchSize, fn)
}

// Measure runs fn and records its duration and resident memory delta under
// name on every exit path, including panics. fn's error is returned unchanged.
func (c *Coordinator) Measure(ctx context.Context, name string, fn func(context.Context) error) (err error) {
	start := c.clock.Now()
	before, beforeErr := c.monitor.CurrentUsage()

	defer func() {
		if r := recover(); r != nil {
			c.recordMeasurement(name, start, before, beforeErr == nil, true)
			panic(r)
		}
		c.recordMeasurement(name, start, before, beforeErr == nil, err != nil)
	}()

	return fn(ctx)
}

func (c *Coordinator) recordMeasurement(name string, start time.Time, before uint64, haveBefore, failed bool) {
	duration := c.clock.Since(start)

	var delta int64
	if haveBefore {
		if after, err := c.monitor.CurrentUsage(); err == nil {
			delta = int64(after) - int64(before)
		}
	}

	if failed {
		c.perf.RecordFailed(name, duration, delta)
	} else {
		c.perf.Record(name, duration, delta)
	}

	if c.usage == nil {
		return
	}
	rec := storage.UsageRecord{
		Operation:   name,
		Duration:    duration,
		MemoryDelta: delta,
		Failed:      failed,
		RecordedAt:  c.clock.Now(),
	}
	_, err := c.background.RunDetached(worker.PriorityUtility, func(ctx context.Context) error {
		return c.usage.Append(ctx, rec)
	})
	if err != nil {
		c.logger.Debug("Usage record dropped", "operation", name, "error", err)
	}
}

// OnMemoryWarning clears high-priority caches and re-optimizes memory.
func (c *Coordinator) OnMemoryWarning(ctx context.Context) {
	c.recordEvent(eventMemoryWarning)
	c.logger.Info("Memory warning received")

	if err := c.cache.Clear(cachemanager.PriorityHigh); err != nil {
		c.logger.Warn("High priority clear failed", "error", err)
	}
	c.OptimizeMemoryUsage(ctx)
}

// OnEnteredBackground schedules storage maintenance without waiting for it.
// Transitions arriving faster than MinOptimizeInterval are ignored.
func (c *Coordinator) OnEnteredBackground(_ context.Context) {
	c.recordEvent(eventBackground)

	if !c.backgroundLimiter.AllowN(c.clock.Now(), 1) {
		c.logger.Debug("Background optimization throttled")
		return
	}

	_, err := c.background.RunDetached(worker.PriorityBackground, func(ctx context.Context) error {
		c.background.PerformBackgroundOptimization(ctx)
		return nil
	})
	if err != nil {
		c.logger.Warn("Background optimization not scheduled", "error", err)
	}
}

// handlePressure runs on the monitor's sampling goroutine.
func (c *Coordinator) handlePressure(ctx context.Context, level memmonitor.Level) {
	if level == memmonitor.LevelNormal {
		c.cache.RestoreObjectCacheBudget()
		c.logger.Info("Memory pressure subsided, object cache budget restored")
		return
	}
	if !c.pressureLimiter.AllowN(c.clock.Now(), 1) {
		return
	}
	c.recordEvent(eventPressure)
	c.logger.Info("Reacting to memory pressure", "level", level)
	c.OptimizeMemoryUsage(ctx)
}

func (c *Coordinator) recordRemediation(action string) {
	if c.metrics != nil {
		c.metrics.RecordRemediation(action)
	}
}

func (c *Coordinator) recordEvent(kind string) {
	if c.metrics != nil {
		c.metrics.RecordResourceEvent(kind)
	}
}

// Cache returns the cache manager.
func (c *Coordinator) Cache() *cachemanager.Manager {
	return c.cache
}

// Performance returns the metrics aggregator.
func (c *Coordinator) Performance() *perfmetrics.Aggregator {
	return c.perf
}

// Report is the unified cache, memory and performance snapshot.
type Report struct {
	GeneratedAt time.Time            `json:"generated_at"`
	Cache       cachemanager.Report  `json:"cache"`
	Memory      *memmonitor.Report   `json:"memory,omitempty"`
	MemoryError string               `json:"memory_error,omitempty"`
	Performance perfmetrics.Snapshot `json:"performance"`
	Background  worker.PoolStats     `json:"background"`
}

// Report aggregates every component's report. A memory read failure is
// reported in MemoryError rather than failing the whole report.
func (c *Coordinator) Report() Report {
	r := Report{
		GeneratedAt: c.clock.Now(),
		Cache:       c.cache.Report(),
		Performance: c.perf.Snapshot(),
		Background:  c.background.Stats(),
	}
	if mem, err := c.monitor.Report(); err != nil {
		r.MemoryError = err.Error()
	} else {
		r.Memory = &mem
	}
	return r
}

// Health refreshes and aggregates subsystem health.
func (c *Coordinator) Health() health.Status {
	if mem, err := c.monitor.Report(); err != nil {
		c.health.Update("memory", health.FromError("memory", err))
	} else {
		c.health.Update("memory", health.FromPressure("memory", mem.Pressure, mem.Current, mem.Physical))
	}

	c.mu.Lock()
	configured, closed := c.configured, c.closed
	c.mu.Unlock()

	stats := c.background.Stats()
	var bg health.Status
	switch {
	case closed:
		bg = health.NewUnhealthy("background", "Background processor closed")
	case !configured:
		bg = health.NewDegraded("background", "Background processor not configured")
	default:
		bg = health.NewHealthy("background", "Background processor running")
	}
	c.health.Update("background", bg.WithMetrics(&health.Metrics{
		QueueDepth: stats.UtilityDepth + stats.BackgroundDepth,
		Failures:   stats.Failed,
	}))

	cacheReport := c.cache.Report()
	c.health.Update("cache", health.NewHealthy("cache", "Caches available").WithMetrics(&health.Metrics{
		Entries: cacheReport.Objects.Entries + cacheReport.Data.Entries + cacheReport.Responses.Entries,
	}))

	return c.health.AggregateHealth("resourcekit")
}

// Close stops sampling, drains detached work until ctx's deadline (or
// DefaultCloseTimeout) and releases the caches.
func (c *Coordinator) Close(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.monitor.Stop()

	timeout := DefaultCloseTimeout
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
	}

	err := stderrors.Join(c.background.Close(timeout), c.cache.Close())
	c.logger.Info("Resource manager closed")
	return err
}
