// Package background runs detached maintenance work and chunked, concurrency-bounded batches.
package background

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/c360/resourcekit/errors"
	"github.com/c360/resourcekit/metric"
	"github.com/c360/resourcekit/pkg/worker"
)

// Defaults for the processor.
const (
	DefaultWorkers          = 4
	DefaultQueueSize        = 256
	DefaultBatchDelay       = 10 * time.Millisecond
	DefaultMaintenanceAge   = 7 * 24 * time.Hour
	maintenanceTaskOptimize = "optimize_database"
	maintenanceTaskCleanup  = "cleanup_old_data"
)

// StorageMaintainer is the storage collaborator that maintenance delegates to.
type StorageMaintainer interface {
	OptimizeStorage(ctx context.Context) error
	DeleteRecordsOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// MarkerRecorder receives lifecycle markers after successful maintenance.
type MarkerRecorder interface {
	RecordDatabaseOptimization()
}

// Task is a unit of detached work.
type Task func(ctx context.Context) error

// Handle tracks a detached task.
type Handle struct {
	ID uuid.UUID

	done chan struct{}
	err  error
}

// Done is closed when the task finishes.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Wait blocks until the task finishes or ctx ends, and returns the task's error.
func (h *Handle) Wait(ctx context.Context) error {
	select {
	case <-h.done:
		return h.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

type detachedTask struct {
	handle *Handle
	task   Task
}

// Processor schedules detached tasks on a two-lane worker pool and runs storage maintenance.
type Processor struct {
	storage        StorageMaintainer
	markers        MarkerRecorder
	clock          clockwork.Clock
	logger         *slog.Logger
	metrics        *metric.Metrics
	batchDelay     time.Duration
	maintenanceAge time.Duration

	pool *worker.Pool[detachedTask]

	mu         sync.Mutex
	configured bool
	closed     bool
	cancel     context.CancelFunc
}

// Option configures a Processor.
type Option func(*processorOptions)

type processorOptions struct {
	workers        int
	queueSize      int
	batchDelay     time.Duration
	maintenanceAge time.Duration
	markers        MarkerRecorder
	clock          clockwork.Clock
	logger         *slog.Logger
	registry       *metric.MetricsRegistry
}

// WithWorkers sets the number of detached-task workers.
func WithWorkers(n int) Option {
	return func(o *processorOptions) {
		if n > 0 {
			o.workers = n
		}
	}
}

// WithQueueSize sets the capacity of each priority lane.
func WithQueueSize(n int) Option {
	return func(o *processorOptions) {
		if n > 0 {
			o.queueSize = n
		}
	}
}

// WithBatchDelay sets the pause between batch chunks. Zero disables the pause.
func WithBatchDelay(d time.Duration) Option {
	return func(o *processorOptions) {
		if d >= 0 {
			o.batchDelay = d
		}
	}
}

// WithMaintenanceAge sets the cleanup cutoff used by PerformBackgroundOptimization.
func WithMaintenanceAge(d time.Duration) Option {
	return func(o *processorOptions) {
		if d > 0 {
			o.maintenanceAge = d
		}
	}
}

// WithMarkers records a database optimization marker after each successful optimize.
func WithMarkers(m MarkerRecorder) Option {
	return func(o *processorOptions) {
		o.markers = m
	}
}

// WithClock overrides the time source for cutoffs and batch pauses.
func WithClock(clock clockwork.Clock) Option {
	return func(o *processorOptions) {
		if clock != nil {
			o.clock = clock
		}
	}
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(o *processorOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithMetrics exports batch, maintenance and worker pool metrics.
func WithMetrics(registry *metric.MetricsRegistry) Option {
	return func(o *processorOptions) {
		o.registry = registry
	}
}

// New creates a Processor. storage may be nil, in which case maintenance is skipped.
func New(storage StorageMaintainer, opts ...Option) *Processor {
	o := processorOptions{
		workers:        DefaultWorkers,
		queueSize:      DefaultQueueSize,
		batchDelay:     DefaultBatchDelay,
		maintenanceAge: DefaultMaintenanceAge,
		clock:          clockwork.NewRealClock(),
		logger:         slog.Default(),
	}
	for _, opt := range opts {
		opt(&o)
	}

	p := &Processor{
		storage:        storage,
		markers:        o.markers,
		clock:          o.clock,
		logger:         o.logger.With("component", "background-processor"),
		batchDelay:     o.batchDelay,
		maintenanceAge: o.maintenanceAge,
	}

	var poolOpts []worker.Option[detachedTask]
	if o.registry != nil {
		p.metrics = o.registry.CoreMetrics()
		poolOpts = append(poolOpts, worker.WithMetricsRegistry[detachedTask](o.registry, "resourcekit_detached_tasks"))
	}
	p.pool = worker.NewPool(o.workers, o.queueSize, p.execute, poolOpts...)

	return p
}

// Configure starts the detached-task workers. Calling it again is a no-op.
// Workers keep ctx's values but outlive its cancellation; they stop only in
// Close, after draining queued tasks.
func (p *Processor) Configure(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return errors.WrapInvalid(errors.ErrAlreadyStopped, "Processor", "Configure", "start workers")
	}
	if p.configured {
		return nil
	}
	workerCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	if err := p.pool.Start(workerCtx); err != nil {
		cancel()
		return errors.WrapFatal(err, "Processor", "Configure", "start workers")
	}
	p.cancel = cancel
	p.configured = true
	p.logger.Debug("Background processor configured")
	return nil
}

// RunDetached queues task on the given lane and returns immediately.
// Await the result through the returned Handle if needed.
func (p *Processor) RunDetached(priority worker.Priority, task Task) (*Handle, error) {
	if task == nil {
		return nil, errors.WrapInvalid(errors.ErrInvalidData, "Processor", "RunDetached", "task cannot be nil")
	}

	p.mu.Lock()
	configured := p.configured
	p.mu.Unlock()
	if !configured {
		return nil, errors.WrapInvalid(errors.ErrNotConfigured, "Processor", "RunDetached", "schedule task")
	}

	handle := &Handle{ID: uuid.New(), done: make(chan struct{})}
	if err := p.pool.SubmitWithPriority(detachedTask{handle: handle, task: task}, priority); err != nil {
		if stderrors.Is(err, worker.ErrPoolStopped) {
			return nil, errors.WrapInvalid(errors.ErrAlreadyStopped, "Processor", "RunDetached", "schedule task")
		}
		return nil, errors.WrapTransient(err, "Processor", "RunDetached", "schedule task")
	}
	return handle, nil
}

// execute runs on a pool worker.
func (p *Processor) execute(ctx context.Context, dt detachedTask) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("detached task panicked: %v", r)
		}
		if err != nil {
			p.logger.Warn("Detached task failed", "task_id", dt.handle.ID, "error", err)
		}
		dt.handle.err = err
		close(dt.handle.done)
	}()

	return dt.task(ctx)
}

// CleanupOldData deletes usage records older than cutoff. Failures are logged, not returned.
func (p *Processor) CleanupOldData(ctx context.Context, cutoff time.Time) {
	if p.storage == nil {
		p.logger.Debug("Cleanup skipped, no storage configured")
		return
	}

	deleted, err := p.storage.DeleteRecordsOlderThan(ctx, cutoff)
	if err != nil {
		p.maintenanceFailed(maintenanceTaskCleanup, err)
		return
	}
	p.logger.Info("Old usage records removed", "deleted", deleted, "cutoff", cutoff)
}

// OptimizeDatabase asks storage to optimize itself. Failures are logged, not returned.
func (p *Processor) OptimizeDatabase(ctx context.Context) {
	if p.storage == nil {
		p.logger.Debug("Optimize skipped, no storage configured")
		return
	}

	if err := p.storage.OptimizeStorage(ctx); err != nil {
		p.maintenanceFailed(maintenanceTaskOptimize, err)
		return
	}
	if p.markers != nil {
		p.markers.RecordDatabaseOptimization()
	}
	p.logger.Info("Storage optimized")
}

// PerformBackgroundOptimization optimizes storage, then removes records older than the maintenance age.
func (p *Processor) PerformBackgroundOptimization(ctx context.Context) {
	p.OptimizeDatabase(ctx)
	p.CleanupOldData(ctx, p.clock.Now().Add(-p.maintenanceAge))
}

func (p *Processor) maintenanceFailed(task string, err error) {
	p.logger.Warn("Maintenance failed", "task", task, "error", err)
	if p.metrics != nil {
		p.metrics.RecordMaintenanceFailure(task)
	}
}

// Stats returns detached-task pool statistics.
func (p *Processor) Stats() worker.PoolStats {
	return p.pool.Stats()
}

// Close stops accepting detached tasks and waits up to timeout for queued ones
// to finish. Tasks still running when timeout expires see their context cancelled.
func (p *Processor) Close(timeout time.Duration) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.configured = false
	cancel := p.cancel
	p.mu.Unlock()

	if cancel != nil {
		defer cancel()
	}
	if err := p.pool.Stop(timeout); err != nil {
		return errors.WrapTransient(err, "Processor", "Close", "stop workers")
	}
	return nil
}
