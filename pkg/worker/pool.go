// Package worker provides a generic worker pool with two priority lanes
package worker

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/resourcekit/metric"
)

// Priority selects the lane a work item is queued on.
type Priority int

const (
	// PriorityUtility is the default lane. Idle workers always take utility work first.
	PriorityUtility Priority = iota
	// PriorityBackground work only runs when the utility lane is empty.
	PriorityBackground
)

// String returns the lane name used in logs and metric labels.
func (p Priority) String() string {
	switch p {
	case PriorityUtility:
		return "utility"
	case PriorityBackground:
		return "background"
	default:
		return "unknown"
	}
}

// Pool represents a generic worker pool that can process any work type T
type Pool[T any] struct {
	// Configuration
	workers   int
	queueSize int
	processor func(context.Context, T) error

	// Runtime state
	utilityChan    chan T
	backgroundChan chan T
	metrics        *Metrics
	wg             *sync.WaitGroup
	quit           chan struct{}

	// Lifecycle management
	lifecycleMu sync.Mutex
	started     bool
	stopped     bool

	// Statistics (atomic)
	submitted int64
	processed int64
	failed    int64
	dropped   int64

	// Metrics configuration
	metricsRegistry *metric.MetricsRegistry
	metricsPrefix   string
}

// Metrics holds Prometheus metrics for worker pool monitoring
type Metrics struct {
	queueDepth     *prometheus.GaugeVec
	submitted      *prometheus.CounterVec
	processed      prometheus.Counter
	failed         prometheus.Counter
	dropped        *prometheus.CounterVec
	processingTime *prometheus.HistogramVec
}

// Option represents a configuration option for the worker pool
type Option[T any] func(*Pool[T])

// WithMetricsRegistry configures the pool to register metrics with the registry
func WithMetricsRegistry[T any](registry *metric.MetricsRegistry, prefix string) Option[T] {
	return func(p *Pool[T]) {
		p.metricsRegistry = registry
		p.metricsPrefix = prefix
	}
}

// NewPool creates a worker pool. Each lane holds up to queueSize pending items.
func NewPool[T any](workers, queueSize int, processor func(context.Context, T) error, opts ...Option[T]) *Pool[T] {
	if workers <= 0 {
		workers = 10 // Default worker count
	}
	if queueSize <= 0 {
		queueSize = 1000 // Default queue size
	}
	if processor == nil {
		panic(ErrNilProcessor)
	}

	pool := &Pool[T]{
		workers:        workers,
		queueSize:      queueSize,
		processor:      processor,
		utilityChan:    make(chan T, queueSize),
		backgroundChan: make(chan T, queueSize),
	}

	for _, opt := range opts {
		opt(pool)
	}

	if pool.metricsRegistry != nil && pool.metricsPrefix != "" {
		pool.initializeMetrics()
	}

	return pool
}

// initializeMetrics creates and registers metrics. Metrics stay disabled if any registration fails.
func (p *Pool[T]) initializeMetrics() {
	prefix := p.metricsPrefix

	m := &Metrics{
		queueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: prefix + "_queue_depth",
			Help: "Current worker pool queue depth per lane",
		}, []string{"lane"}),
		submitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: prefix + "_submitted_total",
			Help: "Total work items submitted per lane",
		}, []string{"lane"}),
		processed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: prefix + "_processed_total",
			Help: "Total work items processed",
		}),
		failed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: prefix + "_failed_total",
			Help: "Total work items that failed processing",
		}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: prefix + "_dropped_total",
			Help: "Total work items dropped due to full queue per lane",
		}, []string{"lane"}),
		processingTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    prefix + "_processing_duration_seconds",
			Help:    "Time spent processing work items",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 5.0},
		}, []string{"status"}),
	}

	serviceName := "worker_pool"
	registrations := []func() error{
		func() error { return p.metricsRegistry.RegisterGaugeVec(serviceName, prefix+"_queue_depth", m.queueDepth) },
		func() error { return p.metricsRegistry.RegisterCounterVec(serviceName, prefix+"_submitted_total", m.submitted) },
		func() error { return p.metricsRegistry.RegisterCounter(serviceName, prefix+"_processed_total", m.processed) },
		func() error { return p.metricsRegistry.RegisterCounter(serviceName, prefix+"_failed_total", m.failed) },
		func() error { return p.metricsRegistry.RegisterCounterVec(serviceName, prefix+"_dropped_total", m.dropped) },
		func() error {
			return p.metricsRegistry.RegisterHistogramVec(serviceName, prefix+"_processing_duration_seconds", m.processingTime)
		},
	}
	for _, register := range registrations {
		if err := register(); err != nil {
			return
		}
	}

	p.metrics = m
}

// Submit queues work on the utility lane. Returns an error if the lane is full.
func (p *Pool[T]) Submit(work T) error {
	return p.SubmitWithPriority(work, PriorityUtility)
}

// SubmitWithPriority queues work on the given lane without blocking.
func (p *Pool[T]) SubmitWithPriority(work T, priority Priority) error {
	p.lifecycleMu.Lock()
	defer p.lifecycleMu.Unlock()

	if !p.started {
		return ErrPoolNotStarted
	}
	if p.stopped {
		return ErrPoolStopped
	}

	lane := p.utilityChan
	if priority == PriorityBackground {
		lane = p.backgroundChan
	}

	select {
	case lane <- work:
		atomic.AddInt64(&p.submitted, 1)
		if p.metrics != nil {
			p.metrics.submitted.WithLabelValues(priority.String()).Inc()
			p.metrics.queueDepth.WithLabelValues(priority.String()).Set(float64(len(lane)))
		}
		return nil
	default:
		atomic.AddInt64(&p.dropped, 1)
		if p.metrics != nil {
			p.metrics.dropped.WithLabelValues(priority.String()).Inc()
		}
		return ErrQueueFull
	}
}

// Start starts the worker pool
func (p *Pool[T]) Start(ctx context.Context) error {
	p.lifecycleMu.Lock()
	defer p.lifecycleMu.Unlock()

	if p.started {
		return ErrPoolAlreadyStarted
	}

	p.wg = &sync.WaitGroup{}
	p.quit = make(chan struct{})

	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(ctx, i)
	}

	if p.metrics != nil {
		p.wg.Add(1)
		go p.metricsUpdater(ctx)
	}

	p.started = true
	return nil
}

// Stop closes both lanes and waits for workers to drain them.
// After Stop, submissions fail with ErrPoolStopped even if the wait times out.
func (p *Pool[T]) Stop(timeout time.Duration) error {
	p.lifecycleMu.Lock()
	defer p.lifecycleMu.Unlock()

	if !p.started || p.stopped {
		return nil
	}

	p.stopped = true
	close(p.quit)
	close(p.utilityChan)
	close(p.backgroundChan)

	done := make(chan struct{})
	go func() {
		if p.wg != nil {
			p.wg.Wait()
		}
		close(done)
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-done:
		return nil
	case <-timer.C:
		return ErrStopTimeout
	}
}

// Stats returns current pool statistics
func (p *Pool[T]) Stats() PoolStats {
	return PoolStats{
		Workers:         p.workers,
		QueueSize:       p.queueSize,
		UtilityDepth:    len(p.utilityChan),
		BackgroundDepth: len(p.backgroundChan),
		Submitted:       atomic.LoadInt64(&p.submitted),
		Processed:       atomic.LoadInt64(&p.processed),
		Failed:          atomic.LoadInt64(&p.failed),
		Dropped:         atomic.LoadInt64(&p.dropped),
	}
}

// PoolStats represents worker pool statistics
type PoolStats struct {
	Workers         int   `json:"workers"`
	QueueSize       int   `json:"queue_size"`
	UtilityDepth    int   `json:"utility_depth"`
	BackgroundDepth int   `json:"background_depth"`
	Submitted       int64 `json:"submitted"`
	Processed       int64 `json:"processed"`
	Failed          int64 `json:"failed"`
	Dropped         int64 `json:"dropped"`
}

// worker processes queued items, always preferring the utility lane.
func (p *Pool[T]) worker(ctx context.Context, _ int) {
	defer p.wg.Done()

	utility, background := p.utilityChan, p.backgroundChan

	for utility != nil || background != nil {
		// Utility work first, if any is ready
		select {
		case <-ctx.Done():
			return
		case work, ok := <-utility:
			if !ok {
				utility = nil
				continue
			}
			p.process(ctx, work)
			continue
		default:
		}

		select {
		case <-ctx.Done():
			return
		case work, ok := <-utility:
			if !ok {
				utility = nil
				continue
			}
			p.process(ctx, work)
		case work, ok := <-background:
			if !ok {
				background = nil
				continue
			}
			p.process(ctx, work)
		}
	}
}

func (p *Pool[T]) process(ctx context.Context, work T) {
	start := time.Now()
	err := p.processor(ctx, work)
	duration := time.Since(start)

	atomic.AddInt64(&p.processed, 1)
	if err != nil {
		atomic.AddInt64(&p.failed, 1)
	}

	if p.metrics != nil {
		p.metrics.processed.Inc()
		status := "success"
		if err != nil {
			p.metrics.failed.Inc()
			status = "error"
		}
		p.metrics.processingTime.WithLabelValues(status).Observe(duration.Seconds())
	}
}

// metricsUpdater periodically refreshes queue depth gauges
func (p *Pool[T]) metricsUpdater(ctx context.Context) {
	defer p.wg.Done()

	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.quit:
			return
		case <-ticker.C:
			p.metrics.queueDepth.WithLabelValues(PriorityUtility.String()).Set(float64(len(p.utilityChan)))
			p.metrics.queueDepth.WithLabelValues(PriorityBackground.String()).Set(float64(len(p.backgroundChan)))
		}
	}
}
