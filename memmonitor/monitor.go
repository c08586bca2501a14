// Package memmonitor samples process memory on a fixed period, keeps a bounded
// history of readings and classifies memory pressure.
package memmonitor

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/c360/resourcekit/errors"
	"github.com/c360/resourcekit/metric"
	"github.com/c360/resourcekit/pkg/buffer"
)

// Defaults for the sampling loop.
const (
	DefaultInterval    = 5 * time.Second
	DefaultHistorySize = 1000
)

// Reader reads memory figures from the OS or runtime.
type Reader interface {
	PhysicalMemory() (uint64, error)
	ResidentMemory() (uint64, error)
}

// PressureHandler is notified after a sample classified as warning or critical,
// and once with LevelNormal when pressure subsides. It runs on the sampling
// goroutine; long work should be handed off.
type PressureHandler func(ctx context.Context, level Level)

// Monitor samples resident memory periodically.
type Monitor struct {
	reader     Reader
	interval   time.Duration
	thresholds Thresholds
	history    buffer.Buffer[uint64]
	clock      clockwork.Clock
	metrics    *metric.Metrics
	logger     *slog.Logger
	onPressure PressureHandler

	mu      sync.Mutex
	peak    uint64
	level   Level
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// Option configures a Monitor.
type Option func(*monitorOptions)

type monitorOptions struct {
	interval    time.Duration
	historySize int
	thresholds  Thresholds
	clock       clockwork.Clock
	metrics     *metric.Metrics
	logger      *slog.Logger
	onPressure  PressureHandler
}

// WithInterval sets the sampling period. Values <= 0 are ignored.
func WithInterval(d time.Duration) Option {
	return func(o *monitorOptions) {
		if d > 0 {
			o.interval = d
		}
	}
}

// WithHistorySize sets how many samples are retained. Values <= 0 are ignored.
func WithHistorySize(n int) Option {
	return func(o *monitorOptions) {
		if n > 0 {
			o.historySize = n
		}
	}
}

// WithThresholds overrides the pressure thresholds.
func WithThresholds(t Thresholds) Option {
	return func(o *monitorOptions) {
		o.thresholds = t
	}
}

// WithClock overrides the time source driving the sampling ticker.
func WithClock(clock clockwork.Clock) Option {
	return func(o *monitorOptions) {
		if clock != nil {
			o.clock = clock
		}
	}
}

// WithMetrics exports samples to Prometheus.
func WithMetrics(m *metric.Metrics) Option {
	return func(o *monitorOptions) {
		o.metrics = m
	}
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(o *monitorOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithPressureHandler registers a handler for warning and critical samples.
func WithPressureHandler(h PressureHandler) Option {
	return func(o *monitorOptions) {
		o.onPressure = h
	}
}

// New creates a Monitor reading from reader.
func New(reader Reader, opts ...Option) (*Monitor, error) {
	if reader == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "Monitor", "New", "memory reader required")
	}

	o := monitorOptions{
		interval:    DefaultInterval,
		historySize: DefaultHistorySize,
		thresholds:  DefaultThresholds(),
		clock:       clockwork.NewRealClock(),
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(&o)
	}

	if o.thresholds.Warning <= 0 || o.thresholds.Critical > 1 || o.thresholds.Warning >= o.thresholds.Critical {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "Monitor", "New",
			"thresholds must satisfy 0 < warning < critical <= 1")
	}

	history, err := buffer.NewCircularBuffer[uint64](o.historySize,
		buffer.WithOverflowPolicy[uint64](buffer.DropOldest))
	if err != nil {
		return nil, errors.Wrap(err, "Monitor", "New", "history buffer creation")
	}

	return &Monitor{
		reader:     reader,
		interval:   o.interval,
		thresholds: o.thresholds,
		history:    history,
		clock:      o.clock,
		metrics:    o.metrics,
		logger:     o.logger.With("component", "memory-monitor"),
		onPressure: o.onPressure,
	}, nil
}

// Start begins the sampling loop. Calling Start while running is a no-op.
// The loop ends when ctx is cancelled or Stop is called.
func (m *Monitor) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return nil
	}

	if physical, err := m.reader.PhysicalMemory(); err == nil && m.metrics != nil {
		m.metrics.RecordPhysicalMemory(physical)
	}

	loopCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.done = make(chan struct{})
	m.running = true

	go m.run(loopCtx, m.done)

	m.logger.Info("Memory monitoring started", "interval", m.interval)
	return nil
}

// Stop ends the sampling loop and waits for it to exit. Safe to call when not running.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	cancel, done := m.cancel, m.done
	m.running = false
	m.mu.Unlock()

	cancel()
	<-done
	m.logger.Info("Memory monitoring stopped")
}

// Running reports whether the sampling loop is active.
func (m *Monitor) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

func (m *Monitor) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := m.clock.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.mu.Lock()
			if m.done == done {
				m.running = false
			}
			m.mu.Unlock()
			return
		case <-ticker.Chan():
			m.Sample(ctx)
		}
	}
}

// Sample takes one reading, appends it to the history and notifies the
// pressure handler if the reading is warning or critical.
func (m *Monitor) Sample(ctx context.Context) {
	resident, err := m.reader.ResidentMemory()
	if err != nil {
		m.logger.Warn("Failed to read resident memory", "error", err)
		return
	}

	if err := m.history.Write(resident); err != nil {
		m.logger.Warn("Failed to record memory sample", "error", err)
	}

	level := LevelNormal
	if physical, err := m.reader.PhysicalMemory(); err == nil {
		level = m.thresholds.Classify(resident, physical)
	} else {
		m.logger.Warn("Failed to read physical memory", "error", err)
	}

	m.mu.Lock()
	if resident > m.peak {
		m.peak = resident
	}
	previous := m.level
	m.level = level
	m.mu.Unlock()

	if m.metrics != nil {
		m.metrics.RecordMemorySample(resident, int(level))
	}

	switch {
	case level != LevelNormal:
		m.logger.Debug("Memory pressure detected", "level", level, "resident_bytes", resident)
	case previous != LevelNormal:
		m.logger.Debug("Memory pressure subsided", "previous", previous, "resident_bytes", resident)
	default:
		return
	}
	if m.onPressure != nil {
		m.onPressure(ctx, level)
	}
}

// CurrentUsage reads resident memory directly. It does not touch the history.
func (m *Monitor) CurrentUsage() (uint64, error) {
	resident, err := m.reader.ResidentMemory()
	if err != nil {
		return 0, errors.WrapTransient(err, "Monitor", "CurrentUsage", "read resident memory")
	}
	return resident, nil
}

// CurrentPressure classifies a fresh reading against physical memory.
func (m *Monitor) CurrentPressure() (Level, error) {
	resident, err := m.CurrentUsage()
	if err != nil {
		return LevelNormal, err
	}
	physical, err := m.reader.PhysicalMemory()
	if err != nil {
		return LevelNormal, errors.WrapTransient(err, "Monitor", "CurrentPressure", "read physical memory")
	}
	return m.thresholds.Classify(resident, physical), nil
}

// Report summarizes current usage and sample history.
type Report struct {
	Current  uint64 `json:"current_bytes"`
	Physical uint64 `json:"physical_bytes"`
	Peak     uint64 `json:"peak_bytes"`
	Average  uint64 `json:"average_bytes"`
	Samples  int    `json:"samples"`
	Pressure Level  `json:"pressure"`
}

// Report returns current usage, the all-time sampled peak, the average over
// the retained window and current pressure.
func (m *Monitor) Report() (Report, error) {
	resident, err := m.CurrentUsage()
	if err != nil {
		return Report{}, err
	}
	physical, err := m.reader.PhysicalMemory()
	if err != nil {
		return Report{}, errors.WrapTransient(err, "Monitor", "Report", "read physical memory")
	}

	samples := m.history.Snapshot()

	var sum float64
	for _, s := range samples {
		sum += float64(s)
	}
	var average uint64
	if len(samples) > 0 {
		average = uint64(sum / float64(len(samples)))
	}

	m.mu.Lock()
	peak := m.peak
	m.mu.Unlock()
	if resident > peak {
		peak = resident
	}

	return Report{
		Current:  resident,
		Physical: physical,
		Peak:     peak,
		Average:  average,
		Samples:  len(samples),
		Pressure: m.thresholds.Classify(resident, physical),
	}, nil
}

// History returns the retained samples, oldest first.
func (m *Monitor) History() []uint64 {
	return m.history.Snapshot()
}
