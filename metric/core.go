package metric

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics contains the process-level resource metrics shared by all components.
// Component-specific metrics (cache counters, worker pool gauges) are registered
// separately through MetricsRegistry.
type Metrics struct {
	// Memory metrics
	ResidentMemory  prometheus.Gauge
	PhysicalMemory  prometheus.Gauge
	MemoryPressure  prometheus.Gauge
	MemorySamples   prometheus.Counter
	RemediationRuns *prometheus.CounterVec

	// Operation metrics
	OperationDuration *prometheus.HistogramVec
	OperationFailures *prometheus.CounterVec

	// CacheEvents counts hits, misses and stores per cache kind
	CacheEvents *prometheus.CounterVec

	// Background work metrics
	BatchItems          *prometheus.CounterVec
	MaintenanceFailures *prometheus.CounterVec
	ResourceEvents      *prometheus.CounterVec
}

// NewMetrics creates a new Metrics instance with all platform metrics
func NewMetrics() *Metrics {
	return &Metrics{
		ResidentMemory: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "resourcekit",
				Subsystem: "memory",
				Name:      "resident_bytes",
				Help:      "Resident memory of the process at the last sample",
			},
		),

		PhysicalMemory: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "resourcekit",
				Subsystem: "memory",
				Name:      "physical_bytes",
				Help:      "Total installed physical memory",
			},
		),

		MemoryPressure: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "resourcekit",
				Subsystem: "memory",
				Name:      "pressure_level",
				Help:      "Memory pressure level (0=normal, 1=warning, 2=critical)",
			},
		),

		MemorySamples: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "resourcekit",
				Subsystem: "memory",
				Name:      "samples_total",
				Help:      "Total number of memory samples taken",
			},
		),

		RemediationRuns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "resourcekit",
				Subsystem: "memory",
				Name:      "remediations_total",
				Help:      "Total number of memory remediation passes by action",
			},
			[]string{"action"},
		),

		OperationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "resourcekit",
				Subsystem: "operation",
				Name:      "duration_seconds",
				Help:      "Duration of measured operations in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"operation"},
		),

		OperationFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "resourcekit",
				Subsystem: "operation",
				Name:      "failures_total",
				Help:      "Total number of measured operations that returned an error",
			},
			[]string{"operation"},
		),

		BatchItems: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "resourcekit",
				Subsystem: "batch",
				Name:      "items_total",
				Help:      "Total number of batch items processed by outcome",
			},
			[]string{"status"},
		),

		MaintenanceFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "resourcekit",
				Subsystem: "maintenance",
				Name:      "failures_total",
				Help:      "Total number of storage maintenance failures by task",
			},
			[]string{"task"},
		),

		CacheEvents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "resourcekit",
				Subsystem: "cache",
				Name:      "events_total",
				Help:      "Total number of cache hits, misses and stores by cache kind",
			},
			[]string{"kind", "event"},
		),

		ResourceEvents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "resourcekit",
				Subsystem: "events",
				Name:      "received_total",
				Help:      "Total number of platform resource events received by kind",
			},
			[]string{"kind"},
		),
	}
}

// RecordMemorySample updates the memory gauges after a monitor tick
func (c *Metrics) RecordMemorySample(resident uint64, level int) {
	c.ResidentMemory.Set(float64(resident))
	c.MemoryPressure.Set(float64(level))
	c.MemorySamples.Inc()
}

// RecordPhysicalMemory updates the installed memory gauge
func (c *Metrics) RecordPhysicalMemory(total uint64) {
	c.PhysicalMemory.Set(float64(total))
}

// RecordRemediation increments the remediation counter for an action
func (c *Metrics) RecordRemediation(action string) {
	c.RemediationRuns.WithLabelValues(action).Inc()
}

// RecordOperation records a measured operation
func (c *Metrics) RecordOperation(operation string, duration time.Duration, failed bool) {
	c.OperationDuration.WithLabelValues(operation).Observe(duration.Seconds())
	if failed {
		c.OperationFailures.WithLabelValues(operation).Inc()
	}
}

// RecordBatchItems adds processed batch items by status
func (c *Metrics) RecordBatchItems(status string, count int) {
	c.BatchItems.WithLabelValues(status).Add(float64(count))
}

// RecordMaintenanceFailure increments the maintenance failure counter
func (c *Metrics) RecordMaintenanceFailure(task string) {
	c.MaintenanceFailures.WithLabelValues(task).Inc()
}

// RecordResourceEvent increments the resource event counter
func (c *Metrics) RecordResourceEvent(kind string) {
	c.ResourceEvents.WithLabelValues(kind).Inc()
}

// RecordCacheEvent increments the cache event counter for a cache kind
func (c *Metrics) RecordCacheEvent(kind, event string) {
	c.CacheEvents.WithLabelValues(kind, event).Inc()
}
