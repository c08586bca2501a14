package cache

import (
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/c360/resourcekit/metric"
)

// Option configures cache behavior using the functional options pattern.
type Option[V any] func(*cacheOptions[V])

// cacheOptions holds internal configuration for cache instances.
// Stats are ALWAYS collected; metrics are optional and exposed via WithMetrics().
type cacheOptions[V any] struct {
	// metricsReg is optional - if provided, cache stats are also exposed as Prometheus metrics
	metricsReg *metric.MetricsRegistry

	// metricsPrefix is used as the component label for Prometheus metrics
	metricsPrefix string

	evictCallback EvictCallback[V]

	// costFn prices values passed to Set on a CostLRU
	costFn CostFunc[V]

	clock clockwork.Clock

	// cleanupInterval enables background sweeping of expired TTL entries when > 0
	cleanupInterval time.Duration
}

// WithMetrics enables Prometheus metrics export for cache statistics.
// If registry is nil or prefix is empty, this option is ignored.
func WithMetrics[V any](registry *metric.MetricsRegistry, prefix string) Option[V] {
	return func(opts *cacheOptions[V]) {
		if registry != nil && prefix != "" {
			opts.metricsReg = registry
			opts.metricsPrefix = prefix
		}
	}
}

// WithEvictionCallback sets a callback function that is called when items are evicted.
// The callback receives the key and value of the evicted entry and runs outside the cache lock.
func WithEvictionCallback[V any](callback EvictCallback[V]) Option[V] {
	return func(opts *cacheOptions[V]) {
		opts.evictCallback = callback
	}
}

// WithCostFunc sets how Set prices values on a CostLRU. Without it Set stores values at zero cost.
func WithCostFunc[V any](fn CostFunc[V]) Option[V] {
	return func(opts *cacheOptions[V]) {
		opts.costFn = fn
	}
}

// WithClock overrides the time source. Tests pass a clockwork.FakeClock.
func WithClock[V any](clock clockwork.Clock) Option[V] {
	return func(opts *cacheOptions[V]) {
		if clock != nil {
			opts.clock = clock
		}
	}
}

// WithCleanupInterval starts a background sweep of expired TTL entries.
// If interval is <= 0, expired entries are only removed lazily or by RemoveExpired.
func WithCleanupInterval[V any](interval time.Duration) Option[V] {
	return func(opts *cacheOptions[V]) {
		opts.cleanupInterval = interval
	}
}

func applyOptions[V any](options ...Option[V]) *cacheOptions[V] {
	opts := &cacheOptions[V]{
		clock: clockwork.NewRealClock(),
	}

	for _, opt := range options {
		if opt != nil {
			opt(opts)
		}
	}

	return opts
}
