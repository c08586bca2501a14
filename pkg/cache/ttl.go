package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/c360/resourcekit/errors"
)

// ttlEntry represents an entry in the TTL cache.
type ttlEntry[V any] struct {
	key        string
	value      V
	insertedAt time.Time
	expiresAt  time.Time
}

// expiredAt reports whether the entry is no longer visible at now.
// An entry is visible strictly before its expiration instant.
func (e *ttlEntry[V]) expiredAt(now time.Time) bool {
	return !now.Before(e.expiresAt)
}

// TTL is a thread-safe cache where every entry carries its own expiration.
// Expired entries are removed lazily on access, by RemoveExpired, or by the
// optional background sweep enabled with WithCleanupInterval.
type TTL[V any] struct {
	mu              sync.Mutex
	defaultTTL      time.Duration
	cleanupInterval time.Duration
	items           map[string]*ttlEntry[V]
	clock           clockwork.Clock
	stats           *Statistics   // ALWAYS initialized
	metrics         *cacheMetrics // Optional, if metrics enabled
	evictFn         EvictCallback[V]

	// Background cleanup coordination
	shutdown  chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

var _ Cache[int] = (*TTL[int])(nil)

// NewTTL creates a TTL cache whose Set uses defaultTTL.
// The background sweep, if enabled, stops when ctx is cancelled or Close is called.
func NewTTL[V any](ctx context.Context, defaultTTL time.Duration, options ...Option[V]) (*TTL[V], error) {
	if defaultTTL <= 0 {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "cache", "NewTTL",
			fmt.Sprintf("ttl must be positive, got %v", defaultTTL))
	}

	opts := applyOptions(options...)

	var metrics *cacheMetrics
	if opts.metricsReg != nil && opts.metricsPrefix != "" {
		var err error
		metrics, err = newCacheMetrics(opts.metricsReg, opts.metricsPrefix)
		if err != nil {
			return nil, errors.WrapTransient(err, "cache", "NewTTL", "metrics registration")
		}
	}

	c := &TTL[V]{
		defaultTTL:      defaultTTL,
		cleanupInterval: opts.cleanupInterval,
		items:           make(map[string]*ttlEntry[V]),
		clock:           opts.clock,
		stats:           NewStatistics(),
		metrics:         metrics,
		evictFn:         opts.evictCallback,
		shutdown:        make(chan struct{}),
		done:            make(chan struct{}),
	}

	if c.cleanupInterval > 0 {
		go c.cleanup(ctx)
	} else {
		close(c.done)
	}

	return c, nil
}

// Get retrieves a value by key. Expired entries are removed and reported as a miss.
func (c *TTL[V]) Get(key string) (V, bool) {
	var zero V
	now := c.clock.Now()

	c.mu.Lock()
	entry, exists := c.items[key]
	if !exists {
		c.mu.Unlock()
		c.recordMiss()
		return zero, false
	}

	if entry.expiredAt(now) {
		delete(c.items, key)
		c.stats.Eviction()
		if c.metrics != nil {
			c.metrics.recordEviction()
		}
		c.updateSizeUnsafe()
		c.mu.Unlock()

		if c.evictFn != nil {
			c.evictFn(entry.key, entry.value)
		}
		c.recordMiss()
		return zero, false
	}
	c.mu.Unlock()

	c.stats.Hit()
	if c.metrics != nil {
		c.metrics.recordHit()
	}
	return entry.value, true
}

// Set stores a value that expires after the default TTL.
func (c *TTL[V]) Set(key string, value V) (bool, error) {
	return c.SetWithTTL(key, value, c.defaultTTL)
}

// SetWithTTL stores a value that expires ttl from now.
// A ttl <= 0 falls back to the default TTL. Returns true if a new entry was created.
func (c *TTL[V]) SetWithTTL(key string, value V, ttl time.Duration) (bool, error) {
	if err := validateKey(key); err != nil {
		return false, err
	}
	if ttl <= 0 {
		ttl = c.defaultTTL
	}
	now := c.clock.Now()

	c.mu.Lock()
	_, exists := c.items[key]
	c.items[key] = &ttlEntry[V]{
		key:        key,
		value:      value,
		insertedAt: now,
		expiresAt:  now.Add(ttl),
	}
	c.stats.Set()
	if c.metrics != nil {
		c.metrics.recordSet()
	}
	c.updateSizeUnsafe()
	c.mu.Unlock()

	return !exists, nil
}

// ExpiresAt returns the expiration instant of a resident entry, expired or not.
func (c *TTL[V]) ExpiresAt(key string) (time.Time, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, exists := c.items[key]
	if !exists {
		return time.Time{}, false
	}
	return entry.expiresAt, true
}

// Delete removes an entry by key.
func (c *TTL[V]) Delete(key string) (bool, error) {
	if err := validateKey(key); err != nil {
		return false, err
	}

	c.mu.Lock()
	entry, exists := c.items[key]
	if exists {
		delete(c.items, key)
		c.stats.Delete()
		if c.metrics != nil {
			c.metrics.recordDelete()
		}
		c.updateSizeUnsafe()
	}
	c.mu.Unlock()

	if exists && c.evictFn != nil {
		c.evictFn(key, entry.value)
	}
	return exists, nil
}

// Clear removes all entries from the cache. Hit and miss counters are preserved.
func (c *TTL[V]) Clear() error {
	c.mu.Lock()
	removed := c.items
	c.items = make(map[string]*ttlEntry[V])
	c.updateSizeUnsafe()
	c.mu.Unlock()

	if c.evictFn != nil {
		for _, entry := range removed {
			c.evictFn(entry.key, entry.value)
		}
	}
	return nil
}

// Size returns the number of resident entries, including expired ones not yet removed.
func (c *TTL[V]) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Keys returns the keys of entries that are still visible.
func (c *TTL[V]) Keys() []string {
	now := c.clock.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	keys := make([]string, 0, len(c.items))
	for key, entry := range c.items {
		if !entry.expiredAt(now) {
			keys = append(keys, key)
		}
	}
	return keys
}

// Stats returns cache statistics.
func (c *TTL[V]) Stats() *Statistics {
	return c.stats
}

// Close stops the background sweep, if any. Safe to call more than once.
func (c *TTL[V]) Close() error {
	c.closeOnce.Do(func() {
		close(c.shutdown)
	})

	select {
	case <-c.done:
		return nil
	case <-time.After(5 * time.Second):
		return fmt.Errorf("timeout waiting for cleanup goroutine to finish")
	}
}

// RemoveExpired removes every entry whose expiration has passed and returns how many were removed.
func (c *TTL[V]) RemoveExpired() int {
	now := c.clock.Now()
	var expired []*ttlEntry[V]

	c.mu.Lock()
	for key, entry := range c.items {
		if entry.expiredAt(now) {
			expired = append(expired, entry)
			delete(c.items, key)
		}
	}
	for range expired {
		c.stats.Eviction()
		if c.metrics != nil {
			c.metrics.recordEviction()
		}
	}
	if len(expired) > 0 {
		c.updateSizeUnsafe()
	}
	c.mu.Unlock()

	// Call OnEvict callbacks outside the lock
	if c.evictFn != nil {
		for _, entry := range expired {
			c.evictFn(entry.key, entry.value)
		}
	}
	return len(expired)
}

// cleanup runs in a background goroutine and periodically removes expired entries.
func (c *TTL[V]) cleanup(ctx context.Context) {
	defer close(c.done)

	ticker := c.clock.NewTicker(c.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.shutdown:
			return
		case <-ticker.Chan():
			c.RemoveExpired()
		}
	}
}

func (c *TTL[V]) recordMiss() {
	c.stats.Miss()
	if c.metrics != nil {
		c.metrics.recordMiss()
	}
}

func (c *TTL[V]) updateSizeUnsafe() {
	c.stats.UpdateSize(int64(len(c.items)))
	if c.metrics != nil {
		c.metrics.updateSize(len(c.items))
	}
}
