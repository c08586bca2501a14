package cache

import (
	"container/list"
	"sync"

	"github.com/c360/resourcekit/errors"
)

// lruEntry represents an entry in the cost-bounded LRU cache.
type lruEntry[V any] struct {
	key   string
	value V
	cost  int64
}

// CostLRU is a thread-safe least recently used cache bounded by both entry count
// and the sum of entry costs. A limit <= 0 means that dimension is unbounded.
//
// After every mutation the cache evicts from the least recently used end until
// both limits hold. An item whose cost alone exceeds the cost limit is never stored.
type CostLRU[V any] struct {
	mu         sync.Mutex
	countLimit int
	costLimit  int64
	totalCost  int64
	items      map[string]*list.Element // key -> list element
	order      *list.List               // front is most recently used
	stats      *Statistics              // ALWAYS initialized
	metrics    *cacheMetrics            // Optional, if metrics enabled
	evictFn    EvictCallback[V]
	costFn     CostFunc[V]
}

var _ Cache[int] = (*CostLRU[int])(nil)

// NewCostLRU creates a cost-bounded LRU cache.
// Returns an error if metrics registration fails when requested.
func NewCostLRU[V any](countLimit int, costLimit int64, options ...Option[V]) (*CostLRU[V], error) {
	opts := applyOptions(options...)

	var metrics *cacheMetrics
	if opts.metricsReg != nil && opts.metricsPrefix != "" {
		var err error
		metrics, err = newCacheMetrics(opts.metricsReg, opts.metricsPrefix)
		if err != nil {
			return nil, errors.WrapTransient(err, "cache", "NewCostLRU", "metrics registration")
		}
	}

	return &CostLRU[V]{
		countLimit: countLimit,
		costLimit:  costLimit,
		items:      make(map[string]*list.Element),
		order:      list.New(),
		stats:      NewStatistics(),
		metrics:    metrics,
		evictFn:    opts.evictCallback,
		costFn:     opts.costFn,
	}, nil
}

// Get retrieves a value by key and marks it as recently used.
func (c *CostLRU[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	element, exists := c.items[key]
	if !exists {
		var zero V
		c.stats.Miss()
		if c.metrics != nil {
			c.metrics.recordMiss()
		}
		return zero, false
	}

	c.order.MoveToFront(element)

	c.stats.Hit()
	if c.metrics != nil {
		c.metrics.recordHit()
	}
	return element.Value.(*lruEntry[V]).value, true
}

// Set stores a value priced by the configured CostFunc.
func (c *CostLRU[V]) Set(key string, value V) (bool, error) {
	var cost int64
	if c.costFn != nil {
		cost = c.costFn(value)
	}
	return c.SetWithCost(key, value, cost)
}

// SetWithCost stores a value with an explicit cost and marks it as recently used.
// Returns true if a new entry was created. Negative costs are treated as zero.
//
// If cost alone exceeds the cost limit the value is not stored, any previous
// entry under key is dropped, and false is returned without an error.
func (c *CostLRU[V]) SetWithCost(key string, value V, cost int64) (bool, error) {
	if err := validateKey(key); err != nil {
		return false, err
	}
	if cost < 0 {
		cost = 0
	}

	c.mu.Lock()

	if c.costLimit > 0 && cost > c.costLimit {
		var evicted []lruEntry[V]
		if element, exists := c.items[key]; exists {
			evicted = append(evicted, *c.removeElementUnsafe(element))
			c.stats.Eviction()
			if c.metrics != nil {
				c.metrics.recordEviction()
			}
			c.updateSizeUnsafe()
		}
		c.mu.Unlock()
		c.notifyEvicted(evicted)
		return false, nil
	}

	created := true
	if element, exists := c.items[key]; exists {
		entry := element.Value.(*lruEntry[V])
		c.totalCost += cost - entry.cost
		entry.value = value
		entry.cost = cost
		c.order.MoveToFront(element)
		created = false
	} else {
		c.items[key] = c.order.PushFront(&lruEntry[V]{key: key, value: value, cost: cost})
		c.totalCost += cost
	}

	c.stats.Set()
	if c.metrics != nil {
		c.metrics.recordSet()
	}

	evicted := c.enforceLimitsUnsafe()
	c.updateSizeUnsafe()
	c.mu.Unlock()

	c.notifyEvicted(evicted)
	return created, nil
}

// SetCostLimit changes the total cost limit and evicts down to it immediately.
func (c *CostLRU[V]) SetCostLimit(limit int64) {
	c.mu.Lock()
	c.costLimit = limit
	evicted := c.enforceLimitsUnsafe()
	c.updateSizeUnsafe()
	c.mu.Unlock()

	c.notifyEvicted(evicted)
}

// SetCountLimit changes the entry count limit and evicts down to it immediately.
func (c *CostLRU[V]) SetCountLimit(limit int) {
	c.mu.Lock()
	c.countLimit = limit
	evicted := c.enforceLimitsUnsafe()
	c.updateSizeUnsafe()
	c.mu.Unlock()

	c.notifyEvicted(evicted)
}

// CostLimit returns the current total cost limit.
func (c *CostLRU[V]) CostLimit() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.costLimit
}

// CountLimit returns the current entry count limit.
func (c *CostLRU[V]) CountLimit() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.countLimit
}

// TotalCost returns the sum of costs of resident entries.
func (c *CostLRU[V]) TotalCost() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.totalCost
}

// Delete removes an entry by key.
func (c *CostLRU[V]) Delete(key string) (bool, error) {
	if err := validateKey(key); err != nil {
		return false, err
	}

	c.mu.Lock()
	element, exists := c.items[key]
	if !exists {
		c.mu.Unlock()
		return false, nil
	}

	entry := c.removeElementUnsafe(element)
	c.stats.Delete()
	if c.metrics != nil {
		c.metrics.recordDelete()
	}
	c.updateSizeUnsafe()
	c.mu.Unlock()

	// Call eviction callback outside lock to prevent deadlock
	c.notifyEvicted([]lruEntry[V]{*entry})
	return true, nil
}

// Clear removes all entries from the cache. Hit and miss counters are preserved.
func (c *CostLRU[V]) Clear() error {
	var evicted []lruEntry[V]

	c.mu.Lock()
	if c.evictFn != nil {
		evicted = make([]lruEntry[V], 0, len(c.items))
		for element := c.order.Back(); element != nil; element = element.Prev() {
			evicted = append(evicted, *element.Value.(*lruEntry[V]))
		}
	}

	c.items = make(map[string]*list.Element)
	c.order.Init()
	c.totalCost = 0
	c.updateSizeUnsafe()
	c.mu.Unlock()

	c.notifyEvicted(evicted)
	return nil
}

// Size returns the current number of entries in the cache.
func (c *CostLRU[V]) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Keys returns all keys, most recently used first.
func (c *CostLRU[V]) Keys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	keys := make([]string, 0, len(c.items))
	for element := c.order.Front(); element != nil; element = element.Next() {
		keys = append(keys, element.Value.(*lruEntry[V]).key)
	}
	return keys
}

// Stats returns cache statistics.
func (c *CostLRU[V]) Stats() *Statistics {
	return c.stats
}

// Close is a no-op; the LRU cache has no background goroutines.
func (c *CostLRU[V]) Close() error {
	return nil
}

// enforceLimitsUnsafe evicts least recently used entries until both limits hold.
// Must be called with mutex held. Returns the evicted entries for callback delivery.
func (c *CostLRU[V]) enforceLimitsUnsafe() []lruEntry[V] {
	var evicted []lruEntry[V]

	for c.overLimitUnsafe() {
		element := c.order.Back()
		if element == nil {
			break
		}
		entry := c.removeElementUnsafe(element)
		if c.evictFn != nil {
			evicted = append(evicted, *entry)
		}

		c.stats.Eviction()
		if c.metrics != nil {
			c.metrics.recordEviction()
		}
	}

	return evicted
}

func (c *CostLRU[V]) overLimitUnsafe() bool {
	if c.countLimit > 0 && len(c.items) > c.countLimit {
		return true
	}
	return c.costLimit > 0 && c.totalCost > c.costLimit
}

// removeElementUnsafe removes an element from both the list and map.
// Must be called with mutex held. Does NOT call the eviction callback.
func (c *CostLRU[V]) removeElementUnsafe(element *list.Element) *lruEntry[V] {
	entry := element.Value.(*lruEntry[V])
	delete(c.items, entry.key)
	c.order.Remove(element)
	c.totalCost -= entry.cost
	return entry
}

func (c *CostLRU[V]) updateSizeUnsafe() {
	c.stats.UpdateSize(int64(len(c.items)))
	c.stats.UpdateCost(c.totalCost)
	if c.metrics != nil {
		c.metrics.updateSize(len(c.items))
		c.metrics.updateCost(c.totalCost)
	}
}

func (c *CostLRU[V]) notifyEvicted(entries []lruEntry[V]) {
	if c.evictFn == nil {
		return
	}
	for _, entry := range entries {
		c.evictFn(entry.key, entry.value)
	}
}
