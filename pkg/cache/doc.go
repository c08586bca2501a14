// Package cache provides generic, thread-safe caches used by the resource manager.
//
// # Cost-bounded LRU
//
// CostLRU keeps entries in recency order and evicts from the least recently used
// end whenever the entry count or the summed entry cost exceeds its limit:
//
//	objects, err := cache.NewCostLRU[[]byte](100, 50_000_000,
//		cache.WithCostFunc[[]byte](func(b []byte) int64 { return int64(len(b)) }),
//	)
//	_, _ = objects.Set("thumb:42", payload)
//	objects.SetCostLimit(25_000_000) // evicts immediately
//
// Limits <= 0 disable that dimension. A value whose cost alone exceeds the cost
// limit is not stored.
//
// # Time-to-live
//
// TTL stores each entry with its own expiration. An entry is visible strictly
// before its expiration instant; expired entries are removed lazily on Get, by
// RemoveExpired, or by a background sweep:
//
//	responses, err := cache.NewTTL[[]byte](ctx, 300*time.Second,
//		cache.WithCleanupInterval[[]byte](time.Minute),
//	)
//	_, _ = responses.SetWithTTL("GET /feed", body, 30*time.Second)
//
// Tests drive expiry with WithClock and a clockwork.FakeClock.
//
// # Observability
//
// Statistics are always collected and survive Clear. Prometheus metrics are
// opt-in through WithMetrics(registry, prefix) and are exported under the
// resourcekit_cache_* names with a component label.
//
// Eviction callbacks run outside the cache lock and may call back into the cache.
package cache
