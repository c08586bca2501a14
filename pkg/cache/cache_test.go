package cache

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/resourcekit/errors"
)

// testBasicOperations tests operations shared by every Cache implementation.
func testBasicOperations(t *testing.T, cache Cache[string]) {
	_, exists := cache.Get("key1")
	assert.False(t, exists, "empty cache should miss")

	isNew, err := cache.Set("key1", "value1")
	require.NoError(t, err)
	assert.True(t, isNew, "expected new entry creation")

	value, exists := cache.Get("key1")
	require.True(t, exists)
	assert.Equal(t, "value1", value)

	isNew, err = cache.Set("key1", "value1_updated")
	require.NoError(t, err)
	assert.False(t, isNew, "expected existing entry update")

	value, exists = cache.Get("key1")
	require.True(t, exists)
	assert.Equal(t, "value1_updated", value)

	deleted, err := cache.Delete("key1")
	require.NoError(t, err)
	assert.True(t, deleted)

	deleted, err = cache.Delete("key1")
	require.NoError(t, err)
	assert.False(t, deleted, "second delete should report missing key")

	_, exists = cache.Get("key1")
	assert.False(t, exists)
}

// testInvalidKey tests that the empty key is rejected as invalid input.
func testInvalidKey(t *testing.T, cache Cache[string]) {
	_, err := cache.Set("", "v")
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))

	_, err = cache.Delete("")
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
}

// testConcurrentAccess hammers the cache from several goroutines.
func testConcurrentAccess(t *testing.T, cache Cache[string]) {
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				key := fmt.Sprintf("w%d-k%d", worker, i%10)
				_, _ = cache.Set(key, key)
				_, _ = cache.Get(key)
				if i%7 == 0 {
					_, _ = cache.Delete(key)
				}
				_ = cache.Keys()
			}
		}(w)
	}
	wg.Wait()

	stats := cache.Stats()
	assert.Equal(t, int64(800), stats.Hits()+stats.Misses())
}

func TestCacheImplementations(t *testing.T) {
	constructors := map[string]func(t *testing.T) Cache[string]{
		"CostLRU": func(t *testing.T) Cache[string] {
			c, err := NewCostLRU[string](1000, 0)
			require.NoError(t, err)
			return c
		},
		"TTL": func(t *testing.T) Cache[string] {
			c, err := NewTTL[string](context.Background(), time.Hour)
			require.NoError(t, err)
			return c
		},
	}

	for name, newCache := range constructors {
		t.Run(name, func(t *testing.T) {
			t.Run("BasicOperations", func(t *testing.T) {
				c := newCache(t)
				defer c.Close()
				testBasicOperations(t, c)
			})
			t.Run("InvalidKey", func(t *testing.T) {
				c := newCache(t)
				defer c.Close()
				testInvalidKey(t, c)
			})
			t.Run("ConcurrentAccess", func(t *testing.T) {
				c := newCache(t)
				defer c.Close()
				testConcurrentAccess(t, c)
			})
			t.Run("ClearKeepsCounters", func(t *testing.T) {
				c := newCache(t)
				defer c.Close()

				_, _ = c.Set("a", "1")
				_, _ = c.Get("a")
				_, _ = c.Get("missing")
				require.NoError(t, c.Clear())

				assert.Equal(t, 0, c.Size())
				assert.Equal(t, int64(1), c.Stats().Hits())
				assert.Equal(t, int64(1), c.Stats().Misses())
			})
		})
	}
}

func TestStatisticsSummary(t *testing.T) {
	stats := NewStatistics()
	assert.Equal(t, 0.0, stats.HitRatio())

	stats.Hit()
	stats.Hit()
	stats.Hit()
	stats.Miss()
	stats.Set()
	stats.Delete()
	stats.Eviction()
	stats.UpdateSize(5)
	stats.UpdateSize(2)
	stats.UpdateCost(1024)

	summary := stats.Summary()
	assert.Equal(t, int64(3), summary.Hits)
	assert.Equal(t, int64(1), summary.Misses)
	assert.Equal(t, int64(1), summary.Sets)
	assert.Equal(t, int64(1), summary.Deletes)
	assert.Equal(t, int64(1), summary.Evictions)
	assert.Equal(t, int64(2), summary.CurrentSize)
	assert.Equal(t, int64(5), summary.MaxSize)
	assert.Equal(t, int64(1024), summary.TotalCost)
	assert.InDelta(t, 0.75, summary.HitRatio, 1e-9)
}
