package cache

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCostLRU_EvictsLeastRecentlyUsed(t *testing.T) {
	c, err := NewCostLRU[string](2, 0)
	require.NoError(t, err)

	_, _ = c.Set("A", "a")
	_, _ = c.Set("B", "b")

	_, ok := c.Get("A")
	require.True(t, ok)

	_, _ = c.Set("C", "c")

	_, ok = c.Get("B")
	assert.False(t, ok, "B was least recently used and must be evicted")
	_, ok = c.Get("A")
	assert.True(t, ok)
	_, ok = c.Get("C")
	assert.True(t, ok)
	assert.Equal(t, int64(1), c.Stats().Evictions())
}

func TestCostLRU_KeysInRecencyOrder(t *testing.T) {
	c, err := NewCostLRU[int](0, 0)
	require.NoError(t, err)

	_, _ = c.Set("a", 1)
	_, _ = c.Set("b", 2)
	_, _ = c.Set("c", 3)
	_, _ = c.Get("a")

	assert.Equal(t, []string{"a", "c", "b"}, c.Keys())
}

func TestCostLRU_CostLimit(t *testing.T) {
	c, err := NewCostLRU[string](0, 100)
	require.NoError(t, err)

	_, err = c.SetWithCost("a", "a", 40)
	require.NoError(t, err)
	_, err = c.SetWithCost("b", "b", 40)
	require.NoError(t, err)
	assert.Equal(t, int64(80), c.TotalCost())

	// Pushes total to 120, "a" is evicted
	_, err = c.SetWithCost("c", "c", 40)
	require.NoError(t, err)

	assert.Equal(t, int64(80), c.TotalCost())
	assert.Equal(t, []string{"c", "b"}, c.Keys())
}

func TestCostLRU_UpdateAdjustsCost(t *testing.T) {
	c, err := NewCostLRU[string](0, 100)
	require.NoError(t, err)

	_, _ = c.SetWithCost("a", "a", 30)
	_, _ = c.SetWithCost("b", "b", 30)

	created, err := c.SetWithCost("a", "bigger", 70)
	require.NoError(t, err)
	assert.False(t, created)

	// 70 + 30 = 100 still fits
	assert.Equal(t, int64(100), c.TotalCost())
	assert.Equal(t, 2, c.Size())

	_, _ = c.SetWithCost("b", "b", 31)
	assert.Equal(t, int64(31), c.TotalCost())
	assert.Equal(t, []string{"b"}, c.Keys())
}

func TestCostLRU_OversizedItemNotStored(t *testing.T) {
	c, err := NewCostLRU[string](0, 50)
	require.NoError(t, err)

	_, _ = c.SetWithCost("keep", "k", 10)
	_, _ = c.SetWithCost("big", "small", 5)

	created, err := c.SetWithCost("big", "huge", 51)
	require.NoError(t, err)
	assert.False(t, created)

	_, ok := c.Get("big")
	assert.False(t, ok, "stale value must not survive an oversized update")
	_, ok = c.Get("keep")
	assert.True(t, ok, "other entries are untouched")
	assert.Equal(t, int64(10), c.TotalCost())
}

func TestCostLRU_SetCostLimitEvicts(t *testing.T) {
	c, err := NewCostLRU[string](0, 1000)
	require.NoError(t, err)

	for _, key := range []string{"a", "b", "c", "d"} {
		_, _ = c.SetWithCost(key, key, 100)
	}

	c.SetCostLimit(250)
	assert.Equal(t, int64(250), c.CostLimit())
	assert.Equal(t, int64(200), c.TotalCost())
	assert.Equal(t, []string{"d", "c"}, c.Keys())

	c.SetCostLimit(0)
	_, _ = c.SetWithCost("e", "e", 5000)
	assert.Equal(t, 3, c.Size(), "zero limit is unbounded")
}

func TestCostLRU_SetCountLimitEvicts(t *testing.T) {
	c, err := NewCostLRU[int](0, 0)
	require.NoError(t, err)

	for i, key := range []string{"a", "b", "c"} {
		_, _ = c.Set(key, i)
	}

	c.SetCountLimit(1)
	assert.Equal(t, 1, c.CountLimit())
	assert.Equal(t, []string{"c"}, c.Keys())
}

func TestCostLRU_CostFunc(t *testing.T) {
	c, err := NewCostLRU[[]byte](0, 10,
		WithCostFunc[[]byte](func(b []byte) int64 { return int64(len(b)) }),
	)
	require.NoError(t, err)

	_, _ = c.Set("a", make([]byte, 6))
	_, _ = c.Set("b", make([]byte, 6))

	assert.Equal(t, []string{"b"}, c.Keys())
	assert.Equal(t, int64(6), c.TotalCost())
	assert.Equal(t, int64(6), c.Stats().TotalCost())
}

func TestCostLRU_NegativeCostIsZero(t *testing.T) {
	c, err := NewCostLRU[string](0, 10)
	require.NoError(t, err)

	_, _ = c.SetWithCost("a", "a", -5)
	assert.Equal(t, int64(0), c.TotalCost())
}

func TestCostLRU_EvictionCallbackOutsideLock(t *testing.T) {
	var c *CostLRU[string]
	var evicted []string
	var sizes []int

	c, err := NewCostLRU[string](2, 0,
		WithEvictionCallback[string](func(key string, _ string) {
			evicted = append(evicted, key)
			sizes = append(sizes, c.Size())
		}),
	)
	require.NoError(t, err)

	_, _ = c.Set("a", "1")
	_, _ = c.Set("b", "2")
	_, _ = c.Set("c", "3")

	assert.Equal(t, []string{"a"}, evicted)
	assert.Equal(t, []int{2}, sizes)

	require.NoError(t, c.Clear())
	assert.ElementsMatch(t, []string{"a", "b", "c"}, evicted)
}

func TestCostLRU_InvariantsUnderConcurrency(t *testing.T) {
	c, err := NewCostLRU[string](20, 500)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				key := string(rune('a' + (worker*7+i)%26))
				_, _ = c.SetWithCost(key, key, int64(10+i%50))
				_, _ = c.Get(key)
				if i%50 == 0 {
					c.SetCostLimit(int64(300 + i))
				}
			}
		}(w)
	}
	wg.Wait()

	assert.LessOrEqual(t, c.Size(), 20)
	assert.LessOrEqual(t, c.TotalCost(), c.CostLimit())

	var sum int64
	c.mu.Lock()
	for element := c.order.Front(); element != nil; element = element.Next() {
		sum += element.Value.(*lruEntry[string]).cost
	}
	c.mu.Unlock()
	assert.Equal(t, sum, c.TotalCost())
}
