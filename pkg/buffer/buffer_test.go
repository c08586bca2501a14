package buffer

import (
	"errors"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cerrors "github.com/c360/resourcekit/errors"
	"github.com/c360/resourcekit/metric"
)

func TestCircularBufferBasicOperations(t *testing.T) {
	buf, err := NewCircularBuffer[string](3)
	require.NoError(t, err)
	defer buf.Close()

	assert.Equal(t, 0, buf.Size())
	assert.Equal(t, 3, buf.Capacity())

	_, ok := buf.Peek()
	assert.False(t, ok)
	_, ok = buf.Last()
	assert.False(t, ok)

	require.NoError(t, buf.Write("first"))
	require.NoError(t, buf.Write("second"))
	require.NoError(t, buf.Write("third"))
	assert.Equal(t, 3, buf.Size())

	oldest, ok := buf.Peek()
	require.True(t, ok)
	assert.Equal(t, "first", oldest)

	newest, ok := buf.Last()
	require.True(t, ok)
	assert.Equal(t, "third", newest)

	item, ok := buf.Read()
	require.True(t, ok)
	assert.Equal(t, "first", item)
	assert.Equal(t, 2, buf.Size())
}

func TestCircularBufferSlidingWindow(t *testing.T) {
	buf, err := NewCircularBuffer[int](100)
	require.NoError(t, err)

	for i := 0; i < 150; i++ {
		require.NoError(t, buf.Write(i))
	}

	snapshot := buf.Snapshot()
	require.Len(t, snapshot, 100)
	assert.Equal(t, 50, snapshot[0])
	assert.Equal(t, 149, snapshot[99])

	stats := buf.Stats()
	assert.Equal(t, int64(150), stats.Writes())
	assert.Equal(t, int64(50), stats.Drops())
	assert.Equal(t, int64(100), stats.MaxSize())
}

func TestCircularBufferSnapshotIsCopy(t *testing.T) {
	buf, err := NewCircularBuffer[int](3)
	require.NoError(t, err)

	require.NoError(t, buf.Write(1))
	require.NoError(t, buf.Write(2))

	snapshot := buf.Snapshot()
	snapshot[0] = 99

	assert.Equal(t, []int{1, 2}, buf.Snapshot())
}

func TestCircularBufferOverflowPolicies(t *testing.T) {
	t.Run("DropOldest", func(t *testing.T) {
		buf, err := NewCircularBuffer[int](3, WithOverflowPolicy[int](DropOldest))
		require.NoError(t, err)

		for i := 1; i <= 5; i++ {
			require.NoError(t, buf.Write(i))
		}
		assert.Equal(t, []int{3, 4, 5}, buf.Snapshot())
	})

	t.Run("DropNewest", func(t *testing.T) {
		buf, err := NewCircularBuffer[int](3, WithOverflowPolicy[int](DropNewest))
		require.NoError(t, err)

		for i := 1; i <= 5; i++ {
			require.NoError(t, buf.Write(i))
		}
		assert.Equal(t, []int{1, 2, 3}, buf.Snapshot())
		assert.Equal(t, int64(2), buf.Stats().Drops())
	})
}

func TestCircularBufferOnDrop(t *testing.T) {
	var dropped []int
	buf, err := NewCircularBuffer[int](2,
		WithDropCallback[int](func(item int) {
			dropped = append(dropped, item)
		}),
	)
	require.NoError(t, err)

	for i := 1; i <= 4; i++ {
		require.NoError(t, buf.Write(i))
	}
	assert.Equal(t, []int{1, 2}, dropped)
}

func TestCircularBufferDropCallbackCanReenter(t *testing.T) {
	var buf Buffer[int]
	var sizes []int
	buf, err := NewCircularBuffer[int](1,
		WithDropCallback[int](func(int) {
			sizes = append(sizes, buf.Size())
		}),
	)
	require.NoError(t, err)

	require.NoError(t, buf.Write(1))
	require.NoError(t, buf.Write(2))
	assert.Equal(t, []int{1}, sizes)
}

func TestCircularBufferClear(t *testing.T) {
	buf, err := NewCircularBuffer[int](4)
	require.NoError(t, err)

	for i := 0; i < 4; i++ {
		require.NoError(t, buf.Write(i))
	}
	buf.Clear()

	assert.Equal(t, 0, buf.Size())
	assert.Empty(t, buf.Snapshot())
	assert.Equal(t, int64(0), buf.Stats().CurrentSize())

	require.NoError(t, buf.Write(7))
	assert.Equal(t, []int{7}, buf.Snapshot())
}

func TestCircularBufferEdgeCases(t *testing.T) {
	buf, err := NewCircularBuffer[int](0)
	require.NoError(t, err)
	assert.Equal(t, 1, buf.Capacity())

	_, ok := buf.Read()
	assert.False(t, ok)

	require.NoError(t, buf.Close())
	require.NoError(t, buf.Close())

	err = buf.Write(1)
	require.Error(t, err)
	assert.True(t, errors.Is(err, cerrors.ErrAlreadyStopped))
	assert.True(t, cerrors.IsInvalid(err))
}

func TestCircularBufferThreadSafety(t *testing.T) {
	buf, err := NewCircularBuffer[int](50)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(base int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				_ = buf.Write(base*1000 + i)
				_ = buf.Snapshot()
				_, _ = buf.Last()
			}
		}(w)
	}
	wg.Wait()

	assert.Equal(t, 50, buf.Size())
	assert.Equal(t, int64(1600), buf.Stats().Writes())
	assert.Equal(t, int64(1550), buf.Stats().Drops())
}

func TestCircularBufferMetrics(t *testing.T) {
	registry := metric.NewMetricsRegistry()

	buf, err := NewCircularBuffer[int](2, WithMetrics[int](registry, "latency_window"))
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		require.NoError(t, buf.Write(i))
	}

	cb := buf.(*circularBuffer[int])
	require.NotNil(t, cb.metrics)
	assert.Equal(t, float64(3), testutil.ToFloat64(cb.metrics.writes))
	assert.Equal(t, float64(1), testutil.ToFloat64(cb.metrics.drops))
	assert.Equal(t, float64(2), testutil.ToFloat64(cb.metrics.size))
	assert.Equal(t, float64(1), testutil.ToFloat64(cb.metrics.utilization))

	// Same prefix twice is a duplicate registration
	_, err = NewCircularBuffer[int](2, WithMetrics[int](registry, "latency_window"))
	assert.Error(t, err)
}

func TestStatisticsSummary(t *testing.T) {
	stats := NewStatistics()
	assert.Equal(t, 0.0, stats.DropRate())

	stats.Write()
	stats.Write()
	stats.Drop()
	stats.Read()
	stats.UpdateSize(4)
	stats.UpdateSize(1)

	summary := stats.Summary()
	assert.Equal(t, int64(2), summary.Writes)
	assert.Equal(t, int64(1), summary.Reads)
	assert.Equal(t, int64(1), summary.Drops)
	assert.Equal(t, int64(1), summary.CurrentSize)
	assert.Equal(t, int64(4), summary.MaxSize)
	assert.InDelta(t, 0.5, summary.DropRate, 1e-9)
}

func TestOverflowPolicyString(t *testing.T) {
	assert.Equal(t, "DropOldest", DropOldest.String())
	assert.Equal(t, "DropNewest", DropNewest.String())
	assert.Equal(t, "Unknown", OverflowPolicy(9).String())
}
