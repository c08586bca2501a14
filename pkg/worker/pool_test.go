package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	rkerrors "github.com/c360/resourcekit/errors"
	"github.com/c360/resourcekit/metric"
)

// Test data structure for worker pool tests
type testWork struct {
	id    int
	delay time.Duration
	fail  bool
}

func TestNewPool(t *testing.T) {
	processor := func(_ context.Context, _ testWork) error { return nil }

	pool := NewPool(5, 100, processor)
	assert.Equal(t, 5, pool.workers)
	assert.Equal(t, 100, pool.queueSize)

	pool = NewPool(0, 100, processor)
	assert.Equal(t, 10, pool.workers, "zero workers should default")

	pool = NewPool(5, 0, processor)
	assert.Equal(t, 1000, pool.queueSize, "zero queue size should default")
}

func TestNewPool_NilProcessor(t *testing.T) {
	assert.PanicsWithValue(t, ErrNilProcessor, func() {
		NewPool[testWork](5, 100, nil)
	})
}

func TestPool_StartStop(t *testing.T) {
	var processedCount int64
	processor := func(_ context.Context, _ testWork) error {
		atomic.AddInt64(&processedCount, 1)
		return nil
	}

	pool := NewPool(2, 10, processor)
	ctx := context.Background()

	require.NoError(t, pool.Start(ctx))
	assert.ErrorIs(t, pool.Start(ctx), ErrPoolAlreadyStarted)

	for i := 0; i < 5; i++ {
		require.NoError(t, pool.Submit(testWork{id: i}))
	}
	for i := 5; i < 8; i++ {
		require.NoError(t, pool.SubmitWithPriority(testWork{id: i}, PriorityBackground))
	}

	// Stop drains both lanes before returning
	require.NoError(t, pool.Stop(5*time.Second))
	assert.Equal(t, int64(8), atomic.LoadInt64(&processedCount))

	assert.ErrorIs(t, pool.Submit(testWork{id: 999}), ErrPoolStopped)
	assert.NoError(t, pool.Stop(time.Second), "second stop is a no-op")
}

func TestPool_SubmitBeforeStart(t *testing.T) {
	pool := NewPool(1, 1, func(_ context.Context, _ testWork) error { return nil })

	err := pool.Submit(testWork{id: 1})
	assert.Same(t, ErrPoolNotStarted, err)
	assert.NoError(t, pool.Stop(time.Second), "stopping an unstarted pool is a no-op")
}

func TestPool_QueueFull(t *testing.T) {
	release := make(chan struct{})
	processor := func(_ context.Context, _ testWork) error {
		<-release
		return nil
	}

	pool := NewPool(1, 2, processor)
	require.NoError(t, pool.Start(context.Background()))
	defer func() {
		close(release)
		_ = pool.Stop(5 * time.Second)
	}()

	submitted, dropped := 0, 0
	for i := 0; i < 6; i++ {
		err := pool.Submit(testWork{id: i})
		if err != nil {
			assert.ErrorIs(t, err, ErrQueueFull)
			assert.True(t, errors.Is(err, rkerrors.ErrQueueFull))
			assert.True(t, rkerrors.IsTransient(err))
			dropped++
		} else {
			submitted++
		}
	}

	assert.Positive(t, dropped)
	assert.Positive(t, submitted)
	assert.Equal(t, int64(dropped), pool.Stats().Dropped)
}

func TestPool_LanesAreIndependent(t *testing.T) {
	release := make(chan struct{})
	pool := NewPool(1, 1, func(_ context.Context, _ testWork) error {
		<-release
		return nil
	})
	require.NoError(t, pool.Start(context.Background()))
	defer func() {
		close(release)
		_ = pool.Stop(5 * time.Second)
	}()

	// Occupy the worker, then fill the utility lane
	require.NoError(t, pool.Submit(testWork{id: 0}))
	require.Eventually(t, func() bool { return pool.Stats().UtilityDepth == 0 }, time.Second, time.Millisecond)
	require.NoError(t, pool.Submit(testWork{id: 1}))
	assert.ErrorIs(t, pool.Submit(testWork{id: 2}), ErrQueueFull)

	assert.NoError(t, pool.SubmitWithPriority(testWork{id: 3}, PriorityBackground))
	stats := pool.Stats()
	assert.Equal(t, 1, stats.UtilityDepth)
	assert.Equal(t, 1, stats.BackgroundDepth)
}

func TestPool_UtilityLaneFirst(t *testing.T) {
	gate := make(chan struct{})
	var mu sync.Mutex
	var order []int

	pool := NewPool(1, 10, func(_ context.Context, work testWork) error {
		if work.id == 0 {
			<-gate
			return nil
		}
		mu.Lock()
		order = append(order, work.id)
		mu.Unlock()
		return nil
	})
	require.NoError(t, pool.Start(context.Background()))

	require.NoError(t, pool.Submit(testWork{id: 0}))
	require.Eventually(t, func() bool { return pool.Stats().UtilityDepth == 0 }, time.Second, time.Millisecond)

	for i := 1; i <= 3; i++ {
		require.NoError(t, pool.SubmitWithPriority(testWork{id: 100 + i}, PriorityBackground))
	}
	for i := 1; i <= 3; i++ {
		require.NoError(t, pool.Submit(testWork{id: i}))
	}

	close(gate)
	require.NoError(t, pool.Stop(5*time.Second))

	assert.Equal(t, []int{1, 2, 3, 101, 102, 103}, order)
}

func TestPool_ProcessingErrors(t *testing.T) {
	pool := NewPool(2, 10, func(_ context.Context, work testWork) error {
		if work.fail {
			return errors.New("processing failed")
		}
		return nil
	})
	require.NoError(t, pool.Start(context.Background()))

	for i := 0; i < 6; i++ {
		require.NoError(t, pool.Submit(testWork{id: i, fail: i%2 == 0}))
	}
	require.NoError(t, pool.Stop(5*time.Second))

	stats := pool.Stats()
	assert.Equal(t, int64(6), stats.Submitted)
	assert.Equal(t, int64(6), stats.Processed)
	assert.Equal(t, int64(3), stats.Failed)
}

func TestPool_ContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	var started int64
	pool := NewPool(2, 10, func(ctx context.Context, _ testWork) error {
		atomic.AddInt64(&started, 1)
		<-ctx.Done()
		return ctx.Err()
	})
	require.NoError(t, pool.Start(ctx))

	require.NoError(t, pool.Submit(testWork{id: 1}))
	require.NoError(t, pool.Submit(testWork{id: 2}))
	require.Eventually(t, func() bool { return atomic.LoadInt64(&started) == 2 }, time.Second, time.Millisecond)

	cancel()
	require.NoError(t, pool.Stop(5*time.Second))
	assert.Equal(t, int64(2), pool.Stats().Failed)
}

func TestPool_StopTimeout(t *testing.T) {
	release := make(chan struct{})
	defer close(release)

	pool := NewPool(1, 1, func(_ context.Context, _ testWork) error {
		<-release
		return nil
	})
	require.NoError(t, pool.Start(context.Background()))
	require.NoError(t, pool.Submit(testWork{id: 1}))
	require.Eventually(t, func() bool { return pool.Stats().UtilityDepth == 0 }, time.Second, time.Millisecond)

	assert.ErrorIs(t, pool.Stop(10*time.Millisecond), ErrStopTimeout)
	assert.ErrorIs(t, pool.Submit(testWork{id: 2}), ErrPoolStopped, "timed-out stop still refuses new work")
}

func TestPool_ConcurrentSubmissions(t *testing.T) {
	var processed int64
	pool := NewPool(4, 1000, func(_ context.Context, _ testWork) error {
		atomic.AddInt64(&processed, 1)
		return nil
	})
	require.NoError(t, pool.Start(context.Background()))

	var wg sync.WaitGroup
	for g := 0; g < 10; g++ {
		wg.Add(1)
		go func(base int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				priority := PriorityUtility
				if i%2 == 0 {
					priority = PriorityBackground
				}
				_ = pool.SubmitWithPriority(testWork{id: base*100 + i}, priority)
			}
		}(g)
	}
	wg.Wait()
	require.NoError(t, pool.Stop(5*time.Second))

	stats := pool.Stats()
	assert.Equal(t, stats.Submitted, atomic.LoadInt64(&processed))
	assert.Equal(t, int64(500), stats.Submitted+stats.Dropped)
}

func TestPool_Metrics(t *testing.T) {
	registry := metric.NewMetricsRegistry()
	pool := NewPool(1, 10, func(_ context.Context, work testWork) error {
		if work.fail {
			return errors.New("boom")
		}
		return nil
	}, WithMetricsRegistry[testWork](registry, "detached_tasks"))
	require.NotNil(t, pool.metrics)

	require.NoError(t, pool.Start(context.Background()))
	require.NoError(t, pool.Submit(testWork{id: 1}))
	require.NoError(t, pool.SubmitWithPriority(testWork{id: 2, fail: true}, PriorityBackground))
	require.NoError(t, pool.Stop(5*time.Second))

	assert.Equal(t, float64(1), testutil.ToFloat64(pool.metrics.submitted.WithLabelValues("utility")))
	assert.Equal(t, float64(1), testutil.ToFloat64(pool.metrics.submitted.WithLabelValues("background")))
	assert.Equal(t, float64(2), testutil.ToFloat64(pool.metrics.processed))
	assert.Equal(t, float64(1), testutil.ToFloat64(pool.metrics.failed))
}

func TestPriorityString(t *testing.T) {
	assert.Equal(t, "utility", PriorityUtility.String())
	assert.Equal(t, "background", PriorityBackground.String())
	assert.Equal(t, "unknown", Priority(7).String())
}
