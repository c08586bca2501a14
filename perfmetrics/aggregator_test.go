package perfmetrics

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/resourcekit/metric"
)

func TestAggregator_WindowKeepsLastHundred(t *testing.T) {
	a := New()

	for i := 1; i <= 150; i++ {
		a.Record("decode", time.Duration(i)*time.Millisecond, int64(i))
	}

	samples := a.Samples("decode")
	require.Len(t, samples, 100)
	assert.Equal(t, 51*time.Millisecond, samples[0].Duration)
	assert.Equal(t, 150*time.Millisecond, samples[99].Duration)

	// mean of 51..150 ms
	assert.Equal(t, 100500*time.Microsecond, a.AverageDuration("decode"))
}

func TestAggregator_AverageDurationUnknown(t *testing.T) {
	a := New()
	assert.Equal(t, time.Duration(0), a.AverageDuration("never"))
	assert.Nil(t, a.Samples("never"))
}

func TestAggregator_WindowSizeOption(t *testing.T) {
	a := New(WithWindowSize(3), WithWindowSize(-1))

	for i := 0; i < 5; i++ {
		a.Record("op", time.Second, 0)
	}
	assert.Len(t, a.Samples("op"), 3)
}

func TestAggregator_Markers(t *testing.T) {
	clock := clockwork.NewFakeClock()
	a := New(WithClock(clock))

	a.RecordMemoryOptimization()
	a.RecordDatabaseOptimization()
	a.RecordNetworkOptimization()
	a.RecordUIOptimization()

	assert.Equal(t, []string{
		MarkerDatabaseOptimization,
		MarkerMemoryOptimization,
		MarkerNetworkOptimization,
		MarkerUIOptimization,
	}, a.Operations())

	samples := a.Samples(MarkerMemoryOptimization)
	require.Len(t, samples, 1)
	assert.Equal(t, time.Duration(0), samples[0].Duration)
	assert.Equal(t, int64(0), samples[0].MemoryDelta)
	assert.Equal(t, clock.Now(), samples[0].Timestamp)
}

func TestAggregator_CacheCounters(t *testing.T) {
	a := New()

	a.RecordCacheHit("object")
	a.RecordCacheHit("object")
	a.RecordCacheMiss("object")
	a.RecordCacheStore("response")

	assert.Equal(t, CacheCounts{Hits: 2, Misses: 1}, a.CacheCounts("object"))
	assert.Equal(t, CacheCounts{Stored: 1}, a.CacheCounts("response"))
	assert.Equal(t, CacheCounts{}, a.CacheCounts("data"))
}

func TestAggregator_Snapshot(t *testing.T) {
	clock := clockwork.NewFakeClock()
	a := New(WithClock(clock))

	a.Record("load", 10*time.Millisecond, 100)
	clock.Advance(time.Second)
	a.RecordFailed("load", 30*time.Millisecond, -40)
	a.RecordCacheMiss("object")

	snap := a.Snapshot()
	load := snap.Operations["load"]
	assert.Equal(t, 2, load.Count)
	assert.Equal(t, int64(1), load.Failures)
	assert.Equal(t, 20*time.Millisecond, load.AverageDuration)
	assert.Equal(t, 30*time.Millisecond, load.MaxDuration)
	assert.Equal(t, int64(60), load.TotalMemoryDelta)
	assert.Equal(t, clock.Now(), load.LastRecorded)
	assert.Equal(t, int64(1), snap.Cache["object"].Misses)
}

func TestAggregator_ConcurrentRecord(t *testing.T) {
	a := New()

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				a.Record(fmt.Sprintf("op-%d", id%2), time.Millisecond, 1)
				a.RecordCacheHit("object")
				_ = a.Snapshot()
			}
		}(g)
	}
	wg.Wait()

	assert.Len(t, a.Samples("op-0"), 100)
	assert.Len(t, a.Samples("op-1"), 100)
	assert.Equal(t, int64(800), a.CacheCounts("object").Hits)
}

func TestAggregator_PrometheusMirror(t *testing.T) {
	m := metric.NewMetrics()
	a := New(WithMetrics(m))

	a.Record("sync", 5*time.Millisecond, 0)
	a.RecordFailed("sync", 5*time.Millisecond, 0)
	a.RecordCacheHit("object")
	a.RecordCacheStore("object")

	assert.Equal(t, float64(1), testutil.ToFloat64(m.OperationFailures.WithLabelValues("sync")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.CacheEvents.WithLabelValues("object", "hit")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.CacheEvents.WithLabelValues("object", "store")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.OperationDuration))
}
