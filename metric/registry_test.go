package metric

import (
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/resourcekit/errors"
)

func gatheredNames(t *testing.T, registry *MetricsRegistry) map[string]bool {
	t.Helper()
	families, err := registry.PrometheusRegistry().Gather()
	require.NoError(t, err)

	names := make(map[string]bool, len(families))
	for _, mf := range families {
		names[mf.GetName()] = true
	}
	return names
}

func TestNewMetricsRegistry(t *testing.T) {
	registry := NewMetricsRegistry()

	assert.NotNil(t, registry)
	assert.NotNil(t, registry.PrometheusRegistry())
	assert.Same(t, registry.Metrics, registry.CoreMetrics())
}

func TestMetricsRegistry_RegisterCollectors(t *testing.T) {
	registry := NewMetricsRegistry()

	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "test_counter", Help: "A test counter"})
	gauge := prometheus.NewGauge(prometheus.GaugeOpts{Name: "test_gauge", Help: "A test gauge"})
	histogram := prometheus.NewHistogram(prometheus.HistogramOpts{Name: "test_histogram", Help: "A test histogram"})
	counterVec := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "test_counter_vec", Help: "vec"}, []string{"kind"})
	gaugeVec := prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: "test_gauge_vec", Help: "vec"}, []string{"kind"})
	histogramVec := prometheus.NewHistogramVec(prometheus.HistogramOpts{Name: "test_histogram_vec", Help: "vec"}, []string{"kind"})

	require.NoError(t, registry.RegisterCounter("svc", "counter", counter))
	require.NoError(t, registry.RegisterGauge("svc", "gauge", gauge))
	require.NoError(t, registry.RegisterHistogram("svc", "histogram", histogram))
	require.NoError(t, registry.RegisterCounterVec("svc", "counter_vec", counterVec))
	require.NoError(t, registry.RegisterGaugeVec("svc", "gauge_vec", gaugeVec))
	require.NoError(t, registry.RegisterHistogramVec("svc", "histogram_vec", histogramVec))

	counter.Inc()
	gauge.Set(42)
	histogram.Observe(1.5)
	counterVec.WithLabelValues("a").Inc()
	gaugeVec.WithLabelValues("a").Set(1)
	histogramVec.WithLabelValues("a").Observe(0.1)

	names := gatheredNames(t, registry)
	for _, name := range []string{
		"test_counter", "test_gauge", "test_histogram",
		"test_counter_vec", "test_gauge_vec", "test_histogram_vec",
	} {
		assert.True(t, names[name], "%s should be registered", name)
	}
}

func TestMetricsRegistry_PreventDuplicateRegistration(t *testing.T) {
	registry := NewMetricsRegistry()

	counter1 := prometheus.NewCounter(prometheus.CounterOpts{Name: "duplicate_counter", Help: "First counter"})
	counter2 := prometheus.NewCounter(prometheus.CounterOpts{Name: "duplicate_counter", Help: "First counter"})

	require.NoError(t, registry.RegisterCounter("service1", "duplicate_counter", counter1))

	err := registry.RegisterCounter("service1", "duplicate_counter", counter1)
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))

	// Different key, same descriptor: Prometheus rejects it
	err = registry.RegisterCounter("service2", "duplicate_counter", counter2)
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
}

func TestMetricsRegistry_UnregisterMetric(t *testing.T) {
	registry := NewMetricsRegistry()

	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "temp_counter", Help: "temporary"})
	require.NoError(t, registry.RegisterCounter("svc", "temp", counter))
	assert.True(t, gatheredNames(t, registry)["temp_counter"])

	assert.True(t, registry.Unregister("svc", "temp"))
	assert.False(t, registry.Unregister("svc", "temp"))

	// Can register again after unregistering
	require.NoError(t, registry.RegisterCounter("svc", "temp", counter))
}

func TestMetricsRegistry_ThreadSafety(t *testing.T) {
	registry := NewMetricsRegistry()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			counter := prometheus.NewCounter(prometheus.CounterOpts{
				Name: fmt.Sprintf("concurrent_counter_%d", i),
				Help: "concurrent",
			})
			assert.NoError(t, registry.RegisterCounter("svc", fmt.Sprintf("c%d", i), counter))
		}(i)
	}
	wg.Wait()

	names := gatheredNames(t, registry)
	for i := 0; i < 20; i++ {
		// Counters with zero value are still exported
		assert.True(t, names[fmt.Sprintf("concurrent_counter_%d", i)])
	}
}

func TestMetricsRegistrar_Interface(_ *testing.T) {
	var _ MetricsRegistrar = NewMetricsRegistry()
}

func TestCoreMetrics_RecordMethods(t *testing.T) {
	registry := NewMetricsRegistry()
	core := registry.CoreMetrics()

	core.RecordMemorySample(1024, 1)
	core.RecordPhysicalMemory(4096)
	core.RecordRemediation("reduce")
	core.RecordOperation("sync", 20*time.Millisecond, true)
	core.RecordOperation("sync", 10*time.Millisecond, false)
	core.RecordBatchItems("success", 3)
	core.RecordMaintenanceFailure("optimize")
	core.RecordResourceEvent("memory_warning")

	assert.Equal(t, 1024.0, testutil.ToFloat64(core.ResidentMemory))
	assert.Equal(t, 1.0, testutil.ToFloat64(core.MemoryPressure))
	assert.Equal(t, 1.0, testutil.ToFloat64(core.MemorySamples))
	assert.Equal(t, 4096.0, testutil.ToFloat64(core.PhysicalMemory))
	assert.Equal(t, 1.0, testutil.ToFloat64(core.RemediationRuns.WithLabelValues("reduce")))
	assert.Equal(t, 1.0, testutil.ToFloat64(core.OperationFailures.WithLabelValues("sync")))
	assert.Equal(t, 3.0, testutil.ToFloat64(core.BatchItems.WithLabelValues("success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(core.MaintenanceFailures.WithLabelValues("optimize")))
	assert.Equal(t, 1.0, testutil.ToFloat64(core.ResourceEvents.WithLabelValues("memory_warning")))
	assert.Equal(t, 1, testutil.CollectAndCount(core.OperationDuration))
}

func TestServer_Handler(t *testing.T) {
	registry := NewMetricsRegistry()
	registry.CoreMetrics().RecordPhysicalMemory(2048)

	server := NewServer(0, "", registry)
	server.Handle("/report", http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))

	ts := httptest.NewServer(server.Handler())
	defer ts.Close()

	get := func(path string) (int, string) {
		resp, err := http.Get(ts.URL + path)
		require.NoError(t, err)
		defer resp.Body.Close()
		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		return resp.StatusCode, string(body)
	}

	status, body := get("/metrics")
	assert.Equal(t, http.StatusOK, status)
	assert.True(t, strings.Contains(body, "resourcekit_memory_physical_bytes 2048"))

	status, body = get("/health")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "OK", body)

	status, body = get("/report")
	assert.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `{"ok":true}`, body)
}

func TestServer_StopWithoutStart(t *testing.T) {
	server := NewServer(0, "", NewMetricsRegistry())
	assert.NoError(t, server.Stop())
	assert.Equal(t, "http://localhost:9090/metrics", server.Address())
}
