// Package metric provides the Prometheus metrics registry and HTTP server used
// by resourcekit components.
//
// # Architecture
//
//  1. Core Metrics: process-level resource metrics registered automatically
//     (memory gauges, operation durations, batch outcomes, maintenance failures).
//  2. Component Registry: components register their own collectors through the
//     MetricsRegistrar interface (cache counters, worker pool gauges).
//  3. HTTP Server: serves the Prometheus endpoint plus any extra routes the
//     binary attaches (health, report).
//
// # Basic Usage
//
//	registry := metric.NewMetricsRegistry()
//	server := metric.NewServer(9090, "/metrics", registry)
//	server.Handle("/report", reportHandler)
//
//	go func() {
//	    if err := server.Start(); err != nil {
//	        logger.Error("metrics server failed", "error", err)
//	    }
//	}()
//	defer server.Stop()
//
//	registry.CoreMetrics().RecordOperation("sync", elapsed, err != nil)
//
// Registration keys are "<service>.<metric>". Registering the same key twice, or
// two collectors with the same Prometheus descriptor, returns an Invalid error.
package metric
