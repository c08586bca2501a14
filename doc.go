// Package resourcekit is an adaptive resource manager for long-running Go
// processes. It bounds memory consumption under load with cost-limited caches,
// periodic memory pressure classification and throttled background work.
//
// # Philosophy
//
// Memory is a budget, not a hope. resourcekit sizes its caches from installed
// physical memory at startup, watches resident memory while the process runs,
// and gives memory back before the operating system takes it:
//
//   - Caches are bounded by entry count and by estimated cost.
//   - Pressure is a ratio of resident to physical memory, classified as
//     normal, warning or critical.
//   - Remediation is incremental: sweep expired responses, then shrink the
//     object budget, then empty the object cache.
//   - Maintenance (vacuuming, pruning old records) runs detached at
//     background priority and never blocks callers.
//
// resourcekit MUST NOT contain:
//   - Request retry or backoff policy (belongs to API clients)
//   - Entity persistence beyond the usage record store
//   - Presentation of reports (it serves JSON, callers render)
//
// # Architecture
//
// Components, leaves first:
//
//	┌──────────────┐  ┌──────────────┐  ┌──────────────┐
//	│ perfmetrics  │  │  memmonitor  │  │ cachemanager │
//	│ (windows,    │  │ (sampling,   │  │ (objects,    │
//	│  counters)   │  │  pressure)   │  │  data, TTL)  │
//	└──────┬───────┘  └──────┬───────┘  └──────┬───────┘
//	       │                 │ pressure        │
//	       │                 ↓                 │
//	       │          ┌──────────────┐         │
//	       └─────────→│ coordinator  │←────────┘
//	                  └──────┬───────┘
//	                         │ detached tasks, batches
//	                         ↓
//	                  ┌──────────────┐     ┌──────────────┐
//	                  │  background  │────→│  usagestore  │
//	                  │ (worker pool)│     │ sqlite / pg  │
//	                  └──────────────┘     └──────────────┘
//
// Resource events arrive from platform/events sources (SIGUSR1/SIGUSR2,
// cgroup v2 memory.events, NATS subjects) and are dispatched to the
// coordinator's OnMemoryWarning and OnEnteredBackground.
//
// # Packages
//
// Core:
//   - coordinator: composition root; Configure, OptimizeMemoryUsage,
//     Measure, BatchProcess, Report, Health, Close
//   - cachemanager: object, data and response caches sharing one budget
//   - memmonitor: resident memory sampling with bounded history
//   - background: detached tasks, chunked batches, storage maintenance
//   - perfmetrics: per-operation sliding windows and cache counters
//
// Infrastructure:
//   - config: layered JSON/YAML configuration with RESOURCEKIT_* overrides
//   - errors: transient, invalid and fatal error classes
//   - health: subsystem health statuses and aggregation
//   - metric: Prometheus registry and HTTP server
//   - storage, storage/usagestore: usage records and maintenance over sqlx
//   - platform/sysmem: procfs, gopsutil and runtime memory readers
//   - platform/events: signal, cgroup and NATS event sources
//   - pkg/buffer, pkg/cache, pkg/worker: generic building blocks
//
// # Usage
//
// Embedding the coordinator:
//
//	reader, err := sysmem.Detect(config.SourceAuto)
//	if err != nil {
//	    return err
//	}
//	coord, err := coordinator.New(reader, store,
//	    coordinator.WithMetrics(registry),
//	    coordinator.WithLogger(logger))
//	if err != nil {
//	    return err
//	}
//	if err := coord.Configure(ctx); err != nil {
//	    return err
//	}
//	defer coord.Close(context.Background())
//
//	err = coord.Measure(ctx, "render_dashboard", func(ctx context.Context) error {
//	    return render(ctx)
//	})
//
//	thumbs, err := coordinator.BatchProcess(ctx, coord, images, 8, makeThumbnail)
//
// Wiring platform events:
//
//	go events.RunAll(ctx, coord,
//	    events.NewSignalSource(),
//	    events.NewCgroupWatcher(""))
//
// # Binary
//
// The resourced binary hosts a coordinator as a standalone process:
//
//	# Defaults plus environment overrides
//	./bin/resourced --log-format=text
//
//	# With a config file and usage recording in sqlite
//	./bin/resourced --config configs/resourced.yaml
//
// It serves /metrics, /health and /report on the metrics port.
package resourcekit
