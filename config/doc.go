// Package config loads and validates resourcekit configuration.
//
// Configuration is built in layers:
//
//  1. Default() values
//  2. each file added with AddLayer, JSON or YAML by extension, deep-merged so a
//     layer only overrides the keys it sets
//  3. RESOURCEKIT_* environment variables
//  4. Validate
//
// Duration fields accept strings such as "5s", "10ms" or "7d" as well as
// integer nanoseconds.
//
//	loader := config.NewLoader()
//	loader.AddLayer("configs/base.yaml")
//	loader.AddLayer("configs/production.json")
//	cfg, err := loader.Load()
//
// Recognised environment overrides:
//
//	RESOURCEKIT_CACHE_OBJECT_COUNT_LIMIT     RESOURCEKIT_CACHE_DATA_COUNT_LIMIT
//	RESOURCEKIT_CACHE_DEFAULT_RESPONSE_TTL   RESOURCEKIT_MEMORY_SAMPLE_INTERVAL
//	RESOURCEKIT_MEMORY_SOURCE                RESOURCEKIT_BACKGROUND_WORKERS
//	RESOURCEKIT_BACKGROUND_MIN_OPTIMIZE_INTERVAL
//	RESOURCEKIT_METRICS_PORT                 RESOURCEKIT_STORAGE_DRIVER
//	RESOURCEKIT_STORAGE_DSN                  RESOURCEKIT_EVENTS_CGROUP_PATH
//	RESOURCEKIT_EVENTS_NATS_URL
//
// Config files are size- and depth-limited and must be regular .json, .yaml
// or .yml files. Relative paths may not escape the working directory.
package config
