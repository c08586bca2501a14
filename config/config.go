package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/c360/resourcekit/errors"
)

// Storage drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Memory reader sources.
const (
	SourceAuto     = "auto"
	SourceProcfs   = "procfs"
	SourceGopsutil = "gopsutil"
	SourceRuntime  = "runtime"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "RESOURCEKIT"

// Config is the complete resourcekit configuration.
type Config struct {
	Cache      CacheConfig      `json:"cache"`
	Memory     MemoryConfig     `json:"memory"`
	Background BackgroundConfig `json:"background"`
	Metrics    MetricsConfig    `json:"metrics"`
	Storage    StorageConfig    `json:"storage"`
	Events     EventsConfig     `json:"events"`
}

// CacheConfig sizes the object, data and response caches.
type CacheConfig struct {
	ObjectCountLimit      int           `json:"object_count_limit"`
	DataCountLimit        int           `json:"data_count_limit"`
	BudgetDivisor         uint64        `json:"budget_divisor"`
	BudgetCap             uint64        `json:"budget_cap"`
	DefaultResponseTTL    time.Duration `json:"default_response_ttl"`
	ResponseSweepInterval time.Duration `json:"response_sweep_interval"`
}

// MemoryConfig controls resident memory sampling and pressure thresholds.
type MemoryConfig struct {
	SampleInterval    time.Duration `json:"sample_interval"`
	HistorySize       int           `json:"history_size"`
	WarningThreshold  float64       `json:"warning_threshold"`
	CriticalThreshold float64       `json:"critical_threshold"`
	Source            string        `json:"source"`
}

// BackgroundConfig controls detached work, batching and maintenance.
type BackgroundConfig struct {
	Workers             int           `json:"workers"`
	QueueSize           int           `json:"queue_size"`
	BatchDelay          time.Duration `json:"batch_delay"`
	MaintenanceAge      time.Duration `json:"maintenance_age"`
	UsageRetention      time.Duration `json:"usage_retention"`
	MinOptimizeInterval time.Duration `json:"min_optimize_interval"`
}

// MetricsConfig controls the operation window and the HTTP endpoint.
type MetricsConfig struct {
	WindowSize int    `json:"window_size"`
	Enabled    bool   `json:"enabled"`
	Port       int    `json:"port"`
	Path       string `json:"path"`
}

// StorageConfig selects the usage record store. An empty driver disables it.
type StorageConfig struct {
	Driver      string `json:"driver,omitempty"`
	DSN         string `json:"dsn,omitempty"`
	RecordUsage bool   `json:"record_usage"`
}

// EventsConfig selects the resource event sources.
type EventsConfig struct {
	Signals       bool   `json:"signals"`
	CgroupPath    string `json:"cgroup_path,omitempty"`
	NATSURL       string `json:"nats_url,omitempty"`
	SubjectPrefix string `json:"subject_prefix,omitempty"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Cache: CacheConfig{
			ObjectCountLimit:      100,
			DataCountLimit:        200,
			BudgetDivisor:         10,
			BudgetCap:             100_000_000,
			DefaultResponseTTL:    300 * time.Second,
			ResponseSweepInterval: time.Minute,
		},
		Memory: MemoryConfig{
			SampleInterval:    5 * time.Second,
			HistorySize:       1000,
			WarningThreshold:  0.70,
			CriticalThreshold: 0.90,
			Source:            SourceAuto,
		},
		Background: BackgroundConfig{
			Workers:             4,
			QueueSize:           256,
			BatchDelay:          10 * time.Millisecond,
			MaintenanceAge:      7 * 24 * time.Hour,
			UsageRetention:      30 * 24 * time.Hour,
			MinOptimizeInterval: 30 * time.Second,
		},
		Metrics: MetricsConfig{
			WindowSize: 100,
			Enabled:    true,
			Port:       9090,
			Path:       "/metrics",
		},
		Events: EventsConfig{
			Signals:       true,
			SubjectPrefix: "resourcekit.events",
		},
	}
}

func invalid(format string, args ...any) error {
	return errors.WrapInvalid(fmt.Errorf("%w: "+format, append([]any{errors.ErrInvalidConfig}, args...)...),
		"Config", "Validate", "validation")
}

// Validate checks the configuration for values the components cannot run with.
func (c *Config) Validate() error {
	if c.Cache.ObjectCountLimit <= 0 || c.Cache.DataCountLimit <= 0 {
		return invalid("cache count limits must be positive")
	}
	if c.Cache.BudgetDivisor == 0 {
		return invalid("cache.budget_divisor must be positive")
	}
	if c.Cache.DefaultResponseTTL <= 0 {
		return invalid("cache.default_response_ttl must be positive")
	}
	if c.Cache.ResponseSweepInterval < 0 {
		return invalid("cache.response_sweep_interval cannot be negative")
	}

	if c.Memory.SampleInterval <= 0 {
		return invalid("memory.sample_interval must be positive")
	}
	if c.Memory.HistorySize <= 0 {
		return invalid("memory.history_size must be positive")
	}
	if c.Memory.WarningThreshold <= 0 || c.Memory.CriticalThreshold > 1 ||
		c.Memory.WarningThreshold >= c.Memory.CriticalThreshold {
		return invalid("memory thresholds must satisfy 0 < warning < critical <= 1")
	}
	switch c.Memory.Source {
	case SourceAuto, SourceProcfs, SourceGopsutil, SourceRuntime:
	default:
		return invalid("memory.source %q is not one of auto, procfs, gopsutil, runtime", c.Memory.Source)
	}

	if c.Background.Workers <= 0 || c.Background.QueueSize <= 0 {
		return invalid("background workers and queue size must be positive")
	}
	if c.Background.BatchDelay < 0 || c.Background.MinOptimizeInterval < 0 {
		return invalid("background delays cannot be negative")
	}
	if c.Background.MaintenanceAge <= 0 || c.Background.UsageRetention <= 0 {
		return invalid("background retention windows must be positive")
	}

	if c.Metrics.WindowSize <= 0 {
		return invalid("metrics.window_size must be positive")
	}
	if c.Metrics.Enabled && (c.Metrics.Port <= 0 || c.Metrics.Port > 65535) {
		return invalid("metrics.port %d out of range", c.Metrics.Port)
	}

	switch c.Storage.Driver {
	case "":
		if c.Storage.RecordUsage {
			return invalid("storage.record_usage requires a storage driver")
		}
	case DriverSQLite, DriverPostgres:
		if c.Storage.DSN == "" {
			return invalid("storage.dsn is required for driver %s", c.Storage.Driver)
		}
	default:
		return invalid("storage.driver %q is not one of sqlite, postgres", c.Storage.Driver)
	}

	if c.Events.NATSURL != "" && !isValidSubject(c.Events.SubjectPrefix) {
		return invalid("events.subject_prefix %q is not a valid NATS subject", c.Events.SubjectPrefix)
	}

	return nil
}

// isValidSubject checks a dot-separated NATS subject without wildcards.
func isValidSubject(s string) bool {
	if s == "" {
		return false
	}
	for _, token := range strings.Split(s, ".") {
		if token == "" || strings.ContainsAny(token, "*> \t") {
			return false
		}
	}
	return true
}

// String returns a JSON representation of the config
func (c *Config) String() string {
	data, _ := json.MarshalIndent(c, "", "  ")
	return string(data)
}

// SafeConfig provides thread-safe access to configuration
type SafeConfig struct {
	mu     sync.RWMutex
	config Config
}

// NewSafeConfig wraps cfg. A nil cfg starts from Default().
func NewSafeConfig(cfg *Config) *SafeConfig {
	if cfg == nil {
		cfg = Default()
	}
	return &SafeConfig{config: *cfg}
}

// Get returns a copy of the current configuration.
func (sc *SafeConfig) Get() Config {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return sc.config
}

// Update replaces the configuration after validating it.
func (sc *SafeConfig) Update(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	sc.mu.Lock()
	sc.config = cfg
	sc.mu.Unlock()
	return nil
}

// Loader handles configuration loading with layers and overrides
type Loader struct {
	layers     []string
	validation bool
	envPrefix  string
	lookupEnv  func(string) (string, bool)
}

// NewLoader creates a new configuration loader
func NewLoader() *Loader {
	return &Loader{
		validation: true,
		envPrefix:  EnvPrefix,
		lookupEnv:  os.LookupEnv,
	}
}

// AddLayer adds a configuration file layer. Later layers override earlier ones.
func (l *Loader) AddLayer(path string) {
	l.layers = append(l.layers, path)
}

// EnableValidation enables or disables configuration validation
func (l *Loader) EnableValidation(enable bool) {
	l.validation = enable
}

// LoadFile loads configuration from a single file
func (l *Loader) LoadFile(path string) (*Config, error) {
	l.layers = []string{path}
	return l.Load()
}

// Load applies defaults, each file layer, then environment overrides, and validates.
func (l *Loader) Load() (*Config, error) {
	cfg := Default()

	for _, path := range l.layers {
		raw, err := l.loadRaw(path)
		if err != nil {
			return nil, errors.WrapInvalid(err, "Loader", "Load", fmt.Sprintf("load %s", path))
		}
		cfg, err = l.mergeFromMap(cfg, raw)
		if err != nil {
			return nil, errors.WrapInvalid(err, "Loader", "Load", fmt.Sprintf("merge %s", path))
		}
	}

	if err := l.applyEnvOverrides(cfg); err != nil {
		return nil, errors.WrapInvalid(err, "Loader", "Load", "environment overrides")
	}

	if l.validation {
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

// loadRaw reads a JSON or YAML file into a generic map with durations normalized to nanoseconds.
func (l *Loader) loadRaw(path string) (map[string]any, error) {
	data, err := safeReadFile(path)
	if err != nil {
		return nil, err
	}

	var raw map[string]any
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("invalid YAML: %w", err)
		}
	default:
		if err := validateJSONDepth(data); err != nil {
			return nil, fmt.Errorf("invalid JSON structure: %w", err)
		}
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("invalid JSON: %w", err)
		}
	}

	if err := parseDurations(raw); err != nil {
		return nil, err
	}
	return raw, nil
}

// mergeFromMap overrides only the fields present in override.
func (l *Loader) mergeFromMap(base *Config, override map[string]any) (*Config, error) {
	if override == nil {
		return base, nil
	}

	baseJSON, err := json.Marshal(base)
	if err != nil {
		return nil, err
	}
	var baseMap map[string]any
	if err := json.Unmarshal(baseJSON, &baseMap); err != nil {
		return nil, err
	}

	mergedJSON, err := json.Marshal(deepMergeMaps(baseMap, override))
	if err != nil {
		return nil, err
	}

	var merged Config
	if err := json.Unmarshal(mergedJSON, &merged); err != nil {
		return nil, err
	}
	return &merged, nil
}

// deepMergeMaps recursively merges two maps, with override taking precedence
func deepMergeMaps(base, override map[string]any) map[string]any {
	result := make(map[string]any, len(base))
	for k, v := range base {
		result[k] = v
	}

	for k, v := range override {
		if v == nil {
			continue
		}
		if baseMap, ok := base[k].(map[string]any); ok {
			if overrideMap, ok := v.(map[string]any); ok {
				result[k] = deepMergeMaps(baseMap, overrideMap)
				continue
			}
		}
		result[k] = v
	}

	return result
}

// durationKeys are the config keys holding time.Duration values.
var durationKeys = map[string]bool{
	"default_response_ttl":    true,
	"response_sweep_interval": true,
	"sample_interval":         true,
	"batch_delay":             true,
	"maintenance_age":         true,
	"usage_retention":         true,
	"min_optimize_interval":   true,
}

// parseDurations converts duration strings ("5s", "7d") to nanoseconds.
func parseDurations(data map[string]any) error {
	for k, v := range data {
		switch val := v.(type) {
		case map[string]any:
			if err := parseDurations(val); err != nil {
				return err
			}
		case string:
			if !durationKeys[k] {
				continue
			}
			d, err := parseDurationWithDays(val)
			if err != nil {
				return fmt.Errorf("%s: %w", k, err)
			}
			data[k] = d.Nanoseconds()
		}
	}
	return nil
}

// parseDurationWithDays parses durations that may include days (e.g., "14d")
func parseDurationWithDays(s string) (time.Duration, error) {
	if strings.HasSuffix(s, "d") {
		n, err := strconv.Atoi(strings.TrimSuffix(s, "d"))
		if err != nil {
			return 0, err
		}
		return time.Duration(n) * 24 * time.Hour, nil
	}
	return time.ParseDuration(s)
}

// applyEnvOverrides applies RESOURCEKIT_* environment variables.
func (l *Loader) applyEnvOverrides(cfg *Config) error {
	var firstErr error
	get := func(suffix string) (string, bool) {
		key := l.envPrefix + "_" + suffix
		val, ok := l.lookupEnv(key)
		if !ok || val == "" {
			return "", false
		}
		if err := validateEnvVar(key, val); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			return "", false
		}
		return val, true
	}
	setInt := func(suffix string, dst *int) {
		if val, ok := get(suffix); ok {
			n, err := strconv.Atoi(val)
			if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("%s_%s: %w", l.envPrefix, suffix, err)
				return
			}
			*dst = n
		}
	}
	setDuration := func(suffix string, dst *time.Duration) {
		if val, ok := get(suffix); ok {
			d, err := parseDurationWithDays(val)
			if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("%s_%s: %w", l.envPrefix, suffix, err)
				return
			}
			*dst = d
		}
	}

	setInt("CACHE_OBJECT_COUNT_LIMIT", &cfg.Cache.ObjectCountLimit)
	setInt("CACHE_DATA_COUNT_LIMIT", &cfg.Cache.DataCountLimit)
	setDuration("CACHE_DEFAULT_RESPONSE_TTL", &cfg.Cache.DefaultResponseTTL)
	setDuration("MEMORY_SAMPLE_INTERVAL", &cfg.Memory.SampleInterval)
	if val, ok := get("MEMORY_SOURCE"); ok {
		cfg.Memory.Source = strings.ToLower(val)
	}
	setInt("BACKGROUND_WORKERS", &cfg.Background.Workers)
	setDuration("BACKGROUND_MIN_OPTIMIZE_INTERVAL", &cfg.Background.MinOptimizeInterval)
	setInt("METRICS_PORT", &cfg.Metrics.Port)
	if val, ok := get("STORAGE_DRIVER"); ok {
		cfg.Storage.Driver = strings.ToLower(val)
	}
	if val, ok := get("STORAGE_DSN"); ok {
		cfg.Storage.DSN = val
	}
	if val, ok := get("EVENTS_CGROUP_PATH"); ok {
		cfg.Events.CgroupPath = val
	}
	if val, ok := get("EVENTS_NATS_URL"); ok {
		cfg.Events.NATSURL = val
	}

	return firstErr
}
