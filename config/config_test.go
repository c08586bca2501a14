package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/resourcekit/errors"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func newTestLoader(env map[string]string) *Loader {
	l := NewLoader()
	l.lookupEnv = func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	}
	return l
}

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()

	require.NoError(t, cfg.Validate())
	assert.Equal(t, 100, cfg.Cache.ObjectCountLimit)
	assert.Equal(t, 200, cfg.Cache.DataCountLimit)
	assert.Equal(t, uint64(100_000_000), cfg.Cache.BudgetCap)
	assert.Equal(t, 300*time.Second, cfg.Cache.DefaultResponseTTL)
	assert.Equal(t, 5*time.Second, cfg.Memory.SampleInterval)
	assert.Equal(t, 10*time.Millisecond, cfg.Background.BatchDelay)
	assert.Equal(t, 7*24*time.Hour, cfg.Background.MaintenanceAge)
	assert.Equal(t, 30*24*time.Hour, cfg.Background.UsageRetention)
}

func TestLoader_NoLayers(t *testing.T) {
	cfg, err := newTestLoader(nil).Load()

	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoader_JSONLayerMergesAndParsesDurations(t *testing.T) {
	path := writeFile(t, "base.json", `{
		"cache": {"object_count_limit": 50, "default_response_ttl": "2m"},
		"background": {"usage_retention": "14d", "batch_delay": 5000000}
	}`)

	cfg, err := newTestLoader(nil).LoadFile(path)

	require.NoError(t, err)
	assert.Equal(t, 50, cfg.Cache.ObjectCountLimit)
	assert.Equal(t, 200, cfg.Cache.DataCountLimit, "unset keys keep their defaults")
	assert.Equal(t, 2*time.Minute, cfg.Cache.DefaultResponseTTL)
	assert.Equal(t, 14*24*time.Hour, cfg.Background.UsageRetention)
	assert.Equal(t, 5*time.Millisecond, cfg.Background.BatchDelay)
}

func TestLoader_YAMLLayerOverridesJSON(t *testing.T) {
	base := writeFile(t, "base.json", `{"memory": {"sample_interval": "10s", "history_size": 50}}`)
	override := writeFile(t, "override.yaml", `
memory:
  sample_interval: 1s
  warning_threshold: 0.6
storage:
  driver: sqlite
  dsn: file:usage.db
`)

	l := newTestLoader(nil)
	l.AddLayer(base)
	l.AddLayer(override)
	cfg, err := l.Load()

	require.NoError(t, err)
	assert.Equal(t, time.Second, cfg.Memory.SampleInterval)
	assert.Equal(t, 50, cfg.Memory.HistorySize)
	assert.InDelta(t, 0.6, cfg.Memory.WarningThreshold, 1e-9)
	assert.Equal(t, DriverSQLite, cfg.Storage.Driver)
}

func TestLoader_EnvOverrides(t *testing.T) {
	cfg, err := newTestLoader(map[string]string{
		"RESOURCEKIT_BACKGROUND_WORKERS":     "8",
		"RESOURCEKIT_MEMORY_SOURCE":          "RUNTIME",
		"RESOURCEKIT_MEMORY_SAMPLE_INTERVAL": "250ms",
		"RESOURCEKIT_STORAGE_DRIVER":         "postgres",
		"RESOURCEKIT_STORAGE_DSN":            "postgres://localhost/usage",
		"RESOURCEKIT_EVENTS_NATS_URL":        "nats://localhost:4222",
	}).Load()

	require.NoError(t, err)
	assert.Equal(t, 8, cfg.Background.Workers)
	assert.Equal(t, SourceRuntime, cfg.Memory.Source)
	assert.Equal(t, 250*time.Millisecond, cfg.Memory.SampleInterval)
	assert.Equal(t, DriverPostgres, cfg.Storage.Driver)
	assert.Equal(t, "nats://localhost:4222", cfg.Events.NATSURL)
}

func TestLoader_BadEnvValue(t *testing.T) {
	_, err := newTestLoader(map[string]string{"RESOURCEKIT_METRICS_PORT": "ninety"}).Load()

	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
}

func TestLoader_BadDuration(t *testing.T) {
	path := writeFile(t, "bad.json", `{"memory": {"sample_interval": "soon"}}`)

	_, err := newTestLoader(nil).LoadFile(path)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "sample_interval")
}

func TestLoader_ValidationCanBeDisabled(t *testing.T) {
	path := writeFile(t, "zero.json", `{"cache": {"object_count_limit": 0}}`)

	l := newTestLoader(nil)
	_, err := l.LoadFile(path)
	require.Error(t, err)

	l.EnableValidation(false)
	cfg, err := l.LoadFile(path)
	require.NoError(t, err)
	assert.Zero(t, cfg.Cache.ObjectCountLimit)
}

func TestLoader_RejectsUnsupportedFiles(t *testing.T) {
	path := writeFile(t, "config.toml", `cache = 1`)

	_, err := newTestLoader(nil).LoadFile(path)
	assert.Error(t, err)

	_, err = newTestLoader(nil).LoadFile(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}

func TestLoader_RejectsDeepJSON(t *testing.T) {
	deep := ""
	for i := 0; i <= maxJSONDepth; i++ {
		deep += `{"a":`
	}
	deep += "1"
	for i := 0; i <= maxJSONDepth; i++ {
		deep += "}"
	}
	path := writeFile(t, "deep.json", deep)

	_, err := newTestLoader(nil).LoadFile(path)
	assert.Error(t, err)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"object count", func(c *Config) { c.Cache.ObjectCountLimit = 0 }},
		{"budget divisor", func(c *Config) { c.Cache.BudgetDivisor = 0 }},
		{"response ttl", func(c *Config) { c.Cache.DefaultResponseTTL = 0 }},
		{"sample interval", func(c *Config) { c.Memory.SampleInterval = 0 }},
		{"thresholds inverted", func(c *Config) { c.Memory.WarningThreshold = 0.95 }},
		{"critical above one", func(c *Config) { c.Memory.CriticalThreshold = 1.5 }},
		{"unknown source", func(c *Config) { c.Memory.Source = "sysctl" }},
		{"workers", func(c *Config) { c.Background.Workers = 0 }},
		{"negative delay", func(c *Config) { c.Background.BatchDelay = -time.Millisecond }},
		{"retention", func(c *Config) { c.Background.UsageRetention = 0 }},
		{"window", func(c *Config) { c.Metrics.WindowSize = 0 }},
		{"port", func(c *Config) { c.Metrics.Port = 70000 }},
		{"unknown driver", func(c *Config) { c.Storage.Driver = "mysql" }},
		{"driver without dsn", func(c *Config) { c.Storage.Driver = DriverSQLite }},
		{"usage without driver", func(c *Config) { c.Storage.RecordUsage = true }},
		{"bad subject", func(c *Config) {
			c.Events.NATSURL = "nats://localhost:4222"
			c.Events.SubjectPrefix = "events.*"
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)

			err := cfg.Validate()
			require.Error(t, err)
			assert.True(t, errors.IsInvalid(err))
			assert.ErrorIs(t, err, errors.ErrInvalidConfig)
		})
	}
}

func TestSafeConfig(t *testing.T) {
	sc := NewSafeConfig(nil)
	assert.Equal(t, *Default(), sc.Get())

	bad := sc.Get()
	bad.Metrics.WindowSize = 0
	assert.Error(t, sc.Update(bad))
	assert.Equal(t, 100, sc.Get().Metrics.WindowSize)

	good := sc.Get()
	good.Metrics.WindowSize = 25
	require.NoError(t, sc.Update(good))
	assert.Equal(t, 25, sc.Get().Metrics.WindowSize)
}

func TestCheckConfigPath(t *testing.T) {
	tests := []struct {
		path  string
		valid bool
	}{
		{"config.yaml", true},
		{"configs/prod.yml", true},
		{"/etc/resourced/config.json", true},
		{"", false},
		{"config.toml", false},
		{"../config.yaml", false},
		{"configs/../../config.yaml", false},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			err := checkConfigPath(tt.path)
			if tt.valid {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestValidateEnvVar(t *testing.T) {
	assert.NoError(t, validateEnvVar("RESOURCEKIT_STORAGE_DSN", "file:usage.db"))
	assert.Error(t, validateEnvVar("RESOURCEKIT_STORAGE_DSN", "a\x00b"))
	assert.Error(t, validateEnvVar("RESOURCEKIT_STORAGE_DSN", string(make([]byte, maxEnvVarLen+1))))
}
