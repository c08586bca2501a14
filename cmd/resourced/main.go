// Package main implements resourced, a standalone host for the resourcekit
// coordinator. It samples process memory, sizes the caches, reacts to resource
// events from signals, cgroup v2 and NATS, and serves metrics, health and
// report endpoints.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/c360/resourcekit/background"
	"github.com/c360/resourcekit/cachemanager"
	"github.com/c360/resourcekit/config"
	"github.com/c360/resourcekit/coordinator"
	"github.com/c360/resourcekit/memmonitor"
	"github.com/c360/resourcekit/metric"
	"github.com/c360/resourcekit/platform/events"
	"github.com/c360/resourcekit/platform/sysmem"
	"github.com/c360/resourcekit/storage/usagestore"
)

// Build information constants
const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "resourced"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := run(); err != nil {
		slog.Error("Application failed", "error", err, "exit_code", 1)
		os.Exit(1)
	}
}

func run() error {
	cliCfg, logger, closeLog, shouldExit, err := initializeCLI()
	if shouldExit || err != nil {
		return err
	}
	defer closeLog()

	cfg, err := loadConfig(cliCfg.ConfigPath)
	if err != nil {
		return err
	}

	if cliCfg.Validate {
		slog.Info("Configuration is valid")
		return nil
	}

	ctx := context.Background()
	signalCtx, signalCancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer signalCancel()

	registry := metric.NewMetricsRegistry()

	reader, err := sysmem.Detect(cfg.Memory.Source)
	if err != nil {
		return fmt.Errorf("detect memory source: %w", err)
	}

	store, err := openStore(signalCtx, cfg.Storage, logger, registry)
	if err != nil {
		return err
	}
	if store != nil {
		defer func() {
			if err := store.Close(); err != nil {
				slog.Warn("Failed to close usage store", "error", err)
			}
		}()
	}

	coord, err := newCoordinator(cfg, reader, store, logger, registry)
	if err != nil {
		return fmt.Errorf("create coordinator: %w", err)
	}
	if err := coord.Configure(signalCtx); err != nil {
		return fmt.Errorf("configure coordinator: %w", err)
	}

	server := startMetricsServer(cfg.Metrics, registry, coord)
	if server != nil {
		defer func() {
			if err := server.Stop(); err != nil {
				slog.Warn("Failed to stop metrics server", "error", err)
			}
		}()
	}

	sources, closeSources, err := buildEventSources(cfg.Events, logger)
	if err != nil {
		return err
	}
	defer closeSources()

	go func() {
		if err := events.RunAll(signalCtx, coord, sources...); err != nil {
			slog.Warn("Resource event sources stopped", "error", err)
		}
	}()

	slog.Info("resourced started", "event_sources", len(sources))

	<-signalCtx.Done()
	slog.Info("Received shutdown signal")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cliCfg.ShutdownTimeout)
	defer shutdownCancel()

	if err := coord.Close(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}

	slog.Info("resourced shutdown complete")
	return nil
}

// initializeCLI parses flags and sets up logging
func initializeCLI() (*CLIConfig, *slog.Logger, func(), bool, error) {
	cliCfg := parseFlags()
	if err := validateFlags(cliCfg); err != nil {
		return nil, nil, nil, false, fmt.Errorf("invalid flags: %w", err)
	}

	if cliCfg.ShowVersion {
		fmt.Printf("%s version %s\n", appName, Version)
		return nil, nil, nil, true, nil
	}

	if cliCfg.ShowHelp {
		printDetailedHelp()
		return nil, nil, nil, true, nil
	}

	logger, closeLog := setupLogger(cliCfg.LogLevel, cliCfg.LogFormat, cliCfg.LogFile)
	slog.SetDefault(logger)

	slog.Info("Starting resourced",
		"version", Version,
		"build_time", BuildTime,
		"config_path", cliCfg.ConfigPath)

	return cliCfg, logger, closeLog, false, nil
}

// loadConfig loads defaults, the optional file and environment overrides
func loadConfig(path string) (*config.Config, error) {
	loader := config.NewLoader()
	if path != "" {
		loader.AddLayer(path)
	}
	cfg, err := loader.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

// openStore opens the usage store, or returns nil when no driver is configured
func openStore(
	ctx context.Context,
	cfg config.StorageConfig,
	logger *slog.Logger,
	registry *metric.MetricsRegistry,
) (*usagestore.Store, error) {
	if cfg.Driver == "" {
		slog.Info("Usage store disabled")
		return nil, nil
	}

	store, err := usagestore.Open(ctx,
		usagestore.Config{Driver: cfg.Driver, DSN: cfg.DSN},
		usagestore.WithLogger(logger),
		usagestore.WithMetrics(registry.CoreMetrics()))
	if err != nil {
		return nil, fmt.Errorf("open usage store: %w", err)
	}
	return store, nil
}

func newCoordinator(
	cfg *config.Config,
	reader sysmem.Reader,
	store *usagestore.Store,
	logger *slog.Logger,
	registry *metric.MetricsRegistry,
) (*coordinator.Coordinator, error) {
	opts := []coordinator.Option{
		coordinator.WithConfig(coordinatorConfig(cfg)),
		coordinator.WithLogger(logger),
		coordinator.WithMetrics(registry),
	}

	// A nil *usagestore.Store must not become a non-nil interface.
	var maintainer background.StorageMaintainer
	if store != nil {
		maintainer = store
		if cfg.Storage.RecordUsage {
			opts = append(opts, coordinator.WithUsageRecorder(store))
		}
	}

	return coordinator.New(reader, maintainer, opts...)
}

// coordinatorConfig maps file configuration onto component tunables
func coordinatorConfig(cfg *config.Config) coordinator.Config {
	return coordinator.Config{
		Cache: cachemanager.Config{
			ObjectCountLimit:   cfg.Cache.ObjectCountLimit,
			DataCountLimit:     cfg.Cache.DataCountLimit,
			BudgetDivisor:      cfg.Cache.BudgetDivisor,
			BudgetCap:          cfg.Cache.BudgetCap,
			DefaultResponseTTL: cfg.Cache.DefaultResponseTTL,
		},
		ResponseSweepInterval: cfg.Cache.ResponseSweepInterval,
		SampleInterval:        cfg.Memory.SampleInterval,
		HistorySize:           cfg.Memory.HistorySize,
		Thresholds: memmonitor.Thresholds{
			Warning:  cfg.Memory.WarningThreshold,
			Critical: cfg.Memory.CriticalThreshold,
		},
		Workers:             cfg.Background.Workers,
		QueueSize:           cfg.Background.QueueSize,
		BatchDelay:          cfg.Background.BatchDelay,
		MaintenanceAge:      cfg.Background.MaintenanceAge,
		UsageRetention:      cfg.Background.UsageRetention,
		MinOptimizeInterval: cfg.Background.MinOptimizeInterval,
		MetricsWindow:       cfg.Metrics.WindowSize,
	}
}

// startMetricsServer serves /metrics, /health and /report when enabled
func startMetricsServer(
	cfg config.MetricsConfig,
	registry *metric.MetricsRegistry,
	coord *coordinator.Coordinator,
) *metric.Server {
	if !cfg.Enabled {
		return nil
	}

	server := metric.NewServer(cfg.Port, cfg.Path, registry)
	registerRoutes(server, coord)

	go func() {
		if err := server.Start(); err != nil {
			slog.Error("Metrics server failed", "error", err)
		}
	}()

	slog.Info("Metrics server starting", "address", server.Address())
	return server
}

func registerRoutes(server *metric.Server, coord *coordinator.Coordinator) {
	server.Handle("/health", http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		status := coord.Health()
		code := http.StatusOK
		if status.IsUnhealthy() {
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, status)
	}))
	server.Handle("/report", http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, coord.Report())
	}))
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("Failed to encode response", "error", err)
	}
}

// buildEventSources creates the configured resource event sources. The
// returned cleanup closes any NATS connection.
func buildEventSources(cfg config.EventsConfig, logger *slog.Logger) ([]events.Source, func(), error) {
	sources := signalSources(cfg, logger)
	cleanup := func() {}

	if cfg.CgroupPath != "" {
		sources = append(sources, events.NewCgroupWatcher(cfg.CgroupPath, events.WithLogger(logger)))
	}

	if cfg.NATSURL != "" {
		conn, err := events.ConnectNATS(cfg.NATSURL, appName, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("connect to NATS: %w", err)
		}
		src, err := events.NewNATSSource(events.NewConnSubscriber(conn), cfg.SubjectPrefix, events.WithLogger(logger))
		if err != nil {
			conn.Close()
			return nil, nil, fmt.Errorf("create NATS source: %w", err)
		}
		sources = append(sources, src)
		cleanup = conn.Close
	}

	return sources, cleanup, nil
}
