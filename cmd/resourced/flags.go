package main

import (
	"flag"
	"fmt"
	"os"
	"slices"
	"strconv"
	"time"
)

// CLIConfig holds command-line configuration
type CLIConfig struct {
	ConfigPath      string
	LogLevel        string
	LogFormat       string
	LogFile         string
	Debug           bool
	ShutdownTimeout time.Duration
	ShowVersion     bool
	ShowHelp        bool
	Validate        bool
}

func parseFlags() *CLIConfig {
	return parseFlagSet(flag.CommandLine, os.Args[1:])
}

func parseFlagSet(fs *flag.FlagSet, args []string) *CLIConfig {
	cfg := &CLIConfig{}

	fs.StringVar(&cfg.ConfigPath, "config",
		getEnv("RESOURCEKIT_CONFIG", ""),
		"Path to a JSON or YAML configuration file; defaults apply when empty (env: RESOURCEKIT_CONFIG)")

	fs.StringVar(&cfg.ConfigPath, "c",
		getEnv("RESOURCEKIT_CONFIG", ""),
		"Path to a JSON or YAML configuration file (env: RESOURCEKIT_CONFIG)")

	fs.StringVar(&cfg.LogLevel, "log-level",
		getEnv("RESOURCEKIT_LOG_LEVEL", "info"),
		"Log level: debug, info, warn, error (env: RESOURCEKIT_LOG_LEVEL)")

	fs.StringVar(&cfg.LogFormat, "log-format",
		getEnv("RESOURCEKIT_LOG_FORMAT", "json"),
		"Log format: json, text (env: RESOURCEKIT_LOG_FORMAT)")

	fs.StringVar(&cfg.LogFile, "log-file",
		getEnv("RESOURCEKIT_LOG_FILE", ""),
		"Also write logs to this rotated file (env: RESOURCEKIT_LOG_FILE)")

	fs.BoolVar(&cfg.Debug, "debug",
		getEnvBool("RESOURCEKIT_DEBUG", false),
		"Enable debug mode (env: RESOURCEKIT_DEBUG)")

	fs.DurationVar(&cfg.ShutdownTimeout, "shutdown-timeout",
		getEnvDuration("RESOURCEKIT_SHUTDOWN_TIMEOUT", 30*time.Second),
		"Graceful shutdown timeout (env: RESOURCEKIT_SHUTDOWN_TIMEOUT)")

	fs.BoolVar(&cfg.ShowVersion, "version", false, "Show version information")
	fs.BoolVar(&cfg.ShowVersion, "v", false, "Show version information")
	fs.BoolVar(&cfg.ShowHelp, "help", false, "Show help information")
	fs.BoolVar(&cfg.ShowHelp, "h", false, "Show help information")
	fs.BoolVar(&cfg.Validate, "validate", false, "Validate configuration and exit")

	fs.Usage = printDetailedHelp

	// ExitOnError flag sets never return here on failure
	_ = fs.Parse(args)

	if cfg.Debug {
		cfg.LogLevel = "debug"
	}

	return cfg
}

func validateFlags(cfg *CLIConfig) error {
	if cfg.ShowVersion || cfg.ShowHelp {
		return nil
	}

	if cfg.ConfigPath != "" {
		if _, err := os.Stat(cfg.ConfigPath); err != nil {
			return fmt.Errorf("config file not found: %s", cfg.ConfigPath)
		}
	}

	if !slices.Contains([]string{"debug", "info", "warn", "error"}, cfg.LogLevel) {
		return fmt.Errorf("invalid log level: %s", cfg.LogLevel)
	}

	if !slices.Contains([]string{"json", "text"}, cfg.LogFormat) {
		return fmt.Errorf("invalid log format: %s", cfg.LogFormat)
	}

	if cfg.ShutdownTimeout <= 0 {
		return fmt.Errorf("invalid shutdown timeout: %s", cfg.ShutdownTimeout)
	}

	return nil
}

func printDetailedHelp() {
	_, _ = fmt.Fprintf(os.Stderr, `%s - adaptive resource manager

Usage: %s [options]

Options:
`, appName, os.Args[0])
	flag.PrintDefaults()
	_, _ = fmt.Fprintf(os.Stderr, `
Signals:
  SIGUSR1  memory warning (clear high priority caches)
  SIGUSR2  entered background (run storage maintenance)

Examples:
  # Run with a config file and text logs
  %s --config=/etc/resourced/config.yaml --log-format=text

  # Override individual settings from the environment
  export RESOURCEKIT_STORAGE_DRIVER=sqlite
  export RESOURCEKIT_STORAGE_DSN=/var/lib/resourced/usage.db
  %s

  # Validate configuration only
  %s --config=config.yaml --validate

Version: %s
Build: %s
`, os.Args[0], os.Args[0], os.Args[0], Version, BuildTime)
}

// Environment variable helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
