package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"
)

// CLIConfig holds command-line configuration
type CLIConfig struct {
	ConfigPath      string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration
	ShowVersion     bool
	Validate        bool
}

func parseFlags(fs *flag.FlagSet, args []string) (*CLIConfig, error) {
	cfg := &CLIConfig{}

	fs.StringVar(&cfg.ConfigPath, "config",
		getEnv("HEALTH_MONITOR_CONFIG", ""),
		"Path to a JSON or YAML configuration file (env: HEALTH_MONITOR_CONFIG)")
	fs.StringVar(&cfg.ConfigPath, "c",
		getEnv("HEALTH_MONITOR_CONFIG", ""),
		"Path to a JSON or YAML configuration file (env: HEALTH_MONITOR_CONFIG)")

	fs.StringVar(&cfg.LogLevel, "log-level", "",
		"Log level: debug, info, warn, error. Overrides the config file")
	fs.StringVar(&cfg.LogFormat, "log-format", "",
		"Log format: json, text. Overrides the config file")

	fs.DurationVar(&cfg.ShutdownTimeout, "shutdown-timeout",
		getEnvDuration("HEALTH_MONITOR_SHUTDOWN_TIMEOUT", 15*time.Second),
		"Graceful shutdown timeout (env: HEALTH_MONITOR_SHUTDOWN_TIMEOUT)")

	fs.BoolVar(&cfg.ShowVersion, "version", false, "Show version information")
	fs.BoolVar(&cfg.ShowVersion, "v", false, "Show version information")
	fs.BoolVar(&cfg.Validate, "validate", getEnvBool("HEALTH_MONITOR_VALIDATE", false),
		"Validate configuration and exit")

	fs.Usage = func() { printDetailedHelp(fs.Output(), fs) }

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	return cfg, nil
}

func validateFlags(cfg *CLIConfig) error {
	if cfg.ShowVersion {
		return nil
	}

	if cfg.LogLevel != "" && !contains([]string{"debug", "info", "warn", "error"}, cfg.LogLevel) {
		return fmt.Errorf("invalid log level: %s", cfg.LogLevel)
	}
	if cfg.LogFormat != "" && !contains([]string{"json", "text"}, cfg.LogFormat) {
		return fmt.Errorf("invalid log format: %s", cfg.LogFormat)
	}
	if cfg.ShutdownTimeout <= 0 {
		return fmt.Errorf("shutdown timeout must be positive: %s", cfg.ShutdownTimeout)
	}
	return nil
}

func printDetailedHelp(w io.Writer, fs *flag.FlagSet) {
	_, _ = fmt.Fprintf(w, `%s - device telemetry history and real-time stream

Usage: %s [options]

Options:
`, appName, os.Args[0])
	fs.PrintDefaults()
	_, _ = fmt.Fprintf(w, `
Environment overrides (applied over the config file):
  HEALTH_MONITOR_NATS_URLS, HEALTH_MONITOR_NATS_SUBJECT, HEALTH_MONITOR_NATS_USER,
  HEALTH_MONITOR_NATS_PASS, HEALTH_MONITOR_NATS_TOKEN, HEALTH_MONITOR_HTTP_ADDR,
  HEALTH_MONITOR_CORS_ORIGINS, HEALTH_MONITOR_INGEST_QUEUE_SIZE,
  HEALTH_MONITOR_LOG_LEVEL, HEALTH_MONITOR_LOG_FORMAT, HEALTH_MONITOR_LOG_FILE

Examples:
  # Run against a local NATS server with defaults
  %s

  # Run with a config file and debug logging
  %s --config=configs/health-monitor.yaml --log-level=debug --log-format=text

  # Validate configuration only
  %s --config=configs/health-monitor.yaml --validate

Version: %s
Build: %s
`, os.Args[0], os.Args[0], os.Args[0], Version, BuildTime)
}

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

func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}
