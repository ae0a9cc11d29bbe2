// Package main publishes simulated heart-rate readings to NATS for local
// runs of health-monitor.
package main

import (
	"context"
	stderrors "errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/note-9/health-monitor/natsclient"
	"github.com/note-9/health-monitor/pkg/retry"
)

const (
	appName              = "device-simulator"
	defaultSubjectFormat = "hr.device.%s.reading"
)

type cliConfig struct {
	NATSURL     string
	Devices     int
	Rate        float64
	Prefix      string
	Subject     string
	MaxReadings int64
	Duration    time.Duration
	LogLevel    string
}

func main() {
	if err := run(os.Args[1:]); err != nil {
		slog.Error("Simulator failed", "error", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	cfg, err := parseFlags(flag.NewFlagSet(appName, flag.ContinueOnError), args)
	if err != nil {
		if stderrors.Is(err, flag.ErrHelp) {
			return nil
		}
		return err
	}

	level := slog.LevelInfo
	if strings.EqualFold(cfg.LogLevel, "debug") {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level})).
		With("service", appName)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if cfg.Duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Duration)
		defer cancel()
	}

	client, err := natsclient.NewClient(cfg.NATSURL,
		natsclient.WithName(appName),
		natsclient.WithSlog(logger.With("component", "natsclient")),
	)
	if err != nil {
		return fmt.Errorf("create NATS client: %w", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = client.Close(closeCtx)
	}()

	retryCfg := retry.Persistent()
	retryCfg.OnRetry = func(attempt int, err error, delay time.Duration) {
		logger.Warn("NATS connect failed, retrying", "attempt", attempt, "delay", delay, "error", err)
	}
	if err := retry.Do(ctx, retryCfg, func() error { return client.Connect(ctx) }); err != nil {
		return fmt.Errorf("connect to NATS at %s: %w", cfg.NATSURL, err)
	}

	sim, err := NewSimulator(client, SimulatorConfig{
		Devices:       cfg.Devices,
		Prefix:        cfg.Prefix,
		SubjectFormat: cfg.Subject,
		Rate:          cfg.Rate,
		MaxReadings:   cfg.MaxReadings,
	}, logger)
	if err != nil {
		return err
	}

	logger.Info("Publishing readings",
		"url", cfg.NATSURL,
		"devices", sim.Devices(),
		"rate", cfg.Rate)

	started := time.Now()
	err = sim.Run(ctx)
	stats := sim.Stats()
	logger.Info("Simulator stopped",
		"published", stats.Published,
		"failed", stats.Failed,
		"elapsed", time.Since(started).Round(time.Millisecond))
	return err
}

func parseFlags(fs *flag.FlagSet, args []string) (*cliConfig, error) {
	cfg := &cliConfig{}

	fs.StringVar(&cfg.NATSURL, "nats-url", getEnv("DEVICE_SIM_NATS_URL", "nats://localhost:4222"),
		"NATS server URL (env: DEVICE_SIM_NATS_URL)")
	fs.IntVar(&cfg.Devices, "devices", getEnvInt("DEVICE_SIM_DEVICES", 3),
		"Number of simulated devices (env: DEVICE_SIM_DEVICES)")
	fs.Float64Var(&cfg.Rate, "rate", 5,
		"Readings per second across all devices")
	fs.StringVar(&cfg.Prefix, "prefix", "device",
		"Device ID prefix")
	fs.StringVar(&cfg.Subject, "subject", defaultSubjectFormat,
		"Subject format; %s is replaced by the device ID")
	fs.Int64Var(&cfg.MaxReadings, "count", 0,
		"Stop after this many readings (0 runs until interrupted)")
	fs.DurationVar(&cfg.Duration, "duration", 0,
		"Stop after this long (0 runs until interrupted)")
	fs.StringVar(&cfg.LogLevel, "log-level", "info", "Log level: debug, info")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if !strings.Contains(cfg.Subject, "%s") {
		return nil, fmt.Errorf("subject format %q must contain %%s", cfg.Subject)
	}
	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
