// Package main runs the health-monitor service: it subscribes to device
// readings on NATS, keeps a bounded history per device and streams every
// reading to WebSocket clients.
package main

import (
	"context"
	stderrors "errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/note-9/health-monitor/config"
	"github.com/note-9/health-monitor/errors"
	"github.com/note-9/health-monitor/fanout"
	gatewayhttp "github.com/note-9/health-monitor/gateway/http"
	"github.com/note-9/health-monitor/health"
	"github.com/note-9/health-monitor/history"
	"github.com/note-9/health-monitor/ingest"
	"github.com/note-9/health-monitor/metric"
	"github.com/note-9/health-monitor/natsclient"
	"github.com/note-9/health-monitor/pkg/retry"
)

// Build information constants
const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "health-monitor"
)

const (
	natsComponent   = "nats"
	ingestComponent = "ingest"
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

	if err := run(os.Args[1:]); err != nil {
		slog.Error("Application failed", "error", err, "exit_code", 1)
		os.Exit(1)
	}
}

func run(args []string) error {
	cliCfg, err := parseFlags(flag.NewFlagSet(appName, flag.ContinueOnError), args)
	if err != nil {
		if stderrors.Is(err, flag.ErrHelp) {
			return nil
		}
		return fmt.Errorf("parse flags: %w", err)
	}
	if err := validateFlags(cliCfg); err != nil {
		return fmt.Errorf("invalid flags: %w", err)
	}

	if cliCfg.ShowVersion {
		fmt.Printf("%s version %s\n", appName, Version)
		return nil
	}

	cfg, err := loadConfig(cliCfg)
	if err != nil {
		return err
	}

	logger, logCloser := setupLogger(cfg.Log, os.Stdout)
	defer logCloser.Close()
	slog.SetDefault(logger)

	if cliCfg.Validate {
		logger.Info("Configuration is valid", "config", cfg.Redacted())
		return nil
	}

	logger.Info("Starting health-monitor",
		"version", Version,
		"build_time", BuildTime,
		"config_path", cliCfg.ConfigPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return runService(ctx, cfg, cliCfg.ShutdownTimeout, logger)
}

// loadConfig layers defaults, the config file and environment, then applies
// CLI log overrides
func loadConfig(cliCfg *CLIConfig) (*config.Config, error) {
	cfg, err := config.NewLoader().WithFile(cliCfg.ConfigPath).EnableValidation(false).Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	if cliCfg.LogLevel != "" {
		cfg.Log.Level = cliCfg.LogLevel
	}
	if cliCfg.LogFormat != "" {
		cfg.Log.Format = cliCfg.LogFormat
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// runService wires the pipeline and blocks until ctx is cancelled or a
// component fails
func runService(ctx context.Context, cfg *config.Config, shutdownTimeout time.Duration, logger *slog.Logger) error {
	metricsRegistry := metric.NewMetricsRegistry()
	coreMetrics := metricsRegistry.CoreMetrics()

	monitor := health.NewMonitor(health.WithOnChange(func(s health.Status) {
		coreMetrics.RecordHealthStatus(s.Component, !s.IsUnhealthy())
		if s.IsUnhealthy() {
			logger.Warn("component unhealthy", "component", s.Component, "message", s.Message)
		}
	}))

	store, err := history.NewStore(
		history.WithCapacity(cfg.Ingest.HistoryCapacity),
		history.WithLogger(logger),
		history.WithMetricsRegistry(metricsRegistry),
	)
	if err != nil {
		return fmt.Errorf("create history store: %w", err)
	}

	subscribers := fanout.NewRegistry()
	dispatcher, err := fanout.NewDispatcher(subscribers,
		fanout.WithSendTimeout(cfg.Ingest.SendTimeout.Std()),
		fanout.WithLogger(logger),
		fanout.WithMetricsRegistry(metricsRegistry),
	)
	if err != nil {
		return fmt.Errorf("create dispatcher: %w", err)
	}

	natsClient, err := newNATSClient(cfg.NATS, logger, coreMetrics, monitor)
	if err != nil {
		return fmt.Errorf("create NATS client: %w", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := natsClient.Close(closeCtx); err != nil {
			logger.Warn("NATS close failed", "error", err)
		}
	}()

	bridge, err := ingest.NewBridge(natsClient, store, dispatcher,
		ingest.Config{
			Subject:   cfg.NATS.Subject,
			QueueSize: cfg.Ingest.QueueSize,
		},
		ingest.WithLogger(logger),
		ingest.WithMetricsRegistry(metricsRegistry),
	)
	if err != nil {
		return fmt.Errorf("create ingest bridge: %w", err)
	}

	server, err := gatewayhttp.NewServer(cfg.HTTP, gatewayhttp.Dependencies{
		Store:           store,
		Subscribers:     subscribers,
		Health:          monitor,
		MetricsRegistry: metricsRegistry,
		Logger:          logger,
	})
	if err != nil {
		return fmt.Errorf("create http server: %w", err)
	}

	monitor.UpdateUnhealthy(natsComponent, "connecting")
	monitor.UpdateUnhealthy(ingestComponent, "waiting for NATS")

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return server.Run(gctx, shutdownTimeout)
	})

	g.Go(func() error {
		return runIngest(gctx, natsClient, bridge, monitor, shutdownTimeout, logger)
	})

	logger.Info("health-monitor started",
		"http_addr", cfg.HTTP.Addr,
		"subject", cfg.NATS.Subject,
		"history_capacity", store.Capacity())

	if err := g.Wait(); err != nil {
		metricsRegistry.CoreMetrics().RecordError("health-monitor", errors.Classify(err).String())
		return err
	}

	logger.Info("health-monitor shutdown complete")
	return nil
}

// runIngest connects to NATS and runs the bridge until ctx is done. It keeps
// retrying while the bus is unreachable so the HTTP surface stays up and
// reports the outage through /healthz.
func runIngest(
	ctx context.Context,
	client *natsclient.Client,
	bridge *ingest.Bridge,
	monitor *health.Monitor,
	shutdownTimeout time.Duration,
	logger *slog.Logger,
) error {
	for {
		err := connectToNATS(ctx, client, logger)
		if err == nil {
			break
		}
		if ctx.Err() != nil {
			logger.Info("Shutdown requested before NATS connected")
			return nil
		}
		if stderrors.Is(err, natsclient.ErrClosed) {
			return err
		}
		monitor.Update(natsComponent, health.FromError(natsComponent, err))
		logger.Error("NATS unreachable, serving stored history only", "error", err)
	}
	monitor.UpdateHealthy(natsComponent, "connected")

	if err := bridge.Start(ctx); err != nil {
		monitor.Update(ingestComponent, health.FromError(ingestComponent, err))
		return err
	}
	monitor.UpdateHealthy(ingestComponent, "subscribed to "+bridge.Subject())

	<-ctx.Done()

	err := bridge.Stop(shutdownTimeout)
	monitor.UpdateUnhealthy(ingestComponent, "stopped")
	return err
}

func newNATSClient(
	cfg config.NATSConfig,
	logger *slog.Logger,
	recorder natsclient.Recorder,
	monitor *health.Monitor,
) (*natsclient.Client, error) {
	opts := []natsclient.ClientOption{
		natsclient.WithName(cfg.Name),
		natsclient.WithMaxReconnects(cfg.MaxReconnects),
		natsclient.WithSlog(logger.With("component", "natsclient")),
		natsclient.WithMetrics(recorder),
		natsclient.WithHealthChangeCallback(func(healthy bool) {
			if healthy {
				monitor.UpdateHealthy(natsComponent, "connected")
				return
			}
			monitor.UpdateUnhealthy(natsComponent, "disconnected")
		}),
		natsclient.WithDisconnectCallback(func(err error) {
			logger.Warn("NATS disconnected, readings paused until reconnect", "error", err)
		}),
		natsclient.WithReconnectCallback(func() {
			logger.Info("NATS reconnected")
		}),
	}
	if cfg.ReconnectWait > 0 {
		opts = append(opts, natsclient.WithReconnectWait(cfg.ReconnectWait.Std()))
	}
	if cfg.Username != "" {
		opts = append(opts, natsclient.WithCredentials(cfg.Username, cfg.Password))
	}
	if cfg.Token != "" {
		opts = append(opts, natsclient.WithToken(cfg.Token))
	}
	if cfg.TLS.CertFile != "" || cfg.TLS.CAFile != "" {
		opts = append(opts, natsclient.WithTLS(cfg.TLS.CertFile, cfg.TLS.KeyFile, cfg.TLS.CAFile))
	}

	return natsclient.NewClient(strings.Join(cfg.URLs, ","), opts...)
}

// connectToNATS retries the initial connection with a persistent backoff and
// waits for it to be ready
func connectToNATS(ctx context.Context, client *natsclient.Client, logger *slog.Logger) error {
	logger.Info("Connecting to NATS", "url", client.URL())

	retryCfg := retry.Persistent()
	retryCfg.OnRetry = func(attempt int, err error, delay time.Duration) {
		logger.Warn("NATS connect failed, retrying",
			"attempt", attempt, "delay", delay, "error", err)
	}

	err := retry.Do(ctx, retryCfg, func() error {
		err := client.Connect(ctx)
		if stderrors.Is(err, natsclient.ErrClosed) {
			return retry.NonRetryable(err)
		}
		return err
	})
	if err != nil {
		return fmt.Errorf("connect to NATS: %w", err)
	}

	connCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := client.WaitForConnection(connCtx); err != nil {
		return fmt.Errorf("NATS connection timeout: %w", err)
	}
	return nil
}
