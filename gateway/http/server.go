// Package http serves reading history, service health and the real-time
// WebSocket stream.
package http

import (
	"context"
	"crypto/tls"
	stderrors "errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/note-9/health-monitor/config"
	"github.com/note-9/health-monitor/errors"
	"github.com/note-9/health-monitor/fanout"
	"github.com/note-9/health-monitor/health"
	"github.com/note-9/health-monitor/history"
	"github.com/note-9/health-monitor/metric"
	"github.com/note-9/health-monitor/pkg/tlsutil"
)

// HealthComponent is the name the server reports under in the health monitor
const HealthComponent = "http"

// DefaultHistoryLimit is used when a history query has no n parameter
const DefaultHistoryLimit = 100

// Dependencies holds the shared services the server reads from
type Dependencies struct {
	Store           *history.Store
	Subscribers     *fanout.Registry
	Health          *health.Monitor
	MetricsRegistry *metric.MetricsRegistry
	Logger          *slog.Logger
}

// Server is the HTTP query surface and WebSocket subscription endpoint
type Server struct {
	cfg      config.HTTPConfig
	store    *history.Store
	subs     *fanout.Registry
	health   *health.Monitor
	registry *metric.MetricsRegistry
	logger   *slog.Logger
	metrics  *serverMetrics

	upgrader websocket.Upgrader
	handler  http.Handler
	closing  atomic.Bool
}

type serverMetrics struct {
	requests      *prometheus.CounterVec
	wsConnections prometheus.Counter
	wsActive      prometheus.Gauge
	wsEchoes      prometheus.Counter
}

func newServerMetrics(registry *metric.MetricsRegistry) (*serverMetrics, error) {
	if registry == nil {
		return nil, nil
	}
	m := &serverMetrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by route and status code",
		}, []string{"route", "code"}),
		wsConnections: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "ws",
			Name:      "connections_total",
			Help:      "WebSocket connections accepted",
		}),
		wsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metric.Namespace,
			Subsystem: "ws",
			Name:      "connections_active",
			Help:      "WebSocket connections currently open",
		}),
		wsEchoes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "ws",
			Name:      "echoes_total",
			Help:      "Client text frames echoed back",
		}),
	}
	if err := registry.RegisterCounterVec("http", "requests_total", m.requests); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounter("ws", "connections_total", m.wsConnections); err != nil {
		return nil, err
	}
	if err := registry.RegisterGauge("ws", "connections_active", m.wsActive); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounter("ws", "echoes_total", m.wsEchoes); err != nil {
		return nil, err
	}
	return m, nil
}

// NewServer creates a server over deps. Store and Subscribers are required.
func NewServer(cfg config.HTTPConfig, deps Dependencies) (*Server, error) {
	if deps.Store == nil || deps.Subscribers == nil {
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: store and subscriber registry are required", errors.ErrMissingConfig),
			"Server", "NewServer", "check dependencies")
	}
	if deps.Health == nil {
		deps.Health = health.NewMonitor()
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	metrics, err := newServerMetrics(deps.MetricsRegistry)
	if err != nil {
		return nil, errors.Wrap(err, "Server", "NewServer", "register metrics")
	}

	s := &Server{
		cfg:      withDefaults(cfg),
		store:    deps.Store,
		subs:     deps.Subscribers,
		health:   deps.Health,
		registry: deps.MetricsRegistry,
		logger:   deps.Logger.With("component", "http"),
		metrics:  metrics,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(_ *http.Request) bool {
				return true
			},
		},
	}
	s.handler = s.routes()
	return s, nil
}

// withDefaults fills zero-valued settings from config.Default
func withDefaults(cfg config.HTTPConfig) config.HTTPConfig {
	def := config.Default().HTTP
	if cfg.Addr == "" {
		cfg.Addr = def.Addr
	}
	if cfg.CORSOrigins == nil {
		cfg.CORSOrigins = def.CORSOrigins
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = def.PingInterval
	}
	if cfg.PongWait <= 0 {
		cfg.PongWait = def.PongWait
	}
	if cfg.ReadLimit <= 0 {
		cfg.ReadLimit = def.ReadLimit
	}
	if cfg.EchoRate <= 0 {
		cfg.EchoRate = def.EchoRate
	}
	if cfg.EchoBurst <= 0 {
		cfg.EchoBurst = def.EchoBurst
	}
	return cfg
}

// Handler returns the root handler with middleware applied
func (s *Server) Handler() http.Handler { return s.handler }

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("GET /{$}", s.instrument("root", http.HandlerFunc(s.handleRoot)))
	mux.Handle("GET /history/{device_id}", s.instrument("history", http.HandlerFunc(s.handleHistory)))
	mux.Handle("GET /devices", s.instrument("devices", http.HandlerFunc(s.handleDevices)))
	mux.Handle("GET /healthz", s.instrument("healthz", http.HandlerFunc(s.handleHealth)))
	mux.Handle("GET /metrics", s.instrument("metrics", metric.Handler(s.registry)))
	mux.Handle("GET /ws", s.instrument("ws", http.HandlerFunc(s.handleWebSocket)))

	return s.withRequestID(s.withCORS(mux))
}

// Run listens on the configured address and serves until ctx is cancelled
func (s *Server) Run(ctx context.Context, shutdownTimeout time.Duration) error {
	ln, err := s.Listen()
	if err != nil {
		s.health.Update(HealthComponent, health.FromError(HealthComponent, err))
		return err
	}
	return s.Serve(ctx, ln, shutdownTimeout)
}

// Listen opens the configured address, wrapped in TLS when a certificate is set
func (s *Server) Listen() (net.Listener, error) {
	tlsConfig, err := tlsutil.LoadServerTLSConfig(tlsutil.ServerConfig{
		CertFile:          s.cfg.TLS.CertFile,
		KeyFile:           s.cfg.TLS.KeyFile,
		MinVersion:        s.cfg.TLS.MinVersion,
		ClientCAFile:      s.cfg.TLS.ClientCAFile,
		RequireClientCert: s.cfg.TLS.RequireClientCert,
	})
	if err != nil {
		return nil, err
	}

	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return nil, errors.WrapFatal(err, "Server", "Listen", "listen on "+s.cfg.Addr)
	}
	if tlsConfig != nil {
		ln = tls.NewListener(ln, tlsConfig)
	}
	return ln, nil
}

// Serve serves on ln until ctx is cancelled, then shuts down gracefully and
// closes every live subscriber with a going-away frame
func (s *Server) Serve(ctx context.Context, ln net.Listener, shutdownTimeout time.Duration) error {
	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	s.logger.Info("http server listening", "addr", ln.Addr().String(), "tls", s.cfg.TLS.Enabled())
	s.health.UpdateHealthy(HealthComponent, "listening")

	var serveErr error
	select {
	case err := <-errCh:
		if !stderrors.Is(err, http.ErrServerClosed) {
			serveErr = errors.WrapFatal(err, "Server", "Serve", "serve http")
		}
	case <-ctx.Done():
	}

	s.closing.Store(true)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil && serveErr == nil {
		serveErr = errors.WrapTransient(err, "Server", "Serve", "graceful shutdown")
	}
	s.subs.CloseAll()

	if serveErr != nil {
		s.health.Update(HealthComponent, health.FromError(HealthComponent, serveErr))
	} else {
		s.health.UpdateUnhealthy(HealthComponent, "stopped")
	}
	s.logger.Info("http server stopped")
	return serveErr
}
