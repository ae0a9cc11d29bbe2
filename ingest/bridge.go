package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	"github.com/note-9/health-monitor/errors"
	"github.com/note-9/health-monitor/fanout"
	"github.com/note-9/health-monitor/history"
	"github.com/note-9/health-monitor/metric"
	"github.com/note-9/health-monitor/pkg/worker"
)

const (
	// DefaultSubject matches readings from every device.
	DefaultSubject = "hr.device.*.reading"

	// DefaultQueueSize bounds messages waiting between the bus and the ingest worker.
	DefaultQueueSize = 1024
)

// Bus is the subscribe side of the message bus.
type Bus interface {
	Subscribe(ctx context.Context, subject string, handler func(ctx context.Context, subject string, data []byte)) error
}

type inbound struct {
	subject    string
	data       []byte
	receivedAt time.Time
}

// Config tunes the bridge.
type Config struct {
	Subject   string
	QueueSize int
	// DecodeLogRate caps decode-error log lines per second. Errors are always counted.
	DecodeLogRate rate.Limit
}

// Bridge subscribes to device readings, stores them and broadcasts them.
// Bus callbacks only enqueue; a single worker decodes, appends and
// broadcasts in arrival order.
type Bridge struct {
	bus        Bus
	store      *history.Store
	dispatcher *fanout.Dispatcher
	cfg        Config
	logger     *slog.Logger
	logLimiter *rate.Limiter

	pool     *worker.Pool[inbound]
	metrics  *bridgeMetrics
	registry *metric.MetricsRegistry
	optErr   error

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
}

type bridgeMetrics struct {
	received     prometheus.Counter
	dropped      prometheus.Counter
	decodeErrors prometheus.Counter
}

// Option configures a Bridge.
type Option func(*Bridge)

// WithLogger sets the bridge's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Bridge) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// WithMetricsRegistry exports bridge and worker metrics through registry.
func WithMetricsRegistry(registry *metric.MetricsRegistry) Option {
	return func(b *Bridge) {
		if registry == nil {
			return
		}
		m, err := newBridgeMetrics(registry)
		if err != nil {
			b.optErr = err
			return
		}
		b.metrics = m
		b.registry = registry
	}
}

func newBridgeMetrics(registry metric.MetricsRegistrar) (*bridgeMetrics, error) {
	m := &bridgeMetrics{
		received: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "ingest",
			Name:      "messages_received_total",
			Help:      "Messages delivered by the bus",
		}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "ingest",
			Name:      "messages_dropped_total",
			Help:      "Messages dropped because the ingest queue was full",
		}),
		decodeErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "ingest",
			Name:      "decode_errors_total",
			Help:      "Messages rejected by the decoder",
		}),
	}
	if err := registry.RegisterCounter("ingest", "messages_received_total", m.received); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounter("ingest", "messages_dropped_total", m.dropped); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounter("ingest", "decode_errors_total", m.decodeErrors); err != nil {
		return nil, err
	}
	return m, nil
}

// NewBridge wires bus to store and dispatcher. Nothing happens until Start.
func NewBridge(bus Bus, store *history.Store, dispatcher *fanout.Dispatcher, cfg Config, opts ...Option) (*Bridge, error) {
	if bus == nil || store == nil || dispatcher == nil {
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: bus, store and dispatcher are required", errors.ErrMissingConfig),
			"Bridge", "NewBridge", "validate dependencies")
	}
	if cfg.Subject == "" {
		cfg.Subject = DefaultSubject
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	if cfg.DecodeLogRate <= 0 {
		cfg.DecodeLogRate = 1
	}

	b := &Bridge{
		bus:        bus,
		store:      store,
		dispatcher: dispatcher,
		cfg:        cfg,
		logger:     slog.Default().With("component", "ingest"),
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.optErr != nil {
		return nil, errors.Wrap(b.optErr, "Bridge", "NewBridge", "register metrics")
	}
	b.logLimiter = rate.NewLimiter(cfg.DecodeLogRate, 1)

	poolOpts := []worker.Option[inbound]{
		worker.WithErrorHandler[inbound](b.onProcessError),
	}
	if b.registry != nil {
		poolOpts = append(poolOpts, worker.WithMetricsRegistry[inbound](b.registry, "ingest_queue"))
	}
	// One worker keeps per-device order
	pool, err := worker.NewPool(1, cfg.QueueSize, b.process, poolOpts...)
	if err != nil {
		return nil, errors.Wrap(err, "Bridge", "NewBridge", "create ingest worker")
	}
	b.pool = pool

	return b, nil
}

// Subject returns the subscribed subject.
func (b *Bridge) Subject() string { return b.cfg.Subject }

// Start launches the worker and subscribes to the bus.
func (b *Bridge) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.started {
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "Bridge", "Start", "check state")
	}

	runCtx, cancel := context.WithCancel(ctx)
	if err := b.pool.Start(runCtx); err != nil {
		cancel()
		return errors.WrapFatal(err, "Bridge", "Start", "start ingest worker")
	}

	if err := b.bus.Subscribe(runCtx, b.cfg.Subject, b.handle); err != nil {
		cancel()
		_ = b.pool.Stop(time.Second)
		return errors.WrapTransient(err, "Bridge", "Start", "subscribe to "+b.cfg.Subject)
	}

	b.cancel = cancel
	b.started = true
	b.logger.Info("ingest bridge started", "subject", b.cfg.Subject, "queue_size", b.cfg.QueueSize)
	return nil
}

// Stop lets queued messages drain for up to timeout, then cancels the worker.
func (b *Bridge) Stop(timeout time.Duration) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.started {
		return nil
	}
	b.started = false

	err := b.pool.Stop(timeout)
	b.cancel()

	stats := b.pool.Stats()
	b.logger.Info("ingest bridge stopped",
		"processed", stats.Processed, "failed", stats.Failed, "dropped", stats.Dropped)

	if err != nil {
		return errors.WrapTransient(err, "Bridge", "Stop", "drain ingest queue")
	}
	return nil
}

// Stats returns the ingest worker's counters.
func (b *Bridge) Stats() worker.PoolStats {
	return b.pool.Stats()
}

// handle runs on the bus client's goroutine and must not block.
func (b *Bridge) handle(_ context.Context, subject string, data []byte) {
	if b.metrics != nil {
		b.metrics.received.Inc()
	}

	msg := inbound{subject: subject, data: data, receivedAt: time.Now()}
	if err := b.pool.Submit(msg); err != nil {
		if b.metrics != nil {
			b.metrics.dropped.Inc()
		}
		if b.logLimiter.Allow() {
			b.logger.Warn("dropping message", "subject", subject, "error", err)
		}
	}
}

func (b *Bridge) process(ctx context.Context, msg inbound) error {
	rec, err := Decode(msg.data, msg.receivedAt)
	if err != nil {
		return err
	}

	rec = b.store.Append(rec)
	b.dispatcher.Broadcast(ctx, rec)
	return nil
}

func (b *Bridge) onProcessError(msg inbound, err error) {
	if b.metrics != nil && errors.IsInvalid(err) {
		b.metrics.decodeErrors.Inc()
	}
	if b.logLimiter.Allow() {
		b.logger.Warn("rejected message", "subject", msg.subject, "bytes", len(msg.data), "error", err)
	}
}
