package fanout

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/note-9/health-monitor/errors"
	"github.com/note-9/health-monitor/history"
	"github.com/note-9/health-monitor/metric"
)

// DefaultSendTimeout bounds a single subscriber send.
const DefaultSendTimeout = 10 * time.Second

// Dispatcher fans a record out to every registered subscriber.
type Dispatcher struct {
	registry    *Registry
	sendTimeout time.Duration
	logger      *slog.Logger
	metrics     *dispatcherMetrics
	optErr      error
}

type dispatcherMetrics struct {
	delivered prometheus.Counter
	failed    prometheus.Counter
	removed   prometheus.Counter
	duration  prometheus.Histogram
	active    prometheus.GaugeFunc
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithSendTimeout sets the per-subscriber send timeout.
func WithSendTimeout(d time.Duration) DispatcherOption {
	return func(disp *Dispatcher) {
		if d > 0 {
			disp.sendTimeout = d
		}
	}
}

// WithLogger sets the dispatcher's logger.
func WithLogger(logger *slog.Logger) DispatcherOption {
	return func(disp *Dispatcher) {
		if logger != nil {
			disp.logger = logger
		}
	}
}

// WithMetricsRegistry exports dispatcher metrics through registry.
func WithMetricsRegistry(registry *metric.MetricsRegistry) DispatcherOption {
	return func(disp *Dispatcher) {
		if registry == nil {
			return
		}
		m, err := newDispatcherMetrics(registry, disp.registry)
		if err != nil {
			disp.optErr = err
			return
		}
		disp.metrics = m
	}
}

func newDispatcherMetrics(registry metric.MetricsRegistrar, subs *Registry) (*dispatcherMetrics, error) {
	m := &dispatcherMetrics{
		delivered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "fanout",
			Name:      "deliveries_total",
			Help:      "Successful subscriber sends",
		}),
		failed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "fanout",
			Name:      "failures_total",
			Help:      "Failed subscriber sends",
		}),
		removed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "fanout",
			Name:      "removed_total",
			Help:      "Subscribers removed after a failed send",
		}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: metric.Namespace,
			Subsystem: "fanout",
			Name:      "broadcast_duration_seconds",
			Help:      "Time to deliver one record to all subscribers",
			Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 10},
		}),
		active: prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: metric.Namespace,
			Subsystem: "fanout",
			Name:      "subscribers",
			Help:      "Currently registered subscribers",
		}, func() float64 { return float64(subs.Len()) }),
	}

	if err := registry.RegisterCounter("fanout", "deliveries_total", m.delivered); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounter("fanout", "failures_total", m.failed); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounter("fanout", "removed_total", m.removed); err != nil {
		return nil, err
	}
	if err := registry.RegisterHistogram("fanout", "broadcast_duration_seconds", m.duration); err != nil {
		return nil, err
	}
	if err := registry.RegisterGaugeFunc("fanout", "subscribers", m.active); err != nil {
		return nil, err
	}
	return m, nil
}

// NewDispatcher creates a dispatcher over registry.
func NewDispatcher(registry *Registry, opts ...DispatcherOption) (*Dispatcher, error) {
	d := &Dispatcher{
		registry:    registry,
		sendTimeout: DefaultSendTimeout,
		logger:      slog.Default().With("component", "fanout"),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.optErr != nil {
		return nil, errors.Wrap(d.optErr, "Dispatcher", "NewDispatcher", "register metrics")
	}
	return d, nil
}

// Registry returns the registry the dispatcher broadcasts to.
func (d *Dispatcher) Registry() *Registry { return d.registry }

// BroadcastResult summarizes one broadcast pass.
type BroadcastResult struct {
	Delivered int
	Failed    []string
}

// Broadcast sends rec's payload to every subscriber registered at call
// time. Sends run concurrently; a subscriber whose send fails is removed
// and closed after the pass. Subscribers added during the pass are not
// included.
func (d *Dispatcher) Broadcast(ctx context.Context, rec history.Record) BroadcastResult {
	subs := d.registry.Snapshot()
	if len(subs) == 0 {
		return BroadcastResult{}
	}

	start := time.Now()
	errs := make([]error, len(subs))

	var wg sync.WaitGroup
	for i, sub := range subs {
		wg.Add(1)
		go func(i int, sub Subscriber) {
			defer wg.Done()
			sendCtx, cancel := context.WithTimeout(ctx, d.sendTimeout)
			defer cancel()
			if err := sub.Send(sendCtx, rec.Payload); err != nil {
				errs[i] = errors.WrapTransient(err, "Dispatcher", "Broadcast", "send to "+sub.ID())
			}
		}(i, sub)
	}
	wg.Wait()

	var result BroadcastResult
	for i, err := range errs {
		if err == nil {
			result.Delivered++
			continue
		}

		sub := subs[i]
		result.Failed = append(result.Failed, sub.ID())
		d.logger.Debug("dropping subscriber after failed send",
			"subscriber", sub.ID(), "device_id", rec.DeviceID, "error", err)

		removed := d.registry.Remove(sub)
		_ = sub.Close()
		if d.metrics != nil && removed {
			d.metrics.removed.Inc()
		}
	}

	if d.metrics != nil {
		d.metrics.delivered.Add(float64(result.Delivered))
		d.metrics.failed.Add(float64(len(result.Failed)))
		d.metrics.duration.Observe(time.Since(start).Seconds())
	}
	return result
}
