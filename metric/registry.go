// Package metric owns the service's Prometheus registry and the process-wide core metrics.
package metric

import (
	stderrors "errors"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/note-9/health-monitor/errors"
)

// MetricsRegistrar is implemented by anything that accepts component metrics
type MetricsRegistrar interface {
	RegisterCounter(owner, name string, counter prometheus.Counter) error
	RegisterGauge(owner, name string, gauge prometheus.Gauge) error
	RegisterGaugeFunc(owner, name string, gauge prometheus.GaugeFunc) error
	RegisterHistogram(owner, name string, histogram prometheus.Histogram) error
	RegisterCounterVec(owner, name string, counterVec *prometheus.CounterVec) error
	RegisterGaugeVec(owner, name string, gaugeVec *prometheus.GaugeVec) error
	RegisterHistogramVec(owner, name string, histogramVec *prometheus.HistogramVec) error
	Unregister(owner, name string) bool
}

// MetricsRegistry wraps a private Prometheus registry and tracks which
// component registered which collector.
type MetricsRegistry struct {
	prometheusRegistry *prometheus.Registry
	Metrics            *Metrics
	registered         map[string]prometheus.Collector
	mu                 sync.RWMutex
}

var _ MetricsRegistrar = (*MetricsRegistry)(nil)

// NewMetricsRegistry creates a registry preloaded with the core metrics
// and the Go runtime and process collectors.
func NewMetricsRegistry() *MetricsRegistry {
	r := &MetricsRegistry{
		prometheusRegistry: prometheus.NewRegistry(),
		Metrics:            NewMetrics(),
		registered:         make(map[string]prometheus.Collector),
	}

	r.prometheusRegistry.MustRegister(r.Metrics.collectors()...)
	r.prometheusRegistry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return r
}

// PrometheusRegistry returns the underlying Prometheus registry
func (r *MetricsRegistry) PrometheusRegistry() *prometheus.Registry {
	return r.prometheusRegistry
}

// CoreMetrics returns the core metrics
func (r *MetricsRegistry) CoreMetrics() *Metrics {
	return r.Metrics
}

// RegisterCounter registers a counter owned by a component
func (r *MetricsRegistry) RegisterCounter(owner, name string, counter prometheus.Counter) error {
	return r.register("RegisterCounter", owner, name, counter)
}

// RegisterGauge registers a gauge owned by a component
func (r *MetricsRegistry) RegisterGauge(owner, name string, gauge prometheus.Gauge) error {
	return r.register("RegisterGauge", owner, name, gauge)
}

// RegisterGaugeFunc registers a gauge whose value is read at scrape time
func (r *MetricsRegistry) RegisterGaugeFunc(owner, name string, gauge prometheus.GaugeFunc) error {
	return r.register("RegisterGaugeFunc", owner, name, gauge)
}

// RegisterHistogram registers a histogram owned by a component
func (r *MetricsRegistry) RegisterHistogram(owner, name string, histogram prometheus.Histogram) error {
	return r.register("RegisterHistogram", owner, name, histogram)
}

// RegisterCounterVec registers a counter vector owned by a component
func (r *MetricsRegistry) RegisterCounterVec(owner, name string, counterVec *prometheus.CounterVec) error {
	return r.register("RegisterCounterVec", owner, name, counterVec)
}

// RegisterGaugeVec registers a gauge vector owned by a component
func (r *MetricsRegistry) RegisterGaugeVec(owner, name string, gaugeVec *prometheus.GaugeVec) error {
	return r.register("RegisterGaugeVec", owner, name, gaugeVec)
}

// RegisterHistogramVec registers a histogram vector owned by a component
func (r *MetricsRegistry) RegisterHistogramVec(owner, name string, histogramVec *prometheus.HistogramVec) error {
	return r.register("RegisterHistogramVec", owner, name, histogramVec)
}

func (r *MetricsRegistry) register(op, owner, name string, c prometheus.Collector) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := owner + "." + name
	if _, exists := r.registered[key]; exists {
		return errors.WrapInvalid(
			fmt.Errorf("metric %s already registered by %s", name, owner),
			"MetricsRegistry", op, "duplicate metric registration")
	}

	if err := r.prometheusRegistry.Register(c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if stderrors.As(err, &already) {
			return errors.WrapInvalid(err, "MetricsRegistry", op,
				fmt.Sprintf("prometheus conflict for metric %s", name))
		}
		return errors.WrapFatal(err, "MetricsRegistry", op, "register with prometheus")
	}

	r.registered[key] = c
	return nil
}

// Unregister removes a component metric. Reports whether it was removed.
func (r *MetricsRegistry) Unregister(owner, name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := owner + "." + name
	c, exists := r.registered[key]
	if !exists {
		return false
	}
	if !r.prometheusRegistry.Unregister(c) {
		return false
	}
	delete(r.registered, key)
	return true
}
