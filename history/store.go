package history

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/note-9/health-monitor/errors"
	"github.com/note-9/health-monitor/metric"
	"github.com/note-9/health-monitor/pkg/buffer"
)

// DefaultCapacity is the number of records kept per device.
const DefaultCapacity = 1000

// DeviceSummary describes one device's ring. Appended, Evicted and Reads
// count since the ring was created; DropRate is Evicted over Appended.
type DeviceSummary struct {
	DeviceID string  `json:"device_id"`
	Size     int     `json:"size"`
	Appended int64   `json:"appended"`
	Evicted  int64   `json:"evicted"`
	Reads    int64   `json:"reads"`
	DropRate float64 `json:"drop_rate"`
}

// Store maps device ids to their history rings. Rings are created on first
// use and never removed. Appends to different devices only contend on the
// map lookup.
type Store struct {
	mu       sync.RWMutex
	rings    map[string]*buffer.Ring[Record]
	capacity int
	logger   *slog.Logger
	metrics  *storeMetrics
	optErr   error
}

type storeMetrics struct {
	appended prometheus.Counter
	evicted  prometheus.Counter
	devices  prometheus.Gauge
}

// Option configures a Store.
type Option func(*Store)

// WithCapacity sets the per-device ring capacity.
func WithCapacity(capacity int) Option {
	return func(s *Store) { s.capacity = capacity }
}

// WithLogger sets the store's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetricsRegistry exports store metrics through registry. A metric
// already registered by another store makes NewStore fail.
func WithMetricsRegistry(registry *metric.MetricsRegistry) Option {
	return func(s *Store) {
		if registry == nil {
			return
		}
		m, err := newStoreMetrics(registry)
		if err != nil {
			s.optErr = err
			return
		}
		s.metrics = m
	}
}

func newStoreMetrics(registry metric.MetricsRegistrar) (*storeMetrics, error) {
	m := &storeMetrics{
		appended: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "history",
			Name:      "records_appended_total",
			Help:      "Records appended to device history",
		}),
		evicted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "history",
			Name:      "records_evicted_total",
			Help:      "Records evicted from full device rings",
		}),
		devices: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metric.Namespace,
			Subsystem: "history",
			Name:      "devices",
			Help:      "Devices with a history ring",
		}),
	}
	if err := registry.RegisterCounter("history", "records_appended_total", m.appended); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounter("history", "records_evicted_total", m.evicted); err != nil {
		return nil, err
	}
	if err := registry.RegisterGauge("history", "devices", m.devices); err != nil {
		return nil, err
	}
	return m, nil
}

// NewStore creates an empty store.
func NewStore(opts ...Option) (*Store, error) {
	s := &Store{
		rings:    make(map[string]*buffer.Ring[Record]),
		capacity: DefaultCapacity,
		logger:   slog.Default().With("component", "history"),
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.optErr != nil {
		return nil, errors.Wrap(s.optErr, "Store", "NewStore", "register metrics")
	}
	if s.capacity <= 0 {
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: capacity must be positive, got %d", errors.ErrInvalidConfig, s.capacity),
			"Store", "NewStore", "validate capacity")
	}
	return s, nil
}

// Capacity returns the per-device ring capacity.
func (s *Store) Capacity() int { return s.capacity }

func (s *Store) lookup(deviceID string) *buffer.Ring[Record] {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.rings[deviceID]
}

func (s *Store) getOrCreate(deviceID string) *buffer.Ring[Record] {
	if ring := s.lookup(deviceID); ring != nil {
		return ring
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if ring, ok := s.rings[deviceID]; ok {
		return ring
	}

	var opts []buffer.Option[Record]
	if s.metrics != nil {
		opts = append(opts, buffer.WithDropCallback[Record](func(Record) {
			s.metrics.evicted.Inc()
		}))
	}
	// capacity was validated in NewStore
	ring, _ := buffer.NewRing[Record](s.capacity, opts...)
	s.rings[deviceID] = ring

	if s.metrics != nil {
		s.metrics.devices.Set(float64(len(s.rings)))
	}
	s.logger.Debug("created history ring", "device_id", deviceID, "capacity", s.capacity)
	return ring
}

// Append stores rec in its device's ring, evicting the oldest record when
// the ring is full, and returns rec.
func (s *Store) Append(rec Record) Record {
	if rec.DeviceID == "" {
		rec.DeviceID = UnknownDevice
	}

	s.getOrCreate(rec.DeviceID).Push(rec)
	if s.metrics != nil {
		s.metrics.appended.Inc()
	}
	return rec
}

// History returns up to n of the device's most recent records, oldest
// first. An unknown device yields an empty, non-nil slice.
func (s *Store) History(deviceID string, n int) []Record {
	ring := s.lookup(deviceID)
	if ring == nil {
		return []Record{}
	}
	return ring.Last(n)
}

// Len returns the number of records held for a device.
func (s *Store) Len(deviceID string) int {
	ring := s.lookup(deviceID)
	if ring == nil {
		return 0
	}
	return ring.Len()
}

// Devices returns a summary of every device, sorted by id.
func (s *Store) Devices() []DeviceSummary {
	s.mu.RLock()
	out := make([]DeviceSummary, 0, len(s.rings))
	for id, ring := range s.rings {
		stats := ring.Stats().Summary()
		out = append(out, DeviceSummary{
			DeviceID: id,
			Size:     ring.Len(),
			Appended: stats.Writes,
			Evicted:  stats.Drops,
			Reads:    stats.Reads,
			DropRate: stats.DropRate,
		})
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].DeviceID < out[j].DeviceID })
	return out
}
