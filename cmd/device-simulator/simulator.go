package main

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// Heart rate bounds for generated readings
const (
	minBPM   = 50
	maxBPM   = 140
	restBPM  = 72
	maxDrift = 3
)

// Reading is the payload published for one heart-rate sample
type Reading struct {
	DeviceID string `json:"device_id"`
	BPM      int    `json:"bpm"`
	TS       int64  `json:"ts"`
}

// Publisher sends raw payloads to a subject. *natsclient.Client satisfies it.
type Publisher interface {
	Publish(ctx context.Context, subject string, data []byte) error
}

// SimulatorConfig controls what a Simulator publishes and how fast
type SimulatorConfig struct {
	Devices       int
	Prefix        string
	SubjectFormat string
	Rate          float64 // readings per second across all devices
	MaxReadings   int64   // 0 publishes until the context is cancelled
}

// Stats counts publish outcomes
type Stats struct {
	Published int64
	Failed    int64
}

// Simulator publishes random-walk heart-rate readings for a fixed set of
// devices, round robin, paced by a token bucket.
type Simulator struct {
	pub     Publisher
	cfg     SimulatorConfig
	devices []string
	bpm     []int
	limiter *rate.Limiter
	errLog  *rate.Limiter
	rng     *rand.Rand
	logger  *slog.Logger
	now     func() time.Time

	published atomic.Int64
	failed    atomic.Int64
}

// NewSimulator validates cfg and creates a simulator publishing through pub
func NewSimulator(pub Publisher, cfg SimulatorConfig, logger *slog.Logger) (*Simulator, error) {
	if pub == nil {
		return nil, stderrors.New("publisher is required")
	}
	if cfg.Devices <= 0 {
		return nil, fmt.Errorf("devices must be positive: %d", cfg.Devices)
	}
	if cfg.Rate <= 0 {
		return nil, fmt.Errorf("rate must be positive: %g", cfg.Rate)
	}
	if cfg.MaxReadings < 0 {
		return nil, fmt.Errorf("max readings must not be negative: %d", cfg.MaxReadings)
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "device"
	}
	if cfg.SubjectFormat == "" {
		cfg.SubjectFormat = defaultSubjectFormat
	}
	if logger == nil {
		logger = slog.Default()
	}

	s := &Simulator{
		pub:     pub,
		cfg:     cfg,
		devices: make([]string, cfg.Devices),
		bpm:     make([]int, cfg.Devices),
		limiter: rate.NewLimiter(rate.Limit(cfg.Rate), 1),
		errLog:  rate.NewLimiter(rate.Every(5*time.Second), 1),
		rng:     rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0)),
		logger:  logger,
		now:     time.Now,
	}
	for i := range s.devices {
		s.devices[i] = fmt.Sprintf("%s-%03d", cfg.Prefix, i+1)
		s.bpm[i] = restBPM + s.rng.IntN(2*maxDrift+1) - maxDrift
	}
	return s, nil
}

// Devices returns the simulated device IDs
func (s *Simulator) Devices() []string {
	out := make([]string, len(s.devices))
	copy(out, s.devices)
	return out
}

// Stats returns publish counters
func (s *Simulator) Stats() Stats {
	return Stats{Published: s.published.Load(), Failed: s.failed.Load()}
}

// Run publishes until ctx is cancelled or MaxReadings have been attempted.
// Publish failures are counted and logged, never fatal.
func (s *Simulator) Run(ctx context.Context) error {
	for i := int64(0); s.cfg.MaxReadings == 0 || i < s.cfg.MaxReadings; i++ {
		// Wait fails only when ctx is done or its deadline falls before the next token
		if err := s.limiter.Wait(ctx); err != nil {
			return nil
		}

		idx := int(i % int64(len(s.devices)))
		subject, payload, err := s.next(idx)
		if err != nil {
			return err
		}

		if err := s.pub.Publish(ctx, subject, payload); err != nil {
			s.failed.Add(1)
			if s.errLog.Allow() {
				s.logger.Warn("publish failed", "subject", subject, "error", err)
			}
			continue
		}
		s.published.Add(1)
	}
	return nil
}

// next advances the device's random walk and encodes its reading
func (s *Simulator) next(idx int) (string, []byte, error) {
	bpm := s.bpm[idx] + s.rng.IntN(2*maxDrift+1) - maxDrift
	bpm = max(minBPM, min(maxBPM, bpm))
	s.bpm[idx] = bpm

	deviceID := s.devices[idx]
	payload, err := json.Marshal(Reading{DeviceID: deviceID, BPM: bpm, TS: s.now().UnixMilli()})
	if err != nil {
		return "", nil, fmt.Errorf("encode reading: %w", err)
	}
	return fmt.Sprintf(s.cfg.SubjectFormat, deviceID), payload, nil
}
