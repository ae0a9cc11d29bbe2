package buffer

import "sync/atomic"

// Statistics tracks ring activity with atomic counters
type Statistics struct {
	writes atomic.Int64
	reads  atomic.Int64
	drops  atomic.Int64
}

// NewStatistics creates a new statistics tracker
func NewStatistics() *Statistics {
	return &Statistics{}
}

// Write records a stored item
func (s *Statistics) Write() { s.writes.Add(1) }

// Read records a read of the ring's contents
func (s *Statistics) Read() { s.reads.Add(1) }

// Drop records an item evicted from a full ring
func (s *Statistics) Drop() { s.drops.Add(1) }

// Writes returns the number of stored items
func (s *Statistics) Writes() int64 { return s.writes.Load() }

// Reads returns the number of reads
func (s *Statistics) Reads() int64 { return s.reads.Load() }

// Drops returns the number of evicted items
func (s *Statistics) Drops() int64 { return s.drops.Load() }

// DropRate returns drops per write (0.0 to 1.0)
func (s *Statistics) DropRate() float64 {
	writes := s.Writes()
	if writes == 0 {
		return 0.0
	}
	return float64(s.Drops()) / float64(writes)
}

// StatsSummary is a point-in-time copy of Statistics
type StatsSummary struct {
	Writes   int64   `json:"writes"`
	Reads    int64   `json:"reads"`
	Drops    int64   `json:"drops"`
	DropRate float64 `json:"drop_rate"`
}

// Summary returns a snapshot of all statistics
func (s *Statistics) Summary() StatsSummary {
	return StatsSummary{
		Writes:   s.Writes(),
		Reads:    s.Reads(),
		Drops:    s.Drops(),
		DropRate: s.DropRate(),
	}
}
