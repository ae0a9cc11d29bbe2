package buffer

import (
	"fmt"
	"sync"

	"github.com/note-9/health-monitor/errors"
)

// Ring is a fixed-capacity, insertion-ordered buffer safe for concurrent use
type Ring[T any] struct {
	mu       sync.RWMutex
	items    []T
	capacity int
	size     int
	head     int // next write position
	stats    *Statistics
	opts     *ringOptions[T]
}

// NewRing creates a ring holding at most capacity items
func NewRing[T any](capacity int, options ...Option[T]) (*Ring[T], error) {
	if capacity <= 0 {
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: capacity must be positive, got %d", errors.ErrInvalidConfig, capacity),
			"Ring", "NewRing", "validate capacity")
	}

	return &Ring[T]{
		items:    make([]T, capacity),
		capacity: capacity,
		stats:    NewStatistics(),
		opts:     applyOptions(options...),
	}, nil
}

// Push appends item. On a full ring exactly one item, the oldest, is evicted first.
func (r *Ring[T]) Push(item T) {
	var (
		dropped    T
		hasDropped bool
	)

	r.mu.Lock()
	if r.size == r.capacity {
		// head is also the oldest slot when the ring is full
		dropped, hasDropped = r.items[r.head], true
		r.size--
	}

	r.items[r.head] = item
	r.head = (r.head + 1) % r.capacity
	r.size++
	r.stats.Write()
	r.mu.Unlock()

	if hasDropped {
		r.notifyDrop(dropped)
	}
}

func (r *Ring[T]) notifyDrop(item T) {
	r.stats.Drop()
	if r.opts.dropCallback != nil {
		r.opts.dropCallback(item)
	}
}

// Last returns a copy of the n most recent items, oldest first.
// n is clamped to [0, Len()].
func (r *Ring[T]) Last(n int) []T {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if n > r.size {
		n = r.size
	}
	if n < 0 {
		n = 0
	}

	out := make([]T, n)
	start := (r.head - n + r.capacity) % r.capacity
	for i := 0; i < n; i++ {
		out[i] = r.items[(start+i)%r.capacity]
	}

	r.stats.Read()
	return out
}

// Len returns the number of items currently held
func (r *Ring[T]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.size
}

// Stats returns the ring's statistics
func (r *Ring[T]) Stats() *Statistics {
	return r.stats
}
