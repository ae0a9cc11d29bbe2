// Package fanout delivers every ingested reading to all live subscribers.
package fanout

import (
	"context"
	"sync"
)

// Subscriber is a live real-time consumer. Send must be safe to call
// concurrently with Close; once Close has been called Send fails.
type Subscriber interface {
	ID() string
	Send(ctx context.Context, data []byte) error
	Close() error
}

// Registry is the set of live subscribers, unique by ID, kept in
// insertion order.
type Registry struct {
	mu    sync.RWMutex
	subs  []Subscriber
	index map[string]int
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{index: make(map[string]int)}
}

// Add registers sub. Adding an ID that is already present is a no-op.
func (r *Registry) Add(sub Subscriber) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.index[sub.ID()]; ok {
		return
	}
	r.index[sub.ID()] = len(r.subs)
	r.subs = append(r.subs, sub)
}

// Remove unregisters sub and reports whether it was present.
func (r *Registry) Remove(sub Subscriber) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	i, ok := r.index[sub.ID()]
	if !ok {
		return false
	}

	copy(r.subs[i:], r.subs[i+1:])
	r.subs[len(r.subs)-1] = nil
	r.subs = r.subs[:len(r.subs)-1]

	delete(r.index, sub.ID())
	for j := i; j < len(r.subs); j++ {
		r.index[r.subs[j].ID()] = j
	}
	return true
}

// Snapshot returns a copy of the current subscribers in insertion order.
func (r *Registry) Snapshot() []Subscriber {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Subscriber, len(r.subs))
	copy(out, r.subs)
	return out
}

// Len returns the number of registered subscribers.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subs)
}

// CloseAll empties the registry and closes every subscriber it held.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	subs := r.subs
	r.subs = nil
	r.index = make(map[string]int)
	r.mu.Unlock()

	for _, sub := range subs {
		_ = sub.Close()
	}
}
