// Package buffer provides a generic, thread-safe ring buffer with a fixed capacity.
//
// The ring keeps insertion order and never grows past its capacity. When it is full,
// the oldest item is evicted to make room. Reads never consume: Last returns a copy,
// so callers can't mutate the ring's contents.
//
// Statistics are always collected.
package buffer

// DropCallback receives every item evicted from a full ring.
// It runs after the ring's lock is released.
type DropCallback[T any] func(item T)
