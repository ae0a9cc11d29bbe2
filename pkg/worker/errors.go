package worker

import (
	stderrors "errors"

	"github.com/note-9/health-monitor/errors"
)

// Sentinel errors for worker pool operations
var (
	// ErrPoolNotStarted indicates Submit was called before Start
	ErrPoolNotStarted = stderrors.New("worker pool not started")

	// ErrPoolStopped indicates the pool no longer accepts work
	ErrPoolStopped = stderrors.New("worker pool stopped")

	// ErrPoolAlreadyStarted indicates Start was called twice
	ErrPoolAlreadyStarted = stderrors.New("worker pool already started")

	// ErrQueueFull indicates the work queue is at capacity.
	// It is the shared errors.ErrQueueFull so callers need not import this package to match it.
	ErrQueueFull = errors.ErrQueueFull

	// ErrNilProcessor indicates a nil processor function was provided
	ErrNilProcessor = stderrors.New("processor function cannot be nil")

	// ErrStopTimeout indicates queued work did not drain within the timeout
	ErrStopTimeout = stderrors.New("timeout waiting for workers to stop")
)
