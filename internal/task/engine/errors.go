package engine

import "errors"

var (
	// ErrDisabled is returned when the engine is configured off.
	ErrDisabled = errors.New("taskengine disabled")
	// ErrStopped is returned when the engine has not been started.
	ErrStopped = errors.New("taskengine stopped")
	// ErrStopping is returned while a Stop is in progress.
	ErrStopping = errors.New("taskengine stopping")
	// ErrQueueFull is returned by Enqueue when the queue has no room.
	ErrQueueFull = errors.New("taskengine queue full")
)
