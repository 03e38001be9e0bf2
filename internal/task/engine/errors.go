package engine

import "errors"

var (
	ErrNotStarted = errors.New("task engine not started")
	ErrStopped    = errors.New("task engine stopped")
	ErrQueueFull  = errors.New("task engine queue full")
	ErrStale      = errors.New("task dropped: queued too long")
)
