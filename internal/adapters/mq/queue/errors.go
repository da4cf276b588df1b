package queue

import "errors"

// Sentinel errors returned by queue operations.
var (
	// ErrQueueFull is returned when the pending job count is at capacity.
	ErrQueueFull = errors.New("queue is full")

	// ErrClosed is returned when operating on a closed queue.
	ErrClosed = errors.New("queue is closed")

	// ErrJobNotFound is returned when no job matches the given id.
	ErrJobNotFound = errors.New("job not found")

	// ErrBadTransition is returned when a state transition is not legal,
	// for example completing a job that is not active.
	ErrBadTransition = errors.New("illegal job state transition")
)
