package scheduler

import "errors"

var (
	// ErrAlreadyRunning is returned when a periodic task is started twice
	ErrAlreadyRunning = errors.New("periodic task already running")

	// ErrInvalidInterval is returned when a periodic task has no positive interval
	ErrInvalidInterval = errors.New("periodic task interval must be positive")
)
