package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrNoHandler is returned when no processing callback is registered for a job type
	ErrNoHandler = errors.New("no handler registered for job type")

	// ErrHandlerPanic is returned when a processing callback panics
	ErrHandlerPanic = errors.New("handler panicked")
)

// ProcessingError wraps a failure reported by a processing callback. It
// drives the retry or dead-letter decision for the attempt.
type ProcessingError struct {
	JobID   string
	Attempt int
	Err     error
}

func (e *ProcessingError) Error() string {
	return fmt.Sprintf("job %s attempt %d failed: %v", e.JobID, e.Attempt, e.Err)
}

func (e *ProcessingError) Unwrap() error {
	return e.Err
}
