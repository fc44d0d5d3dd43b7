package queue

import (
	"errors"
	"fmt"
)

var (
	// ErrMalformedJob matches every DecodeError
	ErrMalformedJob = errors.New("malformed job message")

	// ErrInvalidJob is returned when a job fails validation before enqueue
	ErrInvalidJob = errors.New("invalid job")

	// ErrNotClaimed is returned when resolving a job that was not obtained through Claim
	ErrNotClaimed = errors.New("job was not claimed from this queue")

	// ErrJobNotFound is returned when a job id is not present in the expected set
	ErrJobNotFound = errors.New("job not found")
)

// DecodeError is returned by Claim when the popped member is not a valid job.
// The member has already left the pending set and is not recorded in flight.
type DecodeError struct {
	Raw string
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("%s: %v", ErrMalformedJob, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

func (e *DecodeError) Is(target error) bool {
	return target == ErrMalformedJob
}
