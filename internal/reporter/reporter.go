// Package reporter delivers terminal job statuses to the systems that track
// them. Delivery is best effort: a failed report is returned to the caller
// for logging and never feeds back into queue state.
package reporter

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Terminal statuses
const (
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Update is one terminal outcome of a job attempt
type Update struct {
	JobID        string
	JobType      string
	Status       string
	ErrorMessage string
	StartedAt    *time.Time
	CompletedAt  *time.Time
}

// Reporter delivers status updates
type Reporter interface {
	Report(ctx context.Context, update Update) error
}

// ReportingError is returned when a sink could not deliver an update
type ReportingError struct {
	Sink  string
	JobID string
	Err   error
}

func (e *ReportingError) Error() string {
	return fmt.Sprintf("%s status report for job %s failed: %v", e.Sink, e.JobID, e.Err)
}

func (e *ReportingError) Unwrap() error {
	return e.Err
}

// Multi sends every update to all of its reporters. One sink failing does
// not stop the others; all failures are returned joined.
type Multi []Reporter

// Report implements Reporter
func (m Multi) Report(ctx context.Context, update Update) error {
	var errs []error
	for _, r := range m {
		if err := r.Report(ctx, update); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
