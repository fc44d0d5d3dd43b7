package queue

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// Job type constants
const (
	JobTypeTranscribe = "transcribe"
	JobTypeSummarize  = "summarize"
	JobTypeEmbed      = "embed"
)

const (
	// DefaultPriority is assigned to freshly produced jobs
	DefaultPriority = 1
	// DefaultMaxRetries is assigned when the producer does not choose one
	DefaultMaxRetries = 3
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Job is one unit of work as it travels through the broker. Its JSON form is
// the wire format shared by producers and consumers.
type Job struct {
	ID         string         `json:"id" validate:"required"`
	SubjectID  string         `json:"subject_id"`
	JobType    string         `json:"job_type" validate:"required,excludesall=:"`
	PayloadRef *string        `json:"payload_ref,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
	Priority   int            `json:"priority"`
	RetryCount int            `json:"retry_count" validate:"gte=0"`
	MaxRetries int            `json:"max_retries" validate:"gte=0"`
	Metadata   map[string]any `json:"metadata,omitempty"`

	// claimed holds the exact member stored in the in-flight set
	claimed string
}

// NewJob builds a job with a fresh id and the default priority.
func NewJob(jobType, subjectID string, maxRetries int) *Job {
	return &Job{
		ID:         uuid.NewString(),
		SubjectID:  subjectID,
		JobType:    jobType,
		CreatedAt:  time.Now().UTC(),
		Priority:   DefaultPriority,
		MaxRetries: maxRetries,
	}
}

// Validate checks the fields the queue relies on
func (j *Job) Validate() error {
	if err := validate.Struct(j); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidJob, err)
	}
	return nil
}

// Exhausted reports whether the job has used up its retries
func (j *Job) Exhausted() bool {
	return j.RetryCount >= j.MaxRetries
}

// Encode serializes the job to its wire form
func Encode(j *Job) (string, error) {
	data, err := json.Marshal(j)
	if err != nil {
		return "", fmt.Errorf("failed to marshal job %s: %w", j.ID, err)
	}
	return string(data), nil
}

// Decode parses a wire message. Messages without an id or job type are
// rejected since nothing downstream could act on them.
func Decode(raw string) (*Job, error) {
	var j Job
	if err := json.Unmarshal([]byte(raw), &j); err != nil {
		return nil, &DecodeError{Raw: raw, Err: err}
	}
	if j.ID == "" || j.JobType == "" {
		return nil, &DecodeError{Raw: raw, Err: fmt.Errorf("missing id or job_type")}
	}
	return &j, nil
}
