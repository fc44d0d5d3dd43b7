package domain

import "time"

// Outcome describes how one claimed job was resolved
type Outcome struct {
	JobID      string
	JobType    string
	Attempt    int
	State      LoopState
	Delay      time.Duration
	Err        error
	StartedAt  time.Time
	FinishedAt time.Time
}

// Duration is how long the processing callback ran
func (o Outcome) Duration() time.Duration {
	return o.FinishedAt.Sub(o.StartedAt)
}
