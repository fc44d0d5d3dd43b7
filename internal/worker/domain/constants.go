package domain

// LoopState is where a worker loop is in its cycle
type LoopState string

// Worker loop states
const (
	StateWaiting        LoopState = "WAITING"
	StateClaimed        LoopState = "CLAIMED"
	StateProcessing     LoopState = "PROCESSING"
	StateAcked          LoopState = "ACKED"
	StateRetryScheduled LoopState = "RETRY_SCHEDULED"
	StateDeadLettered   LoopState = "DEAD_LETTERED"
)

// Terminal reports whether the state resolves a claimed job
func (s LoopState) Terminal() bool {
	switch s {
	case StateAcked, StateRetryScheduled, StateDeadLettered:
		return true
	default:
		return false
	}
}
