package queue

import "time"

// MaxPriority is the highest priority that still affects ordering
const MaxPriority = 999

// Score encodes a dispatch time and a priority into one sorted-set score.
// The millisecond timestamp occupies the high digits and the inverted
// priority the low three, so members sort by dispatch time first and,
// within the same millisecond, higher priority first. The result stays
// well inside float64's exact integer range.
func Score(dispatchAt time.Time, priority int) float64 {
	if priority < 0 {
		priority = 0
	}
	if priority > MaxPriority {
		priority = MaxPriority
	}
	return float64(dispatchAt.UnixMilli())*1000 + float64(MaxPriority-priority)
}

// DueScore is the highest score that is claimable at now.
func DueScore(now time.Time) float64 {
	return float64(now.UnixMilli())*1000 + MaxPriority
}
