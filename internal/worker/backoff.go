package worker

import (
	"fmt"
	"math"
	"time"
)

// Retry strategy names accepted by NewBackoff
const (
	BackoffLinear      = "linear"
	BackoffExponential = "exponential"
	BackoffConstant    = "constant"
)

// DefaultRetryUnit is the linear step between retries
const DefaultRetryUnit = 30 * time.Second

// Backoff computes the delay before retry n, where n is the retry count
// after the failure (1 for the first retry).
type Backoff interface {
	Delay(retry int) time.Duration
}

// Linear waits Unit * retry, capped at Max when Max > 0.
type Linear struct {
	Unit time.Duration
	Max  time.Duration
}

func (l Linear) Delay(retry int) time.Duration {
	return capDelay(l.Unit*time.Duration(retry), l.Max)
}

// Exponential waits Unit * 2^(retry-1), capped at Max when Max > 0.
type Exponential struct {
	Unit time.Duration
	Max  time.Duration
}

func (e Exponential) Delay(retry int) time.Duration {
	if retry < 1 {
		retry = 1
	}
	d := float64(e.Unit) * math.Pow(2, float64(retry-1))
	// float64(math.MaxInt64) rounds up to 2^63, which does not convert back
	if d >= math.MaxInt64 {
		return capDelay(time.Duration(math.MaxInt64), e.Max)
	}
	return capDelay(time.Duration(d), e.Max)
}

// Constant always waits Unit.
type Constant struct {
	Unit time.Duration
}

func (c Constant) Delay(int) time.Duration {
	return c.Unit
}

// NewBackoff builds a strategy by name. An empty name selects linear.
func NewBackoff(strategy string, unit, maxDelay time.Duration) (Backoff, error) {
	if unit <= 0 {
		unit = DefaultRetryUnit
	}

	switch strategy {
	case BackoffLinear, "":
		return Linear{Unit: unit, Max: maxDelay}, nil
	case BackoffExponential:
		return Exponential{Unit: unit, Max: maxDelay}, nil
	case BackoffConstant:
		return Constant{Unit: unit}, nil
	default:
		return nil, fmt.Errorf("unknown retry strategy %q", strategy)
	}
}

func capDelay(d, maxDelay time.Duration) time.Duration {
	if maxDelay > 0 && d > maxDelay {
		return maxDelay
	}
	return d
}
