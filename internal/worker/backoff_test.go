package worker

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewBackoff(t *testing.T) {
	tests := []struct {
		name     string
		strategy string
		unit     time.Duration
		max      time.Duration
		want     []time.Duration
		wantErr  bool
	}{
		{
			name:     "linear default unit",
			strategy: "",
			want:     []time.Duration{30 * time.Second, 60 * time.Second, 90 * time.Second},
		},
		{
			name:     "linear capped",
			strategy: BackoffLinear,
			unit:     time.Minute,
			max:      90 * time.Second,
			want:     []time.Duration{time.Minute, 90 * time.Second, 90 * time.Second},
		},
		{
			name:     "exponential",
			strategy: BackoffExponential,
			unit:     10 * time.Second,
			want:     []time.Duration{10 * time.Second, 20 * time.Second, 40 * time.Second},
		},
		{
			name:     "exponential capped",
			strategy: BackoffExponential,
			unit:     10 * time.Second,
			max:      15 * time.Second,
			want:     []time.Duration{10 * time.Second, 15 * time.Second, 15 * time.Second},
		},
		{
			name:     "constant",
			strategy: BackoffConstant,
			unit:     5 * time.Second,
			want:     []time.Duration{5 * time.Second, 5 * time.Second, 5 * time.Second},
		},
		{
			name:     "unknown",
			strategy: "fibonacci",
			wantErr:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := NewBackoff(tt.strategy, tt.unit, tt.max)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)

			for i, want := range tt.want {
				assert.Equal(t, want, b.Delay(i+1), "retry %d", i+1)
			}
		})
	}
}

func TestExponential_DoesNotOverflow(t *testing.T) {
	tests := []struct {
		name  string
		unit  time.Duration
		max   time.Duration
		retry int
		want  time.Duration
	}{
		{name: "30s unit at retry 29", unit: 30 * time.Second, retry: 29, want: 30 * time.Second << 28},
		{name: "30s unit at retry 30", unit: 30 * time.Second, retry: 30, want: time.Duration(math.MaxInt64)},
		{name: "hour unit at retry 200", unit: time.Hour, retry: 200, want: time.Duration(math.MaxInt64)},
		{name: "past the float range", unit: time.Hour, retry: 5000, want: time.Duration(math.MaxInt64)},
		{name: "capped after saturating", unit: 30 * time.Second, max: 10 * time.Minute, retry: 100, want: 10 * time.Minute},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Exponential{Unit: tt.unit, Max: tt.max}.Delay(tt.retry)
			assert.Equal(t, tt.want, got)
			assert.Positive(t, got)
		})
	}
}

func TestExponential_NonDecreasing(t *testing.T) {
	e := Exponential{Unit: 30 * time.Second}
	prev := e.Delay(1)
	for retry := 2; retry <= 100; retry++ {
		d := e.Delay(retry)
		require.GreaterOrEqual(t, d, prev, "retry %d", retry)
		prev = d
	}
}
