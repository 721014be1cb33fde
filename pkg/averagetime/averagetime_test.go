package averagetime

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time { return c.t }

func TestTracker(t *testing.T) {
	tests := []struct {
		name  string
		ticks []time.Duration
		want  []time.Duration
		avg   time.Duration
	}{
		{"single tick primes only", []time.Duration{0}, []time.Duration{}, 0},
		{"two ticks", []time.Duration{0, 100 * time.Millisecond}, []time.Duration{100 * time.Millisecond}, 100 * time.Millisecond},
		{"three ticks", []time.Duration{0, 100 * time.Millisecond, 200 * time.Millisecond}, []time.Duration{100 * time.Millisecond, 200 * time.Millisecond}, 150 * time.Millisecond},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clk := &fakeClock{t: time.Unix(1000, 0)}
			tr := NewWithClock(clk.now)
			for _, d := range tt.ticks {
				clk.t = clk.t.Add(d)
				tr.PutTick()
			}
			require.Equal(t, tt.want, tr.Intervals())
			avg, err := tr.Average()
			if len(tt.want) == 0 {
				require.ErrorIs(t, err, ErrNoIntervals)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.avg, avg)
		})
	}
}

func TestTrackerReset(t *testing.T) {
	clk := &fakeClock{t: time.Unix(1000, 0)}
	tr := NewWithClock(clk.now)
	tr.PutTick()
	clk.t = clk.t.Add(50 * time.Millisecond)
	tr.PutTick()
	require.Len(t, tr.Intervals(), 1)

	tr.Reset()
	require.Empty(t, tr.Intervals())

	// after a reset the next tick primes again
	clk.t = clk.t.Add(time.Second)
	tr.PutTick()
	require.Empty(t, tr.Intervals())
	clk.t = clk.t.Add(10 * time.Millisecond)
	tr.PutTick()
	require.Equal(t, []time.Duration{10 * time.Millisecond}, tr.Intervals())
}
