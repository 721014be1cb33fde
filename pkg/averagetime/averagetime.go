// Package averagetime measures the mean interval between successive ticks.
package averagetime

import (
	"errors"
	"sync"
	"time"
)

// ErrNoIntervals is returned by Average before two ticks have been recorded
var ErrNoIntervals = errors.New("no intervals recorded")

// Tracker records the time between successive calls to PutTick. The first tick only
// primes the reference time.
type Tracker struct {
	mu        sync.Mutex
	now       func() time.Time
	primed    bool
	last      time.Time
	intervals []time.Duration
}

func New() *Tracker {
	return NewWithClock(time.Now)
}

func NewWithClock(now func() time.Time) *Tracker {
	return &Tracker{now: now}
}

func (t *Tracker) PutTick() {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	if t.primed {
		t.intervals = append(t.intervals, now.Sub(t.last))
	}
	t.primed = true
	t.last = now
}

// Average returns the arithmetic mean of the recorded intervals
func (t *Tracker) Average() (time.Duration, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.intervals) == 0 {
		return 0, ErrNoIntervals
	}
	var sum time.Duration
	for _, d := range t.intervals {
		sum += d
	}
	return sum / time.Duration(len(t.intervals)), nil
}

// Intervals returns a copy of the recorded intervals in insertion order
func (t *Tracker) Intervals() []time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]time.Duration, len(t.intervals))
	copy(out, t.intervals)
	return out
}

// Reset empties the interval list and forgets the reference time
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.intervals = t.intervals[:0]
	t.primed = false
	t.last = time.Time{}
}
