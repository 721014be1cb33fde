// Package reception verifies frames, messages and signals observed on the bus, and
// measures the period of cyclic frames.
package reception

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/pion/logging"
	"github.com/roffe/curf"
	"github.com/roffe/curf/pkg/averagetime"
	"github.com/roffe/curf/pkg/match"
	"github.com/roffe/curf/pkg/signaldb"
)

// FrameSource delivers received frames, it returns a *curf.TimeoutError when nothing
// arrived within timeout
type FrameSource interface {
	Recv(ctx context.Context, timeout time.Duration) (*curf.CANFrame, error)
}

type Matcher struct {
	src      FrameSource
	db       *signaldb.Database
	now      func() time.Time
	log      logging.LeveledLogger
	tickHook func(count, total int)
}

type Option func(*Matcher)

func WithClock(now func() time.Time) Option {
	return func(m *Matcher) {
		m.now = now
	}
}

func WithLoggerFactory(f logging.LoggerFactory) Option {
	return func(m *Matcher) {
		m.log = f.NewLogger("reception")
	}
}

// WithTickHook registers a function called for every frame sampled by CheckPeriod
func WithTickHook(fn func(count, total int)) Option {
	return func(m *Matcher) {
		m.tickHook = fn
	}
}

// New creates a matcher, db may be nil when only raw frames are checked
func New(src FrameSource, db *signaldb.Database, opts ...Option) *Matcher {
	m := &Matcher{
		src: src,
		db:  db,
		now: time.Now,
	}
	for _, o := range opts {
		o(m)
	}
	if m.log == nil {
		m.log = logging.NewDefaultLoggerFactory().NewLogger("reception")
	}
	return m
}

// CheckMessage waits up to timeout for the named message. With expectAbsence the
// message must not be seen in the window.
func (m *Matcher) CheckMessage(ctx context.Context, name string, timeout time.Duration, expectAbsence bool, node string) error {
	msg, err := m.message(name, node)
	if err != nil {
		return err
	}
	f, err := m.wait(ctx, msg, timeout)
	if err != nil {
		if curf.IsTimeout(err) && expectAbsence {
			return nil
		}
		return err
	}
	if expectAbsence {
		return &curf.UnexpectedReceptionError{What: "message " + name, Observed: f.HexData()}
	}
	return nil
}

// Expect waits up to timeout for the named message and returns its decoded signals
func (m *Matcher) Expect(ctx context.Context, name string, timeout time.Duration) (map[string]float64, error) {
	msg, err := m.message(name, "")
	if err != nil {
		return nil, err
	}
	f, err := m.wait(ctx, msg, timeout)
	if err != nil {
		return nil, err
	}
	return msg.Decode(f.Data)
}

// CheckSignal waits for the message owning the signal and compares the decoded value.
// expected is a number, ANY or NoReception.
func (m *Matcher) CheckSignal(ctx context.Context, signal, expected string, timeout time.Duration, node string) error {
	if m.db == nil {
		return &curf.ConfigurationError{Field: "database", Value: "", Reason: "a database is required to check signals"}
	}
	owner, err := m.db.MessageBySignal(signal)
	if err != nil {
		return err
	}
	msg, err := m.message(owner.Name, node)
	if err != nil {
		return err
	}
	sig, err := msg.Signal(signal)
	if err != nil {
		return err
	}
	exp := match.ParseExpectation(expected)
	var want float64
	if exp.Kind == match.Value {
		want, err = strconv.ParseFloat(strings.TrimSpace(expected), 64)
		if err != nil {
			return &curf.ConfigurationError{Field: "signal value", Value: expected, Err: err}
		}
	}

	f, err := m.wait(ctx, msg, timeout)
	if err != nil {
		if curf.IsTimeout(err) && exp.Kind == match.Absence {
			return nil
		}
		return err
	}
	values, err := msg.Decode(f.Data)
	if err != nil {
		return err
	}
	got := values[sig.Name]
	observed := strconv.FormatFloat(got, 'g', -1, 64)
	switch exp.Kind {
	case match.Absence:
		return &curf.UnexpectedReceptionError{What: "signal " + signal, Observed: observed}
	case match.Anything:
		return nil
	}
	if !equalValue(got, want) {
		return &curf.MismatchError{What: "signal " + signal, Expected: strings.TrimSpace(expected), Observed: observed}
	}
	return nil
}

// equalValue compares decoded values, scaling makes exact float comparison unreliable
func equalValue(a, b float64) bool {
	return math.Abs(a-b) <= 1e-9*math.Max(1, math.Abs(b))
}

// CheckFrame waits for a frame with expectedID and checks its payload, which is a hex
// string, ANY or NoReception. Frames with other identifiers are skipped until timeout,
// measured from the call, has elapsed.
func (m *Matcher) CheckFrame(ctx context.Context, expectedID, expectedPayload string, timeout time.Duration, node string) error {
	id, err := curf.ParseIdentifier(expectedID)
	if err != nil {
		return err
	}
	if _, err := m.node(node); err != nil {
		return err
	}
	exp := match.ParseExpectation(expectedPayload)
	if exp.Kind == match.Value {
		if _, err := curf.ParseHex(exp.Value); err != nil {
			return err
		}
	}
	want := curf.FormatIdentifier(id)

	deadline := m.now().Add(timeout)
	var other *curf.CANFrame
	for {
		remaining := deadline.Sub(m.now())
		f, err := m.src.Recv(ctx, remaining)
		if err != nil {
			if !curf.IsTimeout(err) {
				return err
			}
			if exp.Kind == match.Absence {
				return nil
			}
			return m.frameTimeout(want, timeout, other)
		}
		if curf.FormatIdentifier(f.Identifier) != want {
			other = f
			if !m.now().Before(deadline) {
				if exp.Kind == match.Absence {
					return nil
				}
				return m.frameTimeout(want, timeout, other)
			}
			continue
		}
		observed := f.HexData()
		m.log.Debugf("frame 0x%s received: %s", want, observed)
		switch exp.Kind {
		case match.Anything:
			return nil
		case match.Absence:
			return &curf.UnexpectedReceptionError{What: "frame 0x" + want, Observed: observed}
		}
		if observed != exp.Value {
			return &curf.MismatchError{What: "frame 0x" + want + " payload", Expected: exp.Value, Observed: observed}
		}
		return nil
	}
}

func (m *Matcher) frameTimeout(want string, timeout time.Duration, other *curf.CANFrame) error {
	id, _ := curf.ParseIdentifier(want)
	te := &curf.TimeoutError{Timeout: timeout, Frames: []uint32{id}, Type: "frame"}
	if other != nil {
		te.Detail = fmt.Sprintf("last frame received was 0x%s#%s", curf.FormatIdentifier(other.Identifier), other.HexData())
	}
	return te
}

// CheckPeriod samples up to samples frames of frameID and verifies that their mean
// interval lies strictly between 0.9 and 1.1 times period
func (m *Matcher) CheckPeriod(ctx context.Context, frameID string, period time.Duration, samples int) error {
	id, err := curf.ParseIdentifier(frameID)
	if err != nil {
		return err
	}
	if period <= 0 {
		return &curf.ConfigurationError{Field: "period", Value: period.String(), Reason: "must be positive"}
	}
	if samples <= 0 {
		return &curf.ConfigurationError{Field: "sample count", Value: strconv.Itoa(samples), Reason: "must be positive"}
	}
	want := curf.FormatIdentifier(id)

	tracker := averagetime.NewWithClock(m.now)
	tracker.Reset()
	deadline := m.now().Add(period*time.Duration(samples) + time.Second)
	count := 0
	for count < samples && m.now().Before(deadline) {
		f, err := m.src.Recv(ctx, period+time.Second)
		if err != nil {
			if curf.IsTimeout(err) {
				continue
			}
			return err
		}
		if curf.FormatIdentifier(f.Identifier) != want {
			continue
		}
		tracker.PutTick()
		count++
		if m.tickHook != nil {
			m.tickHook(count, samples)
		}
	}
	if count == 0 {
		return &curf.PeriodError{Identifier: want, Expected: period}
	}
	avg, err := tracker.Average()
	if err != nil {
		if errors.Is(err, averagetime.ErrNoIntervals) {
			return fmt.Errorf("frame 0x%s: only one message received: %w", want, err)
		}
		return err
	}
	m.log.Infof("frame 0x%s: mean period %s over %d frames", want, avg, count)
	lo, hi := period*9/10, period*11/10
	if avg <= lo || avg >= hi {
		return &curf.PeriodError{Identifier: want, Expected: period, Measured: avg, Samples: count}
	}
	return nil
}

func (m *Matcher) message(name, node string) (*signaldb.Message, error) {
	if m.db == nil {
		return nil, &curf.ConfigurationError{Field: "database", Value: "", Reason: "a database is required to check messages"}
	}
	msg, err := m.db.MessageByName(name)
	if err != nil {
		return nil, err
	}
	if _, err := m.node(node); err != nil {
		return nil, err
	}
	return msg, nil
}

// node resolves an optional node name, empty or None selects the first database node
func (m *Matcher) node(name string) (string, error) {
	if m.db == nil {
		return name, nil
	}
	if name == "" || name == "None" {
		if len(m.db.Nodes) == 0 {
			return "", nil
		}
		return m.db.DefaultNode()
	}
	if !m.db.HasNode(name) {
		return "", &curf.LookupError{Kind: "node", Name: name}
	}
	return name, nil
}

// wait returns the first frame carrying msg within timeout
func (m *Matcher) wait(ctx context.Context, msg *signaldb.Message, timeout time.Duration) (*curf.CANFrame, error) {
	deadline := m.now().Add(timeout)
	for {
		remaining := deadline.Sub(m.now())
		if remaining <= 0 {
			break
		}
		f, err := m.src.Recv(ctx, remaining)
		if err != nil {
			if curf.IsTimeout(err) {
				break
			}
			return nil, err
		}
		if f.Identifier == msg.ID && len(f.Data) >= msg.Length {
			return f, nil
		}
	}
	return nil, &curf.TimeoutError{Timeout: timeout, Frames: []uint32{msg.ID}, Type: "message " + msg.Name}
}
