package reception

import (
	"context"
	"sort"
	"testing"
	"time"

	"github.com/roffe/curf"
	"github.com/roffe/curf/pkg/signaldb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time { return c.t }

type timedFrame struct {
	at    time.Duration
	frame *curf.CANFrame
}

// fakeSource hands out frames at their offset from start and moves the clock forward
// as a blocking receive would
type fakeSource struct {
	clk    *fakeClock
	start  time.Time
	frames []timedFrame
	calls  int
}

func (s *fakeSource) Recv(_ context.Context, timeout time.Duration) (*curf.CANFrame, error) {
	s.calls++
	if len(s.frames) > 0 {
		at := s.start.Add(s.frames[0].at)
		if !at.After(s.clk.t.Add(max(timeout, 0))) {
			if at.After(s.clk.t) {
				s.clk.t = at
			}
			f := s.frames[0].frame
			s.frames = s.frames[1:]
			return f, nil
		}
	}
	if timeout > 0 {
		s.clk.t = s.clk.t.Add(timeout)
	}
	return nil, &curf.TimeoutError{Timeout: timeout, Type: "recv"}
}

func frame(id uint32, data string) *curf.CANFrame {
	b, err := curf.ParseHex(data)
	if err != nil {
		panic(err)
	}
	return curf.NewFrame(id, b, curf.Incoming)
}

func at(d time.Duration, f *curf.CANFrame) timedFrame {
	return timedFrame{at: d, frame: f}
}

// every emits n frames of id, the first one at offset
func every(id uint32, offset, period time.Duration, n int) []timedFrame {
	out := make([]timedFrame, n)
	for i := range n {
		out[i] = at(offset+time.Duration(i)*period, frame(id, "00"))
	}
	return out
}

func merge(a, b []timedFrame) []timedFrame {
	out := append(append([]timedFrame(nil), a...), b...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].at < out[j].at })
	return out
}

func loadDB(t *testing.T) *signaldb.Database {
	t.Helper()
	db, err := signaldb.Load("../signaldb/testdata/vehicle.dbc")
	require.NoError(t, err)
	return db
}

func newMatcher(t *testing.T, frames []timedFrame, opts ...Option) (*Matcher, *fakeSource, *fakeClock) {
	t.Helper()
	clk := &fakeClock{t: time.Unix(1700000000, 0)}
	src := &fakeSource{clk: clk, start: clk.t, frames: frames}
	opts = append([]Option{WithClock(clk.now)}, opts...)
	return New(src, loadDB(t), opts...), src, clk
}

func TestCheckFrame(t *testing.T) {
	tests := []struct {
		name    string
		frames  []timedFrame
		id      string
		payload string
		err     any
	}{
		{
			name:    "matching payload",
			frames:  []timedFrame{at(0, frame(0x123, "0102")), at(100*time.Millisecond, frame(0x321, "AABB"))},
			id:      "321",
			payload: "aabb",
		},
		{
			name:    "any payload",
			frames:  []timedFrame{at(50*time.Millisecond, frame(0x18FEF100, "FF"))},
			id:      "0x18fef100",
			payload: "ANY",
		},
		{
			name:    "wrong payload",
			frames:  []timedFrame{at(0, frame(0x321, "AABC"))},
			id:      "321",
			payload: "AABB",
			err:     new(*curf.MismatchError),
		},
		{
			name:    "nothing received",
			id:      "321",
			payload: "AABB",
			err:     new(*curf.TimeoutError),
		},
		{
			name:    "no reception expected and none received",
			id:      "321",
			payload: "NoReception",
		},
		{
			name:    "no reception expected but received",
			frames:  []timedFrame{at(200*time.Millisecond, frame(0x321, "00"))},
			id:      "321",
			payload: "NO_RECEPTION",
			err:     new(*curf.UnexpectedReceptionError),
		},
		{
			name:    "only other identifiers",
			frames:  every(0x100, 0, 300*time.Millisecond, 10),
			id:      "321",
			payload: "ANY",
			err:     new(*curf.TimeoutError),
		},
		{
			name:    "only other identifiers while none expected",
			frames:  every(0x100, 0, 300*time.Millisecond, 10),
			id:      "321",
			payload: "NoReception",
		},
		{
			name:    "expected frame after the window",
			frames:  []timedFrame{at(1500*time.Millisecond, frame(0x321, "AABB"))},
			id:      "321",
			payload: "AABB",
			err:     new(*curf.TimeoutError),
		},
		{
			name:    "bad identifier",
			id:      "xyz",
			payload: "ANY",
			err:     new(*curf.ConfigurationError),
		},
		{
			name:    "bad payload",
			id:      "321",
			payload: "ABC",
			err:     new(*curf.ConfigurationError),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, _, _ := newMatcher(t, tt.frames)
			err := m.CheckFrame(context.Background(), tt.id, tt.payload, time.Second, "")
			if tt.err == nil {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.ErrorAs(t, err, tt.err)
		})
	}
}

func TestCheckFrameStopsAtDeadline(t *testing.T) {
	m, _, clk := newMatcher(t, every(0x100, 0, 100*time.Millisecond, 50))
	start := clk.t
	err := m.CheckFrame(context.Background(), "200", "ANY", time.Second, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "0x100#00")
	assert.WithinDuration(t, start.Add(time.Second), clk.t, 100*time.Millisecond)
}

func TestCheckFrameUnknownNode(t *testing.T) {
	m, _, _ := newMatcher(t, nil)
	err := m.CheckFrame(context.Background(), "100", "ANY", time.Second, "GATEWAY")
	var lookupErr *curf.LookupError
	assert.ErrorAs(t, err, &lookupErr)
}

func TestCheckMessage(t *testing.T) {
	engine := frame(0x100, "A00F820000000000")
	tests := []struct {
		name    string
		frames  []timedFrame
		msg     string
		absence bool
		node    string
		err     any
	}{
		{"received", []timedFrame{at(300*time.Millisecond, engine)}, "EngineStatus", false, "None", nil},
		{"not received", nil, "EngineStatus", false, "", new(*curf.TimeoutError)},
		{"absent as expected", []timedFrame{at(0, frame(0x200, "0100"))}, "EngineStatus", true, "", nil},
		{"present while absence expected", []timedFrame{at(0, engine)}, "EngineStatus", true, "ECU", new(*curf.UnexpectedReceptionError)},
		{"unknown message", nil, "Gearbox", false, "", new(*curf.LookupError)},
		{"unknown node", nil, "EngineStatus", false, "BCM", new(*curf.LookupError)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, _, _ := newMatcher(t, tt.frames)
			err := m.CheckMessage(context.Background(), tt.msg, time.Second, tt.absence, tt.node)
			if tt.err == nil {
				require.NoError(t, err)
				return
			}
			assert.ErrorAs(t, err, tt.err)
		})
	}
}

func TestCheckSignal(t *testing.T) {
	engine := frame(0x100, "A00F820000000000")
	tests := []struct {
		name     string
		frames   []timedFrame
		signal   string
		expected string
		err      any
	}{
		{"scaled value", []timedFrame{at(0, engine)}, "EngineSpeed", "1000", nil},
		{"offset value", []timedFrame{at(0, engine)}, "CoolantTemp", "90.0", nil},
		{"any value", []timedFrame{at(0, engine)}, "Torque", "ANY", nil},
		{"wrong value", []timedFrame{at(0, engine)}, "CoolantTemp", "91", new(*curf.MismatchError)},
		{"not received", nil, "EngineSpeed", "1000", new(*curf.TimeoutError)},
		{"absent as expected", nil, "EngineSpeed", "NoReception", nil},
		{"present while absence expected", []timedFrame{at(0, engine)}, "EngineSpeed", "NoReception", new(*curf.UnexpectedReceptionError)},
		{"unknown signal", nil, "Boost", "1", new(*curf.LookupError)},
		{"bad value", nil, "EngineSpeed", "fast", new(*curf.ConfigurationError)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, _, _ := newMatcher(t, tt.frames)
			err := m.CheckSignal(context.Background(), tt.signal, tt.expected, time.Second, "")
			if tt.err == nil {
				require.NoError(t, err)
				return
			}
			assert.ErrorAs(t, err, tt.err)
		})
	}
}

func TestExpect(t *testing.T) {
	m, _, _ := newMatcher(t, []timedFrame{
		at(0, frame(0x200, "0180")),
		at(10*time.Millisecond, frame(0x100, "A00F820000000000")),
	})
	values, err := m.Expect(context.Background(), "EngineStatus", time.Second)
	require.NoError(t, err)
	assert.InDelta(t, 1000, values["EngineSpeed"], 1e-9)
	assert.InDelta(t, 90, values["CoolantTemp"], 1e-9)
	assert.InDelta(t, 0, values["Torque"], 1e-9)
}

func TestCheckPeriod(t *testing.T) {
	period := 100 * time.Millisecond
	tests := []struct {
		name   string
		frames []timedFrame
		id     string
		err    string
	}{
		{"exact period", every(0x123, 0, period, 10), "123", ""},
		{"interleaved traffic", merge(every(0x123, 0, period, 10), every(0x456, 5*time.Millisecond, 30*time.Millisecond, 40)), "0x123", ""},
		{"too slow", every(0x123, 0, 150*time.Millisecond, 10), "123", "measured period"},
		{"too fast", every(0x123, 0, 80*time.Millisecond, 10), "123", "measured period"},
		{"no message", every(0x456, 0, period, 10), "123", "no message received"},
		{"single message", every(0x123, 0, period, 1), "123", "only one message received"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, _, _ := newMatcher(t, tt.frames)
			err := m.CheckPeriod(context.Background(), tt.id, period, 10)
			if tt.err == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.err)
		})
	}
}

func TestCheckPeriodTickHook(t *testing.T) {
	var ticks []int
	m, _, _ := newMatcher(t, every(0x123, 0, 50*time.Millisecond, 5), WithTickHook(func(count, total int) {
		assert.Equal(t, 5, total)
		ticks = append(ticks, count)
	}))
	require.NoError(t, m.CheckPeriod(context.Background(), "123", 50*time.Millisecond, 5))
	assert.Equal(t, []int{1, 2, 3, 4, 5}, ticks)
}

func TestCheckPeriodInvalidArguments(t *testing.T) {
	m, _, _ := newMatcher(t, nil)
	var cfgErr *curf.ConfigurationError
	assert.ErrorAs(t, m.CheckPeriod(context.Background(), "123", 0, 5), &cfgErr)
	assert.ErrorAs(t, m.CheckPeriod(context.Background(), "123", time.Second, 0), &cfgErr)
	assert.ErrorAs(t, m.CheckPeriod(context.Background(), "", time.Second, 5), &cfgErr)
}

func TestChecksWithoutDatabase(t *testing.T) {
	clk := &fakeClock{t: time.Unix(0, 0)}
	m := New(&fakeSource{clk: clk, start: clk.t}, nil, WithClock(clk.now))
	var cfgErr *curf.ConfigurationError
	assert.ErrorAs(t, m.CheckMessage(context.Background(), "EngineStatus", time.Second, false, ""), &cfgErr)
	assert.ErrorAs(t, m.CheckSignal(context.Background(), "EngineSpeed", "1", time.Second, ""), &cfgErr)
	assert.NoError(t, m.CheckFrame(context.Background(), "100", "NoReception", time.Second, "ANY_NODE"))
}
