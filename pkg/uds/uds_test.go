package uds

import (
	"context"
	"encoding/hex"
	"errors"
	"testing"
	"time"

	"github.com/roffe/curf"
	"github.com/roffe/curf/pkg/isotp"
	"github.com/roffe/curf/pkg/match"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time { return c.t }

func (c *fakeClock) sleep(d time.Duration) { c.t = c.t.Add(d) }

type scripted struct {
	at   time.Duration
	data []byte
}

// fakeTransport releases scripted responses once the clock passes their offset
type fakeTransport struct {
	clk     *fakeClock
	start   time.Time
	script  []scripted
	queue   [][]byte
	sent    [][]byte
	targets []isotp.TargetAddressType
	pending int
	err     error
	stopped int
}

func newFake(clk *fakeClock, script ...scripted) *fakeTransport {
	return &fakeTransport{clk: clk, start: clk.t, script: script}
}

func (f *fakeTransport) Send(data []byte, target isotp.TargetAddressType) error {
	f.sent = append(f.sent, data)
	f.targets = append(f.targets, target)
	f.pending = 3
	return nil
}

func (f *fakeTransport) Process() {
	if f.pending > 0 {
		f.pending--
	}
	for len(f.script) > 0 && !f.clk.t.Before(f.start.Add(f.script[0].at)) {
		f.queue = append(f.queue, f.script[0].data)
		f.script = f.script[1:]
	}
}

func (f *fakeTransport) Recv() ([]byte, bool) {
	if len(f.queue) == 0 {
		return nil, false
	}
	d := f.queue[0]
	f.queue = f.queue[1:]
	return d, true
}

func (f *fakeTransport) Transmitting() bool       { return f.pending > 0 }
func (f *fakeTransport) SleepTime() time.Duration { return 10 * time.Millisecond }
func (f *fakeTransport) StopReceiving()           { f.stopped++ }

func (f *fakeTransport) TakeError() error {
	err := f.err
	f.err = nil
	return err
}

func newClient(script ...scripted) (*Client, *fakeTransport, *fakeClock) {
	clk := &fakeClock{t: time.Unix(1700000000, 0)}
	tp := newFake(clk, script...)
	return New(tp, WithClock(clk.now, clk.sleep)), tp, clk
}

func TestCheckResponse(t *testing.T) {
	tests := []struct {
		name    string
		script  []scripted
		expect  string
		policy  match.Policy
		outcome Outcome
		err     any
	}{
		{
			name:    "exact match",
			script:  []scripted{{100 * time.Millisecond, []byte{0x62, 0xF1, 0x90, 0x41}}},
			expect:  "62F19041",
			policy:  match.Exact,
			outcome: Good,
		},
		{
			name:    "lowercase expectation with spaces",
			script:  []scripted{{0, []byte{0x50, 0x03, 0x00, 0x32}}},
			expect:  "50 03 00 32",
			policy:  match.Exact,
			outcome: Good,
		},
		{
			name:    "exact mismatch",
			script:  []scripted{{0, []byte{0x62, 0xF1, 0x90, 0x42}}},
			expect:  "62F19041",
			policy:  match.Exact,
			outcome: Bad,
			err:     new(*curf.MismatchError),
		},
		{
			name:    "contains",
			script:  []scripted{{0, []byte{0x62, 0xF1, 0x90, 0x41, 0x42}}},
			expect:  "9041",
			policy:  match.Contains,
			outcome: Good,
		},
		{
			name:    "starts with",
			script:  []scripted{{0, []byte{0x67, 0x01, 0x11, 0x22}}},
			expect:  "6701",
			policy:  match.StartsWith,
			outcome: Good,
		},
		{
			name:    "not starts with",
			script:  []scripted{{0, []byte{0x67, 0x01, 0x11, 0x22}}},
			expect:  "7F",
			policy:  match.NotStartsWith,
			outcome: Good,
		},
		{
			name:    "not starts with fails",
			script:  []scripted{{0, []byte{0x7F, 0x27, 0x35}}},
			expect:  "7F",
			policy:  match.NotStartsWith,
			outcome: Bad,
			err:     new(*NegativeResponseError),
		},
		{
			name:    "any",
			script:  []scripted{{0, []byte{0x7F, 0x22, 0x31}}},
			expect:  match.Any,
			policy:  match.Exact,
			outcome: Good,
		},
		{
			name:    "negative response",
			script:  []scripted{{0, []byte{0x7F, 0x22, 0x31}}},
			expect:  "62F190",
			policy:  match.StartsWith,
			outcome: Bad,
			err:     new(*NegativeResponseError),
		},
		{
			name: "pending extends the deadline",
			script: []scripted{
				{800 * time.Millisecond, []byte{0x7F, 0x10, 0x78}},
				{1600 * time.Millisecond, []byte{0x62, 0x10, 0x00, 0xAA}},
			},
			expect:  "621000AA",
			policy:  match.Exact,
			outcome: Good,
		},
		{
			name:    "late response times out",
			script:  []scripted{{1600 * time.Millisecond, []byte{0x62, 0x10, 0x00, 0xAA}}},
			expect:  "621000AA",
			policy:  match.Exact,
			outcome: Timeout,
			err:     new(*curf.TimeoutError),
		},
		{
			name:    "no reception expected",
			expect:  match.NoReception,
			policy:  match.Exact,
			outcome: Good,
		},
		{
			name:    "no reception after pending only",
			script:  []scripted{{200 * time.Millisecond, []byte{0x7F, 0x31, 0x78}}},
			expect:  match.NoReceptionAlt,
			policy:  match.Exact,
			outcome: Good,
		},
		{
			name:    "reception while none expected",
			script:  []scripted{{500 * time.Millisecond, []byte{0x50, 0x01}}},
			expect:  match.NoReception,
			policy:  match.Exact,
			outcome: Bad,
			err:     new(*curf.UnexpectedReceptionError),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _, _ := newClient(tt.script...)
			res, err := c.CheckResponse(context.Background(), tt.expect, time.Second, tt.policy)
			assert.Equal(t, tt.outcome, res.Outcome)
			if tt.err == nil {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.ErrorAs(t, err, tt.err)
		})
	}
}

func TestCheckResponseTimeoutStopsReception(t *testing.T) {
	c, tp, clk := newClient()
	start := clk.t
	res, err := c.CheckResponse(context.Background(), "6701", 500*time.Millisecond, match.Exact)
	assert.Equal(t, Timeout, res.Outcome)
	assert.True(t, curf.IsTimeout(err))
	assert.Equal(t, 1, tp.stopped)
	assert.False(t, clk.t.Before(start.Add(500*time.Millisecond)))
}

func TestCheckResponseProtocolError(t *testing.T) {
	c, tp, _ := newClient()
	tp.err = isotp.ConsecutiveFrameTimeoutError{}
	_, err := c.CheckResponse(context.Background(), "6701", time.Second, match.Exact)
	var cfErr isotp.ConsecutiveFrameTimeoutError
	assert.True(t, errors.As(err, &cfErr))
}

func TestCheckResponseCancelled(t *testing.T) {
	c, _, _ := newClient()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.CheckResponse(ctx, "6701", time.Second, match.Exact)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSendRequest(t *testing.T) {
	c, tp, _ := newClient()
	tp.queue = [][]byte{{0x50, 0x01}}
	require.NoError(t, c.SendRequestHex(context.Background(), "10 03", "Functional"))
	assert.Equal(t, [][]byte{{0x10, 0x03}}, tp.sent)
	assert.Equal(t, []isotp.TargetAddressType{isotp.Functional}, tp.targets)
	assert.False(t, tp.Transmitting())
	assert.Empty(t, tp.queue, "stale responses are dropped before sending")

	assert.Error(t, c.SendRequestHex(context.Background(), "1", "Physical"))
	assert.Error(t, c.SendRequestHex(context.Background(), "1003", "Broadcast"))
	assert.Error(t, c.SendRequest(context.Background(), nil, isotp.Physical))
}

func TestNextFrame(t *testing.T) {
	c, _, _ := newClient(
		scripted{0, []byte{0x7F, 0x19, 0x78}},
		scripted{300 * time.Millisecond, []byte{0x59, 0x02, 0xFF}},
	)
	got, err := c.NextFrame(context.Background(), time.Second)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x59, 0x02, 0xFF}, got)

	_, err = c.NextFrame(context.Background(), 100*time.Millisecond)
	assert.True(t, curf.IsTimeout(err))
}

func TestNegativeResponse(t *testing.T) {
	err := CheckErr([]byte{0x7F, 0x27, 0x35})
	require.Error(t, err)
	assert.Equal(t, "negative response to SecurityAccess (0x27): Invalid key (0x35)", err.Error())
	assert.NoError(t, CheckErr([]byte{0x7F, 0x27, 0x78}))
	assert.NoError(t, CheckErr([]byte{0x67, 0x02}))
	assert.True(t, IsPending([]byte{0x7F, 0x22, 0x78}))
	assert.False(t, IsPending([]byte{0x7F, 0x22}))
}

func TestKeyFromSeed(t *testing.T) {
	tests := []struct {
		seed, c1, c2 string
		want         string
		wantErr      bool
	}{
		{"11223344", "01", "02", "11223347", false},
		{"0x00000000", "A", "B", "00000015", false},
		{"FFFFFFFF", "1", "0", "", true},
		{"zz", "1", "0", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.seed, func(t *testing.T) {
			got, err := KeyFromSeed(tt.seed, tt.c1, tt.c2)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCMACKey(t *testing.T) {
	key, _ := curf.ParseHex("2b7e151628aed2a6abf7158809cf4f3c")
	msg, _ := curf.ParseHex("6bc1bee22e409f96e93d7e117393172a")
	got, err := CMACKey(key, msg)
	require.NoError(t, err)
	assert.Equal(t, "070a16b46b4d4144f79bdd9dd04a287c", hex.EncodeToString(got))

	_, err = CMACKey([]byte{1, 2, 3}, msg)
	assert.Error(t, err)
}
