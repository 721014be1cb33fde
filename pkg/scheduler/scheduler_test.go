package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/roffe/curf"
	"github.com/roffe/curf/adapter"
	"github.com/roffe/curf/pkg/signaldb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newBus returns a sending and a listening client on a private virtual channel
func newBus(t *testing.T) (*curf.Client, *curf.Client) {
	t.Helper()
	ctx := context.Background()
	open := func() *curf.Client {
		a, err := adapter.NewVirtual(&curf.AdapterConfig{Port: "scheduler-" + t.Name(), OnMessage: func(string) {}})
		require.NoError(t, err)
		c, err := curf.New(ctx, a)
		require.NoError(t, err)
		t.Cleanup(func() { c.Close() })
		return c
	}
	return open(), open()
}

func loadDB(t *testing.T) *signaldb.Database {
	t.Helper()
	db, err := signaldb.Load("../signaldb/testdata/vehicle.dbc")
	require.NoError(t, err)
	return db
}

// collect returns the payloads of the first n frames received with id
func collect(t *testing.T, c *curf.Client, id uint32, n int) []string {
	t.Helper()
	var out []string
	deadline := time.Now().Add(2 * time.Second)
	for len(out) < n && time.Now().Before(deadline) {
		f, err := c.Recv(context.Background(), 500*time.Millisecond)
		if err != nil {
			continue
		}
		if f.Identifier == id {
			out = append(out, f.HexData())
		}
	}
	require.Len(t, out, n)
	return out
}

func TestStartAndStopAll(t *testing.T) {
	tx, rx := newBus(t)
	s := New(tx, loadDB(t))

	_, err := s.StartPeriodicFrame("123", "0102", 10*time.Millisecond)
	require.NoError(t, err)
	_, err = s.StartPeriodicSignal("HeadLight", 1, 10*time.Millisecond)
	require.NoError(t, err)
	_, err = s.StartPeriodicMessage("EngineStatus", 10*time.Millisecond, "None")
	require.NoError(t, err)
	_, err = s.StartPeriodicMessage("Lights", 10*time.Millisecond, "01FF")
	require.NoError(t, err)
	assert.Equal(t, 4, s.Active())

	for _, p := range collect(t, rx, 0x123, 3) {
		assert.Equal(t, "0102", p)
	}
	for _, p := range collect(t, rx, 0x100, 2) {
		// CoolantTemp has a -40 offset, 0 degC is raw 0x28
		assert.Equal(t, "0000280000000000", p)
	}
	lights := collect(t, rx, 0x200, 6)
	assert.Contains(t, lights, "0100")
	assert.Contains(t, lights, "01FF")

	assert.Equal(t, 4, s.StopAll())
	assert.Equal(t, 0, s.Active())
	assert.Equal(t, 0, s.StopAll())

	time.Sleep(50 * time.Millisecond)
	rx.FlushRx()
	_, err = rx.Recv(context.Background(), 100*time.Millisecond)
	assert.True(t, curf.IsTimeout(err))
}

func TestStopTaskIndividually(t *testing.T) {
	tx, _ := newBus(t)
	s := New(tx, nil)
	task, err := s.StartPeriodicFrame("7DF", "023E00", 20*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, 20*time.Millisecond, task.Period)
	task.Stop()
	assert.Equal(t, 0, s.Active())
	assert.Equal(t, 0, s.StopAll())
}

func TestStartErrors(t *testing.T) {
	tx, _ := newBus(t)
	s := New(tx, loadDB(t))
	var lookupErr *curf.LookupError
	var cfgErr *curf.ConfigurationError

	_, err := s.StartPeriodicMessage("Gearbox", time.Second, "")
	assert.ErrorAs(t, err, &lookupErr)
	_, err = s.StartPeriodicSignal("Boost", 1, time.Second)
	assert.ErrorAs(t, err, &lookupErr)
	_, err = s.StartPeriodicMessage("Lights", time.Second, "0G")
	assert.ErrorAs(t, err, &cfgErr)
	_, err = s.StartPeriodicFrame("123", "010203040506070809", time.Second)
	assert.ErrorAs(t, err, &cfgErr)
	_, err = s.StartPeriodicFrame("123", "01", 0)
	assert.ErrorAs(t, err, &cfgErr)
	_, err = s.StartPeriodicSignal("Brightness", 300, time.Second)
	assert.Error(t, err)
	assert.Equal(t, 0, s.Active())

	_, err = New(tx, nil).StartPeriodicMessage("Lights", time.Second, "")
	assert.ErrorAs(t, err, &cfgErr)
}
