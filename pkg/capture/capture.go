// Package capture records bus traffic to candump style log files.
package capture

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pion/logging"
	"github.com/roffe/curf"
)

// Tapper provides a subscriber seeing frames in both directions
type Tapper interface {
	Tap(ctx context.Context) *curf.Subscriber
}

type Recorder struct {
	dir      string
	testName string
	channel  string
	now      func() time.Time
	log      logging.LeveledLogger

	mu     sync.Mutex
	id     uuid.UUID
	path   string
	file   io.WriteCloser
	w      *bufio.Writer
	frames int
	cancel context.CancelFunc
	done   chan struct{}
}

type Option func(*Recorder)

func WithClock(now func() time.Time) Option {
	return func(r *Recorder) {
		r.now = now
	}
}

func WithLoggerFactory(f logging.LoggerFactory) Option {
	return func(r *Recorder) {
		r.log = f.NewLogger("capture")
	}
}

// NewRecorder prepares a recorder writing below dir, channel is the interface name
// written on every line
func NewRecorder(dir, testName, channel string, opts ...Option) *Recorder {
	if testName == "" || testName == "None" {
		testName = "curf"
	}
	if channel == "" {
		channel = "can0"
	}
	r := &Recorder{
		dir:      dir,
		testName: testName,
		channel:  strings.ReplaceAll(channel, " ", "_"),
		now:      time.Now,
	}
	for _, o := range opts {
		o(r)
	}
	if r.log == nil {
		r.log = logging.NewDefaultLoggerFactory().NewLogger("capture")
	}
	return r
}

// FileName returns <dir>/<YYYYMMDD>/<test>_<YYYYMMDD>_<HHMMSS>.log for t
func (r *Recorder) FileName(t time.Time) string {
	day := t.Format("20060102")
	return filepath.Join(r.dir, day, fmt.Sprintf("%s_%s_%s.log", r.testName, day, t.Format("150405")))
}

// Open creates the log file and writes the session header
func (r *Recorder) Open() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.file != nil {
		return errors.New("recorder already open")
	}
	started := r.now()
	path := r.FileName(started)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create capture file: %w", err)
	}
	r.id = uuid.New()
	r.path = path
	r.file = f
	r.w = bufio.NewWriter(f)
	r.frames = 0
	fmt.Fprintf(r.w, "# session %s test %s started %s\n", r.id, r.testName, started.Format(time.RFC3339))
	r.log.Infof("recording to %s", path)
	return nil
}

// Start opens the log and records every frame seen by the tapper until Stop or ctx is done
func (r *Recorder) Start(ctx context.Context, t Tapper) error {
	if err := r.Open(); err != nil {
		return err
	}
	cctx, cancel := context.WithCancel(ctx)
	sub := t.Tap(cctx)
	done := make(chan struct{})
	r.mu.Lock()
	r.cancel = cancel
	r.done = done
	r.mu.Unlock()
	go func() {
		defer close(done)
		for f := range sub.Chan() {
			if err := r.Write(f); err != nil {
				r.log.Errorf("capture: %v", err)
			}
		}
	}()
	return nil
}

// Write appends one frame to the log
func (r *Recorder) Write(f *curf.CANFrame) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.w == nil {
		return errors.New("recorder is not open")
	}
	ts := f.Timestamp
	if ts.IsZero() {
		ts = r.now()
	}
	if _, err := fmt.Fprintln(r.w, FormatLine(ts, r.channel, f)); err != nil {
		return err
	}
	r.frames++
	return nil
}

// FormatLine renders a frame as "(sec.usec) channel ID#DATA"
func FormatLine(ts time.Time, channel string, f *curf.CANFrame) string {
	id := fmt.Sprintf("%03X", f.Identifier)
	if f.Extended {
		id = fmt.Sprintf("%08X", f.Identifier)
	}
	return fmt.Sprintf("(%d.%06d) %s %s#%s", ts.Unix(), ts.Nanosecond()/1000, channel, id, f.HexData())
}

// Stop ends the recording and closes the file
func (r *Recorder) Stop() error {
	r.mu.Lock()
	cancel, done := r.cancel, r.done
	r.cancel, r.done = nil, nil
	r.mu.Unlock()
	if cancel != nil {
		cancel()
		<-done
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.file == nil {
		return nil
	}
	err := r.w.Flush()
	if cerr := r.file.Close(); err == nil {
		err = cerr
	}
	r.log.Infof("recorded %d frames to %s", r.frames, r.path)
	r.file, r.w = nil, nil
	return err
}

func (r *Recorder) Path() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.path
}

func (r *Recorder) Session() uuid.UUID {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.id
}

func (r *Recorder) Frames() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.frames
}
