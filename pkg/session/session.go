// Package session owns the bus connection of a test and the engines working on it.
package session

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/avast/retry-go"
	"github.com/pion/logging"
	"github.com/roffe/curf"
	"github.com/roffe/curf/pkg/capture"
	"github.com/roffe/curf/pkg/config"
	"github.com/roffe/curf/pkg/isotp"
	"github.com/roffe/curf/pkg/reception"
	"github.com/roffe/curf/pkg/scheduler"
	"github.com/roffe/curf/pkg/signaldb"
	"github.com/roffe/curf/pkg/uds"
)

// ErrNoISOTP is returned by diagnostic calls before SetISOTP
var ErrNoISOTP = errors.New("ISO-TP is not configured, call SetISOTP first")

const nextRawFrameTimeout = 3 * time.Second

type Session struct {
	cfg      *config.Config
	client   *curf.Client
	db       *signaldb.Database
	recorder *capture.Recorder
	matcher  *reception.Matcher
	sched    *scheduler.Scheduler
	lf       logging.LoggerFactory
	log      logging.LeveledLogger

	mu    sync.Mutex
	stack *isotp.Stack
	diag  *uds.Client

	closeOnce sync.Once
}

// Open connects to the adapter named in cfg, retrying up to cfg.OpenAttempts times,
// loads the database and starts the capture
func Open(ctx context.Context, cfg *config.Config) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	lf := cfg.LoggerFactory()
	s := &Session{
		cfg: cfg,
		lf:  lf,
		log: lf.NewLogger("session"),
	}

	if cfg.Database != "" && cfg.Database != "None" {
		db, err := signaldb.Load(cfg.Database)
		if err != nil {
			return nil, err
		}
		s.db = db
	}

	var setupErr error
	err := retry.Do(func() error {
		dev, err := curf.NewAdapter(cfg.Adapter, cfg.AdapterConfig())
		if err != nil {
			setupErr = err
			return retry.Unrecoverable(err)
		}
		client, err := curf.New(ctx, dev)
		if err != nil {
			return err
		}
		s.client = client
		return nil
	},
		retry.Context(ctx),
		retry.Attempts(cfg.OpenAttempts),
		retry.Delay(500*time.Millisecond),
		retry.OnRetry(func(n uint, err error) {
			s.log.Warnf("open %s attempt %d failed: %v", cfg.Adapter, n+1, err)
		}),
		retry.LastErrorOnly(true),
	)
	if setupErr != nil {
		return nil, setupErr
	}
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", cfg.Adapter, err)
	}
	s.log.Infof("connected to %s", s.client.ChannelInfo())

	if cfg.Capture {
		s.recorder = capture.NewRecorder(cfg.OutputDir, cfg.TestName, cfg.Port, capture.WithLoggerFactory(lf))
		if err := s.recorder.Start(ctx, s.client); err != nil {
			s.client.Close()
			return nil, err
		}
	}

	s.matcher = reception.New(s.client, s.db, reception.WithLoggerFactory(lf))
	s.sched = scheduler.New(s.client, s.db, scheduler.WithLoggerFactory(lf))

	if cfg.ISOTP != nil {
		if err := s.SetISOTP(ctx, cfg.ISOTP.Source, cfg.ISOTP.Destination, cfg.ISOTP.Mode); err != nil {
			s.Close()
			return nil, err
		}
	}
	return s, nil
}

// SetISOTP (re)creates the segmentation stack and diagnostic client for a tester at
// source talking to destination
func (s *Session) SetISOTP(ctx context.Context, source, destination, mode string) error {
	m, err := isotp.ParseAddressingMode(mode)
	if err != nil {
		return err
	}
	src, err := curf.ParseIdentifier(source)
	if err != nil {
		return err
	}
	dst, err := curf.ParseIdentifier(destination)
	if err != nil {
		return err
	}
	addr, err := isotp.AddressFor(m, src, dst)
	if err != nil {
		return err
	}
	params := isotp.DefaultParams()
	if s.cfg.ISOTP != nil {
		if params, err = s.cfg.ISOTP.Params(); err != nil {
			return err
		}
	}
	stack, err := isotp.NewCANStack(ctx, s.client, addr, params, isotp.WithLoggerFactory(s.lf))
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stack != nil {
		s.stack.Close()
	}
	s.stack = stack
	s.diag = uds.New(stack, uds.WithLoggerFactory(s.lf))
	s.log.Infof("ISO-TP %s", addr)
	return nil
}

func (s *Session) Client() *curf.Client {
	return s.client
}

func (s *Session) Database() *signaldb.Database {
	return s.db
}

func (s *Session) Matcher() *reception.Matcher {
	return s.matcher
}

func (s *Session) Scheduler() *scheduler.Scheduler {
	return s.sched
}

func (s *Session) Diag() (*uds.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.diag == nil {
		return nil, ErrNoISOTP
	}
	return s.diag, nil
}

// SendFrame sends a raw frame, data is a hex payload of at most 8 bytes
func (s *Session) SendFrame(id, data string) error {
	identifier, err := curf.ParseIdentifier(id)
	if err != nil {
		return err
	}
	payload, err := curf.ParseHex(data)
	if err != nil {
		return err
	}
	if len(payload) > 8 {
		return &curf.ConfigurationError{Field: "payload", Value: data, Reason: "more than 8 bytes"}
	}
	return s.client.SendFrame(identifier, payload, curf.Outgoing)
}

// SendSignal sends the message owning the signal once, sibling signals are zero
func (s *Session) SendSignal(name string, value float64) error {
	if s.db == nil {
		return &curf.ConfigurationError{Field: "database", Value: "", Reason: "a database is required to send signals"}
	}
	msg, err := s.db.MessageBySignal(name)
	if err != nil {
		return err
	}
	payload, err := msg.EncodeSignal(name, value)
	if err != nil {
		return err
	}
	return s.client.Send(msg.Frame(payload))
}

// MessageNameBySignal returns the name of the message carrying the signal
func (s *Session) MessageNameBySignal(signal string) (string, error) {
	if s.db == nil {
		return "", &curf.LookupError{Kind: "signal", Name: signal}
	}
	msg, err := s.db.MessageBySignal(signal)
	if err != nil {
		return "", err
	}
	return msg.Name, nil
}

// NextRawFrame returns the next received frame, waiting up to 3 seconds
func (s *Session) NextRawFrame(ctx context.Context) (*curf.CANFrame, error) {
	return s.client.Recv(ctx, nextRawFrameTimeout)
}

func (s *Session) Wait(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (s *Session) CANConfig() string {
	return s.client.ChannelInfo()
}

func (s *Session) CANState() curf.BusState {
	return s.client.State()
}

// Flush drops frames waiting for transmission
func (s *Session) Flush() int {
	return s.client.FlushTx()
}

// StopPeriodic cancels every periodic transmission
func (s *Session) StopPeriodic() int {
	return s.sched.StopAll()
}

// LengthMustBe checks that a hex payload holds n bytes
func LengthMustBe(n int, payload string) error {
	if got := len(payload) / 2; got != n {
		return &curf.MismatchError{What: "payload " + payload + " length", Expected: strconv.Itoa(n), Observed: strconv.Itoa(got)}
	}
	return nil
}

// RemoveCharFrom drops the first n characters of payload
func RemoveCharFrom(n int, payload string) (string, error) {
	if n < 0 {
		return "", &curf.ConfigurationError{Field: "character count", Value: strconv.Itoa(n), Reason: "must not be negative"}
	}
	if n >= len(payload) {
		return "", nil
	}
	return payload[n:], nil
}

// EndCAN stops the capture, the bus stays open
func (s *Session) EndCAN() error {
	if s.recorder == nil {
		return nil
	}
	return s.recorder.Stop()
}

// CapturePath returns the capture file, empty when capture is disabled
func (s *Session) CapturePath() string {
	if s.recorder == nil {
		return ""
	}
	return s.recorder.Path()
}

func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		if s.sched != nil {
			s.sched.StopAll()
		}
		s.mu.Lock()
		if s.stack != nil {
			s.stack.Close()
		}
		s.mu.Unlock()
		if rerr := s.EndCAN(); rerr != nil {
			err = fmt.Errorf("capture: %w", rerr)
		}
		if cerr := s.client.Close(); cerr != nil && err == nil {
			err = cerr
		}
	})
	return err
}
