// Package scheduler registers frames, messages and signals for cyclic transmission and
// cancels them as one group.
package scheduler

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/pion/logging"
	"github.com/roffe/curf"
	"github.com/roffe/curf/pkg/signaldb"
)

// Transmitter repeats a frame every period until the returned task is stopped
type Transmitter interface {
	SendPeriodic(frame *curf.CANFrame, period time.Duration) (*curf.PeriodicTask, error)
}

type Scheduler struct {
	mu    sync.Mutex
	tx    Transmitter
	db    *signaldb.Database
	tasks []*curf.PeriodicTask
	log   logging.LeveledLogger
}

type Option func(*Scheduler)

func WithLoggerFactory(f logging.LoggerFactory) Option {
	return func(s *Scheduler) {
		s.log = f.NewLogger("scheduler")
	}
}

func New(tx Transmitter, db *signaldb.Database, opts ...Option) *Scheduler {
	s := &Scheduler{tx: tx, db: db}
	for _, o := range opts {
		o(s)
	}
	if s.log == nil {
		s.log = logging.NewDefaultLoggerFactory().NewLogger("scheduler")
	}
	return s
}

// StartPeriodicMessage sends the named message every period. An empty or None data
// sends the message with every signal at zero, anything else is a hex payload.
func (s *Scheduler) StartPeriodicMessage(name string, period time.Duration, data string) (*curf.PeriodicTask, error) {
	if s.db == nil {
		return nil, &curf.ConfigurationError{Field: "database", Value: "", Reason: "a database is required to send messages"}
	}
	msg, err := s.db.MessageByName(name)
	if err != nil {
		return nil, err
	}
	var payload []byte
	if data = strings.TrimSpace(data); data == "" || data == "None" {
		zero := make(map[string]float64, len(msg.Signals))
		for _, sig := range msg.Signals {
			zero[sig.Name] = 0
		}
		if payload, err = msg.Encode(zero); err != nil {
			return nil, err
		}
	} else if payload, err = curf.ParseHex(data); err != nil {
		return nil, err
	}
	return s.start(msg.Frame(payload), period)
}

// StartPeriodicSignal sends the message owning signal every period, the sibling
// signals are zero
func (s *Scheduler) StartPeriodicSignal(signal string, value float64, period time.Duration) (*curf.PeriodicTask, error) {
	if s.db == nil {
		return nil, &curf.ConfigurationError{Field: "database", Value: "", Reason: "a database is required to send signals"}
	}
	msg, err := s.db.MessageBySignal(signal)
	if err != nil {
		return nil, err
	}
	payload, err := msg.EncodeSignal(signal, value)
	if err != nil {
		return nil, err
	}
	return s.start(msg.Frame(payload), period)
}

// StartPeriodicFrame sends a raw frame every period
func (s *Scheduler) StartPeriodicFrame(id, payload string, period time.Duration) (*curf.PeriodicTask, error) {
	identifier, err := curf.ParseIdentifier(id)
	if err != nil {
		return nil, err
	}
	data, err := curf.ParseHex(payload)
	if err != nil {
		return nil, err
	}
	if len(data) > 8 {
		return nil, &curf.ConfigurationError{Field: "payload", Value: payload, Reason: "more than 8 bytes"}
	}
	return s.start(curf.NewFrame(identifier, data, curf.Outgoing), period)
}

func (s *Scheduler) start(frame *curf.CANFrame, period time.Duration) (*curf.PeriodicTask, error) {
	if period <= 0 {
		return nil, &curf.ConfigurationError{Field: "period", Value: period.String(), Reason: "must be positive"}
	}
	task, err := s.tx.SendPeriodic(frame, period)
	if err != nil {
		return nil, fmt.Errorf("start periodic 0x%s: %w", curf.FormatIdentifier(frame.Identifier), err)
	}
	s.log.Infof("sending 0x%s#%s every %s", curf.FormatIdentifier(frame.Identifier), frame.HexData(), period)
	s.mu.Lock()
	s.tasks = append(s.tasks, task)
	s.mu.Unlock()
	return task, nil
}

// StopAll cancels every task started through the scheduler and returns how many
// were running
func (s *Scheduler) StopAll() int {
	s.mu.Lock()
	tasks := s.tasks
	s.tasks = nil
	s.mu.Unlock()
	var wg sync.WaitGroup
	n := 0
	for _, t := range tasks {
		select {
		case <-t.Done():
			continue
		default:
		}
		n++
		wg.Add(1)
		go func(t *curf.PeriodicTask) {
			defer wg.Done()
			t.Stop()
		}(t)
	}
	wg.Wait()
	if n > 0 {
		s.log.Infof("stopped %d periodic tasks", n)
	}
	return n
}

// Active returns the number of tasks still running
func (s *Scheduler) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, t := range s.tasks {
		select {
		case <-t.Done():
		default:
			n++
		}
	}
	return n
}
