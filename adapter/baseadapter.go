package adapter

import (
	"log"
	"path/filepath"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/roffe/curf"
)

type BaseAdapter struct {
	name               string
	cfg                *curf.AdapterConfig
	sendChan, recvChan chan *curf.CANFrame

	errOnce sync.Once
	errChan chan error

	evtChan chan curf.Event

	state atomic.Int32

	closeOnce sync.Once
	closeChan chan struct{}
}

func NewBaseAdapter(name string, cfg *curf.AdapterConfig) *BaseAdapter {
	if cfg.OnMessage == nil {
		cfg.OnMessage = func(msg string) { log.Println(msg) }
	}
	return &BaseAdapter{
		name:      name,
		cfg:       cfg,
		sendChan:  make(chan *curf.CANFrame, 40),
		recvChan:  make(chan *curf.CANFrame, 1024),
		errChan:   make(chan error, 1),
		evtChan:   make(chan curf.Event, 100),
		closeChan: make(chan struct{}),
	}
}

// Name returns the adapter name.
func (base *BaseAdapter) Name() string {
	return base.name
}

// Return the send channel for the adapter
func (base *BaseAdapter) Send() chan<- *curf.CANFrame {
	return base.sendChan
}

// Return the receive channel for the adapter
func (base *BaseAdapter) Recv() <-chan *curf.CANFrame {
	return base.recvChan
}

// Return the error channel for the adapter
func (base *BaseAdapter) Err() <-chan error {
	return base.errChan
}

func (base *BaseAdapter) Event() <-chan curf.Event {
	return base.evtChan
}

func (base *BaseAdapter) State() curf.BusState {
	return curf.BusState(base.state.Load())
}

func (base *BaseAdapter) setState(s curf.BusState) {
	base.state.Store(int32(s))
}

// FlushTx drops every frame waiting in the send queue and returns how many were dropped
func (base *BaseAdapter) FlushTx() int {
	n := 0
	for {
		select {
		case <-base.sendChan:
			n++
		default:
			return n
		}
	}
}

func (base *BaseAdapter) Close() {
	base.closeOnce.Do(func() {
		close(base.closeChan)
		base.setState(curf.BusStateUnknown)
	})
}

// Set a fatal adapter error, meaning communication is broken and cannot continue.
func (base *BaseAdapter) Fatal(err error) {
	base.errOnce.Do(func() {
		base.setState(curf.BusStateError)
		select {
		case base.errChan <- curf.Unrecoverable(err):
		default:
			_, file, no, ok := runtime.Caller(1)
			if ok {
				log.Printf("%s:%d error channel full: %v\n", filepath.Base(file), no, err)
			} else {
				log.Printf("error channel full: %v", err)
			}
		}
	})
}

func (base *BaseAdapter) sendEvent(eventType curf.EventType, details string) {
	select {
	case base.evtChan <- curf.Event{Type: eventType, Details: details}:
	default:
		_, file, no, ok := runtime.Caller(1)
		if ok {
			log.Printf("%s#%d event channel full: %s\n", filepath.Base(file), no, details)
		} else {
			log.Printf("event channel full: %s", details)
		}
	}
}

// Send an error event
func (base *BaseAdapter) Error(err error) {
	base.sendEvent(curf.EventTypeError, err.Error())
}

// Send a warning event
func (base *BaseAdapter) Warn(warn string) {
	base.sendEvent(curf.EventTypeWarning, warn)
}

// Send an info event
func (base *BaseAdapter) Info(info string) {
	base.sendEvent(curf.EventTypeInfo, info)
}

// Send a debug event
func (base *BaseAdapter) Debug(debug string) {
	base.sendEvent(curf.EventTypeDebug, debug)
}
