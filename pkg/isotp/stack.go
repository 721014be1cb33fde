// Package isotp implements ISO 15765-2 segmentation over classic CAN frames.
package isotp

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/pion/logging"
	"github.com/roffe/curf"
)

// RxFunc returns the next received frame or nil, it must not block
type RxFunc func() *curf.CANFrame

// TxFunc transmits a frame
type TxFunc func(*curf.CANFrame) error

// ErrorHandler is called with every protocol error, while the stack is locked
type ErrorHandler func(error)

const (
	pciSingleFrame      = 0x0
	pciFirstFrame       = 0x1
	pciConsecutiveFrame = 0x2
	pciFlowControl      = 0x3

	flowContinueToSend = 0x0
	flowWait           = 0x1
	flowOverflow       = 0x2

	canDataLength = 8
)

type rxState int

const (
	rxIdle rxState = iota
	rxWaitCF
)

type txState int

const (
	txIdle txState = iota
	txWaitFC
	txTransmitCF
)

type txRequest struct {
	data   []byte
	target TargetAddressType
}

// Stack is a single threaded ISO-TP state machine advanced by Process
type Stack struct {
	mu      sync.Mutex
	addr    *Address
	params  Params
	rxfn    RxFunc
	txfn    TxFunc
	onError ErrorHandler
	now     func() time.Time
	log     logging.LeveledLogger
	closeFn func()

	txQueue []txRequest
	rxQueue [][]byte
	lastErr error

	rxState        rxState
	rxBuffer       []byte
	rxLength       int
	rxSeq          byte
	rxBlockCounter int
	rxDeadline     time.Time

	txState         txState
	txData          []byte
	txTarget        TargetAddressType
	txSeq           byte
	txBlockCounter  int
	remoteBlockSize int
	remoteStMin     time.Duration
	nextCF          time.Time
	fcDeadline      time.Time
	wftCounter      int
}

type Option func(*Stack)

func WithClock(now func() time.Time) Option {
	return func(s *Stack) {
		s.now = now
	}
}

func WithLoggerFactory(f logging.LoggerFactory) Option {
	return func(s *Stack) {
		s.log = f.NewLogger("isotp")
	}
}

func WithErrorHandler(h ErrorHandler) Option {
	return func(s *Stack) {
		s.onError = h
	}
}

func NewStack(addr *Address, params Params, rxfn RxFunc, txfn TxFunc, opts ...Option) (*Stack, error) {
	if addr == nil {
		return nil, errors.New("address must be provided")
	}
	if err := params.Validate(); err != nil {
		return nil, &curf.ConfigurationError{Field: "isotp params", Value: fmt.Sprintf("%+v", params), Err: err}
	}
	s := &Stack{
		addr:   addr,
		params: params,
		rxfn:   rxfn,
		txfn:   txfn,
		now:    time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	if s.log == nil {
		s.log = logging.NewDefaultLoggerFactory().NewLogger("isotp")
	}
	return s, nil
}

// NewCANStack runs a stack on top of a client, frames for the address are taken from a
// dedicated subscription that lives until ctx is done or Close is called.
func NewCANStack(ctx context.Context, client *curf.Client, addr *Address, params Params, opts ...Option) (*Stack, error) {
	if addr == nil {
		return nil, errors.New("address must be provided")
	}
	sub := client.Subscribe(ctx, addr.RxArbitrationIDs()...)
	s, err := NewStack(addr, params, sub.TryNext, client.Send, opts...)
	if err != nil {
		sub.Close()
		return nil, err
	}
	s.closeFn = sub.Close
	return s, nil
}

func (s *Stack) Address() *Address {
	return s.addr
}

// Send queues a payload for transmission
func (s *Stack) Send(data []byte, target TargetAddressType) error {
	if len(data) == 0 {
		return errors.New("cannot send an empty payload")
	}
	if len(data) > maxFrameSize {
		return fmt.Errorf("payload of %d bytes exceeds %d", len(data), maxFrameSize)
	}
	if target == Functional && len(data) > s.maxSingleFrame() {
		return fmt.Errorf("functional addressing only supports single frames of up to %d bytes", s.maxSingleFrame())
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.txQueue = append(s.txQueue, txRequest{data: append([]byte(nil), data...), target: target})
	return nil
}

// Available reports whether a complete payload is waiting in the receive queue
func (s *Stack) Available() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rxQueue) > 0
}

// Recv pops the oldest complete payload
func (s *Stack) Recv() ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.rxQueue) == 0 {
		return nil, false
	}
	data := s.rxQueue[0]
	s.rxQueue = s.rxQueue[1:]
	return data, true
}

// Transmitting reports whether a payload is queued or being sent
func (s *Stack) Transmitting() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.txQueue) > 0 || s.txState != txIdle
}

// SleepTime is the recommended delay between two calls to Process
func (s *Stack) SleepTime() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.rxState != rxIdle || s.txState != txIdle || len(s.txQueue) > 0 {
		return s.params.SleepActive
	}
	return s.params.SleepIdle
}

// TakeError returns the first protocol error since the last call and clears it
func (s *Stack) TakeError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	err := s.lastErr
	s.lastErr = nil
	return err
}

func (s *Stack) StopSending() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopSending()
}

func (s *Stack) StopReceiving() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopReceiving()
}

// Reset drops every queued payload and returns both state machines to idle
func (s *Stack) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.txQueue = nil
	s.rxQueue = nil
	s.lastErr = nil
	s.stopSending()
	s.stopReceiving()
}

func (s *Stack) Close() {
	if s.closeFn != nil {
		s.closeFn()
	}
}

// Process consumes every pending frame and sends whatever the state machines allow
func (s *Stack) Process() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for {
		f := s.rxfn()
		if f == nil {
			break
		}
		if s.addr.IsForMe(f) {
			s.processRx(f)
		}
	}
	s.checkTimeouts()
	s.processTx()
}

func (s *Stack) maxSingleFrame() int {
	return canDataLength - 1 - len(s.addr.TxPrefix())
}

func (s *Stack) processRx(f *curf.CANFrame) {
	data := f.Data[s.addr.RxPrefixSize():]
	if len(data) == 0 {
		s.trigger(InvalidCanDataError{Reason: "empty frame"})
		return
	}
	switch data[0] >> 4 {
	case pciSingleFrame:
		n := int(data[0] & 0x0F)
		if n == 0 || n > len(data)-1 {
			s.trigger(InvalidCanDataError{Reason: fmt.Sprintf("single frame length %d", n)})
			return
		}
		if s.rxState == rxWaitCF {
			s.trigger(ReceptionInterruptedError{By: "single frame"})
			s.stopReceiving()
		}
		s.rxQueue = append(s.rxQueue, append([]byte(nil), data[1:1+n]...))
	case pciFirstFrame:
		if len(data) < 2 {
			s.trigger(InvalidCanDataError{Reason: "short first frame"})
			return
		}
		if s.rxState == rxWaitCF {
			s.trigger(ReceptionInterruptedError{By: "first frame"})
			s.stopReceiving()
		}
		length := int(data[0]&0x0F)<<8 | int(data[1])
		if length == 0 {
			s.trigger(InvalidCanDataError{Reason: "first frame escape sequence not supported"})
			return
		}
		if length > s.params.MaxFrameSize {
			s.trigger(FrameTooLongError{Length: length})
			s.sendFlowControl(flowOverflow)
			return
		}
		s.rxBuffer = append([]byte(nil), data[2:min(len(data), 2+length)]...)
		s.rxLength = length
		s.rxSeq = 1
		s.rxBlockCounter = 0
		s.rxState = rxWaitCF
		s.rxDeadline = s.now().Add(s.params.RxConsecutiveFrameTimeout)
		s.sendFlowControl(flowContinueToSend)
	case pciConsecutiveFrame:
		if s.rxState != rxWaitCF {
			s.trigger(UnexpectedConsecutiveFrameError{})
			return
		}
		seq := data[0] & 0x0F
		if seq != s.rxSeq {
			s.trigger(WrongSequenceNumberError{Expected: s.rxSeq, Received: seq})
			s.stopReceiving()
			return
		}
		chunk := data[1:]
		if remaining := s.rxLength - len(s.rxBuffer); len(chunk) > remaining {
			chunk = chunk[:remaining]
		}
		s.rxBuffer = append(s.rxBuffer, chunk...)
		s.rxSeq = (s.rxSeq + 1) & 0x0F
		s.rxDeadline = s.now().Add(s.params.RxConsecutiveFrameTimeout)
		if len(s.rxBuffer) >= s.rxLength {
			s.rxQueue = append(s.rxQueue, s.rxBuffer)
			s.rxBuffer = nil
			s.stopReceiving()
			return
		}
		s.rxBlockCounter++
		if s.params.BlockSize > 0 && s.rxBlockCounter >= int(s.params.BlockSize) {
			s.rxBlockCounter = 0
			s.sendFlowControl(flowContinueToSend)
		}
	case pciFlowControl:
		s.processFlowControl(data)
	default:
		s.trigger(InvalidCanDataError{Reason: fmt.Sprintf("unknown frame type %d", data[0]>>4)})
	}
}

func (s *Stack) processFlowControl(data []byte) {
	if len(data) < 3 {
		s.trigger(InvalidCanDataError{Reason: "short flow control frame"})
		return
	}
	if s.txState != txWaitFC {
		s.trigger(UnexpectedFlowControlError{})
		return
	}
	switch data[0] & 0x0F {
	case flowContinueToSend:
		s.remoteBlockSize = int(data[1])
		s.remoteStMin = stMinDuration(data[2])
		s.txBlockCounter = 0
		s.wftCounter = 0
		s.txState = txTransmitCF
		s.nextCF = s.now()
	case flowWait:
		if s.params.WftMax == 0 {
			s.trigger(UnsupportedWaitFrameError{})
			s.stopSending()
			return
		}
		if s.wftCounter >= s.params.WftMax {
			s.trigger(MaximumWaitFrameReachedError{})
			s.stopSending()
			return
		}
		s.wftCounter++
		s.fcDeadline = s.now().Add(s.params.RxFlowControlTimeout)
	case flowOverflow:
		s.trigger(OverflowError{})
		s.stopSending()
	default:
		s.trigger(InvalidCanDataError{Reason: fmt.Sprintf("unknown flow status %d", data[0]&0x0F)})
	}
}

func (s *Stack) checkTimeouts() {
	now := s.now()
	if s.rxState == rxWaitCF && now.After(s.rxDeadline) {
		s.trigger(ConsecutiveFrameTimeoutError{})
		s.stopReceiving()
	}
	if s.txState == txWaitFC && now.After(s.fcDeadline) {
		s.trigger(FlowControlTimeoutError{})
		s.stopSending()
	}
}

func (s *Stack) processTx() {
	prefix := s.addr.TxPrefix()
	for s.txState == txIdle && len(s.txQueue) > 0 {
		req := s.txQueue[0]
		s.txQueue = s.txQueue[1:]
		id := s.addr.TxArbitrationID(req.target)
		if len(req.data) <= s.maxSingleFrame() {
			msg := append(append([]byte(nil), prefix...), byte(len(req.data)))
			s.transmit(id, append(msg, req.data...))
			continue
		}
		ffPayload := canDataLength - 2 - len(prefix)
		msg := append(append([]byte(nil), prefix...), byte(pciFirstFrame<<4|len(req.data)>>8), byte(len(req.data)))
		s.txData = req.data[ffPayload:]
		s.txTarget = req.target
		s.txSeq = 1
		s.wftCounter = 0
		s.txState = txWaitFC
		s.fcDeadline = s.now().Add(s.params.RxFlowControlTimeout)
		s.transmit(id, append(msg, req.data[:ffPayload]...))
	}

	if s.txState != txTransmitCF {
		return
	}
	now := s.now()
	id := s.addr.TxArbitrationID(s.txTarget)
	cfPayload := canDataLength - 1 - len(prefix)
	for s.txState == txTransmitCF && !now.Before(s.nextCF) {
		n := min(cfPayload, len(s.txData))
		msg := append(append([]byte(nil), prefix...), byte(pciConsecutiveFrame<<4)|s.txSeq)
		s.transmit(id, append(msg, s.txData[:n]...))
		s.txData = s.txData[n:]
		s.txSeq = (s.txSeq + 1) & 0x0F
		if len(s.txData) == 0 {
			s.stopSending()
			return
		}
		s.txBlockCounter++
		if s.remoteBlockSize > 0 && s.txBlockCounter >= s.remoteBlockSize {
			s.txBlockCounter = 0
			s.txState = txWaitFC
			s.fcDeadline = now.Add(s.params.RxFlowControlTimeout)
			return
		}
		if s.remoteStMin > 0 {
			s.nextCF = now.Add(s.remoteStMin)
			return
		}
	}
}

func (s *Stack) sendFlowControl(status byte) {
	msg := append(append([]byte(nil), s.addr.TxPrefix()...), pciFlowControl<<4|status, s.params.BlockSize, s.params.StMin)
	s.transmit(s.addr.TxArbitrationID(Physical), msg)
}

func (s *Stack) transmit(id uint32, data []byte) {
	if s.params.Padding != nil {
		for len(data) < canDataLength {
			data = append(data, *s.params.Padding)
		}
	}
	f := curf.NewFrame(id, data, curf.Outgoing)
	f.Extended = s.addr.Is29Bits()
	s.log.Tracef("tx %s", f.String())
	if err := s.txfn(f); err != nil {
		s.trigger(fmt.Errorf("transmit 0x%X: %w", id, err))
	}
}

func (s *Stack) stopSending() {
	s.txState = txIdle
	s.txData = nil
	s.txBlockCounter = 0
	s.wftCounter = 0
}

func (s *Stack) stopReceiving() {
	s.rxState = rxIdle
	s.rxBuffer = nil
	s.rxLength = 0
	s.rxBlockCounter = 0
}

func (s *Stack) trigger(err error) {
	s.log.Warnf("%v", err)
	if s.lastErr == nil {
		s.lastErr = err
	}
	if s.onError != nil {
		s.onError(err)
	}
}
