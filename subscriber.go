package curf

import (
	"context"
	"fmt"
	"sync"
	"time"
)

type Subscriber struct {
	cl           *Client
	identifiers  map[uint32]struct{}
	filterCount  int
	tap          bool
	responseChan chan *CANFrame
	closeOnce    sync.Once
}

func newSubscriber(cl *Client, size int, identifiers ...uint32) *Subscriber {
	sub := &Subscriber{
		cl:           cl,
		identifiers:  make(map[uint32]struct{}, len(identifiers)),
		responseChan: make(chan *CANFrame, size),
	}
	for _, id := range identifiers {
		sub.identifiers[id] = struct{}{}
	}
	sub.filterCount = len(sub.identifiers)
	return sub
}

func (s *Subscriber) Close() {
	s.closeOnce.Do(func() {
		s.cl.fh.unregisterSubscriber(s)
	})
}

func (s *Subscriber) Chan() <-chan *CANFrame {
	return s.responseChan
}

// Next waits up to timeout for the next frame
func (s *Subscriber) Next(ctx context.Context, timeout time.Duration) (*CANFrame, error) {
	if timeout <= 0 {
		if f := s.TryNext(); f != nil {
			return f, nil
		}
		return nil, &TimeoutError{Timeout: timeout, Frames: s.ids(), Type: "recv"}
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	f, err := s.wait(ctx)
	if err != nil && ctx.Err() == context.DeadlineExceeded {
		return nil, &TimeoutError{Timeout: timeout, Frames: s.ids(), Type: "recv"}
	}
	return f, err
}

// TryNext returns the next queued frame or nil without blocking
func (s *Subscriber) TryNext() *CANFrame {
	select {
	case frame, ok := <-s.responseChan:
		if !ok {
			return nil
		}
		return frame
	default:
		return nil
	}
}

// Drain drops every queued frame and returns how many were dropped
func (s *Subscriber) Drain() int {
	n := 0
	for s.TryNext() != nil {
		n++
	}
	return n
}

func (s *Subscriber) ids() []uint32 {
	out := make([]uint32, 0, len(s.identifiers))
	for id := range s.identifiers {
		out = append(out, id)
	}
	return out
}

func (s *Subscriber) wait(ctx context.Context) (*CANFrame, error) {
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("timeout: %w", ctx.Err())
	case frame, ok := <-s.responseChan:
		if !ok {
			return nil, ErrResponsechannelClosed
		}
		return frame, nil
	}
}
