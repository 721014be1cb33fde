package curf

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

const (
	foregroundQueueSize = 4096
	subscriberQueueSize = 512
	defaultSendTimeout  = time.Second
)

// Client owns an opened adapter and fans incoming frames out to subscribers.
// Every frame received after New is queued for Recv.
type Client struct {
	adapter Adapter
	fh      *handler
	rx      *Subscriber
	errChan chan error

	sendTimeout time.Duration

	pmu         sync.Mutex
	group       *errgroup.Group
	groupCtx    context.Context
	groupCancel context.CancelFunc

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

// New opens the adapter and starts delivering frames.
func New(ctx context.Context, adapter Adapter) (*Client, error) {
	if adapter == nil {
		return nil, ErrNilAdapter
	}
	cctx, cancel := context.WithCancel(ctx)
	if err := adapter.Open(cctx); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to open adapter %s: %w", adapter.Name(), err)
	}
	c := &Client{
		adapter:     adapter,
		fh:          newHandler(adapter),
		errChan:     make(chan error, 10),
		sendTimeout: defaultSendTimeout,
		ctx:         cctx,
		cancel:      cancel,
	}
	c.rx = newSubscriber(c, foregroundQueueSize)
	c.fh.registerSubscriber(c.rx)
	go c.fh.run(cctx, c.errChan)
	return c, nil
}

func (c *Client) Adapter() Adapter {
	return c.adapter
}

// Err returns adapter errors surfaced by the client
func (c *Client) Err() <-chan error {
	return c.errChan
}

// Send a CAN Frame
func (c *Client) Send(frame *CANFrame) error {
	if c.ctx.Err() != nil {
		return ErrClientClosed
	}
	if frame.FrameType == Incoming {
		frame.FrameType = Outgoing
	}
	if frame.Timestamp.IsZero() {
		frame.Timestamp = time.Now()
	}
	t := time.NewTimer(c.sendTimeout)
	defer t.Stop()
	select {
	case <-c.ctx.Done():
		return ErrClientClosed
	case c.adapter.Send() <- frame:
		c.fh.tapFrame(frame)
		return nil
	case <-t.C:
		return ErrSendTimeout
	}
}

// Shortcommand to send a frame, 29 bit identifiers are detected from the value
func (c *Client) SendFrame(identifier uint32, data []byte, t CANFrameType) error {
	return c.Send(NewFrame(identifier, data, t))
}

// Recv returns the next frame from the receive queue, or a *TimeoutError if none
// arrived within timeout.
func (c *Client) Recv(ctx context.Context, timeout time.Duration) (*CANFrame, error) {
	return c.rx.Next(ctx, timeout)
}

// Subscribe returns a subscriber receiving the given identifiers, or every frame if
// none are given. It is closed when ctx is done.
func (c *Client) Subscribe(ctx context.Context, identifiers ...uint32) *Subscriber {
	sub := newSubscriber(c, subscriberQueueSize, identifiers...)
	c.fh.registerSubscriber(sub)
	go func() {
		select {
		case <-ctx.Done():
		case <-c.ctx.Done():
		}
		sub.Close()
	}()
	return sub
}

// Tap returns a subscriber receiving every frame in both directions, outgoing frames
// are delivered once queued on the adapter. It is closed when ctx is done.
func (c *Client) Tap(ctx context.Context) *Subscriber {
	sub := newSubscriber(c, foregroundQueueSize)
	sub.tap = true
	c.fh.registerSubscriber(sub)
	go func() {
		select {
		case <-ctx.Done():
		case <-c.ctx.Done():
		}
		sub.Close()
	}()
	return sub
}

// FlushRx drops every frame queued for Recv
func (c *Client) FlushRx() int {
	return c.rx.Drain()
}

// FlushTx drops frames queued for transmission if the adapter supports it
func (c *Client) FlushTx() int {
	if f, ok := c.adapter.(TxFlusher); ok {
		return f.FlushTx()
	}
	return 0
}

func (c *Client) State() BusState {
	if c.ctx.Err() != nil {
		return BusStateUnknown
	}
	if s, ok := c.adapter.(StateReporter); ok {
		return s.State()
	}
	return BusStateUnknown
}

func (c *Client) ChannelInfo() string {
	if i, ok := c.adapter.(InfoReporter); ok {
		return i.ChannelInfo()
	}
	return c.adapter.Name()
}

func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		if perr := c.StopAllPeriodic(); perr != nil {
			err = perr
		}
		c.cancel()
		c.fh.Close()
		if aerr := c.adapter.Close(); aerr != nil {
			err = aerr
		}
	})
	return err
}
