// Package uds sends diagnostic requests over a segmentation layer and classifies the
// responses, honouring 7F xx 78 response pending.
package uds

import (
	"context"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/pion/logging"
	"github.com/roffe/curf"
	"github.com/roffe/curf/pkg/isotp"
	"github.com/roffe/curf/pkg/match"
)

// Transport is the part of an ISO-TP stack the client drives
type Transport interface {
	Send(data []byte, target isotp.TargetAddressType) error
	Process()
	Recv() ([]byte, bool)
	Transmitting() bool
	SleepTime() time.Duration
	StopReceiving()
	TakeError() error
}

type Outcome int

const (
	Good Outcome = iota
	Bad
	Timeout
)

func (o Outcome) String() string {
	switch o {
	case Good:
		return "Good response received"
	case Bad:
		return "Bad response received"
	case Timeout:
		return "No response received"
	}
	return fmt.Sprintf("Outcome(%d)", int(o))
}

// Result of a response check, Payload is the uppercase hex of the deciding response
type Result struct {
	Outcome Outcome
	Payload string
}

type Client struct {
	tp    Transport
	now   func() time.Time
	sleep func(time.Duration)
	log   logging.LeveledLogger
}

type Option func(*Client)

func WithClock(now func() time.Time, sleep func(time.Duration)) Option {
	return func(c *Client) {
		c.now = now
		c.sleep = sleep
	}
}

func WithLoggerFactory(f logging.LoggerFactory) Option {
	return func(c *Client) {
		c.log = f.NewLogger("uds")
	}
}

func New(tp Transport, opts ...Option) *Client {
	c := &Client{
		tp:    tp,
		now:   time.Now,
		sleep: time.Sleep,
	}
	for _, o := range opts {
		o(c)
	}
	if c.log == nil {
		c.log = logging.NewDefaultLoggerFactory().NewLogger("uds")
	}
	return c
}

// SendRequest queues payload on the transport and processes it until fully transmitted.
// Responses left over from earlier exchanges are dropped first.
func (c *Client) SendRequest(ctx context.Context, payload []byte, target isotp.TargetAddressType) error {
	if len(payload) == 0 {
		return &curf.ConfigurationError{Field: "diagnostic request", Value: "", Reason: "empty payload"}
	}
	c.drain()
	c.log.Debugf("request %X (%s)", payload, target)
	if err := c.tp.Send(payload, target); err != nil {
		return fmt.Errorf("send request %X: %w", payload, err)
	}
	for c.tp.Transmitting() {
		if err := ctx.Err(); err != nil {
			return err
		}
		c.tp.Process()
		if err := c.tp.TakeError(); err != nil {
			return fmt.Errorf("send request %X: %w", payload, err)
		}
		c.sleep(c.tp.SleepTime())
	}
	return nil
}

// SendRequestHex is SendRequest with a hex payload and an addressing type name
func (c *Client) SendRequestHex(ctx context.Context, payload, addressType string) error {
	data, err := curf.ParseHex(payload)
	if err != nil {
		return err
	}
	target, err := isotp.ParseTargetAddressType(addressType)
	if err != nil {
		return err
	}
	return c.SendRequest(ctx, data, target)
}

// CheckResponse waits for a response and classifies it against expected, which is a hex
// payload, ANY or NoReception. A response pending moves the deadline to now + timeout.
func (c *Client) CheckResponse(ctx context.Context, expected string, timeout time.Duration, policy match.Policy) (Result, error) {
	exp := match.ParseExpectation(expected)
	payload, err := c.poll(ctx, timeout)
	if err != nil {
		if curf.IsTimeout(err) {
			if exp.Kind == match.Absence {
				return Result{Outcome: Good}, nil
			}
			return Result{Outcome: Timeout}, err
		}
		return Result{}, err
	}

	observed := strings.ToUpper(hex.EncodeToString(payload))
	if exp.Kind == match.Absence {
		return Result{Outcome: Bad, Payload: observed}, &curf.UnexpectedReceptionError{What: "diagnostic response", Observed: observed}
	}
	if exp.Accepts(observed, policy) {
		c.log.Debugf("response %s matches %s (%s)", observed, exp, policy)
		return Result{Outcome: Good, Payload: observed}, nil
	}
	if len(payload) >= 3 && payload[0] == negativeResponse {
		return Result{Outcome: Bad, Payload: observed}, &NegativeResponseError{Service: payload[1], Code: payload[2], Expected: exp.String()}
	}
	return Result{Outcome: Bad, Payload: observed}, &curf.MismatchError{What: "diagnostic response", Expected: exp.String(), Observed: observed}
}

// NextFrame returns the first response that is not a response pending
func (c *Client) NextFrame(ctx context.Context, timeout time.Duration) ([]byte, error) {
	return c.poll(ctx, timeout)
}

func (c *Client) poll(ctx context.Context, timeout time.Duration) ([]byte, error) {
	deadline := c.now().Add(timeout)
	for c.now().Before(deadline) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		c.tp.Process()
		if err := c.tp.TakeError(); err != nil {
			return nil, fmt.Errorf("diagnostic response: %w", err)
		}
		payload, ok := c.tp.Recv()
		if !ok {
			c.sleep(c.tp.SleepTime())
			continue
		}
		if IsPending(payload) {
			c.log.Infof("response pending for %s", TranslateServiceCode(payload[1]))
			deadline = c.now().Add(timeout)
			continue
		}
		c.log.Debugf("response %X", payload)
		return payload, nil
	}
	c.tp.StopReceiving()
	return nil, &curf.TimeoutError{Timeout: timeout, Type: "diagnostic response"}
}

func (c *Client) drain() {
	c.tp.Process()
	for {
		payload, ok := c.tp.Recv()
		if !ok {
			break
		}
		c.log.Debugf("dropping stale response %X", payload)
	}
	if err := c.tp.TakeError(); err != nil {
		c.log.Debugf("dropping stale error: %v", err)
	}
}
