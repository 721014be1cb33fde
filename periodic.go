package curf

import (
	"context"
	"fmt"
	"log"
	"time"

	"golang.org/x/sync/errgroup"
)

// PeriodicTask is a frame sent repeatedly by the client until stopped
type PeriodicTask struct {
	Frame  *CANFrame
	Period time.Duration
	cancel context.CancelFunc
	done   chan struct{}
}

// Stop cancels the task and waits for it to exit
func (t *PeriodicTask) Stop() {
	t.cancel()
	<-t.done
}

// Done is closed when the task has exited
func (t *PeriodicTask) Done() <-chan struct{} {
	return t.done
}

// SendPeriodic starts sending frame every period, the first transmission happens at once
func (c *Client) SendPeriodic(frame *CANFrame, period time.Duration) (*PeriodicTask, error) {
	if period <= 0 {
		return nil, ErrInvalidPeriod
	}
	c.pmu.Lock()
	defer c.pmu.Unlock()
	if c.ctx.Err() != nil {
		return nil, ErrClientClosed
	}
	if c.group == nil {
		gctx, cancel := context.WithCancel(c.ctx)
		c.group, c.groupCtx = errgroup.WithContext(gctx)
		c.groupCancel = cancel
	}
	tctx, tcancel := context.WithCancel(c.groupCtx)
	task := &PeriodicTask{
		Frame:  frame.Clone(),
		Period: period,
		cancel: tcancel,
		done:   make(chan struct{}),
	}
	task.Frame.FrameType = Outgoing
	c.group.Go(func() error {
		defer close(task.done)
		defer tcancel()
		return c.runPeriodic(tctx, task)
	})
	return task, nil
}

func (c *Client) runPeriodic(ctx context.Context, task *PeriodicTask) error {
	t := time.NewTicker(task.Period)
	defer t.Stop()
	for {
		if err := c.Send(task.Frame.Clone()); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if !IsRecoverable(err) || err == ErrClientClosed {
				return fmt.Errorf("periodic 0x%03X: %w", task.Frame.Identifier, err)
			}
			log.Printf("periodic 0x%03X: %v", task.Frame.Identifier, err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
		}
	}
}

// StopAllPeriodic cancels every periodic task started on the client and waits for them
func (c *Client) StopAllPeriodic() error {
	c.pmu.Lock()
	defer c.pmu.Unlock()
	if c.group == nil {
		return nil
	}
	c.groupCancel()
	err := c.group.Wait()
	c.group, c.groupCtx, c.groupCancel = nil, nil, nil
	return err
}
