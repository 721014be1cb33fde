package isotp

import (
	"fmt"
	"time"
)

// Params configures the segmentation layer
type Params struct {
	// StMin is the separation time requested from the sender, encoded as on the wire:
	// 0x00-0x7F milliseconds, 0xF1-0xF9 100-900 microseconds
	StMin byte
	// BlockSize is the number of consecutive frames the sender may send before waiting
	// for flow control, 0 means no limit
	BlockSize byte
	// Padding, if not nil, pads every frame to 8 bytes
	Padding *byte
	// RxFlowControlTimeout is N_Bs, how long to wait for a flow control frame
	RxFlowControlTimeout time.Duration
	// RxConsecutiveFrameTimeout is N_Cr, how long to wait for the next consecutive frame
	RxConsecutiveFrameTimeout time.Duration
	// WftMax is the number of wait flow control frames accepted in a row, 0 rejects them
	WftMax int
	// MaxFrameSize is the largest payload accepted on reception
	MaxFrameSize int
	// SleepIdle and SleepActive are the recommended polling intervals when nothing is
	// in progress and when a transfer is ongoing
	SleepIdle   time.Duration
	SleepActive time.Duration
}

const maxFrameSize = 4095

func DefaultParams() Params {
	return Params{
		StMin:                     0,
		BlockSize:                 8,
		RxFlowControlTimeout:      time.Second,
		RxConsecutiveFrameTimeout: time.Second,
		WftMax:                    0,
		MaxFrameSize:              maxFrameSize,
		SleepIdle:                 5 * time.Millisecond,
		SleepActive:               time.Millisecond,
	}
}

func (p *Params) Validate() error {
	if p.StMin > 0x7F && (p.StMin < 0xF1 || p.StMin > 0xF9) {
		return fmt.Errorf("stmin 0x%02X is reserved", p.StMin)
	}
	if p.RxFlowControlTimeout <= 0 || p.RxConsecutiveFrameTimeout <= 0 {
		return fmt.Errorf("timeouts must be positive")
	}
	if p.WftMax < 0 {
		return fmt.Errorf("wftmax must not be negative")
	}
	if p.MaxFrameSize <= 0 || p.MaxFrameSize > maxFrameSize {
		return fmt.Errorf("max frame size must be between 1 and %d", maxFrameSize)
	}
	if p.SleepIdle <= 0 || p.SleepActive <= 0 {
		return fmt.Errorf("sleep timings must be positive")
	}
	return nil
}

// stMinDuration decodes a separation time byte, reserved values count as 127 ms
func stMinDuration(b byte) time.Duration {
	switch {
	case b <= 0x7F:
		return time.Duration(b) * time.Millisecond
	case b >= 0xF1 && b <= 0xF9:
		return time.Duration(b-0xF0) * 100 * time.Microsecond
	default:
		return 127 * time.Millisecond
	}
}
