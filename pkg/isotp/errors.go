package isotp

import "fmt"

type FlowControlTimeoutError struct{}

func (FlowControlTimeoutError) Error() string { return "flow control frame not received in time" }

type ConsecutiveFrameTimeoutError struct{}

func (ConsecutiveFrameTimeoutError) Error() string {
	return "consecutive frame not received in time"
}

type InvalidCanDataError struct {
	Reason string
}

func (e InvalidCanDataError) Error() string { return "invalid CAN data received: " + e.Reason }

type UnexpectedFlowControlError struct{}

func (UnexpectedFlowControlError) Error() string { return "unexpected flow control frame received" }

type UnexpectedConsecutiveFrameError struct{}

func (UnexpectedConsecutiveFrameError) Error() string {
	return "unexpected consecutive frame received"
}

// ReceptionInterruptedError is raised when a new single or first frame arrives while a
// multi frame reception is in progress
type ReceptionInterruptedError struct {
	By string
}

func (e ReceptionInterruptedError) Error() string {
	return "reception of multi frame payload interrupted by a " + e.By
}

type WrongSequenceNumberError struct {
	Expected, Received byte
}

func (e WrongSequenceNumberError) Error() string {
	return fmt.Sprintf("wrong sequence number, expected %d got %d", e.Expected, e.Received)
}

type UnsupportedWaitFrameError struct{}

func (UnsupportedWaitFrameError) Error() string { return "received a wait frame but WftMax is 0" }

type MaximumWaitFrameReachedError struct{}

func (MaximumWaitFrameReachedError) Error() string { return "maximum number of wait frames reached" }

type FrameTooLongError struct {
	Length int
}

func (e FrameTooLongError) Error() string {
	return fmt.Sprintf("received a first frame announcing %d bytes, larger than the reception limit", e.Length)
}

type OverflowError struct{}

func (OverflowError) Error() string { return "receiver reported an overflow" }
