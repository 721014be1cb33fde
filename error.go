package curf

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

type unrecoverableError struct {
	error
}

func (e unrecoverableError) Error() string {
	if e.error == nil {
		return "unrecoverable error"
	}
	return e.error.Error()
}

func (e unrecoverableError) Unwrap() error {
	return e.error
}

// Unrecoverable wraps an error in `unrecoverableError` struct
func Unrecoverable(err error) error {
	return unrecoverableError{err}
}

// IsRecoverable checks if error is an instance of `unrecoverableError`
func IsRecoverable(err error) bool {
	var ue unrecoverableError
	return !errors.As(err, &ue)
}

var (
	ErrNilAdapter            = errors.New("adapter is nil")
	ErrDroppedFrame          = errors.New("adapter incoming channel full")
	ErrSendTimeout           = errors.New("timeout sending frame")
	ErrResponsechannelClosed = errors.New("response channel closed")
	ErrClientClosed          = errors.New("client closed")
	ErrInvalidPeriod         = errors.New("period must be positive")
)

// TimeoutError is returned when an expected reception did not happen in time.
type TimeoutError struct {
	Timeout time.Duration
	Frames  []uint32
	Type    string
	Detail  string
}

func (e *TimeoutError) Error() string {
	var out strings.Builder
	out.WriteString(fmt.Sprintf("%s timeout (%dms)", e.Type, e.Timeout.Milliseconds()))
	if len(e.Frames) > 0 {
		ids := make([]string, len(e.Frames))
		for i, id := range e.Frames {
			ids[i] = fmt.Sprintf("0x%03X", id)
		}
		out.WriteString(" for frame " + strings.Join(ids, ", "))
	}
	if e.Detail != "" {
		out.WriteString(": " + e.Detail)
	}
	return out.String()
}

// IsTimeout reports whether err is, or wraps, a *TimeoutError
func IsTimeout(err error) bool {
	var te *TimeoutError
	return errors.As(err, &te)
}

// ConfigurationError marks invalid input such as an unknown mode, policy or bit name.
type ConfigurationError struct {
	Field  string
	Value  string
	Reason string
	Err    error
}

func (e *ConfigurationError) Error() string {
	msg := fmt.Sprintf("invalid %s %q", e.Field, e.Value)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ConfigurationError) Unwrap() error {
	return e.Err
}

// LookupError is returned when a message, signal or node is not in the database.
type LookupError struct {
	Kind string
	Name string
}

func (e *LookupError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.Name)
}

// MismatchError reports an observed value that differs from the expected one.
type MismatchError struct {
	What     string
	Expected string
	Observed string
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("%s mismatch: expected %s but received %s", e.What, e.Expected, e.Observed)
}

// UnexpectedReceptionError is returned when absence was required but something arrived.
type UnexpectedReceptionError struct {
	What     string
	Observed string
}

func (e *UnexpectedReceptionError) Error() string {
	if e.Observed == "" {
		return fmt.Sprintf("%s was received but no reception was expected", e.What)
	}
	return fmt.Sprintf("%s was received (%s) but no reception was expected", e.What, e.Observed)
}

// PeriodError reports a measured period outside the accepted band.
type PeriodError struct {
	Identifier string
	Expected   time.Duration
	Measured   time.Duration
	Samples    int
}

func (e *PeriodError) Error() string {
	if e.Samples == 0 {
		return fmt.Sprintf("frame 0x%s: no message received", e.Identifier)
	}
	return fmt.Sprintf("frame 0x%s: measured period %s over %d samples, expected %s",
		e.Identifier, e.Measured, e.Samples, e.Expected)
}
