package fmi

import (
	"errors"
	"fmt"

	"github.com/san-kum/hybridsim/internal/dynamo"
)

// Status is returned by every unit call.
type Status int

const (
	OK Status = iota
	Warning
	Discard
	Error
	Fatal
	Pending
)

func (s Status) String() string {
	switch s {
	case OK:
		return "OK"
	case Warning:
		return "Warning"
	case Discard:
		return "Discard"
	case Error:
		return "Error"
	case Fatal:
		return "Fatal"
	case Pending:
		return "Pending"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

var (
	// ErrDiscard marks a co-simulation step the unit could not complete.
	// The unit may still report a last successful time.
	ErrDiscard = errors.New("fmi: step discarded")

	// ErrPending marks an asynchronous step still in progress, which the
	// engine does not support.
	ErrPending = errors.New("fmi: asynchronous call pending")
)

// StatusError is a non-OK, non-Warning status returned by a unit call.
type StatusError struct {
	Unit   string
	Op     string
	Status Status
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unit %q: %s returned %s", e.Unit, e.Op, e.Status)
}

func (e *StatusError) Unwrap() error {
	switch e.Status {
	case Discard:
		return ErrDiscard
	case Fatal:
		return dynamo.ErrUnitFatal
	case Pending:
		return ErrPending
	default:
		return dynamo.ErrUnitError
	}
}

// SequenceError is a call made outside the lifecycle modes that permit it.
type SequenceError struct {
	Unit string
	Op   string
	Mode Mode
}

func (e *SequenceError) Error() string {
	return fmt.Sprintf("unit %q: %s not permitted in %s", e.Unit, e.Op, e.Mode)
}

func (e *SequenceError) Unwrap() error { return dynamo.ErrSequence }

// IsSequenceError reports whether err is (or wraps) a sequencing violation.
func IsSequenceError(err error) bool {
	var se *SequenceError
	return errors.As(err, &se)
}

// IsDiscard reports whether err is a discarded step.
func IsDiscard(err error) bool {
	return errors.Is(err, ErrDiscard)
}
