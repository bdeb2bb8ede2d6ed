package dynamo

import (
	"errors"
	"fmt"
)

// Domain errors for simulation operations.
var (
	// ErrInvalidState indicates a state vector with NaN or Inf entries.
	ErrInvalidState = errors.New("dynamo: invalid state (NaN or Inf detected)")

	// ErrInvalidSession indicates unusable start/stop/step/tolerance settings.
	ErrInvalidSession = errors.New("dynamo: invalid integration session")

	// ErrSequence indicates a unit operation called outside the lifecycle
	// state that permits it. It is a programming error.
	ErrSequence = errors.New("dynamo: lifecycle sequencing violation")

	// ErrDimensionMismatch indicates mismatched reference/value or state lengths.
	ErrDimensionMismatch = errors.New("dynamo: dimension mismatch")

	// ErrUnitError indicates a unit returned the Error status.
	ErrUnitError = errors.New("dynamo: unit reported error")

	// ErrUnitFatal indicates a unit returned the Fatal status; the unit
	// may not be called again except to free it.
	ErrUnitFatal = errors.New("dynamo: unit reported fatal error")

	// ErrLoopDidNotConverge indicates an algebraic loop hit its iteration cap.
	ErrLoopDidNotConverge = errors.New("dynamo: algebraic loop did not converge")

	// ErrStepTooSmall indicates the step size fell below the minimum.
	ErrStepTooSmall = errors.New("dynamo: step size below minimum")

	// ErrEventLoop indicates event iteration at one instant did not settle.
	ErrEventLoop = errors.New("dynamo: event iteration did not settle")
)

// SimulationError wraps an error with the simulation time it occurred at.
type SimulationError struct {
	Time    float64
	Op      string
	Wrapped error
}

func (e *SimulationError) Error() string {
	if e.Op != "" {
		return fmt.Sprintf("t=%.6g %s: %v", e.Time, e.Op, e.Wrapped)
	}
	return fmt.Sprintf("t=%.6g: %v", e.Time, e.Wrapped)
}

func (e *SimulationError) Unwrap() error {
	return e.Wrapped
}

// At wraps err with time and operation context. A nil err stays nil.
func At(t float64, op string, err error) error {
	if err == nil {
		return nil
	}
	var se *SimulationError
	if errors.As(err, &se) {
		return err
	}
	return &SimulationError{Time: t, Op: op, Wrapped: err}
}
