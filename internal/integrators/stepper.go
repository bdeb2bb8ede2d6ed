package integrators

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/san-kum/hybridsim/internal/dynamo"
)

// RHS evaluates dx/dt at (t, x).
type RHS func(t float64, x dynamo.State) (dynamo.State, error)

// Stepper advances a state by one step of a given size.
type Stepper interface {
	Name() string
	Step(f RHS, t float64, x dynamo.State, h float64) (dynamo.State, error)
}

// AdaptiveStepper also estimates its local error. A rejected step leaves
// x untouched; hNext is the proposal for the retry or the next step.
type AdaptiveStepper interface {
	Stepper
	StepAdaptive(f RHS, t float64, x dynamo.State, h, rtol, atol float64) (xNew dynamo.State, hNext float64, accepted bool, err error)
}

var registry = map[string]func() Stepper{
	"euler":    func() Stepper { return NewEuler() },
	"rk4":      func() Stepper { return NewRK4() },
	"rk45":     func() Stepper { return NewRK45() },
	"bdf1":     func() Stepper { return NewBDF1() },
	"verlet":   func() Stepper { return NewVerlet() },
	"leapfrog": func() Stepper { return NewLeapfrog() },
}

// New returns a fresh stepper for the named method.
func New(method string) (Stepper, error) {
	ctor, ok := registry[strings.ToLower(method)]
	if !ok {
		return nil, fmt.Errorf("unknown integration method %q (have %s): %w",
			method, strings.Join(Methods(), ", "), dynamo.ErrInvalidSession)
	}
	return ctor(), nil
}

// Methods lists the registered method names, sorted.
func Methods() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// IsAdaptive reports whether the named method controls its own step size.
func IsAdaptive(method string) bool {
	s, err := New(method)
	if err != nil {
		return false
	}
	_, ok := s.(AdaptiveStepper)
	return ok
}

// errorNorm is the RMS of err scaled by atol + rtol*max(|x|, |xNew|).
func errorNorm(errEst, x, xNew dynamo.State, rtol, atol float64) float64 {
	if len(errEst) == 0 {
		return 0
	}
	sum := 0.0
	for i := range errEst {
		sc := atol + rtol*math.Max(math.Abs(x[i]), math.Abs(xNew[i]))
		r := errEst[i] / sc
		sum += r * r
	}
	return math.Sqrt(sum / float64(len(errEst)))
}
