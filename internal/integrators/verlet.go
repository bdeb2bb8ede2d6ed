package integrators

import (
	"fmt"

	"github.com/san-kum/hybridsim/internal/dynamo"
)

// Verlet and Leapfrog expect the state laid out as positions followed by
// velocities of equal length.

type Verlet struct {
	scratch dynamo.State
}

func NewVerlet() *Verlet {
	return &Verlet{}
}

func (v *Verlet) Name() string { return "verlet" }

func (v *Verlet) ensureScratch(n int) {
	if len(v.scratch) != n {
		v.scratch = make(dynamo.State, n)
	}
}

func splitHalf(method string, n int) (int, error) {
	if n%2 != 0 {
		return 0, fmt.Errorf("%s needs an even state dimension, got %d: %w", method, n, dynamo.ErrDimensionMismatch)
	}
	return n / 2, nil
}

func (v *Verlet) Step(f RHS, t float64, x dynamo.State, h float64) (dynamo.State, error) {
	n := len(x)
	half, err := splitHalf("verlet", n)
	if err != nil {
		return nil, err
	}
	v.ensureScratch(n)

	result := make(dynamo.State, n)
	dx, err := f(t, x)
	if err != nil {
		return nil, err
	}
	h2 := h * h

	for i := 0; i < half; i++ {
		result[i] = x[i] + x[half+i]*h + 0.5*dx[half+i]*h2
	}

	for i := 0; i < half; i++ {
		v.scratch[i] = result[i]
		v.scratch[half+i] = x[half+i]
	}

	dxNew, err := f(t+h, v.scratch)
	if err != nil {
		return nil, err
	}

	halfH := 0.5 * h
	for i := 0; i < half; i++ {
		result[half+i] = x[half+i] + (dx[half+i]+dxNew[half+i])*halfH
	}

	return result, nil
}

type Leapfrog struct {
	scratch dynamo.State
}

func NewLeapfrog() *Leapfrog {
	return &Leapfrog{}
}

func (l *Leapfrog) Name() string { return "leapfrog" }

func (l *Leapfrog) Step(f RHS, t float64, x dynamo.State, h float64) (dynamo.State, error) {
	n := len(x)
	half, err := splitHalf("leapfrog", n)
	if err != nil {
		return nil, err
	}

	if len(l.scratch) != n {
		l.scratch = make(dynamo.State, n)
	}

	result := make(dynamo.State, n)
	dx, err := f(t, x)
	if err != nil {
		return nil, err
	}
	halfH := h * 0.5

	for i := 0; i < half; i++ {
		l.scratch[half+i] = x[half+i] + dx[half+i]*halfH
	}

	for i := 0; i < half; i++ {
		result[i] = x[i] + l.scratch[half+i]*h
		l.scratch[i] = result[i]
	}

	dxNew, err := f(t+h, l.scratch)
	if err != nil {
		return nil, err
	}

	for i := 0; i < half; i++ {
		result[half+i] = l.scratch[half+i] + dxNew[half+i]*halfH
	}

	return result, nil
}
