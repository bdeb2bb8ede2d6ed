package integrators

import "github.com/san-kum/hybridsim/internal/dynamo"

type Euler struct{}

func NewEuler() *Euler {
	return &Euler{}
}

func (e *Euler) Name() string { return "euler" }

func (e *Euler) Step(f RHS, t float64, x dynamo.State, h float64) (dynamo.State, error) {
	dx, err := f(t, x)
	if err != nil {
		return nil, err
	}
	return x.Add(dx.Scale(h)), nil
}
