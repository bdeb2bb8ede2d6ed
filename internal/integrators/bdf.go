package integrators

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/san-kum/hybridsim/internal/dynamo"
)

// BDF1 is the implicit Euler method. The nonlinear stage equation
// y - x - h*f(t+h, y) = 0 is solved by simplified Newton iteration with a
// finite-difference Jacobian factorized once per step.
type BDF1 struct {
	MaxNewton int
	safety    float64
	minScale  float64
	maxScale  float64
}

func NewBDF1() *BDF1 {
	return &BDF1{
		MaxNewton: 8,
		safety:    0.9,
		minScale:  0.2,
		maxScale:  5.0,
	}
}

func (b *BDF1) Name() string { return "bdf1" }

// Step solves one implicit step with the default tolerances.
func (b *BDF1) Step(f RHS, t float64, x dynamo.State, h float64) (dynamo.State, error) {
	y, _, ok, err := b.solve(f, t, x, h, 1e-6, 1e-9)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, dynamo.At(t, "bdf1 newton", dynamo.ErrStepTooSmall)
	}
	return y, nil
}

func (b *BDF1) StepAdaptive(f RHS, t float64, x dynamo.State, h, rtol, atol float64) (dynamo.State, float64, bool, error) {
	y, fx, ok, err := b.solve(f, t, x, h, rtol, atol)
	if err != nil {
		return nil, 0, false, err
	}
	if !ok {
		return x, h * 0.25, false, nil
	}

	fy, err := f(t+h, y)
	if err != nil {
		return nil, 0, false, err
	}
	// Local truncation error of implicit Euler is about h/2 * (f(y) - f(x)).
	errEst := make(dynamo.State, len(x))
	for i := range x {
		errEst[i] = 0.5 * h * (fy[i] - fx[i])
	}
	errRatio := errorNorm(errEst, x, y, rtol, atol)
	if math.IsNaN(errRatio) {
		return x, h * b.minScale, false, nil
	}
	if errRatio > 1 {
		return x, h * math.Max(b.minScale, b.safety/math.Sqrt(errRatio)), false, nil
	}
	if errRatio == 0 {
		return y, h * b.maxScale, true, nil
	}
	return y, h * math.Min(b.maxScale, b.safety/math.Sqrt(errRatio)), true, nil
}

// solve returns the stage solution, f(t, x), and whether Newton converged.
func (b *BDF1) solve(f RHS, t float64, x dynamo.State, h, rtol, atol float64) (dynamo.State, dynamo.State, bool, error) {
	n := len(x)
	fx, err := f(t, x)
	if err != nil {
		return nil, nil, false, err
	}
	if n == 0 {
		return dynamo.State{}, fx, true, nil
	}

	// Explicit Euler predictor.
	y := make(dynamo.State, n)
	for i := range x {
		y[i] = x[i] + h*fx[i]
	}

	t1 := t + h
	fy, err := f(t1, y)
	if err != nil {
		return nil, nil, false, err
	}
	jac, err := b.iterationMatrix(f, t1, y, fy, h)
	if err != nil {
		return nil, nil, false, err
	}

	var delta mat.VecDense
	residual := mat.NewVecDense(n, nil)
	for iter := 0; iter < b.MaxNewton; iter++ {
		for i := 0; i < n; i++ {
			residual.SetVec(i, -(y[i] - x[i] - h*fy[i]))
		}
		if err := delta.SolveVec(jac, residual); err != nil {
			return nil, fx, false, nil
		}
		for i := 0; i < n; i++ {
			y[i] += delta.AtVec(i)
		}
		if !y.IsValid() {
			return nil, fx, false, nil
		}
		if errorNorm(delta.RawVector().Data, y, y, rtol, atol) < 1e-2 {
			return y, fx, true, nil
		}
		if fy, err = f(t1, y); err != nil {
			return nil, nil, false, err
		}
	}
	return nil, fx, false, nil
}

// iterationMatrix builds I - h*J with J approximated by forward differences.
func (b *BDF1) iterationMatrix(f RHS, t float64, y, fy dynamo.State, h float64) (*mat.Dense, error) {
	n := len(y)
	m := mat.NewDense(n, n, nil)
	yp := y.Clone()
	for j := 0; j < n; j++ {
		eps := math.Sqrt(2.2e-16) * math.Max(1, math.Abs(y[j]))
		yp[j] = y[j] + eps
		fp, err := f(t, yp)
		if err != nil {
			return nil, err
		}
		yp[j] = y[j]
		for i := 0; i < n; i++ {
			v := -h * (fp[i] - fy[i]) / eps
			if i == j {
				v += 1
			}
			m.Set(i, j, v)
		}
	}
	return m, nil
}
