package integrators

import (
	"fmt"
	"math"

	"github.com/san-kum/hybridsim/internal/dynamo"
)

// Session holds the settings of one integration run.
type Session struct {
	Start, Stop float64
	RelTol      float64
	AbsTol      float64
	Method      string

	// FixedStep is the step of fixed-step methods and the communication
	// step of co-simulation. Zero means one step per output interval.
	FixedStep float64

	// Output grid: GridWidth wins over GridCount, which wins over
	// FixedStep. SolverSteps writes at every accepted step instead.
	GridCount   int
	GridWidth   float64
	SolverSteps bool

	InitialStep float64
	MinStep     float64
	MaxStep     float64

	// Diagnostics receives warning-class findings such as a degenerate grid.
	Diagnostics *dynamo.Diagnostics
}

func DefaultSession() Session {
	return Session{
		Start:     0,
		Stop:      10,
		RelTol:    1e-6,
		AbsTol:    1e-9,
		Method:    "rk4",
		GridCount: 500,
	}
}

// Validate checks the bounds and tolerances.
func (s Session) Validate() error {
	if math.IsNaN(s.Start) || math.IsNaN(s.Stop) || math.IsInf(s.Start, 0) || math.IsInf(s.Stop, 0) {
		return fmt.Errorf("start %v / stop %v not finite: %w", s.Start, s.Stop, dynamo.ErrInvalidSession)
	}
	if s.Stop <= s.Start {
		return fmt.Errorf("stop %g must be after start %g: %w", s.Stop, s.Start, dynamo.ErrInvalidSession)
	}
	if s.RelTol < 0 || s.AbsTol < 0 {
		return fmt.Errorf("negative tolerance: %w", dynamo.ErrInvalidSession)
	}
	if s.FixedStep < 0 || s.GridWidth < 0 || s.GridCount < 0 || s.MinStep < 0 || s.MaxStep < 0 {
		return fmt.Errorf("negative step or grid setting: %w", dynamo.ErrInvalidSession)
	}
	if s.MaxStep > 0 && s.MinStep > s.MaxStep {
		return fmt.Errorf("min step %g exceeds max step %g: %w", s.MinStep, s.MaxStep, dynamo.ErrInvalidSession)
	}
	return nil
}

func (s Session) tolerances() (rtol, atol float64) {
	rtol, atol = s.RelTol, s.AbsTol
	if rtol == 0 {
		rtol = 1e-6
	}
	if atol == 0 {
		atol = rtol * 1e-3
	}
	return rtol, atol
}

func (s Session) minStep() float64 {
	if s.MinStep > 0 {
		return s.MinStep
	}
	return 1e-12 * math.Max(1, math.Max(math.Abs(s.Start), math.Abs(s.Stop)))
}

func (s Session) maxStep() float64 {
	if s.MaxStep > 0 {
		return s.MaxStep
	}
	return s.Stop - s.Start
}

// OutputInterval resolves the output grid spacing and interval count.
// When nothing positive resolves, one interval spanning the run is used
// and a DegenerateGrid diagnostic is recorded.
func (s Session) OutputInterval() (width float64, n int) {
	span := s.Stop - s.Start
	switch {
	case s.GridWidth > 0:
		width = s.GridWidth
		n = int(math.Floor(span/width + 1e-9))
	case s.GridCount > 0:
		n = s.GridCount
		width = span / float64(n)
	case s.FixedStep > 0:
		width = s.FixedStep
		n = int(math.Floor(span/width + 1e-9))
	}
	if n < 1 {
		s.Diagnostics.Add(dynamo.DegenerateGrid, s.Start,
			"output grid resolved to no interval (width %g, count %d, step %g); using one interval of %g",
			s.GridWidth, s.GridCount, s.FixedStep, span)
		return span, 1
	}
	return width, n
}

// Grid returns the output points from start to stop. The stop time is
// always included. SolverSteps sessions have no grid.
func (s Session) Grid() []float64 {
	if s.SolverSteps {
		return nil
	}
	return s.points(s.OutputInterval())
}

func (s Session) points(width float64, n int) []float64 {
	pts := make([]float64, 0, n+2)
	for i := 0; i <= n; i++ {
		t := s.Start + float64(i)*width
		if t > s.Stop || sameTime(t, s.Stop) {
			t = s.Stop
		}
		pts = append(pts, t)
	}
	if last := pts[len(pts)-1]; s.Stop-last > timeEps(s.Stop) {
		pts = append(pts, s.Stop)
	}
	return pts
}

// timeEps is the tolerance used when comparing instants near t.
func timeEps(t float64) float64 {
	return 1e-10 * math.Max(1, math.Abs(t))
}

// sameTime reports whether a and b denote the same instant.
func sameTime(a, b float64) bool {
	return math.Abs(a-b) <= timeEps(math.Max(math.Abs(a), math.Abs(b)))
}
