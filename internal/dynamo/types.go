package dynamo

import (
	"fmt"
	"math"
)

type State []float64

func (s State) Clone() State {
	c := make(State, len(s))
	copy(c, s)
	return c
}

func (s State) IsValid() bool {
	for _, v := range s {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

func (s State) Add(other State) State {
	result := make(State, len(s))
	for i := range s {
		if i < len(other) {
			result[i] = s[i] + other[i]
		} else {
			result[i] = s[i]
		}
	}
	return result
}

func (s State) Scale(factor float64) State {
	result := make(State, len(s))
	for i := range s {
		result[i] = s[i] * factor
	}
	return result
}

func (s State) Sub(other State) State {
	result := make(State, len(s))
	for i := range s {
		if i < len(other) {
			result[i] = s[i] - other[i]
		} else {
			result[i] = s[i]
		}
	}
	return result
}

// Lerp returns the linear interpolation between a (theta=0) and b (theta=1).
func Lerp(a, b State, theta float64) State {
	return a.Add(b.Sub(a).Scale(theta))
}

// MaxAbsDiff is the infinity norm of a-b.
func MaxAbsDiff(a, b State) float64 {
	m := 0.0
	for i := range a {
		if i >= len(b) {
			break
		}
		m = math.Max(m, math.Abs(a[i]-b[i]))
	}
	return m
}

// Outcome is how a run ended. It travels up every call frame as data;
// cancellation and unit-requested termination are not errors.
type Outcome int

const (
	Continue Outcome = iota
	Completed
	Cancelled
	TerminatedByUnit
	Failed
)

func (o Outcome) String() string {
	switch o {
	case Continue:
		return "continue"
	case Completed:
		return "completed"
	case Cancelled:
		return "cancelled"
	case TerminatedByUnit:
		return "terminated_by_unit"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Done reports whether the outcome ends the run.
func (o Outcome) Done() bool { return o != Continue }

type EventKind int

const (
	TimeEvent EventKind = 1 << iota
	StateEvent
	// StepEvent is raised by a unit through its completed-step check.
	StepEvent
)

const BothEvents = TimeEvent | StateEvent

func (k EventKind) Has(other EventKind) bool { return k&other != 0 }

func (k EventKind) String() string {
	switch k {
	case TimeEvent:
		return "time"
	case StateEvent:
		return "state"
	case BothEvents:
		return "both"
	case StepEvent:
		return "step"
	case 0:
		return "none"
	}
	s := ""
	for _, part := range []struct {
		k    EventKind
		name string
	}{{TimeEvent, "time"}, {StateEvent, "state"}, {StepEvent, "step"}} {
		if k.Has(part.k) {
			if s != "" {
				s += "+"
			}
			s += part.name
		}
	}
	return s
}

// Event describes one discrete event instant.
type Event struct {
	Kind EventKind
	Time float64
	// Crossings holds +1 (rising), -1 (falling) or 0 per event indicator.
	Crossings []int
	// OnGridPoint is set when the instant coincides with an output grid
	// point; the pre-event snapshot is then suppressed.
	OnGridPoint bool
}

// Crossed reports which indicators changed sign between before and after.
// Only a strict flip across the >0 boundary counts.
func Crossed(before, after State) ([]int, bool) {
	crossings := make([]int, len(before))
	found := false
	for i := range before {
		if i >= len(after) {
			break
		}
		b, a := before[i] > 0, after[i] > 0
		switch {
		case !b && a:
			crossings[i] = 1
			found = true
		case b && !a:
			crossings[i] = -1
			found = true
		}
	}
	return crossings, found
}
