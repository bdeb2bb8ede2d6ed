package integrators

import (
	"github.com/san-kum/hybridsim/internal/dynamo"
)

// StepProblem is what the co-simulation master drives. Units integrate
// themselves; the master only picks communication points.
type StepProblem interface {
	// DoStep advances every unit from t by h and returns the time actually
	// reached. A reached time short of t+h means a unit discarded the step;
	// terminate reports that a unit ended the run at reached.
	DoStep(t, h float64) (reached float64, terminate bool, err error)
	HandleResult(t float64) (bool, error)
	Finalize(t float64, outcome dynamo.Outcome) error
}

// SimulateSteps runs a co-simulation master over the session's output
// grid. FixedStep, when set, subdivides each output interval. After a
// discard the master resumes from the reached time; when no progress was
// made the step is halved until it would fall below MinStep. A unit
// ending the run stops the master at the reached time with
// TerminatedByUnit.
func SimulateSteps(s Session, p StepProblem) (dynamo.Outcome, Stats, error) {
	var stats Stats
	if err := s.Validate(); err != nil {
		return dynamo.Failed, stats, err
	}

	var grid []float64
	if !s.SolverSteps {
		grid = s.Grid()
	} else if s.FixedStep == 0 {
		width, _ := s.OutputInterval()
		s.FixedStep = width
	}

	emit := func(t float64) (bool, error) {
		ok, err := p.HandleResult(t)
		if err != nil {
			return false, dynamo.At(t, "handle result", err)
		}
		if ok {
			stats.Outputs++
		}
		return ok, nil
	}
	finish := func(t float64, outcome dynamo.Outcome) (dynamo.Outcome, Stats, error) {
		if err := p.Finalize(t, outcome); err != nil {
			return dynamo.Failed, stats, dynamo.At(t, "finalize", err)
		}
		return outcome, stats, nil
	}

	t := s.Start
	if ok, err := emit(t); err != nil {
		return dynamo.Failed, stats, err
	} else if !ok {
		return finish(t, dynamo.Cancelled)
	}
	gi := 0
	for gi < len(grid) && (grid[gi] < t || sameTime(grid[gi], t)) {
		gi++
	}

	shrink := 0.0
	for t < s.Stop && !sameTime(t, s.Stop) {
		target := s.Stop
		if gi < len(grid) {
			target = grid[gi]
		}
		h := target - t
		if s.FixedStep > 0 && s.FixedStep < h {
			h = s.FixedStep
		}
		if shrink > 0 && shrink < h {
			h = shrink
		}

		reached, terminate, err := p.DoStep(t, h)
		if err != nil {
			return dynamo.Failed, stats, dynamo.At(t, "do step", err)
		}
		stats.Steps++

		if terminate {
			if reached > t && !sameTime(reached, t) &&
				(grid == nil || gi < len(grid) && sameTime(grid[gi], reached)) {
				if _, err := emit(reached); err != nil {
					return dynamo.Failed, stats, err
				}
			}
			return finish(reached, dynamo.TerminatedByUnit)
		}

		if end := t + h; reached < end && !sameTime(reached, end) {
			stats.Rejected++
			if reached > t && !sameTime(reached, t) {
				t = reached
				continue
			}
			shrink = h / 2
			if shrink < s.minStep() {
				return dynamo.Failed, stats, dynamo.At(t, "do step", dynamo.ErrStepTooSmall)
			}
			s.Diagnostics.Add(dynamo.StepShrunk, t, "step of %g discarded without progress, retrying with %g", h, shrink)
			continue
		}

		t += h
		if sameTime(t, target) {
			t = target
			shrink = 0
		}

		if grid == nil {
			if ok, err := emit(t); err != nil {
				return dynamo.Failed, stats, err
			} else if !ok {
				return finish(t, dynamo.Cancelled)
			}
			continue
		}
		for gi < len(grid) && (grid[gi] < t || sameTime(grid[gi], t)) {
			if sameTime(grid[gi], t) {
				if ok, err := emit(t); err != nil {
					return dynamo.Failed, stats, err
				} else if !ok {
					return finish(t, dynamo.Cancelled)
				}
			}
			gi++
		}
	}
	return finish(t, dynamo.Completed)
}
