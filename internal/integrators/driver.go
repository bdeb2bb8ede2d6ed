package integrators

import (
	"math"

	"github.com/san-kum/hybridsim/internal/dynamo"
)

// Problem is what the driver integrates. The engine implements it over
// one or more model-exchange units.
type Problem interface {
	RHS(t float64, x dynamo.State) (dynamo.State, error)
	EventIndicators(t float64, x dynamo.State) (dynamo.State, error)
	// TimeEvents returns the next scheduled time event, if any.
	TimeEvents(t float64, x dynamo.State) (next float64, ok bool)
	// HandleResult receives one output point. Returning false stops the
	// run with outcome Cancelled; the point is then not recorded.
	HandleResult(t float64, x dynamo.State) (bool, error)
	// HandleEvent processes the event at ev.Time and returns the state to
	// resume from, with Continue or the outcome that ends the run.
	HandleEvent(ev dynamo.Event, x dynamo.State) (dynamo.State, dynamo.Outcome, error)
	// CompletedStep is called after every accepted step, before the
	// output points the step covers are written.
	CompletedStep(t float64, x dynamo.State) (enterEventMode, terminate bool, err error)
	// Finalize is called once when the run ends without error.
	Finalize(t float64, x dynamo.State, outcome dynamo.Outcome) error
}

// Stats counts the work done by one run.
type Stats struct {
	Steps       int
	Rejected    int
	RHSEvals    int
	Outputs     int
	StateEvents int
	TimeEvents  int
	StepEvents  int
}

func (s *Stats) countEvent(kind dynamo.EventKind) {
	if kind.Has(dynamo.StateEvent) {
		s.StateEvents++
	}
	if kind.Has(dynamo.TimeEvent) {
		s.TimeEvents++
	}
	if kind.Has(dynamo.StepEvent) {
		s.StepEvents++
	}
}

// Simulate integrates p from x0 over the session with the session's method.
func Simulate(s Session, p Problem, x0 dynamo.State) (dynamo.Outcome, Stats, error) {
	if err := s.Validate(); err != nil {
		return dynamo.Failed, Stats{}, err
	}
	stepper, err := New(s.Method)
	if err != nil {
		return dynamo.Failed, Stats{}, err
	}
	return SimulateWith(s, stepper, p, x0)
}

// SimulateWith is Simulate with an explicit stepper. An adaptive stepper
// runs in variable-step mode unless the session sets FixedStep.
func SimulateWith(s Session, stepper Stepper, p Problem, x0 dynamo.State) (dynamo.Outcome, Stats, error) {
	if err := s.Validate(); err != nil {
		return dynamo.Failed, Stats{}, err
	}
	d := &driver{s: s, p: p, stepper: stepper}
	if a, ok := stepper.(AdaptiveStepper); ok && s.FixedStep == 0 {
		d.adaptive = a
	}
	d.f = func(t float64, x dynamo.State) (dynamo.State, error) {
		d.stats.RHSEvals++
		return p.RHS(t, x)
	}

	needWidth := !s.SolverSteps || (d.adaptive == nil && s.FixedStep == 0)
	if needWidth {
		width, n := s.OutputInterval()
		d.width = width
		if !s.SolverSteps {
			d.grid = s.points(width, n)
		}
	}

	outcome, err := d.run(x0)
	return outcome, d.stats, err
}

type driver struct {
	s        Session
	p        Problem
	stepper  Stepper
	adaptive AdaptiveStepper
	f        RHS

	grid  []float64
	gi    int
	width float64
	stats Stats
}

func (d *driver) run(x0 dynamo.State) (dynamo.Outcome, error) {
	rtol, atol := d.s.tolerances()
	stop := d.s.Stop
	t, x := d.s.Start, x0.Clone()

	z, err := d.p.EventIndicators(t, x)
	if err != nil {
		return dynamo.Failed, dynamo.At(t, "event indicators", err)
	}
	nextTE, hasTE := d.nextTimeEvent(t, x)

	if ok, err := d.emit(t, x); err != nil || !ok {
		return d.stopped(t, x, err)
	}
	d.skipGridThrough(t)

	h := d.initialStep()
	for t < stop && !sameTime(t, stop) {
		target := stop
		if hasTE && nextTE < target {
			target = nextTE
		}
		if d.adaptive != nil && d.gi < len(d.grid) && d.grid[d.gi] < target {
			target = d.grid[d.gi]
		}

		hTry := math.Min(h, target-t)
		var xNew dynamo.State
		if d.adaptive != nil {
			var hNext float64
			var accepted bool
			xNew, hNext, accepted, err = d.adaptive.StepAdaptive(d.f, t, x, hTry, rtol, atol)
			if err != nil {
				return dynamo.Failed, dynamo.At(t, d.stepper.Name()+" step", err)
			}
			if !accepted {
				d.stats.Rejected++
				h = hNext
				if h < d.s.minStep() {
					return dynamo.Failed, dynamo.At(t, d.stepper.Name()+" step", dynamo.ErrStepTooSmall)
				}
				continue
			}
			if hTry >= h {
				h = math.Min(hNext, d.s.maxStep())
			}
		} else {
			xNew, err = d.stepper.Step(d.f, t, x, hTry)
			if err != nil {
				return dynamo.Failed, dynamo.At(t, d.stepper.Name()+" step", err)
			}
		}
		tNew := t + hTry
		if sameTime(tNew, target) {
			tNew = target
		}
		d.stats.Steps++
		if !xNew.IsValid() {
			return dynamo.Failed, dynamo.At(tNew, d.stepper.Name()+" step", dynamo.ErrInvalidState)
		}

		zNew, err := d.p.EventIndicators(tNew, xNew)
		if err != nil {
			return dynamo.Failed, dynamo.At(tNew, "event indicators", err)
		}

		var kind dynamo.EventKind
		var crossings []int
		tEnd, xEnd, zEnd := tNew, xNew, zNew
		if _, crossed := dynamo.Crossed(z, zNew); crossed {
			tEnd, xEnd, zEnd, crossings, err = d.locate(t, x, z, tNew, xNew, zNew)
			if err != nil {
				return dynamo.Failed, dynamo.At(tNew, "locate state event", err)
			}
			kind |= dynamo.StateEvent
		}
		if hasTE && sameTime(tEnd, nextTE) {
			kind |= dynamo.TimeEvent
			tEnd = nextTE
		}

		enter, terminate, err := d.p.CompletedStep(tEnd, xEnd)
		if err != nil {
			return dynamo.Failed, dynamo.At(tEnd, "completed step", err)
		}
		if terminate {
			kind = 0
		} else if enter {
			kind |= dynamo.StepEvent
		}

		onGrid, ok, err := d.emitGrid(t, x, tNew, xNew, tEnd, kind != 0)
		if err != nil || !ok {
			return d.stopped(tEnd, xEnd, err)
		}
		if d.s.SolverSteps && kind == 0 {
			if ok, err := d.emit(tEnd, xEnd); err != nil || !ok {
				return d.stopped(tEnd, xEnd, err)
			}
		}

		t, x, z = tEnd, xEnd, zEnd
		if terminate {
			return d.finish(t, x, dynamo.TerminatedByUnit)
		}
		if kind == 0 {
			continue
		}

		d.stats.countEvent(kind)
		ev := dynamo.Event{Kind: kind, Time: t, Crossings: crossings, OnGridPoint: onGrid}
		xPost, outcome, err := d.p.HandleEvent(ev, x)
		if err != nil {
			return dynamo.Failed, dynamo.At(t, "handle "+kind.String()+" event", err)
		}
		if outcome.Done() {
			return d.finish(t, x, outcome)
		}
		x = xPost
		if z, err = d.p.EventIndicators(t, x); err != nil {
			return dynamo.Failed, dynamo.At(t, "event indicators", err)
		}
		nextTE, hasTE = d.nextTimeEvent(t, x)
	}
	return d.finish(t, x, dynamo.Completed)
}

func (d *driver) initialStep() float64 {
	if d.adaptive == nil {
		if d.s.FixedStep > 0 {
			return d.s.FixedStep
		}
		return d.width
	}
	h := d.s.InitialStep
	if h <= 0 {
		h = (d.s.Stop - d.s.Start) / 100
		if d.width > 0 {
			h = math.Min(h, d.width)
		}
	}
	return math.Min(h, d.s.maxStep())
}

func (d *driver) nextTimeEvent(t float64, x dynamo.State) (float64, bool) {
	next, ok := d.p.TimeEvents(t, x)
	if !ok || next <= t || sameTime(next, t) {
		return 0, false
	}
	return next, true
}

func (d *driver) emit(t float64, x dynamo.State) (bool, error) {
	ok, err := d.p.HandleResult(t, x)
	if err != nil {
		return false, dynamo.At(t, "handle result", err)
	}
	if ok {
		d.stats.Outputs++
	}
	return ok, nil
}

func (d *driver) skipGridThrough(t float64) {
	for d.gi < len(d.grid) && (d.grid[d.gi] < t || sameTime(d.grid[d.gi], t)) {
		d.gi++
	}
}

// emitGrid writes the grid points in (t0, tEnd], interpolating linearly
// between (t0, x0) and (t1, x1). A grid point at an event instant is left
// to the post-event write; onGrid reports that case.
func (d *driver) emitGrid(t0 float64, x0 dynamo.State, t1 float64, x1 dynamo.State, tEnd float64, event bool) (onGrid, ok bool, err error) {
	for d.gi < len(d.grid) {
		tg := d.grid[d.gi]
		if tg > tEnd && !sameTime(tg, tEnd) {
			break
		}
		d.gi++
		if event && sameTime(tg, tEnd) {
			onGrid = true
			break
		}
		xg := x1
		if t1 > t0 && !sameTime(tg, t1) {
			xg = dynamo.Lerp(x0, x1, (tg-t0)/(t1-t0))
		}
		if ok, err := d.emit(tg, xg); err != nil || !ok {
			return false, ok, err
		}
	}
	return onGrid, true, nil
}

// locate bisects the step for the first indicator sign change, evaluating
// indicators on the linearly interpolated state. It returns the
// post-crossing side of the final bracket.
func (d *driver) locate(t0 float64, x0, z0 dynamo.State, t1 float64, x1, z1 dynamo.State) (float64, dynamo.State, dynamo.State, []int, error) {
	lo, hi := 0.0, 1.0
	zHi := z1
	span := t1 - t0
	for i := 0; i < 100 && (hi-lo)*span > timeEps(t1); i++ {
		mid := 0.5 * (lo + hi)
		zm, err := d.p.EventIndicators(t0+mid*span, dynamo.Lerp(x0, x1, mid))
		if err != nil {
			return 0, nil, nil, nil, err
		}
		if _, crossed := dynamo.Crossed(z0, zm); crossed {
			hi, zHi = mid, zm
		} else {
			lo = mid
		}
	}
	crossings, _ := dynamo.Crossed(z0, zHi)
	if hi == 1 {
		return t1, x1, z1, crossings, nil
	}
	return t0 + hi*span, dynamo.Lerp(x0, x1, hi), zHi, crossings, nil
}

// stopped ends the run after a refused or failed write.
func (d *driver) stopped(t float64, x dynamo.State, err error) (dynamo.Outcome, error) {
	if err != nil {
		return dynamo.Failed, err
	}
	return d.finish(t, x, dynamo.Cancelled)
}

// finish finalizes the problem with the given outcome.
func (d *driver) finish(t float64, x dynamo.State, outcome dynamo.Outcome) (dynamo.Outcome, error) {
	if err := d.p.Finalize(t, x, outcome); err != nil {
		return dynamo.Failed, dynamo.At(t, "finalize", err)
	}
	return outcome, nil
}
