package engine

import (
	"github.com/san-kum/hybridsim/internal/dynamo"
	"github.com/san-kum/hybridsim/internal/fmi"
)

// problem presents the model-exchange units as one system to the
// integrator and the event manager. The global state is the concatenation
// of every unit's states in declaration order.
type problem struct{ c *Controller }

// load sets time and states on every unit and propagates coupled values.
func (p *problem) load(t float64, x dynamo.State) error {
	c := p.c
	if len(x) != c.nStates {
		return dynamo.ErrDimensionMismatch
	}
	for _, u := range c.units {
		if err := u.SetTime(t); err != nil {
			return err
		}
		if u.n == 0 {
			continue
		}
		if err := u.SetContinuousStates(x[u.offset : u.offset+u.n]); err != nil {
			return err
		}
	}
	if c.coupled() {
		return c.eval.Evaluate()
	}
	return nil
}

func (p *problem) RHS(t float64, x dynamo.State) (dynamo.State, error) {
	if err := p.load(t, x); err != nil {
		return nil, dynamo.At(t, "rhs", err)
	}
	dx := make(dynamo.State, 0, p.c.nStates)
	for _, u := range p.c.units {
		if u.n == 0 {
			continue
		}
		d, err := u.Derivatives()
		if err != nil {
			return nil, dynamo.At(t, "rhs", err)
		}
		dx = append(dx, d...)
	}
	return dx, nil
}

func (p *problem) EventIndicators(t float64, x dynamo.State) (dynamo.State, error) {
	if err := p.load(t, x); err != nil {
		return nil, dynamo.At(t, "event indicators", err)
	}
	var z dynamo.State
	for _, u := range p.c.units {
		if u.nz == 0 {
			continue
		}
		zi, err := u.EventIndicators()
		if err != nil {
			return nil, dynamo.At(t, "event indicators", err)
		}
		z = append(z, zi...)
	}
	return z, nil
}

func (p *problem) TimeEvents(float64, dynamo.State) (float64, bool) {
	return p.c.events.NextTimeEvent()
}

func (p *problem) HandleResult(t float64, x dynamo.State) (bool, error) {
	if p.c.cancel.IsSet() {
		return false, nil
	}
	if err := p.load(t, x); err != nil {
		return false, dynamo.At(t, "load output state", err)
	}
	return p.c.record(t)
}

func (p *problem) HandleEvent(ev dynamo.Event, x dynamo.State) (dynamo.State, dynamo.Outcome, error) {
	return p.c.events.Handle(p.c.ctx, ev, x)
}

// CompletedStep informs every unit of the accepted step. Any unit may ask
// for event mode or termination.
func (p *problem) CompletedStep(t float64, x dynamo.State) (enterEventMode, terminate bool, err error) {
	if err := p.load(t, x); err != nil {
		return false, false, dynamo.At(t, "completed step", err)
	}
	for _, u := range p.c.units {
		enter, term, err := u.CompletedIntegratorStep()
		if err != nil {
			return false, false, dynamo.At(t, "completed step", err)
		}
		enterEventMode = enterEventMode || enter
		terminate = terminate || term
	}
	return enterEventMode, terminate, nil
}

func (p *problem) Finalize(t float64, _ dynamo.State, outcome dynamo.Outcome) error {
	p.c.endTime = t
	p.c.log.Debug("integration finished", "t", t, "outcome", outcome.String())
	return nil
}

// Commit is the event manager's entry point for the event state.
func (p *problem) Commit(t float64, x dynamo.State) error { return p.load(t, x) }

func (p *problem) EnterEventMode() error {
	for _, u := range p.c.units {
		if err := u.EnterEventMode(); err != nil {
			return err
		}
	}
	return nil
}

// Iterate runs one discrete-state round. Termination or a further round
// requested by any unit applies to all; the next time event is the
// earliest one reported.
func (p *problem) Iterate() (fmi.EventInfo, error) {
	var merged fmi.EventInfo
	for _, u := range p.c.units {
		info, err := u.NewDiscreteStates()
		if err != nil {
			return merged, err
		}
		merged.NewDiscreteStatesNeeded = merged.NewDiscreteStatesNeeded || info.NewDiscreteStatesNeeded
		merged.TerminateSimulation = merged.TerminateSimulation || info.TerminateSimulation
		merged.NominalsOfContinuousStatesChanged = merged.NominalsOfContinuousStatesChanged || info.NominalsOfContinuousStatesChanged
		merged.ValuesOfContinuousStatesChanged = merged.ValuesOfContinuousStatesChanged || info.ValuesOfContinuousStatesChanged
		if info.NextEventTimeDefined && (!merged.NextEventTimeDefined || info.NextEventTime < merged.NextEventTime) {
			merged.NextEventTime = info.NextEventTime
			merged.NextEventTimeDefined = true
		}
	}
	if p.c.coupled() && !merged.TerminateSimulation {
		if err := p.c.eval.Evaluate(); err != nil {
			return merged, err
		}
	}
	return merged, nil
}

func (p *problem) EnterContinuousTimeMode() error {
	for _, u := range p.c.units {
		if err := u.EnterContinuousTimeMode(); err != nil {
			return err
		}
	}
	return nil
}

func (p *problem) States() (dynamo.State, error) {
	x := make(dynamo.State, 0, p.c.nStates)
	for _, u := range p.c.units {
		if u.n == 0 {
			continue
		}
		xi, err := u.ContinuousStates()
		if err != nil {
			return nil, err
		}
		x = append(x, xi...)
	}
	return x, nil
}

func (p *problem) WriteResult(t float64, x dynamo.State) (bool, error) {
	return p.HandleResult(t, x)
}
