package models

import (
	"math"

	"github.com/san-kum/hybridsim/internal/dynamo"
	"github.com/san-kum/hybridsim/internal/fmi"
	"github.com/san-kum/hybridsim/internal/integrators"
)

// CoSim exposes a model-exchange unit through the co-simulation
// interface by integrating it internally with fixed RK4 substeps. Events
// are detected at substep ends. When DiscardAt is set, the first step that
// spans it stops there and reports Discard.
type CoSim struct {
	inner fmi.ModelExchange
	rk4   *integrators.RK4

	// Substep is the internal step size; zero means ten substeps per
	// communication step.
	Substep    float64
	DiscardAt  float64
	HasDiscard bool

	discarded    bool
	terminated   bool
	nextEvent    float64
	hasNext      bool
	lastSuccess  float64
	time         float64
	instanceName string
	cb           fmi.Callbacks
}

func NewCoSim(inner fmi.ModelExchange) *CoSim {
	return &CoSim{inner: inner, rk4: integrators.NewRK4()}
}

// Inner returns the wrapped unit.
func (c *CoSim) Inner() fmi.ModelExchange { return c.inner }

func (c *CoSim) Description() *fmi.ModelDescription { return c.inner.Description() }

func (c *CoSim) Instantiate(instanceName, guid string, cb fmi.Callbacks, loggingOn bool) fmi.Status {
	c.instanceName, c.cb = instanceName, cb
	return c.inner.Instantiate(instanceName, guid, cb, loggingOn)
}

func (c *CoSim) SetupExperiment(tolerance, startTime, stopTime float64) fmi.Status {
	c.time, c.lastSuccess = startTime, startTime
	return c.inner.SetupExperiment(tolerance, startTime, stopTime)
}

func (c *CoSim) EnterInitializationMode() fmi.Status { return c.inner.EnterInitializationMode() }

func (c *CoSim) ExitInitializationMode() fmi.Status {
	if s := c.inner.ExitInitializationMode(); s > fmi.Warning {
		return s
	}
	if s := c.settle(); s > fmi.Warning {
		return s
	}
	return c.inner.EnterContinuousTimeMode()
}

func (c *CoSim) GetReal(refs []fmi.ValueRef, values []float64) fmi.Status {
	return c.inner.GetReal(refs, values)
}
func (c *CoSim) GetInteger(refs []fmi.ValueRef, values []int) fmi.Status {
	return c.inner.GetInteger(refs, values)
}
func (c *CoSim) GetBoolean(refs []fmi.ValueRef, values []bool) fmi.Status {
	return c.inner.GetBoolean(refs, values)
}
func (c *CoSim) GetString(refs []fmi.ValueRef, values []string) fmi.Status {
	return c.inner.GetString(refs, values)
}
func (c *CoSim) SetReal(refs []fmi.ValueRef, values []float64) fmi.Status {
	return c.inner.SetReal(refs, values)
}
func (c *CoSim) SetInteger(refs []fmi.ValueRef, values []int) fmi.Status {
	return c.inner.SetInteger(refs, values)
}
func (c *CoSim) SetBoolean(refs []fmi.ValueRef, values []bool) fmi.Status {
	return c.inner.SetBoolean(refs, values)
}
func (c *CoSim) SetString(refs []fmi.ValueRef, values []string) fmi.Status {
	return c.inner.SetString(refs, values)
}

func (c *CoSim) Terminate() fmi.Status { return c.inner.Terminate() }
func (c *CoSim) Free()                 { c.inner.Free() }

// settle runs event iteration on the inner unit, which must be in event mode.
func (c *CoSim) settle() fmi.Status {
	var info fmi.EventInfo
	for i := 0; i < 100; i++ {
		if s := c.inner.NewDiscreteStates(&info); s > fmi.Warning {
			return s
		}
		if info.TerminateSimulation {
			c.terminated = true
		}
		c.nextEvent, c.hasNext = info.NextEventTime, info.NextEventTimeDefined
		if !info.NewDiscreteStatesNeeded || c.terminated {
			return fmi.OK
		}
	}
	return fmi.Error
}

// DoStep reports Discard when the step stops short of its end, either at
// DiscardAt or because the inner unit terminated.
func (c *CoSim) DoStep(currentTime, stepSize float64, noSetStatePrior bool) fmi.Status {
	end := currentTime + stepSize
	discard := c.HasDiscard && !c.discarded && currentTime < c.DiscardAt && end > c.DiscardAt
	if discard {
		end = c.DiscardAt
	}
	if s := c.advance(currentTime, end); s > fmi.Warning {
		return s
	}
	c.lastSuccess = c.time
	switch {
	case c.terminated:
		c.log("step", "unit terminated the simulation")
		return fmi.Discard
	case discard:
		c.discarded = true
		c.log("step", "step discarded at the configured time")
		return fmi.Discard
	}
	return fmi.OK
}

func (c *CoSim) LastSuccessfulTime() (float64, fmi.Status) { return c.lastSuccess, fmi.OK }

func (c *CoSim) Terminated() (bool, fmi.Status) { return c.terminated, fmi.OK }

func (c *CoSim) log(category, msg string) {
	if c.cb.Logger != nil {
		c.cb.Logger(c.instanceName, fmi.Discard, category, msg)
	}
}

func (c *CoSim) advance(from, to float64) fmi.Status {
	n := c.inner.Description().NumContinuousStates
	nz := c.inner.Description().NumEventIndicators
	x := make([]float64, n)
	z := make([]float64, nz)
	zNew := make([]float64, nz)

	if s := c.inner.GetContinuousStates(x); s > fmi.Warning {
		return s
	}
	if s := c.inner.GetEventIndicators(z); s > fmi.Warning {
		return s
	}

	var status fmi.Status
	f := func(t float64, xs dynamo.State) (dynamo.State, error) {
		dx := make(dynamo.State, n)
		if status = c.inner.SetTime(t); status > fmi.Warning {
			return nil, dynamo.ErrUnitError
		}
		if status = c.inner.SetContinuousStates(xs); status > fmi.Warning {
			return nil, dynamo.ErrUnitError
		}
		if status = c.inner.GetDerivatives(dx); status > fmi.Warning {
			return nil, dynamo.ErrUnitError
		}
		return dx, nil
	}

	h := c.Substep
	if h <= 0 {
		h = (to - from) / 10
	}
	t := from
	for t < to && !c.terminated {
		step := math.Min(h, to-t)
		if to-(t+step) < 1e-12*math.Max(1, math.Abs(to)) {
			step = to - t
		}
		timeEvent := c.hasNext && c.nextEvent > t && c.nextEvent <= t+step
		if timeEvent {
			step = c.nextEvent - t
		}
		xNew, err := c.rk4.Step(f, t, x, step)
		if err != nil {
			return status
		}
		t += step
		x = xNew
		if s := c.inner.SetTime(t); s > fmi.Warning {
			return s
		}
		if s := c.inner.SetContinuousStates(x); s > fmi.Warning {
			return s
		}
		if s := c.inner.GetEventIndicators(zNew); s > fmi.Warning {
			return s
		}
		_, crossed := dynamo.Crossed(z, zNew)
		enter, term, s := c.inner.CompletedIntegratorStep(true)
		if s > fmi.Warning {
			return s
		}
		if term {
			c.terminated = true
			break
		}
		if crossed || enter || timeEvent {
			if s := c.handleEvent(x); s > fmi.Warning {
				return s
			}
			if s := c.inner.GetEventIndicators(zNew); s > fmi.Warning {
				return s
			}
		}
		copy(z, zNew)
	}
	c.time = t
	return fmi.OK
}

func (c *CoSim) handleEvent(x []float64) fmi.Status {
	if s := c.inner.EnterEventMode(); s > fmi.Warning {
		return s
	}
	if s := c.settle(); s > fmi.Warning {
		return s
	}
	if s := c.inner.EnterContinuousTimeMode(); s > fmi.Warning {
		return s
	}
	return c.inner.GetContinuousStates(x)
}
