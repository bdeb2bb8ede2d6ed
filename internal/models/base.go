package models

import (
	"fmt"
	"math"

	"github.com/san-kum/hybridsim/internal/fmi"
)

// Equations is what a concrete model supplies; Base does the rest of the
// unit contract. Init runs on entering initialization mode and sets the
// continuous states from parameters.
type Equations interface {
	Init(m *Base)
	Derivatives(m *Base, dx []float64)
}

// Outputs computes output variables from states and inputs.
type Outputs interface {
	Outputs(m *Base)
}

// Indicators fills the event indicators.
type Indicators interface {
	Indicators(m *Base, z []float64)
}

// EventHandler runs on every NewDiscreteStates call. It must be
// idempotent once the event condition is resolved.
type EventHandler interface {
	Event(m *Base, info *fmi.EventInfo)
}

// StepChecker runs after every completed integrator step.
type StepChecker interface {
	StepCompleted(m *Base) (enterEventMode, terminate bool)
}

// Base holds variable storage and lifecycle bookkeeping for the built-in
// models. Real variables are stored by value reference; the continuous
// states are the real variables listed in states.
type Base struct {
	desc   *fmi.ModelDescription
	eq     Equations
	states []fmi.ValueRef

	instance string
	cb       fmi.Callbacks
	logging  bool

	reals []float64
	ints  map[fmi.ValueRef]int
	bools map[fmi.ValueRef]bool
	strs  map[fmi.ValueRef]string

	time      float64
	start     float64
	stop      float64
	tolerance float64

	nextEvent float64
	hasNext   bool
	terminate bool
}

func (m *Base) init(desc *fmi.ModelDescription, states []fmi.ValueRef, eq Equations) {
	m.desc = desc
	m.eq = eq
	m.states = states
	m.ints = make(map[fmi.ValueRef]int)
	m.bools = make(map[fmi.ValueRef]bool)
	m.strs = make(map[fmi.ValueRef]string)

	n := 0
	for _, v := range desc.Variables {
		if v.Kind == fmi.Real && int(v.Ref)+1 > n {
			n = int(v.Ref) + 1
		}
	}
	m.reals = make([]float64, n)
	for _, v := range desc.Variables {
		if v.Start == nil {
			continue
		}
		switch v.Kind {
		case fmi.Real:
			m.reals[v.Ref], _ = v.Start.(float64)
		case fmi.Integer:
			m.ints[v.Ref], _ = v.Start.(int)
		case fmi.Boolean:
			m.bools[v.Ref], _ = v.Start.(bool)
		case fmi.String:
			m.strs[v.Ref], _ = v.Start.(string)
		}
	}
	desc.NumContinuousStates = len(states)
}

// Real reads a real variable.
func (m *Base) Real(ref fmi.ValueRef) float64 { return m.reals[ref] }

// Set writes a real variable.
func (m *Base) Set(ref fmi.ValueRef, v float64) { m.reals[ref] = v }

func (m *Base) Time() float64      { return m.time }
func (m *Base) StartTime() float64 { return m.start }

// Schedule sets the next time event.
func (m *Base) Schedule(t float64) {
	m.nextEvent, m.hasNext = t, true
}

func (m *Base) ClearSchedule() { m.hasNext = false }

// Due reports whether the scheduled time event has been reached.
func (m *Base) Due() bool {
	return m.hasNext && m.time >= m.nextEvent-1e-9*math.Max(1, math.Abs(m.nextEvent))
}

// RequestTermination makes the next NewDiscreteStates report termination.
func (m *Base) RequestTermination() { m.terminate = true }

func (m *Base) logf(status fmi.Status, category, format string, args ...any) {
	if !m.logging || m.cb.Logger == nil {
		return
	}
	m.cb.Logger(m.instance, status, category, fmt.Sprintf(format, args...))
}

func (m *Base) fail(format string, args ...any) fmi.Status {
	if m.cb.Logger != nil {
		m.cb.Logger(m.instance, fmi.Error, "error", fmt.Sprintf(format, args...))
	}
	return fmi.Error
}

func (m *Base) Description() *fmi.ModelDescription { return m.desc }

func (m *Base) Instantiate(instanceName, guid string, cb fmi.Callbacks, loggingOn bool) fmi.Status {
	m.instance, m.cb, m.logging = instanceName, cb, loggingOn
	if guid != "" && guid != m.desc.GUID {
		return m.fail("guid %q does not match %q", guid, m.desc.GUID)
	}
	m.logf(fmi.OK, "lifecycle", "instantiated %s", m.desc.ModelName)
	return fmi.OK
}

func (m *Base) SetupExperiment(tolerance, startTime, stopTime float64) fmi.Status {
	m.tolerance, m.start, m.stop = tolerance, startTime, stopTime
	m.time = startTime
	return fmi.OK
}

func (m *Base) EnterInitializationMode() fmi.Status {
	m.eq.Init(m)
	return fmi.OK
}

func (m *Base) ExitInitializationMode() fmi.Status { return fmi.OK }

func (m *Base) refresh() {
	if o, ok := m.eq.(Outputs); ok {
		o.Outputs(m)
	}
}

func (m *Base) GetReal(refs []fmi.ValueRef, values []float64) fmi.Status {
	m.refresh()
	for i, r := range refs {
		if int(r) >= len(m.reals) {
			return m.fail("no real variable with reference %d", r)
		}
		values[i] = m.reals[r]
	}
	return fmi.OK
}

func (m *Base) writable(kind fmi.Kind, r fmi.ValueRef) bool {
	v, ok := m.desc.ByRef(kind, r)
	if !ok || v.Variability == fmi.Constant {
		return false
	}
	return v.Causality != fmi.Output && v.Causality != fmi.Independent
}

func (m *Base) SetReal(refs []fmi.ValueRef, values []float64) fmi.Status {
	for i, r := range refs {
		if !m.writable(fmi.Real, r) {
			return m.fail("real variable %d cannot be set", r)
		}
		m.reals[r] = values[i]
	}
	return fmi.OK
}

func (m *Base) GetInteger(refs []fmi.ValueRef, values []int) fmi.Status {
	for i, r := range refs {
		if _, ok := m.desc.ByRef(fmi.Integer, r); !ok {
			return m.fail("no integer variable with reference %d", r)
		}
		values[i] = m.ints[r]
	}
	return fmi.OK
}

func (m *Base) SetInteger(refs []fmi.ValueRef, values []int) fmi.Status {
	for i, r := range refs {
		if !m.writable(fmi.Integer, r) {
			return m.fail("integer variable %d cannot be set", r)
		}
		m.ints[r] = values[i]
	}
	return fmi.OK
}

func (m *Base) GetBoolean(refs []fmi.ValueRef, values []bool) fmi.Status {
	for i, r := range refs {
		if _, ok := m.desc.ByRef(fmi.Boolean, r); !ok {
			return m.fail("no boolean variable with reference %d", r)
		}
		values[i] = m.bools[r]
	}
	return fmi.OK
}

func (m *Base) SetBoolean(refs []fmi.ValueRef, values []bool) fmi.Status {
	for i, r := range refs {
		if !m.writable(fmi.Boolean, r) {
			return m.fail("boolean variable %d cannot be set", r)
		}
		m.bools[r] = values[i]
	}
	return fmi.OK
}

func (m *Base) GetString(refs []fmi.ValueRef, values []string) fmi.Status {
	for i, r := range refs {
		if _, ok := m.desc.ByRef(fmi.String, r); !ok {
			return m.fail("no string variable with reference %d", r)
		}
		values[i] = m.strs[r]
	}
	return fmi.OK
}

func (m *Base) SetString(refs []fmi.ValueRef, values []string) fmi.Status {
	for i, r := range refs {
		if !m.writable(fmi.String, r) {
			return m.fail("string variable %d cannot be set", r)
		}
		m.strs[r] = values[i]
	}
	return fmi.OK
}

func (m *Base) SetTime(t float64) fmi.Status {
	m.time = t
	return fmi.OK
}

func (m *Base) SetContinuousStates(x []float64) fmi.Status {
	if len(x) != len(m.states) {
		return m.fail("got %d states, want %d", len(x), len(m.states))
	}
	for i, r := range m.states {
		m.reals[r] = x[i]
	}
	return fmi.OK
}

func (m *Base) GetContinuousStates(x []float64) fmi.Status {
	if len(x) != len(m.states) {
		return m.fail("room for %d states, have %d", len(x), len(m.states))
	}
	for i, r := range m.states {
		x[i] = m.reals[r]
	}
	return fmi.OK
}

func (m *Base) GetDerivatives(dx []float64) fmi.Status {
	if len(dx) != len(m.states) {
		return m.fail("room for %d derivatives, have %d", len(dx), len(m.states))
	}
	m.eq.Derivatives(m, dx)
	return fmi.OK
}

func (m *Base) GetEventIndicators(z []float64) fmi.Status {
	if len(z) != m.desc.NumEventIndicators {
		return m.fail("room for %d indicators, have %d", len(z), m.desc.NumEventIndicators)
	}
	if ind, ok := m.eq.(Indicators); ok {
		ind.Indicators(m, z)
	}
	return fmi.OK
}

func (m *Base) EnterEventMode() fmi.Status { return fmi.OK }

func (m *Base) NewDiscreteStates(info *fmi.EventInfo) fmi.Status {
	*info = fmi.EventInfo{}
	if h, ok := m.eq.(EventHandler); ok {
		h.Event(m, info)
	}
	info.TerminateSimulation = info.TerminateSimulation || m.terminate
	if m.hasNext {
		info.NextEventTimeDefined = true
		info.NextEventTime = m.nextEvent
	}
	return fmi.OK
}

func (m *Base) EnterContinuousTimeMode() fmi.Status { return fmi.OK }

func (m *Base) CompletedIntegratorStep(noSetStatePrior bool) (bool, bool, fmi.Status) {
	if sc, ok := m.eq.(StepChecker); ok {
		enter, term := sc.StepCompleted(m)
		return enter, term, fmi.OK
	}
	return false, false, fmi.OK
}

func (m *Base) Terminate() fmi.Status {
	m.logf(fmi.OK, "lifecycle", "terminated at t=%g", m.time)
	return fmi.OK
}

func (m *Base) Free() {}

func realVar(name string, ref fmi.ValueRef, c fmi.Causality, v fmi.Variability, start any, description string) fmi.ScalarVariable {
	return fmi.ScalarVariable{
		Name:        name,
		Ref:         ref,
		Kind:        fmi.Real,
		Causality:   c,
		Variability: v,
		Start:       start,
		Description: description,
	}
}

func param(name string, ref fmi.ValueRef, start float64, description string) fmi.ScalarVariable {
	return realVar(name, ref, fmi.Parameter, fmi.Tunable, start, description)
}

func input(name string, ref fmi.ValueRef, description string) fmi.ScalarVariable {
	return realVar(name, ref, fmi.Input, fmi.Continuous, 0.0, description)
}

// state declares a state published as an output. It never depends on
// inputs directly.
func state(name string, ref fmi.ValueRef, description string) fmi.ScalarVariable {
	v := realVar(name, ref, fmi.Output, fmi.Continuous, nil, description)
	v.DependsOn = []fmi.ValueRef{}
	return v
}

// output declares a computed output. deps nil means every input.
func output(name string, ref fmi.ValueRef, deps []fmi.ValueRef, description string) fmi.ScalarVariable {
	v := realVar(name, ref, fmi.Output, fmi.Continuous, nil, description)
	v.DependsOn = deps
	return v
}
