package fmi

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/san-kum/hybridsim/internal/dynamo"
)

// Mode is the lifecycle state of an instance.
type Mode int

const (
	ModeInstantiated Mode = iota
	ModeInitialization
	ModeEvent
	ModeContinuousTime
	ModeStep
	ModeTerminated
	ModeFreed
)

func (m Mode) String() string {
	switch m {
	case ModeInstantiated:
		return "Instantiated"
	case ModeInitialization:
		return "InitializationMode"
	case ModeEvent:
		return "EventMode"
	case ModeContinuousTime:
		return "ContinuousTimeMode"
	case ModeStep:
		return "StepMode"
	case ModeTerminated:
		return "Terminated"
	case ModeFreed:
		return "Freed"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

var valueModes = []Mode{ModeInstantiated, ModeInitialization, ModeEvent, ModeContinuousTime, ModeStep}

// Instance owns one unit for the duration of a run and enforces the
// lifecycle: every call is checked against the current mode before it
// reaches the unit, and every status is translated into an error.
type Instance struct {
	name  string
	iface Interface
	unit  Unit
	me    ModelExchange
	cs    CoSimulation
	desc  *ModelDescription
	mode  Mode
	fatal bool

	log  *slog.Logger
	diag *dynamo.Diagnostics
	time float64
}

type Option func(*Instance)

func WithLogger(l *slog.Logger) Option {
	return func(in *Instance) {
		if l != nil {
			in.log = l
		}
	}
}

// WithDiagnostics records Warning statuses into d.
func WithDiagnostics(d *dynamo.Diagnostics) Option {
	return func(in *Instance) { in.diag = d }
}

// Instantiate creates an instance of unit driven through iface. No other
// unit call is possible before this succeeds.
func Instantiate(unit Unit, name string, iface Interface, loggingOn bool, opts ...Option) (*Instance, error) {
	in := &Instance{
		name:  name,
		iface: iface,
		unit:  unit,
		desc:  unit.Description(),
		log:   slog.Default(),
	}
	for _, opt := range opts {
		opt(in)
	}
	in.log = in.log.With("unit", name)

	switch iface {
	case ModelExchangeInterface:
		me, ok := unit.(ModelExchange)
		if !ok {
			return nil, fmt.Errorf("unit %q does not implement model exchange: %w", name, dynamo.ErrSequence)
		}
		in.me = me
	case CoSimulationInterface:
		cs, ok := unit.(CoSimulation)
		if !ok {
			return nil, fmt.Errorf("unit %q does not implement co-simulation: %w", name, dynamo.ErrSequence)
		}
		in.cs = cs
	}

	cb := Callbacks{Logger: in.unitLog}
	if err := in.status("instantiate", unit.Instantiate(name, in.desc.GUID, cb, loggingOn)); err != nil {
		return nil, err
	}
	in.mode = ModeInstantiated
	return in, nil
}

func (in *Instance) unitLog(instance string, status Status, category, message string) {
	level := slog.LevelDebug
	switch status {
	case Warning, Discard:
		level = slog.LevelWarn
	case Error, Fatal:
		level = slog.LevelError
	}
	in.log.Log(context.Background(), level, message, "category", category, "status", status.String())
}

func (in *Instance) Name() string                   { return in.name }
func (in *Instance) Mode() Mode                     { return in.mode }
func (in *Instance) Interface() Interface           { return in.iface }
func (in *Instance) Description() *ModelDescription { return in.desc }
func (in *Instance) NumStates() int                 { return in.desc.NumContinuousStates }
func (in *Instance) NumEventIndicators() int        { return in.desc.NumEventIndicators }

// Usable reports whether the instance still accepts calls other than Free.
func (in *Instance) Usable() bool {
	return !in.fatal && in.mode != ModeTerminated && in.mode != ModeFreed
}

func (in *Instance) check(op string, allowed ...Mode) error {
	if in.fatal || in.mode == ModeFreed {
		return &SequenceError{Unit: in.name, Op: op, Mode: in.mode}
	}
	for _, m := range allowed {
		if in.mode == m {
			return nil
		}
	}
	return &SequenceError{Unit: in.name, Op: op, Mode: in.mode}
}

func (in *Instance) needME(op string) error {
	if in.me == nil {
		return &SequenceError{Unit: in.name, Op: op + " (co-simulation instance)", Mode: in.mode}
	}
	return nil
}

func (in *Instance) needCS(op string) error {
	if in.cs == nil {
		return &SequenceError{Unit: in.name, Op: op + " (model-exchange instance)", Mode: in.mode}
	}
	return nil
}

func (in *Instance) status(op string, s Status) error {
	switch s {
	case OK:
		return nil
	case Warning:
		in.log.Warn("unit warning", "call", op, "t", in.time)
		in.diag.Add(dynamo.UnitWarning, in.time, "unit %q: %s returned Warning", in.name, op)
		return nil
	case Fatal:
		in.fatal = true
	}
	return &StatusError{Unit: in.name, Op: op, Status: s}
}

func (in *Instance) SetupExperiment(tolerance, start, stop float64) error {
	if err := in.check("setupExperiment", ModeInstantiated); err != nil {
		return err
	}
	in.time = start
	return in.status("setupExperiment", in.unit.SetupExperiment(tolerance, start, stop))
}

func (in *Instance) EnterInitializationMode() error {
	if err := in.check("enterInitializationMode", ModeInstantiated); err != nil {
		return err
	}
	if err := in.status("enterInitializationMode", in.unit.EnterInitializationMode()); err != nil {
		return err
	}
	in.mode = ModeInitialization
	return nil
}

func (in *Instance) ExitInitializationMode() error {
	if err := in.check("exitInitializationMode", ModeInitialization); err != nil {
		return err
	}
	if err := in.status("exitInitializationMode", in.unit.ExitInitializationMode()); err != nil {
		return err
	}
	if in.iface == CoSimulationInterface {
		in.mode = ModeStep
	} else {
		in.mode = ModeEvent
	}
	return nil
}

func (in *Instance) SetTime(t float64) error {
	if err := in.needME("setTime"); err != nil {
		return err
	}
	if err := in.check("setTime", ModeEvent, ModeContinuousTime); err != nil {
		return err
	}
	in.time = t
	return in.status("setTime", in.me.SetTime(t))
}

func (in *Instance) SetContinuousStates(x dynamo.State) error {
	if err := in.needME("setContinuousStates"); err != nil {
		return err
	}
	if err := in.check("setContinuousStates", ModeContinuousTime); err != nil {
		return err
	}
	if len(x) != in.NumStates() {
		return fmt.Errorf("unit %q: setContinuousStates got %d values for %d states: %w",
			in.name, len(x), in.NumStates(), dynamo.ErrDimensionMismatch)
	}
	return in.status("setContinuousStates", in.me.SetContinuousStates(x))
}

func (in *Instance) ContinuousStates() (dynamo.State, error) {
	if err := in.needME("getContinuousStates"); err != nil {
		return nil, err
	}
	if err := in.check("getContinuousStates", ModeContinuousTime); err != nil {
		return nil, err
	}
	x := make(dynamo.State, in.NumStates())
	return x, in.status("getContinuousStates", in.me.GetContinuousStates(x))
}

func (in *Instance) Derivatives() (dynamo.State, error) {
	if err := in.needME("getDerivatives"); err != nil {
		return nil, err
	}
	if err := in.check("getDerivatives", ModeContinuousTime); err != nil {
		return nil, err
	}
	dx := make(dynamo.State, in.NumStates())
	return dx, in.status("getDerivatives", in.me.GetDerivatives(dx))
}

func (in *Instance) EventIndicators() (dynamo.State, error) {
	if err := in.needME("getEventIndicators"); err != nil {
		return nil, err
	}
	if err := in.check("getEventIndicators", ModeContinuousTime); err != nil {
		return nil, err
	}
	z := make(dynamo.State, in.NumEventIndicators())
	if len(z) == 0 {
		return z, nil
	}
	return z, in.status("getEventIndicators", in.me.GetEventIndicators(z))
}

func (in *Instance) EnterEventMode() error {
	if err := in.needME("enterEventMode"); err != nil {
		return err
	}
	if err := in.check("enterEventMode", ModeContinuousTime); err != nil {
		return err
	}
	if err := in.status("enterEventMode", in.me.EnterEventMode()); err != nil {
		return err
	}
	in.mode = ModeEvent
	return nil
}

func (in *Instance) NewDiscreteStates() (EventInfo, error) {
	var info EventInfo
	if err := in.needME("newDiscreteStates"); err != nil {
		return info, err
	}
	if err := in.check("newDiscreteStates", ModeEvent); err != nil {
		return info, err
	}
	err := in.status("newDiscreteStates", in.me.NewDiscreteStates(&info))
	return info, err
}

func (in *Instance) EnterContinuousTimeMode() error {
	if err := in.needME("enterContinuousTimeMode"); err != nil {
		return err
	}
	if err := in.check("enterContinuousTimeMode", ModeEvent); err != nil {
		return err
	}
	if err := in.status("enterContinuousTimeMode", in.me.EnterContinuousTimeMode()); err != nil {
		return err
	}
	in.mode = ModeContinuousTime
	return nil
}

func (in *Instance) CompletedIntegratorStep() (enterEventMode, terminate bool, err error) {
	if err := in.needME("completedIntegratorStep"); err != nil {
		return false, false, err
	}
	if err := in.check("completedIntegratorStep", ModeContinuousTime); err != nil {
		return false, false, err
	}
	enter, term, s := in.me.CompletedIntegratorStep(true)
	return enter, term, in.status("completedIntegratorStep", s)
}

func (in *Instance) DoStep(t, h float64) error {
	if err := in.needCS("doStep"); err != nil {
		return err
	}
	if err := in.check("doStep", ModeStep); err != nil {
		return err
	}
	in.time = t
	return in.status("doStep", in.cs.DoStep(t, h, true))
}

func (in *Instance) LastSuccessfulTime() (float64, error) {
	if err := in.needCS("getLastSuccessfulTime"); err != nil {
		return 0, err
	}
	if err := in.check("getLastSuccessfulTime", ModeStep); err != nil {
		return 0, err
	}
	t, s := in.cs.LastSuccessfulTime()
	return t, in.status("getLastSuccessfulTime", s)
}

// Terminated reports whether a co-simulation unit asked to end the run.
func (in *Instance) Terminated() (bool, error) {
	if err := in.needCS("getBooleanStatus"); err != nil {
		return false, err
	}
	if err := in.check("getBooleanStatus", ModeStep); err != nil {
		return false, err
	}
	term, s := in.cs.Terminated()
	return term, in.status("getBooleanStatus", s)
}

// Terminate ends the run for this unit. Only Free is accepted afterwards.
func (in *Instance) Terminate() error {
	if err := in.check("terminate", ModeInitialization, ModeEvent, ModeContinuousTime, ModeStep); err != nil {
		return err
	}
	err := in.status("terminate", in.unit.Terminate())
	in.mode = ModeTerminated
	return err
}

// Free releases the unit. It is valid in every mode, including after a
// Fatal status, and a second call does nothing.
func (in *Instance) Free() {
	if in.mode == ModeFreed {
		return
	}
	in.unit.Free()
	in.mode = ModeFreed
}
