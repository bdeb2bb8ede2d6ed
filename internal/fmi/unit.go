package fmi

// Callbacks are handed to a unit at instantiation.
type Callbacks struct {
	// Logger receives unit log messages. category is unit-defined.
	Logger func(instance string, status Status, category, message string)
}

// EventInfo is filled in by NewDiscreteStates.
type EventInfo struct {
	NewDiscreteStatesNeeded           bool
	TerminateSimulation               bool
	NominalsOfContinuousStatesChanged bool
	ValuesOfContinuousStatesChanged   bool
	NextEventTimeDefined              bool
	NextEventTime                     float64
}

// Unit is the raw low-level contract shared by every simulation unit.
// Output slices are allocated by the caller. Calls never panic on bad
// input; they report it through the returned Status.
type Unit interface {
	Description() *ModelDescription

	Instantiate(instanceName, guid string, cb Callbacks, loggingOn bool) Status
	SetupExperiment(tolerance, startTime, stopTime float64) Status
	EnterInitializationMode() Status
	ExitInitializationMode() Status

	GetReal(refs []ValueRef, values []float64) Status
	GetInteger(refs []ValueRef, values []int) Status
	GetBoolean(refs []ValueRef, values []bool) Status
	GetString(refs []ValueRef, values []string) Status
	SetReal(refs []ValueRef, values []float64) Status
	SetInteger(refs []ValueRef, values []int) Status
	SetBoolean(refs []ValueRef, values []bool) Status
	SetString(refs []ValueRef, values []string) Status

	Terminate() Status
	Free()
}

// ModelExchange units leave time integration to the engine.
type ModelExchange interface {
	Unit

	SetTime(t float64) Status
	SetContinuousStates(x []float64) Status
	GetContinuousStates(x []float64) Status
	GetDerivatives(dx []float64) Status
	GetEventIndicators(z []float64) Status

	EnterEventMode() Status
	NewDiscreteStates(info *EventInfo) Status
	EnterContinuousTimeMode() Status
	CompletedIntegratorStep(noSetStatePrior bool) (enterEventMode, terminate bool, status Status)
}

// CoSimulation units integrate themselves; the engine only asks them to
// advance by a communication step.
type CoSimulation interface {
	Unit

	DoStep(currentTime, stepSize float64, noSetStatePrior bool) Status
	// LastSuccessfulTime is valid after DoStep returned Discard.
	LastSuccessfulTime() (float64, Status)
	// Terminated reports whether the unit ended the simulation. A unit
	// that terminates inside a step returns Discard from DoStep, with
	// LastSuccessfulTime at the instant it stopped.
	Terminated() (bool, Status)
}

// Interface selects which ABI flavour an instance is driven through.
type Interface int

const (
	ModelExchangeInterface Interface = iota
	CoSimulationInterface
)

func (i Interface) String() string {
	if i == CoSimulationInterface {
		return "co-simulation"
	}
	return "model-exchange"
}
