// Package fmi defines the fixed low-level contract every simulation unit
// exposes, modeled on the Functional Mock-up Interface, and the binding
// layer that drives a unit safely.
//
// [Unit], [ModelExchange] and [CoSimulation] are the raw ABI: caller
// allocated slices and a [Status] per call. [Instance] wraps a unit for
// one run and owns its lifecycle:
//
//	Instantiated -> InitializationMode -> (EventMode <-> ContinuousTimeMode) -> Terminated
//	Instantiated -> InitializationMode -> StepMode -> Terminated          (co-simulation)
//
// Calls made outside their permitted mode never reach the unit; they fail
// with a [SequenceError]. Non-OK statuses become a [StatusError], except
// Warning, which is logged and recorded as a diagnostic. After a Fatal
// status the instance refuses everything except [Instance.Free].
package fmi
