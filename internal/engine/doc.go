// Package engine runs a set of simulation units from instantiation to
// release. A [Controller] owns one run: it instantiates every unit,
// applies start values, resolves couplings during initialization, then
// hands the model-exchange units to the integrator as one concatenated
// system, or steps co-simulation units at communication points.
//
// Units are always terminated and freed, whatever the outcome.
package engine
