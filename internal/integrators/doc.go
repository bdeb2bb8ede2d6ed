// Package integrators holds the ODE steppers and the drivers that run them.
//
// [Simulate] integrates a model-exchange [Problem] with fixed or
// variable steps, writes results on an output grid, detects indicator
// sign changes and hands every event instant to the problem. Fixed-step
// methods interpolate output points linearly between the two bracketing
// steps; variable-step methods aim each step at the next output point,
// time event or stop time.
//
// [SimulateSteps] is the co-simulation master loop over a [StepProblem].
package integrators
