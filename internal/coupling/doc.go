// Package coupling orders the data flow between connected units and
// solves the algebraic loops in it.
//
// A [Graph] holds one node per input and output port. Connections add
// output-to-input edges; direct feedthrough inside a unit adds
// input-to-output edges. [Graph.Plan] condenses strongly connected
// components and orders them topologically. An [Evaluator] replays the
// plan against live units, iterating each loop with Gauss-Seidel.
package coupling
