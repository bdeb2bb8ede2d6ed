package coupling

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"

	"github.com/san-kum/hybridsim/internal/dynamo"
)

const (
	DefaultTolerance     = 1e-4
	DefaultMaxIterations = 500
)

// LoopError reports an algebraic loop that hit its iteration cap.
type LoopError struct {
	Ports      []Port
	Iterations int
	Residual   float64
}

func (e *LoopError) Error() string {
	names := make([]string, len(e.Ports))
	for i, p := range e.Ports {
		names[i] = p.String()
	}
	return fmt.Sprintf("loop [%s] after %d iterations (residual %g): %v",
		strings.Join(names, ", "), e.Iterations, e.Residual, dynamo.ErrLoopDidNotConverge)
}

func (e *LoopError) Unwrap() error { return dynamo.ErrLoopDidNotConverge }

func IsLoopError(err error) bool {
	var le *LoopError
	return errors.As(err, &le)
}

// LoopSolver solves algebraic loops by Gauss-Seidel iteration over the
// loop's connected inputs.
type LoopSolver struct {
	Tolerance     float64
	MaxIterations int
}

func DefaultLoopSolver() LoopSolver {
	return LoopSolver{Tolerance: DefaultTolerance, MaxIterations: DefaultMaxIterations}
}

func (s LoopSolver) withDefaults() LoopSolver {
	if s.Tolerance <= 0 {
		s.Tolerance = DefaultTolerance
	}
	if s.MaxIterations <= 0 {
		s.MaxIterations = DefaultMaxIterations
	}
	return s
}

// Evaluator propagates values through live units along a plan.
type Evaluator struct {
	plan   *Plan
	access PortAccess
	solver LoopSolver
	log    *slog.Logger

	// Iterations counts Gauss-Seidel sweeps across all evaluations.
	Iterations int
}

func NewEvaluator(plan *Plan, access PortAccess, solver LoopSolver, log *slog.Logger) *Evaluator {
	if log == nil {
		log = slog.Default()
	}
	return &Evaluator{plan: plan, access: access, solver: solver.withDefaults(), log: log}
}

func (e *Evaluator) Plan() *Plan { return e.plan }

// Evaluate replays every group in order: single inputs pull from their
// source once, loops iterate until the largest input change is within
// tolerance.
func (e *Evaluator) Evaluate() error {
	for _, g := range e.plan.Groups {
		if g.IsLoop() {
			if err := e.solve(g); err != nil {
				return err
			}
			continue
		}
		n := e.plan.graph.nodes[g.Nodes[0]]
		if n.kind != inputNode || n.source < 0 {
			continue
		}
		if _, err := e.transfer(g.Nodes[0]); err != nil {
			return err
		}
	}
	return nil
}

// transfer copies the source output into input v and returns the change.
func (e *Evaluator) transfer(v int) (float64, error) {
	nodes := e.plan.graph.nodes
	in := nodes[v]
	src := nodes[in.source].port
	val, err := e.access.Get(src)
	if err != nil {
		return 0, fmt.Errorf("read %s: %w", src, err)
	}
	before, err := e.access.Get(in.port)
	if err != nil {
		return 0, fmt.Errorf("read %s: %w", in.port, err)
	}
	if err := e.access.Set(in.port, val); err != nil {
		return 0, fmt.Errorf("write %s: %w", in.port, err)
	}
	return math.Abs(val - before), nil
}

func (e *Evaluator) solve(g Group) error {
	inputs := e.plan.loopInputs(g)
	residual := math.Inf(1)
	for iter := 1; iter <= e.solver.MaxIterations; iter++ {
		e.Iterations++
		residual = 0
		for _, v := range inputs {
			delta, err := e.transfer(v)
			if err != nil {
				return err
			}
			residual = math.Max(residual, delta)
		}
		if residual <= e.solver.Tolerance {
			e.log.Debug("algebraic loop converged", "iterations", iter, "residual", residual)
			return nil
		}
	}
	ports := make([]Port, len(g.Nodes))
	for i, v := range g.Nodes {
		ports[i] = e.plan.graph.nodes[v].port
	}
	return &LoopError{Ports: ports, Iterations: e.solver.MaxIterations, Residual: residual}
}
