// Package experiment builds engine runs from scenario files.
package experiment

import (
	"context"
	"fmt"

	"github.com/san-kum/hybridsim/internal/config"
	"github.com/san-kum/hybridsim/internal/coupling"
	"github.com/san-kum/hybridsim/internal/engine"
	"github.com/san-kum/hybridsim/internal/fmi"
	"github.com/san-kum/hybridsim/internal/integrators"
	"github.com/san-kum/hybridsim/internal/models"
	"github.com/san-kum/hybridsim/internal/storage"
)

// Session converts the experiment section into integrator settings.
func Session(s *config.Scenario) integrators.Session {
	e := s.Experiment
	return integrators.Session{
		Start:       e.Start,
		Stop:        e.Stop,
		RelTol:      e.Tolerance,
		AbsTol:      e.AbsTolerance,
		Method:      e.Method,
		FixedStep:   e.Step,
		GridCount:   e.GridCount,
		GridWidth:   e.GridWidth,
		SolverSteps: e.SolverSteps,
		MinStep:     e.MinStep,
		MaxStep:     e.MaxStep,
	}
}

// Units instantiates the scenario's models, wrapping co-simulation units.
func Units(s *config.Scenario) ([]engine.UnitSpec, error) {
	specs := make([]engine.UnitSpec, 0, len(s.Units))
	for _, u := range s.Units {
		m, err := models.New(u.Model)
		if err != nil {
			return nil, fmt.Errorf("unit %q: %w", u.Name, err)
		}
		spec := engine.UnitSpec{Name: u.Name, Unit: m, Interface: fmi.ModelExchangeInterface, Start: u.Start}
		if u.CoSimulation() {
			cs := models.NewCoSim(m)
			cs.Substep = u.Substep
			if u.DiscardAt != nil {
				cs.DiscardAt, cs.HasDiscard = *u.DiscardAt, true
			}
			spec.Unit, spec.Interface = cs, fmi.CoSimulationInterface
		}
		specs = append(specs, spec)
	}
	return specs, nil
}

func Connections(s *config.Scenario) ([]coupling.Connection, error) {
	conns := make([]coupling.Connection, 0, len(s.Connections))
	for _, c := range s.Connections {
		from, err := coupling.ParsePort(c.From)
		if err != nil {
			return nil, err
		}
		to, err := coupling.ParsePort(c.To)
		if err != nil {
			return nil, err
		}
		conns = append(conns, coupling.Connection{From: from, To: to})
	}
	return conns, nil
}

// Build validates the scenario and prepares a controller for it.
func Build(s *config.Scenario, opts ...engine.Option) (*engine.Controller, integrators.Session, error) {
	session := Session(s)
	if err := s.Validate(); err != nil {
		return nil, session, err
	}
	if _, err := integrators.New(session.Method); err != nil {
		return nil, session, err
	}
	units, err := Units(s)
	if err != nil {
		return nil, session, err
	}
	conns, err := Connections(s)
	if err != nil {
		return nil, session, err
	}
	c, err := engine.New(engine.Config{
		Units:       units,
		Connections: conns,
		Loop: coupling.LoopSolver{
			Tolerance:     s.Loop.Tolerance,
			MaxIterations: s.Loop.MaxIterations,
		},
		MaxEventIterations: s.MaxEventIterations,
	}, opts...)
	if err != nil {
		return nil, session, err
	}
	return c, session, nil
}

// Run builds and executes the scenario, writing results to sink.
func Run(ctx context.Context, s *config.Scenario, sink storage.Sink, opts ...engine.Option) (*engine.Result, error) {
	c, session, err := Build(s, opts...)
	if err != nil {
		return nil, err
	}
	return c.Run(ctx, session, sink)
}

// Metadata describes a finished run for the run store.
func Metadata(s *config.Scenario, res *engine.Result) func(*storage.RunMetadata) {
	return func(m *storage.RunMetadata) {
		m.Outcome = res.Outcome.String()
		m.EndTime = res.EndTime
		m.Stats = map[string]int{
			"steps":        res.Stats.Steps,
			"rejected":     res.Stats.Rejected,
			"rhs_evals":    res.Stats.RHSEvals,
			"outputs":      res.Stats.Outputs,
			"state_events": res.Stats.StateEvents,
			"time_events":  res.Stats.TimeEvents,
			"step_events":  res.Stats.StepEvents,
			"loop_sweeps":  res.LoopSweeps,
		}
		for _, d := range res.Diagnostics {
			m.Diagnostics = append(m.Diagnostics, d.String())
		}
	}
}

// RunMetadata is the metadata a stored run starts with.
func RunMetadata(s *config.Scenario) storage.RunMetadata {
	return storage.RunMetadata{
		Scenario: s.Name,
		Method:   s.Experiment.Method,
		Start:    s.Experiment.Start,
		Stop:     s.Experiment.Stop,
	}
}
