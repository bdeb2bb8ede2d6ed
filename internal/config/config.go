package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"gopkg.in/yaml.v3"
)

const (
	DefaultMethod    = "rk4"
	DefaultStop      = 10.0
	DefaultTolerance = 1e-6
	DefaultGridCount = 500
)

//go:embed schema.cue
var schemaCUE string

type Scenario struct {
	Name               string             `yaml:"name,omitempty"`
	Description        string             `yaml:"description,omitempty"`
	Experiment         Experiment         `yaml:"experiment"`
	Loop               LoopConfig         `yaml:"loop,omitempty"`
	MaxEventIterations int                `yaml:"max_event_iterations,omitempty"`
	Units              []UnitConfig       `yaml:"units"`
	Connections        []ConnectionConfig `yaml:"connections,omitempty"`
}

type Experiment struct {
	Start        float64 `yaml:"start"`
	Stop         float64 `yaml:"stop"`
	Tolerance    float64 `yaml:"tolerance,omitempty"`
	AbsTolerance float64 `yaml:"abs_tolerance,omitempty"`
	Method       string  `yaml:"method"`
	Step         float64 `yaml:"step,omitempty"`
	GridCount    int     `yaml:"grid_count,omitempty"`
	GridWidth    float64 `yaml:"grid_width,omitempty"`
	SolverSteps  bool    `yaml:"solver_steps,omitempty"`
	MinStep      float64 `yaml:"min_step,omitempty"`
	MaxStep      float64 `yaml:"max_step,omitempty"`
}

type LoopConfig struct {
	Tolerance     float64 `yaml:"tolerance,omitempty"`
	MaxIterations int     `yaml:"max_iterations,omitempty"`
}

// UnitConfig places one built-in model in the scenario. Mode "cs" wraps
// it for co-simulation.
type UnitConfig struct {
	Name      string         `yaml:"name"`
	Model     string         `yaml:"model"`
	Mode      string         `yaml:"mode,omitempty"`
	Substep   float64        `yaml:"substep,omitempty"`
	DiscardAt *float64       `yaml:"discard_at,omitempty"`
	Start     map[string]any `yaml:"start,omitempty"`
}

func (u UnitConfig) CoSimulation() bool { return u.Mode == "cs" }

type ConnectionConfig struct {
	From string `yaml:"from"`
	To   string `yaml:"to"`
}

func DefaultScenario() *Scenario {
	return &Scenario{
		Name:        "bouncing_ball",
		Description: "a ball dropped from one metre",
		Experiment: Experiment{
			Stop:      3,
			Tolerance: DefaultTolerance,
			Method:    "rk45",
			GridCount: 300,
		},
		Units: []UnitConfig{{Name: "ball", Model: "bouncing_ball"}},
	}
}

func Load(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse validates data against the scenario schema and decodes it. Fields
// the document leaves out keep their defaults.
func Parse(data []byte) (*Scenario, error) {
	if err := ValidateYAML(data); err != nil {
		return nil, err
	}
	s := &Scenario{Experiment: Experiment{Stop: DefaultStop, Method: DefaultMethod, Tolerance: DefaultTolerance}}
	if err := yaml.Unmarshal(data, s); err != nil {
		return nil, err
	}
	if s.Experiment.GridCount == 0 && s.Experiment.GridWidth == 0 && !s.Experiment.SolverSteps && s.Experiment.Step == 0 {
		s.Experiment.GridCount = DefaultGridCount
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

func Save(path string, s *Scenario) error {
	data, err := yaml.Marshal(s)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// ValidateYAML checks a scenario document against the embedded CUE schema.
func ValidateYAML(data []byte) error {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("parse scenario: %w", err)
	}
	if doc == nil {
		return errors.New("scenario is empty")
	}

	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaCUE, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("compile scenario schema: %w", err)
	}
	v := schema.LookupPath(cue.ParsePath("#Scenario")).Unify(ctx.Encode(doc))
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return schemaError(err)
	}
	return nil
}

func schemaError(err error) error {
	errs := cueerrors.Errors(err)
	if len(errs) == 0 {
		return fmt.Errorf("invalid scenario: %w", err)
	}
	return fmt.Errorf("invalid scenario: %s", cueerrors.Details(errs[0], nil))
}

// Validate checks what the schema cannot: ordering of times and name
// uniqueness.
func (s *Scenario) Validate() error {
	e := s.Experiment
	if e.Stop <= e.Start {
		return fmt.Errorf("experiment: stop %g must be after start %g", e.Stop, e.Start)
	}
	if e.MaxStep > 0 && e.MinStep > e.MaxStep {
		return fmt.Errorf("experiment: min_step %g exceeds max_step %g", e.MinStep, e.MaxStep)
	}
	if len(s.Units) == 0 {
		return errors.New("scenario has no units")
	}
	seen := make(map[string]bool, len(s.Units))
	cs := s.Units[0].CoSimulation()
	for _, u := range s.Units {
		if seen[u.Name] {
			return fmt.Errorf("unit %q declared twice", u.Name)
		}
		seen[u.Name] = true
		if u.CoSimulation() != cs {
			return fmt.Errorf("unit %q: all units must use the same mode", u.Name)
		}
	}
	return nil
}

// Clone returns a deep copy, so presets can be adjusted freely.
func (s *Scenario) Clone() *Scenario {
	c := *s
	c.Units = make([]UnitConfig, len(s.Units))
	for i, u := range s.Units {
		if u.Start != nil {
			start := make(map[string]any, len(u.Start))
			for k, v := range u.Start {
				start[k] = v
			}
			u.Start = start
		}
		if u.DiscardAt != nil {
			at := *u.DiscardAt
			u.DiscardAt = &at
		}
		c.Units[i] = u
	}
	c.Connections = append([]ConnectionConfig(nil), s.Connections...)
	return &c
}
