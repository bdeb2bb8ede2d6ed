package config

import "sort"

func ptr(v float64) *float64 { return &v }

var Presets = map[string]map[string]*Scenario{
	"bouncing_ball": {
		"classic": DefaultScenario(),
		"superball": {
			Name:       "superball",
			Experiment: Experiment{Stop: 5, Method: "rk45", Tolerance: 1e-8, GridCount: 500},
			Units: []UnitConfig{{Name: "ball", Model: "bouncing_ball",
				Start: map[string]any{"e": 0.9, "h0": 2.0}}},
		},
		"fixed": {
			Name:       "fixed",
			Experiment: Experiment{Stop: 3, Method: "rk4", Step: 0.001, GridWidth: 0.01},
			Units:      []UnitConfig{{Name: "ball", Model: "bouncing_ball"}},
		},
	},
	"pendulum": {
		"small": {
			Name:       "small",
			Experiment: Experiment{Stop: 20, Method: "rk4", Step: 0.01, GridCount: 2000},
			Units: []UnitConfig{{Name: "pendulum", Model: "pendulum",
				Start: map[string]any{"theta0": 0.2}}},
		},
		"large": {
			Name:       "large",
			Experiment: Experiment{Stop: 20, Method: "rk45", Tolerance: 1e-8, GridCount: 2000},
			Units: []UnitConfig{{Name: "pendulum", Model: "pendulum",
				Start: map[string]any{"theta0": 2.5}}},
		},
		"damped": {
			Name:       "damped",
			Experiment: Experiment{Stop: 30, Method: "rk4", Step: 0.01, GridCount: 3000},
			Units: []UnitConfig{{Name: "pendulum", Model: "pendulum",
				Start: map[string]any{"theta0": 1.0, "damping": 0.3}}},
		},
	},
	"vanderpol": {
		"mild": {
			Name:       "mild",
			Experiment: Experiment{Stop: 20, Method: "rk45", Tolerance: 1e-6, GridCount: 1000},
			Units:      []UnitConfig{{Name: "osc", Model: "vanderpol"}},
		},
		"stiff": {
			Name:       "stiff",
			Experiment: Experiment{Stop: 100, Method: "bdf1", Tolerance: 1e-4, GridCount: 1000},
			Units: []UnitConfig{{Name: "osc", Model: "vanderpol",
				Start: map[string]any{"mu": 50.0}}},
		},
	},
	"spring_mass": {
		"bounce": {
			Name:       "bounce",
			Experiment: Experiment{Stop: 20, Method: "verlet", Step: 0.01, GridCount: 2000},
			Units: []UnitConfig{{Name: "spring", Model: "spring_mass",
				Start: map[string]any{"x0": 2.0, "c": 0.0}}},
		},
		"driven": {
			Name:        "driven",
			Description: "a spring pushed by a staircase force",
			Experiment:  Experiment{Stop: 20, Method: "rk4", Step: 0.01, GridCount: 2000},
			Units: []UnitConfig{
				{Name: "force", Model: "stair", Start: map[string]any{"period": 5.0, "step": 1.0}},
				{Name: "spring", Model: "spring_mass"},
			},
			Connections: []ConnectionConfig{{From: "force.y", To: "spring.force"}},
		},
	},
	"gain": {
		"loop": {
			Name:        "loop",
			Description: "two gains in an algebraic loop: x = 1 - 0.5x",
			Experiment:  Experiment{Stop: 1, Method: "rk4", GridCount: 10},
			Units: []UnitConfig{
				{Name: "a", Model: "gain", Start: map[string]any{"k": 0.5}},
				{Name: "b", Model: "gain", Start: map[string]any{"k": -1.0, "offset": 1.0}},
			},
			Connections: []ConnectionConfig{{From: "a.y", To: "b.u"}, {From: "b.y", To: "a.u"}},
		},
		"feedback": {
			Name:        "feedback",
			Description: "integrator with negative feedback decays as exp(-t)",
			Experiment:  Experiment{Stop: 5, Method: "rk45", GridCount: 500},
			Units: []UnitConfig{
				{Name: "int", Model: "integrator", Start: map[string]any{"y0": 1.0}},
				{Name: "fb", Model: "gain", Start: map[string]any{"k": -1.0}},
			},
			Connections: []ConnectionConfig{{From: "int.y", To: "fb.u"}, {From: "fb.y", To: "int.u"}},
		},
	},
	"ramp": {
		"grid": {
			Name:       "grid",
			Experiment: Experiment{Stop: 3, Method: "rk4", Step: 1, GridWidth: 0.3},
			Units:      []UnitConfig{{Name: "ramp", Model: "ramp"}},
		},
		"discard": {
			Name:        "discard",
			Description: "co-simulated ramp that discards the step across t=4.7",
			Experiment:  Experiment{Stop: 10, Method: "rk4", GridCount: 10},
			Units: []UnitConfig{{Name: "ramp", Model: "ramp", Mode: "cs",
				DiscardAt: ptr(4.7)}},
		},
	},
	"pid": {
		"hold": {
			Name:        "hold",
			Description: "PID holds a pendulum at the bottom from a 0.5 rad release",
			Experiment:  Experiment{Stop: 5, Method: "rk4", Step: 0.01, GridCount: 500},
			Units: []UnitConfig{
				{Name: "pendulum", Model: "pendulum", Start: map[string]any{"theta0": 0.5}},
				{Name: "ctrl", Model: "pid", Start: map[string]any{"kp": 20.0, "ki": 0.5, "kd": 5.0, "limit": 50.0}},
			},
			Connections: []ConnectionConfig{
				{From: "pendulum.theta", To: "ctrl.y"},
				{From: "pendulum.omega", To: "ctrl.ydot"},
				{From: "ctrl.u", To: "pendulum.torque"},
			},
		},
	},
	"terminator": {
		"early": {
			Name:       "early",
			Experiment: Experiment{Stop: 10, Method: "rk4", Step: 0.01, GridCount: 100},
			Units: []UnitConfig{
				{Name: "pendulum", Model: "pendulum"},
				{Name: "stop", Model: "terminator", Start: map[string]any{"at": 2.5}},
			},
		},
	},
}

// GetPreset returns a copy of a preset scenario, or nil.
func GetPreset(model, preset string) *Scenario {
	modelPresets, ok := Presets[model]
	if !ok {
		return nil
	}
	s, ok := modelPresets[preset]
	if !ok {
		return nil
	}
	return s.Clone()
}

func ListPresets(model string) []string {
	modelPresets, ok := Presets[model]
	if !ok {
		return nil
	}
	names := make([]string, 0, len(modelPresets))
	for name := range modelPresets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// PresetModels lists the models that have presets.
func PresetModels() []string {
	names := make([]string, 0, len(Presets))
	for name := range Presets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
