package models

import (
	"fmt"
	"sort"
	"strings"

	"github.com/san-kum/hybridsim/internal/fmi"
)

// Info describes a built-in model.
type Info struct {
	Name        string
	Description string
	New         func() fmi.ModelExchange
}

var catalog = map[string]Info{
	"ramp":          {"ramp", "constant-slope integrator dx/dt = slope", func() fmi.ModelExchange { return NewRamp() }},
	"bouncing_ball": {"bouncing_ball", "ball under gravity with restitution (state events)", func() fmi.ModelExchange { return NewBouncingBall() }},
	"pendulum":      {"pendulum", "damped pendulum with torque input", func() fmi.ModelExchange { return NewPendulum() }},
	"vanderpol":     {"vanderpol", "Van der Pol oscillator", func() fmi.ModelExchange { return NewVanDerPol() }},
	"spring_mass":   {"spring_mass", "damped spring-mass with force input", func() fmi.ModelExchange { return NewSpringMass() }},
	"stair":         {"stair", "piecewise-constant source (time events)", func() fmi.ModelExchange { return NewStair() }},
	"gain":          {"gain", "static gain y = k*u + offset (direct feedthrough)", func() fmi.ModelExchange { return NewGain() }},
	"integrator":    {"integrator", "integrates its input, no feedthrough", func() fmi.ModelExchange { return NewIntegrator() }},
	"pid":           {"pid", "continuous PID controller, derivative on measurement", func() fmi.ModelExchange { return NewPID() }},
	"terminator":    {"terminator", "requests termination at a given time", func() fmi.ModelExchange { return NewTerminator() }},
}

// New returns a fresh unit of the named model.
func New(name string) (fmi.ModelExchange, error) {
	info, ok := catalog[strings.ToLower(name)]
	if !ok {
		return nil, fmt.Errorf("unknown model %q (available: %s)", name, strings.Join(Names(), ", "))
	}
	return info.New(), nil
}

// Names lists the built-in models, sorted.
func Names() []string {
	names := make([]string, 0, len(catalog))
	for name := range catalog {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Catalog returns every built-in model, sorted by name.
func Catalog() []Info {
	out := make([]Info, 0, len(catalog))
	for _, name := range Names() {
		out = append(out, catalog[name])
	}
	return out
}
