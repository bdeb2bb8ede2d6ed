package models

import "github.com/san-kum/hybridsim/internal/fmi"

const (
	rampX fmi.ValueRef = iota
	rampSlope
	rampX0
)

// Ramp integrates a constant slope: dx/dt = slope.
type Ramp struct {
	Base
}

func NewRamp() *Ramp {
	r := &Ramp{}
	r.init(&fmi.ModelDescription{
		ModelName: "Ramp",
		GUID:      "{hybridsim-ramp-1}",
		Variables: []fmi.ScalarVariable{
			state("x", rampX, "ramp value"),
			param("slope", rampSlope, 1.0, "rate of change"),
			param("x0", rampX0, 0.0, "initial value"),
		},
		DefaultExperiment: fmi.Experiment{StopTime: 10, StepSize: 0.1},
	}, []fmi.ValueRef{rampX}, r)
	return r
}

func (r *Ramp) Init(m *Base) { m.Set(rampX, m.Real(rampX0)) }

func (r *Ramp) Derivatives(m *Base, dx []float64) { dx[0] = m.Real(rampSlope) }
