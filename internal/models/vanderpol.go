package models

import "github.com/san-kum/hybridsim/internal/fmi"

const (
	vdpX fmi.ValueRef = iota
	vdpY
	vdpMu
	vdpX0
	vdpY0
)

// VanDerPol implements the Van der Pol oscillator.
// State: [x, y] where y = dx/dt
// Equations:
//
//	dx/dt = y
//	dy/dt = μ(1 - x²)y - x
type VanDerPol struct {
	Base
}

func NewVanDerPol() *VanDerPol {
	v := &VanDerPol{}
	v.init(&fmi.ModelDescription{
		ModelName: "VanDerPol",
		GUID:      "{hybridsim-vanderpol-1}",
		Variables: []fmi.ScalarVariable{
			state("x", vdpX, "position"),
			state("y", vdpY, "velocity"),
			param("mu", vdpMu, 1.0, "nonlinearity"),
			param("x0", vdpX0, 2.0, "initial position"),
			param("y0", vdpY0, 0.0, "initial velocity"),
		},
		DefaultExperiment: fmi.Experiment{StopTime: 20, StepSize: 0.01},
	}, []fmi.ValueRef{vdpX, vdpY}, v)
	return v
}

func (v *VanDerPol) Init(m *Base) {
	m.Set(vdpX, m.Real(vdpX0))
	m.Set(vdpY, m.Real(vdpY0))
}

func (v *VanDerPol) Derivatives(m *Base, dx []float64) {
	x, y := m.Real(vdpX), m.Real(vdpY)
	dx[0] = y
	dx[1] = m.Real(vdpMu)*(1-x*x)*y - x
}
