package models

import "github.com/san-kum/hybridsim/internal/fmi"

const (
	intU fmi.ValueRef = iota
	intY
	intX0
)

// Integrator accumulates its input: dy/dt = u. Its output does not
// depend on the input directly.
type Integrator struct {
	Base
}

func NewIntegrator() *Integrator {
	i := &Integrator{}
	i.init(&fmi.ModelDescription{
		ModelName: "Integrator",
		GUID:      "{hybridsim-integrator-1}",
		Variables: []fmi.ScalarVariable{
			input("u", intU, "rate"),
			state("y", intY, "accumulated value"),
			param("y0", intX0, 0.0, "initial value"),
		},
	}, []fmi.ValueRef{intY}, i)
	return i
}

func (i *Integrator) Init(m *Base) { m.Set(intY, m.Real(intX0)) }

func (i *Integrator) Derivatives(m *Base, dx []float64) { dx[0] = m.Real(intU) }
