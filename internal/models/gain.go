package models

import "github.com/san-kum/hybridsim/internal/fmi"

const (
	gainU fmi.ValueRef = iota
	gainY
	gainK
	gainOffset
)

// Gain is the static map y = k*u + offset with direct feedthrough.
type Gain struct {
	Base
}

func NewGain() *Gain {
	g := &Gain{}
	g.init(&fmi.ModelDescription{
		ModelName: "Gain",
		GUID:      "{hybridsim-gain-1}",
		Variables: []fmi.ScalarVariable{
			input("u", gainU, "input"),
			output("y", gainY, nil, "k*u + offset"),
			param("k", gainK, 1.0, "gain"),
			param("offset", gainOffset, 0.0, "constant offset"),
		},
	}, nil, g)
	return g
}

func (g *Gain) Init(m *Base) {}

func (g *Gain) Derivatives(m *Base, dx []float64) {}

func (g *Gain) Outputs(m *Base) {
	m.Set(gainY, m.Real(gainK)*m.Real(gainU)+m.Real(gainOffset))
}
