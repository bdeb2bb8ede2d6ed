package models

import "github.com/san-kum/hybridsim/internal/fmi"

const (
	DefaultStiffness = 10.0
	DefaultDamping   = 0.5
)

const (
	smX fmi.ValueRef = iota
	smV
	smForce
	smMass
	smK
	smC
	smX0
	smV0
)

// SpringMass is a damped oscillator m x'' = -k x - c x' + force.
type SpringMass struct {
	Base
}

func NewSpringMass() *SpringMass {
	s := &SpringMass{}
	s.init(&fmi.ModelDescription{
		ModelName: "SpringMass",
		GUID:      "{hybridsim-springmass-1}",
		Variables: []fmi.ScalarVariable{
			state("x", smX, "displacement"),
			state("v", smV, "velocity"),
			input("force", smForce, "external force"),
			param("mass", smMass, 1.0, "mass"),
			param("k", smK, DefaultStiffness, "spring stiffness"),
			param("c", smC, DefaultDamping, "damping coefficient"),
			param("x0", smX0, 1.0, "initial displacement"),
			param("v0", smV0, 0.0, "initial velocity"),
		},
		DefaultExperiment: fmi.Experiment{StopTime: 10, StepSize: 0.01},
	}, []fmi.ValueRef{smX, smV}, s)
	return s
}

func (s *SpringMass) Init(m *Base) {
	m.Set(smX, m.Real(smX0))
	m.Set(smV, m.Real(smV0))
}

func (s *SpringMass) Derivatives(m *Base, dx []float64) {
	x, v := m.Real(smX), m.Real(smV)
	dx[0] = v
	dx[1] = (-m.Real(smK)*x - m.Real(smC)*v + m.Real(smForce)) / m.Real(smMass)
}
