package models

import (
	"math"

	"github.com/san-kum/hybridsim/internal/fmi"
)

const (
	pendTheta fmi.ValueRef = iota
	pendOmega
	pendEnergy
	pendTorque
	pendMass
	pendLength
	pendDamping
	pendGravity
	pendTheta0
	pendOmega0
)

// Pendulum is a damped pendulum driven by an input torque.
type Pendulum struct {
	Base
}

func NewPendulum() *Pendulum {
	p := &Pendulum{}
	p.init(&fmi.ModelDescription{
		ModelName: "Pendulum",
		GUID:      "{hybridsim-pendulum-1}",
		Variables: []fmi.ScalarVariable{
			state("theta", pendTheta, "angle from the downward vertical"),
			state("omega", pendOmega, "angular velocity"),
			output("energy", pendEnergy, []fmi.ValueRef{}, "kinetic plus potential energy"),
			input("torque", pendTorque, "applied torque"),
			param("mass", pendMass, 1.0, "bob mass"),
			param("length", pendLength, 1.0, "rod length"),
			param("damping", pendDamping, 0.1, "viscous damping"),
			param("gravity", pendGravity, 9.81, "gravitational acceleration"),
			param("theta0", pendTheta0, 0.5, "initial angle"),
			param("omega0", pendOmega0, 0.0, "initial angular velocity"),
		},
		DefaultExperiment: fmi.Experiment{StopTime: 10, StepSize: 0.01},
	}, []fmi.ValueRef{pendTheta, pendOmega}, p)
	return p
}

func (p *Pendulum) Init(m *Base) {
	m.Set(pendTheta, m.Real(pendTheta0))
	m.Set(pendOmega, m.Real(pendOmega0))
}

func (p *Pendulum) Derivatives(m *Base, dx []float64) {
	theta, omega := m.Real(pendTheta), m.Real(pendOmega)
	mass, length := m.Real(pendMass), m.Real(pendLength)

	alpha := (-m.Real(pendDamping)*omega - mass*m.Real(pendGravity)*length*math.Sin(theta) + m.Real(pendTorque)) / (mass * length * length)

	dx[0] = omega
	dx[1] = alpha
}

func (p *Pendulum) Outputs(m *Base) {
	// KE = 0.5 * m * (L*omega)^2
	// PE = m * g * L * (1 - cos(theta))
	mass, length := m.Real(pendMass), m.Real(pendLength)
	v := length * m.Real(pendOmega)
	ke := 0.5 * mass * v * v
	pe := mass * m.Real(pendGravity) * length * (1.0 - math.Cos(m.Real(pendTheta)))
	m.Set(pendEnergy, ke+pe)
}
