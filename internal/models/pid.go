package models

import (
	"math"

	"github.com/san-kum/hybridsim/internal/fmi"
)

const (
	pidIntegral fmi.ValueRef = iota
	pidR
	pidY
	pidYdot
	pidU
	pidKp
	pidKi
	pidKd
	pidLimit
)

// PID is a continuous PID controller. The derivative acts on the
// measured rate ydot rather than on the error, so setpoint steps do not
// kick the output. A positive limit clamps |u|.
type PID struct {
	Base
}

func NewPID() *PID {
	p := &PID{}
	p.init(&fmi.ModelDescription{
		ModelName: "PID",
		GUID:      "{hybridsim-pid-1}",
		Variables: []fmi.ScalarVariable{
			realVar("integral", pidIntegral, fmi.Local, fmi.Continuous, 0.0, "integrated error"),
			input("r", pidR, "setpoint"),
			input("y", pidY, "measurement"),
			input("ydot", pidYdot, "measurement rate"),
			output("u", pidU, nil, "control signal"),
			param("kp", pidKp, 1.0, "proportional gain"),
			param("ki", pidKi, 0.0, "integral gain"),
			param("kd", pidKd, 0.0, "derivative gain"),
			param("limit", pidLimit, 0.0, "output magnitude limit, 0 for none"),
		},
	}, []fmi.ValueRef{pidIntegral}, p)
	return p
}

func (p *PID) Init(m *Base) { m.Set(pidIntegral, 0) }

func (p *PID) Derivatives(m *Base, dx []float64) {
	dx[0] = m.Real(pidR) - m.Real(pidY)
}

func (p *PID) Outputs(m *Base) {
	e := m.Real(pidR) - m.Real(pidY)
	u := m.Real(pidKp)*e + m.Real(pidKi)*m.Real(pidIntegral) - m.Real(pidKd)*m.Real(pidYdot)
	if limit := m.Real(pidLimit); limit > 0 {
		u = math.Max(-limit, math.Min(limit, u))
	}
	m.Set(pidU, u)
}
