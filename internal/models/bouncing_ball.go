package models

import (
	"math"

	"github.com/san-kum/hybridsim/internal/fmi"
)

const (
	ballH fmi.ValueRef = iota
	ballV
	ballG
	ballE
	ballH0
	ballV0
	ballVMin
)

// BouncingBall falls under gravity and bounces with restitution e when it
// reaches the ground. Once a bounce leaves less than vMin of speed the
// ball rests on the ground.
//
// The indicator is 1 while rising and h while falling, so the only sign
// change is the ground contact.
type BouncingBall struct {
	Base
	grounded bool
	bounces  int
}

func NewBouncingBall() *BouncingBall {
	b := &BouncingBall{}
	b.init(&fmi.ModelDescription{
		ModelName:          "BouncingBall",
		GUID:               "{hybridsim-bouncingball-1}",
		NumEventIndicators: 1,
		Variables: []fmi.ScalarVariable{
			state("h", ballH, "height above ground"),
			state("v", ballV, "vertical velocity"),
			param("g", ballG, 9.81, "gravitational acceleration"),
			param("e", ballE, 0.7, "coefficient of restitution"),
			param("h0", ballH0, 1.0, "initial height"),
			param("v0", ballV0, 0.0, "initial velocity"),
			param("vMin", ballVMin, 1e-2, "speed below which the ball comes to rest"),
		},
		DefaultExperiment: fmi.Experiment{StopTime: 3, StepSize: 0.01},
	}, []fmi.ValueRef{ballH, ballV}, b)
	return b
}

func (b *BouncingBall) Init(m *Base) {
	m.Set(ballH, m.Real(ballH0))
	m.Set(ballV, m.Real(ballV0))
	b.grounded = false
	b.bounces = 0
}

func (b *BouncingBall) Derivatives(m *Base, dx []float64) {
	if b.grounded {
		dx[0], dx[1] = 0, 0
		return
	}
	dx[0] = m.Real(ballV)
	dx[1] = -m.Real(ballG)
}

func (b *BouncingBall) Indicators(m *Base, z []float64) {
	if b.grounded || m.Real(ballV) > 0 {
		z[0] = 1
		return
	}
	z[0] = m.Real(ballH)
}

func (b *BouncingBall) Event(m *Base, info *fmi.EventInfo) {
	if b.grounded || m.Real(ballH) > 0 || m.Real(ballV) > 0 {
		return
	}
	v := -m.Real(ballE) * m.Real(ballV)
	m.Set(ballH, 0)
	if math.Abs(v) < m.Real(ballVMin) {
		b.grounded = true
		v = 0
		m.logf(fmi.OK, "event", "ball at rest at t=%g after %d bounces", m.Time(), b.bounces)
	} else {
		b.bounces++
	}
	m.Set(ballV, v)
	info.ValuesOfContinuousStatesChanged = true
}

// Bounces returns the number of bounces so far.
func (b *BouncingBall) Bounces() int { return b.bounces }
