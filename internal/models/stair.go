package models

import "github.com/san-kum/hybridsim/internal/fmi"

const (
	stairY fmi.ValueRef = iota
	stairPeriod
	stairStep
	stairY0
)

// Stair is a piecewise-constant source that rises by step every period,
// driven purely by time events.
type Stair struct {
	Base
}

func NewStair() *Stair {
	s := &Stair{}
	y := realVar("y", stairY, fmi.Output, fmi.Discrete, nil, "current level")
	y.DependsOn = []fmi.ValueRef{}
	s.init(&fmi.ModelDescription{
		ModelName: "Stair",
		GUID:      "{hybridsim-stair-1}",
		Variables: []fmi.ScalarVariable{
			y,
			param("period", stairPeriod, 1.0, "time between steps"),
			param("step", stairStep, 1.0, "height of each step"),
			param("y0", stairY0, 0.0, "initial level"),
		},
		DefaultExperiment: fmi.Experiment{StopTime: 10, StepSize: 0.1},
	}, nil, s)
	return s
}

func (s *Stair) Init(m *Base) {
	m.Set(stairY, m.Real(stairY0))
	if p := m.Real(stairPeriod); p > 0 {
		m.Schedule(m.StartTime() + p)
	}
}

func (s *Stair) Derivatives(m *Base, dx []float64) {}

func (s *Stair) Event(m *Base, info *fmi.EventInfo) {
	if !m.Due() {
		return
	}
	m.Set(stairY, m.Real(stairY)+m.Real(stairStep))
	m.Schedule(m.nextEvent + m.Real(stairPeriod))
}
