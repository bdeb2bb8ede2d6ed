package models

import "github.com/san-kum/hybridsim/internal/fmi"

const (
	termAt fmi.ValueRef = iota
	termClock
)

// Terminator asks the engine to stop the run at time "at". It schedules
// a time event there and also reports termination from the step check.
type Terminator struct {
	Base
}

func NewTerminator() *Terminator {
	t := &Terminator{}
	t.init(&fmi.ModelDescription{
		ModelName: "Terminator",
		GUID:      "{hybridsim-terminator-1}",
		Variables: []fmi.ScalarVariable{
			param("at", termAt, 1.0, "termination time"),
			state("clock", termClock, "elapsed time"),
		},
	}, []fmi.ValueRef{termClock}, t)
	return t
}

func (t *Terminator) Init(m *Base) {
	m.Set(termClock, m.StartTime())
	m.Schedule(m.Real(termAt))
}

func (t *Terminator) Derivatives(m *Base, dx []float64) { dx[0] = 1 }

func (t *Terminator) Event(m *Base, info *fmi.EventInfo) {
	if m.Due() {
		m.ClearSchedule()
		m.RequestTermination()
	}
}

func (t *Terminator) StepCompleted(m *Base) (bool, bool) {
	return false, m.Time() >= m.Real(termAt)
}
