package engine

import (
	"math"

	"github.com/san-kum/hybridsim/internal/dynamo"
	"github.com/san-kum/hybridsim/internal/fmi"
)

// stepProblem drives co-simulation units. Each unit keeps its own local
// time so that after a discard only the units behind the master resume.
type stepProblem struct{ c *Controller }

func (p *stepProblem) DoStep(t, h float64) (float64, bool, error) {
	c := p.c
	if c.coupled() {
		if err := c.eval.Evaluate(); err != nil {
			return t, false, dynamo.At(t, "coupling", err)
		}
	}
	terminate := false
	target := t + h
	reached := target
	for _, u := range c.units {
		if u.time >= target-1e-10*math.Max(1, math.Abs(target)) {
			continue
		}
		err := u.Instance.DoStep(u.time, target-u.time)
		switch {
		case err == nil:
			u.time = target
		case fmi.IsDiscard(err):
			lt, lerr := u.LastSuccessfulTime()
			if lerr != nil {
				return t, false, dynamo.At(t, "last successful time", lerr)
			}
			term, terr := u.Terminated()
			if terr != nil {
				return t, false, dynamo.At(lt, "terminated status", terr)
			}
			if term {
				c.log.Info("unit requested termination", "unit", u.Name(), "t", lt)
				terminate = true
			} else {
				c.log.Warn("step discarded", "unit", u.Name(), "from", u.time, "to", target, "reached", lt)
			}
			u.time = lt
		default:
			return t, false, dynamo.At(u.time, "do step", err)
		}
		reached = math.Min(reached, u.time)
	}
	return reached, terminate, nil
}

func (p *stepProblem) HandleResult(t float64) (bool, error) {
	return p.c.record(t)
}

func (p *stepProblem) Finalize(t float64, outcome dynamo.Outcome) error {
	p.c.endTime = t
	p.c.log.Debug("co-simulation finished", "t", t, "outcome", outcome.String())
	return nil
}
