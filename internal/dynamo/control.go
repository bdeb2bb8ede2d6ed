package dynamo

import (
	"math"
	"sync/atomic"
)

// CancelFlag is a poll-checked stop request. Set may be called from any
// goroutine; the run reads it only at its suspension points.
type CancelFlag struct {
	v atomic.Bool
}

func (c *CancelFlag) Set()        { c.v.Store(true) }
func (c *CancelFlag) IsSet() bool { return c != nil && c.v.Load() }
func (c *CancelFlag) Reset()      { c.v.Store(false) }

// Progress is a per-run shared cell holding the last reached simulation
// time, readable from another goroutine while the run proceeds.
type Progress struct {
	bits        atomic.Uint64
	start, stop float64
}

func NewProgress(start, stop float64) *Progress {
	p := &Progress{start: start, stop: stop}
	p.Store(start)
	return p
}

func (p *Progress) Store(t float64) {
	if p == nil {
		return
	}
	p.bits.Store(math.Float64bits(t))
}

func (p *Progress) Time() float64 {
	if p == nil {
		return 0
	}
	return math.Float64frombits(p.bits.Load())
}

// Fraction returns progress in [0, 1].
func (p *Progress) Fraction() float64 {
	if p == nil || p.stop <= p.start {
		return 0
	}
	f := (p.Time() - p.start) / (p.stop - p.start)
	return math.Max(0, math.Min(1, f))
}
