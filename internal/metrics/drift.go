package metrics

import "math"

// Drift is the largest deviation from the first sample, relative to it
// when the first sample is non-zero and absolute otherwise. On a
// conserved quantity it measures integration error.
type Drift struct {
	name    string
	initial float64
	current float64
	max     float64
	samples int
}

func NewDrift() *Drift {
	return &Drift{
		name: "drift",
	}
}

func (d *Drift) Name() string { return d.name }

func (d *Drift) Observe(t, v float64) {
	if d.samples == 0 {
		d.initial = v
	}
	d.current = v
	d.samples++

	dev := math.Abs(v - d.initial)
	if d.initial != 0 {
		dev /= math.Abs(d.initial)
	}
	d.max = math.Max(d.max, dev)
}

func (d *Drift) Value() float64 {
	return d.max
}

func (d *Drift) Reset() {
	d.initial = 0
	d.current = 0
	d.max = 0
	d.samples = 0
}
