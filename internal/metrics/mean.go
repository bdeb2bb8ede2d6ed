package metrics

import "math"

// MeanAbs is the sample mean of |v|.
type MeanAbs struct {
	name    string
	sum     float64
	samples int
}

func NewMeanAbs() *MeanAbs {
	return &MeanAbs{
		name: "mean_abs",
	}
}

func (m *MeanAbs) Name() string {
	return m.name
}

func (m *MeanAbs) Observe(t, v float64) {
	m.sum += math.Abs(v)
	m.samples++
}

func (m *MeanAbs) Value() float64 {
	if m.samples == 0 {
		return 0
	}
	return m.sum / float64(m.samples)
}

func (m *MeanAbs) Reset() {
	m.sum = 0
	m.samples = 0
}
