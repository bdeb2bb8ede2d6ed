package metrics

import (
	"math"
	"testing"
)

func TestPeakAndMean(t *testing.T) {
	p, m := NewPeak(), NewMeanAbs()
	for i, v := range []float64{1, -3, 2} {
		p.Observe(float64(i), v)
		m.Observe(float64(i), v)
	}
	if p.Value() != 3 {
		t.Errorf("expected peak 3, got %f", p.Value())
	}
	if math.Abs(m.Value()-2) > 1e-12 {
		t.Errorf("expected mean 2, got %f", m.Value())
	}

	p.Reset()
	m.Reset()
	if p.Value() != 0 || m.Value() != 0 {
		t.Error("expected zero after reset")
	}
}

func TestDrift(t *testing.T) {
	d := NewDrift()
	for i, v := range []float64{10, 10.5, 9.8, 10.1} {
		d.Observe(float64(i), v)
	}
	if math.Abs(d.Value()-0.05) > 1e-12 {
		t.Errorf("expected relative drift 0.05, got %f", d.Value())
	}

	d.Reset()
	d.Observe(0, 0)
	d.Observe(1, -0.25)
	if d.Value() != 0.25 {
		t.Errorf("expected absolute drift from zero, got %f", d.Value())
	}
}

func TestBounded(t *testing.T) {
	b := NewBounded(1)
	if b.Value() != 1 {
		t.Errorf("expected 1 with no samples, got %f", b.Value())
	}
	for i, v := range []float64{0.5, 2, -0.9, -1.5} {
		b.Observe(float64(i), v)
	}
	if b.Value() != 0.5 {
		t.Errorf("expected 0.5, got %f", b.Value())
	}
}

func TestCollector(t *testing.T) {
	c := NewCollector(nil)
	if err := c.DeclareSeries("ball", []string{"h", "v"}); err != nil {
		t.Fatal(err)
	}
	rows := [][]float64{{1, 0}, {0.5, -1}, {0, -2}}
	for i, row := range rows {
		if err := c.WriteSeries("ball", float64(i), row); err != nil {
			t.Fatal(err)
		}
	}
	if err := c.WriteSeries("ball", 3, []float64{1}); err == nil {
		t.Error("expected error for short row")
	}

	vals := c.Values()
	if vals["ball.v.peak"] != 2 {
		t.Errorf("expected v peak 2, got %f", vals["ball.v.peak"])
	}
	if vals["ball.h.drift"] != 1 {
		t.Errorf("expected h drift 1, got %f", vals["ball.h.drift"])
	}
	if got := len(c.Keys()); got != 6 {
		t.Errorf("expected 6 keys, got %d", got)
	}

	c.Reset()
	if c.Values()["ball.v.peak"] != 0 {
		t.Error("expected reset metrics")
	}
}

func TestCollectorUndeclared(t *testing.T) {
	c := NewCollector(func() []Metric { return []Metric{NewPeak()} })
	if err := c.WriteSeries("src", 0, []float64{4}); err != nil {
		t.Fatal(err)
	}
	if c.Values()["src.c0.peak"] != 4 {
		t.Errorf("got %v", c.Values())
	}
}
