package metrics

import (
	"fmt"
	"sort"
	"sync"
)

// Metric summarizes one recorded column over a run.
type Metric interface {
	Name() string
	Observe(t, v float64)
	Value() float64
	Reset()
}

// Defaults returns the metrics the CLI attaches to every column.
func Defaults() []Metric {
	return []Metric{NewPeak(), NewMeanAbs(), NewDrift()}
}

type column struct {
	name    string
	metrics []Metric
}

// Collector is a result sink that feeds every written row into a fresh
// set of metrics per series column.
type Collector struct {
	mu      sync.Mutex
	factory func() []Metric
	series  map[string][]column
}

// NewCollector uses factory for each column; nil means Defaults.
func NewCollector(factory func() []Metric) *Collector {
	if factory == nil {
		factory = Defaults
	}
	return &Collector{factory: factory, series: make(map[string][]column)}
}

func (c *Collector) DeclareSeries(series string, columns []string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	cols := make([]column, len(columns))
	for i, name := range columns {
		cols[i] = column{name: name, metrics: c.factory()}
	}
	c.series[series] = cols
	return nil
}

func (c *Collector) WriteSeries(series string, t float64, values []float64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	cols, ok := c.series[series]
	if !ok {
		cols = make([]column, len(values))
		for i := range cols {
			cols[i] = column{name: fmt.Sprintf("c%d", i), metrics: c.factory()}
		}
		c.series[series] = cols
	}
	if len(values) != len(cols) {
		return fmt.Errorf("series %s: got %d values for %d columns", series, len(values), len(cols))
	}
	for i, v := range values {
		for _, m := range cols[i].metrics {
			m.Observe(t, v)
		}
	}
	return nil
}

// Values returns every metric keyed series.column.metric.
func (c *Collector) Values() map[string]float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]float64)
	for series, cols := range c.series {
		for _, col := range cols {
			for _, m := range col.metrics {
				out[series+"."+col.name+"."+m.Name()] = m.Value()
			}
		}
	}
	return out
}

// Keys returns the keys of Values, sorted.
func (c *Collector) Keys() []string {
	vals := c.Values()
	keys := make([]string, 0, len(vals))
	for k := range vals {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Reset clears every metric but keeps the declared columns.
func (c *Collector) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, cols := range c.series {
		for _, col := range cols {
			for _, m := range col.metrics {
				m.Reset()
			}
		}
	}
}
