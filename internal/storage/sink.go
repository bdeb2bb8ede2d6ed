package storage

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// Sink receives result points. series is the unit name; values follow the
// columns declared for that series.
type Sink interface {
	WriteSeries(series string, t float64, values []float64) error
}

// SeriesDeclarer is implemented by sinks that need column names before
// the first write.
type SeriesDeclarer interface {
	DeclareSeries(series string, columns []string) error
}

// Flusher is implemented by sinks that buffer writes.
type Flusher interface {
	Flush() error
}

// Series is one recorded table: a time column plus named value columns.
type Series struct {
	Name    string      `json:"name"`
	Columns []string    `json:"columns"`
	Times   []float64   `json:"times"`
	Values  [][]float64 `json:"values"`
}

func (s *Series) Len() int { return len(s.Times) }

// Column returns the index of the named column or -1.
func (s *Series) Column(name string) int {
	for i, c := range s.Columns {
		if c == name {
			return i
		}
	}
	return -1
}

// Trace returns one column as a slice over time.
func (s *Series) Trace(name string) ([]float64, error) {
	j := s.Column(name)
	if j < 0 {
		return nil, fmt.Errorf("series %q has no column %q", s.Name, name)
	}
	out := make([]float64, len(s.Values))
	for i, row := range s.Values {
		if j < len(row) {
			out[i] = row[j]
		}
	}
	return out, nil
}

func (s *Series) clone() *Series {
	c := &Series{
		Name:    s.Name,
		Columns: append([]string(nil), s.Columns...),
		Times:   append([]float64(nil), s.Times...),
		Values:  make([][]float64, len(s.Values)),
	}
	for i, row := range s.Values {
		c.Values[i] = append([]float64(nil), row...)
	}
	return c
}

// Memory keeps every series in memory. It is safe to read while a run on
// another goroutine writes.
type Memory struct {
	mu     sync.Mutex
	series map[string]*Series
}

func NewMemory() *Memory {
	return &Memory{series: make(map[string]*Series)}
}

func (m *Memory) DeclareSeries(series string, columns []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.get(series)
	s.Columns = append([]string(nil), columns...)
	return nil
}

func (m *Memory) get(name string) *Series {
	s, ok := m.series[name]
	if !ok {
		s = &Series{Name: name}
		m.series[name] = s
	}
	return s
}

func (m *Memory) WriteSeries(series string, t float64, values []float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.get(series)
	if len(s.Columns) > 0 && len(values) != len(s.Columns) {
		return fmt.Errorf("series %q: %d values for %d columns", series, len(values), len(s.Columns))
	}
	s.Times = append(s.Times, t)
	s.Values = append(s.Values, append([]float64(nil), values...))
	return nil
}

// Snapshot returns a copy of one series.
func (m *Memory) Snapshot(series string) (*Series, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.series[series]
	if !ok {
		return nil, false
	}
	return s.clone(), true
}

// Names lists the recorded series in sorted order.
func (m *Memory) Names() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.series))
	for n := range m.series {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Multi fans every call out to several sinks.
type Multi []Sink

func (m Multi) WriteSeries(series string, t float64, values []float64) error {
	for _, s := range m {
		if err := s.WriteSeries(series, t, values); err != nil {
			return err
		}
	}
	return nil
}

func (m Multi) DeclareSeries(series string, columns []string) error {
	for _, s := range m {
		if d, ok := s.(SeriesDeclarer); ok {
			if err := d.DeclareSeries(series, columns); err != nil {
				return err
			}
		}
	}
	return nil
}

func (m Multi) Flush() error {
	var errs []error
	for _, s := range m {
		if f, ok := s.(Flusher); ok {
			errs = append(errs, f.Flush())
		}
	}
	return errors.Join(errs...)
}
