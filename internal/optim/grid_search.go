package optim

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"runtime"
	"sort"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/san-kum/hybridsim/internal/config"
	"github.com/san-kum/hybridsim/internal/dynamo"
	"github.com/san-kum/hybridsim/internal/engine"
	"github.com/san-kum/hybridsim/internal/experiment"
	"github.com/san-kum/hybridsim/internal/metrics"
)

// Param is one swept start value, named unit.variable.
type Param struct {
	Name   string
	Values []float64
}

func (p Param) split() (unit, variable string, err error) {
	unit, variable, ok := strings.Cut(p.Name, ".")
	if !ok || unit == "" || variable == "" {
		return "", "", fmt.Errorf("parameter %q: want unit.variable", p.Name)
	}
	return unit, variable, nil
}

// ParseParam reads "unit.var=v1,v2,..." or "unit.var=lo:hi:n" (n evenly
// spaced values including both ends).
func ParseParam(spec string) (Param, error) {
	name, values, ok := strings.Cut(spec, "=")
	if !ok || values == "" {
		return Param{}, fmt.Errorf("parameter %q: want name=values", spec)
	}
	p := Param{Name: strings.TrimSpace(name)}
	if _, _, err := p.split(); err != nil {
		return Param{}, err
	}

	if parts := strings.Split(values, ":"); len(parts) == 3 {
		lo, err1 := strconv.ParseFloat(parts[0], 64)
		hi, err2 := strconv.ParseFloat(parts[1], 64)
		n, err3 := strconv.Atoi(parts[2])
		if err := errors.Join(err1, err2, err3); err != nil {
			return Param{}, fmt.Errorf("parameter %q: %w", spec, err)
		}
		if n < 2 {
			return Param{}, fmt.Errorf("parameter %q: range needs at least 2 values", spec)
		}
		for i := 0; i < n; i++ {
			p.Values = append(p.Values, lo+(hi-lo)*float64(i)/float64(n-1))
		}
		return p, nil
	}

	for _, f := range strings.Split(values, ",") {
		v, err := strconv.ParseFloat(strings.TrimSpace(f), 64)
		if err != nil {
			return Param{}, fmt.Errorf("parameter %q: %w", spec, err)
		}
		p.Values = append(p.Values, v)
	}
	return p, nil
}

// Point is one evaluated grid point.
type Point struct {
	Params  map[string]float64
	Value   float64
	Outcome dynamo.Outcome
	Err     error
}

// Report holds every point in grid order and the best one.
type Report struct {
	Metric string
	Points []Point
	Best   *Point
}

type GridSearch struct {
	params  []Param
	workers int
	log     *slog.Logger
}

type Option func(*GridSearch)

// WithWorkers bounds the number of concurrent runs.
func WithWorkers(n int) Option {
	return func(g *GridSearch) {
		if n > 0 {
			g.workers = n
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(g *GridSearch) {
		if l != nil {
			g.log = l
		}
	}
}

func NewGridSearch(params []Param, opts ...Option) *GridSearch {
	g := &GridSearch{params: params, workers: runtime.NumCPU(), log: slog.Default()}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Points enumerates the cartesian product of the parameter values, the
// last parameter varying fastest.
func (g *GridSearch) Points() []map[string]float64 {
	var out []map[string]float64
	g.enumerate(0, make(map[string]float64), &out)
	return out
}

func (g *GridSearch) enumerate(depth int, current map[string]float64, out *[]map[string]float64) {
	if depth == len(g.params) {
		*out = append(*out, current)
		return
	}
	p := g.params[depth]
	for _, val := range p.Values {
		next := make(map[string]float64, len(current)+1)
		for k, v := range current {
			next[k] = v
		}
		next[p.Name] = val
		g.enumerate(depth+1, next, out)
	}
}

// Search runs base once per grid point and minimizes metric, a key of
// metrics.Collector.Values such as "ball.h.peak". Points whose run fails
// are reported with Err and skipped for Best.
func (g *GridSearch) Search(ctx context.Context, base *config.Scenario, metric string) (*Report, error) {
	if len(g.params) == 0 {
		return nil, errors.New("grid search needs at least one parameter")
	}
	units := make(map[string]bool, len(base.Units))
	for _, u := range base.Units {
		units[u.Name] = true
	}
	for _, p := range g.params {
		unit, _, err := p.split()
		if err != nil {
			return nil, err
		}
		if !units[unit] {
			return nil, fmt.Errorf("parameter %s: unknown unit %q", p.Name, unit)
		}
		if len(p.Values) == 0 {
			return nil, fmt.Errorf("parameter %s has no values", p.Name)
		}
	}

	grid := g.Points()
	report := &Report{Metric: metric, Points: make([]Point, len(grid))}

	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(g.workers)
	var mu sync.Mutex
	for i, params := range grid {
		eg.Go(func() error {
			pt := g.evaluate(ctx, base, params, metric)
			mu.Lock()
			report.Points[i] = pt
			mu.Unlock()
			return ctx.Err()
		})
	}
	if err := eg.Wait(); err != nil {
		return report, err
	}

	best := math.Inf(1)
	for i := range report.Points {
		pt := &report.Points[i]
		if pt.Err == nil && pt.Value < best {
			best, report.Best = pt.Value, pt
		}
	}
	if report.Best == nil {
		return report, fmt.Errorf("no grid point produced %s: %w", metric, report.Points[0].Err)
	}
	return report, nil
}

func (g *GridSearch) evaluate(ctx context.Context, base *config.Scenario, params map[string]float64, metric string) Point {
	pt := Point{Params: params, Value: math.NaN(), Outcome: dynamo.Failed}

	s := base.Clone()
	for name, v := range params {
		unit, variable, _ := Param{Name: name}.split()
		for i := range s.Units {
			if s.Units[i].Name != unit {
				continue
			}
			if s.Units[i].Start == nil {
				s.Units[i].Start = make(map[string]any)
			}
			s.Units[i].Start[variable] = v
		}
	}

	collector := metrics.NewCollector(nil)
	res, err := experiment.Run(ctx, s, collector, engine.WithLogger(g.log))
	if res != nil {
		pt.Outcome = res.Outcome
	}
	if err != nil {
		pt.Err = err
		g.log.Debug("grid point failed", "params", params, "err", err)
		return pt
	}
	v, ok := collector.Values()[metric]
	if !ok {
		pt.Err = fmt.Errorf("run produced no metric %q (have %s)", metric, strings.Join(collector.Keys(), ", "))
		return pt
	}
	pt.Value = v
	return pt
}

// Names returns the swept parameter names in sweep order.
func (g *GridSearch) Names() []string {
	names := make([]string, len(g.params))
	for i, p := range g.params {
		names[i] = p.Name
	}
	return names
}

// Ranked returns the successful points ordered by value, best first.
func (r *Report) Ranked() []Point {
	var out []Point
	for _, pt := range r.Points {
		if pt.Err == nil {
			out = append(out, pt)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Value < out[j].Value })
	return out
}
