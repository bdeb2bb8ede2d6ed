package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/san-kum/hybridsim/internal/coupling"
	"github.com/san-kum/hybridsim/internal/dynamo"
	"github.com/san-kum/hybridsim/internal/events"
	"github.com/san-kum/hybridsim/internal/fmi"
	"github.com/san-kum/hybridsim/internal/integrators"
	"github.com/san-kum/hybridsim/internal/storage"
)

// UnitSpec is one unit taking part in a run.
type UnitSpec struct {
	Name      string
	Unit      fmi.Unit
	Interface fmi.Interface
	// Start overrides description start values by variable name.
	Start map[string]any
}

type Config struct {
	Units       []UnitSpec
	Connections []coupling.Connection
	Loop        coupling.LoopSolver

	MaxEventIterations int
	LoggingOn          bool
}

// Result summarizes a finished run.
type Result struct {
	Outcome     dynamo.Outcome
	EndTime     float64
	Stats       integrators.Stats
	Diagnostics []dynamo.Diagnostic
	Events      []dynamo.Event
	LoopSweeps  int
}

// Controller owns the units of one run and drives their lifecycle.
type Controller struct {
	cfg      Config
	iface    fmi.Interface
	graph    *coupling.Graph
	plan     *coupling.Plan
	log      *slog.Logger
	tracer   trace.Tracer
	cancel   *dynamo.CancelFlag
	progress *dynamo.Progress
	diag     dynamo.Diagnostics

	ctx       context.Context
	units     []*unit
	byName    map[string]*unit
	eval      *coupling.Evaluator
	events    *events.Manager
	sink      storage.Sink
	nStates   int
	endTime   float64
	ran       bool
	finalized bool
}

// unit is one live instance with its slice of the global state vector
// and the variables it records.
type unit struct {
	*fmi.Instance
	spec    UnitSpec
	offset  int
	n       int
	nz      int
	record  []fmi.ValueRef
	columns []string
	// time is the local time of a co-simulation unit.
	time float64
}

type Option func(*Controller)

func WithLogger(l *slog.Logger) Option {
	return func(c *Controller) {
		if l != nil {
			c.log = l
		}
	}
}

// WithCancel lets another goroutine stop the run through flag.
func WithCancel(flag *dynamo.CancelFlag) Option {
	return func(c *Controller) {
		if flag != nil {
			c.cancel = flag
		}
	}
}

// WithProgress publishes the reached simulation time into p.
func WithProgress(p *dynamo.Progress) Option {
	return func(c *Controller) { c.progress = p }
}

// New validates the configuration and builds the coupling plan. Units are
// not instantiated until Run.
func New(cfg Config, opts ...Option) (*Controller, error) {
	c := &Controller{
		cfg:    cfg,
		log:    slog.Default(),
		tracer: otel.Tracer("github.com/san-kum/hybridsim/internal/engine"),
		cancel: &dynamo.CancelFlag{},
	}
	for _, opt := range opts {
		opt(c)
	}
	if len(cfg.Units) == 0 {
		return nil, errors.New("engine: no units configured")
	}

	ports := make([]coupling.UnitPorts, len(cfg.Units))
	for i, u := range cfg.Units {
		if u.Name == "" || u.Unit == nil {
			return nil, fmt.Errorf("engine: unit %d has no name or implementation", i)
		}
		if i > 0 && u.Interface != cfg.Units[0].Interface {
			return nil, fmt.Errorf("engine: unit %q uses %s but %q uses %s; mixed runs are not supported",
				u.Name, u.Interface, cfg.Units[0].Name, cfg.Units[0].Interface)
		}
		ports[i] = coupling.UnitPorts{Name: u.Name, Desc: u.Unit.Description()}
	}
	c.iface = cfg.Units[0].Interface

	g, err := coupling.NewGraph(ports, cfg.Connections)
	if err != nil {
		return nil, err
	}
	c.graph = g
	c.plan = g.Plan()
	return c, nil
}

func (c *Controller) Plan() *coupling.Plan { return c.plan }

// Cancel requests the run to stop at its next output point.
func (c *Controller) Cancel() { c.cancel.Set() }

func (c *Controller) coupled() bool { return len(c.cfg.Connections) > 0 }

// Run executes the whole lifecycle once: instantiate, initialize,
// integrate or step, terminate and free. Cancellation, including through
// ctx, ends the run with outcome Cancelled and no error.
func (c *Controller) Run(ctx context.Context, s integrators.Session, sink storage.Sink) (*Result, error) {
	if c.ran {
		return nil, errors.New("engine: controller already ran")
	}
	c.ran = true

	ctx, span := c.tracer.Start(ctx, "engine.run", trace.WithAttributes(
		attribute.Int("units", len(c.cfg.Units)),
		attribute.String("interface", c.iface.String()),
		attribute.String("method", s.Method),
		attribute.Float64("start", s.Start),
		attribute.Float64("stop", s.Stop),
	))
	defer span.End()
	c.ctx = ctx
	c.sink = sink
	s.Diagnostics = &c.diag
	c.endTime = s.Start

	if ctx.Err() != nil {
		c.cancel.Set()
	}
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			c.cancel.Set()
		case <-done:
		}
	}()

	defer c.free()

	res := &Result{Outcome: dynamo.Failed}
	outcome, stats, err := c.run(ctx, s)
	res.Outcome = outcome
	res.Stats = stats
	res.EndTime = c.endTime
	res.Diagnostics = c.diag.All()
	if c.events != nil {
		res.Events = c.events.Log()
	}
	if c.eval != nil {
		res.LoopSweeps = c.eval.Iterations
	}

	if termErr := c.terminate(); err == nil {
		err = termErr
	}
	if f, ok := sink.(storage.Flusher); ok {
		if ferr := f.Flush(); err == nil && ferr != nil {
			err = fmt.Errorf("flush results: %w", ferr)
		}
	}
	if err != nil {
		res.Outcome = dynamo.Failed
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		c.log.Error("run failed", "err", err, "t", res.EndTime)
		return res, err
	}
	span.SetAttributes(attribute.String("outcome", res.Outcome.String()))
	c.log.Info("run finished", "outcome", res.Outcome.String(), "t", res.EndTime,
		"steps", stats.Steps, "events", len(res.Events))
	return res, nil
}

func (c *Controller) run(ctx context.Context, s integrators.Session) (dynamo.Outcome, integrators.Stats, error) {
	if err := s.Validate(); err != nil {
		return dynamo.Failed, integrators.Stats{}, err
	}
	if err := c.initialize(ctx, s); err != nil {
		return dynamo.Failed, integrators.Stats{}, err
	}
	if c.iface == fmi.CoSimulationInterface {
		return integrators.SimulateSteps(s, &stepProblem{c})
	}

	p := &problem{c}
	terminate, _, err := c.events.Settle(s.Start)
	if err != nil {
		return dynamo.Failed, integrators.Stats{}, err
	}
	if terminate {
		c.log.Info("unit requested termination during initialization")
		return dynamo.TerminatedByUnit, integrators.Stats{}, nil
	}
	if err := p.EnterContinuousTimeMode(); err != nil {
		return dynamo.Failed, integrators.Stats{}, dynamo.At(s.Start, "enter continuous time mode", err)
	}
	x0, err := p.States()
	if err != nil {
		return dynamo.Failed, integrators.Stats{}, dynamo.At(s.Start, "initial states", err)
	}
	return integrators.Simulate(s, p, x0)
}

// initialize takes every unit from instantiation to the end of
// initialization mode, resolving couplings before leaving it.
func (c *Controller) initialize(ctx context.Context, s integrators.Session) error {
	_, span := c.tracer.Start(ctx, "engine.initialize")
	defer span.End()

	c.byName = make(map[string]*unit, len(c.cfg.Units))
	offset := 0
	for _, spec := range c.cfg.Units {
		in, err := fmi.Instantiate(spec.Unit, spec.Name, spec.Interface, c.cfg.LoggingOn,
			fmi.WithLogger(c.log), fmi.WithDiagnostics(&c.diag))
		if err != nil {
			return err
		}
		u := &unit{Instance: in, spec: spec, offset: offset, n: in.NumStates(), nz: in.NumEventIndicators(), time: s.Start}
		u.selectRecorded()
		offset += u.n
		c.units = append(c.units, u)
		c.byName[spec.Name] = u
	}
	c.nStates = offset

	for _, u := range c.units {
		if err := u.ApplyStartValues(u.spec.Start); err != nil {
			return err
		}
		if err := u.SetupExperiment(s.RelTol, s.Start, s.Stop); err != nil {
			return err
		}
	}
	for _, u := range c.units {
		if err := u.EnterInitializationMode(); err != nil {
			return err
		}
	}

	c.eval = coupling.NewEvaluator(c.plan, portAccess{c}, c.cfg.Loop, c.log)
	if c.coupled() {
		if err := c.eval.Evaluate(); err != nil {
			return dynamo.At(s.Start, "initial coupling", err)
		}
	}
	for _, u := range c.units {
		if err := u.ExitInitializationMode(); err != nil {
			return err
		}
	}

	if d, ok := c.sink.(storage.SeriesDeclarer); ok {
		for _, u := range c.units {
			if err := d.DeclareSeries(u.Name(), u.columns); err != nil {
				return fmt.Errorf("declare series %q: %w", u.Name(), err)
			}
		}
	}

	c.events = events.NewManager(&problem{c}, events.WithLogger(c.log),
		events.WithMaxIterations(c.cfg.MaxEventIterations))
	c.log.Debug("initialized", "units", len(c.units), "states", c.nStates, "loops", c.plan.Loops())
	return nil
}

// selectRecorded records inputs, outputs and locals of kind real.
func (u *unit) selectRecorded() {
	for _, v := range u.Description().Variables {
		if v.Kind != fmi.Real {
			continue
		}
		switch v.Causality {
		case fmi.Input, fmi.Output, fmi.Local:
			u.record = append(u.record, v.Ref)
			u.columns = append(u.columns, v.Name)
		}
	}
}

// terminate ends every unit still usable.
func (c *Controller) terminate() error {
	var errs []error
	for _, u := range c.units {
		if !u.Usable() || u.Mode() == fmi.ModeInstantiated {
			continue
		}
		if err := u.Terminate(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (c *Controller) free() {
	for _, u := range c.units {
		u.Free()
	}
}

// record writes one row per unit. It returns false once cancellation was
// requested, before anything is written.
func (c *Controller) record(t float64) (bool, error) {
	if c.cancel.IsSet() {
		return false, nil
	}
	for _, u := range c.units {
		if len(u.record) == 0 {
			continue
		}
		vals, err := u.GetReal(u.record)
		if err != nil {
			return false, dynamo.At(t, "read results", err)
		}
		if c.sink != nil {
			if err := c.sink.WriteSeries(u.Name(), t, vals); err != nil {
				return false, dynamo.At(t, "write results", err)
			}
		}
	}
	c.endTime = t
	c.progress.Store(t)
	return true, nil
}

type portAccess struct{ c *Controller }

func (p portAccess) Get(port coupling.Port) (float64, error) {
	u, ok := p.c.byName[port.Unit]
	if !ok {
		return 0, fmt.Errorf("unknown unit %q", port.Unit)
	}
	return u.GetFloat(port.Name)
}

func (p portAccess) Set(port coupling.Port, v float64) error {
	u, ok := p.c.byName[port.Unit]
	if !ok {
		return fmt.Errorf("unknown unit %q", port.Unit)
	}
	return u.SetFloat(port.Name, v)
}
