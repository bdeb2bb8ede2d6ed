package engine_test

import (
	"context"
	"errors"
	"math"
	"sort"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/san-kum/hybridsim/internal/coupling"
	"github.com/san-kum/hybridsim/internal/dynamo"
	"github.com/san-kum/hybridsim/internal/engine"
	"github.com/san-kum/hybridsim/internal/fmi"
	"github.com/san-kum/hybridsim/internal/integrators"
	"github.com/san-kum/hybridsim/internal/models"
	"github.com/san-kum/hybridsim/internal/storage"
)

// spyUnit records the lifecycle calls reaching the wrapped unit.
type spyUnit struct {
	fmi.ModelExchange
	calls           []string
	failDerivatives bool
}

func (s *spyUnit) rec(name string) { s.calls = append(s.calls, name) }

func (s *spyUnit) Instantiate(n, guid string, cb fmi.Callbacks, logging bool) fmi.Status {
	s.rec("instantiate")
	return s.ModelExchange.Instantiate(n, guid, cb, logging)
}

func (s *spyUnit) SetupExperiment(tol, start, stop float64) fmi.Status {
	s.rec("setupExperiment")
	return s.ModelExchange.SetupExperiment(tol, start, stop)
}

func (s *spyUnit) EnterInitializationMode() fmi.Status {
	s.rec("enterInitializationMode")
	return s.ModelExchange.EnterInitializationMode()
}

func (s *spyUnit) ExitInitializationMode() fmi.Status {
	s.rec("exitInitializationMode")
	return s.ModelExchange.ExitInitializationMode()
}

func (s *spyUnit) EnterContinuousTimeMode() fmi.Status {
	s.rec("enterContinuousTimeMode")
	return s.ModelExchange.EnterContinuousTimeMode()
}

func (s *spyUnit) GetDerivatives(dx []float64) fmi.Status {
	if s.failDerivatives {
		return fmi.Error
	}
	return s.ModelExchange.GetDerivatives(dx)
}

func (s *spyUnit) Terminate() fmi.Status {
	s.rec("terminate")
	return s.ModelExchange.Terminate()
}

func (s *spyUnit) Free() {
	s.rec("free")
	s.ModelExchange.Free()
}

func (s *spyUnit) index(call string) int {
	for i, c := range s.calls {
		if c == call {
			return i
		}
	}
	return -1
}

// stepSpy records the communication steps reaching a co-simulation unit.
type stepSpy struct {
	fmi.CoSimulation
	steps [][2]float64
}

func (s *stepSpy) DoStep(t, h float64, noSetStatePrior bool) fmi.Status {
	s.steps = append(s.steps, [2]float64{t, h})
	return s.CoSimulation.DoStep(t, h, noSetStatePrior)
}

// cancellingSink stops the run after its first row.
type cancellingSink struct {
	*storage.Memory
	c    *engine.Controller
	rows int
}

func (s *cancellingSink) WriteSeries(series string, t float64, values []float64) error {
	s.rows++
	if s.rows == 1 {
		s.c.Cancel()
	}
	return s.Memory.WriteSeries(series, t, values)
}

func me(name string, u fmi.Unit) engine.UnitSpec {
	return engine.UnitSpec{Name: name, Unit: u, Interface: fmi.ModelExchangeInterface}
}

func conn(from, to string) coupling.Connection {
	f, err := coupling.ParsePort(from)
	Expect(err).NotTo(HaveOccurred())
	t, err := coupling.ParsePort(to)
	Expect(err).NotTo(HaveOccurred())
	return coupling.Connection{From: f, To: t}
}

func trace(sink *storage.Memory, series, column string) ([]float64, []float64) {
	s, ok := sink.Snapshot(series)
	Expect(ok).To(BeTrue(), "series %q", series)
	values, err := s.Trace(column)
	Expect(err).NotTo(HaveOccurred())
	return s.Times, values
}

var _ = Describe("Controller", func() {
	var (
		ctx  context.Context
		sink *storage.Memory
		s    integrators.Session
	)

	BeforeEach(func() {
		ctx = context.Background()
		sink = storage.NewMemory()
		s = integrators.DefaultSession()
	})

	Describe("lifecycle", func() {
		It("calls the unit in lifecycle order and frees it last", func() {
			spy := &spyUnit{ModelExchange: models.NewRamp()}
			c, err := engine.New(engine.Config{Units: []engine.UnitSpec{me("ramp", spy)}})
			Expect(err).NotTo(HaveOccurred())

			s.Stop, s.GridCount = 1, 10
			res, err := c.Run(ctx, s, sink)
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Outcome).To(Equal(dynamo.Completed))

			order := []string{"instantiate", "setupExperiment", "enterInitializationMode",
				"exitInitializationMode", "enterContinuousTimeMode", "terminate", "free"}
			last := -1
			for _, call := range order {
				i := spy.index(call)
				Expect(i).To(BeNumerically(">", last), "%s out of order in %v", call, spy.calls)
				last = i
			}
			Expect(spy.calls[len(spy.calls)-1]).To(Equal("free"))
		})

		It("terminates and frees units when a unit call fails", func() {
			spy := &spyUnit{ModelExchange: models.NewRamp(), failDerivatives: true}
			c, err := engine.New(engine.Config{Units: []engine.UnitSpec{me("ramp", spy)}})
			Expect(err).NotTo(HaveOccurred())

			res, err := c.Run(ctx, s, sink)
			Expect(err).To(MatchError(dynamo.ErrUnitError))
			Expect(res.Outcome).To(Equal(dynamo.Failed))
			Expect(spy.calls).To(ContainElement("terminate"))
			Expect(spy.calls[len(spy.calls)-1]).To(Equal("free"))
		})

		It("refuses a second run", func() {
			c, err := engine.New(engine.Config{Units: []engine.UnitSpec{me("ramp", models.NewRamp())}})
			Expect(err).NotTo(HaveOccurred())
			s.Stop = 1
			_, err = c.Run(ctx, s, sink)
			Expect(err).NotTo(HaveOccurred())
			_, err = c.Run(ctx, s, sink)
			Expect(err).To(HaveOccurred())
		})

		It("rejects mixed interfaces and bad connections", func() {
			_, err := engine.New(engine.Config{Units: []engine.UnitSpec{
				me("a", models.NewGain()),
				{Name: "b", Unit: models.NewCoSim(models.NewGain()), Interface: fmi.CoSimulationInterface},
			}})
			Expect(err).To(HaveOccurred())

			_, err = engine.New(engine.Config{
				Units:       []engine.UnitSpec{me("a", models.NewGain())},
				Connections: []coupling.Connection{conn("a.u", "a.y")},
			})
			Expect(err).To(MatchError(coupling.ErrInvalidConnection))
		})
	})

	Describe("model exchange", func() {
		It("interpolates fixed steps onto the output grid", func() {
			c, err := engine.New(engine.Config{Units: []engine.UnitSpec{me("ramp", models.NewRamp())}})
			Expect(err).NotTo(HaveOccurred())

			s.Stop, s.FixedStep, s.GridWidth = 3, 1, 0.3
			res, err := c.Run(ctx, s, sink)
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Outcome).To(Equal(dynamo.Completed))
			Expect(res.EndTime).To(BeNumerically("~", 3, 1e-12))

			times, x := trace(sink, "ramp", "x")
			Expect(times).To(HaveLen(11))
			for i := range times {
				Expect(x[i]).To(BeNumerically("~", times[i], 1e-9))
			}
		})

		It("bounces the ball at state events", func() {
			ball := models.NewBouncingBall()
			c, err := engine.New(engine.Config{Units: []engine.UnitSpec{me("ball", ball)}})
			Expect(err).NotTo(HaveOccurred())

			s.Method, s.Stop, s.GridCount = "rk45", 1.5, 150
			res, err := c.Run(ctx, s, sink)
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Outcome).To(Equal(dynamo.Completed))
			Expect(ball.Bounces()).To(Equal(2))
			Expect(res.Stats.StateEvents).To(Equal(2))
			Expect(res.Events).To(HaveLen(2))
			Expect(res.Events[0].Time).To(BeNumerically("~", math.Sqrt(2/9.81), 1e-3))

			times, h := trace(sink, "ball", "h")
			Expect(sort.Float64sAreSorted(times)).To(BeTrue())
			Expect(h).To(HaveEach(BeNumerically(">", -1e-3)))
		})

		It("stops with TerminatedByUnit when a unit asks to", func() {
			c, err := engine.New(engine.Config{Units: []engine.UnitSpec{
				me("ramp", models.NewRamp()),
				{Name: "stop", Unit: models.NewTerminator(), Interface: fmi.ModelExchangeInterface,
					Start: map[string]any{"at": 0.45}},
			}})
			Expect(err).NotTo(HaveOccurred())

			s.Stop, s.FixedStep, s.GridCount = 2, 0.01, 20
			res, err := c.Run(ctx, s, sink)
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Outcome).To(Equal(dynamo.TerminatedByUnit))
			Expect(res.EndTime).To(BeNumerically("~", 0.45, 1e-9))

			times, _ := trace(sink, "ramp", "x")
			Expect(times[len(times)-1]).To(BeNumerically("<=", 0.45+1e-9))
		})

		It("is cancelled by a context cancelled before the run", func() {
			c, err := engine.New(engine.Config{Units: []engine.UnitSpec{me("ramp", models.NewRamp())}})
			Expect(err).NotTo(HaveOccurred())

			cctx, cancel := context.WithCancel(ctx)
			cancel()
			res, err := c.Run(cctx, s, sink)
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Outcome).To(Equal(dynamo.Cancelled))
			_, ok := sink.Snapshot("ramp")
			if ok {
				snap, _ := sink.Snapshot("ramp")
				Expect(snap.Len()).To(BeZero())
			}
		})

		It("writes at most one more output after a cancel request", func() {
			cs := &cancellingSink{Memory: sink}
			c, err := engine.New(engine.Config{Units: []engine.UnitSpec{me("ramp", models.NewRamp())}})
			Expect(err).NotTo(HaveOccurred())
			cs.c = c

			s.Stop, s.GridCount = 100, 1000
			res, err := c.Run(ctx, s, cs)
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Outcome).To(Equal(dynamo.Cancelled))
			Expect(cs.rows).To(BeNumerically("<=", 2))
			Expect(res.EndTime).To(BeNumerically("<", 100))
		})

		It("solves an algebraic loop between coupled units", func() {
			gainA, gainB := models.NewGain(), models.NewGain()
			c, err := engine.New(engine.Config{
				Units: []engine.UnitSpec{
					{Name: "a", Unit: gainA, Interface: fmi.ModelExchangeInterface, Start: map[string]any{"k": 0.5}},
					{Name: "b", Unit: gainB, Interface: fmi.ModelExchangeInterface, Start: map[string]any{"k": -1.0, "offset": 1.0}},
					me("ramp", models.NewRamp()),
				},
				Connections: []coupling.Connection{conn("a.y", "b.u"), conn("b.y", "a.u")},
				Loop:        coupling.DefaultLoopSolver(),
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(c.Plan().Loops()).To(Equal(1))

			s.Stop, s.GridCount = 1, 4
			res, err := c.Run(ctx, s, sink)
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Outcome).To(Equal(dynamo.Completed))
			Expect(res.LoopSweeps).To(BeNumerically(">", 0))

			_, u := trace(sink, "a", "u")
			Expect(u).To(HaveEach(BeNumerically("~", 2.0/3.0, 1e-3)))
		})

		It("reports a loop that does not converge", func() {
			c, err := engine.New(engine.Config{
				Units: []engine.UnitSpec{
					{Name: "a", Unit: models.NewGain(), Interface: fmi.ModelExchangeInterface, Start: map[string]any{"k": 2.0}},
					{Name: "b", Unit: models.NewGain(), Interface: fmi.ModelExchangeInterface, Start: map[string]any{"k": -1.0, "offset": 1.0}},
				},
				Connections: []coupling.Connection{conn("a.y", "b.u"), conn("b.y", "a.u")},
				Loop:        coupling.LoopSolver{Tolerance: 1e-6, MaxIterations: 20},
			})
			Expect(err).NotTo(HaveOccurred())

			res, err := c.Run(ctx, s, sink)
			Expect(err).To(MatchError(dynamo.ErrLoopDidNotConverge))
			var le *coupling.LoopError
			Expect(errors.As(err, &le)).To(BeTrue())
			Expect(res.Outcome).To(Equal(dynamo.Failed))
		})
	})

	Describe("co-simulation", func() {
		It("resumes from the last successful time after a discard", func() {
			inner := models.NewCoSim(models.NewRamp())
			inner.DiscardAt, inner.HasDiscard = 4.7, true
			spy := &stepSpy{CoSimulation: inner}

			c, err := engine.New(engine.Config{Units: []engine.UnitSpec{
				{Name: "ramp", Unit: spy, Interface: fmi.CoSimulationInterface},
			}})
			Expect(err).NotTo(HaveOccurred())

			s.Stop, s.GridCount = 10, 10
			res, err := c.Run(ctx, s, sink)
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Outcome).To(Equal(dynamo.Completed))

			var resumed bool
			for _, st := range spy.steps {
				if math.Abs(st[0]-4.7) < 1e-9 && math.Abs(st[1]-0.3) < 1e-9 {
					resumed = true
				}
			}
			Expect(resumed).To(BeTrue(), "steps: %v", spy.steps)

			times, x := trace(sink, "ramp", "x")
			Expect(times).To(HaveLen(11))
			Expect(x[len(x)-1]).To(BeNumerically("~", 10, 1e-9))
		})

		It("stops with TerminatedByUnit when a co-simulation unit asks to", func() {
			c, err := engine.New(engine.Config{Units: []engine.UnitSpec{
				{Name: "stop", Unit: models.NewCoSim(models.NewTerminator()), Interface: fmi.CoSimulationInterface,
					Start: map[string]any{"at": 2.0}},
			}})
			Expect(err).NotTo(HaveOccurred())

			s.Stop, s.GridCount = 5, 5
			res, err := c.Run(ctx, s, sink)
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Outcome).To(Equal(dynamo.TerminatedByUnit))
			Expect(res.EndTime).To(BeNumerically("~", 2, 1e-9))

			times, clock := trace(sink, "stop", "clock")
			Expect(times[len(times)-1]).To(BeNumerically("~", 2, 1e-9))
			Expect(clock[len(clock)-1]).To(BeNumerically("~", 2, 1e-9))
		})

		It("couples co-simulation units through their outputs", func() {
			src := models.NewCoSim(models.NewRamp())
			dst := models.NewCoSim(models.NewIntegrator())
			c, err := engine.New(engine.Config{
				Units: []engine.UnitSpec{
					{Name: "src", Unit: src, Interface: fmi.CoSimulationInterface},
					{Name: "acc", Unit: dst, Interface: fmi.CoSimulationInterface},
				},
				Connections: []coupling.Connection{conn("src.x", "acc.u")},
			})
			Expect(err).NotTo(HaveOccurred())

			s.Stop, s.GridCount, s.FixedStep = 1, 10, 0.001
			res, err := c.Run(ctx, s, sink)
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Outcome).To(Equal(dynamo.Completed))

			_, y := trace(sink, "acc", "y")
			Expect(y[len(y)-1]).To(BeNumerically("~", 0.5, 1e-2))
		})
	})
})
