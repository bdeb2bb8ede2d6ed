package models

import (
	"math"
	"testing"

	"github.com/san-kum/hybridsim/internal/fmi"
)

func derivatives(t *testing.T, u fmi.ModelExchange) []float64 {
	t.Helper()
	dx := make([]float64, u.Description().NumContinuousStates)
	if s := u.GetDerivatives(dx); s != fmi.OK {
		t.Fatalf("GetDerivatives: %v", s)
	}
	return dx
}

func TestPendulumEquilibrium(t *testing.T) {
	p := NewPendulum()
	p.Set(pendDamping, 0)
	p.Set(pendTheta, 0)
	p.Set(pendOmega, 0)

	dx := derivatives(t, p)

	if math.Abs(dx[0]) > 1e-10 {
		t.Errorf("expected zero velocity at equilibrium, got %f", dx[0])
	}
	if math.Abs(dx[1]) > 1e-10 {
		t.Errorf("expected zero acceleration at equilibrium, got %f", dx[1])
	}
}

func TestPendulumGravity(t *testing.T) {
	p := NewPendulum()
	p.Set(pendDamping, 0)
	p.Set(pendTheta, math.Pi/2)
	p.Set(pendOmega, 0)

	dx := derivatives(t, p)

	expectedAccel := -p.Real(pendGravity) / p.Real(pendLength)
	if math.Abs(dx[1]-expectedAccel) > 1e-6 {
		t.Errorf("expected acceleration %f, got %f", expectedAccel, dx[1])
	}
}

func TestPendulumEnergyOutput(t *testing.T) {
	p := NewPendulum()
	p.Set(pendTheta, 0)
	p.Set(pendOmega, 2)

	out := make([]float64, 1)
	if s := p.GetReal([]fmi.ValueRef{pendEnergy}, out); s != fmi.OK {
		t.Fatal(s)
	}
	if math.Abs(out[0]-2) > 1e-12 {
		t.Errorf("energy = %f, want 2", out[0])
	}
}

func TestSpringMassForce(t *testing.T) {
	s := NewSpringMass()
	s.EnterInitializationMode()
	if st := s.SetReal([]fmi.ValueRef{smForce}, []float64{DefaultStiffness}); st != fmi.OK {
		t.Fatal(st)
	}
	dx := derivatives(t, s)
	if math.Abs(dx[1]) > 1e-12 {
		t.Errorf("force should balance the spring at x=1, got accel %f", dx[1])
	}
}

func TestVanDerPolDerivative(t *testing.T) {
	v := NewVanDerPol()
	v.EnterInitializationMode()
	dx := derivatives(t, v)
	// x=2, y=0: dx = 0, dy = -2
	if dx[0] != 0 || dx[1] != -2 {
		t.Errorf("got %v", dx)
	}
}

func TestBouncingBallBounce(t *testing.T) {
	b := NewBouncingBall()
	b.EnterInitializationMode()
	b.SetContinuousStates([]float64{-1e-9, -3})

	z := make([]float64, 1)
	b.GetEventIndicators(z)
	if z[0] > 0 {
		t.Fatalf("indicator should be non-positive at contact, got %g", z[0])
	}

	var info fmi.EventInfo
	b.NewDiscreteStates(&info)
	if !info.ValuesOfContinuousStatesChanged {
		t.Fatal("bounce should change continuous states")
	}
	x := make([]float64, 2)
	b.GetContinuousStates(x)
	if x[0] != 0 || math.Abs(x[1]-2.1) > 1e-12 {
		t.Errorf("after bounce got h=%g v=%g", x[0], x[1])
	}

	b.NewDiscreteStates(&info)
	if info.ValuesOfContinuousStatesChanged {
		t.Error("second iteration should be a no-op")
	}
	b.GetEventIndicators(z)
	if z[0] != 1 {
		t.Errorf("rising ball indicator = %g, want 1", z[0])
	}
	if b.Bounces() != 1 {
		t.Errorf("bounces = %d", b.Bounces())
	}
}

func TestBouncingBallComesToRest(t *testing.T) {
	b := NewBouncingBall()
	b.EnterInitializationMode()
	b.SetContinuousStates([]float64{0, -0.001})

	var info fmi.EventInfo
	b.NewDiscreteStates(&info)

	dx := derivatives(t, b)
	if dx[0] != 0 || dx[1] != 0 {
		t.Errorf("resting ball should not move, got %v", dx)
	}
	z := make([]float64, 1)
	b.GetEventIndicators(z)
	if z[0] != 1 {
		t.Errorf("resting indicator = %g", z[0])
	}
}

func TestStairTimeEvents(t *testing.T) {
	s := NewStair()
	s.SetupExperiment(0, 0, 10)
	s.EnterInitializationMode()

	var info fmi.EventInfo
	s.NewDiscreteStates(&info)
	if !info.NextEventTimeDefined || info.NextEventTime != 1 {
		t.Fatalf("first event = %+v", info)
	}

	s.SetTime(1)
	s.NewDiscreteStates(&info)
	if info.NextEventTime != 2 {
		t.Errorf("next event = %g, want 2", info.NextEventTime)
	}
	y := make([]float64, 1)
	s.GetReal([]fmi.ValueRef{stairY}, y)
	if y[0] != 1 {
		t.Errorf("y = %g, want 1", y[0])
	}

	s.NewDiscreteStates(&info)
	s.GetReal([]fmi.ValueRef{stairY}, y)
	if y[0] != 1 || info.NextEventTime != 2 {
		t.Error("repeated iteration at the same instant must not step again")
	}
}

func TestTerminator(t *testing.T) {
	term := NewTerminator()
	term.SetupExperiment(0, 0, 10)
	term.SetReal([]fmi.ValueRef{termAt}, []float64{2})
	term.EnterInitializationMode()

	var info fmi.EventInfo
	term.NewDiscreteStates(&info)
	if info.TerminateSimulation || info.NextEventTime != 2 {
		t.Fatalf("unexpected info at start: %+v", info)
	}

	term.SetTime(2)
	if _, stop, _ := term.CompletedIntegratorStep(true); !stop {
		t.Error("step check should request termination")
	}
	term.NewDiscreteStates(&info)
	if !info.TerminateSimulation {
		t.Error("time event should request termination")
	}
}

func TestSetOutputRejected(t *testing.T) {
	g := NewGain()
	if s := g.SetReal([]fmi.ValueRef{gainY}, []float64{1}); s != fmi.Error {
		t.Errorf("setting an output returned %v", s)
	}
	if s := g.SetContinuousStates([]float64{1}); s != fmi.Error {
		t.Errorf("wrong state count returned %v", s)
	}
}

func TestGainThroughInstance(t *testing.T) {
	in, err := fmi.Instantiate(NewGain(), "g", fmi.ModelExchangeInterface, false)
	if err != nil {
		t.Fatal(err)
	}
	defer in.Free()

	if err := in.ApplyStartValues(map[string]any{"k": 2, "offset": 1.0}); err != nil {
		t.Fatal(err)
	}
	if err := in.SetupExperiment(0, 0, 1); err != nil {
		t.Fatal(err)
	}
	if err := in.EnterInitializationMode(); err != nil {
		t.Fatal(err)
	}
	if err := in.SetFloat("u", 3); err != nil {
		t.Fatal(err)
	}
	y, err := in.GetFloat("y")
	if err != nil {
		t.Fatal(err)
	}
	if y != 7 {
		t.Errorf("y = %g, want 7", y)
	}
}

func TestCoSimDiscard(t *testing.T) {
	c := NewCoSim(NewRamp())
	c.HasDiscard, c.DiscardAt = true, 4.7

	in, err := fmi.Instantiate(c, "ramp", fmi.CoSimulationInterface, false)
	if err != nil {
		t.Fatal(err)
	}
	defer in.Free()
	if err := in.SetupExperiment(0, 0, 10); err != nil {
		t.Fatal(err)
	}
	if err := in.EnterInitializationMode(); err != nil {
		t.Fatal(err)
	}
	if err := in.ExitInitializationMode(); err != nil {
		t.Fatal(err)
	}

	for step := 0; step < 4; step++ {
		if err := in.DoStep(float64(step), 1); err != nil {
			t.Fatalf("step %d: %v", step, err)
		}
	}
	err = in.DoStep(4, 1)
	if !fmi.IsDiscard(err) {
		t.Fatalf("expected discard, got %v", err)
	}
	last, err := in.LastSuccessfulTime()
	if err != nil || last != 4.7 {
		t.Fatalf("last successful time = %g, %v", last, err)
	}
	x, _ := in.GetFloat("x")
	if math.Abs(x-4.7) > 1e-9 {
		t.Errorf("x = %g, want 4.7", x)
	}

	if err := in.DoStep(4.7, 0.3); err != nil {
		t.Fatalf("resume: %v", err)
	}
	x, _ = in.GetFloat("x")
	if math.Abs(x-5) > 1e-9 {
		t.Errorf("x = %g, want 5", x)
	}
	if err := in.DoStep(5, 1); err != nil {
		t.Errorf("discard must happen only once: %v", err)
	}
}

func TestCoSimBouncesInternally(t *testing.T) {
	c := NewCoSim(NewBouncingBall())
	c.Substep = 1e-3
	c.SetupExperiment(0, 0, 2)
	c.EnterInitializationMode()
	c.ExitInitializationMode()

	for i := 0; i < 10; i++ {
		if s := c.DoStep(float64(i)*0.1, 0.1, true); s != fmi.OK {
			t.Fatalf("step %d: %v", i, s)
		}
	}
	ball := c.Inner().(*BouncingBall)
	if ball.Bounces() != 1 {
		t.Errorf("expected one bounce within a second, got %d", ball.Bounces())
	}
	h := make([]float64, 1)
	c.GetReal([]fmi.ValueRef{ballH}, h)
	if h[0] < 0 {
		t.Errorf("ball below ground: %g", h[0])
	}
}

func TestCatalogLifecycle(t *testing.T) {
	for _, info := range Catalog() {
		t.Run(info.Name, func(t *testing.T) {
			u, err := New(info.Name)
			if err != nil {
				t.Fatal(err)
			}
			in, err := fmi.Instantiate(u, info.Name, fmi.ModelExchangeInterface, false)
			if err != nil {
				t.Fatal(err)
			}
			defer in.Free()
			steps := []func() error{
				func() error { return in.ApplyStartValues(nil) },
				func() error { return in.SetupExperiment(0, 0, 1) },
				in.EnterInitializationMode,
				in.ExitInitializationMode,
				func() error { _, err := in.NewDiscreteStates(); return err },
				in.EnterContinuousTimeMode,
			}
			for i, step := range steps {
				if err := step(); err != nil {
					t.Fatalf("step %d: %v", i, err)
				}
			}
			x, err := in.ContinuousStates()
			if err != nil {
				t.Fatal(err)
			}
			if len(x) != in.NumStates() {
				t.Errorf("got %d states, description says %d", len(x), in.NumStates())
			}
			if _, err := in.Derivatives(); err != nil {
				t.Error(err)
			}
			if err := in.Terminate(); err != nil {
				t.Error(err)
			}
		})
	}
	if _, err := New("nope"); err == nil {
		t.Error("unknown model should fail")
	}
}

func TestPIDOutput(t *testing.T) {
	p := NewPID()
	p.SetReal([]fmi.ValueRef{pidKp, pidKi, pidKd, pidR, pidY, pidYdot}, []float64{2, 1, 0.5, 1, 0.25, 2})
	p.SetupExperiment(0, 0, 1)
	p.EnterInitializationMode()
	p.SetContinuousStates([]float64{3})

	u := make([]float64, 1)
	p.GetReal([]fmi.ValueRef{pidU}, u)
	// 2*0.75 + 1*3 - 0.5*2
	if math.Abs(u[0]-3.5) > 1e-12 {
		t.Errorf("expected u = 3.5, got %g", u[0])
	}

	dx := make([]float64, 1)
	p.GetDerivatives(dx)
	if dx[0] != 0.75 {
		t.Errorf("expected integral rate 0.75, got %g", dx[0])
	}

	p.SetReal([]fmi.ValueRef{pidLimit}, []float64{1})
	p.GetReal([]fmi.ValueRef{pidU}, u)
	if u[0] != 1 {
		t.Errorf("expected clamped u = 1, got %g", u[0])
	}
}
