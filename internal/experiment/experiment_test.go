package experiment

import (
	"context"
	"math"
	"testing"

	"github.com/san-kum/hybridsim/internal/config"
	"github.com/san-kum/hybridsim/internal/dynamo"
	"github.com/san-kum/hybridsim/internal/storage"
)

func runPreset(t *testing.T, model, name string) (*storage.Memory, float64, dynamo.Outcome) {
	t.Helper()
	s := config.GetPreset(model, name)
	if s == nil {
		t.Fatalf("no preset %s/%s", model, name)
	}
	sink := storage.NewMemory()
	res, err := Run(context.Background(), s, sink)
	if err != nil {
		t.Fatalf("%s/%s: %v", model, name, err)
	}
	return sink, res.EndTime, res.Outcome
}

func last(t *testing.T, sink *storage.Memory, series, column string) float64 {
	t.Helper()
	s, ok := sink.Snapshot(series)
	if !ok {
		t.Fatalf("no series %q", series)
	}
	v, err := s.Trace(column)
	if err != nil {
		t.Fatal(err)
	}
	return v[len(v)-1]
}

func TestPresets(t *testing.T) {
	tests := []struct {
		model, name string
		outcome     dynamo.Outcome
		end         float64
		check       func(t *testing.T, sink *storage.Memory)
	}{
		{"gain", "loop", dynamo.Completed, 1, func(t *testing.T, sink *storage.Memory) {
			if u := last(t, sink, "a", "u"); math.Abs(u-2.0/3.0) > 1e-3 {
				t.Errorf("loop solution %g, want 2/3", u)
			}
		}},
		{"gain", "feedback", dynamo.Completed, 5, func(t *testing.T, sink *storage.Memory) {
			if y := last(t, sink, "int", "y"); math.Abs(y-math.Exp(-5)) > 1e-4 {
				t.Errorf("y(5) = %g, want %g", y, math.Exp(-5))
			}
		}},
		{"ramp", "discard", dynamo.Completed, 10, func(t *testing.T, sink *storage.Memory) {
			if x := last(t, sink, "ramp", "x"); math.Abs(x-10) > 1e-9 {
				t.Errorf("x(10) = %g", x)
			}
		}},
		{"ramp", "grid", dynamo.Completed, 3, nil},
		{"terminator", "early", dynamo.TerminatedByUnit, 2.5, nil},
		{"spring_mass", "driven", dynamo.Completed, 20, func(t *testing.T, sink *storage.Memory) {
			if f := last(t, sink, "spring", "force"); f < 1 {
				t.Errorf("staircase force never reached the spring: %g", f)
			}
		}},
		{"bouncing_ball", "superball", dynamo.Completed, 5, nil},
		{"pid", "hold", dynamo.Completed, 5, func(t *testing.T, sink *storage.Memory) {
			if theta := last(t, sink, "pendulum", "theta"); math.Abs(theta) > 1e-2 {
				t.Errorf("theta(5) = %g, want near 0", theta)
			}
			s, _ := sink.Snapshot("ctrl")
			u, err := s.Trace("u")
			if err != nil {
				t.Fatal(err)
			}
			for _, v := range u {
				if math.Abs(v) > 50+1e-9 {
					t.Fatalf("control %g exceeds limit", v)
				}
			}
		}},
	}
	for _, tt := range tests {
		t.Run(tt.model+"/"+tt.name, func(t *testing.T) {
			sink, end, outcome := runPreset(t, tt.model, tt.name)
			if outcome != tt.outcome {
				t.Errorf("outcome %s, want %s", outcome, tt.outcome)
			}
			if math.Abs(end-tt.end) > 1e-6 {
				t.Errorf("end time %g, want %g", end, tt.end)
			}
			if tt.check != nil {
				tt.check(t, sink)
			}
		})
	}
}

func TestUnknownModel(t *testing.T) {
	s := config.DefaultScenario()
	s.Units[0].Model = "warp_drive"
	if _, _, err := Build(s); err == nil {
		t.Error("expected an error for an unknown model")
	}
}

func TestUnknownMethod(t *testing.T) {
	s := config.DefaultScenario()
	s.Experiment.Method = "magic"
	if _, _, err := Build(s); err == nil {
		t.Error("expected an error for an unknown method")
	}
}

func TestStoredRun(t *testing.T) {
	store := storage.New(t.TempDir())
	if err := store.Init(); err != nil {
		t.Fatal(err)
	}
	s := config.GetPreset("ramp", "grid")
	run, err := store.NewRun(RunMetadata(s))
	if err != nil {
		t.Fatal(err)
	}
	res, err := Run(context.Background(), s, run)
	if err != nil {
		t.Fatal(err)
	}
	if err := run.Close(Metadata(s, res)); err != nil {
		t.Fatal(err)
	}

	meta, err := store.Load(run.ID())
	if err != nil {
		t.Fatal(err)
	}
	if meta.Outcome != "completed" || meta.Scenario != "grid" {
		t.Errorf("unexpected metadata %+v", meta)
	}
	series, err := store.LoadSeries(run.ID(), "ramp")
	if err != nil {
		t.Fatal(err)
	}
	x, _ := series.Trace("x")
	if len(x) != 11 {
		t.Fatalf("expected 11 rows, got %d", len(x))
	}
	for i, ti := range series.Times {
		if math.Abs(x[i]-ti) > 1e-6 {
			t.Errorf("row %d: x=%g at t=%g", i, x[i], ti)
		}
	}
}
