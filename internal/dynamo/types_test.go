package dynamo

import (
	"errors"
	"math"
	"sync"
	"testing"
)

func TestState_IsValid(t *testing.T) {
	tests := []struct {
		name  string
		state State
		valid bool
	}{
		{"empty", State{}, true},
		{"normal", State{1.0, 2.0, 3.0}, true},
		{"with NaN", State{1.0, math.NaN()}, false},
		{"with +Inf", State{1.0, math.Inf(1)}, false},
		{"with -Inf", State{1.0, math.Inf(-1)}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.state.IsValid(); got != tt.valid {
				t.Errorf("IsValid() = %v, want %v", got, tt.valid)
			}
		})
	}
}

func TestState_Arithmetic(t *testing.T) {
	a := State{1, 2, 3}
	b := State{4, 5, 6}

	sum := a.Add(b)
	if sum[0] != 5 || sum[1] != 7 || sum[2] != 9 {
		t.Errorf("Add failed: got %v", sum)
	}

	diff := b.Sub(a)
	if diff[0] != 3 || diff[1] != 3 || diff[2] != 3 {
		t.Errorf("Sub failed: got %v", diff)
	}

	scaled := a.Scale(2)
	if scaled[0] != 2 || scaled[1] != 4 || scaled[2] != 6 {
		t.Errorf("Scale failed: got %v", scaled)
	}
}

func TestLerp(t *testing.T) {
	a := State{0, 10}
	b := State{1, 20}

	mid := Lerp(a, b, 0.25)
	if math.Abs(mid[0]-0.25) > 1e-12 || math.Abs(mid[1]-12.5) > 1e-12 {
		t.Errorf("Lerp = %v", mid)
	}
	if MaxAbsDiff(a, b) != 10 {
		t.Errorf("MaxAbsDiff = %v, want 10", MaxAbsDiff(a, b))
	}
}

func TestCrossed(t *testing.T) {
	tests := []struct {
		name    string
		before  State
		after   State
		want    []int
		crossed bool
	}{
		{"no change", State{1, -1}, State{2, -2}, []int{0, 0}, false},
		{"rising", State{-1}, State{1}, []int{1}, true},
		{"falling", State{1}, State{-0.5}, []int{-1}, true},
		{"falling to zero counts", State{1}, State{0}, []int{-1}, true},
		{"zero to negative is not a flip", State{0}, State{-1}, []int{0}, false},
		{"tiny positive magnitude still flips", State{-1e-300}, State{1e-300}, []int{1}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, crossed := Crossed(tt.before, tt.after)
			if crossed != tt.crossed {
				t.Errorf("crossed = %v, want %v", crossed, tt.crossed)
			}
			for i := range tt.want {
				if got[i] != tt.want[i] {
					t.Errorf("crossings[%d] = %d, want %d", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestOutcome_Done(t *testing.T) {
	if Continue.Done() {
		t.Error("Continue must not be done")
	}
	for _, o := range []Outcome{Completed, Cancelled, TerminatedByUnit, Failed} {
		if !o.Done() {
			t.Errorf("%s should be done", o)
		}
	}
}

func TestEventKind_String(t *testing.T) {
	if BothEvents.String() != "both" {
		t.Errorf("got %q", BothEvents.String())
	}
	if (StateEvent | StepEvent).String() != "state+step" {
		t.Errorf("got %q", (StateEvent | StepEvent).String())
	}
}

func TestSimulationError(t *testing.T) {
	err := At(1.5, "derivatives", ErrUnitError)
	if !errors.Is(err, ErrUnitError) {
		t.Error("At must keep the wrapped kind")
	}
	expected := "t=1.5 derivatives: dynamo: unit reported error"
	if err.Error() != expected {
		t.Errorf("Error() = %q, want %q", err.Error(), expected)
	}
	if At(2, "x", err) != err {
		t.Error("At must not double-wrap")
	}
	if At(0, "x", nil) != nil {
		t.Error("At(nil) must be nil")
	}
}

func TestCancelFlagAndProgress(t *testing.T) {
	var flag CancelFlag
	p := NewProgress(0, 10)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		p.Store(5)
		flag.Set()
	}()
	wg.Wait()

	if !flag.IsSet() {
		t.Error("flag not observed")
	}
	if math.Abs(p.Fraction()-0.5) > 1e-12 {
		t.Errorf("Fraction = %v, want 0.5", p.Fraction())
	}

	var nilFlag *CancelFlag
	if nilFlag.IsSet() {
		t.Error("nil flag must read as unset")
	}
}

func TestDiagnostics(t *testing.T) {
	var d Diagnostics
	d.Add(DegenerateGrid, 0, "grid width %g exceeds interval", 20.0)
	if !d.Has(DegenerateGrid) || d.Has(StepShrunk) {
		t.Errorf("unexpected diagnostics: %v", d.All())
	}
	if got := d.All()[0].String(); got != "DEGENERATE_GRID at t=0: grid width 20 exceeds interval" {
		t.Errorf("String() = %q", got)
	}
}
