package dynamo

import "fmt"

type DiagnosticCode string

const (
	// DegenerateGrid: the output grid resolved to zero intervals and a
	// single interval was substituted.
	DegenerateGrid DiagnosticCode = "DEGENERATE_GRID"

	// UnitWarning: a unit returned the Warning status.
	UnitWarning DiagnosticCode = "UNIT_WARNING"

	// StepShrunk: a co-simulation step was discarded and retried smaller.
	StepShrunk DiagnosticCode = "STEP_SHRUNK"
)

// Diagnostic is a warning-class finding recorded during a run instead of
// being printed.
type Diagnostic struct {
	Code    DiagnosticCode
	Time    float64
	Message string
}

func (d Diagnostic) String() string {
	return fmt.Sprintf("%s at t=%.6g: %s", d.Code, d.Time, d.Message)
}

// Diagnostics collects diagnostics for one run.
type Diagnostics struct {
	items []Diagnostic
}

func (d *Diagnostics) Add(code DiagnosticCode, t float64, format string, args ...any) {
	if d == nil {
		return
	}
	d.items = append(d.items, Diagnostic{Code: code, Time: t, Message: fmt.Sprintf(format, args...)})
}

func (d *Diagnostics) All() []Diagnostic {
	if d == nil {
		return nil
	}
	out := make([]Diagnostic, len(d.items))
	copy(out, d.items)
	return out
}

func (d *Diagnostics) Has(code DiagnosticCode) bool {
	if d == nil {
		return false
	}
	for _, it := range d.items {
		if it.Code == code {
			return true
		}
	}
	return false
}
