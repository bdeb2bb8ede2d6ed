package fmi

import (
	"fmt"
	"sync"

	"golang.org/x/text/unicode/norm"
)

type ValueRef uint32

type Kind int

const (
	Real Kind = iota
	Integer
	Boolean
	String
)

func (k Kind) String() string {
	switch k {
	case Real:
		return "real"
	case Integer:
		return "integer"
	case Boolean:
		return "boolean"
	case String:
		return "string"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

type Causality int

const (
	Local Causality = iota
	Parameter
	CalculatedParameter
	Input
	Output
	Independent
)

func (c Causality) String() string {
	return [...]string{"local", "parameter", "calculatedParameter", "input", "output", "independent"}[c]
}

type Variability int

const (
	Continuous Variability = iota
	Constant
	Fixed
	Tunable
	Discrete
)

func (v Variability) String() string {
	return [...]string{"continuous", "constant", "fixed", "tunable", "discrete"}[v]
}

type ScalarVariable struct {
	Name        string
	Ref         ValueRef
	Kind        Kind
	Causality   Causality
	Variability Variability
	Description string
	// Start is float64, int, bool or string matching Kind, or nil.
	Start any
	// DependsOn lists the inputs an output depends on directly.
	// nil means every input; an empty slice means none.
	DependsOn []ValueRef
}

type Experiment struct {
	StartTime float64
	StopTime  float64
	Tolerance float64
	StepSize  float64
}

// ModelDescription is the static directory a unit publishes.
type ModelDescription struct {
	ModelName           string
	GUID                string
	NumContinuousStates int
	NumEventIndicators  int
	Variables           []ScalarVariable
	DefaultExperiment   Experiment

	once   sync.Once
	byName map[string]int
	byRef  map[refKey]int
}

type refKey struct {
	kind Kind
	ref  ValueRef
}

// normalizeName maps equivalent Unicode spellings of a variable name to one key.
func normalizeName(name string) string {
	return norm.NFC.String(name)
}

func (m *ModelDescription) index() {
	m.once.Do(func() {
		m.byName = make(map[string]int, len(m.Variables))
		m.byRef = make(map[refKey]int, len(m.Variables))
		for i, v := range m.Variables {
			m.byName[normalizeName(v.Name)] = i
			m.byRef[refKey{v.Kind, v.Ref}] = i
		}
	})
}

// Lookup finds a variable by name.
func (m *ModelDescription) Lookup(name string) (*ScalarVariable, bool) {
	m.index()
	i, ok := m.byName[normalizeName(name)]
	if !ok {
		return nil, false
	}
	return &m.Variables[i], true
}

// ByRef finds a variable by kind and value reference.
func (m *ModelDescription) ByRef(kind Kind, ref ValueRef) (*ScalarVariable, bool) {
	m.index()
	i, ok := m.byRef[refKey{kind, ref}]
	if !ok {
		return nil, false
	}
	return &m.Variables[i], true
}

func (m *ModelDescription) filter(c Causality) []ScalarVariable {
	var out []ScalarVariable
	for _, v := range m.Variables {
		if v.Causality == c {
			out = append(out, v)
		}
	}
	return out
}

func (m *ModelDescription) Inputs() []ScalarVariable  { return m.filter(Input) }
func (m *ModelDescription) Outputs() []ScalarVariable { return m.filter(Output) }

// Feedthrough reports whether output depends directly on input.
func (m *ModelDescription) Feedthrough(output, input *ScalarVariable) bool {
	if output.DependsOn == nil {
		return true
	}
	for _, r := range output.DependsOn {
		if r == input.Ref {
			return true
		}
	}
	return false
}
