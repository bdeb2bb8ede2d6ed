package coupling

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/san-kum/hybridsim/internal/dynamo"
	"github.com/san-kum/hybridsim/internal/fmi"
)

// siso describes a unit with one input u and one output y. Feedthrough
// controls whether y depends on u directly.
func siso(feedthrough bool) *fmi.ModelDescription {
	dep := []fmi.ValueRef{}
	if feedthrough {
		dep = nil
	}
	return &fmi.ModelDescription{
		ModelName: "siso",
		Variables: []fmi.ScalarVariable{
			{Name: "u", Ref: 0, Causality: fmi.Input},
			{Name: "y", Ref: 1, Causality: fmi.Output, DependsOn: dep},
		},
	}
}

// fakeUnits evaluates static functions of the current inputs.
type fakeUnits struct {
	inputs map[Port]float64
	funcs  map[string]func(u float64) float64
	reads  int
}

func (f *fakeUnits) Get(p Port) (float64, error) {
	f.reads++
	if p.Name == "y" {
		fn, ok := f.funcs[p.Unit]
		if !ok {
			return 0, fmt.Errorf("no unit %s", p.Unit)
		}
		return fn(f.inputs[Port{p.Unit, "u"}]), nil
	}
	return f.inputs[p], nil
}

func (f *fakeUnits) Set(p Port, v float64) error {
	f.inputs[p] = v
	return nil
}

func conn(from, to string) Connection {
	return Connection{From: Port{from, "y"}, To: Port{to, "u"}}
}

func TestLoopConverges(t *testing.T) {
	units := []UnitPorts{{"a", siso(true)}, {"b", siso(true)}}
	g, err := NewGraph(units, []Connection{conn("a", "b"), conn("b", "a")})
	require.NoError(t, err)

	plan := g.Plan()
	require.Len(t, plan.Groups, 1)
	assert.True(t, plan.Groups[0].IsLoop())
	assert.Equal(t, 1, plan.Loops())

	// a: y = 0.5 u, b: y = 1 - u, so a.u = 1 - 0.5 a.u = 2/3.
	f := &fakeUnits{
		inputs: map[Port]float64{},
		funcs: map[string]func(float64) float64{
			"a": func(u float64) float64 { return 0.5 * u },
			"b": func(u float64) float64 { return 1 - u },
		},
	}
	ev := NewEvaluator(plan, f, DefaultLoopSolver(), nil)
	require.NoError(t, ev.Evaluate())

	assert.InDelta(t, 2.0/3.0, f.inputs[Port{"a", "u"}], 1e-3)
	assert.InDelta(t, 1.0/3.0, f.inputs[Port{"b", "u"}], 1e-3)
	assert.Less(t, ev.Iterations, 50)
}

func TestLoopDivergesWithLoopError(t *testing.T) {
	units := []UnitPorts{{"a", siso(true)}, {"b", siso(true)}}
	g, err := NewGraph(units, []Connection{conn("a", "b"), conn("b", "a")})
	require.NoError(t, err)

	f := &fakeUnits{
		inputs: map[Port]float64{},
		funcs: map[string]func(float64) float64{
			"a": func(u float64) float64 { return 2 * u },
			"b": func(u float64) float64 { return 1 + u },
		},
	}
	ev := NewEvaluator(g.Plan(), f, LoopSolver{MaxIterations: 20}, nil)
	err = ev.Evaluate()
	require.Error(t, err)
	assert.ErrorIs(t, err, dynamo.ErrLoopDidNotConverge)
	assert.True(t, IsLoopError(err))

	var le *LoopError
	require.ErrorAs(t, err, &le)
	assert.Equal(t, 20, le.Iterations)
	assert.Len(t, le.Ports, 4)
}

func TestNoFeedthroughBreaksLoop(t *testing.T) {
	units := []UnitPorts{{"a", siso(true)}, {"b", siso(false)}}
	g, err := NewGraph(units, []Connection{conn("a", "b"), conn("b", "a")})
	require.NoError(t, err)

	plan := g.Plan()
	assert.Zero(t, plan.Loops())
	assert.Len(t, plan.Groups, 4)
	assert.Less(t, plan.Position(Port{"b", "y"}), plan.Position(Port{"a", "u"}))
	assert.Less(t, plan.Position(Port{"a", "u"}), plan.Position(Port{"a", "y"}))
	assert.Less(t, plan.Position(Port{"a", "y"}), plan.Position(Port{"b", "u"}))
}

func TestPlanIsTopological(t *testing.T) {
	// c feeds b feeds a, declared in reverse; d is a loop of two units fed by a.
	units := []UnitPorts{
		{"a", siso(true)},
		{"b", siso(true)},
		{"c", siso(true)},
		{"d1", siso(true)},
		{"d2", siso(true)},
	}
	conns := []Connection{
		conn("c", "b"),
		conn("b", "a"),
		conn("d2", "d1"),
		conn("d1", "d2"),
	}
	g, err := NewGraph(units, conns)
	require.NoError(t, err)
	plan := g.Plan()

	pos := make(map[int]int)
	for i, grp := range plan.Groups {
		for _, v := range grp.Nodes {
			pos[v] = i
		}
	}
	require.Len(t, pos, g.Len())
	for v, ws := range g.edges {
		for _, w := range ws {
			assert.LessOrEqual(t, pos[v], pos[w], "%s before %s", g.Port(v), g.Port(w))
		}
	}
	assert.Equal(t, 1, plan.Loops())
	assert.Contains(t, plan.String(), "loop [d1.u, d1.y, d2.u, d2.y]")
	assert.Contains(t, plan.String(), "b.u <- c.y")
}

func TestTieBreakFollowsDeclarationOrder(t *testing.T) {
	units := []UnitPorts{{"z", siso(false)}, {"a", siso(false)}}
	g, err := NewGraph(units, nil)
	require.NoError(t, err)

	plan := g.Plan()
	require.Len(t, plan.Groups, 4)
	assert.Equal(t, []Port{{"z", "u"}}, plan.Ports(0))
	assert.Equal(t, []Port{{"z", "y"}}, plan.Ports(1))
	assert.Equal(t, []Port{{"a", "u"}}, plan.Ports(2))
}

func TestInvalidConnections(t *testing.T) {
	units := []UnitPorts{{"a", siso(true)}, {"b", siso(true)}}
	tests := []struct {
		name  string
		conns []Connection
	}{
		{"unknown unit", []Connection{{From: Port{"x", "y"}, To: Port{"a", "u"}}}},
		{"unknown variable", []Connection{{From: Port{"a", "q"}, To: Port{"b", "u"}}}},
		{"from input", []Connection{{From: Port{"a", "u"}, To: Port{"b", "u"}}}},
		{"to output", []Connection{{From: Port{"a", "y"}, To: Port{"b", "y"}}}},
		{"input fed twice", []Connection{conn("a", "b"), {From: Port{"b", "y"}, To: Port{"b", "u"}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewGraph(units, tt.conns)
			assert.ErrorIs(t, err, ErrInvalidConnection)
		})
	}
}

func TestParsePort(t *testing.T) {
	p, err := ParsePort("ball.h")
	require.NoError(t, err)
	assert.Equal(t, Port{"ball", "h"}, p)

	p, err = ParsePort(" body.pos.x ")
	require.NoError(t, err)
	assert.Equal(t, Port{"body", "pos.x"}, p)

	for _, bad := range []string{"", "ball", ".h", "ball."} {
		_, err := ParsePort(bad)
		assert.ErrorIs(t, err, ErrInvalidConnection, bad)
	}
}

func TestSourceAndConnected(t *testing.T) {
	units := []UnitPorts{{"a", siso(true)}, {"b", siso(true)}}
	g, err := NewGraph(units, []Connection{conn("a", "b")})
	require.NoError(t, err)

	src, ok := g.Source(Port{"b", "u"})
	require.True(t, ok)
	assert.Equal(t, Port{"a", "y"}, src)

	_, ok = g.Source(Port{"a", "u"})
	assert.False(t, ok)
	assert.Equal(t, []Port{{"b", "u"}}, g.Connected())
}
