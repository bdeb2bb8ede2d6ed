package optim

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/san-kum/hybridsim/internal/config"
	"github.com/san-kum/hybridsim/internal/dynamo"
)

func TestParseParam(t *testing.T) {
	p, err := ParseParam("ball.e=0.5, 0.7,0.9")
	require.NoError(t, err)
	assert.Equal(t, "ball.e", p.Name)
	assert.Equal(t, []float64{0.5, 0.7, 0.9}, p.Values)

	p, err = ParseParam("ramp.slope=1:2:3")
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{1, 1.5, 2}, p.Values, 1e-12)

	for _, bad := range []string{"slope=1,2", "ramp.slope", "ramp.slope=a,b", "ramp.slope=1:2:1", ".x=1"} {
		_, err := ParseParam(bad)
		assert.Error(t, err, bad)
	}
}

func TestPoints(t *testing.T) {
	g := NewGridSearch([]Param{
		{Name: "a.x", Values: []float64{1, 2}},
		{Name: "b.y", Values: []float64{10, 20, 30}},
	})
	pts := g.Points()
	require.Len(t, pts, 6)
	assert.Equal(t, map[string]float64{"a.x": 1, "b.y": 10}, pts[0])
	assert.Equal(t, map[string]float64{"a.x": 1, "b.y": 20}, pts[1])
	assert.Equal(t, map[string]float64{"a.x": 2, "b.y": 30}, pts[5])
	assert.Equal(t, []string{"a.x", "b.y"}, g.Names())
}

func TestSearchMinimizesMetric(t *testing.T) {
	base := config.GetPreset("ramp", "grid")
	require.NotNil(t, base)

	g := NewGridSearch([]Param{{Name: "ramp.slope", Values: []float64{3, 1, 2}}}, WithWorkers(2))
	report, err := g.Search(context.Background(), base, "ramp.x.peak")
	require.NoError(t, err)
	require.Len(t, report.Points, 3)
	require.NotNil(t, report.Best)

	assert.Equal(t, 1.0, report.Best.Params["ramp.slope"])
	assert.InDelta(t, 3.0, report.Best.Value, 1e-9)
	assert.Equal(t, dynamo.Completed, report.Best.Outcome)
	assert.InDelta(t, 9.0, report.Points[0].Value, 1e-9)

	ranked := report.Ranked()
	require.Len(t, ranked, 3)
	assert.Equal(t, 2.0, ranked[1].Params["ramp.slope"])

	assert.Nil(t, base.Units[0].Start, "base scenario must not be modified")
}

func TestSearchErrors(t *testing.T) {
	base := config.GetPreset("ramp", "grid")

	_, err := NewGridSearch(nil).Search(context.Background(), base, "ramp.x.peak")
	assert.Error(t, err)

	_, err = NewGridSearch([]Param{{Name: "nope.slope", Values: []float64{1}}}).
		Search(context.Background(), base, "ramp.x.peak")
	assert.ErrorContains(t, err, "unknown unit")

	report, err := NewGridSearch([]Param{{Name: "ramp.slope", Values: []float64{1}}}).
		Search(context.Background(), base, "ramp.v.peak")
	assert.Error(t, err)
	require.NotNil(t, report)
	assert.Error(t, report.Points[0].Err)
	assert.Nil(t, report.Best)
}
