package storage

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var ballRows = []struct {
	t      float64
	values []float64
}{
	{0, []float64{1, 0}},
	{0.5, []float64{0.5, -1.25}},
	{1, []float64{0, -2.5}},
}

func writeBall(t *testing.T, s Sink) {
	t.Helper()
	if d, ok := s.(SeriesDeclarer); ok {
		require.NoError(t, d.DeclareSeries("ball", []string{"h", "v"}))
	}
	for _, r := range ballRows {
		require.NoError(t, s.WriteSeries("ball", r.t, r.values))
	}
}

func TestRunWritesCSV(t *testing.T) {
	store := New(t.TempDir())
	require.NoError(t, store.Init())

	run, err := store.NewRun(RunMetadata{Scenario: "ball", Method: "rk4", Stop: 1})
	require.NoError(t, err)
	writeBall(t, run)
	require.NoError(t, run.Close(nil))

	data, err := os.ReadFile(filepath.Join(run.Dir(), "ball.csv"))
	require.NoError(t, err)

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, "run_ball_csv", data)
}

func TestStoreRoundTrip(t *testing.T) {
	store := New(t.TempDir())
	require.NoError(t, store.Init())

	run, err := store.NewRun(RunMetadata{Scenario: "ball", Method: "rk4", Stop: 1})
	require.NoError(t, err)
	require.NotEmpty(t, run.ID())
	writeBall(t, run)
	require.NoError(t, run.Close(func(m *RunMetadata) {
		m.Outcome = "Completed"
		m.EndTime = 1
	}))

	runs, err := store.List()
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, run.ID(), runs[0].ID)
	assert.Equal(t, "Completed", runs[0].Outcome)
	assert.Equal(t, []string{"h", "v"}, runs[0].Series["ball"])

	series, err := store.LoadSeries(run.ID(), "ball")
	require.NoError(t, err)
	assert.Equal(t, []string{"h", "v"}, series.Columns)
	assert.Equal(t, []float64{0, 0.5, 1}, series.Times)
	v, err := series.Trace("v")
	require.NoError(t, err)
	assert.Equal(t, []float64{0, -1.25, -2.5}, v)

	var buf bytes.Buffer
	require.NoError(t, store.ExportJSON(&buf, run.ID()))
	var exported ExportData
	require.NoError(t, json.Unmarshal(buf.Bytes(), &exported))
	assert.Equal(t, run.ID(), exported.ID)
	require.Len(t, exported.Data, 1)
	assert.Equal(t, "ball", exported.Data[0].Name)
	assert.Equal(t, 3, exported.Data[0].Len())
}

func TestRunRejectsBadWrites(t *testing.T) {
	store := New(t.TempDir())
	run, err := store.NewRun(RunMetadata{})
	require.NoError(t, err)
	defer run.Close(nil)

	assert.Error(t, run.WriteSeries("ball", 0, []float64{1, 2}))
	require.NoError(t, run.DeclareSeries("ball", []string{"h", "v"}))
	assert.Error(t, run.DeclareSeries("ball", []string{"h"}))
	assert.Error(t, run.WriteSeries("ball", 0, []float64{1}))
}

func TestListMissingDirectory(t *testing.T) {
	runs, err := New(filepath.Join(t.TempDir(), "absent")).List()
	require.NoError(t, err)
	assert.Empty(t, runs)
}

func TestMemorySnapshotIsCopy(t *testing.T) {
	m := NewMemory()
	writeBall(t, m)

	snap, ok := m.Snapshot("ball")
	require.True(t, ok)
	snap.Values[0][0] = 42

	again, _ := m.Snapshot("ball")
	assert.Equal(t, 1.0, again.Values[0][0])
	assert.Equal(t, []string{"ball"}, m.Names())

	_, ok = m.Snapshot("missing")
	assert.False(t, ok)
}

func TestMemoryConcurrentReaders(t *testing.T) {
	m := NewMemory()
	require.NoError(t, m.DeclareSeries("x", []string{"x"}))

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			_ = m.WriteSeries("x", float64(i), []float64{float64(i)})
		}
	}()
	for i := 0; i < 100; i++ {
		if s, ok := m.Snapshot("x"); ok {
			assert.Equal(t, len(s.Times), len(s.Values))
		}
	}
	wg.Wait()

	s, _ := m.Snapshot("x")
	assert.Equal(t, 1000, s.Len())
}

func TestMultiFansOut(t *testing.T) {
	a, b := NewMemory(), NewMemory()
	writeBall(t, Multi{a, b})
	require.NoError(t, Multi{a, b}.Flush())

	for _, m := range []*Memory{a, b} {
		s, ok := m.Snapshot("ball")
		require.True(t, ok)
		assert.Equal(t, []string{"h", "v"}, s.Columns)
		assert.Equal(t, 3, s.Len())
	}
}

func TestSQLiteSink(t *testing.T) {
	sink, err := OpenSQLite(filepath.Join(t.TempDir(), "results.db"), "run-1")
	require.NoError(t, err)
	defer sink.Close()

	writeBall(t, sink)
	require.NoError(t, sink.Flush())

	s, err := sink.LoadSeries("ball")
	require.NoError(t, err)
	assert.Equal(t, []string{"h", "v"}, s.Columns)
	assert.Equal(t, []float64{0, 0.5, 1}, s.Times)
	assert.Equal(t, [][]float64{{1, 0}, {0.5, -1.25}, {0, -2.5}}, s.Values)
}
