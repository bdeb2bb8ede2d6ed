package storage

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
)

type Store struct {
	baseDir string
}

func New(baseDir string) *Store {
	return &Store{baseDir: baseDir}
}

func (s *Store) Init() error {
	return os.MkdirAll(s.baseDir, 0755)
}

type RunMetadata struct {
	ID          string              `json:"id"`
	Scenario    string              `json:"scenario"`
	Timestamp   time.Time           `json:"timestamp"`
	Method      string              `json:"method"`
	Start       float64             `json:"start"`
	Stop        float64             `json:"stop"`
	Outcome     string              `json:"outcome,omitempty"`
	EndTime     float64             `json:"end_time"`
	Series      map[string][]string `json:"series"`
	Stats       map[string]int      `json:"stats,omitempty"`
	Metrics     map[string]float64  `json:"metrics,omitempty"`
	Diagnostics []string            `json:"diagnostics,omitempty"`
}

// Run is an open run directory. It is a Sink writing one CSV file per
// series; Close writes metadata.json.
type Run struct {
	mu     sync.Mutex
	dir    string
	meta   RunMetadata
	files  map[string]*os.File
	csv    map[string]*csv.Writer
	closed bool
}

// NewRun creates a run directory named by a time-ordered id.
func (s *Store) NewRun(meta RunMetadata) (*Run, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("run id: %w", err)
	}
	meta.ID = id.String()
	if meta.Timestamp.IsZero() {
		meta.Timestamp = time.Now()
	}
	meta.Series = make(map[string][]string)

	dir := filepath.Join(s.baseDir, meta.ID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}
	return &Run{
		dir:   dir,
		meta:  meta,
		files: make(map[string]*os.File),
		csv:   make(map[string]*csv.Writer),
	}, nil
}

func (r *Run) ID() string  { return r.meta.ID }
func (r *Run) Dir() string { return r.dir }

func (r *Run) DeclareSeries(series string, columns []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return errors.New("storage: run closed")
	}
	if _, ok := r.csv[series]; ok {
		return fmt.Errorf("storage: series %q declared twice", series)
	}
	f, err := os.Create(filepath.Join(r.dir, seriesFile(series)))
	if err != nil {
		return err
	}
	w := csv.NewWriter(f)
	if err := w.Write(append([]string{"time"}, columns...)); err != nil {
		f.Close()
		return err
	}
	r.files[series] = f
	r.csv[series] = w
	r.meta.Series[series] = append([]string(nil), columns...)
	return nil
}

func (r *Run) WriteSeries(series string, t float64, values []float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.csv[series]
	if !ok {
		return fmt.Errorf("storage: series %q was not declared", series)
	}
	if n := len(r.meta.Series[series]); n != len(values) {
		return fmt.Errorf("storage: series %q: %d values for %d columns", series, len(values), n)
	}
	row := make([]string, 0, len(values)+1)
	row = append(row, formatFloat(t))
	for _, v := range values {
		row = append(row, formatFloat(v))
	}
	return w.Write(row)
}

func (r *Run) Flush() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, w := range r.csv {
		w.Flush()
		if err := w.Error(); err != nil {
			return err
		}
	}
	return nil
}

// Close flushes and closes the series files and writes metadata.json.
// update, when non-nil, may fill in outcome and statistics first.
func (r *Run) Close(update func(*RunMetadata)) error {
	if err := r.Flush(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true

	var errs []error
	for _, f := range r.files {
		errs = append(errs, f.Close())
	}
	if update != nil {
		update(&r.meta)
	}
	errs = append(errs, writeJSON(filepath.Join(r.dir, "metadata.json"), r.meta))
	return errors.Join(errs...)
}

func writeJSON(path string, v any) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func seriesFile(series string) string { return series + ".csv" }

func formatFloat(v float64) string { return strconv.FormatFloat(v, 'f', 6, 64) }

// List returns every stored run, oldest first.
func (s *Store) List() ([]RunMetadata, error) {
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return []RunMetadata{}, nil
		}
		return nil, err
	}

	runs := make([]RunMetadata, 0)
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		meta, err := s.Load(entry.Name())
		if err != nil {
			continue
		}
		runs = append(runs, *meta)
	}
	sort.Slice(runs, func(i, j int) bool { return runs[i].ID < runs[j].ID })
	return runs, nil
}

func (s *Store) Load(runID string) (*RunMetadata, error) {
	data, err := os.ReadFile(filepath.Join(s.baseDir, runID, "metadata.json"))
	if err != nil {
		return nil, err
	}

	var meta RunMetadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, err
	}
	return &meta, nil
}

// LoadSeries reads one series of a stored run.
func (s *Store) LoadSeries(runID, series string) (*Series, error) {
	file, err := os.Open(filepath.Join(s.baseDir, runID, seriesFile(series)))
	if err != nil {
		return nil, err
	}
	defer file.Close()
	return readSeries(series, file)
}

func readSeries(name string, src io.Reader) (*Series, error) {
	r := csv.NewReader(src)
	r.FieldsPerRecord = -1

	records, err := r.ReadAll()
	if err != nil {
		return nil, err
	}
	out := &Series{Name: name}
	if len(records) == 0 {
		return out, nil
	}
	if len(records[0]) > 0 {
		out.Columns = records[0][1:]
	}

	for i := 1; i < len(records); i++ {
		record := records[i]
		if len(record) == 0 {
			continue
		}
		t, err := strconv.ParseFloat(record[0], 64)
		if err != nil {
			return nil, fmt.Errorf("%s line %d: %w", name, i+1, err)
		}
		row := make([]float64, 0, len(record)-1)
		for _, field := range record[1:] {
			v, err := strconv.ParseFloat(field, 64)
			if err != nil {
				return nil, fmt.Errorf("%s line %d: %w", name, i+1, err)
			}
			row = append(row, v)
		}
		out.Times = append(out.Times, t)
		out.Values = append(out.Values, row)
	}
	return out, nil
}

type ExportData struct {
	RunMetadata
	Data []*Series `json:"data"`
}

// ExportJSON writes a run with all its series to w.
func (s *Store) ExportJSON(w io.Writer, runID string) error {
	meta, err := s.Load(runID)
	if err != nil {
		return err
	}
	data := ExportData{RunMetadata: *meta}
	names := make([]string, 0, len(meta.Series))
	for name := range meta.Series {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		series, err := s.LoadSeries(runID, name)
		if err != nil {
			return err
		}
		data.Data = append(data.Data, series)
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(data)
}
