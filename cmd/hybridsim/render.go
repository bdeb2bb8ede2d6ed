package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"

	"github.com/san-kum/hybridsim/internal/storage"
)

// renderRun draws every column of one series against time. The image
// format follows the file extension.
func renderRun(cmd *cobra.Command, args []string) error {
	runID := args[0]

	st := storage.New(dataDir)
	meta, err := st.Load(runID)
	if err != nil {
		return err
	}
	name := series
	if name == "" {
		names := seriesNames(meta)
		if len(names) == 0 {
			return fmt.Errorf("run %s has no series", runID)
		}
		name = names[0]
	}
	s, err := st.LoadSeries(runID, name)
	if err != nil {
		return err
	}
	if s.Len() == 0 {
		return fmt.Errorf("no data to render")
	}

	p := plot.New()
	p.Title.Text = fmt.Sprintf("%s: %s", meta.Scenario, name)
	p.X.Label.Text = "time"
	p.Add(plotter.NewGrid())

	for i, col := range s.Columns {
		data, _ := s.Trace(col)
		pts := make(plotter.XYs, s.Len())
		for j := range pts {
			pts[j].X, pts[j].Y = s.Times[j], data[j]
		}
		line, err := plotter.NewLine(pts)
		if err != nil {
			return fmt.Errorf("column %s: %w", col, err)
		}
		line.Color = plotutil.Color(i)
		line.Dashes = plotutil.Dashes(i)
		p.Add(line)
		p.Legend.Add(col, line)
	}
	p.Legend.Top = true

	if err := p.Save(8*vg.Inch, 4*vg.Inch, outFile); err != nil {
		return err
	}
	fmt.Printf("wrote %s\n", outFile)
	return nil
}
