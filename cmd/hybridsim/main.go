package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/guptarohit/asciigraph"
	"github.com/spf13/cobra"

	"github.com/san-kum/hybridsim/internal/config"
	"github.com/san-kum/hybridsim/internal/dynamo"
	"github.com/san-kum/hybridsim/internal/engine"
	"github.com/san-kum/hybridsim/internal/experiment"
	"github.com/san-kum/hybridsim/internal/fmi"
	"github.com/san-kum/hybridsim/internal/metrics"
	"github.com/san-kum/hybridsim/internal/integrators"
	"github.com/san-kum/hybridsim/internal/models"
	"github.com/san-kum/hybridsim/internal/optim"
	"github.com/san-kum/hybridsim/internal/storage"
	"github.com/san-kum/hybridsim/internal/tui"
)

var (
	dataDir  string
	logLevel string
	logJSON  bool

	preset     string
	method     string
	stop       float64
	step       float64
	gridCount  int
	sqlitePath string

	series  string
	column  string
	theme   string
	outFile string

	sweepParams []string
	metric      string
	workers     int
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "hybridsim",
		Short:         "hybrid system simulation engine",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return setupLogging()
		},
	}

	rootCmd.PersistentFlags().StringVar(&dataDir, "data", ".hybridsim", "data directory")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&logJSON, "log-json", false, "log as JSON")

	runCmd := &cobra.Command{
		Use:   "run [scenario.yaml]",
		Short: "run a scenario and store its results",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runScenario,
	}
	scenarioFlags(runCmd)
	runCmd.Flags().StringVar(&sqlitePath, "sqlite", "", "also write results to this SQLite database")

	liveCmd := &cobra.Command{
		Use:   "live [scenario.yaml]",
		Short: "run a scenario with a live progress view (q cancels)",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runLive,
	}
	scenarioFlags(liveCmd)
	liveCmd.Flags().StringVar(&series, "series", "", "series to plot (default: first unit)")
	liveCmd.Flags().StringVar(&column, "column", "", "column to plot (default: first column)")
	liveCmd.Flags().StringVar(&theme, "theme", "default", "colour theme ("+strings.Join(tui.ThemeNames(), ", ")+")")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "list stored runs",
		RunE:  listRuns,
	}

	plotCmd := &cobra.Command{
		Use:   "plot [run_id]",
		Short: "plot stored series in the terminal",
		Args:  cobra.ExactArgs(1),
		RunE:  plotRun,
	}
	plotCmd.Flags().StringVar(&series, "series", "", "series to plot (default: all)")

	renderCmd := &cobra.Command{
		Use:   "render [run_id]",
		Short: "render a stored series to an image (png, svg, pdf)",
		Args:  cobra.ExactArgs(1),
		RunE:  renderRun,
	}
	renderCmd.Flags().StringVar(&series, "series", "", "series to render (default: first)")
	renderCmd.Flags().StringVarP(&outFile, "out", "o", "plot.png", "output file")

	exportJSONCmd := &cobra.Command{
		Use:   "export-json [run_id]",
		Short: "export a run with all series to JSON",
		Args:  cobra.ExactArgs(1),
		RunE:  exportJSON,
	}
	exportJSONCmd.Flags().StringVarP(&outFile, "out", "o", "", "output file (default: stdout)")

	graphCmd := &cobra.Command{
		Use:   "graph [scenario.yaml]",
		Short: "print the coupling evaluation order",
		Args:  cobra.MaximumNArgs(1),
		RunE:  printGraph,
	}
	graphCmd.Flags().StringVar(&preset, "preset", "", "use a preset (model/name)")

	presetsCmd := &cobra.Command{
		Use:   "presets [model]",
		Short: "list available presets",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			modelNames := config.PresetModels()
			if len(args) > 0 {
				modelNames = args
			}
			for _, m := range modelNames {
				presets := config.ListPresets(m)
				if len(presets) == 0 {
					fmt.Printf("no presets for model: %s\n", m)
					continue
				}
				fmt.Printf("presets for %s:\n", m)
				for _, p := range presets {
					desc := config.GetPreset(m, p).Description
					fmt.Printf("  %-10s %s\n", p, desc)
				}
			}
			return nil
		},
	}

	modelsCmd := &cobra.Command{
		Use:   "models",
		Short: "list built-in models",
		RunE: func(cmd *cobra.Command, args []string) error {
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "MODEL\tSTATES\tINDICATORS\tDESCRIPTION")
			for _, info := range models.Catalog() {
				d := info.New().Description()
				fmt.Fprintf(w, "%s\t%d\t%d\t%s\n", info.Name, d.NumContinuousStates, d.NumEventIndicators, info.Description)
			}
			fmt.Fprintf(w, "\nmethods: %s\n", strings.Join(integrators.Methods(), ", "))
			return w.Flush()
		},
	}

	sweepCmd := &cobra.Command{
		Use:   "sweep [scenario.yaml]",
		Short: "run a scenario over a grid of start values and rank a metric",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runSweep,
	}
	scenarioFlags(sweepCmd)
	sweepCmd.Flags().StringArrayVarP(&sweepParams, "param", "p", nil, "unit.var=v1,v2,... or unit.var=lo:hi:n (repeatable)")
	sweepCmd.Flags().StringVar(&metric, "metric", "", "metric to minimize, series.column.metric")
	sweepCmd.Flags().IntVar(&workers, "workers", 0, "concurrent runs (default: number of CPUs)")
	_ = sweepCmd.MarkFlagRequired("param")
	_ = sweepCmd.MarkFlagRequired("metric")

	rootCmd.AddCommand(runCmd, liveCmd, sweepCmd, listCmd, plotCmd, renderCmd, exportJSONCmd, graphCmd, presetsCmd, modelsCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func scenarioFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&preset, "preset", "", "use a preset (model/name)")
	cmd.Flags().StringVar(&method, "method", "", "override the integration method")
	cmd.Flags().Float64Var(&stop, "stop", 0, "override the stop time")
	cmd.Flags().Float64Var(&step, "step", 0, "override the fixed or communication step")
	cmd.Flags().IntVar(&gridCount, "grid", 0, "override the number of output intervals")
}

func setupLogging() error {
	var level slog.Level
	if err := level.UnmarshalText([]byte(logLevel)); err != nil {
		return fmt.Errorf("log level: %w", err)
	}
	opts := &slog.HandlerOptions{Level: level}
	var h slog.Handler = slog.NewTextHandler(os.Stderr, opts)
	if logJSON {
		h = slog.NewJSONHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(h))
	return nil
}

// loadScenario picks the scenario from a file, a preset or the default,
// then applies flag overrides.
func loadScenario(cmd *cobra.Command, args []string) (*config.Scenario, error) {
	var s *config.Scenario
	switch {
	case len(args) > 0:
		var err error
		if s, err = config.Load(args[0]); err != nil {
			return nil, fmt.Errorf("failed to load scenario: %w", err)
		}
	case preset != "":
		model, name, ok := strings.Cut(preset, "/")
		if !ok {
			return nil, fmt.Errorf("preset %q: want model/name", preset)
		}
		if s = config.GetPreset(model, name); s == nil {
			return nil, fmt.Errorf("unknown preset: %s (available: %v)", preset, config.ListPresets(model))
		}
	default:
		s = config.DefaultScenario()
	}

	flags := cmd.Flags()
	if flags.Lookup("method") != nil && flags.Changed("method") {
		s.Experiment.Method = method
	}
	if flags.Lookup("stop") != nil && flags.Changed("stop") {
		s.Experiment.Stop = stop
	}
	if flags.Lookup("step") != nil && flags.Changed("step") {
		s.Experiment.Step = step
	}
	if flags.Lookup("grid") != nil && flags.Changed("grid") {
		s.Experiment.GridCount, s.Experiment.GridWidth = gridCount, 0
	}
	return s, nil
}

// openRun opens a stored run plus the optional SQLite mirror. Every row
// also feeds the metrics collector.
func openRun(s *config.Scenario, collector *metrics.Collector) (*storage.Run, storage.Sink, func(), error) {
	st := storage.New(dataDir)
	if err := st.Init(); err != nil {
		return nil, nil, nil, err
	}
	run, err := st.NewRun(experiment.RunMetadata(s))
	if err != nil {
		return nil, nil, nil, err
	}
	if sqlitePath == "" {
		return run, storage.Multi{run, collector}, func() {}, nil
	}
	db, err := storage.OpenSQLite(sqlitePath, run.ID())
	if err != nil {
		run.Close(nil)
		return nil, nil, nil, err
	}
	closeDB := func() {
		if err := db.Close(); err != nil {
			slog.Warn("closing result database", "err", err)
		}
	}
	return run, storage.Multi{run, db, collector}, closeDB, nil
}

func runScenario(cmd *cobra.Command, args []string) error {
	s, err := loadScenario(cmd, args)
	if err != nil {
		return err
	}
	collector := metrics.NewCollector(nil)
	run, sink, closeSink, err := openRun(s, collector)
	if err != nil {
		return err
	}
	defer closeSink()

	ctx, stopSignals := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stopSignals()

	fmt.Printf("running %s...\n", scenarioName(s))
	start := time.Now()
	res, err := experiment.Run(ctx, s, sink)
	if res != nil {
		if cerr := run.Close(withMetrics(experiment.Metadata(s, res), collector)); cerr != nil && err == nil {
			err = cerr
		}
	}
	if err != nil {
		return err
	}

	printResult(res, time.Since(start))
	printMetrics(collector)
	fmt.Printf("run id: %s\n", run.ID())
	return nil
}

func runLive(cmd *cobra.Command, args []string) error {
	s, err := loadScenario(cmd, args)
	if err != nil {
		return err
	}
	collector := metrics.NewCollector(nil)
	run, sink, closeSink, err := openRun(s, collector)
	if err != nil {
		return err
	}
	defer closeSink()

	mem := storage.NewMemory()
	progress := dynamo.NewProgress(s.Experiment.Start, s.Experiment.Stop)
	c, session, err := experiment.Build(s, engine.WithProgress(progress))
	if err != nil {
		run.Close(nil)
		return err
	}

	plotSeries, plotColumn := series, column
	if plotSeries == "" {
		plotSeries = s.Units[0].Name
	}
	if plotColumn == "" {
		m, err := models.New(unitModel(s, plotSeries))
		if err == nil {
			for _, v := range m.Description().Variables {
				if v.Kind == fmi.Real && (v.Causality == fmi.Output || v.Causality == fmi.Local) {
					plotColumn = v.Name
					break
				}
			}
		}
	}

	start := time.Now()
	monitor := tui.NewMonitor(scenarioName(s), progress, mem, plotSeries, plotColumn, c.Cancel)
	monitor.SetTheme(tui.GetTheme(theme))
	res, err := tui.Watch(monitor, func() (*engine.Result, error) {
		return c.Run(context.Background(), session, storage.Multi{mem, sink})
	})
	if res != nil {
		if cerr := run.Close(withMetrics(experiment.Metadata(s, res), collector)); cerr != nil && err == nil {
			err = cerr
		}
	}
	if err != nil {
		return err
	}
	printResult(res, time.Since(start))
	printMetrics(collector)
	fmt.Printf("run id: %s\n", run.ID())
	return nil
}

func runSweep(cmd *cobra.Command, args []string) error {
	s, err := loadScenario(cmd, args)
	if err != nil {
		return err
	}
	params := make([]optim.Param, 0, len(sweepParams))
	for _, spec := range sweepParams {
		p, err := optim.ParseParam(spec)
		if err != nil {
			return err
		}
		params = append(params, p)
	}

	ctx, stopSignals := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stopSignals()

	g := optim.NewGridSearch(params, optim.WithWorkers(workers))
	report, err := g.Search(ctx, s, metric)
	if report == nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "%s\tOUTCOME\t%s\n", strings.ToUpper(strings.Join(g.Names(), "\t")), metric)
	for _, pt := range report.Points {
		for _, name := range g.Names() {
			fmt.Fprintf(w, "%g\t", pt.Params[name])
		}
		if pt.Err != nil {
			fmt.Fprintf(w, "%s\t%v\n", pt.Outcome, pt.Err)
			continue
		}
		fmt.Fprintf(w, "%s\t%g\n", pt.Outcome, pt.Value)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	if err != nil {
		return err
	}
	fmt.Printf("\nbest: %v -> %g\n", report.Best.Params, report.Best.Value)
	return nil
}

func withMetrics(update func(*storage.RunMetadata), collector *metrics.Collector) func(*storage.RunMetadata) {
	return func(m *storage.RunMetadata) {
		update(m)
		m.Metrics = collector.Values()
	}
}

func printMetrics(collector *metrics.Collector) {
	vals := collector.Values()
	for _, key := range collector.Keys() {
		if strings.HasSuffix(key, ".peak") {
			fmt.Printf("  %-24s %g\n", key, vals[key])
		}
	}
}

func unitModel(s *config.Scenario, unit string) string {
	for _, u := range s.Units {
		if u.Name == unit {
			return u.Model
		}
	}
	return ""
}

func scenarioName(s *config.Scenario) string {
	if s.Name != "" {
		return s.Name
	}
	return "scenario"
}

func printResult(res *engine.Result, elapsed time.Duration) {
	fmt.Printf("%s at t=%g in %v\n", res.Outcome, res.EndTime, elapsed.Round(time.Millisecond))
	fmt.Printf("steps: %d (rejected %d), outputs: %d\n", res.Stats.Steps, res.Stats.Rejected, res.Stats.Outputs)
	fmt.Printf("events: %d state, %d time, %d step\n", res.Stats.StateEvents, res.Stats.TimeEvents, res.Stats.StepEvents)
	if res.LoopSweeps > 0 {
		fmt.Printf("loop sweeps: %d\n", res.LoopSweeps)
	}
	for _, d := range res.Diagnostics {
		fmt.Printf("note: %s\n", d)
	}
}

func listRuns(cmd *cobra.Command, args []string) error {
	st := storage.New(dataDir)
	runs, err := st.List()
	if err != nil {
		return err
	}

	if len(runs) == 0 {
		fmt.Println("no runs found")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSCENARIO\tTIME\tMETHOD\tSTOP\tOUTCOME\tEND")
	for _, run := range runs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%g\t%s\t%g\n",
			run.ID,
			run.Scenario,
			run.Timestamp.Format("2006-01-02 15:04:05"),
			run.Method,
			run.Stop,
			run.Outcome,
			run.EndTime,
		)
	}
	return w.Flush()
}

func seriesNames(meta *storage.RunMetadata) []string {
	names := make([]string, 0, len(meta.Series))
	for name := range meta.Series {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func plotRun(cmd *cobra.Command, args []string) error {
	runID := args[0]

	st := storage.New(dataDir)
	meta, err := st.Load(runID)
	if err != nil {
		return err
	}

	fmt.Printf("run: %s\n", meta.ID)
	fmt.Printf("scenario: %s (%s)\n\n", meta.Scenario, meta.Outcome)

	names := seriesNames(meta)
	if series != "" {
		names = []string{series}
	}
	const maxPlots = 6
	plotted := 0
	for _, name := range names {
		s, err := st.LoadSeries(runID, name)
		if err != nil {
			return err
		}
		if s.Len() == 0 {
			continue
		}
		for _, col := range s.Columns {
			if plotted == maxPlots {
				return nil
			}
			data, _ := s.Trace(col)
			graph := asciigraph.Plot(data,
				asciigraph.Height(10),
				asciigraph.Width(80),
				asciigraph.Caption(fmt.Sprintf("%s.%s vs time [%g, %g]", name, col, s.Times[0], s.Times[s.Len()-1])),
			)
			fmt.Println(graph)
			fmt.Println()
			plotted++
		}
	}
	if plotted == 0 {
		return fmt.Errorf("no data to plot")
	}
	return nil
}

func exportJSON(cmd *cobra.Command, args []string) error {
	st := storage.New(dataDir)
	if outFile == "" {
		return st.ExportJSON(os.Stdout, args[0])
	}
	f, err := os.Create(outFile)
	if err != nil {
		return err
	}
	if err := st.ExportJSON(f, args[0]); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func printGraph(cmd *cobra.Command, args []string) error {
	s, err := loadScenario(cmd, args)
	if err != nil {
		return err
	}
	c, _, err := experiment.Build(s)
	if err != nil {
		return err
	}
	plan := c.Plan()
	g := plan.Graph()
	fmt.Printf("%s: %d ports, %d loops\n", scenarioName(s), g.Len(), plan.Loops())
	for _, in := range g.Connected() {
		if src, ok := g.Source(in); ok {
			fmt.Printf("  %s -> %s\n", src, in)
		}
	}
	fmt.Print(plan.String())
	return nil
}
