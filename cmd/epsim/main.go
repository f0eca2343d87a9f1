package main

import (
	"context"
	"fmt"
	"math"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/epsimlab/epsim/internal/analysis"
	"github.com/epsimlab/epsim/internal/config"
	"github.com/epsimlab/epsim/internal/engine"
	"github.com/epsimlab/epsim/internal/export"
	"github.com/epsimlab/epsim/internal/models"
	"github.com/epsimlab/epsim/internal/solver"
	"github.com/epsimlab/epsim/internal/storage"
	"github.com/epsimlab/epsim/internal/trace"
	"github.com/epsimlab/epsim/internal/tui"
)

var (
	dataDir     string
	verbose     bool
	configFile  string
	duration    float64
	logInterval float64
	rtol        float64
	atol        float64
	maxStep     float64
	maxOrder    int
	symbolicJac bool
	noSave      bool
	variable    string
	plotVars    []string
	outputPath  string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "epsim",
		Short: "cardiac cell simulation engine",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if verbose {
				logrus.SetLevel(logrus.DebugLevel)
			} else {
				logrus.SetLevel(logrus.WarnLevel)
			}
		},
	}
	rootCmd.PersistentFlags().StringVar(&dataDir, "data", ".epsim", "data directory")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")

	runCmd := &cobra.Command{
		Use:   "run [model]",
		Short: "run a paced simulation",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runSimulation,
	}
	runCmd.Flags().StringVar(&configFile, "config", "", "run configuration (yaml)")
	runCmd.Flags().Float64Var(&duration, "time", config.DefaultDuration, "duration (ms)")
	runCmd.Flags().Float64Var(&logInterval, "log-interval", config.DefaultLogInterval, "sample spacing (ms)")
	runCmd.Flags().Float64Var(&rtol, "rtol", config.DefaultRelTol, "relative tolerance")
	runCmd.Flags().Float64Var(&atol, "atol", config.DefaultAbsTol, "absolute tolerance")
	runCmd.Flags().Float64Var(&maxStep, "max-step", 0, "maximum internal step (0 = unbounded)")
	runCmd.Flags().IntVar(&maxOrder, "order", 0, "maximum BDF order (0 = default)")
	runCmd.Flags().BoolVar(&symbolicJac, "symbolic-jac", false, "use the symbolic Jacobian")
	runCmd.Flags().BoolVar(&noSave, "no-save", false, "do not persist the run")

	modelsCmd := &cobra.Command{
		Use:   "models",
		Short: "list built-in models",
		RunE:  listModels,
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "list stored runs",
		RunE:  listRuns,
	}

	plotCmd := &cobra.Command{
		Use:   "plot [run_id]",
		Short: "chart a stored run in the terminal",
		Args:  cobra.ExactArgs(1),
		RunE:  plotRun,
	}
	plotCmd.Flags().StringVar(&variable, "var", "", "variable to plot (default: first column)")

	renderCmd := &cobra.Command{
		Use:   "render [run_id]",
		Short: "render a stored run to an image file",
		Args:  cobra.ExactArgs(1),
		RunE:  renderRun,
	}
	renderCmd.Flags().StringSliceVar(&plotVars, "vars", nil, "variables to draw (default: all)")
	renderCmd.Flags().StringVarP(&outputPath, "out", "o", "trace.png", "output file (.png, .svg, .pdf)")

	exportCSVCmd := &cobra.Command{
		Use:   "export-csv [run_id]",
		Short: "export a stored run as CSV",
		Args:  cobra.ExactArgs(1),
		RunE:  exportCSV,
	}
	exportCSVCmd.Flags().StringVarP(&outputPath, "out", "o", "", "output file (default: stdout)")

	exportJSONCmd := &cobra.Command{
		Use:   "export-json [run_id]",
		Short: "export a stored run as JSON",
		Args:  cobra.ExactArgs(1),
		RunE:  exportJSON,
	}
	exportJSONCmd.Flags().StringVarP(&outputPath, "out", "o", "", "output file (default: stdout)")

	analyzeCmd := &cobra.Command{
		Use:   "analyze [run_id]",
		Short: "measure action potentials in a stored run",
		Args:  cobra.ExactArgs(1),
		RunE:  analyzeRun,
	}
	analyzeCmd.Flags().StringVar(&variable, "var", "", "voltage column (default: first column)")

	compareCmd := &cobra.Command{
		Use:   "compare [model]",
		Short: "sweep solver tolerances and compare traces",
		Args:  cobra.ExactArgs(1),
		RunE:  compareTolerances,
	}
	compareCmd.Flags().Float64Var(&duration, "time", 100, "duration (ms)")
	compareCmd.Flags().Float64Var(&logInterval, "log-interval", 1, "sample spacing (ms)")

	liveCmd := &cobra.Command{
		Use:   "live [model]",
		Short: "watch a simulation live in the terminal",
		Args:  cobra.ExactArgs(1),
		RunE:  runLive,
	}
	liveCmd.Flags().StringVar(&variable, "var", "", "variable to chart (default: first column)")

	rootCmd.AddCommand(runCmd, modelsCmd, listCmd, plotCmd, renderCmd,
		exportCSVCmd, exportJSONCmd, analyzeCmd, compareCmd, liveCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// loadRunConfig resolves the run configuration from --config or flags.
func loadRunConfig(args []string) (*config.Config, error) {
	if configFile != "" {
		return config.Load(configFile)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("a model name or --config is required")
	}
	cfg := config.DefaultConfig(args[0])
	cfg.Duration = duration
	cfg.Log.Interval = logInterval
	cfg.Solver = config.SolverConfig{
		RelTol:           rtol,
		AbsTol:           atol,
		MaxStep:          maxStep,
		MaxOrder:         maxOrder,
		SymbolicJacobian: symbolicJac,
	}
	return cfg, cfg.Validate()
}

// buildSimulation assembles an engine from a run configuration.
func buildSimulation(cfg *config.Config) (*engine.Simulation, error) {
	model, err := models.NewRegistry().Get(cfg.Model)
	if err != nil {
		return nil, err
	}
	if len(cfg.InitState) > 0 {
		if len(cfg.InitState) != model.NStates() {
			return nil, fmt.Errorf("init_state has %d values, model %s has %d states",
				len(cfg.InitState), cfg.Model, model.NStates())
		}
		model.Initial = append([]float64(nil), cfg.InitState...)
	}
	return engine.New(engine.Config{
		Model:  model,
		Events: cfg.Pacing,
		Solver: solver.Options{
			RelTol:   cfg.Solver.RelTol,
			AbsTol:   cfg.Solver.AbsTol,
			MaxStep:  cfg.Solver.MaxStep,
			MaxOrder: cfg.Solver.MaxOrder,
		},
		SymbolicJacobian: cfg.Solver.SymbolicJacobian,
	})
}

// buildSampler creates the log schedule for a run starting at t=0.
func buildSampler(cfg *config.Config) (trace.Sampler, error) {
	if len(cfg.Log.Points) > 0 {
		return trace.NewPointSampler(cfg.Log.Points)
	}
	return trace.NewPeriodicSampler(0, cfg.Duration, cfg.Log.Interval)
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func runSimulation(cmd *cobra.Command, args []string) error {
	cfg, err := loadRunConfig(args)
	if err != nil {
		return err
	}
	sim, err := buildSimulation(cfg)
	if err != nil {
		return err
	}
	sampler, err := buildSampler(cfg)
	if err != nil {
		return err
	}

	ctx, stop := signalContext()
	defer stop()

	log, err := sim.Run(ctx, cfg.Duration, sampler)
	if err != nil {
		return err
	}

	fmt.Printf("model %s: %g ms, %d samples\n", cfg.Model, cfg.Duration, log.Len())
	if chart, err := export.AsciiPlot(log, log.Names()[0], 70, 12); err == nil {
		fmt.Println(chart)
	}

	if noSave {
		return nil
	}
	store := storage.New(dataDir)
	if err := store.Init(); err != nil {
		return err
	}
	id, err := store.Save(cfg.Model, cfg.Duration, cfg.Solver.RelTol, cfg.Solver.AbsTol, log)
	if err != nil {
		return err
	}
	fmt.Println("saved:", id)
	return nil
}

func listModels(cmd *cobra.Command, args []string) error {
	reg := models.NewRegistry()
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tSTATES\tDESCRIPTION")
	for _, name := range reg.List() {
		m, err := reg.Get(name)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "%s\t%d\t%s\n", m.Name, m.NStates(), m.Description)
	}
	return w.Flush()
}

func listRuns(cmd *cobra.Command, args []string) error {
	runs, err := storage.New(dataDir).List()
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Println("no stored runs")
		return nil
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tMODEL\tDURATION\tSAMPLES\tTIMESTAMP")
	for _, r := range runs {
		fmt.Fprintf(w, "%s\t%s\t%g\t%d\t%s\n",
			r.ID, r.Model, r.Duration, r.Samples, r.Timestamp.Format("2006-01-02 15:04:05"))
	}
	return w.Flush()
}

func loadStoredTrace(runID string) (*storage.RunMetadata, *trace.Log, error) {
	store := storage.New(dataDir)
	meta, err := store.Load(runID)
	if err != nil {
		return nil, nil, err
	}
	log, err := store.LoadTrace(runID)
	if err != nil {
		return nil, nil, err
	}
	return meta, log, nil
}

func pickVariable(log *trace.Log) string {
	if variable != "" {
		return variable
	}
	return log.Names()[0]
}

func plotRun(cmd *cobra.Command, args []string) error {
	_, log, err := loadStoredTrace(args[0])
	if err != nil {
		return err
	}
	chart, err := export.AsciiPlot(log, pickVariable(log), 70, 16)
	if err != nil {
		return err
	}
	fmt.Println(chart)
	return nil
}

func renderRun(cmd *cobra.Command, args []string) error {
	meta, log, err := loadStoredTrace(args[0])
	if err != nil {
		return err
	}
	if err := export.RenderPlot(log, plotVars, meta.Model, outputPath); err != nil {
		return err
	}
	fmt.Println("wrote", outputPath)
	return nil
}

func exportCSV(cmd *cobra.Command, args []string) error {
	_, log, err := loadStoredTrace(args[0])
	if err != nil {
		return err
	}
	if outputPath == "" {
		return storage.WriteCSV(os.Stdout, log)
	}
	return storage.ExportCSVFile(outputPath, log)
}

func exportJSON(cmd *cobra.Command, args []string) error {
	meta, log, err := loadStoredTrace(args[0])
	if err != nil {
		return err
	}
	if outputPath == "" {
		return storage.WriteJSON(os.Stdout, meta.Model, meta.Duration, log)
	}
	return storage.ExportJSONFile(outputPath, meta.Model, meta.Duration, log)
}

func analyzeRun(cmd *cobra.Command, args []string) error {
	_, log, err := loadStoredTrace(args[0])
	if err != nil {
		return err
	}
	name := pickVariable(log)
	col, ok := log.Column(name)
	if !ok {
		return fmt.Errorf("no logged variable %q", name)
	}
	times := log.Times()

	aps := analysis.DetectAPs(times, col, analysis.DefaultAPDOptions())
	fmt.Printf("%s: %d action potentials\n", name, len(aps))
	if len(aps) > 0 {
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "#\tUPSTROKE\tPEAK\tAPD90")
		for i, ap := range aps {
			fmt.Fprintf(w, "%d\t%.2f\t%.1f\t%.2f\n", i+1, ap.Upstroke, ap.Peak, ap.APD)
		}
		w.Flush()
	}
	fmt.Printf("max dV/dt: %.2f\n", analysis.MaxUpstrokeVelocity(times, col))
	if log.Len() > 3 {
		dt := times[1] - times[0]
		fmt.Printf("dominant frequency: %.3f kHz\n", analysis.DominantFrequency(col, dt))
	}
	return nil
}

func compareTolerances(cmd *cobra.Command, args []string) error {
	model, err := models.NewRegistry().Get(args[0])
	if err != nil {
		return err
	}
	opts := []solver.Options{
		{RelTol: 1e-3, AbsTol: 1e-5},
		{RelTol: 1e-4, AbsTol: 1e-6},
		{RelTol: 1e-6, AbsTol: 1e-8},
	}

	sampler, err := trace.NewPeriodicSampler(0, duration, logInterval)
	if err != nil {
		return err
	}
	ctx, stop := signalContext()
	defer stop()

	logs, err := engine.NewSweep(engine.Config{Model: model}, opts).Run(ctx, duration, sampler)
	if err != nil {
		return err
	}

	// Divergence of each run against the tightest-tolerance member.
	ref := logs[len(logs)-1]
	refCol := ref.ColumnAt(0)
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "RTOL\tATOL\tMAX DIVERGENCE")
	for i, log := range logs {
		col := log.ColumnAt(0)
		maxDiff := 0.0
		for j := range col {
			maxDiff = math.Max(maxDiff, math.Abs(col[j]-refCol[j]))
		}
		fmt.Fprintf(w, "%.0e\t%.0e\t%.3g\n", opts[i].RelTol, opts[i].AbsTol, maxDiff)
	}
	return w.Flush()
}

func runLive(cmd *cobra.Command, args []string) error {
	cfg := config.DefaultConfig(args[0])
	sim, err := buildSimulation(cfg)
	if err != nil {
		return err
	}
	p := tea.NewProgram(tui.NewModel(sim, cfg.Model, variable))
	_, err = p.Run()
	return err
}
