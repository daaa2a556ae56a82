package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/guptarohit/asciigraph"
	"github.com/spf13/cobra"

	"github.com/san-kum/tissuesim/internal/config"
	"github.com/san-kum/tissuesim/internal/metrics"
	"github.com/san-kum/tissuesim/internal/runner"
	"github.com/san-kum/tissuesim/internal/storage"
	"github.com/san-kum/tissuesim/internal/viz"
)

var (
	dataDir    string
	configFile string
	preset     string
	live       bool
	seed       int64
	dt         float64
	duration   float64
	scheme     string
	probeCell  int
	speed      int
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "tissuesim",
		Short: "bioelectric tissue simulation",
	}
	rootCmd.PersistentFlags().StringVar(&dataDir, "data", ".tissuesim", "data directory")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "run a simulation",
		RunE:  runSimulation,
	}
	runCmd.Flags().StringVar(&configFile, "config", "", "config file path (yaml)")
	runCmd.Flags().StringVar(&preset, "preset", "", "preset configuration")
	runCmd.Flags().BoolVar(&live, "live", false, "interactive live view")
	runCmd.Flags().Int64Var(&seed, "seed", 0, "random seed")
	runCmd.Flags().Float64Var(&dt, "dt", 0, "timestep override [s]")
	runCmd.Flags().Float64Var(&duration, "time", 0, "duration override [s]")
	runCmd.Flags().StringVar(&scheme, "scheme", "", "gating scheme override")
	runCmd.Flags().IntVar(&speed, "speed", 200, "steps per frame in live view")

	presetsCmd := &cobra.Command{
		Use:   "presets",
		Short: "list available presets",
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, name := range config.ListPresets() {
				fmt.Println(name)
			}
			return nil
		},
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "list saved runs",
		RunE:  listRuns,
	}

	plotCmd := &cobra.Command{
		Use:   "plot [run_id]",
		Short: "plot a saved voltage trace",
		Args:  cobra.ExactArgs(1),
		RunE:  plotRun,
	}
	plotCmd.Flags().IntVar(&probeCell, "cell", 0, "cell index to plot")

	exportCmd := &cobra.Command{
		Use:   "export [run_id]",
		Short: "export a run as JSON",
		Args:  cobra.ExactArgs(1),
		RunE:  exportRun,
	}

	rootCmd.AddCommand(runCmd, presetsCmd, listCmd, plotCmd, exportCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func buildConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg := config.DefaultConfig()

	if preset != "" {
		cfg = config.GetPreset(preset)
		if cfg == nil {
			return nil, fmt.Errorf("unknown preset: %s (available: %v)", preset, config.ListPresets())
		}
	}
	if configFile != "" {
		loaded, err := config.Load(configFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
		cfg = loaded
	}

	if cmd.Flags().Changed("seed") {
		cfg.Seed = seed
	}
	if cmd.Flags().Changed("dt") {
		cfg.Sim.Dt = dt
	}
	if cmd.Flags().Changed("time") {
		cfg.Sim.Duration = duration
	}
	if cmd.Flags().Changed("scheme") {
		cfg.Sim.Scheme = scheme
	}
	return cfg, nil
}

func runSimulation(cmd *cobra.Command, args []string) error {
	cfg, err := buildConfig(cmd)
	if err != nil {
		return err
	}

	sys, err := cfg.Assemble()
	if err != nil {
		return err
	}
	fmt.Printf("assembled %q: %d cells, %d junctions\n",
		cfg.Name, len(sys.Cluster.Cells), len(sys.Net.Junctions))

	if live {
		return viz.Run(sys, speed)
	}

	r, err := runner.New(sys.Engine, runner.Config{
		Dt:            cfg.Sim.Dt,
		Horizon:       cfg.Sim.Duration,
		SnapshotEvery: cfg.Sim.SnapshotEvery,
	})
	if err != nil {
		return err
	}

	ms := []metrics.Metric{
		metrics.NewPeakVoltage(),
		metrics.NewMeanVoltage(),
		metrics.NewChargeDrift(),
		metrics.NewSpikeCount(0, -10e-3),
	}
	metrics.Attach(r, sys.State, ms...)

	start := time.Now()
	res, runErr := r.Run(context.Background())
	elapsed := time.Since(start)

	st := storage.New(dataDir)
	if err := st.Init(); err != nil {
		return err
	}
	runID, err := st.Save(cfg, res)
	if err != nil {
		return err
	}

	fmt.Printf("completed in %v (%s)\n", elapsed, res.Termination)
	fmt.Printf("run id: %s\n", runID)
	fmt.Printf("steps: %d, snapshots: %d, warnings: %d\n", res.Steps, len(res.Snapshots), res.Warnings)
	fmt.Println("metrics:")
	for _, m := range ms {
		fmt.Printf("  %s: %.6g\n", m.Name(), m.Value())
	}
	if runErr != nil {
		fmt.Printf("run ended early: %v\n", runErr)
	}
	return nil
}

func listRuns(cmd *cobra.Command, args []string) error {
	st := storage.New(dataDir)
	runs, err := st.List()
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Println("no runs")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tCELLS\tSTEPS\tTERMINATION\tWHEN")
	for _, run := range runs {
		fmt.Fprintf(w, "%s\t%d\t%d\t%s\t%s\n",
			run.ID, run.Cells, run.Steps, run.Termination, run.Timestamp.Format(time.RFC3339))
	}
	return w.Flush()
}

func plotRun(cmd *cobra.Command, args []string) error {
	st := storage.New(dataDir)
	_, rows, err := st.LoadVoltages(args[0])
	if err != nil {
		return err
	}
	if len(rows) < 2 {
		return fmt.Errorf("run %s has no trace to plot", args[0])
	}
	if probeCell < 0 || probeCell >= len(rows[0]) {
		return fmt.Errorf("cell %d out of range (run has %d cells)", probeCell, len(rows[0]))
	}

	trace := make([]float64, len(rows))
	for i, row := range rows {
		trace[i] = row[probeCell]
	}

	fmt.Println(asciigraph.Plot(trace,
		asciigraph.Height(15), asciigraph.Width(70),
		asciigraph.Caption(fmt.Sprintf("%s cell %d Vm [mV]", args[0], probeCell))))
	return nil
}

func exportRun(cmd *cobra.Command, args []string) error {
	st := storage.New(dataDir)
	meta, err := st.Load(args[0])
	if err != nil {
		return err
	}
	times, rows, err := st.LoadVoltages(args[0])
	if err != nil {
		return err
	}

	out := struct {
		Metadata *storage.RunMetadata `json:"metadata"`
		Times    []float64            `json:"times"`
		Voltages [][]float64          `json:"voltages_mv"`
	}{meta, times, rows}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
