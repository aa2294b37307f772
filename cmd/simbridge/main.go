package main

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	json "github.com/goccy/go-json"
	"github.com/guptarohit/asciigraph"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/san-kum/simbridge/internal/config"
	"github.com/san-kum/simbridge/internal/logging"
	"github.com/san-kum/simbridge/internal/step"
	"github.com/san-kum/simbridge/internal/storage"
)

const maxPlots = 6

var (
	configFile string
	preset     string
	dataDir    string
	logLevel   string
	listen     string
	endpoint   string
	passes     int
	noRecord   bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:          "simbridge",
		Short:        "integrator bridge between a simulation host and an external step",
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "config file path (yaml)")
	rootCmd.PersistentFlags().StringVar(&preset, "preset", "", "use preset configuration")
	rootCmd.PersistentFlags().StringVar(&dataDir, "data", config.DefaultDataDir, "data directory")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", logging.LevelInfo, "log level (debug, info, warn, error)")

	hostCmd := &cobra.Command{
		Use:   "host",
		Short: "serve the gateway and drive one integrator",
		RunE:  runHost,
	}
	hostCmd.Flags().StringVar(&listen, "listen", config.DefaultListen, "gateway listen address")
	hostCmd.Flags().IntVar(&passes, "passes", config.DefaultPasses, "integration passes")
	hostCmd.Flags().BoolVar(&noRecord, "no-record", false, "do not record the run")

	integratorCmd := &cobra.Command{
		Use:   "integrator",
		Short: "connect to a host and serve the configured step",
		RunE:  runIntegrator,
	}
	integratorCmd.Flags().StringVar(&endpoint, "endpoint", config.DefaultEndpoint, "host gateway url")

	demoCmd := &cobra.Command{
		Use:   "demo",
		Short: "run host and integrator in one process",
		RunE:  runDemo,
	}
	demoCmd.Flags().IntVar(&passes, "passes", config.DefaultPasses, "integration passes")
	demoCmd.Flags().BoolVar(&noRecord, "no-record", false, "do not record the run")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "list recorded runs",
		RunE:  listRuns,
	}

	plotCmd := &cobra.Command{
		Use:   "plot [run_id]",
		Short: "plot recorded states per pass",
		Args:  cobra.ExactArgs(1),
		RunE:  plotRun,
	}

	exportCmd := &cobra.Command{
		Use:   "export [run_id]",
		Short: "export run metadata",
		Args:  cobra.ExactArgs(1),
		RunE:  exportRun,
	}

	presetsCmd := &cobra.Command{
		Use:   "presets [name]",
		Short: "list presets, or print one as yaml",
		Args:  cobra.MaximumNArgs(1),
		RunE:  showPresets,
	}

	stepsCmd := &cobra.Command{
		Use:   "steps",
		Short: "list available steps, models and integrators",
		Run: func(cmd *cobra.Command, args []string) {
			reg := step.NewRegistry()
			fmt.Printf("steps:       %s\n", strings.Join(reg.ListSteps(), ", "))
			fmt.Printf("models:      %s\n", strings.Join(reg.ListModels(), ", "))
			fmt.Printf("integrators: %s\n", strings.Join(reg.ListIntegrators(), ", "))
		},
	}

	initCmd := &cobra.Command{
		Use:   "init [path]",
		Short: "write a config file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := resolveConfig(cmd)
			if err != nil {
				return err
			}
			if err := config.Save(args[0], cfg); err != nil {
				return err
			}
			fmt.Printf("wrote %s\n", args[0])
			return nil
		},
	}

	rootCmd.AddCommand(hostCmd, integratorCmd, demoCmd, listCmd, plotCmd, exportCmd, presetsCmd, stepsCmd, initCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// resolveConfig layers the config file or preset under explicitly set flags.
func resolveConfig(cmd *cobra.Command) (*config.Config, error) {
	var cfg *config.Config
	switch {
	case configFile != "":
		loaded, err := config.Load(configFile)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	case preset != "":
		cfg = config.GetPreset(preset)
		if cfg == nil {
			return nil, fmt.Errorf("unknown preset: %s (available: %v)", preset, config.ListPresets())
		}
	default:
		cfg = config.GetPreset("reference")
	}

	flags := cmd.Flags()
	if flags.Changed("data") || configFile == "" {
		cfg.DataDir = dataDir
	}
	if flags.Changed("log-level") {
		cfg.LogLevel = logLevel
	}
	if flags.Changed("listen") {
		cfg.Listen = listen
	}
	if flags.Changed("endpoint") {
		cfg.Endpoint = endpoint
	}
	if flags.Changed("passes") {
		cfg.Passes = passes
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
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
	fmt.Fprintln(w, "ID\tPRESET\tSTEP\tTIME\tPASSES\tSTATES\tSTATUS")

	for _, run := range runs {
		status := "ok"
		if run.Error != "" {
			status = "failed"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%d\t%s\n",
			run.ID,
			run.Preset,
			run.Step,
			run.Timestamp.Format("2006-01-02 15:04:05"),
			run.Passes,
			len(run.States),
			status,
		)
	}

	return w.Flush()
}

func plotRun(cmd *cobra.Command, args []string) error {
	runID := args[0]

	st := storage.New(dataDir)
	meta, err := st.Load(runID)
	if err != nil {
		return err
	}

	names, passes, series, err := st.LoadStates(runID)
	if err != nil {
		return err
	}
	if len(passes) == 0 {
		return fmt.Errorf("no data to plot")
	}

	fmt.Printf("run: %s\n", meta.ID)
	fmt.Printf("integrator: %s\n", meta.IntegratorID)
	fmt.Printf("passes: %d\n\n", meta.Passes)

	if len(names) > maxPlots {
		names = names[:maxPlots]
	}

	for _, name := range names {
		graph := asciigraph.Plot(series[name],
			asciigraph.Height(10),
			asciigraph.Width(80),
			asciigraph.Caption(fmt.Sprintf("%s vs pass", name)),
		)
		fmt.Println(graph)
		fmt.Println()
	}

	return nil
}

func exportRun(cmd *cobra.Command, args []string) error {
	st := storage.New(dataDir)
	meta, err := st.Load(args[0])
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(meta)
}

func showPresets(cmd *cobra.Command, args []string) error {
	if len(args) == 1 {
		cfg := config.GetPreset(args[0])
		if cfg == nil {
			return fmt.Errorf("unknown preset: %s (available: %v)", args[0], config.ListPresets())
		}
		out, err := yaml.Marshal(cfg)
		if err != nil {
			return err
		}
		_, err = os.Stdout.Write(out)
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tSTEP\tPASSES\tSTATES")
	for _, name := range config.ListPresets() {
		cfg := config.GetPreset(name)
		kind := cfg.Step.Kind
		if cfg.Step.Model != "" {
			kind += "/" + cfg.Step.Model
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", name, kind, cfg.Passes, strings.Join(cfg.StateNames(), ","))
	}
	return w.Flush()
}
