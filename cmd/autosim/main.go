package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"text/tabwriter"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/guptarohit/asciigraph"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/san-kum/autosim/internal/bus"
	"github.com/san-kum/autosim/internal/catalog"
	"github.com/san-kum/autosim/internal/config"
	"github.com/san-kum/autosim/internal/metrics"
	"github.com/san-kum/autosim/internal/sensor"
	"github.com/san-kum/autosim/internal/sim"
	"github.com/san-kum/autosim/internal/storage"
	"github.com/san-kum/autosim/internal/sweep"
	"github.com/san-kum/autosim/internal/tui"
)

var log = logrus.WithFields(logrus.Fields{
	"pkg": "main",
})

var (
	dataDir     string
	configFile  string
	preset      string
	catalogPath string
	logLevel    string

	paramMin   float64
	paramMax   float64
	paramStep  float64
	maxTrials  int
	threshold  float64
	tickRate   float64
	startStep  int
	startCount int
	preseed    bool
	noExit     bool

	busKind     string
	redisURL    string
	timeScale   float64
	metricsAddr string
	liveView    bool

	joints []int
)

func main() {
	rootCmd := &cobra.Command{
		Use:          "autosim",
		Short:        "parameter sweep driver for the snake robot simulation",
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&dataDir, "out", config.DefaultOutputDir, "directory trial logs are written to")
	rootCmd.PersistentFlags().StringVar(&catalogPath, "catalog", "", "sqlite catalog of completed trials")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "run the parameter sweep",
		Args:  cobra.NoArgs,
		RunE:  runSweep,
	}
	runCmd.Flags().StringVar(&configFile, "config", "", "config file path (yaml)")
	runCmd.Flags().StringVar(&preset, "preset", "", "use preset configuration")
	runCmd.Flags().StringVar(&logLevel, "log-level", config.DefaultLogLevel, "log level")
	runCmd.Flags().Float64Var(&paramMin, "min", config.DefaultParamMin, "first value of k")
	runCmd.Flags().Float64Var(&paramMax, "max", config.DefaultParamMax, "last value of k")
	runCmd.Flags().Float64Var(&paramStep, "step", config.DefaultParamStep, "increment of k")
	runCmd.Flags().IntVar(&maxTrials, "trials", config.DefaultMaxTrials, "number of rounds over the k range")
	runCmd.Flags().Float64Var(&threshold, "threshold", config.DefaultFinishThreshold, "x position for both reset and finish")
	runCmd.Flags().Float64Var(&tickRate, "rate", config.DefaultTickRate, "controller tick rate in Hz")
	runCmd.Flags().IntVar(&startStep, "start-step", 0, "k step index to begin at")
	runCmd.Flags().IntVar(&startCount, "start-count", 0, "round to begin at")
	runCmd.Flags().BoolVar(&preseed, "preseed", false, "idle one tick before the first trial")
	runCmd.Flags().BoolVar(&noExit, "no-exit", false, "keep running after the sweep completes")
	runCmd.Flags().StringVar(&busKind, "bus", config.DefaultBus, "message bus (memory, redis)")
	runCmd.Flags().StringVar(&redisURL, "redis-url", config.DefaultRedisURL, "redis url for the redis bus")
	runCmd.Flags().Float64Var(&timeScale, "time-scale", config.DefaultTimeScale, "simulated seconds per wall second")
	runCmd.Flags().StringVar(&metricsAddr, "metrics", "", "serve prometheus metrics on this address")
	runCmd.Flags().BoolVar(&liveView, "tui", false, "show live progress")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "list trial logs",
		Args:  cobra.NoArgs,
		RunE:  listTrials,
	}

	plotCmd := &cobra.Command{
		Use:   "plot [file]",
		Short: "plot joint torques of a trial log",
		Args:  cobra.ExactArgs(1),
		RunE:  plotTrial,
	}
	plotCmd.Flags().IntSliceVar(&joints, "joint", []int{0}, "joint indices to plot")

	presetsCmd := &cobra.Command{
		Use:   "presets",
		Short: "list available presets",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("presets:")
			for _, p := range config.ListPresets() {
				fmt.Printf("  %s\n", p)
			}
		},
	}

	configCmd := &cobra.Command{
		Use:   "config [path]",
		Short: "write a config file with default values",
		Args:  cobra.MaximumNArgs(1),
		RunE:  writeConfig,
	}
	configCmd.Flags().StringVar(&preset, "preset", "", "start from a preset")

	rootCmd.AddCommand(runCmd, listCmd, plotCmd, presetsCmd, configCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig layers preset, config file and changed flags, in that order.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg := config.DefaultConfig()
	if preset != "" {
		cfg = config.GetPreset(preset)
		if cfg == nil {
			return nil, fmt.Errorf("unknown preset: %s (available: %v)", preset, config.ListPresets())
		}
	}

	if configFile != "" {
		loaded, err := config.LoadOver(configFile, cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
		cfg = loaded
	}

	flags := cmd.Flags()
	if flags.Changed("out") {
		cfg.Output.Dir = dataDir
	}
	if flags.Changed("catalog") {
		cfg.Output.Catalog = catalogPath
	}
	if flags.Changed("log-level") {
		cfg.LogLevel = logLevel
	}
	if flags.Changed("min") {
		cfg.Sweep.ParamMin = paramMin
	}
	if flags.Changed("max") {
		cfg.Sweep.ParamMax = paramMax
	}
	if flags.Changed("step") {
		cfg.Sweep.ParamStep = paramStep
	}
	if flags.Changed("trials") {
		cfg.Sweep.MaxTrials = maxTrials
	}
	if flags.Changed("threshold") {
		cfg.Sweep.ResetThreshold = threshold
		cfg.Sweep.FinishThreshold = threshold
	}
	if flags.Changed("rate") {
		cfg.Sweep.TickRate = tickRate
	}
	if flags.Changed("start-step") {
		cfg.Sweep.StartStep = startStep
	}
	if flags.Changed("start-count") {
		cfg.Sweep.StartCount = startCount
	}
	if flags.Changed("preseed") {
		cfg.Sweep.Preseed = preseed
	}
	if flags.Changed("no-exit") {
		cfg.Sweep.ExitWhenDone = !noExit
	}
	if flags.Changed("bus") {
		cfg.Bus.Kind = busKind
	}
	if flags.Changed("redis-url") {
		cfg.Bus.RedisURL = redisURL
	}
	if flags.Changed("time-scale") {
		cfg.Backend.Local.TimeScale = timeScale
	}
	if flags.Changed("metrics") {
		cfg.MetricsAddr = metricsAddr
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func setupLogging(cfg *config.Config) (func(), error) {
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	logrus.SetLevel(level)
	if !liveView {
		return func() {}, nil
	}

	f, err := os.OpenFile(filepath.Join(cfg.Output.Dir, "autosim.log"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, err
	}
	logrus.SetOutput(f)
	return func() { f.Close() }, nil
}

func runSweep(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	st := storage.New(cfg.Output.Dir)
	if err := st.Init(); err != nil {
		return err
	}

	closeLog, err := setupLogging(cfg)
	if err != nil {
		return err
	}
	defer closeLog()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	b, err := bus.Open(ctx, cfg.Bus)
	if err != nil {
		return fmt.Errorf("open %s bus: %w", cfg.Bus.Kind, err)
	}
	defer b.Close()

	mailbox := sensor.NewMailbox(cfg.Sweep.NumJoint)
	sub, err := b.Subscribe(ctx, cfg.Bus.TorqueTopic, func(msg []float64) {
		if err := mailbox.Store(msg); err != nil {
			log.Warnf("%s: %v", cfg.Bus.TorqueTopic, err)
		}
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", cfg.Bus.TorqueTopic, err)
	}
	defer sub.Close()

	local, err := sim.NewLocal(cfg, b)
	if err != nil {
		return err
	}
	defer local.Close()

	opts := []sweep.Option{sweep.WithObserver(metrics.NewObserver())}

	runID := catalog.NewRunID()
	if cfg.Output.Catalog != "" {
		cat, err := catalog.Open(cfg.Output.Catalog)
		if err != nil {
			return fmt.Errorf("open catalog: %w", err)
		}
		defer cat.Close()
		opts = append(opts, sweep.WithObserver(catalog.NewRecorder(cat, runID)))
	}

	var program *tea.Program
	if liveView {
		program = tui.NewProgram(tui.New(cfg.Sweep))
		opts = append(opts, sweep.WithObserver(tui.NewObserver(program.Send)))
	}

	ctrl := sweep.New(cfg, sweep.Deps{
		Backend:   local,
		Publisher: b,
		Mailbox:   mailbox,
		Store:     sweep.FileStore(st),
	}, opts...)

	if err := ctrl.Prepare(ctx); err != nil {
		return err
	}

	log.WithFields(logrus.Fields{
		"run":    runID,
		"trials": cfg.Sweep.TotalTrials(),
		"out":    st.Dir(),
	}).Info("sweep starting")
	start := time.Now()

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return local.Run(gCtx)
	})

	if cfg.MetricsAddr != "" {
		g.Go(func() error {
			return metrics.Serve(gCtx, cfg.MetricsAddr)
		})
	}

	g.Go(func() error {
		err := ctrl.Run(gCtx)
		if program != nil {
			program.Send(tui.DoneMsg{Err: err})
		} else {
			cancel()
		}
		return err
	})

	if program != nil {
		if _, err := program.Run(); err != nil {
			log.Errorf("live view: %v", err)
		}
		cancel()
	}

	err = g.Wait()
	elapsed := time.Since(start)
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	p := ctrl.Parameter()
	fmt.Printf("state: %s\n", ctrl.State())
	fmt.Printf("run id: %s\n", runID)
	fmt.Printf("position: k=%.3f count=%d\n", p.K(), p.Count)
	fmt.Printf("elapsed: %v\n", elapsed.Round(time.Millisecond))
	return nil
}

func listTrials(cmd *cobra.Command, args []string) error {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)

	if catalogPath != "" {
		cat, err := catalog.Open(catalogPath)
		if err != nil {
			return err
		}
		defer cat.Close()

		entries, err := cat.List()
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			fmt.Println("no trials found")
			return nil
		}

		fmt.Fprintln(w, "RUN\tK\tCOUNT\tRECORDS\tELAPSED\tSTARTED\tFILE")
		for _, e := range entries {
			fmt.Fprintf(w, "%s\t%.3f\t%d\t%d\t%.2fs\t%s\t%s\n",
				shortID(e.RunID),
				e.K,
				e.Count,
				e.Records,
				e.Elapsed,
				e.StartedAt.Local().Format("2006-01-02 15:04:05"),
				e.File,
			)
		}
		return w.Flush()
	}

	st := storage.New(dataDir)
	trials, err := st.List()
	if err != nil {
		return err
	}
	if len(trials) == 0 {
		fmt.Println("no trials found")
		return nil
	}

	fmt.Fprintln(w, "K\tCOUNT\tSIZE\tFILE")
	for _, t := range trials {
		fmt.Fprintf(w, "%.3f\t%d\t%d\t%s\n", t.K, t.Count, t.Size, filepath.Base(t.Path))
	}
	return w.Flush()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func plotTrial(cmd *cobra.Command, args []string) error {
	path := args[0]
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) && !filepath.IsAbs(path) {
		path = filepath.Join(dataDir, path)
	}

	trial, err := storage.ReadTrial(path)
	if err != nil {
		return err
	}
	if len(trial.Times) == 0 {
		return fmt.Errorf("no data to plot")
	}

	fmt.Printf("trial: k=%.3f count=%d\n", trial.K, trial.Count)
	fmt.Printf("samples: %d\n", len(trial.Times))
	fmt.Printf("duration: %.3fs\n\n", trial.Duration())

	numJoint := len(trial.Torques[0])
	for _, j := range joints {
		if j < 0 || j >= numJoint {
			return fmt.Errorf("joint %d out of range [0, %d)", j, numJoint)
		}
		graph := asciigraph.Plot(trial.Joint(j),
			asciigraph.Height(10),
			asciigraph.Width(80),
			asciigraph.Caption(fmt.Sprintf("joint %d torque", j)),
		)
		fmt.Println(graph)
		fmt.Println()
	}
	return nil
}

func writeConfig(cmd *cobra.Command, args []string) error {
	path := "autosim.yaml"
	if len(args) > 0 {
		path = args[0]
	}

	cfg := config.DefaultConfig()
	if preset != "" {
		cfg = config.GetPreset(preset)
		if cfg == nil {
			return fmt.Errorf("unknown preset: %s (available: %v)", preset, config.ListPresets())
		}
	}
	if err := config.Save(path, cfg); err != nil {
		return err
	}
	fmt.Printf("wrote %s\n", path)
	return nil
}
