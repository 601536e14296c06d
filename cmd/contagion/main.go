// cmd/contagion/main.go
package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gdamore/tcell/v2"

	"github.com/opd-ai/go-contagion/pkg/config"
	"github.com/opd-ai/go-contagion/pkg/engine"
	"github.com/opd-ai/go-contagion/pkg/entity"
	"github.com/opd-ai/go-contagion/pkg/logging"
	"github.com/opd-ai/go-contagion/pkg/render"
)

func main() {
	logger := logging.NewLogger()
	ctx := context.Background()

	configPath := flag.String("config", "", "Path to a simulation options file")
	createDefault := flag.Bool("default", false, "Write the default options to -config and exit")
	preset := flag.String("preset", "", "Preset to run when no options file is given")
	seed := flag.Uint64("seed", 0, "Random seed (0 uses CONTAGION_SEED)")
	tui := flag.Bool("tui", false, "Show the simulation in the terminal")
	chartPath := flag.String("chart", "", "Write the metrics diagram as PNG to this path")
	realtime := flag.Bool("realtime", false, "Advance with wall-clock time instead of fixed steps")
	flag.Parse()

	env, err := config.LoadConfigFromEnv()
	if err != nil {
		logger.Error(ctx, "Failed to load environment configuration", err)
		os.Exit(1)
	}

	if *createDefault {
		if *configPath == "" {
			logger.Error(ctx, "Missing -config path for -default", nil)
			os.Exit(1)
		}
		opts := config.DefaultOptions()
		if err := config.SaveOptions(&opts, *configPath); err != nil {
			logger.Error(ctx, "Failed to create default options", err, "config_path", *configPath)
			os.Exit(1)
		}
		logger.Info(ctx, "Created default options file", "config_path", *configPath)
		return
	}

	if *preset == "" {
		*preset = env.Preset
	}
	if *seed == 0 {
		*seed = env.Seed
	}

	opts, err := loadOptions(*configPath, *preset)
	if err != nil {
		logger.Error(ctx, "Failed to load simulation options", err, "config_path", *configPath, "preset", *preset)
		os.Exit(1)
	}
	cfg := config.New(opts)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	runID := logging.NewRunID()
	ctx = logging.WithRunID(ctx, runID)

	// The terminal view owns stdout and stderr while it runs
	engineLogger := logger
	if *tui {
		engineLogger = logging.Discard()
	}
	sim := engine.NewSimulation(cfg,
		engine.WithSeed(*seed, *seed),
		engine.WithLogger(engineLogger.With("run_id", runID)),
	)
	runner := engine.NewRunner(sim,
		engine.WithRunID(runID),
		engine.WithSampleSteps(env.SampleSteps),
		engine.WithRunnerLogger(engineLogger),
	)

	logger.Info(ctx, "Starting simulation",
		"preset", *preset,
		"seed", *seed,
		"points", cfg.Behavior.NumberOfPoints,
		"duration", cfg.SimulationDuration,
	)

	interval := time.Second / time.Duration(env.TickRate)
	switch {
	case *tui:
		err = runTerminal(ctx, runner, interval, env.SpeedMultiplier)
	case *realtime || env.Realtime:
		err = runner.Run(ctx, interval, env.SpeedMultiplier, headless(engineLogger))
	default:
		_, err = runner.Drain(engine.MaxTimeProgress, headless(engineLogger))
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Error(ctx, "Simulation failed", err)
		os.Exit(1)
	}

	final := runner.LastFrame()
	logger.Info(ctx, "Final metrics",
		"time", final.Time,
		"finished", !final.Running,
		"susceptible", final.Metrics.Susceptible,
		"exposed", final.Metrics.Exposed,
		"infectious", final.Metrics.Infectious,
		"immune", final.Metrics.Immune,
		"dead", final.Metrics.Dead,
	)

	if *chartPath != "" {
		samples := runner.Timeline().Samples()
		if err := render.SaveChart(*chartPath, samples, render.DefaultChartOptions(cfg.SimulationDuration)); err != nil {
			logger.Error(ctx, "Failed to write chart", err, "path", *chartPath)
			os.Exit(1)
		}
		logger.Info(ctx, "Wrote metrics chart", "path", *chartPath, "samples", len(samples))
	}
}

// loadOptions reads the options file if given, otherwise the preset, and
// applies the environment overrides
func loadOptions(path, preset string) (config.Options, error) {
	var opts config.Options
	if path != "" {
		loaded, err := config.LoadOptions(path)
		if err != nil {
			return config.Options{}, err
		}
		opts = *loaded
	} else {
		var err error
		if opts, err = config.Preset(preset); err != nil {
			return config.Options{}, err
		}
	}

	if err := config.ApplyEnvironmentOverrides(&opts); err != nil {
		return config.Options{}, err
	}
	return opts, nil
}

// headless counts every frame through a NullRenderer
func headless(logger *logging.Logger) func(engine.Frame) error {
	renderer := render.NewNullRenderer(logger)
	return func(frame engine.Frame) error {
		entity.RenderAll(renderer, frame.Agents)
		return nil
	}
}

// runTerminal shows the run until the user quits. The final frame stays on
// screen after the run finished.
func runTerminal(ctx context.Context, runner *engine.Runner, interval time.Duration, speed float64) error {
	screen, err := tcell.NewScreen()
	if err != nil {
		return err
	}
	viewer, err := render.NewViewer(screen, render.DefaultPalette())
	if err != nil {
		return err
	}
	defer viewer.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-viewer.Quit():
			cancel()
		case <-ctx.Done():
		}
	}()

	err = runner.Run(ctx, interval, speed, func(frame engine.Frame) error {
		viewer.Draw(frame.Time, frame.Metrics, frame.Agents)
		return nil
	})
	if err != nil {
		return err
	}

	<-ctx.Done()
	return nil
}
