package tvmbench

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/k0kubun/pp"
	"github.com/mwiater/tvmbench/internal/appconfig"
	"github.com/mwiater/tvmbench/internal/benchmark"
	"github.com/mwiater/tvmbench/internal/frameworks"
	"github.com/mwiater/tvmbench/internal/frameworks/bridge"
	"github.com/mwiater/tvmbench/internal/logging"
	"github.com/mwiater/tvmbench/internal/pipeline"
	"github.com/mwiater/tvmbench/internal/timer"
	"github.com/mwiater/tvmbench/internal/tui"
	"github.com/spf13/cobra"
)

var (
	startFramework = func(ctx context.Context, cfg *appconfig.Config) (frameworks.Framework, error) {
		c, err := bridge.Start(ctx, bridge.Options{
			Command:     cfg.Worker.Command,
			Args:        cfg.Worker.Args,
			Env:         cfg.Worker.Env,
			InitTimeout: cfg.WorkerInitTimeout(),
		})
		if err != nil {
			return nil, err
		}
		return c, nil
	}
	runProgress = tui.Run
)

// runBenchmark is the root command's action.
func runBenchmark(cmd *cobra.Command, args []string) error {
	cfg := GetConfig()
	if cfg == nil {
		d := appconfig.Defaults()
		cfg = &d
	}
	// Reject a bad layout before the worker is started.
	if err := pipeline.ValidateLayout(cfg.Layout); err != nil {
		return err
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	fw, err := startFramework(ctx, cfg)
	if err != nil {
		return fmt.Errorf("start framework worker: %w", err)
	}
	defer func() {
		if cerr := fw.Close(); cerr != nil {
			logging.LogEvent("framework worker close: %v", cerr)
		}
	}()
	info := fw.Info()
	logging.LogEvent("framework worker %q ready (%v)", info.Name, info.Versions)

	stdout := cmd.OutOrStdout()
	// With --json stdout carries only the JSON document; with --tui the
	// progress view owns the terminal until the run ends.
	var lines bytes.Buffer
	var lineOut io.Writer = stdout
	switch {
	case cfg.JSONMode:
		lineOut = cmd.ErrOrStderr()
	case cfg.TUI:
		lineOut = &lines
	}

	opts := pipeline.Options{
		ModelRoot: cfg.ModelRoot,
		OutputDir: cfg.OutputDir,
		TimerMode: cfg.Timer.Mode,
		Timer: timer.Options{
			Repeat:    cfg.Timer.Repeat,
			Number:    cfg.Timer.Number,
			Dryrun:    cfg.Timer.Dryrun,
			MinRepeat: cfg.MinRepeat(),
		},
		Seed: cfg.Seed,
		Out:  lineOut,
	}
	job := pipeline.Job{Model: cfg.Model, BatchSize: cfg.BatchSize}
	imgSize := pipeline.ImageSize(cfg.Model)

	var result *benchmark.Result
	bench := func(ctx context.Context, observer pipeline.Observer) error {
		opts.Observer = observer
		runner := pipeline.NewRunner(fw, job, opts)
		res, err := runner.Benchmark(ctx, cfg.Model, imgSize, cfg.BatchSize, cfg.Target, cfg.DType, cfg.Layout)
		result = res
		return err
	}

	if cfg.TUI && !cfg.JSONMode {
		title := fmt.Sprintf("tvmbench %s batch %d (%s, %s)", cfg.Model, cfg.BatchSize, cfg.Layout, cfg.Target)
		err = runProgress(ctx, title, bench)
		_, _ = io.Copy(stdout, &lines)
	} else {
		err = bench(ctx, nil)
	}
	if err != nil {
		return err
	}

	if err := printResult(cmd, cfg, result); err != nil {
		return err
	}
	if cfg.Save {
		path, err := benchmark.WriteResults(cfg.ResultsPath(), result)
		if err != nil {
			return err
		}
		logging.LogEvent("saved result %s", path)
	}
	return nil
}

// printResult writes what follows the latency line: a debug dump on stderr
// and the JSON document or the --report summary on stdout.
func printResult(cmd *cobra.Command, cfg *appconfig.Config, result *benchmark.Result) error {
	if cfg.Debug {
		pp.Fprintln(cmd.ErrOrStderr(), result.Summary)
	}
	if !cfg.JSONMode && !cfg.Report {
		return nil
	}
	return benchmark.PrintReport(cmd.OutOrStdout(), result, cfg.JSONMode)
}
