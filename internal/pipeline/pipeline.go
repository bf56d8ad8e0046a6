// Package pipeline drives one model through load, trace, import, optional
// layout conversion, compile/export and latency measurement.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/mwiater/tvmbench/internal/benchmark"
	"github.com/mwiater/tvmbench/internal/frameworks"
	"github.com/mwiater/tvmbench/internal/logging"
	"github.com/mwiater/tvmbench/internal/modelstore"
	"github.com/mwiater/tvmbench/internal/tensor"
	"github.com/mwiater/tvmbench/internal/timer"
)

const (
	// InputName is the single graph input declared at import and bound at
	// inference.
	InputName = "input0"
	// OptLevel is used for every pass sequence and build.
	OptLevel = 3

	LayoutNCHW = "NCHW"
	LayoutNHWC = "NHWC"

	TimerNative = "native"
	TimerWall   = "wall"

	// ScopeWorker and ScopeRoundTrip say what a latency sample covers.
	ScopeWorker    = "in-worker evaluator"
	ScopeRoundTrip = "client round trip, includes worker IPC"

	// native evaluator settings
	evaluatorMinRepeatMs = 500
	evaluatorRepeat      = 5
	evaluatorNumber      = 10
)

// ErrInvalidLayout is returned for layouts other than NCHW and NHWC.
var ErrInvalidLayout = errors.New("invalid layout")

var (
	inspectState = modelstore.Inspect
	newRunID     = uuid.NewString
	now          = time.Now
)

// TimerScope describes what a sample taken with mode measures.
func TimerScope(mode string) string {
	if mode == TimerWall {
		return ScopeRoundTrip
	}
	return ScopeWorker
}

// Job fixes the model and batch size of an invocation. The archive name is
// derived from it.
type Job struct {
	Model     string
	BatchSize int
}

// ArtifactName returns "{model}_{batch}.tar".
func (j Job) ArtifactName() string {
	return modelstore.DirName(j.Model, j.BatchSize) + ".tar"
}

// ImageSize returns the square input resolution a model expects.
func ImageSize(model string) int {
	if model == "inception_v3" {
		return 299
	}
	return 224
}

// ValidateLayout accepts NCHW and NHWC.
func ValidateLayout(layout string) error {
	switch layout {
	case LayoutNCHW, LayoutNHWC:
		return nil
	}
	return fmt.Errorf("%w: %q (want %s or %s)", ErrInvalidLayout, layout, LayoutNCHW, LayoutNHWC)
}

// Options configures a Runner.
type Options struct {
	ModelRoot string
	OutputDir string
	// WorkDir holds the synthetic .npy inputs. A temporary directory is
	// created and removed when empty.
	WorkDir   string
	TimerMode string
	Timer     timer.Options
	Seed      int64
	Out       io.Writer
	Observer  Observer
}

// Runner executes the pipeline against a Framework.
type Runner struct {
	fw     frameworks.Framework
	job    Job
	opts   Options
	rng    *rand.Rand
	stages []benchmark.StageTiming
}

// NewRunner returns a Runner for job.
func NewRunner(fw frameworks.Framework, job Job, opts Options) *Runner {
	if opts.Out == nil {
		opts.Out = os.Stdout
	}
	if opts.ModelRoot == "" {
		opts.ModelRoot = "."
	}
	if opts.OutputDir == "" {
		opts.OutputDir = "."
	}
	if opts.TimerMode == "" {
		opts.TimerMode = TimerNative
	}
	if opts.Seed == 0 {
		opts.Seed = now().UnixNano()
	}
	return &Runner{
		fw:   fw,
		job:  job,
		opts: opts,
		rng:  rand.New(rand.NewSource(opts.Seed)),
	}
}

// Benchmark runs every stage for one model and prints the export and
// latency lines. The layout is checked before anything else.
func (r *Runner) Benchmark(ctx context.Context, modelName string, imgSize, batchSize int, target, dtype, layout string) (*benchmark.Result, error) {
	if err := ValidateLayout(layout); err != nil {
		return nil, err
	}
	if batchSize < 1 || imgSize < 1 {
		return nil, fmt.Errorf("invalid input dimensions: batch %d, size %d", batchSize, imgSize)
	}
	if dtype == "" {
		dtype = tensor.Float32
	}

	workDir, cleanup, err := r.workDir()
	if err != nil {
		return nil, err
	}
	defer cleanup()

	r.stages = r.stages[:0]
	shape := tensor.ImageShape(batchSize, imgSize)
	result := &benchmark.Result{
		RunID:      newRunID(),
		Timestamp:  now().UTC(),
		Model:      modelName,
		BatchSize:  batchSize,
		ImageSize:  imgSize,
		InputShape: shape,
		DType:      dtype,
		Layout:     layout,
		Target:     target,
		TimerMode:  r.opts.TimerMode,
		TimerScope: TimerScope(r.opts.TimerMode),
		Seed:       r.opts.Seed,
		Frameworks: r.fw.Info().Versions,
	}
	logging.LogEvent("run %s: model=%s batch=%d size=%d layout=%s target=%q", result.RunID, modelName, batchSize, imgSize, layout, target)

	var (
		model frameworks.Model
		inv   *modelstore.Inventory
	)
	if err := r.stage(StageLoad, func() (err error) {
		model, inv, err = r.LoadModel(ctx, modelName, batchSize)
		return err
	}); err != nil {
		return nil, err
	}
	result.Parameters = len(inv.Parameters)
	result.ParameterElements = inv.TotalElements

	var graph frameworks.Graph
	if err := r.stage(StageTrace, func() error {
		example, err := r.writeInput(workDir, "trace_input.npy", "", shape, 0, 255)
		if err != nil {
			return err
		}
		if graph, err = r.fw.Trace(ctx, model, example); err != nil {
			return fmt.Errorf("trace: %w", err)
		}
		return nil
	}); err != nil {
		return nil, err
	}

	var mod frameworks.Module
	if err := r.stage(StageImport, func() (err error) {
		inputs := []frameworks.InputInfo{{Name: InputName, Shape: shape}}
		if mod, err = r.fw.FromPyTorch(ctx, graph, inputs, dtype); err != nil {
			return fmt.Errorf("import: %w", err)
		}
		return nil
	}); err != nil {
		return nil, err
	}

	if layout == LayoutNHWC {
		if err := r.stage(StageLayout, func() (err error) {
			mod, err = ConvertToNHWC(ctx, r.fw, mod)
			return err
		}); err != nil {
			return nil, err
		}
	} else {
		r.notify(Event{Stage: StageLayout, Status: StatusSkipped, Detail: layout})
	}

	var lib frameworks.Library
	if err := r.stage(StageCompile, func() (err error) {
		lib, result.Artifact, err = r.CompileExport(ctx, mod, target, batchSize)
		return err
	}); err != nil {
		return nil, err
	}
	benchmark.PrintExportDone(r.opts.Out, filepath.Base(result.Artifact))

	if err := r.stage(StageMeasure, func() (err error) {
		result.SamplesMs, err = r.measure(ctx, lib, workDir, shape)
		return err
	}); err != nil {
		return nil, err
	}

	summary, err := benchmark.Summarize(result.SamplesMs)
	if err != nil {
		return nil, fmt.Errorf("summarize latency: %w", err)
	}
	result.Summary = summary
	result.Stages = append([]benchmark.StageTiming(nil), r.stages...)
	benchmark.PrintLatency(r.opts.Out, modelName, batchSize, summary.MeanMs)
	return result, nil
}

// LoadModel resolves {root}/{model}_{batch}, summarises the state dict and
// asks the framework to load the model with that state applied.
func (r *Runner) LoadModel(ctx context.Context, modelName string, batchSize int) (frameworks.Model, *modelstore.Inventory, error) {
	loc := modelstore.Resolve(r.opts.ModelRoot, modelName, batchSize)
	inv, err := inspectState(loc)
	if err != nil {
		return frameworks.Model{}, nil, fmt.Errorf("load model %s: %w", modelName, err)
	}
	logging.LogDebug("state dict %s: %d tensors, %d elements", loc.StatePath, len(inv.Parameters), inv.TotalElements)

	modelPath, err := filepath.Abs(loc.ModelPath)
	if err != nil {
		return frameworks.Model{}, nil, err
	}
	statePath, err := filepath.Abs(loc.StatePath)
	if err != nil {
		return frameworks.Model{}, nil, err
	}
	m, err := r.fw.LoadModel(ctx, modelPath, statePath)
	if err != nil {
		return frameworks.Model{}, nil, fmt.Errorf("load model %s: %w", modelName, err)
	}
	return m, inv, nil
}

// ConvertToNHWC removes unused functions and converts conv2d to NHWC.
func ConvertToNHWC(ctx context.Context, fw frameworks.Framework, mod frameworks.Module) (frameworks.Module, error) {
	req := frameworks.PassRequest{
		Passes: []frameworks.Pass{
			{Name: frameworks.PassRemoveUnusedFunctions},
			{
				Name:           frameworks.PassConvertLayout,
				DesiredLayouts: map[string][]string{"nn.conv2d": {LayoutNHWC, "default"}},
			},
		},
		OptLevel: OptLevel,
	}
	out, err := fw.ApplyPasses(ctx, mod, req)
	if err != nil {
		return frameworks.Module{}, fmt.Errorf("convert layout: %w", err)
	}
	return out, nil
}

func (r *Runner) measure(ctx context.Context, lib frameworks.Library, workDir string, shape []int) ([]float64, error) {
	ex, err := r.fw.CreateExecutor(ctx, lib, frameworks.DeviceCPU)
	if err != nil {
		return nil, fmt.Errorf("create executor: %w", err)
	}
	input, err := r.writeInput(workDir, "bench_input.npy", InputName, shape, 0, 1)
	if err != nil {
		return nil, err
	}
	if err := r.fw.SetInput(ctx, ex, input); err != nil {
		return nil, fmt.Errorf("set input: %w", err)
	}

	switch r.opts.TimerMode {
	case TimerWall:
		logging.LogEvent("wall timer: samples cover the %s", ScopeRoundTrip)
		samples, err := timer.Measure(func() error { return r.fw.Run(ctx, ex) }, r.opts.Timer)
		if err != nil {
			return nil, fmt.Errorf("run: %w", err)
		}
		return samples, nil
	case TimerNative:
		req := frameworks.TimerRequest{
			Func:        "run",
			Number:      evaluatorNumber,
			Repeat:      evaluatorRepeat,
			MinRepeatMs: evaluatorMinRepeatMs,
		}
		if r.opts.Timer.Number > 0 {
			req.Number = r.opts.Timer.Number
		}
		if r.opts.Timer.Repeat > 0 {
			req.Repeat = r.opts.Timer.Repeat
		}
		if r.opts.Timer.MinRepeat > 0 {
			req.MinRepeatMs = int(r.opts.Timer.MinRepeat / time.Millisecond)
		}
		secs, err := r.fw.TimeEvaluator(ctx, ex, req)
		if err != nil {
			return nil, fmt.Errorf("time evaluator: %w", err)
		}
		samples := make([]float64, len(secs))
		for i, s := range secs {
			samples[i] = s * 1000
		}
		return samples, nil
	default:
		return nil, fmt.Errorf("unknown timer mode %q", r.opts.TimerMode)
	}
}

func (r *Runner) writeInput(dir, file, name string, shape []int, lo, hi float32) (frameworks.TensorRef, error) {
	t, err := tensor.Uniform(shape, lo, hi, r.rng)
	if err != nil {
		return frameworks.TensorRef{}, err
	}
	path := filepath.Join(dir, file)
	if err := t.WriteNPY(path); err != nil {
		return frameworks.TensorRef{}, err
	}
	return frameworks.TensorRef{Name: name, Path: path, Shape: t.Shape, DType: t.DType}, nil
}

func (r *Runner) workDir() (string, func(), error) {
	if r.opts.WorkDir != "" {
		if err := os.MkdirAll(r.opts.WorkDir, 0o755); err != nil {
			return "", nil, fmt.Errorf("create work dir: %w", err)
		}
		dir, err := filepath.Abs(r.opts.WorkDir)
		return dir, func() {}, err
	}
	dir, err := os.MkdirTemp("", "tvmbench-")
	if err != nil {
		return "", nil, fmt.Errorf("create work dir: %w", err)
	}
	return dir, func() { _ = os.RemoveAll(dir) }, nil
}
