package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/mwiater/tvmbench/internal/frameworks"
	"github.com/mwiater/tvmbench/internal/logging"
	"github.com/mwiater/tvmbench/internal/target"
)

// CompileExport resolves the target, infers types, builds at OptLevel and
// exports the library. The archive is named after the runner's job, so a
// batchSize that differs from the job is only logged.
func (r *Runner) CompileExport(ctx context.Context, mod frameworks.Module, targetStr string, batchSize int) (frameworks.Library, string, error) {
	desc, err := target.Resolve(targetStr)
	if err != nil {
		return frameworks.Library{}, "", err
	}
	if missing := target.MissingHostFeatures(desc); len(missing) > 0 {
		logging.LogEvent("warning: host CPU lacks %s required by target %q; the benchmark may fail", strings.Join(missing, ","), desc.String())
	}
	if batchSize != r.job.BatchSize {
		logging.LogEvent("warning: compiling for batch %d but archive is named for batch %d", batchSize, r.job.BatchSize)
	}

	typed, err := r.fw.ApplyPasses(ctx, mod, frameworks.PassRequest{
		Passes:   []frameworks.Pass{{Name: frameworks.PassInferType}},
		OptLevel: OptLevel,
	})
	if err != nil {
		return frameworks.Library{}, "", fmt.Errorf("infer type: %w", err)
	}

	lib, err := r.fw.Build(ctx, typed, frameworks.BuildRequest{Target: desc.String(), OptLevel: OptLevel})
	if err != nil {
		return frameworks.Library{}, "", fmt.Errorf("build: %w", err)
	}

	if err := os.MkdirAll(r.opts.OutputDir, 0o755); err != nil {
		return frameworks.Library{}, "", fmt.Errorf("create output dir: %w", err)
	}
	archive, err := filepath.Abs(filepath.Join(r.opts.OutputDir, r.job.ArtifactName()))
	if err != nil {
		return frameworks.Library{}, "", err
	}
	if err := r.fw.Export(ctx, lib, archive); err != nil {
		return frameworks.Library{}, "", fmt.Errorf("export %s: %w", archive, err)
	}
	logging.LogEvent("exported %s for target %q", archive, desc.String())
	return lib, archive, nil
}
