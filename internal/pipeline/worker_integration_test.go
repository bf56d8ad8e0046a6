package pipeline

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/mwiater/tvmbench/internal/frameworks/bridge"
	"github.com/mwiater/tvmbench/internal/modelstore"
	"github.com/mwiater/tvmbench/internal/timer"
)

const tinyModelScript = `import sys, torch
m = torch.nn.Sequential(
    torch.nn.Conv2d(3, 4, 3), torch.nn.ReLU(),
    torch.nn.AdaptiveAvgPool2d(1), torch.nn.Flatten(), torch.nn.Linear(4, 2))
torch.save(m, sys.argv[1])
torch.save(m.state_dict(), sys.argv[2])
`

// pythonWithFrameworks returns a python3 that can import torch and tvm, or
// skips the test.
func pythonWithFrameworks(t *testing.T) string {
	t.Helper()
	if testing.Short() {
		t.Skip("worker integration skipped in -short mode")
	}
	python, err := exec.LookPath("python3")
	if err != nil {
		t.Skip("python3 not in PATH")
	}
	if out, err := exec.Command(python, "-c", "import torch, tvm").CombinedOutput(); err != nil {
		t.Skipf("torch and tvm not importable: %s", strings.TrimSpace(string(out)))
	}
	return python
}

func TestBenchmarkThroughPythonWorker(t *testing.T) {
	python := pythonWithFrameworks(t)
	script, err := filepath.Abs(filepath.Join("..", "..", "worker", "tvmbench_worker.py"))
	if err != nil {
		t.Fatal(err)
	}

	root := t.TempDir()
	loc := modelstore.Resolve(root, "tiny", 1)
	if err := os.MkdirAll(loc.Dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if out, err := exec.Command(python, "-c", tinyModelScript, loc.ModelPath, loc.StatePath).CombinedOutput(); err != nil {
		t.Fatalf("save tiny model: %v\n%s", err, out)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()
	client, err := bridge.Start(ctx, bridge.Options{
		Command:     python,
		Args:        []string{script},
		InitTimeout: 2 * time.Minute,
	})
	if err != nil {
		t.Fatalf("start worker: %v", err)
	}
	defer func() {
		if err := client.Close(); err != nil {
			t.Errorf("close worker: %v", err)
		}
	}()
	if client.Info().Versions["tvm"] == "" {
		t.Fatalf("expected tvm version from initialize, got %+v", client.Info())
	}

	outDir := t.TempDir()
	var out bytes.Buffer
	r := NewRunner(client, Job{Model: "tiny", BatchSize: 1}, Options{
		ModelRoot: root,
		OutputDir: outDir,
		WorkDir:   t.TempDir(),
		Timer:     timer.Options{Repeat: 2, Number: 1, MinRepeat: 10 * time.Millisecond},
		Out:       &out,
	})
	res, err := r.Benchmark(ctx, "tiny", 32, 1, "llvm", "float32", LayoutNHWC)
	if err != nil {
		t.Fatalf("Benchmark: %v", err)
	}

	if _, err := os.Stat(filepath.Join(outDir, "tiny_1.tar")); err != nil {
		t.Fatalf("expected exported archive: %v", err)
	}
	if !strings.Contains(out.String(), "TVM tiny latency for batch 1 : ") {
		t.Fatalf("missing latency line:\n%s", out.String())
	}
	if len(res.SamplesMs) != 2 || res.Summary.MeanMs <= 0 {
		t.Fatalf("unexpected samples %+v", res.Summary)
	}
	if res.Parameters != 4 {
		t.Fatalf("expected 4 state tensors, got %d", res.Parameters)
	}
}
