package tvmbench

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mwiater/tvmbench/internal/appconfig"
	"github.com/mwiater/tvmbench/internal/benchmark"
	"github.com/mwiater/tvmbench/internal/frameworks"
	"github.com/mwiater/tvmbench/internal/logging"
	"github.com/mwiater/tvmbench/internal/modelstore"
	"github.com/mwiater/tvmbench/internal/pipeline"
	"github.com/spf13/viper"
)

func resetFlag(cmdFlag string) {
	flag := rootCmd.PersistentFlags().Lookup(cmdFlag)
	if flag == nil {
		flag = rootCmd.Flags().Lookup(cmdFlag)
	}
	if flag == nil {
		return
	}
	_ = flag.Value.Set(flag.DefValue)
	flag.Changed = false
}

func resetAllFlags() {
	for name := range flagKeys {
		resetFlag(name)
	}
}

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tvmbench.json")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func useConfig(t *testing.T, path string) {
	t.Helper()
	prevCfgFile := cfgFile
	cfgFile = path
	viper.SetConfigFile(path)
	resetAllFlags()
	t.Cleanup(func() {
		cfgFile = prevCfgFile
		viper.SetConfigFile(prevCfgFile)
		resetAllFlags()
		_ = logging.Close()
	})
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var buf bytes.Buffer
	rootCmd.SetOut(&buf)
	rootCmd.SetErr(&buf)
	rootCmd.SetArgs(args)
	t.Cleanup(func() { rootCmd.SetArgs([]string{}) })
	_, err := rootCmd.ExecuteC()
	return buf.String(), err
}

func TestPersistentPreRunEMergesFileAndFlags(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "tvmbench.log")
	configPath := writeTempConfig(t, `{"model": "vgg16", "timer": {"mode": "wall"}}`)
	useConfig(t, configPath)

	_ = rootCmd.Flags().Set("batchsize", "4")
	_ = rootCmd.PersistentFlags().Set("debug", "true")
	_ = rootCmd.PersistentFlags().Set("logFile", logPath)

	if err := rootCmd.PersistentPreRunE(rootCmd, []string{}); err != nil {
		t.Fatalf("PersistentPreRunE error: %v", err)
	}

	cfg := GetConfig()
	if cfg == nil || cfg.ConfigPath != configPath {
		t.Fatalf("expected config loaded with path %s, got %+v", configPath, cfg)
	}
	if cfg.Model != "vgg16" || cfg.Timer.Mode != appconfig.TimerWall {
		t.Fatalf("expected file values, got %+v", cfg)
	}
	if cfg.BatchSize != 4 || !cfg.Debug || cfg.LogFile != logPath {
		t.Fatalf("expected flag values to flow into config: %+v", cfg)
	}
	if cfg.Timer.Number != 10 || cfg.Timer.MinRepeatMs != 500 || cfg.Worker.Command != appconfig.DefaultWorkerCommand {
		t.Fatalf("expected defaults for unset keys, got %+v", cfg)
	}
	if _, err := os.Stat(logPath); err != nil {
		t.Fatalf("expected log file to be created: %v", err)
	}
}

func TestPersistentPreRunERejectsSchemaViolations(t *testing.T) {
	useConfig(t, writeTempConfig(t, `{"hosts": []}`))
	if err := rootCmd.PersistentPreRunE(rootCmd, []string{}); err == nil {
		t.Fatal("expected schema error for unknown key")
	}
}

func TestPersistentPreRunERejectsInvalidValues(t *testing.T) {
	useConfig(t, writeTempConfig(t, `{}`))
	_ = rootCmd.Flags().Set("batchsize", "0")
	if err := rootCmd.PersistentPreRunE(rootCmd, []string{}); err == nil || !strings.Contains(err.Error(), "batchsize") {
		t.Fatalf("expected batchsize error, got %v", err)
	}
}

func TestShowConfigCommandOutput(t *testing.T) {
	configPath := writeTempConfig(t, `{"target": "llvm -mcpu=skylake-avx512"}`)
	useConfig(t, configPath)

	out, err := execute(t, "show", "config")
	if err != nil {
		t.Fatalf("ExecuteC error: %v", err)
	}
	if !strings.Contains(out, "Config file: "+configPath) {
		t.Fatalf("expected config file path in output, got %s", out)
	}
	if !strings.Contains(out, "Target:          llvm -mcpu=skylake-avx512") {
		t.Fatalf("expected target in output, got %s", out)
	}
}

func TestResolveTargetCommand(t *testing.T) {
	useConfig(t, writeTempConfig(t, `{}`))
	out, err := execute(t, "resolve", "target", "arm")
	if err != nil {
		t.Fatalf("ExecuteC error: %v", err)
	}
	if !strings.Contains(out, "llvm -keys=arm_cpu,cpu -device=arm_cpu -model=unknown") {
		t.Fatalf("unexpected output %s", out)
	}

	if _, err := execute(t, "resolve", "target", "cuda"); err == nil {
		t.Fatal("expected unsupported target error")
	}
}

func TestInspectModelMissingFiles(t *testing.T) {
	useConfig(t, writeTempConfig(t, `{"modelRoot": "`+filepath.ToSlash(t.TempDir())+`"}`))
	_, err := execute(t, "inspect", "model", "resnet50", "2")
	if !errors.Is(err, modelstore.ErrModelNotFound) {
		t.Fatalf("expected ErrModelNotFound, got %v", err)
	}
	if _, err := execute(t, "inspect", "model", "resnet50", "zero"); err == nil {
		t.Fatal("expected invalid batch error")
	}
}

type stubFramework struct {
	frameworks.Framework
	closed bool
}

func (s *stubFramework) Info() frameworks.Info { return frameworks.Info{Name: "stub"} }

func (s *stubFramework) Close() error {
	s.closed = true
	return nil
}

func stubStart(t *testing.T) (*stubFramework, *int) {
	t.Helper()
	fw := &stubFramework{}
	calls := 0
	prev := startFramework
	startFramework = func(context.Context, *appconfig.Config) (frameworks.Framework, error) {
		calls++
		return fw, nil
	}
	t.Cleanup(func() { startFramework = prev })
	return fw, &calls
}

func TestBenchmarkRejectsLayoutBeforeStartingWorker(t *testing.T) {
	useConfig(t, writeTempConfig(t, `{}`))
	_, calls := stubStart(t)

	_, err := execute(t, "--layout", "NCDHW")
	if !errors.Is(err, pipeline.ErrInvalidLayout) {
		t.Fatalf("expected ErrInvalidLayout, got %v", err)
	}
	if *calls != 0 {
		t.Fatalf("worker started %d times", *calls)
	}
}

func TestBenchmarkMissingModelClosesWorker(t *testing.T) {
	useConfig(t, writeTempConfig(t, `{}`))
	fw, calls := stubStart(t)

	_, err := execute(t, "--model-root", t.TempDir(), "--model", "resnet50")
	if !errors.Is(err, modelstore.ErrModelNotFound) {
		t.Fatalf("expected ErrModelNotFound, got %v", err)
	}
	if *calls != 1 || !fw.closed {
		t.Fatalf("expected worker started once and closed, calls=%d closed=%v", *calls, fw.closed)
	}
}

func TestBenchmarkReportsWorkerStartFailure(t *testing.T) {
	useConfig(t, writeTempConfig(t, `{}`))
	prev := startFramework
	startFramework = func(context.Context, *appconfig.Config) (frameworks.Framework, error) {
		return nil, errors.New("no worker")
	}
	t.Cleanup(func() { startFramework = prev })

	_, err := execute(t)
	if err == nil || !strings.Contains(err.Error(), "start framework worker") {
		t.Fatalf("expected start error, got %v", err)
	}
}

func TestPrintResultReportAndJSON(t *testing.T) {
	result := &benchmark.Result{
		RunID:      "run-7",
		Model:      "resnet50",
		BatchSize:  1,
		TimerMode:  pipeline.TimerWall,
		TimerScope: pipeline.TimerScope(pipeline.TimerWall),
		Summary:    benchmark.Summary{Count: 2, MeanMs: 11, MinMs: 10, MaxMs: 12, P50Ms: 10, P90Ms: 12, P99Ms: 12},
	}
	cfg := appconfig.Defaults()

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	t.Cleanup(func() { rootCmd.SetOut(nil) })

	if err := printResult(rootCmd, &cfg, result); err != nil {
		t.Fatal(err)
	}
	if out.Len() != 0 {
		t.Fatalf("expected nothing without --report, got %q", out.String())
	}

	cfg.Report = true
	if err := printResult(rootCmd, &cfg, result); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), "Run: run-7") || !strings.Contains(out.String(), "includes worker IPC") {
		t.Fatalf("unexpected report:\n%s", out.String())
	}

	out.Reset()
	cfg.JSONMode = true
	if err := printResult(rootCmd, &cfg, result); err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(strings.TrimSpace(out.String()), "{") || !strings.Contains(out.String(), `"timerScope"`) {
		t.Fatalf("expected JSON document, got %q", out.String())
	}
}
