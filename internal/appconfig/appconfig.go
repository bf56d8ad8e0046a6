// internal/appconfig/appconfig.go
// Package appconfig manages loading and interpreting application configuration.
package appconfig

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	// DefaultConfigPath is the optional configuration file read when --config is not given.
	DefaultConfigPath = "config/tvmbench.json"
	// DefaultModel is the model benchmarked when --model is omitted.
	DefaultModel = "resnet50"
	// DefaultBatchSize is the batch dimension of the synthetic input.
	DefaultBatchSize = 1
	// DefaultTarget is the compiler target string.
	DefaultTarget = "llvm -mcpu=core-avx2"
	// DefaultLayout keeps the imported channel-first layout.
	DefaultLayout = "NCHW"
	// DefaultDType is the element type declared to the importer.
	DefaultDType = "float32"
	// DefaultWorkerCommand is the framework worker executable looked up in PATH.
	DefaultWorkerCommand = "tvmbench-worker"
	// DefaultResultsDir is where --save writes result JSON.
	DefaultResultsDir = "tvmbenchData/results"

	// TimerNative uses the compiler runtime's own time evaluator.
	TimerNative = "native"
	// TimerWall times individual run calls from tvmbench.
	TimerWall = "wall"

	defaultWorkerInitTimeout = 30 * time.Second
	defaultMinRepeatMs       = 500
	defaultTimerRepeat       = 5
	defaultTimerNumber       = 10
	defaultTimerDryrun       = 3
)

// Config is the fully merged run configuration (flags > file > defaults).
type Config struct {
	Model      string `json:"model" mapstructure:"model"`
	BatchSize  int    `json:"batchsize" mapstructure:"batchsize"`
	Target     string `json:"target" mapstructure:"target"`
	Layout     string `json:"layout" mapstructure:"layout"`
	DType      string `json:"dtype" mapstructure:"dtype"`
	ModelRoot  string `json:"modelRoot" mapstructure:"modelRoot"`
	OutputDir  string `json:"outputDir" mapstructure:"outputDir"`
	Seed       int64  `json:"seed" mapstructure:"seed"`
	Timer      Timer  `json:"timer" mapstructure:"timer"`
	Worker     Worker `json:"worker" mapstructure:"worker"`
	Debug      bool   `json:"debug" mapstructure:"debug"`
	JSONMode   bool   `json:"jsonMode" mapstructure:"jsonMode"`
	Save       bool   `json:"save" mapstructure:"save"`
	TUI        bool   `json:"tui" mapstructure:"tui"`
	Report     bool   `json:"report" mapstructure:"report"`
	ResultsDir string `json:"resultsDir,omitempty" mapstructure:"resultsDir"`
	LogFile    string `json:"logFile,omitempty" mapstructure:"logFile"`
	ConfigPath string `json:"-" mapstructure:"-"`
}

// Timer configures latency measurement.
type Timer struct {
	Mode        string `json:"mode" mapstructure:"mode"`
	MinRepeatMs int    `json:"minRepeatMs" mapstructure:"minRepeatMs"`
	Repeat      int    `json:"repeat" mapstructure:"repeat"`
	Number      int    `json:"number" mapstructure:"number"`
	Dryrun      int    `json:"dryrun" mapstructure:"dryrun"`
}

// Worker configures the framework worker process.
type Worker struct {
	Command     string   `json:"command" mapstructure:"command"`
	Args        []string `json:"args,omitempty" mapstructure:"args"`
	Env         []string `json:"env,omitempty" mapstructure:"env"`
	InitTimeout int      `json:"initTimeout,omitempty" mapstructure:"initTimeout"`
}

// Defaults returns the configuration used when neither flags nor a file
// override a value.
func Defaults() Config {
	return Config{
		Model:     DefaultModel,
		BatchSize: DefaultBatchSize,
		Target:    DefaultTarget,
		Layout:    DefaultLayout,
		DType:     DefaultDType,
		ModelRoot: ".",
		OutputDir: ".",
		Timer: Timer{
			Mode:        TimerNative,
			MinRepeatMs: defaultMinRepeatMs,
			Repeat:      defaultTimerRepeat,
			Number:      defaultTimerNumber,
			Dryrun:      defaultTimerDryrun,
		},
		Worker: Worker{
			Command:     DefaultWorkerCommand,
			InitTimeout: int(defaultWorkerInitTimeout.Seconds()),
		},
	}
}

// Validate reports configuration errors that make a run pointless. The
// layout is deliberately not checked here; the pipeline rejects it.
func (c Config) Validate() error {
	var problems []string
	if strings.TrimSpace(c.Model) == "" {
		problems = append(problems, "model must not be empty")
	}
	if c.BatchSize < 1 {
		problems = append(problems, fmt.Sprintf("batchsize must be at least 1, got %d", c.BatchSize))
	}
	if strings.TrimSpace(c.Target) == "" {
		problems = append(problems, "target must not be empty")
	}
	switch c.Timer.Mode {
	case TimerNative, TimerWall:
	default:
		problems = append(problems, fmt.Sprintf("timer mode must be %q or %q, got %q", TimerNative, TimerWall, c.Timer.Mode))
	}
	if c.Timer.MinRepeatMs < 0 || c.Timer.Repeat < 0 || c.Timer.Number < 0 || c.Timer.Dryrun < 0 {
		problems = append(problems, "timer values must not be negative")
	}
	if len(problems) > 0 {
		return errors.New("invalid configuration: " + strings.Join(problems, "; "))
	}
	return nil
}

// WorkerInitTimeout returns how long the worker handshake may take.
func (c Config) WorkerInitTimeout() time.Duration {
	if c.Worker.InitTimeout <= 0 {
		return defaultWorkerInitTimeout
	}
	return time.Duration(c.Worker.InitTimeout) * time.Second
}

// MinRepeat returns the minimum measurement window.
func (c Config) MinRepeat() time.Duration {
	return time.Duration(c.Timer.MinRepeatMs) * time.Millisecond
}

// ResultsPath returns the directory for saved results.
func (c Config) ResultsPath() string {
	if dir := strings.TrimSpace(c.ResultsDir); dir != "" {
		return dir
	}
	return DefaultResultsDir
}
