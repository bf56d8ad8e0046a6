// internal/commands/root.go
package tvmbench

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/mwiater/tvmbench/internal/appconfig"
	"github.com/mwiater/tvmbench/internal/logging"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile       string
	currentConfig *appconfig.Config
	appVersion    = "dev"
	appCommit     = "none"
	appDate       = "unknown"
)

// flagKeys maps command-line flags to their configuration keys.
var flagKeys = map[string]string{
	"model":       "model",
	"batchsize":   "batchsize",
	"target":      "target",
	"layout":      "layout",
	"dtype":       "dtype",
	"model-root":  "modelRoot",
	"output-dir":  "outputDir",
	"timer":       "timer.mode",
	"seed":        "seed",
	"worker":      "worker.command",
	"debug":       "debug",
	"json":        "jsonMode",
	"save":        "save",
	"tui":         "tui",
	"report":      "report",
	"results-dir": "resultsDir",
	"logFile":     "logFile",
}

// rootCmd represents the base command when called without any subcommands.
// On its own it runs the benchmark.
var rootCmd = &cobra.Command{
	Use:   "tvmbench",
	Short: "Compile, export and benchmark a PyTorch model with TVM",
	Long: `tvmbench loads {model}_{batch}/model.pt and model_state_dict.pt, traces the model,
imports it into Relay, optionally converts convolutions to NHWC, builds it for the
target, exports {model}_{batch}.tar and reports the mean inference latency.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := ensureConfigLoaded(cmd); err != nil {
			return err
		}

		// Copy config values into unset flags so pflags and viper agree.
		for _, name := range []string{"debug", "json", "save", "tui", "report"} {
			if flag := cmd.Flags().Lookup(name); flag != nil && !flag.Changed {
				_ = cmd.Flags().Set(name, strconv.FormatBool(viper.GetBool(flagKeys[name])))
			}
		}

		var cfg appconfig.Config
		if err := viper.Unmarshal(&cfg); err != nil {
			return fmt.Errorf("unmarshal config: %w", err)
		}
		if viper.ConfigFileUsed() != "" && fileExists(viper.ConfigFileUsed()) {
			cfg.ConfigPath = viper.ConfigFileUsed()
		}
		if err := cfg.Validate(); err != nil {
			return err
		}
		currentConfig = &cfg

		if err := logging.Init(cfg.LogFile, cfg.Debug); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	RunE: runBenchmark,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	rootCmd.Version = fmt.Sprintf("%s (commit: %s, built: %s)", appVersion, appCommit, appDate)

	defer logging.Close()
	if err := rootCmd.Execute(); err != nil {
		logging.Close()
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	def := appconfig.Defaults()
	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&cfgFile, "config", "c", appconfig.DefaultConfigPath, "config file (optional JSON)")
	pf.Bool("debug", false, "enable debug logging")
	pf.Bool("json", false, "print the run result as JSON on stdout")
	pf.String("logFile", "", "path to the log file")
	pf.String("worker", def.Worker.Command, "framework worker executable")
	pf.String("model-root", def.ModelRoot, "directory containing {model}_{batch}/")

	f := rootCmd.Flags()
	f.String("model", def.Model, "model name")
	f.Int("batchsize", def.BatchSize, "batch size of the synthetic input")
	f.String("target", def.Target, `compiler target string, or "arm" / "native"`)
	f.String("layout", def.Layout, "convolution layout: NCHW or NHWC")
	f.String("dtype", def.DType, "input element type declared to the importer")
	f.String("output-dir", def.OutputDir, "directory for the exported archive")
	f.String("timer", def.Timer.Mode, "latency timer: native (in-worker evaluator) or wall (per-call round trip, includes worker IPC)")
	f.Int64("seed", def.Seed, "seed for synthetic inputs (0 = time based)")
	f.Bool("save", false, "write the run result JSON under the results directory")
	f.Bool("tui", false, "show stage progress while running")
	f.Bool("report", false, "print a latency summary after the latency line")
	f.String("results-dir", appconfig.DefaultResultsDir, "directory for --save")

	for name, key := range flagKeys {
		flag := pf.Lookup(name)
		if flag == nil {
			flag = f.Lookup(name)
		}
		_ = viper.BindPFlag(key, flag)
	}
	setDefaults(def)
}

func setDefaults(def appconfig.Config) {
	viper.SetDefault("model", def.Model)
	viper.SetDefault("batchsize", def.BatchSize)
	viper.SetDefault("target", def.Target)
	viper.SetDefault("layout", def.Layout)
	viper.SetDefault("dtype", def.DType)
	viper.SetDefault("modelRoot", def.ModelRoot)
	viper.SetDefault("outputDir", def.OutputDir)
	viper.SetDefault("timer.mode", def.Timer.Mode)
	viper.SetDefault("timer.minRepeatMs", def.Timer.MinRepeatMs)
	viper.SetDefault("timer.repeat", def.Timer.Repeat)
	viper.SetDefault("timer.number", def.Timer.Number)
	viper.SetDefault("timer.dryrun", def.Timer.Dryrun)
	viper.SetDefault("worker.command", def.Worker.Command)
	viper.SetDefault("worker.initTimeout", def.Worker.InitTimeout)
}

// initConfig points viper at the config file and the TVMBENCH_ environment.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}
	viper.SetEnvPrefix("TVMBENCH")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
}

// ensureConfigLoaded validates and reads the config file. The default file
// is optional; an explicitly named one must exist.
func ensureConfigLoaded(cmd *cobra.Command) error {
	if cfgFile == "" {
		return nil
	}
	if !fileExists(cfgFile) {
		if flag := cmd.Flags().Lookup("config"); flag != nil && flag.Changed {
			return fmt.Errorf("config file %q not found", cfgFile)
		}
		return nil
	}
	if err := appconfig.ValidateFile(cfgFile); err != nil {
		return fmt.Errorf("config file %q: %w", cfgFile, err)
	}
	viper.SetConfigFile(cfgFile)
	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("failed to load config: %w", err)
	}
	return nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// GetConfig returns the loaded application configuration for other packages.
func GetConfig() *appconfig.Config {
	return currentConfig
}

// SetVersionInfo allows the main package to inject build-time variables.
func SetVersionInfo(version, commit, date string) {
	appVersion = version
	appCommit = commit
	appDate = date
}
