package appconfig

import (
	"fmt"
	"io"
	"strings"
)

// ShowConfig prints the current configuration summary.
func ShowConfig(out io.Writer, file string, cfg *Config) {
	if file == "" {
		fmt.Fprintln(out, "No config file loaded (using defaults).")
	} else {
		fmt.Fprintf(out, "Config file: %s\n\n", file)
	}

	if cfg == nil {
		d := Defaults()
		cfg = &d
	}

	fmt.Fprintln(out, "Current configuration:")
	fmt.Fprintf(out, "  Model:           %s\n", cfg.Model)
	fmt.Fprintf(out, "  Batch Size:      %d\n", cfg.BatchSize)
	fmt.Fprintf(out, "  Target:          %s\n", cfg.Target)
	fmt.Fprintf(out, "  Layout:          %s\n", cfg.Layout)
	fmt.Fprintf(out, "  DType:           %s\n", cfg.DType)
	fmt.Fprintf(out, "  Model Root:      %s\n", cfg.ModelRoot)
	fmt.Fprintf(out, "  Output Dir:      %s\n", cfg.OutputDir)
	fmt.Fprintf(out, "  Timer:           %s (min %s, repeat %d)\n", cfg.Timer.Mode, cfg.MinRepeat(), cfg.Timer.Repeat)
	fmt.Fprintf(out, "  Worker:          %s %s\n", cfg.Worker.Command, strings.Join(cfg.Worker.Args, " "))
	fmt.Fprintf(out, "  Worker Init:     %s\n", cfg.WorkerInitTimeout())
	fmt.Fprintf(out, "  Debug:           %v\n", cfg.Debug)
	fmt.Fprintf(out, "  JSON Mode:       %v\n", cfg.JSONMode)
	fmt.Fprintf(out, "  Save Results:    %v\n", cfg.Save)
	if cfg.Save {
		fmt.Fprintf(out, "  Results Dir:     %s\n", cfg.ResultsPath())
	}
}
