package benchmark

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
)

var (
	headline = color.New(color.FgGreen, color.Bold).SprintFunc()
	label    = color.New(color.FgCyan).SprintFunc()
	faint    = color.New(color.Faint).SprintFunc()
)

// PrintExportDone prints the line announcing the exported archive.
func PrintExportDone(out io.Writer, archive string) {
	fmt.Fprintf(out, "export done : %s\n", archive)
}

// PrintLatency prints the single latency line of a run.
func PrintLatency(out io.Writer, model string, batch int, meanMs float64) {
	fmt.Fprintln(out, headline(fmt.Sprintf("TVM %s latency for batch %d : %.2f ms", model, batch, meanMs)))
}

// PrintReport writes result as indented JSON or as a human readable block.
func PrintReport(out io.Writer, result *Result, jsonMode bool) error {
	if result == nil {
		return fmt.Errorf("nil result")
	}
	if jsonMode {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	}

	s := result.Summary
	fmt.Fprintf(out, "%s %s\n", label("Run:"), result.RunID)
	fmt.Fprintf(out, "%s %s (batch %d, %dx%d, %s, %s)\n", label("Model:"), result.Model, result.BatchSize, result.ImageSize, result.ImageSize, result.DType, result.Layout)
	fmt.Fprintf(out, "%s %s\n", label("Target:"), result.Target)
	fmt.Fprintf(out, "%s %s\n", label("Artifact:"), result.Artifact)
	if result.Parameters > 0 {
		fmt.Fprintf(out, "%s %d tensors, %d elements\n", label("Parameters:"), result.Parameters, result.ParameterElements)
	}
	fmt.Fprintf(out, "%s %s, %d samples\n", label("Timer:"), result.TimerMode, s.Count)
	if result.TimerScope != "" {
		fmt.Fprintln(out, faint("  scope: "+result.TimerScope))
	}
	fmt.Fprintf(out, "  mean %.3f ms  stddev %.3f ms\n", s.MeanMs, s.StdDevMs)
	fmt.Fprintf(out, "  min %.3f  p50 %.3f  p90 %.3f  p99 %.3f  max %.3f ms\n", s.MinMs, s.P50Ms, s.P90Ms, s.P99Ms, s.MaxMs)
	if len(result.Stages) > 0 {
		parts := make([]string, 0, len(result.Stages))
		for _, st := range result.Stages {
			parts = append(parts, fmt.Sprintf("%s %.0fms", st.Stage, st.Duration))
		}
		fmt.Fprintln(out, faint("  stages: "+strings.Join(parts, ", ")))
	}
	return nil
}
