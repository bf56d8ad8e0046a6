// internal/benchmark/benchmark.go
// Package benchmark summarises latency samples and reports run results.
package benchmark

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
)

const (
	// histogram bounds in microseconds: 1us to one hour, 3 significant figures.
	histMinUs   = 1
	histMaxUs   = int64(time.Hour / time.Microsecond)
	histSigFigs = 3

	// exactLimit is the largest sample count ranked exactly; larger runs are
	// read from the histogram.
	exactLimit = 4096
)

// ErrNoSamples is returned when there is nothing to summarise.
var ErrNoSamples = errors.New("no latency samples")

// Summary aggregates latency samples in milliseconds.
type Summary struct {
	Count    int     `json:"count"`
	MeanMs   float64 `json:"meanMs"`
	MinMs    float64 `json:"minMs"`
	MaxMs    float64 `json:"maxMs"`
	StdDevMs float64 `json:"stdDevMs"`
	P50Ms    float64 `json:"p50Ms"`
	P90Ms    float64 `json:"p90Ms"`
	P99Ms    float64 `json:"p99Ms"`
}

// StageTiming records how long one pipeline stage took.
type StageTiming struct {
	Stage    string  `json:"stage"`
	Duration float64 `json:"durationMs"`
}

// Result is everything known about one benchmark invocation.
type Result struct {
	RunID             string            `json:"runId"`
	Timestamp         time.Time         `json:"timestamp"`
	Model             string            `json:"model"`
	BatchSize         int               `json:"batchSize"`
	ImageSize         int               `json:"imageSize"`
	InputShape        []int             `json:"inputShape"`
	DType             string            `json:"dtype"`
	Layout            string            `json:"layout"`
	Target            string            `json:"target"`
	TimerMode         string            `json:"timerMode"`
	TimerScope        string            `json:"timerScope"`
	Seed              int64             `json:"seed"`
	Artifact          string            `json:"artifact"`
	Parameters        int               `json:"parameters"`
	ParameterElements int64             `json:"parameterElements"`
	Frameworks        map[string]string `json:"frameworks,omitempty"`
	Stages            []StageTiming     `json:"stages,omitempty"`
	SamplesMs         []float64         `json:"samplesMs"`
	Summary           Summary           `json:"summary"`
}

// Summarize computes mean, bounds and standard deviation exactly. Percentiles
// use nearest rank over the sorted samples, or an HDR histogram recorded at
// microsecond resolution once the run exceeds exactLimit samples. Either way
// they are clamped to [MinMs, MaxMs].
func Summarize(samplesMs []float64) (Summary, error) {
	if len(samplesMs) == 0 {
		return Summary{}, ErrNoSamples
	}

	hist := hdrhistogram.New(histMinUs, histMaxUs, histSigFigs)
	s := Summary{Count: len(samplesMs), MinMs: math.Inf(1), MaxMs: math.Inf(-1)}
	var sum float64
	for _, v := range samplesMs {
		if v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
			return Summary{}, fmt.Errorf("invalid latency sample %v", v)
		}
		sum += v
		s.MinMs = math.Min(s.MinMs, v)
		s.MaxMs = math.Max(s.MaxMs, v)
		us := int64(math.Round(v * 1000))
		if us < histMinUs {
			us = histMinUs
		}
		if us > histMaxUs {
			us = histMaxUs
		}
		if err := hist.RecordValue(us); err != nil {
			return Summary{}, fmt.Errorf("record sample %v: %w", v, err)
		}
	}
	s.MeanMs = sum / float64(len(samplesMs))

	var sq float64
	for _, v := range samplesMs {
		d := v - s.MeanMs
		sq += d * d
	}
	s.StdDevMs = math.Sqrt(sq / float64(len(samplesMs)))

	quantile := func(q float64) float64 { return float64(hist.ValueAtQuantile(q)) / 1000 }
	if len(samplesMs) <= exactLimit {
		sorted := append([]float64(nil), samplesMs...)
		sort.Float64s(sorted)
		quantile = func(q float64) float64 { return nearestRank(sorted, q) }
	}
	s.P50Ms = s.clamp(quantile(50))
	s.P90Ms = s.clamp(quantile(90))
	s.P99Ms = s.clamp(quantile(99))
	return s, nil
}

// nearestRank returns the smallest sample with at least q percent of the
// samples at or below it.
func nearestRank(sorted []float64, q float64) float64 {
	rank := int(math.Ceil(q / 100 * float64(len(sorted))))
	if rank < 1 {
		rank = 1
	}
	if rank > len(sorted) {
		rank = len(sorted)
	}
	return sorted[rank-1]
}

func (s Summary) clamp(v float64) float64 {
	return math.Min(math.Max(v, s.MinMs), s.MaxMs)
}

// WriteResults writes result as indented JSON into dir and returns the path.
func WriteResults(dir string, result *Result) (string, error) {
	if result == nil {
		return "", errors.New("nil result")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("error creating results directory: %w", err)
	}
	stamp := result.Timestamp.UTC().Format("20060102T150405Z")
	name := Slugify(fmt.Sprintf("%s-%d-%s-%s", result.Model, result.BatchSize, result.Layout, stamp))
	fileName := filepath.Join(dir, name+".json")

	file, err := os.Create(fileName)
	if err != nil {
		return "", fmt.Errorf("error creating result file: %w", err)
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(result); err != nil {
		return "", fmt.Errorf("error writing results to file: %w", err)
	}

	log.Printf("Benchmark results written to %s", fileName)
	return fileName, nil
}

var (
	slugInvalid = regexp.MustCompile(`[^a-z0-9_]+`)
	slugDashes  = regexp.MustCompile(`-+`)
)

// Slugify converts a string into a "slug" format,
// including replacing colons (:) with underscores (_).
func Slugify(s string) string {
	s = strings.ToLower(s)
	s = strings.ReplaceAll(s, ":", "_")
	s = slugInvalid.ReplaceAllString(s, "-")
	s = slugDashes.ReplaceAllString(s, "-")
	return strings.Trim(s, "-_")
}
