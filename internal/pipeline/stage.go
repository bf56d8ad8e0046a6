package pipeline

import (
	"time"

	"github.com/mwiater/tvmbench/internal/benchmark"
)

// Stage names a pipeline step.
type Stage string

const (
	StageLoad    Stage = "load"
	StageTrace   Stage = "trace"
	StageImport  Stage = "import"
	StageLayout  Stage = "layout"
	StageCompile Stage = "compile"
	StageMeasure Stage = "measure"
)

// Stages lists every stage in execution order.
var Stages = []Stage{StageLoad, StageTrace, StageImport, StageLayout, StageCompile, StageMeasure}

// Status is the state a stage reports.
type Status int

const (
	StatusStarted Status = iota
	StatusDone
	StatusFailed
	StatusSkipped
)

func (s Status) String() string {
	switch s {
	case StatusStarted:
		return "started"
	case StatusDone:
		return "done"
	case StatusFailed:
		return "failed"
	case StatusSkipped:
		return "skipped"
	}
	return "unknown"
}

// Event is sent to the Observer on every stage transition.
type Event struct {
	Stage   Stage
	Status  Status
	Detail  string
	Elapsed time.Duration
	Err     error
}

// Observer receives stage events. It must not block.
type Observer func(Event)

func (r *Runner) notify(ev Event) {
	if r.opts.Observer != nil {
		r.opts.Observer(ev)
	}
}

func (r *Runner) stage(s Stage, fn func() error) error {
	r.notify(Event{Stage: s, Status: StatusStarted})
	start := now()
	err := fn()
	elapsed := now().Sub(start)
	if err != nil {
		r.notify(Event{Stage: s, Status: StatusFailed, Elapsed: elapsed, Err: err})
		return err
	}
	r.stages = append(r.stages, benchmark.StageTiming{
		Stage:    string(s),
		Duration: float64(elapsed) / float64(time.Millisecond),
	})
	r.notify(Event{Stage: s, Status: StatusDone, Elapsed: elapsed})
	return nil
}
