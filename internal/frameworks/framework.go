// Package frameworks defines the contract tvmbench uses to drive the external
// tensor frameworks: the model library that loads and traces models and the
// tensor-program compiler that imports, rewrites, builds and runs them.
//
// Objects living inside the frameworks are referred to by opaque handles.
package frameworks

import "context"

// Pass names understood by ApplyPasses.
const (
	PassRemoveUnusedFunctions = "RemoveUnusedFunctions"
	PassConvertLayout         = "ConvertLayout"
	PassInferType             = "InferType"
)

// DeviceCPU is the only device the graph executor is bound to.
const DeviceCPU = "cpu"

// Model is a deserialized model with its parameter state applied.
type Model struct {
	ID string `json:"model"`
}

// Graph is a traced static computation graph.
type Graph struct {
	ID string `json:"graph"`
}

// Module is an IR module together with its constant parameters.
type Module struct {
	ID     string `json:"module"`
	Params string `json:"params"`
}

// Library is a compiled, target-specific code bundle.
type Library struct {
	ID string `json:"library"`
}

// Executor is a graph executor created from a Library on a device.
type Executor struct {
	ID string `json:"executor"`
}

// TensorRef points at an .npy payload on disk plus its logical shape.
type TensorRef struct {
	Name  string `json:"name,omitempty"`
	Path  string `json:"path"`
	Shape []int  `json:"shape"`
	DType string `json:"dtype"`
}

// InputInfo declares one graph input to the importer.
type InputInfo struct {
	Name  string `json:"name"`
	Shape []int  `json:"shape"`
}

// Pass is one entry of an ordered pass sequence.
type Pass struct {
	Name           string              `json:"name"`
	DesiredLayouts map[string][]string `json:"desired_layouts,omitempty"`
}

// PassRequest runs Passes in order under OptLevel.
type PassRequest struct {
	Passes   []Pass `json:"passes"`
	OptLevel int    `json:"opt_level"`
}

// BuildRequest compiles a module for Target under OptLevel.
type BuildRequest struct {
	Target   string `json:"target"`
	OptLevel int    `json:"opt_level"`
}

// TimerRequest configures the framework's built-in time evaluator.
type TimerRequest struct {
	Func        string `json:"func"`
	Number      int    `json:"number"`
	Repeat      int    `json:"repeat"`
	MinRepeatMs int    `json:"min_repeat_ms"`
}

// Info identifies the framework versions behind a Framework.
type Info struct {
	Name     string            `json:"name"`
	Versions map[string]string `json:"versions"`
}

// Framework is implemented by the worker bridge and by test doubles.
type Framework interface {
	Info() Info
	LoadModel(ctx context.Context, modelPath, statePath string) (Model, error)
	Trace(ctx context.Context, m Model, example TensorRef) (Graph, error)
	FromPyTorch(ctx context.Context, g Graph, inputs []InputInfo, dtype string) (Module, error)
	ApplyPasses(ctx context.Context, mod Module, req PassRequest) (Module, error)
	Build(ctx context.Context, mod Module, req BuildRequest) (Library, error)
	Export(ctx context.Context, lib Library, path string) error
	CreateExecutor(ctx context.Context, lib Library, device string) (Executor, error)
	SetInput(ctx context.Context, ex Executor, input TensorRef) error
	Run(ctx context.Context, ex Executor) error
	// TimeEvaluator returns one mean per-call latency in seconds per repeat.
	TimeEvaluator(ctx context.Context, ex Executor, req TimerRequest) ([]float64, error)
	Close() error
}
