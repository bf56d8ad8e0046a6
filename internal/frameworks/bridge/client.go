package bridge

import (
	"context"
	"fmt"

	"github.com/mwiater/tvmbench/internal/frameworks"
)

var _ frameworks.Framework = (*Client)(nil)

func (c *Client) LoadModel(ctx context.Context, modelPath, statePath string) (frameworks.Model, error) {
	var out frameworks.Model
	params := map[string]any{"model_path": modelPath, "state_path": statePath}
	if err := c.call(ctx, "model.load", params, "", &out); err != nil {
		return frameworks.Model{}, err
	}
	return out, requireHandle("model", out.ID)
}

func (c *Client) Trace(ctx context.Context, m frameworks.Model, example frameworks.TensorRef) (frameworks.Graph, error) {
	var out frameworks.Graph
	params := map[string]any{"model": m.ID, "example": example}
	if err := c.call(ctx, "model.trace", params, m.ID, &out); err != nil {
		return frameworks.Graph{}, err
	}
	return out, requireHandle("graph", out.ID)
}

func (c *Client) FromPyTorch(ctx context.Context, g frameworks.Graph, inputs []frameworks.InputInfo, dtype string) (frameworks.Module, error) {
	var out frameworks.Module
	params := map[string]any{"graph": g.ID, "inputs": inputs, "dtype": dtype}
	if err := c.call(ctx, "relay.from_pytorch", params, g.ID, &out); err != nil {
		return frameworks.Module{}, err
	}
	if err := requireHandle("module", out.ID); err != nil {
		return frameworks.Module{}, err
	}
	return out, requireHandle("params", out.Params)
}

// ApplyPasses keeps the incoming params handle when the worker does not
// return a new one; passes rewrite the module, not its constants.
func (c *Client) ApplyPasses(ctx context.Context, mod frameworks.Module, req frameworks.PassRequest) (frameworks.Module, error) {
	var out frameworks.Module
	params := map[string]any{
		"module":    mod.ID,
		"passes":    req.Passes,
		"opt_level": req.OptLevel,
	}
	if err := c.call(ctx, "relay.apply_passes", params, mod.ID, &out); err != nil {
		return frameworks.Module{}, err
	}
	if out.Params == "" {
		out.Params = mod.Params
	}
	return out, requireHandle("module", out.ID)
}

func (c *Client) Build(ctx context.Context, mod frameworks.Module, req frameworks.BuildRequest) (frameworks.Library, error) {
	var out frameworks.Library
	params := map[string]any{
		"module":    mod.ID,
		"params":    mod.Params,
		"target":    req.Target,
		"opt_level": req.OptLevel,
	}
	if err := c.call(ctx, "relay.build", params, mod.ID, &out); err != nil {
		return frameworks.Library{}, err
	}
	return out, requireHandle("library", out.ID)
}

func (c *Client) Export(ctx context.Context, lib frameworks.Library, path string) error {
	params := map[string]any{"library": lib.ID, "path": path}
	return c.call(ctx, "library.export", params, lib.ID, nil)
}

func (c *Client) CreateExecutor(ctx context.Context, lib frameworks.Library, device string) (frameworks.Executor, error) {
	var out frameworks.Executor
	params := map[string]any{"library": lib.ID, "device": device}
	if err := c.call(ctx, "runtime.create", params, lib.ID, &out); err != nil {
		return frameworks.Executor{}, err
	}
	return out, requireHandle("executor", out.ID)
}

func (c *Client) SetInput(ctx context.Context, ex frameworks.Executor, input frameworks.TensorRef) error {
	params := map[string]any{"executor": ex.ID, "input": input}
	return c.call(ctx, "runtime.set_input", params, ex.ID, nil)
}

func (c *Client) Run(ctx context.Context, ex frameworks.Executor) error {
	return c.call(ctx, "runtime.run", map[string]any{"executor": ex.ID}, ex.ID, nil)
}

func (c *Client) TimeEvaluator(ctx context.Context, ex frameworks.Executor, req frameworks.TimerRequest) ([]float64, error) {
	var out struct {
		Results []float64 `json:"results"`
	}
	params := map[string]any{
		"executor":      ex.ID,
		"func":          req.Func,
		"number":        req.Number,
		"repeat":        req.Repeat,
		"min_repeat_ms": req.MinRepeatMs,
	}
	if err := c.call(ctx, "runtime.time_evaluator", params, ex.ID, &out); err != nil {
		return nil, err
	}
	if len(out.Results) == 0 {
		return nil, fmt.Errorf("runtime.time_evaluator: worker returned no results")
	}
	return out.Results, nil
}

func requireHandle(kind, id string) error {
	if id == "" {
		return fmt.Errorf("worker returned an empty %s handle", kind)
	}
	return nil
}
