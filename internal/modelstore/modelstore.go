// Package modelstore locates serialized models on disk and summarises their
// parameter state without starting the framework worker.
package modelstore

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/nlpodyssey/gopickle/pytorch"
	"github.com/nlpodyssey/gopickle/types"
)

const (
	// ModelFile holds the fully pickled model object.
	ModelFile = "model.pt"
	// StateFile holds the parameter-state mapping applied on top of it.
	StateFile = "model_state_dict.pt"
)

var (
	// ErrModelNotFound means one of the two model files is absent.
	ErrModelNotFound = errors.New("model files not found")
	// ErrIncompatibleState means the state file is not a mapping of named
	// tensors.
	ErrIncompatibleState = errors.New("incompatible model state")
)

var loadPickle = pytorch.Load

// Location is where a model/batch pair lives on disk.
type Location struct {
	Model     string `json:"model"`
	BatchSize int    `json:"batchSize"`
	Dir       string `json:"dir"`
	ModelPath string `json:"modelPath"`
	StatePath string `json:"statePath"`
}

// DirName returns "{model}_{batch}", the directory and archive stem.
func DirName(model string, batch int) string {
	return fmt.Sprintf("%s_%d", model, batch)
}

// Resolve builds the location of {root}/{model}_{batch}/.
func Resolve(root, model string, batch int) Location {
	if root == "" {
		root = "."
	}
	dir := filepath.Join(root, DirName(model, batch))
	return Location{
		Model:     model,
		BatchSize: batch,
		Dir:       dir,
		ModelPath: filepath.Join(dir, ModelFile),
		StatePath: filepath.Join(dir, StateFile),
	}
}

// Check verifies both files exist and are regular files.
func (l Location) Check() error {
	for _, p := range []string{l.ModelPath, l.StatePath} {
		info, err := os.Stat(p)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return fmt.Errorf("%w: %s", ErrModelNotFound, p)
			}
			return fmt.Errorf("stat %s: %w", p, err)
		}
		if info.IsDir() {
			return fmt.Errorf("%w: %s is a directory", ErrModelNotFound, p)
		}
		if info.Size() == 0 {
			return fmt.Errorf("%w: %s is empty", ErrIncompatibleState, p)
		}
	}
	return nil
}

// Parameter describes one entry of a state dict.
type Parameter struct {
	Name     string `json:"name"`
	Shape    []int  `json:"shape"`
	DType    string `json:"dtype"`
	Elements int64  `json:"elements"`
}

// Inventory summarises the state dict of a model.
type Inventory struct {
	Parameters    []Parameter `json:"parameters"`
	TotalElements int64       `json:"totalElements"`
}

// Inspect checks the location and decodes the state dict.
func Inspect(loc Location) (*Inventory, error) {
	if err := loc.Check(); err != nil {
		return nil, err
	}
	v, err := loadPickle(loc.StatePath)
	if err != nil {
		return nil, fmt.Errorf("%w: decode %s: %v", ErrIncompatibleState, loc.StatePath, err)
	}
	return summarize(v)
}

func summarize(v interface{}) (*Inventory, error) {
	dict, ok := v.(*types.OrderedDict)
	if !ok {
		return nil, fmt.Errorf("%w: expected an ordered mapping, got %T", ErrIncompatibleState, v)
	}
	inv := &Inventory{Parameters: make([]Parameter, 0, dict.Len())}
	for e := dict.List.Front(); e != nil; e = e.Next() {
		entry, ok := e.Value.(*types.OrderedDictEntry)
		if !ok {
			return nil, fmt.Errorf("%w: malformed ordered mapping", ErrIncompatibleState)
		}
		name, ok := entry.Key.(string)
		if !ok {
			return nil, fmt.Errorf("%w: non-string key %v", ErrIncompatibleState, entry.Key)
		}
		t, ok := entry.Value.(*pytorch.Tensor)
		if !ok {
			return nil, fmt.Errorf("%w: %s is %T, not a tensor", ErrIncompatibleState, name, entry.Value)
		}
		p := Parameter{
			Name:     name,
			Shape:    append([]int(nil), t.Size...),
			DType:    storageDType(t.Source),
			Elements: elements(t.Size),
		}
		inv.Parameters = append(inv.Parameters, p)
		inv.TotalElements += p.Elements
	}
	if len(inv.Parameters) == 0 {
		return nil, fmt.Errorf("%w: state dict is empty", ErrIncompatibleState)
	}
	return inv, nil
}

func storageDType(s pytorch.StorageInterface) string {
	switch s.(type) {
	case *pytorch.FloatStorage:
		return "float32"
	case *pytorch.DoubleStorage:
		return "float64"
	case *pytorch.HalfStorage:
		return "float16"
	case *pytorch.LongStorage:
		return "int64"
	case *pytorch.IntStorage:
		return "int32"
	case *pytorch.ByteStorage:
		return "uint8"
	case *pytorch.BoolStorage:
		return "bool"
	default:
		return "unknown"
	}
}

// elements is 1 for scalar tensors such as num_batches_tracked.
func elements(shape []int) int64 {
	n := int64(1)
	for _, d := range shape {
		n *= int64(d)
	}
	return n
}
