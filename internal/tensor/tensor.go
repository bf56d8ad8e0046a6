// Package tensor builds the synthetic inputs fed to traced and compiled
// models and writes them in the NumPy .npy format the worker reads.
package tensor

import (
	"fmt"
	"math/rand"
	"os"

	"github.com/sbinet/npyio"
)

// Float32 is the only element type generated on the Go side. The worker
// casts to the module dtype when binding inputs.
const Float32 = "float32"

// Channels is the channel count of every image input.
const Channels = 3

// Tensor is a dense row-major float32 array.
type Tensor struct {
	Shape []int     `json:"shape"`
	DType string    `json:"dtype"`
	Data  []float32 `json:"-"`
}

// ImageShape returns (batch, 3, size, size).
func ImageShape(batch, size int) []int {
	return []int{batch, Channels, size, size}
}

// Elements returns the product of the shape.
func Elements(shape []int) int {
	if len(shape) == 0 {
		return 0
	}
	n := 1
	for _, d := range shape {
		n *= d
	}
	return n
}

// Uniform fills a new tensor with values drawn from [lo, hi).
func Uniform(shape []int, lo, hi float32, rng *rand.Rand) (*Tensor, error) {
	for _, d := range shape {
		if d <= 0 {
			return nil, fmt.Errorf("invalid tensor shape %v", shape)
		}
	}
	if hi < lo {
		return nil, fmt.Errorf("invalid range [%g, %g)", lo, hi)
	}
	n := Elements(shape)
	data := make([]float32, n)
	span := hi - lo
	for i := range data {
		data[i] = lo + span*rng.Float32()
	}
	return &Tensor{
		Shape: append([]int(nil), shape...),
		DType: Float32,
		Data:  data,
	}, nil
}

// WriteNPY stores the flat payload at path. The shape travels separately in
// the worker request, so the file holds a one-dimensional array.
func (t *Tensor) WriteNPY(path string) error {
	if len(t.Data) != Elements(t.Shape) {
		return fmt.Errorf("tensor data length %d does not match shape %v", len(t.Data), t.Shape)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if err := npyio.Write(f, t.Data); err != nil {
		f.Close()
		return fmt.Errorf("write npy %s: %w", path, err)
	}
	return f.Close()
}
