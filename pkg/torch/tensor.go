package torch

import (
	"errors"
	"fmt"
)

// ErrShape is returned when a tensor does not have the shape an operation requires.
var ErrShape = errors.New("shape mismatch")

// Tensor is a row-major float32 tensor placed on a device.
type Tensor struct {
	Data   []float32
	Shape  []int
	Device Device
}

// IntTensor is a row-major int32 tensor, used for token ids.
type IntTensor struct {
	Data   []int32
	Shape  []int
	Device Device
}

// numel returns the number of elements described by shape.
func numel(shape []int) int {
	n := 1
	for _, d := range shape {
		n *= d
	}
	return n
}

func checkShape(shape []int) error {
	if len(shape) == 0 {
		return fmt.Errorf("%w: tensor must have at least one dimension", ErrShape)
	}
	for i, d := range shape {
		if d <= 0 {
			return fmt.Errorf("%w: dimension %d has size %d", ErrShape, i, d)
		}
	}
	return nil
}

// New returns a zero-filled CPU tensor with the given shape.
// It panics on non-positive dimensions.
func New(shape ...int) *Tensor {
	if err := checkShape(shape); err != nil {
		panic(err)
	}
	return &Tensor{
		Data:   make([]float32, numel(shape)),
		Shape:  append([]int(nil), shape...),
		Device: CPU,
	}
}

// Full returns a CPU tensor with every element set to v.
func Full(v float32, shape ...int) *Tensor {
	t := New(shape...)
	for i := range t.Data {
		t.Data[i] = v
	}
	return t
}

// FromSlice wraps data (without copying) as a CPU tensor of the given shape.
func FromSlice(data []float32, shape ...int) (*Tensor, error) {
	if err := checkShape(shape); err != nil {
		return nil, err
	}
	if n := numel(shape); n != len(data) {
		return nil, fmt.Errorf("%w: shape %v needs %d elements, got %d", ErrShape, shape, n, len(data))
	}
	return &Tensor{Data: data, Shape: append([]int(nil), shape...), Device: CPU}, nil
}

// Rank returns the number of dimensions.
func (t *Tensor) Rank() int { return len(t.Shape) }

// Numel returns the number of elements.
func (t *Tensor) Numel() int { return len(t.Data) }

// Dim returns the size of dimension i. Negative i counts from the end.
func (t *Tensor) Dim(i int) int {
	if i < 0 {
		i += len(t.Shape)
	}
	return t.Shape[i]
}

// Reshape returns a view of t with a new shape sharing the same data.
func (t *Tensor) Reshape(shape ...int) (*Tensor, error) {
	if err := checkShape(shape); err != nil {
		return nil, err
	}
	if numel(shape) != len(t.Data) {
		return nil, fmt.Errorf("%w: cannot reshape %v to %v", ErrShape, t.Shape, shape)
	}
	return &Tensor{Data: t.Data, Shape: append([]int(nil), shape...), Device: t.Device}, nil
}

// Clone returns a deep copy of t.
func (t *Tensor) Clone() *Tensor {
	return &Tensor{
		Data:   append([]float32(nil), t.Data...),
		Shape:  append([]int(nil), t.Shape...),
		Device: t.Device,
	}
}

// At returns the element at the given index.
func (t *Tensor) At(idx ...int) float32 {
	return t.Data[offset(t.Shape, idx)]
}

// Set stores v at the given index.
func (t *Tensor) Set(v float32, idx ...int) {
	t.Data[offset(t.Shape, idx)] = v
}

// Row returns the contiguous last-axis vector at the given leading index.
func (t *Tensor) Row(idx ...int) []float32 {
	c := t.Shape[len(t.Shape)-1]
	start := offset(t.Shape[:len(t.Shape)-1], idx) * c
	return t.Data[start : start+c]
}

func offset(shape, idx []int) int {
	if len(idx) != len(shape) {
		panic(fmt.Sprintf("index %v does not match shape %v", idx, shape))
	}
	off := 0
	for i, v := range idx {
		if v < 0 || v >= shape[i] {
			panic(fmt.Sprintf("index %v out of range for shape %v", idx, shape))
		}
		off = off*shape[i] + v
	}
	return off
}

// NewInt returns a zero-filled CPU id tensor with the given shape.
func NewInt(shape ...int) *IntTensor {
	if err := checkShape(shape); err != nil {
		panic(err)
	}
	return &IntTensor{
		Data:   make([]int32, numel(shape)),
		Shape:  append([]int(nil), shape...),
		Device: CPU,
	}
}

// IntFromSlice wraps ids (without copying) as a CPU id tensor of the given shape.
func IntFromSlice(ids []int32, shape ...int) (*IntTensor, error) {
	if err := checkShape(shape); err != nil {
		return nil, err
	}
	if n := numel(shape); n != len(ids) {
		return nil, fmt.Errorf("%w: shape %v needs %d elements, got %d", ErrShape, shape, n, len(ids))
	}
	return &IntTensor{Data: ids, Shape: append([]int(nil), shape...), Device: CPU}, nil
}

// Rank returns the number of dimensions.
func (t *IntTensor) Rank() int { return len(t.Shape) }

// At returns the id at the given index.
func (t *IntTensor) At(idx ...int) int32 {
	return t.Data[offset(t.Shape, idx)]
}

// Row returns the contiguous last-axis ids at the given leading index.
func (t *IntTensor) Row(idx ...int) []int32 {
	c := t.Shape[len(t.Shape)-1]
	start := offset(t.Shape[:len(t.Shape)-1], idx) * c
	return t.Data[start : start+c]
}
