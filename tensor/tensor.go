package tensor

import (
	"fmt"
)

// Tensor is a CPU-resident float32 tensor with an optional gradient slot.
// Parameters carry requiresGrad=true; their gradients are accumulated in
// place by the backward pass and consumed by optimizers.
type Tensor struct {
	Shape    []int
	Data     []float32
	NumElems int

	grad         *Tensor
	requiresGrad bool
}

// New creates a tensor from the given shape and backing data.
func New(shape []int, data []float32) (*Tensor, error) {
	n, err := checkShape(shape)
	if err != nil {
		return nil, err
	}
	if len(data) != n {
		return nil, fmt.Errorf("data length %d does not match shape %v (%d elements)", len(data), shape, n)
	}
	return &Tensor{
		Shape:    append([]int(nil), shape...),
		Data:     data,
		NumElems: n,
	}, nil
}

// Zeros creates a zero-filled tensor with the given shape.
func Zeros(shape []int) (*Tensor, error) {
	n, err := checkShape(shape)
	if err != nil {
		return nil, err
	}
	return &Tensor{
		Shape:    append([]int(nil), shape...),
		Data:     make([]float32, n),
		NumElems: n,
	}, nil
}

func checkShape(shape []int) (int, error) {
	if len(shape) == 0 {
		return 0, fmt.Errorf("shape must have at least one dimension")
	}
	n := 1
	for _, dim := range shape {
		if dim <= 0 {
			return 0, fmt.Errorf("invalid dimension %d in shape %v", dim, shape)
		}
		n *= dim
	}
	return n, nil
}

// Clone returns a deep copy of the tensor. Gradient state is not copied.
func (t *Tensor) Clone() *Tensor {
	data := make([]float32, len(t.Data))
	copy(data, t.Data)
	return &Tensor{
		Shape:    append([]int(nil), t.Shape...),
		Data:     data,
		NumElems: t.NumElems,
	}
}

// SetData replaces the tensor contents in place.
func (t *Tensor) SetData(data []float32) error {
	if len(data) != t.NumElems {
		return fmt.Errorf("data length %d does not match tensor size %d", len(data), t.NumElems)
	}
	copy(t.Data, data)
	return nil
}

// SameShape reports whether two tensors have identical shapes.
func (t *Tensor) SameShape(other *Tensor) bool {
	if len(t.Shape) != len(other.Shape) {
		return false
	}
	for i, dim := range t.Shape {
		if dim != other.Shape[i] {
			return false
		}
	}
	return true
}

// SetRequiresGrad marks the tensor as a trainable parameter.
func (t *Tensor) SetRequiresGrad(v bool) {
	t.requiresGrad = v
	if !v {
		t.grad = nil
	}
}

// RequiresGrad reports whether the tensor accumulates gradients.
func (t *Tensor) RequiresGrad() bool {
	return t.requiresGrad
}

// Grad returns the gradient tensor, or nil if none has been accumulated.
func (t *Tensor) Grad() *Tensor {
	return t.grad
}

// EnsureGrad returns the gradient tensor, allocating a zero-filled one on
// first use.
func (t *Tensor) EnsureGrad() *Tensor {
	if t.grad == nil {
		g, _ := Zeros(t.Shape)
		t.grad = g
	}
	return t.grad
}

// ZeroGrad resets the accumulated gradient to zero.
func (t *Tensor) ZeroGrad() {
	if t.grad == nil {
		return
	}
	for i := range t.grad.Data {
		t.grad.Data[i] = 0
	}
}

// ZeroGrads resets gradients for a set of parameters.
func ZeroGrads(params []*Tensor) {
	for _, p := range params {
		p.ZeroGrad()
	}
}
