package nn

import (
	"fmt"
	"math/rand"

	"medtrain/tensor"
)

// ReLU applies the rectified linear activation elementwise.
type ReLU struct {
	lastInput *tensor.Tensor
}

// NewReLU creates a new ReLU activation layer.
func NewReLU() *ReLU {
	return &ReLU{}
}

// Forward computes max(0, x) and caches the input for Backward.
func (r *ReLU) Forward(input *tensor.Tensor) (*tensor.Tensor, error) {
	r.lastInput = input
	return r.apply(input), nil
}

func (r *ReLU) apply(input *tensor.Tensor) *tensor.Tensor {
	out := input.Clone()
	for i, v := range out.Data {
		if v < 0 {
			out.Data[i] = 0
		}
	}
	return out
}

func (r *ReLU) forwardSample(input *tensor.Tensor, rng *rand.Rand) (*tensor.Tensor, error) {
	return r.apply(input), nil
}

// Backward masks the incoming gradient where the forward input was negative.
func (r *ReLU) Backward(grad *tensor.Tensor) (*tensor.Tensor, error) {
	if r.lastInput == nil {
		return nil, fmt.Errorf("backward called before forward")
	}
	if !grad.SameShape(r.lastInput) {
		return nil, fmt.Errorf("gradient shape %v does not match input shape %v", grad.Shape, r.lastInput.Shape)
	}
	out := grad.Clone()
	for i, v := range r.lastInput.Data {
		if v <= 0 {
			out.Data[i] = 0
		}
	}
	return out, nil
}

// Parameters returns nil; ReLU has no trainable parameters.
func (r *ReLU) Parameters() []*tensor.Tensor {
	return nil
}
