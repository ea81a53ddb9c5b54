package nn

import (
	"fmt"
	"math/rand"

	"medtrain/tensor"
)

// Dropout zeroes activations with probability p during training and rescales
// the survivors by 1/(1-p). In forwardSample mode the mask is always applied,
// drawn from the caller's random source, which is what makes Monte Carlo
// uncertainty sampling possible at evaluation time.
type Dropout struct {
	p        float64
	training bool

	lastMask []float32
}

// NewDropout creates a dropout layer with drop probability p in [0, 1).
func NewDropout(p float64) (*Dropout, error) {
	if p < 0 || p >= 1 {
		return nil, fmt.Errorf("dropout probability must be in [0, 1), got %v", p)
	}
	return &Dropout{p: p, training: true}, nil
}

// SetTraining toggles training-mode masking.
func (d *Dropout) SetTraining(training bool) {
	d.training = training
}

// Forward applies a fresh mask in training mode and is the identity in eval
// mode.
func (d *Dropout) Forward(input *tensor.Tensor) (*tensor.Tensor, error) {
	if !d.training || d.p == 0 {
		d.lastMask = nil
		return input, nil
	}
	out, mask := d.applyMask(input, globalRng)
	d.lastMask = mask
	return out, nil
}

func (d *Dropout) forwardSample(input *tensor.Tensor, rng *rand.Rand) (*tensor.Tensor, error) {
	if d.p == 0 {
		return input, nil
	}
	out, _ := d.applyMask(input, rng)
	return out, nil
}

func (d *Dropout) applyMask(input *tensor.Tensor, rng *rand.Rand) (*tensor.Tensor, []float32) {
	keep := float32(1.0 / (1.0 - d.p))
	mask := make([]float32, input.NumElems)
	out := input.Clone()
	for i := range mask {
		if rng.Float64() < d.p {
			mask[i] = 0
			out.Data[i] = 0
		} else {
			mask[i] = keep
			out.Data[i] *= keep
		}
	}
	return out, mask
}

// Backward routes gradients through the mask used in the last Forward.
func (d *Dropout) Backward(grad *tensor.Tensor) (*tensor.Tensor, error) {
	if d.lastMask == nil {
		return grad, nil
	}
	if len(d.lastMask) != grad.NumElems {
		return nil, fmt.Errorf("gradient size %d does not match dropout mask size %d", grad.NumElems, len(d.lastMask))
	}
	out := grad.Clone()
	for i, m := range d.lastMask {
		out.Data[i] *= m
	}
	return out, nil
}

// Parameters returns nil; dropout has no trainable parameters.
func (d *Dropout) Parameters() []*tensor.Tensor {
	return nil
}
