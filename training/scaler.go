package training

import (
	"math"

	"medtrain/tensor"
)

// LossScaler implements dynamic loss scaling for reduced-precision
// training. The loss gradient is multiplied by the current scale before
// backpropagation; before the optimizer step the parameter gradients are
// divided back and checked for infs and NaNs. An overflow skips the step
// and backs the scale off, while a streak of clean steps grows it again.
//
// A disabled scaler passes gradients through untouched so the training
// loop does not branch on precision mode.
type LossScaler struct {
	enabled        bool
	scale          float64
	growthFactor   float64
	backoffFactor  float64
	growthInterval int
	goodSteps      int
}

// NewLossScaler creates a scaler with the given initial scale. Non-positive
// arguments fall back to the usual defaults.
func NewLossScaler(enabled bool, initScale float64) *LossScaler {
	if initScale <= 0 {
		initScale = 65536.0
	}
	return &LossScaler{
		enabled:        enabled,
		scale:          initScale,
		growthFactor:   2.0,
		backoffFactor:  0.5,
		growthInterval: 2000,
	}
}

// Enabled reports whether scaling is active.
func (s *LossScaler) Enabled() bool {
	return s.enabled
}

// Scale returns the current loss scale.
func (s *LossScaler) Scale() float64 {
	return s.scale
}

// ScaleGrad multiplies the loss gradient by the current scale in place.
// A no-op when scaling is disabled.
func (s *LossScaler) ScaleGrad(grad *tensor.Tensor) {
	if !s.enabled {
		return
	}
	tensor.ScaleInPlace(grad, float32(s.scale))
}

// UnscaleAndCheck divides every parameter gradient by the current scale and
// reports whether all gradients are finite. When it returns false the
// caller must skip the optimizer step and call Update(true).
func (s *LossScaler) UnscaleAndCheck(params []*tensor.Tensor) bool {
	inv := float32(1.0)
	if s.enabled {
		inv = float32(1.0 / s.scale)
	}

	finite := true
	for _, p := range params {
		grad := p.Grad()
		if grad == nil {
			continue
		}
		if s.enabled {
			tensor.ScaleInPlace(grad, inv)
		}
		for _, v := range grad.Data {
			f := float64(v)
			if math.IsInf(f, 0) || math.IsNaN(f) {
				finite = false
			}
		}
	}
	return finite
}

// Update adjusts the scale after a step attempt. A skipped step halves the
// scale and resets the growth streak; growthInterval consecutive clean
// steps double it.
func (s *LossScaler) Update(skipped bool) {
	if !s.enabled {
		return
	}
	if skipped {
		s.scale *= s.backoffFactor
		if s.scale < 1.0 {
			s.scale = 1.0
		}
		s.goodSteps = 0
		return
	}
	s.goodSteps++
	if s.goodSteps >= s.growthInterval {
		s.scale *= s.growthFactor
		s.goodSteps = 0
	}
}
