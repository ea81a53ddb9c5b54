package training

import (
	"math"
	"testing"

	"medtrain/tensor"
)

func newParam(t *testing.T, values, gradValues []float32) *tensor.Tensor {
	t.Helper()
	p, err := tensor.New([]int{len(values)}, append([]float32(nil), values...))
	if err != nil {
		t.Fatalf("failed to create parameter: %v", err)
	}
	p.SetRequiresGrad(true)
	copy(p.EnsureGrad().Data, gradValues)
	return p
}

func TestSGDVanillaStep(t *testing.T) {
	p := newParam(t, []float32{1.0, -1.0}, []float32{0.5, -0.5})
	sgd, err := NewSGD([]*tensor.Tensor{p}, 0.1, 0, 0, false)
	if err != nil {
		t.Fatalf("NewSGD failed: %v", err)
	}

	if err := sgd.Step(); err != nil {
		t.Fatalf("Step failed: %v", err)
	}

	// p -= lr * g
	if !almostEqual(float64(p.Data[0]), 0.95, 1e-6) {
		t.Errorf("p[0] = %v, expected 0.95", p.Data[0])
	}
	if !almostEqual(float64(p.Data[1]), -0.95, 1e-6) {
		t.Errorf("p[1] = %v, expected -0.95", p.Data[1])
	}
}

func TestSGDMomentumAccumulates(t *testing.T) {
	p := newParam(t, []float32{0}, []float32{1})
	sgd, err := NewSGD([]*tensor.Tensor{p}, 0.1, 0.9, 0, false)
	if err != nil {
		t.Fatalf("NewSGD failed: %v", err)
	}

	// First step: v = 1, update 0.1. Second: v = 1.9, update 0.19.
	sgd.Step()
	copy(p.EnsureGrad().Data, []float32{1})
	sgd.Step()

	if !almostEqual(float64(p.Data[0]), -0.29, 1e-6) {
		t.Errorf("p = %v, expected -0.29 after two momentum steps", p.Data[0])
	}
}

func TestSGDRejectsNonPositiveLR(t *testing.T) {
	p := newParam(t, []float32{0}, []float32{0})
	if _, err := NewSGD([]*tensor.Tensor{p}, 0, 0, 0, false); err == nil {
		t.Error("expected error for zero learning rate")
	}
}

func TestAdamWFirstStepMagnitude(t *testing.T) {
	p := newParam(t, []float32{1.0}, []float32{2.0})
	adam, err := NewAdamW([]*tensor.Tensor{p}, 0.1, 0, 0, 0, 0)
	if err != nil {
		t.Fatalf("NewAdamW failed: %v", err)
	}

	if err := adam.Step(); err != nil {
		t.Fatalf("Step failed: %v", err)
	}

	// With bias correction the first update is close to lr regardless of
	// gradient magnitude.
	if !almostEqual(float64(p.Data[0]), 0.9, 1e-5) {
		t.Errorf("p = %v, expected about 0.9", p.Data[0])
	}
}

func TestAdamWDecoupledWeightDecay(t *testing.T) {
	// Zero gradient: the only movement comes from the decay term.
	p := newParam(t, []float32{1.0}, []float32{0.0})
	adam, err := NewAdamW([]*tensor.Tensor{p}, 0.1, 0, 0, 0, 0.01)
	if err != nil {
		t.Fatalf("NewAdamW failed: %v", err)
	}

	adam.Step()
	if !almostEqual(float64(p.Data[0]), 1.0-0.1*0.01, 1e-6) {
		t.Errorf("p = %v, expected pure decay step", p.Data[0])
	}
}

func TestAdamWSkipsFrozenParameters(t *testing.T) {
	frozen, err := tensor.New([]int{1}, []float32{5.0})
	if err != nil {
		t.Fatalf("failed to create tensor: %v", err)
	}
	adam, err := NewAdamW([]*tensor.Tensor{frozen}, 0.1, 0, 0, 0, 0)
	if err != nil {
		t.Fatalf("NewAdamW failed: %v", err)
	}

	adam.Step()
	if frozen.Data[0] != 5.0 {
		t.Errorf("frozen parameter moved to %v", frozen.Data[0])
	}
}

func TestOptimizerStateRoundTrip(t *testing.T) {
	buildPair := func(t *testing.T, mk func(p *tensor.Tensor) (Optimizer, error)) (Optimizer, Optimizer, *tensor.Tensor, *tensor.Tensor) {
		a := newParam(t, []float32{1, 2}, []float32{0.3, -0.4})
		b := newParam(t, []float32{1, 2}, []float32{0.3, -0.4})
		optA, err := mk(a)
		if err != nil {
			t.Fatalf("failed to build optimizer: %v", err)
		}
		optB, err := mk(b)
		if err != nil {
			t.Fatalf("failed to build optimizer: %v", err)
		}
		return optA, optB, a, b
	}

	cases := []struct {
		name string
		mk   func(p *tensor.Tensor) (Optimizer, error)
	}{
		{"sgd", func(p *tensor.Tensor) (Optimizer, error) {
			return NewSGD([]*tensor.Tensor{p}, 0.05, 0.9, 0.001, false)
		}},
		{"adamw", func(p *tensor.Tensor) (Optimizer, error) {
			return NewAdamW([]*tensor.Tensor{p}, 0.05, 0, 0, 0, 0.001)
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			optA, optB, a, b := buildPair(t, tc.mk)

			// Advance A, then copy its state into B.
			for i := 0; i < 3; i++ {
				copy(a.EnsureGrad().Data, []float32{0.3, -0.4})
				if err := optA.Step(); err != nil {
					t.Fatalf("Step failed: %v", err)
				}
			}
			if err := b.SetData(a.Data); err != nil {
				t.Fatalf("SetData failed: %v", err)
			}
			state, err := optA.State()
			if err != nil {
				t.Fatalf("State failed: %v", err)
			}
			if err := optB.Restore(state); err != nil {
				t.Fatalf("Restore failed: %v", err)
			}

			// Both must now take identical steps.
			copy(a.EnsureGrad().Data, []float32{0.1, 0.2})
			copy(b.EnsureGrad().Data, []float32{0.1, 0.2})
			optA.Step()
			optB.Step()
			for i := range a.Data {
				if math.Abs(float64(a.Data[i]-b.Data[i])) > 1e-7 {
					t.Errorf("parameter %d diverged after restore: %v vs %v", i, a.Data[i], b.Data[i])
				}
			}
		})
	}
}

func TestOptimizerRestoreTypeMismatch(t *testing.T) {
	p := newParam(t, []float32{0}, []float32{0})
	sgd, _ := NewSGD([]*tensor.Tensor{p}, 0.1, 0.9, 0, false)
	adam, _ := NewAdamW([]*tensor.Tensor{p}, 0.1, 0, 0, 0, 0)

	state, err := adam.State()
	if err != nil {
		t.Fatalf("State failed: %v", err)
	}
	if err := sgd.Restore(state); err == nil {
		t.Error("expected type mismatch error")
	}
}

func TestOptimizerSetLR(t *testing.T) {
	p := newParam(t, []float32{0}, []float32{0})
	for _, opt := range []Optimizer{
		func() Optimizer { o, _ := NewSGD([]*tensor.Tensor{p}, 0.1, 0, 0, false); return o }(),
		func() Optimizer { o, _ := NewAdamW([]*tensor.Tensor{p}, 0.1, 0, 0, 0, 0); return o }(),
	} {
		opt.SetLR(0.02)
		if opt.GetLR() != 0.02 {
			t.Errorf("lr = %v, expected 0.02", opt.GetLR())
		}
	}
}
