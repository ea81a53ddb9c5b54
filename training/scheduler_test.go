package training

import (
	"math"
	"testing"
)

func TestConstantScheduler(t *testing.T) {
	s := &ConstantScheduler{}
	for _, epoch := range []int{0, 1, 50, 500} {
		if lr := s.GetLR(epoch, 0.01); lr != 0.01 {
			t.Errorf("epoch %d: lr = %v, expected 0.01", epoch, lr)
		}
	}
}

func TestStepScheduler(t *testing.T) {
	s := NewStepScheduler(10, 0.5)

	tests := []struct {
		epoch    int
		expected float64
	}{
		{0, 0.1},
		{9, 0.1},
		{10, 0.05},
		{19, 0.05},
		{20, 0.025},
	}
	for _, tt := range tests {
		if lr := s.GetLR(tt.epoch, 0.1); !almostEqual(lr, tt.expected, 1e-12) {
			t.Errorf("epoch %d: lr = %v, expected %v", tt.epoch, lr, tt.expected)
		}
	}
}

func TestExponentialScheduler(t *testing.T) {
	s := NewExponentialScheduler(0.9)

	if lr := s.GetLR(0, 1.0); !almostEqual(lr, 1.0, 1e-12) {
		t.Errorf("epoch 0: lr = %v, expected 1.0", lr)
	}
	if lr := s.GetLR(2, 1.0); !almostEqual(lr, 0.81, 1e-12) {
		t.Errorf("epoch 2: lr = %v, expected 0.81", lr)
	}
}

func TestCosineAnnealingScheduler(t *testing.T) {
	s := NewCosineAnnealingScheduler(100, 0.001)
	baseLR := 0.1

	if lr := s.GetLR(0, baseLR); !almostEqual(lr, baseLR, 1e-12) {
		t.Errorf("epoch 0: lr = %v, expected base rate %v", lr, baseLR)
	}

	mid := s.GetLR(50, baseLR)
	expected := 0.001 + (baseLR-0.001)/2
	if !almostEqual(mid, expected, 1e-9) {
		t.Errorf("epoch 50: lr = %v, expected %v", mid, expected)
	}

	// Annealed to the floor at and past TMax.
	for _, epoch := range []int{100, 150} {
		if lr := s.GetLR(epoch, baseLR); !almostEqual(lr, 0.001, 1e-12) {
			t.Errorf("epoch %d: lr = %v, expected eta_min 0.001", epoch, lr)
		}
	}

	// Monotonically non-increasing across the schedule.
	prev := math.Inf(1)
	for epoch := 0; epoch <= 100; epoch++ {
		lr := s.GetLR(epoch, baseLR)
		if lr > prev+1e-12 {
			t.Fatalf("lr increased at epoch %d: %v -> %v", epoch, prev, lr)
		}
		prev = lr
	}
}

func TestPlateauScheduler(t *testing.T) {
	s := NewPlateauScheduler(0.5, 2, 1e-4, "max")
	baseLR := 0.1

	s.Observe(0.70)
	if lr := s.GetLR(0, baseLR); !almostEqual(lr, baseLR, 1e-12) {
		t.Errorf("lr = %v, expected unchanged %v", lr, baseLR)
	}

	// Two epochs without improvement trip the reduction.
	s.Observe(0.69)
	s.Observe(0.70)
	if lr := s.GetLR(2, baseLR); !almostEqual(lr, 0.05, 1e-12) {
		t.Errorf("lr = %v, expected 0.05 after plateau", lr)
	}

	// Improvement resets the bad-epoch counter but keeps the scale.
	s.Observe(0.75)
	s.Observe(0.74)
	if lr := s.GetLR(4, baseLR); !almostEqual(lr, 0.05, 1e-12) {
		t.Errorf("lr = %v, expected scale retained", lr)
	}
}

func TestPlateauSchedulerMinMode(t *testing.T) {
	s := NewPlateauScheduler(0.1, 1, 1e-4, "min")

	s.Observe(1.0)
	s.Observe(0.5) // improvement in min mode
	if lr := s.GetLR(1, 0.1); !almostEqual(lr, 0.1, 1e-12) {
		t.Errorf("lr = %v, expected no reduction after improvement", lr)
	}
	s.Observe(0.6) // regression trips patience of 1
	if lr := s.GetLR(2, 0.1); !almostEqual(lr, 0.01, 1e-12) {
		t.Errorf("lr = %v, expected 0.01", lr)
	}
}

func TestPlateauSchedulerStateRoundTrip(t *testing.T) {
	s := NewPlateauScheduler(0.5, 2, 1e-4, "max")
	s.Observe(0.70)
	s.Observe(0.65)
	s.Observe(0.64)

	restored := NewPlateauScheduler(0.5, 2, 1e-4, "max")
	restored.Restore(s.State())

	// Both continue identically from here.
	s.Observe(0.63)
	restored.Observe(0.63)
	if a, b := s.GetLR(4, 0.1), restored.GetLR(4, 0.1); !almostEqual(a, b, 1e-12) {
		t.Errorf("restored scheduler diverged: %v vs %v", a, b)
	}
}

func TestSchedulerDefaults(t *testing.T) {
	if s := NewStepScheduler(0, 2.0); s.StepSize != 30 || s.Gamma != 0.1 {
		t.Errorf("step defaults not applied: %+v", s)
	}
	if s := NewExponentialScheduler(-1); s.Gamma != 0.95 {
		t.Errorf("exponential default not applied: %+v", s)
	}
	if s := NewCosineAnnealingScheduler(0, -1); s.TMax != 100 || s.EtaMin != 0 {
		t.Errorf("cosine defaults not applied: %+v", s)
	}
	if s := NewPlateauScheduler(0, 0, -1, "sideways"); s.Factor != 0.1 || s.Patience != 10 || s.Mode != "max" {
		t.Errorf("plateau defaults not applied: %+v", s)
	}
}
