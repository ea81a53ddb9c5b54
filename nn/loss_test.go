package nn

import (
	"math"
	"testing"

	"medtrain/tensor"
)

func TestSoftmaxRowsSumToOne(t *testing.T) {
	logits, _ := tensor.New([]int{2, 3}, []float32{1, 2, 3, -1, 0, 1})
	probs, err := Softmax(logits)
	if err != nil {
		t.Fatalf("Softmax failed: %v", err)
	}

	for i := 0; i < 2; i++ {
		var sum float64
		for j := 0; j < 3; j++ {
			p := float64(probs.Data[i*3+j])
			if p <= 0 || p >= 1 {
				t.Errorf("prob[%d][%d] = %v outside (0, 1)", i, j, p)
			}
			sum += p
		}
		if math.Abs(sum-1.0) > 1e-6 {
			t.Errorf("row %d sums to %v", i, sum)
		}
	}
}

func TestSoftmaxNumericalStability(t *testing.T) {
	// Large logits must not overflow to NaN.
	logits, _ := tensor.New([]int{1, 2}, []float32{1000, 1001})
	probs, err := Softmax(logits)
	if err != nil {
		t.Fatalf("Softmax failed: %v", err)
	}
	for _, p := range probs.Data {
		if math.IsNaN(float64(p)) || math.IsInf(float64(p), 0) {
			t.Fatalf("softmax produced non-finite value %v", p)
		}
	}
}

func TestCrossEntropyUniformLogits(t *testing.T) {
	// Equal logits over k classes give loss ln(k).
	logits, _ := tensor.New([]int{1, 4}, []float32{0, 0, 0, 0})
	loss, grad, err := NewCrossEntropyLoss().Compute(logits, []int32{2})
	if err != nil {
		t.Fatalf("Compute failed: %v", err)
	}

	if math.Abs(loss-math.Log(4)) > 1e-6 {
		t.Errorf("loss = %v, expected ln(4) = %v", loss, math.Log(4))
	}

	// Gradient is p - onehot: 0.25 everywhere except -0.75 at the label.
	for j, g := range grad.Data {
		expected := 0.25
		if j == 2 {
			expected = -0.75
		}
		if math.Abs(float64(g)-expected) > 1e-6 {
			t.Errorf("grad[%d] = %v, expected %v", j, g, expected)
		}
	}
}

func TestCrossEntropyConfidentCorrect(t *testing.T) {
	logits, _ := tensor.New([]int{1, 2}, []float32{10, -10})
	loss, _, err := NewCrossEntropyLoss().Compute(logits, []int32{0})
	if err != nil {
		t.Fatalf("Compute failed: %v", err)
	}
	if loss > 1e-6 {
		t.Errorf("loss = %v, expected near zero for confident correct prediction", loss)
	}
}

func TestWeightedCrossEntropy(t *testing.T) {
	logits, _ := tensor.New([]int{2, 2}, []float32{0, 0, 0, 0})
	criterion, err := NewWeightedCrossEntropyLoss([]float32{0.75, 0.25})
	if err != nil {
		t.Fatalf("NewWeightedCrossEntropyLoss failed: %v", err)
	}

	loss, grad, err := criterion.Compute(logits, []int32{0, 1})
	if err != nil {
		t.Fatalf("Compute failed: %v", err)
	}

	// Both samples have nll ln(2); weighted mean is still ln(2).
	if math.Abs(loss-math.Log(2)) > 1e-6 {
		t.Errorf("loss = %v, expected ln(2)", loss)
	}

	// Sample 0 carries three times the gradient weight of sample 1.
	ratio := math.Abs(float64(grad.Data[0] / grad.Data[2]))
	if math.Abs(ratio-3.0) > 1e-4 {
		t.Errorf("gradient weight ratio = %v, expected 3", ratio)
	}
}

func TestWeightedCrossEntropyRejectsNegativeWeights(t *testing.T) {
	if _, err := NewWeightedCrossEntropyLoss([]float32{0.5, -0.1}); err == nil {
		t.Error("expected error for negative class weight")
	}
}

func TestCrossEntropyValidation(t *testing.T) {
	tests := []struct {
		name   string
		shape  []int
		data   []float32
		labels []int32
	}{
		{"1D logits", []int{2}, []float32{0, 0}, []int32{0}},
		{"label count mismatch", []int{2, 2}, []float32{0, 0, 0, 0}, []int32{0}},
		{"label out of range", []int{1, 2}, []float32{0, 0}, []int32{5}},
		{"negative label", []int{1, 2}, []float32{0, 0}, []int32{-1}},
	}

	criterion := NewCrossEntropyLoss()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logits, err := tensor.New(tt.shape, tt.data)
			if err != nil {
				t.Fatalf("tensor.New failed: %v", err)
			}
			if _, _, err := criterion.Compute(logits, tt.labels); err == nil {
				t.Error("expected error, got nil")
			}
		})
	}
}
