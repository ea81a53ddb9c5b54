package training

import (
	"errors"
	"math"
	"testing"
)

func almostEqual(a, b, tol float64) bool {
	return math.Abs(a-b) <= tol
}

func TestComputePerfectPredictions(t *testing.T) {
	preds := []int{0, 1, 2, 0, 1, 2}
	labels := []int{0, 1, 2, 0, 1, 2}
	scores := [][]float32{
		{0.9, 0.05, 0.05},
		{0.05, 0.9, 0.05},
		{0.05, 0.05, 0.9},
		{0.8, 0.1, 0.1},
		{0.1, 0.8, 0.1},
		{0.1, 0.1, 0.8},
	}

	metrics, err := Compute(preds, labels, scores, 3, DefaultMetricNames())
	if err != nil {
		t.Fatalf("Compute failed: %v", err)
	}

	if len(metrics) != len(DefaultMetricNames()) {
		t.Errorf("expected %d metrics, got %d", len(DefaultMetricNames()), len(metrics))
	}
	for _, name := range DefaultMetricNames() {
		if !almostEqual(metrics[name], 1.0, 1e-9) {
			t.Errorf("%s = %v, expected 1.0 for perfect predictions", name, metrics[name])
		}
	}
}

func TestComputeAccuracy(t *testing.T) {
	tests := []struct {
		name     string
		preds    []int
		labels   []int
		expected float64
	}{
		{"all correct", []int{0, 1, 1, 0}, []int{0, 1, 1, 0}, 1.0},
		{"all wrong", []int{1, 0, 0, 1}, []int{0, 1, 1, 0}, 0.0},
		{"half correct", []int{0, 1, 0, 1}, []int{0, 1, 1, 0}, 0.5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			metrics, err := Compute(tt.preds, tt.labels, nil, 2, []string{MetricAccuracy})
			if err != nil {
				t.Fatalf("Compute failed: %v", err)
			}
			if !almostEqual(metrics[MetricAccuracy], tt.expected, 1e-9) {
				t.Errorf("accuracy = %v, expected %v", metrics[MetricAccuracy], tt.expected)
			}
		})
	}
}

func TestComputePermutationInvariance(t *testing.T) {
	preds := []int{0, 1, 2, 1, 0, 2, 1, 0}
	labels := []int{0, 1, 1, 1, 2, 2, 0, 0}

	base, err := Compute(preds, labels, nil, 3, []string{MetricAccuracy, MetricPrecision, MetricRecall, MetricSpecificity})
	if err != nil {
		t.Fatalf("Compute failed: %v", err)
	}

	// Same pairs in reversed sample order.
	n := len(preds)
	revPreds := make([]int, n)
	revLabels := make([]int, n)
	for i := 0; i < n; i++ {
		revPreds[i] = preds[n-1-i]
		revLabels[i] = labels[n-1-i]
	}
	permuted, err := Compute(revPreds, revLabels, nil, 3, []string{MetricAccuracy, MetricPrecision, MetricRecall, MetricSpecificity})
	if err != nil {
		t.Fatalf("Compute failed: %v", err)
	}

	for name, v := range base {
		if !almostEqual(permuted[name], v, 1e-12) {
			t.Errorf("%s changed under permutation: %v vs %v", name, v, permuted[name])
		}
	}
}

func TestMacroMetricsSkipZeroSupportClasses(t *testing.T) {
	// Class 2 never appears in labels or predictions; it must not drag
	// the macro averages down.
	preds := []int{0, 1, 0, 1}
	labels := []int{0, 1, 1, 1}

	metrics, err := Compute(preds, labels, nil, 3, []string{MetricPrecision, MetricRecall})
	if err != nil {
		t.Fatalf("Compute failed: %v", err)
	}

	// Precision: class 0 = 1/2, class 1 = 2/2, class 2 skipped.
	if !almostEqual(metrics[MetricPrecision], 0.75, 1e-9) {
		t.Errorf("precision = %v, expected 0.75", metrics[MetricPrecision])
	}
	// Recall: class 0 = 1/1, class 1 = 2/3, class 2 skipped.
	if !almostEqual(metrics[MetricRecall], (1.0+2.0/3.0)/2.0, 1e-9) {
		t.Errorf("recall = %v, expected %v", metrics[MetricRecall], (1.0+2.0/3.0)/2.0)
	}
}

func TestComputeValidation(t *testing.T) {
	tests := []struct {
		name       string
		preds      []int
		labels     []int
		numClasses int
		names      []string
	}{
		{"length mismatch", []int{0, 1}, []int{0}, 2, []string{MetricAccuracy}},
		{"empty input", nil, nil, 2, []string{MetricAccuracy}},
		{"one class", []int{0}, []int{0}, 1, []string{MetricAccuracy}},
		{"label out of range", []int{0, 1}, []int{0, 5}, 2, []string{MetricAccuracy}},
		{"prediction out of range", []int{0, 9}, []int{0, 1}, 2, []string{MetricAccuracy}},
		{"unknown metric", []int{0, 1}, []int{0, 1}, 2, []string{"f1"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Compute(tt.preds, tt.labels, nil, tt.numClasses, tt.names); err == nil {
				t.Error("expected error, got nil")
			}
		})
	}
}

func TestAUROCMissingScores(t *testing.T) {
	_, err := Compute([]int{0, 1}, []int{0, 1}, nil, 2, []string{MetricAUROC})
	if !errors.Is(err, ErrMissingScores) {
		t.Errorf("expected ErrMissingScores, got %v", err)
	}
}

func TestAUROCKnownValues(t *testing.T) {
	t.Run("perfect separation", func(t *testing.T) {
		scores := [][]float32{
			{0.9, 0.1},
			{0.8, 0.2},
			{0.2, 0.8},
			{0.1, 0.9},
		}
		labels := []int{0, 0, 1, 1}
		auc, err := AUROC(scores, labels, 2)
		if err != nil {
			t.Fatalf("AUROC failed: %v", err)
		}
		if !almostEqual(auc, 1.0, 1e-9) {
			t.Errorf("auc = %v, expected 1.0", auc)
		}
	})

	t.Run("perfectly inverted", func(t *testing.T) {
		scores := [][]float32{
			{0.1, 0.9},
			{0.2, 0.8},
			{0.8, 0.2},
			{0.9, 0.1},
		}
		labels := []int{0, 0, 1, 1}
		auc, err := AUROC(scores, labels, 2)
		if err != nil {
			t.Fatalf("AUROC failed: %v", err)
		}
		if !almostEqual(auc, 0.0, 1e-9) {
			t.Errorf("auc = %v, expected 0.0", auc)
		}
	})

	t.Run("single class present returns zero", func(t *testing.T) {
		scores := [][]float32{{0.9, 0.1}, {0.8, 0.2}}
		labels := []int{0, 0}
		auc, err := AUROC(scores, labels, 2)
		if err != nil {
			t.Fatalf("AUROC failed: %v", err)
		}
		if auc != 0.0 {
			t.Errorf("auc = %v, expected 0.0 when no class has both positives and negatives", auc)
		}
	})

	t.Run("ragged score row", func(t *testing.T) {
		scores := [][]float32{{0.9, 0.1}, {0.8}}
		if _, err := AUROC(scores, []int{0, 1}, 2); err == nil {
			t.Error("expected error for ragged score row")
		}
	})
}

func TestBinaryAUROCHalfForRandomScores(t *testing.T) {
	// Identical scores for every sample: the ROC curve is the diagonal.
	scores := []float32{0.5, 0.5, 0.5, 0.5}
	labels := []int{1, 0, 1, 0}
	auc := binaryAUROC(scores, labels)
	if !almostEqual(auc, 0.5, 1e-9) {
		t.Errorf("auc = %v, expected 0.5 for uninformative scores", auc)
	}
}

func TestEpochMetricsClone(t *testing.T) {
	m := EpochMetrics{MetricLoss: 1.5, MetricAccuracy: 0.9}
	c := m.Clone()
	c[MetricLoss] = 99

	if m[MetricLoss] != 1.5 {
		t.Errorf("clone mutated the original: %v", m[MetricLoss])
	}
}
