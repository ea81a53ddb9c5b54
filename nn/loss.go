package nn

import (
	"fmt"
	"math"

	"medtrain/tensor"
)

// CrossEntropyLoss computes softmax cross-entropy over class logits, with
// optional per-class weights for imbalanced datasets. Weighted reduction
// follows the usual convention: sum(w[y_i] * nll_i) / sum(w[y_i]).
type CrossEntropyLoss struct {
	weights []float32 // nil means uniform
}

// NewCrossEntropyLoss creates an unweighted cross-entropy criterion.
func NewCrossEntropyLoss() *CrossEntropyLoss {
	return &CrossEntropyLoss{}
}

// NewWeightedCrossEntropyLoss creates a cross-entropy criterion with one
// weight per class.
func NewWeightedCrossEntropyLoss(classWeights []float32) (*CrossEntropyLoss, error) {
	for i, w := range classWeights {
		if w < 0 {
			return nil, fmt.Errorf("class weight %d is negative: %v", i, w)
		}
	}
	return &CrossEntropyLoss{weights: classWeights}, nil
}

// Compute returns the scalar loss and its gradient with respect to logits.
func (l *CrossEntropyLoss) Compute(logits *tensor.Tensor, labels []int32) (float64, *tensor.Tensor, error) {
	if len(logits.Shape) != 2 {
		return 0, nil, fmt.Errorf("cross entropy expects 2D logits [batch, classes], got %v", logits.Shape)
	}
	batch := logits.Shape[0]
	classes := logits.Shape[1]
	if len(labels) != batch {
		return 0, nil, fmt.Errorf("label count %d does not match batch size %d", len(labels), batch)
	}
	if l.weights != nil && len(l.weights) != classes {
		return 0, nil, fmt.Errorf("have %d class weights for %d classes", len(l.weights), classes)
	}

	probs, err := Softmax(logits)
	if err != nil {
		return 0, nil, err
	}

	grad, err := tensor.Zeros(logits.Shape)
	if err != nil {
		return 0, nil, err
	}

	var totalLoss float64
	var totalWeight float64
	for i := 0; i < batch; i++ {
		y := int(labels[i])
		if y < 0 || y >= classes {
			return 0, nil, fmt.Errorf("label %d out of range [0, %d)", y, classes)
		}
		w := 1.0
		if l.weights != nil {
			w = float64(l.weights[y])
		}
		p := float64(probs.Data[i*classes+y])
		if p < 1e-12 {
			p = 1e-12
		}
		totalLoss += -w * math.Log(p)
		totalWeight += w

		for j := 0; j < classes; j++ {
			g := float64(probs.Data[i*classes+j])
			if j == y {
				g -= 1.0
			}
			grad.Data[i*classes+j] = float32(g * w)
		}
	}
	if totalWeight == 0 {
		return 0, nil, fmt.Errorf("total class weight is zero")
	}

	tensor.ScaleInPlace(grad, float32(1.0/totalWeight))
	return totalLoss / totalWeight, grad, nil
}

// Softmax applies a numerically stable row softmax to 2D logits.
func Softmax(logits *tensor.Tensor) (*tensor.Tensor, error) {
	if len(logits.Shape) != 2 {
		return nil, fmt.Errorf("softmax expects 2D logits, got %v", logits.Shape)
	}
	batch := logits.Shape[0]
	classes := logits.Shape[1]

	out := logits.Clone()
	for i := 0; i < batch; i++ {
		row := out.Data[i*classes : (i+1)*classes]
		maxVal := row[0]
		for _, v := range row[1:] {
			if v > maxVal {
				maxVal = v
			}
		}
		var sum float64
		for j, v := range row {
			e := math.Exp(float64(v - maxVal))
			row[j] = float32(e)
			sum += e
		}
		for j := range row {
			row[j] = float32(float64(row[j]) / sum)
		}
	}
	return out, nil
}
