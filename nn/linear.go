package nn

import (
	"fmt"
	"math"
	"math/rand"

	"medtrain/tensor"
)

// Linear implements a fully connected layer: y = xW + b
type Linear struct {
	weight *tensor.Tensor // [inputSize, outputSize]
	bias   *tensor.Tensor // [outputSize], nil when bias is disabled

	lastInput *tensor.Tensor
}

// NewLinear creates a new Linear layer with Xavier/Glorot uniform
// initialization.
func NewLinear(inputSize, outputSize int, bias bool) (*Linear, error) {
	if inputSize <= 0 || outputSize <= 0 {
		return nil, fmt.Errorf("invalid layer size %dx%d", inputSize, outputSize)
	}

	// W ~ U(-sqrt(6/(fan_in + fan_out)), sqrt(6/(fan_in + fan_out)))
	bound := math.Sqrt(6.0 / float64(inputSize+outputSize))

	weightData := make([]float32, inputSize*outputSize)
	for i := range weightData {
		weightData[i] = float32((globalRng.Float64()*2.0 - 1.0) * bound)
	}

	weight, err := tensor.New([]int{inputSize, outputSize}, weightData)
	if err != nil {
		return nil, fmt.Errorf("failed to create weight tensor: %v", err)
	}
	weight.SetRequiresGrad(true)

	l := &Linear{weight: weight}

	if bias {
		b, err := tensor.Zeros([]int{outputSize})
		if err != nil {
			return nil, fmt.Errorf("failed to create bias tensor: %v", err)
		}
		b.SetRequiresGrad(true)
		l.bias = b
	}

	return l, nil
}

// Forward performs the forward pass and caches the input for Backward.
func (l *Linear) Forward(input *tensor.Tensor) (*tensor.Tensor, error) {
	out, err := l.apply(input)
	if err != nil {
		return nil, err
	}
	l.lastInput = input
	return out, nil
}

func (l *Linear) apply(input *tensor.Tensor) (*tensor.Tensor, error) {
	if len(input.Shape) != 2 {
		return nil, fmt.Errorf("linear layer expects 2D input [batch, features], got shape %v", input.Shape)
	}
	if input.Shape[1] != l.weight.Shape[0] {
		return nil, fmt.Errorf("input size mismatch: expected %d, got %d", l.weight.Shape[0], input.Shape[1])
	}

	out, err := tensor.MatMul(input, l.weight)
	if err != nil {
		return nil, err
	}

	if l.bias != nil {
		batch := out.Shape[0]
		cols := out.Shape[1]
		for i := 0; i < batch; i++ {
			row := out.Data[i*cols : (i+1)*cols]
			for j := range row {
				row[j] += l.bias.Data[j]
			}
		}
	}
	return out, nil
}

func (l *Linear) forwardSample(input *tensor.Tensor, rng *rand.Rand) (*tensor.Tensor, error) {
	return l.apply(input)
}

// Backward accumulates parameter gradients and returns the gradient with
// respect to the layer input.
func (l *Linear) Backward(grad *tensor.Tensor) (*tensor.Tensor, error) {
	if l.lastInput == nil {
		return nil, fmt.Errorf("backward called before forward")
	}
	if len(grad.Shape) != 2 || grad.Shape[0] != l.lastInput.Shape[0] || grad.Shape[1] != l.weight.Shape[1] {
		return nil, fmt.Errorf("gradient shape %v does not match layer output [%d, %d]",
			grad.Shape, l.lastInput.Shape[0], l.weight.Shape[1])
	}

	// dW = x^T * dY
	inputT, err := tensor.Transpose(l.lastInput)
	if err != nil {
		return nil, err
	}
	weightGrad, err := tensor.MatMul(inputT, grad)
	if err != nil {
		return nil, fmt.Errorf("weight gradient computation failed: %v", err)
	}
	if err := tensor.AddScaledInPlace(l.weight.EnsureGrad(), weightGrad, 1.0); err != nil {
		return nil, err
	}

	// db = column sums of dY
	if l.bias != nil {
		biasGrad := l.bias.EnsureGrad()
		batch := grad.Shape[0]
		cols := grad.Shape[1]
		for i := 0; i < batch; i++ {
			row := grad.Data[i*cols : (i+1)*cols]
			for j, v := range row {
				biasGrad.Data[j] += v
			}
		}
	}

	// dX = dY * W^T
	weightT, err := tensor.Transpose(l.weight)
	if err != nil {
		return nil, err
	}
	inputGrad, err := tensor.MatMul(grad, weightT)
	if err != nil {
		return nil, fmt.Errorf("input gradient computation failed: %v", err)
	}
	return inputGrad, nil
}

// Parameters returns the trainable tensors of the layer.
func (l *Linear) Parameters() []*tensor.Tensor {
	if l.bias != nil {
		return []*tensor.Tensor{l.weight, l.bias}
	}
	return []*tensor.Tensor{l.weight}
}
