package nn

import (
	"fmt"
	"math/rand"

	"medtrain/tensor"
)

// Classifier is the reference model: a small MLP with a dropout layer ahead
// of the output head. The dropout layer doubles as the stochastic sub-layer
// used for Monte Carlo uncertainty estimation.
type Classifier struct {
	layers   []Layer
	dropout  *Dropout
	training bool

	inputSize  int
	hiddenSize int
	numClasses int
}

// NewClassifier builds an inputSize -> hiddenSize -> numClasses network.
func NewClassifier(inputSize, hiddenSize, numClasses int, dropoutRate float64) (*Classifier, error) {
	if numClasses < 2 {
		return nil, fmt.Errorf("classifier needs at least 2 classes, got %d", numClasses)
	}

	hidden, err := NewLinear(inputSize, hiddenSize, true)
	if err != nil {
		return nil, fmt.Errorf("failed to create hidden layer: %v", err)
	}
	drop, err := NewDropout(dropoutRate)
	if err != nil {
		return nil, err
	}
	head, err := NewLinear(hiddenSize, numClasses, true)
	if err != nil {
		return nil, fmt.Errorf("failed to create output layer: %v", err)
	}

	return &Classifier{
		layers:     []Layer{hidden, NewReLU(), drop, head},
		dropout:    drop,
		training:   true,
		inputSize:  inputSize,
		numClasses: numClasses,
		hiddenSize: hiddenSize,
	}, nil
}

// Forward runs the full network and returns logits [batch, numClasses].
func (c *Classifier) Forward(input *tensor.Tensor) (*tensor.Tensor, error) {
	out := input
	var err error
	for i, layer := range c.layers {
		out, err = layer.Forward(out)
		if err != nil {
			return nil, fmt.Errorf("layer %d forward failed: %v", i, err)
		}
	}
	return out, nil
}

// ForwardSample runs one stochastic forward pass with dropout masks drawn
// from rng, regardless of training mode. Activations cached by Forward are
// left untouched.
func (c *Classifier) ForwardSample(input *tensor.Tensor, rng *rand.Rand) (*tensor.Tensor, error) {
	out := input
	var err error
	for i, layer := range c.layers {
		if s, ok := layer.(sampled); ok {
			out, err = s.forwardSample(out, rng)
		} else {
			out, err = layer.Forward(out)
		}
		if err != nil {
			return nil, fmt.Errorf("layer %d stochastic forward failed: %v", i, err)
		}
	}
	return out, nil
}

// Backward propagates the loss gradient through the network, accumulating
// parameter gradients.
func (c *Classifier) Backward(grad *tensor.Tensor) error {
	var err error
	for i := len(c.layers) - 1; i >= 0; i-- {
		grad, err = c.layers[i].Backward(grad)
		if err != nil {
			return fmt.Errorf("layer %d backward failed: %v", i, err)
		}
	}
	return nil
}

// Parameters returns all trainable tensors in layer order.
func (c *Classifier) Parameters() []*tensor.Tensor {
	var params []*tensor.Tensor
	for _, layer := range c.layers {
		params = append(params, layer.Parameters()...)
	}
	return params
}

// Train sets the module to training mode.
func (c *Classifier) Train() {
	c.training = true
	c.dropout.SetTraining(true)
}

// Eval sets the module to evaluation mode.
func (c *Classifier) Eval() {
	c.training = false
	c.dropout.SetTraining(false)
}

// IsTraining returns true if in training mode.
func (c *Classifier) IsTraining() bool {
	return c.training
}

// NumClasses returns the size of the output head.
func (c *Classifier) NumClasses() int {
	return c.numClasses
}

// InputSize returns the expected feature dimension.
func (c *Classifier) InputSize() int {
	return c.inputSize
}
