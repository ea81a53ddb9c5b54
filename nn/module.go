package nn

import (
	"math/rand"

	"medtrain/tensor"
)

// Global random source for deterministic weight initialization
var globalRng *rand.Rand = rand.New(rand.NewSource(1))

// SetRandomSeed sets the global random seed for deterministic weight
// initialization and training-mode dropout masks.
func SetRandomSeed(seed int64) {
	globalRng = rand.New(rand.NewSource(seed))
}

// Module is the opaque model contract consumed by the training loop.
// Forward produces logits, Backward accumulates parameter gradients from the
// loss gradient, and Parameters exposes the trainable tensors.
type Module interface {
	Forward(input *tensor.Tensor) (*tensor.Tensor, error)
	Backward(grad *tensor.Tensor) error
	Parameters() []*tensor.Tensor
	Train()            // Sets module to training mode
	Eval()             // Sets module to evaluation mode
	IsTraining() bool  // Returns true if in training mode
}

// Stochastic is implemented by modules that support Monte Carlo sampling:
// a forward pass with regularization masks drawn from the supplied source,
// independent of the training/eval flag. Repeated calls with independent
// draws yield an uncertainty estimate via the sample variance.
type Stochastic interface {
	ForwardSample(input *tensor.Tensor, rng *rand.Rand) (*tensor.Tensor, error)
}

// Criterion computes a scalar loss and its gradient with respect to the
// logits in a single pass.
type Criterion interface {
	Compute(logits *tensor.Tensor, labels []int32) (float64, *tensor.Tensor, error)
}

// Layer is a single differentiable stage inside a composite module.
type Layer interface {
	Forward(input *tensor.Tensor) (*tensor.Tensor, error)
	Backward(grad *tensor.Tensor) (*tensor.Tensor, error)
	Parameters() []*tensor.Tensor
}

// sampled is implemented by layers whose stochastic forward differs from the
// deterministic one.
type sampled interface {
	forwardSample(input *tensor.Tensor, rng *rand.Rand) (*tensor.Tensor, error)
}
