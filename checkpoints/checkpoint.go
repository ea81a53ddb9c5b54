package checkpoints

import (
	"fmt"
	"time"

	"medtrain/tensor"
)

// SchemaVersion is bumped whenever the on-disk layout changes
// incompatibly.
const SchemaVersion = 1

// Checkpoint is a durable snapshot of training state: enough to resume a
// run from the epoch it was written at.
type Checkpoint struct {
	SchemaVersion int     `json:"schema_version"`
	Epoch         int     `json:"epoch"`
	BestMetric    float64 `json:"best_metric"`

	Weights        []WeightTensor     `json:"weights"`
	OptimizerState *OptimizerState    `json:"optimizer_state,omitempty"`
	SchedulerState map[string]float64 `json:"scheduler_state,omitempty"`

	Metadata Metadata `json:"metadata"`
}

// WeightTensor is a model parameter with its data.
type WeightTensor struct {
	Name  string    `json:"name"`
	Shape []int     `json:"shape"`
	Data  []float32 `json:"data"`
}

// OptimizerState captures optimizer-specific state (step count, momentum
// and variance slots).
type OptimizerState struct {
	Type       string             `json:"type"` // "SGD", "AdamW"
	Step       int64              `json:"step"`
	Parameters map[string]float64 `json:"parameters,omitempty"`
	Slots      []StateTensor      `json:"slots,omitempty"`
}

// StateTensor is an optimizer state tensor (momentum, variance, etc.).
type StateTensor struct {
	Name  string    `json:"name"`
	Shape []int     `json:"shape"`
	Data  []float32 `json:"data"`
}

// Metadata describes the run a checkpoint belongs to.
type Metadata struct {
	RunID       string    `json:"run_id,omitempty"`
	Framework   string    `json:"framework"`
	CreatedAt   time.Time `json:"created_at"`
	Description string    `json:"description,omitempty"`
}

// ExtractWeights copies parameter tensors into serializable form. Names are
// positional so loading requires the same parameter order.
func ExtractWeights(params []*tensor.Tensor) []WeightTensor {
	weights := make([]WeightTensor, len(params))
	for i, p := range params {
		data := make([]float32, len(p.Data))
		copy(data, p.Data)
		weights[i] = WeightTensor{
			Name:  fmt.Sprintf("param_%d", i),
			Shape: append([]int(nil), p.Shape...),
			Data:  data,
		}
	}
	return weights
}

// LoadWeights copies saved weights back into parameter tensors in place.
func LoadWeights(weights []WeightTensor, params []*tensor.Tensor) error {
	if len(weights) != len(params) {
		return fmt.Errorf("weight count mismatch: %d saved, %d parameters", len(weights), len(params))
	}

	for i, p := range params {
		w := weights[i]
		if len(w.Shape) != len(p.Shape) {
			return fmt.Errorf("shape mismatch for %s: saved %v, parameter %v", w.Name, w.Shape, p.Shape)
		}
		for j, dim := range p.Shape {
			if dim != w.Shape[j] {
				return fmt.Errorf("dimension mismatch for %s at index %d: saved %d, parameter %d",
					w.Name, j, w.Shape[j], dim)
			}
		}
		if err := p.SetData(w.Data); err != nil {
			return fmt.Errorf("failed to restore %s: %v", w.Name, err)
		}
	}
	return nil
}
