package training

import (
	"fmt"
	"math"
	"sync"

	"medtrain/checkpoints"
	"medtrain/tensor"
)

// Optimizer updates model parameters from their accumulated gradients.
// State exports optimizer internals for checkpointing and Restore loads
// them back; both are keyed positionally to the parameter list.
type Optimizer interface {
	Step() error       // Updates model parameters based on gradients
	ZeroGrad()         // Resets gradients to zero for all parameters
	GetLR() float64    // Gets current learning rate
	SetLR(lr float64)  // Sets learning rate
	State() (*checkpoints.OptimizerState, error)
	Restore(state *checkpoints.OptimizerState) error
}

func slotFromTensor(name string, t *tensor.Tensor) checkpoints.StateTensor {
	data := make([]float32, len(t.Data))
	copy(data, t.Data)
	return checkpoints.StateTensor{
		Name:  name,
		Shape: append([]int(nil), t.Shape...),
		Data:  data,
	}
}

// SGD implements stochastic gradient descent with optional momentum,
// Nesterov acceleration and L2 weight decay.
type SGD struct {
	parameters   []*tensor.Tensor
	learningRate float64
	momentum     float64
	weightDecay  float64
	nesterov     bool
	velocities   []*tensor.Tensor
	mutex        sync.RWMutex
}

// NewSGD creates a new SGD optimizer over the given parameters.
func NewSGD(parameters []*tensor.Tensor, lr, momentum, weightDecay float64, nesterov bool) (*SGD, error) {
	if lr <= 0 {
		return nil, fmt.Errorf("learning rate must be positive, got %v", lr)
	}
	sgd := &SGD{
		parameters:   parameters,
		learningRate: lr,
		momentum:     momentum,
		weightDecay:  weightDecay,
		nesterov:     nesterov,
	}
	if momentum > 0 {
		sgd.velocities = make([]*tensor.Tensor, len(parameters))
		for i, p := range parameters {
			v, err := tensor.Zeros(p.Shape)
			if err != nil {
				return nil, fmt.Errorf("velocity initialization failed: %v", err)
			}
			sgd.velocities[i] = v
		}
	}
	return sgd, nil
}

// Step performs a single optimization step.
func (sgd *SGD) Step() error {
	sgd.mutex.Lock()
	defer sgd.mutex.Unlock()

	for i, param := range sgd.parameters {
		if !param.RequiresGrad() || param.Grad() == nil {
			continue
		}
		grad := param.Grad()

		for j := range param.Data {
			g := float64(grad.Data[j])
			if sgd.weightDecay > 0 {
				g += sgd.weightDecay * float64(param.Data[j])
			}

			if sgd.momentum > 0 {
				v := sgd.momentum*float64(sgd.velocities[i].Data[j]) + g
				sgd.velocities[i].Data[j] = float32(v)
				if sgd.nesterov {
					g += sgd.momentum * v
				} else {
					g = v
				}
			}

			param.Data[j] -= float32(sgd.learningRate * g)
		}
	}
	return nil
}

// ZeroGrad resets gradients to zero for all parameters.
func (sgd *SGD) ZeroGrad() {
	tensor.ZeroGrads(sgd.parameters)
}

// GetLR returns the current learning rate.
func (sgd *SGD) GetLR() float64 {
	sgd.mutex.RLock()
	defer sgd.mutex.RUnlock()
	return sgd.learningRate
}

// SetLR sets the learning rate.
func (sgd *SGD) SetLR(lr float64) {
	sgd.mutex.Lock()
	defer sgd.mutex.Unlock()
	sgd.learningRate = lr
}

// State exports momentum buffers for checkpointing.
func (sgd *SGD) State() (*checkpoints.OptimizerState, error) {
	sgd.mutex.RLock()
	defer sgd.mutex.RUnlock()

	state := &checkpoints.OptimizerState{
		Type: "SGD",
		Parameters: map[string]float64{
			"lr":           sgd.learningRate,
			"momentum":     sgd.momentum,
			"weight_decay": sgd.weightDecay,
		},
	}
	for i, v := range sgd.velocities {
		state.Slots = append(state.Slots, slotFromTensor(fmt.Sprintf("velocity_%d", i), v))
	}
	return state, nil
}

// Restore loads momentum buffers from a checkpoint.
func (sgd *SGD) Restore(state *checkpoints.OptimizerState) error {
	if state.Type != "SGD" {
		return fmt.Errorf("optimizer type mismatch: checkpoint has %s, expected SGD", state.Type)
	}
	sgd.mutex.Lock()
	defer sgd.mutex.Unlock()

	if lr, ok := state.Parameters["lr"]; ok {
		sgd.learningRate = lr
	}
	if len(state.Slots) != len(sgd.velocities) {
		return fmt.Errorf("velocity slot count mismatch: checkpoint has %d, optimizer has %d",
			len(state.Slots), len(sgd.velocities))
	}
	for i, slot := range state.Slots {
		if err := sgd.velocities[i].SetData(slot.Data); err != nil {
			return fmt.Errorf("failed to restore %s: %v", slot.Name, err)
		}
	}
	return nil
}

// AdamW implements Adam with decoupled weight decay.
type AdamW struct {
	parameters  []*tensor.Tensor
	lr          float64
	beta1       float64
	beta2       float64
	eps         float64
	weightDecay float64
	step        int64
	m           []*tensor.Tensor // First moment estimates
	v           []*tensor.Tensor // Second moment estimates
	mutex       sync.RWMutex
}

// NewAdamW creates an AdamW optimizer with the usual defaults when betas or
// eps are zero.
func NewAdamW(parameters []*tensor.Tensor, lr, beta1, beta2, eps, weightDecay float64) (*AdamW, error) {
	if lr <= 0 {
		return nil, fmt.Errorf("learning rate must be positive, got %v", lr)
	}
	if beta1 == 0 {
		beta1 = 0.9
	}
	if beta2 == 0 {
		beta2 = 0.999
	}
	if eps == 0 {
		eps = 1e-8
	}

	adam := &AdamW{
		parameters:  parameters,
		lr:          lr,
		beta1:       beta1,
		beta2:       beta2,
		eps:         eps,
		weightDecay: weightDecay,
		m:           make([]*tensor.Tensor, len(parameters)),
		v:           make([]*tensor.Tensor, len(parameters)),
	}
	for i, p := range parameters {
		m, err := tensor.Zeros(p.Shape)
		if err != nil {
			return nil, fmt.Errorf("first moment initialization failed: %v", err)
		}
		v, err := tensor.Zeros(p.Shape)
		if err != nil {
			return nil, fmt.Errorf("second moment initialization failed: %v", err)
		}
		adam.m[i] = m
		adam.v[i] = v
	}
	return adam, nil
}

// Step performs a single optimization step.
func (a *AdamW) Step() error {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	a.step++
	bias1 := 1.0 - math.Pow(a.beta1, float64(a.step))
	bias2 := 1.0 - math.Pow(a.beta2, float64(a.step))

	for i, param := range a.parameters {
		if !param.RequiresGrad() || param.Grad() == nil {
			continue
		}
		grad := param.Grad()
		m := a.m[i]
		v := a.v[i]

		for j := range param.Data {
			g := float64(grad.Data[j])

			mj := a.beta1*float64(m.Data[j]) + (1.0-a.beta1)*g
			vj := a.beta2*float64(v.Data[j]) + (1.0-a.beta2)*g*g
			m.Data[j] = float32(mj)
			v.Data[j] = float32(vj)

			mHat := mj / bias1
			vHat := vj / bias2

			update := a.lr * mHat / (math.Sqrt(vHat) + a.eps)
			// Decoupled weight decay: applied to the weights directly,
			// not mixed into the gradient.
			if a.weightDecay > 0 {
				update += a.lr * a.weightDecay * float64(param.Data[j])
			}
			param.Data[j] -= float32(update)
		}
	}
	return nil
}

// ZeroGrad resets gradients to zero for all parameters.
func (a *AdamW) ZeroGrad() {
	tensor.ZeroGrads(a.parameters)
}

// GetLR returns the current learning rate.
func (a *AdamW) GetLR() float64 {
	a.mutex.RLock()
	defer a.mutex.RUnlock()
	return a.lr
}

// SetLR sets the learning rate.
func (a *AdamW) SetLR(lr float64) {
	a.mutex.Lock()
	defer a.mutex.Unlock()
	a.lr = lr
}

// State exports step count and moment estimates for checkpointing.
func (a *AdamW) State() (*checkpoints.OptimizerState, error) {
	a.mutex.RLock()
	defer a.mutex.RUnlock()

	state := &checkpoints.OptimizerState{
		Type: "AdamW",
		Step: a.step,
		Parameters: map[string]float64{
			"lr":           a.lr,
			"beta1":        a.beta1,
			"beta2":        a.beta2,
			"eps":          a.eps,
			"weight_decay": a.weightDecay,
		},
	}
	for i := range a.parameters {
		state.Slots = append(state.Slots, slotFromTensor(fmt.Sprintf("m_%d", i), a.m[i]))
		state.Slots = append(state.Slots, slotFromTensor(fmt.Sprintf("v_%d", i), a.v[i]))
	}
	return state, nil
}

// Restore loads step count and moment estimates from a checkpoint.
func (a *AdamW) Restore(state *checkpoints.OptimizerState) error {
	if state.Type != "AdamW" {
		return fmt.Errorf("optimizer type mismatch: checkpoint has %s, expected AdamW", state.Type)
	}
	a.mutex.Lock()
	defer a.mutex.Unlock()

	if len(state.Slots) != 2*len(a.parameters) {
		return fmt.Errorf("moment slot count mismatch: checkpoint has %d, optimizer needs %d",
			len(state.Slots), 2*len(a.parameters))
	}

	a.step = state.Step
	if lr, ok := state.Parameters["lr"]; ok {
		a.lr = lr
	}
	for i := range a.parameters {
		if err := a.m[i].SetData(state.Slots[2*i].Data); err != nil {
			return fmt.Errorf("failed to restore first moment %d: %v", i, err)
		}
		if err := a.v[i].SetData(state.Slots[2*i+1].Data); err != nil {
			return fmt.Errorf("failed to restore second moment %d: %v", i, err)
		}
	}
	return nil
}
