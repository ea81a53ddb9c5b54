package training

import (
	"math"
)

// LRScheduler computes the learning rate for a given epoch. Most schedulers
// are pure functions of the epoch index; stateful ones additionally
// implement StatefulScheduler so their state travels with checkpoints.
type LRScheduler interface {
	// GetLR returns the learning rate for the given epoch
	GetLR(epoch int, baseLR float64) float64

	// Name returns the scheduler name for logging
	Name() string
}

// StatefulScheduler is implemented by schedulers carrying internal state
// that must survive a checkpoint round-trip.
type StatefulScheduler interface {
	LRScheduler
	State() map[string]float64
	Restore(state map[string]float64)
}

// ConstantScheduler keeps the base learning rate unchanged.
type ConstantScheduler struct{}

func (s *ConstantScheduler) GetLR(epoch int, baseLR float64) float64 {
	return baseLR
}

func (s *ConstantScheduler) Name() string {
	return "ConstantLR"
}

// StepScheduler reduces the learning rate by a factor every StepSize
// epochs.
type StepScheduler struct {
	StepSize int
	Gamma    float64
}

// NewStepScheduler creates a step learning rate scheduler.
func NewStepScheduler(stepSize int, gamma float64) *StepScheduler {
	if stepSize <= 0 {
		stepSize = 30
	}
	if gamma <= 0 || gamma >= 1 {
		gamma = 0.1
	}
	return &StepScheduler{StepSize: stepSize, Gamma: gamma}
}

func (s *StepScheduler) GetLR(epoch int, baseLR float64) float64 {
	times := epoch / s.StepSize
	return baseLR * math.Pow(s.Gamma, float64(times))
}

func (s *StepScheduler) Name() string {
	return "StepLR"
}

// ExponentialScheduler decays the learning rate by Gamma every epoch.
type ExponentialScheduler struct {
	Gamma float64
}

// NewExponentialScheduler creates an exponential learning rate scheduler.
func NewExponentialScheduler(gamma float64) *ExponentialScheduler {
	if gamma <= 0 || gamma >= 1 {
		gamma = 0.95
	}
	return &ExponentialScheduler{Gamma: gamma}
}

func (s *ExponentialScheduler) GetLR(epoch int, baseLR float64) float64 {
	return baseLR * math.Pow(s.Gamma, float64(epoch))
}

func (s *ExponentialScheduler) Name() string {
	return "ExponentialLR"
}

// CosineAnnealingScheduler anneals the learning rate from baseLR to EtaMin
// over TMax epochs following a half cosine.
type CosineAnnealingScheduler struct {
	TMax   int
	EtaMin float64
}

// NewCosineAnnealingScheduler creates a cosine annealing scheduler.
func NewCosineAnnealingScheduler(tMax int, etaMin float64) *CosineAnnealingScheduler {
	if tMax <= 0 {
		tMax = 100
	}
	if etaMin < 0 {
		etaMin = 0
	}
	return &CosineAnnealingScheduler{TMax: tMax, EtaMin: etaMin}
}

func (s *CosineAnnealingScheduler) GetLR(epoch int, baseLR float64) float64 {
	if epoch >= s.TMax {
		return s.EtaMin
	}
	return s.EtaMin + (baseLR-s.EtaMin)*(1+math.Cos(math.Pi*float64(epoch)/float64(s.TMax)))/2
}

func (s *CosineAnnealingScheduler) Name() string {
	return "CosineAnnealingLR"
}

// PlateauScheduler reduces the learning rate when the watched validation
// metric stops improving for Patience epochs.
type PlateauScheduler struct {
	Factor    float64
	Patience  int
	Threshold float64
	Mode      string // "min" or "max"

	bestMetric  float64
	badEpochs   int
	scale       float64
	initialized bool
}

// NewPlateauScheduler creates a plateau-based scheduler.
func NewPlateauScheduler(factor float64, patience int, threshold float64, mode string) *PlateauScheduler {
	if factor <= 0 || factor >= 1 {
		factor = 0.1
	}
	if patience <= 0 {
		patience = 10
	}
	if threshold < 0 {
		threshold = 1e-4
	}
	if mode != "min" && mode != "max" {
		mode = "max"
	}
	return &PlateauScheduler{
		Factor:    factor,
		Patience:  patience,
		Threshold: threshold,
		Mode:      mode,
		scale:     1.0,
	}
}

// Observe feeds the epoch's validation metric into the scheduler. Called
// once per epoch before GetLR.
func (s *PlateauScheduler) Observe(metric float64) {
	if !s.initialized {
		s.bestMetric = metric
		s.initialized = true
		return
	}

	improved := false
	if s.Mode == "min" {
		improved = metric < s.bestMetric-s.Threshold
	} else {
		improved = metric > s.bestMetric+s.Threshold
	}

	if improved {
		s.bestMetric = metric
		s.badEpochs = 0
	} else {
		s.badEpochs++
		if s.badEpochs >= s.Patience {
			s.scale *= s.Factor
			s.badEpochs = 0
		}
	}
}

func (s *PlateauScheduler) GetLR(epoch int, baseLR float64) float64 {
	return baseLR * s.scale
}

func (s *PlateauScheduler) Name() string {
	return "ReduceLROnPlateau"
}

// State returns the scheduler's internal state for checkpointing.
func (s *PlateauScheduler) State() map[string]float64 {
	initialized := 0.0
	if s.initialized {
		initialized = 1.0
	}
	return map[string]float64{
		"best_metric": s.bestMetric,
		"bad_epochs":  float64(s.badEpochs),
		"scale":       s.scale,
		"initialized": initialized,
	}
}

// Restore reinstates checkpointed state. Missing keys leave the
// corresponding defaults untouched.
func (s *PlateauScheduler) Restore(state map[string]float64) {
	if v, ok := state["best_metric"]; ok {
		s.bestMetric = v
	}
	if v, ok := state["bad_epochs"]; ok {
		s.badEpochs = int(v)
	}
	if v, ok := state["scale"]; ok && v > 0 {
		s.scale = v
	}
	if v, ok := state["initialized"]; ok {
		s.initialized = v != 0
	}
}
