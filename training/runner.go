package training

import (
	"context"
	"fmt"
	"math/rand"

	"medtrain/dataset"
	"medtrain/nn"
	"medtrain/tensor"
)

// Mode selects what an epoch pass does with the model.
type Mode int

const (
	// ModeTrain runs forward, backward and optimizer steps.
	ModeTrain Mode = iota
	// ModeEval runs uncertainty-aware inference with no parameter updates.
	ModeEval
)

// ProgressFunc receives per-batch progress during an epoch pass. Batch is
// 1-based; runningLoss is the mean loss over the batches seen so far.
type ProgressFunc func(batch, totalBatches int, runningLoss float64)

// RunnerConfig configures an EpochRunner.
type RunnerConfig struct {
	// AccumSteps is the number of batches whose gradients are accumulated
	// before each optimizer step. Values below 1 are treated as 1.
	AccumSteps int

	// MCSamples is the number of stochastic forward passes per evaluation
	// batch. Values below 1 disable sampling and evaluation falls back to
	// a single deterministic pass with zero uncertainty.
	MCSamples int

	// Seed drives the evaluation sampler so uncertainty estimates are
	// reproducible across runs.
	Seed int64

	// Progress, when non-nil, is called after every batch.
	Progress ProgressFunc
}

// EpochRunner executes single training or evaluation passes over a batch
// source. It owns no cross-epoch state: the trainer composes runners,
// schedulers and checkpointing into full runs.
type EpochRunner struct {
	model     nn.Module
	criterion nn.Criterion
	optimizer Optimizer
	scaler    *LossScaler
	cfg       RunnerConfig
}

// NewEpochRunner creates a runner. A nil scaler is replaced with a disabled
// pass-through scaler.
func NewEpochRunner(model nn.Module, criterion nn.Criterion, optimizer Optimizer, scaler *LossScaler, cfg RunnerConfig) *EpochRunner {
	if scaler == nil {
		scaler = NewLossScaler(false, 0)
	}
	if cfg.AccumSteps < 1 {
		cfg.AccumSteps = 1
	}
	return &EpochRunner{
		model:     model,
		criterion: criterion,
		optimizer: optimizer,
		scaler:    scaler,
		cfg:       cfg,
	}
}

// Run executes one pass over the source in the given mode. The source is
// Reset before iteration. Cancellation is checked between batches; a
// cancelled context aborts the epoch with ctx.Err().
func (r *EpochRunner) Run(ctx context.Context, source dataset.BatchSource, mode Mode) (EpochMetrics, error) {
	switch mode {
	case ModeTrain:
		return r.trainEpoch(ctx, source)
	case ModeEval:
		return r.evalEpoch(ctx, source)
	default:
		return nil, fmt.Errorf("unknown mode %d", mode)
	}
}

// trainEpoch runs forward and backward over every batch, stepping the
// optimizer every AccumSteps batches and once more for a trailing partial
// window. Each batch's loss gradient is divided by AccumSteps so the
// effective update matches one large batch. Predictions, labels and class
// probabilities are buffered across the pass so the returned metrics carry
// the full configured set, not just the loss. A malformed batch aborts the
// epoch without flushing the partial window.
func (r *EpochRunner) trainEpoch(ctx context.Context, source dataset.BatchSource) (EpochMetrics, error) {
	r.model.Train()
	source.Reset()
	r.optimizer.ZeroGrad()

	numClasses, err := r.outputClasses()
	if err != nil {
		return nil, err
	}

	totalBatches := source.Len()
	lossSum := 0.0
	batchCount := 0
	pending := 0

	var preds []int
	var labels []int
	var scores [][]float32

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		batch, err := source.Next()
		if err != nil {
			return nil, fmt.Errorf("batch %d: %w", batchCount, err)
		}
		if batch == nil {
			break
		}
		if err := r.checkBatch(batch); err != nil {
			return nil, err
		}

		logits, err := r.model.Forward(batch.Inputs)
		if err != nil {
			return nil, fmt.Errorf("%w: forward on batch %d: %v", ErrMalformedBatch, batchCount, err)
		}

		loss, grad, err := r.criterion.Compute(logits, batch.Labels)
		if err != nil {
			return nil, fmt.Errorf("loss on batch %d: %w", batchCount, err)
		}
		lossSum += loss
		batchCount++

		probs, err := rowProbs(logits, batch.Size(), numClasses)
		if err != nil {
			return nil, err
		}
		for i := 0; i < batch.Size(); i++ {
			preds = append(preds, argmax(probs[i]))
			labels = append(labels, int(batch.Labels[i]))
			scores = append(scores, probs[i])
		}

		if r.cfg.AccumSteps > 1 {
			tensor.ScaleInPlace(grad, 1.0/float32(r.cfg.AccumSteps))
		}
		r.scaler.ScaleGrad(grad)

		if err := r.model.Backward(grad); err != nil {
			return nil, fmt.Errorf("backward on batch %d: %w", batchCount-1, err)
		}
		pending++

		if pending == r.cfg.AccumSteps {
			if err := r.applyStep(); err != nil {
				return nil, err
			}
			pending = 0
		}

		if r.cfg.Progress != nil {
			r.cfg.Progress(batchCount, totalBatches, lossSum/float64(batchCount))
		}
	}

	// Trailing partial accumulation window.
	if pending > 0 {
		if err := r.applyStep(); err != nil {
			return nil, err
		}
	}

	if batchCount == 0 {
		return nil, fmt.Errorf("training pass saw no batches")
	}
	metrics, err := Compute(preds, labels, scores, numClasses, DefaultMetricNames())
	if err != nil {
		return nil, err
	}
	metrics[MetricLoss] = lossSum / float64(batchCount)
	return metrics, nil
}

// applyStep unscales accumulated gradients, steps the optimizer unless an
// overflow was detected, and clears gradients either way.
func (r *EpochRunner) applyStep() error {
	finite := r.scaler.UnscaleAndCheck(r.model.Parameters())
	if finite {
		if err := r.optimizer.Step(); err != nil {
			return fmt.Errorf("optimizer step: %w", err)
		}
	}
	r.optimizer.ZeroGrad()
	r.scaler.Update(!finite)
	return nil
}

// evalEpoch runs uncertainty-aware inference: a deterministic pass for the
// loss, then MCSamples stochastic passes whose per-class probability mean
// gives predictions and scores and whose variance gives the uncertainty
// estimate. The model is left in eval mode and no gradients are touched.
func (r *EpochRunner) evalEpoch(ctx context.Context, source dataset.BatchSource) (EpochMetrics, error) {
	r.model.Eval()
	source.Reset()

	numClasses, err := r.outputClasses()
	if err != nil {
		return nil, err
	}

	totalBatches := source.Len()
	lossSum := 0.0
	batchCount := 0
	uncertaintySum := 0.0

	var preds []int
	var labels []int
	var scores [][]float32

	sampler := rand.New(rand.NewSource(r.cfg.Seed))

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		batch, err := source.Next()
		if err != nil {
			return nil, fmt.Errorf("batch %d: %w", batchCount, err)
		}
		if batch == nil {
			break
		}
		if err := r.checkBatch(batch); err != nil {
			return nil, err
		}

		logits, err := r.model.Forward(batch.Inputs)
		if err != nil {
			return nil, fmt.Errorf("%w: forward on batch %d: %v", ErrMalformedBatch, batchCount, err)
		}
		loss, _, err := r.criterion.Compute(logits, batch.Labels)
		if err != nil {
			return nil, fmt.Errorf("loss on batch %d: %w", batchCount, err)
		}
		lossSum += loss
		batchCount++

		meanProbs, variance, err := r.sampleProbs(batch, logits, numClasses, sampler)
		if err != nil {
			return nil, err
		}

		for i := 0; i < batch.Size(); i++ {
			preds = append(preds, argmax(meanProbs[i]))
			labels = append(labels, int(batch.Labels[i]))
			scores = append(scores, meanProbs[i])
			uncertaintySum += variance[i]
		}

		if r.cfg.Progress != nil {
			r.cfg.Progress(batchCount, totalBatches, lossSum/float64(batchCount))
		}
	}

	if batchCount == 0 {
		return nil, fmt.Errorf("evaluation pass saw no batches")
	}

	metrics, err := Compute(preds, labels, scores, numClasses, DefaultMetricNames())
	if err != nil {
		return nil, err
	}
	metrics[MetricLoss] = lossSum / float64(batchCount)
	metrics[MetricUncertainty] = uncertaintySum / float64(len(preds))
	return metrics, nil
}

// sampleProbs returns the per-sample mean class probabilities and the mean
// predictive variance over MCSamples stochastic passes. When the model is
// not stochastic, or sampling is disabled, the deterministic logits are
// used with zero variance.
func (r *EpochRunner) sampleProbs(batch *dataset.Batch, deterministic *tensor.Tensor, numClasses int, sampler *rand.Rand) ([][]float32, []float64, error) {
	n := batch.Size()

	stochastic, ok := r.model.(nn.Stochastic)
	if !ok || r.cfg.MCSamples < 2 {
		probs, err := rowProbs(deterministic, n, numClasses)
		if err != nil {
			return nil, nil, err
		}
		return probs, make([]float64, n), nil
	}

	k := r.cfg.MCSamples
	sum := make([][]float64, n)
	sumSq := make([][]float64, n)
	for i := range sum {
		sum[i] = make([]float64, numClasses)
		sumSq[i] = make([]float64, numClasses)
	}

	for pass := 0; pass < k; pass++ {
		logits, err := stochastic.ForwardSample(batch.Inputs, sampler)
		if err != nil {
			return nil, nil, fmt.Errorf("stochastic pass %d: %w", pass, err)
		}
		probs, err := rowProbs(logits, n, numClasses)
		if err != nil {
			return nil, nil, err
		}
		for i := 0; i < n; i++ {
			for c := 0; c < numClasses; c++ {
				p := float64(probs[i][c])
				sum[i][c] += p
				sumSq[i][c] += p * p
			}
		}
	}

	mean := make([][]float32, n)
	variance := make([]float64, n)
	for i := 0; i < n; i++ {
		mean[i] = make([]float32, numClasses)
		varSum := 0.0
		for c := 0; c < numClasses; c++ {
			mu := sum[i][c] / float64(k)
			mean[i][c] = float32(mu)
			varSum += sumSq[i][c]/float64(k) - mu*mu
		}
		variance[i] = varSum / float64(numClasses)
	}
	return mean, variance, nil
}

// argmax returns the index of the largest value in row.
func argmax(row []float32) int {
	best := 0
	for c := 1; c < len(row); c++ {
		if row[c] > row[best] {
			best = c
		}
	}
	return best
}

// rowProbs applies a softmax to each logit row.
func rowProbs(logits *tensor.Tensor, n, numClasses int) ([][]float32, error) {
	probs, err := nn.Softmax(logits)
	if err != nil {
		return nil, err
	}
	if len(probs.Shape) != 2 || probs.Shape[0] != n || probs.Shape[1] != numClasses {
		return nil, fmt.Errorf("unexpected output shape %v for %d samples and %d classes", probs.Shape, n, numClasses)
	}
	out := make([][]float32, n)
	for i := 0; i < n; i++ {
		row := make([]float32, numClasses)
		copy(row, probs.Data[i*numClasses:(i+1)*numClasses])
		out[i] = row
	}
	return out, nil
}

// checkBatch validates batch geometry before the model sees it.
func (r *EpochRunner) checkBatch(batch *dataset.Batch) error {
	if batch.Inputs == nil || len(batch.Inputs.Shape) != 2 {
		return fmt.Errorf("%w: inputs must be a 2D tensor", ErrMalformedBatch)
	}
	if batch.Inputs.Shape[0] != len(batch.Labels) {
		return fmt.Errorf("%w: %d input rows but %d labels", ErrMalformedBatch, batch.Inputs.Shape[0], len(batch.Labels))
	}
	if len(batch.Labels) == 0 {
		return fmt.Errorf("%w: empty batch", ErrMalformedBatch)
	}
	return nil
}

// outputClasses inspects the model for its class count.
func (r *EpochRunner) outputClasses() (int, error) {
	type classCounter interface {
		NumClasses() int
	}
	cc, ok := r.model.(classCounter)
	if !ok {
		return 0, fmt.Errorf("model does not expose its class count")
	}
	if cc.NumClasses() < 2 {
		return 0, fmt.Errorf("model reports %d classes, need at least 2", cc.NumClasses())
	}
	return cc.NumClasses(), nil
}
