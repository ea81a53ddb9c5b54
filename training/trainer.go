package training

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"medtrain/checkpoints"
	"medtrain/dataset"
	"medtrain/nn"
)

// epochRunner is the slice of EpochRunner the trainer depends on.
type epochRunner interface {
	Run(ctx context.Context, source dataset.BatchSource, mode Mode) (EpochMetrics, error)
}

// TrainerConfig configures a full training run.
type TrainerConfig struct {
	// Epochs is the total number of epochs to train for.
	Epochs int

	// BaseLR is the learning rate before scheduling.
	BaseLR float64

	// TargetMetric is the validation metric that drives best-model
	// checkpointing, e.g. "auroc". Improvement is strictly greater-than.
	TargetMetric string

	// CheckpointPath is where the best model is saved. Empty disables
	// checkpointing.
	CheckpointPath string

	// EarlyStoppingPatience stops the run after this many epochs without
	// improvement on the target metric. Zero disables early stopping.
	EarlyStoppingPatience int

	// RunID identifies the run in events and checkpoints. Generated when
	// empty.
	RunID string
}

// Trainer orchestrates a training run: epoch passes, learning rate
// scheduling, best-model checkpointing, early stopping, event emission and
// the final held-out evaluation.
type Trainer struct {
	runner    epochRunner
	model     nn.Module
	optimizer Optimizer
	scheduler LRScheduler
	store     *checkpoints.Store
	emit      *emitter
	logger    *zap.Logger
	cfg       TrainerConfig

	startEpoch int
	bestMetric float64
}

// NewTrainer assembles a trainer. A nil scheduler keeps the base learning
// rate constant; a nil logger disables logging.
func NewTrainer(runner *EpochRunner, optimizer Optimizer, scheduler LRScheduler, sinks []MetricSink, logger *zap.Logger, cfg TrainerConfig) (*Trainer, error) {
	if runner == nil {
		return nil, fmt.Errorf("runner is required")
	}
	if cfg.Epochs <= 0 {
		return nil, fmt.Errorf("epochs must be positive, got %d", cfg.Epochs)
	}
	if cfg.BaseLR <= 0 {
		return nil, fmt.Errorf("base learning rate must be positive, got %v", cfg.BaseLR)
	}
	if cfg.TargetMetric == "" {
		cfg.TargetMetric = MetricAUROC
	}
	if cfg.RunID == "" {
		cfg.RunID = uuid.NewString()
	}
	if scheduler == nil {
		scheduler = &ConstantScheduler{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Trainer{
		runner:     runner,
		model:      runner.model,
		optimizer:  optimizer,
		scheduler:  scheduler,
		store:      checkpoints.NewStore(),
		emit:       newEmitter(sinks, logger),
		logger:     logger,
		cfg:        cfg,
		bestMetric: math.Inf(-1),
	}, nil
}

// RunID returns the identifier of this run.
func (t *Trainer) RunID() string {
	return t.cfg.RunID
}

// BestMetric returns the best target metric value seen so far.
func (t *Trainer) BestMetric() float64 {
	return t.bestMetric
}

// Fit trains the model and returns the final test metrics, or nil test
// metrics when no test source is given. Validation runs every epoch and
// drives checkpointing, plateau scheduling and early stopping. The epochs
// in events and logs are 0-based.
func (t *Trainer) Fit(ctx context.Context, train, val, test dataset.BatchSource) (EpochMetrics, error) {
	if train == nil || val == nil {
		return nil, fmt.Errorf("training and validation sources are required")
	}

	t.logger.Info("starting run",
		zap.String("run_id", t.cfg.RunID),
		zap.Int("start_epoch", t.startEpoch),
		zap.Int("epochs", t.cfg.Epochs),
		zap.String("scheduler", t.scheduler.Name()),
		zap.String("target_metric", t.cfg.TargetMetric))

	badEpochs := 0
	for epoch := t.startEpoch; epoch < t.cfg.Epochs; epoch++ {
		started := time.Now()

		lr := t.scheduler.GetLR(epoch, t.cfg.BaseLR)
		t.optimizer.SetLR(lr)

		trainMetrics, err := t.runner.Run(ctx, train, ModeTrain)
		if err != nil {
			return nil, fmt.Errorf("epoch %d training: %w", epoch, err)
		}
		valMetrics, err := t.runner.Run(ctx, val, ModeEval)
		if err != nil {
			return nil, fmt.Errorf("epoch %d validation: %w", epoch, err)
		}

		target, ok := valMetrics[t.cfg.TargetMetric]
		if !ok {
			return nil, fmt.Errorf("validation did not produce target metric %q", t.cfg.TargetMetric)
		}

		improved := target > t.bestMetric
		if improved {
			t.bestMetric = target
			badEpochs = 0
			if err := t.saveCheckpoint(epoch); err != nil {
				return nil, fmt.Errorf("epoch %d checkpoint: %w", epoch, err)
			}
		} else {
			badEpochs++
		}

		if plateau, ok := t.scheduler.(*PlateauScheduler); ok {
			plateau.Observe(target)
		}

		t.logger.Info("epoch complete",
			zap.String("run_id", t.cfg.RunID),
			zap.Int("epoch", epoch),
			zap.Float64("lr", lr),
			zap.Float64("train_loss", trainMetrics[MetricLoss]),
			zap.Float64("val_loss", valMetrics[MetricLoss]),
			zap.Float64("val_"+t.cfg.TargetMetric, target),
			zap.Float64("val_uncertainty", valMetrics[MetricUncertainty]),
			zap.Bool("improved", improved),
			zap.Duration("elapsed", time.Since(started)))

		t.emit.emitEpoch(ctx, EpochEvent{
			RunID:        t.cfg.RunID,
			Epoch:        epoch,
			Train:        trainMetrics.Clone(),
			Val:          valMetrics.Clone(),
			LearningRate: lr,
			BestMetric:   t.bestMetric,
			Improved:     improved,
			Duration:     time.Since(started),
		})

		if t.cfg.EarlyStoppingPatience > 0 && badEpochs >= t.cfg.EarlyStoppingPatience {
			t.logger.Info("early stopping",
				zap.String("run_id", t.cfg.RunID),
				zap.Int("epoch", epoch),
				zap.Int("patience", t.cfg.EarlyStoppingPatience))
			break
		}
	}

	if test == nil {
		return nil, nil
	}
	testMetrics, err := t.runner.Run(ctx, test, ModeEval)
	if err != nil {
		return nil, fmt.Errorf("test evaluation: %w", err)
	}
	t.logger.Info("test evaluation complete",
		zap.String("run_id", t.cfg.RunID),
		zap.Float64("test_loss", testMetrics[MetricLoss]),
		zap.Float64("test_"+t.cfg.TargetMetric, testMetrics[t.cfg.TargetMetric]))
	t.emit.emitTest(ctx, TestEvent{RunID: t.cfg.RunID, Metrics: testMetrics.Clone()})
	return testMetrics, nil
}

// Evaluate runs a single uncertainty-aware evaluation pass without
// training, emitting a test event to the sinks.
func (t *Trainer) Evaluate(ctx context.Context, source dataset.BatchSource) (EpochMetrics, error) {
	if source == nil {
		return nil, fmt.Errorf("evaluation source is required")
	}
	metrics, err := t.runner.Run(ctx, source, ModeEval)
	if err != nil {
		return nil, err
	}
	t.emit.emitTest(ctx, TestEvent{RunID: t.cfg.RunID, Metrics: metrics.Clone()})
	return metrics, nil
}

// saveCheckpoint snapshots model weights, optimizer state and scheduler
// state to the configured path.
func (t *Trainer) saveCheckpoint(epoch int) error {
	if t.cfg.CheckpointPath == "" {
		return nil
	}

	optState, err := t.optimizer.State()
	if err != nil {
		return fmt.Errorf("failed to capture optimizer state: %v", err)
	}

	cp := &checkpoints.Checkpoint{
		Epoch:          epoch,
		BestMetric:     t.bestMetric,
		Weights:        checkpoints.ExtractWeights(t.model.Parameters()),
		OptimizerState: optState,
		Metadata: checkpoints.Metadata{
			RunID:       t.cfg.RunID,
			Description: fmt.Sprintf("best %s %.6f at epoch %d", t.cfg.TargetMetric, t.bestMetric, epoch),
		},
	}
	if stateful, ok := t.scheduler.(StatefulScheduler); ok {
		cp.SchedulerState = stateful.State()
	}

	return t.store.Save(t.cfg.CheckpointPath, cp)
}

// Resume restores a run from a checkpoint file. Training continues from
// the epoch after the checkpointed one with the best metric preserved, so
// a resumed run never overwrites the checkpoint with a worse model.
// Scheduler state is optional in the file; when absent the scheduler keeps
// its defaults.
func (t *Trainer) Resume(path string) error {
	cp, err := t.store.Load(path)
	if err != nil {
		return err
	}

	if err := checkpoints.LoadWeights(cp.Weights, t.model.Parameters()); err != nil {
		return fmt.Errorf("failed to restore weights: %w", err)
	}
	if cp.OptimizerState != nil {
		if err := t.optimizer.Restore(cp.OptimizerState); err != nil {
			return fmt.Errorf("failed to restore optimizer: %w", err)
		}
	}
	if cp.SchedulerState != nil {
		if stateful, ok := t.scheduler.(StatefulScheduler); ok {
			stateful.Restore(cp.SchedulerState)
		}
	}

	t.startEpoch = cp.Epoch + 1
	t.bestMetric = cp.BestMetric
	if cp.Metadata.RunID != "" {
		t.cfg.RunID = cp.Metadata.RunID
	}

	t.logger.Info("resumed from checkpoint",
		zap.String("run_id", t.cfg.RunID),
		zap.String("path", path),
		zap.Int("next_epoch", t.startEpoch),
		zap.Float64("best_metric", t.bestMetric))
	return nil
}
