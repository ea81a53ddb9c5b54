package main

import (
	"context"
	"net/http"
	"os"

	"go.uber.org/zap"

	"medtrain/config"
	"medtrain/dataset"
	"medtrain/history"
	"medtrain/logging"
	"medtrain/monitor"
	"medtrain/nn"
	"medtrain/training"
)

// app holds everything a command needs after wiring: the assembled trainer
// plus the resources that must be shut down afterwards.
type app struct {
	cfg     *config.Config
	logger  *zap.Logger
	trainer *training.Trainer
	model   *nn.Classifier

	train    dataset.BatchSource
	val      dataset.BatchSource
	test     dataset.BatchSource
	trainSet dataset.Dataset

	closers []func()
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.logger.Sync()
}

// buildApp wires a full run from the config file: data pipeline, model,
// optimizer, scheduler, metric sinks and trainer.
func buildApp(ctx context.Context, path string) (*app, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	logger, err := logging.New(logging.Options{
		Level:      cfg.Logging.Level,
		File:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
	})
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, logger: logger}
	if err := a.buildData(ctx); err != nil {
		return nil, err
	}
	if err := a.buildTrainer(ctx); err != nil {
		return nil, err
	}
	return a, nil
}

func (a *app) buildData(ctx context.Context) error {
	cfg := a.cfg

	var base dataset.Dataset
	var featureDim int
	if cfg.Data.Path != "" {
		ds, err := dataset.LoadCSV(cfg.Data.Path)
		if err != nil {
			return err
		}
		base = ds
		featureDim = ds.FeatureDim()
		a.logger.Info("loaded dataset",
			zap.String("path", cfg.Data.Path),
			zap.Int("samples", ds.Len()),
			zap.Int("features", featureDim))
	} else {
		ds, err := dataset.NewRandomDataset(cfg.Data.SyntheticSamples, cfg.Data.SyntheticFeatures,
			cfg.Model.NumClasses, cfg.Run.Seed)
		if err != nil {
			return err
		}
		base = ds
		featureDim = cfg.Data.SyntheticFeatures
		a.logger.Info("using synthetic dataset",
			zap.Int("samples", ds.Len()),
			zap.Int("features", featureDim))
	}

	if cfg.Data.CacheSize > 0 {
		cached, err := dataset.NewCachedDataset(base, cfg.Data.CacheSize)
		if err != nil {
			return err
		}
		base = cached
	}

	trainSet, valSet, testSet, err := dataset.Split(base, cfg.Data.ValFraction, cfg.Data.TestFraction, cfg.Run.Seed)
	if err != nil {
		return err
	}

	trainLoader, err := dataset.NewLoader(trainSet, cfg.Data.BatchSize, cfg.Data.Shuffle, cfg.Run.Seed)
	if err != nil {
		return err
	}
	valLoader, err := dataset.NewLoader(valSet, cfg.Data.BatchSize, false, cfg.Run.Seed)
	if err != nil {
		return err
	}
	testLoader, err := dataset.NewLoader(testSet, cfg.Data.BatchSize, false, cfg.Run.Seed)
	if err != nil {
		return err
	}

	a.train = trainLoader
	a.val = valLoader
	a.test = testLoader
	a.trainSet = trainSet
	if cfg.Data.PrefetchDepth > 0 {
		a.train = dataset.NewPrefetchLoader(ctx, trainLoader, cfg.Data.PrefetchDepth)
	}

	model, err := nn.NewClassifier(featureDim, cfg.Model.HiddenSize, cfg.Model.NumClasses, cfg.Model.DropoutRate)
	if err != nil {
		return err
	}
	a.model = model
	return nil
}

func (a *app) buildTrainer(ctx context.Context) error {
	cfg := a.cfg
	nn.SetRandomSeed(cfg.Run.Seed)

	var criterion nn.Criterion
	if cfg.Training.ClassWeights {
		weights, err := dataset.ClassWeights(a.trainSet, cfg.Model.NumClasses)
		if err != nil {
			return err
		}
		criterion, err = nn.NewWeightedCrossEntropyLoss(weights)
		if err != nil {
			return err
		}
	} else {
		criterion = nn.NewCrossEntropyLoss()
	}

	var optimizer training.Optimizer
	var err error
	switch cfg.Optim.Optimizer {
	case "sgd":
		optimizer, err = training.NewSGD(a.model.Parameters(), cfg.Optim.LearningRate,
			cfg.Optim.Momentum, cfg.Optim.WeightDecay, false)
	default:
		optimizer, err = training.NewAdamW(a.model.Parameters(), cfg.Optim.LearningRate,
			0, 0, 0, cfg.Optim.WeightDecay)
	}
	if err != nil {
		return err
	}

	var scheduler training.LRScheduler
	switch cfg.Optim.Scheduler {
	case "constant":
		scheduler = &training.ConstantScheduler{}
	case "step":
		scheduler = training.NewStepScheduler(cfg.Optim.SchedulerStep, cfg.Optim.SchedulerGamma)
	case "exponential":
		scheduler = training.NewExponentialScheduler(cfg.Optim.SchedulerGamma)
	case "plateau":
		scheduler = training.NewPlateauScheduler(cfg.Optim.SchedulerGamma, cfg.Optim.PlateauPatience, 1e-4, "max")
	default:
		scheduler = training.NewCosineAnnealingScheduler(cfg.Training.Epochs,
			cfg.Optim.LearningRate*cfg.Optim.CosineEtaMinFrac)
	}

	scaler := training.NewLossScaler(cfg.Training.MixedPrecision, cfg.Training.InitLossScale)

	var progress training.ProgressFunc
	if cfg.Training.Progress {
		progress = training.ConsoleProgress(os.Stdout, cfg.Run.Name)
	}

	runner := training.NewEpochRunner(a.model, criterion, optimizer, scaler, training.RunnerConfig{
		AccumSteps: cfg.Training.AccumSteps,
		MCSamples:  cfg.Training.MCSamples,
		Seed:       cfg.Run.Seed,
		Progress:   progress,
	})

	sinks, err := a.buildSinks(ctx)
	if err != nil {
		return err
	}

	trainer, err := training.NewTrainer(runner, optimizer, scheduler, sinks, a.logger, training.TrainerConfig{
		Epochs:                cfg.Training.Epochs,
		BaseLR:                cfg.Optim.LearningRate,
		TargetMetric:          cfg.Training.TargetMetric,
		CheckpointPath:        cfg.Training.CheckpointPath,
		EarlyStoppingPatience: cfg.Training.EarlyStoppingPatience,
	})
	if err != nil {
		return err
	}
	a.trainer = trainer
	return nil
}

func (a *app) buildSinks(ctx context.Context) ([]training.MetricSink, error) {
	cfg := a.cfg
	var sinks []training.MetricSink

	if cfg.History.Enabled {
		store, err := history.Open(cfg.History.Path, cfg.Run.Name)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() { store.Close() })
		sinks = append(sinks, store)
	}

	if cfg.Monitor.Enabled {
		hub := monitor.NewHub(a.logger)
		hubCtx, cancel := context.WithCancel(ctx)
		go hub.Run(hubCtx)

		mux := http.NewServeMux()
		mux.Handle("/ws", hub)
		server := &http.Server{Addr: cfg.Monitor.Addr, Handler: mux}
		go func() {
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				a.logger.Warn("monitor server stopped", zap.Error(err))
			}
		}()
		a.closers = append(a.closers, func() {
			server.Close()
			cancel()
		})
		a.logger.Info("monitor listening", zap.String("addr", cfg.Monitor.Addr))
		sinks = append(sinks, hub)
	}

	return sinks, nil
}
