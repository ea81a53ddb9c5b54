package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration for a training run, loaded from YAML.
type Config struct {
	Run      RunConfig      `yaml:"run"`
	Data     DataConfig     `yaml:"data"`
	Model    ModelConfig    `yaml:"model"`
	Optim    OptimConfig    `yaml:"optim"`
	Training TrainingConfig `yaml:"training"`
	Logging  LoggingConfig  `yaml:"logging"`
	History  HistoryConfig  `yaml:"history"`
	Monitor  MonitorConfig  `yaml:"monitor"`
}

// RunConfig identifies and seeds the run.
type RunConfig struct {
	Name string `yaml:"name"`
	Seed int64  `yaml:"seed"`
}

// DataConfig describes the dataset and batching.
type DataConfig struct {
	// Path to a CSV file of features with an integer label in the last
	// column. Empty selects the built-in synthetic dataset.
	Path string `yaml:"path"`

	// Synthetic dataset size, used when Path is empty.
	SyntheticSamples  int `yaml:"synthetic_samples"`
	SyntheticFeatures int `yaml:"synthetic_features"`

	BatchSize     int     `yaml:"batch_size"`
	ValFraction   float64 `yaml:"val_fraction"`
	TestFraction  float64 `yaml:"test_fraction"`
	Shuffle       bool    `yaml:"shuffle"`
	CacheSize     int     `yaml:"cache_size"`
	PrefetchDepth int     `yaml:"prefetch_depth"`
}

// ModelConfig describes the classifier architecture.
type ModelConfig struct {
	HiddenSize  int     `yaml:"hidden_size"`
	NumClasses  int     `yaml:"num_classes"`
	DropoutRate float64 `yaml:"dropout_rate"`
}

// OptimConfig selects and parameterizes the optimizer and scheduler.
type OptimConfig struct {
	// Optimizer is "adamw" or "sgd".
	Optimizer    string  `yaml:"optimizer"`
	LearningRate float64 `yaml:"learning_rate"`
	WeightDecay  float64 `yaml:"weight_decay"`
	Momentum     float64 `yaml:"momentum"`

	// Scheduler is "constant", "step", "exponential", "cosine" or
	// "plateau".
	Scheduler        string  `yaml:"scheduler"`
	SchedulerStep    int     `yaml:"scheduler_step"`
	SchedulerGamma   float64 `yaml:"scheduler_gamma"`
	CosineEtaMinFrac float64 `yaml:"cosine_eta_min_frac"`
	PlateauPatience  int     `yaml:"plateau_patience"`
}

// TrainingConfig controls the training loop.
type TrainingConfig struct {
	Epochs                int     `yaml:"epochs"`
	AccumSteps            int     `yaml:"accum_steps"`
	MixedPrecision        bool    `yaml:"mixed_precision"`
	InitLossScale         float64 `yaml:"init_loss_scale"`
	MCSamples             int     `yaml:"mc_samples"`
	TargetMetric          string  `yaml:"target_metric"`
	CheckpointPath        string  `yaml:"checkpoint_path"`
	EarlyStoppingPatience int     `yaml:"early_stopping_patience"`
	ClassWeights          bool    `yaml:"class_weights"`
	Progress              bool    `yaml:"progress"`
}

// LoggingConfig controls structured logging output.
type LoggingConfig struct {
	Level string `yaml:"level"`

	// File enables log rotation to the given path alongside stderr.
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// HistoryConfig controls the SQLite run history store.
type HistoryConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// MonitorConfig controls the live WebSocket monitor.
type MonitorConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// Default returns a configuration with workable defaults for the synthetic
// dataset.
func Default() *Config {
	return &Config{
		Run: RunConfig{Name: "medtrain", Seed: 42},
		Data: DataConfig{
			SyntheticSamples:  2000,
			SyntheticFeatures: 32,
			BatchSize:         32,
			ValFraction:       0.15,
			TestFraction:      0.15,
			Shuffle:           true,
			CacheSize:         1024,
			PrefetchDepth:     2,
		},
		Model: ModelConfig{
			HiddenSize:  64,
			NumClasses:  4,
			DropoutRate: 0.3,
		},
		Optim: OptimConfig{
			Optimizer:        "adamw",
			LearningRate:     1e-3,
			WeightDecay:      0.01,
			Momentum:         0.9,
			Scheduler:        "cosine",
			SchedulerStep:    30,
			SchedulerGamma:   0.1,
			CosineEtaMinFrac: 0.01,
			PlateauPatience:  10,
		},
		Training: TrainingConfig{
			Epochs:         20,
			AccumSteps:     2,
			MixedPrecision: true,
			InitLossScale:  65536.0,
			MCSamples:      10,
			TargetMetric:   "auroc",
			CheckpointPath: "checkpoints/best.json",
			ClassWeights:   true,
			Progress:       true,
		},
		Logging: LoggingConfig{
			Level:      "info",
			MaxSizeMB:  50,
			MaxBackups: 3,
			MaxAgeDays: 14,
		},
		History: HistoryConfig{Path: "medtrain.db"},
		Monitor: MonitorConfig{Addr: ":8090"},
	}
}

// Load reads a YAML config file over the defaults and validates the result.
// An empty path returns the validated defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	if c.Data.BatchSize <= 0 {
		return fmt.Errorf("data.batch_size must be positive, got %d", c.Data.BatchSize)
	}
	if c.Data.ValFraction < 0 || c.Data.TestFraction < 0 || c.Data.ValFraction+c.Data.TestFraction >= 1 {
		return fmt.Errorf("data split fractions must be non-negative and sum below 1, got val=%v test=%v",
			c.Data.ValFraction, c.Data.TestFraction)
	}
	if c.Model.NumClasses < 2 {
		return fmt.Errorf("model.num_classes must be at least 2, got %d", c.Model.NumClasses)
	}
	if c.Model.HiddenSize <= 0 {
		return fmt.Errorf("model.hidden_size must be positive, got %d", c.Model.HiddenSize)
	}
	if c.Model.DropoutRate < 0 || c.Model.DropoutRate >= 1 {
		return fmt.Errorf("model.dropout_rate must be in [0, 1), got %v", c.Model.DropoutRate)
	}
	if c.Optim.LearningRate <= 0 {
		return fmt.Errorf("optim.learning_rate must be positive, got %v", c.Optim.LearningRate)
	}
	switch c.Optim.Optimizer {
	case "adamw", "sgd":
	default:
		return fmt.Errorf("optim.optimizer must be adamw or sgd, got %q", c.Optim.Optimizer)
	}
	switch c.Optim.Scheduler {
	case "constant", "step", "exponential", "cosine", "plateau":
	default:
		return fmt.Errorf("unknown optim.scheduler %q", c.Optim.Scheduler)
	}
	if c.Training.Epochs <= 0 {
		return fmt.Errorf("training.epochs must be positive, got %d", c.Training.Epochs)
	}
	if c.Training.AccumSteps < 1 {
		return fmt.Errorf("training.accum_steps must be at least 1, got %d", c.Training.AccumSteps)
	}
	if c.Training.MCSamples < 0 {
		return fmt.Errorf("training.mc_samples must be non-negative, got %d", c.Training.MCSamples)
	}
	if c.History.Enabled && c.History.Path == "" {
		return fmt.Errorf("history.path is required when history is enabled")
	}
	if c.Monitor.Enabled && c.Monitor.Addr == "" {
		return fmt.Errorf("monitor.addr is required when the monitor is enabled")
	}
	return nil
}
