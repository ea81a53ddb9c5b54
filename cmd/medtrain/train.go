package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"medtrain/training"
)

func newTrainCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "train",
		Short: "Train a model from scratch",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTraining(cmd.Context(), "")
		},
	}
}

func newResumeCmd() *cobra.Command {
	var checkpoint string
	cmd := &cobra.Command{
		Use:   "resume",
		Short: "Resume training from a checkpoint",
		RunE: func(cmd *cobra.Command, args []string) error {
			if checkpoint == "" {
				return fmt.Errorf("--checkpoint is required")
			}
			return runTraining(cmd.Context(), checkpoint)
		},
	}
	cmd.Flags().StringVar(&checkpoint, "checkpoint", "", "checkpoint file to resume from")
	return cmd
}

func runTraining(parent context.Context, resumeFrom string) error {
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := buildApp(ctx, configPath)
	if err != nil {
		return err
	}
	defer a.close()

	if resumeFrom != "" {
		if err := a.trainer.Resume(resumeFrom); err != nil {
			return err
		}
	}

	testMetrics, err := a.trainer.Fit(ctx, a.train, a.val, a.test)
	if err != nil {
		return err
	}

	a.logger.Info("run finished",
		zap.String("run_id", a.trainer.RunID()),
		zap.Float64("best_"+a.cfg.Training.TargetMetric, a.trainer.BestMetric()))
	printMetrics("test", testMetrics)
	return nil
}

func printMetrics(phase string, metrics training.EpochMetrics) {
	if metrics == nil {
		return
	}
	for _, name := range append(training.DefaultMetricNames(), training.MetricLoss, training.MetricUncertainty) {
		if v, ok := metrics[name]; ok {
			fmt.Printf("%s %s: %.4f\n", phase, name, v)
		}
	}
}
