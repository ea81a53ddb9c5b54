package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func newEvaluateCmd() *cobra.Command {
	var checkpoint string
	cmd := &cobra.Command{
		Use:   "evaluate",
		Short: "Evaluate a checkpointed model on the test split",
		RunE: func(cmd *cobra.Command, args []string) error {
			if checkpoint == "" {
				return fmt.Errorf("--checkpoint is required")
			}
			return runEvaluation(cmd.Context(), checkpoint)
		},
	}
	cmd.Flags().StringVar(&checkpoint, "checkpoint", "", "checkpoint file to evaluate")
	return cmd
}

func runEvaluation(parent context.Context, checkpoint string) error {
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := buildApp(ctx, configPath)
	if err != nil {
		return err
	}
	defer a.close()

	if err := a.trainer.Resume(checkpoint); err != nil {
		return err
	}

	metrics, err := a.trainer.Evaluate(ctx, a.test)
	if err != nil {
		return err
	}
	printMetrics("test", metrics)
	return nil
}
