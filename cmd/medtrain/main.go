// Command medtrain trains, resumes and evaluates medical image classifiers
// from pre-extracted feature vectors.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var configPath string

func main() {
	root := &cobra.Command{
		Use:   "medtrain",
		Short: "Uncertainty-aware classifier training",
		Long: `medtrain runs classification training with gradient accumulation,
dynamic loss scaling, Monte Carlo dropout uncertainty estimates and
best-model checkpointing. Runs are driven by a YAML config file.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to YAML config file")

	root.AddCommand(newTrainCmd())
	root.AddCommand(newResumeCmd())
	root.AddCommand(newEvaluateCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
