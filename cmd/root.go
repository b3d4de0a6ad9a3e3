package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/trial-eligibility/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "trial-eligibility",
	Short: "Clinical trial eligibility screening and enrollment tracking",
	Long:  "Fetches patient consultation sessions, scores them against clinical trial criteria with Claude, caches the assessments, and tracks enrolled patients through the trial pipeline.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		zap.L().Sync() //nolint:errcheck
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func main() {
	if err := Execute(); err != nil {
		os.Exit(1)
	}
}
