package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/audithq/ganaudit/internal/config"
	"github.com/audithq/ganaudit/internal/event"
	"github.com/audithq/ganaudit/internal/judge/env"
	"github.com/audithq/ganaudit/internal/judge/process"
	"github.com/audithq/ganaudit/internal/judge/validate"
	"github.com/audithq/ganaudit/internal/logging"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check that the judge CLI is available and usable",
	Long: `Probe the environment for the judge executable: shell sanity,
path resolution, execute permission, minimum version, and a smoke
invocation. Prints the findings and exits non-zero when the judge
cannot be used.`,
	RunE: runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger, err := logging.NewLogger(cfg.Logging.Dir, cfg.Logging.Level)
	if err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	defer logger.Close()

	procs := process.NewManager(cfg.Process, logger, event.NewBus(), nil)
	defer procs.Shutdown()

	resolver := env.NewResolver(cfg.Judge, logger)
	validator := validate.NewValidator(cfg.Judge, resolver, procs, logger)
	report := validator.Validate(context.Background())

	fmt.Println(strings.Repeat("─", 60))
	fmt.Printf("Judge: %s (minimum version %s)\n", cfg.Judge.Binary, cfg.Judge.MinVersion)
	fmt.Println(strings.Repeat("─", 60))

	if report.IsAvailable {
		fmt.Println("Status:     available")
		fmt.Printf("Version:    %s\n", report.Version)
		fmt.Printf("Executable: %s\n", report.ExecutablePath)
		return nil
	}

	fmt.Println("Status:     NOT AVAILABLE")
	if len(report.EnvironmentIssues) > 0 {
		fmt.Println("\nIssues:")
		for _, issue := range report.EnvironmentIssues {
			fmt.Printf("  - %s\n", issue)
		}
	}
	if len(report.Recommendations) > 0 {
		fmt.Println("\nRecommendations:")
		for _, rec := range report.Recommendations {
			fmt.Printf("  - %s\n", rec)
		}
	}
	return fmt.Errorf("judge %q is not usable", cfg.Judge.Binary)
}
