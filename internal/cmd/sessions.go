package cmd

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/audithq/ganaudit/internal/config"
	"github.com/audithq/ganaudit/internal/session"
	"github.com/audithq/ganaudit/internal/util"
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Inspect and manage audit sessions",
	Long:  `Commands for listing, inspecting, analyzing, and cleaning audit sessions.`,
}

var sessionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all sessions in the state directory",
	RunE:  runSessionsList,
}

var sessionsShowCmd = &cobra.Command{
	Use:   "show <session-id>",
	Short: "Print a session as JSON",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionsShow,
}

var sessionsAnalyzeCmd = &cobra.Command{
	Use:   "analyze <session-id>",
	Short: "Analyze score progression and stagnation for a session",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionsAnalyze,
}

var sessionsCleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "Remove stale and unreadable session files",
	Long: `Remove session files older than the configured retention window
and files that can no longer be parsed. With --session, remove one
specific session regardless of age.`,
	RunE: runSessionsClean,
}

var cleanSessionID string

func init() {
	rootCmd.AddCommand(sessionsCmd)
	sessionsCmd.AddCommand(sessionsListCmd)
	sessionsCmd.AddCommand(sessionsShowCmd)
	sessionsCmd.AddCommand(sessionsAnalyzeCmd)
	sessionsCmd.AddCommand(sessionsCleanCmd)

	sessionsCleanCmd.Flags().StringVar(&cleanSessionID, "session", "", "remove this session by id")
}

func openStore() (*session.Store, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	return session.NewStore(cfg.Session, nil)
}

func runSessionsList(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}

	sessions, err := store.GetAllSessions()
	if err != nil {
		return fmt.Errorf("failed to list sessions: %w", err)
	}

	fmt.Println(strings.Repeat("─", 70))
	fmt.Printf("Sessions in %s\n", store.Dir())
	fmt.Println(strings.Repeat("─", 70))

	if len(sessions) == 0 {
		fmt.Println("\nNo sessions found.")
		return nil
	}

	fmt.Printf("\nFound %d session(s):\n\n", len(sessions))
	for _, s := range sessions {
		status := "in progress"
		if s.IsComplete {
			status = "complete"
		}
		fmt.Printf("  Session: %s\n", s.ID)
		fmt.Printf("    Task:    %s\n", taskLabel(s.Config.Task))
		fmt.Printf("    Created: %s\n", s.CreatedAt.Format(time.RFC822))
		fmt.Printf("    Audits:  %d\n", len(s.History))
		fmt.Printf("    Loop:    %d\n", s.CurrentLoop)
		fmt.Printf("    Status:  %s\n", status)
		if s.HasCodexIssues {
			fmt.Printf("    Judge:   %d failure(s) recorded\n", len(s.CodexFailures))
		}
		fmt.Println()
	}
	return nil
}

func runSessionsShow(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}

	sess, err := store.Get(args[0])
	if err != nil {
		return err
	}
	if sess == nil {
		return fmt.Errorf("session not found: %s", args[0])
	}

	out, err := json.MarshalIndent(sess, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

func runSessionsAnalyze(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}

	analysis, err := store.AnalyzeProgress(args[0])
	if err != nil {
		return err
	}
	stagnation, err := store.DetectStagnation(args[0])
	if err != nil {
		return err
	}

	fmt.Printf("Loop:            %d\n", analysis.CurrentLoop)
	fmt.Printf("Scores:          %v\n", analysis.ScoreProgression)
	fmt.Printf("Avg improvement: %+.2f per loop\n", analysis.AverageImprovement)
	fmt.Printf("Similarity:      %.2f\n", stagnation.SimilarityScore)
	if stagnation.IsStagnant {
		fmt.Printf("Stagnant:        yes (detected at loop %d)\n", stagnation.DetectedAtLoop)
	} else {
		fmt.Println("Stagnant:        no")
	}
	fmt.Printf("\n%s\n", stagnation.Recommendation)
	return nil
}

func runSessionsClean(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}

	if cleanSessionID != "" {
		if err := store.Delete(cleanSessionID); err != nil {
			return err
		}
		fmt.Printf("Removed session: %s\n", cleanSessionID)
		return nil
	}

	removed := store.Sweep()
	if removed == 0 {
		fmt.Println("No stale sessions to clean")
	} else {
		fmt.Printf("Removed %d stale session file(s)\n", removed)
	}
	return nil
}

func taskLabel(task string) string {
	if task == "" {
		return "(none)"
	}
	return util.TruncateString(util.FirstLine(task), 50)
}
