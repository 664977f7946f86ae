package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/audithq/ganaudit/internal/event"
	"github.com/audithq/ganaudit/internal/review"
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Audit a code submission through the judge",
	Long: `Audit a single code submission and print the structured review as JSON.

The candidate is read from --file, or from stdin when --file is "-".
The task description the candidate is judged against comes from --task.

Exit status is 0 for a pass verdict and 2 otherwise, so the command can
gate scripts and CI steps directly.`,
	RunE: runAudit,
}

var (
	auditFile        string
	auditTask        string
	auditSessionID   string
	auditStrict      bool
	auditQuiet       bool
	auditMetricsAddr string
)

func init() {
	rootCmd.AddCommand(auditCmd)

	auditCmd.Flags().StringVarP(&auditFile, "file", "f", "-", "candidate file ('-' reads stdin)")
	auditCmd.Flags().StringVarP(&auditTask, "task", "t", "", "task description the candidate is judged against")
	auditCmd.Flags().StringVar(&auditSessionID, "session", "", "session id to record history under (created if missing)")
	auditCmd.Flags().BoolVar(&auditStrict, "strict", false, "fail with a typed error instead of a fallback review")
	auditCmd.Flags().BoolVarP(&auditQuiet, "quiet", "q", false, "suppress progress output on stderr")
	auditCmd.Flags().StringVar(&auditMetricsAddr, "metrics-addr", "", "serve prometheus metrics on this address for the run")
	_ = auditCmd.MarkFlagRequired("task")
}

func runAudit(cmd *cobra.Command, args []string) error {
	candidate, err := readCandidate(auditFile)
	if err != nil {
		return err
	}

	s, err := buildStack(auditTask, auditStrict)
	if err != nil {
		return err
	}
	defer s.close()

	if auditMetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", s.metrics.Handler())
		go func() {
			if err := http.ListenAndServe(auditMetricsAddr, mux); err != nil {
				s.logger.Warn("metrics server stopped", "error", err)
			}
		}()
	}

	if !auditQuiet {
		s.bus.Subscribe(event.TypeProgressUpdate, func(e event.Event) {
			if up, ok := e.(event.ProgressUpdateEvent); ok {
				fmt.Fprintf(os.Stderr, "audit %d%% (%s): %s\n", up.Percentage, up.Stage, up.Message)
			}
		})
	}

	sessionID, err := ensureSession(s, auditSessionID)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	res, err := s.engine.AuditAndWait(ctx, review.Thought{ThoughtNumber: 1, Text: candidate}, sessionID)
	if err != nil {
		return err
	}

	out, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode result: %w", err)
	}
	fmt.Println(string(out))

	if res.Review.Verdict != review.VerdictPass {
		// Distinct from the generic cobra error exit so callers can tell
		// "audit ran, verdict negative" apart from "audit broke".
		s.close()
		os.Exit(2)
	}
	return nil
}

func readCandidate(path string) (string, error) {
	if path == "-" {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return "", fmt.Errorf("failed to read stdin: %w", err)
		}
		return string(data), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read candidate file: %w", err)
	}
	return string(data), nil
}

// ensureSession resolves the session flag: empty means no session
// tracking, an unknown id creates a fresh session under that id.
func ensureSession(s *stack, id string) (string, error) {
	if id == "" {
		return "", nil
	}
	existing, err := s.store.Get(id)
	if err != nil {
		return "", err
	}
	if existing != nil {
		return existing.ID, nil
	}
	created, err := s.store.Create(id, sessionConfigFromStack(s))
	if err != nil {
		return "", err
	}
	fmt.Fprintf(os.Stderr, "created session %s\n", created.ID)
	return created.ID, nil
}
