package audit

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/audithq/ganaudit/internal/audit/cache"
	"github.com/audithq/ganaudit/internal/audit/progress"
	"github.com/audithq/ganaudit/internal/audit/queue"
	"github.com/audithq/ganaudit/internal/config"
	"github.com/audithq/ganaudit/internal/errors"
	"github.com/audithq/ganaudit/internal/logging"
	"github.com/audithq/ganaudit/internal/metrics"
	"github.com/audithq/ganaudit/internal/review"
)

// fallbackJudgeModel names the synthetic judge card attached to reviews
// the engine fabricates when the real judge cannot answer.
const fallbackJudgeModel = "synchronous-audit-engine-fallback"

// Auditor produces reviews for validated requests. Satisfied by
// *judge.Client.
type Auditor interface {
	Audit(ctx context.Context, req *review.AuditRequest, timeout time.Duration) (*review.Review, error)
}

// SessionRecorder persists audit outcomes per session. Satisfied by
// *session.Store. All methods tolerate failure; the engine logs and
// continues.
type SessionRecorder interface {
	AddAuditToHistory(sessionID string, thoughtNumber int, rev *review.Review) error
	RecordCodexFailure(sessionID string, thoughtNumber int, errMsg string)
}

// Params carries the audit frame shared by every thought in a session:
// the task being judged against, the rubric, and the budget.
type Params struct {
	Task        string
	Rubric      []review.RubricDimension
	Budget      review.Budget
	ContextPack func() string // optional; called per audit
}

// Engine coordinates the audit pipeline.
type Engine struct {
	cfg      config.EngineConfig
	params   Params
	auditor  Auditor
	cache    *cache.Cache
	queue    *queue.Queue
	progress *progress.Tracker
	sessions SessionRecorder
	logger   *logging.Logger
	metrics  *metrics.Metrics
}

// NewEngine creates an Engine. progress, sessions, and m may be nil.
func NewEngine(cfg config.EngineConfig, params Params, auditor Auditor, c *cache.Cache, q *queue.Queue, tracker *progress.Tracker, sessions SessionRecorder, logger *logging.Logger, m *metrics.Metrics) *Engine {
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Engine{
		cfg:      cfg,
		params:   params,
		auditor:  auditor,
		cache:    c,
		queue:    q,
		progress: tracker,
		sessions: sessions,
		logger:   logger.WithComponent("engine"),
		metrics:  m,
	}
}

// AuditAndWait audits one thought synchronously. It always returns a
// result carrying a canonical review; in strict mode a classified error
// is returned instead of a fallback synthesis.
func (e *Engine) AuditAndWait(ctx context.Context, thought review.Thought, sessionID string) (*review.AuditResult, error) {
	start := time.Now()

	// Skip checks: auditing disabled, or nothing code-like to audit.
	if !e.cfg.Enabled {
		return e.skipped(start, sessionID, "Auditing is disabled; submission accepted without review."), nil
	}
	if !ContainsCode(thought.Text) {
		return e.skipped(start, sessionID, "No code-like content detected; nothing to audit."), nil
	}

	// Format validation never aborts; issues ride along as log context.
	check := CheckFormat(thought.Text)
	if len(check.Issues) > 0 {
		e.logger.Debug("format issues detected",
			"format", check.Format, "issues", strings.Join(check.Issues, "; "))
	}

	req := &review.AuditRequest{
		Task:      e.params.Task,
		Candidate: check.Cleaned,
		Rubric:    e.params.Rubric,
		Budget:    e.params.Budget,
	}
	if e.params.ContextPack != nil {
		req.ContextPack = e.params.ContextPack()
	}

	if cached := e.cache.Get(req); cached != nil {
		e.count("cached")
		return &review.AuditResult{
			Review:    cached,
			Success:   true,
			Duration:  time.Since(start),
			SessionID: sessionID,
			Cached:    true,
		}, nil
	}

	auditID := uuid.NewString()
	if e.progress != nil {
		e.progress.StartTracking(auditID)
		e.progress.UpdateStage(auditID, progress.StageRunningChecks, "judge evaluating submission")
	}

	rev, err := e.submit(ctx, req)

	if e.progress != nil {
		e.progress.CompleteTracking(auditID, err == nil)
	}
	duration := time.Since(start)
	if e.metrics != nil {
		e.metrics.AuditDuration.Observe(duration.Seconds())
	}

	if err == nil {
		e.cache.Set(req, rev)
		e.appendHistory(sessionID, thought.ThoughtNumber, rev)
		e.count("success")
		return &review.AuditResult{
			Review:    rev,
			Success:   true,
			Duration:  duration,
			SessionID: sessionID,
		}, nil
	}

	// Failure path: classify, record, fall back (or raise in strict mode).
	kind, message := classify(err)
	e.recordFailure(sessionID, thought.ThoughtNumber, err)
	e.count(string(kind))
	if e.cfg.Strict {
		return nil, err
	}

	fallback := e.synthesize(message)
	if e.metrics != nil {
		e.metrics.FallbackTotal.Inc()
	}
	e.logger.Warn("audit failed, returning fallback review",
		"kind", kind, "error", err)
	return &review.AuditResult{
		Review:    fallback,
		Success:   false,
		TimedOut:  kind == failureTimeout,
		Duration:  duration,
		Error:     message,
		SessionID: sessionID,
	}, nil
}

// submit runs the judge call through the queue and waits for the outcome.
func (e *Engine) submit(ctx context.Context, req *review.AuditRequest) (*review.Review, error) {
	timeout := e.cfg.AuditTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	work := func(jobCtx context.Context) (*review.Review, error) {
		return e.auditor.Audit(jobCtx, req, timeout)
	}
	_, result, err := e.queue.Enqueue(work, e.priority(), timeout)
	if err != nil {
		return nil, err
	}

	select {
	case out := <-result:
		return out.Review, out.Err
	case <-ctx.Done():
		// The job still runs to completion and is counted in stats; the
		// caller just stops waiting.
		return nil, errors.Wrap(errors.ErrCanceled, "caller stopped waiting for audit")
	}
}

func (e *Engine) priority() int {
	switch e.cfg.Priority {
	case "high":
		return queue.PriorityHigh
	case "low":
		return queue.PriorityLow
	default:
		return queue.PriorityNormal
	}
}

// failureKind buckets judge failures for fallback wording and metrics.
type failureKind string

const (
	failureUnavailable failureKind = "unavailable"
	failureTimeout     failureKind = "timeout"
	failureGeneric     failureKind = "failure"
)

// classify buckets an error and produces the user-facing message embedded
// in the fallback review summary.
func classify(err error) (failureKind, string) {
	msg := err.Error()
	lower := strings.ToLower(msg)
	switch {
	case errors.IsNotAvailable(err),
		strings.Contains(lower, "connection refused"),
		strings.Contains(lower, "network error"),
		strings.Contains(lower, "not available"):
		return failureUnavailable, "Audit service unavailable: " + msg
	case errors.IsTimeout(err), strings.Contains(lower, "timed out"):
		return failureTimeout, "Audit timed out: " + msg
	default:
		return failureGeneric, "Audit failed: " + msg
	}
}

// skipped builds the perfect-score review used when no audit is needed.
func (e *Engine) skipped(start time.Time, sessionID, summary string) *review.AuditResult {
	e.count("skipped")
	return &review.AuditResult{
		Review:    e.synthesizeWithScore(100, review.VerdictPass, summary),
		Success:   true,
		Duration:  time.Since(start),
		SessionID: sessionID,
	}
}

// synthesize builds the neutral fallback review for a failed audit.
func (e *Engine) synthesize(summary string) *review.Review {
	return e.synthesizeWithScore(50, review.VerdictRevise, summary)
}

// synthesizeWithScore builds a canonical review entirely from local data.
// Fallback reviews are never cached.
func (e *Engine) synthesizeWithScore(score int, verdict review.Verdict, summary string) *review.Review {
	dims := make([]review.Dimension, 0, len(e.params.Rubric))
	for _, d := range e.params.Rubric {
		dims = append(dims, review.Dimension{Name: d.Name, Score: float64(score)})
	}
	if len(dims) == 0 {
		dims = []review.Dimension{{Name: "overall", Score: float64(score)}}
	}
	return &review.Review{
		Overall:    score,
		Dimensions: dims,
		Verdict:    verdict,
		Body: review.Body{
			Summary:   summary,
			Inline:    []review.InlineComment{},
			Citations: []string{},
		},
		Iterations: 1,
		JudgeCards: []review.JudgeCard{{
			Model: fallbackJudgeModel,
			Score: float64(score),
			Notes: "synthesized without judge input",
		}},
	}
}

func (e *Engine) appendHistory(sessionID string, thoughtNumber int, rev *review.Review) {
	if e.sessions == nil || sessionID == "" {
		return
	}
	if err := e.sessions.AddAuditToHistory(sessionID, thoughtNumber, rev); err != nil {
		e.logger.Warn("failed to append audit to session history",
			"session", sessionID, "error", err)
	}
}

func (e *Engine) recordFailure(sessionID string, thoughtNumber int, err error) {
	if e.sessions == nil || sessionID == "" {
		return
	}
	e.sessions.RecordCodexFailure(sessionID, thoughtNumber, err.Error())
}

func (e *Engine) count(result string) {
	if e.metrics != nil {
		e.metrics.AuditsTotal.WithLabelValues(result).Inc()
	}
}

// String describes the engine configuration for startup logging.
func (e *Engine) String() string {
	return fmt.Sprintf("audit engine (enabled=%t, strict=%t, priority=%s)",
		e.cfg.Enabled, e.cfg.Strict, e.cfg.Priority)
}
