package session

import (
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/audithq/ganaudit/internal/config"
	"github.com/audithq/ganaudit/internal/errors"
	"github.com/audithq/ganaudit/internal/logging"
	"github.com/audithq/ganaudit/internal/review"
)

// ioAttempts is how many times reads and writes are tried before giving up.
const ioAttempts = 2

// stagnationWindow is how many trailing scores feed stagnation analysis.
const stagnationWindow = 5

var safeIDPattern = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)

// Store owns the state directory. All session mutation goes through it;
// each mutation is followed by an atomic write.
type Store struct {
	cfg    config.SessionConfig
	dir    string
	logger *logging.Logger

	mu sync.Mutex

	sweepStop chan struct{}
	sweepOnce sync.Once
}

// NewStore creates a Store rooted at the configured state directory.
// The directory is created lazily on first write.
func NewStore(cfg config.SessionConfig, logger *logging.Logger) (*Store, error) {
	if logger == nil {
		logger = logging.NopLogger()
	}
	dir, err := resolveStateDir(cfg.StateDir)
	if err != nil {
		return nil, err
	}
	return &Store{
		cfg:       cfg,
		dir:       dir,
		logger:    logger.WithComponent("session"),
		sweepStop: make(chan struct{}),
	}, nil
}

// resolveStateDir expands ~ and makes relative paths cwd-relative.
func resolveStateDir(stateDir string) (string, error) {
	if stateDir == "" {
		stateDir = ".mcp-gan-state"
	}
	if strings.HasPrefix(stateDir, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", errors.Wrap(errors.ErrDirectoryCreation, "cannot expand ~ in state dir")
		}
		return filepath.Join(home, strings.TrimPrefix(stateDir, "~")), nil
	}
	if filepath.IsAbs(stateDir) {
		return stateDir, nil
	}
	cwd, err := os.Getwd()
	if err != nil {
		return "", errors.Wrap(errors.ErrDirectoryCreation, "cannot resolve relative state dir")
	}
	return filepath.Join(cwd, stateDir), nil
}

// Dir returns the resolved state directory.
func (s *Store) Dir() string { return s.dir }

// StartCleanup begins the periodic sweep of stale and unrepairable
// session files. Stops on Close.
func (s *Store) StartCleanup() {
	interval := s.cfg.CleanupInterval
	if interval <= 0 {
		interval = time.Hour
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.Sweep()
			case <-s.sweepStop:
				return
			}
		}
	}()
}

// Close stops the cleanup sweep.
func (s *Store) Close() {
	s.sweepOnce.Do(func() { close(s.sweepStop) })
}

// Create initializes and persists a new session. An empty id generates one.
func (s *Store) Create(id string, cfg Config) (*Session, error) {
	if id == "" {
		id = GenerateID()
	}
	if !safeIDPattern.MatchString(id) {
		return nil, errors.NewValidationError("session id contains unsafe characters").
			WithField("sessionId").WithValue(id)
	}

	now := time.Now()
	sess := &Session{
		ID:        id,
		Config:    cfg,
		History:   []HistoryEntry{},
		CreatedAt: now,
		UpdatedAt: now,
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.writeLocked(sess); err != nil {
		return nil, err
	}
	return cloneSession(sess), nil
}

// Get loads a session. Returns (nil, nil) when the file is missing or
// totally corrupt; partially corrupt files are repaired and rewritten.
func (s *Store) Get(id string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, err := s.loadLocked(id)
	if err != nil || sess == nil {
		return nil, err
	}
	return cloneSession(sess), nil
}

// loadLocked reads, validates, and if needed repairs a session file.
func (s *Store) loadLocked(id string) (*Session, error) {
	if !safeIDPattern.MatchString(id) {
		return nil, nil
	}
	path := s.path(id)

	var data []byte
	var err error
	for attempt := 0; attempt < ioAttempts; attempt++ {
		data, err = os.ReadFile(path)
		if err == nil || os.IsNotExist(err) {
			break
		}
	}
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(errors.ErrSessionPersistence, "read %s", path)
	}

	var sess Session
	if jsonErr := json.Unmarshal(data, &sess); jsonErr != nil {
		// Total corruption: treated as not found; the sweep removes it.
		s.logger.Warn("session file unreadable, treating as missing",
			"session", id, "error", jsonErr)
		return nil, nil
	}

	if repaired := s.repair(id, &sess); repaired {
		s.logger.Warn("session repaired on load", "session", id)
		if err := s.writeLocked(&sess); err != nil {
			return nil, err
		}
	}
	return &sess, nil
}

// repair fills required fields that corruption removed, keeping any
// usable optional state. Returns true when something was fixed. A
// session missing its basics entirely is rebuilt around the id.
func (s *Store) repair(id string, sess *Session) bool {
	repaired := false
	if sess.ID != id {
		sess.ID = id
		repaired = true
	}
	if sess.History == nil {
		sess.History = []HistoryEntry{}
		repaired = true
	}
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = time.Now()
		repaired = true
	}
	if sess.UpdatedAt.IsZero() {
		sess.UpdatedAt = sess.CreatedAt
		repaired = true
	}
	return repaired
}

// Mutations. Each loads, mutates, stamps UpdatedAt, and writes atomically.

// AddAuditToHistory appends a completed audit and refreshes LastReview.
func (s *Store) AddAuditToHistory(sessionID string, thoughtNumber int, rev *review.Review) error {
	return s.mutate(sessionID, func(sess *Session) error {
		sess.History = append(sess.History, HistoryEntry{
			ThoughtNumber: thoughtNumber,
			Review:        rev.Clone(),
			Timestamp:     time.Now(),
		})
		sess.LastReview = rev.Clone()
		return nil
	})
}

// AddIteration appends an improvement cycle, advances the loop counter,
// and retains only the most recent iterations.
func (s *Store) AddIteration(sessionID string, it Iteration) error {
	return s.mutate(sessionID, func(sess *Session) error {
		it.Timestamp = time.Now()
		sess.Iterations = append(sess.Iterations, it)
		if len(sess.Iterations) > MaxIterations {
			sess.Iterations = sess.Iterations[len(sess.Iterations)-MaxIterations:]
		}
		sess.CurrentLoop++
		return nil
	})
}

// AddWorkflowStepResult appends a workflow step outcome.
func (s *Store) AddWorkflowStepResult(sessionID, stepName string, result WorkflowStepResult, thoughtNumber int) error {
	return s.mutate(sessionID, func(sess *Session) error {
		result.StepName = stepName
		result.ThoughtNumber = thoughtNumber
		result.Timestamp = time.Now()
		sess.WorkflowHistory = append(sess.WorkflowHistory, result)
		if len(sess.WorkflowHistory) > MaxWorkflowEntries {
			sess.WorkflowHistory = sess.WorkflowHistory[len(sess.WorkflowHistory)-MaxWorkflowEntries:]
		}
		return nil
	})
}

// TrackQualityProgression appends a quality point and promotes the
// session to complete when the completion analysis says so.
func (s *Store) TrackQualityProgression(sessionID string, entry QualityEntry) error {
	return s.mutate(sessionID, func(sess *Session) error {
		entry.Timestamp = time.Now()
		if entry.Loop == 0 {
			entry.Loop = sess.CurrentLoop
		}
		sess.QualityProgression = append(sess.QualityProgression, entry)
		if len(sess.QualityProgression) > MaxQualityEntries {
			sess.QualityProgression = sess.QualityProgression[len(sess.QualityProgression)-MaxQualityEntries:]
		}
		if entry.CompletionAnalysis != nil && entry.CompletionAnalysis.Status == "completed" {
			sess.IsComplete = true
			sess.CompletionReason = entry.CompletionAnalysis.Reason
		}
		return nil
	})
}

// StorePromptContext overwrites the continuity slot.
func (s *Store) StorePromptContext(sessionID, context string) error {
	return s.mutate(sessionID, func(sess *Session) error {
		sess.PromptContext = &PromptContext{
			Context:     context,
			StoredAt:    time.Now(),
			SessionLoop: sess.CurrentLoop,
		}
		return nil
	})
}

// GetPromptContext reads the continuity slot; nil when unset.
func (s *Store) GetPromptContext(sessionID string) (*PromptContext, error) {
	sess, err := s.Get(sessionID)
	if err != nil || sess == nil {
		return nil, err
	}
	return sess.PromptContext, nil
}

// RecordCodexFailure appends a judge failure record. It never returns an
// error and never panics: failure bookkeeping must not mask the original
// failure.
func (s *Store) RecordCodexFailure(sessionID string, thoughtNumber int, errMsg string) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("panic while recording judge failure", "recovered", r)
		}
	}()
	err := s.mutate(sessionID, func(sess *Session) error {
		now := time.Now()
		sess.CodexFailures = append(sess.CodexFailures, CodexFailure{
			ThoughtNumber: thoughtNumber,
			Error:         errMsg,
			Timestamp:     now,
		})
		sess.HasCodexIssues = true
		sess.LastCodexFailure = &now
		return nil
	})
	if err != nil {
		s.logger.Warn("failed to record judge failure",
			"session", sessionID, "error", err)
	}
}

// Delete removes a session file. Missing files are not an error.
func (s *Store) Delete(sessionID string) error {
	if !safeIDPattern.MatchString(sessionID) {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	err := os.Remove(s.path(sessionID))
	if err != nil && !os.IsNotExist(err) {
		return errors.Wrapf(errors.ErrSessionPersistence, "delete %s", sessionID)
	}
	return nil
}

// GetAllSessions loads every readable session in the state directory.
func (s *Store) GetAllSessions() ([]*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(s.dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(errors.ErrSessionPersistence, "list state directory")
	}

	var sessions []*Session
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		id := strings.TrimSuffix(name, ".json")
		sess, err := s.loadLocked(id)
		if err != nil || sess == nil {
			continue
		}
		sessions = append(sessions, cloneSession(sess))
	}
	return sessions, nil
}

// Sweep removes sessions older than the retention window and files that
// cannot be read at all. Returns the number of files removed.
func (s *Store) Sweep() int {
	maxAge := s.cfg.MaxAge
	if maxAge <= 0 {
		maxAge = 24 * time.Hour
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0
	}

	removed := 0
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		path := filepath.Join(s.dir, name)

		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		var sess Session
		if json.Unmarshal(data, &sess) != nil {
			os.Remove(path)
			removed++
			continue
		}
		if time.Since(sess.UpdatedAt) > maxAge {
			os.Remove(path)
			removed++
		}
	}
	if removed > 0 {
		s.logger.Info("session sweep removed files", "count", removed)
	}
	return removed
}

// -----------------------------------------------------------------------------
// Progress analysis
// -----------------------------------------------------------------------------

// AnalyzeProgress reports score movement for a session.
func (s *Store) AnalyzeProgress(sessionID string) (*ProgressAnalysis, error) {
	sess, err := s.Get(sessionID)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, errors.Wrapf(errors.ErrSessionNotFound, "session %s", sessionID)
	}

	scores := make([]int, 0, len(sess.QualityProgression))
	for _, q := range sess.QualityProgression {
		scores = append(scores, q.OverallScore)
	}

	return &ProgressAnalysis{
		CurrentLoop:        sess.CurrentLoop,
		ScoreProgression:   scores,
		AverageImprovement: averageImprovement(scores),
		IsStagnant:         isStagnant(scores),
	}, nil
}

// DetectStagnation produces the detailed stagnation verdict for a session.
func (s *Store) DetectStagnation(sessionID string) (*StagnationReport, error) {
	sess, err := s.Get(sessionID)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, errors.Wrapf(errors.ErrSessionNotFound, "session %s", sessionID)
	}

	scores := make([]int, 0, len(sess.QualityProgression))
	for _, q := range sess.QualityProgression {
		scores = append(scores, q.OverallScore)
	}

	report := &StagnationReport{
		SimilarityScore: similarity(scores),
	}
	if isStagnant(scores) {
		report.IsStagnant = true
		report.DetectedAtLoop = sess.CurrentLoop
		report.Recommendation = "Scores have plateaued; change approach or accept the current result."
	} else {
		report.Recommendation = "Scores are still moving; continue iterating."
	}
	return report, nil
}

// averageImprovement is the mean of consecutive score deltas.
func averageImprovement(scores []int) float64 {
	if len(scores) < 2 {
		return 0
	}
	total := 0
	for i := 1; i < len(scores); i++ {
		total += scores[i] - scores[i-1]
	}
	return float64(total) / float64(len(scores)-1)
}

// isStagnant reports whether the last scores moved by at most 2 points
// peak to trough, requiring at least 3 data points.
func isStagnant(scores []int) bool {
	window := lastN(scores, stagnationWindow)
	if len(window) < 3 {
		return false
	}
	min, max := window[0], window[0]
	for _, s := range window {
		if s < min {
			min = s
		}
		if s > max {
			max = s
		}
	}
	return max-min <= 2
}

// similarity maps the mean absolute consecutive delta over the trailing
// window to [0,1]: identical scores give 1, deltas of 10+ give 0.
func similarity(scores []int) float64 {
	window := lastN(scores, stagnationWindow)
	if len(window) < 2 {
		return 0
	}
	var sum float64
	for i := 1; i < len(window); i++ {
		sum += math.Abs(float64(window[i] - window[i-1]))
	}
	avg := sum / float64(len(window)-1)
	return math.Max(0, 1-avg/10)
}

func lastN(scores []int, n int) []int {
	if len(scores) <= n {
		return scores
	}
	return scores[len(scores)-n:]
}

// -----------------------------------------------------------------------------
// Persistence plumbing
// -----------------------------------------------------------------------------

// mutate loads a session, applies fn, and writes the result atomically.
func (s *Store) mutate(sessionID string, fn func(*Session) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, err := s.loadLocked(sessionID)
	if err != nil {
		return err
	}
	if sess == nil {
		return errors.Wrapf(errors.ErrSessionNotFound, "session %s", sessionID)
	}
	if err := fn(sess); err != nil {
		return err
	}
	sess.UpdatedAt = time.Now()
	return s.writeLocked(sess)
}

func (s *Store) path(id string) string {
	return filepath.Join(s.dir, id+".json")
}

// writeLocked serializes with 2-space indentation and writes via
// temp-file-then-rename so readers never observe a partial file.
func (s *Store) writeLocked(sess *Session) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return errors.Wrapf(errors.ErrDirectoryCreation, "%s", s.dir)
	}

	data, err := json.MarshalIndent(sess, "", "  ")
	if err != nil {
		return errors.Wrapf(errors.ErrSessionPersistence, "marshal session %s", sess.ID)
	}

	path := s.path(sess.ID)
	var lastErr error
	for attempt := 0; attempt < ioAttempts; attempt++ {
		if lastErr = atomicWrite(path, data); lastErr == nil {
			return nil
		}
	}
	return errors.Wrapf(errors.ErrSessionPersistence, "write %s: %v", path, lastErr)
}

func atomicWrite(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".session-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

// cloneSession deep-copies the parts callers could mutate.
func cloneSession(sess *Session) *Session {
	cp := *sess
	// History is always non-nil on a live session; keep it that way.
	cp.History = make([]HistoryEntry, len(sess.History))
	copy(cp.History, sess.History)
	for i, h := range cp.History {
		if h.Review != nil {
			cp.History[i].Review = h.Review.Clone()
		}
	}
	if sess.LastReview != nil {
		cp.LastReview = sess.LastReview.Clone()
	}
	cp.Iterations = append([]Iteration(nil), sess.Iterations...)
	cp.WorkflowHistory = append([]WorkflowStepResult(nil), sess.WorkflowHistory...)
	cp.QualityProgression = append([]QualityEntry(nil), sess.QualityProgression...)
	cp.CodexFailures = append([]CodexFailure(nil), sess.CodexFailures...)
	if sess.PromptContext != nil {
		pc := *sess.PromptContext
		cp.PromptContext = &pc
	}
	if sess.LastCodexFailure != nil {
		ts := *sess.LastCodexFailure
		cp.LastCodexFailure = &ts
	}
	return &cp
}
