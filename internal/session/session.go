// Package session persists per-session audit state on the local
// filesystem: audit history, iteration and quality tracking, workflow
// evidence, and prompt-context continuity. One JSON file per session,
// written atomically.
package session

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"os/user"
	"time"

	"github.com/audithq/ganaudit/internal/review"
)

// Retention limits applied on append.
const (
	MaxIterations      = 25
	MaxWorkflowEntries = 100
	MaxQualityEntries  = 50
)

// Config is the audit frame stored with a session.
type Config struct {
	Task       string `json:"task"`
	Scope      string `json:"scope,omitempty"`
	Threshold  int    `json:"threshold"`
	MaxCycles  int    `json:"maxCycles"`
	Candidates int    `json:"candidates"`
}

// HistoryEntry records one completed audit.
type HistoryEntry struct {
	ThoughtNumber int            `json:"thoughtNumber"`
	Review        *review.Review `json:"review"`
	Timestamp     time.Time      `json:"timestamp"`
}

// Iteration records one improvement cycle.
type Iteration struct {
	Number    int       `json:"number"`
	Candidate string    `json:"candidate"`
	Score     int       `json:"score"`
	Verdict   string    `json:"verdict"`
	Timestamp time.Time `json:"timestamp"`
}

// WorkflowStepResult records the outcome of one named workflow step.
type WorkflowStepResult struct {
	StepName      string                `json:"stepName"`
	ThoughtNumber int                   `json:"thoughtNumber"`
	Success       bool                  `json:"success"`
	Evidence      []review.EvidenceItem `json:"evidence,omitempty"`
	Detail        string                `json:"detail,omitempty"`
	Timestamp     time.Time             `json:"timestamp"`
}

// QualityEntry is one point in a session's quality progression.
type QualityEntry struct {
	OverallScore       int                 `json:"overallScore"`
	Verdict            string              `json:"verdict"`
	Loop               int                 `json:"loop"`
	CompletionAnalysis *CompletionAnalysis `json:"completionAnalysis,omitempty"`
	Timestamp          time.Time           `json:"timestamp"`
}

// CompletionAnalysis carries an upstream judgment about whether the
// session's task is done.
type CompletionAnalysis struct {
	Status string `json:"status"`
	Reason string `json:"reason,omitempty"`
}

// PromptContext is the single continuity slot carried between prompts.
type PromptContext struct {
	Context     string    `json:"context"`
	StoredAt    time.Time `json:"storedAt"`
	SessionLoop int       `json:"sessionLoop"`
}

// CodexFailure records one judge failure observed during the session.
type CodexFailure struct {
	ThoughtNumber int       `json:"thoughtNumber"`
	Error         string    `json:"error"`
	Context       string    `json:"context,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

// Session is the durable per-session state. Exclusively owned by the
// Store; callers receive copies.
type Session struct {
	ID                 string               `json:"id"`
	Config             Config               `json:"config"`
	History            []HistoryEntry       `json:"history"`
	CreatedAt          time.Time            `json:"createdAt"`
	UpdatedAt          time.Time            `json:"updatedAt"`
	LastReview         *review.Review       `json:"lastReview,omitempty"`
	Iterations         []Iteration          `json:"iterations,omitempty"`
	CurrentLoop        int                  `json:"currentLoop"`
	WorkflowHistory    []WorkflowStepResult `json:"workflowHistory,omitempty"`
	QualityProgression []QualityEntry       `json:"qualityProgression,omitempty"`
	PromptContext      *PromptContext       `json:"promptContext,omitempty"`
	IsComplete         bool                 `json:"isComplete"`
	CompletionReason   string               `json:"completionReason,omitempty"`
	HasCodexIssues     bool                 `json:"hasCodexIssues"`
	LastCodexFailure   *time.Time           `json:"lastCodexFailure,omitempty"`
	CodexFailures      []CodexFailure       `json:"codexFailures,omitempty"`
}

// ProgressAnalysis summarizes score movement across a session.
type ProgressAnalysis struct {
	CurrentLoop        int     `json:"currentLoop"`
	ScoreProgression   []int   `json:"scoreProgression"`
	AverageImprovement float64 `json:"averageImprovement"`
	IsStagnant         bool    `json:"isStagnant"`
}

// StagnationReport is the detailed stagnation verdict.
type StagnationReport struct {
	IsStagnant      bool    `json:"isStagnant"`
	DetectedAtLoop  int     `json:"detectedAtLoop"`
	SimilarityScore float64 `json:"similarityScore"`
	Recommendation  string  `json:"recommendation"`
}

// GenerateID derives a 16-hex-char session id from the working
// directory, user, and current time.
func GenerateID() string {
	cwd, _ := os.Getwd()
	username := "unknown"
	if u, err := user.Current(); err == nil {
		username = u.Username
	}
	seed := fmt.Sprintf("%s:%s:%d", cwd, username, time.Now().UnixMilli())
	sum := sha256.Sum256([]byte(seed))
	return hex.EncodeToString(sum[:])[:16]
}
