// Package review defines the canonical review artifact produced by an audit.
// A Review is the engine's only success shape: every field present and
// in-range, with no silent coercion anywhere in the pipeline.
package review

import (
	"fmt"
	"strings"
	"time"
)

// Verdict is the judge's ship/no-ship decision.
type Verdict string

const (
	VerdictPass   Verdict = "pass"
	VerdictRevise Verdict = "revise"
	VerdictReject Verdict = "reject"
)

// String returns the string representation of the verdict.
func (v Verdict) String() string {
	return string(v)
}

// IsValid returns true if the verdict is one of the three literals.
func (v Verdict) IsValid() bool {
	switch v {
	case VerdictPass, VerdictRevise, VerdictReject:
		return true
	}
	return false
}

// Dimension is a named rubric axis with a numeric score in [0,100].
type Dimension struct {
	Name  string  `json:"name"`
	Score float64 `json:"score"`
}

// InlineComment is a single file-anchored review comment.
type InlineComment struct {
	Path    string `json:"path"`
	Line    int    `json:"line"`
	Comment string `json:"comment"`
}

// Body holds the textual portion of a review.
type Body struct {
	Summary   string          `json:"summary"`
	Inline    []InlineComment `json:"inline"`
	Citations []string        `json:"citations"`
}

// JudgeCard records one judge model's contribution to the review.
type JudgeCard struct {
	Model string  `json:"model"`
	Score float64 `json:"score"`
	Notes string  `json:"notes,omitempty"`
}

// Review is the canonical audit result.
//
// Invariant: every field is present and in-range. Construction paths
// (the parser and the engine's fallback synthesis) are responsible for
// upholding this; Validate re-checks it.
type Review struct {
	Overall      int         `json:"overall"`
	Dimensions   []Dimension `json:"dimensions"`
	Verdict      Verdict     `json:"verdict"`
	Body         Body        `json:"review"`
	ProposedDiff *string     `json:"proposed_diff"`
	Iterations   int         `json:"iterations"`
	JudgeCards   []JudgeCard `json:"judge_cards"`
}

// MaxInlineComments and MaxCitations bound list sizes at validation time.
// The wire format leaves these unbounded; the cap keeps a hostile or
// runaway judge from ballooning session files.
const (
	MaxInlineComments = 200
	MaxCitations      = 200
)

// Validate checks the canonical-review invariant and returns every
// violation found. A nil slice means the review is canonical.
func (r *Review) Validate() []string {
	var violations []string

	if r.Overall < 0 || r.Overall > 100 {
		violations = append(violations, fmt.Sprintf("overall: score out of range: %d", r.Overall))
	}
	if !r.Verdict.IsValid() {
		violations = append(violations, fmt.Sprintf("verdict: invalid value %q", r.Verdict))
	}
	if len(r.Dimensions) == 0 {
		violations = append(violations, "dimensions: must not be empty")
	}
	for i, d := range r.Dimensions {
		if d.Name == "" {
			violations = append(violations, fmt.Sprintf("dimensions[%d]: missing name", i))
		}
		if d.Score < 0 || d.Score > 100 {
			violations = append(violations, fmt.Sprintf("dimensions[%d]: score out of range: %v", i, d.Score))
		}
	}
	if strings.TrimSpace(r.Body.Summary) == "" {
		violations = append(violations, "review.summary: must not be empty")
	}
	if len(r.Body.Inline) > MaxInlineComments {
		violations = append(violations, fmt.Sprintf("review.inline: exceeds cap of %d entries", MaxInlineComments))
	}
	for i, c := range r.Body.Inline {
		if c.Path == "" || c.Line < 1 || c.Comment == "" {
			violations = append(violations, fmt.Sprintf("review.inline[%d]: malformed entry", i))
		}
	}
	if len(r.Body.Citations) > MaxCitations {
		violations = append(violations, fmt.Sprintf("review.citations: exceeds cap of %d entries", MaxCitations))
	}
	if r.Iterations < 1 {
		violations = append(violations, fmt.Sprintf("iterations: must be positive, got %d", r.Iterations))
	}
	if len(r.JudgeCards) == 0 {
		violations = append(violations, "judge_cards: must not be empty")
	}
	for i, jc := range r.JudgeCards {
		if jc.Model == "" {
			violations = append(violations, fmt.Sprintf("judge_cards[%d]: missing model", i))
		}
		if jc.Score < 0 || jc.Score > 100 {
			violations = append(violations, fmt.Sprintf("judge_cards[%d]: score out of range: %v", i, jc.Score))
		}
	}

	return violations
}

// Clone returns a deep copy of the review. The cache hands out clones so
// callers can never mutate a stored entry.
func (r *Review) Clone() *Review {
	cp := *r

	cp.Dimensions = make([]Dimension, len(r.Dimensions))
	copy(cp.Dimensions, r.Dimensions)

	cp.Body.Inline = make([]InlineComment, len(r.Body.Inline))
	copy(cp.Body.Inline, r.Body.Inline)

	cp.Body.Citations = make([]string, len(r.Body.Citations))
	copy(cp.Body.Citations, r.Body.Citations)

	cp.JudgeCards = make([]JudgeCard, len(r.JudgeCards))
	copy(cp.JudgeCards, r.JudgeCards)

	if r.ProposedDiff != nil {
		diff := *r.ProposedDiff
		cp.ProposedDiff = &diff
	}

	return &cp
}

// -----------------------------------------------------------------------------
// Supporting audit types
// -----------------------------------------------------------------------------

// RubricDimension is one named, weighted axis of an audit rubric.
type RubricDimension struct {
	Name        string  `json:"name" yaml:"name"`
	Weight      float64 `json:"weight" yaml:"weight"`
	Description string  `json:"description,omitempty" yaml:"description,omitempty"`
}

// Budget bounds the judge's effort for one audit.
type Budget struct {
	MaxCycles  int `json:"maxCycles"`
	Candidates int `json:"candidates"`
	Threshold  int `json:"threshold"`
}

// Thought is a submission to be audited. Immutable once accepted.
type Thought struct {
	ThoughtNumber int    `json:"thoughtNumber"`
	Text          string `json:"text"`
	BranchID      string `json:"branchId,omitempty"`
}

// Request size limits.
const (
	MaxTaskLen        = 10_000
	MaxCandidateLen   = 100_000
	MaxContextPackLen = 50_000
)

// AuditRequest is the validated input handed to the judge client.
type AuditRequest struct {
	Task        string            `json:"task"`
	Candidate   string            `json:"candidate"`
	ContextPack string            `json:"contextPack,omitempty"`
	Rubric      []RubricDimension `json:"rubric"`
	Budget      Budget            `json:"budget"`
}

// Validate checks the request against the size and shape constraints.
// It returns every violation found; a nil slice means the request is valid.
func (r *AuditRequest) Validate() []string {
	var violations []string

	if strings.TrimSpace(r.Task) == "" {
		violations = append(violations, "task: must not be empty")
	}
	if len(r.Task) > MaxTaskLen {
		violations = append(violations, fmt.Sprintf("task: exceeds %d characters", MaxTaskLen))
	}
	if strings.TrimSpace(r.Candidate) == "" {
		violations = append(violations, "candidate: must not be empty")
	}
	if len(r.Candidate) > MaxCandidateLen {
		violations = append(violations, fmt.Sprintf("candidate: exceeds %d characters", MaxCandidateLen))
	}
	if len(r.ContextPack) > MaxContextPackLen {
		violations = append(violations, fmt.Sprintf("contextPack: exceeds %d characters", MaxContextPackLen))
	}

	if len(r.Rubric) == 0 {
		violations = append(violations, "rubric: must not be empty")
	}
	seen := make(map[string]bool, len(r.Rubric))
	for i, d := range r.Rubric {
		if d.Name == "" {
			violations = append(violations, fmt.Sprintf("rubric[%d]: missing name", i))
			continue
		}
		if seen[d.Name] {
			violations = append(violations, fmt.Sprintf("rubric[%d]: duplicate name %q", i, d.Name))
		}
		seen[d.Name] = true
		if d.Weight < 0 {
			violations = append(violations, fmt.Sprintf("rubric[%d]: negative weight %v", i, d.Weight))
		}
	}

	if r.Budget.MaxCycles < 1 {
		violations = append(violations, fmt.Sprintf("budget.maxCycles: must be >= 1, got %d", r.Budget.MaxCycles))
	}
	if r.Budget.Candidates < 1 {
		violations = append(violations, fmt.Sprintf("budget.candidates: must be >= 1, got %d", r.Budget.Candidates))
	}
	if r.Budget.Threshold < 0 || r.Budget.Threshold > 100 {
		violations = append(violations, fmt.Sprintf("budget.threshold: must be in [0,100], got %d", r.Budget.Threshold))
	}

	return violations
}

// -----------------------------------------------------------------------------
// Workflow evidence
// -----------------------------------------------------------------------------

// EvidenceSeverity ranks a workflow-step finding.
type EvidenceSeverity string

const (
	SeverityCritical EvidenceSeverity = "Critical"
	SeverityMajor    EvidenceSeverity = "Major"
	SeverityMinor    EvidenceSeverity = "Minor"
)

// IsValid returns true if the severity is a recognized value.
func (s EvidenceSeverity) IsValid() bool {
	switch s {
	case SeverityCritical, SeverityMajor, SeverityMinor:
		return true
	}
	return false
}

// EvidenceItem records one finding produced by a workflow step. Evidence
// populates workflow history only; it is never merged into the canonical
// Review.
type EvidenceItem struct {
	Type              string           `json:"type"`
	Severity          EvidenceSeverity `json:"severity"`
	Location          string           `json:"location"`
	Description       string           `json:"description"`
	Proof             string           `json:"proof"`
	SuggestedFix      string           `json:"suggestedFix,omitempty"`
	ReproductionSteps []string         `json:"reproductionSteps,omitempty"`
}

// AuditResult is the engine's return shape: always a Review, canonical
// even when synthesized as a fallback.
type AuditResult struct {
	Review    *Review       `json:"review"`
	Success   bool          `json:"success"`
	TimedOut  bool          `json:"timedOut"`
	Duration  time.Duration `json:"duration"`
	Error     string        `json:"error,omitempty"`
	SessionID string        `json:"sessionId,omitempty"`
	Cached    bool          `json:"cached,omitempty"`
}
