// Package judge drives the external judge CLI: it builds the audit
// prompt, executes the judge through the process manager, parses the
// response, and applies the retry policy.
package judge

import (
	"fmt"
	"strings"

	"github.com/audithq/ganaudit/internal/review"
)

// reviewSchema describes the JSON object the judge must emit. Included
// verbatim in every prompt.
const reviewSchema = `{
  "overall": <integer 0-100>,
  "dimensions": [{"name": "<rubric dimension>", "score": <number 0-100>}, ...],
  "verdict": "pass" | "revise" | "reject",
  "review": {
    "summary": "<assessment>",
    "inline": [{"path": "<file>", "line": <positive integer>, "comment": "<note>"}, ...],
    "citations": ["<reference>", ...]
  },
  "proposed_diff": "<unified diff>" | null,
  "iterations": <positive integer>,
  "judge_cards": [{"model": "<model id>", "score": <number 0-100>, "notes": "<optional>"}, ...]
}`

// Sanitize removes C0 control characters (keeping tab, newline, carriage
// return) and escapes characters with meaning to shells and template
// engines: backslash, backtick, dollar sign.
func Sanitize(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r < 0x20 && r != '\t' && r != '\n' && r != '\r' {
			continue
		}
		switch r {
		case '\\', '`', '$':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

// BuildPrompt renders the audit prompt for a validated request. The
// prompt carries everything the judge needs and instructs it to answer
// with a single JSON object.
func BuildPrompt(req *review.AuditRequest) string {
	var b strings.Builder

	b.WriteString("You are a rigorous code auditor. Evaluate the candidate submission against the task.\n\n")

	b.WriteString("## Task\n")
	b.WriteString(Sanitize(req.Task))
	b.WriteString("\n\n")

	b.WriteString("## Candidate\n```\n")
	b.WriteString(Sanitize(req.Candidate))
	b.WriteString("\n```\n\n")

	if req.ContextPack != "" {
		b.WriteString("## Context\n")
		b.WriteString(Sanitize(req.ContextPack))
		b.WriteString("\n\n")
	}

	b.WriteString("## Rubric\nScore each dimension from 0 to 100:\n")
	for _, d := range req.Rubric {
		fmt.Fprintf(&b, "- %s (weight %.2f)", d.Name, d.Weight)
		if d.Description != "" {
			b.WriteString(": ")
			b.WriteString(Sanitize(d.Description))
		}
		b.WriteByte('\n')
	}
	b.WriteByte('\n')

	fmt.Fprintf(&b, "## Budget\nMax cycles: %d. Candidates: %d. Passing threshold: %d.\n",
		req.Budget.MaxCycles, req.Budget.Candidates, req.Budget.Threshold)
	fmt.Fprintf(&b, "Verdict guidance: overall >= %d with no blocking findings is \"pass\"; fixable shortfalls are \"revise\"; fundamental failures are \"reject\".\n\n",
		req.Budget.Threshold)

	b.WriteString("## Output format\nRespond with ONLY one JSON object, no prose before or after, matching:\n")
	b.WriteString(reviewSchema)
	b.WriteByte('\n')

	return b.String()
}
