// Package parse converts raw judge output into a validated Review.
//
// The judge emits a JSON-lines stream; one line carries an agent message
// whose text is (or contains) the review object. Parsing is tolerant —
// unparseable lines are skipped — but validation is strict: every
// violation is accumulated and any violation rejects the response. The
// parser never repairs a real response.
package parse

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/audithq/ganaudit/internal/errors"
	"github.com/audithq/ganaudit/internal/logging"
	"github.com/audithq/ganaudit/internal/review"
)

// Parser extracts Reviews from raw judge output.
type Parser struct {
	logger *logging.Logger
}

// NewParser creates a Parser.
func NewParser(logger *logging.Logger) *Parser {
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Parser{logger: logger.WithComponent("parse")}
}

// jsonLine is the envelope shape of one judge output line.
type jsonLine struct {
	Msg struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"msg"`
}

// Parse runs the two-stage extraction then strict validation.
func (p *Parser) Parse(raw string) (*review.Review, error) {
	candidate, rejection := p.extract(raw)
	if candidate == nil {
		msg := "no review object found in judge output"
		if rejection != "" {
			msg += ": " + rejection
		}
		return nil, errors.NewResponseError(msg, raw)
	}

	rev, issues := p.validate(candidate)
	if len(issues) > 0 {
		return nil, errors.NewResponseError(
			fmt.Sprintf("Response validation failed: %s", strings.Join(issues, "; ")), raw).
			WithViolations(issues)
	}
	return rev, nil
}

// extract locates the review candidate: the agent-message line's embedded
// object, or the whole response as a fallback. When every candidate is
// rejected, the first shape-check failure is returned so the caller can
// say why instead of just "not found".
func (p *Parser) extract(raw string) (map[string]any, string) {
	rejection := ""
	note := func(r string) {
		if rejection == "" {
			rejection = r
		}
	}

	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		var envelope jsonLine
		if err := json.Unmarshal([]byte(line), &envelope); err != nil {
			p.logger.Debug("skipping unparseable output line", "error", err)
			continue
		}
		if envelope.Msg.Type != "agent_message" || envelope.Msg.Message == "" {
			continue
		}

		obj, reason := decodeCandidate(envelope.Msg.Message)
		if obj != nil {
			return obj, ""
		}
		note(reason)
		if inner := extractBalancedObject(envelope.Msg.Message); inner != "" {
			obj, reason = decodeCandidate(inner)
			if obj != nil {
				return obj, ""
			}
			note(reason)
		}
	}

	// Fallback: the whole response as one JSON document.
	obj, reason := decodeCandidate(raw)
	if obj != nil {
		return obj, ""
	}
	note(reason)
	return nil, rejection
}

// decodeCandidate parses text as a JSON object and applies the shape
// check: overall in [0,100] and a recognized verdict. Candidates failing
// the shape check are not accepted; the reason says which rule rejected
// them.
func decodeCandidate(text string) (map[string]any, string) {
	var obj map[string]any
	if err := json.Unmarshal([]byte(strings.TrimSpace(text)), &obj); err != nil {
		return nil, ""
	}
	overall, ok := asFloat(obj["overall"])
	if !ok {
		return nil, "candidate object has no numeric overall score"
	}
	if overall < 0 || overall > 100 {
		return nil, fmt.Sprintf("score out of range: overall %v outside [0, 100]", obj["overall"])
	}
	verdict, _ := obj["verdict"].(string)
	if !review.Verdict(verdict).IsValid() {
		return nil, fmt.Sprintf("unrecognized verdict %q", verdict)
	}
	return obj, ""
}

// extractBalancedObject returns the first balanced {...} substring,
// respecting JSON string literals and escapes.
func extractBalancedObject(text string) string {
	start := strings.IndexByte(text, '{')
	if start < 0 {
		return ""
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return text[start : i+1]
			}
		}
	}
	return ""
}

// validate applies the strict field rules, accumulating every violation.
func (p *Parser) validate(obj map[string]any) (*review.Review, []string) {
	var issues []string
	rev := &review.Review{}

	overall, ok := asFloat(obj["overall"])
	switch {
	case !ok:
		issues = append(issues, "overall: missing or not a number")
	case overall < 0 || overall > 100:
		issues = append(issues, fmt.Sprintf("overall: out of range: %v", overall))
	default:
		rev.Overall = int(math.Round(overall))
	}

	verdict, _ := obj["verdict"].(string)
	if !review.Verdict(verdict).IsValid() {
		issues = append(issues, fmt.Sprintf("verdict: invalid value %q", verdict))
	} else {
		rev.Verdict = review.Verdict(verdict)
	}

	rev.Dimensions, issues = validateDimensions(obj["dimensions"], issues)
	rev.Body, issues = validateBody(obj["review"], issues)
	rev.Iterations, issues = validateIterations(obj["iterations"], issues)
	rev.JudgeCards, issues = validateJudgeCards(obj["judge_cards"], issues)

	switch diff := obj["proposed_diff"].(type) {
	case nil:
		rev.ProposedDiff = nil
	case string:
		rev.ProposedDiff = &diff
	default:
		issues = append(issues, "proposed_diff: must be a string or null")
	}

	if len(issues) == 0 {
		// Belt and braces: the assembled review must itself be canonical.
		issues = append(issues, rev.Validate()...)
	}
	return rev, issues
}

func validateDimensions(v any, issues []string) ([]review.Dimension, []string) {
	list, ok := v.([]any)
	if !ok || len(list) == 0 {
		return nil, append(issues, "dimensions: missing or empty")
	}
	dims := make([]review.Dimension, 0, len(list))
	for i, item := range list {
		m, ok := item.(map[string]any)
		if !ok {
			issues = append(issues, fmt.Sprintf("dimensions[%d]: not an object", i))
			continue
		}
		name, _ := m["name"].(string)
		if name == "" {
			issues = append(issues, fmt.Sprintf("dimensions[%d]: missing name", i))
		}
		score, ok := asFloat(m["score"])
		if !ok {
			issues = append(issues, fmt.Sprintf("dimensions[%d]: score missing or not a number", i))
		} else if score < 0 || score > 100 {
			issues = append(issues, fmt.Sprintf("dimensions[%d]: score out of range: %v", i, score))
		}
		dims = append(dims, review.Dimension{Name: name, Score: score})
	}
	return dims, issues
}

func validateBody(v any, issues []string) (review.Body, []string) {
	var body review.Body
	m, ok := v.(map[string]any)
	if !ok {
		return body, append(issues, "review: missing or not an object")
	}

	summary, ok := m["summary"].(string)
	if !ok || strings.TrimSpace(summary) == "" {
		issues = append(issues, "review.summary: missing or empty")
	}
	body.Summary = summary

	if rawInline, present := m["inline"]; present && rawInline != nil {
		list, ok := rawInline.([]any)
		if !ok {
			issues = append(issues, "review.inline: not a list")
		}
		for i, item := range list {
			c, ok := item.(map[string]any)
			if !ok {
				issues = append(issues, fmt.Sprintf("review.inline[%d]: not an object", i))
				continue
			}
			path, _ := c["path"].(string)
			comment, _ := c["comment"].(string)
			line, lineOK := asFloat(c["line"])
			if path == "" || comment == "" || !lineOK || line < 1 || line != math.Trunc(line) {
				issues = append(issues, fmt.Sprintf("review.inline[%d]: malformed entry dropped", i))
				continue
			}
			body.Inline = append(body.Inline, review.InlineComment{
				Path:    path,
				Line:    int(line),
				Comment: comment,
			})
		}
	}

	if rawCitations, present := m["citations"]; present && rawCitations != nil {
		list, ok := rawCitations.([]any)
		if !ok {
			issues = append(issues, "review.citations: not a list")
		}
		for i, item := range list {
			s, ok := item.(string)
			if !ok {
				issues = append(issues, fmt.Sprintf("review.citations[%d]: not a string, dropped", i))
				continue
			}
			body.Citations = append(body.Citations, s)
		}
	}

	return body, issues
}

func validateIterations(v any, issues []string) (int, []string) {
	if v == nil {
		// Absent is the only case that defaults.
		return 1, issues
	}
	n, ok := asFloat(v)
	if !ok || n < 1 || n != math.Trunc(n) {
		return 0, append(issues, fmt.Sprintf("iterations: must be a positive integer, got %v", v))
	}
	return int(n), issues
}

func validateJudgeCards(v any, issues []string) ([]review.JudgeCard, []string) {
	list, ok := v.([]any)
	if !ok || len(list) == 0 {
		return nil, append(issues, "judge_cards: missing or empty")
	}
	cards := make([]review.JudgeCard, 0, len(list))
	for i, item := range list {
		m, ok := item.(map[string]any)
		if !ok {
			issues = append(issues, fmt.Sprintf("judge_cards[%d]: not an object", i))
			continue
		}
		model, _ := m["model"].(string)
		if model == "" {
			issues = append(issues, fmt.Sprintf("judge_cards[%d]: missing model", i))
		}
		score, ok := asFloat(m["score"])
		if !ok {
			issues = append(issues, fmt.Sprintf("judge_cards[%d]: score missing or not a number", i))
		} else if score < 0 || score > 100 {
			issues = append(issues, fmt.Sprintf("judge_cards[%d]: score out of range: %v", i, score))
		}
		notes, _ := m["notes"].(string)
		cards = append(cards, review.JudgeCard{Model: model, Score: score, Notes: notes})
	}
	return cards, issues
}

// asFloat converts a decoded JSON value to a finite float64.
func asFloat(v any) (float64, bool) {
	f, ok := v.(float64)
	if !ok || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}
