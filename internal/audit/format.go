// Package audit is the synchronous audit engine: the single entry point
// the outer system calls. It decides whether a submission needs auditing,
// consults the cache, schedules judge work on the queue, and always
// returns a canonical review — synthesizing a fallback when the judge
// cannot produce one.
package audit

import (
	"regexp"
	"strings"
)

// codeTokens are language keywords whose presence marks code-like content.
var codeTokens = regexp.MustCompile(
	`\b(func|function|class|import|export|const|let|var|def|return|package|interface|struct)\b`)

// typeAnnotation matches "name: Type" style annotations.
var typeAnnotation = regexp.MustCompile(`\w+\s*:\s*(string|number|boolean|int|float|bool|any|void)\b`)

// ContainsCode reports whether text looks like it carries code: fenced
// blocks, inline backticks, language keywords, type annotations, or
// comments. Submissions without code-like content skip auditing.
func ContainsCode(text string) bool {
	if strings.Contains(text, "```") {
		return true
	}
	if strings.ContainsRune(text, '`') {
		return true
	}
	if codeTokens.MatchString(text) {
		return true
	}
	if typeAnnotation.MatchString(text) {
		return true
	}
	if strings.Contains(text, "//") || strings.Contains(text, "/*") || strings.Contains(text, "#!") {
		return true
	}
	return false
}

// Format classifies a submission's surface syntax.
type Format string

const (
	FormatMarkdown   Format = "markdown"
	FormatTypeScript Format = "typescript"
	FormatJavaScript Format = "javascript"
	FormatPython     Format = "python"
	FormatPlain      Format = "plain"
)

// supportedFenceLanguages are the language identifiers accepted on fences.
var supportedFenceLanguages = map[string]bool{
	"": true, "go": true, "ts": true, "typescript": true,
	"js": true, "javascript": true, "py": true, "python": true,
	"json": true, "yaml": true, "sh": true, "bash": true,
	"diff": true, "text": true, "markdown": true, "md": true,
}

var fenceOpen = regexp.MustCompile("(?m)^```([A-Za-z0-9_+-]*)\\s*$")

// FormatCheck is the outcome of format validation: a detected format, the
// possibly-cleaned candidate text, and non-fatal issues. Format issues
// never abort an audit.
type FormatCheck struct {
	Format  Format
	Cleaned string
	Issues  []string
}

// CheckFormat detects the submission format and flags structural problems
// with fenced blocks. When the whole submission is a single fenced block,
// the fence is stripped so the judge sees bare code.
func CheckFormat(text string) FormatCheck {
	check := FormatCheck{Cleaned: text}

	fences := fenceOpen.FindAllStringSubmatchIndex(text, -1)
	if len(fences) > 0 {
		check.Format = FormatMarkdown
		if len(fences)%2 != 0 {
			check.Issues = append(check.Issues, "unbalanced code fences")
		}
		for i := 0; i+1 < len(fences); i += 2 {
			lang := strings.ToLower(text[fences[i][2]:fences[i][3]])
			if !supportedFenceLanguages[lang] {
				check.Issues = append(check.Issues, "unsupported fence language: "+lang)
			}
			body := text[fences[i][1]:fences[i+1][0]]
			if strings.TrimSpace(body) == "" {
				check.Issues = append(check.Issues, "empty fenced block")
			}
			if strings.Contains(body, "```") {
				check.Issues = append(check.Issues, "nested code fences")
			}
		}
		check.Cleaned = unwrapSingleFence(text)
		return check
	}

	switch {
	case typeAnnotation.MatchString(text) || strings.Contains(text, "=>") && strings.Contains(text, "interface"):
		check.Format = FormatTypeScript
	case strings.Contains(text, "function ") || strings.Contains(text, "=>"):
		check.Format = FormatJavaScript
	case regexp.MustCompile(`(?m)^\s*def \w+\(`).MatchString(text):
		check.Format = FormatPython
	default:
		check.Format = FormatPlain
	}
	return check
}

// unwrapSingleFence strips the fence when the entire submission is one
// fenced block; otherwise returns text unchanged.
func unwrapSingleFence(text string) string {
	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, "```") {
		return text
	}
	lines := strings.Split(trimmed, "\n")
	if len(lines) < 2 || strings.TrimSpace(lines[len(lines)-1]) != "```" {
		return text
	}
	// Any interior fence means this is not a single wrapped block.
	for _, line := range lines[1 : len(lines)-1] {
		if strings.HasPrefix(strings.TrimSpace(line), "```") {
			return text
		}
	}
	return strings.Join(lines[1:len(lines)-1], "\n")
}
