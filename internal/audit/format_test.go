package audit

import (
	"strings"
	"testing"
)

func TestContainsCode(t *testing.T) {
	tests := []struct {
		name string
		text string
		want bool
	}{
		{"fenced block", "here:\n```go\nfunc a() {}\n```", true},
		{"inline backticks", "call `doThing()` next", true},
		{"function keyword", "function handler(req) { }", true},
		{"go keyword", "func main() {}", true},
		{"python def", "def compute(x): return x", true},
		{"import", "import os", true},
		{"const let var", "const x = 1; let y = 2; var z = 3", true},
		{"type annotation", "count: number = 0", true},
		{"line comment", "value = 1 // initial", true},
		{"block comment", "/* setup */ run()", true},
		{"prose only", "I think we should refactor the billing module next sprint.", false},
		{"empty", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ContainsCode(tt.text); got != tt.want {
				t.Errorf("ContainsCode = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCheckFormatDetection(t *testing.T) {
	tests := []struct {
		name string
		text string
		want Format
	}{
		{"markdown", "```go\nfunc a() {}\n```", FormatMarkdown},
		{"typescript", "const n: number = 1", FormatTypeScript},
		{"javascript", "function go() { return 1 }", FormatJavaScript},
		{"python", "def go():\n    return 1", FormatPython},
		{"plain", "just words here", FormatPlain},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CheckFormat(tt.text).Format; got != tt.want {
				t.Errorf("Format = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestCheckFormatFlagsIssues(t *testing.T) {
	t.Run("empty fenced block", func(t *testing.T) {
		check := CheckFormat("```go\n\n```")
		if !hasIssue(check, "empty fenced block") {
			t.Errorf("issues = %v", check.Issues)
		}
	})

	t.Run("unsupported language", func(t *testing.T) {
		check := CheckFormat("```brainfuck\n++++\n```")
		if !hasIssue(check, "unsupported fence language") {
			t.Errorf("issues = %v", check.Issues)
		}
	})

	t.Run("supported languages pass", func(t *testing.T) {
		check := CheckFormat("```go\nfunc a() {}\n```")
		if hasIssue(check, "unsupported fence language") {
			t.Errorf("issues = %v", check.Issues)
		}
	})
}

func TestUnwrapSingleFence(t *testing.T) {
	t.Run("single block unwrapped", func(t *testing.T) {
		check := CheckFormat("```go\nfunc a() {}\n```")
		if check.Cleaned != "func a() {}" {
			t.Errorf("Cleaned = %q", check.Cleaned)
		}
	})

	t.Run("prose plus block untouched", func(t *testing.T) {
		text := "Explanation first.\n```go\nfunc a() {}\n```"
		if got := CheckFormat(text).Cleaned; got != text {
			t.Errorf("Cleaned = %q, want unchanged", got)
		}
	})

	t.Run("multiple blocks untouched", func(t *testing.T) {
		text := "```go\nfunc a() {}\n```\n```go\nfunc b() {}\n```"
		if got := CheckFormat(text).Cleaned; got != text {
			t.Errorf("Cleaned = %q, want unchanged", got)
		}
	})
}

func hasIssue(check FormatCheck, substr string) bool {
	for _, issue := range check.Issues {
		if strings.Contains(issue, substr) {
			return true
		}
	}
	return false
}
