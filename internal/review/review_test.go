package review

import (
	"testing"
)

func canonical() *Review {
	return &Review{
		Overall: 88,
		Dimensions: []Dimension{
			{Name: "accuracy", Score: 90},
			{Name: "completeness", Score: 85},
		},
		Verdict: VerdictPass,
		Body: Body{
			Summary:   "ok",
			Inline:    []InlineComment{{Path: "main.go", Line: 10, Comment: "nit"}},
			Citations: []string{"main.go:10"},
		},
		Iterations: 1,
		JudgeCards: []JudgeCard{{Model: "codex-cli", Score: 88}},
	}
}

func TestValidateCanonical(t *testing.T) {
	if v := canonical().Validate(); len(v) != 0 {
		t.Fatalf("canonical review reported violations: %v", v)
	}
}

func TestValidateViolations(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Review)
	}{
		{"overall negative", func(r *Review) { r.Overall = -5 }},
		{"overall over 100", func(r *Review) { r.Overall = 101 }},
		{"bad verdict", func(r *Review) { r.Verdict = "maybe" }},
		{"empty dimensions", func(r *Review) { r.Dimensions = nil }},
		{"dimension score out of range", func(r *Review) { r.Dimensions[0].Score = 130 }},
		{"empty summary", func(r *Review) { r.Body.Summary = "  " }},
		{"inline line zero", func(r *Review) { r.Body.Inline[0].Line = 0 }},
		{"zero iterations", func(r *Review) { r.Iterations = 0 }},
		{"no judge cards", func(r *Review) { r.JudgeCards = nil }},
		{"judge card score out of range", func(r *Review) { r.JudgeCards[0].Score = -1 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := canonical()
			tt.mutate(r)
			if v := r.Validate(); len(v) == 0 {
				t.Error("expected violations, got none")
			}
		})
	}
}

func TestCloneIsDeep(t *testing.T) {
	diff := "--- a\n+++ b\n"
	r := canonical()
	r.ProposedDiff = &diff

	cp := r.Clone()
	cp.Dimensions[0].Score = 1
	cp.Body.Inline[0].Comment = "changed"
	cp.Body.Citations[0] = "changed"
	cp.JudgeCards[0].Score = 1
	*cp.ProposedDiff = "changed"

	if r.Dimensions[0].Score != 90 {
		t.Error("clone shares dimensions backing array")
	}
	if r.Body.Inline[0].Comment != "nit" {
		t.Error("clone shares inline backing array")
	}
	if r.Body.Citations[0] != "main.go:10" {
		t.Error("clone shares citations backing array")
	}
	if r.JudgeCards[0].Score != 88 {
		t.Error("clone shares judge card backing array")
	}
	if *r.ProposedDiff != diff {
		t.Error("clone shares proposed diff pointer")
	}
}

func TestAuditRequestValidate(t *testing.T) {
	valid := AuditRequest{
		Task:      "review this function",
		Candidate: "func add(a, b int) int { return a + b }",
		Rubric: []RubricDimension{
			{Name: "accuracy", Weight: 0.5},
			{Name: "clarity", Weight: 0.5},
		},
		Budget: Budget{MaxCycles: 1, Candidates: 1, Threshold: 85},
	}
	if v := valid.Validate(); len(v) != 0 {
		t.Fatalf("valid request reported violations: %v", v)
	}

	tests := []struct {
		name   string
		mutate func(*AuditRequest)
	}{
		{"empty task", func(r *AuditRequest) { r.Task = "" }},
		{"oversize task", func(r *AuditRequest) { r.Task = string(make([]byte, MaxTaskLen+1)) }},
		{"empty candidate", func(r *AuditRequest) { r.Candidate = "" }},
		{"empty rubric", func(r *AuditRequest) { r.Rubric = nil }},
		{"duplicate rubric name", func(r *AuditRequest) { r.Rubric[1].Name = "accuracy" }},
		{"negative weight", func(r *AuditRequest) { r.Rubric[0].Weight = -1 }},
		{"zero max cycles", func(r *AuditRequest) { r.Budget.MaxCycles = 0 }},
		{"threshold over 100", func(r *AuditRequest) { r.Budget.Threshold = 101 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := valid
			r.Rubric = append([]RubricDimension(nil), valid.Rubric...)
			tt.mutate(&r)
			if v := r.Validate(); len(v) == 0 {
				t.Error("expected violations, got none")
			}
		})
	}
}

func TestVerdictIsValid(t *testing.T) {
	for _, v := range []Verdict{VerdictPass, VerdictRevise, VerdictReject} {
		if !v.IsValid() {
			t.Errorf("verdict %q reported invalid", v)
		}
	}
	for _, v := range []Verdict{"maybe", "", "PASS"} {
		if v.IsValid() {
			t.Errorf("verdict %q reported valid", v)
		}
	}
}
