package session

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/audithq/ganaudit/internal/config"
	"github.com/audithq/ganaudit/internal/errors"
	"github.com/audithq/ganaudit/internal/review"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(config.SessionConfig{StateDir: t.TempDir()}, nil)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	return s
}

func sampleReview(score int) *review.Review {
	return &review.Review{
		Overall:    score,
		Dimensions: []review.Dimension{{Name: "accuracy", Score: float64(score)}},
		Verdict:    review.VerdictRevise,
		Body:       review.Body{Summary: "needs work"},
		Iterations: 1,
		JudgeCards: []review.JudgeCard{{Model: "codex-cli", Score: float64(score)}},
	}
}

func TestCreateAndGet(t *testing.T) {
	s := newTestStore(t)

	created, err := s.Create("", Config{Task: "build the parser", Threshold: 85, MaxCycles: 3, Candidates: 1})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if len(created.ID) != 16 {
		t.Errorf("generated id = %q, want 16 hex chars", created.ID)
	}
	for _, c := range created.ID {
		if !strings.ContainsRune("0123456789abcdef", c) {
			t.Errorf("id %q contains non-hex char %q", created.ID, c)
		}
	}

	got, err := s.Get(created.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got == nil {
		t.Fatal("Get returned nil for freshly created session")
	}
	if got.Config.Task != "build the parser" || got.Config.Threshold != 85 {
		t.Errorf("config round-trip = %+v", got.Config)
	}
	if got.History == nil || len(got.History) != 0 {
		t.Errorf("History = %v, want empty non-nil slice", got.History)
	}
}

func TestGetMissingSession(t *testing.T) {
	s := newTestStore(t)
	got, err := s.Get("deadbeefdeadbeef")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got != nil {
		t.Errorf("Get = %+v, want nil for missing session", got)
	}
}

func TestCreateRejectsUnsafeID(t *testing.T) {
	s := newTestStore(t)
	for _, id := range []string{"../escape", "a/b", "id with space", "nul\x00byte"} {
		if _, err := s.Create(id, Config{}); err == nil {
			t.Errorf("Create(%q) accepted an unsafe id", id)
		}
	}
}

func TestFileFormatIndentedJSON(t *testing.T) {
	s := newTestStore(t)
	created, err := s.Create("abcd1234abcd1234", Config{Task: "t"})
	if err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(filepath.Join(s.Dir(), created.ID+".json"))
	if err != nil {
		t.Fatalf("read session file: %v", err)
	}
	if !strings.Contains(string(data), "\n  \"id\"") {
		t.Error("session file is not 2-space indented")
	}
	var onDisk Session
	if err := json.Unmarshal(data, &onDisk); err != nil {
		t.Fatalf("session file not valid JSON: %v", err)
	}
	if onDisk.ID != created.ID {
		t.Errorf("on-disk id = %q", onDisk.ID)
	}
}

func TestAddAuditToHistory(t *testing.T) {
	s := newTestStore(t)
	created, _ := s.Create("abcd1234abcd1234", Config{Task: "t"})

	rev := sampleReview(70)
	if err := s.AddAuditToHistory(created.ID, 3, rev); err != nil {
		t.Fatalf("AddAuditToHistory: %v", err)
	}

	// Mutating the caller's review must not affect the stored copy.
	rev.Overall = 0

	got, _ := s.Get(created.ID)
	if len(got.History) != 1 || got.History[0].ThoughtNumber != 3 {
		t.Fatalf("History = %+v", got.History)
	}
	if got.History[0].Review.Overall != 70 {
		t.Errorf("stored review overall = %d, want 70", got.History[0].Review.Overall)
	}
	if got.LastReview == nil || got.LastReview.Overall != 70 {
		t.Errorf("LastReview = %+v", got.LastReview)
	}
	if !got.UpdatedAt.After(created.UpdatedAt) && !got.UpdatedAt.Equal(created.UpdatedAt) {
		t.Error("UpdatedAt not refreshed")
	}
}

func TestMutateMissingSession(t *testing.T) {
	s := newTestStore(t)
	err := s.AddAuditToHistory("deadbeefdeadbeef", 1, sampleReview(50))
	if err == nil {
		t.Fatal("mutation on missing session succeeded")
	}
	if !errors.Is(err, errors.ErrSessionNotFound) {
		t.Errorf("error = %v, want ErrSessionNotFound", err)
	}
}

func TestIterationRetentionAndLoopCounter(t *testing.T) {
	s := newTestStore(t)
	created, _ := s.Create("abcd1234abcd1234", Config{})

	for i := 1; i <= MaxIterations+5; i++ {
		err := s.AddIteration(created.ID, Iteration{Number: i, Score: 50 + i%10, Verdict: "revise"})
		if err != nil {
			t.Fatalf("AddIteration %d: %v", i, err)
		}
	}

	got, _ := s.Get(created.ID)
	if len(got.Iterations) != MaxIterations {
		t.Errorf("iterations kept = %d, want %d", len(got.Iterations), MaxIterations)
	}
	if got.Iterations[0].Number != 6 {
		t.Errorf("oldest kept iteration = %d, want 6", got.Iterations[0].Number)
	}
	if got.CurrentLoop != MaxIterations+5 {
		t.Errorf("CurrentLoop = %d, want %d", got.CurrentLoop, MaxIterations+5)
	}
}

func TestWorkflowHistoryRetention(t *testing.T) {
	s := newTestStore(t)
	created, _ := s.Create("abcd1234abcd1234", Config{})

	for i := 0; i < MaxWorkflowEntries+10; i++ {
		err := s.AddWorkflowStepResult(created.ID, "lint", WorkflowStepResult{Success: true}, i)
		if err != nil {
			t.Fatalf("AddWorkflowStepResult: %v", err)
		}
	}

	got, _ := s.Get(created.ID)
	if len(got.WorkflowHistory) != MaxWorkflowEntries {
		t.Errorf("workflow entries = %d, want %d", len(got.WorkflowHistory), MaxWorkflowEntries)
	}
	if got.WorkflowHistory[0].ThoughtNumber != 10 {
		t.Errorf("oldest kept entry thought = %d, want 10", got.WorkflowHistory[0].ThoughtNumber)
	}
	if got.WorkflowHistory[0].StepName != "lint" {
		t.Errorf("StepName = %q", got.WorkflowHistory[0].StepName)
	}
}

func TestQualityProgressionCompletion(t *testing.T) {
	s := newTestStore(t)
	created, _ := s.Create("abcd1234abcd1234", Config{})

	if err := s.TrackQualityProgression(created.ID, QualityEntry{OverallScore: 60, Verdict: "revise"}); err != nil {
		t.Fatal(err)
	}
	got, _ := s.Get(created.ID)
	if got.IsComplete {
		t.Error("session complete after a revise entry")
	}

	err := s.TrackQualityProgression(created.ID, QualityEntry{
		OverallScore:       92,
		Verdict:            "pass",
		CompletionAnalysis: &CompletionAnalysis{Status: "completed", Reason: "threshold met"},
	})
	if err != nil {
		t.Fatal(err)
	}
	got, _ = s.Get(created.ID)
	if !got.IsComplete || got.CompletionReason != "threshold met" {
		t.Errorf("completion = %t/%q", got.IsComplete, got.CompletionReason)
	}
	if len(got.QualityProgression) != 2 {
		t.Errorf("quality entries = %d", len(got.QualityProgression))
	}
}

func TestPromptContextRoundTrip(t *testing.T) {
	s := newTestStore(t)
	created, _ := s.Create("abcd1234abcd1234", Config{})

	pc, err := s.GetPromptContext(created.ID)
	if err != nil {
		t.Fatal(err)
	}
	if pc != nil {
		t.Errorf("prompt context = %+v before any store", pc)
	}

	if err := s.StorePromptContext(created.ID, "carry this forward"); err != nil {
		t.Fatal(err)
	}
	pc, err = s.GetPromptContext(created.ID)
	if err != nil {
		t.Fatal(err)
	}
	if pc == nil || pc.Context != "carry this forward" {
		t.Fatalf("prompt context = %+v", pc)
	}
	if pc.StoredAt.IsZero() {
		t.Error("StoredAt not stamped")
	}
}

func TestRecordCodexFailure(t *testing.T) {
	s := newTestStore(t)
	created, _ := s.Create("abcd1234abcd1234", Config{})

	s.RecordCodexFailure(created.ID, 4, "codex exited 1")

	got, _ := s.Get(created.ID)
	if !got.HasCodexIssues {
		t.Error("HasCodexIssues = false")
	}
	if got.LastCodexFailure == nil {
		t.Error("LastCodexFailure not stamped")
	}
	if len(got.CodexFailures) != 1 || got.CodexFailures[0].Error != "codex exited 1" {
		t.Errorf("CodexFailures = %+v", got.CodexFailures)
	}
}

func TestRecordCodexFailureNeverErrors(t *testing.T) {
	s := newTestStore(t)
	// Missing session and unsafe id both must be swallowed silently.
	s.RecordCodexFailure("deadbeefdeadbeef", 1, "boom")
	s.RecordCodexFailure("../escape", 1, "boom")
}

func TestRepairPartialCorruption(t *testing.T) {
	s := newTestStore(t)
	created, _ := s.Create("abcd1234abcd1234", Config{Task: "keep me"})
	if err := s.AddIteration(created.ID, Iteration{Number: 1, Score: 55}); err != nil {
		t.Fatal(err)
	}

	// Strip required fields but keep optional state.
	path := filepath.Join(s.Dir(), created.ID+".json")
	data, _ := os.ReadFile(path)
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatal(err)
	}
	delete(raw, "id")
	delete(raw, "createdAt")
	delete(raw, "history")
	mangled, _ := json.Marshal(raw)
	if err := os.WriteFile(path, mangled, 0o644); err != nil {
		t.Fatal(err)
	}

	got, err := s.Get(created.ID)
	if err != nil {
		t.Fatalf("Get after mangle: %v", err)
	}
	if got == nil {
		t.Fatal("repairable session treated as missing")
	}
	if got.ID != created.ID {
		t.Errorf("repaired id = %q", got.ID)
	}
	if got.History == nil {
		t.Error("repaired History is nil")
	}
	if got.CreatedAt.IsZero() {
		t.Error("repaired CreatedAt is zero")
	}
	if len(got.Iterations) != 1 || got.Iterations[0].Score != 55 {
		t.Errorf("optional state lost in repair: %+v", got.Iterations)
	}
	if got.Config.Task != "keep me" {
		t.Errorf("config lost in repair: %+v", got.Config)
	}
}

func TestTotalCorruptionTreatedAsMissing(t *testing.T) {
	s := newTestStore(t)
	created, _ := s.Create("abcd1234abcd1234", Config{})
	path := filepath.Join(s.Dir(), created.ID+".json")
	if err := os.WriteFile(path, []byte("{not json at all"), 0o644); err != nil {
		t.Fatal(err)
	}

	got, err := s.Get(created.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got != nil {
		t.Errorf("unreadable session returned as %+v, want nil", got)
	}
}

func TestGetAllSessions(t *testing.T) {
	s := newTestStore(t)
	s.Create("aaaa1111aaaa1111", Config{Task: "one"})
	s.Create("bbbb2222bbbb2222", Config{Task: "two"})
	os.WriteFile(filepath.Join(s.Dir(), "garbage.json"), []byte("nope"), 0o644)
	os.WriteFile(filepath.Join(s.Dir(), "notes.txt"), []byte("ignore"), 0o644)

	sessions, err := s.GetAllSessions()
	if err != nil {
		t.Fatalf("GetAllSessions: %v", err)
	}
	if len(sessions) != 2 {
		t.Errorf("sessions = %d, want 2 (garbage skipped)", len(sessions))
	}
}

func TestDelete(t *testing.T) {
	s := newTestStore(t)
	created, _ := s.Create("abcd1234abcd1234", Config{})

	if err := s.Delete(created.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	got, _ := s.Get(created.ID)
	if got != nil {
		t.Error("session still readable after delete")
	}
	if err := s.Delete(created.ID); err != nil {
		t.Errorf("second delete errored: %v", err)
	}
}

func TestSweep(t *testing.T) {
	s := newTestStore(t)
	fresh, _ := s.Create("aaaa1111aaaa1111", Config{})
	stale, _ := s.Create("bbbb2222bbbb2222", Config{})

	// Age the stale session past the retention window on disk.
	path := filepath.Join(s.Dir(), stale.ID+".json")
	data, _ := os.ReadFile(path)
	var sess Session
	json.Unmarshal(data, &sess)
	sess.UpdatedAt = time.Now().Add(-48 * time.Hour)
	aged, _ := json.MarshalIndent(&sess, "", "  ")
	os.WriteFile(path, aged, 0o644)

	os.WriteFile(filepath.Join(s.Dir(), "cccc3333cccc3333.json"), []byte("corrupt"), 0o644)

	removed := s.Sweep()
	if removed != 2 {
		t.Errorf("Sweep removed %d files, want 2 (stale + corrupt)", removed)
	}
	if got, _ := s.Get(fresh.ID); got == nil {
		t.Error("fresh session removed by sweep")
	}
	if got, _ := s.Get(stale.ID); got != nil {
		t.Error("stale session survived sweep")
	}
}

func TestAnalyzeProgress(t *testing.T) {
	s := newTestStore(t)
	created, _ := s.Create("abcd1234abcd1234", Config{})

	for _, score := range []int{50, 58, 66} {
		if err := s.TrackQualityProgression(created.ID, QualityEntry{OverallScore: score, Verdict: "revise"}); err != nil {
			t.Fatal(err)
		}
	}

	analysis, err := s.AnalyzeProgress(created.ID)
	if err != nil {
		t.Fatalf("AnalyzeProgress: %v", err)
	}
	if len(analysis.ScoreProgression) != 3 || analysis.ScoreProgression[2] != 66 {
		t.Errorf("progression = %v", analysis.ScoreProgression)
	}
	if analysis.AverageImprovement != 8 {
		t.Errorf("AverageImprovement = %v, want 8", analysis.AverageImprovement)
	}
	if analysis.IsStagnant {
		t.Error("improving session reported stagnant")
	}
}

func TestAnalyzeProgressMissingSession(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.AnalyzeProgress("deadbeefdeadbeef"); !errors.Is(err, errors.ErrSessionNotFound) {
		t.Errorf("error = %v, want ErrSessionNotFound", err)
	}
}

func TestDetectStagnation(t *testing.T) {
	s := newTestStore(t)
	created, _ := s.Create("abcd1234abcd1234", Config{})

	for _, score := range []int{70, 71, 70, 72, 71} {
		if err := s.TrackQualityProgression(created.ID, QualityEntry{OverallScore: score, Verdict: "revise"}); err != nil {
			t.Fatal(err)
		}
		if err := s.AddIteration(created.ID, Iteration{Score: score}); err != nil {
			t.Fatal(err)
		}
	}

	report, err := s.DetectStagnation(created.ID)
	if err != nil {
		t.Fatalf("DetectStagnation: %v", err)
	}
	if !report.IsStagnant {
		t.Error("flat scores not detected as stagnant")
	}
	if report.DetectedAtLoop != 5 {
		t.Errorf("DetectedAtLoop = %d, want 5", report.DetectedAtLoop)
	}
	// Deltas 1,1,2,1 over the window give avg 1.25 and similarity 0.875.
	if report.SimilarityScore < 0.87 || report.SimilarityScore > 0.88 {
		t.Errorf("SimilarityScore = %v", report.SimilarityScore)
	}
	if report.Recommendation == "" {
		t.Error("empty recommendation")
	}
}

func TestStagnationHelpers(t *testing.T) {
	tests := []struct {
		name   string
		scores []int
		want   bool
	}{
		{"too few points", []int{70, 70}, false},
		{"flat five", []int{70, 71, 70, 72, 71}, true},
		{"moving", []int{50, 60, 70, 80, 90}, false},
		{"only last window counts", []int{10, 90, 70, 71, 70, 72, 71}, true},
		{"boundary delta of 2", []int{70, 72, 70}, true},
		{"delta of 3", []int{70, 73, 70}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isStagnant(tt.scores); got != tt.want {
				t.Errorf("isStagnant(%v) = %v, want %v", tt.scores, got, tt.want)
			}
		})
	}

	if sim := similarity([]int{70, 70, 70, 70, 70}); sim != 1 {
		t.Errorf("identical scores similarity = %v, want 1", sim)
	}
	if sim := similarity([]int{0, 50, 100}); sim != 0 {
		t.Errorf("wild swings similarity = %v, want 0", sim)
	}
}

func TestResolveStateDirExpansion(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home dir")
	}
	got, err := resolveStateDir("~/state")
	if err != nil {
		t.Fatal(err)
	}
	if got != filepath.Join(home, "state") {
		t.Errorf("resolved = %q", got)
	}

	abs, err := resolveStateDir("/tmp/gan-state")
	if err != nil {
		t.Fatal(err)
	}
	if abs != "/tmp/gan-state" {
		t.Errorf("absolute path altered: %q", abs)
	}
}
