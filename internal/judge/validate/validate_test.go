package validate

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/audithq/ganaudit/internal/config"
	"github.com/audithq/ganaudit/internal/errors"
	"github.com/audithq/ganaudit/internal/judge/env"
	"github.com/audithq/ganaudit/internal/judge/process"
)

// fakeExecutor returns canned results per executable+first-arg.
type fakeExecutor struct {
	results map[string]*process.Result
	calls   []string
}

func (f *fakeExecutor) ExecuteCommand(ctx context.Context, executable string, args []string, opts process.Options) (*process.Result, error) {
	key := executable
	if len(args) > 0 {
		key = executable + " " + args[0]
	}
	f.calls = append(f.calls, key)
	if res, ok := f.results[key]; ok {
		return res, nil
	}
	return &process.Result{ExitCode: 0}, nil
}

func writeFakeJudge(t *testing.T, dir string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("unix permission bits")
	}
	exe := filepath.Join(dir, "codex")
	if err := os.WriteFile(exe, []byte("#!/bin/sh\n"), 0o755); err != nil {
		t.Fatal(err)
	}
	return exe
}

func newValidator(t *testing.T, cfg config.JudgeConfig, exec Executor) *Validator {
	t.Helper()
	return NewValidator(cfg, env.NewResolver(cfg, nil), exec, nil)
}

func TestValidateSuccess(t *testing.T) {
	dir := t.TempDir()
	exe := writeFakeJudge(t, dir)
	t.Setenv("PATH", dir)

	cfg := config.JudgeConfig{Binary: "codex", MinVersion: "0.29.0", SearchPaths: []string{dir}}
	fake := &fakeExecutor{results: map[string]*process.Result{
		exe + " --version": {Stdout: "codex-cli 0.31.2\n", ExitCode: 0},
	}}

	report := newValidator(t, cfg, fake).Validate(context.Background())
	if !report.IsAvailable {
		t.Fatalf("IsAvailable = false, issues: %v", report.EnvironmentIssues)
	}
	if report.Version != "0.31.2" {
		t.Errorf("Version = %q, want 0.31.2", report.Version)
	}
	if report.ExecutablePath != exe {
		t.Errorf("ExecutablePath = %q, want %q", report.ExecutablePath, exe)
	}
}

func TestValidateMissingExecutable(t *testing.T) {
	t.Setenv("PATH", t.TempDir())

	cfg := config.JudgeConfig{Binary: "codex", SearchPaths: []string{t.TempDir()}}
	report := newValidator(t, cfg, &fakeExecutor{}).Validate(context.Background())

	if report.IsAvailable {
		t.Fatal("IsAvailable = true for missing executable")
	}
	if len(report.EnvironmentIssues) == 0 || len(report.Recommendations) == 0 {
		t.Error("missing executable produced no diagnostics")
	}
}

func TestValidateVersionBelowMinimum(t *testing.T) {
	dir := t.TempDir()
	exe := writeFakeJudge(t, dir)
	t.Setenv("PATH", dir)

	cfg := config.JudgeConfig{Binary: "codex", MinVersion: "0.29.0", SearchPaths: []string{dir}}
	fake := &fakeExecutor{results: map[string]*process.Result{
		exe + " --version": {Stdout: "0.28.9", ExitCode: 0},
	}}

	report := newValidator(t, cfg, fake).Validate(context.Background())
	if report.IsAvailable {
		t.Fatal("IsAvailable = true below minimum version")
	}
	if report.Version != "0.28.9" {
		t.Errorf("Version = %q, want parsed 0.28.9", report.Version)
	}
	joined := strings.Join(report.EnvironmentIssues, "\n")
	if !strings.Contains(joined, "below the minimum") {
		t.Errorf("issues %q do not mention the version gate", joined)
	}
}

func TestValidateUnparseableVersion(t *testing.T) {
	dir := t.TempDir()
	exe := writeFakeJudge(t, dir)
	t.Setenv("PATH", dir)

	cfg := config.JudgeConfig{Binary: "codex", SearchPaths: []string{dir}}
	fake := &fakeExecutor{results: map[string]*process.Result{
		exe + " --version": {Stdout: "development build", ExitCode: 0},
	}}

	if report := newValidator(t, cfg, fake).Validate(context.Background()); report.IsAvailable {
		t.Error("IsAvailable = true for unparseable version")
	}
}

func TestValidateSmokeTestFailure(t *testing.T) {
	dir := t.TempDir()
	exe := writeFakeJudge(t, dir)
	t.Setenv("PATH", dir)

	cfg := config.JudgeConfig{Binary: "codex", SearchPaths: []string{dir}}
	fake := &fakeExecutor{results: map[string]*process.Result{
		exe + " --version": {Stdout: "1.0.0", ExitCode: 0},
		exe + " -h":        {ExitCode: 1},
	}}

	if report := newValidator(t, cfg, fake).Validate(context.Background()); report.IsAvailable {
		t.Error("IsAvailable = true after failing smoke test")
	}
}

func TestRequireReturnsNotAvailable(t *testing.T) {
	t.Setenv("PATH", t.TempDir())

	cfg := config.JudgeConfig{Binary: "codex", SearchPaths: []string{t.TempDir()}}
	_, err := newValidator(t, cfg, &fakeExecutor{}).Require(context.Background())
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.IsNotAvailable(err) {
		t.Errorf("IsNotAvailable = false for %T", err)
	}
}

func TestValidateAgainstRealProcessManager(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("uses /bin/sh")
	}
	dir := t.TempDir()
	exe := filepath.Join(dir, "codex")
	script := "#!/bin/sh\ncase \"$1\" in\n--version) echo 0.30.0 ;;\n-h) exit 0 ;;\nesac\n"
	if err := os.WriteFile(exe, []byte(script), 0o755); err != nil {
		t.Fatal(err)
	}
	t.Setenv("PATH", dir+string(os.PathListSeparator)+"/bin"+string(os.PathListSeparator)+"/usr/bin")

	cfg := config.JudgeConfig{Binary: "codex", MinVersion: "0.29.0", SearchPaths: []string{dir}, ValidationTimeout: 5 * time.Second}
	mgr := process.NewManager(config.ProcessConfig{MaxConcurrent: 3, QueueTimeout: time.Second, CleanupTimeout: time.Second}, nil, nil, nil)
	defer mgr.Shutdown()

	report := NewValidator(cfg, env.NewResolver(cfg, nil), mgr, nil).Validate(context.Background())
	if !report.IsAvailable {
		t.Fatalf("IsAvailable = false, issues: %v", report.EnvironmentIssues)
	}
	if report.Version != "0.30.0" {
		t.Errorf("Version = %q, want 0.30.0", report.Version)
	}
}

func TestCompareVersions(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{"0.29.0", "0.29.0", 0},
		{"0.30.0", "0.29.0", 1},
		{"0.28.9", "0.29.0", -1},
		{"1.0.0", "0.99.99", 1},
		{"0.29", "0.29.0", 0},
		{"0.29.1", "0.29", 1},
	}
	for _, tt := range tests {
		if got := CompareVersions(tt.a, tt.b); got != tt.want {
			t.Errorf("CompareVersions(%q, %q) = %d, want %d", tt.a, tt.b, got, tt.want)
		}
	}
}
