// Package validate probes the judge executable: is it present, executable,
// recent enough, and responsive. The result carries actionable diagnostics
// rather than a bare boolean.
package validate

import (
	"context"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/audithq/ganaudit/internal/config"
	"github.com/audithq/ganaudit/internal/errors"
	"github.com/audithq/ganaudit/internal/judge/env"
	"github.com/audithq/ganaudit/internal/judge/process"
	"github.com/audithq/ganaudit/internal/logging"
)

// Executor runs commands on the validator's behalf. Satisfied by
// *process.Manager.
type Executor interface {
	ExecuteCommand(ctx context.Context, executable string, args []string, opts process.Options) (*process.Result, error)
}

// Report is the outcome of a validation run.
type Report struct {
	IsAvailable       bool
	Version           string
	ExecutablePath    string
	EnvironmentIssues []string
	Recommendations   []string
}

// Validator checks judge availability. Each probe runs under the
// configured validation timeout with the process manager's termination
// discipline.
type Validator struct {
	cfg      config.JudgeConfig
	resolver *env.Resolver
	executor Executor
	logger   *logging.Logger
}

// NewValidator creates a Validator.
func NewValidator(cfg config.JudgeConfig, resolver *env.Resolver, executor Executor, logger *logging.Logger) *Validator {
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Validator{
		cfg:      cfg,
		resolver: resolver,
		executor: executor,
		logger:   logger.WithComponent("validate"),
	}
}

var versionPattern = regexp.MustCompile(`(\d+)\.(\d+)\.(\d+)`)

// Validate runs the probe sequence. Each failing step records an issue and
// a recommendation and stops the run; only a fully passing run marks the
// judge available.
func (v *Validator) Validate(ctx context.Context) *Report {
	report := &Report{}

	// Step 1: environment sanity.
	if os.Getenv("PATH") == "" {
		report.addIssue("PATH is not set",
			"export a PATH containing the judge executable's directory")
		return report
	}
	if !v.probe(ctx, "/bin/sh", []string{"-c", "echo test"}, "") {
		report.addIssue("shell sentinel command failed",
			"verify /bin/sh works and the environment is not sandboxed away")
		return report
	}

	// Step 2: locate the executable.
	exe, attempted, err := v.resolver.ResolveExecutable(v.cfg.Binary)
	if err != nil {
		report.addIssue(
			fmt.Sprintf("judge executable %q not found (%d locations tried)", v.cfg.Binary, len(attempted)),
			env.InstallGuidance()...)
		return report
	}
	report.ExecutablePath = exe

	// Step 3: execute permission.
	info, statErr := os.Stat(exe)
	if statErr != nil || info.Mode()&0o111 == 0 {
		report.addIssue(
			fmt.Sprintf("%s exists but is not executable", exe),
			fmt.Sprintf("chmod +x %s", exe))
		return report
	}

	// Step 4: version gate.
	res, err := v.executor.ExecuteCommand(ctx, exe, []string{"--version"},
		process.Options{Timeout: v.timeout()})
	if err != nil || res.TimedOut || res.ExitCode != 0 {
		report.addIssue(
			fmt.Sprintf("%s --version failed", exe),
			"run the command manually to inspect the failure")
		return report
	}
	version := versionPattern.FindString(res.Stdout)
	if version == "" {
		report.addIssue(
			fmt.Sprintf("could not parse a version from %q", strings.TrimSpace(res.Stdout)),
			"upgrade the judge CLI to a release that reports semantic versions")
		return report
	}
	report.Version = version
	if CompareVersions(version, v.minVersion()) < 0 {
		report.addIssue(
			fmt.Sprintf("judge version %s is below the minimum %s", version, v.minVersion()),
			fmt.Sprintf("upgrade: npm install -g @openai/codex (need >= %s)", v.minVersion()))
		return report
	}

	// Step 5: functional smoke test.
	if !v.probe(ctx, exe, []string{"-h"}, "") {
		report.addIssue(
			fmt.Sprintf("%s -h did not exit cleanly within %s", exe, v.timeout()),
			"the binary may be corrupt; reinstall the judge CLI")
		return report
	}

	report.IsAvailable = true
	v.logger.Debug("judge validated", "path", exe, "version", version)
	return report
}

// Require returns nil when the judge is available, otherwise a
// NotAvailableError carrying the report's diagnostics.
func (v *Validator) Require(ctx context.Context) (*Report, error) {
	report := v.Validate(ctx)
	if report.IsAvailable {
		return report, nil
	}
	msg := "judge failed validation"
	if len(report.EnvironmentIssues) > 0 {
		msg = report.EnvironmentIssues[0]
	}
	return report, errors.NewNotAvailableError(msg, nil).
		WithExecutable(v.cfg.Binary).
		WithGuidance(report.Recommendations...)
}

func (v *Validator) probe(ctx context.Context, exe string, args []string, input string) bool {
	res, err := v.executor.ExecuteCommand(ctx, exe, args, process.Options{
		Timeout: v.timeout(),
		Input:   input,
	})
	return err == nil && !res.TimedOut && res.ExitCode == 0
}

func (v *Validator) timeout() time.Duration {
	if v.cfg.ValidationTimeout <= 0 {
		return 5 * time.Second
	}
	return v.cfg.ValidationTimeout
}

func (v *Validator) minVersion() string {
	if v.cfg.MinVersion == "" {
		return "0.29.0"
	}
	return v.cfg.MinVersion
}

func (r *Report) addIssue(issue string, recommendations ...string) {
	r.EnvironmentIssues = append(r.EnvironmentIssues, issue)
	r.Recommendations = append(r.Recommendations, recommendations...)
}

// CompareVersions compares two dotted version strings as integer tuples.
// Returns -1, 0, or 1. Missing segments compare as 0.
func CompareVersions(a, b string) int {
	as := strings.Split(a, ".")
	bs := strings.Split(b, ".")
	for i := 0; i < len(as) || i < len(bs); i++ {
		av, bv := 0, 0
		if i < len(as) {
			av, _ = strconv.Atoi(as[i])
		}
		if i < len(bs) {
			bv, _ = strconv.Atoi(bs[i])
		}
		if av != bv {
			if av < bv {
				return -1
			}
			return 1
		}
	}
	return 0
}
