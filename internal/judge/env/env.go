// Package env resolves the execution environment for judge invocations:
// the working directory, the child environment, and the judge executable.
package env

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/audithq/ganaudit/internal/config"
	"github.com/audithq/ganaudit/internal/errors"
	"github.com/audithq/ganaudit/internal/logging"
)

// preservedVars are copied from the parent environment into the child
// when set. Everything else is dropped.
var preservedVars = []string{
	"PATH", "HOME", "USER", "SHELL", "TERM", "LANG", "LC_ALL",
	"NODE_ENV", "CODEX_CONFIG_DIR", "CODEX_API_KEY", "CODEX_MODEL", "CODEX_TIMEOUT",
}

// maxRepoWalkDepth bounds the upward search for a repository marker.
const maxRepoWalkDepth = 10

// Resolution is the answer for one invocation: where to run, with what
// environment, using which executable.
type Resolution struct {
	WorkingDir     string
	Environment    []string
	ExecutablePath string
	// AttemptedPaths lists every location tried during executable
	// resolution, for diagnostics.
	AttemptedPaths []string
}

// Resolver answers the three environment questions per audit.
type Resolver struct {
	cfg    config.JudgeConfig
	logger *logging.Logger
}

// NewResolver creates a Resolver.
func NewResolver(cfg config.JudgeConfig, logger *logging.Logger) *Resolver {
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Resolver{cfg: cfg, logger: logger.WithComponent("env")}
}

// Resolve produces a complete Resolution. explicitDir and extraEnv may be
// empty; extraEnv entries override preserved parent values.
func (r *Resolver) Resolve(explicitDir string, extraEnv map[string]string) (*Resolution, error) {
	dir, err := r.ResolveWorkingDir(explicitDir)
	if err != nil {
		return nil, err
	}

	environ, err := r.PrepareEnvironment(extraEnv)
	if err != nil {
		return nil, err
	}

	exe, attempted, err := r.ResolveExecutable(r.cfg.Binary)
	if err != nil {
		return nil, err
	}

	return &Resolution{
		WorkingDir:     dir,
		Environment:    environ,
		ExecutablePath: exe,
		AttemptedPaths: attempted,
	}, nil
}

// ResolveWorkingDir picks the directory the judge runs in.
//
// Priority: an explicit caller path, the repository root found by walking
// up from cwd, cwd itself, the configured default. An EnvironmentError
// means all four were unusable.
func (r *Resolver) ResolveWorkingDir(explicit string) (string, error) {
	if explicit != "" {
		if isDir(explicit) {
			return explicit, nil
		}
		r.logger.Debug("explicit working directory unusable, falling back",
			"dir", explicit)
	}

	cwd, cwdErr := os.Getwd()
	if cwdErr == nil {
		if root := findRepoRoot(cwd); root != "" {
			return root, nil
		}
		if isDir(cwd) {
			return cwd, nil
		}
	}

	if r.cfg.DefaultWorkingDir != "" && isDir(r.cfg.DefaultWorkingDir) {
		return r.cfg.DefaultWorkingDir, nil
	}

	return "", errors.NewEnvironmentError("no usable working directory", cwdErr).
		WithDir(explicit)
}

// findRepoRoot walks up from start looking for a .git directory, at most
// maxRepoWalkDepth levels. The topmost marker found wins so nested
// repositories resolve to the outer checkout.
func findRepoRoot(start string) string {
	dir := start
	topmost := ""
	for i := 0; i <= maxRepoWalkDepth; i++ {
		if isDir(filepath.Join(dir, ".git")) {
			topmost = dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return topmost
}

// PrepareEnvironment builds the child environment from the preserve-list,
// merges extra vars, and applies judge defaults. Fails if PATH ends up
// empty.
func (r *Resolver) PrepareEnvironment(extra map[string]string) ([]string, error) {
	vars := make(map[string]string, len(preservedVars)+len(extra))
	for _, name := range preservedVars {
		if v, ok := os.LookupEnv(name); ok {
			vars[name] = v
		}
	}
	for k, v := range extra {
		vars[k] = v
	}

	if vars["CODEX_CONFIG_DIR"] == "" {
		if home := vars["HOME"]; home != "" {
			vars["CODEX_CONFIG_DIR"] = filepath.Join(home, ".codex")
		}
	}
	if vars["NODE_ENV"] == "" {
		vars["NODE_ENV"] = "production"
	}

	vars["PATH"] = appendSearchPaths(vars["PATH"], r.cfg.SearchPaths)
	if vars["PATH"] == "" {
		return nil, errors.NewEnvironmentError("PATH is empty after preparation", nil).
			WithVariable("PATH")
	}

	environ := make([]string, 0, len(vars))
	for k, v := range vars {
		environ = append(environ, fmt.Sprintf("%s=%s", k, v))
	}
	return environ, nil
}

// appendSearchPaths adds each search path to PATH unless already present.
func appendSearchPaths(path string, searchPaths []string) string {
	existing := make(map[string]bool)
	for _, seg := range filepath.SplitList(path) {
		existing[seg] = true
	}
	for _, p := range searchPaths {
		if p == "" || existing[p] {
			continue
		}
		if path == "" {
			path = p
		} else {
			path = path + string(os.PathListSeparator) + p
		}
		existing[p] = true
	}
	return path
}

// ResolveExecutable locates the judge binary. It tries the system path
// lookup, then each configured search path, then each PATH segment,
// checking existence and execute permission at every step. It returns the
// first usable absolute path along with every location tried.
func (r *Resolver) ResolveExecutable(binary string) (string, []string, error) {
	if binary == "" {
		binary = "codex"
	}

	var attempted []string

	// Absolute or relative paths skip the search entirely.
	if strings.ContainsRune(binary, os.PathSeparator) {
		attempted = append(attempted, binary)
		if isExecutable(binary) {
			abs, err := filepath.Abs(binary)
			if err == nil {
				return abs, attempted, nil
			}
		}
		return "", attempted, r.notFound(binary, attempted)
	}

	if found, err := exec.LookPath(binary); err == nil {
		attempted = append(attempted, found)
		if abs, err := filepath.Abs(found); err == nil {
			return abs, attempted, nil
		}
	}

	candidates := append([]string{}, r.cfg.SearchPaths...)
	candidates = append(candidates, filepath.SplitList(os.Getenv("PATH"))...)
	for _, dir := range candidates {
		if dir == "" {
			continue
		}
		candidate := filepath.Join(dir, binary)
		attempted = append(attempted, candidate)
		if isExecutable(candidate) {
			return candidate, attempted, nil
		}
	}

	return "", attempted, r.notFound(binary, attempted)
}

func (r *Resolver) notFound(binary string, attempted []string) error {
	r.logger.Warn("judge executable not found",
		"binary", binary,
		"attempted", len(attempted))
	return errors.NewNotAvailableError("executable not found or not executable", nil).
		WithExecutable(binary).
		WithAttemptedPaths(attempted).
		WithGuidance(InstallGuidance()...)
}

// InstallGuidance returns platform-appropriate installation hints for the
// judge CLI.
func InstallGuidance() []string {
	return []string{
		"install the codex CLI: npm install -g @openai/codex",
		"or download a release binary and place it on PATH",
		"verify with: codex --version",
	}
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

func isExecutable(path string) bool {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return false
	}
	return info.Mode()&0o111 != 0
}
