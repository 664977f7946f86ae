package judge

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/audithq/ganaudit/internal/config"
	"github.com/audithq/ganaudit/internal/errors"
	"github.com/audithq/ganaudit/internal/judge/env"
	"github.com/audithq/ganaudit/internal/judge/parse"
	"github.com/audithq/ganaudit/internal/judge/process"
	"github.com/audithq/ganaudit/internal/judge/validate"
	"github.com/audithq/ganaudit/internal/logging"
	"github.com/audithq/ganaudit/internal/review"
)

// judgeArgs is the fixed argument prefix for an audit invocation; the
// prompt is appended as the final positional argument.
var judgeArgs = []string{"exec", "--sandbox", "read-only", "--json", "--skip-git-repo-check"}

// Executor abstracts the process manager for testing.
type Executor interface {
	ExecuteCommand(ctx context.Context, executable string, args []string, opts process.Options) (*process.Result, error)
}

// Client invokes the judge CLI and returns canonical Reviews.
type Client struct {
	cfg       config.JudgeConfig
	resolver  *env.Resolver
	validator *validate.Validator
	executor  Executor
	parser    *parse.Parser
	logger    *logging.Logger

	backoffBase time.Duration

	mu         sync.Mutex
	resolution *env.Resolution
	validated  bool
}

// Option configures a Client.
type Option func(*Client)

// WithBackoffBase overrides the retry backoff unit (default 1 s).
func WithBackoffBase(d time.Duration) Option {
	return func(c *Client) { c.backoffBase = d }
}

// NewClient creates a Client.
func NewClient(cfg config.JudgeConfig, resolver *env.Resolver, validator *validate.Validator, executor Executor, logger *logging.Logger, opts ...Option) *Client {
	if logger == nil {
		logger = logging.NopLogger()
	}
	c := &Client{
		cfg:         cfg,
		resolver:    resolver,
		validator:   validator,
		executor:    executor,
		parser:      parse.NewParser(logger),
		logger:      logger.WithComponent("judge"),
		backoffBase: time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Audit runs one audit. timeout bounds the child process; the retry
// policy applies on top, so worst-case wall time is attempts*timeout
// plus backoff.
//
// Not retried: unavailability, parse rejection, timeout. Retried with
// exponential backoff: spawn failures and unexplained non-zero exits.
func (c *Client) Audit(ctx context.Context, req *review.AuditRequest, timeout time.Duration) (*review.Review, error) {
	if violations := req.Validate(); len(violations) > 0 {
		return nil, errors.NewValidationError(strings.Join(violations, "; ")).
			WithField("auditRequest")
	}

	res, err := c.ensureEnvironment(ctx)
	if err != nil {
		return nil, err
	}

	prompt := BuildPrompt(req)
	args := append(append([]string{}, judgeArgs...), prompt)

	attempts := c.cfg.Retries + 1
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			backoff := c.backoffBase << (attempt - 1)
			c.logger.Debug("retrying judge invocation",
				"attempt", attempt+1, "backoff", backoff)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, errors.Wrap(errors.ErrCanceled, "canceled during retry backoff")
			}
		}

		rev, err := c.invoke(ctx, res, args, timeout)
		if err == nil {
			return rev, nil
		}
		lastErr = err

		// Only spawn failures and unexplained non-zero exits are worth
		// retrying; unavailability, parse rejections, and timeouts will
		// fail the same way again.
		if !errors.Is(err, errors.ErrProcessSpawn) && !errors.Is(err, errors.ErrNonZeroExit) {
			break
		}
	}

	return nil, c.enrich(lastErr, res)
}

// ensureEnvironment resolves and validates the judge once, caching the
// result for the client's lifetime.
func (c *Client) ensureEnvironment(ctx context.Context) (*env.Resolution, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.validated {
		return c.resolution, nil
	}

	report, err := c.validator.Require(ctx)
	if err != nil {
		return nil, err
	}

	res, err := c.resolver.Resolve("", nil)
	if err != nil {
		return nil, err
	}
	// The validator's path is authoritative; resolution re-derives the
	// rest (cwd and environment).
	res.ExecutablePath = report.ExecutablePath

	c.resolution = res
	c.validated = true
	c.logger.Info("judge ready",
		"path", report.ExecutablePath,
		"version", report.Version,
		"workdir", res.WorkingDir)
	return res, nil
}

// invoke performs one execution and parse.
func (c *Client) invoke(ctx context.Context, res *env.Resolution, args []string, timeout time.Duration) (*review.Review, error) {
	result, err := c.executor.ExecuteCommand(ctx, res.ExecutablePath, args, process.Options{
		WorkingDir:  res.WorkingDir,
		Timeout:     timeout,
		Environment: res.Environment,
	})
	if err != nil {
		return nil, err
	}

	if result.TimedOut {
		// A judge that blew the deadline once will blow it again on the
		// same prompt; surface immediately instead of burning retries.
		return nil, errors.NewTimeoutError("judge execution", timeout).
			WithElapsed(result.ExecutionTime).
			WithRetryable(false)
	}
	if result.ExitCode != 0 {
		return nil, errors.Wrapf(errors.ErrNonZeroExit,
			"judge exited %d: %s", result.ExitCode, firstLine(result.Stderr))
	}

	return c.parser.Parse(result.Stdout)
}

// enrich attaches diagnostics to a final failure without changing its
// kind. The prompt body is deliberately excluded from the command line.
func (c *Client) enrich(err error, res *env.Resolution) error {
	if err == nil {
		return nil
	}

	workdir := ""
	exe := c.cfg.Binary
	attempted := 0
	if res != nil {
		workdir = res.WorkingDir
		exe = res.ExecutablePath
		attempted = len(res.AttemptedPaths)
	}
	c.logger.Error("judge invocation failed",
		"command", fmt.Sprintf("%s %s <prompt>", exe, strings.Join(judgeArgs, " ")),
		"workdir", workdir,
		"resolution_attempts", attempted,
		"error", err)

	var na *errors.NotAvailableError
	if errors.As(err, &na) {
		return na.WithGuidance(env.InstallGuidance()...)
	}
	return err
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
