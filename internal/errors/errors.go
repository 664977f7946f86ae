// Package errors provides centralized error definitions and error handling
// utilities for the ganaudit codebase. It defines domain-specific errors,
// semantic error types, error constructors with context wrapping, and error
// classification helpers.
//
// # Error Types
//
// Domain-specific errors represent failures from specific subsystems:
//   - NotAvailableError: the judge binary is missing, too old, or unusable
//   - ResponseError: the judge produced output that failed validation
//   - SessionError: errors related to durable session state
//   - EnvironmentError: working-directory or environment resolution failed
//
// Semantic errors represent common error conditions:
//   - ValidationError: invalid input or state (audit-request violations)
//   - FormatError: submission format violations (non-fatal)
//   - TimeoutError: an operation timed out
//
// Queue admission failures use plain sentinel errors (ErrQueueFull,
// ErrQueueTimeout, ErrQueueCleared, ErrQueueDestroyed) so callers can
// dispatch with errors.Is.
//
// # Usage
//
// Creating errors:
//
//	err := errors.NewNotAvailableError("codex binary not found", baseErr).
//		WithGuidance("install codex: npm install -g @openai/codex")
//
// Checking errors:
//
//	if errors.Is(err, errors.ErrQueueTimeout) { ... }
//
//	var respErr *errors.ResponseError
//	if errors.As(err, &respErr) {
//	    log.Debug("raw response", "body", respErr.RawResponse)
//	}
//
//	if errors.IsRetryable(err) { ... }
package errors

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Re-export standard library functions for convenience.
// This allows callers to import only this package for all error handling.
var (
	Is     = errors.Is
	As     = errors.As
	Unwrap = errors.Unwrap
	New    = errors.New
	Join   = errors.Join
)

// Severity represents the severity level of an error.
type Severity int

const (
	// SeverityDebug is for errors that are useful for debugging but not critical.
	SeverityDebug Severity = iota
	// SeverityInfo is for informational errors that don't indicate a problem.
	SeverityInfo
	// SeverityWarning is for errors that might indicate a problem but aren't critical.
	SeverityWarning
	// SeverityError is for errors that indicate a real problem.
	SeverityError
	// SeverityCritical is for errors that require immediate attention.
	SeverityCritical
)

// String returns the string representation of the severity level.
func (s Severity) String() string {
	switch s {
	case SeverityDebug:
		return "debug"
	case SeverityInfo:
		return "info"
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	case SeverityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// -----------------------------------------------------------------------------
// Sentinel Errors
// -----------------------------------------------------------------------------

// Queue admission-control sentinel errors
var (
	// ErrQueueFull indicates the pending queue is at capacity.
	ErrQueueFull = New("audit queue is full")
	// ErrQueueTimeout indicates a job waited longer than the queue timeout.
	ErrQueueTimeout = New("queue wait timed out")
	// ErrQueueCleared indicates the queue was cleared while the job was pending.
	ErrQueueCleared = New("queue cleared")
	// ErrQueueDestroyed indicates the queue was destroyed while the job was active.
	ErrQueueDestroyed = New("queue destroyed")
)

// Session-related sentinel errors
var (
	// ErrSessionNotFound indicates that a session could not be found.
	ErrSessionNotFound = New("session not found")
	// ErrSessionCorrupted indicates that session data is corrupted beyond repair.
	ErrSessionCorrupted = New("session data corrupted")
	// ErrSessionPersistence indicates a session write failed.
	ErrSessionPersistence = New("session persistence failed")
	// ErrDirectoryCreation indicates the state directory could not be created.
	ErrDirectoryCreation = New("state directory creation failed")
)

// Process-related sentinel errors
var (
	// ErrProcessSpawn indicates the child process could not be started.
	ErrProcessSpawn = New("process spawn failed")
	// ErrProcessShutdown indicates the manager is shutting down and rejects new work.
	ErrProcessShutdown = New("process manager is shutting down")
	// ErrStdinWrite indicates writing to the child's stdin failed.
	ErrStdinWrite = New("write to stdin failed")
	// ErrNonZeroExit indicates the child exited with a non-zero code.
	ErrNonZeroExit = New("process exited with non-zero code")
)

// General sentinel errors
var (
	// ErrTimeout indicates that an operation timed out.
	ErrTimeout = New("operation timed out")
	// ErrCanceled indicates that an operation was canceled.
	ErrCanceled = New("operation canceled")
	// ErrInvalidInput indicates that input validation failed.
	ErrInvalidInput = New("invalid input")
	// ErrNotAvailable indicates the judge executable is unavailable.
	ErrNotAvailable = New("judge not available")
)

// -----------------------------------------------------------------------------
// Base Error Interface
// -----------------------------------------------------------------------------

// AuditError is the base interface for all ganaudit errors.
// It extends the standard error interface with methods for error
// classification so that callers dispatch on kind, never on message text.
type AuditError interface {
	error

	// Unwrap returns the underlying error, if any.
	Unwrap() error

	// Is reports whether this error matches the target error.
	Is(target error) bool

	// Severity returns the severity level of this error.
	Severity() Severity

	// IsRetryable returns true if the error is transient and the operation
	// may succeed on retry.
	IsRetryable() bool

	// IsUserFacing returns true if the error message is safe to display
	// to end users.
	IsUserFacing() bool
}

// -----------------------------------------------------------------------------
// Base Error Implementation
// -----------------------------------------------------------------------------

// baseError provides common functionality for all error types.
type baseError struct {
	message    string
	cause      error
	severity   Severity
	retryable  bool
	userFacing bool
}

// Error returns the error message.
func (e *baseError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.message, e.cause)
	}
	return e.message
}

// Unwrap returns the underlying error.
func (e *baseError) Unwrap() error {
	return e.cause
}

// Is checks if this error matches the target.
func (e *baseError) Is(target error) bool {
	if e.cause != nil {
		return errors.Is(e.cause, target)
	}
	return false
}

// Severity returns the error severity.
func (e *baseError) Severity() Severity {
	return e.severity
}

// IsRetryable returns whether the error is retryable.
func (e *baseError) IsRetryable() bool {
	return e.retryable
}

// IsUserFacing returns whether the error is safe to show users.
func (e *baseError) IsUserFacing() bool {
	return e.userFacing
}

// -----------------------------------------------------------------------------
// Domain-Specific Errors
// -----------------------------------------------------------------------------

// NotAvailableError indicates the judge executable is missing, below the
// minimum version, lacks execute permission, or the environment is broken.
// It is never retryable: re-running the same command cannot make a missing
// binary appear.
//
// Example:
//
//	err := errors.NewNotAvailableError("codex not found on PATH", nil).
//		WithExecutable("codex").
//		WithGuidance("install codex: npm install -g @openai/codex")
type NotAvailableError struct {
	baseError
	Executable     string
	AttemptedPaths []string
	Guidance       []string
}

// NewNotAvailableError creates a new NotAvailableError.
func NewNotAvailableError(message string, cause error) *NotAvailableError {
	return &NotAvailableError{
		baseError: baseError{
			message:    message,
			cause:      cause,
			severity:   SeverityError,
			retryable:  false,
			userFacing: true,
		},
	}
}

// WithExecutable records the executable that was looked up.
func (e *NotAvailableError) WithExecutable(name string) *NotAvailableError {
	e.Executable = name
	return e
}

// WithAttemptedPaths records every path tried during resolution.
func (e *NotAvailableError) WithAttemptedPaths(paths []string) *NotAvailableError {
	e.AttemptedPaths = paths
	return e
}

// WithGuidance appends an actionable remediation hint.
func (e *NotAvailableError) WithGuidance(hints ...string) *NotAvailableError {
	e.Guidance = append(e.Guidance, hints...)
	return e
}

// Error returns the formatted error message.
func (e *NotAvailableError) Error() string {
	prefix := "judge not available"
	if e.Executable != "" {
		prefix = fmt.Sprintf("judge not available [executable=%s]", e.Executable)
	}
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, e.message, e.cause)
	}
	return fmt.Sprintf("%s: %s", prefix, e.message)
}

// Is checks if this error matches the target.
func (e *NotAvailableError) Is(target error) bool {
	if _, ok := target.(*NotAvailableError); ok {
		return true
	}
	if errors.Is(target, ErrNotAvailable) {
		return true
	}
	return e.baseError.Is(target)
}

// ResponseError indicates the parser rejected the judge's output. It carries
// the raw response so callers can log it for diagnosis. A ResponseError is
// never retryable: the same prompt will produce the same malformed shape.
//
// Example:
//
//	err := errors.NewResponseError("Response validation failed: overall score out of range", raw)
type ResponseError struct {
	baseError
	RawResponse string
	Violations  []string
}

// NewResponseError creates a new ResponseError carrying the raw response.
func NewResponseError(message, rawResponse string) *ResponseError {
	return &ResponseError{
		baseError: baseError{
			message:    message,
			severity:   SeverityError,
			retryable:  false,
			userFacing: true,
		},
		RawResponse: rawResponse,
	}
}

// WithViolations records the accumulated validation errors.
func (e *ResponseError) WithViolations(violations []string) *ResponseError {
	e.Violations = violations
	return e
}

// WithCause adds a cause to the error.
func (e *ResponseError) WithCause(cause error) *ResponseError {
	e.cause = cause
	return e
}

// Error returns the formatted error message.
func (e *ResponseError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("response error: %s: %v", e.message, e.cause)
	}
	return fmt.Sprintf("response error: %s", e.message)
}

// Is checks if this error matches the target.
func (e *ResponseError) Is(target error) bool {
	if _, ok := target.(*ResponseError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// SessionError represents errors related to durable session state.
//
// Example:
//
//	err := errors.NewSessionError("failed to load session", errors.ErrSessionNotFound).
//		WithSessionID("a1b2c3d4e5f60718")
type SessionError struct {
	baseError
	SessionID string
	Path      string
}

// NewSessionError creates a new SessionError.
func NewSessionError(message string, cause error) *SessionError {
	return &SessionError{
		baseError: baseError{
			message:    message,
			cause:      cause,
			severity:   SeverityError,
			retryable:  false,
			userFacing: true,
		},
	}
}

// WithSessionID adds a session ID to the error context.
func (e *SessionError) WithSessionID(id string) *SessionError {
	e.SessionID = id
	return e
}

// WithPath adds the session file path to the error context.
func (e *SessionError) WithPath(path string) *SessionError {
	e.Path = path
	return e
}

// WithRetryable sets whether the error is retryable.
func (e *SessionError) WithRetryable(r bool) *SessionError {
	e.retryable = r
	return e
}

// Error returns the formatted error message.
func (e *SessionError) Error() string {
	var parts []string
	if e.SessionID != "" {
		parts = append(parts, fmt.Sprintf("session=%s", e.SessionID))
	}
	if e.Path != "" {
		parts = append(parts, fmt.Sprintf("path=%s", e.Path))
	}

	prefix := "session error"
	if len(parts) > 0 {
		prefix = fmt.Sprintf("session error [%s]", strings.Join(parts, ", "))
	}

	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, e.message, e.cause)
	}
	return fmt.Sprintf("%s: %s", prefix, e.message)
}

// Is checks if this error matches the target.
func (e *SessionError) Is(target error) bool {
	if _, ok := target.(*SessionError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// EnvironmentError indicates working-directory or environment resolution
// failed. This only happens when every fallback in the resolution chain is
// unusable.
type EnvironmentError struct {
	baseError
	Variable string
	Dir      string
}

// NewEnvironmentError creates a new EnvironmentError.
func NewEnvironmentError(message string, cause error) *EnvironmentError {
	return &EnvironmentError{
		baseError: baseError{
			message:    message,
			cause:      cause,
			severity:   SeverityCritical,
			retryable:  false,
			userFacing: true,
		},
	}
}

// WithVariable adds the offending environment variable to the error context.
func (e *EnvironmentError) WithVariable(name string) *EnvironmentError {
	e.Variable = name
	return e
}

// WithDir adds the offending directory to the error context.
func (e *EnvironmentError) WithDir(dir string) *EnvironmentError {
	e.Dir = dir
	return e
}

// Error returns the formatted error message.
func (e *EnvironmentError) Error() string {
	var parts []string
	if e.Variable != "" {
		parts = append(parts, fmt.Sprintf("var=%s", e.Variable))
	}
	if e.Dir != "" {
		parts = append(parts, fmt.Sprintf("dir=%s", e.Dir))
	}

	prefix := "environment error"
	if len(parts) > 0 {
		prefix = fmt.Sprintf("environment error [%s]", strings.Join(parts, ", "))
	}

	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, e.message, e.cause)
	}
	return fmt.Sprintf("%s: %s", prefix, e.message)
}

// Is checks if this error matches the target.
func (e *EnvironmentError) Is(target error) bool {
	if _, ok := target.(*EnvironmentError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// -----------------------------------------------------------------------------
// Semantic Errors
// -----------------------------------------------------------------------------

// ValidationError represents an invalid audit request: a field missing,
// out of range, or oversize. The engine fails fast on these before any
// judge invocation.
//
// Example:
//
//	err := errors.NewValidationError("task exceeds maximum length").
//		WithField("task").WithValue(len(task))
type ValidationError struct {
	baseError
	Field string
	Value any
}

// NewValidationError creates a new ValidationError.
func NewValidationError(message string) *ValidationError {
	return &ValidationError{
		baseError: baseError{
			message:    message,
			severity:   SeverityWarning,
			retryable:  false,
			userFacing: true,
		},
	}
}

// WithField adds a field name to the error context.
func (e *ValidationError) WithField(field string) *ValidationError {
	e.Field = field
	return e
}

// WithValue adds the invalid value to the error context.
func (e *ValidationError) WithValue(value any) *ValidationError {
	e.Value = value
	return e
}

// WithCause adds a cause to the error.
func (e *ValidationError) WithCause(cause error) *ValidationError {
	e.cause = cause
	return e
}

// Error returns the formatted error message.
func (e *ValidationError) Error() string {
	var parts []string
	if e.Field != "" {
		parts = append(parts, fmt.Sprintf("field=%s", e.Field))
	}
	if e.Value != nil {
		parts = append(parts, fmt.Sprintf("value=%v", e.Value))
	}

	prefix := "validation error"
	if len(parts) > 0 {
		prefix = fmt.Sprintf("validation error [%s]", strings.Join(parts, ", "))
	}

	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, e.message, e.cause)
	}
	return fmt.Sprintf("%s: %s", prefix, e.message)
}

// Is checks if this error matches the target.
func (e *ValidationError) Is(target error) bool {
	if _, ok := target.(*ValidationError); ok {
		return true
	}
	if errors.Is(target, ErrInvalidInput) {
		return true
	}
	return e.baseError.Is(target)
}

// FormatError represents a submission format violation: nested code fences,
// empty fenced blocks, or an unsupported language identifier. Format errors
// are non-fatal; the engine proceeds on cleaned input and reports the issues.
type FormatError struct {
	baseError
	Issues []string
}

// NewFormatError creates a new FormatError.
func NewFormatError(message string, issues []string) *FormatError {
	return &FormatError{
		baseError: baseError{
			message:    message,
			severity:   SeverityInfo,
			retryable:  false,
			userFacing: true,
		},
		Issues: issues,
	}
}

// Error returns the formatted error message.
func (e *FormatError) Error() string {
	if len(e.Issues) > 0 {
		return fmt.Sprintf("format error: %s (%s)", e.message, strings.Join(e.Issues, "; "))
	}
	return fmt.Sprintf("format error: %s", e.message)
}

// Is checks if this error matches the target.
func (e *FormatError) Is(target error) bool {
	if _, ok := target.(*FormatError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// TimeoutError represents an operation that timed out. It carries the
// elapsed and configured timeout durations so callers can report both.
//
// Example:
//
//	err := errors.NewTimeoutError("judge execution", 30*time.Second).
//		WithElapsed(31200 * time.Millisecond)
type TimeoutError struct {
	baseError
	Operation string
	Duration  time.Duration
	Elapsed   time.Duration
}

// NewTimeoutError creates a new TimeoutError.
func NewTimeoutError(operation string, duration time.Duration) *TimeoutError {
	return &TimeoutError{
		baseError: baseError{
			message:    operation,
			severity:   SeverityWarning,
			retryable:  true, // Timeouts are generally retryable
			userFacing: true,
		},
		Operation: operation,
		Duration:  duration,
	}
}

// WithElapsed records the measured elapsed time.
func (e *TimeoutError) WithElapsed(d time.Duration) *TimeoutError {
	e.Elapsed = d
	return e
}

// WithCause adds a cause to the error.
func (e *TimeoutError) WithCause(cause error) *TimeoutError {
	e.cause = cause
	return e
}

// WithRetryable sets whether the error is retryable (default true for timeouts).
func (e *TimeoutError) WithRetryable(r bool) *TimeoutError {
	e.retryable = r
	return e
}

// Error returns the formatted error message.
func (e *TimeoutError) Error() string {
	base := fmt.Sprintf("timeout error: %s timed out (timeout: %s)", e.Operation, e.Duration)
	if e.Elapsed > 0 {
		base = fmt.Sprintf("%s (elapsed: %s)", base, e.Elapsed.Round(time.Millisecond))
	}
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", base, e.cause)
	}
	return base
}

// Is checks if this error matches the target.
func (e *TimeoutError) Is(target error) bool {
	if _, ok := target.(*TimeoutError); ok {
		return true
	}
	if errors.Is(target, ErrTimeout) {
		return true
	}
	return e.baseError.Is(target)
}

// -----------------------------------------------------------------------------
// Error Classification Helpers
// -----------------------------------------------------------------------------

// IsRetryable returns true if the error represents a transient condition
// that may succeed on retry. This checks for:
//   - Errors implementing AuditError with IsRetryable() returning true
//   - Errors wrapping ErrTimeout
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var auditErr AuditError
	if As(err, &auditErr) {
		return auditErr.IsRetryable()
	}

	if Is(err, ErrTimeout) {
		return true
	}

	return false
}

// IsUserFacing returns true if the error message is safe to display to end users.
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}

	var auditErr AuditError
	if As(err, &auditErr) {
		return auditErr.IsUserFacing()
	}

	var validation *ValidationError
	var timeout *TimeoutError
	var format *FormatError

	if As(err, &validation) || As(err, &timeout) || As(err, &format) {
		return true
	}

	return false
}

// GetSeverity returns the severity level of the error.
// Returns SeverityError for errors that don't implement AuditError.
func GetSeverity(err error) Severity {
	if err == nil {
		return SeverityDebug
	}

	var auditErr AuditError
	if As(err, &auditErr) {
		return auditErr.Severity()
	}

	return SeverityError
}

// IsNotAvailable reports whether err is (or wraps) a judge-availability failure.
func IsNotAvailable(err error) bool {
	if err == nil {
		return false
	}
	var na *NotAvailableError
	return As(err, &na) || Is(err, ErrNotAvailable)
}

// IsResponseError reports whether err is (or wraps) a parser rejection.
func IsResponseError(err error) bool {
	if err == nil {
		return false
	}
	var re *ResponseError
	return As(err, &re)
}

// IsTimeout reports whether err is (or wraps) any timeout kind.
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	var te *TimeoutError
	return As(err, &te) || Is(err, ErrTimeout)
}

// -----------------------------------------------------------------------------
// Convenience Constructors
// -----------------------------------------------------------------------------

// Wrap wraps an error with additional context message.
//
// Example:
//
//	err := errors.Wrap(baseErr, "failed to submit audit")
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with a formatted context message.
//
// Example:
//
//	err := errors.Wrapf(baseErr, "failed to persist session %s", sessionID)
func Wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}
