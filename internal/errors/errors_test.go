package errors

import (
	"fmt"
	"testing"
	"time"
)

func TestNotAvailableError(t *testing.T) {
	err := NewNotAvailableError("codex not found on PATH", nil).
		WithExecutable("codex").
		WithAttemptedPaths([]string{"/usr/local/bin/codex", "/usr/bin/codex"}).
		WithGuidance("install codex: npm install -g @openai/codex")

	if !Is(err, ErrNotAvailable) {
		t.Error("expected NotAvailableError to match ErrNotAvailable")
	}
	if IsRetryable(err) {
		t.Error("NotAvailableError must not be retryable")
	}
	if len(err.AttemptedPaths) != 2 {
		t.Errorf("attempted paths = %d, want 2", len(err.AttemptedPaths))
	}
	if got := err.Error(); got == "" {
		t.Error("empty error message")
	}
}

func TestResponseErrorCarriesRaw(t *testing.T) {
	raw := `{"overall": 150}`
	err := NewResponseError("Response validation failed: overall score out of range", raw).
		WithViolations([]string{"overall: score out of range"})

	var re *ResponseError
	if !As(err, &re) {
		t.Fatal("expected errors.As to find ResponseError")
	}
	if re.RawResponse != raw {
		t.Errorf("RawResponse = %q, want %q", re.RawResponse, raw)
	}
	if IsRetryable(err) {
		t.Error("ResponseError must not be retryable")
	}
	if !IsResponseError(err) {
		t.Error("IsResponseError returned false")
	}
}

func TestTimeoutErrorClassification(t *testing.T) {
	err := NewTimeoutError("judge execution", 30*time.Second).
		WithElapsed(31200 * time.Millisecond)

	if !Is(err, ErrTimeout) {
		t.Error("expected TimeoutError to match ErrTimeout")
	}
	if !IsRetryable(err) {
		t.Error("TimeoutError should default to retryable")
	}
	if !IsTimeout(err) {
		t.Error("IsTimeout returned false")
	}

	// Wrapped timeouts must still classify.
	wrapped := Wrap(err, "audit failed")
	if !IsTimeout(wrapped) {
		t.Error("wrapped TimeoutError not detected")
	}
}

func TestValidationErrorMatchesInvalidInput(t *testing.T) {
	err := NewValidationError("task exceeds maximum length").
		WithField("task").
		WithValue(10001)

	if !Is(err, ErrInvalidInput) {
		t.Error("expected ValidationError to match ErrInvalidInput")
	}
	if IsRetryable(err) {
		t.Error("ValidationError must not be retryable")
	}
	want := "validation error [field=task, value=10001]: task exceeds maximum length"
	if got := err.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestSessionErrorContext(t *testing.T) {
	err := NewSessionError("failed to load session", ErrSessionNotFound).
		WithSessionID("a1b2c3d4e5f60718")

	if !Is(err, ErrSessionNotFound) {
		t.Error("expected match on ErrSessionNotFound")
	}
	want := "session error [session=a1b2c3d4e5f60718]: failed to load session: session not found"
	if got := err.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestQueueSentinels(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want error
	}{
		{"full", fmt.Errorf("enqueue: %w", ErrQueueFull), ErrQueueFull},
		{"timeout", fmt.Errorf("wait: %w", ErrQueueTimeout), ErrQueueTimeout},
		{"cleared", fmt.Errorf("pending: %w", ErrQueueCleared), ErrQueueCleared},
		{"destroyed", fmt.Errorf("running: %w", ErrQueueDestroyed), ErrQueueDestroyed},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if !Is(tc.err, tc.want) {
				t.Errorf("wrapped sentinel did not match %v", tc.want)
			}
		})
	}
}

func TestGetSeverity(t *testing.T) {
	if got := GetSeverity(nil); got != SeverityDebug {
		t.Errorf("severity of nil = %v, want debug", got)
	}
	if got := GetSeverity(New("plain")); got != SeverityError {
		t.Errorf("severity of plain error = %v, want error", got)
	}
	env := NewEnvironmentError("PATH is empty", nil).WithVariable("PATH")
	if got := GetSeverity(env); got != SeverityCritical {
		t.Errorf("severity of EnvironmentError = %v, want critical", got)
	}
}

func TestFormatErrorIsNonFatal(t *testing.T) {
	err := NewFormatError("submission format issues", []string{"nested code fences", "empty fenced block"})

	if err.Severity() != SeverityInfo {
		t.Errorf("severity = %v, want info", err.Severity())
	}
	if !IsUserFacing(err) {
		t.Error("FormatError should be user-facing")
	}
}

func TestWrapPreservesKind(t *testing.T) {
	base := NewNotAvailableError("version too low", nil)
	wrapped := Wrapf(base, "attempt %d", 3)

	if !IsNotAvailable(wrapped) {
		t.Error("wrapping lost the NotAvailable kind")
	}
}
