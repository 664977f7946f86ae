package event

import "time"

// Event is the interface that all events must implement.
// It provides a common way to identify and timestamp events.
type Event interface {
	// EventType returns a string identifier for this event type.
	// Convention: "category-action" matching the process-manager event
	// names (e.g., "process-started", "health-warning").
	EventType() string

	// Timestamp returns when the event occurred.
	Timestamp() time.Time
}

// baseEvent provides common fields for all events.
// Embed this in concrete event types to satisfy the Event interface.
type baseEvent struct {
	eventType string
	timestamp time.Time
}

func (e baseEvent) EventType() string    { return e.eventType }
func (e baseEvent) Timestamp() time.Time { return e.timestamp }

// newBaseEvent creates a baseEvent with the current time.
func newBaseEvent(eventType string) baseEvent {
	return baseEvent{
		eventType: eventType,
		timestamp: time.Now(),
	}
}

// Process-manager event type names.
const (
	TypeProcessStarted   = "process-started"
	TypeProcessQueued    = "process-queued"
	TypeProcessTimeout   = "process-timeout"
	TypeProcessForceKill = "process-force-kill"
	TypeProcessCompleted = "process-completed"
	TypeProcessFailed    = "process-failed"
	TypeHealthCheck      = "health-check"
	TypeHealthWarning    = "health-warning"
	TypeShutdownComplete = "shutdown-complete"
)

// Progress event type names.
const (
	TypeProgressUpdate    = "progress-update"
	TypeProgressCompleted = "progress-completed"
)

// -----------------------------------------------------------------------------
// Process Lifecycle Events
// -----------------------------------------------------------------------------

// ProcessStartedEvent is published when a child process is spawned.
type ProcessStartedEvent struct {
	baseEvent
	PID        int
	Executable string
	WorkingDir string
}

// NewProcessStartedEvent creates a ProcessStartedEvent.
func NewProcessStartedEvent(pid int, executable, workingDir string) ProcessStartedEvent {
	return ProcessStartedEvent{
		baseEvent:  newBaseEvent(TypeProcessStarted),
		PID:        pid,
		Executable: executable,
		WorkingDir: workingDir,
	}
}

// ProcessQueuedEvent is published when a request waits for a free slot.
type ProcessQueuedEvent struct {
	baseEvent
	Executable string
	QueueDepth int
}

// NewProcessQueuedEvent creates a ProcessQueuedEvent.
func NewProcessQueuedEvent(executable string, queueDepth int) ProcessQueuedEvent {
	return ProcessQueuedEvent{
		baseEvent:  newBaseEvent(TypeProcessQueued),
		Executable: executable,
		QueueDepth: queueDepth,
	}
}

// ProcessTimeoutEvent is published when a child exceeds its timeout and
// receives the graceful-termination signal.
type ProcessTimeoutEvent struct {
	baseEvent
	PID     int
	Timeout time.Duration
}

// NewProcessTimeoutEvent creates a ProcessTimeoutEvent.
func NewProcessTimeoutEvent(pid int, timeout time.Duration) ProcessTimeoutEvent {
	return ProcessTimeoutEvent{
		baseEvent: newBaseEvent(TypeProcessTimeout),
		PID:       pid,
		Timeout:   timeout,
	}
}

// ProcessForceKillEvent is published when a child survives the cleanup
// window and receives SIGKILL.
type ProcessForceKillEvent struct {
	baseEvent
	PID int
}

// NewProcessForceKillEvent creates a ProcessForceKillEvent.
func NewProcessForceKillEvent(pid int) ProcessForceKillEvent {
	return ProcessForceKillEvent{
		baseEvent: newBaseEvent(TypeProcessForceKill),
		PID:       pid,
	}
}

// ProcessCompletedEvent is published when a child exits successfully.
type ProcessCompletedEvent struct {
	baseEvent
	PID      int
	ExitCode int
	Duration time.Duration
}

// NewProcessCompletedEvent creates a ProcessCompletedEvent.
func NewProcessCompletedEvent(pid, exitCode int, duration time.Duration) ProcessCompletedEvent {
	return ProcessCompletedEvent{
		baseEvent: newBaseEvent(TypeProcessCompleted),
		PID:       pid,
		ExitCode:  exitCode,
		Duration:  duration,
	}
}

// ProcessFailedEvent is published when a spawn fails or a child exits non-zero.
type ProcessFailedEvent struct {
	baseEvent
	PID    int // 0 when the spawn itself failed
	Reason string
}

// NewProcessFailedEvent creates a ProcessFailedEvent.
func NewProcessFailedEvent(pid int, reason string) ProcessFailedEvent {
	return ProcessFailedEvent{
		baseEvent: newBaseEvent(TypeProcessFailed),
		PID:       pid,
		Reason:    reason,
	}
}

// HealthCheckEvent is published on periodic health evaluation.
type HealthCheckEvent struct {
	baseEvent
	Healthy     bool
	SuccessRate float64
	Active      int
}

// NewHealthCheckEvent creates a HealthCheckEvent.
func NewHealthCheckEvent(healthy bool, successRate float64, active int) HealthCheckEvent {
	return HealthCheckEvent{
		baseEvent:   newBaseEvent(TypeHealthCheck),
		Healthy:     healthy,
		SuccessRate: successRate,
		Active:      active,
	}
}

// HealthWarningEvent is published when the manager transitions to unhealthy.
type HealthWarningEvent struct {
	baseEvent
	Reason string
}

// NewHealthWarningEvent creates a HealthWarningEvent.
func NewHealthWarningEvent(reason string) HealthWarningEvent {
	return HealthWarningEvent{
		baseEvent: newBaseEvent(TypeHealthWarning),
		Reason:    reason,
	}
}

// ShutdownCompleteEvent is published once all children have terminated
// during shutdown.
type ShutdownCompleteEvent struct {
	baseEvent
	Terminated int
}

// NewShutdownCompleteEvent creates a ShutdownCompleteEvent.
func NewShutdownCompleteEvent(terminated int) ShutdownCompleteEvent {
	return ShutdownCompleteEvent{
		baseEvent:  newBaseEvent(TypeShutdownComplete),
		Terminated: terminated,
	}
}

// -----------------------------------------------------------------------------
// Progress Events
// -----------------------------------------------------------------------------

// ProgressUpdateEvent carries a user-visible progress update for a
// long-running audit.
type ProgressUpdateEvent struct {
	baseEvent
	AuditID                string
	Percentage             int
	Stage                  string
	Message                string
	ElapsedTime            time.Duration
	EstimatedTimeRemaining time.Duration // zero when no estimate is available
}

// NewProgressUpdateEvent creates a ProgressUpdateEvent.
func NewProgressUpdateEvent(auditID string, percentage int, stage, message string, elapsed, remaining time.Duration) ProgressUpdateEvent {
	return ProgressUpdateEvent{
		baseEvent:              newBaseEvent(TypeProgressUpdate),
		AuditID:                auditID,
		Percentage:             percentage,
		Stage:                  stage,
		Message:                message,
		ElapsedTime:            elapsed,
		EstimatedTimeRemaining: remaining,
	}
}

// ProgressCompletedEvent marks the end of tracking for an audit.
type ProgressCompletedEvent struct {
	baseEvent
	AuditID string
	Success bool
	Elapsed time.Duration
}

// NewProgressCompletedEvent creates a ProgressCompletedEvent.
func NewProgressCompletedEvent(auditID string, success bool, elapsed time.Duration) ProgressCompletedEvent {
	return ProgressCompletedEvent{
		baseEvent: newBaseEvent(TypeProgressCompleted),
		AuditID:   auditID,
		Success:   success,
		Elapsed:   elapsed,
	}
}
