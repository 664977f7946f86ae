// Package process is the only place in the system that spawns child
// processes. It enforces a concurrency cap with a FIFO wait queue, strict
// timeout semantics with graceful-then-forced termination, and publishes
// lifecycle events for observability.
package process

import (
	"context"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/audithq/ganaudit/internal/config"
	"github.com/audithq/ganaudit/internal/errors"
	"github.com/audithq/ganaudit/internal/event"
	"github.com/audithq/ganaudit/internal/logging"
	"github.com/audithq/ganaudit/internal/metrics"
)

// Options carries per-invocation execution parameters.
type Options struct {
	WorkingDir  string
	Timeout     time.Duration
	Environment []string
	// Input, when non-empty, is written to the child's stdin which is then
	// closed. Otherwise stdin is closed immediately.
	Input string
}

// Result is the outcome of one child process execution.
type Result struct {
	Stdout        string
	Stderr        string
	ExitCode      int
	ExecutionTime time.Duration
	TimedOut      bool
	PID           int
}

// HealthMetrics is a snapshot of the manager's execution history.
type HealthMetrics struct {
	Started              int
	Succeeded            int
	Failed               int
	TimedOut             int
	Active               int
	Queued               int
	AverageExecutionTime time.Duration
	LastActivity         time.Time
	Healthy              bool
}

// rollingWindow is how many recent executions feed the average and the
// success rate.
const rollingWindow = 100

// Manager owns every child process. All spawning goes through
// ExecuteCommand.
type Manager struct {
	cfg     config.ProcessConfig
	logger  *logging.Logger
	bus     *event.Bus
	metrics *metrics.Metrics

	mu           sync.Mutex
	active       int
	waiters      []chan error // FIFO slot queue; nil grants, non-nil rejects
	shuttingDown bool
	running      map[int]*exec.Cmd

	started   int
	succeeded int
	failed    int
	timedOut  int
	durations []time.Duration // ring of last rollingWindow
	durIdx    int
	lastSeen  time.Time

	healthStop chan struct{}
	healthOnce sync.Once
}

// NewManager creates a Manager. bus and m may be nil.
func NewManager(cfg config.ProcessConfig, logger *logging.Logger, bus *event.Bus, m *metrics.Metrics) *Manager {
	if logger == nil {
		logger = logging.NopLogger()
	}
	if bus == nil {
		bus = event.NewBus()
	}
	return &Manager{
		cfg:        cfg,
		logger:     logger.WithComponent("process"),
		bus:        bus,
		metrics:    m,
		running:    make(map[int]*exec.Cmd),
		healthStop: make(chan struct{}),
	}
}

// StartHealthMonitor begins periodic health evaluation. Stops on Shutdown.
func (m *Manager) StartHealthMonitor() {
	interval := m.cfg.HealthInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.publishHealth()
			case <-m.healthStop:
				return
			}
		}
	}()
}

func (m *Manager) publishHealth() {
	h := m.Health()
	m.bus.Publish(event.NewHealthCheckEvent(h.Healthy, successRate(h), h.Active))
	if !h.Healthy {
		m.bus.Publish(event.NewHealthWarningEvent("process success rate below threshold"))
	}
}

func successRate(h HealthMetrics) float64 {
	total := h.Succeeded + h.Failed + h.TimedOut
	if total == 0 {
		return 1
	}
	return float64(h.Succeeded) / float64(total)
}

// ExecuteCommand runs executable with args under the concurrency cap.
// Callers waiting for a slot are served in FIFO order and rejected after
// the configured queue timeout. The returned error covers spawn and
// stdin failures and queue rejection; a child that ran to an exit (even
// non-zero or timed out) yields a Result and nil error — callers inspect
// ExitCode and TimedOut.
func (m *Manager) ExecuteCommand(ctx context.Context, executable string, args []string, opts Options) (*Result, error) {
	if err := m.acquireSlot(ctx, executable); err != nil {
		return nil, err
	}
	defer m.releaseSlot()

	return m.run(ctx, executable, args, opts)
}

// acquireSlot blocks until a concurrency slot frees, FIFO among waiters.
func (m *Manager) acquireSlot(ctx context.Context, executable string) error {
	m.mu.Lock()
	if m.shuttingDown {
		m.mu.Unlock()
		return errors.Wrap(errors.ErrProcessShutdown, "manager is shutting down")
	}
	if m.active < m.maxConcurrent() {
		m.active++
		m.mu.Unlock()
		return nil
	}

	waiter := make(chan error, 1)
	m.waiters = append(m.waiters, waiter)
	depth := len(m.waiters)
	m.mu.Unlock()

	if m.metrics != nil {
		m.metrics.ProcessesQueued.Inc()
		defer m.metrics.ProcessesQueued.Dec()
	}
	m.bus.Publish(event.NewProcessQueuedEvent(executable, depth))
	m.logger.Debug("execution queued", "executable", executable, "depth", depth)

	queueTimeout := m.cfg.QueueTimeout
	if queueTimeout <= 0 {
		queueTimeout = 5 * time.Minute
	}
	timer := time.NewTimer(queueTimeout)
	defer timer.Stop()

	select {
	case err := <-waiter:
		// Slot handed over (nil) or rejected by shutdown.
		return err
	case <-timer.C:
		if m.cancelWaiter(waiter) {
			return errors.Wrapf(errors.ErrQueueTimeout, "no process slot freed within %s", queueTimeout)
		}
		// Lost the race: the queue already resolved us.
		return <-waiter
	case <-ctx.Done():
		if m.cancelWaiter(waiter) {
			return errors.Wrap(errors.ErrCanceled, "canceled while waiting for a process slot")
		}
		return <-waiter
	}
}

// cancelWaiter removes waiter from the queue. Returns false if the waiter
// was already resolved.
func (m *Manager) cancelWaiter(waiter chan error) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, w := range m.waiters {
		if w == waiter {
			m.waiters = append(m.waiters[:i], m.waiters[i+1:]...)
			return true
		}
	}
	return false
}

// releaseSlot frees a slot or hands it to the oldest waiter.
func (m *Manager) releaseSlot() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.waiters) > 0 && !m.shuttingDown {
		waiter := m.waiters[0]
		m.waiters = m.waiters[1:]
		waiter <- nil // slot transfers; active count unchanged
		return
	}
	m.active--
}

func (m *Manager) maxConcurrent() int {
	if m.cfg.MaxConcurrent <= 0 {
		return 3
	}
	return m.cfg.MaxConcurrent
}

// run spawns and supervises a single child.
func (m *Manager) run(ctx context.Context, executable string, args []string, opts Options) (*Result, error) {
	cmd := exec.Command(executable, args...)
	cmd.Dir = opts.WorkingDir
	cmd.Env = opts.Environment

	stdout := newCappedBuffer(m.cfg.MaxOutputBytes)
	stderr := newCappedBuffer(m.cfg.MaxOutputBytes)
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, errors.Wrap(errors.ErrProcessSpawn, "stdin pipe")
	}

	start := time.Now()
	if err := cmd.Start(); err != nil {
		stdin.Close()
		m.recordFailure()
		m.bus.Publish(event.NewProcessFailedEvent(0, err.Error()))
		if m.metrics != nil {
			m.metrics.ProcessFailures.WithLabelValues("spawn").Inc()
		}
		return nil, errors.Wrapf(errors.ErrProcessSpawn, "%s: %v", executable, err)
	}
	pid := cmd.Process.Pid

	m.trackStart(pid, cmd)
	defer m.untrack(pid)
	m.bus.Publish(event.NewProcessStartedEvent(pid, executable, opts.WorkingDir))
	if m.metrics != nil {
		m.metrics.ProcessesSpawned.Inc()
		m.metrics.ProcessesActive.Inc()
		defer m.metrics.ProcessesActive.Dec()
	}
	m.logger.Debug("process started", "pid", pid, "executable", executable)

	if opts.Input != "" {
		if _, werr := stdin.Write([]byte(opts.Input)); werr != nil {
			stdin.Close()
			m.terminate(pid, cmd)
			cmd.Wait()
			m.recordFailure()
			return nil, errors.Wrapf(errors.ErrStdinWrite, "pid %d: %v", pid, werr)
		}
	}
	stdin.Close()

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case waitErr := <-done:
		elapsed := time.Since(start)
		exitCode := 0
		if waitErr != nil {
			exitCode = exitCodeOf(waitErr)
		}
		res := &Result{
			Stdout:        stdout.String(),
			Stderr:        stderr.String(),
			ExitCode:      exitCode,
			ExecutionTime: elapsed,
			PID:           pid,
		}
		if m.metrics != nil {
			m.metrics.ProcessDuration.Observe(elapsed.Seconds())
		}
		if exitCode == 0 {
			m.recordSuccess(elapsed)
			m.bus.Publish(event.NewProcessCompletedEvent(pid, 0, elapsed))
		} else {
			m.recordFailure()
			m.recordDuration(elapsed)
			m.bus.Publish(event.NewProcessFailedEvent(pid, res.Stderr))
			if m.metrics != nil {
				m.metrics.ProcessFailures.WithLabelValues("exit").Inc()
			}
		}
		return res, nil

	case <-timer.C:
		m.bus.Publish(event.NewProcessTimeoutEvent(pid, timeout))
		m.logger.Warn("process timed out", "pid", pid, "timeout", timeout)
		m.terminateAndReap(pid, cmd, done)
		elapsed := time.Since(start)
		m.recordTimeout(elapsed)
		if m.metrics != nil {
			m.metrics.ProcessFailures.WithLabelValues("timeout").Inc()
		}
		return &Result{
			Stdout:        stdout.String(),
			Stderr:        "Process timed out",
			ExitCode:      -1,
			ExecutionTime: elapsed,
			TimedOut:      true,
			PID:           pid,
		}, nil

	case <-ctx.Done():
		m.terminateAndReap(pid, cmd, done)
		m.recordFailure()
		return nil, errors.Wrapf(errors.ErrCanceled, "pid %d", pid)
	}
}

// terminateAndReap sends SIGTERM, waits the cleanup window, escalates to
// SIGKILL, and always reaps the child.
func (m *Manager) terminateAndReap(pid int, cmd *exec.Cmd, done chan error) {
	m.terminate(pid, cmd)

	cleanup := m.cfg.CleanupTimeout
	if cleanup <= 0 {
		cleanup = 5 * time.Second
	}
	select {
	case <-done:
		return
	case <-time.After(cleanup):
	}

	m.bus.Publish(event.NewProcessForceKillEvent(pid))
	if m.metrics != nil {
		m.metrics.ProcessForceKills.Inc()
	}
	m.logger.Warn("process survived graceful termination, killing", "pid", pid)
	cmd.Process.Kill()
	<-done
}

func (m *Manager) terminate(pid int, cmd *exec.Cmd) {
	if cmd.Process != nil {
		m.logger.Debug("sending SIGTERM", "pid", pid)
		cmd.Process.Signal(syscall.SIGTERM)
	}
}

// Shutdown rejects new executions, drops pending waiters, terminates
// in-flight children, and waits for them to exit.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	if m.shuttingDown {
		m.mu.Unlock()
		return
	}
	m.shuttingDown = true
	waiters := m.waiters
	m.waiters = nil
	m.mu.Unlock()

	m.healthOnce.Do(func() { close(m.healthStop) })

	for _, w := range waiters {
		w <- errors.Wrap(errors.ErrProcessShutdown, "pending execution rejected by shutdown")
	}

	terminated := m.TerminateAllProcesses()
	m.bus.Publish(event.NewShutdownCompleteEvent(terminated))
	m.logger.Info("shutdown complete", "terminated", terminated)
}

// TerminateAllProcesses signals every live child and waits for all of
// them to exit. Returns the number of children terminated.
func (m *Manager) TerminateAllProcesses() int {
	m.mu.Lock()
	victims := make(map[int]*exec.Cmd, len(m.running))
	for pid, cmd := range m.running {
		victims[pid] = cmd
	}
	m.mu.Unlock()

	cleanup := m.cfg.CleanupTimeout
	if cleanup <= 0 {
		cleanup = 5 * time.Second
	}

	var wg sync.WaitGroup
	for pid, cmd := range victims {
		wg.Add(1)
		go func(pid int, cmd *exec.Cmd) {
			defer wg.Done()
			m.terminate(pid, cmd)
			deadline := time.After(cleanup)
			tick := time.NewTicker(50 * time.Millisecond)
			defer tick.Stop()
			for {
				select {
				case <-deadline:
					m.bus.Publish(event.NewProcessForceKillEvent(pid))
					cmd.Process.Kill()
					return
				case <-tick.C:
					if !m.isRunning(pid) {
						return
					}
				}
			}
		}(pid, cmd)
	}
	wg.Wait()
	return len(victims)
}

func (m *Manager) isRunning(pid int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.running[pid]
	return ok
}

// -----------------------------------------------------------------------------
// Bookkeeping
// -----------------------------------------------------------------------------

func (m *Manager) trackStart(pid int, cmd *exec.Cmd) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.started++
	m.running[pid] = cmd
	m.lastSeen = time.Now()
}

func (m *Manager) untrack(pid int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.running, pid)
}

func (m *Manager) recordSuccess(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.succeeded++
	m.lastSeen = time.Now()
	m.pushDuration(d)
}

func (m *Manager) recordFailure() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failed++
	m.lastSeen = time.Now()
}

func (m *Manager) recordTimeout(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.timedOut++
	m.lastSeen = time.Now()
	m.pushDuration(d)
}

func (m *Manager) recordDuration(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pushDuration(d)
}

// pushDuration appends to the rolling window. Caller holds mu.
func (m *Manager) pushDuration(d time.Duration) {
	if len(m.durations) < rollingWindow {
		m.durations = append(m.durations, d)
		return
	}
	m.durations[m.durIdx] = d
	m.durIdx = (m.durIdx + 1) % rollingWindow
}

// Health returns a snapshot of execution health.
//
// Healthy means: no executions yet, or success rate at least 80% and
// either recent activity (5 min) or fewer than 5 total executions.
func (m *Manager) Health() HealthMetrics {
	m.mu.Lock()
	defer m.mu.Unlock()

	total := m.succeeded + m.failed + m.timedOut
	var avg time.Duration
	if len(m.durations) > 0 {
		var sum time.Duration
		for _, d := range m.durations {
			sum += d
		}
		avg = sum / time.Duration(len(m.durations))
	}

	healthy := true
	if total > 0 {
		rate := float64(m.succeeded) / float64(total)
		recent := time.Since(m.lastSeen) <= 5*time.Minute
		healthy = rate >= 0.8 && (recent || total < 5)
	}

	return HealthMetrics{
		Started:              m.started,
		Succeeded:            m.succeeded,
		Failed:               m.failed,
		TimedOut:             m.timedOut,
		Active:               m.active,
		Queued:               len(m.waiters),
		AverageExecutionTime: avg,
		LastActivity:         m.lastSeen,
		Healthy:              healthy,
	}
}

func exitCodeOf(err error) int {
	if exitErr, ok := err.(*exec.ExitError); ok {
		return exitErr.ExitCode()
	}
	return -1
}
