// Package queue admits, prioritizes, and runs audit jobs. A periodic
// scheduler moves jobs from a bounded, priority-ordered pending list into
// a capped running set, with per-job timeouts and retries.
package queue

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/audithq/ganaudit/internal/config"
	"github.com/audithq/ganaudit/internal/errors"
	"github.com/audithq/ganaudit/internal/logging"
	"github.com/audithq/ganaudit/internal/metrics"
	"github.com/audithq/ganaudit/internal/review"
)

// Job priorities. Higher runs first; equal priorities run in enqueue order.
const (
	PriorityHigh   = 100
	PriorityNormal = 50
	PriorityLow    = 10
)

// Work is the unit a job executes. The context carries the per-job
// timeout and queue-destruction cancellation.
type Work func(ctx context.Context) (*review.Review, error)

// Outcome is delivered once per enqueued job.
type Outcome struct {
	Review   *review.Review
	Err      error
	WaitTime time.Duration
	ExecTime time.Duration
	Retries  int
}

// Stats is a snapshot of queue state and rolling averages.
type Stats struct {
	Pending     int
	Running     int
	Completed   int
	Failed      int
	AvgWaitTime time.Duration
	AvgExecTime time.Duration
	Utilization float64
}

// statsWindow is how many recent completions feed the averages.
const statsWindow = 100

type job struct {
	id         string
	priority   int
	timeout    time.Duration
	retryCount int
	enqueuedAt time.Time
	startedAt  time.Time
	work       Work
	result     chan Outcome // buffered, written exactly once
}

// Queue schedules audit jobs. Safe for concurrent use.
type Queue struct {
	cfg     config.QueueConfig
	logger  *logging.Logger
	metrics *metrics.Metrics

	mu        sync.Mutex
	pending   []*job // descending priority, stable
	running   map[string]*job
	cancels   map[string]context.CancelFunc
	paused    bool
	destroyed bool
	completed int
	failed    int
	waits     []time.Duration
	waitIdx   int
	execs     []time.Duration
	execIdx   int

	tickStop chan struct{}
	wg       sync.WaitGroup
}

// New creates a Queue and starts its scheduler tick.
func New(cfg config.QueueConfig, logger *logging.Logger, m *metrics.Metrics) *Queue {
	if logger == nil {
		logger = logging.NopLogger()
	}
	q := &Queue{
		cfg:      cfg,
		logger:   logger.WithComponent("queue"),
		metrics:  m,
		running:  make(map[string]*job),
		cancels:  make(map[string]context.CancelFunc),
		tickStop: make(chan struct{}),
	}
	go q.tickLoop()
	return q
}

func (q *Queue) tickLoop() {
	interval := q.cfg.TickInterval
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			q.dispatch()
		case <-q.tickStop:
			return
		}
	}
}

// Enqueue admits a job. The returned channel receives exactly one
// Outcome. Rejects immediately when the pending list is full or the
// queue has been destroyed.
func (q *Queue) Enqueue(work Work, priority int, timeout time.Duration) (string, <-chan Outcome, error) {
	if timeout <= 0 {
		timeout = q.jobTimeout()
	}
	j := &job{
		id:         uuid.NewString(),
		priority:   priority,
		timeout:    timeout,
		enqueuedAt: time.Now(),
		work:       work,
		result:     make(chan Outcome, 1),
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.destroyed {
		return "", nil, errors.Wrap(errors.ErrQueueDestroyed, "enqueue rejected")
	}
	maxSize := q.cfg.MaxQueueSize
	if maxSize <= 0 {
		maxSize = 50
	}
	if len(q.pending) >= maxSize {
		return "", nil, errors.Wrapf(errors.ErrQueueFull, "pending list at capacity %d", maxSize)
	}

	q.insertLocked(j)
	if q.metrics != nil {
		q.metrics.QueueDepth.Set(float64(len(q.pending)))
	}
	q.logger.Debug("job enqueued", "job", j.id, "priority", priority, "depth", len(q.pending))
	return j.id, j.result, nil
}

// insertLocked places j by descending priority, after equal priorities.
func (q *Queue) insertLocked(j *job) {
	idx := len(q.pending)
	for i, p := range q.pending {
		if p.priority < j.priority {
			idx = i
			break
		}
	}
	q.pending = append(q.pending, nil)
	copy(q.pending[idx+1:], q.pending[idx:])
	q.pending[idx] = j
}

// dispatch promotes pending jobs into free running slots.
func (q *Queue) dispatch() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.paused || q.destroyed {
		return
	}
	max := q.maxConcurrent()
	for len(q.running) < max && len(q.pending) > 0 {
		j := q.pending[0]
		q.pending = q.pending[1:]
		j.startedAt = time.Now()
		q.running[j.id] = j

		ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
		q.cancels[j.id] = cancel

		q.wg.Add(1)
		go q.execute(ctx, cancel, j)
	}
	if q.metrics != nil {
		q.metrics.QueueDepth.Set(float64(len(q.pending)))
		q.metrics.QueueRunning.Set(float64(len(q.running)))
	}
}

// execute runs one job to completion, retrying on failure.
func (q *Queue) execute(ctx context.Context, cancel context.CancelFunc, j *job) {
	defer q.wg.Done()
	defer cancel()

	rev, err := j.work(ctx)
	expired := errors.Is(ctx.Err(), context.DeadlineExceeded)
	if expired && !errors.IsTimeout(err) {
		// Whatever the work surfaced on its way out, the caller's time
		// budget is spent; report the deadline, not the unwind error.
		err = errors.NewTimeoutError("audit job", j.timeout).WithRetryable(false)
	}

	q.mu.Lock()
	delete(q.running, j.id)
	delete(q.cancels, j.id)

	if err != nil && !q.destroyed && !expired && j.retryCount < q.maxRetries() && retryable(err) {
		// Re-admit without resetting enqueuedAt: the caller's wait-time
		// promise spans retries.
		j.retryCount++
		j.startedAt = time.Time{}
		q.insertLocked(j)
		q.mu.Unlock()
		if q.metrics != nil {
			q.metrics.JobRetries.Inc()
		}
		q.logger.Debug("job requeued after failure",
			"job", j.id, "attempt", j.retryCount+1, "error", err)
		return
	}

	wait := j.startedAt.Sub(j.enqueuedAt)
	exec := time.Since(j.startedAt)
	if err != nil {
		q.failed++
	} else {
		q.completed++
	}
	q.pushWindowLocked(wait, exec)
	q.mu.Unlock()

	if q.metrics != nil {
		q.metrics.JobWaitTime.Observe(wait.Seconds())
		outcome := "completed"
		if err != nil {
			outcome = "failed"
		}
		q.metrics.JobsCompleted.WithLabelValues(outcome).Inc()
	}

	j.result <- Outcome{
		Review:   rev,
		Err:      err,
		WaitTime: wait,
		ExecTime: exec,
		Retries:  j.retryCount,
	}
}

// Pause stops dispatching; running jobs continue.
func (q *Queue) Pause() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.paused = true
}

// Resume restarts dispatching.
func (q *Queue) Resume() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.paused = false
}

// ClearQueue rejects every pending job. Running jobs continue.
func (q *Queue) ClearQueue() {
	q.mu.Lock()
	cleared := q.pending
	q.pending = nil
	q.mu.Unlock()

	for _, j := range cleared {
		j.result <- Outcome{Err: errors.Wrap(errors.ErrQueueCleared, "Queue cleared")}
	}
	q.logger.Info("queue cleared", "rejected", len(cleared))
}

// Destroy rejects pending jobs, cancels running jobs, and stops the
// scheduler. The queue cannot be reused afterwards.
func (q *Queue) Destroy() {
	q.mu.Lock()
	if q.destroyed {
		q.mu.Unlock()
		return
	}
	q.destroyed = true
	pending := q.pending
	q.pending = nil
	cancels := make([]context.CancelFunc, 0, len(q.cancels))
	for _, cancel := range q.cancels {
		cancels = append(cancels, cancel)
	}
	q.mu.Unlock()

	close(q.tickStop)
	for _, j := range pending {
		j.result <- Outcome{Err: errors.Wrap(errors.ErrQueueDestroyed, "Queue destroyed")}
	}
	for _, cancel := range cancels {
		cancel()
	}
	q.wg.Wait()
	q.logger.Info("queue destroyed", "rejected", len(pending))
}

// Stats returns current counts and rolling averages.
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return Stats{
		Pending:     len(q.pending),
		Running:     len(q.running),
		Completed:   q.completed,
		Failed:      q.failed,
		AvgWaitTime: average(q.waits),
		AvgExecTime: average(q.execs),
		Utilization: float64(len(q.running)) / float64(q.maxConcurrent()),
	}
}

// pushWindowLocked records a completion in the rolling windows.
func (q *Queue) pushWindowLocked(wait, exec time.Duration) {
	if len(q.waits) < statsWindow {
		q.waits = append(q.waits, wait)
		q.execs = append(q.execs, exec)
		return
	}
	q.waits[q.waitIdx] = wait
	q.waitIdx = (q.waitIdx + 1) % statsWindow
	q.execs[q.execIdx] = exec
	q.execIdx = (q.execIdx + 1) % statsWindow
}

func average(window []time.Duration) time.Duration {
	if len(window) == 0 {
		return 0
	}
	var sum time.Duration
	for _, d := range window {
		sum += d
	}
	return sum / time.Duration(len(window))
}

func (q *Queue) maxConcurrent() int {
	if q.cfg.MaxConcurrent <= 0 {
		return 3
	}
	return q.cfg.MaxConcurrent
}

func (q *Queue) maxRetries() int {
	if q.cfg.MaxRetries < 0 {
		return 0
	}
	return q.cfg.MaxRetries
}

// retryable reports whether a failed job may be re-admitted. Classified
// errors carry their own verdict: a timed-out or malformed judge call
// fails the same way every time, so re-running it only multiplies the
// caller's wait. Unclassified failures are treated as transient.
func retryable(err error) bool {
	var ae errors.AuditError
	if errors.As(err, &ae) {
		return ae.IsRetryable()
	}
	return true
}

func (q *Queue) jobTimeout() time.Duration {
	if q.cfg.JobTimeout <= 0 {
		return 30 * time.Second
	}
	return q.cfg.JobTimeout
}
