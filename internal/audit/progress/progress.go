// Package progress emits user-visible updates for audits that run long
// enough to matter. Tracking activates only after a threshold so fast
// audits stay silent.
package progress

import (
	"math"
	"sync"
	"time"

	"github.com/audithq/ganaudit/internal/config"
	"github.com/audithq/ganaudit/internal/event"
	"github.com/audithq/ganaudit/internal/logging"
)

// Stage identifies a phase of an audit.
type Stage string

const (
	StageInitializing       Stage = "initializing"
	StageParsingCode        Stage = "parsing_code"
	StageAnalyzingStructure Stage = "analyzing_structure"
	StageRunningChecks      Stage = "running_checks"
	StageEvaluatingQuality  Stage = "evaluating_quality"
	StageGeneratingFeedback Stage = "generating_feedback"
	StageFinalizing         Stage = "finalizing"
	StageCompleted          Stage = "completed"
	StageFailed             Stage = "failed"
)

// stageOrder lists the working stages with relative weights summing to 100.
var stageOrder = []struct {
	stage  Stage
	weight int
}{
	{StageInitializing, 5},
	{StageParsingCode, 10},
	{StageAnalyzingStructure, 15},
	{StageRunningChecks, 40},
	{StageEvaluatingQuality, 20},
	{StageGeneratingFeedback, 8},
	{StageFinalizing, 2},
}

type auditState struct {
	id            string
	startedAt     time.Time
	stageIdx      int
	stageProgress float64 // within the current stage, [0,100]
	message       string
	active        bool

	activation *time.Timer
	stopEmit   chan struct{}
}

// Tracker manages progress for in-flight audits. Safe for concurrent use.
type Tracker struct {
	cfg    config.ProgressConfig
	bus    *event.Bus
	logger *logging.Logger

	mu     sync.Mutex
	audits map[string]*auditState
}

// NewTracker creates a Tracker publishing on bus.
func NewTracker(cfg config.ProgressConfig, bus *event.Bus, logger *logging.Logger) *Tracker {
	if logger == nil {
		logger = logging.NopLogger()
	}
	if bus == nil {
		bus = event.NewBus()
	}
	return &Tracker{
		cfg:    cfg,
		bus:    bus,
		logger: logger.WithComponent("progress"),
		audits: make(map[string]*auditState),
	}
}

// StartTracking registers an audit. Nothing is emitted until the audit
// has run past the activation threshold. Audits beyond the concurrency
// bound are silently untracked — the audit itself is unaffected.
func (t *Tracker) StartTracking(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	max := t.cfg.MaxConcurrentAudits
	if max <= 0 {
		max = 10
	}
	if len(t.audits) >= max {
		t.logger.Debug("progress tracking skipped, at capacity", "audit", id)
		return
	}
	if _, exists := t.audits[id]; exists {
		return
	}

	state := &auditState{
		id:        id,
		startedAt: time.Now(),
		stopEmit:  make(chan struct{}),
	}
	threshold := t.cfg.Threshold
	if threshold <= 0 {
		threshold = 5 * time.Second
	}
	state.activation = time.AfterFunc(threshold, func() { t.activate(id) })
	t.audits[id] = state
}

// activate marks an audit visible and starts its periodic emitter.
func (t *Tracker) activate(id string) {
	t.mu.Lock()
	state, ok := t.audits[id]
	if !ok {
		t.mu.Unlock()
		return
	}
	state.active = true
	stop := state.stopEmit
	t.mu.Unlock()

	t.emit(id)

	interval := t.cfg.Interval
	if interval <= 0 {
		interval = time.Second
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				t.emit(id)
			case <-stop:
				return
			}
		}
	}()
}

// UpdateStage advances an audit to a named stage, resetting intra-stage
// progress. Unknown stages and untracked audits are ignored.
func (t *Tracker) UpdateStage(id string, stage Stage, message string) {
	idx := stageIndex(stage)
	if idx < 0 {
		return
	}

	t.mu.Lock()
	state, ok := t.audits[id]
	if ok {
		state.stageIdx = idx
		state.stageProgress = 0
		if message != "" {
			state.message = message
		}
	}
	active := ok && state.active
	t.mu.Unlock()

	if active {
		t.emit(id)
	}
}

// UpdateProgress refines progress within the current stage.
func (t *Tracker) UpdateProgress(id string, stageProgress float64, message string) {
	t.mu.Lock()
	state, ok := t.audits[id]
	if ok {
		state.stageProgress = math.Min(100, math.Max(0, stageProgress))
		if message != "" {
			state.message = message
		}
	}
	active := ok && state.active
	t.mu.Unlock()

	if active {
		t.emit(id)
	}
}

// CompleteTracking emits a terminal update (if active) and removes the
// audit.
func (t *Tracker) CompleteTracking(id string, success bool) {
	t.mu.Lock()
	state, ok := t.audits[id]
	if !ok {
		t.mu.Unlock()
		return
	}
	delete(t.audits, id)
	state.activation.Stop()
	close(state.stopEmit)
	active := state.active
	elapsed := time.Since(state.startedAt)
	t.mu.Unlock()

	if active {
		stage := StageCompleted
		if !success {
			stage = StageFailed
		}
		t.bus.Publish(event.NewProgressUpdateEvent(id, 100, string(stage), "", elapsed, 0))
		t.bus.Publish(event.NewProgressCompletedEvent(id, success, elapsed))
	}
}

// Tracked returns the number of audits currently tracked.
func (t *Tracker) Tracked() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.audits)
}

// emit publishes the current progress snapshot for an audit.
func (t *Tracker) emit(id string) {
	t.mu.Lock()
	state, ok := t.audits[id]
	if !ok || !state.active {
		t.mu.Unlock()
		return
	}
	pct := percentage(state.stageIdx, state.stageProgress)
	stage := stageOrder[state.stageIdx].stage
	message := state.message
	elapsed := time.Since(state.startedAt)
	t.mu.Unlock()

	t.bus.Publish(event.NewProgressUpdateEvent(
		id, pct, string(stage), message, elapsed, estimateRemaining(elapsed, pct)))
}

// percentage folds completed stage weights with intra-stage progress.
func percentage(stageIdx int, stageProgress float64) int {
	done := 0
	for i := 0; i < stageIdx; i++ {
		done += stageOrder[i].weight
	}
	current := float64(stageOrder[stageIdx].weight) * stageProgress / 100
	return int(math.Round(float64(done) + current))
}

// estimateRemaining projects time left from elapsed time and percentage.
// Zero means no estimate is available.
func estimateRemaining(elapsed time.Duration, pct int) time.Duration {
	if pct <= 0 {
		return 0
	}
	return time.Duration(float64(elapsed) / float64(pct) * float64(100-pct))
}

func stageIndex(stage Stage) int {
	for i, s := range stageOrder {
		if s.stage == stage {
			return i
		}
	}
	return -1
}
