package cmd

import (
	"fmt"
	"sync"

	"github.com/audithq/ganaudit/internal/audit"
	"github.com/audithq/ganaudit/internal/audit/cache"
	"github.com/audithq/ganaudit/internal/audit/progress"
	"github.com/audithq/ganaudit/internal/audit/queue"
	"github.com/audithq/ganaudit/internal/config"
	"github.com/audithq/ganaudit/internal/event"
	"github.com/audithq/ganaudit/internal/judge"
	"github.com/audithq/ganaudit/internal/judge/env"
	"github.com/audithq/ganaudit/internal/judge/process"
	"github.com/audithq/ganaudit/internal/judge/validate"
	"github.com/audithq/ganaudit/internal/logging"
	"github.com/audithq/ganaudit/internal/metrics"
	"github.com/audithq/ganaudit/internal/review"
	"github.com/audithq/ganaudit/internal/rubric"
	"github.com/audithq/ganaudit/internal/session"
)

// stack wires the full audit pipeline for one CLI invocation.
type stack struct {
	task      string
	closeOnce sync.Once
	cfg       *config.Config
	logger    *logging.Logger
	bus       *event.Bus
	metrics   *metrics.Metrics

	procs    *process.Manager
	resolver *env.Resolver
	client   *judge.Client
	cache    *cache.Cache
	queue    *queue.Queue
	tracker  *progress.Tracker
	store    *session.Store
	engine   *audit.Engine
}

// buildStack loads configuration and assembles every component the audit
// engine needs. params.Task comes from the caller; the rubric comes from
// configuration (or the built-in default).
func buildStack(task string, strict bool) (*stack, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	logger, err := logging.NewLogger(cfg.Logging.Dir, cfg.Logging.Level)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logging: %w", err)
	}

	dims, err := rubric.Load(cfg.Judge.RubricFile)
	if err != nil {
		logger.Close()
		return nil, err
	}

	bus := event.NewBus()
	m := metrics.New()

	procs := process.NewManager(cfg.Process, logger, bus, m)
	resolver := env.NewResolver(cfg.Judge, logger)
	validator := validate.NewValidator(cfg.Judge, resolver, procs, logger)
	client := judge.NewClient(cfg.Judge, resolver, validator, procs, logger)

	store, err := session.NewStore(cfg.Session, logger)
	if err != nil {
		procs.Shutdown()
		logger.Close()
		return nil, err
	}
	store.StartCleanup()

	engineCfg := cfg.Engine
	if strict {
		engineCfg.Strict = true
	}

	s := &stack{
		task:     task,
		cfg:      cfg,
		logger:   logger,
		bus:      bus,
		metrics:  m,
		procs:    procs,
		resolver: resolver,
		client:   client,
		cache:    cache.New(cfg.Cache, logger, m),
		queue:    queue.New(cfg.Queue, logger, m),
		tracker:  progress.NewTracker(cfg.Progress, bus, logger),
		store:    store,
	}
	s.engine = audit.NewEngine(engineCfg, audit.Params{
		Task:   task,
		Rubric: dims,
		Budget: review.Budget{MaxCycles: 1, Candidates: 1, Threshold: 85},
	}, client, s.cache, s.queue, s.tracker, store, logger, m)
	return s, nil
}

// sessionConfigFromStack snapshots the audit frame into a session config.
func sessionConfigFromStack(s *stack) session.Config {
	return session.Config{
		Task:       s.task,
		Threshold:  85,
		MaxCycles:  1,
		Candidates: 1,
	}
}

// close tears the stack down in dependency order. Safe to call twice;
// the audit command closes explicitly before a non-zero exit.
func (s *stack) close() {
	s.closeOnce.Do(func() {
		s.queue.Destroy()
		s.procs.Shutdown()
		s.procs.TerminateAllProcesses()
		s.store.Close()
		s.logger.Close()
	})
}
