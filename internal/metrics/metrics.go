// Package metrics exposes Prometheus instrumentation for the audit
// pipeline. All collectors live on a dedicated registry so embedding
// programs can mount or ignore them without touching the default
// registry.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every collector the pipeline updates.
type Metrics struct {
	registry *prometheus.Registry

	// Process manager
	ProcessesSpawned  prometheus.Counter
	ProcessesActive   prometheus.Gauge
	ProcessesQueued   prometheus.Gauge
	ProcessFailures   *prometheus.CounterVec
	ProcessDuration   prometheus.Histogram
	ProcessForceKills prometheus.Counter

	// Audit queue
	QueueDepth    prometheus.Gauge
	QueueRunning  prometheus.Gauge
	JobsCompleted *prometheus.CounterVec
	JobWaitTime   prometheus.Histogram
	JobRetries    prometheus.Counter

	// Audit cache
	CacheHits      prometheus.Counter
	CacheMisses    prometheus.Counter
	CacheEvictions prometheus.Counter

	// Engine
	AuditsTotal   *prometheus.CounterVec
	AuditDuration prometheus.Histogram
	FallbackTotal prometheus.Counter
}

// New creates a Metrics with all collectors registered on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,

		ProcessesSpawned: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ganaudit", Subsystem: "process",
			Name: "spawned_total", Help: "Child processes spawned.",
		}),
		ProcessesActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "ganaudit", Subsystem: "process",
			Name: "active", Help: "Child processes currently running.",
		}),
		ProcessesQueued: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "ganaudit", Subsystem: "process",
			Name: "queued", Help: "Requests waiting for a free process slot.",
		}),
		ProcessFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ganaudit", Subsystem: "process",
			Name: "failures_total", Help: "Child process failures by reason.",
		}, []string{"reason"}),
		ProcessDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "ganaudit", Subsystem: "process",
			Name: "duration_seconds", Help: "Child process wall time.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		}),
		ProcessForceKills: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ganaudit", Subsystem: "process",
			Name: "force_kills_total", Help: "Children that survived graceful termination.",
		}),

		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "ganaudit", Subsystem: "queue",
			Name: "depth", Help: "Jobs waiting in the audit queue.",
		}),
		QueueRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "ganaudit", Subsystem: "queue",
			Name: "running", Help: "Jobs currently executing.",
		}),
		JobsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ganaudit", Subsystem: "queue",
			Name: "jobs_total", Help: "Finished jobs by outcome.",
		}, []string{"outcome"}),
		JobWaitTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "ganaudit", Subsystem: "queue",
			Name: "wait_seconds", Help: "Time jobs spend queued before running.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 14),
		}),
		JobRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ganaudit", Subsystem: "queue",
			Name: "retries_total", Help: "Job retry attempts.",
		}),

		CacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ganaudit", Subsystem: "cache",
			Name: "hits_total", Help: "Audit cache hits.",
		}),
		CacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ganaudit", Subsystem: "cache",
			Name: "misses_total", Help: "Audit cache misses.",
		}),
		CacheEvictions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ganaudit", Subsystem: "cache",
			Name: "evictions_total", Help: "Entries evicted by LRU or TTL.",
		}),

		AuditsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ganaudit", Subsystem: "engine",
			Name: "audits_total", Help: "Audits by result kind.",
		}, []string{"result"}),
		AuditDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "ganaudit", Subsystem: "engine",
			Name: "audit_duration_seconds", Help: "End-to-end audit latency.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		}),
		FallbackTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ganaudit", Subsystem: "engine",
			Name: "fallbacks_total", Help: "Fallback reviews synthesized after judge failure.",
		}),
	}

	reg.MustRegister(
		m.ProcessesSpawned, m.ProcessesActive, m.ProcessesQueued,
		m.ProcessFailures, m.ProcessDuration, m.ProcessForceKills,
		m.QueueDepth, m.QueueRunning, m.JobsCompleted, m.JobWaitTime, m.JobRetries,
		m.CacheHits, m.CacheMisses, m.CacheEvictions,
		m.AuditsTotal, m.AuditDuration, m.FallbackTotal,
	)
	return m
}

// Registry returns the underlying registry, for embedding into a larger
// metrics surface.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns an HTTP handler serving the metrics in the Prometheus
// text exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
