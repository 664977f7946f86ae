// Package config loads and validates ganaudit configuration via viper.
// Defaults cover every tunable so the system runs without a config file;
// a YAML file and GANAUDIT_* environment variables override them.
package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Config represents the complete ganaudit configuration
type Config struct {
	Judge    JudgeConfig    `mapstructure:"judge"`
	Process  ProcessConfig  `mapstructure:"process"`
	Queue    QueueConfig    `mapstructure:"queue"`
	Engine   EngineConfig   `mapstructure:"engine"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Progress ProgressConfig `mapstructure:"progress"`
	Session  SessionConfig  `mapstructure:"session"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// JudgeConfig controls how the external judge CLI is located and invoked
type JudgeConfig struct {
	// Binary is the judge executable name or absolute path (default: "codex")
	Binary string `mapstructure:"binary"`
	// MinVersion is the minimum accepted judge version (default: "0.29.0")
	MinVersion string `mapstructure:"min_version"`
	// ValidationTimeout bounds each availability probe (default: 5s)
	ValidationTimeout time.Duration `mapstructure:"validation_timeout"`
	// SearchPaths are checked after the system path lookup, in order
	SearchPaths []string `mapstructure:"search_paths"`
	// Retries is the number of additional attempts on transient failures (default: 2)
	Retries int `mapstructure:"retries"`
	// DefaultWorkingDir is the last-resort working directory when no
	// repository root or usable cwd exists
	DefaultWorkingDir string `mapstructure:"default_working_dir"`
	// RubricFile optionally points to a YAML rubric overriding the default
	RubricFile string `mapstructure:"rubric_file"`
}

// ProcessConfig controls the child-process manager
type ProcessConfig struct {
	// MaxConcurrent caps simultaneous judge children (default: 3)
	MaxConcurrent int `mapstructure:"max_concurrent"`
	// QueueTimeout bounds how long a request may wait for a free slot (default: 5m)
	QueueTimeout time.Duration `mapstructure:"queue_timeout"`
	// CleanupTimeout is the window between SIGTERM and SIGKILL (default: 5s)
	CleanupTimeout time.Duration `mapstructure:"cleanup_timeout"`
	// MaxOutputBytes caps accumulated stdout/stderr per child, 0 = unlimited
	MaxOutputBytes int `mapstructure:"max_output_bytes"`
	// HealthInterval is how often health is evaluated and published (default: 30s)
	HealthInterval time.Duration `mapstructure:"health_interval"`
}

// QueueConfig controls the audit priority queue
type QueueConfig struct {
	// MaxConcurrent caps jobs in the running state (default: 3)
	MaxConcurrent int `mapstructure:"max_concurrent"`
	// MaxQueueSize bounds the pending list (default: 50)
	MaxQueueSize int `mapstructure:"max_queue_size"`
	// TickInterval is the scheduler period (default: 100ms)
	TickInterval time.Duration `mapstructure:"tick_interval"`
	// JobTimeout is the per-job execution timeout (default: 30s)
	JobTimeout time.Duration `mapstructure:"job_timeout"`
	// MaxRetries is the per-job retry budget (default: 2)
	MaxRetries int `mapstructure:"max_retries"`
}

// EngineConfig controls the synchronous audit engine
type EngineConfig struct {
	// Enabled toggles auditing; when false every thought gets a skipped review
	Enabled bool `mapstructure:"enabled"`
	// AuditTimeout is the engine-level deadline per audit (default: 30s)
	AuditTimeout time.Duration `mapstructure:"audit_timeout"`
	// Strict makes the engine raise typed errors instead of synthesizing
	// fallback reviews (default: false)
	Strict bool `mapstructure:"strict"`
	// Priority assigns the queue priority for engine submissions
	// Options: "high", "normal", "low" (default: "normal")
	Priority string `mapstructure:"priority"`
}

// CacheConfig controls the in-memory audit cache
type CacheConfig struct {
	// MaxEntries bounds the cache size (default: 256)
	MaxEntries int `mapstructure:"max_entries"`
	// TTL is how long entries stay valid (default: 30m)
	TTL time.Duration `mapstructure:"ttl"`
}

// ProgressConfig controls user-visible progress reporting
type ProgressConfig struct {
	// Threshold is how long an audit runs before tracking activates (default: 5s)
	Threshold time.Duration `mapstructure:"threshold"`
	// Interval is the periodic emitter period once active (default: 1s)
	Interval time.Duration `mapstructure:"interval"`
	// MaxConcurrentAudits bounds how many audits are tracked at once (default: 10)
	MaxConcurrentAudits int `mapstructure:"max_concurrent_audits"`
}

// SessionConfig controls durable session state
type SessionConfig struct {
	// StateDir is the session directory, relative to cwd unless absolute
	// or ~-prefixed (default: ".mcp-gan-state")
	StateDir string `mapstructure:"state_dir"`
	// MaxAge is the retention window for the periodic sweep (default: 24h)
	MaxAge time.Duration `mapstructure:"max_age"`
	// CleanupInterval is the sweep period (default: 1h)
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"`
}

// LoggingConfig controls structured logging
type LoggingConfig struct {
	// Level is one of DEBUG, INFO, WARN, ERROR (default: INFO)
	Level string `mapstructure:"level"`
	// Dir is the log directory; empty writes to stderr
	Dir string `mapstructure:"dir"`
}

// SetDefaults registers default values for all configuration keys.
// Call before reading any config file so defaults are available even
// without one.
func SetDefaults() {
	viper.SetDefault("judge.binary", "codex")
	viper.SetDefault("judge.min_version", "0.29.0")
	viper.SetDefault("judge.validation_timeout", 5*time.Second)
	viper.SetDefault("judge.search_paths", defaultSearchPaths())
	viper.SetDefault("judge.retries", 2)
	viper.SetDefault("judge.default_working_dir", "")
	viper.SetDefault("judge.rubric_file", "")

	viper.SetDefault("process.max_concurrent", 3)
	viper.SetDefault("process.queue_timeout", 5*time.Minute)
	viper.SetDefault("process.cleanup_timeout", 5*time.Second)
	viper.SetDefault("process.max_output_bytes", 10*1024*1024)
	viper.SetDefault("process.health_interval", 30*time.Second)

	viper.SetDefault("queue.max_concurrent", 3)
	viper.SetDefault("queue.max_queue_size", 50)
	viper.SetDefault("queue.tick_interval", 100*time.Millisecond)
	viper.SetDefault("queue.job_timeout", 30*time.Second)
	viper.SetDefault("queue.max_retries", 2)

	viper.SetDefault("engine.enabled", true)
	viper.SetDefault("engine.audit_timeout", 30*time.Second)
	viper.SetDefault("engine.strict", false)
	viper.SetDefault("engine.priority", "normal")

	viper.SetDefault("cache.max_entries", 256)
	viper.SetDefault("cache.ttl", 30*time.Minute)

	viper.SetDefault("progress.threshold", 5*time.Second)
	viper.SetDefault("progress.interval", time.Second)
	viper.SetDefault("progress.max_concurrent_audits", 10)

	viper.SetDefault("session.state_dir", ".mcp-gan-state")
	viper.SetDefault("session.max_age", 24*time.Hour)
	viper.SetDefault("session.cleanup_interval", time.Hour)

	viper.SetDefault("logging.level", "INFO")
	viper.SetDefault("logging.dir", "")
}

// defaultSearchPaths returns the executable search paths checked after
// the system path lookup.
func defaultSearchPaths() []string {
	home, err := os.UserHomeDir()
	paths := []string{
		"/usr/local/bin",
		"/usr/bin",
		"/bin",
		"/opt/homebrew/bin",
	}
	if err == nil && home != "" {
		paths = append(paths, filepath.Join(home, ".local", "bin"), filepath.Join(home, "bin"))
	}
	return paths
}

// Load unmarshals the current viper state into a Config.
// SetDefaults must have been called first.
func Load() (*Config, error) {
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns a Config populated purely from defaults, without
// touching global viper state. Useful for tests and library embedding.
func Default() *Config {
	return &Config{
		Judge: JudgeConfig{
			Binary:            "codex",
			MinVersion:        "0.29.0",
			ValidationTimeout: 5 * time.Second,
			SearchPaths:       defaultSearchPaths(),
			Retries:           2,
		},
		Process: ProcessConfig{
			MaxConcurrent:  3,
			QueueTimeout:   5 * time.Minute,
			CleanupTimeout: 5 * time.Second,
			MaxOutputBytes: 10 * 1024 * 1024,
			HealthInterval: 30 * time.Second,
		},
		Queue: QueueConfig{
			MaxConcurrent: 3,
			MaxQueueSize:  50,
			TickInterval:  100 * time.Millisecond,
			JobTimeout:    30 * time.Second,
			MaxRetries:    2,
		},
		Engine: EngineConfig{
			Enabled:      true,
			AuditTimeout: 30 * time.Second,
			Priority:     "normal",
		},
		Cache: CacheConfig{
			MaxEntries: 256,
			TTL:        30 * time.Minute,
		},
		Progress: ProgressConfig{
			Threshold:           5 * time.Second,
			Interval:            time.Second,
			MaxConcurrentAudits: 10,
		},
		Session: SessionConfig{
			StateDir:        ".mcp-gan-state",
			MaxAge:          24 * time.Hour,
			CleanupInterval: time.Hour,
		},
		Logging: LoggingConfig{
			Level: "INFO",
		},
	}
}
