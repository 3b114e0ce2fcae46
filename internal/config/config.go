// Package config provides configuration management for ruletick.
package config

import (
	"time"
)

// Config is the root configuration structure for ruletick.
type Config struct {
	Node      NodeConfig      `mapstructure:"node"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Redis     RedisConfig     `mapstructure:"redis"`
	History   HistoryConfig   `mapstructure:"history"`
	Executor  ExecutorConfig  `mapstructure:"executor"`
	Manifest  ManifestConfig  `mapstructure:"manifest"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// NodeConfig identifies this scheduler process.
type NodeConfig struct {
	// Node name matched against schedule node affinity (default: hostname)
	Name string `mapstructure:"name"`

	// Instance ID distinguishing processes on the same node (default: random UUID)
	InstanceID string `mapstructure:"instance_id"`
}

// DatabaseConfig holds database settings.
type DatabaseConfig struct {
	// Path to SQLite database file
	Path string `mapstructure:"path"`

	// Enable WAL mode (recommended)
	WALMode bool `mapstructure:"wal_mode"`

	// Cache size in KB (negative for KB, positive for pages)
	CacheSize int `mapstructure:"cache_size"`

	// Busy timeout
	BusyTimeout time.Duration `mapstructure:"busy_timeout"`

	// Enable foreign keys
	ForeignKeys bool `mapstructure:"foreign_keys"`

	// Maximum open connections
	MaxOpenConns int `mapstructure:"max_open_conns"`

	// Maximum idle connections
	MaxIdleConns int `mapstructure:"max_idle_conns"`

	// Connection max lifetime
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// Claim backends.
const (
	ClaimBackendDatabase = "database"
	ClaimBackendRedis    = "redis"
)

// SchedulerConfig holds scheduler loop settings.
type SchedulerConfig struct {
	// How often the heartbeat runs a scheduling cycle
	PollInterval time.Duration `mapstructure:"poll_interval"`

	// Maximum catch-up windows executed per schedule per cycle
	MaxCatchUpPerCycle int `mapstructure:"max_catch_up_per_cycle"`

	// How long a claim is held before another node may take over
	ClaimTTL time.Duration `mapstructure:"claim_ttl"`

	// Per-execution timeout (0 disables)
	ExecutionTimeout time.Duration `mapstructure:"execution_timeout"`

	// Where claims are held (database or redis)
	ClaimBackend string `mapstructure:"claim_backend"`
}

// RedisConfig holds settings for the Redis claim backend.
type RedisConfig struct {
	Addr      string `mapstructure:"addr"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

// HistoryConfig holds execution history settings.
type HistoryConfig struct {
	// How long history entries are kept (0 keeps forever)
	Retention time.Duration `mapstructure:"retention"`

	// How often old entries are swept
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"`

	// Default page size for history listings
	PageSize int `mapstructure:"page_size"`
}

// Executor kinds.
const (
	ExecutorHTTP = "http"
	ExecutorLog  = "log"
)

// ExecutorConfig selects how analytic rules are executed.
type ExecutorConfig struct {
	// Executor kind (http or log)
	Kind string `mapstructure:"kind"`

	// Endpoint receiving execution requests (http only)
	URL string `mapstructure:"url"`

	// Extra request headers (http only)
	Headers map[string]string `mapstructure:"headers"`

	// HTTP client timeout
	Timeout time.Duration `mapstructure:"timeout"`
}

// ManifestConfig holds schedule manifest settings.
type ManifestConfig struct {
	// Path to the schedule manifest (empty disables)
	Path string `mapstructure:"path"`

	// Re-sync when the manifest changes
	Watch bool `mapstructure:"watch"`

	// Remove schedules that are no longer listed
	Prune bool `mapstructure:"prune"`

	// Identity used when saving manifest schedules
	OperatorUUID string `mapstructure:"operator_uuid"`
	OperatorName string `mapstructure:"operator_name"`

	// Whether the operator may set run-as to other users
	OperatorManageUsers bool `mapstructure:"operator_manage_users"`
}

// MetricsConfig holds Prometheus endpoint settings.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
	Path    string `mapstructure:"path"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Log level (debug, info, warn, error)
	Level string `mapstructure:"level"`

	// Log format (json, console)
	Format string `mapstructure:"format"`

	// Include caller info
	Caller bool `mapstructure:"caller"`

	// Include timestamp
	Timestamp bool `mapstructure:"timestamp"`
}

// Holder returns the claim holder token for this process.
func (n *NodeConfig) Holder() string {
	return n.Name + "/" + n.InstanceID
}
