package config

import (
	"os"
	"time"

	"github.com/google/uuid"
)

// Default configuration values.
const (
	// Database defaults.
	DefaultDBPath       = "ruletick.db"
	DefaultCacheSize    = -16000 // 16MB
	DefaultBusyTimeout  = 5 * time.Second
	DefaultMaxOpenConns = 1 // SQLite works best with single writer
	DefaultMaxIdleConns = 1

	// Scheduler defaults.
	DefaultPollInterval       = 5 * time.Second
	DefaultMaxCatchUpPerCycle = 100
	DefaultClaimTTL           = 5 * time.Minute
	DefaultExecutionTimeout   = time.Duration(0)

	// Redis defaults.
	DefaultRedisAddr      = "localhost:6379"
	DefaultRedisKeyPrefix = "ruletick:claim:"

	// History defaults.
	DefaultHistoryRetention = 30 * 24 * time.Hour // 30 days
	DefaultCleanupInterval  = time.Hour
	DefaultHistoryPageSize  = 50

	// Executor defaults.
	DefaultExecutorTimeout = 5 * time.Minute

	// Metrics defaults.
	DefaultMetricsAddr = ":9464"
	DefaultMetricsPath = "/metrics"

	// Logging defaults.
	DefaultLogLevel  = "info"
	DefaultLogFormat = "console"
)

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Node: NodeConfig{
			Name:       defaultNodeName(),
			InstanceID: uuid.NewString(),
		},
		Database: DatabaseConfig{
			Path:            DefaultDBPath,
			WALMode:         true,
			CacheSize:       DefaultCacheSize,
			BusyTimeout:     DefaultBusyTimeout,
			ForeignKeys:     true,
			MaxOpenConns:    DefaultMaxOpenConns,
			MaxIdleConns:    DefaultMaxIdleConns,
			ConnMaxLifetime: 0, // No limit
		},
		Scheduler: SchedulerConfig{
			PollInterval:       DefaultPollInterval,
			MaxCatchUpPerCycle: DefaultMaxCatchUpPerCycle,
			ClaimTTL:           DefaultClaimTTL,
			ExecutionTimeout:   DefaultExecutionTimeout,
			ClaimBackend:       ClaimBackendDatabase,
		},
		Redis: RedisConfig{
			Addr:      DefaultRedisAddr,
			KeyPrefix: DefaultRedisKeyPrefix,
		},
		History: HistoryConfig{
			Retention:       DefaultHistoryRetention,
			CleanupInterval: DefaultCleanupInterval,
			PageSize:        DefaultHistoryPageSize,
		},
		Executor: ExecutorConfig{
			Kind:    ExecutorLog,
			Timeout: DefaultExecutorTimeout,
			Headers: make(map[string]string),
		},
		Manifest: ManifestConfig{
			Watch: true,
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Addr:    DefaultMetricsAddr,
			Path:    DefaultMetricsPath,
		},
		Logging: LoggingConfig{
			Level:     DefaultLogLevel,
			Format:    DefaultLogFormat,
			Caller:    false,
			Timestamp: true,
		},
	}
}

func defaultNodeName() string {
	name, err := os.Hostname()
	if err != nil || name == "" {
		return "localhost"
	}
	return name
}
