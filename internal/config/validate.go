package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("configuration validation failed:\n")
	for _, err := range e {
		sb.WriteString("  - ")
		sb.WriteString(err.Error())
		sb.WriteString("\n")
	}
	return sb.String()
}

// Has reports whether a validation error was recorded for field.
func (e ValidationErrors) Has(field string) bool {
	for _, err := range e {
		if err.Field == field {
			return true
		}
	}
	return false
}

func Validate(cfg *Config) error {
	var errs ValidationErrors

	errs = append(errs, validateNode(&cfg.Node)...)
	errs = append(errs, validateDatabase(&cfg.Database)...)
	errs = append(errs, validateScheduler(&cfg.Scheduler)...)
	errs = append(errs, validateRedis(&cfg.Redis, &cfg.Scheduler)...)
	errs = append(errs, validateHistory(&cfg.History)...)
	errs = append(errs, validateExecutor(&cfg.Executor)...)
	errs = append(errs, validateManifest(&cfg.Manifest)...)
	errs = append(errs, validateMetrics(&cfg.Metrics)...)
	errs = append(errs, validateLogging(&cfg.Logging)...)

	if len(errs) > 0 {
		return errs
	}
	return nil
}

func validateNode(cfg *NodeConfig) ValidationErrors {
	var errs ValidationErrors

	if strings.TrimSpace(cfg.Name) == "" {
		errs = append(errs, ValidationError{
			Field:   "node.name",
			Message: "required",
		})
	}

	if strings.ContainsAny(cfg.Name, "/*?[]") {
		errs = append(errs, ValidationError{
			Field:   "node.name",
			Message: "must not contain '/' or glob characters",
		})
	}

	if cfg.InstanceID == "" {
		errs = append(errs, ValidationError{
			Field:   "node.instance_id",
			Message: "required",
		})
	}

	return errs
}

func validateDatabase(cfg *DatabaseConfig) ValidationErrors {
	var errs ValidationErrors

	if cfg.Path == "" {
		errs = append(errs, ValidationError{
			Field:   "database.path",
			Message: "required",
		})
	}

	if cfg.BusyTimeout < 0 {
		errs = append(errs, ValidationError{
			Field:   "database.busy_timeout",
			Message: "must not be negative",
		})
	}

	if cfg.MaxOpenConns < 0 {
		errs = append(errs, ValidationError{
			Field:   "database.max_open_conns",
			Message: "must not be negative",
		})
	}

	return errs
}

func validateScheduler(cfg *SchedulerConfig) ValidationErrors {
	var errs ValidationErrors

	if cfg.PollInterval < 100*time.Millisecond {
		errs = append(errs, ValidationError{
			Field:   "scheduler.poll_interval",
			Message: "must be at least 100ms",
		})
	}

	if cfg.MaxCatchUpPerCycle < 1 {
		errs = append(errs, ValidationError{
			Field:   "scheduler.max_catch_up_per_cycle",
			Message: "must be at least 1",
		})
	}

	if cfg.ClaimTTL < time.Second {
		errs = append(errs, ValidationError{
			Field:   "scheduler.claim_ttl",
			Message: "must be at least 1 second",
		})
	}

	if cfg.ExecutionTimeout < 0 {
		errs = append(errs, ValidationError{
			Field:   "scheduler.execution_timeout",
			Message: "must not be negative",
		})
	}

	if cfg.ExecutionTimeout > 0 && cfg.ExecutionTimeout >= cfg.ClaimTTL {
		errs = append(errs, ValidationError{
			Field:   "scheduler.execution_timeout",
			Message: "must be shorter than scheduler.claim_ttl",
		})
	}

	switch cfg.ClaimBackend {
	case ClaimBackendDatabase, ClaimBackendRedis:
	default:
		errs = append(errs, ValidationError{
			Field:   "scheduler.claim_backend",
			Message: "must be 'database' or 'redis'",
		})
	}

	return errs
}

func validateRedis(cfg *RedisConfig, sched *SchedulerConfig) ValidationErrors {
	var errs ValidationErrors

	if sched.ClaimBackend != ClaimBackendRedis {
		return errs
	}

	if cfg.Addr == "" {
		errs = append(errs, ValidationError{
			Field:   "redis.addr",
			Message: "required when scheduler.claim_backend is 'redis'",
		})
	}

	if cfg.DB < 0 {
		errs = append(errs, ValidationError{
			Field:   "redis.db",
			Message: "must not be negative",
		})
	}

	return errs
}

func validateHistory(cfg *HistoryConfig) ValidationErrors {
	var errs ValidationErrors

	if cfg.Retention < 0 {
		errs = append(errs, ValidationError{
			Field:   "history.retention",
			Message: "must not be negative",
		})
	}

	if cfg.Retention > 0 && cfg.CleanupInterval < time.Second {
		errs = append(errs, ValidationError{
			Field:   "history.cleanup_interval",
			Message: "must be at least 1 second",
		})
	}

	if cfg.PageSize < 1 || cfg.PageSize > 1000 {
		errs = append(errs, ValidationError{
			Field:   "history.page_size",
			Message: "must be between 1 and 1000",
		})
	}

	return errs
}

func validateExecutor(cfg *ExecutorConfig) ValidationErrors {
	var errs ValidationErrors

	switch cfg.Kind {
	case ExecutorLog:
	case ExecutorHTTP:
		u, err := url.Parse(cfg.URL)
		if cfg.URL == "" || err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			errs = append(errs, ValidationError{
				Field:   "executor.url",
				Message: "must be an absolute http(s) URL when executor.kind is 'http'",
			})
		}
	default:
		errs = append(errs, ValidationError{
			Field:   "executor.kind",
			Message: "must be 'http' or 'log'",
		})
	}

	if cfg.Timeout < 0 {
		errs = append(errs, ValidationError{
			Field:   "executor.timeout",
			Message: "must not be negative",
		})
	}

	return errs
}

func validateManifest(cfg *ManifestConfig) ValidationErrors {
	var errs ValidationErrors

	if cfg.Path == "" {
		return errs
	}

	if cfg.OperatorUUID == "" {
		errs = append(errs, ValidationError{
			Field:   "manifest.operator_uuid",
			Message: "required when manifest.path is set",
		})
	}

	return errs
}

func validateMetrics(cfg *MetricsConfig) ValidationErrors {
	var errs ValidationErrors

	if !cfg.Enabled {
		return errs
	}

	if cfg.Addr == "" {
		errs = append(errs, ValidationError{
			Field:   "metrics.addr",
			Message: "required when metrics are enabled",
		})
	}

	if !strings.HasPrefix(cfg.Path, "/") {
		errs = append(errs, ValidationError{
			Field:   "metrics.path",
			Message: "must start with '/'",
		})
	}

	return errs
}

func validateLogging(cfg *LoggingConfig) ValidationErrors {
	var errs ValidationErrors

	validLevels := map[string]bool{
		"trace": true, "debug": true, "info": true,
		"warn": true, "error": true, "fatal": true, "panic": true,
	}
	if !validLevels[cfg.Level] {
		errs = append(errs, ValidationError{
			Field:   "logging.level",
			Message: "must be one of: trace, debug, info, warn, error, fatal, panic",
		})
	}

	validFormats := map[string]bool{"json": true, "console": true}
	if !validFormats[cfg.Format] {
		errs = append(errs, ValidationError{
			Field:   "logging.format",
			Message: "must be 'json' or 'console'",
		})
	}

	return errs
}
