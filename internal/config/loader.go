package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

var (
	ErrConfigNotFound  = errors.New("config file not found")
	ErrInvalidConfig   = errors.New("invalid configuration")
	ErrMissingRequired = errors.New("missing required configuration")
)

type LoadOptions struct {
	ConfigFile string
	EnvPrefix  string
	Defaults   *Config
}

func Load(opts LoadOptions) (*Config, error) {
	v := viper.New()

	defaults := opts.Defaults
	if defaults == nil {
		defaults = Default()
	}
	setViperDefaults(v, defaults)

	if opts.EnvPrefix == "" {
		opts.EnvPrefix = "RULETICK"
	}
	v.SetEnvPrefix(opts.EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if opts.ConfigFile != "" {
		v.SetConfigFile(opts.ConfigFile)
	} else {
		v.SetConfigName("ruletick")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/ruletick")
		v.AddConfigPath("/etc/ruletick")
	}

	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	expandEnvInConfig(v)

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func LoadFromFile(path string) (*Config, error) {
	return Load(LoadOptions{ConfigFile: path})
}

func LoadWithDefaults() (*Config, error) {
	return Load(LoadOptions{})
}

func setViperDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("node.name", cfg.Node.Name)
	v.SetDefault("node.instance_id", cfg.Node.InstanceID)

	v.SetDefault("database.path", cfg.Database.Path)
	v.SetDefault("database.wal_mode", cfg.Database.WALMode)
	v.SetDefault("database.cache_size", cfg.Database.CacheSize)
	v.SetDefault("database.busy_timeout", cfg.Database.BusyTimeout)
	v.SetDefault("database.foreign_keys", cfg.Database.ForeignKeys)
	v.SetDefault("database.max_open_conns", cfg.Database.MaxOpenConns)
	v.SetDefault("database.max_idle_conns", cfg.Database.MaxIdleConns)
	v.SetDefault("database.conn_max_lifetime", cfg.Database.ConnMaxLifetime)

	v.SetDefault("scheduler.poll_interval", cfg.Scheduler.PollInterval)
	v.SetDefault("scheduler.max_catch_up_per_cycle", cfg.Scheduler.MaxCatchUpPerCycle)
	v.SetDefault("scheduler.claim_ttl", cfg.Scheduler.ClaimTTL)
	v.SetDefault("scheduler.execution_timeout", cfg.Scheduler.ExecutionTimeout)
	v.SetDefault("scheduler.claim_backend", cfg.Scheduler.ClaimBackend)

	v.SetDefault("redis.addr", cfg.Redis.Addr)
	v.SetDefault("redis.password", cfg.Redis.Password)
	v.SetDefault("redis.db", cfg.Redis.DB)
	v.SetDefault("redis.key_prefix", cfg.Redis.KeyPrefix)

	v.SetDefault("history.retention", cfg.History.Retention)
	v.SetDefault("history.cleanup_interval", cfg.History.CleanupInterval)
	v.SetDefault("history.page_size", cfg.History.PageSize)

	v.SetDefault("executor.kind", cfg.Executor.Kind)
	v.SetDefault("executor.url", cfg.Executor.URL)
	v.SetDefault("executor.timeout", cfg.Executor.Timeout)
	// Headers are map-valued and have no env form; set them in the file.

	v.SetDefault("manifest.path", cfg.Manifest.Path)
	v.SetDefault("manifest.watch", cfg.Manifest.Watch)
	v.SetDefault("manifest.prune", cfg.Manifest.Prune)
	v.SetDefault("manifest.operator_uuid", cfg.Manifest.OperatorUUID)
	v.SetDefault("manifest.operator_name", cfg.Manifest.OperatorName)
	v.SetDefault("manifest.operator_manage_users", cfg.Manifest.OperatorManageUsers)

	v.SetDefault("metrics.enabled", cfg.Metrics.Enabled)
	v.SetDefault("metrics.addr", cfg.Metrics.Addr)
	v.SetDefault("metrics.path", cfg.Metrics.Path)

	v.SetDefault("logging.level", cfg.Logging.Level)
	v.SetDefault("logging.format", cfg.Logging.Format)
	v.SetDefault("logging.caller", cfg.Logging.Caller)
	v.SetDefault("logging.timestamp", cfg.Logging.Timestamp)
}

func expandEnvInConfig(v *viper.Viper) {
	for _, key := range v.AllKeys() {
		val := v.GetString(key)
		if strings.HasPrefix(val, "${") && strings.HasSuffix(val, "}") {
			envVar := val[2 : len(val)-1]
			if envVal := os.Getenv(envVar); envVal != "" {
				v.Set(key, envVal)
			}
		}
	}
}

func ConfigFilePath(customPath string) (string, error) {
	if customPath != "" {
		absPath, err := filepath.Abs(customPath)
		if err != nil {
			return "", fmt.Errorf("resolving config path: %w", err)
		}
		if _, err := os.Stat(absPath); err != nil {
			return "", fmt.Errorf("config file not found: %s", absPath)
		}
		return absPath, nil
	}

	searchPaths := []string{
		"ruletick.yaml",
		"ruletick.yml",
		filepath.Join(os.Getenv("HOME"), ".config", "ruletick", "ruletick.yaml"),
		"/etc/ruletick/ruletick.yaml",
	}

	for _, p := range searchPaths {
		if _, err := os.Stat(p); err == nil {
			return filepath.Abs(p)
		}
	}

	return "", ErrConfigNotFound
}
