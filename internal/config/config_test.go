package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Database.Path != DefaultDBPath {
		t.Errorf("expected db path %s, got %s", DefaultDBPath, cfg.Database.Path)
	}

	if cfg.Scheduler.MaxCatchUpPerCycle != DefaultMaxCatchUpPerCycle {
		t.Errorf("expected max catch-up %d, got %d", DefaultMaxCatchUpPerCycle, cfg.Scheduler.MaxCatchUpPerCycle)
	}

	if cfg.Scheduler.ClaimTTL != DefaultClaimTTL {
		t.Errorf("expected claim TTL %v, got %v", DefaultClaimTTL, cfg.Scheduler.ClaimTTL)
	}

	if cfg.Scheduler.ClaimBackend != ClaimBackendDatabase {
		t.Errorf("expected database claim backend, got %s", cfg.Scheduler.ClaimBackend)
	}

	if cfg.Node.Name == "" {
		t.Error("expected node name to default to hostname")
	}

	if cfg.Node.InstanceID == "" {
		t.Error("expected a generated instance id")
	}
}

func TestDefault_InstanceIDsDiffer(t *testing.T) {
	if Default().Node.InstanceID == Default().Node.InstanceID {
		t.Error("expected each default config to get its own instance id")
	}
}

func TestNodeConfig_Holder(t *testing.T) {
	n := &NodeConfig{Name: "worker-1", InstanceID: "abc"}
	if got := n.Holder(); got != "worker-1/abc" {
		t.Errorf("expected worker-1/abc, got %s", got)
	}
}

func TestValidate_ValidConfig(t *testing.T) {
	cfg := Default()
	if err := Validate(cfg); err != nil {
		t.Errorf("expected valid config, got error: %v", err)
	}
}

func TestValidate_Fields(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"empty node name", func(c *Config) { c.Node.Name = "" }, "node.name"},
		{"glob node name", func(c *Config) { c.Node.Name = "worker-*" }, "node.name"},
		{"empty db path", func(c *Config) { c.Database.Path = "" }, "database.path"},
		{"poll too fast", func(c *Config) { c.Scheduler.PollInterval = time.Millisecond }, "scheduler.poll_interval"},
		{"zero catch-up", func(c *Config) { c.Scheduler.MaxCatchUpPerCycle = 0 }, "scheduler.max_catch_up_per_cycle"},
		{"short claim ttl", func(c *Config) { c.Scheduler.ClaimTTL = time.Millisecond }, "scheduler.claim_ttl"},
		{"timeout beyond ttl", func(c *Config) {
			c.Scheduler.ClaimTTL = time.Minute
			c.Scheduler.ExecutionTimeout = 2 * time.Minute
		}, "scheduler.execution_timeout"},
		{"unknown claim backend", func(c *Config) { c.Scheduler.ClaimBackend = "etcd" }, "scheduler.claim_backend"},
		{"redis without addr", func(c *Config) {
			c.Scheduler.ClaimBackend = ClaimBackendRedis
			c.Redis.Addr = ""
		}, "redis.addr"},
		{"page size", func(c *Config) { c.History.PageSize = 0 }, "history.page_size"},
		{"http without url", func(c *Config) { c.Executor.Kind = ExecutorHTTP }, "executor.url"},
		{"relative executor url", func(c *Config) {
			c.Executor.Kind = ExecutorHTTP
			c.Executor.URL = "/execute"
		}, "executor.url"},
		{"unknown executor", func(c *Config) { c.Executor.Kind = "grpc" }, "executor.kind"},
		{"manifest without operator", func(c *Config) { c.Manifest.Path = "schedules.yaml" }, "manifest.operator_uuid"},
		{"metrics path", func(c *Config) {
			c.Metrics.Enabled = true
			c.Metrics.Path = "metrics"
		}, "metrics.path"},
		{"log level", func(c *Config) { c.Logging.Level = "invalid" }, "logging.level"},
		{"log format", func(c *Config) { c.Logging.Format = "xml" }, "logging.format"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)

			err := Validate(cfg)
			if err == nil {
				t.Fatal("expected validation error")
			}

			errs, ok := err.(ValidationErrors)
			if !ok {
				t.Fatalf("expected ValidationErrors, got %T", err)
			}
			if !errs.Has(tt.field) {
				t.Errorf("expected error for %s, got %v", tt.field, errs)
			}
		})
	}
}

func TestValidate_HTTPExecutor(t *testing.T) {
	cfg := Default()
	cfg.Executor.Kind = ExecutorHTTP
	cfg.Executor.URL = "https://rules.internal/execute"

	if err := Validate(cfg); err != nil {
		t.Errorf("expected valid config, got error: %v", err)
	}
}

func TestLoadFromFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "ruletick.yaml")

	content := `
node:
  name: "worker-7"
database:
  path: "test.db"
scheduler:
  poll_interval: 2s
  max_catch_up_per_cycle: 10
  claim_ttl: 1m
executor:
  kind: http
  url: "http://localhost:8080/execute"
  headers:
    Authorization: "Bearer abc"
logging:
  level: "debug"
`
	if err := os.WriteFile(configPath, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	cfg, err := LoadFromFile(configPath)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	if cfg.Node.Name != "worker-7" {
		t.Errorf("expected node worker-7, got %s", cfg.Node.Name)
	}

	if cfg.Database.Path != "test.db" {
		t.Errorf("expected db path test.db, got %s", cfg.Database.Path)
	}

	if cfg.Scheduler.PollInterval != 2*time.Second {
		t.Errorf("expected poll interval 2s, got %v", cfg.Scheduler.PollInterval)
	}

	if cfg.Scheduler.MaxCatchUpPerCycle != 10 {
		t.Errorf("expected max catch-up 10, got %d", cfg.Scheduler.MaxCatchUpPerCycle)
	}

	if cfg.Scheduler.ClaimTTL != time.Minute {
		t.Errorf("expected claim ttl 1m, got %v", cfg.Scheduler.ClaimTTL)
	}

	if cfg.Executor.URL != "http://localhost:8080/execute" {
		t.Errorf("unexpected executor url %s", cfg.Executor.URL)
	}

	// viper lowercases map keys
	if cfg.Executor.Headers["authorization"] != "Bearer abc" {
		t.Errorf("expected authorization header, got %v", cfg.Executor.Headers)
	}

	if cfg.Logging.Level != "debug" {
		t.Errorf("expected log level debug, got %s", cfg.Logging.Level)
	}

	if cfg.History.PageSize != DefaultHistoryPageSize {
		t.Errorf("expected default page size, got %d", cfg.History.PageSize)
	}
}

func TestLoadFromFile_Invalid(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "ruletick.yaml")

	content := `
scheduler:
  max_catch_up_per_cycle: 0
`
	if err := os.WriteFile(configPath, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	if _, err := LoadFromFile(configPath); err == nil {
		t.Error("expected validation error")
	}
}

func TestLoadWithEnvOverride(t *testing.T) {
	t.Setenv("RULETICK_DATABASE_PATH", "env-test.db")
	t.Setenv("RULETICK_SCHEDULER_CLAIM_TTL", "90s")
	t.Setenv("RULETICK_NODE_NAME", "env-node")

	cfg, err := LoadWithDefaults()
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	if cfg.Database.Path != "env-test.db" {
		t.Errorf("expected db path env-test.db from env, got %s", cfg.Database.Path)
	}

	if cfg.Scheduler.ClaimTTL != 90*time.Second {
		t.Errorf("expected claim ttl 90s from env, got %v", cfg.Scheduler.ClaimTTL)
	}

	if cfg.Node.Name != "env-node" {
		t.Errorf("expected node env-node from env, got %s", cfg.Node.Name)
	}
}

func TestLoad_ExpandsEnvReferences(t *testing.T) {
	t.Setenv("RULES_ENDPOINT", "https://rules.example.com/run")

	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "ruletick.yaml")
	content := `
executor:
  kind: http
  url: "${RULES_ENDPOINT}"
`
	if err := os.WriteFile(configPath, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	cfg, err := LoadFromFile(configPath)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	if cfg.Executor.URL != "https://rules.example.com/run" {
		t.Errorf("expected expanded url, got %s", cfg.Executor.URL)
	}
}
