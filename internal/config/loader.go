package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the path checked for YAML configuration.
const DefaultConfigFile = "forgesprint.yaml"

// Load returns a Config using the hierarchy: defaults < YAML < ENV.
// YAML file is optional; missing file is not an error.
func Load() (*Config, error) {
	return LoadFrom(DefaultConfigFile)
}

// LoadFrom returns a Config loaded from the given YAML path using the
// hierarchy: defaults < YAML < ENV. The YAML file is optional.
func LoadFrom(yamlPath string) (*Config, error) {
	cfg := Defaults()

	if err := loadYAML(&cfg, yamlPath); err != nil {
		return nil, fmt.Errorf("config yaml: %w", err)
	}

	loadEnv(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validate: %w", err)
	}

	return &cfg, nil
}

// loadYAML reads the YAML file and unmarshals it over cfg.
// Returns nil if the file does not exist.
func loadYAML(cfg *Config, path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path is validated by caller
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	return nil
}

// loadEnv overlays environment variables onto cfg.
// Only non-empty env values override the current config.
func loadEnv(cfg *Config) {
	setString(&cfg.Server.Port, "FORGESPRINT_PORT")
	setString(&cfg.Server.CORSOrigin, "FORGESPRINT_CORS_ORIGIN")
	setString(&cfg.Postgres.DSN, "DATABASE_URL")
	setInt32(&cfg.Postgres.MaxConns, "FORGESPRINT_PG_MAX_CONNS")
	setInt32(&cfg.Postgres.MinConns, "FORGESPRINT_PG_MIN_CONNS")
	setDuration(&cfg.Postgres.MaxConnLifetime, "FORGESPRINT_PG_MAX_CONN_LIFETIME")
	setDuration(&cfg.Postgres.MaxConnIdleTime, "FORGESPRINT_PG_MAX_CONN_IDLE_TIME")
	setDuration(&cfg.Postgres.HealthCheck, "FORGESPRINT_PG_HEALTH_CHECK")
	setString(&cfg.NATS.URL, "NATS_URL")
	setString(&cfg.Logging.Level, "FORGESPRINT_LOG_LEVEL")
	setString(&cfg.Logging.Service, "FORGESPRINT_LOG_SERVICE")
	setBool(&cfg.Logging.Async, "FORGESPRINT_LOG_ASYNC")
	setInt(&cfg.Breaker.MaxFailures, "FORGESPRINT_BREAKER_MAX_FAILURES")
	setDuration(&cfg.Breaker.Timeout, "FORGESPRINT_BREAKER_TIMEOUT")
	setInt(&cfg.Git.MaxConcurrent, "FORGESPRINT_GIT_MAX_CONCURRENT")
	setString(&cfg.Workspace.RepoPath, "FORGESPRINT_REPO_PATH")
	setString(&cfg.Workspace.WorktreeDir, "FORGESPRINT_WORKTREE_DIR")
	setString(&cfg.Agent.Channel, "FORGESPRINT_AGENT_CHANNEL")
	setString(&cfg.Agent.Command, "FORGESPRINT_AGENT_COMMAND")
	setInt(&cfg.Agent.MaxTurns, "FORGESPRINT_AGENT_MAX_TURNS")
	setDuration(&cfg.Agent.Timeout, "FORGESPRINT_AGENT_TIMEOUT")
	setString(&cfg.Gates.SchemaDir, "FORGESPRINT_SCHEMA_DIR")
	setInt64(&cfg.Gates.CacheSizeMB, "FORGESPRINT_GATE_CACHE_MB")
	setInt(&cfg.Orchestrator.MaxIterations, "FORGESPRINT_MAX_ITERATIONS")
	setInt(&cfg.Orchestrator.FixRetryLimit, "FORGESPRINT_FIX_RETRY_LIMIT")
	setInt(&cfg.Orchestrator.ReviewRetryLimit, "FORGESPRINT_REVIEW_RETRY_LIMIT")
	setInt(&cfg.Orchestrator.MaxParallel, "FORGESPRINT_MAX_PARALLEL")
	setString(&cfg.Orchestrator.UnitTestCommand, "FORGESPRINT_UNIT_TEST_COMMAND")
	setString(&cfg.Orchestrator.E2ETestCommand, "FORGESPRINT_E2E_TEST_COMMAND")
}

// validate checks that required fields are set.
func validate(cfg *Config) error {
	if cfg.Server.Port == "" {
		return errors.New("server.port is required")
	}
	if cfg.Postgres.DSN == "" {
		return errors.New("postgres.dsn is required")
	}
	if cfg.Postgres.MaxConns < 1 {
		return errors.New("postgres.max_conns must be >= 1")
	}
	if cfg.Workspace.RepoPath == "" {
		return errors.New("workspace.repo_path is required")
	}
	if cfg.Agent.Command == "" {
		return errors.New("agent.command is required")
	}
	if cfg.Agent.MaxTurns < 1 {
		return errors.New("agent.max_turns must be >= 1")
	}
	if cfg.Breaker.MaxFailures < 1 {
		return errors.New("breaker.max_failures must be >= 1")
	}
	if cfg.Orchestrator.MaxIterations < 1 {
		return errors.New("orchestrator.max_iterations must be >= 1")
	}
	if cfg.Orchestrator.FixRetryLimit < 1 || cfg.Orchestrator.ReviewRetryLimit < 1 {
		return errors.New("orchestrator retry limits must be >= 1")
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt32(dst *int32, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 32); err == nil {
			*dst = int32(n)
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}

// RetryCeiling returns the configured retry ceiling for a retriable phase
// name; fix phases share one limit, review fix has its own.
func (o Orchestrator) RetryCeiling(phase string) int {
	if phase == "review_fix" {
		return o.ReviewRetryLimit
	}
	return o.FixRetryLimit
}
