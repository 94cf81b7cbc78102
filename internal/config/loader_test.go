package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadFromMissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadFrom(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("LoadFrom failed: %v", err)
	}
	if cfg.Server.Port != "8090" {
		t.Errorf("port = %q, want default 8090", cfg.Server.Port)
	}
	if cfg.Orchestrator.MaxIterations != 50 {
		t.Errorf("max_iterations = %d, want 50", cfg.Orchestrator.MaxIterations)
	}
	if cfg.Agent.Channel != "subprocess" {
		t.Errorf("agent channel = %q, want subprocess", cfg.Agent.Channel)
	}
	if got := cfg.Orchestrator.Roles["code_review"]; got != "reviewer" {
		t.Errorf("code_review role = %q, want reviewer", got)
	}
}

func TestLoadFromYAMLOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "forgesprint.yaml")
	yaml := `
server:
  port: "9999"
orchestrator:
  fix_retry_limit: 7
  unit_test_command: "make test"
agent:
  command: my-agent
  args: ["--fast"]
`
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFrom(path)
	if err != nil {
		t.Fatalf("LoadFrom failed: %v", err)
	}
	if cfg.Server.Port != "9999" {
		t.Errorf("port = %q, want 9999", cfg.Server.Port)
	}
	if cfg.Orchestrator.FixRetryLimit != 7 {
		t.Errorf("fix_retry_limit = %d, want 7", cfg.Orchestrator.FixRetryLimit)
	}
	if cfg.Orchestrator.UnitTestCommand != "make test" {
		t.Errorf("unit_test_command = %q", cfg.Orchestrator.UnitTestCommand)
	}
	if cfg.Agent.Command != "my-agent" || len(cfg.Agent.Args) != 1 || cfg.Agent.Args[0] != "--fast" {
		t.Errorf("agent = %+v", cfg.Agent)
	}
	// Untouched sections keep their defaults.
	if cfg.Orchestrator.MaxIterations != 50 {
		t.Errorf("max_iterations = %d, want default 50", cfg.Orchestrator.MaxIterations)
	}
}

func TestLoadFromEnvOverridesYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "forgesprint.yaml")
	if err := os.WriteFile(path, []byte("server:\n  port: \"9999\"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("FORGESPRINT_PORT", "7777")
	t.Setenv("FORGESPRINT_MAX_ITERATIONS", "3")
	t.Setenv("FORGESPRINT_AGENT_TIMEOUT", "90s")

	cfg, err := LoadFrom(path)
	if err != nil {
		t.Fatalf("LoadFrom failed: %v", err)
	}
	if cfg.Server.Port != "7777" {
		t.Errorf("port = %q, want env value 7777", cfg.Server.Port)
	}
	if cfg.Orchestrator.MaxIterations != 3 {
		t.Errorf("max_iterations = %d, want 3", cfg.Orchestrator.MaxIterations)
	}
	if cfg.Agent.Timeout != 90*time.Second {
		t.Errorf("agent timeout = %v, want 90s", cfg.Agent.Timeout)
	}
}

func TestLoadFromRejectsInvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "forgesprint.yaml")
	if err := os.WriteFile(path, []byte("server: [not a map"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadFrom(path); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"empty port", func(c *Config) { c.Server.Port = "" }, "server.port"},
		{"empty dsn", func(c *Config) { c.Postgres.DSN = "" }, "postgres.dsn"},
		{"zero max conns", func(c *Config) { c.Postgres.MaxConns = 0 }, "max_conns"},
		{"empty repo path", func(c *Config) { c.Workspace.RepoPath = "" }, "repo_path"},
		{"empty agent command", func(c *Config) { c.Agent.Command = "" }, "agent.command"},
		{"zero max turns", func(c *Config) { c.Agent.MaxTurns = 0 }, "max_turns"},
		{"zero retry limit", func(c *Config) { c.Orchestrator.FixRetryLimit = 0 }, "retry limits"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Defaults()
			tc.mutate(&cfg)
			err := validate(&cfg)
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("error %q does not mention %q", err, tc.want)
			}
		})
	}

	cfg := Defaults()
	if err := validate(&cfg); err != nil {
		t.Fatalf("defaults must validate: %v", err)
	}
}

func TestRetryCeiling(t *testing.T) {
	o := Orchestrator{FixRetryLimit: 3, ReviewRetryLimit: 5}
	if got := o.RetryCeiling("review_fix"); got != 5 {
		t.Errorf("review_fix ceiling = %d, want 5", got)
	}
	if got := o.RetryCeiling("unit_fix"); got != 3 {
		t.Errorf("unit_fix ceiling = %d, want 3", got)
	}
	if got := o.RetryCeiling("e2e_fix"); got != 3 {
		t.Errorf("e2e_fix ceiling = %d, want 3", got)
	}
}
