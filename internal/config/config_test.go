package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	cfg := Default()
	if cfg.Database.Driver != "sqlite" {
		t.Errorf("driver = %q", cfg.Database.Driver)
	}
	if cfg.Executor.MaxDepth != 4 || cfg.Executor.DepthPolicy != "reuse" {
		t.Errorf("executor defaults = %+v", cfg.Executor)
	}
	if cfg.Agent.MaxSteps != 20 {
		t.Errorf("max steps = %d", cfg.Agent.MaxSteps)
	}
	if cfg.FormTimeout() != 300*time.Second {
		t.Errorf("form timeout = %v", cfg.FormTimeout())
	}
}

func TestLoadMissingFileYieldsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Addr != ":8080" {
		t.Errorf("addr = %q", cfg.Server.Addr)
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "archon.toml")
	content := `
[executor]
pool_sizes = [2, 1]
max_depth = 2
depth_policy = "reject"

[agent]
max_steps = 5
memory_budget = 1000

[database]
driver = "postgres"
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(cfg.Executor.PoolSizes) != 2 || cfg.Executor.PoolSizes[0] != 2 {
		t.Errorf("pool sizes = %v", cfg.Executor.PoolSizes)
	}
	if cfg.Executor.DepthPolicy != "reject" {
		t.Errorf("depth policy = %q", cfg.Executor.DepthPolicy)
	}
	if cfg.Agent.MaxSteps != 5 || cfg.Agent.MemoryBudget != 1000 {
		t.Errorf("agent = %+v", cfg.Agent)
	}
	// Unset sections keep their defaults.
	if cfg.Server.Addr != ":8080" {
		t.Errorf("addr = %q", cfg.Server.Addr)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("ARCHON_LLM_API_KEY", "sk-test")
	t.Setenv("ARCHON_ADDR", ":9999")
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.LLM.APIKey != "sk-test" {
		t.Errorf("api key not overridden")
	}
	if cfg.Server.Addr != ":9999" {
		t.Errorf("addr = %q", cfg.Server.Addr)
	}
}
