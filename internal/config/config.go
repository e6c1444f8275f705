// Package config loads the engine's TOML configuration with defaults and
// environment overrides for secrets.
package config

import (
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

type Config struct {
	Server    ServerConfig    `toml:"server"`
	LLM       LLMConfig       `toml:"llm"`
	Database  DatabaseConfig  `toml:"database"`
	Executor  ExecutorConfig  `toml:"executor"`
	Agent     AgentConfig     `toml:"agent"`
	FormInput FormInputConfig `toml:"form_input"`
	Observer  ObserverConfig  `toml:"observer"`
	Workspace WorkspaceConfig `toml:"workspace"`
}

type ServerConfig struct {
	Addr string `toml:"addr"`
}

type LLMConfig struct {
	BaseURL string `toml:"base_url"`
	Model   string `toml:"model"`
	APIKey  string `toml:"api_key"`
}

type DatabaseConfig struct {
	// Driver selects the recorder backend: "sqlite" or "postgres".
	Driver      string `toml:"driver"`
	Path        string `toml:"path"`         // sqlite file
	PostgresURL string `toml:"postgres_url"` // pgx connection string
}

type ExecutorConfig struct {
	// PoolSizes are per-depth worker counts; the last entry repeats for
	// deeper levels.
	PoolSizes []int `toml:"pool_sizes"`
	MaxDepth  int   `toml:"max_depth"`
	// DepthPolicy is "reuse" (route over-deep plans to the deepest pool)
	// or "reject".
	DepthPolicy string `toml:"depth_policy"`
}

type AgentConfig struct {
	MaxSteps     int    `toml:"max_steps"`
	MemoryBudget int    `toml:"memory_budget"` // characters
	SystemPrompt string `toml:"system_prompt"`
}

type FormInputConfig struct {
	// TimeoutSeconds is the total wait budget per form request.
	TimeoutSeconds int `toml:"timeout_seconds"`
	// LockTimeoutSeconds bounds slot acquisition across sibling sub-plans.
	LockTimeoutSeconds int `toml:"lock_timeout_seconds"`
}

type ObserverConfig struct {
	Enabled bool `toml:"enabled"`
}

type WorkspaceConfig struct {
	Path      string `toml:"path"`
	UploadDir string `toml:"upload_dir"`
}

// Default returns a Config with all defaults applied.
func Default() Config {
	return Config{
		Server:   ServerConfig{Addr: ":8080"},
		LLM:      LLMConfig{BaseURL: "https://api.openai.com/v1", Model: "gpt-4o-mini"},
		Database: DatabaseConfig{Driver: "sqlite", Path: "archon.db"},
		Executor: ExecutorConfig{
			PoolSizes:   []int{8, 8, 4},
			MaxDepth:    4,
			DepthPolicy: "reuse",
		},
		Agent: AgentConfig{
			MaxSteps:     20,
			MemoryBudget: 200_000,
		},
		FormInput: FormInputConfig{
			TimeoutSeconds:     300,
			LockTimeoutSeconds: 30,
		},
		Workspace: WorkspaceConfig{Path: "workspace", UploadDir: "uploads"},
	}
}

// Load reads the TOML file at path over the defaults, then applies
// environment overrides. A missing file yields the defaults. A .env file in
// the working directory is loaded first when present.
func Load(path string) (Config, error) {
	_ = godotenv.Load()

	cfg := Default()
	if _, err := os.Stat(path); err == nil {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return Config{}, err
		}
	}

	// Environment variables, when set, override the file's values.
	if v := os.Getenv("ARCHON_LLM_API_KEY"); v != "" {
		cfg.LLM.APIKey = v
	}
	if v := os.Getenv("ARCHON_LLM_BASE_URL"); v != "" {
		cfg.LLM.BaseURL = v
	}
	if v := os.Getenv("ARCHON_POSTGRES_URL"); v != "" {
		cfg.Database.PostgresURL = v
	}
	if v := os.Getenv("ARCHON_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	return cfg, nil
}

// FormTimeout returns the form wait budget as a duration.
func (c Config) FormTimeout() time.Duration {
	return time.Duration(c.FormInput.TimeoutSeconds) * time.Second
}

// FormLockTimeout returns the slot acquisition timeout as a duration.
func (c Config) FormLockTimeout() time.Duration {
	return time.Duration(c.FormInput.LockTimeoutSeconds) * time.Second
}
