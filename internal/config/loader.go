package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Load reads and parses a forge configuration from the given YAML file path,
// then applies defaults. A .env file next to the config is loaded first so
// ${VAR} secrets named by the config resolve without exporting them manually.
func Load(path string) (*Config, error) {
	// Best-effort: a missing .env is not an error.
	_ = godotenv.Load(filepath.Join(filepath.Dir(path), ".env"))

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyDefaults(&cfg)
	return &cfg, nil
}

// Default returns a Config with all defaults applied and no file read.
func Default() *Config {
	var cfg Config
	applyDefaults(&cfg)
	return &cfg
}

func applyDefaults(cfg *Config) {
	if cfg.Pipeline.Name == "" {
		cfg.Pipeline.Name = "agent-creator"
	}
	if cfg.Pipeline.Defaults.StageTimeout == "" {
		cfg.Pipeline.Defaults.StageTimeout = "2m"
	}
	if cfg.Pipeline.Retry.MaxAttempts <= 0 {
		cfg.Pipeline.Retry.MaxAttempts = 3
	}
	if cfg.Pipeline.Retry.BaseDelay == "" {
		cfg.Pipeline.Retry.BaseDelay = "1s"
	}
	if cfg.Pipeline.Retry.MaxDelay == "" {
		cfg.Pipeline.Retry.MaxDelay = "30s"
	}
	if cfg.Pipeline.MaxConcurrentRuns <= 0 {
		cfg.Pipeline.MaxConcurrentRuns = 4
	}
	if cfg.LLM.Model == "" {
		cfg.LLM.Model = "gpt-4o"
	}
	if cfg.LLM.APIKeyEnv == "" {
		cfg.LLM.APIKeyEnv = "OPENAI_API_KEY"
	}
	if cfg.LLM.Temperature == 0 {
		cfg.LLM.Temperature = 0.2
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
}

// APIKey resolves the configured API key from the environment.
func (l LLM) APIKey() string {
	return os.Getenv(l.APIKeyEnv)
}
