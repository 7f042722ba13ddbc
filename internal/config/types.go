package config

import "time"

// Config is the top-level structure parsed from the forge YAML file.
type Config struct {
	Pipeline Pipeline `yaml:"pipeline"`
	LLM      LLM      `yaml:"llm"`
	Server   Server   `yaml:"server"`
	Store    Store    `yaml:"store"`
	DB       DB       `yaml:"db"`
}

// Pipeline holds the workflow engine's operational policy. All of it is
// explicit here and passed into the engine at run start; nothing is read
// from ambient configuration mid-run.
type Pipeline struct {
	Name              string            `yaml:"name"`
	Defaults          Defaults          `yaml:"defaults"`
	Gates             map[string]Gate   `yaml:"gates"`
	StageTimeouts     map[string]string `yaml:"stage_timeouts"`
	Retry             Retry             `yaml:"retry"`
	MaxConcurrentRuns int               `yaml:"max_concurrent_runs"`
	RunTimeout        string            `yaml:"run_timeout"`
}

// Defaults holds values applied where a stage doesn't specify its own.
type Defaults struct {
	StageTimeout string `yaml:"stage_timeout"`
}

// Gate configures one review gate. MaxIterations is per-gate: plan review
// and code review may warrant different bounds.
type Gate struct {
	MaxIterations int `yaml:"max_iterations"`
}

// Retry configures transient-failure retries for stage invocations.
type Retry struct {
	MaxAttempts int    `yaml:"max_attempts"`
	BaseDelay   string `yaml:"base_delay"`
	MaxDelay    string `yaml:"max_delay"`
}

// LLM configures the reasoning service the stage executors call into. The
// API key is named by env var, never stored in the file.
type LLM struct {
	BaseURL     string  `yaml:"base_url"`
	Model       string  `yaml:"model"`
	APIKeyEnv   string  `yaml:"api_key_env"`
	Temperature float32 `yaml:"temperature"`
}

// Server configures the HTTP API.
type Server struct {
	Port int `yaml:"port"`
}

// Store configures the run checkpoint store.
type Store struct {
	Dir string `yaml:"dir"`
}

// DB configures the sqlite audit database.
type DB struct {
	Path string `yaml:"path"`
}

// StageTimeout returns the per-invocation timeout for a stage, falling back
// to the pipeline default, then to 2 minutes.
func (p Pipeline) StageTimeout(stage string) time.Duration {
	if raw, ok := p.StageTimeouts[stage]; ok {
		if d, err := time.ParseDuration(raw); err == nil {
			return d
		}
	}
	if p.Defaults.StageTimeout != "" {
		if d, err := time.ParseDuration(p.Defaults.StageTimeout); err == nil {
			return d
		}
	}
	return 2 * time.Minute
}

// RunDeadline returns the optional run-level deadline, zero when unset.
func (p Pipeline) RunDeadline() time.Duration {
	if p.RunTimeout == "" {
		return 0
	}
	d, err := time.ParseDuration(p.RunTimeout)
	if err != nil {
		return 0
	}
	return d
}

// GateBounds returns gate name -> max iterations for every configured gate.
func (p Pipeline) GateBounds() map[string]int {
	out := make(map[string]int, len(p.Gates))
	for name, g := range p.Gates {
		if g.MaxIterations > 0 {
			out[name] = g.MaxIterations
		}
	}
	return out
}

// BaseDelayDuration returns the parsed base backoff delay, default 1s.
func (r Retry) BaseDelayDuration() time.Duration {
	if d, err := time.ParseDuration(r.BaseDelay); err == nil && d > 0 {
		return d
	}
	return time.Second
}

// MaxDelayDuration returns the parsed backoff ceiling, default 30s.
func (r Retry) MaxDelayDuration() time.Duration {
	if d, err := time.ParseDuration(r.MaxDelay); err == nil && d > 0 {
		return d
	}
	return 30 * time.Second
}
