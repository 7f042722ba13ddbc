package config

import (
	"fmt"
	"time"
)

// ValidationError represents a single validation issue with a config.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Validate checks a Config for structural and semantic errors. It returns a
// slice of all validation errors found (empty if valid).
func Validate(cfg *Config) []ValidationError {
	var errs []ValidationError

	if cfg.Pipeline.Name == "" {
		errs = append(errs, ValidationError{Field: "pipeline.name", Message: "is required"})
	}

	for name, g := range cfg.Pipeline.Gates {
		if g.MaxIterations <= 0 {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("pipeline.gates.%s.max_iterations", name),
				Message: fmt.Sprintf("must be positive, got %d", g.MaxIterations),
			})
		}
	}

	for stage, raw := range cfg.Pipeline.StageTimeouts {
		if _, err := time.ParseDuration(raw); err != nil {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("pipeline.stage_timeouts.%s", stage),
				Message: fmt.Sprintf("invalid duration %q", raw),
			})
		}
	}
	if cfg.Pipeline.Defaults.StageTimeout != "" {
		if _, err := time.ParseDuration(cfg.Pipeline.Defaults.StageTimeout); err != nil {
			errs = append(errs, ValidationError{
				Field:   "pipeline.defaults.stage_timeout",
				Message: fmt.Sprintf("invalid duration %q", cfg.Pipeline.Defaults.StageTimeout),
			})
		}
	}
	if cfg.Pipeline.RunTimeout != "" {
		if _, err := time.ParseDuration(cfg.Pipeline.RunTimeout); err != nil {
			errs = append(errs, ValidationError{
				Field:   "pipeline.run_timeout",
				Message: fmt.Sprintf("invalid duration %q", cfg.Pipeline.RunTimeout),
			})
		}
	}

	if cfg.Pipeline.Retry.MaxAttempts < 1 {
		errs = append(errs, ValidationError{Field: "pipeline.retry.max_attempts", Message: "must be at least 1"})
	}
	for _, f := range []struct{ field, raw string }{
		{"pipeline.retry.base_delay", cfg.Pipeline.Retry.BaseDelay},
		{"pipeline.retry.max_delay", cfg.Pipeline.Retry.MaxDelay},
	} {
		if f.raw == "" {
			continue
		}
		if _, err := time.ParseDuration(f.raw); err != nil {
			errs = append(errs, ValidationError{Field: f.field, Message: fmt.Sprintf("invalid duration %q", f.raw)})
		}
	}

	if cfg.Pipeline.MaxConcurrentRuns < 1 {
		errs = append(errs, ValidationError{Field: "pipeline.max_concurrent_runs", Message: "must be at least 1"})
	}
	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		errs = append(errs, ValidationError{Field: "server.port", Message: fmt.Sprintf("invalid port %d", cfg.Server.Port)})
	}
	if cfg.LLM.Model == "" {
		errs = append(errs, ValidationError{Field: "llm.model", Message: "is required"})
	}
	if cfg.LLM.APIKeyEnv == "" {
		errs = append(errs, ValidationError{Field: "llm.api_key_env", Message: "is required"})
	}

	return errs
}
