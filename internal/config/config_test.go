package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

const validConfig = `
pipeline:
  name: support-agent-creator
  defaults:
    stage_timeout: "90s"
  gates:
    draft_plan:
      max_iterations: 3
    generate_code:
      max_iterations: 2
  stage_timeouts:
    generate_code: "5m"
  retry:
    max_attempts: 4
    base_delay: "500ms"
    max_delay: "10s"
  max_concurrent_runs: 2
  run_timeout: "30m"
llm:
  model: gpt-4o
  api_key_env: OPENAI_API_KEY
  temperature: 0.1
server:
  port: 9090
`

func writeTestConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "forge.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadValidConfig(t *testing.T) {
	path := writeTestConfig(t, validConfig)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Pipeline.Name != "support-agent-creator" {
		t.Errorf("Name = %q", cfg.Pipeline.Name)
	}
	if cfg.Pipeline.Gates["draft_plan"].MaxIterations != 3 {
		t.Errorf("draft_plan max_iterations = %d", cfg.Pipeline.Gates["draft_plan"].MaxIterations)
	}
	if cfg.Server.Port != 9090 {
		t.Errorf("Port = %d", cfg.Server.Port)
	}
	if errs := Validate(cfg); len(errs) != 0 {
		t.Errorf("Validate() = %v, want no errors", errs)
	}
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeTestConfig(t, "pipeline:\n  name: minimal\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}

	if cfg.Pipeline.Defaults.StageTimeout != "2m" {
		t.Errorf("default stage_timeout = %q", cfg.Pipeline.Defaults.StageTimeout)
	}
	if cfg.Pipeline.Retry.MaxAttempts != 3 {
		t.Errorf("default max_attempts = %d", cfg.Pipeline.Retry.MaxAttempts)
	}
	if cfg.Pipeline.MaxConcurrentRuns != 4 {
		t.Errorf("default max_concurrent_runs = %d", cfg.Pipeline.MaxConcurrentRuns)
	}
	if cfg.LLM.Model != "gpt-4o" || cfg.LLM.APIKeyEnv != "OPENAI_API_KEY" {
		t.Errorf("LLM defaults = %+v", cfg.LLM)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("default port = %d", cfg.Server.Port)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("missing file did not error")
	}
}

func TestLoadMalformedYAML(t *testing.T) {
	path := writeTestConfig(t, "pipeline: [not a map")
	if _, err := Load(path); err == nil {
		t.Error("malformed yaml did not error")
	}
}

func TestValidateCollectsErrors(t *testing.T) {
	cfg := Default()
	cfg.Pipeline.Name = ""
	cfg.Pipeline.Gates = map[string]Gate{"draft_plan": {MaxIterations: 0}}
	cfg.Pipeline.StageTimeouts = map[string]string{"draft_plan": "soon"}
	cfg.Pipeline.RunTimeout = "whenever"
	cfg.Server.Port = 70000

	errs := Validate(cfg)
	want := map[string]bool{
		"pipeline.name":                            false,
		"pipeline.gates.draft_plan.max_iterations": false,
		"pipeline.stage_timeouts.draft_plan":       false,
		"pipeline.run_timeout":                     false,
		"server.port":                              false,
	}
	for _, e := range errs {
		if _, ok := want[e.Field]; ok {
			want[e.Field] = true
		}
	}
	for field, seen := range want {
		if !seen {
			t.Errorf("no validation error for %s (got %v)", field, errs)
		}
	}
}

func TestStageTimeoutFallback(t *testing.T) {
	p := Pipeline{
		Defaults:      Defaults{StageTimeout: "90s"},
		StageTimeouts: map[string]string{"generate_code": "5m"},
	}
	if got := p.StageTimeout("generate_code"); got != 5*time.Minute {
		t.Errorf("explicit timeout = %v", got)
	}
	if got := p.StageTimeout("draft_plan"); got != 90*time.Second {
		t.Errorf("default timeout = %v", got)
	}
	if got := (Pipeline{}).StageTimeout("draft_plan"); got != 2*time.Minute {
		t.Errorf("fallback timeout = %v", got)
	}
}

func TestGateBoundsSkipsNonPositive(t *testing.T) {
	p := Pipeline{Gates: map[string]Gate{
		"draft_plan":    {MaxIterations: 3},
		"generate_code": {MaxIterations: 0},
	}}
	bounds := p.GateBounds()
	if bounds["draft_plan"] != 3 {
		t.Errorf("bounds = %v", bounds)
	}
	if _, ok := bounds["generate_code"]; ok {
		t.Error("non-positive bound not skipped")
	}
}

func TestAPIKeyFromEnv(t *testing.T) {
	t.Setenv("FORGE_TEST_KEY", "sk-test")
	l := LLM{APIKeyEnv: "FORGE_TEST_KEY"}
	if got := l.APIKey(); got != "sk-test" {
		t.Errorf("APIKey() = %q", got)
	}
}
