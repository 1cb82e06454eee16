package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/searchgate/searchgate/internal/config"
	"github.com/searchgate/searchgate/pkg/models"
)

const testConfig = `
port: 9090
policy:
  budget_mode: block
  max_attempts: 3
  attempt_timeout: 5s
  retry_interval: 50ms
tiers:
  - name: free
    limit: 10
    window: 1h
  - name: paid
    limit: 500
    window: 1h
backends:
  - id: grep-local
    kind: grep
    endpoint: http://localhost:7080
    capabilities: [exact]
    tier: free
  - id: vec-cloud
    kind: vector
    endpoint: https://search.example.com
    capabilities: [semantic]
    tier: paid
    config:
      api_key: sk-test
phases:
  - id: plan
    capabilities: [exact]
    token_ceiling: 100000
  - id: build
    capabilities: [exact, semantic]
    token_ceiling: 400000
  - id: review
    capabilities: [exact]
    token_ceiling: 200000
`

func writeConfig(t *testing.T, content string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "searchgate.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	os.Setenv("SEARCHGATE_CONFIG", path)
	t.Cleanup(func() { os.Unsetenv("SEARCHGATE_CONFIG") })
}

func TestLoadFromFile(t *testing.T) {
	writeConfig(t, testConfig)

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Port != 9090 {
		t.Errorf("Port = %d, want 9090", cfg.Port)
	}
	if cfg.Policy.BudgetMode != string(models.BudgetBlock) {
		t.Errorf("BudgetMode = %q, want block", cfg.Policy.BudgetMode)
	}
	if cfg.Policy.AttemptTimeout.Duration != 5*time.Second {
		t.Errorf("AttemptTimeout = %s, want 5s", cfg.Policy.AttemptTimeout)
	}
	if len(cfg.Backends) != 2 {
		t.Fatalf("len(Backends) = %d, want 2", len(cfg.Backends))
	}

	tier, ok := cfg.Tier("free")
	if !ok {
		t.Fatal("Tier(free) not found")
	}
	if tier.Limit != 10 || tier.Window != time.Hour {
		t.Errorf("Tier(free) = %+v, want limit 10 window 1h", tier)
	}
}

func TestLoad_EnvOverridesPort(t *testing.T) {
	writeConfig(t, testConfig)
	os.Setenv("SEARCHGATE_PORT", "7171")
	defer os.Unsetenv("SEARCHGATE_PORT")

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Port != 7171 {
		t.Errorf("Port = %d, want env override 7171", cfg.Port)
	}
}

func TestDefaultsAreValid(t *testing.T) {
	cfg := config.Defaults()
	if err := cfg.Validate(); err != nil {
		t.Errorf("Defaults().Validate() error = %v", err)
	}
	if cfg.Policy.BudgetMode != string(models.BudgetWarn) {
		t.Errorf("default BudgetMode = %q, want warn (soft-warn is the default policy)", cfg.Policy.BudgetMode)
	}
}

func TestValidate_UnknownTier(t *testing.T) {
	writeConfig(t, `
tiers:
  - name: free
    limit: 10
    window: 1h
backends:
  - id: b1
    kind: grep
    endpoint: http://localhost:7080
    capabilities: [exact]
    tier: platinum
`)
	if _, err := config.Load(); err == nil {
		t.Error("Load() should reject a backend referencing an unknown tier")
	}
}

func TestValidate_DuplicateBackend(t *testing.T) {
	writeConfig(t, `
tiers:
  - name: free
    limit: 10
    window: 1h
backends:
  - id: b1
    kind: grep
    endpoint: http://localhost:7080
    capabilities: [exact]
    tier: free
  - id: b1
    kind: vector
    endpoint: http://localhost:7081
    capabilities: [semantic]
    tier: free
`)
	if _, err := config.Load(); err == nil {
		t.Error("Load() should reject duplicate backend ids")
	}
}

func TestPhaseDefinitions(t *testing.T) {
	writeConfig(t, testConfig)
	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	defs := cfg.PhaseDefinitions()
	plan, ok := defs[models.PhasePlan]
	if !ok {
		t.Fatal("PhaseDefinitions() missing plan")
	}
	if len(plan.Capabilities) != 1 || plan.Capabilities[0] != models.CapabilityExact {
		t.Errorf("plan capabilities = %v, want [exact]", plan.Capabilities)
	}

	ceilings := cfg.Ceilings()
	if ceilings[models.PhaseBuild] != 400000 {
		t.Errorf("build ceiling = %d, want 400000", ceilings[models.PhaseBuild])
	}
}
