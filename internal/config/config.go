// Package config loads the static configuration for the searchgate
// control plane: backend registrations, quota tiers, phase definitions,
// and the arbitration policy. Configuration is read once at startup and
// never hot-reloaded mid-session.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/searchgate/searchgate/pkg/models"
)

// Config holds all configuration for the searchgate control plane.
type Config struct {
	Port      int             `yaml:"port"`
	Version   string          `yaml:"-"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Policy    PolicyConfig    `yaml:"policy"`
	Backends  []BackendConfig `yaml:"backends"`
	Tiers     []TierConfig    `yaml:"tiers"`
	Phases    []PhaseConfig   `yaml:"phases"`
}

type TelemetryConfig struct {
	Enabled      bool   `yaml:"enabled"`
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	ServiceName  string `yaml:"service_name"`
}

// PolicyConfig tunes the arbitration loop.
type PolicyConfig struct {
	// BudgetMode is "warn" (default) or "block".
	BudgetMode string `yaml:"budget_mode"`
	// MaxAttempts bounds dispatch attempts per query; 0 means one per
	// candidate backend.
	MaxAttempts int `yaml:"max_attempts"`
	// AttemptTimeout bounds each individual backend call.
	AttemptTimeout Duration `yaml:"attempt_timeout"`
	// RetryInterval is the initial pause between fallback attempts.
	RetryInterval Duration `yaml:"retry_interval"`
}

// Duration wraps time.Duration for YAML string parsing (e.g. "10s", "1h").
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses a duration string like "10s" or "5m30s".
func (d *Duration) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	if s == "" {
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	d.Duration = parsed
	return nil
}

type BackendConfig struct {
	ID           string                 `yaml:"id"`
	Kind         string                 `yaml:"kind"`
	Endpoint     string                 `yaml:"endpoint"`
	Capabilities []string               `yaml:"capabilities"`
	Tier         string                 `yaml:"tier"`
	Config       map[string]interface{} `yaml:"config"`
}

type TierConfig struct {
	Name   string   `yaml:"name"`
	Limit  int64    `yaml:"limit"`
	Window Duration `yaml:"window"`
}

type PhaseConfig struct {
	ID           string   `yaml:"id"`
	Capabilities []string `yaml:"capabilities"`
	TokenCeiling int64    `yaml:"token_ceiling"`
}

// Load reads configuration from the YAML file named by SEARCHGATE_CONFIG
// (if set) on top of built-in defaults, then applies environment variable
// overrides for the server-level settings.
func Load() (*Config, error) {
	cfg := Defaults()

	if path := os.Getenv("SEARCHGATE_CONFIG"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	cfg.Port = envInt("SEARCHGATE_PORT", cfg.Port)
	cfg.Version = envStr("SEARCHGATE_VERSION", cfg.Version)
	cfg.Telemetry.Enabled = envBool("OTEL_ENABLED", cfg.Telemetry.Enabled)
	cfg.Telemetry.OTLPEndpoint = envStr("OTEL_EXPORTER_OTLP_ENDPOINT", cfg.Telemetry.OTLPEndpoint)
	cfg.Telemetry.ServiceName = envStr("OTEL_SERVICE_NAME", cfg.Telemetry.ServiceName)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Defaults returns the built-in configuration: a free tier, a paid tier,
// and the three workflow phases.
func Defaults() *Config {
	return &Config{
		Port:    8080,
		Version: "0.2.0",
		Telemetry: TelemetryConfig{
			Enabled:      false,
			OTLPEndpoint: "localhost:4317",
			ServiceName:  "searchgate",
		},
		Policy: PolicyConfig{
			BudgetMode:     string(models.BudgetWarn),
			AttemptTimeout: Duration{10 * time.Second},
			RetryInterval:  Duration{100 * time.Millisecond},
		},
		Tiers: []TierConfig{
			{Name: "free", Limit: 50, Window: Duration{time.Hour}},
			{Name: "paid", Limit: 500, Window: Duration{time.Hour}},
		},
		Phases: []PhaseConfig{
			{ID: string(models.PhasePlan), Capabilities: []string{models.CapabilityExact, models.CapabilitySemantic}, TokenCeiling: 200_000},
			{ID: string(models.PhaseBuild), Capabilities: []string{models.CapabilityExact, models.CapabilitySemantic, models.CapabilityXref}, TokenCeiling: 500_000},
			{ID: string(models.PhaseReview), Capabilities: []string{models.CapabilityExact, models.CapabilityXref}, TokenCeiling: 300_000},
		},
	}
}

// Validate checks cross-references between backends, tiers and phases.
func (c *Config) Validate() error {
	tiers := make(map[string]bool, len(c.Tiers))
	for _, t := range c.Tiers {
		if t.Limit <= 0 || t.Window.Duration <= 0 {
			return fmt.Errorf("tier %q: limit and window must be positive", t.Name)
		}
		tiers[t.Name] = true
	}

	ids := make(map[string]bool, len(c.Backends))
	for _, b := range c.Backends {
		if b.ID == "" {
			return fmt.Errorf("backend with empty id")
		}
		if ids[b.ID] {
			return fmt.Errorf("backend %q: duplicate id", b.ID)
		}
		ids[b.ID] = true
		if !tiers[b.Tier] {
			return fmt.Errorf("backend %q: unknown tier %q", b.ID, b.Tier)
		}
		if len(b.Capabilities) == 0 {
			return fmt.Errorf("backend %q: no capabilities", b.ID)
		}
	}

	for _, p := range c.Phases {
		if p.TokenCeiling <= 0 {
			return fmt.Errorf("phase %q: token ceiling must be positive", p.ID)
		}
	}

	switch models.BudgetMode(c.Policy.BudgetMode) {
	case models.BudgetWarn, models.BudgetBlock:
	default:
		return fmt.Errorf("policy: unknown budget mode %q", c.Policy.BudgetMode)
	}
	return nil
}

// Tier resolves a tier name to its quota tier.
func (c *Config) Tier(name string) (models.QuotaTier, bool) {
	for _, t := range c.Tiers {
		if t.Name == name {
			return models.QuotaTier{Name: t.Name, Limit: t.Limit, Window: t.Window.Duration}, true
		}
	}
	return models.QuotaTier{}, false
}

// PhaseDefinitions converts the configured phases to domain definitions.
func (c *Config) PhaseDefinitions() map[models.PhaseID]models.PhaseDefinition {
	defs := make(map[models.PhaseID]models.PhaseDefinition, len(c.Phases))
	for _, p := range c.Phases {
		id := models.PhaseID(p.ID)
		defs[id] = models.PhaseDefinition{
			ID:           id,
			Capabilities: p.Capabilities,
			TokenCeiling: p.TokenCeiling,
		}
	}
	return defs
}

// Ceilings returns the per-phase token ceilings for the budget ledger.
func (c *Config) Ceilings() map[models.PhaseID]int64 {
	out := make(map[models.PhaseID]int64, len(c.Phases))
	for _, p := range c.Phases {
		out[models.PhaseID(p.ID)] = p.TokenCeiling
	}
	return out
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}
