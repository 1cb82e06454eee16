// Package models defines the shared domain types for the searchgate
// control plane: search backends, quota windows, phases, ledger entries,
// sessions, and the arbitration request/result shapes exchanged with the
// calling workflow layer.
package models

import (
	"encoding/json"
	"time"
)

// ── Capabilities & Health ───────────────────────────────────

// Capability tags carried by search backends. Phases permit a subset of
// these; the classifier ranks them per query.
const (
	CapabilityExact    = "exact"    // literal / identifier / pattern search
	CapabilitySemantic = "semantic" // embedding-backed natural-language search
	CapabilityXref     = "xref"     // cross-reference / usage lookup
)

// HealthStatus describes the observed health of a backend.
type HealthStatus string

const (
	HealthHealthy     HealthStatus = "healthy"
	HealthDegraded    HealthStatus = "degraded"
	HealthUnavailable HealthStatus = "unavailable"
)

// ── Backend ─────────────────────────────────────────────────

// Backend is one search capability provider known to the registry.
// ID, Kind, Capabilities and Tier are immutable after registration;
// Health is updated by the arbiter after each dispatch outcome.
type Backend struct {
	ID           string                 `json:"id" yaml:"id"`
	Kind         string                 `json:"kind" yaml:"kind"` // driver kind: "grep", "vector", ...
	Endpoint     string                 `json:"endpoint" yaml:"endpoint"`
	Capabilities []string               `json:"capabilities" yaml:"capabilities"`
	Tier         string                 `json:"tier" yaml:"tier"` // quota tier name
	Health       HealthStatus           `json:"health" yaml:"-"`
	Config       map[string]interface{} `json:"config,omitempty" yaml:"config,omitempty"`
	RegisteredAt time.Time              `json:"registered_at" yaml:"-"`
}

// HasCapability reports whether the backend carries the given tag.
func (b *Backend) HasCapability(tag string) bool {
	for _, c := range b.Capabilities {
		if c == tag {
			return true
		}
	}
	return false
}

// ── Quota ───────────────────────────────────────────────────

// QuotaTier is a named usage limit applied to backends.
// Tier changes take effect at the next window rollover, never mid-window.
type QuotaTier struct {
	Name   string        `json:"name" yaml:"name"`
	Limit  int64         `json:"limit" yaml:"limit"`   // units per window
	Window time.Duration `json:"window" yaml:"window"` // window length
}

// QuotaWindow is a read-only snapshot of one backend's current usage
// period, as exposed by the quota inspection endpoint.
type QuotaWindow struct {
	BackendID   string    `json:"backend_id"`
	WindowStart time.Time `json:"window_start"`
	WindowEnd   time.Time `json:"window_end"`
	Consumed    int64     `json:"consumed"`
	Limit       int64     `json:"limit"`
}

// ── Phases ──────────────────────────────────────────────────

// PhaseID identifies one workflow stage.
type PhaseID string

const (
	PhasePlan   PhaseID = "plan"
	PhaseBuild  PhaseID = "build"
	PhaseReview PhaseID = "review"
)

// PhaseDefinition is the configured shape of one phase: which capability
// tags it permits and its token budget ceiling.
type PhaseDefinition struct {
	ID           PhaseID  `json:"id" yaml:"id"`
	Capabilities []string `json:"capabilities" yaml:"capabilities"`
	TokenCeiling int64    `json:"token_ceiling" yaml:"token_ceiling"`
}

// ── Budget Ledger ───────────────────────────────────────────

// LedgerOutcome labels how one dispatch ended.
type LedgerOutcome string

const (
	OutcomeSuccess  LedgerOutcome = "success"
	OutcomeFailure  LedgerOutcome = "failure"
	OutcomeFallback LedgerOutcome = "fallback" // succeeded, but not on the first-ranked backend
)

// LedgerEntry is an immutable record of one dispatch's cost.
// Entries are appended only; never mutated or deleted.
type LedgerEntry struct {
	ID        string        `json:"id"`
	Phase     PhaseID       `json:"phase"`
	Timestamp time.Time     `json:"timestamp"`
	Tokens    int64         `json:"tokens"`
	Backend   string        `json:"backend"`
	Outcome   LedgerOutcome `json:"outcome"`
}

// BudgetSummary reports the budget position of one phase.
type BudgetSummary struct {
	Phase      PhaseID `json:"phase"`
	Ceiling    int64   `json:"ceiling"`
	Cumulative int64   `json:"cumulative"`
	Remaining  int64   `json:"remaining"`
	OverBudget bool    `json:"over_budget"`
	Entries    int     `json:"entries"`
}

// ── Session ─────────────────────────────────────────────────

// Session holds one workflow's current phase. Exactly one phase is active
// per session; transitions are explicit external commands.
type Session struct {
	ID        string    `json:"id"`
	Phase     PhaseID   `json:"phase"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ── Arbitration ─────────────────────────────────────────────

// SearchRequest is a single arbitration request entering the arbiter.
type SearchRequest struct {
	Text       string `json:"text"`
	Context    string `json:"context,omitempty"` // prior conversational context, classifier input
	MaxResults int    `json:"max_results,omitempty"`
}

// SearchResult is what a dispatch driver returns from a backend call.
// The core does not interpret Payload; it only records TokensUsed and
// success/failure.
type SearchResult struct {
	Payload    json.RawMessage `json:"payload"`
	TokensUsed int64           `json:"tokens_used"`
}

// ArbitrationResult is returned to the calling workflow layer for each
// query. BudgetWarning signals a soft budget overrun; the caller decides
// how to present it.
type ArbitrationResult struct {
	QueryID       string          `json:"query_id"`
	ChosenBackend string          `json:"chosen_backend"`
	AttemptsMade  int             `json:"attempts_made"`
	TokensUsed    int64           `json:"tokens_used"`
	BudgetWarning bool            `json:"budget_warning"`
	LatencyMs     int64           `json:"latency_ms"`
	Ranking       []string        `json:"ranking"` // capability ranking used, for audit
	Payload       json.RawMessage `json:"payload,omitempty"`
}

// ── Budget policy ───────────────────────────────────────────

// BudgetMode selects how a phase budget overrun is enforced.
type BudgetMode string

const (
	// BudgetWarn surfaces overruns as a warning flag on successful
	// results and never blocks dispatch. This is the default.
	BudgetWarn BudgetMode = "warn"
	// BudgetBlock refuses further dispatch once the phase ceiling is
	// crossed.
	BudgetBlock BudgetMode = "block"
)
