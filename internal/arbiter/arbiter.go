// Package arbiter implements the searchgate fallback orchestrator.
//
// For each query the arbiter restricts candidates to the session phase's
// permitted capabilities, ranks them with the classifier, filters out
// backends without quota headroom, and dispatches the best candidate.
// On backend error, timeout, or quota exhaustion it falls back to the
// next-ranked candidate up to a bounded attempt count. Ledger and quota
// writes happen only when a dispatch succeeds; full exhaustion writes
// nothing and surfaces ErrNoAdmissibleBackend.
package arbiter

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/searchgate/searchgate/internal/budget"
	"github.com/searchgate/searchgate/internal/classifier"
	"github.com/searchgate/searchgate/internal/dispatch"
	"github.com/searchgate/searchgate/internal/metrics"
	"github.com/searchgate/searchgate/internal/phase"
	"github.com/searchgate/searchgate/internal/quota"
	"github.com/searchgate/searchgate/internal/registry"
	"github.com/searchgate/searchgate/pkg/models"
)

// ErrNoAdmissibleBackend is the terminal per-query failure: every
// candidate was exhausted, failed, or was never admissible.
var ErrNoAdmissibleBackend = errors.New("no admissible backend")

// ErrBudgetExhausted is returned before dispatch when the phase budget is
// overrun and the block policy is configured.
var ErrBudgetExhausted = errors.New("phase budget exhausted")

// Config tunes the orchestrator.
type Config struct {
	// MaxAttempts bounds dispatch attempts per query. Zero means one
	// attempt per candidate backend.
	MaxAttempts int

	// AttemptTimeout bounds each individual backend call. Timeout is
	// treated as a dispatch failure and feeds the fallback.
	AttemptTimeout time.Duration

	// BudgetMode selects soft-warn (default) or hard-stop budget
	// enforcement.
	BudgetMode models.BudgetMode

	// RetryInterval is the initial pause between fallback attempts.
	RetryInterval time.Duration
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.AttemptTimeout <= 0 {
		out.AttemptTimeout = 10 * time.Second
	}
	if out.BudgetMode == "" {
		out.BudgetMode = models.BudgetWarn
	}
	if out.RetryInterval <= 0 {
		out.RetryInterval = 100 * time.Millisecond
	}
	return out
}

// Arbiter coordinates registry, quota, budget, phase gate and drivers
// for query arbitration.
type Arbiter struct {
	registry *registry.Registry
	quota    *quota.Tracker
	ledger   *budget.Ledger
	gate     *phase.Gate
	drivers  *dispatch.Drivers
	metrics  *metrics.Metrics
	cfg      Config
}

// New creates an arbiter. A nil metrics argument disables instrumentation
// by using unregistered collectors.
func New(reg *registry.Registry, qt *quota.Tracker, bl *budget.Ledger, pg *phase.Gate, dr *dispatch.Drivers, m *metrics.Metrics, cfg Config) *Arbiter {
	if m == nil {
		m = metrics.NewNop()
	}
	return &Arbiter{
		registry: reg,
		quota:    qt,
		ledger:   bl,
		gate:     pg,
		drivers:  dr,
		metrics:  m,
		cfg:      cfg.withDefaults(),
	}
}

// Arbitrate runs one query through phase gating, classification, quota
// admission, dispatch and fallback.
func (a *Arbiter) Arbitrate(ctx context.Context, session *models.Session, req *models.SearchRequest) (*models.ArbitrationResult, error) {
	queryID := uuid.New().String()
	start := time.Now()

	permitted, err := a.gate.PermittedCapabilities(session.Phase)
	if err != nil {
		return nil, fmt.Errorf("phase gate: %w", err)
	}

	ranking := restrictRanking(classifier.Classify(req.Text, req.Context), permitted)

	if a.cfg.BudgetMode == models.BudgetBlock {
		over, err := a.ledger.IsOverBudget(session.Phase)
		if err != nil {
			return nil, fmt.Errorf("budget check: %w", err)
		}
		if over {
			return nil, fmt.Errorf("%w: phase %s", ErrBudgetExhausted, session.Phase)
		}
	}

	candidates := a.candidates(ranking)
	if len(candidates) == 0 {
		a.metrics.Exhaustions.Inc()
		log.Warn().
			Str("query", queryID).
			Str("phase", string(session.Phase)).
			Strs("ranking", ranking).
			Msg("No candidate backends for query")
		return nil, fmt.Errorf("%w: no backend matches ranking %v in phase %s", ErrNoAdmissibleBackend, ranking, session.Phase)
	}

	maxAttempts := a.cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = len(candidates)
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = a.cfg.RetryInterval
	bo.MaxInterval = 2 * time.Second
	bo.Reset()

	attempts := 0
	var lastErr error

	for i := range candidates {
		if attempts >= maxAttempts {
			break
		}
		if ctx.Err() != nil {
			// Session-level cancellation: straight to Exhausted,
			// no further retries consumed.
			a.metrics.Exhaustions.Inc()
			return nil, fmt.Errorf("%w: session canceled: %v", ErrNoAdmissibleBackend, ctx.Err())
		}
		c := &candidates[i]
		attempts++

		admissible, err := a.quota.CheckAdmissible(c.ID)
		if err != nil {
			log.Warn().Err(err).Str("backend", c.ID).Msg("Quota check failed, skipping backend")
			lastErr = err
			continue
		}
		if !admissible {
			a.metrics.QuotaRejections.WithLabelValues(c.ID).Inc()
			log.Debug().
				Str("query", queryID).
				Str("backend", c.ID).
				Msg("Backend quota window full, falling back")
			lastErr = fmt.Errorf("%w: backend %s", quota.ErrQuotaExceeded, c.ID)
			continue
		}

		result, attemptErr := a.attempt(ctx, c, req)
		if attemptErr != nil {
			a.metrics.Dispatches.WithLabelValues(c.ID, "failure").Inc()
			if err := a.registry.SetHealth(c.ID, models.HealthDegraded); err != nil {
				log.Warn().Err(err).Str("backend", c.ID).Msg("Could not record backend health")
			}
			log.Warn().
				Str("query", queryID).
				Str("backend", c.ID).
				Int("attempt", attempts).
				Err(attemptErr).
				Msg("Dispatch failed, trying next backend")
			lastErr = attemptErr

			if attempts < maxAttempts && i < len(candidates)-1 {
				if err := sleepCtx(ctx, bo.NextBackOff()); err != nil {
					a.metrics.Exhaustions.Inc()
					return nil, fmt.Errorf("%w: session canceled: %v", ErrNoAdmissibleBackend, err)
				}
			}
			continue
		}

		// Quota record is the other half of the admission check; a
		// concurrent dispatch may have taken the last unit since.
		if err := a.quota.Record(c.ID, 1); err != nil {
			log.Warn().Err(err).Str("backend", c.ID).Msg("Quota lost to concurrent dispatch, falling back")
			lastErr = err
			continue
		}

		return a.succeed(queryID, session, c, result, ranking, attempts, start), nil
	}

	a.metrics.Exhaustions.Inc()
	log.Warn().
		Str("query", queryID).
		Str("phase", string(session.Phase)).
		Int("attempts", attempts).
		Err(lastErr).
		Msg("All backends exhausted")
	if lastErr != nil {
		return nil, fmt.Errorf("%w: last error: %v", ErrNoAdmissibleBackend, lastErr)
	}
	return nil, ErrNoAdmissibleBackend
}

// attempt runs a single dispatch with the per-attempt timeout.
func (a *Arbiter) attempt(ctx context.Context, backend *models.Backend, req *models.SearchRequest) (*models.SearchResult, error) {
	driver, err := a.drivers.For(backend)
	if err != nil {
		return nil, err
	}

	attemptCtx, cancel := context.WithTimeout(ctx, a.cfg.AttemptTimeout)
	defer cancel()

	attemptStart := time.Now()
	result, err := driver.Search(attemptCtx, backend, req)
	a.metrics.AttemptLatency.Observe(time.Since(attemptStart).Seconds())

	if err != nil {
		if errors.Is(attemptCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, fmt.Errorf("dispatch timeout after %s: %w", a.cfg.AttemptTimeout, err)
		}
		return nil, err
	}
	return result, nil
}

// succeed records side effects for a successful dispatch and builds the
// arbitration result.
func (a *Arbiter) succeed(queryID string, session *models.Session, backend *models.Backend, result *models.SearchResult, ranking []string, attempts int, start time.Time) *models.ArbitrationResult {
	outcome := models.OutcomeSuccess
	if attempts > 1 {
		outcome = models.OutcomeFallback
		a.metrics.Fallbacks.Inc()
	}
	a.metrics.Dispatches.WithLabelValues(backend.ID, string(outcome)).Inc()

	entry := models.LedgerEntry{
		ID:        uuid.New().String(),
		Phase:     session.Phase,
		Timestamp: time.Now().UTC(),
		Tokens:    result.TokensUsed,
		Backend:   backend.ID,
		Outcome:   outcome,
	}
	if err := a.ledger.Record(session.Phase, entry); err != nil {
		log.Warn().Err(err).Str("query", queryID).Msg("Could not record ledger entry")
	}

	if err := a.registry.SetHealth(backend.ID, models.HealthHealthy); err != nil {
		log.Warn().Err(err).Str("backend", backend.ID).Msg("Could not record backend health")
	}

	warning := false
	if over, err := a.ledger.IsOverBudget(session.Phase); err == nil && over {
		warning = true
		a.metrics.BudgetWarnings.WithLabelValues(string(session.Phase)).Inc()
		log.Warn().
			Str("query", queryID).
			Str("phase", string(session.Phase)).
			Msg("Phase token budget overrun")
	}

	latency := time.Since(start)
	log.Info().
		Str("query", queryID).
		Str("backend", backend.ID).
		Int("attempts", attempts).
		Int64("tokens", result.TokensUsed).
		Dur("latency", latency).
		Msg("Query arbitrated")

	return &models.ArbitrationResult{
		QueryID:       queryID,
		ChosenBackend: backend.ID,
		AttemptsMade:  attempts,
		TokensUsed:    result.TokensUsed,
		BudgetWarning: warning,
		LatencyMs:     latency.Milliseconds(),
		Ranking:       ranking,
		Payload:       result.Payload,
	}
}

// candidates flattens the capability ranking into an ordered backend list:
// ranking order first, registration order within a tag, deduplicated.
// Unavailable backends are excluded up front; degraded ones stay in as
// later fallbacks are better than none.
func (a *Arbiter) candidates(ranking []string) []models.Backend {
	seen := make(map[string]bool)
	var out []models.Backend
	for _, tag := range ranking {
		for _, b := range a.registry.List(tag) {
			if seen[b.ID] || b.Health == models.HealthUnavailable {
				continue
			}
			seen[b.ID] = true
			out = append(out, b)
		}
	}
	return out
}

// restrictRanking keeps only permitted tags, preserving ranking order.
func restrictRanking(ranking, permitted []string) []string {
	allowed := make(map[string]bool, len(permitted))
	for _, tag := range permitted {
		allowed[tag] = true
	}
	var out []string
	for _, tag := range ranking {
		if allowed[tag] {
			out = append(out, tag)
		}
	}
	return out
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
