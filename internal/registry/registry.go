// Package registry holds the static and dynamic description of every
// search backend available to the arbiter: identity, capability tags,
// quota tier, and current health.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/searchgate/searchgate/pkg/models"
)

// ErrDuplicateBackend is returned when registering an ID that already exists.
var ErrDuplicateBackend = errors.New("duplicate backend")

// ErrBackendNotFound is returned when a backend ID is unknown.
var ErrBackendNotFound = errors.New("backend not found")

// Registry is a thread-safe in-memory backend registry.
// Identity, capabilities and tier are frozen at registration; only
// health mutates afterwards.
type Registry struct {
	mu       sync.RWMutex
	backends map[string]*models.Backend
	order    []string // registration order, for deterministic listing
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		backends: make(map[string]*models.Backend),
	}
}

// Register adds a backend. The ID must be unique.
func (r *Registry) Register(b *models.Backend) error {
	if b.ID == "" {
		return fmt.Errorf("register backend: empty id")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.backends[b.ID]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateBackend, b.ID)
	}

	cp := *b
	if cp.Health == "" {
		cp.Health = models.HealthHealthy
	}
	cp.RegisteredAt = time.Now().UTC()
	r.backends[b.ID] = &cp
	r.order = append(r.order, b.ID)

	log.Info().
		Str("backend", b.ID).
		Str("kind", b.Kind).
		Strs("capabilities", b.Capabilities).
		Str("tier", b.Tier).
		Msg("Backend registered")
	return nil
}

// Get returns a copy of the backend with the given ID.
func (r *Registry) Get(id string) (*models.Backend, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	b, ok := r.backends[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrBackendNotFound, id)
	}
	cp := *b
	return &cp, nil
}

// List returns backends carrying the given capability tag, in registration
// order so ranking ties are reproducible. An empty tag lists everything.
func (r *Registry) List(capabilityTag string) []models.Backend {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]models.Backend, 0, len(r.order))
	for _, id := range r.order {
		b := r.backends[id]
		if capabilityTag == "" || b.HasCapability(capabilityTag) {
			result = append(result, *b)
		}
	}
	return result
}

// SetHealth updates a backend's health status. Idempotent: setting the
// current status again is a no-op.
func (r *Registry) SetHealth(id string, status models.HealthStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.backends[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrBackendNotFound, id)
	}
	if b.Health == status {
		return nil
	}

	log.Info().
		Str("backend", id).
		Str("from", string(b.Health)).
		Str("to", string(status)).
		Msg("Backend health changed")
	b.Health = status
	return nil
}

// HealthProbe checks a single backend's liveness, typically by delegating
// to its dispatch driver.
type HealthProbe func(ctx context.Context, backend *models.Backend) error

// HealthSweep probes all registered backends concurrently and records the
// outcome in the registry. Returns per-backend probe errors (nil entry =
// healthy).
func (r *Registry) HealthSweep(ctx context.Context, probe HealthProbe) map[string]error {
	backends := r.List("")

	var mu sync.Mutex
	results := make(map[string]error, len(backends))

	g, ctx := errgroup.WithContext(ctx)
	for _, b := range backends {
		b := b
		g.Go(func() error {
			err := probe(ctx, &b)

			mu.Lock()
			results[b.ID] = err
			mu.Unlock()

			status := models.HealthHealthy
			if err != nil {
				status = models.HealthUnavailable
			}
			if serr := r.SetHealth(b.ID, status); serr != nil {
				log.Warn().Err(serr).Str("backend", b.ID).Msg("Health sweep could not record status")
			}
			return nil // sweep never fails as a whole
		})
	}
	_ = g.Wait()

	return results
}
