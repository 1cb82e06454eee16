// Package dispatch defines the abstract backend invocation interface and
// the concrete HTTP drivers that talk to the actual search engines.
//
// The arbiter never interprets search payloads; drivers return an opaque
// payload plus the token cost of the call. Tests swap drivers through the
// registry to avoid real network calls.
package dispatch

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/searchgate/searchgate/pkg/models"
)

// Driver invokes one kind of search backend.
type Driver interface {
	// Kind returns the driver's backend kind ("grep", "vector", ...).
	Kind() string

	// Search runs one query against the backend.
	Search(ctx context.Context, backend *models.Backend, req *models.SearchRequest) (*models.SearchResult, error)

	// HealthCheck verifies the backend is reachable.
	HealthCheck(ctx context.Context, backend *models.Backend) error
}

// Drivers is a thread-safe registry of drivers keyed by kind.
type Drivers struct {
	mu     sync.RWMutex
	byKind map[string]Driver
}

// NewDrivers creates a registry with the built-in HTTP drivers registered.
func NewDrivers() *Drivers {
	client := &http.Client{
		Timeout: 30 * time.Second,
	}

	d := &Drivers{byKind: make(map[string]Driver)}
	d.Register(&grepDriver{client: client})
	d.Register(&vectorDriver{client: client})
	return d
}

// Register adds or replaces the driver for its kind.
func (d *Drivers) Register(driver Driver) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.byKind[driver.Kind()] = driver
}

// Get returns the driver for a kind, or nil if none is registered.
func (d *Drivers) Get(kind string) Driver {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.byKind[kind]
}

// List returns the registered kinds, sorted.
func (d *Drivers) List() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()

	kinds := make([]string, 0, len(d.byKind))
	for k := range d.byKind {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}

// For returns the driver for a backend's kind, failing if none exists.
func (d *Drivers) For(backend *models.Backend) (Driver, error) {
	driver := d.Get(backend.Kind)
	if driver == nil {
		return nil, fmt.Errorf("no driver for backend kind %q (backend %s)", backend.Kind, backend.ID)
	}
	return driver, nil
}
