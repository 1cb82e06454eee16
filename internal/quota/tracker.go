// Package quota enforces tiered, time-windowed usage limits per backend.
//
// Quota is a backend-wide resource shared by all sessions; the tracker
// therefore serializes check-and-record per backend key so that two
// concurrent dispatches can never push consumption past the limit.
package quota

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/searchgate/searchgate/pkg/models"
)

// ErrQuotaExceeded is returned when recording units would cross the limit.
var ErrQuotaExceeded = errors.New("quota exceeded")

// ErrUnknownBackend is returned for backends never registered with the tracker.
var ErrUnknownBackend = errors.New("backend not tracked")

// window is the mutable usage period for one backend. Each window carries
// its own mutex so unrelated backends never contend.
type window struct {
	mu sync.Mutex

	start    time.Time
	end      time.Time
	consumed int64
	limit    int64
	length   time.Duration

	// Pending tier change, applied at the next rollover.
	nextLimit  int64
	nextLength time.Duration
	tierChange bool
}

// Tracker maintains one rolling usage window per backend.
type Tracker struct {
	mu      sync.RWMutex // guards the windows map itself
	windows map[string]*window

	now func() time.Time
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithNow overrides the tracker's clock. Tests use this to drive window
// rollover deterministically.
func WithNow(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

// NewTracker creates an empty tracker.
func NewTracker(opts ...Option) *Tracker {
	t := &Tracker{
		windows: make(map[string]*window),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Register opens the first quota window for a backend under the given tier.
// Registering an already-tracked backend is an error; tier changes go
// through SetTier instead.
func (t *Tracker) Register(backendID string, tier models.QuotaTier) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.windows[backendID]; exists {
		return fmt.Errorf("quota: backend %s already tracked", backendID)
	}

	start := t.now()
	t.windows[backendID] = &window{
		start:  start,
		end:    start.Add(tier.Window),
		limit:  tier.Limit,
		length: tier.Window,
	}
	return nil
}

// SetTier stages a tier change for a backend. The new limit and window
// length take effect at the next rollover, never mid-window.
func (t *Tracker) SetTier(backendID string, tier models.QuotaTier) error {
	w, err := t.window(backendID)
	if err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	w.nextLimit = tier.Limit
	w.nextLength = tier.Window
	w.tierChange = true

	log.Info().
		Str("backend", backendID).
		Str("tier", tier.Name).
		Int64("limit", tier.Limit).
		Dur("window", tier.Window).
		Msg("Quota tier staged for next rollover")
	return nil
}

// CheckAdmissible reports whether the backend has quota headroom in its
// current window. Rolls the window over lazily if it has expired.
func (t *Tracker) CheckAdmissible(backendID string) (bool, error) {
	w, err := t.window(backendID)
	if err != nil {
		return false, err
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	t.rolloverLocked(w)

	return w.consumed < w.limit, nil
}

// Record consumes units against the backend's current window. Fails with
// ErrQuotaExceeded if the increment would cross the limit; consumption is
// never corrected post-hoc.
func (t *Tracker) Record(backendID string, units int64) error {
	if units < 0 {
		return fmt.Errorf("quota: negative units %d", units)
	}

	w, err := t.window(backendID)
	if err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	t.rolloverLocked(w)

	if w.consumed+units > w.limit {
		return fmt.Errorf("%w: backend %s at %d/%d, refusing %d more units",
			ErrQuotaExceeded, backendID, w.consumed, w.limit, units)
	}
	w.consumed += units
	return nil
}

// Snapshot returns the current window of every tracked backend, sorted by
// backend ID. Windows are rolled over before reading so the snapshot never
// shows an expired period.
func (t *Tracker) Snapshot() []models.QuotaWindow {
	t.mu.RLock()
	ids := make([]string, 0, len(t.windows))
	for id := range t.windows {
		ids = append(ids, id)
	}
	t.mu.RUnlock()
	sort.Strings(ids)

	out := make([]models.QuotaWindow, 0, len(ids))
	for _, id := range ids {
		w, err := t.window(id)
		if err != nil {
			continue
		}
		w.mu.Lock()
		t.rolloverLocked(w)
		out = append(out, models.QuotaWindow{
			BackendID:   id,
			WindowStart: w.start,
			WindowEnd:   w.end,
			Consumed:    w.consumed,
			Limit:       w.limit,
		})
		w.mu.Unlock()
	}
	return out
}

func (t *Tracker) window(backendID string) (*window, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	w, ok := t.windows[backendID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownBackend, backendID)
	}
	return w, nil
}

// rolloverLocked resets an expired window and applies any staged tier
// change. Caller must hold w.mu. Skips forward in whole window lengths so
// the schedule stays aligned after idle periods.
func (t *Tracker) rolloverLocked(w *window) {
	now := t.now()
	if now.Before(w.end) {
		return
	}

	if w.tierChange {
		w.limit = w.nextLimit
		w.length = w.nextLength
		w.tierChange = false
	}

	skipped := int64(now.Sub(w.end) / w.length)
	w.start = w.end.Add(w.length * time.Duration(skipped))
	w.end = w.start.Add(w.length)
	w.consumed = 0
}
