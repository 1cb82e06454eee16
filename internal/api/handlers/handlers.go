// Package handlers implements the HTTP handlers for the searchgate API.
// All state lives in the in-memory stores held by Handlers; there is no
// persistence layer.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/searchgate/searchgate/internal/arbiter"
	"github.com/searchgate/searchgate/internal/budget"
	"github.com/searchgate/searchgate/internal/dispatch"
	"github.com/searchgate/searchgate/internal/phase"
	"github.com/searchgate/searchgate/internal/quota"
	"github.com/searchgate/searchgate/internal/registry"
	"github.com/searchgate/searchgate/internal/sessions"
	"github.com/searchgate/searchgate/pkg/models"
)

// Handlers holds all handler dependencies.
type Handlers struct {
	Sessions *sessions.Store
	Arbiter  *arbiter.Arbiter
	Registry *registry.Registry
	Quota    *quota.Tracker
	Ledger   *budget.Ledger
	Gate     *phase.Gate
	Drivers  *dispatch.Drivers
	// Tiers maps tier names to their quota definitions, for backends
	// registered at runtime.
	Tiers map[string]models.QuotaTier
}

// New creates a new Handlers instance with all dependencies.
func New(sess *sessions.Store, arb *arbiter.Arbiter, reg *registry.Registry, qt *quota.Tracker, bl *budget.Ledger, pg *phase.Gate, dr *dispatch.Drivers, tiers map[string]models.QuotaTier) *Handlers {
	return &Handlers{
		Sessions: sess,
		Arbiter:  arb,
		Registry: reg,
		Quota:    qt,
		Ledger:   bl,
		Gate:     pg,
		Drivers:  dr,
		Tiers:    tiers,
	}
}

// Health reports service liveness plus the last observed health of every
// registered backend. Backend statuses come from the periodic sweep and
// dispatch outcomes, so this never blocks on the backends themselves.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	backends := map[string]models.HealthStatus{}
	status := "healthy"
	for _, b := range h.Registry.List("") {
		backends[b.ID] = b.Health
		if b.Health == models.HealthUnavailable {
			status = "degraded"
		}
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":   status,
		"service":  "searchgate",
		"backends": backends,
	})
}

// ══════════════════════════════════════════════════════════════
// ── Session Handlers ─────────────────────────────────────────
// ══════════════════════════════════════════════════════════════

func (h *Handlers) CreateSession(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Phase models.PhaseID `json:"phase"`
	}
	// Body is optional; sessions start in the plan phase by default.
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && err.Error() != "EOF" {
		respondError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if req.Phase == "" {
		req.Phase = models.PhasePlan
	}
	if _, err := h.Gate.Definition(req.Phase); err != nil {
		respondError(w, http.StatusBadRequest, "Unknown phase: "+string(req.Phase))
		return
	}

	session, err := h.Sessions.Create(r.Context(), req.Phase)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	log.Info().Str("session", session.ID).Str("phase", string(session.Phase)).Msg("Session created")
	respondJSON(w, http.StatusCreated, session)
}

func (h *Handlers) ListSessions(w http.ResponseWriter, r *http.Request) {
	list, err := h.Sessions.List(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if list == nil {
		list = []models.Session{}
	}
	respondJSON(w, http.StatusOK, list)
}

func (h *Handlers) GetSession(w http.ResponseWriter, r *http.Request) {
	session, ok := h.session(w, r)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, session)
}

func (h *Handlers) DeleteSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionId")
	if err := h.Sessions.Delete(r.Context(), sessionID); err != nil {
		if errors.Is(err, sessions.ErrSessionNotFound) {
			respondError(w, http.StatusNotFound, err.Error())
		} else {
			respondError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}

	log.Info().Str("session", sessionID).Msg("Session ended")
	respondJSON(w, http.StatusOK, map[string]string{"status": "deleted", "session": sessionID})
}

// TransitionPhase moves a session to a new workflow phase.
// POST /api/v1/sessions/{sessionId}/phase
func (h *Handlers) TransitionPhase(w http.ResponseWriter, r *http.Request) {
	session, ok := h.session(w, r)
	if !ok {
		return
	}

	var req struct {
		Phase models.PhaseID `json:"phase"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Phase == "" {
		respondError(w, http.StatusBadRequest, "Request must include a non-empty 'phase' field")
		return
	}

	from := session.Phase
	if err := h.Gate.Transition(session, req.Phase); err != nil {
		switch {
		case errors.Is(err, phase.ErrUnknownPhase):
			respondError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, phase.ErrInvalidTransition):
			respondError(w, http.StatusConflict, err.Error())
		default:
			respondError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}

	if err := h.Sessions.Update(r.Context(), session); err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	log.Info().
		Str("session", session.ID).
		Str("from", string(from)).
		Str("to", string(req.Phase)).
		Msg("Phase transition")
	respondJSON(w, http.StatusOK, session)
}

// ══════════════════════════════════════════════════════════════
// ── Query Handlers ───────────────────────────────────────────
// ══════════════════════════════════════════════════════════════

// SubmitQuery classifies and dispatches one search query for a session.
// POST /api/v1/sessions/{sessionId}/queries
func (h *Handlers) SubmitQuery(w http.ResponseWriter, r *http.Request) {
	session, ok := h.session(w, r)
	if !ok {
		return
	}

	var req models.SearchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Text == "" {
		respondError(w, http.StatusBadRequest, "Request must include a non-empty 'text' field")
		return
	}

	result, err := h.Arbiter.Arbitrate(r.Context(), session, &req)
	if err != nil {
		switch {
		case errors.Is(err, arbiter.ErrBudgetExhausted):
			respondError(w, http.StatusTooManyRequests, err.Error())
		case errors.Is(err, arbiter.ErrNoAdmissibleBackend):
			respondError(w, http.StatusBadGateway, err.Error())
		default:
			respondError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}

	respondJSON(w, http.StatusOK, result)
}

// ══════════════════════════════════════════════════════════════
// ── Backend Handlers ─────────────────────────────────────────
// ══════════════════════════════════════════════════════════════

func (h *Handlers) ListBackends(w http.ResponseWriter, r *http.Request) {
	capability := r.URL.Query().Get("capability")
	backends := h.Registry.List(capability)
	if backends == nil {
		backends = []models.Backend{}
	}
	respondJSON(w, http.StatusOK, backends)
}

func (h *Handlers) RegisterBackend(w http.ResponseWriter, r *http.Request) {
	var req models.Backend
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.ID == "" || req.Kind == "" || len(req.Capabilities) == 0 {
		respondError(w, http.StatusBadRequest, "Backend must include 'id', 'kind' and 'capabilities'")
		return
	}
	if h.Drivers.Get(req.Kind) == nil {
		respondError(w, http.StatusBadRequest, "Unknown backend kind: "+req.Kind)
		return
	}
	tier, ok := h.Tiers[req.Tier]
	if !ok {
		respondError(w, http.StatusBadRequest, "Unknown quota tier: "+req.Tier)
		return
	}

	if err := h.Registry.Register(&req); err != nil {
		if errors.Is(err, registry.ErrDuplicateBackend) {
			respondError(w, http.StatusConflict, err.Error())
		} else {
			respondError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}
	if err := h.Quota.Register(req.ID, tier); err != nil {
		log.Warn().Err(err).Str("backend", req.ID).Msg("Quota tracking not started for backend")
	}

	log.Info().Str("backend", req.ID).Str("kind", req.Kind).Msg("Backend registered")
	respondJSON(w, http.StatusCreated, req)
}

func (h *Handlers) GetBackend(w http.ResponseWriter, r *http.Request) {
	backendID := chi.URLParam(r, "backendId")
	backend, err := h.Registry.Get(backendID)
	if err != nil {
		respondError(w, http.StatusNotFound, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, backend)
}

// GetBackendQuota returns the current quota window for one backend.
// GET /api/v1/backends/{backendId}/quota
func (h *Handlers) GetBackendQuota(w http.ResponseWriter, r *http.Request) {
	backendID := chi.URLParam(r, "backendId")
	if _, err := h.Registry.Get(backendID); err != nil {
		respondError(w, http.StatusNotFound, err.Error())
		return
	}

	for _, win := range h.Quota.Snapshot() {
		if win.BackendID == backendID {
			respondJSON(w, http.StatusOK, win)
			return
		}
	}
	respondError(w, http.StatusNotFound, "no quota window for backend "+backendID)
}

// SetBackendTier changes a backend's quota tier. The new limit takes
// effect at the next window rollover, never mid-window.
// PUT /api/v1/backends/{backendId}/tier
func (h *Handlers) SetBackendTier(w http.ResponseWriter, r *http.Request) {
	backendID := chi.URLParam(r, "backendId")
	if _, err := h.Registry.Get(backendID); err != nil {
		respondError(w, http.StatusNotFound, err.Error())
		return
	}

	var req models.QuotaTier
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Limit <= 0 || req.Window <= 0 {
		respondError(w, http.StatusBadRequest, "Tier must include a positive 'limit' and 'window'")
		return
	}

	if err := h.Quota.SetTier(backendID, req); err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	log.Info().
		Str("backend", backendID).
		Str("tier", req.Name).
		Int64("limit", req.Limit).
		Msg("Tier change staged for next rollover")
	respondJSON(w, http.StatusOK, map[string]string{
		"backend": backendID,
		"tier":    req.Name,
		"status":  "staged",
	})
}

// ══════════════════════════════════════════════════════════════
// ── Budget Handlers ──────────────────────────────────────────
// ══════════════════════════════════════════════════════════════

// GetBudget returns per-phase budget standing for a session's workflow.
// GET /api/v1/sessions/{sessionId}/budget
func (h *Handlers) GetBudget(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.session(w, r); !ok {
		return
	}
	respondJSON(w, http.StatusOK, h.Ledger.Summary())
}

// GetLedger returns recorded ledger entries for audit. Defaults to the
// session's current phase; override with ?phase=.
// GET /api/v1/sessions/{sessionId}/ledger
func (h *Handlers) GetLedger(w http.ResponseWriter, r *http.Request) {
	session, ok := h.session(w, r)
	if !ok {
		return
	}

	phaseID := session.Phase
	if p := r.URL.Query().Get("phase"); p != "" {
		phaseID = models.PhaseID(p)
	}
	limit := 100
	if l := r.URL.Query().Get("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n > 0 {
			limit = n
		}
	}

	entries, err := h.Ledger.Entries(phaseID)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(entries) > limit {
		entries = entries[len(entries)-limit:]
	}
	if entries == nil {
		entries = []models.LedgerEntry{}
	}
	respondJSON(w, http.StatusOK, entries)
}

// ── Helpers ──────────────────────────────────────────────────

// session loads the session named in the URL, writing the error response
// itself when the lookup fails.
func (h *Handlers) session(w http.ResponseWriter, r *http.Request) (*models.Session, bool) {
	sessionID := chi.URLParam(r, "sessionId")
	session, err := h.Sessions.Get(r.Context(), sessionID)
	if err != nil {
		if errors.Is(err, sessions.ErrSessionNotFound) {
			respondError(w, http.StatusNotFound, err.Error())
		} else {
			respondError(w, http.StatusInternalServerError, err.Error())
		}
		return nil, false
	}
	return session, true
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
