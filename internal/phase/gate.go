// Package phase maps the session's current workflow stage to the set of
// capabilities it may use, and validates explicit phase transitions.
// Transitions are never inferred from query content.
package phase

import (
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/searchgate/searchgate/pkg/models"
)

// ErrInvalidTransition is returned for a phase change outside the allowed
// edges. The session keeps its prior phase.
var ErrInvalidTransition = errors.New("invalid phase transition")

// ErrUnknownPhase is returned for a phase with no configured definition.
var ErrUnknownPhase = errors.New("unknown phase")

// The workflow is a straight line with the ability to re-enter plan:
// plan → build → review, build → plan, review → plan.
var allowedEdges = map[models.PhaseID][]models.PhaseID{
	models.PhasePlan:   {models.PhaseBuild},
	models.PhaseBuild:  {models.PhaseReview, models.PhasePlan},
	models.PhaseReview: {models.PhasePlan},
}

// Gate holds the configured phase definitions. The mapping is static for
// the lifetime of a session; it is built once from configuration.
type Gate struct {
	defs map[models.PhaseID]models.PhaseDefinition
}

// NewGate creates a gate from configured phase definitions.
func NewGate(defs map[models.PhaseID]models.PhaseDefinition) *Gate {
	cp := make(map[models.PhaseID]models.PhaseDefinition, len(defs))
	for id, def := range defs {
		cp[id] = def
	}
	return &Gate{defs: cp}
}

// PermittedCapabilities returns the capability tags the given phase may use.
func (g *Gate) PermittedCapabilities(phaseID models.PhaseID) ([]string, error) {
	def, ok := g.defs[phaseID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPhase, phaseID)
	}
	out := make([]string, len(def.Capabilities))
	copy(out, def.Capabilities)
	return out, nil
}

// Definition returns the full configured definition of a phase.
func (g *Gate) Definition(phaseID models.PhaseID) (models.PhaseDefinition, error) {
	def, ok := g.defs[phaseID]
	if !ok {
		return models.PhaseDefinition{}, fmt.Errorf("%w: %s", ErrUnknownPhase, phaseID)
	}
	return def, nil
}

// CanTransition reports whether from → to is an allowed edge.
func (g *Gate) CanTransition(from, to models.PhaseID) bool {
	for _, next := range allowedEdges[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Transition moves the session to a new phase if the edge is allowed.
// On rejection the session is left untouched.
func (g *Gate) Transition(session *models.Session, to models.PhaseID) error {
	if _, ok := g.defs[to]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownPhase, to)
	}
	if !g.CanTransition(session.Phase, to) {
		return fmt.Errorf("%w: %s → %s", ErrInvalidTransition, session.Phase, to)
	}

	log.Info().
		Str("session", session.ID).
		Str("from", string(session.Phase)).
		Str("to", string(to)).
		Msg("Phase transition")

	session.Phase = to
	session.UpdatedAt = time.Now().UTC()
	return nil
}
