package phase_test

import (
	"errors"
	"testing"

	"github.com/searchgate/searchgate/internal/phase"
	"github.com/searchgate/searchgate/pkg/models"
)

func newTestGate(t *testing.T) *phase.Gate {
	t.Helper()
	return phase.NewGate(map[models.PhaseID]models.PhaseDefinition{
		models.PhasePlan: {
			ID:           models.PhasePlan,
			Capabilities: []string{models.CapabilityExact},
			TokenCeiling: 100,
		},
		models.PhaseBuild: {
			ID:           models.PhaseBuild,
			Capabilities: []string{models.CapabilityExact, models.CapabilitySemantic, models.CapabilityXref},
			TokenCeiling: 500,
		},
		models.PhaseReview: {
			ID:           models.PhaseReview,
			Capabilities: []string{models.CapabilityExact, models.CapabilityXref},
			TokenCeiling: 300,
		},
	})
}

func TestPermittedCapabilities(t *testing.T) {
	g := newTestGate(t)

	caps, err := g.PermittedCapabilities(models.PhasePlan)
	if err != nil {
		t.Fatalf("PermittedCapabilities() error = %v", err)
	}
	if len(caps) != 1 || caps[0] != models.CapabilityExact {
		t.Errorf("PermittedCapabilities(plan) = %v, want [exact]", caps)
	}

	_, err = g.PermittedCapabilities("deploy")
	if !errors.Is(err, phase.ErrUnknownPhase) {
		t.Errorf("PermittedCapabilities(deploy) error = %v, want ErrUnknownPhase", err)
	}
}

func TestTransition_AllowedEdges(t *testing.T) {
	tests := []struct {
		from, to models.PhaseID
		ok       bool
	}{
		{models.PhasePlan, models.PhaseBuild, true},
		{models.PhaseBuild, models.PhaseReview, true},
		{models.PhaseBuild, models.PhasePlan, true},
		{models.PhaseReview, models.PhasePlan, true},
		{models.PhasePlan, models.PhaseReview, false},
		{models.PhaseReview, models.PhaseBuild, false},
		{models.PhasePlan, models.PhasePlan, false},
	}

	g := newTestGate(t)
	for _, tt := range tests {
		if got := g.CanTransition(tt.from, tt.to); got != tt.ok {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.ok)
		}
	}
}

func TestTransition_MutatesSession(t *testing.T) {
	g := newTestGate(t)
	sess := &models.Session{ID: "s1", Phase: models.PhasePlan}

	if err := g.Transition(sess, models.PhaseBuild); err != nil {
		t.Fatalf("Transition() error = %v", err)
	}
	if sess.Phase != models.PhaseBuild {
		t.Errorf("session.Phase = %s, want build", sess.Phase)
	}
	if sess.UpdatedAt.IsZero() {
		t.Error("session.UpdatedAt should be stamped on transition")
	}
}

func TestTransition_RejectedKeepsPriorPhase(t *testing.T) {
	g := newTestGate(t)
	sess := &models.Session{ID: "s1", Phase: models.PhasePlan}

	err := g.Transition(sess, models.PhaseReview)
	if !errors.Is(err, phase.ErrInvalidTransition) {
		t.Fatalf("Transition() error = %v, want ErrInvalidTransition", err)
	}
	if sess.Phase != models.PhasePlan {
		t.Errorf("session.Phase = %s, want plan (unchanged after rejection)", sess.Phase)
	}
}

func TestTransition_UnknownTarget(t *testing.T) {
	g := newTestGate(t)
	sess := &models.Session{ID: "s1", Phase: models.PhaseBuild}

	err := g.Transition(sess, "ship")
	if !errors.Is(err, phase.ErrUnknownPhase) {
		t.Errorf("Transition() error = %v, want ErrUnknownPhase", err)
	}
}
