package sessions_test

import (
	"context"
	"testing"

	"github.com/searchgate/searchgate/internal/sessions"
	"github.com/searchgate/searchgate/pkg/models"
)

func TestCreateAndGet(t *testing.T) {
	s := sessions.NewStore()
	ctx := context.Background()

	sess, err := s.Create(ctx, models.PhasePlan)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if sess.ID == "" {
		t.Fatal("Create() should assign an ID")
	}
	if sess.Phase != models.PhasePlan {
		t.Errorf("Create().Phase = %s, want plan", sess.Phase)
	}

	got, err := s.Get(ctx, sess.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.ID != sess.ID {
		t.Errorf("Get().ID = %q, want %q", got.ID, sess.ID)
	}
}

func TestGet_NotFound(t *testing.T) {
	s := sessions.NewStore()
	if _, err := s.Get(context.Background(), "missing"); err == nil {
		t.Error("Get() for unknown ID should fail")
	}
}

func TestUpdate(t *testing.T) {
	s := sessions.NewStore()
	ctx := context.Background()

	sess, _ := s.Create(ctx, models.PhasePlan)
	sess.Phase = models.PhaseBuild
	if err := s.Update(ctx, sess); err != nil {
		t.Fatalf("Update() error = %v", err)
	}

	got, _ := s.Get(ctx, sess.ID)
	if got.Phase != models.PhaseBuild {
		t.Errorf("after Update, Phase = %s, want build", got.Phase)
	}
	if !got.UpdatedAt.After(got.CreatedAt) && !got.UpdatedAt.Equal(got.CreatedAt) {
		t.Error("UpdatedAt should be stamped on update")
	}
}

func TestDelete(t *testing.T) {
	s := sessions.NewStore()
	ctx := context.Background()

	sess, _ := s.Create(ctx, models.PhasePlan)
	if err := s.Delete(ctx, sess.ID); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := s.Get(ctx, sess.ID); err == nil {
		t.Error("Get() after Delete should fail")
	}
	if err := s.Delete(ctx, sess.ID); err == nil {
		t.Error("Delete() twice should fail")
	}
}

func TestList(t *testing.T) {
	s := sessions.NewStore()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		s.Create(ctx, models.PhasePlan)
	}

	all, err := s.List(ctx)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(all) != 3 {
		t.Errorf("List() returned %d sessions, want 3", len(all))
	}
}
