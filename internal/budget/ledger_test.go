package budget_test

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/searchgate/searchgate/internal/budget"
	"github.com/searchgate/searchgate/pkg/models"
)

func newTestLedger(t *testing.T) *budget.Ledger {
	t.Helper()
	return budget.NewLedger(map[models.PhaseID]int64{
		models.PhasePlan:  100,
		models.PhaseBuild: 500,
	})
}

func entry(phase models.PhaseID, tokens int64) models.LedgerEntry {
	return models.LedgerEntry{
		ID:        uuid.New().String(),
		Phase:     phase,
		Timestamp: time.Now().UTC(),
		Tokens:    tokens,
		Backend:   "grep-local",
		Outcome:   models.OutcomeSuccess,
	}
}

func TestRecordAccumulates(t *testing.T) {
	l := newTestLedger(t)

	for _, tokens := range []int64{10, 20, 30} {
		if err := l.Record(models.PhaseBuild, entry(models.PhaseBuild, tokens)); err != nil {
			t.Fatalf("Record() error = %v", err)
		}
	}

	remaining, err := l.Remaining(models.PhaseBuild)
	if err != nil {
		t.Fatalf("Remaining() error = %v", err)
	}
	if remaining != 440 {
		t.Errorf("Remaining() = %d, want 440", remaining)
	}

	entries, err := l.Entries(models.PhaseBuild)
	if err != nil {
		t.Fatalf("Entries() error = %v", err)
	}
	if len(entries) != 3 {
		t.Errorf("Entries() returned %d entries, want 3", len(entries))
	}
}

func TestRemainingFlooredAtZero(t *testing.T) {
	l := newTestLedger(t)

	if err := l.Record(models.PhasePlan, entry(models.PhasePlan, 150)); err != nil {
		t.Fatalf("Record() error = %v", err)
	}

	remaining, _ := l.Remaining(models.PhasePlan)
	if remaining != 0 {
		t.Errorf("Remaining() = %d, want 0 (never negative)", remaining)
	}

	over, _ := l.IsOverBudget(models.PhasePlan)
	if !over {
		t.Error("IsOverBudget() = false, want true after overrun")
	}
}

func TestExactCeilingIsNotOverBudget(t *testing.T) {
	l := newTestLedger(t)

	l.Record(models.PhasePlan, entry(models.PhasePlan, 100))

	over, _ := l.IsOverBudget(models.PhasePlan)
	if over {
		t.Error("IsOverBudget() = true at exactly the ceiling, want false")
	}
	remaining, _ := l.Remaining(models.PhasePlan)
	if remaining != 0 {
		t.Errorf("Remaining() = %d, want 0", remaining)
	}
}

func TestRecord_PhaseMismatch(t *testing.T) {
	l := newTestLedger(t)

	err := l.Record(models.PhaseBuild, entry(models.PhasePlan, 10))
	if err == nil {
		t.Fatal("Record() with mismatched phase should fail")
	}
}

func TestUnknownPhase(t *testing.T) {
	l := newTestLedger(t)

	_, err := l.Remaining(models.PhaseReview)
	if !errors.Is(err, budget.ErrUnknownPhase) {
		t.Errorf("Remaining() error = %v, want ErrUnknownPhase", err)
	}
}

// TestAppendOnly verifies the ledger property: after N dispatches the
// ledger holds exactly N entries and cumulative equals their token sum.
func TestAppendOnly(t *testing.T) {
	l := newTestLedger(t)

	const n = 50
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(tokens int64) {
			defer wg.Done()
			if err := l.Record(models.PhaseBuild, entry(models.PhaseBuild, tokens)); err != nil {
				t.Errorf("Record() error = %v", err)
			}
		}(int64(i))
	}
	wg.Wait()

	entries, err := l.Entries(models.PhaseBuild)
	if err != nil {
		t.Fatalf("Entries() error = %v", err)
	}
	if len(entries) != n {
		t.Fatalf("Entries() returned %d entries, want %d", len(entries), n)
	}

	var sum int64
	for _, e := range entries {
		sum += e.Tokens
	}

	var cumulative int64
	for _, s := range l.Summary() {
		if s.Phase == models.PhaseBuild {
			cumulative = s.Cumulative
		}
	}
	if cumulative != sum {
		t.Errorf("cumulative = %d, want sum of entry tokens %d", cumulative, sum)
	}
}

func TestSummaryOrdering(t *testing.T) {
	l := newTestLedger(t)

	summary := l.Summary()
	if len(summary) != 2 {
		t.Fatalf("Summary() returned %d phases, want 2", len(summary))
	}
	want := []models.PhaseID{models.PhaseBuild, models.PhasePlan}
	for i, s := range summary {
		if s.Phase != want[i] {
			t.Errorf("Summary()[%d].Phase = %s, want %s", i, s.Phase, want[i])
		}
	}
}
