// Package budget accumulates token consumption per development phase
// against configured ceilings. Entries are append-only; the ledger is the
// audit trail for fallback frequency as well as the budget position.
package budget

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/searchgate/searchgate/pkg/models"
)

// ErrUnknownPhase is returned for phases never registered with the ledger.
var ErrUnknownPhase = errors.New("phase not tracked")

// book holds one phase's ceiling, cumulative counter and entry log.
// Each book carries its own mutex so phases never contend with each other.
type book struct {
	mu sync.Mutex

	ceiling    int64
	cumulative int64
	entries    []models.LedgerEntry
}

// Ledger tracks token budgets for all phases of a session.
type Ledger struct {
	mu    sync.RWMutex // guards the books map itself
	books map[models.PhaseID]*book
}

// NewLedger creates a ledger with the given per-phase token ceilings.
func NewLedger(ceilings map[models.PhaseID]int64) *Ledger {
	books := make(map[models.PhaseID]*book, len(ceilings))
	for id, ceiling := range ceilings {
		books[id] = &book{ceiling: ceiling}
	}
	return &Ledger{books: books}
}

// Record appends an entry and bumps the phase's cumulative counter.
// The phase named on the entry must match phaseID.
func (l *Ledger) Record(phaseID models.PhaseID, entry models.LedgerEntry) error {
	if entry.Phase != phaseID {
		return fmt.Errorf("budget: entry phase %q does not match %q", entry.Phase, phaseID)
	}
	if entry.Tokens < 0 {
		return fmt.Errorf("budget: negative token count %d", entry.Tokens)
	}

	b, err := l.book(phaseID)
	if err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.entries = append(b.entries, entry)
	b.cumulative += entry.Tokens
	return nil
}

// Remaining returns ceiling minus cumulative, floored at zero.
func (l *Ledger) Remaining(phaseID models.PhaseID) (int64, error) {
	b, err := l.book(phaseID)
	if err != nil {
		return 0, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	remaining := b.ceiling - b.cumulative
	if remaining < 0 {
		remaining = 0
	}
	return remaining, nil
}

// IsOverBudget reports whether cumulative consumption has crossed the
// phase ceiling. Overrun is a signal, not a hard stop, unless the block
// policy is configured at the arbiter.
func (l *Ledger) IsOverBudget(phaseID models.PhaseID) (bool, error) {
	b, err := l.book(phaseID)
	if err != nil {
		return false, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cumulative > b.ceiling, nil
}

// Entries returns a copy of the phase's entry log, oldest first.
func (l *Ledger) Entries(phaseID models.PhaseID) ([]models.LedgerEntry, error) {
	b, err := l.book(phaseID)
	if err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]models.LedgerEntry, len(b.entries))
	copy(out, b.entries)
	return out, nil
}

// Summary reports the budget position of every phase, sorted by phase ID.
func (l *Ledger) Summary() []models.BudgetSummary {
	l.mu.RLock()
	ids := make([]models.PhaseID, 0, len(l.books))
	for id := range l.books {
		ids = append(ids, id)
	}
	l.mu.RUnlock()
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	out := make([]models.BudgetSummary, 0, len(ids))
	for _, id := range ids {
		b, err := l.book(id)
		if err != nil {
			continue
		}
		b.mu.Lock()
		remaining := b.ceiling - b.cumulative
		if remaining < 0 {
			remaining = 0
		}
		out = append(out, models.BudgetSummary{
			Phase:      id,
			Ceiling:    b.ceiling,
			Cumulative: b.cumulative,
			Remaining:  remaining,
			OverBudget: b.cumulative > b.ceiling,
			Entries:    len(b.entries),
		})
		b.mu.Unlock()
	}
	return out
}

func (l *Ledger) book(phaseID models.PhaseID) (*book, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	b, ok := l.books[phaseID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPhase, phaseID)
	}
	return b, nil
}
