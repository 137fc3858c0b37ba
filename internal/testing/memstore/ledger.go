package memstore

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-backoffice/internal/accounting"
	"github.com/odyssey-erp/odyssey-backoffice/internal/sequence"
	"github.com/odyssey-erp/odyssey-backoffice/internal/shared"
)

// LockSequence is a no-op: the store mutex already serialises units of work.
func (tx *Tx) LockSequence(context.Context, sequence.Scope, string) error {
	return nil
}

func (tx *Tx) MaxCodeSuffix(_ context.Context, scope sequence.Scope, prefix string) (int64, error) {
	var codes []string
	switch scope {
	case sequence.ScopeJournalEntry:
		for _, e := range tx.st.journals {
			codes = append(codes, e.Code)
		}
	case sequence.ScopeProductTransfer:
		for _, t := range tx.st.transfers {
			codes = append(codes, t.ReferenceNo)
		}
	case sequence.ScopeRequisition:
		for _, r := range tx.st.requisitions {
			codes = append(codes, r.Code)
		}
	default:
		return 0, fmt.Errorf("memstore: no table for scope %q", scope)
	}
	return sequence.MaxSuffix(codes, prefix), nil
}

func (tx *Tx) GetPeriod(_ context.Context, periodID int64) (accounting.Period, error) {
	p, ok := tx.st.periods[periodID]
	if !ok {
		return accounting.Period{}, notFound("period", periodID)
	}
	return p, nil
}

func (tx *Tx) GetPeriodForShare(ctx context.Context, periodID int64) (accounting.Period, error) {
	return tx.GetPeriod(ctx, periodID)
}

func (tx *Tx) GetPeriodForUpdate(ctx context.Context, periodID int64) (accounting.Period, error) {
	return tx.GetPeriod(ctx, periodID)
}

func (tx *Tx) SetPeriodClosed(_ context.Context, periodID int64, closed bool, actorID int64, at time.Time) error {
	p, ok := tx.st.periods[periodID]
	if !ok {
		return notFound("period", periodID)
	}
	p.IsClosed = closed
	p.ClosedAt, p.ClosedBy = nil, nil
	if closed {
		p.ClosedAt = &at
		if actorID != 0 {
			p.ClosedBy = &actorID
		}
	}
	tx.st.periods[periodID] = p
	return nil
}

func (tx *Tx) GetAccount(_ context.Context, accountID int64) (accounting.Account, error) {
	a, ok := tx.st.accounts[accountID]
	if !ok {
		return accounting.Account{}, notFound("account", accountID)
	}
	return a, nil
}

func (tx *Tx) SumAccountLines(_ context.Context, accountID int64) (decimal.Decimal, decimal.Decimal, error) {
	debit, credit := decimal.Zero, decimal.Zero
	for _, l := range tx.st.lines {
		if l.AccountID == accountID {
			debit = debit.Add(l.Debit)
			credit = credit.Add(l.Credit)
		}
	}
	return debit, credit, nil
}

func (tx *Tx) InsertJournalEntry(_ context.Context, entry accounting.JournalEntry) (accounting.JournalEntry, error) {
	for _, existing := range tx.st.journals {
		if existing.Code == entry.Code {
			return accounting.JournalEntry{}, fmt.Errorf("memstore: journal code %s: %w", entry.Code, shared.ErrConflict)
		}
	}
	entry.ID = tx.st.id()
	entry.CreatedAt = tx.now()
	entry.UpdatedAt = entry.CreatedAt
	entry.Lines = nil
	tx.st.journals[entry.ID] = entry
	return entry, nil
}

func (tx *Tx) InsertJournalLines(_ context.Context, entryID int64, lines []accounting.LineInput) ([]accounting.JournalLine, error) {
	if _, ok := tx.st.journals[entryID]; !ok {
		return nil, notFound("journal entry", entryID)
	}
	out := make([]accounting.JournalLine, 0, len(lines))
	for _, in := range lines {
		if _, ok := tx.st.accounts[in.AccountID]; !ok {
			return nil, fmt.Errorf("memstore: journal line account %d violates foreign key", in.AccountID)
		}
		line := accounting.JournalLine{
			ID:             tx.st.id(),
			JournalEntryID: entryID,
			AccountID:      in.AccountID,
			Debit:          in.Debit,
			Credit:         in.Credit,
		}
		tx.st.lines = append(tx.st.lines, line)
		out = append(out, line)
	}
	return out, nil
}

func (tx *Tx) GetJournal(ctx context.Context, entryID int64) (accounting.JournalEntry, error) {
	entry, err := tx.GetJournalForUpdate(ctx, entryID)
	if err != nil {
		return accounting.JournalEntry{}, err
	}
	entry.Lines, _ = tx.ListJournalLines(ctx, entryID)
	return entry, nil
}

func (tx *Tx) GetJournalForUpdate(_ context.Context, entryID int64) (accounting.JournalEntry, error) {
	entry, ok := tx.st.journals[entryID]
	if !ok {
		return accounting.JournalEntry{}, notFound("journal entry", entryID)
	}
	return entry, nil
}

func (tx *Tx) ListJournalLines(_ context.Context, entryID int64) ([]accounting.JournalLine, error) {
	out := []accounting.JournalLine{}
	for _, l := range tx.st.lines {
		if l.JournalEntryID == entryID {
			out = append(out, l)
		}
	}
	return out, nil
}

func (tx *Tx) UpdateJournalHeader(_ context.Context, entry accounting.JournalEntry) (accounting.JournalEntry, error) {
	current, ok := tx.st.journals[entry.ID]
	if !ok {
		return accounting.JournalEntry{}, notFound("journal entry", entry.ID)
	}
	entry.Code = current.Code
	entry.CreatedAt = current.CreatedAt
	entry.CreatedBy = current.CreatedBy
	entry.UpdatedAt = tx.now()
	entry.Lines = nil
	tx.st.journals[entry.ID] = entry
	return entry, nil
}

func (tx *Tx) DeleteJournalLines(_ context.Context, entryID int64) error {
	tx.st.lines = slices.DeleteFunc(tx.st.lines, func(l accounting.JournalLine) bool {
		return l.JournalEntryID == entryID
	})
	return nil
}

func (tx *Tx) DeleteJournalEntry(_ context.Context, entryID int64) error {
	if _, ok := tx.st.journals[entryID]; !ok {
		return notFound("journal entry", entryID)
	}
	for _, l := range tx.st.lines {
		if l.JournalEntryID == entryID {
			return fmt.Errorf("memstore: journal entry %d still has lines", entryID)
		}
	}
	delete(tx.st.journals, entryID)
	return nil
}

func (tx *Tx) ListJournals(ctx context.Context, filter accounting.JournalFilter) ([]accounting.JournalEntry, int, error) {
	var rows []accounting.JournalEntry
	for _, e := range tx.st.journals {
		if filter.BranchID > 0 && e.BranchID != filter.BranchID {
			continue
		}
		if filter.PeriodID > 0 && e.PeriodID != filter.PeriodID {
			continue
		}
		if filter.SourceModule != "" && e.SourceModule != filter.SourceModule {
			continue
		}
		rows = append(rows, e)
	}
	slices.SortFunc(rows, func(a, b accounting.JournalEntry) int {
		if c := b.EntryDate.Compare(a.EntryDate); c != 0 {
			return c
		}
		return cmp.Compare(b.ID, a.ID)
	})
	page := paginate(rows, filter.PageRequest)
	for i := range page {
		page[i].Lines, _ = tx.ListJournalLines(ctx, page[i].ID)
	}
	return page, len(rows), nil
}

func (tx *Tx) ListUnbalancedEntries(ctx context.Context) ([]accounting.UnbalancedEntry, error) {
	var out []accounting.UnbalancedEntry
	for _, e := range tx.st.journals {
		e.Lines, _ = tx.ListJournalLines(ctx, e.ID)
		debit, credit := e.Totals()
		if len(e.Lines) == 0 || !debit.Equal(credit) {
			out = append(out, accounting.UnbalancedEntry{EntryID: e.ID, Code: e.Code, TotalDebit: debit, TotalCredit: credit})
		}
	}
	slices.SortFunc(out, func(a, b accounting.UnbalancedEntry) int { return cmp.Compare(a.EntryID, b.EntryID) })
	return out, nil
}

// CorruptJournalLine overwrites the debit of one line, bypassing validation.
func (s *Store) CorruptJournalLine(lineID int64, debit decimal.Decimal) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.state.lines {
		if s.state.lines[i].ID == lineID {
			s.state.lines[i].Debit = debit
			return true
		}
	}
	return false
}
