package accounting

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/odyssey-erp/odyssey-backoffice/internal/platform/cache"
	"github.com/odyssey-erp/odyssey-backoffice/internal/sequence"
	"github.com/odyssey-erp/odyssey-backoffice/internal/shared"
)

// RepositoryPort abstracts transactional repository behaviour.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
}

// AuditPort records ledger events for compliance.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// CachePort is the read-through cache used for journal lookups.
type CachePort interface {
	FetchJSON(ctx context.Context, key string, dest any, loader func(context.Context) (any, error)) error
	Invalidate(ctx context.Context, keys ...string) error
}

// MetricsPort counts committed ledger mutations.
type MetricsPort interface {
	JournalPosted(action string)
}

// Service coordinates posting, updating and deleting journal entries and the
// period gate they depend on.
type Service struct {
	repo    RepositoryPort
	audit   AuditPort
	cache   CachePort
	metrics MetricsPort
	now     func() time.Time
}

// NewService constructs the ledger service.
func NewService(repo RepositoryPort, audit AuditPort) *Service {
	return &Service{repo: repo, audit: audit, now: time.Now}
}

// WithNow overrides the clock for testing.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// WithCache enables read-through caching of journal lookups.
func (s *Service) WithCache(c CachePort) {
	s.cache = c
}

// WithMetrics attaches a metrics sink.
func (s *Service) WithMetrics(m MetricsPort) {
	s.metrics = m
}

// PostJournal validates and persists a new journal entry with its lines.
func (s *Service) PostJournal(ctx context.Context, input PostingInput) (JournalEntry, error) {
	if input.CreatedBy == 0 {
		input.CreatedBy = shared.ActorFromContext(ctx)
	}
	if err := input.Validate(); err != nil {
		return JournalEntry{}, err
	}
	var entry JournalEntry
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		period, err := tx.GetPeriodForShare(ctx, input.PeriodID)
		if err != nil {
			return err
		}
		if err := ensurePostable(period, input.EntryDate); err != nil {
			return err
		}
		if err := ensureAccounts(ctx, tx, input.Lines); err != nil {
			return err
		}
		code, err := sequence.Next(ctx, tx, sequence.ScopeJournalEntry, JournalPrefix, sequence.DefaultPad)
		if err != nil {
			return err
		}
		inserted, err := tx.InsertJournalEntry(ctx, JournalEntry{
			BranchID:     input.BranchID,
			PeriodID:     input.PeriodID,
			Code:         code,
			EntryDate:    input.EntryDate,
			SourceModule: input.SourceModule,
			SourceID:     input.SourceID,
			Narration:    input.Narration,
			CreatedBy:    input.CreatedBy,
		})
		if err != nil {
			return err
		}
		inserted.Lines, err = tx.InsertJournalLines(ctx, inserted.ID, input.Lines)
		if err != nil {
			return err
		}
		entry = inserted
		return nil
	})
	if err != nil {
		return JournalEntry{}, err
	}
	s.observe("post")
	s.record(ctx, input.CreatedBy, "journal.post", entry, map[string]any{
		"code":          entry.Code,
		"period_id":     entry.PeriodID,
		"source_module": entry.SourceModule,
		"lines":         len(entry.Lines),
	})
	return entry, nil
}

// UpdateJournal applies a partial header update and, when lines are supplied,
// replaces every existing line in the same unit of work. Both the entry's current
// period and the target period must be open.
func (s *Service) UpdateJournal(ctx context.Context, entryID int64, input UpdateInput) (JournalEntry, error) {
	if entryID <= 0 {
		return JournalEntry{}, fmt.Errorf("accounting: %w: entry id required", shared.ErrValidation)
	}
	if input.ActorID == 0 {
		input.ActorID = shared.ActorFromContext(ctx)
	}
	if err := input.Validate(); err != nil {
		return JournalEntry{}, err
	}
	var entry JournalEntry
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, err := tx.GetJournalForUpdate(ctx, entryID)
		if err != nil {
			return err
		}
		period, err := tx.GetPeriodForShare(ctx, current.PeriodID)
		if err != nil {
			return err
		}
		if period.IsClosed {
			return fmt.Errorf("accounting: %w: entry %s belongs to period %s", shared.ErrPeriodClosed, current.Code, period.Code)
		}
		next := input.Apply(current)
		target := period
		if next.PeriodID != current.PeriodID {
			if target, err = tx.GetPeriodForShare(ctx, next.PeriodID); err != nil {
				return err
			}
		}
		if err := ensurePostable(target, next.EntryDate); err != nil {
			return err
		}
		updated, err := tx.UpdateJournalHeader(ctx, next)
		if err != nil {
			return err
		}
		if input.Lines != nil {
			if err := ensureAccounts(ctx, tx, input.Lines); err != nil {
				return err
			}
			if err := tx.DeleteJournalLines(ctx, entryID); err != nil {
				return err
			}
			updated.Lines, err = tx.InsertJournalLines(ctx, entryID, input.Lines)
		} else {
			updated.Lines, err = tx.ListJournalLines(ctx, entryID)
		}
		if err != nil {
			return err
		}
		entry = updated
		return nil
	})
	if err != nil {
		return JournalEntry{}, err
	}
	s.invalidate(ctx, entryID)
	s.observe("update")
	s.record(ctx, input.ActorID, "journal.update", entry, map[string]any{
		"code":           entry.Code,
		"lines_replaced": input.Lines != nil,
	})
	return entry, nil
}

// DeleteJournal removes the entry and its lines and returns what was deleted.
func (s *Service) DeleteJournal(ctx context.Context, entryID int64, actorID int64) (JournalEntry, error) {
	if entryID <= 0 {
		return JournalEntry{}, fmt.Errorf("accounting: %w: entry id required", shared.ErrValidation)
	}
	if actorID == 0 {
		actorID = shared.ActorFromContext(ctx)
	}
	var entry JournalEntry
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, err := tx.GetJournalForUpdate(ctx, entryID)
		if err != nil {
			return err
		}
		period, err := tx.GetPeriodForShare(ctx, current.PeriodID)
		if err != nil {
			return err
		}
		if period.IsClosed {
			return fmt.Errorf("accounting: %w: entry %s belongs to period %s", shared.ErrPeriodClosed, current.Code, period.Code)
		}
		if current.Lines, err = tx.ListJournalLines(ctx, entryID); err != nil {
			return err
		}
		if err := tx.DeleteJournalLines(ctx, entryID); err != nil {
			return err
		}
		if err := tx.DeleteJournalEntry(ctx, entryID); err != nil {
			return err
		}
		entry = current
		return nil
	})
	if err != nil {
		return JournalEntry{}, err
	}
	s.invalidate(ctx, entryID)
	s.observe("delete")
	s.record(ctx, actorID, "journal.delete", entry, map[string]any{"code": entry.Code})
	return entry, nil
}

// GetJournal returns the entry with its lines.
func (s *Service) GetJournal(ctx context.Context, entryID int64) (JournalEntry, error) {
	load := func(ctx context.Context) (any, error) {
		var entry JournalEntry
		err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			var err error
			entry, err = tx.GetJournal(ctx, entryID)
			return err
		})
		return entry, err
	}
	if s.cache == nil {
		value, err := load(ctx)
		if err != nil {
			return JournalEntry{}, err
		}
		return value.(JournalEntry), nil
	}
	var entry JournalEntry
	if err := s.cache.FetchJSON(ctx, journalCacheKey(entryID), &entry, load); err != nil {
		return JournalEntry{}, err
	}
	return entry, nil
}

// ListJournals returns a page of entries with their lines.
func (s *Service) ListJournals(ctx context.Context, filter JournalFilter) ([]JournalEntry, shared.Pagination, error) {
	filter.PageRequest = filter.PageRequest.Normalize()
	var (
		entries []JournalEntry
		total   int
	)
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		entries, total, err = tx.ListJournals(ctx, filter)
		return err
	})
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	return entries, shared.NewPagination(filter.Page, filter.PerPage, total), nil
}

// GetPeriod loads a period by id.
func (s *Service) GetPeriod(ctx context.Context, periodID int64) (Period, error) {
	var period Period
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		period, err = tx.GetPeriod(ctx, periodID)
		return err
	})
	return period, err
}

// ClosePeriod blocks further postings into the period.
func (s *Service) ClosePeriod(ctx context.Context, periodID int64, actorID int64) (Period, error) {
	return s.setPeriodClosed(ctx, periodID, actorID, true)
}

// ReopenPeriod is the explicit action that lifts a close.
func (s *Service) ReopenPeriod(ctx context.Context, periodID int64, actorID int64) (Period, error) {
	return s.setPeriodClosed(ctx, periodID, actorID, false)
}

func (s *Service) setPeriodClosed(ctx context.Context, periodID int64, actorID int64, closed bool) (Period, error) {
	if actorID == 0 {
		actorID = shared.ActorFromContext(ctx)
	}
	now := s.now()
	var period Period
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, err := tx.GetPeriodForUpdate(ctx, periodID)
		if err != nil {
			return err
		}
		if current.IsClosed == closed {
			return fmt.Errorf("accounting: %w: period %s already %s", shared.ErrInvalidState, current.Code, periodState(closed))
		}
		if err := tx.SetPeriodClosed(ctx, periodID, closed, actorID, now); err != nil {
			return err
		}
		current.IsClosed = closed
		current.ClosedAt, current.ClosedBy = nil, nil
		if closed {
			current.ClosedAt = &now
			if actorID != 0 {
				current.ClosedBy = &actorID
			}
		}
		period = current
		return nil
	})
	if err != nil {
		return Period{}, err
	}
	action := "period.reopen"
	if closed {
		action = "period.close"
	}
	if s.audit != nil {
		_ = s.audit.Record(ctx, shared.AuditLog{
			ActorID:  actorID,
			Action:   action,
			Entity:   "accounting_period",
			EntityID: strconv.FormatInt(period.ID, 10),
			Meta:     map[string]any{"code": period.Code},
			At:       now,
		})
	}
	return period, nil
}

// AccountBalance derives the balance from the opening balance and every posted line.
func (s *Service) AccountBalance(ctx context.Context, accountID int64) (AccountBalance, error) {
	var balance AccountBalance
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		account, err := tx.GetAccount(ctx, accountID)
		if err != nil {
			return err
		}
		debit, credit, err := tx.SumAccountLines(ctx, accountID)
		if err != nil {
			return err
		}
		opening := account.SignedOpening()
		balance = AccountBalance{
			AccountID:   accountID,
			Opening:     opening,
			TotalDebit:  debit,
			TotalCredit: credit,
			Balance:     opening.Add(debit).Sub(credit),
		}
		return nil
	})
	return balance, err
}

// CheckIntegrity lists persisted entries whose lines do not balance. Expected empty.
func (s *Service) CheckIntegrity(ctx context.Context) ([]UnbalancedEntry, error) {
	var out []UnbalancedEntry
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		out, err = tx.ListUnbalancedEntries(ctx)
		return err
	})
	return out, err
}

func ensurePostable(period Period, entryDate time.Time) error {
	if period.IsClosed {
		return fmt.Errorf("accounting: %w: period %s", shared.ErrPeriodClosed, period.Code)
	}
	if !period.Contains(entryDate) {
		return fmt.Errorf("accounting: %w: entry date %s outside period %s", shared.ErrValidation, entryDate.Format(time.DateOnly), period.Code)
	}
	return nil
}

// ensureAccounts rejects lines that reference an unknown account.
func ensureAccounts(ctx context.Context, tx TxRepository, lines []LineInput) error {
	seen := make(map[int64]struct{}, len(lines))
	for idx, line := range lines {
		if _, ok := seen[line.AccountID]; ok {
			continue
		}
		seen[line.AccountID] = struct{}{}
		if _, err := tx.GetAccount(ctx, line.AccountID); err != nil {
			if errors.Is(err, shared.ErrNotFound) {
				return fmt.Errorf("accounting: %w: line %d account %d does not exist", shared.ErrValidation, idx, line.AccountID)
			}
			return err
		}
	}
	return nil
}

func periodState(closed bool) string {
	if closed {
		return "closed"
	}
	return "open"
}

func journalCacheKey(entryID int64) string {
	return cache.Key("accounting", "journal", entryID)
}

func (s *Service) invalidate(ctx context.Context, entryID int64) {
	if s.cache != nil {
		_ = s.cache.Invalidate(ctx, journalCacheKey(entryID))
	}
}

func (s *Service) observe(action string) {
	if s.metrics != nil {
		s.metrics.JournalPosted(action)
	}
}

func (s *Service) record(ctx context.Context, actorID int64, action string, entry JournalEntry, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "journal_entry",
		EntityID: strconv.FormatInt(entry.ID, 10),
		Meta:     meta,
		At:       s.now(),
	})
}
