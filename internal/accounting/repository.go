package accounting

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-backoffice/internal/platform/db"
	"github.com/odyssey-erp/odyssey-backoffice/internal/sequence"
	"github.com/odyssey-erp/odyssey-backoffice/internal/shared"
)

// TxRepository exposes transactional operations.
type TxRepository interface {
	sequence.Store

	GetPeriod(ctx context.Context, periodID int64) (Period, error)
	GetPeriodForShare(ctx context.Context, periodID int64) (Period, error)
	GetPeriodForUpdate(ctx context.Context, periodID int64) (Period, error)
	SetPeriodClosed(ctx context.Context, periodID int64, closed bool, actorID int64, at time.Time) error

	GetAccount(ctx context.Context, accountID int64) (Account, error)
	SumAccountLines(ctx context.Context, accountID int64) (decimal.Decimal, decimal.Decimal, error)

	InsertJournalEntry(ctx context.Context, entry JournalEntry) (JournalEntry, error)
	InsertJournalLines(ctx context.Context, entryID int64, lines []LineInput) ([]JournalLine, error)
	GetJournal(ctx context.Context, entryID int64) (JournalEntry, error)
	GetJournalForUpdate(ctx context.Context, entryID int64) (JournalEntry, error)
	ListJournalLines(ctx context.Context, entryID int64) ([]JournalLine, error)
	UpdateJournalHeader(ctx context.Context, entry JournalEntry) (JournalEntry, error)
	DeleteJournalLines(ctx context.Context, entryID int64) error
	DeleteJournalEntry(ctx context.Context, entryID int64) error
	ListJournals(ctx context.Context, filter JournalFilter) ([]JournalEntry, int, error)
	ListUnbalancedEntries(ctx context.Context) ([]UnbalancedEntry, error)
}

// Repository persists accounting entities.
type Repository struct {
	runner *db.Runner
}

// NewRepository constructs Repository. A nil runner gets default retry settings.
func NewRepository(pool *pgxpool.Pool, runner *db.Runner) *Repository {
	if runner == nil {
		runner = db.NewRunner(pool, db.DefaultMaxAttempts, nil)
	}
	return &Repository{runner: runner}
}

// WithTx executes fn within a read-committed transaction, retrying on conflicts.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("accounting repository not initialised")
	}
	return r.runner.WithTx(ctx, func(tx pgx.Tx) error {
		return fn(ctx, NewTxRepository(tx))
	})
}

type txRepository struct {
	*sequence.TxStore
	tx pgx.Tx
}

// NewTxRepository binds the accounting queries to an open transaction.
func NewTxRepository(tx pgx.Tx) TxRepository {
	return &txRepository{TxStore: sequence.NewTxStore(tx), tx: tx}
}

const periodColumns = `id, code, start_date, end_date, is_closed, closed_at, closed_by`

func (r *txRepository) getPeriod(ctx context.Context, periodID int64, lock string) (Period, error) {
	var p Period
	err := r.tx.QueryRow(ctx, `SELECT `+periodColumns+` FROM accounting_periods WHERE id=$1 `+lock, periodID).
		Scan(&p.ID, &p.Code, &p.StartDate, &p.EndDate, &p.IsClosed, &p.ClosedAt, &p.ClosedBy)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Period{}, fmt.Errorf("accounting: period %d: %w", periodID, shared.ErrNotFound)
		}
		return Period{}, err
	}
	return p, nil
}

func (r *txRepository) GetPeriod(ctx context.Context, periodID int64) (Period, error) {
	return r.getPeriod(ctx, periodID, "")
}

// GetPeriodForShare blocks a concurrent close until the posting commits.
func (r *txRepository) GetPeriodForShare(ctx context.Context, periodID int64) (Period, error) {
	return r.getPeriod(ctx, periodID, "FOR SHARE")
}

func (r *txRepository) GetPeriodForUpdate(ctx context.Context, periodID int64) (Period, error) {
	return r.getPeriod(ctx, periodID, "FOR UPDATE")
}

func (r *txRepository) SetPeriodClosed(ctx context.Context, periodID int64, closed bool, actorID int64, at time.Time) error {
	var err error
	if closed {
		_, err = r.tx.Exec(ctx, `UPDATE accounting_periods SET is_closed=TRUE, closed_at=$2, closed_by=$3, updated_at=NOW() WHERE id=$1`, periodID, at, nullInt(actorID))
	} else {
		_, err = r.tx.Exec(ctx, `UPDATE accounting_periods SET is_closed=FALSE, closed_at=NULL, closed_by=NULL, updated_at=NOW() WHERE id=$1`, periodID)
	}
	return err
}

func (r *txRepository) GetAccount(ctx context.Context, accountID int64) (Account, error) {
	var a Account
	err := r.tx.QueryRow(ctx, `SELECT id, branch_id, head_id, code, name, opening_balance, opening_balance_type
FROM accounts WHERE id=$1`, accountID).
		Scan(&a.ID, &a.BranchID, &a.HeadID, &a.Code, &a.Name, &a.OpeningBalance, &a.OpeningBalanceType)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Account{}, fmt.Errorf("accounting: account %d: %w", accountID, shared.ErrNotFound)
		}
		return Account{}, err
	}
	return a, nil
}

func (r *txRepository) SumAccountLines(ctx context.Context, accountID int64) (decimal.Decimal, decimal.Decimal, error) {
	var debit, credit decimal.Decimal
	err := r.tx.QueryRow(ctx, `SELECT COALESCE(SUM(debit), 0), COALESCE(SUM(credit), 0) FROM journal_lines WHERE account_id=$1`, accountID).
		Scan(&debit, &credit)
	return debit, credit, err
}

func (r *txRepository) InsertJournalEntry(ctx context.Context, entry JournalEntry) (JournalEntry, error) {
	row := r.tx.QueryRow(ctx, `INSERT INTO journal_entries (branch_id, period_id, code, entry_date, source_module, source_id, narration, created_by)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8) RETURNING id, created_at, updated_at`,
		entry.BranchID, entry.PeriodID, entry.Code, entry.EntryDate, entry.SourceModule, entry.SourceID, entry.Narration, nullInt(entry.CreatedBy))
	if err := row.Scan(&entry.ID, &entry.CreatedAt, &entry.UpdatedAt); err != nil {
		return JournalEntry{}, err
	}
	return entry, nil
}

func (r *txRepository) InsertJournalLines(ctx context.Context, entryID int64, lines []LineInput) ([]JournalLine, error) {
	out := make([]JournalLine, 0, len(lines))
	for _, line := range lines {
		jl := JournalLine{JournalEntryID: entryID, AccountID: line.AccountID, Debit: line.Debit, Credit: line.Credit}
		if err := r.tx.QueryRow(ctx, `INSERT INTO journal_lines (journal_entry_id, account_id, debit, credit)
VALUES ($1,$2,$3,$4) RETURNING id`, entryID, line.AccountID, line.Debit, line.Credit).Scan(&jl.ID); err != nil {
			return nil, err
		}
		out = append(out, jl)
	}
	return out, nil
}

const journalColumns = `id, branch_id, period_id, code, entry_date, source_module, source_id, narration, COALESCE(created_by, 0), created_at, updated_at`

func scanJournal(row pgx.Row) (JournalEntry, error) {
	var e JournalEntry
	err := row.Scan(&e.ID, &e.BranchID, &e.PeriodID, &e.Code, &e.EntryDate, &e.SourceModule, &e.SourceID, &e.Narration, &e.CreatedBy, &e.CreatedAt, &e.UpdatedAt)
	return e, err
}

func (r *txRepository) getJournalHeader(ctx context.Context, entryID int64, lock string) (JournalEntry, error) {
	entry, err := scanJournal(r.tx.QueryRow(ctx, `SELECT `+journalColumns+` FROM journal_entries WHERE id=$1 `+lock, entryID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return JournalEntry{}, fmt.Errorf("accounting: journal entry %d: %w", entryID, shared.ErrNotFound)
		}
		return JournalEntry{}, err
	}
	return entry, nil
}

func (r *txRepository) GetJournal(ctx context.Context, entryID int64) (JournalEntry, error) {
	entry, err := r.getJournalHeader(ctx, entryID, "")
	if err != nil {
		return JournalEntry{}, err
	}
	entry.Lines, err = r.ListJournalLines(ctx, entryID)
	if err != nil {
		return JournalEntry{}, err
	}
	return entry, nil
}

func (r *txRepository) GetJournalForUpdate(ctx context.Context, entryID int64) (JournalEntry, error) {
	return r.getJournalHeader(ctx, entryID, "FOR UPDATE")
}

func (r *txRepository) ListJournalLines(ctx context.Context, entryID int64) ([]JournalLine, error) {
	rows, err := r.tx.Query(ctx, `SELECT id, journal_entry_id, account_id, debit, credit
FROM journal_lines WHERE journal_entry_id=$1 ORDER BY id ASC`, entryID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	lines := []JournalLine{}
	for rows.Next() {
		var line JournalLine
		if err := rows.Scan(&line.ID, &line.JournalEntryID, &line.AccountID, &line.Debit, &line.Credit); err != nil {
			return nil, err
		}
		lines = append(lines, line)
	}
	return lines, rows.Err()
}

func (r *txRepository) UpdateJournalHeader(ctx context.Context, entry JournalEntry) (JournalEntry, error) {
	err := r.tx.QueryRow(ctx, `UPDATE journal_entries
SET branch_id=$2, period_id=$3, entry_date=$4, source_module=$5, source_id=$6, narration=$7, updated_at=NOW()
WHERE id=$1 RETURNING updated_at`,
		entry.ID, entry.BranchID, entry.PeriodID, entry.EntryDate, entry.SourceModule, entry.SourceID, entry.Narration).
		Scan(&entry.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return JournalEntry{}, fmt.Errorf("accounting: journal entry %d: %w", entry.ID, shared.ErrNotFound)
		}
		return JournalEntry{}, err
	}
	return entry, nil
}

func (r *txRepository) DeleteJournalLines(ctx context.Context, entryID int64) error {
	_, err := r.tx.Exec(ctx, `DELETE FROM journal_lines WHERE journal_entry_id=$1`, entryID)
	return err
}

func (r *txRepository) DeleteJournalEntry(ctx context.Context, entryID int64) error {
	cmd, err := r.tx.Exec(ctx, `DELETE FROM journal_entries WHERE id=$1`, entryID)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return fmt.Errorf("accounting: journal entry %d: %w", entryID, shared.ErrNotFound)
	}
	return nil
}

func (r *txRepository) ListJournals(ctx context.Context, filter JournalFilter) ([]JournalEntry, int, error) {
	var (
		conds []string
		args  []any
	)
	if filter.BranchID > 0 {
		args = append(args, filter.BranchID)
		conds = append(conds, fmt.Sprintf("branch_id=$%d", len(args)))
	}
	if filter.PeriodID > 0 {
		args = append(args, filter.PeriodID)
		conds = append(conds, fmt.Sprintf("period_id=$%d", len(args)))
	}
	if filter.SourceModule != "" {
		args = append(args, filter.SourceModule)
		conds = append(conds, fmt.Sprintf("source_module=$%d", len(args)))
	}
	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}

	var total int
	if err := r.tx.QueryRow(ctx, `SELECT COUNT(*) FROM journal_entries`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	page := filter.PageRequest.Normalize()
	args = append(args, page.PerPage, page.Offset())
	rows, err := r.tx.Query(ctx, fmt.Sprintf(`SELECT %s FROM journal_entries%s ORDER BY entry_date DESC, id DESC LIMIT $%d OFFSET $%d`,
		journalColumns, where, len(args)-1, len(args)), args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	entries := []JournalEntry{}
	for rows.Next() {
		entry, err := scanJournal(rows)
		if err != nil {
			return nil, 0, err
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	for i := range entries {
		if entries[i].Lines, err = r.ListJournalLines(ctx, entries[i].ID); err != nil {
			return nil, 0, err
		}
	}
	return entries, total, nil
}

func (r *txRepository) ListUnbalancedEntries(ctx context.Context) ([]UnbalancedEntry, error) {
	rows, err := r.tx.Query(ctx, `SELECT je.id, je.code, COALESCE(SUM(jl.debit), 0), COALESCE(SUM(jl.credit), 0)
FROM journal_entries je
LEFT JOIN journal_lines jl ON jl.journal_entry_id = je.id
GROUP BY je.id, je.code
HAVING COALESCE(SUM(jl.debit), 0) <> COALESCE(SUM(jl.credit), 0) OR COUNT(jl.id) = 0
ORDER BY je.id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []UnbalancedEntry
	for rows.Next() {
		var u UnbalancedEntry
		if err := rows.Scan(&u.EntryID, &u.Code, &u.TotalDebit, &u.TotalCredit); err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func nullInt(val int64) any {
	if val == 0 {
		return nil
	}
	return val
}
