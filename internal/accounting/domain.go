package accounting

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-backoffice/internal/shared"
)

// JournalPrefix labels journal entry codes (JE-001).
const JournalPrefix = "JE"

// AmountScale is the number of decimal places amounts are stored with.
const AmountScale = 2

// maxAmount is the first value that no longer fits NUMERIC(18,2).
var maxAmount = decimal.New(1, 16)

// ValidateAmount rejects amounts the ledger columns cannot hold exactly: negative
// values, more than AmountScale decimal places, or 10^16 and above.
func ValidateAmount(amount decimal.Decimal) error {
	if amount.IsNegative() {
		return fmt.Errorf("%w: negative amount %s", shared.ErrValidation, amount.String())
	}
	if !amount.Equal(amount.Round(AmountScale)) {
		return fmt.Errorf("%w: amount %s has more than %d decimal places", shared.ErrValidation, amount.String(), AmountScale)
	}
	if amount.GreaterThanOrEqual(maxAmount) {
		return fmt.Errorf("%w: amount %s out of range", shared.ErrValidation, amount.String())
	}
	return nil
}

// BalanceType is the natural side of an opening balance.
type BalanceType string

const (
	BalanceDebit  BalanceType = "DR"
	BalanceCredit BalanceType = "CR"
)

// Period represents a fiscal period window.
type Period struct {
	ID        int64      `json:"id"`
	Code      string     `json:"code"`
	StartDate time.Time  `json:"start_date"`
	EndDate   time.Time  `json:"end_date"`
	IsClosed  bool       `json:"is_closed"`
	ClosedAt  *time.Time `json:"closed_at,omitempty"`
	ClosedBy  *int64     `json:"closed_by,omitempty"`
}

// Contains reports whether date falls inside the period, both ends inclusive.
func (p Period) Contains(date time.Time) bool {
	d := truncateDay(date)
	return !d.Before(truncateDay(p.StartDate)) && !d.After(truncateDay(p.EndDate))
}

// Account models a chart of accounts leaf. Balances are never stored on it.
type Account struct {
	ID                 int64           `json:"id"`
	BranchID           int64           `json:"branch_id"`
	HeadID             *int64          `json:"head_id,omitempty"`
	Code               string          `json:"code"`
	Name               string          `json:"name"`
	OpeningBalance     decimal.Decimal `json:"opening_balance"`
	OpeningBalanceType BalanceType     `json:"opening_balance_type"`
}

// Validate checks the opening balance fits the ledger columns.
func (a Account) Validate() error {
	if err := ValidateAmount(a.OpeningBalance); err != nil {
		return fmt.Errorf("accounting: account %s opening balance: %w", a.Code, err)
	}
	if a.OpeningBalanceType != BalanceDebit && a.OpeningBalanceType != BalanceCredit {
		return fmt.Errorf("accounting: %w: account %s opening balance type %q", shared.ErrValidation, a.Code, a.OpeningBalanceType)
	}
	return nil
}

// SignedOpening returns the opening balance as debit minus credit.
func (a Account) SignedOpening() decimal.Decimal {
	if a.OpeningBalanceType == BalanceCredit {
		return a.OpeningBalance.Neg()
	}
	return a.OpeningBalance
}

// AccountBalance is the derived balance of one account.
type AccountBalance struct {
	AccountID   int64           `json:"account_id"`
	Opening     decimal.Decimal `json:"opening"`
	TotalDebit  decimal.Decimal `json:"total_debit"`
	TotalCredit decimal.Decimal `json:"total_credit"`
	Balance     decimal.Decimal `json:"balance"`
}

// JournalEntry captures posting metadata and its lines.
type JournalEntry struct {
	ID           int64         `json:"id"`
	BranchID     int64         `json:"branch_id"`
	PeriodID     int64         `json:"period_id"`
	Code         string        `json:"code"`
	EntryDate    time.Time     `json:"entry_date"`
	SourceModule string        `json:"source_module"`
	SourceID     *uuid.UUID    `json:"source_id,omitempty"`
	Narration    string        `json:"narration,omitempty"`
	CreatedBy    int64         `json:"created_by,omitempty"`
	CreatedAt    time.Time     `json:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at"`
	Lines        []JournalLine `json:"lines"`
}

// Totals sums debit and credit over the entry lines.
func (e JournalEntry) Totals() (decimal.Decimal, decimal.Decimal) {
	debit, credit := decimal.Zero, decimal.Zero
	for _, line := range e.Lines {
		debit = debit.Add(line.Debit)
		credit = credit.Add(line.Credit)
	}
	return debit, credit
}

// JournalLine stores a debit or credit amount for an account.
type JournalLine struct {
	ID             int64           `json:"id"`
	JournalEntryID int64           `json:"journal_entry_id"`
	AccountID      int64           `json:"account_id"`
	Debit          decimal.Decimal `json:"debit"`
	Credit         decimal.Decimal `json:"credit"`
}

// LineInput describes a journal line of a posting request.
type LineInput struct {
	AccountID int64           `json:"account_id" validate:"required,gt=0"`
	Debit     decimal.Decimal `json:"debit"`
	Credit    decimal.Decimal `json:"credit"`
}

// PostingInput groups fields required to create a journal entry.
type PostingInput struct {
	PeriodID     int64       `json:"period_id" validate:"required,gt=0"`
	BranchID     int64       `json:"branch_id" validate:"required,gt=0"`
	EntryDate    time.Time   `json:"entry_date" validate:"required"`
	SourceModule string      `json:"source_module" validate:"required,max=64"`
	SourceID     *uuid.UUID  `json:"source_id,omitempty"`
	Narration    string      `json:"narration,omitempty" validate:"max=500"`
	CreatedBy    int64       `json:"-"`
	Lines        []LineInput `json:"lines" validate:"required,min=1,dive"`
}

// Validate ensures posting input meets minimum criteria.
func (in PostingInput) Validate() error {
	if err := shared.ValidateStruct(in); err != nil {
		return fmt.Errorf("accounting: %w", err)
	}
	return validateLines(in.Lines)
}

// UpdateInput carries a partial header update. Nil fields are left untouched and a
// nil Lines keeps the existing lines.
type UpdateInput struct {
	PeriodID     *int64      `json:"period_id,omitempty" validate:"omitempty,gt=0"`
	BranchID     *int64      `json:"branch_id,omitempty" validate:"omitempty,gt=0"`
	EntryDate    *time.Time  `json:"entry_date,omitempty"`
	SourceModule *string     `json:"source_module,omitempty" validate:"omitempty,min=1,max=64"`
	SourceID     *uuid.UUID  `json:"source_id,omitempty"`
	Narration    *string     `json:"narration,omitempty" validate:"omitempty,max=500"`
	Lines        []LineInput `json:"lines,omitempty" validate:"omitempty,dive"`
	ActorID      int64       `json:"-"`
}

// Validate checks the supplied fields. A non-nil Lines must be non-empty and balanced.
func (in UpdateInput) Validate() error {
	if err := shared.ValidateStruct(in); err != nil {
		return fmt.Errorf("accounting: %w", err)
	}
	if in.Lines == nil {
		return nil
	}
	return validateLines(in.Lines)
}

// Apply copies the supplied header fields onto entry.
func (in UpdateInput) Apply(entry JournalEntry) JournalEntry {
	if in.PeriodID != nil {
		entry.PeriodID = *in.PeriodID
	}
	if in.BranchID != nil {
		entry.BranchID = *in.BranchID
	}
	if in.EntryDate != nil {
		entry.EntryDate = *in.EntryDate
	}
	if in.SourceModule != nil {
		entry.SourceModule = *in.SourceModule
	}
	if in.SourceID != nil {
		id := *in.SourceID
		entry.SourceID = &id
	}
	if in.Narration != nil {
		entry.Narration = *in.Narration
	}
	return entry
}

// JournalFilter narrows journal listings. Zero values match everything.
type JournalFilter struct {
	BranchID     int64
	PeriodID     int64
	SourceModule string
	shared.PageRequest
}

// UnbalancedEntry reports a persisted entry whose lines no longer balance.
type UnbalancedEntry struct {
	EntryID     int64           `json:"entry_id"`
	Code        string          `json:"code"`
	TotalDebit  decimal.Decimal `json:"total_debit"`
	TotalCredit decimal.Decimal `json:"total_credit"`
}

func validateLines(lines []LineInput) error {
	if len(lines) == 0 {
		return fmt.Errorf("accounting: %w: journal requires at least one line", shared.ErrValidation)
	}
	debit, credit := decimal.Zero, decimal.Zero
	for idx, line := range lines {
		if line.AccountID <= 0 {
			return fmt.Errorf("accounting: %w: line %d missing account", shared.ErrValidation, idx)
		}
		if err := ValidateAmount(line.Debit); err != nil {
			return fmt.Errorf("accounting: line %d debit: %w", idx, err)
		}
		if err := ValidateAmount(line.Credit); err != nil {
			return fmt.Errorf("accounting: line %d credit: %w", idx, err)
		}
		debit = debit.Add(line.Debit)
		credit = credit.Add(line.Credit)
	}
	if !debit.Equal(credit) {
		return fmt.Errorf("accounting: %w: debit %s credit %s", shared.ErrUnbalancedEntry, debit.String(), credit.String())
	}
	return nil
}

func truncateDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
