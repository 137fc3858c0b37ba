package accounting_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-backoffice/internal/accounting"
	"github.com/odyssey-erp/odyssey-backoffice/internal/platform/cache"
	"github.com/odyssey-erp/odyssey-backoffice/internal/shared"
	"github.com/odyssey-erp/odyssey-backoffice/internal/testing/memstore"
)

type recordingAudit struct {
	mu   sync.Mutex
	logs []shared.AuditLog
}

func (a *recordingAudit) Record(_ context.Context, log shared.AuditLog) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.logs = append(a.logs, log)
	return nil
}

func (a *recordingAudit) actions() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, 0, len(a.logs))
	for _, l := range a.logs {
		out = append(out, l.Action)
	}
	return out
}

var january = accounting.Period{
	Code:      "2026-01",
	StartDate: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	EndDate:   time.Date(2026, 1, 31, 0, 0, 0, 0, time.UTC),
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

type fixture struct {
	store   *memstore.Store
	svc     *accounting.Service
	audit   *recordingAudit
	period  accounting.Period
	cash    accounting.Account
	revenue accounting.Account
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	store := memstore.New()
	audit := &recordingAudit{}
	f := fixture{
		store:  store,
		svc:    accounting.NewService(store.Accounting(), audit),
		audit:  audit,
		period: store.AddPeriod(january),
		cash: store.AddAccount(accounting.Account{
			BranchID: 1, Code: "1-1000", Name: "Cash",
			OpeningBalance: dec("1000"), OpeningBalanceType: accounting.BalanceDebit,
		}),
		revenue: store.AddAccount(accounting.Account{
			BranchID: 1, Code: "4-1000", Name: "Sales",
			OpeningBalance: dec("500"), OpeningBalanceType: accounting.BalanceCredit,
		}),
	}
	return f
}

func (f fixture) posting(amount string) accounting.PostingInput {
	return accounting.PostingInput{
		PeriodID:     f.period.ID,
		BranchID:     1,
		EntryDate:    time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC),
		SourceModule: "POS",
		Narration:    "daily sales",
		CreatedBy:    7,
		Lines: []accounting.LineInput{
			{AccountID: f.cash.ID, Debit: dec(amount)},
			{AccountID: f.revenue.ID, Credit: dec(amount)},
		},
	}
}

func TestPostJournalPersistsBalancedEntry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	entry, err := f.svc.PostJournal(ctx, f.posting("100.50"))
	require.NoError(t, err)
	require.Equal(t, "JE-001", entry.Code)
	require.Len(t, entry.Lines, 2)
	debit, credit := entry.Totals()
	require.True(t, debit.Equal(credit))
	require.True(t, debit.Equal(dec("100.50")))

	second, err := f.svc.PostJournal(ctx, f.posting("5"))
	require.NoError(t, err)
	require.Equal(t, "JE-002", second.Code)

	require.Equal(t, 2, f.store.JournalCount())
	require.Equal(t, 4, f.store.LineCount())
	require.Equal(t, []string{"journal.post", "journal.post"}, f.audit.actions())
}

func TestPostJournalRejectsUnbalancedEntry(t *testing.T) {
	f := newFixture(t)
	input := f.posting("100")
	input.Lines[1].Credit = dec("99.99")

	_, err := f.svc.PostJournal(context.Background(), input)
	require.ErrorIs(t, err, shared.ErrUnbalancedEntry)
	require.Zero(t, f.store.JournalCount())
	require.Zero(t, f.store.LineCount())
}

func TestPostJournalUsesExactDecimalEquality(t *testing.T) {
	f := newFixture(t)
	input := f.posting("0.3")
	input.Lines = []accounting.LineInput{
		{AccountID: f.cash.ID, Debit: dec("0.1")},
		{AccountID: f.cash.ID, Debit: dec("0.2")},
		{AccountID: f.revenue.ID, Credit: dec("0.3")},
	}
	_, err := f.svc.PostJournal(context.Background(), input)
	require.NoError(t, err)
}

func TestPostJournalValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	empty := f.posting("1")
	empty.Lines = nil
	_, err := f.svc.PostJournal(ctx, empty)
	require.ErrorIs(t, err, shared.ErrValidation)

	negative := f.posting("1")
	negative.Lines[0].Debit = dec("-1")
	negative.Lines[1].Credit = dec("-1")
	_, err = f.svc.PostJournal(ctx, negative)
	require.ErrorIs(t, err, shared.ErrValidation)

	noModule := f.posting("1")
	noModule.SourceModule = ""
	_, err = f.svc.PostJournal(ctx, noModule)
	require.ErrorIs(t, err, shared.ErrValidation)

	outside := f.posting("1")
	outside.EntryDate = time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	_, err = f.svc.PostJournal(ctx, outside)
	require.ErrorIs(t, err, shared.ErrValidation)

	missing := f.posting("1")
	missing.PeriodID = 9999
	_, err = f.svc.PostJournal(ctx, missing)
	require.ErrorIs(t, err, shared.ErrNotFound)

	require.Zero(t, f.store.JournalCount())
}

func TestPostJournalIntoClosedPeriodLeavesNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.ClosePeriod(ctx, f.period.ID, 3)
	require.NoError(t, err)

	_, err = f.svc.PostJournal(ctx, f.posting("10"))
	require.ErrorIs(t, err, shared.ErrPeriodClosed)
	require.Zero(t, f.store.JournalCount())
	require.Zero(t, f.store.LineCount())
}

func TestClosePeriodAndReopen(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	closed, err := f.svc.ClosePeriod(ctx, f.period.ID, 3)
	require.NoError(t, err)
	require.True(t, closed.IsClosed)
	require.NotNil(t, closed.ClosedAt)
	require.EqualValues(t, 3, *closed.ClosedBy)

	_, err = f.svc.ClosePeriod(ctx, f.period.ID, 3)
	require.ErrorIs(t, err, shared.ErrInvalidState)

	reopened, err := f.svc.ReopenPeriod(ctx, f.period.ID, 3)
	require.NoError(t, err)
	require.False(t, reopened.IsClosed)
	require.Nil(t, reopened.ClosedAt)

	_, err = f.svc.PostJournal(ctx, f.posting("10"))
	require.NoError(t, err)

	got, err := f.svc.GetPeriod(ctx, f.period.ID)
	require.NoError(t, err)
	require.False(t, got.IsClosed)
}

func TestUpdateJournalReplacesLinesAtomically(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	entry, err := f.svc.PostJournal(ctx, f.posting("100"))
	require.NoError(t, err)

	narration := "corrected"
	updated, err := f.svc.UpdateJournal(ctx, entry.ID, accounting.UpdateInput{
		Narration: &narration,
		Lines: []accounting.LineInput{
			{AccountID: f.cash.ID, Debit: dec("60")},
			{AccountID: f.cash.ID, Debit: dec("40")},
			{AccountID: f.revenue.ID, Credit: dec("100")},
		},
	})
	require.NoError(t, err)
	require.Equal(t, "corrected", updated.Narration)
	require.Equal(t, entry.Code, updated.Code)
	require.Len(t, updated.Lines, 3)
	require.Equal(t, 3, f.store.LineCount())

	got, err := f.svc.GetJournal(ctx, entry.ID)
	require.NoError(t, err)
	require.Len(t, got.Lines, 3)
}

func TestUpdateJournalHeaderOnlyKeepsLines(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	entry, err := f.svc.PostJournal(ctx, f.posting("100"))
	require.NoError(t, err)

	module := "MANUAL"
	updated, err := f.svc.UpdateJournal(ctx, entry.ID, accounting.UpdateInput{SourceModule: &module})
	require.NoError(t, err)
	require.Equal(t, "MANUAL", updated.SourceModule)
	require.Len(t, updated.Lines, 2)
}

func TestUpdateJournalRejectsUnbalancedLinesAndKeepsOriginal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	entry, err := f.svc.PostJournal(ctx, f.posting("100"))
	require.NoError(t, err)

	_, err = f.svc.UpdateJournal(ctx, entry.ID, accounting.UpdateInput{
		Lines: []accounting.LineInput{{AccountID: f.cash.ID, Debit: dec("1")}},
	})
	require.ErrorIs(t, err, shared.ErrUnbalancedEntry)

	_, err = f.svc.UpdateJournal(ctx, entry.ID, accounting.UpdateInput{Lines: []accounting.LineInput{}})
	require.ErrorIs(t, err, shared.ErrValidation)

	got, err := f.svc.GetJournal(ctx, entry.ID)
	require.NoError(t, err)
	require.Len(t, got.Lines, 2)
}

func TestPostJournalRejectsAmountsBeyondLedgerPrecision(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	fractional := f.posting("0.01")
	fractional.Lines = []accounting.LineInput{
		{AccountID: f.cash.ID, Debit: dec("0.005")},
		{AccountID: f.cash.ID, Debit: dec("0.005")},
		{AccountID: f.revenue.ID, Credit: dec("0.01")},
	}
	_, err := f.svc.PostJournal(ctx, fractional)
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = f.svc.PostJournal(ctx, f.posting("10000000000000000"))
	require.ErrorIs(t, err, shared.ErrValidation)
	require.Zero(t, f.store.JournalCount())
	require.Zero(t, f.store.LineCount())

	_, err = f.svc.PostJournal(ctx, f.posting("0.10"))
	require.NoError(t, err)
	_, err = f.svc.PostJournal(ctx, f.posting("9999999999999999.99"))
	require.NoError(t, err)
}

func TestAccountValidateChecksOpeningBalance(t *testing.T) {
	ok := accounting.Account{Code: "1-1000", OpeningBalance: dec("12.50"), OpeningBalanceType: accounting.BalanceDebit}
	require.NoError(t, ok.Validate())

	fractional := ok
	fractional.OpeningBalance = dec("0.001")
	require.ErrorIs(t, fractional.Validate(), shared.ErrValidation)

	badType := ok
	badType.OpeningBalanceType = accounting.BalanceType("XX")
	require.ErrorIs(t, badType.Validate(), shared.ErrValidation)
}

func TestPostJournalRejectsUnknownAccount(t *testing.T) {
	f := newFixture(t)
	input := f.posting("25")
	input.Lines[1].AccountID = 999999

	_, err := f.svc.PostJournal(context.Background(), input)
	require.ErrorIs(t, err, shared.ErrValidation)
	require.Zero(t, f.store.JournalCount())
	require.Zero(t, f.store.LineCount())
}

func TestUpdateJournalRejectsUnknownAccountAndKeepsOriginal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	entry, err := f.svc.PostJournal(ctx, f.posting("40"))
	require.NoError(t, err)

	_, err = f.svc.UpdateJournal(ctx, entry.ID, accounting.UpdateInput{
		Lines: []accounting.LineInput{
			{AccountID: f.cash.ID, Debit: dec("40")},
			{AccountID: 999999, Credit: dec("40")},
		},
	})
	require.ErrorIs(t, err, shared.ErrValidation)

	got, err := f.svc.GetJournal(ctx, entry.ID)
	require.NoError(t, err)
	require.Len(t, got.Lines, 2)
	require.Equal(t, f.revenue.ID, got.Lines[1].AccountID)
	require.Equal(t, 2, f.store.LineCount())
}

func TestUpdateJournalChecksCurrentAndTargetPeriods(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	entry, err := f.svc.PostJournal(ctx, f.posting("100"))
	require.NoError(t, err)

	february := f.store.AddPeriod(accounting.Period{
		Code:      "2026-02",
		StartDate: time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC),
		EndDate:   time.Date(2026, 2, 28, 0, 0, 0, 0, time.UTC),
		IsClosed:  true,
	})
	feb := february.ID
	date := time.Date(2026, 2, 10, 0, 0, 0, 0, time.UTC)
	_, err = f.svc.UpdateJournal(ctx, entry.ID, accounting.UpdateInput{PeriodID: &feb, EntryDate: &date})
	require.ErrorIs(t, err, shared.ErrPeriodClosed)

	_, err = f.svc.ClosePeriod(ctx, f.period.ID, 1)
	require.NoError(t, err)
	narration := "late fix"
	_, err = f.svc.UpdateJournal(ctx, entry.ID, accounting.UpdateInput{Narration: &narration})
	require.ErrorIs(t, err, shared.ErrPeriodClosed)
}

func TestDeleteJournalRemovesEntryAndLines(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	entry, err := f.svc.PostJournal(ctx, f.posting("100"))
	require.NoError(t, err)

	deleted, err := f.svc.DeleteJournal(ctx, entry.ID, 7)
	require.NoError(t, err)
	require.Equal(t, entry.Code, deleted.Code)
	require.Len(t, deleted.Lines, 2)
	require.Zero(t, f.store.JournalCount())
	require.Zero(t, f.store.LineCount())

	_, err = f.svc.GetJournal(ctx, entry.ID)
	require.ErrorIs(t, err, shared.ErrNotFound)
	_, err = f.svc.DeleteJournal(ctx, entry.ID, 7)
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestDeleteJournalInClosedPeriodFails(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	entry, err := f.svc.PostJournal(ctx, f.posting("100"))
	require.NoError(t, err)
	_, err = f.svc.ClosePeriod(ctx, f.period.ID, 1)
	require.NoError(t, err)

	_, err = f.svc.DeleteJournal(ctx, entry.ID, 7)
	require.ErrorIs(t, err, shared.ErrPeriodClosed)
	require.Equal(t, 1, f.store.JournalCount())
	require.Equal(t, 2, f.store.LineCount())
}

func TestListJournalsFiltersAndPaginates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := f.svc.PostJournal(ctx, f.posting("1"))
		require.NoError(t, err)
	}
	other := f.posting("2")
	other.SourceModule = "PURCHASE"
	_, err := f.svc.PostJournal(ctx, other)
	require.NoError(t, err)

	entries, meta, err := f.svc.ListJournals(ctx, accounting.JournalFilter{
		SourceModule: "POS",
		PageRequest:  shared.PageRequest{Page: 1, PerPage: 2},
	})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, 3, meta.Total)
	require.Equal(t, 2, meta.TotalPages)
	for _, e := range entries {
		require.Len(t, e.Lines, 2)
	}
}

func TestAccountBalanceDerivesFromLines(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.PostJournal(ctx, f.posting("200"))
	require.NoError(t, err)

	cash, err := f.svc.AccountBalance(ctx, f.cash.ID)
	require.NoError(t, err)
	require.True(t, cash.Balance.Equal(dec("1200")), cash.Balance.String())

	revenue, err := f.svc.AccountBalance(ctx, f.revenue.ID)
	require.NoError(t, err)
	require.True(t, revenue.Balance.Equal(dec("-700")), revenue.Balance.String())

	_, err = f.svc.AccountBalance(ctx, 4242)
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestCheckIntegrityFlagsCorruptedEntries(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	entry, err := f.svc.PostJournal(ctx, f.posting("10"))
	require.NoError(t, err)

	issues, err := f.svc.CheckIntegrity(ctx)
	require.NoError(t, err)
	require.Empty(t, issues)

	require.True(t, f.store.CorruptJournalLine(entry.Lines[0].ID, dec("11")))
	issues, err = f.svc.CheckIntegrity(ctx)
	require.NoError(t, err)
	require.Len(t, issues, 1)
	require.Equal(t, entry.Code, issues[0].Code)
}

func TestGetJournalReadsThroughCache(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	f.svc.WithCache(cache.NewJSON(client, time.Minute))

	entry, err := f.svc.PostJournal(ctx, f.posting("10"))
	require.NoError(t, err)

	first, err := f.svc.GetJournal(ctx, entry.ID)
	require.NoError(t, err)
	before := f.store.Transactions()
	second, err := f.svc.GetJournal(ctx, entry.ID)
	require.NoError(t, err)
	require.Equal(t, before, f.store.Transactions())
	require.Equal(t, first.Code, second.Code)
	require.True(t, second.Lines[0].Debit.Equal(dec("10")))

	narration := "changed"
	_, err = f.svc.UpdateJournal(ctx, entry.ID, accounting.UpdateInput{Narration: &narration})
	require.NoError(t, err)
	third, err := f.svc.GetJournal(ctx, entry.ID)
	require.NoError(t, err)
	require.Equal(t, "changed", third.Narration)
}
