// Package memstore is an in-memory implementation of every transactional
// repository in the module. Units of work are serialised by one mutex and rolled
// back by restoring a snapshot, which gives tests the same all-or-nothing and
// no-lost-update guarantees the PostgreSQL repositories get from row locks.
package memstore

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/odyssey-erp/odyssey-backoffice/internal/accounting"
	"github.com/odyssey-erp/odyssey-backoffice/internal/inventory"
	"github.com/odyssey-erp/odyssey-backoffice/internal/requisitions"
	"github.com/odyssey-erp/odyssey-backoffice/internal/shared"
	"github.com/odyssey-erp/odyssey-backoffice/internal/transfers"
)

type stockKey struct {
	branchID  int64
	variantID int64
}

type state struct {
	nextID       int64
	periods      map[int64]accounting.Period
	accounts     map[int64]accounting.Account
	journals     map[int64]accounting.JournalEntry
	lines        []accounting.JournalLine
	stock        map[stockKey]inventory.Stock
	movements    []inventory.StockTransaction
	transfers    map[int64]transfers.Transfer
	requisitions map[int64]requisitions.Requisition
	keys         map[string]struct{}
}

func newState() *state {
	return &state{
		periods:      map[int64]accounting.Period{},
		accounts:     map[int64]accounting.Account{},
		journals:     map[int64]accounting.JournalEntry{},
		stock:        map[stockKey]inventory.Stock{},
		transfers:    map[int64]transfers.Transfer{},
		requisitions: map[int64]requisitions.Requisition{},
		keys:         map[string]struct{}{},
	}
}

// clone copies every table. Stored values never share mutable slices with
// callers, so copying the maps and the top-level slices is enough.
func (s *state) clone() *state {
	return &state{
		nextID:       s.nextID,
		periods:      maps.Clone(s.periods),
		accounts:     maps.Clone(s.accounts),
		journals:     maps.Clone(s.journals),
		lines:        slices.Clone(s.lines),
		stock:        maps.Clone(s.stock),
		movements:    slices.Clone(s.movements),
		transfers:    maps.Clone(s.transfers),
		requisitions: maps.Clone(s.requisitions),
		keys:         maps.Clone(s.keys),
	}
}

func (s *state) id() int64 {
	s.nextID++
	return s.nextID
}

// Store holds the tables and serialises units of work.
type Store struct {
	mu    sync.Mutex
	state *state
	now   func() time.Time
	txs   int
}

// New returns an empty store.
func New() *Store {
	return &Store{state: newState(), now: time.Now}
}

// WithNow overrides the clock used for timestamps.
func (s *Store) WithNow(now func() time.Time) {
	s.now = now
}

func (s *Store) withTx(ctx context.Context, fn func(*Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.txs++
	snapshot := s.state.clone()
	if err := fn(&Tx{st: s.state, now: s.now}); err != nil {
		s.state = snapshot
		return err
	}
	return nil
}

// Transactions returns how many units of work have run.
func (s *Store) Transactions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.txs
}

// Accounting adapts the store to accounting.RepositoryPort.
func (s *Store) Accounting() accounting.RepositoryPort { return accountingRepo{s} }

// Inventory adapts the store to inventory.RepositoryPort.
func (s *Store) Inventory() inventory.RepositoryPort { return inventoryRepo{s} }

// Transfers adapts the store to transfers.RepositoryPort.
func (s *Store) Transfers() transfers.RepositoryPort { return transfersRepo{s} }

// Requisitions adapts the store to requisitions.RepositoryPort.
func (s *Store) Requisitions() requisitions.RepositoryPort { return requisitionsRepo{s} }

type accountingRepo struct{ s *Store }

func (r accountingRepo) WithTx(ctx context.Context, fn func(context.Context, accounting.TxRepository) error) error {
	return r.s.withTx(ctx, func(tx *Tx) error { return fn(ctx, tx) })
}

type inventoryRepo struct{ s *Store }

func (r inventoryRepo) WithTx(ctx context.Context, fn func(context.Context, inventory.TxRepository) error) error {
	return r.s.withTx(ctx, func(tx *Tx) error { return fn(ctx, tx) })
}

type transfersRepo struct{ s *Store }

func (r transfersRepo) WithTx(ctx context.Context, fn func(context.Context, transfers.TxRepository) error) error {
	return r.s.withTx(ctx, func(tx *Tx) error { return fn(ctx, tx) })
}

type requisitionsRepo struct{ s *Store }

func (r requisitionsRepo) WithTx(ctx context.Context, fn func(context.Context, requisitions.TxRepository) error) error {
	return r.s.withTx(ctx, func(tx *Tx) error { return fn(ctx, tx) })
}

// Tx is the view of the store inside one unit of work.
type Tx struct {
	st  *state
	now func() time.Time
}

var (
	_ accounting.TxRepository   = (*Tx)(nil)
	_ requisitions.TxRepository = (*Tx)(nil)
)

func notFound(kind string, id int64) error {
	return fmt.Errorf("memstore: %s %d: %w", kind, id, shared.ErrNotFound)
}

func paginate[T any](rows []T, page shared.PageRequest) []T {
	page = page.Normalize()
	start := page.Offset()
	if start >= len(rows) {
		return []T{}
	}
	end := min(start+page.PerPage, len(rows))
	return slices.Clone(rows[start:end])
}
