package memstore

import (
	"github.com/odyssey-erp/odyssey-backoffice/internal/accounting"
	"github.com/odyssey-erp/odyssey-backoffice/internal/inventory"
	"github.com/odyssey-erp/odyssey-backoffice/internal/requisitions"
	"github.com/odyssey-erp/odyssey-backoffice/internal/transfers"
)

// AddPeriod stores p, assigning an id when missing.
func (s *Store) AddPeriod(p accounting.Period) accounting.Period {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.ID == 0 {
		p.ID = s.state.id()
	}
	s.state.periods[p.ID] = p
	return p
}

// AddAccount stores a, assigning an id when missing.
func (s *Store) AddAccount(a accounting.Account) accounting.Account {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a.ID == 0 {
		a.ID = s.state.id()
	}
	s.state.accounts[a.ID] = a
	return a
}

// SeedStock books an opening PURCHASE movement so the cache and the log agree.
func (s *Store) SeedStock(branchID, variantID, quantity int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := stockKey{branchID, variantID}
	row := s.state.stock[key]
	row.BranchID, row.VariantID = branchID, variantID
	row.Quantity += quantity
	row.UpdatedAt = s.now()
	s.state.stock[key] = row
	s.state.movements = append(s.state.movements, inventory.StockTransaction{
		ID:        s.state.id(),
		BranchID:  branchID,
		VariantID: variantID,
		Type:      inventory.MovementPurchase,
		Quantity:  quantity,
		Direction: inventory.DirectionIn,
		CreatedAt: s.now(),
	})
}

// OverwriteStock sets the cached quantity without a movement, breaking the
// cache/log agreement on purpose.
func (s *Store) OverwriteStock(branchID, variantID, quantity int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := stockKey{branchID, variantID}
	s.state.stock[key] = inventory.Stock{BranchID: branchID, VariantID: variantID, Quantity: quantity, UpdatedAt: s.now()}
}

// AddRequisition stores a requisition as if created elsewhere.
func (s *Store) AddRequisition(req requisitions.Requisition) requisitions.Requisition {
	s.mu.Lock()
	defer s.mu.Unlock()
	if req.ID == 0 {
		req.ID = s.state.id()
	}
	s.state.requisitions[req.ID] = req
	return req
}

// Quantity returns the cached quantity, zero when the row is absent.
func (s *Store) Quantity(branchID, variantID int64) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.stock[stockKey{branchID, variantID}].Quantity
}

// HasStockRow reports whether a cache row exists for the pair.
func (s *Store) HasStockRow(branchID, variantID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.state.stock[stockKey{branchID, variantID}]
	return ok
}

// LedgerQuantity sums IN minus OUT movements for the pair.
func (s *Store) LedgerQuantity(branchID, variantID int64) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	var total int64
	for _, m := range s.state.movements {
		if m.BranchID == branchID && m.VariantID == variantID {
			total += m.Signed()
		}
	}
	return total
}

// Movements returns every movement for the pair, oldest first.
func (s *Store) Movements(branchID, variantID int64) []inventory.StockTransaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []inventory.StockTransaction
	for _, m := range s.state.movements {
		if m.BranchID == branchID && m.VariantID == variantID {
			out = append(out, m)
		}
	}
	return out
}

// MovementCount returns the size of the movement log.
func (s *Store) MovementCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.state.movements)
}

// JournalCount returns the number of journal entries.
func (s *Store) JournalCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.state.journals)
}

// LineCount returns the number of journal lines across all entries.
func (s *Store) LineCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.state.lines)
}

// TransferCount returns the number of transfers.
func (s *Store) TransferCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.state.transfers)
}

// Transfer returns a stored transfer.
func (s *Store) Transfer(id int64) (transfers.Transfer, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.state.transfers[id]
	return t, ok
}

// Requisition returns a stored requisition.
func (s *Store) Requisition(id int64) (requisitions.Requisition, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.state.requisitions[id]
	return r, ok
}
