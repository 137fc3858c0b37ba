package memstore

import (
	"cmp"
	"context"
	"fmt"
	"slices"

	"github.com/odyssey-erp/odyssey-backoffice/internal/inventory"
	"github.com/odyssey-erp/odyssey-backoffice/internal/shared"
)

func (tx *Tx) GetStockForUpdate(ctx context.Context, branchID, variantID int64) (inventory.Stock, error) {
	return tx.GetStock(ctx, branchID, variantID)
}

func (tx *Tx) GetStock(_ context.Context, branchID, variantID int64) (inventory.Stock, error) {
	row, ok := tx.st.stock[stockKey{branchID, variantID}]
	if !ok {
		return inventory.Stock{BranchID: branchID, VariantID: variantID}, inventory.ErrStockNotFound
	}
	return row, nil
}

// InsertStock mirrors the unique (branch, variant) constraint.
func (tx *Tx) InsertStock(_ context.Context, branchID, variantID, quantity int64) (inventory.Stock, error) {
	key := stockKey{branchID, variantID}
	if _, ok := tx.st.stock[key]; ok {
		return inventory.Stock{}, fmt.Errorf("memstore: stock %d/%d exists: %w", branchID, variantID, shared.ErrConflict)
	}
	row := inventory.Stock{BranchID: branchID, VariantID: variantID, Quantity: quantity, UpdatedAt: tx.now()}
	tx.st.stock[key] = row
	return row, nil
}

func (tx *Tx) IncrementStock(_ context.Context, branchID, variantID, quantity int64) (inventory.Stock, error) {
	key := stockKey{branchID, variantID}
	row, ok := tx.st.stock[key]
	if !ok {
		return inventory.Stock{}, inventory.ErrStockNotFound
	}
	row.Quantity += quantity
	row.UpdatedAt = tx.now()
	tx.st.stock[key] = row
	return row, nil
}

func (tx *Tx) DecrementStock(_ context.Context, branchID, variantID, quantity int64) (inventory.Stock, error) {
	key := stockKey{branchID, variantID}
	row, ok := tx.st.stock[key]
	if !ok || row.Quantity < quantity {
		return inventory.Stock{}, fmt.Errorf("memstore: %w: branch %d variant %d", shared.ErrInsufficientStock, branchID, variantID)
	}
	row.Quantity -= quantity
	row.UpdatedAt = tx.now()
	tx.st.stock[key] = row
	return row, nil
}

// ClaimIdempotencyKey mirrors the unique key constraint on idempotency_keys.
func (tx *Tx) ClaimIdempotencyKey(_ context.Context, key string) error {
	if _, ok := tx.st.keys[key]; ok {
		return shared.ErrIdempotencyConflict
	}
	tx.st.keys[key] = struct{}{}
	return nil
}

func (tx *Tx) InsertStockTransaction(_ context.Context, txn inventory.StockTransaction) (inventory.StockTransaction, error) {
	if txn.Quantity <= 0 {
		return inventory.StockTransaction{}, fmt.Errorf("memstore: movement quantity %d violates check", txn.Quantity)
	}
	txn.ID = tx.st.id()
	txn.CreatedAt = tx.now()
	if txn.ReferenceID != nil {
		ref := *txn.ReferenceID
		txn.ReferenceID = &ref
	}
	tx.st.movements = append(tx.st.movements, txn)
	return txn, nil
}

func (tx *Tx) ListStock(_ context.Context, branchID int64, page shared.PageRequest) ([]inventory.Stock, int, error) {
	var rows []inventory.Stock
	for _, row := range tx.st.stock {
		if row.BranchID == branchID {
			rows = append(rows, row)
		}
	}
	slices.SortFunc(rows, func(a, b inventory.Stock) int { return cmp.Compare(a.VariantID, b.VariantID) })
	return paginate(rows, page), len(rows), nil
}

func (tx *Tx) ListMovements(_ context.Context, filter inventory.MovementFilter) ([]inventory.StockTransaction, int, error) {
	var rows []inventory.StockTransaction
	for i := len(tx.st.movements) - 1; i >= 0; i-- {
		m := tx.st.movements[i]
		switch {
		case filter.BranchID > 0 && m.BranchID != filter.BranchID,
			filter.VariantID > 0 && m.VariantID != filter.VariantID,
			filter.Type != "" && m.Type != filter.Type,
			filter.Direction != "" && m.Direction != filter.Direction,
			filter.ReferenceID > 0 && (m.ReferenceID == nil || *m.ReferenceID != filter.ReferenceID):
			continue
		}
		rows = append(rows, m)
	}
	return paginate(rows, filter.PageRequest), len(rows), nil
}

func (tx *Tx) ListStockMismatches(_ context.Context, branchID int64) ([]inventory.Mismatch, error) {
	ledger := map[stockKey]int64{}
	for _, m := range tx.st.movements {
		if m.BranchID == branchID {
			ledger[stockKey{m.BranchID, m.VariantID}] += m.Signed()
		}
	}
	keys := map[stockKey]struct{}{}
	for k := range ledger {
		keys[k] = struct{}{}
	}
	for k := range tx.st.stock {
		if k.branchID == branchID {
			keys[k] = struct{}{}
		}
	}
	var out []inventory.Mismatch
	for k := range keys {
		cached := tx.st.stock[k].Quantity
		if cached != ledger[k] {
			out = append(out, inventory.Mismatch{BranchID: k.branchID, VariantID: k.variantID, Cached: cached, Ledger: ledger[k]})
		}
	}
	slices.SortFunc(out, func(a, b inventory.Mismatch) int { return cmp.Compare(a.VariantID, b.VariantID) })
	return out, nil
}

func (tx *Tx) ListStockBranches(context.Context) ([]int64, error) {
	seen := map[int64]struct{}{}
	for k := range tx.st.stock {
		seen[k.branchID] = struct{}{}
	}
	for _, m := range tx.st.movements {
		seen[m.BranchID] = struct{}{}
	}
	out := make([]int64, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	slices.Sort(out)
	return out, nil
}
