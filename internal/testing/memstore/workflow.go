package memstore

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/odyssey-erp/odyssey-backoffice/internal/requisitions"
	"github.com/odyssey-erp/odyssey-backoffice/internal/shared"
	"github.com/odyssey-erp/odyssey-backoffice/internal/transfers"
)

func (tx *Tx) InsertTransfer(_ context.Context, t transfers.Transfer) (transfers.Transfer, error) {
	for _, existing := range tx.st.transfers {
		if existing.ReferenceNo == t.ReferenceNo {
			return transfers.Transfer{}, fmt.Errorf("memstore: transfer %s: %w", t.ReferenceNo, shared.ErrConflict)
		}
	}
	t.ID = tx.st.id()
	t.CreatedAt = tx.now()
	t.UpdatedAt = t.CreatedAt
	t.Items = nil
	tx.st.transfers[t.ID] = t
	return t, nil
}

func (tx *Tx) InsertTransferItems(_ context.Context, transferID int64, items []transfers.ItemInput) ([]transfers.Item, error) {
	t, ok := tx.st.transfers[transferID]
	if !ok {
		return nil, notFound("transfer", transferID)
	}
	out := make([]transfers.Item, 0, len(items))
	for _, in := range items {
		out = append(out, transfers.Item{ID: tx.st.id(), TransferID: transferID, VariantID: in.VariantID, Quantity: in.Quantity})
	}
	t.Items = append(slices.Clone(t.Items), out...)
	tx.st.transfers[transferID] = t
	return slices.Clone(out), nil
}

func (tx *Tx) GetTransfer(_ context.Context, transferID int64) (transfers.Transfer, error) {
	t, ok := tx.st.transfers[transferID]
	if !ok {
		return transfers.Transfer{}, notFound("transfer", transferID)
	}
	t.Items = slices.Clone(t.Items)
	return t, nil
}

func (tx *Tx) GetTransferForUpdate(ctx context.Context, transferID int64) (transfers.Transfer, error) {
	return tx.GetTransfer(ctx, transferID)
}

func (tx *Tx) UpdateTransferStatus(_ context.Context, transferID int64, status transfers.Status) (time.Time, error) {
	t, ok := tx.st.transfers[transferID]
	if !ok {
		return time.Time{}, notFound("transfer", transferID)
	}
	t.Status = status
	t.UpdatedAt = tx.now()
	tx.st.transfers[transferID] = t
	return t.UpdatedAt, nil
}

func (tx *Tx) ListTransfers(_ context.Context, filter transfers.Filter) ([]transfers.Transfer, int, error) {
	var rows []transfers.Transfer
	for _, t := range tx.st.transfers {
		if filter.BranchID > 0 && t.FromBranchID != filter.BranchID && t.ToBranchID != filter.BranchID {
			continue
		}
		if filter.Status != "" && t.Status != filter.Status {
			continue
		}
		rows = append(rows, t)
	}
	slices.SortFunc(rows, func(a, b transfers.Transfer) int { return cmp.Compare(b.ID, a.ID) })
	return paginate(rows, filter.PageRequest), len(rows), nil
}

func (tx *Tx) InsertRequisition(_ context.Context, req requisitions.Requisition) (requisitions.Requisition, error) {
	for _, existing := range tx.st.requisitions {
		if existing.Code == req.Code {
			return requisitions.Requisition{}, fmt.Errorf("memstore: requisition %s: %w", req.Code, shared.ErrConflict)
		}
	}
	req.ID = tx.st.id()
	req.CreatedAt = tx.now()
	req.UpdatedAt = req.CreatedAt
	req.Items = nil
	tx.st.requisitions[req.ID] = req
	return req, nil
}

func (tx *Tx) InsertRequisitionItems(_ context.Context, requisitionID int64, items []requisitions.ItemInput) ([]requisitions.Item, error) {
	req, ok := tx.st.requisitions[requisitionID]
	if !ok {
		return nil, notFound("requisition", requisitionID)
	}
	out := make([]requisitions.Item, 0, len(items))
	for _, in := range items {
		out = append(out, requisitions.Item{ID: tx.st.id(), RequisitionID: requisitionID, VariantID: in.VariantID, Quantity: in.Quantity})
	}
	req.Items = append(slices.Clone(req.Items), out...)
	tx.st.requisitions[requisitionID] = req
	return slices.Clone(out), nil
}

func (tx *Tx) GetRequisition(_ context.Context, requisitionID int64) (requisitions.Requisition, error) {
	req, ok := tx.st.requisitions[requisitionID]
	if !ok {
		return requisitions.Requisition{}, notFound("requisition", requisitionID)
	}
	req.Items = slices.Clone(req.Items)
	return req, nil
}

func (tx *Tx) GetRequisitionForUpdate(ctx context.Context, requisitionID int64) (requisitions.Requisition, error) {
	return tx.GetRequisition(ctx, requisitionID)
}

func (tx *Tx) MarkRequisitionApproved(_ context.Context, requisitionID, transferID, actorID int64, at time.Time) error {
	req, ok := tx.st.requisitions[requisitionID]
	if !ok {
		return notFound("requisition", requisitionID)
	}
	if req.TransferID != nil {
		return fmt.Errorf("memstore: requisition %d: %w", requisitionID, shared.ErrAlreadyProcessed)
	}
	req.Status = requisitions.StatusApproved
	req.TransferID = &transferID
	req.DecidedAt = &at
	if actorID != 0 {
		req.DecidedBy = &actorID
	}
	req.UpdatedAt = tx.now()
	tx.st.requisitions[requisitionID] = req
	return nil
}

func (tx *Tx) MarkRequisitionRejected(_ context.Context, requisitionID, actorID int64, note string, at time.Time) error {
	req, ok := tx.st.requisitions[requisitionID]
	if !ok {
		return notFound("requisition", requisitionID)
	}
	if req.Status != requisitions.StatusPending {
		return fmt.Errorf("memstore: requisition %d: %w", requisitionID, shared.ErrAlreadyProcessed)
	}
	req.Status = requisitions.StatusRejected
	req.Note = note
	req.DecidedAt = &at
	if actorID != 0 {
		req.DecidedBy = &actorID
	}
	req.UpdatedAt = tx.now()
	tx.st.requisitions[requisitionID] = req
	return nil
}

func (tx *Tx) ListRequisitions(_ context.Context, filter requisitions.Filter) ([]requisitions.Requisition, int, error) {
	var rows []requisitions.Requisition
	for _, r := range tx.st.requisitions {
		if filter.BranchID > 0 && r.FromBranchID != filter.BranchID && r.ToBranchID != filter.BranchID {
			continue
		}
		if filter.Status != "" && r.Status != filter.Status {
			continue
		}
		rows = append(rows, r)
	}
	slices.SortFunc(rows, func(a, b requisitions.Requisition) int { return cmp.Compare(b.ID, a.ID) })
	return paginate(rows, filter.PageRequest), len(rows), nil
}
