// Package requisitions records stock requests between branches and converts an
// approved request into exactly one transfer.
package requisitions

import (
	"fmt"
	"time"

	"github.com/odyssey-erp/odyssey-backoffice/internal/shared"
	"github.com/odyssey-erp/odyssey-backoffice/internal/transfers"
)

// CodePrefix labels requisition codes (REQ-001).
const CodePrefix = "REQ"

// Status enumerates requisition decisions.
type Status string

const (
	StatusPending  Status = "PENDING"
	StatusApproved Status = "APPROVED"
	StatusRejected Status = "REJECTED"
)

// Requisition asks FromBranchID to ship items to ToBranchID.
type Requisition struct {
	ID           int64      `json:"id"`
	Code         string     `json:"code"`
	FromBranchID int64      `json:"from_branch_id"`
	ToBranchID   int64      `json:"to_branch_id"`
	CreatedBy    int64      `json:"created_by,omitempty"`
	Status       Status     `json:"status"`
	TransferID   *int64     `json:"transfer_id,omitempty"`
	DecidedBy    *int64     `json:"decided_by,omitempty"`
	DecidedAt    *time.Time `json:"decided_at,omitempty"`
	Note         string     `json:"note,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	Items        []Item     `json:"items"`
}

// Processed reports whether the requisition already produced a transfer.
func (r Requisition) Processed() bool {
	return r.TransferID != nil || r.Status == StatusApproved
}

// TransferInput maps the requisition onto a transfer request.
func (r Requisition) TransferInput(actorID int64) transfers.CreateInput {
	items := make([]transfers.ItemInput, 0, len(r.Items))
	for _, it := range r.Items {
		items = append(items, transfers.ItemInput{VariantID: it.VariantID, Quantity: it.Quantity})
	}
	return transfers.CreateInput{
		FromBranchID: r.FromBranchID,
		ToBranchID:   r.ToBranchID,
		Items:        items,
		ActorID:      actorID,
	}
}

// Item is one requested variant.
type Item struct {
	ID            int64 `json:"id"`
	RequisitionID int64 `json:"requisition_id"`
	VariantID     int64 `json:"variant_id"`
	Quantity      int64 `json:"quantity"`
}

// ItemInput describes a requested variant.
type ItemInput struct {
	VariantID int64 `json:"variant_id" validate:"required,gt=0"`
	Quantity  int64 `json:"quantity"`
}

// CreateInput carries a new requisition.
type CreateInput struct {
	FromBranchID int64       `json:"from_branch_id" validate:"required,gt=0"`
	ToBranchID   int64       `json:"to_branch_id" validate:"required,gt=0,nefield=FromBranchID"`
	Note         string      `json:"note,omitempty" validate:"max=500"`
	Items        []ItemInput `json:"items" validate:"required,min=1,dive"`
	ActorID      int64       `json:"-"`
}

// Validate ensures branches differ and every item has a positive quantity.
func (in CreateInput) Validate() error {
	for idx, item := range in.Items {
		if item.Quantity <= 0 {
			return fmt.Errorf("requisitions: %w: item %d quantity %d", shared.ErrInvalidQuantity, idx, item.Quantity)
		}
	}
	if err := shared.ValidateStruct(in); err != nil {
		return fmt.Errorf("requisitions: %w", err)
	}
	return nil
}

// Filter narrows requisition listings. BranchID matches either side.
type Filter struct {
	BranchID int64
	Status   Status
	shared.PageRequest
}
