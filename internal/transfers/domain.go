// Package transfers implements the inter-branch transfer workflow. Stock leaves the
// source branch when a transfer is created and either arrives at the destination on
// receipt or returns to the source on cancellation.
package transfers

import (
	"fmt"
	"time"

	"github.com/odyssey-erp/odyssey-backoffice/internal/shared"
)

// ReferencePrefix labels transfer reference numbers (TRF-001).
const ReferencePrefix = "TRF"

// Status enumerates transfer lifecycle values.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusReceived  Status = "RECEIVED"
	StatusCancelled Status = "CANCELLED"
)

// Terminal reports whether no further transition is allowed.
func (s Status) Terminal() bool {
	return s == StatusReceived || s == StatusCancelled
}

// CanTransition reports whether the workflow allows moving from s to next.
func (s Status) CanTransition(next Status) bool {
	return s == StatusPending && next.Terminal()
}

// Transfer is the header of an inter-branch movement with its items.
type Transfer struct {
	ID           int64     `json:"id"`
	FromBranchID int64     `json:"from_branch_id"`
	ToBranchID   int64     `json:"to_branch_id"`
	ReferenceNo  string    `json:"reference_no"`
	Status       Status    `json:"status"`
	CreatedBy    int64     `json:"created_by,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	Items        []Item    `json:"items"`
}

// Item is one variant line of a transfer. Immutable once created.
type Item struct {
	ID         int64 `json:"id"`
	TransferID int64 `json:"transfer_id"`
	VariantID  int64 `json:"variant_id"`
	Quantity   int64 `json:"quantity"`
}

// ItemInput describes an item of a new transfer.
type ItemInput struct {
	VariantID int64 `json:"variant_id" validate:"required,gt=0"`
	Quantity  int64 `json:"quantity"`
}

// CreateInput carries a transfer request.
type CreateInput struct {
	FromBranchID int64       `json:"from_branch_id" validate:"required,gt=0"`
	ToBranchID   int64       `json:"to_branch_id" validate:"required,gt=0,nefield=FromBranchID"`
	Items        []ItemInput `json:"items" validate:"required,min=1,dive"`
	ActorID      int64       `json:"-"`
}

// Validate ensures branches differ, there is at least one item and every
// quantity is positive.
func (in CreateInput) Validate() error {
	for idx, item := range in.Items {
		if item.Quantity <= 0 {
			return fmt.Errorf("transfers: %w: item %d quantity %d", shared.ErrInvalidQuantity, idx, item.Quantity)
		}
	}
	if err := shared.ValidateStruct(in); err != nil {
		return fmt.Errorf("transfers: %w", err)
	}
	return nil
}

// Filter narrows transfer listings. BranchID matches either side.
type Filter struct {
	BranchID int64
	Status   Status
	shared.PageRequest
}
