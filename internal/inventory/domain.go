package inventory

import (
	"errors"
	"fmt"
	"time"

	"github.com/odyssey-erp/odyssey-backoffice/internal/shared"
)

// Direction tells whether a movement adds to or removes from stock.
type Direction string

const (
	DirectionIn  Direction = "IN"
	DirectionOut Direction = "OUT"
)

// MovementType enumerates the business events that move stock.
type MovementType string

const (
	MovementPurchase   MovementType = "PURCHASE"
	MovementSale       MovementType = "SALE"
	MovementTransfer   MovementType = "TRANSFER"
	MovementAdjustment MovementType = "ADJUSTMENT"
	MovementReturn     MovementType = "RETURN"
)

// ErrStockNotFound indicates there is no stock row for the pair yet. Callers treat
// it as a zero quantity.
var ErrStockNotFound = errors.New("inventory stock not found")

// Stock is the cached quantity of one variant at one branch.
type Stock struct {
	BranchID  int64     `json:"branch_id"`
	VariantID int64     `json:"variant_id"`
	Quantity  int64     `json:"quantity"`
	UpdatedAt time.Time `json:"updated_at"`
}

// StockTransaction is one append-only movement record.
type StockTransaction struct {
	ID          int64        `json:"id"`
	BranchID    int64        `json:"branch_id"`
	VariantID   int64        `json:"variant_id"`
	Type        MovementType `json:"type"`
	ReferenceID *int64       `json:"reference_id,omitempty"`
	Quantity    int64        `json:"quantity"`
	Direction   Direction    `json:"direction"`
	CreatedBy   int64        `json:"created_by,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
}

// Signed returns the quantity with the direction applied.
func (t StockTransaction) Signed() int64 {
	if t.Direction == DirectionOut {
		return -t.Quantity
	}
	return t.Quantity
}

// MoveInput describes a single stock movement.
type MoveInput struct {
	BranchID    int64        `json:"branch_id" validate:"required,gt=0"`
	VariantID   int64        `json:"variant_id" validate:"required,gt=0"`
	Quantity    int64        `json:"quantity"`
	Direction   Direction    `json:"direction" validate:"required,oneof=IN OUT"`
	Type        MovementType `json:"type" validate:"required,oneof=PURCHASE SALE TRANSFER ADJUSTMENT RETURN"`
	ReferenceID *int64       `json:"reference_id,omitempty" validate:"omitempty,gt=0"`
	ActorID     int64        `json:"-"`
}

// Validate checks the quantity first, then the remaining fields.
func (in MoveInput) Validate() error {
	if in.Quantity <= 0 {
		return fmt.Errorf("inventory: %w: got %d", shared.ErrInvalidQuantity, in.Quantity)
	}
	if err := shared.ValidateStruct(in); err != nil {
		return fmt.Errorf("inventory: %w", err)
	}
	return nil
}

// ItemInput is the payload of the purchase, sale and return wrappers.
type ItemInput struct {
	BranchID    int64  `json:"branch_id"`
	VariantID   int64  `json:"variant_id"`
	Quantity    int64  `json:"quantity"`
	ReferenceID *int64 `json:"reference_id,omitempty"`
	ActorID     int64  `json:"-"`
}

func (in ItemInput) move(direction Direction, kind MovementType) MoveInput {
	return MoveInput{
		BranchID:    in.BranchID,
		VariantID:   in.VariantID,
		Quantity:    in.Quantity,
		Direction:   direction,
		Type:        kind,
		ReferenceID: in.ReferenceID,
		ActorID:     in.ActorID,
	}
}

// AdjustInput carries a signed correction; a positive delta adds stock.
type AdjustInput struct {
	BranchID    int64  `json:"branch_id"`
	VariantID   int64  `json:"variant_id"`
	Delta       int64  `json:"delta"`
	ReferenceID *int64 `json:"reference_id,omitempty"`
	ActorID     int64  `json:"-"`
}

// ReturnInput records goods coming back from a customer, or going back to a
// supplier when ToSupplier is set.
type ReturnInput struct {
	ItemInput
	ToSupplier bool `json:"to_supplier"`
}

// MovementFilter narrows movement listings. Zero values match everything.
type MovementFilter struct {
	BranchID    int64
	VariantID   int64
	Type        MovementType
	Direction   Direction
	ReferenceID int64
	shared.PageRequest
}

// Mismatch is a pair whose cached quantity differs from its movement log.
type Mismatch struct {
	BranchID  int64 `json:"branch_id"`
	VariantID int64 `json:"variant_id"`
	Cached    int64 `json:"cached"`
	Ledger    int64 `json:"ledger"`
}
