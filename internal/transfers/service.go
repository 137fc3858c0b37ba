package transfers

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strconv"
	"time"

	"github.com/odyssey-erp/odyssey-backoffice/internal/inventory"
	"github.com/odyssey-erp/odyssey-backoffice/internal/sequence"
	"github.com/odyssey-erp/odyssey-backoffice/internal/shared"
)

// RepositoryPort abstracts transactional repository behaviour.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
}

// StockMover applies stock movements inside a caller's unit of work.
type StockMover interface {
	MoveInTx(ctx context.Context, tx inventory.TxRepository, input inventory.MoveInput) (inventory.StockTransaction, error)
	AfterCommit(ctx context.Context, txns ...inventory.StockTransaction)
}

// AuditPort records workflow events.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service drives the transfer state machine.
type Service struct {
	repo  RepositoryPort
	stock StockMover
	audit AuditPort
	now   func() time.Time
}

// NewService constructs the transfer workflow.
func NewService(repo RepositoryPort, stock StockMover, audit AuditPort) *Service {
	return &Service{repo: repo, stock: stock, audit: audit, now: time.Now}
}

// Create inserts the transfer with its items and reserves stock at the source
// branch. Any insufficient item rejects the whole transfer.
func (s *Service) Create(ctx context.Context, input CreateInput) (Transfer, error) {
	if input.ActorID == 0 {
		input.ActorID = shared.ActorFromContext(ctx)
	}
	if err := input.Validate(); err != nil {
		return Transfer{}, err
	}
	var (
		transfer  Transfer
		movements []inventory.StockTransaction
	)
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		transfer, movements, err = s.CreateInTx(ctx, tx, input)
		return err
	})
	if err != nil {
		return Transfer{}, err
	}
	s.AfterCommit(ctx, movements...)
	s.record(ctx, input.ActorID, "transfer.create", transfer)
	return transfer, nil
}

// CreateInTx is Create bound to the caller's unit of work. The returned movements
// must be handed to AfterCommit once the caller commits.
func (s *Service) CreateInTx(ctx context.Context, tx TxRepository, input CreateInput) (Transfer, []inventory.StockTransaction, error) {
	if err := input.Validate(); err != nil {
		return Transfer{}, nil, err
	}
	ref, err := sequence.Next(ctx, tx, sequence.ScopeProductTransfer, ReferencePrefix, sequence.DefaultPad)
	if err != nil {
		return Transfer{}, nil, err
	}
	transfer, err := tx.InsertTransfer(ctx, Transfer{
		FromBranchID: input.FromBranchID,
		ToBranchID:   input.ToBranchID,
		ReferenceNo:  ref,
		Status:       StatusPending,
		CreatedBy:    input.ActorID,
	})
	if err != nil {
		return Transfer{}, nil, err
	}
	if transfer.Items, err = tx.InsertTransferItems(ctx, transfer.ID, input.Items); err != nil {
		return Transfer{}, nil, err
	}
	movements, err := s.move(ctx, tx, transfer, transfer.FromBranchID, inventory.DirectionOut, input.ActorID)
	if err != nil {
		return Transfer{}, nil, err
	}
	return transfer, movements, nil
}

// Receive books the items into the destination branch.
func (s *Service) Receive(ctx context.Context, transferID int64, actorID int64) (Transfer, error) {
	return s.transition(ctx, transferID, actorID, StatusReceived)
}

// Cancel returns the reserved items to the source branch.
func (s *Service) Cancel(ctx context.Context, transferID int64, actorID int64) (Transfer, error) {
	return s.transition(ctx, transferID, actorID, StatusCancelled)
}

func (s *Service) transition(ctx context.Context, transferID int64, actorID int64, next Status) (Transfer, error) {
	if transferID <= 0 {
		return Transfer{}, fmt.Errorf("transfers: %w: transfer id required", shared.ErrValidation)
	}
	if actorID == 0 {
		actorID = shared.ActorFromContext(ctx)
	}
	var (
		transfer  Transfer
		movements []inventory.StockTransaction
	)
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, err := tx.GetTransferForUpdate(ctx, transferID)
		if err != nil {
			return err
		}
		if !current.Status.CanTransition(next) {
			return fmt.Errorf("transfers: %w: %s is %s, cannot become %s", shared.ErrInvalidState, current.ReferenceNo, current.Status, next)
		}
		branchID := current.ToBranchID
		if next == StatusCancelled {
			branchID = current.FromBranchID
		}
		if movements, err = s.move(ctx, tx, current, branchID, inventory.DirectionIn, actorID); err != nil {
			return err
		}
		if current.UpdatedAt, err = tx.UpdateTransferStatus(ctx, transferID, next); err != nil {
			return err
		}
		current.Status = next
		transfer = current
		return nil
	})
	if err != nil {
		return Transfer{}, err
	}
	s.AfterCommit(ctx, movements...)
	action := "transfer.receive"
	if next == StatusCancelled {
		action = "transfer.cancel"
	}
	s.record(ctx, actorID, action, transfer)
	return transfer, nil
}

// move issues one TRANSFER movement per item, in variant order so concurrent
// transfers lock stock rows consistently.
func (s *Service) move(ctx context.Context, tx TxRepository, t Transfer, branchID int64, direction inventory.Direction, actorID int64) ([]inventory.StockTransaction, error) {
	items := slices.Clone(t.Items)
	slices.SortStableFunc(items, func(a, b Item) int { return cmp.Compare(a.VariantID, b.VariantID) })
	ref := t.ID
	out := make([]inventory.StockTransaction, 0, len(items))
	for _, item := range items {
		txn, err := s.stock.MoveInTx(ctx, tx, inventory.MoveInput{
			BranchID:    branchID,
			VariantID:   item.VariantID,
			Quantity:    item.Quantity,
			Direction:   direction,
			Type:        inventory.MovementTransfer,
			ReferenceID: &ref,
			ActorID:     actorID,
		})
		if err != nil {
			return nil, fmt.Errorf("transfers: %s item variant %d: %w", t.ReferenceNo, item.VariantID, err)
		}
		out = append(out, txn)
	}
	return out, nil
}

// AfterCommit forwards committed movements to the stock ledger.
func (s *Service) AfterCommit(ctx context.Context, movements ...inventory.StockTransaction) {
	if s.stock != nil && len(movements) > 0 {
		s.stock.AfterCommit(ctx, movements...)
	}
}

// Get returns the transfer with its items.
func (s *Service) Get(ctx context.Context, transferID int64) (Transfer, error) {
	var transfer Transfer
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		transfer, err = tx.GetTransfer(ctx, transferID)
		return err
	})
	return transfer, err
}

// List pages through transfers, newest first.
func (s *Service) List(ctx context.Context, filter Filter) ([]Transfer, shared.Pagination, error) {
	filter.PageRequest = filter.PageRequest.Normalize()
	var (
		out   []Transfer
		total int
	)
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		out, total, err = tx.ListTransfers(ctx, filter)
		return err
	})
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	return out, shared.NewPagination(filter.Page, filter.PerPage, total), nil
}

func (s *Service) record(ctx context.Context, actorID int64, action string, t Transfer) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "product_transfer",
		EntityID: strconv.FormatInt(t.ID, 10),
		Meta: map[string]any{
			"reference_no": t.ReferenceNo,
			"status":       t.Status,
			"from_branch":  t.FromBranchID,
			"to_branch":    t.ToBranchID,
		},
		At: s.now(),
	})
}
