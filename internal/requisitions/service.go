package requisitions

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/odyssey-erp/odyssey-backoffice/internal/inventory"
	"github.com/odyssey-erp/odyssey-backoffice/internal/sequence"
	"github.com/odyssey-erp/odyssey-backoffice/internal/shared"
	"github.com/odyssey-erp/odyssey-backoffice/internal/transfers"
)

// RepositoryPort abstracts transactional repository behaviour.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
}

// TransferCreator opens a transfer inside the caller's unit of work.
type TransferCreator interface {
	CreateInTx(ctx context.Context, tx transfers.TxRepository, input transfers.CreateInput) (transfers.Transfer, []inventory.StockTransaction, error)
	AfterCommit(ctx context.Context, movements ...inventory.StockTransaction)
}

// AuditPort records requisition decisions.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service creates, approves and rejects requisitions.
type Service struct {
	repo      RepositoryPort
	transfers TransferCreator
	audit     AuditPort
	now       func() time.Time
}

// NewService constructs the requisition service.
func NewService(repo RepositoryPort, transfers TransferCreator, audit AuditPort) *Service {
	return &Service{repo: repo, transfers: transfers, audit: audit, now: time.Now}
}

// WithNow overrides the clock for testing.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// Create records a pending requisition with its items.
func (s *Service) Create(ctx context.Context, input CreateInput) (Requisition, error) {
	if input.ActorID == 0 {
		input.ActorID = shared.ActorFromContext(ctx)
	}
	if err := input.Validate(); err != nil {
		return Requisition{}, err
	}
	var req Requisition
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		code, err := sequence.Next(ctx, tx, sequence.ScopeRequisition, CodePrefix, sequence.DefaultPad)
		if err != nil {
			return err
		}
		inserted, err := tx.InsertRequisition(ctx, Requisition{
			Code:         code,
			FromBranchID: input.FromBranchID,
			ToBranchID:   input.ToBranchID,
			CreatedBy:    input.ActorID,
			Status:       StatusPending,
			Note:         input.Note,
		})
		if err != nil {
			return err
		}
		if inserted.Items, err = tx.InsertRequisitionItems(ctx, inserted.ID, input.Items); err != nil {
			return err
		}
		req = inserted
		return nil
	})
	if err != nil {
		return Requisition{}, err
	}
	s.record(ctx, input.ActorID, "requisition.create", req, nil)
	return req, nil
}

// Approve converts the requisition into exactly one transfer. The transfer, its
// stock reservation and the approval commit together.
func (s *Service) Approve(ctx context.Context, requisitionID int64, actorID int64) (transfers.Transfer, error) {
	if requisitionID <= 0 {
		return transfers.Transfer{}, fmt.Errorf("requisitions: %w: requisition id required", shared.ErrValidation)
	}
	if actorID == 0 {
		actorID = shared.ActorFromContext(ctx)
	}
	now := s.now()
	var (
		transfer  transfers.Transfer
		movements []inventory.StockTransaction
		req       Requisition
	)
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, err := tx.GetRequisitionForUpdate(ctx, requisitionID)
		if err != nil {
			return err
		}
		if current.Processed() {
			return fmt.Errorf("requisitions: %w: %s already approved", shared.ErrAlreadyProcessed, current.Code)
		}
		if current.Status != StatusPending {
			return fmt.Errorf("requisitions: %w: %s is %s", shared.ErrInvalidState, current.Code, current.Status)
		}
		transfer, movements, err = s.transfers.CreateInTx(ctx, tx, current.TransferInput(actorID))
		if err != nil {
			return err
		}
		if err := tx.MarkRequisitionApproved(ctx, requisitionID, transfer.ID, actorID, now); err != nil {
			return err
		}
		req = current
		return nil
	})
	if err != nil {
		return transfers.Transfer{}, err
	}
	s.transfers.AfterCommit(ctx, movements...)
	s.record(ctx, actorID, "requisition.approve", req, map[string]any{
		"transfer_id":  transfer.ID,
		"reference_no": transfer.ReferenceNo,
	})
	return transfer, nil
}

// Reject closes a pending requisition without moving stock.
func (s *Service) Reject(ctx context.Context, requisitionID int64, actorID int64, note string) (Requisition, error) {
	if requisitionID <= 0 {
		return Requisition{}, fmt.Errorf("requisitions: %w: requisition id required", shared.ErrValidation)
	}
	if actorID == 0 {
		actorID = shared.ActorFromContext(ctx)
	}
	now := s.now()
	var req Requisition
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, err := tx.GetRequisitionForUpdate(ctx, requisitionID)
		if err != nil {
			return err
		}
		if current.Processed() || current.Status != StatusPending {
			return fmt.Errorf("requisitions: %w: %s is %s", shared.ErrAlreadyProcessed, current.Code, current.Status)
		}
		if err := tx.MarkRequisitionRejected(ctx, requisitionID, actorID, note, now); err != nil {
			return err
		}
		current.Status = StatusRejected
		current.Note = note
		current.DecidedAt = &now
		if actorID != 0 {
			current.DecidedBy = &actorID
		}
		req = current
		return nil
	})
	if err != nil {
		return Requisition{}, err
	}
	s.record(ctx, actorID, "requisition.reject", req, map[string]any{"note": note})
	return req, nil
}

// Get returns the requisition with its items.
func (s *Service) Get(ctx context.Context, requisitionID int64) (Requisition, error) {
	var req Requisition
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		req, err = tx.GetRequisition(ctx, requisitionID)
		return err
	})
	return req, err
}

// List pages through requisitions, newest first.
func (s *Service) List(ctx context.Context, filter Filter) ([]Requisition, shared.Pagination, error) {
	filter.PageRequest = filter.PageRequest.Normalize()
	var (
		out   []Requisition
		total int
	)
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		out, total, err = tx.ListRequisitions(ctx, filter)
		return err
	})
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	return out, shared.NewPagination(filter.Page, filter.PerPage, total), nil
}

func (s *Service) record(ctx context.Context, actorID int64, action string, req Requisition, meta map[string]any) {
	if s.audit == nil {
		return
	}
	if meta == nil {
		meta = map[string]any{}
	}
	meta["code"] = req.Code
	_ = s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "requisition",
		EntityID: strconv.FormatInt(req.ID, 10),
		Meta:     meta,
		At:       s.now(),
	})
}
