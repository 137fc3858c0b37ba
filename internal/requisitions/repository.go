package requisitions

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-backoffice/internal/platform/db"
	"github.com/odyssey-erp/odyssey-backoffice/internal/shared"
	"github.com/odyssey-erp/odyssey-backoffice/internal/transfers"
)

// TxRepository exposes requisition persistence on top of the transfer workflow's
// transactional operations.
type TxRepository interface {
	transfers.TxRepository

	InsertRequisition(ctx context.Context, req Requisition) (Requisition, error)
	InsertRequisitionItems(ctx context.Context, requisitionID int64, items []ItemInput) ([]Item, error)
	GetRequisition(ctx context.Context, requisitionID int64) (Requisition, error)
	GetRequisitionForUpdate(ctx context.Context, requisitionID int64) (Requisition, error)
	MarkRequisitionApproved(ctx context.Context, requisitionID, transferID, actorID int64, at time.Time) error
	MarkRequisitionRejected(ctx context.Context, requisitionID, actorID int64, note string, at time.Time) error
	ListRequisitions(ctx context.Context, filter Filter) ([]Requisition, int, error)
}

// Repository persists requisitions in PostgreSQL.
type Repository struct {
	runner *db.Runner
}

// NewRepository constructs Repository. A nil runner gets default retry settings.
func NewRepository(pool *pgxpool.Pool, runner *db.Runner) *Repository {
	if runner == nil {
		runner = db.NewRunner(pool, db.DefaultMaxAttempts, nil)
	}
	return &Repository{runner: runner}
}

// WithTx executes fn within a read-committed transaction, retrying on conflicts.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("requisitions repository not initialised")
	}
	return r.runner.WithTx(ctx, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{TxRepository: transfers.NewTxRepository(tx), tx: tx})
	})
}

type txRepository struct {
	transfers.TxRepository
	tx pgx.Tx
}

const requisitionColumns = `id, code, from_branch_id, to_branch_id, COALESCE(created_by, 0), status, transfer_id, decided_by, decided_at, note, created_at, updated_at`

func scanRequisition(row pgx.Row) (Requisition, error) {
	var q Requisition
	err := row.Scan(&q.ID, &q.Code, &q.FromBranchID, &q.ToBranchID, &q.CreatedBy, &q.Status, &q.TransferID, &q.DecidedBy, &q.DecidedAt, &q.Note, &q.CreatedAt, &q.UpdatedAt)
	return q, err
}

func (r *txRepository) InsertRequisition(ctx context.Context, req Requisition) (Requisition, error) {
	err := r.tx.QueryRow(ctx, `INSERT INTO requisitions (code, from_branch_id, to_branch_id, created_by, status, note)
VALUES ($1,$2,$3,$4,$5,$6) RETURNING id, created_at, updated_at`,
		req.Code, req.FromBranchID, req.ToBranchID, nullInt(req.CreatedBy), req.Status, req.Note).
		Scan(&req.ID, &req.CreatedAt, &req.UpdatedAt)
	return req, err
}

func (r *txRepository) InsertRequisitionItems(ctx context.Context, requisitionID int64, items []ItemInput) ([]Item, error) {
	out := make([]Item, 0, len(items))
	for _, in := range items {
		item := Item{RequisitionID: requisitionID, VariantID: in.VariantID, Quantity: in.Quantity}
		if err := r.tx.QueryRow(ctx, `INSERT INTO requisition_items (requisition_id, product_variant_id, quantity)
VALUES ($1,$2,$3) RETURNING id`, requisitionID, in.VariantID, in.Quantity).Scan(&item.ID); err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, nil
}

func (r *txRepository) getRequisition(ctx context.Context, requisitionID int64, lock string) (Requisition, error) {
	req, err := scanRequisition(r.tx.QueryRow(ctx, `SELECT `+requisitionColumns+` FROM requisitions WHERE id=$1 `+lock, requisitionID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Requisition{}, fmt.Errorf("requisitions: requisition %d: %w", requisitionID, shared.ErrNotFound)
		}
		return Requisition{}, err
	}
	if req.Items, err = r.listItems(ctx, requisitionID); err != nil {
		return Requisition{}, err
	}
	return req, nil
}

func (r *txRepository) GetRequisition(ctx context.Context, requisitionID int64) (Requisition, error) {
	return r.getRequisition(ctx, requisitionID, "")
}

// GetRequisitionForUpdate locks the header so only one approval can proceed.
func (r *txRepository) GetRequisitionForUpdate(ctx context.Context, requisitionID int64) (Requisition, error) {
	return r.getRequisition(ctx, requisitionID, "FOR UPDATE")
}

func (r *txRepository) listItems(ctx context.Context, requisitionID int64) ([]Item, error) {
	rows, err := r.tx.Query(ctx, `SELECT id, requisition_id, product_variant_id, quantity
FROM requisition_items WHERE requisition_id=$1 ORDER BY id`, requisitionID)
	if err != nil {
		return nil, err
	}
	items, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Item, error) {
		var it Item
		err := row.Scan(&it.ID, &it.RequisitionID, &it.VariantID, &it.Quantity)
		return it, err
	})
	if items == nil && err == nil {
		items = []Item{}
	}
	return items, err
}

func (r *txRepository) MarkRequisitionApproved(ctx context.Context, requisitionID, transferID, actorID int64, at time.Time) error {
	cmd, err := r.tx.Exec(ctx, `UPDATE requisitions SET status=$2, transfer_id=$3, decided_by=$4, decided_at=$5, updated_at=NOW()
WHERE id=$1 AND transfer_id IS NULL`, requisitionID, StatusApproved, transferID, nullInt(actorID), at)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return fmt.Errorf("requisitions: requisition %d: %w", requisitionID, shared.ErrAlreadyProcessed)
	}
	return nil
}

func (r *txRepository) MarkRequisitionRejected(ctx context.Context, requisitionID, actorID int64, note string, at time.Time) error {
	cmd, err := r.tx.Exec(ctx, `UPDATE requisitions SET status=$2, decided_by=$3, decided_at=$4, note=$5, updated_at=NOW()
WHERE id=$1 AND status=$6`, requisitionID, StatusRejected, nullInt(actorID), at, note, StatusPending)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return fmt.Errorf("requisitions: requisition %d: %w", requisitionID, shared.ErrAlreadyProcessed)
	}
	return nil
}

func (r *txRepository) ListRequisitions(ctx context.Context, filter Filter) ([]Requisition, int, error) {
	var (
		conds []string
		args  []any
	)
	if filter.BranchID > 0 {
		args = append(args, filter.BranchID)
		conds = append(conds, fmt.Sprintf("(from_branch_id=$%d OR to_branch_id=$%d)", len(args), len(args)))
	}
	if filter.Status != "" {
		args = append(args, filter.Status)
		conds = append(conds, fmt.Sprintf("status=$%d", len(args)))
	}
	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}
	var total int
	if err := r.tx.QueryRow(ctx, `SELECT COUNT(*) FROM requisitions`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	page := filter.PageRequest.Normalize()
	args = append(args, page.PerPage, page.Offset())
	rows, err := r.tx.Query(ctx, fmt.Sprintf(`SELECT %s FROM requisitions%s ORDER BY id DESC LIMIT $%d OFFSET $%d`,
		requisitionColumns, where, len(args)-1, len(args)), args...)
	if err != nil {
		return nil, 0, err
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Requisition, error) {
		return scanRequisition(row)
	})
	if err != nil {
		return nil, 0, err
	}
	for i := range out {
		if out[i].Items, err = r.listItems(ctx, out[i].ID); err != nil {
			return nil, 0, err
		}
	}
	if out == nil {
		out = []Requisition{}
	}
	return out, total, nil
}

func nullInt(val int64) any {
	if val == 0 {
		return nil
	}
	return val
}
