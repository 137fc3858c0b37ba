package transfers

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-backoffice/internal/inventory"
	"github.com/odyssey-erp/odyssey-backoffice/internal/platform/db"
	"github.com/odyssey-erp/odyssey-backoffice/internal/sequence"
	"github.com/odyssey-erp/odyssey-backoffice/internal/shared"
)

// TxRepository exposes transfer persistence plus the stock and sequence operations
// a transfer drives inside the same transaction.
type TxRepository interface {
	inventory.TxRepository
	sequence.Store

	InsertTransfer(ctx context.Context, t Transfer) (Transfer, error)
	InsertTransferItems(ctx context.Context, transferID int64, items []ItemInput) ([]Item, error)
	GetTransfer(ctx context.Context, transferID int64) (Transfer, error)
	GetTransferForUpdate(ctx context.Context, transferID int64) (Transfer, error)
	UpdateTransferStatus(ctx context.Context, transferID int64, status Status) (time.Time, error)
	ListTransfers(ctx context.Context, filter Filter) ([]Transfer, int, error)
}

// Repository persists transfers in PostgreSQL.
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
		return errors.New("transfers repository not initialised")
	}
	return r.runner.WithTx(ctx, func(tx pgx.Tx) error {
		return fn(ctx, NewTxRepository(tx))
	})
}

type txRepository struct {
	inventory.TxRepository
	*sequence.TxStore
	tx pgx.Tx
}

// NewTxRepository binds transfer, stock and sequence queries to one transaction.
func NewTxRepository(tx pgx.Tx) TxRepository {
	return &txRepository{
		TxRepository: inventory.NewTxRepository(tx),
		TxStore:      sequence.NewTxStore(tx),
		tx:           tx,
	}
}

const transferColumns = `id, from_branch_id, to_branch_id, reference_no, status, COALESCE(created_by, 0), created_at, updated_at`

func scanTransfer(row pgx.Row) (Transfer, error) {
	var t Transfer
	err := row.Scan(&t.ID, &t.FromBranchID, &t.ToBranchID, &t.ReferenceNo, &t.Status, &t.CreatedBy, &t.CreatedAt, &t.UpdatedAt)
	return t, err
}

func (r *txRepository) InsertTransfer(ctx context.Context, t Transfer) (Transfer, error) {
	err := r.tx.QueryRow(ctx, `INSERT INTO product_transfers (from_branch_id, to_branch_id, reference_no, status, created_by)
VALUES ($1,$2,$3,$4,$5) RETURNING id, created_at, updated_at`,
		t.FromBranchID, t.ToBranchID, t.ReferenceNo, t.Status, nullInt(t.CreatedBy)).
		Scan(&t.ID, &t.CreatedAt, &t.UpdatedAt)
	return t, err
}

func (r *txRepository) InsertTransferItems(ctx context.Context, transferID int64, items []ItemInput) ([]Item, error) {
	out := make([]Item, 0, len(items))
	for _, in := range items {
		item := Item{TransferID: transferID, VariantID: in.VariantID, Quantity: in.Quantity}
		if err := r.tx.QueryRow(ctx, `INSERT INTO product_transfer_items (transfer_id, product_variant_id, quantity)
VALUES ($1,$2,$3) RETURNING id`, transferID, in.VariantID, in.Quantity).Scan(&item.ID); err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, nil
}

func (r *txRepository) getTransfer(ctx context.Context, transferID int64, lock string) (Transfer, error) {
	t, err := scanTransfer(r.tx.QueryRow(ctx, `SELECT `+transferColumns+` FROM product_transfers WHERE id=$1 `+lock, transferID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Transfer{}, fmt.Errorf("transfers: transfer %d: %w", transferID, shared.ErrNotFound)
		}
		return Transfer{}, err
	}
	if t.Items, err = r.listItems(ctx, transferID); err != nil {
		return Transfer{}, err
	}
	return t, nil
}

func (r *txRepository) GetTransfer(ctx context.Context, transferID int64) (Transfer, error) {
	return r.getTransfer(ctx, transferID, "")
}

// GetTransferForUpdate locks the header so status checks and transitions serialise.
func (r *txRepository) GetTransferForUpdate(ctx context.Context, transferID int64) (Transfer, error) {
	return r.getTransfer(ctx, transferID, "FOR UPDATE")
}

func (r *txRepository) listItems(ctx context.Context, transferID int64) ([]Item, error) {
	rows, err := r.tx.Query(ctx, `SELECT id, transfer_id, product_variant_id, quantity
FROM product_transfer_items WHERE transfer_id=$1 ORDER BY id`, transferID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	items := []Item{}
	for rows.Next() {
		var it Item
		if err := rows.Scan(&it.ID, &it.TransferID, &it.VariantID, &it.Quantity); err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

func (r *txRepository) UpdateTransferStatus(ctx context.Context, transferID int64, status Status) (time.Time, error) {
	var updatedAt time.Time
	err := r.tx.QueryRow(ctx, `UPDATE product_transfers SET status=$2, updated_at=NOW() WHERE id=$1 RETURNING updated_at`, transferID, status).
		Scan(&updatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return time.Time{}, fmt.Errorf("transfers: transfer %d: %w", transferID, shared.ErrNotFound)
	}
	return updatedAt, err
}

func (r *txRepository) ListTransfers(ctx context.Context, filter Filter) ([]Transfer, int, error) {
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
	if err := r.tx.QueryRow(ctx, `SELECT COUNT(*) FROM product_transfers`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	page := filter.PageRequest.Normalize()
	args = append(args, page.PerPage, page.Offset())
	rows, err := r.tx.Query(ctx, fmt.Sprintf(`SELECT %s FROM product_transfers%s ORDER BY id DESC LIMIT $%d OFFSET $%d`,
		transferColumns, where, len(args)-1, len(args)), args...)
	if err != nil {
		return nil, 0, err
	}
	transfers, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Transfer, error) {
		return scanTransfer(row)
	})
	if err != nil {
		return nil, 0, err
	}
	for i := range transfers {
		if transfers[i].Items, err = r.listItems(ctx, transfers[i].ID); err != nil {
			return nil, 0, err
		}
	}
	if transfers == nil {
		transfers = []Transfer{}
	}
	return transfers, total, nil
}

func nullInt(val int64) any {
	if val == 0 {
		return nil
	}
	return val
}
