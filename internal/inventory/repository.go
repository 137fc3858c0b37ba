package inventory

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-backoffice/internal/platform/db"
	"github.com/odyssey-erp/odyssey-backoffice/internal/shared"
)

// TxRepository exposes transactional operations used by service.
type TxRepository interface {
	GetStockForUpdate(ctx context.Context, branchID, variantID int64) (Stock, error)
	InsertStock(ctx context.Context, branchID, variantID, quantity int64) (Stock, error)
	IncrementStock(ctx context.Context, branchID, variantID, quantity int64) (Stock, error)
	DecrementStock(ctx context.Context, branchID, variantID, quantity int64) (Stock, error)
	InsertStockTransaction(ctx context.Context, txn StockTransaction) (StockTransaction, error)
	ClaimIdempotencyKey(ctx context.Context, key string) error

	GetStock(ctx context.Context, branchID, variantID int64) (Stock, error)
	ListStock(ctx context.Context, branchID int64, page shared.PageRequest) ([]Stock, int, error)
	ListMovements(ctx context.Context, filter MovementFilter) ([]StockTransaction, int, error)
	ListStockMismatches(ctx context.Context, branchID int64) ([]Mismatch, error)
	ListStockBranches(ctx context.Context) ([]int64, error)
}

// Repository persists inventory data in PostgreSQL.
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

// WithTx executes the callback inside a read-committed transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("inventory repository not initialised")
	}
	return r.runner.WithTx(ctx, func(tx pgx.Tx) error {
		return fn(ctx, NewTxRepository(tx))
	})
}

const idempotencyModule = "inventory"

type txRepo struct {
	tx pgx.Tx
}

// NewTxRepository binds inventory queries to an open transaction.
func NewTxRepository(tx pgx.Tx) TxRepository {
	return &txRepo{tx: tx}
}

func (r *txRepo) getStock(ctx context.Context, branchID, variantID int64, lock string) (Stock, error) {
	var s Stock
	err := r.tx.QueryRow(ctx, `SELECT branch_id, product_variant_id, quantity, updated_at
FROM inventory_stock WHERE branch_id=$1 AND product_variant_id=$2 `+lock, branchID, variantID).
		Scan(&s.BranchID, &s.VariantID, &s.Quantity, &s.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Stock{BranchID: branchID, VariantID: variantID}, ErrStockNotFound
		}
		return Stock{}, err
	}
	return s, nil
}

// GetStockForUpdate locks the (branch, variant) row until the transaction ends.
func (r *txRepo) GetStockForUpdate(ctx context.Context, branchID, variantID int64) (Stock, error) {
	return r.getStock(ctx, branchID, variantID, "FOR UPDATE")
}

func (r *txRepo) GetStock(ctx context.Context, branchID, variantID int64) (Stock, error) {
	return r.getStock(ctx, branchID, variantID, "")
}

// InsertStock creates the row. A concurrent creator surfaces as a unique violation
// which the unit of work retries as a conflict.
func (r *txRepo) InsertStock(ctx context.Context, branchID, variantID, quantity int64) (Stock, error) {
	s := Stock{BranchID: branchID, VariantID: variantID, Quantity: quantity}
	err := r.tx.QueryRow(ctx, `INSERT INTO inventory_stock (branch_id, product_variant_id, quantity)
VALUES ($1,$2,$3) RETURNING updated_at`, branchID, variantID, quantity).Scan(&s.UpdatedAt)
	return s, err
}

func (r *txRepo) IncrementStock(ctx context.Context, branchID, variantID, quantity int64) (Stock, error) {
	s := Stock{BranchID: branchID, VariantID: variantID}
	err := r.tx.QueryRow(ctx, `UPDATE inventory_stock SET quantity = quantity + $3, updated_at = NOW()
WHERE branch_id=$1 AND product_variant_id=$2 RETURNING quantity, updated_at`, branchID, variantID, quantity).
		Scan(&s.Quantity, &s.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Stock{}, ErrStockNotFound
	}
	return s, err
}

// DecrementStock only applies when the row holds at least quantity.
func (r *txRepo) DecrementStock(ctx context.Context, branchID, variantID, quantity int64) (Stock, error) {
	s := Stock{BranchID: branchID, VariantID: variantID}
	err := r.tx.QueryRow(ctx, `UPDATE inventory_stock SET quantity = quantity - $3, updated_at = NOW()
WHERE branch_id=$1 AND product_variant_id=$2 AND quantity >= $3 RETURNING quantity, updated_at`, branchID, variantID, quantity).
		Scan(&s.Quantity, &s.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Stock{}, fmt.Errorf("inventory: %w: branch %d variant %d", shared.ErrInsufficientStock, branchID, variantID)
	}
	return s, err
}

func (r *txRepo) ClaimIdempotencyKey(ctx context.Context, key string) error {
	return shared.ClaimIdempotencyKey(ctx, r.tx, key, idempotencyModule)
}

func (r *txRepo) InsertStockTransaction(ctx context.Context, txn StockTransaction) (StockTransaction, error) {
	err := r.tx.QueryRow(ctx, `INSERT INTO stock_transactions (branch_id, product_variant_id, type, reference_id, quantity, direction, created_by)
VALUES ($1,$2,$3,$4,$5,$6,$7) RETURNING id, created_at`,
		txn.BranchID, txn.VariantID, txn.Type, txn.ReferenceID, txn.Quantity, txn.Direction, nullInt(txn.CreatedBy)).
		Scan(&txn.ID, &txn.CreatedAt)
	return txn, err
}

func (r *txRepo) ListStock(ctx context.Context, branchID int64, page shared.PageRequest) ([]Stock, int, error) {
	var total int
	if err := r.tx.QueryRow(ctx, `SELECT COUNT(*) FROM inventory_stock WHERE branch_id=$1`, branchID).Scan(&total); err != nil {
		return nil, 0, err
	}
	page = page.Normalize()
	rows, err := r.tx.Query(ctx, `SELECT branch_id, product_variant_id, quantity, updated_at
FROM inventory_stock WHERE branch_id=$1 ORDER BY product_variant_id LIMIT $2 OFFSET $3`, branchID, page.PerPage, page.Offset())
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	out := []Stock{}
	for rows.Next() {
		var s Stock
		if err := rows.Scan(&s.BranchID, &s.VariantID, &s.Quantity, &s.UpdatedAt); err != nil {
			return nil, 0, err
		}
		out = append(out, s)
	}
	return out, total, rows.Err()
}

func (r *txRepo) ListMovements(ctx context.Context, filter MovementFilter) ([]StockTransaction, int, error) {
	var (
		conds []string
		args  []any
	)
	add := func(column string, value any) {
		args = append(args, value)
		conds = append(conds, fmt.Sprintf("%s=$%d", column, len(args)))
	}
	if filter.BranchID > 0 {
		add("branch_id", filter.BranchID)
	}
	if filter.VariantID > 0 {
		add("product_variant_id", filter.VariantID)
	}
	if filter.Type != "" {
		add("type", filter.Type)
	}
	if filter.Direction != "" {
		add("direction", filter.Direction)
	}
	if filter.ReferenceID > 0 {
		add("reference_id", filter.ReferenceID)
	}
	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}
	var total int
	if err := r.tx.QueryRow(ctx, `SELECT COUNT(*) FROM stock_transactions`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	page := filter.PageRequest.Normalize()
	args = append(args, page.PerPage, page.Offset())
	rows, err := r.tx.Query(ctx, fmt.Sprintf(`SELECT id, branch_id, product_variant_id, type, reference_id, quantity, direction, COALESCE(created_by, 0), created_at
FROM stock_transactions%s ORDER BY id DESC LIMIT $%d OFFSET $%d`, where, len(args)-1, len(args)), args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	out := []StockTransaction{}
	for rows.Next() {
		var t StockTransaction
		if err := rows.Scan(&t.ID, &t.BranchID, &t.VariantID, &t.Type, &t.ReferenceID, &t.Quantity, &t.Direction, &t.CreatedBy, &t.CreatedAt); err != nil {
			return nil, 0, err
		}
		out = append(out, t)
	}
	return out, total, rows.Err()
}

// ListStockMismatches compares the cache with the movement log for one branch.
func (r *txRepo) ListStockMismatches(ctx context.Context, branchID int64) ([]Mismatch, error) {
	rows, err := r.tx.Query(ctx, `WITH ledger AS (
	SELECT branch_id, product_variant_id,
		SUM(CASE WHEN direction = 'IN' THEN quantity ELSE -quantity END)::BIGINT AS qty
	FROM stock_transactions WHERE branch_id=$1
	GROUP BY branch_id, product_variant_id
)
SELECT COALESCE(s.branch_id, l.branch_id), COALESCE(s.product_variant_id, l.product_variant_id),
	COALESCE(s.quantity, 0), COALESCE(l.qty, 0)
FROM (SELECT * FROM inventory_stock WHERE branch_id=$1) s
FULL OUTER JOIN ledger l ON l.branch_id = s.branch_id AND l.product_variant_id = s.product_variant_id
WHERE COALESCE(s.quantity, 0) <> COALESCE(l.qty, 0)
ORDER BY 2`, branchID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Mismatch
	for rows.Next() {
		var m Mismatch
		if err := rows.Scan(&m.BranchID, &m.VariantID, &m.Cached, &m.Ledger); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (r *txRepo) ListStockBranches(ctx context.Context) ([]int64, error) {
	rows, err := r.tx.Query(ctx, `SELECT branch_id FROM inventory_stock UNION SELECT branch_id FROM stock_transactions ORDER BY 1`)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[int64])
}

func nullInt(val int64) any {
	if val == 0 {
		return nil
	}
	return val
}
