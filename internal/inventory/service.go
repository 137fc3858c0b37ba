package inventory

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/odyssey-erp/odyssey-backoffice/internal/platform/cache"
	"github.com/odyssey-erp/odyssey-backoffice/internal/shared"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// CachePort is the read-through cache used for stock lookups.
type CachePort interface {
	FetchJSON(ctx context.Context, key string, dest any, loader func(context.Context) (any, error)) error
	Invalidate(ctx context.Context, keys ...string) error
}

// MetricsPort counts committed movements.
type MetricsPort interface {
	StockMoved(kind string, direction string)
}

// DefaultReconcileConcurrency bounds parallel branch checks in ReconcileAll.
const DefaultReconcileConcurrency = 4

// Service coordinates inventory operations.
type Service struct {
	repo    RepositoryPort
	audit   AuditPort
	cache   CachePort
	metrics MetricsPort
	now     func() time.Time
}

// NewService builds Service.
func NewService(repo RepositoryPort, audit AuditPort) *Service {
	return &Service{repo: repo, audit: audit, now: time.Now}
}

// WithCache enables read-through caching of stock lookups.
func (s *Service) WithCache(c CachePort) {
	s.cache = c
}

// WithMetrics attaches a metrics sink.
func (s *Service) WithMetrics(m MetricsPort) {
	s.metrics = m
}

// MoveStock applies one movement in its own unit of work. A request key in ctx is
// claimed in the same unit of work, so a resent request fails with
// shared.ErrIdempotencyConflict instead of moving stock twice.
func (s *Service) MoveStock(ctx context.Context, input MoveInput) (StockTransaction, error) {
	if input.ActorID == 0 {
		input.ActorID = shared.ActorFromContext(ctx)
	}
	if err := input.Validate(); err != nil {
		return StockTransaction{}, err
	}
	key := shared.IdempotencyKeyFromContext(ctx)
	var txn StockTransaction
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if key != "" {
			if err := tx.ClaimIdempotencyKey(ctx, key); err != nil {
				return fmt.Errorf("inventory: key %q: %w", key, err)
			}
		}
		var err error
		txn, err = s.MoveInTx(ctx, tx, input)
		return err
	})
	if err != nil {
		return StockTransaction{}, err
	}
	s.AfterCommit(ctx, txn)
	if s.audit != nil {
		_ = s.audit.Record(ctx, shared.AuditLog{
			ActorID:  input.ActorID,
			Action:   fmt.Sprintf("inventory:%s", txn.Type),
			Entity:   "stock_transaction",
			EntityID: strconv.FormatInt(txn.ID, 10),
			Meta: map[string]any{
				"branch_id":  txn.BranchID,
				"variant_id": txn.VariantID,
				"quantity":   txn.Quantity,
				"direction":  txn.Direction,
			},
			At: s.now(),
		})
	}
	return txn, nil
}

// MoveInTx applies one movement inside the caller's unit of work. The stock row is
// locked before it is read; an absent row counts as zero.
func (s *Service) MoveInTx(ctx context.Context, tx TxRepository, input MoveInput) (StockTransaction, error) {
	if err := input.Validate(); err != nil {
		return StockTransaction{}, err
	}
	current, err := tx.GetStockForUpdate(ctx, input.BranchID, input.VariantID)
	missing := errors.Is(err, ErrStockNotFound)
	if err != nil && !missing {
		return StockTransaction{}, err
	}

	switch input.Direction {
	case DirectionOut:
		if missing || current.Quantity < input.Quantity {
			return StockTransaction{}, fmt.Errorf("inventory: %w: branch %d variant %d has %d, need %d",
				shared.ErrInsufficientStock, input.BranchID, input.VariantID, current.Quantity, input.Quantity)
		}
		if _, err := tx.DecrementStock(ctx, input.BranchID, input.VariantID, input.Quantity); err != nil {
			return StockTransaction{}, err
		}
	case DirectionIn:
		if missing {
			_, err = tx.InsertStock(ctx, input.BranchID, input.VariantID, input.Quantity)
		} else {
			_, err = tx.IncrementStock(ctx, input.BranchID, input.VariantID, input.Quantity)
		}
		if err != nil {
			return StockTransaction{}, err
		}
	}

	return tx.InsertStockTransaction(ctx, StockTransaction{
		BranchID:    input.BranchID,
		VariantID:   input.VariantID,
		Type:        input.Type,
		ReferenceID: input.ReferenceID,
		Quantity:    input.Quantity,
		Direction:   input.Direction,
		CreatedBy:   input.ActorID,
	})
}

// AfterCommit publishes committed movements to metrics and drops cached stock.
// Callers composing MoveInTx invoke it once their unit of work has committed.
func (s *Service) AfterCommit(ctx context.Context, txns ...StockTransaction) {
	keys := make([]string, 0, len(txns))
	for _, txn := range txns {
		if s.metrics != nil {
			s.metrics.StockMoved(string(txn.Type), string(txn.Direction))
		}
		keys = append(keys, stockCacheKey(txn.BranchID, txn.VariantID))
	}
	if s.cache != nil && len(keys) > 0 {
		_ = s.cache.Invalidate(ctx, keys...)
	}
}

// ReceivePurchase books goods received from a supplier.
func (s *Service) ReceivePurchase(ctx context.Context, input ItemInput) (StockTransaction, error) {
	return s.MoveStock(ctx, input.move(DirectionIn, MovementPurchase))
}

// RecordSale books goods leaving through a sale.
func (s *Service) RecordSale(ctx context.Context, input ItemInput) (StockTransaction, error) {
	return s.MoveStock(ctx, input.move(DirectionOut, MovementSale))
}

// Adjust books a signed manual correction.
func (s *Service) Adjust(ctx context.Context, input AdjustInput) (StockTransaction, error) {
	move := MoveInput{
		BranchID:    input.BranchID,
		VariantID:   input.VariantID,
		Quantity:    input.Delta,
		Direction:   DirectionIn,
		Type:        MovementAdjustment,
		ReferenceID: input.ReferenceID,
		ActorID:     input.ActorID,
	}
	if input.Delta < 0 {
		move.Quantity = -input.Delta
		move.Direction = DirectionOut
	}
	return s.MoveStock(ctx, move)
}

// RecordReturn books a customer return, or a return to supplier.
func (s *Service) RecordReturn(ctx context.Context, input ReturnInput) (StockTransaction, error) {
	direction := DirectionIn
	if input.ToSupplier {
		direction = DirectionOut
	}
	return s.MoveStock(ctx, input.move(direction, MovementReturn))
}

// GetStock returns the cached quantity; a pair never moved reads as zero.
func (s *Service) GetStock(ctx context.Context, branchID, variantID int64) (Stock, error) {
	if branchID <= 0 || variantID <= 0 {
		return Stock{}, fmt.Errorf("inventory: %w: branch and variant required", shared.ErrValidation)
	}
	load := func(ctx context.Context) (any, error) {
		var stock Stock
		err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			var err error
			stock, err = tx.GetStock(ctx, branchID, variantID)
			if errors.Is(err, ErrStockNotFound) {
				stock, err = Stock{BranchID: branchID, VariantID: variantID}, nil
			}
			return err
		})
		return stock, err
	}
	if s.cache == nil {
		value, err := load(ctx)
		if err != nil {
			return Stock{}, err
		}
		return value.(Stock), nil
	}
	var stock Stock
	if err := s.cache.FetchJSON(ctx, stockCacheKey(branchID, variantID), &stock, load); err != nil {
		return Stock{}, err
	}
	return stock, nil
}

// ListStock pages through one branch's stock rows.
func (s *Service) ListStock(ctx context.Context, branchID int64, page shared.PageRequest) ([]Stock, shared.Pagination, error) {
	if branchID <= 0 {
		return nil, shared.Pagination{}, fmt.Errorf("inventory: %w: branch required", shared.ErrValidation)
	}
	page = page.Normalize()
	var (
		rows  []Stock
		total int
	)
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		rows, total, err = tx.ListStock(ctx, branchID, page)
		return err
	})
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	return rows, shared.NewPagination(page.Page, page.PerPage, total), nil
}

// ListMovements pages through the movement log, newest first.
func (s *Service) ListMovements(ctx context.Context, filter MovementFilter) ([]StockTransaction, shared.Pagination, error) {
	filter.PageRequest = filter.PageRequest.Normalize()
	var (
		rows  []StockTransaction
		total int
	)
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		rows, total, err = tx.ListMovements(ctx, filter)
		return err
	})
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	return rows, shared.NewPagination(filter.Page, filter.PerPage, total), nil
}

// Reconcile returns every pair of the branch whose cached quantity differs from
// the sum of its movements. Expected empty.
func (s *Service) Reconcile(ctx context.Context, branchID int64) ([]Mismatch, error) {
	var out []Mismatch
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		out, err = tx.ListStockMismatches(ctx, branchID)
		return err
	})
	return out, err
}

// ReconcileAll checks every branch that holds stock, concurrency branches at a time.
func (s *Service) ReconcileAll(ctx context.Context, concurrency int) ([]Mismatch, error) {
	if concurrency <= 0 {
		concurrency = DefaultReconcileConcurrency
	}
	var branches []int64
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		branches, err = tx.ListStockBranches(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}

	results := make([][]Mismatch, len(branches))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for i, branchID := range branches {
		i, branchID := i, branchID
		g.Go(func() error {
			found, err := s.Reconcile(gctx, branchID)
			if err != nil {
				return fmt.Errorf("inventory: reconcile branch %d: %w", branchID, err)
			}
			results[i] = found
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	var out []Mismatch
	for _, found := range results {
		out = append(out, found...)
	}
	return out, nil
}

func stockCacheKey(branchID, variantID int64) string {
	return cache.Key("inventory", "stock", branchID, variantID)
}
