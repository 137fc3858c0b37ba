package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-backoffice/internal/shared"
)

// PostgreSQL SQLSTATE codes that mean the unit of work lost a race.
const (
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
	codeUniqueViolation      = "23505"
)

// codeForeignKeyViolation means a row referenced a parent that does not exist.
const codeForeignKeyViolation = "23503"

// DefaultMaxAttempts bounds retries of a conflicting unit of work.
const DefaultMaxAttempts = 5

// Isolation is the level every unit of work runs at. A FOR UPDATE wait ends on
// the holder's committed row version, not on a serialization failure.
const Isolation = pgx.ReadCommitted

// ConflictObserver is notified every time a unit of work is retried.
type ConflictObserver func(err error)

// Beginner starts transactions. *pgxpool.Pool satisfies it.
type Beginner interface {
	BeginTx(ctx context.Context, opts pgx.TxOptions) (pgx.Tx, error)
}

// Runner executes units of work against the pool.
type Runner struct {
	db          Beginner
	maxAttempts int
	onConflict  ConflictObserver
}

// NewRunner constructs a Runner. maxAttempts <= 0 uses DefaultMaxAttempts.
func NewRunner(db Beginner, maxAttempts int, onConflict ConflictObserver) *Runner {
	if pool, ok := db.(*pgxpool.Pool); ok && pool == nil {
		db = nil
	}
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	return &Runner{db: db, maxAttempts: maxAttempts, onConflict: onConflict}
}

// WithTx executes fn within a read-committed transaction. Conflicts roll back and
// re-run fn from scratch; when attempts run out the caller gets shared.ErrConflict.
func (r *Runner) WithTx(ctx context.Context, fn func(pgx.Tx) error) error {
	if r == nil || r.db == nil {
		return errors.New("platform/db: runner not initialised")
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(newBackOff(), uint64(r.maxAttempts-1)), ctx)
	return backoff.Retry(func() error {
		err := runOnce(ctx, r.db, fn)
		if err == nil {
			return nil
		}
		if !errors.Is(err, shared.ErrConflict) {
			return backoff.Permanent(err)
		}
		if r.onConflict != nil {
			r.onConflict(err)
		}
		return err
	}, policy)
}

func runOnce(ctx context.Context, db Beginner, fn func(pgx.Tx) error) error {
	tx, err := db.BeginTx(ctx, pgx.TxOptions{IsoLevel: Isolation})
	if err != nil {
		return fmt.Errorf("platform/db: begin tx: %w", err)
	}

	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if err := fn(tx); err != nil {
		return Classify(err)
	}

	if err := tx.Commit(ctx); err != nil {
		return Classify(fmt.Errorf("platform/db: commit tx: %w", err))
	}

	return nil
}

// Classify maps store errors to the shared taxonomy. Already classified errors pass through.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: %v", shared.ErrNotFound, err)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case codeSerializationFailure, codeDeadlockDetected:
			return fmt.Errorf("%w: %s", shared.ErrConflict, pgErr.Message)
		case codeUniqueViolation:
			return fmt.Errorf("%w: %s (%s)", shared.ErrConflict, pgErr.Message, pgErr.ConstraintName)
		case codeForeignKeyViolation:
			return fmt.Errorf("%w: %s (%s)", shared.ErrValidation, pgErr.Message, pgErr.ConstraintName)
		}
	}
	return err
}

func newBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 10 * time.Millisecond
	b.MaxInterval = 250 * time.Millisecond
	b.MaxElapsedTime = 5 * time.Second
	return b
}
