package sequence

import (
	"context"
	"fmt"
	"regexp"

	"github.com/jackc/pgx/v5"
)

// maxSuffixQueries maps each scope to its table; identifiers never come from input.
var maxSuffixQueries = map[Scope]string{
	ScopeJournalEntry:    `SELECT COALESCE(MAX(CAST(substring(code FROM $2) AS BIGINT)), 0) FROM journal_entries WHERE code ~ $1`,
	ScopeProductTransfer: `SELECT COALESCE(MAX(CAST(substring(reference_no FROM $2) AS BIGINT)), 0) FROM product_transfers WHERE reference_no ~ $1`,
	ScopeRequisition:     `SELECT COALESCE(MAX(CAST(substring(code FROM $2) AS BIGINT)), 0) FROM requisitions WHERE code ~ $1`,
}

// TxStore allocates codes inside a pgx transaction.
type TxStore struct {
	tx pgx.Tx
}

// NewTxStore binds the store to tx.
func NewTxStore(tx pgx.Tx) *TxStore {
	return &TxStore{tx: tx}
}

// LockSequence takes a transaction scoped advisory lock on scope and prefix.
func (s *TxStore) LockSequence(ctx context.Context, scope Scope, prefix string) error {
	_, err := s.tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, string(scope)+":"+prefix)
	return err
}

// MaxCodeSuffix reads the highest numeric suffix within the scope.
func (s *TxStore) MaxCodeSuffix(ctx context.Context, scope Scope, prefix string) (int64, error) {
	query, ok := maxSuffixQueries[scope]
	if !ok {
		return 0, fmt.Errorf("sequence: no table for scope %q", scope)
	}
	pattern := "^" + regexp.QuoteMeta(prefix) + "-[0-9]+$"
	suffix := "^" + regexp.QuoteMeta(prefix) + "-([0-9]+)$"
	var highest int64
	if err := s.tx.QueryRow(ctx, query, pattern, suffix).Scan(&highest); err != nil {
		return 0, err
	}
	return highest, nil
}
