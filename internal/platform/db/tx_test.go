package db

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-backoffice/internal/shared"
)

type fakeTx struct {
	pgx.Tx
	commitErr  error
	committed  bool
	rolledBack bool
}

func (t *fakeTx) Commit(context.Context) error {
	if t.commitErr != nil {
		return t.commitErr
	}
	t.committed = true
	return nil
}

func (t *fakeTx) Rollback(context.Context) error {
	if !t.committed {
		t.rolledBack = true
	}
	return nil
}

type fakeBeginner struct {
	opts       []pgx.TxOptions
	txs        []*fakeTx
	commitErrs []error
	beginErr   error
}

func (b *fakeBeginner) BeginTx(_ context.Context, opts pgx.TxOptions) (pgx.Tx, error) {
	if b.beginErr != nil {
		return nil, b.beginErr
	}
	b.opts = append(b.opts, opts)
	tx := &fakeTx{}
	if len(b.commitErrs) > 0 {
		tx.commitErr, b.commitErrs = b.commitErrs[0], b.commitErrs[1:]
	}
	b.txs = append(b.txs, tx)
	return tx, nil
}

func serializationFailure() error {
	return &pgconn.PgError{Code: codeSerializationFailure, Message: "could not serialize access due to concurrent update"}
}

func TestClassifyConflicts(t *testing.T) {
	for _, code := range []string{codeSerializationFailure, codeDeadlockDetected, codeUniqueViolation} {
		err := Classify(fmt.Errorf("insert: %w", &pgconn.PgError{Code: code, Message: "boom"}))
		require.ErrorIs(t, err, shared.ErrConflict, code)
		require.True(t, shared.IsRetryable(err))
	}
}

func TestClassifyNoRows(t *testing.T) {
	err := Classify(fmt.Errorf("get: %w", pgx.ErrNoRows))
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestClassifyForeignKeyIsValidation(t *testing.T) {
	err := Classify(fmt.Errorf("insert line: %w", &pgconn.PgError{
		Code:           codeForeignKeyViolation,
		Message:        "insert or update on table \"journal_lines\" violates foreign key constraint",
		ConstraintName: "journal_lines_account_id_fkey",
	}))
	require.ErrorIs(t, err, shared.ErrValidation)
	require.False(t, shared.IsRetryable(err))
}

func TestClassifyPassesThrough(t *testing.T) {
	require.NoError(t, Classify(nil))

	other := &pgconn.PgError{Code: "22001", Message: "value too long"}
	require.Equal(t, error(other), Classify(other))

	domain := fmt.Errorf("%w: short", shared.ErrInsufficientStock)
	require.ErrorIs(t, Classify(domain), shared.ErrInsufficientStock)
}

func TestRunnerRequiresPool(t *testing.T) {
	err := NewRunner(nil, 0, nil).WithTx(context.Background(), func(pgx.Tx) error { return nil })
	require.Error(t, err)
}

func TestRunnerRetriesConflictUntilSuccess(t *testing.T) {
	beginner := &fakeBeginner{}
	var observed []error
	runner := NewRunner(beginner, 5, func(err error) { observed = append(observed, err) })

	calls := 0
	err := runner.WithTx(context.Background(), func(pgx.Tx) error {
		calls++
		if calls < 3 {
			return serializationFailure()
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 3, calls)
	require.Len(t, observed, 2)
	for _, err := range observed {
		require.ErrorIs(t, err, shared.ErrConflict)
	}
	require.Len(t, beginner.txs, 3)
	require.True(t, beginner.txs[0].rolledBack)
	require.True(t, beginner.txs[1].rolledBack)
	require.True(t, beginner.txs[2].committed)
	for _, opts := range beginner.opts {
		require.Equal(t, pgx.ReadCommitted, opts.IsoLevel)
	}
}

func TestRunnerGivesUpAfterMaxAttempts(t *testing.T) {
	beginner := &fakeBeginner{}
	conflicts := 0
	runner := NewRunner(beginner, 3, func(error) { conflicts++ })

	calls := 0
	err := runner.WithTx(context.Background(), func(pgx.Tx) error {
		calls++
		return serializationFailure()
	})
	require.ErrorIs(t, err, shared.ErrConflict)
	require.Equal(t, 3, calls)
	require.Equal(t, 3, conflicts)
	for _, tx := range beginner.txs {
		require.False(t, tx.committed)
	}
}

func TestRunnerRetriesCommitConflict(t *testing.T) {
	beginner := &fakeBeginner{commitErrs: []error{serializationFailure()}}
	runner := NewRunner(beginner, 3, nil)

	calls := 0
	err := runner.WithTx(context.Background(), func(pgx.Tx) error {
		calls++
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 2, calls)
	require.True(t, beginner.txs[1].committed)
}

func TestRunnerDoesNotRetryOtherErrors(t *testing.T) {
	beginner := &fakeBeginner{}
	conflicts := 0
	runner := NewRunner(beginner, 5, func(error) { conflicts++ })

	boom := fmt.Errorf("%w: short", shared.ErrInsufficientStock)
	calls := 0
	err := runner.WithTx(context.Background(), func(pgx.Tx) error {
		calls++
		return boom
	})
	require.ErrorIs(t, err, shared.ErrInsufficientStock)
	require.Equal(t, 1, calls)
	require.Zero(t, conflicts)
	require.True(t, beginner.txs[0].rolledBack)
}

func TestRunnerReportsBeginFailure(t *testing.T) {
	down := errors.New("connection refused")
	runner := NewRunner(&fakeBeginner{beginErr: down}, 3, nil)

	err := runner.WithTx(context.Background(), func(pgx.Tx) error { return nil })
	require.ErrorIs(t, err, down)
}
