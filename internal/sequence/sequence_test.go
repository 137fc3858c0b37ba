package sequence

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-backoffice/internal/shared"
)

type sliceStore struct {
	codes  []string
	locked []string
}

func (s *sliceStore) LockSequence(_ context.Context, scope Scope, prefix string) error {
	s.locked = append(s.locked, string(scope)+":"+prefix)
	return nil
}

func (s *sliceStore) MaxCodeSuffix(_ context.Context, _ Scope, prefix string) (int64, error) {
	return MaxSuffix(s.codes, prefix), nil
}

func TestNextStartsAtOne(t *testing.T) {
	store := &sliceStore{}
	code, err := Next(context.Background(), store, ScopeJournalEntry, "je", 0)
	require.NoError(t, err)
	require.Equal(t, "JE-001", code)
	require.Equal(t, []string{"journal_entries:JE"}, store.locked)
}

func TestNextIncrementsHighestSuffix(t *testing.T) {
	store := &sliceStore{codes: []string{"JE-001", "JE-010", "JE-002", "TRF-099", "JE-x"}}
	code, err := Next(context.Background(), store, ScopeJournalEntry, "JE", 3)
	require.NoError(t, err)
	require.Equal(t, "JE-011", code)
}

func TestNextGrowsPastPad(t *testing.T) {
	store := &sliceStore{codes: []string{"TRF-999"}}
	code, err := Next(context.Background(), store, ScopeProductTransfer, "TRF", 3)
	require.NoError(t, err)
	require.Equal(t, "TRF-1000", code)
}

func TestNextRejectsUnknownScopeAndPrefix(t *testing.T) {
	_, err := Next(context.Background(), &sliceStore{}, Scope("users"), "U", 3)
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = Next(context.Background(), &sliceStore{}, ScopeRequisition, "  ", 3)
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = Next(context.Background(), &sliceStore{}, ScopeRequisition, "RE-Q", 3)
	require.ErrorIs(t, err, shared.ErrValidation)
}

type failingStore struct{}

func (failingStore) LockSequence(context.Context, Scope, string) error {
	return errors.New("lock timeout")
}

func (failingStore) MaxCodeSuffix(context.Context, Scope, string) (int64, error) {
	return 0, nil
}

func TestNextPropagatesLockFailure(t *testing.T) {
	_, err := Next(context.Background(), failingStore{}, ScopeRequisition, "REQ", 3)
	require.ErrorContains(t, err, "lock timeout")
}

func TestParseSuffix(t *testing.T) {
	n, ok := ParseSuffix("REQ-0042", "REQ")
	require.True(t, ok)
	require.EqualValues(t, 42, n)

	_, ok = ParseSuffix("REQX-1", "REQ")
	require.False(t, ok)
	_, ok = ParseSuffix("REQ-", "REQ")
	require.False(t, ok)
}
