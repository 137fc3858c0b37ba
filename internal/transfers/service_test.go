package transfers_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-backoffice/internal/inventory"
	"github.com/odyssey-erp/odyssey-backoffice/internal/shared"
	"github.com/odyssey-erp/odyssey-backoffice/internal/testing/memstore"
	"github.com/odyssey-erp/odyssey-backoffice/internal/transfers"
)

const (
	source      = int64(1)
	destination = int64(2)
)

func newService(t *testing.T) (*transfers.Service, *memstore.Store) {
	t.Helper()
	store := memstore.New()
	stock := inventory.NewService(store.Inventory(), nil)
	return transfers.NewService(store.Transfers(), stock, nil), store
}

func request(items ...transfers.ItemInput) transfers.CreateInput {
	return transfers.CreateInput{FromBranchID: source, ToBranchID: destination, Items: items}
}

func TestCreateReservesStockAtSource(t *testing.T) {
	svc, store := newService(t)
	store.SeedStock(source, 10, 5)
	store.SeedStock(source, 11, 8)

	transfer, err := svc.Create(context.Background(), request(
		transfers.ItemInput{VariantID: 11, Quantity: 3},
		transfers.ItemInput{VariantID: 10, Quantity: 5},
	))
	require.NoError(t, err)
	require.Equal(t, "TRF-001", transfer.ReferenceNo)
	require.Equal(t, transfers.StatusPending, transfer.Status)
	require.Len(t, transfer.Items, 2)

	require.Zero(t, store.Quantity(source, 10))
	require.EqualValues(t, 5, store.Quantity(source, 11))
	require.Zero(t, store.Quantity(destination, 10))

	moves := store.Movements(source, 11)
	last := moves[len(moves)-1]
	require.Equal(t, inventory.MovementTransfer, last.Type)
	require.Equal(t, inventory.DirectionOut, last.Direction)
	require.Equal(t, transfer.ID, *last.ReferenceID)

	next, err := svc.Create(context.Background(), request(transfers.ItemInput{VariantID: 11, Quantity: 1}))
	require.NoError(t, err)
	require.Equal(t, "TRF-002", next.ReferenceNo)
}

func TestCreateWithShortItemRollsBackEverything(t *testing.T) {
	svc, store := newService(t)
	store.SeedStock(source, 10, 5)
	store.SeedStock(source, 11, 3)
	before := store.MovementCount()

	_, err := svc.Create(context.Background(), request(
		transfers.ItemInput{VariantID: 10, Quantity: 2},
		transfers.ItemInput{VariantID: 11, Quantity: 10},
	))
	require.ErrorIs(t, err, shared.ErrInsufficientStock)
	require.Zero(t, store.TransferCount())
	require.Equal(t, before, store.MovementCount())
	require.EqualValues(t, 5, store.Quantity(source, 10))
	require.EqualValues(t, 3, store.Quantity(source, 11))
}

func TestCreateValidation(t *testing.T) {
	svc, store := newService(t)
	ctx := context.Background()

	_, err := svc.Create(ctx, request(transfers.ItemInput{VariantID: 1, Quantity: 0}))
	require.ErrorIs(t, err, shared.ErrInvalidQuantity)

	_, err = svc.Create(ctx, request())
	require.ErrorIs(t, err, shared.ErrValidation)

	same := request(transfers.ItemInput{VariantID: 1, Quantity: 1})
	same.ToBranchID = source
	_, err = svc.Create(ctx, same)
	require.ErrorIs(t, err, shared.ErrValidation)

	require.Zero(t, store.TransferCount())
}

func TestReceiveMovesStockToDestination(t *testing.T) {
	svc, store := newService(t)
	ctx := context.Background()
	store.SeedStock(source, 10, 6)
	transfer, err := svc.Create(ctx, request(transfers.ItemInput{VariantID: 10, Quantity: 4}))
	require.NoError(t, err)

	received, err := svc.Receive(ctx, transfer.ID, 5)
	require.NoError(t, err)
	require.Equal(t, transfers.StatusReceived, received.Status)
	require.EqualValues(t, 2, store.Quantity(source, 10))
	require.EqualValues(t, 4, store.Quantity(destination, 10))
	require.EqualValues(t, 4, store.LedgerQuantity(destination, 10))

	_, err = svc.Receive(ctx, transfer.ID, 5)
	require.ErrorIs(t, err, shared.ErrInvalidState)
	_, err = svc.Cancel(ctx, transfer.ID, 5)
	require.ErrorIs(t, err, shared.ErrInvalidState)
	require.EqualValues(t, 4, store.Quantity(destination, 10))
	require.EqualValues(t, 2, store.Quantity(source, 10))
}

func TestCancelReturnsStockToSource(t *testing.T) {
	svc, store := newService(t)
	ctx := context.Background()
	store.SeedStock(source, 10, 6)
	transfer, err := svc.Create(ctx, request(transfers.ItemInput{VariantID: 10, Quantity: 4}))
	require.NoError(t, err)

	cancelled, err := svc.Cancel(ctx, transfer.ID, 5)
	require.NoError(t, err)
	require.Equal(t, transfers.StatusCancelled, cancelled.Status)
	require.EqualValues(t, 6, store.Quantity(source, 10))
	require.False(t, store.HasStockRow(destination, 10))

	_, err = svc.Cancel(ctx, transfer.ID, 5)
	require.ErrorIs(t, err, shared.ErrInvalidState)
	_, err = svc.Receive(ctx, transfer.ID, 5)
	require.ErrorIs(t, err, shared.ErrInvalidState)

	stored, ok := store.Transfer(transfer.ID)
	require.True(t, ok)
	require.Equal(t, transfers.StatusCancelled, stored.Status)
}

func TestTransitionUnknownTransfer(t *testing.T) {
	svc, _ := newService(t)
	_, err := svc.Receive(context.Background(), 404, 1)
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestListFiltersByBranchAndStatus(t *testing.T) {
	svc, store := newService(t)
	ctx := context.Background()
	store.SeedStock(source, 10, 10)
	first, err := svc.Create(ctx, request(transfers.ItemInput{VariantID: 10, Quantity: 1}))
	require.NoError(t, err)
	_, err = svc.Create(ctx, request(transfers.ItemInput{VariantID: 10, Quantity: 1}))
	require.NoError(t, err)
	_, err = svc.Receive(ctx, first.ID, 1)
	require.NoError(t, err)

	pending, meta, err := svc.List(ctx, transfers.Filter{BranchID: destination, Status: transfers.StatusPending})
	require.NoError(t, err)
	require.Equal(t, 1, meta.Total)
	require.Equal(t, "TRF-002", pending[0].ReferenceNo)

	got, err := svc.Get(ctx, first.ID)
	require.NoError(t, err)
	require.Equal(t, transfers.StatusReceived, got.Status)
	require.Len(t, got.Items, 1)
}
