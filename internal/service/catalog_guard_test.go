package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MorseWayne/moto_shop/internal/domain"
)

func TestCatalogGuard_ReserveAllOrNothing(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	pads := f.seedProduct(t, "PAD-F", "40.00", 10, 1)
	discs := f.seedProduct(t, "DSC-F", "150.00", 1, 0)

	order := f.placeOrder(t, "", line(pads.ID, 4), line(discs.ID, 2))

	err := f.guard.ReserveForOrder(ctx, order)
	var oos *domain.OutOfStockError
	require.True(t, errors.As(err, &oos), "got %v", err)
	assert.Equal(t, discs.ID, oos.ProductID)
	assert.Equal(t, 2, oos.Requested)
	assert.Equal(t, 1, oos.Available)
	assert.ErrorIs(t, err, domain.ErrOutOfStock)

	assert.Equal(t, 10, f.stock(t, pads.ID), "already reserved line must be compensated")
	assert.Equal(t, 1, f.stock(t, discs.ID))

	history, err := f.ledger.History(ctx, pads.ID, 0)
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, domain.ReasonCorrection, history[0].Reason)
	assert.Equal(t, 4, history[0].QuantityDelta)
	assert.Equal(t, domain.ReasonSale, history[1].Reason)
	assert.Equal(t, -4, history[1].QuantityDelta)
	f.requireConsistent(t, pads.ID)
}

func TestCatalogGuard_ReserveIsIdempotentPerOrder(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	p := f.seedProduct(t, "BAT-12V", "89.00", 6, 1)
	order := f.placeOrder(t, "", line(p.ID, 2), line(p.ID, 1))

	require.NoError(t, f.guard.ReserveForOrder(ctx, order))
	require.NoError(t, f.guard.ReserveForOrder(ctx, order))
	assert.Equal(t, 3, f.stock(t, p.ID), "duplicate lines are merged and reserved once")

	require.NoError(t, f.guard.ReleaseForOrder(ctx, order, domain.ReasonCorrection))
	require.NoError(t, f.guard.ReleaseForOrder(ctx, order, domain.ReasonCorrection))
	assert.Equal(t, 6, f.stock(t, p.ID))
	f.requireConsistent(t, p.ID)
}

func TestCatalogGuard_OnlyPendingOrdersMoveStock(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	p := f.seedProduct(t, "HDL-BAR", "75.00", 4, 0)

	cancelled := f.placeOrder(t, "", line(p.ID, 1))
	_, err := f.orders.CancelOrder(ctx, cancelled.ID, nil, staffActor)
	require.NoError(t, err)
	err = f.guard.ReserveForOrder(ctx, cancelled)
	var transition *domain.TransitionError
	require.True(t, errors.As(err, &transition), "got %v", err)
	assert.Equal(t, domain.OrderStatusCancelled, transition.From)
	assert.Equal(t, 4, f.stock(t, p.ID))

	paid := f.placeOrder(t, "", line(p.ID, 2))
	_, err = f.orders.ConfirmPayment(ctx, paid.ID, nil)
	require.NoError(t, err)
	assert.ErrorIs(t, f.guard.ReleaseForOrder(ctx, paid, domain.ReasonCorrection), domain.ErrIllegalTransition)
	assert.Equal(t, 2, f.stock(t, p.ID))
	f.requireConsistent(t, p.ID)
}
