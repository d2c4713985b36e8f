package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MorseWayne/moto_shop/internal/domain"
)

func refundReq(amount string) *domain.RefundOrderRequest {
	return &domain.RefundOrderRequest{Amount: dec(amount), Reason: "returned parts"}
}

func TestRefundService_CumulativeBound(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	p := f.seedProduct(t, "ENG-KIT", "1000.00", 2, 0)
	o := orderIn(t, f, p.ID, domain.OrderStatusCompleted)
	require.True(t, o.Total.Equal(dec("1000")))

	r1, err := f.refunds.RefundOrder(ctx, o.ID, refundReq("600"), staffActor)
	require.NoError(t, err)
	assert.Equal(t, domain.RefundStatusSucceeded, r1.Status)
	assert.NotEmpty(t, r1.GatewayReference)
	assert.Equal(t, "alice#7", r1.Actor)

	_, err = f.refunds.RefundOrder(ctx, o.ID, refundReq("500"), staffActor)
	require.ErrorIs(t, err, domain.ErrRefundExceedsOrderTotal)

	_, err = f.refunds.RefundOrder(ctx, o.ID, refundReq("400"), staffActor)
	require.NoError(t, err)

	summary, err := f.refunds.Summary(ctx, o.ID)
	require.NoError(t, err)
	assert.Len(t, summary.Refunds, 2)
	assert.True(t, summary.RefundedTotal.Equal(dec("1000")))
	assert.True(t, summary.Remaining.IsZero())

	_, err = f.refunds.RefundOrder(ctx, o.ID, refundReq("0.01"), staffActor)
	assert.ErrorIs(t, err, domain.ErrRefundExceedsOrderTotal)

	recorded := f.events.ofType(domain.EventRefundRecorded)
	require.Len(t, recorded, 2)
	last := recorded[1].Payload.(*domain.RefundRecordedPayload)
	assert.True(t, last.RefundedTotal.Equal(dec("1000")))
}

func TestRefundService_Eligibility(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	p := f.seedProduct(t, "FORK-OIL", "30.00", 20, 0)

	for _, status := range []domain.OrderStatus{
		domain.OrderStatusPending, domain.OrderStatusPaid, domain.OrderStatusPreparing, domain.OrderStatusShipped,
	} {
		t.Run(string(status), func(t *testing.T) {
			o := orderIn(t, f, p.ID, status)
			_, err := f.refunds.RefundOrder(ctx, o.ID, refundReq("1"), staffActor)
			assert.ErrorIs(t, err, domain.ErrOrderNotRefundable)
		})
	}

	t.Run("cancelled after payment", func(t *testing.T) {
		o := orderIn(t, f, p.ID, domain.OrderStatusPaid)
		_, err := f.orders.CancelOrder(ctx, o.ID, nil, staffActor)
		require.NoError(t, err)
		_, err = f.refunds.RefundOrder(ctx, o.ID, refundReq("30"), staffActor)
		assert.NoError(t, err)
	})

	t.Run("cancelled before payment has nothing captured", func(t *testing.T) {
		o := orderIn(t, f, p.ID, domain.OrderStatusCancelled)
		_, err := f.refunds.RefundOrder(ctx, o.ID, refundReq("1"), staffActor)
		assert.ErrorIs(t, err, domain.ErrRefundExceedsOrderTotal)
	})

	t.Run("unknown order", func(t *testing.T) {
		_, err := f.refunds.RefundOrder(ctx, 9999, refundReq("1"), staffActor)
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("non-positive amount", func(t *testing.T) {
		_, err := f.refunds.RefundOrder(ctx, 1, refundReq("0"), staffActor)
		assert.ErrorIs(t, err, domain.ErrInvalidInput)
	})
}

func TestRefundService_GatewayFailureLeavesNoRecord(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	p := f.seedProduct(t, "SHOCK-R", "300.00", 2, 0)
	o := orderIn(t, f, p.ID, domain.OrderStatusCompleted)

	f.gateway.setRefundErr(errors.New("processor unavailable"))
	_, err := f.refunds.RefundOrder(ctx, o.ID, refundReq("100"), staffActor)
	require.ErrorIs(t, err, domain.ErrPaymentFailed)

	summary, err := f.refunds.Summary(ctx, o.ID)
	require.NoError(t, err)
	assert.Empty(t, summary.Refunds)
	assert.True(t, summary.Remaining.Equal(dec("300")))

	// 失败的退款不占用额度
	f.gateway.setRefundErr(nil)
	_, err = f.refunds.RefundOrder(ctx, o.ID, refundReq("300"), staffActor)
	require.NoError(t, err)
}
