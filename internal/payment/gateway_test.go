package payment

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v78"

	"github.com/MorseWayne/moto_shop/internal/config"
)

func TestManualGateway_CaptureIdempotent(t *testing.T) {
	g := NewManualGateway(nil)
	ctx := context.Background()
	req := CaptureRequest{OrderID: 1, Amount: decimal.NewFromInt(1000), IdempotencyKey: "order-1-capture"}

	first, err := g.Capture(ctx, req)
	require.NoError(t, err)
	second, err := g.Capture(ctx, req)
	require.NoError(t, err)

	assert.Equal(t, first.Reference, second.Reference)
	assert.True(t, first.Amount.Equal(decimal.NewFromInt(1000)))
}

func TestManualGateway_RefundLimitedByCapture(t *testing.T) {
	g := NewManualGateway(nil)
	ctx := context.Background()
	capture, err := g.Capture(ctx, CaptureRequest{OrderID: 1, Amount: decimal.NewFromInt(1000), IdempotencyKey: "c1"})
	require.NoError(t, err)

	_, err = g.Refund(ctx, RefundRequest{CaptureReference: capture.Reference, Amount: decimal.NewFromInt(600), IdempotencyKey: "r1"})
	require.NoError(t, err)

	_, err = g.Refund(ctx, RefundRequest{CaptureReference: capture.Reference, Amount: decimal.NewFromInt(500), IdempotencyKey: "r2"})
	assert.ErrorIs(t, err, ErrDeclined)

	_, err = g.Refund(ctx, RefundRequest{CaptureReference: capture.Reference, Amount: decimal.NewFromInt(400), IdempotencyKey: "r3"})
	require.NoError(t, err)

	// 重放同一幂等键不会再次扣减
	_, err = g.Refund(ctx, RefundRequest{CaptureReference: capture.Reference, Amount: decimal.NewFromInt(400), IdempotencyKey: "r3"})
	require.NoError(t, err)
}

func TestManualGateway_RefundRejectsNonPositive(t *testing.T) {
	g := NewManualGateway(nil)
	_, err := g.Refund(context.Background(), RefundRequest{CaptureReference: "man_x", Amount: decimal.Zero})
	assert.ErrorIs(t, err, ErrDeclined)
}

func TestNew(t *testing.T) {
	g, err := New(config.PaymentConfig{Provider: "manual"}, nil)
	require.NoError(t, err)
	assert.IsType(t, &ManualGateway{}, g)

	_, err = New(config.PaymentConfig{Provider: "stripe"}, nil)
	assert.Error(t, err)

	_, err = New(config.PaymentConfig{Provider: "paypal"}, nil)
	assert.Error(t, err)
}

type fakeStripeIntents struct {
	lastID     string
	lastParams *stripe.PaymentIntentCaptureParams
	status     stripe.PaymentIntentStatus
	err        error
}

func (f *fakeStripeIntents) Capture(id string, params *stripe.PaymentIntentCaptureParams) (*stripe.PaymentIntent, error) {
	f.lastID, f.lastParams = id, params
	if f.err != nil {
		return nil, f.err
	}
	return &stripe.PaymentIntent{ID: id, Status: f.status, AmountReceived: *params.AmountToCapture}, nil
}

type fakeStripeRefunds struct {
	lastParams *stripe.RefundParams
	err        error
}

func (f *fakeStripeRefunds) New(params *stripe.RefundParams) (*stripe.Refund, error) {
	f.lastParams = params
	if f.err != nil {
		return nil, f.err
	}
	return &stripe.Refund{ID: "re_123", Status: stripe.RefundStatusSucceeded}, nil
}

func TestStripeGateway_Capture(t *testing.T) {
	intents := &fakeStripeIntents{status: stripe.PaymentIntentStatusSucceeded}
	g, err := NewStripeGateway(StripeConfig{intents: intents, refunds: &fakeStripeRefunds{}})
	require.NoError(t, err)

	res, err := g.Capture(context.Background(), CaptureRequest{
		OrderID:        9,
		Amount:         decimal.RequireFromString("129.99"),
		PaymentToken:   "pi_abc",
		IdempotencyKey: "order-9-capture",
	})
	require.NoError(t, err)
	assert.Equal(t, "pi_abc", res.Reference)
	assert.True(t, res.Amount.Equal(decimal.RequireFromString("129.99")))
	assert.Equal(t, int64(12999), *intents.lastParams.AmountToCapture)
	assert.Equal(t, "order-9-capture", *intents.lastParams.IdempotencyKey)
}

func TestStripeGateway_CaptureFailures(t *testing.T) {
	g, err := NewStripeGateway(StripeConfig{
		intents: &fakeStripeIntents{status: stripe.PaymentIntentStatusRequiresPaymentMethod},
		refunds: &fakeStripeRefunds{},
	})
	require.NoError(t, err)

	_, err = g.Capture(context.Background(), CaptureRequest{Amount: decimal.NewFromInt(10)})
	assert.ErrorIs(t, err, ErrDeclined)

	_, err = g.Capture(context.Background(), CaptureRequest{Amount: decimal.NewFromInt(10), PaymentToken: "pi_x"})
	assert.ErrorIs(t, err, ErrDeclined)

	g.intents = &fakeStripeIntents{err: errors.New("card_declined")}
	_, err = g.Capture(context.Background(), CaptureRequest{Amount: decimal.NewFromInt(10), PaymentToken: "pi_x"})
	assert.ErrorIs(t, err, ErrDeclined)
}

func TestStripeGateway_Refund(t *testing.T) {
	refunds := &fakeStripeRefunds{}
	g, err := NewStripeGateway(StripeConfig{intents: &fakeStripeIntents{}, refunds: refunds})
	require.NoError(t, err)

	res, err := g.Refund(context.Background(), RefundRequest{
		CaptureReference: "pi_abc",
		Amount:           decimal.NewFromInt(600),
		Reason:           "damaged on arrival",
		IdempotencyKey:   "refund-3",
	})
	require.NoError(t, err)
	assert.Equal(t, "re_123", res.Reference)
	assert.Equal(t, "pi_abc", *refunds.lastParams.PaymentIntent)
	assert.Equal(t, int64(60000), *refunds.lastParams.Amount)

	g.refunds = &fakeStripeRefunds{err: errors.New("charge_already_refunded")}
	_, err = g.Refund(context.Background(), RefundRequest{CaptureReference: "pi_abc", Amount: decimal.NewFromInt(1)})
	assert.ErrorIs(t, err, ErrDeclined)
}
