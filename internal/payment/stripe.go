package payment

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"
	"go.uber.org/zap"
)

type stripeIntentAPI interface {
	Capture(id string, params *stripe.PaymentIntentCaptureParams) (*stripe.PaymentIntent, error)
}

type stripeRefundAPI interface {
	New(params *stripe.RefundParams) (*stripe.Refund, error)
}

// StripeConfig 配置 Stripe 网关
type StripeConfig struct {
	SecretKey string
	AccountID string
	Backends  *stripe.Backends
	Logger    *zap.Logger

	// 测试注入
	intents stripeIntentAPI
	refunds stripeRefundAPI
}

// StripeGateway 基于 Stripe PaymentIntent 的手动扣款模式：
// 前端完成授权（requires_capture），付款确认时由服务端 capture。
type StripeGateway struct {
	intents stripeIntentAPI
	refunds stripeRefundAPI
	account string
	logger  *zap.Logger
}

// NewStripeGateway 创建 Stripe 网关
func NewStripeGateway(cfg StripeConfig) (*StripeGateway, error) {
	intents, refunds := cfg.intents, cfg.refunds
	if intents == nil || refunds == nil {
		key := strings.TrimSpace(cfg.SecretKey)
		if key == "" {
			return nil, errors.New("stripe: secret key is required")
		}
		sc := client.New(key, cfg.Backends)
		intents, refunds = sc.PaymentIntents, sc.Refunds
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StripeGateway{
		intents: intents,
		refunds: refunds,
		account: strings.TrimSpace(cfg.AccountID),
		logger:  logger,
	}, nil
}

// Capture 扣款已授权的 PaymentIntent
func (g *StripeGateway) Capture(ctx context.Context, req CaptureRequest) (CaptureResult, error) {
	intentID := strings.TrimSpace(req.PaymentToken)
	if intentID == "" {
		return CaptureResult{}, fmt.Errorf("%w: payment intent id is required", ErrDeclined)
	}

	params := &stripe.PaymentIntentCaptureParams{}
	params.Context = ctx
	if req.IdempotencyKey != "" {
		params.SetIdempotencyKey(req.IdempotencyKey)
	}
	if g.account != "" {
		params.SetStripeAccount(g.account)
	}
	params.AmountToCapture = stripe.Int64(minorUnits(req.Amount))

	intent, err := g.intents.Capture(intentID, params)
	if err != nil {
		return CaptureResult{}, fmt.Errorf("%w: stripe capture: %v", ErrDeclined, err)
	}
	if intent.Status != stripe.PaymentIntentStatusSucceeded {
		return CaptureResult{}, fmt.Errorf("%w: payment intent %s status %s", ErrDeclined, intent.ID, intent.Status)
	}

	g.logger.Info("stripe payment captured",
		zap.Int64("order_id", req.OrderID),
		zap.String("payment_intent", intent.ID),
		zap.Int64("amount_received", intent.AmountReceived),
	)
	return CaptureResult{
		Reference: intent.ID,
		Amount:    decimal.New(intent.AmountReceived, -2),
	}, nil
}

// Refund 对 PaymentIntent 发起部分退款
func (g *StripeGateway) Refund(ctx context.Context, req RefundRequest) (RefundResult, error) {
	params := &stripe.RefundParams{
		PaymentIntent: stripe.String(req.CaptureReference),
		Amount:        stripe.Int64(minorUnits(req.Amount)),
	}
	params.Context = ctx
	if req.IdempotencyKey != "" {
		params.SetIdempotencyKey(req.IdempotencyKey)
	}
	if g.account != "" {
		params.SetStripeAccount(g.account)
	}
	if req.Reason != "" {
		params.AddMetadata("reason", req.Reason)
	}

	refund, err := g.refunds.New(params)
	if err != nil {
		return RefundResult{}, fmt.Errorf("%w: stripe refund: %v", ErrDeclined, err)
	}
	if refund.Status == stripe.RefundStatusFailed || refund.Status == stripe.RefundStatusCanceled {
		return RefundResult{}, fmt.Errorf("%w: refund %s status %s", ErrDeclined, refund.ID, refund.Status)
	}

	g.logger.Info("stripe refund created",
		zap.String("payment_intent", req.CaptureReference),
		zap.String("refund", refund.ID),
		zap.String("status", string(refund.Status)),
	)
	return RefundResult{Reference: refund.ID}, nil
}
