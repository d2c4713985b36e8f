// Package payment 封装支付网关：下单支付扣款与订单退款。
package payment

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/MorseWayne/moto_shop/internal/config"
)

// ErrDeclined 表示网关拒绝了本次扣款或退款
var ErrDeclined = errors.New("payment declined")

// CaptureRequest 表示一次扣款
type CaptureRequest struct {
	OrderID  int64
	Amount   decimal.Decimal
	Currency string
	// PaymentToken 由前端完成授权后回传，Stripe 下为 PaymentIntent ID
	PaymentToken   string
	IdempotencyKey string
}

// CaptureResult 表示扣款结果
type CaptureResult struct {
	Reference string
	Amount    decimal.Decimal
}

// RefundRequest 表示一次退款
type RefundRequest struct {
	CaptureReference string
	Amount           decimal.Decimal
	Reason           string
	IdempotencyKey   string
}

// RefundResult 表示退款结果
type RefundResult struct {
	Reference string
}

// Gateway 定义支付网关接口。
// 相同 IdempotencyKey 的重复调用必须返回首次结果且不重复扣款/退款。
type Gateway interface {
	Capture(ctx context.Context, req CaptureRequest) (CaptureResult, error)
	Refund(ctx context.Context, req RefundRequest) (RefundResult, error)
}

// New 按配置创建支付网关
func New(cfg config.PaymentConfig, logger *zap.Logger) (Gateway, error) {
	switch strings.ToLower(cfg.Provider) {
	case "", "manual":
		return NewManualGateway(logger), nil
	case "stripe":
		return NewStripeGateway(StripeConfig{
			SecretKey: cfg.StripeSecretKey,
			AccountID: cfg.StripeAccountID,
			Logger:    logger,
		})
	default:
		return nil, fmt.Errorf("unsupported payment provider %q", cfg.Provider)
	}
}

// minorUnits 将金额换算为最小货币单位（分）
func minorUnits(amount decimal.Decimal) int64 {
	return amount.Mul(decimal.NewFromInt(100)).Round(0).IntPart()
}
