package payment

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// ManualGateway 是线下收款（到店付款、银行转账）的网关实现：
// 扣款即登记，退款由店员线下处理后登记。按幂等键去重。
type ManualGateway struct {
	mu       sync.Mutex
	captures map[string]CaptureResult
	refunds  map[string]RefundResult
	captured map[string]decimal.Decimal // reference -> 剩余可退金额
	logger   *zap.Logger
}

// NewManualGateway 创建线下收款网关
func NewManualGateway(logger *zap.Logger) *ManualGateway {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ManualGateway{
		captures: make(map[string]CaptureResult),
		refunds:  make(map[string]RefundResult),
		captured: make(map[string]decimal.Decimal),
		logger:   logger,
	}
}

// Capture 登记一笔收款
func (g *ManualGateway) Capture(ctx context.Context, req CaptureRequest) (CaptureResult, error) {
	if err := ctx.Err(); err != nil {
		return CaptureResult{}, err
	}
	if req.Amount.IsNegative() {
		return CaptureResult{}, fmt.Errorf("%w: negative capture amount", ErrDeclined)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if res, ok := g.captures[req.IdempotencyKey]; ok && req.IdempotencyKey != "" {
		return res, nil
	}
	res := CaptureResult{
		Reference: "man_" + uuid.NewString(),
		Amount:    req.Amount,
	}
	if req.IdempotencyKey != "" {
		g.captures[req.IdempotencyKey] = res
	}
	g.captured[res.Reference] = req.Amount

	g.logger.Info("manual payment captured",
		zap.Int64("order_id", req.OrderID),
		zap.String("reference", res.Reference),
		zap.String("amount", req.Amount.StringFixed(2)),
	)
	return res, nil
}

// Refund 登记一笔退款，已知收款的退款金额不能超过剩余可退金额
func (g *ManualGateway) Refund(ctx context.Context, req RefundRequest) (RefundResult, error) {
	if err := ctx.Err(); err != nil {
		return RefundResult{}, err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if res, ok := g.refunds[req.IdempotencyKey]; ok && req.IdempotencyKey != "" {
		return res, nil
	}
	if !req.Amount.IsPositive() {
		return RefundResult{}, fmt.Errorf("%w: refund amount must be positive", ErrDeclined)
	}
	// 进程重启前的收款不在内存中，此时只做登记
	if remaining, ok := g.captured[req.CaptureReference]; ok {
		if req.Amount.GreaterThan(remaining) {
			return RefundResult{}, fmt.Errorf("%w: refund %s exceeds remaining %s", ErrDeclined, req.Amount, remaining)
		}
		g.captured[req.CaptureReference] = remaining.Sub(req.Amount)
	}

	res := RefundResult{Reference: "mre_" + uuid.NewString()}
	if req.IdempotencyKey != "" {
		g.refunds[req.IdempotencyKey] = res
	}

	g.logger.Info("manual refund recorded",
		zap.String("capture_reference", req.CaptureReference),
		zap.String("reference", res.Reference),
		zap.String("amount", req.Amount.StringFixed(2)),
	)
	return res, nil
}
