package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/MorseWayne/moto_shop/internal/domain"
	"github.com/MorseWayne/moto_shop/internal/logger"
	"github.com/MorseWayne/moto_shop/internal/metrics"
	"github.com/MorseWayne/moto_shop/internal/payment"
	"github.com/MorseWayne/moto_shop/internal/repo"
)

// RefundService 记录订单的部分或全额退款。
// 退款分两阶段：先以 pending 记录占用额度，网关成功后标记 succeeded，失败则删除记录。
type RefundService struct {
	store   repo.Store
	gateway payment.Gateway
	events  EventPublisher
	metrics *metrics.Metrics
	logger  *zap.Logger
	timeout time.Duration
	now     func() time.Time
}

// NewRefundService 创建退款服务
func NewRefundService(store repo.Store, gateway payment.Gateway, events EventPublisher,
	m *metrics.Metrics, logger *zap.Logger, timeout time.Duration) *RefundService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &RefundService{
		store:   store,
		gateway: gateway,
		events:  events,
		metrics: m,
		logger:  logger,
		timeout: timeout,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func refundKey(refundID int64) string {
	return fmt.Sprintf("refund-%d", refundID)
}

// RefundOrder 对已完成或已取消的订单退款，累计退款不超过订单实付金额
func (s *RefundService) RefundOrder(ctx context.Context, orderID int64, req *domain.RefundOrderRequest, actor domain.Actor) (*domain.Refund, error) {
	ctx, traceID := logger.EnsureTraceID(ctx)
	if err := req.Validate(); err != nil {
		return nil, err
	}
	amount := req.Amount.Round(2)

	// 1. 锁定订单，校验额度并占用
	var (
		order         *domain.Order
		refund        *domain.Refund
		refundedTotal decimal.Decimal
	)
	err := withTxRetry(ctx, s.store, s.metrics, s.logger, "refund_order", nil,
		func(ctx context.Context, tx repo.Repositories) error {
			o, err := tx.Orders().GetByIDForUpdate(ctx, orderID)
			if err != nil {
				return err
			}
			if o == nil {
				return fmt.Errorf("%w: order %d", domain.ErrNotFound, orderID)
			}
			if !domain.IsRefundable(o.Status) {
				return fmt.Errorf("%w: order %d is %s", domain.ErrOrderNotRefundable, o.ID, o.Status)
			}
			already, err := tx.Refunds().SumByOrder(ctx, o.ID)
			if err != nil {
				return err
			}
			if already.Add(amount).GreaterThan(o.CapturedAmount()) {
				return fmt.Errorf("%w: refunded %s + %s > %s",
					domain.ErrRefundExceedsOrderTotal, already.StringFixed(2), amount.StringFixed(2), o.CapturedAmount().StringFixed(2))
			}
			r := &domain.Refund{
				OrderID:   o.ID,
				Amount:    amount,
				Reason:    strings.TrimSpace(req.Reason),
				Actor:     actor.String(),
				Status:    domain.RefundStatusPending,
				CreatedAt: s.now(),
			}
			if err := tx.Refunds().Create(ctx, r); err != nil {
				return err
			}
			order, refund, refundedTotal = o, r, already.Add(amount)
			return nil
		})
	if err != nil {
		s.metrics.Refund("rejected", 0)
		s.logger.Info("refund rejected",
			zap.String("trace_id", traceID),
			zap.Int64("order_id", orderID),
			zap.String("amount", amount.StringFixed(2)),
			zap.Error(err))
		return nil, err
	}

	// 2. 调用网关退款
	result, err := s.callGateway(ctx, order, refund)
	if err != nil {
		// 3a. 撤销 pending 记录，失败的退款不留痕
		if delErr := s.store.Refunds().Delete(context.WithoutCancel(ctx), refund.ID); delErr != nil {
			s.logger.Error("failed to remove pending refund",
				zap.String("trace_id", traceID),
				zap.Int64("refund_id", refund.ID),
				zap.Error(delErr))
		}
		s.metrics.Refund("gateway_failed", 0)
		s.logger.Warn("refund gateway call failed",
			zap.String("trace_id", traceID),
			zap.Int64("order_id", orderID),
			zap.Int64("refund_id", refund.ID),
			zap.Error(err))
		return nil, fmt.Errorf("%w: %v", domain.ErrPaymentFailed, err)
	}

	// 3b. 标记成功。资金已退回，标记失败时保留 pending 记录继续占用额度。
	if err := s.store.Refunds().MarkSucceeded(context.WithoutCancel(ctx), refund.ID, result.Reference); err != nil {
		s.logger.Error("failed to mark refund succeeded",
			zap.String("trace_id", traceID),
			zap.Int64("refund_id", refund.ID),
			zap.String("gateway_reference", result.Reference),
			zap.Error(err))
	} else {
		refund.Status = domain.RefundStatusSucceeded
	}
	refund.GatewayReference = result.Reference

	s.metrics.Refund("succeeded", amount.InexactFloat64())
	s.logger.Info("refund recorded",
		zap.String("trace_id", traceID),
		zap.Int64("order_id", orderID),
		zap.Int64("refund_id", refund.ID),
		zap.String("amount", amount.StringFixed(2)),
		zap.String("refunded_total", refundedTotal.StringFixed(2)),
		zap.String("actor", refund.Actor))
	publish(ctx, s.events, s.logger, traceID, domain.EventRefundRecorded, &domain.RefundRecordedPayload{
		RefundID:      refund.ID,
		OrderID:       orderID,
		Amount:        amount,
		RefundedTotal: refundedTotal,
	})
	return refund, nil
}

func (s *RefundService) callGateway(ctx context.Context, order *domain.Order, refund *domain.Refund) (payment.RefundResult, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := time.Now()
	res, err := s.gateway.Refund(ctx, payment.RefundRequest{
		CaptureReference: order.PaymentReference,
		Amount:           refund.Amount,
		Reason:           refund.Reason,
		IdempotencyKey:   refundKey(refund.ID),
	})
	s.metrics.PaymentCall("refund", resultLabel(err), time.Since(start).Seconds())
	return res, err
}

// Summary 汇总订单的退款情况
func (s *RefundService) Summary(ctx context.Context, orderID int64) (*domain.RefundSummary, error) {
	order, err := s.store.Orders().GetByID(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to get order: %w", err)
	}
	if order == nil {
		return nil, fmt.Errorf("%w: order %d", domain.ErrNotFound, orderID)
	}
	refunds, err := s.store.Refunds().ListByOrder(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to list refunds: %w", err)
	}
	refunded := decimal.Zero
	for _, r := range refunds {
		refunded = refunded.Add(r.Amount)
	}
	return &domain.RefundSummary{
		OrderID:       orderID,
		OrderTotal:    order.Total,
		RefundedTotal: refunded,
		Remaining:     order.CapturedAmount().Sub(refunded),
		Refunds:       refunds,
	}, nil
}
