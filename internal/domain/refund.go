package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// RefundStatus 定义退款记录状态
type RefundStatus string

const (
	// RefundStatusPending 已占用退款额度，等待支付网关结果
	RefundStatusPending RefundStatus = "pending"
	// RefundStatusSucceeded 网关已完成退款
	RefundStatusSucceeded RefundStatus = "succeeded"
)

// Refund 表示一笔退款
type Refund struct {
	ID               int64           `json:"id"`
	OrderID          int64           `json:"order_id"`
	Amount           decimal.Decimal `json:"amount"`
	Reason           string          `json:"reason"`
	Actor            string          `json:"actor"`
	Status           RefundStatus    `json:"status"`
	GatewayReference string          `json:"gateway_reference,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
}

// IsRefundable 判断订单状态是否允许退款
func IsRefundable(status OrderStatus) bool {
	return status == OrderStatusCompleted || status == OrderStatusCancelled
}

// RefundOrderRequest 表示退款请求
type RefundOrderRequest struct {
	Amount decimal.Decimal `json:"amount"`
	Reason string          `json:"reason" binding:"required,max=500"`
}

// Validate 校验退款请求
func (r *RefundOrderRequest) Validate() error {
	if !r.Amount.IsPositive() {
		return InvalidInputf("refund amount must be positive")
	}
	if r.Amount.Exponent() < -2 && !r.Amount.Equal(r.Amount.Round(2)) {
		return InvalidInputf("refund amount supports at most two decimal places")
	}
	return nil
}

// RefundSummary 汇总订单退款情况
type RefundSummary struct {
	OrderID       int64           `json:"order_id"`
	OrderTotal    decimal.Decimal `json:"order_total"`
	RefundedTotal decimal.Decimal `json:"refunded_total"`
	Remaining     decimal.Decimal `json:"remaining"`
	Refunds       []*Refund       `json:"refunds"`
}
