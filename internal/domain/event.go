package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// EventType 定义领域事件类型，同时作为消息路由键
type EventType string

const (
	EventLowStock           EventType = "inventory.low_stock"
	EventStockAdjusted      EventType = "inventory.adjusted"
	EventOrderStatusChanged EventType = "order.status_changed"
	EventRefundRecorded     EventType = "refund.recorded"
)

// Event 是对外发布的领域事件，订阅方（后台看板、通知）据此刷新
type Event struct {
	ID         string    `json:"id"`
	Type       EventType `json:"type"`
	OccurredAt time.Time `json:"occurred_at"`
	TraceID    string    `json:"trace_id,omitempty"`
	Payload    any       `json:"payload"`
}

// NewEvent 创建领域事件
func NewEvent(eventType EventType, payload any) *Event {
	return &Event{
		ID:         uuid.New().String(),
		Type:       eventType,
		OccurredAt: time.Now(),
		Payload:    payload,
	}
}

// StockAdjustedPayload 库存变动事件数据
type StockAdjustedPayload struct {
	Adjustment *StockAdjustment `json:"adjustment"`
}

// OrderStatusChangedPayload 订单状态变更事件数据
type OrderStatusChangedPayload struct {
	OrderID        int64       `json:"order_id"`
	From           OrderStatus `json:"from"`
	To             OrderStatus `json:"to"`
	TrackingNumber string      `json:"tracking_number,omitempty"`
}

// RefundRecordedPayload 退款完成事件数据
type RefundRecordedPayload struct {
	RefundID      int64           `json:"refund_id"`
	OrderID       int64           `json:"order_id"`
	Amount        decimal.Decimal `json:"amount"`
	RefundedTotal decimal.Decimal `json:"refunded_total"`
}
