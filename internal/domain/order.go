package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// OrderStatus 定义订单状态类型
type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"   // 待支付
	OrderStatusPaid      OrderStatus = "paid"      // 已支付
	OrderStatusPreparing OrderStatus = "preparing" // 备货中
	OrderStatusShipped   OrderStatus = "shipped"   // 已发货
	OrderStatusCompleted OrderStatus = "completed" // 已完成
	OrderStatusCancelled OrderStatus = "cancelled" // 已取消
)

// orderTransitions 是订单状态迁移表，未列出的迁移一律非法。
var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusPending:   {OrderStatusPaid, OrderStatusCancelled},
	OrderStatusPaid:      {OrderStatusPreparing, OrderStatusCancelled},
	OrderStatusPreparing: {OrderStatusShipped},
	OrderStatusShipped:   {OrderStatusCompleted},
	OrderStatusCompleted: {},
	OrderStatusCancelled: {},
}

// AllOrderStatuses 按生命周期顺序返回全部状态
func AllOrderStatuses() []OrderStatus {
	return []OrderStatus{
		OrderStatusPending,
		OrderStatusPaid,
		OrderStatusPreparing,
		OrderStatusShipped,
		OrderStatusCompleted,
		OrderStatusCancelled,
	}
}

// IsValid 判断状态是否合法
func (s OrderStatus) IsValid() bool {
	_, ok := orderTransitions[s]
	return ok
}

// IsTerminal 判断是否为终态
func (s OrderStatus) IsTerminal() bool {
	next, ok := orderTransitions[s]
	return ok && len(next) == 0
}

// CanTransition 判断 from -> to 是否在迁移表中
func CanTransition(from, to OrderStatus) bool {
	for _, s := range orderTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// AllowedTransitions 返回当前状态允许迁移到的状态
func AllowedTransitions(from OrderStatus) []OrderStatus {
	allowed := orderTransitions[from]
	result := make([]OrderStatus, len(allowed))
	copy(result, allowed)
	return result
}

// OrderItem 表示订单行，单价在下单时冻结
type OrderItem struct {
	ID          int64           `json:"id"`
	OrderID     int64           `json:"order_id"`
	ProductID   int64           `json:"product_id"`
	ProductName string          `json:"product_name"`
	Quantity    int             `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	LineTotal   decimal.Decimal `json:"line_total"`
}

// GuestInfo 表示游客下单信息
type GuestInfo struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone"`
}

// ShippingInfo 表示收货信息
type ShippingInfo struct {
	RecipientName string `json:"recipient_name"`
	Phone         string `json:"phone"`
	Address       string `json:"address"`
	City          string `json:"city"`
	PostalCode    string `json:"postal_code"`
}

// Order 表示订单领域模型
type Order struct {
	ID               int64           `json:"id"`
	UserID           *int64          `json:"user_id,omitempty"`
	Guest            *GuestInfo      `json:"guest,omitempty"`
	Shipping         ShippingInfo    `json:"shipping"`
	Items            []*OrderItem    `json:"items"`
	Subtotal         decimal.Decimal `json:"subtotal"`
	DiscountID       *int64          `json:"discount_id,omitempty"`
	DiscountCode     string          `json:"discount_code,omitempty"`
	DiscountAmount   decimal.Decimal `json:"discount_amount"`
	ShippingFee      decimal.Decimal `json:"shipping_fee"`
	Tax              decimal.Decimal `json:"tax"`
	Total            decimal.Decimal `json:"total"`
	Status           OrderStatus     `json:"status"`
	TrackingNumber   string          `json:"tracking_number,omitempty"`
	PaymentReference string          `json:"payment_reference,omitempty"`
	DiscountRedeemed bool            `json:"discount_redeemed"`
	CancelReason     string          `json:"cancel_reason,omitempty"`
	Version          int             `json:"version"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
	PaidAt           *time.Time      `json:"paid_at,omitempty"`
	ShippedAt        *time.Time      `json:"shipped_at,omitempty"`
	CompletedAt      *time.Time      `json:"completed_at,omitempty"`
	CancelledAt      *time.Time      `json:"cancelled_at,omitempty"`
}

// Transition 按迁移表修改状态并记录时间戳，非法迁移返回 TransitionError
func (o *Order) Transition(to OrderStatus, at time.Time) error {
	if !CanTransition(o.Status, to) {
		return &TransitionError{From: o.Status, To: to}
	}
	o.Status = to
	switch to {
	case OrderStatusPaid:
		o.PaidAt = &at
	case OrderStatusShipped:
		o.ShippedAt = &at
	case OrderStatusCompleted:
		o.CompletedAt = &at
	case OrderStatusCancelled:
		o.CancelledAt = &at
	}
	return nil
}

// CalculateTotals 根据订单行、折扣、运费、税额计算小计与总价。
// total = subtotal - discount + shipping + tax，且不小于 0。
func (o *Order) CalculateTotals() {
	subtotal := decimal.Zero
	for _, item := range o.Items {
		item.LineTotal = item.UnitPrice.Mul(decimal.NewFromInt(int64(item.Quantity)))
		subtotal = subtotal.Add(item.LineTotal)
	}
	o.Subtotal = subtotal
	total := subtotal.Sub(o.DiscountAmount).Add(o.ShippingFee).Add(o.Tax)
	if total.IsNegative() {
		total = decimal.Zero
	}
	o.Total = total
}

// GuestMatches 判断访客订单的下单邮箱是否与 email 一致（忽略大小写）
func (o *Order) GuestMatches(email string) bool {
	email = strings.TrimSpace(email)
	if o.UserID != nil || o.Guest == nil || email == "" {
		return false
	}
	return strings.EqualFold(strings.TrimSpace(o.Guest.Email), email)
}

// WasCaptured 判断订单是否曾完成支付扣款
func (o *Order) WasCaptured() bool {
	return o.PaidAt != nil
}

// CapturedAmount 返回可退款上限：已扣款订单为总价，否则为 0
func (o *Order) CapturedAmount() decimal.Decimal {
	if !o.WasCaptured() {
		return decimal.Zero
	}
	return o.Total
}

// ReturnDeadline 返回退货窗口截止时间，未完成的订单返回 nil
func (o *Order) ReturnDeadline(window time.Duration) *time.Time {
	if o.CompletedAt == nil || window <= 0 {
		return nil
	}
	deadline := o.CompletedAt.Add(window)
	return &deadline
}

// ItemQuantities 汇总每个商品的购买数量
func (o *Order) ItemQuantities() map[int64]int {
	quantities := make(map[int64]int, len(o.Items))
	for _, item := range o.Items {
		quantities[item.ProductID] += item.Quantity
	}
	return quantities
}

// OrderLineRequest 表示下单请求中的一行
type OrderLineRequest struct {
	ProductID int64 `json:"product_id" binding:"required"`
	Quantity  int   `json:"quantity" binding:"required,min=1"`
}

// CreateOrderRequest 表示下单请求
type CreateOrderRequest struct {
	UserID       *int64             `json:"-"`
	Guest        *GuestInfo         `json:"guest,omitempty"`
	Items        []OrderLineRequest `json:"items" binding:"required,min=1,dive"`
	DiscountCode string             `json:"discount_code,omitempty"`
	Shipping     ShippingInfo       `json:"shipping"`
}

// Validate 校验下单请求
func (r *CreateOrderRequest) Validate() error {
	if len(r.Items) == 0 {
		return InvalidInputf("order must contain at least one item")
	}
	for _, item := range r.Items {
		if item.ProductID <= 0 {
			return InvalidInputf("invalid product id %d", item.ProductID)
		}
		if item.Quantity <= 0 {
			return InvalidInputf("quantity must be positive for product %d", item.ProductID)
		}
	}
	if r.UserID == nil {
		if r.Guest == nil || strings.TrimSpace(r.Guest.Email) == "" {
			return InvalidInputf("guest email is required when not signed in")
		}
	}
	if strings.TrimSpace(r.Shipping.Address) == "" {
		return InvalidInputf("shipping address is required")
	}
	return nil
}

// AdvanceStatusRequest 表示推进订单状态请求
type AdvanceStatusRequest struct {
	Status         OrderStatus `json:"status" binding:"required"`
	TrackingNumber string      `json:"tracking_number,omitempty"`
}

// ConfirmPaymentRequest 表示确认支付请求。
// 使用 Stripe 时 PaymentIntentID 为前端已授权的 PaymentIntent。
type ConfirmPaymentRequest struct {
	PaymentIntentID string `json:"payment_intent_id,omitempty"`
}

// CancelOrderRequest 表示取消订单请求
type CancelOrderRequest struct {
	Reason string `json:"reason" binding:"max=500"`
}

// OrderListRequest 表示订单列表查询
type OrderListRequest struct {
	Page     int         `json:"page" form:"page"`
	PageSize int         `json:"page_size" form:"page_size"`
	Status   OrderStatus `json:"status" form:"status"`
	UserID   *int64      `json:"-" form:"-"`
}

// Normalize 填充分页默认值
func (r *OrderListRequest) Normalize() {
	if r.Page <= 0 {
		r.Page = 1
	}
	if r.PageSize <= 0 || r.PageSize > 100 {
		r.PageSize = 20
	}
}

// OrderView 是对外展示的订单视图，附带可迁移状态与退货截止时间
type OrderView struct {
	*Order
	AllowedTransitions []OrderStatus `json:"allowed_transitions"`
	ReturnDeadline     *time.Time    `json:"return_deadline,omitempty"`
}

// NewOrderView 构建订单视图
func NewOrderView(o *Order, returnWindow time.Duration) *OrderView {
	return &OrderView{
		Order:              o,
		AllowedTransitions: AllowedTransitions(o.Status),
		ReturnDeadline:     o.ReturnDeadline(returnWindow),
	}
}

// OrderListResponse 表示订单列表响应
type OrderListResponse struct {
	Orders     []*Order `json:"orders"`
	Total      int64    `json:"total"`
	Page       int      `json:"page"`
	PageSize   int      `json:"page_size"`
	TotalPages int      `json:"total_pages"`
}
