package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/MorseWayne/moto_shop/internal/domain"
	"github.com/MorseWayne/moto_shop/internal/middleware"
	"github.com/MorseWayne/moto_shop/internal/resp"
)

// OrderService 定义订单处理器依赖的服务
type OrderService interface {
	CreateOrder(ctx context.Context, req *domain.CreateOrderRequest) (*domain.Order, error)
	ConfirmPayment(ctx context.Context, orderID int64, req *domain.ConfirmPaymentRequest) (*domain.Order, error)
	AdvanceStatus(ctx context.Context, orderID int64, req *domain.AdvanceStatusRequest, actor domain.Actor) (*domain.Order, error)
	CancelOrder(ctx context.Context, orderID int64, req *domain.CancelOrderRequest, actor domain.Actor) (*domain.Order, error)
	GetOrder(ctx context.Context, orderID int64) (*domain.OrderView, error)
	ListOrders(ctx context.Context, req *domain.OrderListRequest) (*domain.OrderListResponse, error)
}

// RefundService 定义退款处理器依赖的服务
type RefundService interface {
	RefundOrder(ctx context.Context, orderID int64, req *domain.RefundOrderRequest, actor domain.Actor) (*domain.Refund, error)
	Summary(ctx context.Context, orderID int64) (*domain.RefundSummary, error)
}

// OrderHandler 订单API处理器
type OrderHandler struct {
	orders  OrderService
	refunds RefundService
	logger  *zap.Logger
}

// NewOrderHandler 创建订单API处理器
func NewOrderHandler(orders OrderService, refunds RefundService, logger *zap.Logger) *OrderHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OrderHandler{orders: orders, refunds: refunds, logger: logger}
}

// CreateOrder 下单
// POST /api/v1/orders
// 登录用户的订单归属其账号，访客需提供 guest.email
func (h *OrderHandler) CreateOrder(c *gin.Context) {
	var req domain.CreateOrderRequest
	if !bindJSON(c, h.logger, &req) {
		return
	}
	if actor, ok := middleware.ActorFrom(c); ok {
		userID := actor.UserID
		req.UserID = &userID
	}

	order, err := h.orders.CreateOrder(c.Request.Context(), &req)
	if err != nil {
		writeError(c, h.logger, "create_order", err)
		return
	}
	writeData(c, http.StatusCreated, order)
}

// GetOrder 获取订单详情
// GET /api/v1/orders/:id
func (h *OrderHandler) GetOrder(c *gin.Context) {
	view, ok := h.loadAccessible(c)
	if !ok {
		return
	}
	writeData(c, http.StatusOK, view)
}

// ListOrders 订单列表。顾客只能看到自己的订单
// GET /api/v1/orders?status=&page=&page_size=
func (h *OrderHandler) ListOrders(c *gin.Context) {
	req := &domain.OrderListRequest{
		Page:     queryInt(c, "page", 1),
		PageSize: queryInt(c, "page_size", 20),
		Status:   domain.OrderStatus(c.Query("status")),
	}
	actor, _ := middleware.ActorFrom(c)
	if !actor.IsStaff() {
		userID := actor.UserID
		req.UserID = &userID
	}

	orders, err := h.orders.ListOrders(c.Request.Context(), req)
	if err != nil {
		writeError(c, h.logger, "list_orders", err)
		return
	}
	writeData(c, http.StatusOK, orders)
}

// ConfirmPayment 确认支付：预留库存、核销折扣、扣款，订单进入 paid
// POST /api/v1/orders/:id/pay
func (h *OrderHandler) ConfirmPayment(c *gin.Context) {
	view, ok := h.loadAccessible(c)
	if !ok {
		return
	}
	var req domain.ConfirmPaymentRequest
	if !bindOptionalJSON(c, h.logger, &req) {
		return
	}

	order, err := h.orders.ConfirmPayment(c.Request.Context(), view.ID, &req)
	if err != nil {
		writeError(c, h.logger, "confirm_payment", err)
		return
	}
	writeData(c, http.StatusOK, order)
}

// AdvanceStatus 推进订单状态（店员）
// POST /api/v1/orders/:id/status
func (h *OrderHandler) AdvanceStatus(c *gin.Context) {
	orderID, ok := parseID(c, "id")
	if !ok {
		return
	}
	var req domain.AdvanceStatusRequest
	if !bindJSON(c, h.logger, &req) {
		return
	}
	actor, _ := middleware.ActorFrom(c)

	order, err := h.orders.AdvanceStatus(c.Request.Context(), orderID, &req, actor)
	if err != nil {
		writeError(c, h.logger, "advance_status", err)
		return
	}
	writeData(c, http.StatusOK, order)
}

// CancelOrder 取消订单。顾客可取消自己的订单，已支付订单的库存以 returned 流水回补
// POST /api/v1/orders/:id/cancel
func (h *OrderHandler) CancelOrder(c *gin.Context) {
	view, ok := h.loadAccessible(c)
	if !ok {
		return
	}
	var req domain.CancelOrderRequest
	if !bindOptionalJSON(c, h.logger, &req) {
		return
	}
	actor, _ := middleware.ActorFrom(c)

	order, err := h.orders.CancelOrder(c.Request.Context(), view.ID, &req, actor)
	if err != nil {
		writeError(c, h.logger, "cancel_order", err)
		return
	}
	writeData(c, http.StatusOK, order)
}

// RefundOrder 登记退款（店员）
// POST /api/v1/orders/:id/refunds
func (h *OrderHandler) RefundOrder(c *gin.Context) {
	orderID, ok := parseID(c, "id")
	if !ok {
		return
	}
	var req domain.RefundOrderRequest
	if !bindJSON(c, h.logger, &req) {
		return
	}
	actor, _ := middleware.ActorFrom(c)

	refund, err := h.refunds.RefundOrder(c.Request.Context(), orderID, &req, actor)
	if err != nil {
		writeError(c, h.logger, "refund_order", err)
		return
	}
	writeData(c, http.StatusCreated, refund)
}

// ListRefunds 订单退款汇总（店员）
// GET /api/v1/orders/:id/refunds
func (h *OrderHandler) ListRefunds(c *gin.Context) {
	orderID, ok := parseID(c, "id")
	if !ok {
		return
	}
	summary, err := h.refunds.Summary(c.Request.Context(), orderID)
	if err != nil {
		writeError(c, h.logger, "list_refunds", err)
		return
	}
	writeData(c, http.StatusOK, summary)
}

// GuestEmailHeader 访客凭下单邮箱访问自己的订单，也可使用 guest_email 查询参数
const GuestEmailHeader = "X-Guest-Email"

func guestEmail(c *gin.Context) string {
	if email := strings.TrimSpace(c.GetHeader(GuestEmailHeader)); email != "" {
		return email
	}
	return strings.TrimSpace(c.Query("guest_email"))
}

// loadAccessible 读取订单并校验调用方是否可以访问。
// 店员可访问全部订单；顾客只能访问自己的订单；访客订单需提供下单邮箱。
func (h *OrderHandler) loadAccessible(c *gin.Context) (*domain.OrderView, bool) {
	orderID, ok := parseID(c, "id")
	if !ok {
		return nil, false
	}
	view, err := h.orders.GetOrder(c.Request.Context(), orderID)
	if err != nil {
		writeError(c, h.logger, "get_order", err)
		return nil, false
	}

	actor, authenticated := middleware.ActorFrom(c)
	switch {
	case actor.IsStaff():
		return view, true
	case view.UserID == nil && view.GuestMatches(guestEmail(c)):
		return view, true
	case view.UserID != nil && authenticated && actor.UserID == *view.UserID:
		return view, true
	}
	h.logger.Warn("order access denied",
		zap.String("request_id", middleware.RequestIDFrom(c)),
		zap.Int64("order_id", orderID),
		zap.Bool("guest_order", view.UserID == nil),
		zap.String("actor", actor.String()))
	resp.Error(c.Writer, http.StatusForbidden, resp.CodeForbidden, "order belongs to another customer",
		middleware.RequestIDFrom(c), middleware.TraceIDFrom(c))
	return nil, false
}
