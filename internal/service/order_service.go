package service

import (
	"context"
	"errors"
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

// OrderService 订单服务，是订单状态的唯一修改入口
type OrderService struct {
	store     repo.Store
	guard     *CatalogGuard
	discounts *DiscountEngine
	gateway   payment.Gateway
	events    EventPublisher
	metrics   *metrics.Metrics
	logger    *zap.Logger
	config    *OrderServiceConfig
	now       func() time.Time
}

// OrderServiceConfig 订单服务配置
type OrderServiceConfig struct {
	// 取消已支付订单时是否归还折扣码使用次数
	ReleaseDiscountOnCancel bool `json:"release_discount_on_cancel"`

	// 完成后的退货窗口
	ReturnWindow time.Duration `json:"return_window"`

	// 计价配置
	TaxRate               decimal.Decimal `json:"tax_rate"`
	ShippingFee           decimal.Decimal `json:"shipping_fee"`
	FreeShippingThreshold decimal.Decimal `json:"free_shipping_threshold"`

	// 支付配置
	Currency       string        `json:"currency"`
	PaymentTimeout time.Duration `json:"payment_timeout"`
}

// DefaultOrderServiceConfig 默认配置
func DefaultOrderServiceConfig() *OrderServiceConfig {
	return &OrderServiceConfig{
		ReleaseDiscountOnCancel: false,
		ReturnWindow:            7 * 24 * time.Hour,
		TaxRate:                 decimal.Zero,
		ShippingFee:             decimal.Zero,
		FreeShippingThreshold:   decimal.Zero,
		Currency:                "usd",
		PaymentTimeout:          15 * time.Second,
	}
}

// NewOrderService 创建订单服务
func NewOrderService(
	store repo.Store,
	guard *CatalogGuard,
	discounts *DiscountEngine,
	gateway payment.Gateway,
	events EventPublisher,
	m *metrics.Metrics,
	logger *zap.Logger,
	config *OrderServiceConfig,
) *OrderService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config == nil {
		config = DefaultOrderServiceConfig()
	}
	return &OrderService{
		store:     store,
		guard:     guard,
		discounts: discounts,
		gateway:   gateway,
		events:    events,
		metrics:   m,
		logger:    logger,
		config:    config,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// CreateOrder 创建待支付订单。单价在此冻结，库存与折扣次数在支付时才占用。
func (s *OrderService) CreateOrder(ctx context.Context, req *domain.CreateOrderRequest) (*domain.Order, error) {
	ctx, traceID := logger.EnsureTraceID(ctx)
	if err := req.Validate(); err != nil {
		return nil, err
	}

	// 1. 合并重复的商品行，保持首次出现的顺序
	quantities := make(map[int64]int, len(req.Items))
	var productIDs []int64
	for _, line := range req.Items {
		if _, seen := quantities[line.ProductID]; !seen {
			productIDs = append(productIDs, line.ProductID)
		}
		quantities[line.ProductID] += line.Quantity
	}

	// 2. 冻结单价
	products, err := s.store.Products().GetByIDs(ctx, productIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to load products: %w", err)
	}
	byID := make(map[int64]*domain.Product, len(products))
	for _, p := range products {
		byID[p.ID] = p
	}
	order := &domain.Order{
		UserID:   req.UserID,
		Shipping: req.Shipping,
		Status:   domain.OrderStatusPending,
	}
	if req.UserID == nil {
		order.Guest = req.Guest
	}
	for _, id := range productIDs {
		p, ok := byID[id]
		if !ok {
			return nil, fmt.Errorf("%w: product %d", domain.ErrNotFound, id)
		}
		order.Items = append(order.Items, &domain.OrderItem{
			ProductID:   p.ID,
			ProductName: p.Name,
			Quantity:    quantities[id],
			UnitPrice:   p.Price,
		})
	}
	order.CalculateTotals()

	// 3. 折扣试算，不占用次数
	if code := strings.TrimSpace(req.DiscountCode); code != "" {
		quote, err := s.discounts.Price(ctx, order.Subtotal, code)
		if err != nil {
			return nil, err
		}
		order.DiscountID = &quote.DiscountID
		order.DiscountCode = quote.Code
		order.DiscountAmount = quote.Amount
	}

	// 4. 运费与税费
	taxable := order.Subtotal.Sub(order.DiscountAmount)
	order.ShippingFee = s.config.ShippingFee
	if s.config.FreeShippingThreshold.IsPositive() && taxable.GreaterThanOrEqual(s.config.FreeShippingThreshold) {
		order.ShippingFee = decimal.Zero
	}
	order.Tax = taxable.Mul(s.config.TaxRate).Round(2)
	order.CalculateTotals()

	if err := s.store.Orders().Create(ctx, order); err != nil {
		return nil, fmt.Errorf("failed to create order: %w", err)
	}

	s.logger.Info("order created",
		zap.String("trace_id", traceID),
		zap.Int64("order_id", order.ID),
		zap.Int("lines", len(order.Items)),
		zap.String("subtotal", order.Subtotal.StringFixed(2)),
		zap.String("discount", order.DiscountAmount.StringFixed(2)),
		zap.String("total", order.Total.StringFixed(2)))
	return order, nil
}

// captureKey 支付幂等键与订单及支付凭证绑定：同一凭证重试不会重复扣款，
// 换一个 PaymentIntent 重新支付时使用新键
func captureKey(orderID int64, token string) string {
	token = strings.TrimSpace(token)
	if token == "" {
		return fmt.Sprintf("order-%d-capture", orderID)
	}
	return fmt.Sprintf("order-%d-capture-%s", orderID, token)
}

// ConfirmPayment 完成 pending -> paid：预留库存、扣款、核销折扣。
// 订单已是 paid 时直接返回，任何步骤失败订单保持 pending 且预留被回补。
// 订单在扣款期间被并发推进或取消时，只退回未被订单引用的扣款，不动库存。
func (s *OrderService) ConfirmPayment(ctx context.Context, orderID int64, req *domain.ConfirmPaymentRequest) (*domain.Order, error) {
	ctx, traceID := logger.EnsureTraceID(ctx)
	if req == nil {
		req = &domain.ConfirmPaymentRequest{}
	}

	order, err := s.getOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	switch order.Status {
	case domain.OrderStatusPaid:
		return order, nil
	case domain.OrderStatusPending:
	default:
		return nil, &domain.TransitionError{From: order.Status, To: domain.OrderStatusPaid}
	}

	// 1. 预留库存
	if err := s.guard.ReserveForOrder(ctx, order); err != nil {
		var transition *domain.TransitionError
		if errors.As(err, &transition) && transition.From == domain.OrderStatusPaid {
			return s.getOrder(ctx, orderID)
		}
		return nil, err
	}

	// 2. 扣款
	key := captureKey(orderID, req.PaymentIntentID)
	capture, err := s.capture(ctx, order, req.PaymentIntentID, key)
	if err != nil {
		s.logger.Warn("payment capture failed, releasing reservation",
			zap.String("trace_id", traceID),
			zap.Int64("order_id", orderID),
			zap.Error(err))
		s.releaseReservation(ctx, order)
		return nil, fmt.Errorf("%w: %v", domain.ErrPaymentFailed, err)
	}

	// 3. 核销折扣并落状态
	var (
		paid     *domain.Order
		settled  bool
		observed *domain.Order // 锁定时看到的订单，用于决定补偿范围
	)
	var exhausted error
	if order.DiscountID != nil {
		exhausted = domain.ErrDiscountExhausted
	}
	err = withTxRetry(ctx, s.store, s.metrics, s.logger, "confirm_payment", exhausted,
		func(ctx context.Context, tx repo.Repositories) error {
			o, err := tx.Orders().GetByIDForUpdate(ctx, orderID)
			if err != nil {
				return err
			}
			if o == nil {
				return fmt.Errorf("%w: order %d", domain.ErrNotFound, orderID)
			}
			snapshot := *o
			observed = &snapshot
			switch {
			case o.Status == domain.OrderStatusPending:
			case o.Status == domain.OrderStatusCancelled:
				return &domain.TransitionError{From: o.Status, To: domain.OrderStatusPaid}
			case o.Status == domain.OrderStatusPaid || o.PaymentReference == capture.Reference:
				paid, settled = o, true
				return nil
			default:
				return &domain.TransitionError{From: o.Status, To: domain.OrderStatusPaid}
			}
			if err := s.guard.verifyReserved(ctx, tx, o); err != nil {
				return err
			}
			if o.DiscountID != nil && !o.DiscountRedeemed {
				if err := s.discounts.Redeem(ctx, tx, *o.DiscountID); err != nil {
					return err
				}
				o.DiscountRedeemed = true
			}
			if err := o.Transition(domain.OrderStatusPaid, s.now()); err != nil {
				return err
			}
			o.PaymentReference = capture.Reference
			if err := tx.Orders().Update(ctx, o); err != nil {
				return err
			}
			paid = o
			return nil
		})
	if err != nil {
		s.compensateCheckout(ctx, order, observed, capture, key, err)
		return nil, err
	}
	if settled {
		// 订单已由另一次扣款完成
		if capture.Reference != paid.PaymentReference {
			s.voidCapture(ctx, order, capture, key)
		}
		return paid, nil
	}

	s.afterTransition(ctx, paid, domain.OrderStatusPending)
	return paid, nil
}

// compensateCheckout 处理扣款成功但状态未能落库的结账。
// 预留只在订单仍为 pending 时回补，扣款只在未被订单引用时退回。
func (s *OrderService) compensateCheckout(ctx context.Context, order, observed *domain.Order,
	capture payment.CaptureResult, key string, cause error) {
	if observed == nil {
		latest, err := s.store.Orders().GetByID(context.WithoutCancel(ctx), order.ID)
		if err != nil || latest == nil {
			// 订单仍持有预留且扣款可按同一幂等键重放，下次结账即可收敛
			s.logger.Error("order state unknown after capture, leaving checkout for retry",
				logger.TraceField(ctx),
				zap.Int64("order_id", order.ID),
				zap.String("reference", capture.Reference),
				zap.NamedError("cause", cause),
				zap.Error(err))
			return
		}
		observed = latest
	}

	s.logger.Warn("checkout failed after capture, compensating",
		logger.TraceField(ctx),
		zap.Int64("order_id", order.ID),
		zap.String("status", string(observed.Status)),
		zap.Error(cause))
	if observed.Status == domain.OrderStatusPending {
		s.releaseReservation(ctx, order)
	}
	if capture.Reference != observed.PaymentReference {
		s.voidCapture(ctx, order, capture, key)
	}
}

func (s *OrderService) capture(ctx context.Context, order *domain.Order, token, key string) (payment.CaptureResult, error) {
	// 全额折扣的订单无需扣款
	if !order.Total.IsPositive() {
		return payment.CaptureResult{Amount: decimal.Zero}, nil
	}
	ctx, cancel := context.WithTimeout(ctx, s.config.PaymentTimeout)
	defer cancel()

	start := time.Now()
	res, err := s.gateway.Capture(ctx, payment.CaptureRequest{
		OrderID:        order.ID,
		Amount:         order.Total,
		Currency:       s.config.Currency,
		PaymentToken:   token,
		IdempotencyKey: key,
	})
	s.metrics.PaymentCall("capture", resultLabel(err), time.Since(start).Seconds())
	return res, err
}

func (s *OrderService) releaseReservation(ctx context.Context, order *domain.Order) {
	// 原请求可能已超时，补偿使用独立的上下文
	ctx = context.WithoutCancel(ctx)
	err := s.guard.ReleaseForOrder(ctx, order, domain.ReasonCorrection)
	var transition *domain.TransitionError
	if errors.As(err, &transition) {
		s.logger.Info("order advanced concurrently, reservation kept",
			logger.TraceField(ctx),
			zap.Int64("order_id", order.ID),
			zap.String("status", string(transition.From)))
		return
	}
	if err != nil {
		s.logger.Error("failed to release reservation",
			logger.TraceField(ctx),
			zap.Int64("order_id", order.ID),
			zap.Error(err))
	}
}

// voidCapture 退回未被订单引用的扣款
func (s *OrderService) voidCapture(ctx context.Context, order *domain.Order, capture payment.CaptureResult, key string) {
	if capture.Reference == "" || !capture.Amount.IsPositive() {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.config.PaymentTimeout)
	defer cancel()

	start := time.Now()
	_, err := s.gateway.Refund(ctx, payment.RefundRequest{
		CaptureReference: capture.Reference,
		Amount:           capture.Amount,
		Reason:           "checkout aborted",
		IdempotencyKey:   key + "-void",
	})
	s.metrics.PaymentCall("void", resultLabel(err), time.Since(start).Seconds())
	if err != nil {
		s.logger.Error("failed to void captured payment",
			logger.TraceField(ctx),
			zap.Int64("order_id", order.ID),
			zap.String("reference", capture.Reference),
			zap.Error(err))
	}
}

// AdvanceStatus 推进订单状态。paid 与 cancelled 分别交给结账与取消流程处理。
func (s *OrderService) AdvanceStatus(ctx context.Context, orderID int64, req *domain.AdvanceStatusRequest, actor domain.Actor) (*domain.Order, error) {
	ctx, traceID := logger.EnsureTraceID(ctx)
	if !req.Status.IsValid() {
		return nil, domain.InvalidInputf("unknown order status %q", req.Status)
	}
	switch req.Status {
	case domain.OrderStatusPaid:
		return s.ConfirmPayment(ctx, orderID, nil)
	case domain.OrderStatusCancelled:
		return s.CancelOrder(ctx, orderID, &domain.CancelOrderRequest{}, actor)
	}

	var (
		updated *domain.Order
		from    domain.OrderStatus
	)
	err := withTxRetry(ctx, s.store, s.metrics, s.logger, "advance_status", nil,
		func(ctx context.Context, tx repo.Repositories) error {
			o, err := tx.Orders().GetByIDForUpdate(ctx, orderID)
			if err != nil {
				return err
			}
			if o == nil {
				return fmt.Errorf("%w: order %d", domain.ErrNotFound, orderID)
			}
			from = o.Status
			if err := o.Transition(req.Status, s.now()); err != nil {
				return err
			}
			if req.Status == domain.OrderStatusShipped {
				o.TrackingNumber = strings.TrimSpace(req.TrackingNumber)
			}
			if err := tx.Orders().Update(ctx, o); err != nil {
				return err
			}
			updated = o
			return nil
		})
	if err != nil {
		return nil, err
	}

	s.logger.Info("order status advanced",
		zap.String("trace_id", traceID),
		zap.Int64("order_id", orderID),
		zap.String("actor", actor.String()))
	s.afterTransition(ctx, updated, from)
	return updated, nil
}

// CancelOrder 取消订单。已支付订单的预留以 returned 流水回补，
// 折扣次数默认不归还，由 ReleaseDiscountOnCancel 控制。
func (s *OrderService) CancelOrder(ctx context.Context, orderID int64, req *domain.CancelOrderRequest, actor domain.Actor) (*domain.Order, error) {
	ctx, traceID := logger.EnsureTraceID(ctx)
	if req == nil {
		req = &domain.CancelOrderRequest{}
	}

	var (
		cancelled *domain.Order
		from      domain.OrderStatus
		applied   []*appliedAdjustment
	)
	err := withTxRetry(ctx, s.store, s.metrics, s.logger, "cancel_order", nil,
		func(ctx context.Context, tx repo.Repositories) error {
			o, err := tx.Orders().GetByIDForUpdate(ctx, orderID)
			if err != nil {
				return err
			}
			if o == nil {
				return fmt.Errorf("%w: order %d", domain.ErrNotFound, orderID)
			}
			from = o.Status
			if err := o.Transition(domain.OrderStatusCancelled, s.now()); err != nil {
				return err
			}

			reason := domain.ReasonCorrection
			if from == domain.OrderStatusPaid {
				reason = domain.ReasonReturned
			}
			a, err := s.guard.release(ctx, tx, o, reason, actor)
			if err != nil {
				return err
			}
			applied = a

			if s.config.ReleaseDiscountOnCancel && o.DiscountRedeemed && o.DiscountID != nil {
				if err := s.discounts.release(ctx, tx, *o.DiscountID); err != nil {
					return err
				}
				o.DiscountRedeemed = false
			}
			o.CancelReason = strings.TrimSpace(req.Reason)
			if err := tx.Orders().Update(ctx, o); err != nil {
				return err
			}
			cancelled = o
			return nil
		})
	if err != nil {
		return nil, err
	}

	s.guard.ledger.afterCommit(ctx, applied...)
	s.logger.Info("order cancelled",
		zap.String("trace_id", traceID),
		zap.Int64("order_id", orderID),
		zap.String("from", string(from)),
		zap.Int("restocked_lines", len(applied)),
		zap.String("actor", actor.String()))
	s.afterTransition(ctx, cancelled, from)
	return cancelled, nil
}

func (s *OrderService) afterTransition(ctx context.Context, order *domain.Order, from domain.OrderStatus) {
	s.metrics.OrderTransition(string(from), string(order.Status))
	publish(ctx, s.events, s.logger, logger.TraceIDFromContext(ctx), domain.EventOrderStatusChanged,
		&domain.OrderStatusChangedPayload{
			OrderID:        order.ID,
			From:           from,
			To:             order.Status,
			TrackingNumber: order.TrackingNumber,
		})
}

// GetOrder 获取订单视图
func (s *OrderService) GetOrder(ctx context.Context, orderID int64) (*domain.OrderView, error) {
	order, err := s.getOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	return domain.NewOrderView(order, s.config.ReturnWindow), nil
}

func (s *OrderService) getOrder(ctx context.Context, orderID int64) (*domain.Order, error) {
	order, err := s.store.Orders().GetByID(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to get order: %w", err)
	}
	if order == nil {
		return nil, fmt.Errorf("%w: order %d", domain.ErrNotFound, orderID)
	}
	return order, nil
}

// ListOrders 分页查询订单
func (s *OrderService) ListOrders(ctx context.Context, req *domain.OrderListRequest) (*domain.OrderListResponse, error) {
	req.Normalize()
	if req.Status != "" && !req.Status.IsValid() {
		return nil, domain.InvalidInputf("unknown order status %q", req.Status)
	}
	orders, total, err := s.store.Orders().List(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("failed to list orders: %w", err)
	}
	return &domain.OrderListResponse{
		Orders:     orders,
		Total:      total,
		Page:       req.Page,
		PageSize:   req.PageSize,
		TotalPages: int((total + int64(req.PageSize) - 1) / int64(req.PageSize)),
	}, nil
}

func resultLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
