package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/MorseWayne/moto_shop/internal/domain"
	"github.com/MorseWayne/moto_shop/internal/logger"
	"github.com/MorseWayne/moto_shop/internal/metrics"
	"github.com/MorseWayne/moto_shop/internal/repo"
)

// DiscountEngine 校验、计算并核销折扣码
type DiscountEngine struct {
	store   repo.Store
	metrics *metrics.Metrics
	logger  *zap.Logger
	now     func() time.Time
}

// NewDiscountEngine 创建折扣引擎
func NewDiscountEngine(store repo.Store, m *metrics.Metrics, logger *zap.Logger) *DiscountEngine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DiscountEngine{
		store:   store,
		metrics: m,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Price 计算折扣金额但不核销。未知折扣码返回 ErrDiscountInvalid。
func (e *DiscountEngine) Price(ctx context.Context, subtotal decimal.Decimal, code string) (*domain.DiscountQuote, error) {
	normalized := domain.NormalizeCode(code)
	if normalized == "" {
		return nil, domain.ErrDiscountInvalid
	}
	discount, err := e.store.Discounts().GetByCode(ctx, normalized)
	if err != nil {
		return nil, err
	}
	return e.quote(discount, subtotal)
}

// Quote 处理折扣试算请求
func (e *DiscountEngine) Quote(ctx context.Context, req *domain.QuoteDiscountRequest) (*domain.DiscountQuote, error) {
	if req.Subtotal.IsNegative() {
		return nil, domain.InvalidInputf("subtotal must be non-negative")
	}
	return e.Price(ctx, req.Subtotal, req.Code)
}

func (e *DiscountEngine) quote(discount *domain.Discount, subtotal decimal.Decimal) (*domain.DiscountQuote, error) {
	if discount == nil {
		return nil, domain.ErrDiscountInvalid
	}
	if err := discount.CheckUsable(subtotal, e.now()); err != nil {
		return nil, fmt.Errorf("discount %s: %w", discount.Code, err)
	}
	return &domain.DiscountQuote{
		DiscountID: discount.ID,
		Code:       discount.Code,
		Amount:     discount.AmountFor(subtotal),
	}, nil
}

// Redeem 在调用方事务内原子地占用一次使用次数，次数已满返回 ErrDiscountExhausted
func (e *DiscountEngine) Redeem(ctx context.Context, tx repo.Repositories, discountID int64) error {
	ok, err := tx.Discounts().IncrementUsage(ctx, discountID)
	if err != nil {
		return err
	}
	if !ok {
		e.metrics.DiscountRedemption("exhausted")
		return fmt.Errorf("discount %d: %w", discountID, domain.ErrDiscountExhausted)
	}
	e.metrics.DiscountRedemption("redeemed")
	return nil
}

// release 归还一次使用次数
func (e *DiscountEngine) release(ctx context.Context, tx repo.Repositories, discountID int64) error {
	if err := tx.Discounts().DecrementUsage(ctx, discountID); err != nil {
		return err
	}
	e.metrics.DiscountRedemption("released")
	return nil
}

// CreateDiscount 创建折扣码，折扣码重复返回 ErrDuplicate
func (e *DiscountEngine) CreateDiscount(ctx context.Context, req *domain.CreateDiscountRequest) (*domain.Discount, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	discount := req.ToDiscount()
	if err := e.store.Discounts().Create(ctx, discount); err != nil {
		if errors.Is(err, domain.ErrDuplicate) {
			return nil, fmt.Errorf("discount code %s: %w", discount.Code, domain.ErrDuplicate)
		}
		return nil, fmt.Errorf("failed to create discount: %w", err)
	}
	e.logger.Info("discount created",
		logger.TraceField(ctx),
		zap.Int64("discount_id", discount.ID),
		zap.String("code", discount.Code),
		zap.String("type", string(discount.Type)),
		zap.Int("max_uses", discount.MaxUses))
	return discount, nil
}

// DeleteDiscount 删除折扣码。已下单订单保留折扣金额快照。
func (e *DiscountEngine) DeleteDiscount(ctx context.Context, id int64) error {
	deleted, err := e.store.Discounts().Delete(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to delete discount: %w", err)
	}
	if !deleted {
		return fmt.Errorf("%w: discount %d", domain.ErrNotFound, id)
	}
	e.logger.Info("discount deleted", logger.TraceField(ctx), zap.Int64("discount_id", id))
	return nil
}

// GetDiscount 获取折扣码
func (e *DiscountEngine) GetDiscount(ctx context.Context, id int64) (*domain.Discount, error) {
	discount, err := e.store.Discounts().GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if discount == nil {
		return nil, fmt.Errorf("%w: discount %d", domain.ErrNotFound, id)
	}
	return discount, nil
}

// ListDiscounts 列出全部折扣码
func (e *DiscountEngine) ListDiscounts(ctx context.Context) ([]*domain.Discount, error) {
	return e.store.Discounts().List(ctx)
}
