// Package service 实现库存流水、结账预留、折扣、订单状态机与退款等业务逻辑。
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/MorseWayne/moto_shop/internal/domain"
	"github.com/MorseWayne/moto_shop/internal/logger"
	"github.com/MorseWayne/moto_shop/internal/metrics"
	"github.com/MorseWayne/moto_shop/internal/repo"
)

// AdjustmentInput 描述一次库存变动
type AdjustmentInput struct {
	ProductID int64
	Delta     int
	Reason    domain.AdjustmentReason
	Note      string
	Actor     domain.Actor
	OrderID   *int64
}

// appliedAdjustment 是事务内落账的结果，提交后用于发事件
type appliedAdjustment struct {
	adjustment *domain.StockAdjustment
	product    *domain.Product
}

// StockLedger 维护只追加的库存流水与商品缓存库存。
// 同一商品的写入通过行锁串行化，任何写入都不会使库存为负。
type StockLedger struct {
	store   repo.Store
	events  EventPublisher
	metrics *metrics.Metrics
	logger  *zap.Logger
	now     func() time.Time
}

// NewStockLedger 创建库存流水服务
func NewStockLedger(store repo.Store, events EventPublisher, m *metrics.Metrics, logger *zap.Logger) *StockLedger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StockLedger{
		store:   store,
		events:  events,
		metrics: m,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// RecordAdjustment 记录一条库存流水并同步缓存库存。
// 结果库存为负时返回 ErrInsufficientStock，流水不变。
func (l *StockLedger) RecordAdjustment(ctx context.Context, in AdjustmentInput) (*domain.StockAdjustment, error) {
	if in.Delta == 0 {
		return nil, domain.InvalidInputf("delta must not be zero")
	}
	if !in.Reason.IsValid() {
		return nil, domain.InvalidInputf("unknown adjustment reason %q", in.Reason)
	}

	var applied *appliedAdjustment
	err := withTxRetry(ctx, l.store, l.metrics, l.logger, "stock_adjustment", domain.ErrInsufficientStock,
		func(ctx context.Context, tx repo.Repositories) error {
			a, err := l.apply(ctx, tx, in)
			if err != nil {
				return err
			}
			applied = a
			return nil
		})
	if err != nil {
		if errors.Is(err, domain.ErrInsufficientStock) {
			l.logger.Info("stock adjustment rejected",
				logger.TraceField(ctx),
				zap.Int64("product_id", in.ProductID),
				zap.Int("delta", in.Delta),
				zap.String("reason", string(in.Reason)))
		}
		return nil, err
	}

	l.afterCommit(ctx, applied)
	return applied.adjustment, nil
}

// AdjustStock 处理后台人工调整。sale 原因只能由结账流程写入。
func (l *StockLedger) AdjustStock(ctx context.Context, productID int64, req *domain.AdjustStockRequest, actor domain.Actor) (*domain.StockAdjustment, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if req.Reason == domain.ReasonSale {
		return nil, domain.InvalidInputf("reason %q is reserved for checkout", req.Reason)
	}
	return l.RecordAdjustment(ctx, AdjustmentInput{
		ProductID: productID,
		Delta:     req.Delta,
		Reason:    req.Reason,
		Note:      req.Note,
		Actor:     actor,
	})
}

// apply 在调用方事务内锁定商品行、追加流水并写回缓存库存
func (l *StockLedger) apply(ctx context.Context, tx repo.Repositories, in AdjustmentInput) (*appliedAdjustment, error) {
	product, err := tx.Products().GetByIDForUpdate(ctx, in.ProductID)
	if err != nil {
		return nil, err
	}
	if product == nil {
		return nil, fmt.Errorf("%w: product %d", domain.ErrNotFound, in.ProductID)
	}
	if !product.CanApply(in.Delta) {
		return nil, fmt.Errorf("%w: product %d has %d, delta %d",
			domain.ErrInsufficientStock, product.ID, product.StockQuantity, in.Delta)
	}

	adj := &domain.StockAdjustment{
		ProductID:     product.ID,
		QuantityDelta: in.Delta,
		Reason:        in.Reason,
		Note:          in.Note,
		Actor:         in.Actor.String(),
		OrderID:       in.OrderID,
		StockAfter:    product.StockQuantity + in.Delta,
		CreatedAt:     l.now(),
	}
	if err := tx.Ledger().Append(ctx, adj); err != nil {
		return nil, err
	}
	if err := tx.Products().UpdateStock(ctx, product.ID, adj.StockAfter, product.Version); err != nil {
		return nil, err
	}
	product.StockQuantity = adj.StockAfter
	product.Version++
	return &appliedAdjustment{adjustment: adj, product: product}, nil
}

// afterCommit 记录指标并发布变动与低库存事件
func (l *StockLedger) afterCommit(ctx context.Context, applied ...*appliedAdjustment) {
	traceID := logger.TraceIDFromContext(ctx)
	for _, a := range applied {
		adj, product := a.adjustment, a.product
		l.metrics.StockAdjusted(string(adj.Reason))
		l.logger.Info("stock adjusted",
			zap.String("trace_id", traceID),
			zap.Int64("product_id", adj.ProductID),
			zap.Int("delta", adj.QuantityDelta),
			zap.String("reason", string(adj.Reason)),
			zap.Int("stock_after", adj.StockAfter),
			zap.String("actor", adj.Actor))
		publish(ctx, l.events, l.logger, traceID, domain.EventStockAdjusted, &domain.StockAdjustedPayload{Adjustment: adj})

		if !product.IsLowStock() {
			continue
		}
		l.metrics.LowStock()
		l.logger.Warn("low stock",
			zap.String("trace_id", traceID),
			zap.Int64("product_id", product.ID),
			zap.String("sku", product.SKU),
			zap.Int("stock", product.StockQuantity),
			zap.Int("threshold", product.LowStockThreshold))
		publish(ctx, l.events, l.logger, traceID, domain.EventLowStock, lowStockAlert(product, adj.CreatedAt))
	}
}

func lowStockAlert(p *domain.Product, at time.Time) *domain.LowStockAlert {
	return &domain.LowStockAlert{
		ProductID:    p.ID,
		ProductName:  p.Name,
		SKU:          p.SKU,
		CurrentStock: p.StockQuantity,
		Threshold:    p.LowStockThreshold,
		TriggeredAt:  at,
	}
}

// CurrentStock 返回商品当前库存。在事务内读取，绕过商品读缓存
func (l *StockLedger) CurrentStock(ctx context.Context, productID int64) (int, error) {
	var product *domain.Product
	err := l.store.WithTx(ctx, func(ctx context.Context, tx repo.Repositories) error {
		var err error
		product, err = tx.Products().GetByID(ctx, productID)
		return err
	})
	if err != nil {
		return 0, err
	}
	if product == nil {
		return 0, fmt.Errorf("%w: product %d", domain.ErrNotFound, productID)
	}
	return product.StockQuantity, nil
}

// History 按时间倒序返回商品流水
func (l *StockLedger) History(ctx context.Context, productID int64, limit int) ([]*domain.StockAdjustment, error) {
	if _, err := l.CurrentStock(ctx, productID); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	return l.store.Ledger().ListByProduct(ctx, productID, limit)
}

// Audit 核对缓存库存与流水折叠值
func (l *StockLedger) Audit(ctx context.Context, productID int64) (*domain.StockAudit, error) {
	var audit *domain.StockAudit
	err := l.store.WithTx(ctx, func(ctx context.Context, tx repo.Repositories) error {
		product, err := tx.Products().GetByIDForUpdate(ctx, productID)
		if err != nil {
			return err
		}
		if product == nil {
			return fmt.Errorf("%w: product %d", domain.ErrNotFound, productID)
		}
		sum, count, err := tx.Ledger().SumByProduct(ctx, productID)
		if err != nil {
			return err
		}
		audit = &domain.StockAudit{
			ProductID:       productID,
			CachedStock:     product.StockQuantity,
			LedgerStock:     sum,
			AdjustmentCount: count,
			Consistent:      sum == product.StockQuantity,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if !audit.Consistent {
		l.logger.Error("stock ledger drift detected",
			logger.TraceField(ctx),
			zap.Int64("product_id", productID),
			zap.Int("cached", audit.CachedStock),
			zap.Int("ledger", audit.LedgerStock))
	}
	return audit, nil
}

// LowStock 返回当前处于低库存的商品
func (l *StockLedger) LowStock(ctx context.Context, limit int) ([]*domain.LowStockAlert, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	products, err := l.store.Products().ListLowStock(ctx, limit)
	if err != nil {
		return nil, err
	}
	now := l.now()
	alerts := make([]*domain.LowStockAlert, 0, len(products))
	for _, p := range products {
		alerts = append(alerts, lowStockAlert(p, now))
	}
	return alerts, nil
}
