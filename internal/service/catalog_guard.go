package service

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/MorseWayne/moto_shop/internal/domain"
	"github.com/MorseWayne/moto_shop/internal/logger"
	"github.com/MorseWayne/moto_shop/internal/metrics"
	"github.com/MorseWayne/moto_shop/internal/repo"
)

// reservation 记录本次调用已经预留的商品数量
type reservation struct {
	productID int64
	quantity  int
}

// CatalogGuard 在订单进入 paid 时为每个订单行扣减库存。
// 预留是全有或全无的：任何一行失败，本次已预留的行以 correction 流水回补。
type CatalogGuard struct {
	store   repo.Store
	ledger  *StockLedger
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// NewCatalogGuard 创建库存预留守卫
func NewCatalogGuard(store repo.Store, ledger *StockLedger, m *metrics.Metrics, logger *zap.Logger) *CatalogGuard {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CatalogGuard{store: store, ledger: ledger, metrics: m, logger: logger}
}

// ReserveForOrder 为订单全部行记录 sale 流水。
// 已为该订单预留过的行会被跳过，重复结账不会重复扣减。
// 某行库存不足时返回 *domain.OutOfStockError；订单已离开 pending 时返回
// *domain.TransitionError，此时预留归属于推进订单的那一方，不做回补。
func (g *CatalogGuard) ReserveForOrder(ctx context.Context, order *domain.Order) error {
	quantities := order.ItemQuantities()
	productIDs := sortedProductIDs(quantities)
	orderID := order.ID

	var reserved []reservation
	for _, productID := range productIDs {
		qty := quantities[productID]
		applied, err := g.reserveLine(ctx, orderID, productID, qty)
		var transition *domain.TransitionError
		if errors.As(err, &transition) {
			g.logger.Info("order left pending during reservation",
				logger.TraceField(ctx),
				zap.Int64("order_id", orderID),
				zap.String("status", string(transition.From)))
			return err
		}
		if err != nil {
			if errors.Is(err, domain.ErrInsufficientStock) {
				available, _ := g.ledger.CurrentStock(ctx, productID)
				err = &domain.OutOfStockError{ProductID: productID, Requested: qty, Available: available}
			}
			g.logger.Info("order reservation failed",
				logger.TraceField(ctx),
				zap.Int64("order_id", orderID),
				zap.Int64("product_id", productID),
				zap.Int("quantity", qty),
				zap.Error(err))
			g.compensate(ctx, orderID, reserved)
			return err
		}
		if applied == nil {
			continue
		}
		g.ledger.afterCommit(ctx, applied)
		reserved = append(reserved, reservation{productID: productID, quantity: -applied.adjustment.QuantityDelta})
	}
	return nil
}

// reserveLine 在单独的事务中预留一行。已足额预留时返回 nil, nil。
func (g *CatalogGuard) reserveLine(ctx context.Context, orderID, productID int64, qty int) (*appliedAdjustment, error) {
	var applied *appliedAdjustment
	err := withTxRetry(ctx, g.store, g.metrics, g.logger, "reserve_stock", domain.ErrInsufficientStock,
		func(ctx context.Context, tx repo.Repositories) error {
			applied = nil
			// 加锁顺序与取消一致：先订单行再商品行
			if err := lockPending(ctx, tx, orderID); err != nil {
				return err
			}
			product, err := tx.Products().GetByIDForUpdate(ctx, productID)
			if err != nil {
				return err
			}
			if product == nil {
				return fmt.Errorf("%w: product %d", domain.ErrNotFound, productID)
			}
			net, err := tx.Ledger().NetForOrder(ctx, orderID, productID)
			if err != nil {
				return err
			}
			delta := -qty - net
			if delta == 0 {
				return nil
			}
			a, err := g.ledger.apply(ctx, tx, AdjustmentInput{
				ProductID: productID,
				Delta:     delta,
				Reason:    domain.ReasonSale,
				Note:      fmt.Sprintf("order %d", orderID),
				Actor:     domain.SystemActor,
				OrderID:   &orderID,
			})
			if err != nil {
				return err
			}
			applied = a
			return nil
		})
	return applied, err
}

// compensate 回补本次调用已预留的行
func (g *CatalogGuard) compensate(ctx context.Context, orderID int64, reserved []reservation) {
	for _, r := range reserved {
		_, err := g.ledger.RecordAdjustment(ctx, AdjustmentInput{
			ProductID: r.productID,
			Delta:     r.quantity,
			Reason:    domain.ReasonCorrection,
			Note:      fmt.Sprintf("rollback reservation for order %d", orderID),
			Actor:     domain.SystemActor,
			OrderID:   &orderID,
		})
		if err != nil {
			g.logger.Error("failed to compensate reservation",
				logger.TraceField(ctx),
				zap.Int64("order_id", orderID),
				zap.Int64("product_id", r.productID),
				zap.Int("quantity", r.quantity),
				zap.Error(err))
		}
	}
}

// ReleaseForOrder 回补订单尚未归还的全部预留，用于结账补偿。
// 订单已被并发推进时不动库存，返回 *domain.TransitionError。
func (g *CatalogGuard) ReleaseForOrder(ctx context.Context, order *domain.Order, reason domain.AdjustmentReason) error {
	var applied []*appliedAdjustment
	err := withTxRetry(ctx, g.store, g.metrics, g.logger, "release_stock", nil,
		func(ctx context.Context, tx repo.Repositories) error {
			applied = nil
			if err := lockPending(ctx, tx, order.ID); err != nil {
				return err
			}
			a, err := g.release(ctx, tx, order, reason, domain.SystemActor)
			if err != nil {
				return err
			}
			applied = a
			return nil
		})
	if err != nil {
		return err
	}
	g.ledger.afterCommit(ctx, applied...)
	return nil
}

// release 在调用方事务内按商品ID顺序回补订单的净预留量
func (g *CatalogGuard) release(ctx context.Context, tx repo.Repositories, order *domain.Order,
	reason domain.AdjustmentReason, actor domain.Actor) ([]*appliedAdjustment, error) {
	orderID := order.ID
	var applied []*appliedAdjustment
	for _, productID := range sortedProductIDs(order.ItemQuantities()) {
		net, err := tx.Ledger().NetForOrder(ctx, orderID, productID)
		if err != nil {
			return nil, err
		}
		if net >= 0 {
			continue
		}
		a, err := g.ledger.apply(ctx, tx, AdjustmentInput{
			ProductID: productID,
			Delta:     -net,
			Reason:    reason,
			Note:      fmt.Sprintf("release order %d", orderID),
			Actor:     actor,
			OrderID:   &orderID,
		})
		if err != nil {
			return nil, err
		}
		applied = append(applied, a)
	}
	return applied, nil
}

// lockPending 锁定订单行并确认其仍处于 pending
func lockPending(ctx context.Context, tx repo.Repositories, orderID int64) error {
	o, err := tx.Orders().GetByIDForUpdate(ctx, orderID)
	if err != nil {
		return err
	}
	if o == nil {
		return fmt.Errorf("%w: order %d", domain.ErrNotFound, orderID)
	}
	if o.Status != domain.OrderStatusPending {
		return &domain.TransitionError{From: o.Status, To: domain.OrderStatusPaid}
	}
	return nil
}

// verifyReserved 确认订单每一行仍处于足额预留状态
func (g *CatalogGuard) verifyReserved(ctx context.Context, tx repo.Repositories, order *domain.Order) error {
	quantities := order.ItemQuantities()
	for _, productID := range sortedProductIDs(quantities) {
		net, err := tx.Ledger().NetForOrder(ctx, order.ID, productID)
		if err != nil {
			return err
		}
		if net != -quantities[productID] {
			return fmt.Errorf("%w: reservation for order %d product %d changed concurrently",
				domain.ErrVersionConflict, order.ID, productID)
		}
	}
	return nil
}

// sortedProductIDs 固定加锁顺序，避免多商品订单之间互相死锁
func sortedProductIDs(quantities map[int64]int) []int64 {
	ids := make([]int64, 0, len(quantities))
	for id := range quantities {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
