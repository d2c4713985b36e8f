package repo

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/MorseWayne/moto_shop/internal/domain"
)

// StockLedgerRepository 定义库存流水数据访问接口，流水只追加不修改
type StockLedgerRepository interface {
	Append(ctx context.Context, adj *domain.StockAdjustment) error
	// ListByProduct 按时间倒序返回流水，limit <= 0 表示不限
	ListByProduct(ctx context.Context, productID int64, limit int) ([]*domain.StockAdjustment, error)
	// SumByProduct 返回流水增量之和与条数
	SumByProduct(ctx context.Context, productID int64) (sum int, count int, err error)
	// NetForOrder 返回某订单在某商品上的净变动（预留为负，回补为正）
	NetForOrder(ctx context.Context, orderID, productID int64) (int, error)
}

type stockLedgerRepo struct {
	q querier
}

// Append 追加一条库存流水
func (r *stockLedgerRepo) Append(ctx context.Context, adj *domain.StockAdjustment) error {
	query := `
		INSERT INTO stock_adjustments (product_id, quantity_delta, reason, note, actor, order_id, stock_after, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	if adj.CreatedAt.IsZero() {
		adj.CreatedAt = time.Now().UTC()
	}
	var orderID sql.NullInt64
	if adj.OrderID != nil {
		orderID = sql.NullInt64{Int64: *adj.OrderID, Valid: true}
	}

	result, err := r.q.ExecContext(ctx, query,
		adj.ProductID,
		adj.QuantityDelta,
		adj.Reason,
		adj.Note,
		adj.Actor,
		orderID,
		adj.StockAfter,
		adj.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to append stock adjustment: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	adj.ID = id
	return nil
}

// ListByProduct 查询商品的库存流水
func (r *stockLedgerRepo) ListByProduct(ctx context.Context, productID int64, limit int) ([]*domain.StockAdjustment, error) {
	query := `
		SELECT id, product_id, quantity_delta, reason, note, actor, order_id, stock_after, created_at
		FROM stock_adjustments
		WHERE product_id = ?
		ORDER BY id DESC
	`
	args := []any{productID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list stock adjustments: %w", err)
	}
	defer rows.Close()

	var adjustments []*domain.StockAdjustment
	for rows.Next() {
		adj := &domain.StockAdjustment{}
		var orderID sql.NullInt64
		if err := rows.Scan(
			&adj.ID,
			&adj.ProductID,
			&adj.QuantityDelta,
			&adj.Reason,
			&adj.Note,
			&adj.Actor,
			&orderID,
			&adj.StockAfter,
			&adj.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan stock adjustment: %w", err)
		}
		if orderID.Valid {
			id := orderID.Int64
			adj.OrderID = &id
		}
		adjustments = append(adjustments, adj)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate stock adjustments: %w", err)
	}
	return adjustments, nil
}

// SumByProduct 折叠商品全部流水
func (r *stockLedgerRepo) SumByProduct(ctx context.Context, productID int64) (int, int, error) {
	query := `SELECT COALESCE(SUM(quantity_delta), 0), COUNT(*) FROM stock_adjustments WHERE product_id = ?`

	var sum, count int
	if err := r.q.QueryRowContext(ctx, query, productID).Scan(&sum, &count); err != nil {
		return 0, 0, fmt.Errorf("failed to sum stock adjustments: %w", err)
	}
	return sum, count, nil
}

// NetForOrder 汇总订单在商品上的净变动
func (r *stockLedgerRepo) NetForOrder(ctx context.Context, orderID, productID int64) (int, error) {
	query := `
		SELECT COALESCE(SUM(quantity_delta), 0)
		FROM stock_adjustments
		WHERE order_id = ? AND product_id = ?
	`

	var net int
	if err := r.q.QueryRowContext(ctx, query, orderID, productID).Scan(&net); err != nil {
		return 0, fmt.Errorf("failed to sum order adjustments: %w", err)
	}
	return net, nil
}
