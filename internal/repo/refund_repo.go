package repo

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/MorseWayne/moto_shop/internal/domain"
)

// RefundRepository 定义退款记录数据访问接口
type RefundRepository interface {
	// Create 写入 pending 状态的退款，占用退款额度
	Create(ctx context.Context, refund *domain.Refund) error
	MarkSucceeded(ctx context.Context, id int64, gatewayRef string) error
	// Delete 网关退款失败时撤销 pending 记录
	Delete(ctx context.Context, id int64) error
	ListByOrder(ctx context.Context, orderID int64) ([]*domain.Refund, error)
	// SumByOrder 汇总订单已占用的退款额度（pending + succeeded）
	SumByOrder(ctx context.Context, orderID int64) (decimal.Decimal, error)
}

type refundRepo struct {
	q querier
}

// Create 创建退款记录
func (r *refundRepo) Create(ctx context.Context, refund *domain.Refund) error {
	query := `
		INSERT INTO refunds (order_id, amount, reason, actor, status, gateway_reference, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	if refund.CreatedAt.IsZero() {
		refund.CreatedAt = time.Now().UTC()
	}
	if refund.Status == "" {
		refund.Status = domain.RefundStatusPending
	}

	result, err := r.q.ExecContext(ctx, query,
		refund.OrderID,
		refund.Amount,
		refund.Reason,
		refund.Actor,
		refund.Status,
		refund.GatewayReference,
		refund.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create refund: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	refund.ID = id
	return nil
}

// MarkSucceeded 标记退款成功
func (r *refundRepo) MarkSucceeded(ctx context.Context, id int64, gatewayRef string) error {
	query := `UPDATE refunds SET status = ?, gateway_reference = ? WHERE id = ? AND status = ?`

	result, err := r.q.ExecContext(ctx, query, domain.RefundStatusSucceeded, gatewayRef, id, domain.RefundStatusPending)
	if err != nil {
		return fmt.Errorf("failed to mark refund succeeded: %w", err)
	}
	return expectOneRow(result)
}

// Delete 删除 pending 退款记录
func (r *refundRepo) Delete(ctx context.Context, id int64) error {
	query := `DELETE FROM refunds WHERE id = ? AND status = ?`
	if _, err := r.q.ExecContext(ctx, query, id, domain.RefundStatusPending); err != nil {
		return fmt.Errorf("failed to delete refund: %w", err)
	}
	return nil
}

// ListByOrder 查询订单的退款记录
func (r *refundRepo) ListByOrder(ctx context.Context, orderID int64) ([]*domain.Refund, error) {
	query := `
		SELECT id, order_id, amount, reason, actor, status, gateway_reference, created_at
		FROM refunds
		WHERE order_id = ?
		ORDER BY id
	`

	rows, err := r.q.QueryContext(ctx, query, orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to list refunds: %w", err)
	}
	defer rows.Close()

	var refunds []*domain.Refund
	for rows.Next() {
		refund := &domain.Refund{}
		if err := rows.Scan(
			&refund.ID,
			&refund.OrderID,
			&refund.Amount,
			&refund.Reason,
			&refund.Actor,
			&refund.Status,
			&refund.GatewayReference,
			&refund.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan refund: %w", err)
		}
		refunds = append(refunds, refund)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate refunds: %w", err)
	}
	return refunds, nil
}

// SumByOrder 汇总订单退款金额
func (r *refundRepo) SumByOrder(ctx context.Context, orderID int64) (decimal.Decimal, error) {
	query := `SELECT COALESCE(SUM(amount), 0) FROM refunds WHERE order_id = ?`

	var sum decimal.Decimal
	if err := r.q.QueryRowContext(ctx, query, orderID).Scan(&sum); err != nil {
		return decimal.Zero, fmt.Errorf("failed to sum refunds: %w", err)
	}
	return sum, nil
}
