package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MorseWayne/moto_shop/internal/domain"
)

// OrderRepository 定义订单数据访问接口
type OrderRepository interface {
	// Create 写入订单及订单行
	Create(ctx context.Context, order *domain.Order) error
	GetByID(ctx context.Context, id int64) (*domain.Order, error)
	// GetByIDForUpdate 在事务中锁定订单行，串行化同一订单的状态迁移
	GetByIDForUpdate(ctx context.Context, id int64) (*domain.Order, error)
	// Update 以乐观锁写回状态相关字段，成功后 order.Version 自增
	Update(ctx context.Context, order *domain.Order) error
	List(ctx context.Context, req *domain.OrderListRequest) ([]*domain.Order, int64, error)
}

type orderRepo struct {
	q querier
}

const orderColumns = `id, user_id, guest_name, guest_email, guest_phone,
	shipping_recipient, shipping_phone, shipping_address, shipping_city, shipping_postal_code,
	subtotal, discount_id, discount_code, discount_amount, shipping_fee, tax, total,
	status, tracking_number, payment_reference, discount_redeemed, cancel_reason, version,
	created_at, updated_at, paid_at, shipped_at, completed_at, cancelled_at`

// Create 创建订单
func (r *orderRepo) Create(ctx context.Context, order *domain.Order) error {
	query := `
		INSERT INTO orders (user_id, guest_name, guest_email, guest_phone,
			shipping_recipient, shipping_phone, shipping_address, shipping_city, shipping_postal_code,
			subtotal, discount_id, discount_code, discount_amount, shipping_fee, tax, total,
			status, version, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, ?)
	`

	var guest domain.GuestInfo
	if order.Guest != nil {
		guest = *order.Guest
	}
	if order.CreatedAt.IsZero() {
		order.CreatedAt = time.Now().UTC()
	}

	result, err := r.q.ExecContext(ctx, query,
		nullInt64(order.UserID),
		guest.Name,
		guest.Email,
		guest.Phone,
		order.Shipping.RecipientName,
		order.Shipping.Phone,
		order.Shipping.Address,
		order.Shipping.City,
		order.Shipping.PostalCode,
		order.Subtotal,
		nullInt64(order.DiscountID),
		order.DiscountCode,
		order.DiscountAmount,
		order.ShippingFee,
		order.Tax,
		order.Total,
		order.Status,
		order.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create order: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	order.ID = id
	order.Version = 0
	order.UpdatedAt = order.CreatedAt

	itemQuery := `
		INSERT INTO order_items (order_id, product_id, product_name, quantity, unit_price, line_total)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	for _, item := range order.Items {
		item.OrderID = id
		res, err := r.q.ExecContext(ctx, itemQuery,
			item.OrderID,
			item.ProductID,
			item.ProductName,
			item.Quantity,
			item.UnitPrice,
			item.LineTotal,
		)
		if err != nil {
			return fmt.Errorf("failed to create order item: %w", err)
		}
		if item.ID, err = res.LastInsertId(); err != nil {
			return fmt.Errorf("failed to get order item id: %w", err)
		}
	}
	return nil
}

// GetByID 获取订单及订单行，不存在时返回 nil, nil
func (r *orderRepo) GetByID(ctx context.Context, id int64) (*domain.Order, error) {
	return r.get(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = ?`, id)
}

// GetByIDForUpdate 锁定并获取订单
func (r *orderRepo) GetByIDForUpdate(ctx context.Context, id int64) (*domain.Order, error) {
	return r.get(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = ? FOR UPDATE`, id)
}

func (r *orderRepo) get(ctx context.Context, query string, id int64) (*domain.Order, error) {
	order, err := scanOrder(r.q.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get order: %w", err)
	}

	items, err := r.getItems(ctx, order.ID)
	if err != nil {
		return nil, err
	}
	order.Items = items
	return order, nil
}

func (r *orderRepo) getItems(ctx context.Context, orderID int64) ([]*domain.OrderItem, error) {
	query := `
		SELECT id, order_id, product_id, product_name, quantity, unit_price, line_total
		FROM order_items
		WHERE order_id = ?
		ORDER BY id
	`

	rows, err := r.q.QueryContext(ctx, query, orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to get order items: %w", err)
	}
	defer rows.Close()

	var items []*domain.OrderItem
	for rows.Next() {
		item := &domain.OrderItem{}
		if err := rows.Scan(
			&item.ID,
			&item.OrderID,
			&item.ProductID,
			&item.ProductName,
			&item.Quantity,
			&item.UnitPrice,
			&item.LineTotal,
		); err != nil {
			return nil, fmt.Errorf("failed to scan order item: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate order items: %w", err)
	}
	return items, nil
}

// Update 写回订单状态
func (r *orderRepo) Update(ctx context.Context, order *domain.Order) error {
	query := `
		UPDATE orders
		SET status = ?, tracking_number = ?, payment_reference = ?, discount_redeemed = ?, cancel_reason = ?,
			paid_at = ?, shipped_at = ?, completed_at = ?, cancelled_at = ?, version = version + 1
		WHERE id = ? AND version = ?
	`

	result, err := r.q.ExecContext(ctx, query,
		order.Status,
		order.TrackingNumber,
		order.PaymentReference,
		order.DiscountRedeemed,
		order.CancelReason,
		nullTime(order.PaidAt),
		nullTime(order.ShippedAt),
		nullTime(order.CompletedAt),
		nullTime(order.CancelledAt),
		order.ID,
		order.Version,
	)
	if err != nil {
		return fmt.Errorf("failed to update order: %w", err)
	}
	if err := expectOneRow(result); err != nil {
		return err
	}
	order.Version++
	order.UpdatedAt = time.Now().UTC()
	return nil
}

// List 查询订单列表（不含订单行）
func (r *orderRepo) List(ctx context.Context, req *domain.OrderListRequest) ([]*domain.Order, int64, error) {
	var conditions []string
	var args []any
	if req.Status != "" {
		conditions = append(conditions, "status = ?")
		args = append(args, req.Status)
	}
	if req.UserID != nil {
		conditions = append(conditions, "user_id = ?")
		args = append(args, *req.UserID)
	}
	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}

	var total int64
	if err := r.q.QueryRowContext(ctx, "SELECT COUNT(*) FROM orders "+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count orders: %w", err)
	}

	query := fmt.Sprintf(`SELECT %s FROM orders %s ORDER BY id DESC LIMIT ? OFFSET ?`, orderColumns, where)
	args = append(args, req.PageSize, (req.Page-1)*req.PageSize)

	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list orders: %w", err)
	}
	defer rows.Close()

	var orders []*domain.Order
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan order: %w", err)
		}
		orders = append(orders, order)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("failed to iterate orders: %w", err)
	}
	return orders, total, nil
}

func scanOrder(row rowScanner) (*domain.Order, error) {
	order := &domain.Order{}
	var (
		userID, discountID                        sql.NullInt64
		guest                                     domain.GuestInfo
		paidAt, shippedAt, completedAt, cancelled sql.NullTime
	)
	err := row.Scan(
		&order.ID,
		&userID,
		&guest.Name,
		&guest.Email,
		&guest.Phone,
		&order.Shipping.RecipientName,
		&order.Shipping.Phone,
		&order.Shipping.Address,
		&order.Shipping.City,
		&order.Shipping.PostalCode,
		&order.Subtotal,
		&discountID,
		&order.DiscountCode,
		&order.DiscountAmount,
		&order.ShippingFee,
		&order.Tax,
		&order.Total,
		&order.Status,
		&order.TrackingNumber,
		&order.PaymentReference,
		&order.DiscountRedeemed,
		&order.CancelReason,
		&order.Version,
		&order.CreatedAt,
		&order.UpdatedAt,
		&paidAt,
		&shippedAt,
		&completedAt,
		&cancelled,
	)
	if err != nil {
		return nil, err
	}

	order.UserID = fromNullInt64(userID)
	order.DiscountID = fromNullInt64(discountID)
	if guest != (domain.GuestInfo{}) {
		order.Guest = &guest
	}
	order.PaidAt = fromNullTime(paidAt)
	order.ShippedAt = fromNullTime(shippedAt)
	order.CompletedAt = fromNullTime(completedAt)
	order.CancelledAt = fromNullTime(cancelled)
	return order, nil
}

func nullInt64(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

func fromNullInt64(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	n := v.Int64
	return &n
}

func nullTime(v *time.Time) sql.NullTime {
	if v == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *v, Valid: true}
}

func fromNullTime(v sql.NullTime) *time.Time {
	if !v.Valid {
		return nil
	}
	t := v.Time
	return &t
}
