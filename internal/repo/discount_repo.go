package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/MorseWayne/moto_shop/internal/domain"
)

// DiscountRepository 定义折扣码数据访问接口
type DiscountRepository interface {
	Create(ctx context.Context, discount *domain.Discount) error
	GetByID(ctx context.Context, id int64) (*domain.Discount, error)
	// GetByCode 按规范化后的折扣码查询
	GetByCode(ctx context.Context, code string) (*domain.Discount, error)
	List(ctx context.Context) ([]*domain.Discount, error)
	// Delete 删除折扣码，返回是否命中
	Delete(ctx context.Context, id int64) (bool, error)
	// IncrementUsage 带上限守卫的原子自增，次数已满时返回 false
	IncrementUsage(ctx context.Context, id int64) (bool, error)
	DecrementUsage(ctx context.Context, id int64) error
}

type discountRepo struct {
	q querier
}

const discountColumns = `id, code, type, value, min_purchase, max_uses, used_count, starts_at, expires_at, is_active, created_at, updated_at`

// Create 创建折扣码，折扣码重复返回 domain.ErrDuplicate
func (r *discountRepo) Create(ctx context.Context, discount *domain.Discount) error {
	query := `
		INSERT INTO discounts (code, type, value, min_purchase, max_uses, used_count, starts_at, expires_at, is_active)
		VALUES (?, ?, ?, ?, ?, 0, ?, ?, ?)
	`

	result, err := r.q.ExecContext(ctx, query,
		domain.NormalizeCode(discount.Code),
		discount.Type,
		discount.Value,
		decimal.NullDecimal{Decimal: derefDecimal(discount.MinPurchase), Valid: discount.MinPurchase != nil},
		discount.MaxUses,
		nullTime(discount.StartsAt),
		nullTime(discount.ExpiresAt),
		discount.IsActive,
	)
	if err != nil {
		if isDuplicate(err) {
			return fmt.Errorf("discount code %s: %w", discount.Code, domain.ErrDuplicate)
		}
		return fmt.Errorf("failed to create discount: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	discount.ID = id
	discount.Code = domain.NormalizeCode(discount.Code)
	discount.UsedCount = 0
	return nil
}

// GetByID 根据ID获取折扣码
func (r *discountRepo) GetByID(ctx context.Context, id int64) (*domain.Discount, error) {
	return r.get(ctx, `SELECT `+discountColumns+` FROM discounts WHERE id = ?`, id)
}

// GetByCode 根据折扣码获取
func (r *discountRepo) GetByCode(ctx context.Context, code string) (*domain.Discount, error) {
	return r.get(ctx, `SELECT `+discountColumns+` FROM discounts WHERE code = ?`, domain.NormalizeCode(code))
}

func (r *discountRepo) get(ctx context.Context, query string, arg any) (*domain.Discount, error) {
	discount, err := scanDiscount(r.q.QueryRowContext(ctx, query, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get discount: %w", err)
	}
	return discount, nil
}

// List 列出全部折扣码
func (r *discountRepo) List(ctx context.Context) ([]*domain.Discount, error) {
	rows, err := r.q.QueryContext(ctx, `SELECT `+discountColumns+` FROM discounts ORDER BY id DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list discounts: %w", err)
	}
	defer rows.Close()

	var discounts []*domain.Discount
	for rows.Next() {
		discount, err := scanDiscount(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan discount: %w", err)
		}
		discounts = append(discounts, discount)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate discounts: %w", err)
	}
	return discounts, nil
}

// Delete 删除折扣码，历史订单保留折扣码文本
func (r *discountRepo) Delete(ctx context.Context, id int64) (bool, error) {
	result, err := r.q.ExecContext(ctx, `DELETE FROM discounts WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("failed to delete discount: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get affected rows: %w", err)
	}
	return affected > 0, nil
}

// IncrementUsage 单条语句完成"未满则加一"，并发下不会超发
func (r *discountRepo) IncrementUsage(ctx context.Context, id int64) (bool, error) {
	query := `
		UPDATE discounts
		SET used_count = used_count + 1
		WHERE id = ? AND (max_uses = 0 OR used_count < max_uses)
	`

	result, err := r.q.ExecContext(ctx, query, id)
	if err != nil {
		return false, fmt.Errorf("failed to increment discount usage: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get affected rows: %w", err)
	}
	return affected == 1, nil
}

// DecrementUsage 归还一次使用次数，不会减到负数
func (r *discountRepo) DecrementUsage(ctx context.Context, id int64) error {
	query := `UPDATE discounts SET used_count = used_count - 1 WHERE id = ? AND used_count > 0`
	if _, err := r.q.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("failed to decrement discount usage: %w", err)
	}
	return nil
}

func scanDiscount(row rowScanner) (*domain.Discount, error) {
	discount := &domain.Discount{}
	var (
		minPurchase       decimal.NullDecimal
		startsAt, expires sql.NullTime
	)
	err := row.Scan(
		&discount.ID,
		&discount.Code,
		&discount.Type,
		&discount.Value,
		&minPurchase,
		&discount.MaxUses,
		&discount.UsedCount,
		&startsAt,
		&expires,
		&discount.IsActive,
		&discount.CreatedAt,
		&discount.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if minPurchase.Valid {
		mp := minPurchase.Decimal
		discount.MinPurchase = &mp
	}
	discount.StartsAt = fromNullTime(startsAt)
	discount.ExpiresAt = fromNullTime(expires)
	return discount, nil
}

func derefDecimal(d *decimal.Decimal) decimal.Decimal {
	if d == nil {
		return decimal.Zero
	}
	return *d
}
