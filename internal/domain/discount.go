package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// DiscountType 定义折扣类型
type DiscountType string

const (
	DiscountTypePercentage DiscountType = "percentage" // 百分比
	DiscountTypeFixed      DiscountType = "fixed"      // 固定金额
)

var hundred = decimal.NewFromInt(100)

// Discount 表示折扣码
type Discount struct {
	ID          int64            `json:"id"`
	Code        string           `json:"code"` // 统一大写存储，比较时不区分大小写
	Type        DiscountType     `json:"type"`
	Value       decimal.Decimal  `json:"value"`
	MinPurchase *decimal.Decimal `json:"min_purchase,omitempty"`
	MaxUses     int              `json:"max_uses"` // 0 表示不限次数
	UsedCount   int              `json:"used_count"`
	StartsAt    *time.Time       `json:"starts_at,omitempty"`
	ExpiresAt   *time.Time       `json:"expires_at,omitempty"`
	IsActive    bool             `json:"is_active"`
	CreatedAt   time.Time        `json:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at"`
}

// NormalizeCode 规范化折扣码
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// CheckUsable 按 is_active、有效期、使用次数、最低消费的顺序校验，第一个失败项决定错误类型
func (d *Discount) CheckUsable(subtotal decimal.Decimal, now time.Time) error {
	if !d.IsActive {
		return ErrDiscountInvalid
	}
	if d.StartsAt != nil && now.Before(*d.StartsAt) {
		return ErrDiscountExpired
	}
	if d.ExpiresAt != nil && !now.Before(*d.ExpiresAt) {
		return ErrDiscountExpired
	}
	if d.MaxUses > 0 && d.UsedCount >= d.MaxUses {
		return ErrDiscountExhausted
	}
	if d.MinPurchase != nil && subtotal.LessThan(*d.MinPurchase) {
		return ErrMinPurchaseNotMet
	}
	return nil
}

// AmountFor 计算折扣金额，结果保留两位小数且不超过小计
func (d *Discount) AmountFor(subtotal decimal.Decimal) decimal.Decimal {
	if !subtotal.IsPositive() {
		return decimal.Zero
	}
	var amount decimal.Decimal
	switch d.Type {
	case DiscountTypePercentage:
		amount = subtotal.Mul(d.Value).Div(hundred).Round(2)
	case DiscountTypeFixed:
		amount = d.Value
	default:
		return decimal.Zero
	}
	if amount.GreaterThan(subtotal) {
		amount = subtotal
	}
	if amount.IsNegative() {
		amount = decimal.Zero
	}
	return amount
}

// DiscountQuote 是折扣试算结果
type DiscountQuote struct {
	DiscountID int64           `json:"discount_id"`
	Code       string          `json:"code"`
	Amount     decimal.Decimal `json:"amount"`
}

// CreateDiscountRequest 表示创建折扣码请求
type CreateDiscountRequest struct {
	Code        string           `json:"code" binding:"required,max=64"`
	Type        DiscountType     `json:"type" binding:"required"`
	Value       decimal.Decimal  `json:"value"`
	MinPurchase *decimal.Decimal `json:"min_purchase,omitempty"`
	MaxUses     int              `json:"max_uses" binding:"min=0"`
	StartsAt    *time.Time       `json:"starts_at,omitempty"`
	ExpiresAt   *time.Time       `json:"expires_at,omitempty"`
	IsActive    *bool            `json:"is_active,omitempty"`
}

// Validate 校验创建折扣码请求
func (r *CreateDiscountRequest) Validate() error {
	if NormalizeCode(r.Code) == "" {
		return InvalidInputf("discount code is required")
	}
	if !r.Value.IsPositive() {
		return InvalidInputf("discount value must be positive")
	}
	switch r.Type {
	case DiscountTypePercentage:
		if r.Value.GreaterThan(hundred) {
			return InvalidInputf("percentage discount cannot exceed 100")
		}
	case DiscountTypeFixed:
	default:
		return InvalidInputf("unknown discount type %q", r.Type)
	}
	if r.MinPurchase != nil && r.MinPurchase.IsNegative() {
		return InvalidInputf("min purchase must be non-negative")
	}
	if r.MaxUses < 0 {
		return InvalidInputf("max uses must be non-negative")
	}
	if r.StartsAt != nil && r.ExpiresAt != nil && !r.ExpiresAt.After(*r.StartsAt) {
		return InvalidInputf("expires_at must be after starts_at")
	}
	return nil
}

// ToDiscount 将请求转换为领域对象
func (r *CreateDiscountRequest) ToDiscount() *Discount {
	active := true
	if r.IsActive != nil {
		active = *r.IsActive
	}
	return &Discount{
		Code:        NormalizeCode(r.Code),
		Type:        r.Type,
		Value:       r.Value,
		MinPurchase: r.MinPurchase,
		MaxUses:     r.MaxUses,
		StartsAt:    r.StartsAt,
		ExpiresAt:   r.ExpiresAt,
		IsActive:    active,
	}
}

// QuoteDiscountRequest 表示折扣试算请求
type QuoteDiscountRequest struct {
	Code     string          `json:"code" binding:"required"`
	Subtotal decimal.Decimal `json:"subtotal"`
}
