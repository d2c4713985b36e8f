// Package domain 定义商品、库存流水、订单、折扣与退款的领域模型和核心业务规则。
package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Product 表示商品领域模型。
// StockQuantity 是库存流水的缓存值，只能通过 StockAdjustment 改变。
type Product struct {
	ID                int64           `json:"id"`
	Name              string          `json:"name"`
	SKU               string          `json:"sku"`
	Price             decimal.Decimal `json:"price"`
	StockQuantity     int             `json:"stock_quantity"`
	LowStockThreshold int             `json:"low_stock_threshold"`
	Version           int             `json:"version"` // 乐观锁版本号
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

// IsLowStock 判断是否低库存
func (p *Product) IsLowStock() bool {
	return p.StockQuantity <= p.LowStockThreshold
}

// CanApply 判断一次库存变动是否会使库存为负
func (p *Product) CanApply(delta int) bool {
	return p.StockQuantity+delta >= 0
}

// CreateProductRequest 表示创建商品请求。初始库存以 restock 流水记录。
type CreateProductRequest struct {
	Name              string          `json:"name" binding:"required,max=255"`
	SKU               string          `json:"sku" binding:"required,max=100"`
	Price             decimal.Decimal `json:"price" binding:"required"`
	InitialStock      int             `json:"initial_stock" binding:"min=0"`
	LowStockThreshold int             `json:"low_stock_threshold" binding:"min=0"`
}

// Validate 校验创建商品请求
func (r *CreateProductRequest) Validate() error {
	if strings.TrimSpace(r.Name) == "" {
		return InvalidInputf("product name is required")
	}
	if strings.TrimSpace(r.SKU) == "" {
		return InvalidInputf("product sku is required")
	}
	if r.Price.IsNegative() {
		return InvalidInputf("price must be non-negative")
	}
	if r.InitialStock < 0 {
		return InvalidInputf("initial stock must be non-negative")
	}
	if r.LowStockThreshold < 0 {
		return InvalidInputf("low stock threshold must be non-negative")
	}
	return nil
}

// UpdateProductRequest 表示更新商品资料请求，不允许修改库存
type UpdateProductRequest struct {
	Name              *string          `json:"name,omitempty"`
	Price             *decimal.Decimal `json:"price,omitempty"`
	LowStockThreshold *int             `json:"low_stock_threshold,omitempty"`
}

// ProductListRequest 表示商品列表查询请求
type ProductListRequest struct {
	Page         int    `json:"page" form:"page"`
	PageSize     int    `json:"page_size" form:"page_size"`
	Keyword      string `json:"keyword" form:"keyword"`
	LowStockOnly bool   `json:"low_stock_only" form:"low_stock_only"`
}

// Normalize 填充分页默认值
func (r *ProductListRequest) Normalize() {
	if r.Page <= 0 {
		r.Page = 1
	}
	if r.PageSize <= 0 || r.PageSize > 100 {
		r.PageSize = 20
	}
}

// ProductListResponse 表示商品列表响应
type ProductListResponse struct {
	Products   []*Product `json:"products"`
	Total      int64      `json:"total"`
	Page       int        `json:"page"`
	PageSize   int        `json:"page_size"`
	TotalPages int        `json:"total_pages"`
}
