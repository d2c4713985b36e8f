package domain

import (
	"time"
)

// AdjustmentReason 定义库存变动原因
type AdjustmentReason string

const (
	ReasonRestock    AdjustmentReason = "restock"    // 补货
	ReasonDamaged    AdjustmentReason = "damaged"    // 损坏
	ReasonReturned   AdjustmentReason = "returned"   // 退货/取消回补
	ReasonCorrection AdjustmentReason = "correction" // 更正与补偿
	ReasonShrinkage  AdjustmentReason = "shrinkage"  // 损耗
	ReasonTransfer   AdjustmentReason = "transfer"   // 调拨
	ReasonExpired    AdjustmentReason = "expired"    // 过期
	ReasonSale       AdjustmentReason = "sale"       // 销售
	ReasonOther      AdjustmentReason = "other"
)

var validReasons = map[AdjustmentReason]struct{}{
	ReasonRestock:    {},
	ReasonDamaged:    {},
	ReasonReturned:   {},
	ReasonCorrection: {},
	ReasonShrinkage:  {},
	ReasonTransfer:   {},
	ReasonExpired:    {},
	ReasonSale:       {},
	ReasonOther:      {},
}

// IsValid 判断原因是否在枚举内
func (r AdjustmentReason) IsValid() bool {
	_, ok := validReasons[r]
	return ok
}

// StockAdjustment 表示一条不可变的库存流水。
// 同一商品所有流水 QuantityDelta 之和等于 Product.StockQuantity。
type StockAdjustment struct {
	ID            int64            `json:"id"`
	ProductID     int64            `json:"product_id"`
	QuantityDelta int              `json:"quantity_delta"`
	Reason        AdjustmentReason `json:"reason"`
	Note          string           `json:"note"`
	Actor         string           `json:"actor"`
	OrderID       *int64           `json:"order_id,omitempty"` // 订单预留/回补时关联的订单
	StockAfter    int              `json:"stock_after"`        // 本条流水落账后的库存
	CreatedAt     time.Time        `json:"created_at"`
}

// AdjustStockRequest 表示人工调整库存请求
type AdjustStockRequest struct {
	Delta  int              `json:"delta" binding:"required"`
	Reason AdjustmentReason `json:"reason" binding:"required"`
	Note   string           `json:"note" binding:"max=500"`
}

// Validate 校验人工调整请求
func (r *AdjustStockRequest) Validate() error {
	if r.Delta == 0 {
		return InvalidInputf("delta must not be zero")
	}
	if !r.Reason.IsValid() {
		return InvalidInputf("unknown adjustment reason %q", r.Reason)
	}
	return nil
}

// LowStockAlert 表示低库存提醒
type LowStockAlert struct {
	ProductID    int64     `json:"product_id"`
	ProductName  string    `json:"product_name"`
	SKU          string    `json:"sku"`
	CurrentStock int       `json:"current_stock"`
	Threshold    int       `json:"threshold"`
	TriggeredAt  time.Time `json:"triggered_at"`
}

// StockAudit 是缓存库存与流水折叠值的核对结果
type StockAudit struct {
	ProductID       int64 `json:"product_id"`
	CachedStock     int   `json:"cached_stock"`
	LedgerStock     int   `json:"ledger_stock"`
	AdjustmentCount int   `json:"adjustment_count"`
	Consistent      bool  `json:"consistent"`
}
