package api

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/MorseWayne/moto_shop/internal/domain"
	"github.com/MorseWayne/moto_shop/internal/middleware"
)

// StockLedger 定义库存处理器依赖的流水服务
type StockLedger interface {
	AdjustStock(ctx context.Context, productID int64, req *domain.AdjustStockRequest, actor domain.Actor) (*domain.StockAdjustment, error)
	History(ctx context.Context, productID int64, limit int) ([]*domain.StockAdjustment, error)
	Audit(ctx context.Context, productID int64) (*domain.StockAudit, error)
	LowStock(ctx context.Context, limit int) ([]*domain.LowStockAlert, error)
}

// InventoryHandler 库存流水相关的HTTP处理器
type InventoryHandler struct {
	ledger StockLedger
	logger *zap.Logger
}

// NewInventoryHandler 创建库存处理器实例
func NewInventoryHandler(ledger StockLedger, logger *zap.Logger) *InventoryHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &InventoryHandler{ledger: ledger, logger: logger}
}

// AdjustStock 人工调整库存（restock / correction / returned / damaged）
// POST /api/v1/products/:id/adjustments
// 需要店员权限
func (h *InventoryHandler) AdjustStock(c *gin.Context) {
	productID, ok := parseID(c, "id")
	if !ok {
		return
	}
	var req domain.AdjustStockRequest
	if !bindJSON(c, h.logger, &req) {
		return
	}
	actor, _ := middleware.ActorFrom(c)

	adjustment, err := h.ledger.AdjustStock(c.Request.Context(), productID, &req, actor)
	if err != nil {
		writeError(c, h.logger, "adjust_stock", err)
		return
	}
	writeData(c, http.StatusCreated, adjustment)
}

// History 库存流水，按时间倒序
// GET /api/v1/products/:id/adjustments?limit=
func (h *InventoryHandler) History(c *gin.Context) {
	productID, ok := parseID(c, "id")
	if !ok {
		return
	}
	history, err := h.ledger.History(c.Request.Context(), productID, queryInt(c, "limit", 0))
	if err != nil {
		writeError(c, h.logger, "stock_history", err)
		return
	}
	writeData(c, http.StatusOK, history)
}

// Audit 比对缓存库存与流水累加值
// GET /api/v1/products/:id/audit
func (h *InventoryHandler) Audit(c *gin.Context) {
	productID, ok := parseID(c, "id")
	if !ok {
		return
	}
	audit, err := h.ledger.Audit(c.Request.Context(), productID)
	if err != nil {
		writeError(c, h.logger, "stock_audit", err)
		return
	}
	writeData(c, http.StatusOK, audit)
}

// GetLowStockAlerts 获取低库存商品
// GET /api/v1/inventory/low-stock?limit=
func (h *InventoryHandler) GetLowStockAlerts(c *gin.Context) {
	alerts, err := h.ledger.LowStock(c.Request.Context(), queryInt(c, "limit", 0))
	if err != nil {
		writeError(c, h.logger, "low_stock", err)
		return
	}
	writeData(c, http.StatusOK, alerts)
}
