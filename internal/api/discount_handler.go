package api

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/MorseWayne/moto_shop/internal/domain"
)

// DiscountService 定义折扣处理器依赖的服务
type DiscountService interface {
	CreateDiscount(ctx context.Context, req *domain.CreateDiscountRequest) (*domain.Discount, error)
	DeleteDiscount(ctx context.Context, id int64) error
	GetDiscount(ctx context.Context, id int64) (*domain.Discount, error)
	ListDiscounts(ctx context.Context) ([]*domain.Discount, error)
	Quote(ctx context.Context, req *domain.QuoteDiscountRequest) (*domain.DiscountQuote, error)
}

// DiscountHandler 折扣码API处理器
type DiscountHandler struct {
	discounts DiscountService
	logger    *zap.Logger
}

// NewDiscountHandler 创建折扣码处理器
func NewDiscountHandler(discounts DiscountService, logger *zap.Logger) *DiscountHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DiscountHandler{discounts: discounts, logger: logger}
}

// CreateDiscount 创建折扣码（店员）
// POST /api/v1/discounts
func (h *DiscountHandler) CreateDiscount(c *gin.Context) {
	var req domain.CreateDiscountRequest
	if !bindJSON(c, h.logger, &req) {
		return
	}
	discount, err := h.discounts.CreateDiscount(c.Request.Context(), &req)
	if err != nil {
		writeError(c, h.logger, "create_discount", err)
		return
	}
	writeData(c, http.StatusCreated, discount)
}

// ListDiscounts 折扣码列表（店员）
// GET /api/v1/discounts
func (h *DiscountHandler) ListDiscounts(c *gin.Context) {
	discounts, err := h.discounts.ListDiscounts(c.Request.Context())
	if err != nil {
		writeError(c, h.logger, "list_discounts", err)
		return
	}
	writeData(c, http.StatusOK, discounts)
}

// GetDiscount 折扣码详情（店员）
// GET /api/v1/discounts/:id
func (h *DiscountHandler) GetDiscount(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	discount, err := h.discounts.GetDiscount(c.Request.Context(), id)
	if err != nil {
		writeError(c, h.logger, "get_discount", err)
		return
	}
	writeData(c, http.StatusOK, discount)
}

// DeleteDiscount 删除折扣码（店员）
// DELETE /api/v1/discounts/:id
func (h *DiscountHandler) DeleteDiscount(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	if err := h.discounts.DeleteDiscount(c.Request.Context(), id); err != nil {
		writeError(c, h.logger, "delete_discount", err)
		return
	}
	writeData(c, http.StatusOK, gin.H{"id": id, "deleted": true})
}

// Quote 试算折扣金额，不核销
// POST /api/v1/discounts/quote
func (h *DiscountHandler) Quote(c *gin.Context) {
	var req domain.QuoteDiscountRequest
	if !bindJSON(c, h.logger, &req) {
		return
	}
	quote, err := h.discounts.Quote(c.Request.Context(), &req)
	if err != nil {
		writeError(c, h.logger, "quote_discount", err)
		return
	}
	writeData(c, http.StatusOK, quote)
}
