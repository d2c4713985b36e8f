package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/MorseWayne/moto_shop/internal/domain"
	"github.com/MorseWayne/moto_shop/internal/middleware"
	"github.com/MorseWayne/moto_shop/internal/service"
)

// ProductHandler 商品相关的HTTP处理器
type ProductHandler struct {
	productService service.ProductService
	logger         *zap.Logger
}

// NewProductHandler 创建商品处理器实例
func NewProductHandler(productService service.ProductService, logger *zap.Logger) *ProductHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ProductHandler{
		productService: productService,
		logger:         logger,
	}
}

// CreateProduct 创建商品，初始库存记为 restock 流水
// POST /api/v1/products
// 需要店员权限
func (h *ProductHandler) CreateProduct(c *gin.Context) {
	var req domain.CreateProductRequest
	if !bindJSON(c, h.logger, &req) {
		return
	}
	actor, _ := middleware.ActorFrom(c)

	product, err := h.productService.CreateProduct(c.Request.Context(), &req, actor)
	if err != nil {
		writeError(c, h.logger, "create_product", err)
		return
	}
	writeData(c, http.StatusCreated, product)
}

// GetProduct 获取商品详情
// GET /api/v1/products/:id
func (h *ProductHandler) GetProduct(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	product, err := h.productService.GetProduct(c.Request.Context(), id)
	if err != nil {
		writeError(c, h.logger, "get_product", err)
		return
	}
	writeData(c, http.StatusOK, product)
}

// UpdateProduct 更新商品资料，库存只能通过调整流水修改
// PATCH /api/v1/products/:id
// 需要店员权限
func (h *ProductHandler) UpdateProduct(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	var req domain.UpdateProductRequest
	if !bindJSON(c, h.logger, &req) {
		return
	}
	product, err := h.productService.UpdateProduct(c.Request.Context(), id, &req)
	if err != nil {
		writeError(c, h.logger, "update_product", err)
		return
	}
	writeData(c, http.StatusOK, product)
}

// ListProducts 获取商品列表
// GET /api/v1/products?keyword=&low_stock_only=&page=&page_size=
func (h *ProductHandler) ListProducts(c *gin.Context) {
	var req domain.ProductListRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		badRequest(c, "invalid query: "+err.Error())
		return
	}
	products, err := h.productService.ListProducts(c.Request.Context(), &req)
	if err != nil {
		writeError(c, h.logger, "list_products", err)
		return
	}
	writeData(c, http.StatusOK, products)
}
