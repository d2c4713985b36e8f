// Package router 提供 HTTP 路由设置和中间件配置功能
package router

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/MorseWayne/moto_shop/internal/api"
	"github.com/MorseWayne/moto_shop/internal/cache"
	"github.com/MorseWayne/moto_shop/internal/config"
	"github.com/MorseWayne/moto_shop/internal/limiter"
	"github.com/MorseWayne/moto_shop/internal/metrics"
	"github.com/MorseWayne/moto_shop/internal/middleware"
	"github.com/MorseWayne/moto_shop/internal/service"
)

// HealthChecker 健康检查依赖，例如存储与缓存
type HealthChecker interface {
	Ping(ctx context.Context) error
}

// Dependencies 包含路由设置所需的所有依赖
type Dependencies struct {
	OrderHandler     *api.OrderHandler
	ProductHandler   *api.ProductHandler
	InventoryHandler *api.InventoryHandler
	DiscountHandler  *api.DiscountHandler
	TokenService     service.TokenService

	// CheckoutLimiter 为 nil 时不限流
	CheckoutLimiter limiter.Limiter
	// IdempotencyCache 保存带幂等键的写请求响应
	IdempotencyCache cache.Cache
	Metrics          *metrics.Metrics
	HealthChecks     map[string]HealthChecker
}

// Router 路由器接口
type Router interface {
	Setup(cfg *config.Config, deps *Dependencies, lg *zap.Logger) http.Handler
}

// GinRouter Gin路由器实现
type GinRouter struct {
	engine  *gin.Engine
	deps    *Dependencies
	logger  *zap.Logger
	version string
}

// New 创建新的路由器实例
func New() Router {
	return &GinRouter{}
}

// Setup 设置路由和中间件
func (r *GinRouter) Setup(cfg *config.Config, deps *Dependencies, lg *zap.Logger) http.Handler {
	// 根据环境设置 Gin 模式
	switch cfg.App.Env {
	case "prod":
		gin.SetMode(gin.ReleaseMode)
	case "test":
		gin.SetMode(gin.TestMode)
	default:
		gin.SetMode(gin.DebugMode)
	}

	r.engine = gin.New()
	r.deps = deps
	r.logger = lg
	r.version = cfg.App.Version

	r.setupMiddleware(cfg)
	r.setupRoutes()

	return r.engine
}

// setupMiddleware 设置 Gin 中间件
func (r *GinRouter) setupMiddleware(cfg *config.Config) {
	r.engine.Use(
		middleware.RequestID(),
		middleware.Recovery(r.logger),
		middleware.AccessLog(r.logger, r.deps.Metrics),
		middleware.CORS(cfg.CORS),
		middleware.Timeout(cfg.App.RequestTimeout),
	)
}

// setupRoutes 设置所有路由
func (r *GinRouter) setupRoutes() {
	r.engine.GET("/healthz", r.healthCheck)
	r.engine.GET("/metrics", gin.WrapH(r.deps.Metrics.Handler()))

	requireAuth := middleware.RequireAuth(r.deps.TokenService, r.logger)
	optionalAuth := middleware.OptionalAuth(r.deps.TokenService, r.logger)
	staffOnly := middleware.RequireStaff(r.logger)
	idempotent := middleware.Idempotency(r.idempotencyCache(), r.logger)
	checkoutLimit := r.checkoutLimit()

	orders := r.deps.OrderHandler
	products := r.deps.ProductHandler
	inventory := r.deps.InventoryHandler
	discounts := r.deps.DiscountHandler

	v1 := r.engine.Group("/api/v1")
	{
		// 订单路由：下单与支付支持访客
		checkout := v1.Group("/orders")
		checkout.Use(optionalAuth)
		{
			checkout.POST("", checkoutLimit, idempotent, orders.CreateOrder)
			checkout.GET("/:id", orders.GetOrder)
			checkout.POST("/:id/pay", checkoutLimit, idempotent, orders.ConfirmPayment)
			checkout.POST("/:id/cancel", idempotent, orders.CancelOrder)
		}

		// 订单路由（需要认证）
		authedOrders := v1.Group("/orders")
		authedOrders.Use(requireAuth)
		{
			authedOrders.GET("", orders.ListOrders)
		}

		// 订单后台路由（需要认证+店员权限）
		staffOrders := v1.Group("/orders")
		staffOrders.Use(requireAuth, staffOnly)
		{
			staffOrders.POST("/:id/status", idempotent, orders.AdvanceStatus)
			staffOrders.POST("/:id/refunds", idempotent, orders.RefundOrder)
			staffOrders.GET("/:id/refunds", orders.ListRefunds)
		}

		// 商品路由（公开）
		publicProducts := v1.Group("/products")
		{
			publicProducts.GET("", products.ListProducts)
			publicProducts.GET("/:id", products.GetProduct)
		}

		// 商品与库存管理（需要认证+店员权限）
		staffProducts := v1.Group("/products")
		staffProducts.Use(requireAuth, staffOnly)
		{
			staffProducts.POST("", idempotent, products.CreateProduct)
			staffProducts.PATCH("/:id", products.UpdateProduct)
			staffProducts.POST("/:id/adjustments", idempotent, inventory.AdjustStock)
			staffProducts.GET("/:id/adjustments", inventory.History)
			staffProducts.GET("/:id/audit", inventory.Audit)
		}

		staffInventory := v1.Group("/inventory")
		staffInventory.Use(requireAuth, staffOnly)
		{
			staffInventory.GET("/low-stock", inventory.GetLowStockAlerts)
		}

		// 折扣码：试算公开，管理需要店员权限
		v1.POST("/discounts/quote", discounts.Quote)
		staffDiscounts := v1.Group("/discounts")
		staffDiscounts.Use(requireAuth, staffOnly)
		{
			staffDiscounts.POST("", discounts.CreateDiscount)
			staffDiscounts.GET("", discounts.ListDiscounts)
			staffDiscounts.GET("/:id", discounts.GetDiscount)
			staffDiscounts.DELETE("/:id", discounts.DeleteDiscount)
		}
	}
}

// healthCheck 健康检查处理器，任一依赖不可用时返回 503
func (r *GinRouter) healthCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	checks := make(map[string]string, len(r.deps.HealthChecks))
	for name, checker := range r.deps.HealthChecks {
		if err := checker.Ping(ctx); err != nil {
			r.logger.Warn("health check failed", zap.String("dependency", name), zap.Error(err))
			checks[name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		checks[name] = "ok"
	}

	c.JSON(status, gin.H{
		"status":  http.StatusText(status),
		"version": r.version,
		"checks":  checks,
	})
}

func (r *GinRouter) checkoutLimit() gin.HandlerFunc {
	if r.deps.CheckoutLimiter == nil {
		return func(c *gin.Context) { c.Next() }
	}
	return limiter.CheckoutRateLimitMiddleware(r.deps.CheckoutLimiter, r.logger)
}

func (r *GinRouter) idempotencyCache() cache.Cache {
	if r.deps.IdempotencyCache == nil {
		return cache.NewNullCache()
	}
	return r.deps.IdempotencyCache
}
