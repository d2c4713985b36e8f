// Package api 提供订单、商品库存、折扣与退款的 gin 处理器
package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/MorseWayne/moto_shop/internal/domain"
	"github.com/MorseWayne/moto_shop/internal/middleware"
	"github.com/MorseWayne/moto_shop/internal/resp"
)

// errorCodes 按顺序匹配哨兵错误，包装类型先于其哨兵判断
var errorCodes = []struct {
	target error
	code   int
}{
	{domain.ErrOutOfStock, resp.CodeOutOfStock},
	{domain.ErrInsufficientStock, resp.CodeInsufficientStock},
	{domain.ErrIllegalTransition, resp.CodeIllegalTransition},
	{domain.ErrPaymentFailed, resp.CodePaymentFailed},
	{domain.ErrDiscountInvalid, resp.CodeDiscountInvalid},
	{domain.ErrDiscountExpired, resp.CodeDiscountExpired},
	{domain.ErrDiscountExhausted, resp.CodeDiscountExhausted},
	{domain.ErrMinPurchaseNotMet, resp.CodeMinPurchaseNotMet},
	{domain.ErrRefundExceedsOrderTotal, resp.CodeRefundExceedsOrderTotal},
	{domain.ErrOrderNotRefundable, resp.CodeOrderNotRefundable},
	{domain.ErrNotFound, resp.CodeNotFound},
	{domain.ErrInvalidInput, resp.CodeInvalidParam},
	{domain.ErrDuplicate, resp.CodeConflict},
	{domain.ErrVersionConflict, resp.CodeConflict},
}

// classify 将服务层错误映射为业务错误码、对外消息与附加数据
func classify(err error) (int, string, any) {
	var oos *domain.OutOfStockError
	if errors.As(err, &oos) {
		return resp.CodeOutOfStock, err.Error(), gin.H{
			"product_id": oos.ProductID,
			"requested":  oos.Requested,
			"available":  oos.Available,
		}
	}
	var te *domain.TransitionError
	if errors.As(err, &te) {
		return resp.CodeIllegalTransition, err.Error(), gin.H{
			"from":    te.From,
			"to":      te.To,
			"allowed": domain.AllowedTransitions(te.From),
		}
	}
	for _, m := range errorCodes {
		if errors.Is(err, m.target) {
			return m.code, err.Error(), nil
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return resp.CodeTimeout, "request timeout", nil
	}
	return resp.CodeInternalError, "internal server error", nil
}

// writeError 写出错误响应，服务端错误记 error 日志，业务拒绝记 info
func writeError(c *gin.Context, logger *zap.Logger, op string, err error) {
	code, message, data := classify(err)
	fields := []zap.Field{
		zap.String("op", op),
		zap.String("request_id", middleware.RequestIDFrom(c)),
		zap.String("trace_id", middleware.TraceIDFrom(c)),
		zap.Int("code", code),
		zap.Error(err),
	}
	if code == resp.CodeInternalError || code == resp.CodeTimeout {
		logger.Error("request failed", fields...)
	} else {
		logger.Info("request rejected", fields...)
	}
	resp.WriteJSON(c.Writer, resp.HTTPStatusFromCode(code), code, message, data,
		middleware.RequestIDFrom(c), middleware.TraceIDFrom(c))
}

func writeData(c *gin.Context, status int, data any) {
	resp.WriteJSON(c.Writer, status, resp.CodeOK, "success", data,
		middleware.RequestIDFrom(c), middleware.TraceIDFrom(c))
}

func badRequest(c *gin.Context, message string) {
	resp.Error(c.Writer, http.StatusBadRequest, resp.CodeInvalidParam, message,
		middleware.RequestIDFrom(c), middleware.TraceIDFrom(c))
}

// parseID 解析路径中的正整数ID，失败时直接写出 400
func parseID(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		badRequest(c, "invalid "+name)
		return 0, false
	}
	return id, true
}

// bindJSON 绑定请求体，失败时直接写出 400
func bindJSON(c *gin.Context, logger *zap.Logger, dst any) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		logger.Warn("invalid request body",
			zap.String("request_id", middleware.RequestIDFrom(c)),
			zap.Error(err))
		badRequest(c, "invalid request body: "+err.Error())
		return false
	}
	return true
}

// bindOptionalJSON 允许空请求体
func bindOptionalJSON(c *gin.Context, logger *zap.Logger, dst any) bool {
	if c.Request.ContentLength == 0 {
		return true
	}
	return bindJSON(c, logger, dst)
}

// queryInt 读取整数查询参数，缺省或非法时返回 def
func queryInt(c *gin.Context, name string, def int) int {
	v, err := strconv.Atoi(c.Query(name))
	if err != nil {
		return def
	}
	return v
}
