package middleware

import (
	"context"
	"errors"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/MorseWayne/moto_shop/internal/resp"
)

// Timeout 为请求 context 设置截止时间，下游的数据库与网关调用随之取消
func Timeout(d time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		if d <= 0 {
			c.Next()
			return
		}
		ctx, cancel := context.WithTimeout(c.Request.Context(), d)
		defer cancel()
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// HandleTimeout writes the unified timeout response when the request context expired.
func HandleTimeout(c *gin.Context) bool {
	err := c.Request.Context().Err()
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		resp.Error(c.Writer, resp.HTTPStatusFromCode(resp.CodeTimeout), resp.CodeTimeout,
			"request timeout", RequestIDFrom(c), TraceIDFrom(c))
		c.Abort()
		return true
	}
	return false
}
