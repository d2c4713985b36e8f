package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/MorseWayne/moto_shop/internal/logger"
)

const (
	HeaderRequestID = "X-Request-ID"
	HeaderTraceID   = "X-Trace-ID"
)

// RequestID 确保每个请求都有请求 ID 与追踪 ID：
// 1) 优先读取请求头 X-Request-ID / X-Trace-ID；
// 2) 若为空则生成 UUID，追踪 ID 缺省与请求 ID 相同；
// 3) 写入响应头、gin 上下文以及请求 context，服务层日志从 context 取 trace_id。
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		rid := strings.TrimSpace(c.GetHeader(HeaderRequestID))
		if rid == "" {
			rid = uuid.New().String()
		}
		tid := strings.TrimSpace(c.GetHeader(HeaderTraceID))
		if tid == "" {
			tid = rid
		}

		c.Header(HeaderRequestID, rid)
		c.Header(HeaderTraceID, tid)
		c.Set(ContextKeyRequestID, rid)
		c.Set(ContextKeyTraceID, tid)
		c.Request = c.Request.WithContext(logger.WithTraceID(c.Request.Context(), tid))
		c.Next()
	}
}
