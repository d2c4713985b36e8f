// Package middleware 提供 gin 中间件：请求 ID、恢复、超时、CORS、访问日志、认证、幂等等。
package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/MorseWayne/moto_shop/internal/domain"
)

// 约定的 gin 上下文键，处理器与限流器按这些键读取请求信息。
const (
	ContextKeyRequestID = "request_id"
	ContextKeyTraceID   = "trace_id"
	ContextKeyActor     = "actor"
	ContextKeyUserID    = "user_id"
)

// RequestIDFrom 读取请求 ID（可能为空）。
func RequestIDFrom(c *gin.Context) string {
	return c.GetString(ContextKeyRequestID)
}

// TraceIDFrom 读取追踪 ID（可能为空）。
func TraceIDFrom(c *gin.Context) string {
	return c.GetString(ContextKeyTraceID)
}

// ActorFrom 读取已认证的调用方
func ActorFrom(c *gin.Context) (domain.Actor, bool) {
	v, ok := c.Get(ContextKeyActor)
	if !ok {
		return domain.Actor{}, false
	}
	actor, ok := v.(domain.Actor)
	return actor, ok
}

func setActor(c *gin.Context, actor domain.Actor) {
	c.Set(ContextKeyActor, actor)
	c.Set(ContextKeyUserID, actor.UserID)
}
