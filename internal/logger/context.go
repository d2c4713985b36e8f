package logger

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type traceKey struct{}

// WithTraceID 将追踪 ID 写入上下文
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceKey{}, traceID)
}

// TraceIDFromContext 读取追踪 ID，不存在时返回空串
func TraceIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(traceKey{}).(string); ok {
		return v
	}
	return ""
}

// EnsureTraceID 保证上下文携带追踪 ID，没有时生成一个
func EnsureTraceID(ctx context.Context) (context.Context, string) {
	if id := TraceIDFromContext(ctx); id != "" {
		return ctx, id
	}
	id := uuid.New().String()
	return WithTraceID(ctx, id), id
}

// TraceField 返回用于日志的 trace_id 字段
func TraceField(ctx context.Context) zap.Field {
	return zap.String("trace_id", TraceIDFromContext(ctx))
}
