package middleware

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/MorseWayne/moto_shop/internal/cache"
	"github.com/MorseWayne/moto_shop/internal/resp"
)

// HeaderIdempotentReplay 标记响应来自幂等缓存
const HeaderIdempotentReplay = "Idempotent-Replayed"

// IdempotencyConfig 幂等性中间件配置
type IdempotencyConfig struct {
	// 幂等键头名称
	IdempotencyKeyHeader string

	// 不参与幂等处理的方法
	SkipMethods []string

	// 响应保留时间
	CacheTTL time.Duration

	// 处理中标记的过期时间，进程崩溃后标记自动释放
	LockTTL time.Duration

	KeyPrefix string
}

// DefaultIdempotencyConfig 默认幂等性配置
func DefaultIdempotencyConfig() *IdempotencyConfig {
	return &IdempotencyConfig{
		IdempotencyKeyHeader: "X-Idempotency-Key",
		SkipMethods:          []string{http.MethodGet, http.MethodHead, http.MethodOptions},
		CacheTTL:             24 * time.Hour,
		LockTTL:              30 * time.Second,
		KeyPrefix:            "idem",
	}
}

// storedResponse 缓存的首次响应
type storedResponse struct {
	Status      int    `json:"status"`
	ContentType string `json:"content_type"`
	Body        []byte `json:"body"`
}

// recordingWriter 在写出响应的同时保留一份副本
type recordingWriter struct {
	gin.ResponseWriter
	body bytes.Buffer
}

func (w *recordingWriter) Write(b []byte) (int, error) {
	w.body.Write(b)
	return w.ResponseWriter.Write(b)
}

func (w *recordingWriter) WriteString(s string) (int, error) {
	w.body.WriteString(s)
	return w.ResponseWriter.WriteString(s)
}

// Idempotency 幂等性中间件。
// 携带 X-Idempotency-Key 的写请求，首次响应被缓存，相同键的重试直接重放；
// 首次请求尚未完成时，并发重试返回 409。
// 缓存不可用时放行请求，服务层自身的幂等（订单捕获键、退款键）仍然生效。
func Idempotency(store cache.Cache, logger *zap.Logger, config ...*IdempotencyConfig) gin.HandlerFunc {
	cfg := DefaultIdempotencyConfig()
	if len(config) > 0 && config[0] != nil {
		cfg = config[0]
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return func(c *gin.Context) {
		if slices.Contains(cfg.SkipMethods, c.Request.Method) {
			c.Next()
			return
		}
		key := c.GetHeader(cfg.IdempotencyKeyHeader)
		if key == "" {
			c.Next()
			return
		}
		if len(key) > 128 {
			resp.Error(c.Writer, http.StatusBadRequest, resp.CodeInvalidParam,
				"idempotency key too long", RequestIDFrom(c), TraceIDFrom(c))
			c.Abort()
			return
		}

		ctx := context.WithoutCancel(c.Request.Context())
		base := cfg.scopedKey(c, key)
		respKey, lockKey := base+":resp", base+":lock"

		// 1. 已有完成的响应则重放
		var saved storedResponse
		err := store.Get(ctx, respKey, &saved)
		switch {
		case err == nil:
			logger.Info("idempotent replay",
				zap.String("request_id", RequestIDFrom(c)),
				zap.String("idempotency_key", key),
				zap.Int("status", saved.Status))
			c.Header(HeaderIdempotentReplay, "true")
			c.Data(saved.Status, saved.ContentType, saved.Body)
			c.Abort()
			return
		case !errors.Is(err, cache.ErrCacheMiss):
			logger.Warn("idempotency cache unavailable", zap.Error(err))
			c.Next()
			return
		}

		// 2. 占用处理中标记
		acquired, err := store.SetNX(ctx, lockKey, RequestIDFrom(c), cfg.LockTTL)
		if err != nil {
			logger.Warn("idempotency cache unavailable", zap.Error(err))
			c.Next()
			return
		}
		if !acquired {
			resp.Error(c.Writer, http.StatusConflict, resp.CodeConflict,
				"a request with this idempotency key is in progress", RequestIDFrom(c), TraceIDFrom(c))
			c.Abort()
			return
		}
		defer func() {
			if err := store.Del(ctx, lockKey); err != nil {
				logger.Warn("failed to release idempotency lock", zap.String("key", lockKey), zap.Error(err))
			}
		}()

		// 3. 处理请求并缓存结果
		w := &recordingWriter{ResponseWriter: c.Writer}
		c.Writer = w
		c.Next()

		status := w.Status()
		if !replayable(status) {
			return
		}
		entry := storedResponse{
			Status:      status,
			ContentType: w.Header().Get("Content-Type"),
			Body:        w.body.Bytes(),
		}
		if err := store.Set(ctx, respKey, entry, cfg.CacheTTL); err != nil {
			logger.Warn("failed to store idempotent response", zap.String("key", respKey), zap.Error(err))
		}
	}
}

// scopedKey 以调用方、方法与路径限定幂等键，不同调用方的相同键互不影响
func (cfg *IdempotencyConfig) scopedKey(c *gin.Context, key string) string {
	caller := "guest"
	if actor, ok := ActorFrom(c); ok {
		caller = actor.String()
	}
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%s|%s", caller, c.Request.Method, c.Request.URL.Path, key)))
	return cfg.KeyPrefix + ":" + hex.EncodeToString(sum[:])
}

// replayable 服务端错误与支付失败、限流不缓存，客户端可以用同一个键重试
func replayable(status int) bool {
	switch {
	case status >= http.StatusInternalServerError:
		return false
	case status == http.StatusPaymentRequired, status == http.StatusTooManyRequests:
		return false
	}
	return true
}
