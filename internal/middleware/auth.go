package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/MorseWayne/moto_shop/internal/resp"
	"github.com/MorseWayne/moto_shop/internal/service"
)

const bearerPrefix = "Bearer "

// bearerToken 从 Authorization 头中提取令牌，格式不对时返回空串
func bearerToken(c *gin.Context) (string, bool) {
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		return "", false
	}
	if !strings.HasPrefix(authHeader, bearerPrefix) {
		return "", true
	}
	return strings.TrimSpace(strings.TrimPrefix(authHeader, bearerPrefix)), true
}

// RequireAuth JWT认证中间件
// 验证请求头中的访问令牌，并将调用方注入到 gin 上下文
func RequireAuth(tokens service.TokenService, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		reqID := RequestIDFrom(c)

		tokenString, present := bearerToken(c)
		if !present {
			logger.Warn("missing authorization header", zap.String("request_id", reqID))
			unauthorized(c, "authorization header required")
			return
		}
		if tokenString == "" {
			logger.Warn("invalid authorization header format", zap.String("request_id", reqID))
			unauthorized(c, "invalid authorization header format")
			return
		}

		claims, err := tokens.ValidateAccessToken(tokenString)
		if err != nil {
			logger.Warn("token validation failed",
				zap.String("request_id", reqID),
				zap.Error(err),
			)

			// 根据错误类型返回不同的响应
			switch {
			case errors.Is(err, service.ErrTokenExpired):
				unauthorized(c, "token expired")
			case errors.Is(err, service.ErrTokenNotReady):
				unauthorized(c, "token not ready")
			default:
				unauthorized(c, "invalid token")
			}
			return
		}

		setActor(c, claims.Actor())
		c.Next()
	}
}

// OptionalAuth 可选认证中间件
// 携带有效令牌时注入调用方，否则按访客继续处理；结账接口同时服务顾客与访客
func OptionalAuth(tokens service.TokenService, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString, _ := bearerToken(c)
		if tokenString == "" {
			c.Next()
			return
		}

		claims, err := tokens.ValidateAccessToken(tokenString)
		if err != nil {
			logger.Debug("optional auth token validation failed",
				zap.String("request_id", RequestIDFrom(c)),
				zap.Error(err),
			)
			c.Next()
			return
		}

		setActor(c, claims.Actor())
		c.Next()
	}
}

// RequireStaff 后台权限中间件，要求调用方为店员或管理员
func RequireStaff(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		reqID := RequestIDFrom(c)
		actor, ok := ActorFrom(c)

		// 应该由 RequireAuth 确保
		if !ok {
			logger.Error("actor not found in context", zap.String("request_id", reqID))
			unauthorized(c, "authentication required")
			return
		}

		if !actor.IsStaff() {
			logger.Warn("insufficient permissions",
				zap.String("request_id", reqID),
				zap.Int64("user_id", actor.UserID),
				zap.String("user_role", string(actor.Role)),
			)
			resp.Error(c.Writer, http.StatusForbidden, resp.CodeForbidden, "insufficient permissions", reqID, TraceIDFrom(c))
			c.Abort()
			return
		}

		c.Next()
	}
}

func unauthorized(c *gin.Context, message string) {
	resp.Error(c.Writer, http.StatusUnauthorized, resp.CodeUnauthorized, message, RequestIDFrom(c), TraceIDFrom(c))
	c.Abort()
}
