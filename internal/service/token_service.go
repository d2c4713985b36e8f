package service

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/MorseWayne/moto_shop/internal/config"
	"github.com/MorseWayne/moto_shop/internal/domain"
)

// 令牌相关错误定义
var (
	ErrInvalidToken  = errors.New("invalid token")
	ErrTokenExpired  = errors.New("token expired")
	ErrTokenNotReady = errors.New("token used before valid")
)

// Claims 定义访问令牌载荷
type Claims struct {
	UserID   int64       `json:"user_id"`
	Username string      `json:"username"`
	Role     domain.Role `json:"role"`
	jwt.RegisteredClaims
}

// Actor 转换为操作主体
func (c *Claims) Actor() domain.Actor {
	return domain.Actor{UserID: c.UserID, Username: c.Username, Role: c.Role}
}

// TokenService 签发与校验访问令牌。账号体系在外部，这里只认令牌中的身份与角色。
type TokenService interface {
	IssueAccessToken(actor domain.Actor) (string, error)
	ValidateAccessToken(tokenString string) (*Claims, error)
}

// tokenService 是TokenService接口的实现
type tokenService struct {
	secret []byte
	ttl    time.Duration
	issuer string
	logger *zap.Logger
}

// NewTokenService 创建令牌服务实例
func NewTokenService(cfg *config.Config, logger *zap.Logger) TokenService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &tokenService{
		secret: []byte(cfg.JWT.Secret),
		ttl:    cfg.JWT.AccessTokenTTL,
		issuer: cfg.App.Name,
		logger: logger,
	}
}

// IssueAccessToken 为操作主体签发访问令牌
func (s *tokenService) IssueAccessToken(actor domain.Actor) (string, error) {
	if !actor.Role.IsValid() {
		return "", fmt.Errorf("%w: unknown role %q", domain.ErrInvalidInput, actor.Role)
	}
	now := time.Now()
	claims := &Claims{
		UserID:   actor.UserID,
		Username: actor.Username,
		Role:     actor.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(actor.UserID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    s.issuer,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		s.logger.Error("failed to sign access token", zap.Error(err))
		return "", fmt.Errorf("sign access token: %w", err)
	}

	s.logger.Info("access token issued",
		zap.Int64("user_id", actor.UserID),
		zap.String("username", actor.Username),
		zap.String("role", string(actor.Role)),
		zap.Duration("ttl", s.ttl),
	)
	return signed, nil
}

// ValidateAccessToken 验证访问令牌
func (s *tokenService) ValidateAccessToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (any, error) {
		// 验证签名方法
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secret, nil
	}, jwt.WithIssuer(s.issuer))

	if err != nil {
		// 根据错误类型返回特定错误
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		if errors.Is(err, jwt.ErrTokenNotValidYet) {
			return nil, ErrTokenNotReady
		}
		s.logger.Warn("token validation failed", zap.Error(err))
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	if !claims.Role.IsValid() {
		s.logger.Warn("token carries unknown role", zap.String("role", string(claims.Role)))
		return nil, ErrInvalidToken
	}
	return claims, nil
}
