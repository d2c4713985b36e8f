package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/MorseWayne/moto_shop/internal/domain"
	"github.com/MorseWayne/moto_shop/internal/service"
)

// MockTokenService 是用于测试的令牌服务模拟实现
type MockTokenService struct {
	validTokens   map[string]*service.Claims
	expiredTokens map[string]bool
}

func NewMockTokenService() *MockTokenService {
	return &MockTokenService{
		validTokens:   make(map[string]*service.Claims),
		expiredTokens: make(map[string]bool),
	}
}

func (m *MockTokenService) IssueAccessToken(actor domain.Actor) (string, error) {
	token := "mock_access_token_" + actor.Username
	m.validTokens[token] = &service.Claims{
		UserID:   actor.UserID,
		Username: actor.Username,
		Role:     actor.Role,
	}
	return token, nil
}

func (m *MockTokenService) ValidateAccessToken(tokenString string) (*service.Claims, error) {
	if m.expiredTokens[tokenString] {
		return nil, service.ErrTokenExpired
	}
	claims, exists := m.validTokens[tokenString]
	if !exists {
		return nil, service.ErrInvalidToken
	}
	return claims, nil
}

func (m *MockTokenService) AddExpiredToken(token string) {
	m.expiredTokens[token] = true
}

var (
	staff    = domain.Actor{UserID: 1, Username: "mechanic", Role: domain.RoleStaff}
	customer = domain.Actor{UserID: 2, Username: "rider", Role: domain.RoleCustomer}
)

// newAuthEngine 构造挂载指定中间件的测试路由，处理器回显认证结果
func newAuthEngine(handlers ...gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	engine := gin.New()
	engine.Use(RequestID())
	handlers = append(handlers, func(c *gin.Context) {
		if actor, ok := ActorFrom(c); ok {
			c.String(http.StatusOK, "authenticated:"+actor.Username)
			return
		}
		c.String(http.StatusOK, "anonymous")
	})
	engine.GET("/test", handlers...)
	return engine
}

func doGet(engine *gin.Engine, authHeader string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	if authHeader != "" {
		req.Header.Set("Authorization", authHeader)
	}
	rr := httptest.NewRecorder()
	engine.ServeHTTP(rr, req)
	return rr
}

func TestRequireAuth_Success(t *testing.T) {
	mockTokens := NewMockTokenService()
	token, err := mockTokens.IssueAccessToken(staff)
	if err != nil {
		t.Fatalf("Failed to issue token: %v", err)
	}

	rr := doGet(newAuthEngine(RequireAuth(mockTokens, zap.NewNop())), "Bearer "+token)

	if rr.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", rr.Code)
	}
	if rr.Body.String() != "authenticated:mechanic" {
		t.Errorf("Expected 'authenticated:mechanic', got %s", rr.Body.String())
	}
}

func TestRequireAuth_Rejections(t *testing.T) {
	mockTokens := NewMockTokenService()
	expired, _ := mockTokens.IssueAccessToken(customer)
	mockTokens.AddExpiredToken(expired)

	testCases := []struct {
		name   string
		header string
	}{
		{"missing header", ""},
		{"missing Bearer prefix", "invalid_token"},
		{"empty token", "Bearer "},
		{"only Bearer", "Bearer"},
		{"unknown token", "Bearer invalid_token"},
		{"expired token", "Bearer " + expired},
	}

	engine := newAuthEngine(RequireAuth(mockTokens, zap.NewNop()))
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			rr := doGet(engine, tc.header)
			if rr.Code != http.StatusUnauthorized {
				t.Errorf("Expected status 401, got %d", rr.Code)
			}
		})
	}
}

func TestRequireStaff(t *testing.T) {
	mockTokens := NewMockTokenService()
	staffToken, _ := mockTokens.IssueAccessToken(staff)
	customerToken, _ := mockTokens.IssueAccessToken(customer)

	engine := newAuthEngine(RequireAuth(mockTokens, zap.NewNop()), RequireStaff(zap.NewNop()))

	if rr := doGet(engine, "Bearer "+staffToken); rr.Code != http.StatusOK {
		t.Errorf("Expected status 200 for staff, got %d", rr.Code)
	}
	if rr := doGet(engine, "Bearer "+customerToken); rr.Code != http.StatusForbidden {
		t.Errorf("Expected status 403 for customer, got %d", rr.Code)
	}
}

func TestRequireStaff_NoActorInContext(t *testing.T) {
	engine := newAuthEngine(RequireStaff(zap.NewNop()))

	rr := doGet(engine, "")
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("Expected status 401, got %d", rr.Code)
	}
}

func TestOptionalAuth(t *testing.T) {
	mockTokens := NewMockTokenService()
	token, _ := mockTokens.IssueAccessToken(customer)
	engine := newAuthEngine(OptionalAuth(mockTokens, zap.NewNop()))

	testCases := []struct {
		name   string
		header string
		want   string
	}{
		{"valid token", "Bearer " + token, "authenticated:rider"},
		{"no token", "", "anonymous"},
		{"invalid token", "Bearer invalid_token", "anonymous"},
		{"malformed header", "Basic abc", "anonymous"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			rr := doGet(engine, tc.header)
			// 可选认证在令牌无效时不应阻止请求
			if rr.Code != http.StatusOK {
				t.Errorf("Expected status 200, got %d", rr.Code)
			}
			if rr.Body.String() != tc.want {
				t.Errorf("Expected %q, got %q", tc.want, rr.Body.String())
			}
		})
	}
}
