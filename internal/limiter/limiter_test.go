package limiter

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr bool
	}{
		{"valid", Config{Rate: 10, Window: time.Second, Burst: 20}, false},
		{"zero rate", Config{Rate: 0, Window: time.Second, Burst: 20}, true},
		{"zero burst", Config{Rate: 1, Window: time.Second}, true},
		{"zero window", Config{Rate: 1, Burst: 1}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestLocalLimiter_BurstThenRefill(t *testing.T) {
	l, err := NewLocalLimiter(&Config{Rate: 1, Window: time.Second, Burst: 3})
	require.NoError(t, err)
	now := time.Unix(1_700_000_000, 0)
	l.now = func() time.Time { return now }
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		res, err := l.Allow(ctx, "user:1")
		require.NoError(t, err)
		assert.True(t, res.Allowed, "request %d within burst", i)
	}

	res, err := l.Allow(ctx, "user:1")
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Equal(t, time.Second, res.RetryAfter)

	// 其他 key 互不影响
	res, err = l.Allow(ctx, "user:2")
	require.NoError(t, err)
	assert.True(t, res.Allowed)

	now = now.Add(time.Second)
	res, err = l.Allow(ctx, "user:1")
	require.NoError(t, err)
	assert.True(t, res.Allowed)

	res, err = l.AllowN(ctx, "user:1", 10)
	require.NoError(t, err)
	assert.False(t, res.Allowed, "more than burst is never allowed")

	require.NoError(t, l.Reset(ctx, "user:1"))
	res, err = l.AllowN(ctx, "user:1", 3)
	require.NoError(t, err)
	assert.True(t, res.Allowed)
}

func TestCheckoutRateLimitMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	l, err := NewLocalLimiter(&Config{Rate: 1, Window: time.Minute, Burst: 2})
	require.NoError(t, err)

	engine := gin.New()
	engine.POST("/orders", CheckoutRateLimitMiddleware(l, nil), func(c *gin.Context) {
		c.Status(http.StatusCreated)
	})

	codes := make([]int, 0, 3)
	var last *httptest.ResponseRecorder
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodPost, "/orders", nil)
		req.RemoteAddr = "10.0.0.1:5000"
		last = httptest.NewRecorder()
		engine.ServeHTTP(last, req)
		codes = append(codes, last.Code)
	}
	assert.Equal(t, []int{http.StatusCreated, http.StatusCreated, http.StatusTooManyRequests}, codes)
	assert.NotEmpty(t, last.Header().Get("Retry-After"))
}

type failingLimiter struct{}

func (failingLimiter) Allow(context.Context, string) (*LimitResult, error) {
	return nil, assert.AnError
}
func (failingLimiter) AllowN(context.Context, string, int64) (*LimitResult, error) {
	return nil, assert.AnError
}
func (failingLimiter) Reset(context.Context, string) error { return nil }

func TestRateLimitMiddleware_FailsOpen(t *testing.T) {
	gin.SetMode(gin.TestMode)
	engine := gin.New()
	engine.POST("/orders", RateLimitMiddleware(&MiddlewareConfig{Limiter: failingLimiter{}}), func(c *gin.Context) {
		c.Status(http.StatusCreated)
	})

	rr := httptest.NewRecorder()
	engine.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/orders", nil))
	assert.Equal(t, http.StatusCreated, rr.Code)
}

func TestTokenBucketLimiter_Redis(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping Redis test in short mode")
	}
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}
	client := redis.NewClient(&redis.Options{Addr: addr, DB: 1})
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("Skipping Redis test, cannot connect: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })

	tb, err := NewTokenBucketLimiter(client, &Config{Rate: 1, Window: time.Minute, Burst: 2, KeyPrefix: "motoshop:test:tb"})
	require.NoError(t, err)
	key := "checkout:" + t.Name()
	require.NoError(t, tb.Reset(ctx, key))
	t.Cleanup(func() { _ = tb.Reset(ctx, key) })

	for i := 0; i < 2; i++ {
		res, err := tb.Allow(ctx, key)
		require.NoError(t, err)
		assert.True(t, res.Allowed)
	}
	res, err := tb.Allow(ctx, key)
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Greater(t, res.RetryAfter, time.Duration(0))
}
