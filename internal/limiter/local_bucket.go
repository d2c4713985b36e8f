package limiter

import (
	"context"
	"math"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// LocalLimiter 进程内令牌桶，每个 key 一个 rate.Limiter
type LocalLimiter struct {
	config *Config

	mu      sync.Mutex
	buckets map[string]*rate.Limiter
	now     func() time.Time
}

// NewLocalLimiter 创建进程内限流器
func NewLocalLimiter(config *Config) (*LocalLimiter, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &LocalLimiter{
		config:  config,
		buckets: make(map[string]*rate.Limiter),
		now:     time.Now,
	}, nil
}

func (l *LocalLimiter) bucket(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.buckets[key]
	if !ok {
		b = rate.NewLimiter(rate.Limit(l.config.perSecond()), int(l.config.Burst))
		l.buckets[key] = b
	}
	return b
}

// Allow 检查是否允许请求通过
func (l *LocalLimiter) Allow(ctx context.Context, key string) (*LimitResult, error) {
	return l.AllowN(ctx, key, 1)
}

// AllowN 检查是否允许N个请求通过，不足时不消耗令牌
func (l *LocalLimiter) AllowN(_ context.Context, key string, n int64) (*LimitResult, error) {
	b := l.bucket(key)
	now := l.now()

	r := b.ReserveN(now, int(n))
	if !r.OK() {
		// 请求量超过桶容量，永远无法满足
		return &LimitResult{Allowed: false, RetryAfter: l.config.Window}, nil
	}
	if delay := r.DelayFrom(now); delay > 0 {
		r.CancelAt(now)
		return &LimitResult{
			Allowed:    false,
			Remaining:  remaining(b, now),
			RetryAfter: delay,
		}, nil
	}
	return &LimitResult{Allowed: true, Remaining: remaining(b, now)}, nil
}

// Reset 重置限流状态
func (l *LocalLimiter) Reset(_ context.Context, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.buckets, key)
	return nil
}

func remaining(b *rate.Limiter, now time.Time) int64 {
	return int64(math.Max(0, math.Floor(b.TokensAt(now))))
}
