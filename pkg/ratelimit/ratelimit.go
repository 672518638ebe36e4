// Package ratelimit 接口请求限流：Redis 分布式实现与进程内实现
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis_rate/v10"
	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"
)

// RateLimiter 限流器接口
type RateLimiter interface {
	// Allow 检查 key 在给定规则下是否放行
	Allow(ctx context.Context, key string, limit Limit) (*Result, error)
}

// Limit 限流规则
type Limit struct {
	Rate   int
	Period time.Duration
	Burst  int
}

// PerSecond 每秒 qps 次，突发 burst
func PerSecond(qps, burst int) Limit {
	return Limit{Rate: qps, Period: time.Second, Burst: burst}
}

// Result 限流检查结果
type Result struct {
	Allowed    bool
	Remaining  int
	ResetAfter time.Duration
	RetryAfter time.Duration
}

// RedisRateLimiter 基于 Redis 的 GCRA 限流
type RedisRateLimiter struct {
	limiter *redis_rate.Limiter
}

// NewRedisRateLimiter 创建 Redis 限流器
func NewRedisRateLimiter(rdb *redis.Client) *RedisRateLimiter {
	return &RedisRateLimiter{
		limiter: redis_rate.NewLimiter(rdb),
	}
}

// Allow 检查是否放行
func (r *RedisRateLimiter) Allow(ctx context.Context, key string, limit Limit) (*Result, error) {
	res, err := r.limiter.Allow(ctx, key, redis_rate.Limit{
		Rate:   limit.Rate,
		Period: limit.Period,
		Burst:  limit.Burst,
	})
	if err != nil {
		return nil, fmt.Errorf("rate limit check failed: %w", err)
	}

	return &Result{
		Allowed:    res.Allowed > 0,
		Remaining:  res.Remaining,
		ResetAfter: res.ResetAfter,
		RetryAfter: res.RetryAfter,
	}, nil
}

// LocalRateLimiter 进程内令牌桶，每个 key 一个 rate.Limiter，空闲 key 由 Cleanup 回收
type LocalRateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*localEntry
	now      func() time.Time
}

type localEntry struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// NewLocalRateLimiter 创建进程内限流器
func NewLocalRateLimiter() *LocalRateLimiter {
	return &LocalRateLimiter{
		limiters: make(map[string]*localEntry),
		now:      time.Now,
	}
}

// Allow 检查是否放行
func (l *LocalRateLimiter) Allow(_ context.Context, key string, limit Limit) (*Result, error) {
	if limit.Rate <= 0 || limit.Period <= 0 {
		return nil, fmt.Errorf("invalid limit: rate=%d period=%s", limit.Rate, limit.Period)
	}
	burst := max(limit.Burst, 1)
	every := rate.Every(limit.Period / time.Duration(limit.Rate))
	now := l.now()

	l.mu.Lock()
	e, ok := l.limiters[key]
	if !ok {
		e = &localEntry{lim: rate.NewLimiter(every, burst)}
		l.limiters[key] = e
	}
	e.lastSeen = now
	lim := e.lim
	l.mu.Unlock()

	r := lim.ReserveN(now, 1)
	delay := r.DelayFrom(now)
	if delay > 0 {
		r.CancelAt(now)
		return &Result{Allowed: false, RetryAfter: delay, ResetAfter: delay}, nil
	}
	remaining := int(lim.TokensAt(now))
	return &Result{
		Allowed:    true,
		Remaining:  max(remaining, 0),
		ResetAfter: time.Duration(float64(burst-remaining) / float64(every) * float64(time.Second)),
	}, nil
}

// Forget 移除 key 对应的限流器
func (l *LocalRateLimiter) Forget(key string) {
	l.mu.Lock()
	delete(l.limiters, key)
	l.mu.Unlock()
}

// Cleanup 回收超过 idle 未访问的 key，返回回收数量
func (l *LocalRateLimiter) Cleanup(idle time.Duration) int {
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()
	removed := 0
	for key, e := range l.limiters {
		if now.Sub(e.lastSeen) > idle {
			delete(l.limiters, key)
			removed++
		}
	}
	return removed
}

// Len 当前跟踪的 key 数量
func (l *LocalRateLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.limiters)
}
