package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/wyfcoding/grandexchange/pkg/config"
	"github.com/wyfcoding/grandexchange/pkg/logger"
	"github.com/wyfcoding/grandexchange/pkg/ratelimit"
)

// RateLimitMiddleware 按客户端 IP 限流
func RateLimitMiddleware(limiter ratelimit.RateLimiter, cfg config.RateLimitConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !cfg.Enabled {
			c.Next()
			return
		}

		key := "ratelimit:" + c.ClientIP()
		limit := ratelimit.PerSecond(cfg.QPS, cfg.Burst)

		res, err := limiter.Allow(c.Request.Context(), key, limit)
		if err != nil {
			// 限流器故障时放行
			logger.Warn(c.Request.Context(), "rate limiter unavailable", "error", err)
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(limit.Burst))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
		c.Header("X-RateLimit-Reset", strconv.FormatInt(int64(res.ResetAfter/time.Second), 10))

		if !res.Allowed {
			retry := int64((res.RetryAfter + time.Second - 1) / time.Second)
			c.Header("Retry-After", strconv.FormatInt(retry, 10))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":       "Too Many Requests",
				"retry_after": res.RetryAfter.String(),
			})
			return
		}

		c.Next()
	}
}
