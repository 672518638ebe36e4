package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"github.com/wyfcoding/grandexchange/pkg/config"
	"github.com/wyfcoding/grandexchange/pkg/logger"
	"github.com/wyfcoding/grandexchange/pkg/metrics"
	"github.com/wyfcoding/grandexchange/pkg/ratelimit"
)

func init() { gin.SetMode(gin.TestMode) }

type stubLimiter struct {
	res *ratelimit.Result
	err error
}

func (s stubLimiter) Allow(context.Context, string, ratelimit.Limit) (*ratelimit.Result, error) {
	return s.res, s.err
}

type recordingCollector struct {
	metrics.NopCollector
	paths []string
	codes []int
}

func (r *recordingCollector) RecordHTTPRequest(_, path string, code int, _ time.Duration) {
	r.paths = append(r.paths, path)
	r.codes = append(r.codes, code)
}

func serve(r *gin.Engine, method, path string, header http.Header) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	for k, v := range header {
		req.Header[http.CanonicalHeaderKey(k)] = v
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestGinLoggingMiddleware_RequestID(t *testing.T) {
	r := gin.New()
	r.Use(GinLoggingMiddleware())
	var seen string
	r.GET("/ping", func(c *gin.Context) {
		seen = logger.RequestID(c.Request.Context())
		c.Status(http.StatusOK)
	})

	w := serve(r, http.MethodGet, "/ping", nil)
	assert.NotEmpty(t, w.Header().Get(HeaderRequestID))
	assert.Equal(t, w.Header().Get(HeaderRequestID), seen)

	w = serve(r, http.MethodGet, "/ping", http.Header{HeaderRequestID: {"req-1"}})
	assert.Equal(t, "req-1", w.Header().Get(HeaderRequestID))
	assert.Equal(t, "req-1", seen)
}

func TestGinRecoveryMiddleware(t *testing.T) {
	r := gin.New()
	r.Use(GinLoggingMiddleware(), GinRecoveryMiddleware())
	r.GET("/boom", func(*gin.Context) { panic("boom") })

	w := serve(r, http.MethodGet, "/boom", nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "request_id")
}

func TestGinCORSMiddleware_Preflight(t *testing.T) {
	r := gin.New()
	r.Use(GinCORSMiddleware())
	r.GET("/x", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := serve(r, http.MethodOptions, "/x", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestGinMetricsMiddleware_UsesRouteTemplate(t *testing.T) {
	col := &recordingCollector{}
	r := gin.New()
	r.Use(GinMetricsMiddleware(col))
	r.GET("/items/:id", func(c *gin.Context) { c.Status(http.StatusAccepted) })

	serve(r, http.MethodGet, "/items/iron_bar", nil)
	serve(r, http.MethodGet, "/nope", nil)
	assert.Equal(t, []string{"/items/:id", "unmatched"}, col.paths)
	assert.Equal(t, []int{http.StatusAccepted, http.StatusNotFound}, col.codes)
}

func TestRateLimitMiddleware(t *testing.T) {
	cfg := config.RateLimitConfig{Enabled: true, QPS: 1, Burst: 1}
	handler := func(c *gin.Context) { c.Status(http.StatusOK) }

	tests := []struct {
		name    string
		limiter ratelimit.RateLimiter
		cfg     config.RateLimitConfig
		want    int
	}{
		{"allowed", stubLimiter{res: &ratelimit.Result{Allowed: true}}, cfg, http.StatusOK},
		{"denied", stubLimiter{res: &ratelimit.Result{RetryAfter: 1500 * time.Millisecond}}, cfg, http.StatusTooManyRequests},
		{"fail open", stubLimiter{err: errors.New("redis down")}, cfg, http.StatusOK},
		{"disabled", stubLimiter{res: &ratelimit.Result{}}, config.RateLimitConfig{}, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := gin.New()
			r.Use(RateLimitMiddleware(tt.limiter, tt.cfg))
			r.GET("/x", handler)
			w := serve(r, http.MethodGet, "/x", nil)
			assert.Equal(t, tt.want, w.Code)
			if tt.want == http.StatusTooManyRequests {
				assert.Equal(t, "2", w.Header().Get("Retry-After"))
			}
		})
	}
}
