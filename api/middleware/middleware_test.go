package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/use-agent/tabhost/config"
	"golang.org/x/time/rate"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newEngine(mw ...gin.HandlerFunc) *gin.Engine {
	r := gin.New()
	r.Use(mw...)
	r.GET("/x", func(c *gin.Context) {
		c.String(http.StatusOK, c.GetString("api_key"))
	})
	return r
}

func get(r http.Handler, header, value string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	if header != "" {
		req.Header.Set(header, value)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestAuth(t *testing.T) {
	r := newEngine(Auth([]string{"alpha", "beta"}))

	w := get(r, "", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "UNAUTHORIZED")

	w = get(r, "X-API-Key", "gamma")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "invalid API key")

	w = get(r, "X-API-Key", "beta")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "beta", w.Body.String())

	w = get(r, "Authorization", "Bearer alpha")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "alpha", w.Body.String())
}

func TestAuthWithoutKeysIsOpen(t *testing.T) {
	r := newEngine(Auth([]string{""}))
	assert.Equal(t, http.StatusOK, get(r, "", "").Code)
}

func TestRateLimitPerIdentity(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r := newEngine(
		Auth([]string{"a", "b"}),
		RateLimit(ctx, config.RateLimitConfig{RequestsPerSecond: 0.001, Burst: 2}),
	)

	assert.Equal(t, http.StatusOK, get(r, "X-API-Key", "a").Code)
	assert.Equal(t, http.StatusOK, get(r, "X-API-Key", "a").Code)
	w := get(r, "X-API-Key", "a")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Contains(t, w.Body.String(), "RATE_LIMITED")
	assert.NotEmpty(t, w.Header().Get("Retry-After"))

	assert.Equal(t, http.StatusOK, get(r, "X-API-Key", "b").Code, "keys have separate buckets")
}

func TestBucketsRejectionKeepsTokensAndSweeps(t *testing.T) {
	b := &buckets{limit: rate.Limit(1), burst: 1, byID: map[string]*bucket{}}
	now := time.Now()

	assert.Zero(t, b.reserve("k", now))
	assert.Positive(t, b.reserve("k", now))
	assert.Positive(t, b.reserve("k", now))
	// Rejections were cancelled, so one second refills the single token.
	assert.Zero(t, b.reserve("k", now.Add(time.Second)))

	b.sweep(now.Add(time.Hour))
	assert.Empty(t, b.byID)
}
