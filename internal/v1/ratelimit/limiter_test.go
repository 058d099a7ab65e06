package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/pairhub/signaling-core/internal/v1/config"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() *config.Config {
	return &config.Config{
		RateLimitAPIGlobal: "2-M",
		RateLimitAPIRooms:  "2-M",
		RateLimitAPIGrants: "2-M",
	}
}

func TestNewRateLimiter_MemoryStoreFallback(t *testing.T) {
	rl, err := NewRateLimiter(testConfig(), nil)
	require.NoError(t, err)
	require.NotNil(t, rl.store)
}

func TestNewRateLimiter_InvalidRate(t *testing.T) {
	cfg := testConfig()
	cfg.RateLimitAPIGlobal = "not-a-rate"
	_, err := NewRateLimiter(cfg, nil)
	assert.Error(t, err)
}

func newTestRouter(rl *RateLimiter) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/probe", rl.GlobalMiddleware(), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})
	return r
}

func TestGlobalMiddleware_AllowsUnderLimit(t *testing.T) {
	rl, err := NewRateLimiter(testConfig(), nil)
	require.NoError(t, err)
	r := newTestRouter(rl)

	req := httptest.NewRequest(http.MethodGet, "/probe", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get("X-RateLimit-Limit"))
}

func TestGlobalMiddleware_RejectsOverLimit(t *testing.T) {
	rl, err := NewRateLimiter(testConfig(), nil)
	require.NoError(t, err)
	r := newTestRouter(rl)

	var last *httptest.ResponseRecorder
	for i := 0; i < 5; i++ {
		req := httptest.NewRequest(http.MethodGet, "/probe", nil)
		req.RemoteAddr = "10.0.0.1:1234"
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		last = w
	}

	assert.Equal(t, http.StatusTooManyRequests, last.Code)
}

func TestTenantOrIP_PrefersTenant(t *testing.T) {
	gin.SetMode(gin.TestMode)
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
	c.Set("tenant_id", "tenant-123")

	assert.Equal(t, "tenant:tenant-123", tenantOrIP(c))
}

func TestTenantOrIP_FallsBackToIP(t *testing.T) {
	gin.SetMode(gin.TestMode)
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
	c.Request.RemoteAddr = "192.0.2.1:5555"

	assert.Equal(t, "ip:192.0.2.1", tenantOrIP(c))
}
