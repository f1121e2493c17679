package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"peercall/pkg/config"
	apperrors "peercall/pkg/errors"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

func newRouter(mw ...gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(mw...)
	router.GET("/test", func(c *gin.Context) { c.Status(http.StatusOK) })
	router.GET("/health", func(c *gin.Context) { c.Status(http.StatusOK) })
	return router
}

func get(router http.Handler, path, remote string, header map[string]string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, path, nil)
	req.RemoteAddr = remote
	for k, v := range header {
		req.Header.Set(k, v)
	}
	router.ServeHTTP(w, req)
	return w
}

func limitedConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.RateLimiting.Enabled = true
	cfg.RateLimiting.HTTP.RequestsPerSecond = 1
	cfg.RateLimiting.HTTP.Burst = 1
	cfg.RateLimiting.HTTP.MaxConcurrent = 0
	return cfg
}

func TestHTTPRateLimitMiddleware_Disabled_AllowsRequests(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.RateLimiting.Enabled = false
	router := newRouter(NewHTTPRateLimitMiddleware(cfg))

	for i := 0; i < 5; i++ {
		assert.Equal(t, http.StatusOK, get(router, "/test", "10.0.0.1:1000", nil).Code)
	}
}

func TestHTTPRateLimitMiddleware_Enabled_RateLimited(t *testing.T) {
	router := newRouter(NewHTTPRateLimitMiddleware(limitedConfig()))

	require.Equal(t, http.StatusOK, get(router, "/test", "10.0.0.1:1000", nil).Code)

	w := get(router, "/test", "10.0.0.1:1001", nil)
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.NotEmpty(t, w.Header().Get("Retry-After"))

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, string(apperrors.ErrCodeRateLimit), body["error"])

	// a different client has its own budget
	assert.Equal(t, http.StatusOK, get(router, "/test", "10.0.0.2:1000", nil).Code)
}

func TestHTTPRateLimitMiddleware_ExemptPaths(t *testing.T) {
	router := newRouter(NewHTTPRateLimitMiddleware(limitedConfig(), "/health"))

	for i := 0; i < 3; i++ {
		assert.Equal(t, http.StatusOK, get(router, "/health", "10.0.0.1:1000", nil).Code)
	}
}

func TestHTTPRateLimitMiddleware_UsesFirstForwardedHop(t *testing.T) {
	router := newRouter(NewHTTPRateLimitMiddleware(limitedConfig()))
	proxy := "192.168.1.1:443"

	require.Equal(t, http.StatusOK, get(router, "/test", proxy, map[string]string{"X-Forwarded-For": "203.0.113.5, 10.0.0.1"}).Code)
	assert.Equal(t, http.StatusOK, get(router, "/test", proxy, map[string]string{"X-Forwarded-For": "203.0.113.6, 10.0.0.1"}).Code)
	assert.Equal(t, http.StatusTooManyRequests, get(router, "/test", proxy, map[string]string{"X-Forwarded-For": "203.0.113.5"}).Code)
}

func TestRateLimiterStore_EvictsIdleClients(t *testing.T) {
	store := newRateLimiterStore(rate.Limit(1), 1)
	now := time.Unix(1000, 0)
	store.now = func() time.Time { return now }

	store.getLimiter("a")
	store.getLimiter("b")
	require.Equal(t, 2, store.size())

	now = now.Add(limiterIdleTTL + time.Second)
	store.getLimiter("c")
	assert.Equal(t, 1, store.size())
}

func TestErrorHandlerMiddleware_RendersAppError(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(ErrorHandlerMiddleware(zap.NewNop().Sugar()))
	router.GET("/fail", func(c *gin.Context) {
		_ = c.Error(apperrors.NewNotFoundError("session"))
	})

	w := get(router, "/fail", "10.0.0.1:1000", nil)
	require.Equal(t, http.StatusNotFound, w.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, string(apperrors.ErrCodeNotFound), body["error"])
	assert.Equal(t, "session not found", body["message"])
}

func TestRecoveryMiddleware_ReturnsInternalError(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(RecoveryMiddleware(zap.NewNop().Sugar()))
	router.GET("/panic", func(c *gin.Context) { panic("boom") })

	w := get(router, "/panic", "10.0.0.1:1000", nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}
