package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bezhas/chat-gatekeeper/internal/ratelimit"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newGatedRouter(maxConnections int) *gin.Engine {
	gin.SetMode(gin.TestMode)

	limiter := ratelimit.NewConnectionLimiter(ratelimit.NewMemoryStore(), ratelimit.ConnectionOptions{
		MaxConnections: maxConnections,
		Window:         time.Minute,
		Enabled:        true,
	})

	router := gin.New()
	router.GET("/ws", ConnectionGate(limiter, nil), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	return router
}

func connect(router *gin.Engine, ip string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	req.RemoteAddr = ip + ":12345"

	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestConnectionGateAllowsWithinLimit(t *testing.T) {
	router := newGatedRouter(3)

	for i := 0; i < 3; i++ {
		assert.Equal(t, http.StatusOK, connect(router, "1.2.3.4").Code)
	}
}

func TestConnectionGateBlocksOverLimit(t *testing.T) {
	router := newGatedRouter(2)

	require.Equal(t, http.StatusOK, connect(router, "1.2.3.4").Code)
	require.Equal(t, http.StatusOK, connect(router, "1.2.3.4").Code)

	w := connect(router, "1.2.3.4")
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.NotEmpty(t, w.Header().Get("Retry-After"))

	// A different IP is unaffected
	assert.Equal(t, http.StatusOK, connect(router, "5.6.7.8").Code)
}

func TestConnectionGateUsesForwardedFor(t *testing.T) {
	router := newGatedRouter(1)

	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	req.RemoteAddr = "10.0.0.1:12345"
	req.Header.Set("X-Forwarded-For", "203.0.113.7")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	// Same client IP behind a different proxy hop is still limited
	req = httptest.NewRequest(http.MethodGet, "/ws", nil)
	req.RemoteAddr = "10.0.0.2:12345"
	req.Header.Set("X-Forwarded-For", "203.0.113.7")
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
}
