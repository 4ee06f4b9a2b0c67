package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/bezhas/chat-gatekeeper/internal/models"
	"github.com/bezhas/chat-gatekeeper/internal/ratelimit"
	"github.com/bezhas/chat-gatekeeper/internal/service"
	"github.com/gin-gonic/gin"
)

// Gates connection-opening endpoints on per-IP attempt limits. Denials are
// recorded asynchronously for the admin analytics views.
func ConnectionGate(limiter *ratelimit.ConnectionLimiter, recorder *service.EventRecorder) gin.HandlerFunc {
	return func(c *gin.Context) {
		ip := ratelimit.ResolveIP(c.Request)

		result := limiter.Allow(c.Request.Context(), ip)
		if result.Allowed {
			c.Next()
			return
		}

		if recorder != nil {
			recorder.Record(models.GateEvent{
				Timestamp:  time.Now(),
				Subject:    ip,
				Scope:      "connection",
				Reason:     result.Reason,
				RetryAfter: result.RetryAfter,
				IPAddress:  ip,
			})
		}

		if result.RetryAfter > 0 {
			c.Header("Retry-After", strconv.Itoa(result.RetryAfter))
		}

		c.JSON(http.StatusTooManyRequests, gin.H{
			"error":       result.Message,
			"reason":      result.Reason,
			"retry_after": result.RetryAfter,
		})
		c.Abort()
	}
}
