package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/bezhas/chat-gatekeeper/internal/gatekeeper"
	"github.com/bezhas/chat-gatekeeper/internal/models"
	"github.com/bezhas/chat-gatekeeper/internal/ratelimit"
	"github.com/bezhas/chat-gatekeeper/internal/service"
	"github.com/gin-gonic/gin"
)

type ChatHandler struct {
	gate     *gatekeeper.Gatekeeper
	recorder *service.EventRecorder
}

func NewChatHandler(gate *gatekeeper.Gatekeeper, recorder *service.EventRecorder) *ChatHandler {
	return &ChatHandler{gate: gate, recorder: recorder}
}

// Handles POST /chat/send
func (h *ChatHandler) Send(c *gin.Context) {
	userID := c.GetString("user_id")

	// A credit cost of zero is a valid, free message
	var req struct {
		ModelID    string `json:"model_id"`
		CreditCost int    `json:"credit_cost" binding:"min=0"`
		Message    string `json:"message" binding:"required"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx := c.Request.Context()
	result := h.gate.CheckAndCharge(ctx, userID, req.ModelID, req.CreditCost)
	if !result.Allowed {
		h.recordDenial(c, userID, req.ModelID, req.CreditCost, result)

		if result.RetryAfter > 0 {
			c.Header("Retry-After", strconv.Itoa(result.RetryAfter))
		}

		c.JSON(denialStatus(result.Reason), gin.H{
			"error":       result.Message,
			"reason":      result.Reason,
			"retry_after": result.RetryAfter,
		})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"status":    "accepted",
		"model_id":  req.ModelID,
		"remaining": result.Remaining,
	})
}

func (h *ChatHandler) recordDenial(c *gin.Context, userID, modelID string, creditCost int, result *ratelimit.Result) {
	if h.recorder == nil {
		return
	}

	h.recorder.Record(models.GateEvent{
		Timestamp:  time.Now(),
		Subject:    userID,
		Scope:      "message",
		Reason:     result.Reason,
		ModelID:    modelID,
		CreditCost: creditCost,
		RetryAfter: result.RetryAfter,
		IPAddress:  ratelimit.ResolveIP(c.Request),
	})
}

// Maps denial reasons onto HTTP status codes
func denialStatus(reason string) int {
	switch reason {
	case ratelimit.ReasonInsufficientCredit:
		return http.StatusPaymentRequired
	case ratelimit.ReasonCreditServiceError, ratelimit.ReasonStoreError:
		return http.StatusServiceUnavailable
	default:
		return http.StatusTooManyRequests
	}
}
