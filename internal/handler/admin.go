package handler

import (
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/bezhas/chat-gatekeeper/internal/gatekeeper"
	"github.com/bezhas/chat-gatekeeper/internal/models"
	"github.com/bezhas/chat-gatekeeper/internal/ratelimit"
	"github.com/bezhas/chat-gatekeeper/internal/repository"
	"github.com/bezhas/chat-gatekeeper/internal/service"
	"github.com/gin-gonic/gin"
)

// Exposes operational endpoints for inspecting and resetting limiter state
type AdminHandler struct {
	gate        *gatekeeper.Gatekeeper
	connections *ratelimit.ConnectionLimiter
	modelLimits *repository.ModelLimitRepository
	actions     *repository.AdminActionRepository
	events      *service.EventsService
}

func NewAdminHandler(
	gate *gatekeeper.Gatekeeper,
	connections *ratelimit.ConnectionLimiter,
	modelLimits *repository.ModelLimitRepository,
	actions *repository.AdminActionRepository,
	events *service.EventsService,
) *AdminHandler {
	return &AdminHandler{
		gate:        gate,
		connections: connections,
		modelLimits: modelLimits,
		actions:     actions,
		events:      events,
	}
}

func (h *AdminHandler) audit(c *gin.Context, action, target, detail string) {
	actorID := c.GetString("user_id")

	entry := &models.AdminAction{
		ActorID: actorID,
		Action:  action,
		Target:  target,
		Detail:  detail,
	}

	if err := h.actions.Create(c.Request.Context(), entry); err != nil {
		log.Printf("Failed to record admin action %s: %v", action, err)
	}
}

// Handles GET /admin/connections
func (h *AdminHandler) ConnectionStats(c *gin.Context) {
	stats, err := h.connections.Stats(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, stats)
}

// Handles DELETE /admin/connections/:ip
func (h *AdminHandler) ResetConnection(c *gin.Context) {
	ip := c.Param("ip")

	if err := h.connections.Reset(c.Request.Context(), ip); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	h.audit(c, "reset_connection", ip, "")

	c.JSON(http.StatusOK, gin.H{
		"message": "Connection limit reset",
		"ip":      ip,
	})
}

// Handles DELETE /admin/connections
func (h *AdminHandler) ResetAllConnections(c *gin.Context) {
	removed, err := h.connections.ResetAll(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	h.audit(c, "reset_all_connections", "*", strconv.FormatInt(removed, 10)+" keys removed")

	c.JSON(http.StatusOK, gin.H{
		"message": "All connection limits reset",
		"removed": removed,
	})
}

// Handles GET /admin/users/:id/stats
func (h *AdminHandler) UserStats(c *gin.Context) {
	userID := c.Param("id")

	stats, err := h.gate.Limiter().UserStats(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, stats)
}

// Handles DELETE /admin/users/:id/limits
func (h *AdminHandler) ResetUserLimits(c *gin.Context) {
	userID := c.Param("id")
	actorID := c.GetString("user_id")

	removed, err := h.gate.Limiter().ResetUserLimits(c.Request.Context(), userID, actorID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	h.audit(c, "reset_user_limits", userID, strconv.FormatInt(removed, 10)+" keys removed")

	c.JSON(http.StatusOK, gin.H{
		"message": "User limits reset",
		"user_id": userID,
		"removed": removed,
	})
}

// Handles GET /admin/models
func (h *AdminHandler) ListModelLimits(c *gin.Context) {
	limits, err := h.modelLimits.List(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, limits)
}

// Handles PUT /admin/models/:name
func (h *AdminHandler) SetModelLimit(c *gin.Context) {
	name := c.Param("name")

	var req struct {
		CreditsPerMinute float64 `json:"credits_per_minute" binding:"required,gt=0"`
		CostCeiling      int     `json:"cost_ceiling" binding:"required,gt=0"`
		CooldownMs       int     `json:"cooldown_ms"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	limit := &models.ModelLimit{
		Name:             name,
		CreditsPerMinute: req.CreditsPerMinute,
		CostCeiling:      req.CostCeiling,
		CooldownMs:       req.CooldownMs,
	}

	if err := h.modelLimits.Upsert(c.Request.Context(), limit); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	// Apply to the running limiter immediately
	h.gate.Limiter().SetModelLimit(name, ratelimit.ModelLimit{
		CreditsPerMinute: req.CreditsPerMinute,
		CostCeiling:      req.CostCeiling,
		Cooldown:         time.Duration(req.CooldownMs) * time.Millisecond,
	})

	h.audit(c, "set_model_limit", name, "")

	c.JSON(http.StatusOK, limit)
}

// Handles DELETE /admin/models/:name
func (h *AdminHandler) DeleteModelLimit(c *gin.Context) {
	name := c.Param("name")

	if err := h.modelLimits.Delete(c.Request.Context(), name); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	h.gate.Limiter().RemoveModelLimit(name)

	h.audit(c, "delete_model_limit", name, "")

	c.JSON(http.StatusOK, gin.H{
		"message": "Model limit removed",
		"model":   name,
	})
}

// Handles GET /admin/events/summary
func (h *AdminHandler) EventsSummary(c *gin.Context) {
	from, to, err := parseTimeRange(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	summary, err := h.events.GetSummary(c.Request.Context(), from, to)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, summary)
}

// Handles GET /admin/events
func (h *AdminHandler) ListEvents(c *gin.Context) {
	from, to, err := parseTimeRange(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	subject := c.Query("subject")

	events, err := h.events.ListEvents(c.Request.Context(), subject, from, to, limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"events": events,
		"count":  len(events),
	})
}

// Handles GET /admin/actions
func (h *AdminHandler) ListActions(c *gin.Context) {
	from, to, err := parseTimeRange(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	limit := 100
	if limitStr := c.Query("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 && l <= 1000 {
			limit = l
		}
	}

	offset := 0
	if offsetStr := c.Query("offset"); offsetStr != "" {
		if o, err := strconv.Atoi(offsetStr); err == nil && o >= 0 {
			offset = o
		}
	}

	actions, err := h.actions.List(c.Request.Context(), from, to, limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"actions": actions,
		"limit":   limit,
		"offset":  offset,
	})
}

// Handles GET /admin/breaker
func (h *AdminHandler) BreakerStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"state": h.gate.BreakerState().String(),
	})
}

// Parses 'from' and 'to' query parameters
func parseTimeRange(c *gin.Context) (time.Time, time.Time, error) {
	// Default: last 24 hours
	to := time.Now()
	from := to.Add(-24 * time.Hour)

	if fromStr := c.Query("from"); fromStr != "" {
		parsedFrom, err := time.Parse(time.RFC3339, fromStr)
		if err != nil {
			if timestamp, err := strconv.ParseInt(fromStr, 10, 64); err == nil {
				parsedFrom = time.Unix(timestamp, 0)
			} else {
				return time.Time{}, time.Time{}, err
			}
		}
		from = parsedFrom
	}

	if toStr := c.Query("to"); toStr != "" {
		parsedTo, err := time.Parse(time.RFC3339, toStr)
		if err != nil {
			if timestamp, err := strconv.ParseInt(toStr, 10, 64); err == nil {
				parsedTo = time.Unix(timestamp, 0)
			} else {
				return time.Time{}, time.Time{}, err
			}
		}
		to = parsedTo
	}

	return from, to, nil
}
