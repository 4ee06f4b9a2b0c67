package server

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/bezhas/chat-gatekeeper/internal/chat"
	"github.com/bezhas/chat-gatekeeper/internal/config"
	"github.com/bezhas/chat-gatekeeper/internal/gatekeeper"
	"github.com/bezhas/chat-gatekeeper/internal/handler"
	"github.com/bezhas/chat-gatekeeper/internal/middleware"
	"github.com/bezhas/chat-gatekeeper/internal/ratelimit"
	"github.com/bezhas/chat-gatekeeper/internal/repository"
	"github.com/bezhas/chat-gatekeeper/internal/service"
	"github.com/bezhas/chat-gatekeeper/internal/storage"
	"github.com/gin-gonic/gin"
)

type Server struct {
	router     *gin.Engine
	config     *config.Config
	redis      *storage.RedisClient
	postgres   *storage.Postgres
	gate       *gatekeeper.Gatekeeper
	connGate   *ratelimit.ConnectionLimiter
	hub        *chat.Hub
	recorder   *service.EventRecorder
	httpServer *http.Server
}

func New(cfg *config.Config, redis *storage.RedisClient, postgres *storage.Postgres) *Server {
	if cfg.Server.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	// Redis-backed limiter state shared by both gates
	store := ratelimit.NewRedisStore(redis)

	connGate := ratelimit.NewConnectionLimiter(store, ratelimit.ConnectionOptions{
		MaxConnections: cfg.RateLimit.Connection.MaxConnections,
		Window:         time.Duration(cfg.RateLimit.Connection.WindowMs) * time.Millisecond,
		KeyPrefix:      cfg.RateLimit.KeyPrefix,
		Enabled:        cfg.RateLimit.Enabled,
		FailOpen:       cfg.RateLimit.FailOpen,
	})

	msgLimiter := ratelimit.NewMessageLimiter(store, ratelimit.MessageOptions{
		BaseLimit:         cfg.RateLimit.Message.BaseLimit,
		BaseWindow:        time.Duration(cfg.RateLimit.Message.BaseWindowMs) * time.Millisecond,
		BurstLimit:        cfg.RateLimit.Message.BurstLimit,
		BurstWindow:       time.Duration(cfg.RateLimit.Message.BurstWindowMs) * time.Millisecond,
		HourlyLimit:       cfg.RateLimit.Message.HourlyLimit,
		HourlyWindow:      time.Duration(cfg.RateLimit.Message.HourlyWindowMs) * time.Millisecond,
		PenaltiesEnabled:  cfg.RateLimit.Penalties.Enabled,
		PenaltyThreshold:  cfg.RateLimit.Penalties.Threshold,
		PenaltyDuration:   time.Duration(cfg.RateLimit.Penalties.PenaltyDurationMs) * time.Millisecond,
		ObservationWindow: time.Duration(cfg.RateLimit.Penalties.ObservationWindowMs) * time.Millisecond,
		Models:            modelLimits(cfg.RateLimit.Models),
		KeyPrefix:         cfg.RateLimit.KeyPrefix,
		Enabled:           cfg.RateLimit.Enabled,
		FailOpen:          cfg.RateLimit.FailOpen,
	})

	credits := service.NewCreditClient(cfg.Credit.ServiceURL, time.Duration(cfg.Credit.TimeoutMs)*time.Millisecond)
	gate := gatekeeper.New(msgLimiter, credits)

	authRepo := repository.NewUserRepository(postgres)
	authService := service.NewAuthService(authRepo, cfg.Auth.JWTSecret, time.Duration(cfg.Auth.ExpiryHours)*time.Hour)

	eventRepo := repository.NewGateEventRepository(postgres)
	recorder := service.NewEventRecorder(eventRepo, 1000)
	eventsService := service.NewEventsService(eventRepo)

	modelLimitRepo := repository.NewModelLimitRepository(postgres)
	actionRepo := repository.NewAdminActionRepository(postgres)

	hub := chat.NewHub(gate, recorder)
	go hub.Run()

	s := &Server{
		router:   router,
		config:   cfg,
		redis:    redis,
		postgres: postgres,
		gate:     gate,
		connGate: connGate,
		hub:      hub,
		recorder: recorder,
	}

	s.loadModelLimits(modelLimitRepo)

	connGate.StartCleanup(time.Minute)

	authHandler := handler.NewAuthHandler(authService)
	chatHandler := handler.NewChatHandler(gate, recorder)
	adminHandler := handler.NewAdminHandler(gate, connGate, modelLimitRepo, actionRepo, eventsService)

	s.setupMiddleware()
	s.setupRoutes(authHandler, chatHandler, adminHandler, authService)

	return s
}

// Persisted model limits override the static config on startup
func (s *Server) loadModelLimits(repo *repository.ModelLimitRepository) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	limits, err := repo.List(ctx)
	if err != nil {
		log.Printf("Failed to load model limits from database: %v", err)
		return
	}

	for _, m := range limits {
		s.gate.Limiter().SetModelLimit(m.Name, ratelimit.ModelLimit{
			CreditsPerMinute: m.CreditsPerMinute,
			CostCeiling:      m.CostCeiling,
			Cooldown:         time.Duration(m.CooldownMs) * time.Millisecond,
		})
	}

	if len(limits) > 0 {
		log.Printf("Loaded %d model limits from database", len(limits))
	}
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.Recovery())
	s.router.Use(middleware.RequestID())
	s.router.Use(middleware.Logger())
	s.router.Use(middleware.CORS())
}

func (s *Server) setupRoutes(
	authHandler *handler.AuthHandler,
	chatHandler *handler.ChatHandler,
	adminHandler *handler.AdminHandler,
	authService *service.AuthService,
) {
	s.router.GET("/health", s.healthCheck)

	auth := s.router.Group("/auth")
	{
		auth.POST("/register", authHandler.Register)
		auth.POST("/login", authHandler.Login)
		auth.GET("/me", middleware.RequireAuth(authService), authHandler.Me)
	}

	chatGroup := s.router.Group("/chat")
	chatGroup.Use(middleware.RequireAuth(authService))
	{
		chatGroup.POST("/send", chatHandler.Send)
		chatGroup.GET("/ws", middleware.ConnectionGate(s.connGate, s.recorder), chat.ServeWS(s.hub))
	}

	admin := s.router.Group("/admin")
	admin.Use(middleware.RequireAuth(authService), middleware.RequireAdmin())
	{
		admin.GET("/connections", adminHandler.ConnectionStats)
		admin.DELETE("/connections", adminHandler.ResetAllConnections)
		admin.DELETE("/connections/:ip", adminHandler.ResetConnection)
		admin.GET("/users/:id/stats", adminHandler.UserStats)
		admin.DELETE("/users/:id/limits", adminHandler.ResetUserLimits)
		admin.GET("/models", adminHandler.ListModelLimits)
		admin.PUT("/models/:name", adminHandler.SetModelLimit)
		admin.DELETE("/models/:name", adminHandler.DeleteModelLimit)
		admin.GET("/events", adminHandler.ListEvents)
		admin.GET("/events/summary", adminHandler.EventsSummary)
		admin.GET("/actions", adminHandler.ListActions)
		admin.GET("/breaker", adminHandler.BreakerStatus)
	}
}

func (s *Server) healthCheck(c *gin.Context) {
	redisHealthy := true
	if err := s.redis.Ping(c.Request.Context()); err != nil {
		redisHealthy = false
		log.Printf("Redis health check failed: %v", err)
	}

	dbHealthy := true
	if err := s.postgres.Ping(c.Request.Context()); err != nil {
		dbHealthy = false
		log.Printf("Database health check failed: %v", err)
	}

	status := "healthy"
	statusCode := http.StatusOK

	if !redisHealthy || !dbHealthy {
		status = "degraded"
		statusCode = http.StatusServiceUnavailable
	}

	c.JSON(statusCode, gin.H{
		"status":    status,
		"service":   "chat-gatekeeper",
		"version":   "1.0.0",
		"timestamp": time.Now().Unix(),
		"uptime":    time.Since(startTime).Seconds(),
		"checks": gin.H{
			"redis":    redisHealthy,
			"database": dbHealthy,
		},
	})
}

func (s *Server) Run(addr string) error {
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	log.Printf("Starting chat gatekeeper on %s", addr)
	log.Printf("Environment: %s", s.config.Server.Environment)

	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	log.Println("Shutting down server...")

	s.connGate.Stop()
	s.hub.Stop()
	s.recorder.Stop()

	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}

	return nil
}

func (s *Server) GetRouter() *gin.Engine {
	return s.router
}

func modelLimits(cfg map[string]config.ModelLimitConfig) map[string]ratelimit.ModelLimit {
	limits := make(map[string]ratelimit.ModelLimit, len(cfg))
	for name, m := range cfg {
		limits[name] = ratelimit.ModelLimit{
			CreditsPerMinute: m.CreditsPerMinute,
			CostCeiling:      m.CostCeiling,
			Cooldown:         time.Duration(m.CooldownMs) * time.Millisecond,
		}
	}
	return limits
}

var startTime = time.Now()
