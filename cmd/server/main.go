package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/lalith-99/ripple/internal/api"
	"github.com/lalith-99/ripple/internal/auth"
	"github.com/lalith-99/ripple/internal/config"
	"github.com/lalith-99/ripple/internal/db"
	"github.com/lalith-99/ripple/internal/middleware"
	"github.com/lalith-99/ripple/internal/observ"
	"github.com/lalith-99/ripple/internal/repository/postgres"
	"github.com/lalith-99/ripple/internal/status"
	"github.com/lalith-99/ripple/internal/ws"
	"go.uber.org/zap"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := observ.NewLogger(cfg.Env, cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer logger.Sync()

	// Root context: cancelled by SIGINT/SIGTERM, which drives the
	// whole shutdown sequence (hub loops stop, sockets close, HTTP
	// server drains).
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	database, err := db.New(ctx, cfg.DatabaseURL, logger)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer database.Close()

	// Redis carries the outward-facing status surface (presence hash,
	// unread counters). The realtime core works without it, so a
	// missing Redis only degrades the dashboard endpoints.
	statusStore, err := status.New(ctx, cfg.RedisURL, logger)
	var sink ws.StatusSink = ws.NopStatus{}
	if err != nil {
		logger.Warn("redis unavailable, status surface disabled", zap.Error(err))
	} else {
		defer statusStore.Close()
		sink = statusStore
	}

	pool := database.Pool()
	tenantRepo := postgres.NewTenantStore(pool)
	userRepo := postgres.NewUserStore(pool)
	conversationRepo := postgres.NewConversationStore(pool)
	membershipRepo := postgres.NewMembershipStore(pool)
	messageRepo := postgres.NewMessageStore(pool)
	pendingRepo := postgres.NewPendingDeliveryStore(pool)

	hub := ws.NewHub(
		ws.Options{
			HeartbeatInterval:   cfg.HeartbeatInterval,
			HeartbeatMaxMissed:  cfg.HeartbeatMaxMissed,
			TypingTTL:           cfg.TypingTTL,
			TypingSweepEvery:    cfg.TypingSweepEvery,
			DeliveryInterval:    cfg.DeliveryInterval,
			DeliveryMaxAttempts: cfg.DeliveryMaxAttempts,
			OfflineGrace:        cfg.OfflineGrace,
			SendBuffer:          cfg.SendBuffer,
		},
		auth.HMACVerifier{Secret: cfg.JWTSecret},
		messageRepo,
		membershipRepo,
		pendingRepo,
		ws.NopResolver{},
		sink,
		logger,
	)
	go hub.Run(ctx)

	authHandler := api.NewAuthHandler(userRepo, tenantRepo, cfg.JWTSecret, logger)
	conversationHandler := api.NewConversationHandler(conversationRepo, membershipRepo, hub.Memberships().Invalidate, logger)
	messageHandler := api.NewMessageHandler(messageRepo, membershipRepo, logger)
	userHandler := api.NewUserHandler(userRepo, logger)
	statusHandler := api.NewStatusHandler(hub.Presence(), statusStore, logger)

	if cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	srv := gin.New()
	srv.Use(gin.Recovery())

	// Health check is public so load balancers can probe it.
	srv.GET("/v1/health", func(c *gin.Context) {
		if err := database.Health(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	srv.POST("/v1/auth/signup", authHandler.Signup)
	srv.POST("/v1/auth/login", authHandler.Login)

	// The upgrade authenticates itself via ?token= — browsers can't
	// set headers on a WebSocket handshake.
	srv.GET("/v1/ws", hub.HandleWS)

	v1 := srv.Group("/v1")
	v1.Use(middleware.AuthMiddleware(cfg.JWTSecret))

	v1.POST("/conversations", conversationHandler.Create)
	v1.GET("/conversations", conversationHandler.List)
	v1.GET("/conversations/:id", conversationHandler.GetByID)
	v1.POST("/conversations/:id/join", conversationHandler.Join)
	v1.POST("/conversations/:id/leave", conversationHandler.Leave)
	v1.GET("/conversations/:id/members", conversationHandler.ListMembers)
	v1.GET("/conversations/:id/messages", messageHandler.List)
	v1.GET("/users/me", userHandler.GetMe)
	v1.GET("/status/presence", statusHandler.Presence)
	v1.GET("/status/unread", statusHandler.Unread)

	httpServer := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: srv,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting ripple",
			zap.String("port", cfg.Port),
			zap.String("env", cfg.Env),
		)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
