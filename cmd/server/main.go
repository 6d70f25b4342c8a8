// Package main runs the admin presence HTTP server with WebSocket and graceful shutdown.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/jobportal/backend/config"
	"github.com/jobportal/backend/internal/activitylog"
	"github.com/jobportal/backend/internal/admins"
	"github.com/jobportal/backend/internal/analytics"
	"github.com/jobportal/backend/internal/auth"
	"github.com/jobportal/backend/internal/idletracking"
	"github.com/jobportal/backend/internal/metrics"
	"github.com/jobportal/backend/internal/middleware"
	"github.com/jobportal/backend/internal/models"
	"github.com/jobportal/backend/internal/presence"
	"github.com/jobportal/backend/internal/realtime"
	"github.com/jobportal/backend/internal/sessions"
	"github.com/jobportal/backend/pkg/database"
	"github.com/jobportal/backend/pkg/queue"
	"github.com/jobportal/backend/pkg/redis"
	"github.com/jobportal/backend/pkg/response"
)

func main() {
	logger := newLogger()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}
	logger = logger.With(zap.String("instance_id", cfg.Server.InstanceID))

	ctx := context.Background()
	pool, err := database.NewPostgresPool(ctx, cfg.Database.DSN(), database.PoolOptions{
		MaxConns: cfg.Database.MaxConns,
		MinConns: cfg.Database.MinConns,
		AppName:  "presence-server",
	}, logger)
	if err != nil {
		logger.Fatal("database", zap.Error(err))
	}
	defer pool.Close()

	if err := database.Migrate(ctx, pool, logger); err != nil {
		logger.Fatal("migrate", zap.Error(err))
	}

	rdb, err := redis.NewClient(ctx, redis.Options{
		Addr:       cfg.Redis.Addr,
		Password:   cfg.Redis.Password,
		DB:         cfg.Redis.DB,
		PoolSize:   cfg.Redis.PoolSize,
		ClientName: "presence-server",
	}, logger)
	if err != nil {
		logger.Fatal("redis", zap.Error(err))
	}
	defer rdb.Close()

	jwtService := auth.NewJWTService(cfg.JWT.Secret, cfg.JWT.ExpireHours)
	jobQueue := queue.NewQueue(rdb.Client, logger)

	// Realtime: publish-only to Redis; the subscription delivers once to every instance.
	redisPubSub := realtime.NewRedisPubSub(rdb.Client, cfg.Presence.Channel, logger)
	hub := realtime.NewHub(logger, redisPubSub)
	if err := hub.Subscribe(redisPubSub); err != nil {
		logger.Fatal("subscribe presence channel", zap.Error(err))
	}

	// Repositories
	authRepo := auth.NewRepository(pool)
	sessionRepo := sessions.NewRepository(pool)
	idleRepo := idletracking.NewRepository(pool)
	logRepo := activitylog.NewRepository(pool)

	// Presence
	tracker := presence.NewTracker(&presence.Stores{
		Sessions: sessionRepo,
		Idle:     idleRepo,
		Logs:     logRepo,
		Actors:   authRepo,
		Status:   presence.NewRedisStore(rdb.Client, cfg.Presence.StatusTTL),
	}, realtime.NewBroadcaster(hub, logger), logger, presence.Options{
		PersistTimeout: cfg.Presence.PersistTimeout,
		Connected:      hub.Connected,
	})

	heartbeat := realtime.NewHeartbeat(hub, presence.NewRedisLiveness(rdb.Client), 0, logger)
	if err := heartbeat.Start(); err != nil {
		logger.Fatal("heartbeat", zap.Error(err))
	}

	// Handlers
	authHandler := auth.NewHandler(authRepo, jwtService, cfg.JWT.BcryptCost, logger)
	rosterHandler := admins.NewHandler(tracker, cfg.Presence.RosterLimit)
	sessionHandler := sessions.NewHandler(sessionRepo, cfg.Presence.RosterLimit)
	idleHandler := idletracking.NewHandler(idleRepo)
	logHandler := activitylog.NewHandler(logRepo, jobQueue, cfg.Presence.RosterLimit, logger)
	analyticsHandler := analytics.NewHandler(pool)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORS(cfg.Server.CORSAllowedOrigins))
	router.Use(middleware.Logger(logger, "/health", "/metrics"))
	router.Use(metrics.HTTP())

	// Health and metrics
	router.GET("/health", func(c *gin.Context) {
		checks := gin.H{"postgres": "ok", "redis": "ok"}
		healthy := true
		if err := database.Health(c.Request.Context(), pool); err != nil {
			checks["postgres"], healthy = err.Error(), false
		}
		if err := rdb.Health(c.Request.Context()); err != nil {
			checks["redis"], healthy = err.Error(), false
		}
		if !healthy {
			c.JSON(http.StatusServiceUnavailable, response.Body{Success: false, Data: checks, Error: "unhealthy"})
			return
		}
		response.OK(c, gin.H{"status": "ok", "checks": checks, "instance_id": cfg.Server.InstanceID})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Auth (public)
	authGroup := router.Group("/auth")
	{
		authGroup.POST("/login", authHandler.Login)
	}

	// Protected API (JWT required)
	api := router.Group("")
	api.Use(middleware.JWT(jwtService))
	{
		api.GET("/auth/me", authHandler.Me(middleware.ContextUserID))
	}

	// Admin API
	admin := api.Group("/admin")
	admin.Use(middleware.RequireAdmin())
	{
		admin.GET("/users/status", rosterHandler.Status)
		admin.GET("/users/:id/sessions", sessionHandler.ListByUser)
		admin.GET("/sessions/:id/idle-periods", idleHandler.ListBySession)
		admin.GET("/activity-logs", logHandler.List)
		admin.GET("/analytics/presence", analyticsHandler.Presence)
		admin.POST("/activity-logs/export", middleware.RequireRole(models.RoleSuperAdmin), logHandler.Export)
	}

	// WebSocket (token in query or Authorization header; checked before upgrade)
	router.GET("/ws", realtime.ServeWs(hub, tracker, jwtService, logger, realtime.Options{
		RosterLimit:    cfg.Presence.RosterLimit,
		RequestTimeout: cfg.Presence.PersistTimeout * 2,
	}))

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	go func() {
		logger.Info("server listening", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.Server.ShutdownTimeout)*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}
	heartbeat.Stop()

	// Close dashboards so each admin's disconnect is journaled, then drain the presence lanes.
	hub.Close()
	drained := make(chan struct{})
	go func() {
		hub.Wait()
		tracker.Wait()
		close(drained)
	}()
	select {
	case <-drained:
	case <-shutdownCtx.Done():
		logger.Warn("presence drain timed out")
	}
	logger.Info("server stopped")
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
