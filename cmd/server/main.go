// Package main runs the MentorBridge HTTP server with graceful shutdown.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/mentorbridge/backend/config"
	"github.com/mentorbridge/backend/internal/auth"
	"github.com/mentorbridge/backend/internal/facilitations"
	"github.com/mentorbridge/backend/internal/feedback"
	"github.com/mentorbridge/backend/internal/middleware"
	"github.com/mentorbridge/backend/internal/notify"
	"github.com/mentorbridge/backend/internal/profiles"
	"github.com/mentorbridge/backend/internal/recognition"
	"github.com/mentorbridge/backend/internal/reports"
	"github.com/mentorbridge/backend/pkg/database"
	"github.com/mentorbridge/backend/pkg/queue"
	"github.com/mentorbridge/backend/pkg/redis"
	"github.com/mentorbridge/backend/pkg/response"
	"github.com/mentorbridge/backend/pkg/storage"
)

func main() {
	logger := newLogger()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	ctx := context.Background()
	pool, err := database.NewPostgresPool(ctx, cfg.Database.DSN(), logger)
	if err != nil {
		logger.Fatal("database", zap.Error(err))
	}
	defer pool.Close()

	if err := database.Migrate(ctx, pool); err != nil {
		logger.Fatal("migrate", zap.Error(err))
	}

	rdb, err := redis.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)
	if err != nil {
		logger.Fatal("redis", zap.Error(err))
	}
	defer rdb.Close()

	var s3Client *storage.S3
	if cfg.AWS.Region != "" {
		s3Cfg := storage.S3Config{
			Region:               cfg.AWS.Region,
			AccessKeyID:          cfg.AWS.AccessKeyID,
			SecretAccessKey:      cfg.AWS.SecretAccessKey,
			ReportsBucket:        cfg.AWS.ReportsBucket,
			PresignExpireMinutes: cfg.AWS.PresignExpireMinutes,
		}
		s3Client, err = storage.NewS3(ctx, s3Cfg, logger)
		if err != nil {
			logger.Warn("s3 disabled", zap.Error(err))
		}
	}

	jwtService := auth.NewJWTService(cfg.JWT.Secret, cfg.JWT.ExpireHours)
	jobQueue := queue.NewQueue(rdb.Client, logger)
	notifier := notify.NewPublisher(rdb.Client, jobQueue, logger)

	// Auth + profile directory
	userRepo := auth.NewRepository(pool)
	authHandler := auth.NewHandler(userRepo, jwtService, logger)
	profileHandler := profiles.NewHandler(userRepo)

	// Facilitation lifecycle
	facilitationRepo := facilitations.NewRepository(pool)
	stateMachine := facilitations.NewStateMachine(facilitationRepo, notifier, logger)
	facilitationHandler := facilitations.NewHandler(stateMachine, facilitationRepo)

	// Monthly feedback + recognition tiers
	feedbackRepo := feedback.NewRepository(pool)
	tierRepo := recognition.NewRepository(pool)
	tierEngine := recognition.NewEngine(tierRepo, feedbackRepo, logger)
	tierHandler := recognition.NewHandler(tierEngine)
	feedbackService := feedback.NewService(feedbackRepo, facilitationRepo, tierEngine, notifier, logger)
	feedbackHandler := feedback.NewHandler(feedbackService)

	// Report exports
	reportRepo := reports.NewRepository(pool)
	reportHandler := reports.NewHandler(reportRepo, jobQueue, s3Client, logger)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORS(cfg.Server.CORSAllowedOrigins))
	router.Use(middleware.Logger(logger))

	// Health
	router.GET("/health", func(c *gin.Context) { response.OK(c, gin.H{"status": "ok"}) })

	// Auth (public)
	authGroup := router.Group("/auth")
	{
		authGroup.POST("/login", authHandler.Login)
		authGroup.POST("/register", authHandler.Register)
	}

	// Protected API (JWT required)
	api := router.Group("")
	api.Use(middleware.JWT(jwtService))
	{
		// Profile directory
		api.GET("/profiles/:id", profileHandler.Get)
		api.GET("/profiles", middleware.RequireRole("admin"), profileHandler.List)

		// Facilitations
		api.POST("/facilitations", middleware.RequireRole("student", "mentor"), facilitationHandler.Create)
		api.GET("/facilitations", facilitationHandler.List)
		api.GET("/facilitations/:id", facilitationHandler.Get)
		api.POST("/facilitations/:id/confirm", facilitationHandler.Confirm)
		api.POST("/facilitations/:id/decline", facilitationHandler.Decline)
		api.POST("/facilitations/:id/approve", middleware.RequireRole("admin"), facilitationHandler.Approve)
		api.POST("/facilitations/:id/complete", middleware.RequireRole("admin"), facilitationHandler.Complete)
		api.PATCH("/facilitations/:id/notes", middleware.RequireRole("admin"), facilitationHandler.UpdateNotes)

		// Monthly feedback
		api.POST("/facilitations/:id/feedback", feedbackHandler.Submit)
		api.GET("/facilitations/:id/feedback", feedbackHandler.List)
		api.GET("/facilitations/:id/feedback/eligibility", feedbackHandler.Eligibility)
		api.PATCH("/feedback/:id", feedbackHandler.Correct)

		// Recognition
		api.GET("/students/:id/recognition", tierHandler.Status)
		api.GET("/students/:id/feedback/average", middleware.RequireRole("admin", "mentor"), feedbackHandler.Average)

		// Report exports (admin)
		api.POST("/reports", middleware.RequireRole("admin"), reportHandler.Create)
		api.GET("/reports", middleware.RequireRole("admin"), reportHandler.List)
		api.GET("/reports/:id", middleware.RequireRole("admin"), reportHandler.Get)
	}

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

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
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
