// Package main runs the background job worker (report exports, outbound email).
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/mentorbridge/backend/config"
	"github.com/mentorbridge/backend/internal/auth"
	"github.com/mentorbridge/backend/internal/feedback"
	"github.com/mentorbridge/backend/internal/recognition"
	"github.com/mentorbridge/backend/internal/reports"
	"github.com/mentorbridge/backend/internal/worker"
	"github.com/mentorbridge/backend/pkg/database"
	"github.com/mentorbridge/backend/pkg/queue"
	"github.com/mentorbridge/backend/pkg/redis"
	"github.com/mentorbridge/backend/pkg/storage"
)

func main() {
	logger := newLogger()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := database.NewPostgresPool(ctx, cfg.Database.DSN(), logger)
	if err != nil {
		logger.Fatal("database", zap.Error(err))
	}
	defer pool.Close()

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
			logger.Warn("s3 disabled, report exports will fail", zap.Error(err))
		}
	}

	jobQueue := queue.NewQueue(rdb.Client, logger)
	processor := worker.NewProcessor(
		reports.NewRepository(pool),
		feedback.NewRepository(pool),
		recognition.NewRepository(pool),
		auth.NewRepository(pool),
		s3Client,
		jobQueue,
		cfg.Email,
		logger,
	)

	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit
		logger.Info("worker shutting down")
		cancel()
	}()

	logger.Info("worker started")
	processor.Run(ctx)
	logger.Info("worker stopped")
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
