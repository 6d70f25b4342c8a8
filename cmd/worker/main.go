// Package main runs the background presence worker: stale-session sweeps, finalization and activity exports.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/jobportal/backend/config"
	"github.com/jobportal/backend/internal/activitylog"
	"github.com/jobportal/backend/internal/auth"
	"github.com/jobportal/backend/internal/idletracking"
	"github.com/jobportal/backend/internal/presence"
	"github.com/jobportal/backend/internal/realtime"
	"github.com/jobportal/backend/internal/sessions"
	"github.com/jobportal/backend/internal/worker"
	"github.com/jobportal/backend/pkg/database"
	"github.com/jobportal/backend/pkg/queue"
	"github.com/jobportal/backend/pkg/redis"
	"github.com/jobportal/backend/pkg/storage"
)

func main() {
	logger := newLogger()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	ctx := context.Background()
	pool, err := database.NewPostgresPool(ctx, cfg.Database.DSN(), database.PoolOptions{
		MaxConns: cfg.Database.MaxConns,
		MinConns: cfg.Database.MinConns,
		AppName:  "presence-worker",
	}, logger)
	if err != nil {
		logger.Fatal("database", zap.Error(err))
	}
	defer pool.Close()

	rdb, err := redis.NewClient(ctx, redis.Options{
		Addr:       cfg.Redis.Addr,
		Password:   cfg.Redis.Password,
		DB:         cfg.Redis.DB,
		PoolSize:   cfg.Redis.PoolSize,
		ClientName: "presence-worker",
	}, logger)
	if err != nil {
		logger.Fatal("redis", zap.Error(err))
	}
	defer rdb.Close()

	sessionRepo := sessions.NewRepository(pool)
	logRepo := activitylog.NewRepository(pool)
	jobQueue := queue.NewQueue(rdb.Client, logger)

	// Finalizations are broadcast through the same Redis channel the servers relay to dashboards.
	relay := realtime.NewRedisPubSub(rdb.Client, cfg.Presence.Channel, logger)
	tracker := presence.NewTracker(&presence.Stores{
		Sessions: sessionRepo,
		Idle:     idletracking.NewRepository(pool),
		Logs:     logRepo,
		Actors:   auth.NewRepository(pool),
		Status:   presence.NewRedisStore(rdb.Client, cfg.Presence.StatusTTL),
	}, realtime.NewBroadcaster(relay, logger), logger, presence.Options{
		PersistTimeout: cfg.Presence.PersistTimeout,
	})

	var exporter worker.Exporter
	if cfg.AWS.ExportBucket != "" {
		s3Client, err := storage.NewS3(ctx, storage.S3Config{
			Region:               cfg.AWS.Region,
			AccessKeyID:          cfg.AWS.AccessKeyID,
			SecretAccessKey:      cfg.AWS.SecretAccessKey,
			ExportBucket:         cfg.AWS.ExportBucket,
			PresignExpireMinutes: cfg.AWS.PresignExpireMinutes,
		}, logger)
		if err != nil {
			logger.Warn("s3 disabled, activity exports will fail", zap.Error(err))
		} else {
			exporter = activitylog.NewExporter(logRepo, activitylog.NewS3Uploader(s3Client), logger)
		}
	}

	processor := worker.NewProcessor(tracker, exporter, jobQueue, logger)
	sweeper := worker.NewSweeper(sessionRepo, presence.NewRedisLiveness(rdb.Client), jobQueue, worker.SweeperConfig{
		StaleAfter: cfg.Presence.StaleAfter,
		Interval:   cfg.Presence.SweepInterval,
		Batch:      cfg.Presence.SweepBatch,
	}, logger)

	workerCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		processor.Run(workerCtx)
		close(done)
	}()
	if err := sweeper.Start(); err != nil {
		logger.Fatal("sweeper", zap.Error(err))
	}
	logger.Info("worker started",
		zap.Duration("stale_after", cfg.Presence.StaleAfter), zap.Duration("sweep_interval", cfg.Presence.SweepInterval))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	sweeper.Stop()
	cancel()
	<-done
	tracker.Wait()
	logger.Info("worker stopped")
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
