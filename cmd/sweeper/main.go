// Command sweeper runs one archival pass: it expires overdue enrollments,
// archives finished ones and purges rows left behind by interrupted runs.
// Schedule it with cron or a Kubernetes CronJob.
package main

import (
	"context"
	"log"
	"os"
	"time"

	"go.uber.org/zap"

	"alcyxob/coaching-engine/internal/config"
	"alcyxob/coaching-engine/internal/events"
	"alcyxob/coaching-engine/internal/logger"
	"alcyxob/coaching-engine/internal/repository/mongo"
	"alcyxob/coaching-engine/internal/service"
	"alcyxob/coaching-engine/internal/storage"
)

const sweepTimeout = 10 * time.Minute

func main() {
	cfg, err := config.LoadConfig(".")
	if err != nil {
		log.Fatalf("FATAL: Could not load config: %v", err)
	}
	appLog, err := logger.NewLogger(cfg.Log)
	if err != nil {
		log.Fatalf("FATAL: Could not build logger: %v", err)
	}
	defer func() { _ = appLog.Sync() }()

	if err := run(cfg, appLog); err != nil {
		appLog.Error("sweep failed", zap.Error(err))
		_ = appLog.Sync()
		os.Exit(1)
	}
}

func run(cfg config.Config, appLog *zap.Logger) error {
	ctx, cancel := context.WithTimeout(context.Background(), sweepTimeout)
	defer cancel()

	dbClient, err := mongo.ConnectDB(cfg.Database.URI)
	if err != nil {
		return err
	}
	defer func() {
		if err := mongo.DisconnectDB(dbClient); err != nil {
			appLog.Warn("failed to disconnect MongoDB", zap.Error(err))
		}
	}()
	repo := mongo.NewRepository(dbClient, dbClient.Database(cfg.Database.Name), cfg.Database.TxTimeout)

	var files storage.FileStorage
	if cfg.S3.BucketName != "" {
		if files, err = storage.NewS3Storage(cfg.S3, appLog.Named("s3")); err != nil {
			return err
		}
	}
	var publisher events.EventPublisher = events.NoopPublisher{}
	if cfg.NATS.URL != "" {
		if publisher, err = events.NewNatsPublisher(cfg.NATS.URL, appLog.Named("events")); err != nil {
			return err
		}
	}
	defer publisher.Close()

	archive := service.NewArchiveService(repo, files, publisher, cfg, appLog)
	report, err := archive.Sweep(ctx, time.Now())
	appLog.Info("sweep finished",
		zap.Int("expired", report.Expired),
		zap.Int("archived", report.Archived),
		zap.Int("failed", report.Failed),
		zap.Int("purged", report.Purged))
	return err
}
