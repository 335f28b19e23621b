package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"alcyxob/coaching-engine/internal/api"
	"alcyxob/coaching-engine/internal/config"
	"alcyxob/coaching-engine/internal/events"
	"alcyxob/coaching-engine/internal/logger"
	"alcyxob/coaching-engine/internal/metrics"
	"alcyxob/coaching-engine/internal/repository/mongo"
	"alcyxob/coaching-engine/internal/service"
	"alcyxob/coaching-engine/internal/storage"
)

// @title Coaching Engine API
// @version 1.0
// @description Weekly program templates, enrollments with lazily materialized periods, execution tracking and consultation booking.
// @host localhost:8080
// @BasePath /api/v1
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
// @description Type "Bearer" followed by a space and JWT token.
func main() {
	// --- Configuration ---
	cfg, err := config.LoadConfig(".")
	if err != nil {
		log.Fatalf("FATAL: Could not load config: %v", err)
	}

	appLog, err := logger.NewLogger(cfg.Log)
	if err != nil {
		log.Fatalf("FATAL: Could not build logger: %v", err)
	}
	defer func() { _ = appLog.Sync() }()
	appLog.Info("starting coaching engine", zap.String("address", cfg.Server.Address))

	metrics.Register()

	// --- Database Connection ---
	dbClient, err := mongo.ConnectDB(cfg.Database.URI)
	if err != nil {
		appLog.Fatal("could not connect to MongoDB", zap.Error(err))
	}
	defer func() {
		appLog.Info("disconnecting MongoDB")
		if err := mongo.DisconnectDB(dbClient); err != nil {
			appLog.Error("failed to disconnect MongoDB", zap.Error(err))
		}
	}()
	appDB := dbClient.Database(cfg.Database.Name)

	// Unique indexes back the exactly-once guarantees, so wait for them.
	indexCtx, cancelIndexes := context.WithTimeout(context.Background(), time.Minute)
	if err := mongo.EnsureIndexes(indexCtx, appDB); err != nil {
		cancelIndexes()
		appLog.Fatal("could not ensure indexes", zap.Error(err))
	}
	cancelIndexes()

	repo := mongo.NewRepository(dbClient, appDB, cfg.Database.TxTimeout)

	// --- Optional Infrastructure ---
	var files storage.FileStorage
	if cfg.S3.BucketName != "" {
		files, err = storage.NewS3Storage(cfg.S3, appLog.Named("s3"))
		if err != nil {
			appLog.Fatal("failed to initialize S3 storage", zap.Error(err))
		}
	} else {
		appLog.Info("no S3 bucket configured, archive export disabled")
	}

	var publisher events.EventPublisher = events.NoopPublisher{}
	if cfg.NATS.URL != "" {
		publisher, err = events.NewNatsPublisher(cfg.NATS.URL, appLog.Named("events"))
		if err != nil {
			appLog.Fatal("failed to connect to NATS", zap.Error(err))
		}
	}
	defer publisher.Close()

	// --- Initialize Services ---
	periods := service.NewPeriodManager(repo, publisher, cfg.Schedule, cfg.Retry, appLog)
	svc := api.Services{
		Auth:        service.NewAuthService(repo.User, cfg.JWT.Secret, cfg.JWT.Expiration, appLog),
		Items:       service.NewItemService(repo.Item),
		Templates:   service.NewTemplateService(repo, appLog),
		Enrollments: service.NewEnrollmentService(repo, periods, cfg.Retry, appLog),
		Periods:     periods,
		Tracker:     service.NewExecutionTracker(repo, periods, cfg.Retry, appLog),
		Bookings:    service.NewBookingService(repo, publisher, cfg.Booking, cfg.Retry, appLog),
		Archive:     service.NewArchiveService(repo, files, publisher, cfg, appLog),
	}

	// --- Initialize Gin Engine ---
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	api.SetupRoutes(router, appLog.Named("http"), svc)

	// --- Start HTTP Server ---
	server := &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			appLog.Fatal("ListenAndServe error", zap.Error(err))
		}
	}()

	// --- Graceful Shutdown ---
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	appLog.Info("shutting down server")

	ctxShutdown, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()

	if err := server.Shutdown(ctxShutdown); err != nil {
		appLog.Error("server forced to shutdown", zap.Error(err))
	}

	appLog.Info("server exiting")
}
