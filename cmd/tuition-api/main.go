package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"github.com/academia-crm/tuition-api/internal/handler"
	"github.com/academia-crm/tuition-api/internal/middleware"
	"github.com/academia-crm/tuition-api/internal/models"
	"github.com/academia-crm/tuition-api/internal/repository"
	"github.com/academia-crm/tuition-api/internal/service"
	"github.com/academia-crm/tuition-api/pkg/cache"
	"github.com/academia-crm/tuition-api/pkg/config"
	"github.com/academia-crm/tuition-api/pkg/cron"
	"github.com/academia-crm/tuition-api/pkg/database"
	"github.com/academia-crm/tuition-api/pkg/logger"
	corsmiddleware "github.com/academia-crm/tuition-api/pkg/middleware/cors"
	reqidmiddleware "github.com/academia-crm/tuition-api/pkg/middleware/requestid"
	"github.com/academia-crm/tuition-api/pkg/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect to postgres", "error", err)
	}
	defer db.Close()

	if err := database.Migrate(ctx, db); err != nil {
		logr.Sugar().Fatalw("failed to apply migrations", "error", err)
	}

	payloads, err := storage.NewLocalStorage(cfg.Uploads.Dir)
	if err != nil {
		logr.Sugar().Fatalw("failed to init upload storage", "error", err)
	}

	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		logr.Sugar().Warnw("redis unavailable, report caching disabled", "error", err)
		redisClient = nil
	} else {
		defer redisClient.Close()
	}

	validate := validator.New()
	clock := service.SystemClock()

	receiptRepo := repository.NewReceiptRepository(db)
	studentRepo := repository.NewStudentRepository(db)
	userRepo := repository.NewUserRepository(db)
	reportRepo := repository.NewReportRepository(db)
	cacheRepo := repository.NewCacheRepository(redisClient, logr)

	metricsSvc := service.NewMetricsService()
	authSvc := service.NewAuthService(userRepo, validate, clock, logr, service.AuthConfig{
		Secret:     cfg.JWT.Secret,
		Expiration: cfg.JWT.Expiration,
		Issuer:     "tuition-api",
	})
	studentSvc := service.NewStudentService(studentRepo, logr)
	receiptSvc := service.NewReceiptService(receiptRepo, studentRepo, payloads, service.UploadPolicy{
		MaxFileSizeBytes: cfg.Uploads.MaxFileSizeBytes,
		AllowedMIMEs:     cfg.Uploads.AllowedMIMEs,
	}, clock, logr)
	sweepSvc := service.NewSweepService(receiptRepo, payloads, metricsSvc, clock, logr)
	reportSvc := service.NewReportService(reportRepo, payloads, cacheRepo, metricsSvc, service.ReportCacheConfig{
		Enabled: cfg.Reports.CacheEnabled && redisClient != nil,
		TTL:     cfg.Reports.CacheTTL,
	}, clock, logr)

	runner := cron.NewRunner(logr)
	if cfg.Sweeps.Enabled {
		expireHour, expireMinute, err := cron.ParseClock(cfg.Sweeps.ExpireAt)
		if err != nil {
			logr.Sugar().Fatalw("invalid expiry sweep time", "value", cfg.Sweeps.ExpireAt, "error", err)
		}
		purgeHour, purgeMinute, err := cron.ParseClock(cfg.Sweeps.PurgeAt)
		if err != nil {
			logr.Sugar().Fatalw("invalid purge sweep time", "value", cfg.Sweeps.PurgeAt, "error", err)
		}
		runner.Register("expire-receipts", cron.Daily(expireHour, expireMinute), func(ctx context.Context) error {
			_, err := sweepSvc.ExpireOverdue(ctx)
			return err
		})
		runner.Register("purge-receipts", cron.Monthly(cfg.Sweeps.PurgeDay, purgeHour, purgeMinute), func(ctx context.Context) error {
			_, err := sweepSvc.PurgeStale(ctx)
			return err
		})
		runner.Start(ctx)
		defer runner.Stop()
	}

	authHandler := handler.NewAuthHandler(authSvc)
	studentHandler := handler.NewStudentHandler(studentSvc)
	receiptHandler := handler.NewReceiptHandler(receiptSvc, studentSvc, cfg.Uploads.MaxFileSizeBytes)
	reportHandler := handler.NewReportHandler(reportSvc)
	metricsHandler := handler.NewMetricsHandler(metricsSvc)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metricsSvc))

	r.GET("/health", metricsHandler.Health)
	r.GET("/metrics", metricsHandler.Prometheus)

	api := r.Group(cfg.APIPrefix)
	api.POST("/auth/login", authHandler.Login)

	authed := api.Group("")
	authed.Use(middleware.JWT(authSvc))

	authed.GET("/students", studentHandler.List)
	authed.GET("/students/:id", studentHandler.Get)
	authed.GET("/students/:id/details.pdf", studentHandler.DetailsPDF)
	authed.POST("/students/:id/receipts", receiptHandler.Upload)
	authed.GET("/students/:id/receipts/latest", receiptHandler.Latest)

	admin := authed.Group("")
	admin.Use(middleware.RequireRoles(models.RoleAdmin))

	admin.GET("/receipts", receiptHandler.Board)
	admin.POST("/receipts/:id/approve", receiptHandler.Approve)
	admin.POST("/receipts/:id/reject", receiptHandler.Reject)
	admin.DELETE("/receipts/:id", receiptHandler.Delete)
	admin.GET("/receipts/:id/download", receiptHandler.Download)
	admin.POST("/reports/generate", reportHandler.Generate)

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{Addr: addr, Handler: r}

	go func() {
		logr.Sugar().Infow("server starting", "addr", addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logr.Sugar().Infow("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Sugar().Errorw("graceful shutdown failed", "error", err)
	}
}
