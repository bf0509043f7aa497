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
	_ "time/tzdata"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/noah-isme/bimestre-scheduler-api/api/swagger"
	"github.com/noah-isme/bimestre-scheduler-api/internal/handler"
	internalmiddleware "github.com/noah-isme/bimestre-scheduler-api/internal/middleware"
	"github.com/noah-isme/bimestre-scheduler-api/internal/models"
	"github.com/noah-isme/bimestre-scheduler-api/internal/repository"
	"github.com/noah-isme/bimestre-scheduler-api/internal/service"
	"github.com/noah-isme/bimestre-scheduler-api/pkg/cache"
	"github.com/noah-isme/bimestre-scheduler-api/pkg/config"
	"github.com/noah-isme/bimestre-scheduler-api/pkg/database"
	"github.com/noah-isme/bimestre-scheduler-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/bimestre-scheduler-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/bimestre-scheduler-api/pkg/middleware/requestid"
	"github.com/noah-isme/bimestre-scheduler-api/pkg/storage"
)

// @title Bimestre Scheduler API
// @version 1.0.0
// @description Term-scoped event scheduling with room conflict detection, permission-filtered views and term cleanup.
// @BasePath /api/v1
// @schemes http
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

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

	db, err := database.NewPostgres(ctx, cfg.Database)
	if err != nil {
		logr.Fatal("failed to connect database", zap.Error(err))
	}
	defer db.Close()

	if err := database.RunMigrations(ctx, db); err != nil {
		logr.Fatal("failed to run migrations", zap.Error(err))
	}

	metricsSvc := service.NewMetricsService()

	var cacheRepo service.CacheRepository
	if cfg.Redis.Enabled {
		client, err := cache.NewRedis(ctx, cfg.Redis)
		if err != nil {
			logr.Warn("redis unavailable, event cache disabled", zap.Error(err))
		} else {
			redisRepo := repository.NewCacheRepository(client, "bimestre")
			defer redisRepo.Close() //nolint:errcheck
			cacheRepo = redisRepo
		}
	}
	cacheSvc := service.NewCacheService(cacheRepo, metricsSvc, cfg.Cache.TTL, logr, cfg.Cache.Enabled)

	backups, err := storage.NewLocalStorage(cfg.Backup.StorageDir)
	if err != nil {
		logr.Fatal("failed to prepare backup storage", zap.Error(err))
	}

	validate := validator.New()
	txManager := database.NewTxManager(db, cfg.Database.TxRetries, logr)

	termRepo := repository.NewTermRepository(db)
	eventRepo := repository.NewEventRepository(db)
	instructorRepo := repository.NewInstructorRepository(db)
	permissionRepo := repository.NewPermissionRepository(db)
	cleanupRepo := repository.NewCleanupRepository(db)

	tokenSvc := service.NewTokenService(service.TokenConfig{
		Secret:   cfg.JWT.Secret,
		Issuer:   cfg.JWT.Issuer,
		Audience: cfg.JWT.Audience,
	})
	termSvc := service.NewTermService(termRepo, validate, logr)
	schedulingSvc := service.NewSchedulingService(eventRepo, instructorRepo, termRepo, txManager, cacheSvc, metricsSvc, validate, logr)
	eventQuerySvc := service.NewEventQueryService(eventRepo, permissionRepo, termRepo, cacheSvc, cfg.Cache.TTL, logr)
	permissionSvc := service.NewPermissionService(permissionRepo, termRepo, cacheSvc, validate, logr)
	cleanupSvc := service.NewCleanupService(cleanupRepo, termRepo, backups, cacheSvc, metricsSvc, validate, logr, service.CleanupConfig{
		Concurrency:  cfg.Cleanup.Concurrency,
		HistoryLimit: cfg.Cleanup.HistoryLimit,
	})

	if cfg.Cleanup.Enabled {
		scheduler, err := service.NewCleanupScheduler(cleanupSvc, service.CleanupScheduleConfig{
			Schedule:   cfg.Cleanup.Schedule,
			Timezone:   cfg.Cleanup.Timezone,
			Retries:    cfg.Cleanup.WorkerRetries,
			RetryDelay: cfg.Cleanup.RetryDelay,
			JobTimeout: time.Hour,
			Params: models.CleanupParams{
				MonthsThreshold: cfg.Cleanup.MonthsThreshold,
				MaxTermsPerRun:  cfg.Cleanup.MaxTermsPerRun,
				PerformBackup:   cfg.Cleanup.BackupBeforeTrim,
			},
		}, logr)
		if err != nil {
			logr.Fatal("failed to configure cleanup scheduler", zap.Error(err))
		}
		scheduler.Start(ctx)
		defer scheduler.Stop()
	}

	scheduleHandler := handler.NewScheduleHandler(schedulingSvc, eventQuerySvc)
	termHandler := handler.NewTermHandler(termSvc)
	permissionHandler := handler.NewPermissionHandler(permissionSvc)
	cleanupHandler := handler.NewCleanupHandler(cleanupSvc)
	metricsHandler := handler.NewMetricsHandler(metricsSvc, db)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(internalmiddleware.Metrics(metricsSvc))

	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", metricsHandler.Ready)
	r.GET("/metrics", metricsHandler.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	admin := internalmiddleware.RequireRoles(models.RoleAdmin)
	editors := internalmiddleware.RequireRoles(models.RoleAdmin, models.RoleEditor)
	readers := internalmiddleware.RequireRoles(models.RoleAdmin, models.RoleEditor, models.RoleViewer)

	api := r.Group(cfg.APIPrefix, internalmiddleware.JWT(tokenSvc))

	schedules := api.Group("/schedules")
	schedules.GET("/visible", readers, scheduleHandler.ListVisible)
	schedules.GET("/next-sequence", editors, scheduleHandler.NextSequence)
	if cfg.Exports.Enabled {
		schedules.GET("/export", editors, scheduleHandler.Export)
	}
	schedules.GET("", editors, scheduleHandler.List)
	schedules.GET("/:id", editors, scheduleHandler.Get)
	schedules.POST("", editors, scheduleHandler.Create)
	schedules.PUT("/:id", editors, scheduleHandler.Update)
	schedules.DELETE("/:id", editors, scheduleHandler.Delete)

	terms := api.Group("/bimestres")
	terms.GET("", readers, termHandler.List)
	terms.GET("/current", readers, termHandler.Current)
	terms.GET("/containing", readers, termHandler.Containing)
	terms.GET("/year/:year", readers, termHandler.ListByYear)
	terms.GET("/:id", readers, termHandler.Get)
	terms.POST("", admin, termHandler.Create)
	terms.POST("/batch", admin, termHandler.Batch)
	terms.PUT("/:id", admin, termHandler.Update)
	terms.POST("/:id/activate", admin, termHandler.Activate)
	terms.POST("/:id/deactivate", admin, termHandler.Deactivate)
	terms.POST("/cleanup", admin, cleanupHandler.Execute)
	terms.GET("/cleanup/candidates", editors, cleanupHandler.Candidates)
	terms.GET("/cleanup/history", editors, cleanupHandler.History)
	terms.GET("/cleanup/details/:executionId", editors, cleanupHandler.Details)

	permissions := api.Group("/permissions")
	permissions.GET("/check", readers, permissionHandler.Check)
	permissions.GET("", admin, permissionHandler.List)
	permissions.POST("", admin, permissionHandler.Grant)
	permissions.DELETE("/:kind/:id", admin, permissionHandler.Revoke)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       90 * time.Second,
	}

	go func() {
		logr.Sugar().Infow("server starting", "addr", srv.Addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logr.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Error("graceful shutdown failed", zap.Error(err))
	}
}
