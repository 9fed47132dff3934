package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/noah-isme/exam-scheduler-api/api/swagger"
	"github.com/noah-isme/exam-scheduler-api/internal/handler"
	internalmiddleware "github.com/noah-isme/exam-scheduler-api/internal/middleware"
	"github.com/noah-isme/exam-scheduler-api/internal/models"
	"github.com/noah-isme/exam-scheduler-api/internal/repository"
	"github.com/noah-isme/exam-scheduler-api/internal/scheduler"
	"github.com/noah-isme/exam-scheduler-api/internal/service"
	"github.com/noah-isme/exam-scheduler-api/migrations"
	"github.com/noah-isme/exam-scheduler-api/pkg/cache"
	"github.com/noah-isme/exam-scheduler-api/pkg/config"
	"github.com/noah-isme/exam-scheduler-api/pkg/database"
	"github.com/noah-isme/exam-scheduler-api/pkg/jobs"
	"github.com/noah-isme/exam-scheduler-api/pkg/lock"
	"github.com/noah-isme/exam-scheduler-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/exam-scheduler-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/exam-scheduler-api/pkg/middleware/requestid"
)

// @title Exam Scheduler API
// @version 1.0.0
// @description Batch placement of examination sessions into venues and time slots.
// @BasePath /api/v1
// @schemes http https
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

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.NewPostgres(ctx, cfg.Database)
	if err != nil {
		logr.Fatal("failed to connect database", zap.Error(err))
	}
	defer db.Close() //nolint:errcheck

	if cfg.Database.AutoMigrate {
		applied, err := migrations.Up(ctx, db)
		if err != nil {
			logr.Fatal("failed to apply migrations", zap.Error(err))
		}
		logr.Info("migrations applied", zap.Strings("files", applied))
	}

	readiness := map[string]handler.ReadinessCheck{"postgres": database.Ping(db)}

	var locker lock.Locker
	switch cfg.Exam.LockBackend {
	case config.LockBackendMemory:
		logr.Warn("scope locks are process local; run a single instance")
		locker = lock.NewMemoryLocker()
	default:
		redisClient, err := cache.NewRedis(ctx, cfg.Redis)
		if err != nil {
			logr.Fatal("failed to connect redis", zap.Error(err))
		}
		defer redisClient.Close() //nolint:errcheck
		locker = lock.NewRedisLocker(redisClient, "exam-scheduler:")
		readiness["redis"] = cache.Ping(redisClient)
	}

	policy, err := scheduler.ParsePolicy(cfg.Exam.DateOrder, cfg.Exam.VenueSharing, cfg.Exam.MaxVenuesPerSession)
	if err != nil {
		logr.Fatal("invalid exam scheduling policy", zap.Error(err))
	}

	validate := validator.New()
	metricsSvc := service.NewMetricsService()

	referenceRepo := repository.NewReferenceRepository(db)
	assignmentRepo := repository.NewExamAssignmentRepository(db)
	batchRepo := repository.NewSchedulingBatchRepository(db)
	failureRepo := repository.NewSchedulingFailureRepository(db)

	batchSvc := service.NewExamBatchService(
		referenceRepo,
		assignmentRepo,
		batchRepo,
		failureRepo,
		db,
		locker,
		metricsSvc,
		validate,
		logr,
		service.ExamBatchConfig{
			Policy:       policy,
			LockTTL:      cfg.Exam.ScopeLockTTL,
			BatchTimeout: cfg.Exam.BatchTimeout,
		},
	)
	failureSvc := service.NewExamFailureService(failureRepo, db, metricsSvc, validate, logr)
	tokenSvc := service.NewTokenService(service.TokenConfig{
		Secret:   cfg.JWT.Secret,
		Issuer:   cfg.JWT.Issuer,
		Audience: cfg.JWT.Audience,
		Leeway:   30 * time.Second,
	})

	if cfg.Exam.RecoverOnStartup {
		if _, err := batchSvc.RecoverInterrupted(ctx); err != nil {
			logr.Fatal("failed to recover interrupted batches", zap.Error(err))
		}
	}

	queue := jobs.NewQueue(service.RunBatchJobType, batchSvc.HandleJob, jobs.QueueConfig{
		Workers:    cfg.Exam.QueueWorkers,
		MaxRetries: cfg.Exam.QueueRetries,
		RetryDelay: cfg.Exam.QueueRetryDelay,
		Logger:     logr.Named("exam_queue"),
		OnGiveUp:   batchSvc.GiveUp,
	})
	queue.Start(ctx)
	defer queue.Stop()
	batchSvc.SetQueue(queue)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(internalmiddleware.Metrics(metricsSvc))

	metricsHandler := handler.NewMetricsHandler(metricsSvc, readiness)
	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", metricsHandler.Ready)
	r.GET("/metrics", metricsHandler.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	if cfg.Exam.Enabled {
		api := r.Group(cfg.APIPrefix)
		handler.RegisterExamSchedulerRoutes(api,
			handler.NewExamBatchHandler(batchSvc),
			handler.NewExamFailureHandler(failureSvc, batchSvc),
			internalmiddleware.JWT(tokenSvc),
			internalmiddleware.RequireRoles(models.RoleAdmin, models.RoleSuperAdmin),
		)
	} else {
		logr.Info("exam scheduler routes disabled")
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logr.Info("server starting", zap.String("addr", srv.Addr), zap.String("env", cfg.Env))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Fatal("server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logr.Info("shutting down")

	// Inline batches finish under their own timeout; give them the same window.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Exam.BatchTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Error("graceful shutdown failed", zap.Error(err))
	}
}
