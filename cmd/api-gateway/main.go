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
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/noah-isme/uni-enroll-api/api/swagger"
	"github.com/noah-isme/uni-enroll-api/internal/repository"
	"github.com/noah-isme/uni-enroll-api/internal/service"
	"github.com/noah-isme/uni-enroll-api/pkg/cache"
	"github.com/noah-isme/uni-enroll-api/pkg/config"
	"github.com/noah-isme/uni-enroll-api/pkg/database"
	"github.com/noah-isme/uni-enroll-api/pkg/jobs"
	"github.com/noah-isme/uni-enroll-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/uni-enroll-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/uni-enroll-api/pkg/middleware/requestid"
	"github.com/noah-isme/uni-enroll-api/pkg/storage"
)

// @title Uni Enroll API
// @version 0.1.0
// @description Enrollment lifecycle, contracts and batch grading
// @BasePath /api/v1
// @schemes http

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

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect to postgres", "error", err)
	}
	defer db.Close() //nolint:errcheck

	var locker *cache.Locker
	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		logr.Sugar().Warnw("redis unavailable, sweep lock disabled", "error", err)
	} else {
		defer redisClient.Close() //nolint:errcheck
		locker = cache.NewLocker(redisClient)
	}

	documentStore, err := storage.NewLocalStorage(cfg.Documents.StorageDir)
	if err != nil {
		logr.Sugar().Fatalw("failed to init document storage", "error", err)
	}
	contractStore, err := storage.NewLocalStorage(cfg.Contracts.StorageDir)
	if err != nil {
		logr.Sugar().Fatalw("failed to init contract storage", "error", err)
	}
	documentSigner := storage.NewSignedURLSigner(cfg.Documents.SignedURLSecret, cfg.Documents.SignedURLTTL)
	contractSigner := storage.NewSignedURLSigner(cfg.Contracts.SignedURLSecret, cfg.Contracts.SignedURLTTL)

	userRepo := repository.NewUserRepository(db)
	courseRepo := repository.NewCourseRepository(db)
	classRepo := repository.NewClassRepository(db)
	documentRepo := repository.NewDocumentRepository(db)
	enrollmentRepo := repository.NewEnrollmentRepository(db)
	contractRepo := repository.NewContractRepository(db)
	evaluationRepo := repository.NewEvaluationRepository(db)
	gradeRepo := repository.NewGradeRepository(db)

	validate := validator.New()

	authSvc := service.NewAuthService(userRepo, validate, logr, service.AuthConfig{
		AccessTokenSecret: cfg.JWT.Secret,
		AccessTokenExpiry: cfg.JWT.Expiration,
		Issuer:            cfg.JWT.Issuer,
	})
	documentSvc := service.NewDocumentService(documentRepo, userRepo, documentStore, documentSigner, validate, logr, service.DocumentServiceConfig{
		MaxFileSizeBytes: cfg.Documents.MaxFileSizeBytes,
		AllowedMIMEs:     cfg.Documents.AllowedMIMEs,
	})
	enrollmentSvc := service.NewEnrollmentService(enrollmentRepo, userRepo, courseRepo, documentSvc, validate, logr)

	renderer := service.NewContractRenderer(contractStore, cfg.Contracts.InstitutionName)

	var contractSvc *service.ContractService
	renderQueue := jobs.NewQueue("contract-render", func(ctx context.Context, job jobs.Job) error {
		return contractSvc.RenderJobHandler(ctx, job)
	}, jobs.QueueConfig{
		Workers:    cfg.Contracts.WorkerConcurrency,
		MaxRetries: cfg.Contracts.WorkerRetries,
		RetryDelay: 5 * time.Second,
		Logger:     logr,
	})
	contractSvc = service.NewContractService(contractRepo, enrollmentRepo, enrollmentSvc, userRepo, renderer, renderQueue, contractStore, contractSigner, validate, logr)

	reenrollmentSvc := service.NewReenrollmentService(enrollmentRepo, contractRepo, enrollmentSvc, locker, userRepo, renderQueue, logr, service.ReenrollmentConfig{
		TemplateID: cfg.Reenrollment.TemplateID,
		LockTTL:    cfg.Reenrollment.LockTTL,
	})
	gradeSvc := service.NewGradeService(evaluationRepo, gradeRepo, classRepo, validate, logr)
	metricsSvc := service.NewMetricsService()

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	renderQueue.Start(rootCtx)
	defer renderQueue.Stop()

	if cfg.Reenrollment.Enabled {
		go runSweepLoop(rootCtx, reenrollmentSvc, metricsSvc, cfg.Reenrollment.SweepInterval, logr)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))

	registerRoutes(r, cfg, routeDeps{
		auth:         authSvc,
		documents:    documentSvc,
		enrollments:  enrollmentSvc,
		contracts:    contractSvc,
		reenrollment: reenrollmentSvc,
		grades:       gradeSvc,
		metrics:      metricsSvc,
		users:        userRepo,
	})

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{Addr: addr, Handler: r}

	go func() {
		logr.Sugar().Infow("server starting", "addr", addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-rootCtx.Done()
	logr.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Sugar().Errorw("graceful shutdown failed", "error", err)
	}
}

// runSweepLoop drives the scheduled reenrollment sweep until shutdown.
func runSweepLoop(ctx context.Context, reenrollment *service.ReenrollmentService, metrics *service.MetricsService, interval time.Duration, logr *zap.Logger) {
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			start := time.Now()
			summary, err := reenrollment.Run(ctx)
			if err != nil {
				logr.Error("scheduled reenrollment sweep failed", zap.Error(err))
				continue
			}
			metrics.ObserveSweep(time.Since(start))
			logr.Info("scheduled reenrollment sweep finished",
				zap.Int("processed", summary.Processed),
				zap.Int("renewed", summary.Renewed),
				zap.Int("completed", summary.Completed),
				zap.Int("skipped", summary.Skipped))
		}
	}
}
