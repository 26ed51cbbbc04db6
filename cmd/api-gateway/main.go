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

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/noah-isme/wa-attendance-api/api/swagger"
	"github.com/noah-isme/wa-attendance-api/internal/ai"
	"github.com/noah-isme/wa-attendance-api/internal/handler"
	"github.com/noah-isme/wa-attendance-api/internal/repository"
	"github.com/noah-isme/wa-attendance-api/internal/service"
	"github.com/noah-isme/wa-attendance-api/internal/whatsapp"
	"github.com/noah-isme/wa-attendance-api/pkg/cache"
	"github.com/noah-isme/wa-attendance-api/pkg/config"
	"github.com/noah-isme/wa-attendance-api/pkg/database"
	"github.com/noah-isme/wa-attendance-api/pkg/jobs"
	"github.com/noah-isme/wa-attendance-api/pkg/logger"
	"github.com/noah-isme/wa-attendance-api/pkg/storage"
)

// @title WhatsApp Attendance API
// @version 1.0.0
// @description Attendance assistant driven by WhatsApp messages, with an admin REST API.
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

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Fatal("database connection failed", zap.Error(err))
	}
	defer db.Close() //nolint:errcheck

	if cfg.Database.AutoMigrate {
		if err := database.RunMigrations(db.DB, logr); err != nil {
			logr.Fatal("database migration failed", zap.Error(err))
		}
	}

	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		logr.Warn("redis unavailable, continuing without cache", zap.Error(err))
		redisClient = nil
	}

	loc := cfg.Location()
	validate := validator.New()

	studentRepo := repository.NewStudentRepository(db)
	subjectRepo := repository.NewSubjectRepository(db)
	scheduleRepo := repository.NewScheduleRepository(db)
	attendanceRepo := repository.NewAttendanceRepository(db)
	cacheRepo := repository.NewCacheRepository(redisClient)
	defer cacheRepo.Close() //nolint:errcheck

	metrics := service.NewMetricsService()
	cacheSvc := service.NewCacheService(cacheRepo, metrics, cfg.Summary.CacheTTL, logr, cfg.Summary.CacheEnabled && redisClient != nil)
	studentSvc := service.NewStudentService(studentRepo, cacheSvc, validate, logr, cfg.WhatsApp.DefaultCountryCode)
	subjectSvc := service.NewSubjectService(subjectRepo)
	scheduleSvc := service.NewScheduleService(studentSvc, subjectRepo, scheduleRepo, database.NewTransactor(db), cacheSvc, validate, logr)
	attendanceSvc := service.NewAttendanceService(studentSvc, scheduleSvc, attendanceRepo, cacheSvc, metrics, validate, logr, loc)
	summarySvc := service.NewSummaryService(scheduleSvc, attendanceRepo, cacheSvc, cfg.Summary.CacheTTL, logr)

	exportStore, err := storage.NewLocalStorage(cfg.Exports.StorageDir)
	if err != nil {
		logr.Fatal("export storage unavailable", zap.Error(err))
	}
	signer := storage.NewSignedURLSigner(cfg.Exports.SignedURLSecret, cfg.Exports.SignedURLTTL)
	exportSvc := service.NewExportService(studentSvc, scheduleSvc, summarySvc, exportStore, signer, service.ExportConfig{
		PublicBaseURL: cfg.Exports.PublicBaseURL,
		Location:      loc,
	}, logr)
	authSvc := service.NewAuthService(logr, service.AuthConfig{
		AccessTokenSecret: cfg.JWT.Secret,
		AccessTokenExpiry: cfg.JWT.Expiration,
		Issuer:            cfg.JWT.Issuer,
	})

	aiClient := ai.New(cfg.AI, logr, metrics.ObserveAICall)
	waClient := whatsapp.NewClient(cfg.WhatsApp, logr)

	chatSvc := service.NewChatService(studentSvc, scheduleSvc, attendanceSvc, summarySvc, exportSvc, aiClient, logr)
	inboundSvc := service.NewInboundService(chatSvc, waClient, metrics, logr, service.InboundConfig{
		TempDir:      cfg.Uploads.TempDir,
		MaxMediaSize: cfg.Uploads.MaxFileSizeBytes,
	})

	inboundQueue := jobs.NewQueue("whatsapp-inbound", inboundSvc.Process, jobs.QueueConfig{
		Workers:    cfg.Inbound.Workers,
		BufferSize: cfg.Inbound.BufferSize,
		MaxRetries: cfg.Inbound.MaxRetries,
		RetryDelay: cfg.Inbound.RetryDelay,
		Logger:     logr,
	})
	inboundSvc.UseQueue(inboundQueue)
	metrics.TrackQueueDepth(inboundQueue.Pending)

	ctx, stop := context.WithCancel(context.Background())
	defer stop()
	inboundQueue.Start(ctx)
	go runExportCleanup(ctx, exportSvc, cfg.Exports.CleanupInterval, logr)

	handlers := handler.Handlers{
		Webhook:    handler.NewWebhookHandler(cfg.WhatsApp.VerifyToken, inboundSvc, logr),
		Chat:       handler.NewChatHandler(chatSvc, validate),
		Student:    handler.NewStudentHandler(studentSvc),
		Schedule:   handler.NewScheduleHandler(studentSvc, scheduleSvc, chatSvc, handler.UploadLimits{TempDir: cfg.Uploads.TempDir, MaxFiles: cfg.Uploads.MaxFiles, MaxFileSize: cfg.Uploads.MaxFileSizeBytes}),
		Attendance: handler.NewAttendanceHandler(attendanceSvc),
		Summary:    handler.NewSummaryHandler(summarySvc, exportSvc),
		Download:   handler.NewDownloadHandler(exportSvc),
		Subject:    handler.NewSubjectHandler(subjectSvc),
		System:     handler.NewSystemHandler(metrics, readinessChecks(db, cacheRepo, redisClient != nil, metrics)),
	}

	routerCfg := handler.RouterConfig{
		APIPrefix:      cfg.APIPrefix,
		AllowedOrigins: cfg.CORS.AllowedOrigins,
		WebhookSecret:  cfg.WhatsApp.AppSecret,
		Logger:         logr,
		Tokens:         authSvc,
		Metrics:        metrics,
		ReleaseMode:    cfg.Env == config.EnvProduction,
	}
	if cfg.Env != config.EnvProduction {
		routerCfg.Docs = ginSwagger.WrapHandler(swaggerFiles.Handler)
	}
	if cfg.WhatsApp.AppSecret == "" {
		logr.Warn("WHATSAPP_APP_SECRET not set, webhook signatures are not verified")
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           handler.NewRouter(routerCfg, handlers),
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      cfg.AI.Timeout + 30*time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logr.Sugar().Infow("server starting", "addr", srv.Addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Fatal("server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	logr.Info("shutting down", zap.String("signal", sig.String()))

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Error("server shutdown failed", zap.Error(err))
	}
	stop()
	inboundQueue.Stop()
	logr.Info("server stopped")
}

func readinessChecks(db *sqlx.DB, cacheRepo *repository.CacheRepository, redisEnabled bool, metrics *service.MetricsService) map[string]handler.ReadinessCheck {
	checks := map[string]handler.ReadinessCheck{
		"database": func(ctx context.Context) error {
			start := time.Now()
			err := db.PingContext(ctx)
			metrics.ObserveDBQuery("ping", time.Since(start))
			return err
		},
	}
	if redisEnabled {
		checks["redis"] = cacheRepo.Ping
	}
	return checks
}

func runExportCleanup(ctx context.Context, exports *service.ExportService, interval time.Duration, logr *zap.Logger) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := exports.Cleanup(); err != nil {
				logr.Warn("export cleanup failed", zap.Error(err))
			}
		}
	}
}
