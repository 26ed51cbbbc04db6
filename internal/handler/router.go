package handler

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/noah-isme/wa-attendance-api/internal/middleware"
	"github.com/noah-isme/wa-attendance-api/internal/models"
	"github.com/noah-isme/wa-attendance-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/wa-attendance-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/wa-attendance-api/pkg/middleware/requestid"
)

// RouterConfig carries what the router needs besides the handlers.
type RouterConfig struct {
	APIPrefix      string
	AllowedOrigins []string
	WebhookSecret  string
	WebhookMaxBody int64
	Logger         *zap.Logger
	Tokens         middleware.TokenValidator
	Metrics        middleware.HTTPObserver
	ReleaseMode    bool
	// Docs serves the API documentation under /docs when set.
	Docs gin.HandlerFunc
}

// NewRouter mounts every public and admin route.
func NewRouter(cfg RouterConfig, h Handlers) *gin.Engine {
	if cfg.ReleaseMode {
		gin.SetMode(gin.ReleaseMode)
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.APIPrefix == "" {
		cfg.APIPrefix = "/api/v1"
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(cfg.Logger))
	r.Use(corsmiddleware.New(cfg.AllowedOrigins))
	r.Use(middleware.Metrics(cfg.Metrics))

	r.GET("/health", h.System.Health)
	r.GET("/ready", h.System.Ready)
	r.GET("/metrics", h.System.Prometheus)

	r.GET("/webhook", h.Webhook.Verify)
	r.POST("/webhook", middleware.WebhookSignature(cfg.WebhookSecret, cfg.WebhookMaxBody), h.Webhook.Receive)

	r.GET("/downloads/:token", h.Download.Download)

	if cfg.Docs != nil {
		r.GET("/docs/*any", cfg.Docs)
	}

	api := r.Group(cfg.APIPrefix)
	api.Use(middleware.JWT(cfg.Tokens))
	{
		api.POST("/chat", h.Chat.Send)

		students := api.Group("/students")
		{
			students.GET("", h.Student.List)
			students.POST("", h.Student.Register)
			students.POST("/schedule/upload", h.Schedule.Upload)
			students.GET("/:id", h.Student.Get)
			students.DELETE("/:id", middleware.RequireRoles(models.RoleAdmin), h.Student.Delete)

			students.PUT("/:id/schedule", h.Schedule.Ingest)
			students.GET("/:id/schedule", h.Schedule.Get)
			students.GET("/:id/schedule.ics", h.Summary.Calendar)

			students.POST("/:id/attendance", h.Attendance.Record)
			students.GET("/:id/attendance", h.Attendance.List)

			students.GET("/:id/summary", h.Summary.Summary)
			students.GET("/:id/summary/export", h.Summary.Export)
		}

		api.GET("/subjects", h.Subject.List)
		api.GET("/system/metrics", middleware.RequireRoles(models.RoleAdmin, models.RoleOperator), h.System.Snapshot)
	}

	return r
}
