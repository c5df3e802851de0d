package main

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	_ "github.com/noah-isme/lab-access-api/api/swagger"
	"github.com/noah-isme/lab-access-api/internal/handler"
	"github.com/noah-isme/lab-access-api/internal/middleware"
	"github.com/noah-isme/lab-access-api/internal/models"
	"github.com/noah-isme/lab-access-api/internal/repository"
	"github.com/noah-isme/lab-access-api/internal/service"
	"github.com/noah-isme/lab-access-api/pkg/cache"
	"github.com/noah-isme/lab-access-api/pkg/config"
	"github.com/noah-isme/lab-access-api/pkg/database"
	"github.com/noah-isme/lab-access-api/pkg/jobs"
	"github.com/noah-isme/lab-access-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/lab-access-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/lab-access-api/pkg/middleware/requestid"
	"github.com/noah-isme/lab-access-api/pkg/storage"

	"go.uber.org/zap"
)

// @title Lab Access API
// @version 1.0.0
// @description Multi-stage approval workflow for lab and resource access requests
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
	defer db.Close()

	userRepo := repository.NewUserRepository(db)
	requestRepo := repository.NewRequestRepository(db)
	approvalRepo := repository.NewApprovalRepository(db)

	metrics := service.NewMetricsService()

	var cacheSvc *service.CacheService
	if redisClient, err := cache.NewRedis(cfg.Redis); err != nil {
		logr.Warn("redis unavailable, dashboard cache disabled", zap.Error(err))
	} else {
		defer redisClient.Close()
		cacheRepo := repository.NewCacheRepository(redisClient, logr)
		cacheSvc = service.NewCacheService(cacheRepo, metrics, cfg.Dashboard.CacheTTL, logr, cfg.Dashboard.Enabled)
	}

	rootCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	notifier := service.Notifier(service.NopNotifier{})
	if cfg.Notifications.Enabled {
		dispatcher := service.NewNotificationDispatcher(service.LogSender{Logger: logr}, cfg.Notifications.FromName, logr)
		queue := jobs.NewQueue("notifications", dispatcher.Handle, jobs.QueueConfig{
			Workers:    cfg.Notifications.Workers,
			MaxRetries: cfg.Notifications.MaxRetries,
			RetryDelay: cfg.Notifications.RetryDelay,
			Logger:     logr,
		})
		queue.Start(rootCtx)
		defer queue.Stop()
		notifier = service.NewQueueNotifier(queue, logr)
	}

	validate := validator.New()
	wf := service.DefaultWorkflow()

	authSvc := service.NewAuthService(userRepo, validate, logr, service.AuthConfig{
		AccessTokenSecret:  cfg.JWT.Secret,
		AccessTokenExpiry:  cfg.JWT.Expiration,
		RefreshTokenExpiry: cfg.JWT.RefreshExpiration,
		Issuer:             "lab-access-api",
	})
	userSvc := service.NewUserService(userRepo, validate, logr)
	requestSvc := service.NewRequestService(requestRepo, approvalRepo, userRepo, wf, notifier, validate, logr)
	dashboardSvc := service.NewDashboardService(service.DashboardServiceParams{
		Stats:    requestRepo,
		Requests: requestRepo,
		Ledger:   approvalRepo,
		Workflow: wf,
		Cache:    cacheSvc,
		Logger:   logr,
		Config:   service.DashboardServiceConfig{CacheTTL: cfg.Dashboard.CacheTTL},
	})
	approvalSvc := service.NewApprovalService(requestRepo, userRepo, wf, notifier, metrics, dashboardSvc, cfg.Workflow, logr)

	var exportSvc *service.ExportService
	if cfg.Exports.Enabled {
		files, err := storage.NewLocalStorage(cfg.Exports.StorageDir)
		if err != nil {
			logr.Sugar().Fatalw("failed to init export storage", "error", err)
		}
		signer := storage.NewSignedURLSigner(cfg.Exports.SignedURLSecret, cfg.Exports.SignedURLTTL)
		exportSvc = service.NewExportService(requestRepo, userRepo, files, signer, service.ExportConfig{
			APIPrefix: cfg.APIPrefix,
			ResultTTL: cfg.Exports.SignedURLTTL,
		}, logr, nil, nil)
	}

	authHandler := handler.NewAuthHandler(authSvc)
	userHandler := handler.NewUserHandler(userSvc)
	requestHandler := handler.NewRequestHandler(requestSvc)
	approvalHandler := handler.NewApprovalHandler(approvalSvc)
	dashboardHandler := handler.NewDashboardHandler(dashboardSvc)
	metricsHandler := handler.NewMetricsHandler(metrics)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metrics))

	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", func(c *gin.Context) {
		if err := db.Ping(); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})
	r.GET("/metrics", metricsHandler.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)
	api.Use(middleware.WithResponseMeta())

	auth := api.Group("/auth")
	{
		auth.POST("/login", authHandler.Login)
		auth.POST("/refresh", authHandler.Refresh)
		auth.POST("/logout", middleware.JWT(authSvc), authHandler.Logout)
		auth.POST("/change-password", middleware.JWT(authSvc), authHandler.ChangePassword)
		auth.GET("/me", middleware.JWT(authSvc), authHandler.Me)
	}

	requests := api.Group("/requests", middleware.JWT(authSvc))
	{
		requests.POST("", requestHandler.Create)
		requests.GET("", requestHandler.List)
		requests.GET("/:id", requestHandler.Get)
		requests.PUT("/:id", requestHandler.Update)
		requests.DELETE("/:id", requestHandler.Delete)
		requests.GET("/:id/history", requestHandler.History)
		requests.GET("/:id/workflow", requestHandler.Workflow)

		decide := middleware.RequireRoles(models.ApproverRoles...)
		requests.POST("/:id/approve", decide, approvalHandler.Approve)
		requests.POST("/:id/reject", decide, approvalHandler.Reject)
		requests.POST("/:id/restore", approvalHandler.Restore)
		requests.POST("/:id/close", middleware.RequireRoles(models.RoleAdmin), approvalHandler.Close)
	}

	api.GET("/approvals/worklist", middleware.JWT(authSvc), middleware.RequireRoles(models.ApproverRoles...), approvalHandler.Worklist)

	dashboard := api.Group("/dashboard", middleware.JWT(authSvc))
	{
		dashboard.GET("/stats", middleware.RequireRoles(models.ApproverRoles...), dashboardHandler.Stats)
		dashboard.GET("/overview", dashboardHandler.Overview)
	}

	if exportSvc != nil {
		exportHandler := handler.NewExportHandler(exportSvc)
		exports := api.Group("/exports")
		exports.GET("", middleware.JWT(authSvc), middleware.RequireRoles(models.RoleAdmin),
			middleware.Audit(userRepo, models.AuditActionExport, "export"), exportHandler.Generate)
		exports.GET("/download/:token", exportHandler.Download)
	}

	users := api.Group("/users", middleware.JWT(authSvc), middleware.RequireRoles(models.RoleAdmin))
	{
		users.GET("", userHandler.List)
		users.GET("/:id", userHandler.Get)
		users.POST("", userHandler.Create)
		users.PUT("/:id", userHandler.Update)
		users.DELETE("/:id", userHandler.Delete)
	}

	api.GET("/admin/metrics", middleware.JWT(authSvc), middleware.RequireRoles(models.RoleAdmin), metricsHandler.Snapshot)

	addr := fmt.Sprintf(":%d", cfg.Port)
	logr.Sugar().Infow("server starting", "addr", addr, "env", cfg.Env)
	if err := r.Run(addr); err != nil {
		logr.Sugar().Fatalw("server failed", "error", err)
	}
}
