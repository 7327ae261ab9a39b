package main

import (
	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	"github.com/noah-isme/fileshare-api/internal/handler"
	"github.com/noah-isme/fileshare-api/internal/middleware"
	"github.com/noah-isme/fileshare-api/internal/models"
	"github.com/noah-isme/fileshare-api/pkg/config"
	"github.com/noah-isme/fileshare-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/fileshare-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/fileshare-api/pkg/middleware/requestid"
)

type routerDeps struct {
	auth          *handler.AuthHandler
	files         *handler.FileHandler
	notifications *handler.NotificationHandler
	admin         *handler.AdminHandler
	metrics       *handler.MetricsHandler
	tokens        middleware.TokenValidator
	observe       middleware.HTTPObserver
	audit         middleware.AuditRecorder
}

func newRouter(cfg *config.Config, logr *zap.Logger, d routerDeps) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(d.observe))
	r.Use(middleware.WithResponseMeta())

	r.GET("/health", d.metrics.Health)
	r.GET("/ready", d.metrics.Ready)
	r.GET("/metrics", d.metrics.Prometheus)
	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)
	requireAuth := middleware.JWT(d.tokens)

	auth := api.Group("/auth")
	auth.POST("/signup", d.auth.Signup)
	auth.POST("/login", d.auth.Login)
	auth.GET("/me", requireAuth, d.auth.Me)

	files := api.Group("/files")
	files.GET("/:id", middleware.OptionalJWT(d.tokens), d.files.Get)
	files.GET("/:id/download", d.files.Download)

	owned := files.Group("", requireAuth)
	owned.POST("", d.files.Upload)
	owned.GET("/mine", d.files.ListMine)
	owned.PUT("/:id", d.files.Update)
	owned.DELETE("/:id", d.files.Delete)
	owned.POST("/:id/request", d.files.RequestAccess)
	owned.GET("/:id/requests", d.files.ListRequests)
	owned.POST("/:id/grant", d.files.Grant)
	owned.POST("/:id/deny", d.files.Deny)
	owned.PUT("/:id/manage-access", d.files.ManageAccess)
	owned.POST("/:id/share", d.files.ShareByEmail)
	owned.PUT("/:id/access", d.files.SetGeneralAccess)

	notifications := api.Group("/notifications", requireAuth)
	notifications.GET("", d.notifications.List)
	notifications.PUT("/mark-read-all", d.notifications.MarkAllRead)
	notifications.PUT("/:id/read", d.notifications.MarkRead)

	admin := api.Group("/admin", requireAuth, middleware.AdminOnly())
	admin.GET("/files", d.admin.ListFiles)
	admin.GET("/stats", d.admin.Stats)
	admin.GET("/files/export", middleware.Audit(d.audit, logr, models.AuditActionAdminExport, "file"), d.admin.Export)

	return r
}
