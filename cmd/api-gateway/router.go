package main

import (
	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/noah-isme/iep-collab-api/api/swagger"
	"github.com/noah-isme/iep-collab-api/internal/handler"
	"github.com/noah-isme/iep-collab-api/internal/middleware"
	"github.com/noah-isme/iep-collab-api/internal/models"
	"github.com/noah-isme/iep-collab-api/internal/service"
	"github.com/noah-isme/iep-collab-api/pkg/config"
	"github.com/noah-isme/iep-collab-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/iep-collab-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/iep-collab-api/pkg/middleware/requestid"
)

type routerDeps struct {
	cfg      *config.Config
	logger   *zap.Logger
	auth     middleware.TokenValidator
	audit    middleware.AuditLogger
	metrics  *service.MetricsService
	iep      *handler.IEPHandler
	webhooks *handler.WebhookHandler
	checks   []handler.ReadinessCheck

	// auditTrail is nil when postgres is disabled.
	auditTrail *handler.AuditHandler
}

func buildRouter(deps routerDeps) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(deps.logger))
	r.Use(corsmiddleware.New(deps.cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(deps.metrics, "/metrics", "/health"))

	observability := handler.NewMetricsHandler(deps.metrics, deps.checks...)
	r.GET("/health", observability.Health)
	r.GET("/ready", observability.Ready)
	r.GET("/metrics", observability.Prometheus)

	if deps.cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(deps.cfg.APIPrefix)
	api.POST("/webhooks/approvals", deps.webhooks.Approvals)

	secured := api.Group("")
	secured.Use(middleware.JWT(deps.auth))
	secured.GET("/metrics/summary", middleware.RequireRoles(), observability.Summary)

	editors := middleware.RequireRoles(models.RoleCaseManager, models.RoleTeacher, models.RoleCoordinator)
	readers := middleware.RequireRoles(models.RoleCaseManager, models.RoleTeacher, models.RoleCoordinator, models.RolePrincipal)

	ieps := secured.Group("/ieps")
	ieps.POST("", editors, deps.iep.Create)
	ieps.GET("", readers, deps.iep.List)
	ieps.GET("/:id", readers, deps.iep.Get)
	ieps.PUT("/:id/draft", editors, deps.iep.SaveDraft)
	ieps.POST("/:id/goals", editors, deps.iep.AddGoal)
	ieps.POST("/:id/accommodations", editors, deps.iep.AddAccommodation)
	ieps.POST("/:id/sync", editors, deps.iep.Sync)
	ieps.POST("/:id/resolve", editors, deps.iep.Resolve)
	ieps.GET("/:id/history", readers, deps.iep.History)
	ieps.POST("/:id/submit", middleware.RequireRoles(models.RoleCaseManager, models.RoleCoordinator), deps.iep.Submit)
	ieps.POST("/:id/archive", middleware.RequireRoles(), deps.iep.Archive)
	ieps.GET("/:id/export", readers, middleware.Audit(deps.audit, deps.logger, models.AuditActionIEPExport, "iep"), deps.iep.Export)
	if deps.auditTrail != nil {
		ieps.GET("/:id/audit", middleware.RequireRoles(models.RoleCoordinator, models.RolePrincipal), deps.auditTrail.Trail)
	}

	return r
}
