package main

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-chi/cors"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-points-api/internal/handler"
	"github.com/noah-isme/sma-points-api/internal/middleware"
	"github.com/noah-isme/sma-points-api/internal/models"
	"github.com/noah-isme/sma-points-api/internal/service"
	"github.com/noah-isme/sma-points-api/pkg/config"
	"github.com/noah-isme/sma-points-api/pkg/logger"
	"github.com/noah-isme/sma-points-api/pkg/middleware/requestid"
)

type routes struct {
	tokens      middleware.TokenValidator
	metrics     *service.MetricsService
	checks      map[string]handler.ReadinessCheck
	points      *handler.PointsHandler
	collab      *handler.CollaboratorHandler
	policies    *handler.PolicyHandler
	schoolRules *handler.SchoolRuleHandler
	deadLetters *handler.DeadLetterHandler
}

func newRouter(cfg *config.Config, logr *zap.Logger, r routes) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestid.Middleware())
	router.Use(logger.GinMiddleware(logr, "/health", "/ready", "/metrics"))
	router.Use(middleware.Metrics(r.metrics))

	metricsHandler := handler.NewMetricsHandler(r.metrics, r.checks)
	router.GET("/health", metricsHandler.Health)
	router.GET("/ready", metricsHandler.Ready)
	router.GET("/metrics", metricsHandler.Prometheus)

	if cfg.Env != config.EnvProduction {
		router.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	writerRoles := []models.UserRole{models.RoleTeacher, models.RoleAdmin, models.RoleSuperAdmin, models.RoleSystem}
	adminRoles := []models.UserRole{models.RoleAdmin, models.RoleSuperAdmin}
	readerRoles := []string{"SELF"}
	for _, role := range writerRoles {
		readerRoles = append(readerRoles, string(role))
	}

	points := router.Group(cfg.APIPrefix + "/points")
	points.Use(middleware.JWT(r.tokens))
	{
		writers := points.Group("")
		writers.Use(middleware.RequireRoles(writerRoles...))
		writers.POST("/transactions", r.points.Apply)
		writers.GET("/transactions/:id", r.points.GetTransaction)
		writers.POST("/attendance/check-in", r.collab.CheckIn)
		writers.POST("/badges/bonus", r.collab.BadgeBonus)

		readers := points.Group("/accounts/:" + middleware.SelfParam)
		readers.Use(middleware.RBAC(readerRoles...))
		readers.GET("", r.points.Account)
		readers.GET("/transactions", r.points.Transactions)
		readers.GET("/limits", r.points.Limits)

		admins := points.Group("")
		admins.Use(middleware.RequireRoles(adminRoles...))
		admins.POST("/transactions/:id/reverse", r.points.Reverse)

		policies := admins.Group("/policies")
		policies.GET("", r.policies.List)
		policies.GET("/:scope", r.policies.Get)
		policies.GET("/:scope/:entityId", r.policies.Get)
		policies.PUT("/:scope", r.policies.Upsert)
		policies.PUT("/:scope/:entityId", r.policies.Upsert)
		policies.DELETE("/:scope", r.policies.Delete)
		policies.DELETE("/:scope/:entityId", r.policies.Delete)

		admins.GET("/school-rules/:schoolId", r.schoolRules.Get)
		admins.PUT("/school-rules/:schoolId", r.schoolRules.Upsert)

		// The sqs sink has no local store to list or replay from.
		if r.deadLetters != nil {
			admins.GET("/dead-letters", r.deadLetters.List)
			admins.POST("/dead-letters/:id/replay", r.deadLetters.Replay)
		}
	}

	return router
}

// withCORS wraps the engine with the browser access policy. Without configured
// origins any origin may call the API but credentials are not shared.
func withCORS(h http.Handler, origins []string) http.Handler {
	allowCredentials := len(origins) > 0
	if !allowCredentials {
		origins = []string{"*"}
	}
	return cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: allowCredentials,
		MaxAge:           300,
	})(h)
}
