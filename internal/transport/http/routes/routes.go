package routes

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/arklim/credential-gate/internal/core/domain"
	"github.com/arklim/credential-gate/internal/infra/config"
	"github.com/arklim/credential-gate/internal/infra/security"
	"github.com/arklim/credential-gate/internal/transport/http/handlers"
	"github.com/arklim/credential-gate/internal/transport/http/middleware"
	"github.com/arklim/credential-gate/internal/usecase"
)

// ServiceSet groups the services the HTTP layer depends on.
type ServiceSet struct {
	Auth  *usecase.AuthService
	Users *usecase.UserService
}

// Dependencies encapsulates the objects required to register routes.
type Dependencies struct {
	Config   *config.AppConfig
	Logger   *zap.Logger
	Services ServiceSet
	Tokens   *security.TokenManager
	Metrics  *middleware.HTTPMetrics
	Gatherer prometheus.Gatherer
	Database DatabaseChecker
	Cache    CacheChecker
}

// DatabaseChecker exposes readiness behaviour for database connections.
type DatabaseChecker interface {
	Ping(ctx context.Context) error
}

// CacheChecker exposes readiness behaviour for cache backends.
type CacheChecker interface {
	HealthCheck(ctx context.Context) error
}

// Register configures the Gin engine with routes and middleware.
func Register(deps Dependencies) *gin.Engine {
	if deps.Config != nil && deps.Config.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	log := deps.Logger
	if log == nil {
		log = zap.NewNop()
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.EnrichContext())
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger(log))
	r.Use(deps.Metrics.Handler())
	if deps.Config != nil && len(deps.Config.HTTP.AllowedOrigins) > 0 {
		r.Use(middleware.CORS(deps.Config.HTTP.AllowedOrigins))
	}

	healthOptions := make([]handlers.HealthOption, 0, 2)
	if deps.Database != nil {
		healthOptions = append(healthOptions, handlers.WithReadinessCheck("database", deps.Database.Ping))
	}
	if deps.Cache != nil {
		healthOptions = append(healthOptions, handlers.WithReadinessCheck("redis", deps.Cache.HealthCheck))
	}
	healthHandler := handlers.NewHealthHandler(healthOptions...)

	r.GET("/healthz", healthHandler.Status)
	r.GET("/readyz", healthHandler.Readiness)
	r.GET("/metrics", gin.WrapH(metricsHandler(deps.Gatherer)))

	if deps.Services.Auth == nil || deps.Services.Users == nil || deps.Tokens == nil {
		log.Warn("account services not configured; only health endpoints are served")
		return r
	}

	authMiddleware := middleware.RequireAuth(deps.Tokens, deps.Services.Users)
	userHandler := handlers.NewUserHandler(deps.Services.Users, deps.Services.Auth)

	api := r.Group("/api/v1")
	{
		authGroup := api.Group("/auth")
		handlers.NewAuthHandler(deps.Services.Auth, deps.Tokens).RegisterRoutes(authGroup)
		authGroup.GET("/me", authMiddleware, userHandler.Me)

		userGroup := api.Group("/users")
		userGroup.Use(authMiddleware)
		userHandler.RegisterRoutes(userGroup)

		adminGroup := userGroup.Group("/admin")
		adminGroup.Use(middleware.RequireRole(domain.RoleAdmin))
		handlers.NewAdminHandler(deps.Services.Users).RegisterRoutes(adminGroup)
	}

	return r
}

func metricsHandler(gatherer prometheus.Gatherer) http.Handler {
	if gatherer == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
