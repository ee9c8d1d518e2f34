package server

import (
	"github.com/abduss/gomedia/internal/attachment"
	"github.com/abduss/gomedia/internal/auth"
	"github.com/abduss/gomedia/internal/config"
	"github.com/abduss/gomedia/internal/logger"
	"github.com/abduss/gomedia/internal/metrics"
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/minio/minio-go/v7"
)

// Dependencies groups the services required by the HTTP router.
type Dependencies struct {
	Config            config.Config
	DB                *pgxpool.Pool
	ObjectStore       *minio.Client
	AuthService       *auth.Service
	AttachmentService *attachment.Service
}

// NewRouter builds a Gin engine with foundational middleware and routes.
func NewRouter(deps Dependencies) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(logger.Middleware())
	router.Use(metrics.Middleware())

	registerHealthRoutes(router, deps)
	metrics.Register(router, deps.Config.Metrics.PrometheusPath)

	if deps.Config.Storage.Kind == config.StorageLocal {
		router.Static("/files", deps.Config.Storage.RootDir)
	}

	api := router.Group("/v1")
	if deps.AuthService != nil {
		protected := api.Group("/")
		protected.Use(auth.AuthMiddleware(deps.AuthService))

		if deps.AttachmentService != nil {
			attachment.RegisterRoutes(protected, deps.AttachmentService)
		}
	}

	return router
}
