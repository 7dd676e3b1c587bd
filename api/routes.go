package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	"github.com/killallgit/vibematch-api/api/generations"
	"github.com/killallgit/vibematch-api/api/health"
	"github.com/killallgit/vibematch-api/api/media"
	"github.com/killallgit/vibematch-api/api/search"
	"github.com/killallgit/vibematch-api/api/types"
	"github.com/killallgit/vibematch-api/api/version"
	_ "github.com/killallgit/vibematch-api/docs/swagger"
	apperrors "github.com/killallgit/vibematch-api/pkg/errors"
)

// LimiterFactory returns the rate limit middleware for a named route group
type LimiterFactory func(group string) gin.HandlerFunc

// RegisterRoutes registers all API routes
func RegisterRoutes(engine *gin.Engine, deps *types.Dependencies, limiter LimiterFactory) error {
	if limiter == nil {
		limiter = func(string) gin.HandlerFunc { return func(c *gin.Context) { c.Next() } }
	}

	// Register public routes (no rate limiting)
	health.RegisterRoutes(engine, deps)
	version.RegisterRoutes(engine, deps)

	// Register Swagger documentation route
	engine.GET("/docs", func(c *gin.Context) {
		c.Redirect(http.StatusMovedPermanently, "/docs/index.html")
	})
	docsGroup := engine.Group("/docs")
	docsGroup.GET("/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	// Setup 404 handler
	engine.NoRoute(NotFoundHandler())

	// API v1 routes
	v1 := engine.Group("/api/v1")
	v1.Use(limiter("default"))

	searchGroup := v1.Group("/search")
	searchGroup.Use(limiter("search"))
	search.RegisterRoutes(searchGroup, deps)

	mediaGroup := v1.Group("/media")
	mediaGroup.Use(limiter("media"))
	media.RegisterRoutes(mediaGroup, deps)

	// Polling stays on the default limit; only submissions are throttled
	// harder.
	generationsGroup := v1.Group("/generations")
	generations.RegisterRoutes(generationsGroup, deps, limiter("generations"))

	return nil
}

// NotFoundHandler handles 404 errors
func NotFoundHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusNotFound, types.ErrorResponse{
			Status:  types.StatusError,
			Message: "The requested endpoint was not found",
			Error:   string(apperrors.ErrCodeNotFound),
			Details: gin.H{"path": c.Request.URL.Path},
		})
	}
}
