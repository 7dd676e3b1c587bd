package health

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/killallgit/vibematch-api/api/types"
	"github.com/killallgit/vibematch-api/internal/models"
)

const (
	statusHealthy       = "healthy"
	statusUnhealthy     = "unhealthy"
	statusNotConfigured = "not configured"
	statusDegraded      = "degraded"
)

// Get handles health check requests
// @Summary      Health check
// @Description  Reports the state of the database, the extractor binary, the proxy pool and the scheduler
// @Tags         health
// @Produce      json
// @Success      200 {object} types.HealthResponse
// @Success      503 {object} types.HealthResponse
// @Router       /health [get]
func Get(deps *types.Dependencies) gin.HandlerFunc {
	return func(c *gin.Context) {
		if deps == nil {
			deps = &types.Dependencies{}
		}

		services := map[string]interface{}{
			"database":  getDatabaseStatus(deps),
			"extractor": getExtractorStatus(deps),
			"proxies":   getProxyStatus(deps),
			"scheduler": getSchedulerStatus(c.Request.Context(), deps),
		}

		response := types.HealthResponse{
			Status:    statusHealthy,
			Timestamp: time.Now().UTC().Format(time.RFC3339),
			Version:   deps.Build.Version,
			Services:  services,
		}

		code := http.StatusOK
		if db := services["database"].(gin.H); db["status"] == statusUnhealthy {
			response.Status = statusUnhealthy
			code = http.StatusServiceUnavailable
		} else if anyUnhealthy(services) {
			response.Status = statusDegraded
		}

		c.JSON(code, response)
	}
}

// getDatabaseStatus returns the database connection status
func getDatabaseStatus(deps *types.Dependencies) gin.H {
	if deps.DB == nil || deps.DB.DB == nil {
		return gin.H{"status": statusNotConfigured}
	}

	if err := deps.DB.HealthCheck(); err != nil {
		return gin.H{"status": statusUnhealthy, "error": err.Error()}
	}

	return gin.H{"status": statusHealthy}
}

// getExtractorStatus reports the yt-dlp version probed at startup
func getExtractorStatus(deps *types.Dependencies) gin.H {
	if deps.ExtractorVersion == "" {
		return gin.H{"status": statusUnhealthy, "error": "yt-dlp not available"}
	}
	return gin.H{"status": statusHealthy, "version": deps.ExtractorVersion}
}

func getProxyStatus(deps *types.Dependencies) gin.H {
	if deps.Proxies == nil {
		return gin.H{"status": statusNotConfigured, "total": 0}
	}

	stats := deps.Proxies.Stats()
	if len(stats) == 0 {
		return gin.H{"status": statusNotConfigured, "total": 0}
	}

	healthy := 0
	for _, ep := range stats {
		if ep.HealthStatus != models.ProxyHealthUnhealthy {
			healthy++
		}
	}

	status := statusHealthy
	if healthy == 0 {
		status = statusUnhealthy
	}
	return gin.H{"status": status, "total": len(stats), "usable": healthy}
}

func getSchedulerStatus(ctx context.Context, deps *types.Dependencies) gin.H {
	out := gin.H{"status": statusHealthy, "mode": deps.Scheduler}
	if deps.Redis == nil {
		return out
	}

	ctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	if err := deps.Redis.Ping(ctx).Err(); err != nil {
		out["status"] = statusUnhealthy
		out["error"] = err.Error()
	}
	return out
}

func anyUnhealthy(services map[string]interface{}) bool {
	for _, s := range services {
		if h, ok := s.(gin.H); ok && h["status"] == statusUnhealthy {
			return true
		}
	}
	return false
}
