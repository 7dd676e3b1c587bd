package version

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/killallgit/vibematch-api/api/types"
)

// Get handles version requests
// @Summary      Service information
// @Tags         health
// @Produce      json
// @Success      200 {object} types.VersionResponse
// @Router       / [get]
func Get(deps *types.Dependencies) gin.HandlerFunc {
	return func(c *gin.Context) {
		var build types.BuildInfo
		if deps != nil {
			build = deps.Build
		}
		if build.Version == "" {
			build.Version = "dev"
		}

		c.JSON(http.StatusOK, types.VersionResponse{
			Name:        "VibeMatch API",
			Description: "Audio acquisition and music generation backend",
			Status:      "running",
			BuildInfo:   build,
		})
	}
}
