package media

import (
	"github.com/gin-gonic/gin"
	"github.com/killallgit/vibematch-api/api/types"
)

// RegisterRoutes registers media routes
func RegisterRoutes(router *gin.RouterGroup, deps *types.Dependencies) {
	router.GET("/:id/audio", GetAudio(deps))
	router.HEAD("/:id/audio", GetAudio(deps))
}
