package search

import (
	"github.com/gin-gonic/gin"
	"github.com/killallgit/vibematch-api/api/types"
)

// RegisterRoutes registers search routes
func RegisterRoutes(router *gin.RouterGroup, deps *types.Dependencies) {
	router.GET("", Get(deps))
}
