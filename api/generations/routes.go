package generations

import (
	"github.com/gin-gonic/gin"
	"github.com/killallgit/vibematch-api/api/types"
	"github.com/killallgit/vibematch-api/internal/services/audiocache"
)

const basePath = "/api/v1/generations/"

// RegisterRoutes registers generation routes. submit carries the stricter
// rate limit applied to job creation.
func RegisterRoutes(router *gin.RouterGroup, deps *types.Dependencies, submit ...gin.HandlerFunc) {
	router.POST("", append(submit, Post(deps))...)
	router.GET("/:id", Get(deps))
	router.GET("/:id/audio", GetAudio(deps))
}

func statusPath(jobID string) string {
	return basePath + jobID
}

func audioPath(jobID string) string {
	return basePath + jobID + "/audio"
}

func jobIDParam(c *gin.Context) (string, bool) {
	jobID := c.Param("id")
	if !audiocache.ValidID(jobID) {
		types.SendBadRequest(c, "Invalid job id")
		return "", false
	}
	return jobID, true
}
