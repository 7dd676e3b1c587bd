package generations

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/killallgit/vibematch-api/api/types"
	"github.com/killallgit/vibematch-api/internal/models"
	"github.com/killallgit/vibematch-api/internal/services/audiocache"
	apperrors "github.com/killallgit/vibematch-api/pkg/errors"
)

// Get polls the current snapshot of a generation job
// @Summary      Poll a generation
// @Description  Returns status, progress and elapsed seconds. Ids that were never written report as pending.
// @Tags         generations
// @Produce      json
// @Param        id path string true "Job id"
// @Success      200 {object} types.GenerationStatusResponse
// @Failure      400 {object} types.ErrorResponse
// @Router       /api/v1/generations/{id} [get]
func Get(deps *types.Dependencies) gin.HandlerFunc {
	return func(c *gin.Context) {
		jobID, ok := jobIDParam(c)
		if !ok {
			return
		}
		if deps == nil || deps.Generation == nil {
			types.SendAppError(c, apperrors.Misconfiguration("generation.api_key"))
			return
		}

		job, err := deps.Generation.Poll(c.Request.Context(), jobID)
		if err != nil {
			types.SendAppError(c, err)
			return
		}

		c.JSON(http.StatusOK, types.NewGenerationStatus(job, audioPath(job.JobID)))
	}
}

// GetAudio streams the artifact of a completed generation
// @Summary      Download generated audio
// @Tags         generations
// @Produce      audio/mpeg
// @Param        id path string true "Job id"
// @Success      200 "Generated audio"
// @Failure      404 {object} types.ErrorResponse
// @Failure      409 {object} types.ErrorResponse "Generation not complete"
// @Router       /api/v1/generations/{id}/audio [get]
func GetAudio(deps *types.Dependencies) gin.HandlerFunc {
	return func(c *gin.Context) {
		jobID, ok := jobIDParam(c)
		if !ok {
			return
		}
		if deps == nil || deps.Generation == nil || deps.Generated == nil {
			types.SendAppError(c, apperrors.New(apperrors.ErrCodeServiceDown, "generated audio is not available"))
			return
		}

		ctx := c.Request.Context()
		job, err := deps.Generation.Poll(ctx, jobID)
		if err != nil {
			types.SendAppError(c, err)
			return
		}
		if job.Status != models.GenerationStatusComplete || job.AudioRef == "" {
			types.SendAppError(c, apperrors.New(apperrors.ErrCodeConflict, "generation is not complete").
				WithDetail("status", string(job.Status)))
			return
		}

		entry, err := deps.Generated.Lookup(ctx, job.JobID)
		if errors.Is(err, audiocache.ErrCacheMiss) {
			types.SendNotFound(c, "Generated audio not found")
			return
		}
		if err != nil {
			types.SendAppError(c, apperrors.Wrap(err, apperrors.ErrCodeInternal, "loading generated audio"))
			return
		}

		rc, err := deps.Generated.Open(ctx, entry)
		if err != nil {
			types.SendAppError(c, apperrors.Wrap(err, apperrors.ErrCodeInternal, "opening generated audio"))
			return
		}
		defer rc.Close()

		c.DataFromReader(http.StatusOK, entry.Size, audiocache.MimeType(entry.Extension), rc, map[string]string{
			"Content-Disposition": "attachment; filename=\"" + entry.Key() + "\"",
		})
	}
}
