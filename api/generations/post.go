package generations

import (
	"net/http"

	"github.com/charmbracelet/log"
	"github.com/gin-gonic/gin"
	"github.com/killallgit/vibematch-api/api/types"
	apperrors "github.com/killallgit/vibematch-api/pkg/errors"
)

// Post submits a prompt for background music generation
// @Summary      Submit a generation
// @Description  Creates a generation job and returns its id immediately. Progress and failures are reported only through polling.
// @Tags         generations
// @Accept       json
// @Produce      json
// @Param        request body types.GenerationRequest true "Prompt"
// @Success      202 {object} types.GenerationSubmitResponse
// @Failure      400 {object} types.ErrorResponse
// @Failure      413 {object} types.ErrorResponse
// @Failure      503 {object} types.ErrorResponse "Generation API key not configured"
// @Router       /api/v1/generations [post]
func Post(deps *types.Dependencies) gin.HandlerFunc {
	return func(c *gin.Context) {
		if deps == nil || deps.Generation == nil {
			types.SendAppError(c, apperrors.Misconfiguration("generation.api_key"))
			return
		}

		var req types.GenerationRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			if types.IsBodyTooLarge(err) {
				c.JSON(http.StatusRequestEntityTooLarge, types.ErrorResponse{
					Status:  types.StatusError,
					Message: "Request body too large",
					Error:   string(apperrors.ErrCodeInvalidInput),
				})
				return
			}
			types.SendAppError(c, apperrors.MissingFieldError("prompt"))
			return
		}

		job, err := deps.Generation.Submit(c.Request.Context(), req.Prompt)
		if err != nil {
			types.SendAppError(c, err)
			return
		}

		log.Info("Generation accepted", "job_id", job.JobID, "status", job.Status)

		c.Header("Location", statusPath(job.JobID))
		c.JSON(http.StatusAccepted, types.GenerationSubmitResponse{
			BaseResponse: types.BaseResponse{
				Status:  types.StatusOK,
				Message: "Generation started",
			},
			JobID: job.JobID,
		})
	}
}
