package search

import (
	"net/http"

	"github.com/charmbracelet/log"
	"github.com/gin-gonic/gin"
	"github.com/killallgit/vibematch-api/api/types"
	"github.com/killallgit/vibematch-api/internal/models"
	apperrors "github.com/killallgit/vibematch-api/pkg/errors"
)

// Get handles video search requests
// @Summary      Search videos
// @Description  Searches YouTube for videos matching a free-text query
// @Tags         search
// @Produce      json
// @Param        q           query string true  "Search query" example(lofi hip hop)
// @Param        max_results query int    false "Maximum results (1-50)" default(10)
// @Success      200 {object} types.SearchResponse
// @Failure      400 {object} types.ErrorResponse
// @Failure      429 {object} types.ErrorResponse
// @Failure      503 {object} types.ErrorResponse "Search API key not configured"
// @Failure      502 {object} types.ErrorResponse
// @Router       /api/v1/search [get]
func Get(deps *types.Dependencies) gin.HandlerFunc {
	return func(c *gin.Context) {
		var query types.SearchQuery
		if err := c.ShouldBindQuery(&query); err != nil {
			types.SendBadRequest(c, "max_results must be an integer")
			return
		}

		if deps == nil || deps.Search == nil {
			types.SendAppError(c, apperrors.Misconfiguration("youtube.api_key"))
			return
		}

		results, err := deps.Search.Search(c.Request.Context(), query.Query, query.MaxResults)
		if err != nil {
			types.SendAppError(c, err)
			return
		}
		if results == nil {
			results = []models.SearchResult{}
		}

		log.Debug("Search served", "query", query.Query, "results", len(results))

		c.JSON(http.StatusOK, types.SearchResponse{
			BaseResponse: types.BaseResponse{
				Status:  types.StatusOK,
				Message: "Search completed",
			},
			Query:   query.Query,
			Results: results,
			Count:   len(results),
		})
	}
}
