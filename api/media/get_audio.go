package media

import (
	"bytes"
	"net/http"
	"strconv"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gin-gonic/gin"
	"github.com/killallgit/vibematch-api/api/types"
	apperrors "github.com/killallgit/vibematch-api/pkg/errors"
)

// GetAudio serves the audio track of a video, acquiring it on a cache miss
// @Summary      Get video audio
// @Description  Returns the audio of a YouTube video. Cached artifacts are served directly; misses run the fetch strategy chain. Range requests are supported.
// @Tags         media
// @Produce      audio/mp4,audio/webm,audio/ogg,audio/mpeg
// @Param        id    path   string true  "YouTube video id" example(dQw4w9WgXcQ)
// @Param        Range header string false "HTTP Range header" example(bytes=0-1023)
// @Success      200 "Full audio content"
// @Success      206 "Partial audio content"
// @Failure      400 {object} types.ErrorResponse "Invalid media id"
// @Failure      410 {object} types.ErrorResponse "Private or removed content"
// @Failure      502 {object} types.ErrorResponse "Unavailable after retries"
// @Failure      503 {object} types.ErrorResponse "Blocked by bot detection"
// @Failure      504 {object} types.ErrorResponse
// @Router       /api/v1/media/{id}/audio [get]
// @Router       /api/v1/media/{id}/audio [head]
func GetAudio(deps *types.Dependencies) gin.HandlerFunc {
	return func(c *gin.Context) {
		mediaID := c.Param("id")

		if deps == nil || deps.Media == nil {
			types.SendAppError(c, apperrors.New(apperrors.ErrCodeServiceDown, "media acquisition is not available"))
			return
		}

		start := time.Now()
		res, err := deps.Media.Fetch(c.Request.Context(), mediaID)
		if err != nil {
			types.SendAppError(c, err)
			return
		}

		cacheState := "MISS"
		if res.CacheHit {
			cacheState = "HIT"
		}
		log.Info("Serving audio",
			"media_id", mediaID,
			"cache", cacheState,
			"bytes", len(res.Data),
			"attempts", res.Attempts,
			"duration", time.Since(start))

		var modTime time.Time
		if res.Entry != nil {
			modTime = res.Entry.CreatedAt
			c.Header("Content-Disposition", "inline; filename=\""+res.Entry.Key()+"\"")
		}

		c.Header("Content-Type", res.MimeType)
		c.Header("X-Cache", cacheState)
		c.Header("X-Fetch-Attempts", strconv.Itoa(res.Attempts))
		c.Header("Cache-Control", "public, max-age=86400")

		http.ServeContent(c.Writer, c.Request, "", modTime, bytes.NewReader(res.Data))
	}
}
