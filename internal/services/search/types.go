package search

import "github.com/killallgit/vibematch-api/internal/models"

type searchResponse struct {
	Items []searchItem `json:"items"`
}

type searchItem struct {
	ID struct {
		Kind    string `json:"kind"`
		VideoID string `json:"videoId"`
	} `json:"id"`
	Snippet struct {
		Title        string `json:"title"`
		ChannelTitle string `json:"channelTitle"`
		Thumbnails   map[string]struct {
			URL string `json:"url"`
		} `json:"thumbnails"`
	} `json:"snippet"`
}

type apiErrorResponse struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Errors  []struct {
			Reason string `json:"reason"`
		} `json:"errors"`
	} `json:"error"`
}

func transformResults(resp *searchResponse) []models.SearchResult {
	results := make([]models.SearchResult, 0, len(resp.Items))
	for _, item := range resp.Items {
		if item.ID.VideoID == "" {
			continue
		}
		results = append(results, models.SearchResult{
			VideoID:   item.ID.VideoID,
			Title:     item.Snippet.Title,
			Channel:   item.Snippet.ChannelTitle,
			Thumbnail: thumbnail(item),
		})
	}
	return results
}

// thumbnail prefers the medium rendition
func thumbnail(item searchItem) string {
	if t, ok := item.Snippet.Thumbnails["medium"]; ok && t.URL != "" {
		return t.URL
	}
	if t, ok := item.Snippet.Thumbnails["default"]; ok {
		return t.URL
	}
	return ""
}
