package types

// GenerationRequest is the body of a generation submission
type GenerationRequest struct {
	Prompt string `json:"prompt" binding:"required" example:"lofi beat with soft rain"`
}

// SearchQuery binds the search query string
type SearchQuery struct {
	Query      string `form:"q" example:"lofi hip hop"`
	MaxResults int    `form:"max_results" example:"10"`
}
