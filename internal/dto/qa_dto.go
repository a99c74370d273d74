package dto

// AskRequest opens the streaming answer endpoint.
type AskRequest struct {
	Question string `json:"question" validate:"required,max=4000"`
	TargetId string `json:"target_id" validate:"required"`
}

// ErrorResponse is what the query service sends on non-2xx.
type ErrorResponse struct {
	Success bool   `json:"success"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

const (
	HeaderAnswerCached  = "X-Answer-Cached"
	HeaderAnswerSources = "X-Answer-Sources"
)
