package models

// ErrorResponse represents an API error response
type ErrorResponse struct {
	Error   string            `json:"error"`
	Code    string            `json:"code"`
	Details map[string]string `json:"details,omitempty"`
}

// Error codes
const (
	ErrCodeInvalidRequest   = "INVALID_REQUEST"
	ErrCodeNotFound         = "NOT_FOUND"
	ErrCodeValidationFailed = "VALIDATION_FAILED"
	ErrCodeUnauthorized     = "UNAUTHORIZED"
	ErrCodeForbidden        = "FORBIDDEN"
	ErrCodeInternalError    = "INTERNAL_ERROR"
	ErrCodeParseError       = "PARSE_ERROR"
	ErrCodeEmptyArtifact    = "EMPTY_ARTIFACT"
	ErrCodeEngineError      = "ENGINE_ERROR"
	ErrCodeDownloadBusy     = "DOWNLOAD_BUSY"
	ErrCodeRegenerationBusy = "REGENERATION_BUSY"
)
