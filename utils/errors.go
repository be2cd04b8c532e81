package utils

import "errors"

// Stable machine-readable error codes returned in API error payloads,
// distinct from the human-readable message.
const (
	CodeAuthFailed          = "AUTH_FAILED"
	CodeUserNotFound        = "USER_NOT_FOUND"
	CodeMessageNotFound     = "MESSAGE_NOT_FOUND"
	CodeValidationFailed    = "VALIDATION_FAILED"
	CodeProviderUnavailable = "PROVIDER_UNAVAILABLE"
	CodeSendFailed          = "SEND_FAILED"
	CodeAnalysisFailed      = "ANALYSIS_FAILED"
	CodeRateLimited         = "RATE_LIMITED"
	CodeInternal            = "INTERNAL_ERROR"
)

// Sentinel errors for provider failures that need distinct handling upstream.
var (
	// ErrCursorExpired means the stored history cursor is outside the
	// provider's retention window. Retrying is useless; the caller must
	// resynchronize and re-baseline the cursor.
	ErrCursorExpired = errors.New("history cursor expired")

	// ErrAuthFailed means the provider rejected the stored credentials.
	ErrAuthFailed = errors.New("provider authentication failed")
)
