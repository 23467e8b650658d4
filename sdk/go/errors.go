package certgen

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrMissingRecipient is returned before any request when name or email is blank.
var ErrMissingRecipient = errors.New("certgen: name and email are required")

// Error codes returned by the server.
const (
	CodeInvalidRequest   = "invalid_request"
	CodeAuth             = "auth_error"
	CodeConflict         = "conflict"
	CodeNotFound         = "not_found"
	CodeFetch            = "fetch_error"
	CodeTransient        = "transient_error"
	CodeTemplateDirty    = "template_dirty"
	CodeRateLimited      = "rate_limit_exceeded"
	CodeQueueUnavailable = "queue_unavailable"
	CodeUnauthorized     = "unauthorized"
)

// APIError represents an error response from the certgen API.
type APIError struct {
	StatusCode int    `json:"-"`
	Code       string `json:"code"`
	Message    string `json:"message"`
	// JobID is set when the failure belongs to a job that was started.
	JobID string `json:"jobId,omitempty"`
}

func (e *APIError) Error() string {
	if e.JobID != "" {
		return fmt.Sprintf("certgen: API error %d [%s] job %s: %s", e.StatusCode, e.Code, e.JobID, e.Message)
	}
	return fmt.Sprintf("certgen: API error %d [%s]: %s", e.StatusCode, e.Code, e.Message)
}

// Retryable reports whether submitting the same request again may succeed.
func (e *APIError) Retryable() bool {
	switch e.Code {
	case CodeConflict, CodeFetch, CodeTransient, CodeRateLimited, CodeQueueUnavailable:
		return true
	}
	return false
}

// apiErrorWrapper matches the certgen API error envelope.
type apiErrorWrapper struct {
	Error *APIError `json:"error"`
}

func parseAPIError(statusCode int, body []byte) error {
	var wrapper apiErrorWrapper
	if err := json.Unmarshal(body, &wrapper); err == nil && wrapper.Error != nil && wrapper.Error.Code != "" {
		wrapper.Error.StatusCode = statusCode
		return wrapper.Error
	}

	return &APIError{
		StatusCode: statusCode,
		Code:       "unknown",
		Message:    string(body),
	}
}

// IsAPIError checks whether err is an APIError and returns it.
func IsAPIError(err error) (*APIError, bool) {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}
