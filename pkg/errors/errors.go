package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// Error codes
const (
	ErrInvalidConfiguration = "INVALID_CONFIGURATION"
	ErrExperimentNotActive  = "EXPERIMENT_NOT_ACTIVE"
	ErrExperimentExpired    = "EXPERIMENT_EXPIRED"
	ErrInvalidState         = "INVALID_STATE"
	ErrNotFound             = "NOT_FOUND"

	ErrBadRequest = "BAD_REQUEST"
	ErrInternal   = "INTERNAL_SERVER_ERROR"
)

// APIError is the structured error surfaced by the experiments core and
// translated to a status code at the HTTP boundary.
type APIError struct {
	Code       string                 `json:"code"`
	Message    string                 `json:"message"`
	Details    map[string]interface{} `json:"details,omitempty"`
	StatusCode int                    `json:"-"`
	Cause      error                  `json:"-"`
}

func (e *APIError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *APIError) Unwrap() error {
	return e.Cause
}

func NewAPIError(code, message string, details map[string]interface{}) *APIError {
	return &APIError{
		Code:       code,
		Message:    message,
		Details:    details,
		StatusCode: GetHTTPStatusCodeFromErrorCode(code),
	}
}

func NewAPIErrorWithCause(code, message string, cause error, details map[string]interface{}) *APIError {
	return &APIError{
		Code:       code,
		Message:    message,
		Details:    details,
		Cause:      cause,
		StatusCode: GetHTTPStatusCodeFromErrorCode(code),
	}
}

// GetHTTPStatusCode returns the status for err, looking through wrapping.
func GetHTTPStatusCode(err error) int {
	if apiErr, ok := AsAPIError(err); ok {
		return GetHTTPStatusCodeFromErrorCode(apiErr.Code)
	}
	return http.StatusInternalServerError
}

func GetHTTPStatusCodeFromErrorCode(code string) int {
	switch code {
	case ErrBadRequest, ErrInvalidConfiguration:
		return http.StatusBadRequest
	case ErrNotFound:
		return http.StatusNotFound
	case ErrExperimentNotActive, ErrInvalidState:
		return http.StatusConflict
	case ErrExperimentExpired:
		return http.StatusGone
	default:
		return http.StatusInternalServerError
	}
}

func InvalidConfiguration(message string, details map[string]interface{}) *APIError {
	return NewAPIError(ErrInvalidConfiguration, message, details)
}

func ExperimentNotActive(experimentID, status string) *APIError {
	return NewAPIError(ErrExperimentNotActive, "experiment is not active", map[string]interface{}{
		"experiment_id": experimentID,
		"status":        status,
	})
}

func ExperimentExpired(experimentID string, expiresAt string) *APIError {
	return NewAPIError(ErrExperimentExpired, "experiment has expired", map[string]interface{}{
		"experiment_id": experimentID,
		"expires_at":    expiresAt,
	})
}

func InvalidState(message string, details map[string]interface{}) *APIError {
	return NewAPIError(ErrInvalidState, message, details)
}

func NotFound(message string) *APIError {
	return NewAPIError(ErrNotFound, message, nil)
}

func NotFoundWithDetails(message string, details map[string]interface{}) *APIError {
	return NewAPIError(ErrNotFound, message, details)
}

func BadRequest(message string) *APIError {
	return NewAPIError(ErrBadRequest, message, nil)
}

func BadRequestWithDetails(message string, details map[string]interface{}) *APIError {
	return NewAPIError(ErrBadRequest, message, details)
}

func InternalWithCause(message string, cause error) *APIError {
	return NewAPIErrorWithCause(ErrInternal, message, cause, nil)
}

func AsAPIError(err error) (*APIError, bool) {
	var apiErr *APIError
	if stderrors.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}

func IsAPIError(err error) bool {
	_, ok := AsAPIError(err)
	return ok
}

func hasCode(err error, codes ...string) bool {
	apiErr, ok := AsAPIError(err)
	if !ok {
		return false
	}
	for _, code := range codes {
		if apiErr.Code == code {
			return true
		}
	}
	return false
}

func IsInvalidConfiguration(err error) bool { return hasCode(err, ErrInvalidConfiguration) }

func IsExperimentNotActive(err error) bool { return hasCode(err, ErrExperimentNotActive) }

func IsExperimentExpired(err error) bool { return hasCode(err, ErrExperimentExpired) }

func IsInvalidState(err error) bool { return hasCode(err, ErrInvalidState) }

func IsNotFound(err error) bool { return hasCode(err, ErrNotFound) }

func IsValidation(err error) bool { return hasCode(err, ErrBadRequest, ErrInvalidConfiguration) }
