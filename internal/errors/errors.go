// Package errors provides the categorized error taxonomy for the billing core.
package errors

import (
	"fmt"
	"net/http"

	"github.com/stockmeta/internal/types"
)

// ErrorCategory represents the category of an error
type ErrorCategory string

const (
	// CategoryUserInput represents user input errors (4xx)
	CategoryUserInput ErrorCategory = "user_input"
	// CategoryBilling represents credit-balance errors the user can resolve
	CategoryBilling ErrorCategory = "billing"
	// CategoryJobState represents idempotency guards on job transitions
	CategoryJobState ErrorCategory = "job_state"
	// CategorySystem represents system errors (5xx)
	CategorySystem ErrorCategory = "system"
	// CategoryStore represents ledger-store errors
	CategoryStore ErrorCategory = "store"
	// CategoryAuthorization represents authorization errors
	CategoryAuthorization ErrorCategory = "authorization"
	// CategoryNotFound represents not found errors
	CategoryNotFound ErrorCategory = "not_found"
	// CategoryRateLimit represents rate limit errors
	CategoryRateLimit ErrorCategory = "rate_limit"
)

// CategorizedError represents an error with category and HTTP status code
type CategorizedError struct {
	Category   ErrorCategory
	StatusCode int
	Code       string
	Message    string
	Details    map[string]interface{}
	Cause      error
}

// Error implements the error interface
func (e *CategorizedError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause
func (e *CategorizedError) Unwrap() error {
	return e.Cause
}

// ToServiceError converts to a ServiceError
func (e *CategorizedError) ToServiceError() *types.ServiceError {
	return &types.ServiceError{
		Code:    e.Code,
		Message: e.Message,
		Details: e.Details,
	}
}

// NewInsufficientCreditsError creates the user-recoverable balance error.
// The shortfall lets the caller offer a smaller batch instead of a hard stop.
func NewInsufficientCreditsError(required, available int64) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryBilling,
		StatusCode: http.StatusPaymentRequired,
		Code:       "INSUFFICIENT_CREDITS",
		Message:    fmt.Sprintf("insufficient credits: need %d, have %d", required, available),
		Details: map[string]interface{}{
			"required":  required,
			"available": available,
			"shortfall": required - available,
		},
	}
}

// NewInvalidJobStateError creates the idempotency-guard error for a job that
// is no longer in the state a transition requires.
func NewInvalidJobStateError(jobToken string, status types.JobStatus) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryJobState,
		StatusCode: http.StatusConflict,
		Code:       "INVALID_JOB_STATE",
		Message:    fmt.Sprintf("job cannot be resolved in state %s", status),
		Details: map[string]interface{}{
			"jobToken": jobToken,
			"status":   string(status),
		},
	}
}

// NewInvalidParameterError creates an invalid parameter error
func NewInvalidParameterError(param string, reason string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryUserInput,
		StatusCode: http.StatusBadRequest,
		Code:       "INVALID_PARAMETER",
		Message:    fmt.Sprintf("invalid parameter '%s': %s", param, reason),
		Details: map[string]interface{}{
			"parameter": param,
			"reason":    reason,
		},
	}
}

// NewAccountDisabledError creates the error for suspended or banned accounts
func NewAccountDisabledError(status types.UserStatus) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryAuthorization,
		StatusCode: http.StatusForbidden,
		Code:       "ACCOUNT_DISABLED",
		Message:    fmt.Sprintf("account is %s", status),
		Details: map[string]interface{}{
			"status": string(status),
		},
	}
}

// NewUnauthorizedError creates an unauthorized error
func NewUnauthorizedError(message string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryAuthorization,
		StatusCode: http.StatusUnauthorized,
		Code:       "UNAUTHORIZED",
		Message:    message,
	}
}

// NewNotFoundError creates a not found error
func NewNotFoundError(resource string, id string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryNotFound,
		StatusCode: http.StatusNotFound,
		Code:       "NOT_FOUND",
		Message:    fmt.Sprintf("%s not found: %s", resource, id),
		Details: map[string]interface{}{
			"resource": resource,
			"id":       id,
		},
	}
}

// NewRateLimitError creates a rate limit error
func NewRateLimitError(retryAfter int) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryRateLimit,
		StatusCode: http.StatusTooManyRequests,
		Code:       "RATE_LIMIT_EXCEEDED",
		Message:    "rate limit exceeded",
		Details: map[string]interface{}{
			"retryAfter": retryAfter,
		},
	}
}

// NewStoreError creates a ledger-store error. Reserve and finalize must fail
// whole on store errors rather than approximate a credit change.
func NewStoreError(operation string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryStore,
		StatusCode: http.StatusInternalServerError,
		Code:       "STORE_UNAVAILABLE",
		Message:    fmt.Sprintf("ledger store error during %s", operation),
		Cause:      cause,
		Details: map[string]interface{}{
			"operation": operation,
		},
	}
}

// NewInternalError creates an internal server error
func NewInternalError(message string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategorySystem,
		StatusCode: http.StatusInternalServerError,
		Code:       "INTERNAL_ERROR",
		Message:    message,
		Cause:      cause,
	}
}

// Categorize categorizes an existing error
func Categorize(err error) *CategorizedError {
	if err == nil {
		return nil
	}

	if catErr, ok := err.(*CategorizedError); ok {
		return catErr
	}

	if svcErr, ok := err.(*types.ServiceError); ok {
		return categorizeServiceError(svcErr)
	}

	return NewInternalError("unexpected error", err)
}

func categorizeServiceError(err *types.ServiceError) *CategorizedError {
	statusByCode := map[string]struct {
		category ErrorCategory
		status   int
	}{
		"INSUFFICIENT_CREDITS": {CategoryBilling, http.StatusPaymentRequired},
		"INVALID_JOB_STATE":    {CategoryJobState, http.StatusConflict},
		"INVALID_PARAMETER":    {CategoryUserInput, http.StatusBadRequest},
		"ACCOUNT_DISABLED":     {CategoryAuthorization, http.StatusForbidden},
		"UNAUTHORIZED":         {CategoryAuthorization, http.StatusUnauthorized},
		"NOT_FOUND":            {CategoryNotFound, http.StatusNotFound},
		"RATE_LIMIT_EXCEEDED":  {CategoryRateLimit, http.StatusTooManyRequests},
		"STORE_UNAVAILABLE":    {CategoryStore, http.StatusInternalServerError},
	}

	if m, ok := statusByCode[err.Code]; ok {
		return &CategorizedError{
			Category:   m.category,
			StatusCode: m.status,
			Code:       err.Code,
			Message:    err.Message,
			Details:    err.Details,
		}
	}

	return &CategorizedError{
		Category:   CategorySystem,
		StatusCode: http.StatusInternalServerError,
		Code:       err.Code,
		Message:    err.Message,
		Details:    err.Details,
	}
}

// GetHTTPStatusCode returns the HTTP status code for an error
func GetHTTPStatusCode(err error) int {
	if catErr := Categorize(err); catErr != nil {
		return catErr.StatusCode
	}
	return http.StatusInternalServerError
}

// IsRetryable determines if an error is retryable
func IsRetryable(err error) bool {
	catErr := Categorize(err)
	if catErr == nil {
		return false
	}

	switch catErr.Category {
	case CategoryStore:
		return true
	case CategorySystem:
		return catErr.StatusCode == http.StatusServiceUnavailable ||
			catErr.StatusCode == http.StatusGatewayTimeout
	default:
		return false
	}
}

// IsUserError determines if an error is a user error (4xx)
func IsUserError(err error) bool {
	catErr := Categorize(err)
	if catErr == nil {
		return false
	}

	return catErr.StatusCode >= 400 && catErr.StatusCode < 500
}
