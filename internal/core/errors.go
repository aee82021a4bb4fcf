package core

import (
	"errors"
	"fmt"
)

// ErrorCategory classifies errors for handling decisions.
type ErrorCategory string

const (
	ErrCatValidation ErrorCategory = "validation" // Invalid input or malformed structured output
	ErrCatTimeout    ErrorCategory = "timeout"    // Operation timed out
	ErrCatRateLimit  ErrorCategory = "rate_limit" // Generation backend rate limited
	ErrCatNetwork    ErrorCategory = "network"    // Network connectivity
	ErrCatStore      ErrorCategory = "store"      // Storage collaborator unavailable
	ErrCatNotFound   ErrorCategory = "not_found"  // Resource or token not found
	ErrCatCancelled  ErrorCategory = "cancelled"  // Turn cancelled by external signal
	ErrCatState      ErrorCategory = "state"      // Invalid state transition
	ErrCatInternal   ErrorCategory = "internal"   // Unexpected internal error
)

// DomainError represents a structured error from the domain layer.
type DomainError struct {
	Category  ErrorCategory
	Code      string
	Message   string
	Retryable bool
	Cause     error
	Details   map[string]interface{}
}

// Error implements the error interface.
func (e *DomainError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %s (%v)", e.Category, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Category, e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *DomainError) Unwrap() error {
	return e.Cause
}

// Is checks if this error matches a target.
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return e.Category == t.Category && e.Code == t.Code
}

// WithCause wraps an underlying error.
func (e *DomainError) WithCause(cause error) *DomainError {
	e.Cause = cause
	return e
}

// WithDetail adds contextual information.
func (e *DomainError) WithDetail(key string, value interface{}) *DomainError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// ErrValidation creates a validation error. Never retried.
func ErrValidation(code, message string) *DomainError {
	return &DomainError{
		Category:  ErrCatValidation,
		Code:      code,
		Message:   message,
		Retryable: false,
	}
}

// ErrInvalidResponse creates a validation error for structured generation
// output that failed schema validation.
func ErrInvalidResponse(message string) *DomainError {
	return &DomainError{
		Category:  ErrCatValidation,
		Code:      CodeInvalidResponse,
		Message:   message,
		Retryable: false,
	}
}

// ErrTimeout creates a timeout error. Transient.
func ErrTimeout(message string) *DomainError {
	return &DomainError{
		Category:  ErrCatTimeout,
		Code:      CodeTimeout,
		Message:   message,
		Retryable: true,
	}
}

// ErrRateLimit creates a rate limit error. Transient.
func ErrRateLimit(message string) *DomainError {
	return &DomainError{
		Category:  ErrCatRateLimit,
		Code:      CodeRateLimited,
		Message:   message,
		Retryable: true,
	}
}

// ErrNetwork creates a network connectivity error. Transient.
func ErrNetwork(message string) *DomainError {
	return &DomainError{
		Category:  ErrCatNetwork,
		Code:      CodeBackendUnreachable,
		Message:   message,
		Retryable: true,
	}
}

// ErrStoreUnavailable creates a storage connectivity error. Not retried at
// step level: it fails the whole turn.
func ErrStoreUnavailable(message string) *DomainError {
	return &DomainError{
		Category:  ErrCatStore,
		Code:      CodeStoreUnavailable,
		Message:   message,
		Retryable: false,
	}
}

// ErrNotFound creates a not found error.
func ErrNotFound(resource, id string) *DomainError {
	return &DomainError{
		Category:  ErrCatNotFound,
		Code:      "NOT_FOUND",
		Message:   fmt.Sprintf("%s not found: %s", resource, id),
		Retryable: false,
	}
}

// ErrTokenNotFound creates a not found error for an unknown reference token.
func ErrTokenNotFound(token string) *DomainError {
	return &DomainError{
		Category:  ErrCatNotFound,
		Code:      CodeTokenNotFound,
		Message:   fmt.Sprintf("reference token not found: %s", token),
		Retryable: false,
	}
}

// ErrCancelled creates a cancellation error carrying the cancel reason.
func ErrCancelled(reason string) *DomainError {
	return &DomainError{
		Category:  ErrCatCancelled,
		Code:      CodeTurnCancelled,
		Message:   reason,
		Retryable: false,
	}
}

// ErrState creates a state error.
func ErrState(code, message string) *DomainError {
	return &DomainError{
		Category:  ErrCatState,
		Code:      code,
		Message:   message,
		Retryable: false,
	}
}

// ErrInternal creates an internal error.
func ErrInternal(message string) *DomainError {
	return &DomainError{
		Category:  ErrCatInternal,
		Code:      "INTERNAL",
		Message:   message,
		Retryable: false,
	}
}

// IsRetryable checks if an error is retryable. Only transient backend
// failures (timeouts, rate limits, network) qualify.
func IsRetryable(err error) bool {
	var domErr *DomainError
	if errors.As(err, &domErr) {
		return domErr.Retryable
	}
	return false
}

// GetCategory extracts the error category.
func GetCategory(err error) ErrorCategory {
	var domErr *DomainError
	if errors.As(err, &domErr) {
		return domErr.Category
	}
	return ErrCatInternal
}

// IsCategory checks if an error belongs to a category.
func IsCategory(err error, cat ErrorCategory) bool {
	return GetCategory(err) == cat
}

// Predefined error codes
const (
	CodeTimeout            = "TIMEOUT"
	CodeStepTimeout        = "STEP_TIMEOUT"
	CodeRateLimited        = "RATE_LIMITED"
	CodeBackendUnreachable = "BACKEND_UNREACHABLE"
	CodeStoreUnavailable   = "STORE_UNAVAILABLE"
	CodeTokenNotFound      = "TOKEN_NOT_FOUND"
	CodeSessionNotFound    = "SESSION_NOT_FOUND"
	CodeProfileNotFound    = "PROFILE_NOT_FOUND"
	CodeTurnCancelled      = "TURN_CANCELLED"
	CodeInvalidState       = "INVALID_STATE"
	CodeInvalidResponse    = "INVALID_RESPONSE"

	// Plan validation error codes
	CodeInvalidPlan         = "INVALID_PLAN"
	CodeInvalidInputs       = "INVALID_INPUTS"
	CodeDuplicateStep       = "DUPLICATE_STEP"
	CodeUnknownDependency   = "UNKNOWN_DEPENDENCY"
	CodeDependencyCycle     = "DEPENDENCY_CYCLE"
	CodeSameGroupDependency = "SAME_GROUP_DEPENDENCY"

	// Config validation error codes
	CodeInvalidConfig = "INVALID_CONFIG"
	CodeEmptyMessage  = "EMPTY_MESSAGE"
)
