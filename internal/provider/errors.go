package provider

import (
	"errors"
	"fmt"
	"net/http"
)

// ProviderError defines the interface for provider-specific errors
type ProviderError interface {
	error
	Code() string    // Error code for categorization
	Message() string // Human-readable error message
	Temporary() bool // Whether the error is temporary and retryable
}

// APIError represents errors returned by a provider API
type APIError struct {
	HTTPStatus int    `json:"http_status"`
	ErrorCode  string `json:"error_code"`
	ErrorMsg   string `json:"error_message"`
	Details    string `json:"details"`
	Retryable  bool   `json:"retryable"`
}

func (e APIError) Error() string {
	return fmt.Sprintf("API error (HTTP %d): %s - %s", e.HTTPStatus, e.ErrorCode, e.ErrorMsg)
}

func (e APIError) Code() string {
	return e.ErrorCode
}

func (e APIError) Message() string {
	return e.ErrorMsg
}

func (e APIError) Temporary() bool {
	return e.Retryable
}

// NetworkError represents connection and timeout issues
type NetworkError struct {
	Operation string `json:"operation"`
	ErrorMsg  string `json:"error_message"`
	Wrapped   error  `json:"-"`
}

func (e NetworkError) Error() string {
	if e.Wrapped != nil {
		return fmt.Sprintf("network error during %s: %s (wrapped: %v)", e.Operation, e.ErrorMsg, e.Wrapped)
	}
	return fmt.Sprintf("network error during %s: %s", e.Operation, e.ErrorMsg)
}

func (e NetworkError) Code() string {
	return "NETWORK_ERROR"
}

func (e NetworkError) Message() string {
	return e.ErrorMsg
}

func (e NetworkError) Temporary() bool {
	return true // Network errors are generally retryable
}

func (e NetworkError) Unwrap() error {
	return e.Wrapped
}

// RateLimitError represents rate limiting by the provider itself
type RateLimitError struct {
	RetryAfter int    `json:"retry_after_seconds"`
	ErrorMsg   string `json:"error_message"`
}

func (e RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded: %s (retry after %d seconds)", e.ErrorMsg, e.RetryAfter)
}

func (e RateLimitError) Code() string {
	return "RATE_LIMIT_EXCEEDED"
}

func (e RateLimitError) Message() string {
	return e.ErrorMsg
}

func (e RateLimitError) Temporary() bool {
	return true // Rate limit errors are retryable after waiting
}

// ConfigurationError represents invalid provider configuration
type ConfigurationError struct {
	Field    string `json:"field"`
	ErrorMsg string `json:"error_message"`
}

func (e ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error for field '%s': %s", e.Field, e.ErrorMsg)
}

func (e ConfigurationError) Code() string {
	return "CONFIGURATION_ERROR"
}

func (e ConfigurationError) Message() string {
	return e.ErrorMsg
}

func (e ConfigurationError) Temporary() bool {
	return false // Configuration errors are not retryable
}

// Error creation helpers

// NewAPIError creates a new API error with appropriate retry logic
func NewAPIError(httpStatus int, errorCode, message, details string) APIError {
	return APIError{
		HTTPStatus: httpStatus,
		ErrorCode:  errorCode,
		ErrorMsg:   message,
		Details:    details,
		Retryable:  isRetryableHTTPStatus(httpStatus),
	}
}

// NewNetworkError creates a new network error
func NewNetworkError(operation, message string, wrapped error) NetworkError {
	return NetworkError{
		Operation: operation,
		ErrorMsg:  message,
		Wrapped:   wrapped,
	}
}

// NewRateLimitError creates a new rate limit error
func NewRateLimitError(retryAfter int, message string) RateLimitError {
	return RateLimitError{
		RetryAfter: retryAfter,
		ErrorMsg:   message,
	}
}

// NewConfigurationError creates a new configuration error
func NewConfigurationError(field, message string) ConfigurationError {
	return ConfigurationError{Field: field, ErrorMsg: message}
}

// IsRetryable checks if an error is retryable
func IsRetryable(err error) bool {
	var perr ProviderError
	if errors.As(err, &perr) {
		return perr.Temporary()
	}
	return false
}

// isRetryableHTTPStatus determines if an HTTP status code indicates a retryable error
func isRetryableHTTPStatus(status int) bool {
	switch status {
	case http.StatusTooManyRequests, // 429
		http.StatusInternalServerError, // 500
		http.StatusBadGateway,          // 502
		http.StatusServiceUnavailable,  // 503
		http.StatusGatewayTimeout:      // 504
		return true
	default:
		return false
	}
}

// Error constants for common scenarios
const (
	ErrorCodeInvalidAPIKey      = "INVALID_API_KEY"
	ErrorCodeModelNotFound      = "MODEL_NOT_FOUND"
	ErrorCodeInsufficientQuota  = "INSUFFICIENT_QUOTA"
	ErrorCodeRequestTooLarge    = "REQUEST_TOO_LARGE"
	ErrorCodeServiceUnavailable = "SERVICE_UNAVAILABLE"
	ErrorCodeEmptyResponse      = "EMPTY_RESPONSE"
	ErrorCodeUnknown            = "UNKNOWN_ERROR"
)
