package services

import (
	"errors"
	"fmt"
)

// ServiceError defines the interface for service-specific errors
type ServiceError interface {
	error
	Code() string
	Message() string
	Temporary() bool
}

// serviceError implements the ServiceError interface
type serviceError struct {
	code      string
	message   string
	temporary bool
}

func (e *serviceError) Error() string {
	return fmt.Sprintf("service error [%s]: %s", e.code, e.message)
}

func (e *serviceError) Code() string {
	return e.code
}

func (e *serviceError) Message() string {
	return e.message
}

func (e *serviceError) Temporary() bool {
	return e.temporary
}

// Error constants
const (
	ErrServiceNotRunning     = "service_not_running"
	ErrServiceAlreadyRunning = "service_already_running"
	ErrServiceDraining       = "service_draining"
	ErrRequestCancelled      = "request_cancelled"
	ErrRetriesExhausted      = "retries_exhausted"
	ErrNoActiveScope         = "no_active_scope"
	ErrScopeClosed           = "scope_closed"
	ErrUnroutableTask        = "unroutable_task"
)

// Constructor functions
func NewServiceError(code, message string) error {
	return &serviceError{code: code, message: message}
}

func NewTemporaryServiceError(code, message string) error {
	return &serviceError{code: code, message: message, temporary: true}
}

// RetryExhaustedError wraps the final provider error after the retry
// budget for one request ran out.
type RetryExhaustedError struct {
	serviceError
	Attempts int
	Last     error
}

func NewRetryExhaustedError(attempts int, last error) error {
	return &RetryExhaustedError{
		serviceError: serviceError{
			code:    ErrRetriesExhausted,
			message: fmt.Sprintf("call failed after %d attempts: %v", attempts, last),
		},
		Attempts: attempts,
		Last:     last,
	}
}

func (e *RetryExhaustedError) Unwrap() error {
	return e.Last
}

// IsDraining reports whether err means the service refused a
// submission because it is shutting down.
func IsDraining(err error) bool {
	var serr ServiceError
	if errors.As(err, &serr) {
		return serr.Code() == ErrServiceDraining
	}
	return false
}
