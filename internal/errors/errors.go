package errors

import (
	"fmt"
	"net/http"

	"github.com/cockroachdb/errors"
)

// Common error types that can be used across the application
var (
	ErrNotFound              = new(ErrCodeNotFound, "resource not found")
	ErrAlreadyExists         = new(ErrCodeAlreadyExists, "resource already exists")
	ErrVersionConflict       = new(ErrCodeVersionConflict, "version conflict")
	ErrValidation            = new(ErrCodeValidation, "validation error")
	ErrInvalidOperation      = new(ErrCodeInvalidOperation, "invalid operation")
	ErrPermissionDenied      = new(ErrCodePermissionDenied, "permission denied")
	ErrHTTPClient            = new(ErrCodeHTTPClient, "http client error")
	ErrDatabase              = new(ErrCodeDatabase, "database error")
	ErrSystem                = new(ErrCodeSystemError, "system error")
	ErrInternal              = new(ErrCodeInternal, "internal error")
	ErrCalculationMismatch   = new(ErrCodeCalculationMismatch, "calculation mismatch")
	ErrMissingExchangeRate   = new(ErrCodeMissingExchangeRate, "missing exchange rate")
	ErrMaxRetriesExhausted   = new(ErrCodeMaxRetriesExhausted, "max retries exhausted")
	ErrSignatureVerification = new(ErrCodeSignatureVerification, "signature verification failed")
	ErrRateLimited           = new(ErrCodeRateLimited, "rate limit exceeded")

	// sentinels lists every error mark; CodeFromErr scans it in order.
	sentinels = []*InternalError{
		ErrNotFound,
		ErrAlreadyExists,
		ErrVersionConflict,
		ErrValidation,
		ErrInvalidOperation,
		ErrPermissionDenied,
		ErrHTTPClient,
		ErrDatabase,
		ErrSystem,
		ErrInternal,
		ErrCalculationMismatch,
		ErrMissingExchangeRate,
		ErrMaxRetriesExhausted,
		ErrSignatureVerification,
		ErrRateLimited,
	}

	// maps errors to http status codes
	statusCodeMap = map[error]int{
		ErrHTTPClient:            http.StatusInternalServerError,
		ErrDatabase:              http.StatusInternalServerError,
		ErrNotFound:              http.StatusNotFound,
		ErrAlreadyExists:         http.StatusConflict,
		ErrVersionConflict:       http.StatusConflict,
		ErrValidation:            http.StatusBadRequest,
		ErrInvalidOperation:      http.StatusBadRequest,
		ErrPermissionDenied:      http.StatusForbidden,
		ErrSystem:                http.StatusInternalServerError,
		ErrInternal:              http.StatusInternalServerError,
		ErrCalculationMismatch:   http.StatusInternalServerError,
		ErrMissingExchangeRate:   http.StatusBadRequest,
		ErrMaxRetriesExhausted:   http.StatusUnprocessableEntity,
		ErrSignatureVerification: http.StatusBadRequest,
		ErrRateLimited:           http.StatusTooManyRequests,
	}
)

const (
	ErrCodeHTTPClient            = "http_client_error"
	ErrCodeSystemError           = "system_error"
	ErrCodeInternal              = "internal_error"
	ErrCodeNotFound              = "not_found"
	ErrCodeAlreadyExists         = "already_exists"
	ErrCodeVersionConflict       = "version_conflict"
	ErrCodeValidation            = "validation_error"
	ErrCodeInvalidOperation      = "invalid_operation"
	ErrCodePermissionDenied      = "permission_denied"
	ErrCodeDatabase              = "database_error"
	ErrCodeCalculationMismatch   = "calculation_mismatch"
	ErrCodeMissingExchangeRate   = "missing_exchange_rate"
	ErrCodeMaxRetriesExhausted   = "max_retries_exhausted"
	ErrCodeSignatureVerification = "signature_verification_failed"
	ErrCodeRateLimited           = "rate_limited"
)

// InternalError represents a domain error
type InternalError struct {
	Code    string // Machine-readable error code
	Message string // Human-readable error message
	Op      string // Logical operation name
	Err     error  // Underlying error
}

func (e *InternalError) Error() string {
	if e.Err == nil {
		return e.DisplayError()
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Err.Error())
}

func (e *InternalError) DisplayError() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *InternalError) Unwrap() error {
	return e.Err
}

// Is implements error matching for wrapped errors
func (e *InternalError) Is(target error) bool {
	if target == nil {
		return false
	}

	t, ok := target.(*InternalError)
	if !ok {
		return errors.Is(e.Err, target)
	}

	return e.Code == t.Code
}

// new creates a new InternalError sentinel
func new(code string, message string) *InternalError {
	return &InternalError{
		Code:    code,
		Message: message,
	}
}

func As(err error, target any) bool {
	return errors.As(err, target)
}

func Is(err, reference error) bool {
	return errors.Is(err, reference)
}

// IsNotFound checks if an error is a not found error
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsAlreadyExists checks if an error is an already exists error
func IsAlreadyExists(err error) bool {
	return errors.Is(err, ErrAlreadyExists)
}

// IsVersionConflict checks if an error is a version conflict error
func IsVersionConflict(err error) bool {
	return errors.Is(err, ErrVersionConflict)
}

// IsValidation checks if an error is a validation error
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation)
}

// IsInvalidOperation checks if an error is an invalid operation error
func IsInvalidOperation(err error) bool {
	return errors.Is(err, ErrInvalidOperation)
}

// IsPermissionDenied checks if an error is a permission denied error
func IsPermissionDenied(err error) bool {
	return errors.Is(err, ErrPermissionDenied)
}

// IsDatabase checks if an error is a database error
func IsDatabase(err error) bool {
	return errors.Is(err, ErrDatabase)
}

// IsHTTPClient checks if an error is an http client error
func IsHTTPClient(err error) bool {
	return errors.Is(err, ErrHTTPClient)
}

// IsRetryable reports whether the failure is transient: callers may retry
// with backoff. Everything else is permanent for the current inputs.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrDatabase) || errors.Is(err, ErrHTTPClient) || errors.Is(err, ErrSystem)
}

func HTTPStatusFromErr(err error) int {
	for e, status := range statusCodeMap {
		if errors.Is(err, e) {
			return status
		}
	}
	return http.StatusInternalServerError
}

// CodeFromErr returns the machine-readable code of the sentinel the error
// is marked with. Unmarked errors report as internal.
func CodeFromErr(err error) string {
	for _, sentinel := range sentinels {
		if errors.Is(err, sentinel) {
			return sentinel.Code
		}
	}
	return ErrCodeInternal
}
