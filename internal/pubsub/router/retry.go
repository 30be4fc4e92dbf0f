package router

import (
	"net"
	"net/http"

	"github.com/meterline/meterline/internal/errors"
	"github.com/meterline/meterline/internal/httpclient"
	"github.com/meterline/meterline/internal/logger"
)

// ShouldRetry decides whether a failed hint delivery is worth another
// attempt. Hints carry no state of their own, so anything permanently
// broken is dropped and left to the scheduled sweep.
func ShouldRetry(logger *logger.Logger, err error) bool {
	// HTTP errors
	if httpErr, ok := httpclient.IsHTTPError(err); ok {
		switch httpErr.StatusCode {
		case http.StatusTooManyRequests,
			http.StatusBadGateway,
			http.StatusServiceUnavailable,
			http.StatusGatewayTimeout:
			logger.Debugw("retrying due to HTTP error",
				"status_code", httpErr.StatusCode,
				"error", httpErr,
			)
			return true
		}
		logger.Debugw("non-retryable HTTP error",
			"status_code", httpErr.StatusCode,
			"error", httpErr,
		)
		return false
	}

	// Network errors
	if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
		logger.Debugw("retrying due to network timeout", "error", netErr)
		return true
	}

	// Malformed or stale hints never get better
	if errors.IsValidation(err) ||
		errors.IsNotFound(err) ||
		errors.IsPermissionDenied(err) {
		return false
	}

	// By default, retry unknown errors
	return true
}
