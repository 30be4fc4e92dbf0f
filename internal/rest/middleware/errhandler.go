package middleware

import (
	"encoding/json"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/gin-gonic/gin"

	ierr "github.com/meterline/meterline/internal/errors"
)

// ErrorHandler converts errors attached by handlers into the wire error
// body. Handlers call c.Error(err) and return; the mapping from error mark
// to HTTP status lives in the errors package.
func ErrorHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 {
			return
		}

		err := c.Errors.Last().Err
		status := ierr.HTTPStatusFromErr(err)

		c.JSON(status, ierr.ErrorResponse{
			Error:      displayMessage(err),
			Code:       ierr.CodeFromErr(err),
			StatusCode: status,
			Details:    safeDetails(err),
		})
	}
}

// displayMessage picks the first hint attached to the error. Hints are the
// operator-facing text; the raw error never leaves the process.
func displayMessage(err error) string {
	for _, hint := range errors.GetAllHints(err) {
		if hint = strings.TrimSpace(hint); hint != "" {
			return hint
		}
	}
	return "An unexpected error occurred"
}

func safeDetails(err error) map[string]any {
	details := make(map[string]any)

	for _, sdp := range errors.GetAllSafeDetails(err) {
		for _, payload := range sdp.SafeDetails {
			if !strings.HasPrefix(payload, "__json__:") {
				continue
			}
			var decoded map[string]any
			if err := json.Unmarshal([]byte(payload[len("__json__:"):]), &decoded); err == nil {
				for k, v := range decoded {
					details[k] = v
				}
			}
		}
	}

	if len(details) == 0 {
		return nil
	}
	return details
}
