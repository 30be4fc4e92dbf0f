package errors

// ErrorResponse is the wire shape of every error the API returns.
type ErrorResponse struct {
	Error      string         `json:"error"`
	Code       string         `json:"code"`
	StatusCode int            `json:"statusCode"`
	Details    map[string]any `json:"details,omitempty"`
}
