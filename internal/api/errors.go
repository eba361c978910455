package api

import (
	"encoding/json"
	"net/http"

	"github.com/portfolio-bridge/internal/exchange"
	"github.com/portfolio-bridge/internal/types"
)

// ErrorResponse represents an API error response.
type ErrorResponse struct {
	Error types.ServiceError `json:"error"`
}

// ExchangeErrorResponse is the error shape for the portfolio endpoints. The
// boolean flags tell the caller which backoff policy applies.
type ExchangeErrorResponse struct {
	Error            string `json:"error"`
	Code             string `json:"code"`
	IsRateLimit      bool   `json:"isRateLimit,omitempty"`
	IsTimestampError bool   `json:"isTimestampError,omitempty"`
	IsTimeoutError   bool   `json:"isTimeoutError,omitempty"`
	RetryAfterMs     int64  `json:"retryAfterMs,omitempty"`
}

// respondError sends an error response.
func respondError(w http.ResponseWriter, statusCode int, code, message string, details map[string]interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	response := ErrorResponse{
		Error: types.ServiceError{
			Code:    code,
			Message: message,
			Details: details,
		},
	}

	json.NewEncoder(w).Encode(response)
}

// respondJSON sends a JSON response.
func respondJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// parseJSONBody parses JSON request body.
func parseJSONBody(r *http.Request, v interface{}) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(v)
}

// Common error codes
const (
	ErrCodeInvalidInput  = "INVALID_INPUT"
	ErrCodeNotFound      = "NOT_FOUND"
	ErrCodeUnauthorized  = "UNAUTHORIZED"
	ErrCodeInternalError = "INTERNAL_ERROR"
)

// timestampRetryHintMs is the suggested retry delay for clock-skew errors.
// Re-signing with a fresh timestamp usually succeeds immediately.
const timestampRetryHintMs = 1000

// mapExchangeError converts a failed exchange call into a status and payload.
// Each failure kind gets a distinct status so the caller can apply the right
// backoff: 429 for rate limits, 408 for timeouts, 400 for clock skew, 401
// for rejected keys.
func mapExchangeError(err error) (int, ExchangeErrorResponse) {
	apiErr, ok := exchange.AsAPIError(err)
	if !ok {
		return http.StatusInternalServerError, ExchangeErrorResponse{
			Error: "Failed to reach exchange",
			Code:  exchange.CodeUnknown,
		}
	}

	resp := ExchangeErrorResponse{
		Error: apiErr.Message,
		Code:  apiErr.Code,
	}
	if resp.Error == "" {
		resp.Error = "Exchange request failed"
	}

	switch {
	case apiErr.IsRateLimit:
		resp.IsRateLimit = true
		resp.RetryAfterMs = apiErr.RetryAfter.Milliseconds()
		return http.StatusTooManyRequests, resp
	case apiErr.IsTimestampError():
		resp.IsTimestampError = true
		resp.RetryAfterMs = timestampRetryHintMs
		return http.StatusBadRequest, resp
	case apiErr.IsTimeout():
		resp.IsTimeoutError = true
		return http.StatusRequestTimeout, resp
	case apiErr.IsAuthError():
		return http.StatusUnauthorized, resp
	case apiErr.Status >= 400 && apiErr.Status <= 599:
		return apiErr.Status, resp
	default:
		return http.StatusInternalServerError, resp
	}
}
