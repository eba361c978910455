package exchange

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Error codes assigned by this client for failures that never reached the
// exchange, or that the exchange reports only at the transport level.
const (
	// CodeTimeout means the client-side request deadline fired.
	CodeTimeout = "TIMEOUT"
	// CodeConnectionTimeout means the connection could not be established.
	CodeConnectionTimeout = "CONNECTION_TIMEOUT"
	// CodeUnknown is used when no exchange error code could be extracted.
	CodeUnknown = "UNKNOWN"
)

// Exchange application error codes the aggregators care about.
const (
	codeTimestampOutOfWindow = -1021
	codeInvalidSignature     = -1022
	codeTooManyRequests      = -1003
	codeIllegalChars         = -1100
	codeInvalidSymbol        = -1121
	codeKeyFormatInvalid     = -2014
	codeKeyRejected          = -2015
)

// APIError is the single typed error for every failed exchange call. It
// carries enough structure for the HTTP layer to pick a status and for the
// caller to choose the right backoff.
type APIError struct {
	// Status is the upstream HTTP status, or 0 when the request never
	// completed (timeouts, connection failures).
	Status int
	// Code is the exchange application code as a string (e.g. "-1021"), or
	// one of the client-assigned codes above.
	Code string
	// Message is the upstream error message when one was returned.
	Message string
	// IsRateLimit is set for HTTP 418/429 and code -1003.
	IsRateLimit bool
	// RetryAfter is the upstream Retry-After hint, zero if absent.
	RetryAfter time.Duration
}

func (e *APIError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("exchange error %s (http %d): %s", e.Code, e.Status, e.Message)
	}
	return fmt.Sprintf("exchange error %s: %s", e.Code, e.Message)
}

// IsTimestampError reports whether the error is a clock-skew / receive-window
// rejection, which callers may retry after a short delay.
func (e *APIError) IsTimestampError() bool {
	if e.Code == strconv.Itoa(codeTimestampOutOfWindow) {
		return true
	}
	msg := strings.ToLower(e.Message)
	return strings.Contains(msg, "timestamp") || strings.Contains(msg, "recvwindow")
}

// IsTimeout reports whether the error is a client-side deadline or a
// low-level connect failure.
func (e *APIError) IsTimeout() bool {
	return e.Code == CodeTimeout || e.Code == CodeConnectionTimeout
}

// IsAuthError reports invalid or rejected API keys and bad signatures.
func (e *APIError) IsAuthError() bool {
	switch e.Code {
	case strconv.Itoa(codeInvalidSignature),
		strconv.Itoa(codeKeyFormatInvalid),
		strconv.Itoa(codeKeyRejected):
		return true
	}
	return e.Status == 401
}

// IsUnsupportedSymbol reports whether the exchange rejected the request
// because a symbol in it is not traded. The balance aggregator recovers from
// this locally instead of surfacing it.
func (e *APIError) IsUnsupportedSymbol() bool {
	switch e.Code {
	case strconv.Itoa(codeInvalidSymbol), strconv.Itoa(codeIllegalChars):
		return true
	}
	return strings.Contains(strings.ToLower(e.Message), "invalid symbol")
}

// AsAPIError unwraps err to an *APIError if there is one in the chain.
func AsAPIError(err error) (*APIError, bool) {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}
