package board

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
)

// ErrorClass buckets every board API failure. Only the transient classes
// (rate limit, temporary server, timeout, network) are ever retried; the
// rest fail immediately with the classification attached.
type ErrorClass string

const (
	ClassAuth            ErrorClass = "AUTH"
	ClassAuthz           ErrorClass = "AUTHZ"
	ClassNotFound        ErrorClass = "NOT_FOUND"
	ClassRateLimit       ErrorClass = "RATE_LIMIT"
	ClassValidation      ErrorClass = "VALIDATION"
	ClassTemporaryServer ErrorClass = "TEMPORARY_SERVER"
	ClassTimeout         ErrorClass = "TIMEOUT"
	ClassNetwork         ErrorClass = "NETWORK"
	ClassUnknown         ErrorClass = "UNKNOWN"
)

// APIError is the classified failure type returned by every client call.
type APIError struct {
	Class      ErrorClass
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("board api %s (HTTP %d): %s", e.Class, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("board api %s: %s", e.Class, e.Message)
}

// Retryable reports whether this class is worth another attempt.
func (e *APIError) Retryable() bool {
	switch e.Class {
	case ClassRateLimit, ClassTemporaryServer, ClassTimeout, ClassNetwork:
		return true
	}
	return false
}

// IsRetryable is the classifier handed to the retry wrapper.
func IsRetryable(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Retryable()
	}
	return false
}

// ClassOf extracts the classification from any error chain.
func ClassOf(err error) ErrorClass {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Class
	}
	return ClassUnknown
}

// classifyStatus maps an HTTP status into an error class.
func classifyStatus(status int) ErrorClass {
	switch {
	case status == http.StatusUnauthorized:
		return ClassAuth
	case status == http.StatusForbidden:
		return ClassAuthz
	case status == http.StatusNotFound:
		return ClassNotFound
	case status == http.StatusTooManyRequests:
		return ClassRateLimit
	case status == http.StatusBadRequest || status == http.StatusUnprocessableEntity:
		return ClassValidation
	case status >= 500:
		return ClassTemporaryServer
	default:
		return ClassUnknown
	}
}

// classifyTransport maps a transport-level error (no HTTP response at all)
// into an error class.
func classifyTransport(err error) ErrorClass {
	if errors.Is(err, context.DeadlineExceeded) {
		return ClassTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return ClassTimeout
		}
		return ClassNetwork
	}
	return ClassNetwork
}

// classifyEmbedded maps an error code embedded in an otherwise-200 GraphQL
// response into an error class.
func classifyEmbedded(code, message string) ErrorClass {
	switch strings.ToUpper(code) {
	case "USER_UNAUTHORIZED", "UNAUTHENTICATED":
		return ClassAuth
	case "FORBIDDEN":
		return ClassAuthz
	case "RESOURCE_NOT_FOUND", "INVALID_BOARD_ID", "INVALID_ITEM_ID", "INVALID_GROUP_ID":
		return ClassNotFound
	case "COMPLEXITY_BUDGET_EXHAUSTED", "RATE_LIMIT_EXCEEDED":
		return ClassRateLimit
	case "COLUMN_VALUE_EXCEPTION", "INVALID_COLUMN_ID", "INVALID_ARGUMENT":
		return ClassValidation
	case "INTERNAL_SERVER_ERROR":
		return ClassTemporaryServer
	}
	msg := strings.ToLower(message)
	if strings.Contains(msg, "rate limit") || strings.Contains(msg, "complexity") {
		return ClassRateLimit
	}
	return ClassUnknown
}
