// Package errhandling classifies remote and network errors and retries the
// transient ones.
package errhandling

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
)

// ErrorCategory represents the type/category of an error.
type ErrorCategory string

// Error categories for classification.
const (
	// CategoryNetwork covers timeouts, refused connections and DNS failures. Retryable.
	CategoryNetwork ErrorCategory = "network"
	// CategoryAuthentication covers 401/403 and token endpoint failures. Fatal.
	CategoryAuthentication ErrorCategory = "authentication"
	// CategoryValidation covers 400/422 and other 4xx. Fatal.
	CategoryValidation ErrorCategory = "validation"
	// CategoryRateLimit covers 429. Retryable with backoff.
	CategoryRateLimit ErrorCategory = "rate_limit"
	// CategoryServer covers 5xx. Retryable.
	CategoryServer ErrorCategory = "server"
	// CategoryNotFound covers 404. Fatal.
	CategoryNotFound ErrorCategory = "not_found"
	// CategoryUnknown is anything else. Retryable by default.
	CategoryUnknown ErrorCategory = "unknown"
)

// ClassifiedError wraps an error with classification metadata.
type ClassifiedError struct {
	Category    ErrorCategory
	Retryable   bool
	StatusCode  int
	Message     string
	OriginalErr error
}

// Error implements the error interface.
func (e *ClassifiedError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s error (status %d): %s", e.Category, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s error: %s", e.Category, e.Message)
}

// Unwrap returns the original error for use with errors.Is and errors.As.
func (e *ClassifiedError) Unwrap() error {
	return e.OriginalErr
}

// HTTPError is a non-2xx answer from the remote catalog API.
type HTTPError struct {
	StatusCode int
	Status     string
	Endpoint   string
	Body       string
}

func (e *HTTPError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("%s %s: %s", e.Status, e.Endpoint, e.Body)
	}
	return fmt.Sprintf("%s %s", e.Status, e.Endpoint)
}

type statusClass struct {
	category  ErrorCategory
	retryable bool
	message   string
}

var knownStatuses = map[int]statusClass{
	400: {CategoryValidation, false, "bad request"},
	401: {CategoryAuthentication, false, "unauthorized"},
	403: {CategoryAuthentication, false, "forbidden"},
	404: {CategoryNotFound, false, "not found"},
	422: {CategoryValidation, false, "unprocessable entity"},
	429: {CategoryRateLimit, true, "rate limited"},
	500: {CategoryServer, true, "internal server error"},
	502: {CategoryServer, true, "bad gateway"},
	503: {CategoryServer, true, "service unavailable"},
	504: {CategoryServer, true, "gateway timeout"},
}

// ClassifyHTTPStatus classifies an HTTP answer by status code. Unlisted 5xx
// are server errors, unlisted 4xx validation errors, anything else unknown.
func ClassifyHTTPStatus(statusCode int, message string) *ClassifiedError {
	c, ok := knownStatuses[statusCode]
	switch {
	case ok:
	case statusCode >= 500:
		c = statusClass{CategoryServer, true, "server error"}
	case statusCode >= 400:
		c = statusClass{CategoryValidation, false, "client error"}
	default:
		c = statusClass{CategoryUnknown, true, message}
	}
	if message != "" && ok {
		c.message = fmt.Sprintf("%s: %s", c.message, message)
	}
	return &ClassifiedError{
		Category:   c.category,
		Retryable:  c.retryable,
		StatusCode: statusCode,
		Message:    c.message,
	}
}

// ClassifyNetworkError classifies a transport-level error.
func ClassifyNetworkError(err error) *ClassifiedError {
	if err == nil {
		return &ClassifiedError{Category: CategoryUnknown, Message: "nil error"}
	}

	network := func(msg string, retryable bool) *ClassifiedError {
		return &ClassifiedError{Category: CategoryNetwork, Retryable: retryable, Message: msg, OriginalErr: err}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return network("request timeout", true)
	}
	if errors.Is(err, context.Canceled) {
		return network("context canceled", false)
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return network(fmt.Sprintf("network error: %s %s", opErr.Op, opErr.Net), true)
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return network(fmt.Sprintf("DNS error: %s", dnsErr.Name), true)
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return network(fmt.Sprintf("URL error: %s %s", urlErr.Op, urlErr.URL), true)
	}
	var timeoutErr interface{ Timeout() bool }
	if errors.As(err, &timeoutErr) && timeoutErr.Timeout() {
		return network("timeout", true)
	}

	return &ClassifiedError{Category: CategoryUnknown, Retryable: true, Message: err.Error(), OriginalErr: err}
}

// ClassifyError classifies any error. Already classified errors are returned
// as is and HTTPError values are classified by status.
func ClassifyError(err error) *ClassifiedError {
	if err == nil {
		return &ClassifiedError{Category: CategoryUnknown, Message: "nil error"}
	}

	var classified *ClassifiedError
	if errors.As(err, &classified) {
		return classified
	}

	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		c := ClassifyHTTPStatus(httpErr.StatusCode, "")
		c.Message = fmt.Sprintf("%s (%s)", c.Message, httpErr.Endpoint)
		c.OriginalErr = err
		return c
	}

	return ClassifyNetworkError(err)
}

// IsRetryable returns true if the error is classified as retryable.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	return ClassifyError(err).Retryable
}

// IsFatal returns true for authentication, validation and not-found errors.
func IsFatal(err error) bool {
	switch GetErrorCategory(err) {
	case CategoryAuthentication, CategoryValidation, CategoryNotFound:
		return true
	default:
		return false
	}
}

// GetErrorCategory returns the category of err, CategoryUnknown for nil.
func GetErrorCategory(err error) ErrorCategory {
	if err == nil {
		return CategoryUnknown
	}
	return ClassifyError(err).Category
}

// NewAuthenticationError creates a ClassifiedError for authentication errors.
func NewAuthenticationError(statusCode int, message string, originalErr error) *ClassifiedError {
	return &ClassifiedError{
		Category:    CategoryAuthentication,
		StatusCode:  statusCode,
		Message:     message,
		OriginalErr: originalErr,
	}
}

// NewValidationError creates a ClassifiedError for malformed requests or answers.
func NewValidationError(message string, originalErr error) *ClassifiedError {
	return &ClassifiedError{
		Category:    CategoryValidation,
		Message:     message,
		OriginalErr: originalErr,
	}
}
