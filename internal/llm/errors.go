package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"
)

// ErrorType categorizes provider failures for retry classification.
type ErrorType string

const (
	// ErrorTypeTimeout indicates a request timeout (retryable).
	ErrorTypeTimeout ErrorType = "timeout"

	// ErrorTypeRateLimit indicates the provider throttled us (retryable).
	ErrorTypeRateLimit ErrorType = "rate_limit"

	// ErrorTypeNetwork indicates connectivity trouble (retryable).
	ErrorTypeNetwork ErrorType = "network"

	// ErrorTypeProvider indicates a provider-side 5xx (retryable).
	ErrorTypeProvider ErrorType = "provider_unavailable"

	// ErrorTypeAuth indicates a bad or missing API key (non-retryable).
	ErrorTypeAuth ErrorType = "authentication"

	// ErrorTypeValidation indicates the provider rejected the request
	// shape (non-retryable).
	ErrorTypeValidation ErrorType = "validation_failed"

	// ErrorTypeUnknown indicates an unclassified failure.
	ErrorTypeUnknown ErrorType = "unknown"
)

var (
	// ErrUnknownProvider indicates a provider with no configured adapter.
	ErrUnknownProvider = errors.New("unknown provider")

	// ErrEmptyCompletion indicates the provider returned no content.
	ErrEmptyCompletion = errors.New("empty completion")

	// ErrMaxRetriesExceeded wraps the final attempt's error once the retry
	// budget is spent.
	ErrMaxRetriesExceeded = errors.New("maximum retries exceeded")
)

// ProviderError captures a structured error response from a provider,
// including retry timing guidance when the provider supplies it.
type ProviderError struct {
	Provider   string
	StatusCode int
	Code       string
	Message    string
	Type       ErrorType
	// RetryAfter is the provider-requested delay in seconds, zero if absent.
	RetryAfter int
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s error (status %d): %s", e.Provider, e.StatusCode, e.Message)
}

// Retryable reports whether the error warrants another attempt.
func (e *ProviderError) Retryable() bool {
	switch e.Type {
	case ErrorTypeTimeout, ErrorTypeRateLimit, ErrorTypeNetwork, ErrorTypeProvider:
		return true
	default:
		return false
	}
}

// RetryDelay returns the provider-requested backoff, zero if none.
func (e *ProviderError) RetryDelay() time.Duration {
	if e.RetryAfter > 0 {
		return time.Duration(e.RetryAfter) * time.Second
	}
	return 0
}

// IsTransient reports whether err is worth retrying. Cancellation means the
// caller is shutting down and is never transient. Deadline errors are
// retryable: per-request timeouts surface as context.DeadlineExceeded, and
// the retry loop's select on ctx.Done() stops the attempts once the caller's
// own deadline has truly expired.
func IsTransient(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Retryable()
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return true
	}
	return false
}

// classifyErrorType maps HTTP status and provider error codes to an
// ErrorType. Provider codes take precedence since some providers return
// rate-limit conditions with generic statuses.
func classifyErrorType(statusCode int, errorCode string) ErrorType {
	code := strings.ToLower(errorCode)
	switch {
	case strings.Contains(code, "rate") || strings.Contains(code, "limit"):
		return ErrorTypeRateLimit
	case strings.Contains(code, "timeout"):
		return ErrorTypeTimeout
	case strings.Contains(code, "auth") || strings.Contains(code, "unauthorized"):
		return ErrorTypeAuth
	}

	switch statusCode {
	case http.StatusTooManyRequests:
		return ErrorTypeRateLimit
	case http.StatusUnauthorized, http.StatusForbidden:
		return ErrorTypeAuth
	case http.StatusRequestTimeout, http.StatusGatewayTimeout:
		return ErrorTypeTimeout
	case http.StatusBadRequest, http.StatusNotFound, http.StatusUnprocessableEntity:
		return ErrorTypeValidation
	default:
		if statusCode >= http.StatusInternalServerError {
			return ErrorTypeProvider
		}
		return ErrorTypeUnknown
	}
}

// parseRetryAfter reads the Retry-After response header as whole seconds,
// returning zero when absent or malformed.
func parseRetryAfter(h http.Header) int {
	v := h.Get("Retry-After")
	if v == "" {
		return 0
	}
	var seconds int
	if _, err := fmt.Sscanf(v, "%d", &seconds); err != nil || seconds < 0 {
		return 0
	}
	return seconds
}
