package llm

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// FailoverReason categorizes why a provider request failed, grounding
// §4.1's failure semantics: transient errors are retried in place,
// rate-limit/auth failures trigger credential or provider rotation.
type FailoverReason string

const (
	FailoverRateLimit       FailoverReason = "rate_limit"
	FailoverAuth            FailoverReason = "auth"
	FailoverBilling         FailoverReason = "billing"
	FailoverTimeout         FailoverReason = "timeout"
	FailoverServerError     FailoverReason = "server_error"
	FailoverInvalidRequest  FailoverReason = "invalid_request"
	FailoverContextOverflow FailoverReason = "context_overflow"
	FailoverUnknown         FailoverReason = "unknown"
)

// IsRetryable reports whether retrying the same client may succeed.
func (r FailoverReason) IsRetryable() bool {
	switch r {
	case FailoverRateLimit, FailoverTimeout, FailoverServerError:
		return true
	default:
		return false
	}
}

// ShouldRotate reports whether this failure should move to the next
// client in the fallback list rather than retrying the same one.
func (r FailoverReason) ShouldRotate() bool {
	switch r {
	case FailoverAuth, FailoverBilling, FailoverRateLimit:
		return true
	default:
		return false
	}
}

// ProviderError is a structured error from a ModelClient, carrying enough
// context for the Orchestrator's retry/rotation/compaction decisions.
type ProviderError struct {
	Reason   FailoverReason
	Provider string
	Model    string
	Status   int
	Message  string
	Cause    error
}

func (e *ProviderError) Error() string {
	parts := []string{fmt.Sprintf("[%s]", e.Reason)}
	if e.Provider != "" {
		parts = append(parts, e.Provider)
	}
	if e.Model != "" {
		parts = append(parts, e.Model)
	}
	parts = append(parts, e.Message)
	return strings.Join(parts, " ")
}

func (e *ProviderError) Unwrap() error { return e.Cause }

// ClassifyHTTPStatus maps an HTTP status code to a FailoverReason, the
// common idiom across every provider's error path.
func ClassifyHTTPStatus(status int) FailoverReason {
	switch {
	case status == http.StatusTooManyRequests:
		return FailoverRateLimit
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return FailoverAuth
	case status == http.StatusPaymentRequired:
		return FailoverBilling
	case status == http.StatusRequestTimeout:
		return FailoverTimeout
	case status >= 500:
		return FailoverServerError
	case status == http.StatusBadRequest:
		return FailoverInvalidRequest
	default:
		return FailoverUnknown
	}
}

// ClassifyError falls back to substring matching when no HTTP status is
// available (e.g. a transport-level error from a streaming client).
func ClassifyError(err error) FailoverReason {
	if err == nil {
		return FailoverUnknown
	}
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Reason
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "rate limit") || strings.Contains(msg, "429"):
		return FailoverRateLimit
	case strings.Contains(msg, "401") || strings.Contains(msg, "403") || strings.Contains(msg, "unauthorized"):
		return FailoverAuth
	case strings.Contains(msg, "context length") || strings.Contains(msg, "context_length") || strings.Contains(msg, "maximum context"):
		return FailoverContextOverflow
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline exceeded"):
		return FailoverTimeout
	case strings.Contains(msg, "500") || strings.Contains(msg, "502") || strings.Contains(msg, "503") || strings.Contains(msg, "504"):
		return FailoverServerError
	default:
		return FailoverUnknown
	}
}
