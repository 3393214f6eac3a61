// Package classify implements the error taxonomy shared by the driver,
// rate limiter, and narrative executor: a closed set of error kinds plus a
// Retryable contract that downstream backoff policy is driven from.
package classify

import (
	"errors"
	"fmt"
	"time"
)

// Kind is one of the error taxonomy's closed set of classifications.
type Kind string

const (
	KindConfiguration      Kind = "configuration"
	KindValidation          Kind = "validation"
	KindRateLimitExceeded   Kind = "rate_limit_exceeded"
	KindProviderTransient   Kind = "provider_transient"
	KindProviderPermanent   Kind = "provider_permanent"
	KindToolNotFound        Kind = "tool_not_found"
	KindToolExecutionFailed Kind = "tool_execution_failed"
	KindMaxIterations       Kind = "max_iterations_exceeded"
	KindApprovalRequired    Kind = "approval_required"
	KindApprovalDenied      Kind = "approval_denied"
	KindCircuitBreakerOpen  Kind = "circuit_breaker_open"
	KindStorage             Kind = "storage_error"
	KindDatabase            Kind = "database_error"
)

// Error is the typed error value that crosses every component boundary in
// this module. Subsystems wrap lower-level errors into an Error rather than
// returning formatted strings, so callers can branch on Kind via errors.As.
type Error struct {
	Kind          Kind
	Message       string
	StatusCode    int
	RetryAfterSec int
	Cause         error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// RateLimitExceeded builds the RateLimitExceeded(retry_after_secs) variant.
func RateLimitExceeded(retryAfterSec int) *Error {
	return &Error{Kind: KindRateLimitExceeded, Message: "rate limit exceeded", RetryAfterSec: retryAfterSec}
}

// Is reports whether err carries the given Kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// KindOf extracts the Kind of err, or "" if err is not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// Retryable is the contract a driver error implements so the rate limiter
// can drive classification-specific backoff without knowing the provider.
type Retryable interface {
	error
	IsRetryable() bool
	// RetryStrategyParams returns (initial backoff, max retries, delay cap).
	RetryStrategyParams() (time.Duration, int, time.Duration)
}

// retryPolicy is the table from the rate-limit retry classification spec.
type retryPolicy struct {
	retryable   bool
	initial     time.Duration
	maxRetries  int
	maxDelay    time.Duration
}

var (
	policyHTTP429  = retryPolicy{true, 5 * time.Second, 3, 40 * time.Second}
	policyHTTP503  = retryPolicy{true, 2 * time.Second, 5, 60 * time.Second}
	policyHTTP5xx  = retryPolicy{true, 1 * time.Second, 3, 8 * time.Second}
	policyHTTP408  = retryPolicy{true, 2 * time.Second, 4, 30 * time.Second}
	policyWSConn   = retryPolicy{true, 2 * time.Second, 5, 60 * time.Second}
	policyStream   = retryPolicy{true, 1 * time.Second, 3, 10 * time.Second}
	policyNone     = retryPolicy{false, 0, 0, 0}
)

// ClassifiedError wraps an *Error with the retry policy selected for its
// HTTP status code (or a synthetic condition), implementing Retryable.
type ClassifiedError struct {
	*Error
	policy retryPolicy
}

func (c *ClassifiedError) IsRetryable() bool { return c.policy.retryable }

func (c *ClassifiedError) RetryStrategyParams() (time.Duration, int, time.Duration) {
	return c.policy.initial, c.policy.maxRetries, c.policy.maxDelay
}

// Condition enumerates the non-HTTP-status conditions the classifier
// recognizes in addition to status codes.
type Condition int

const (
	ConditionNone Condition = iota
	ConditionWebSocketHandshake
	ConditionStreamInterrupted
	ConditionMissingCredential
	ConditionUnsupportedFeature
)

// ClassifyHTTPStatus maps an HTTP status code returned by a provider to a
// ClassifiedError per the rate-limit retry table.
func ClassifyHTTPStatus(status int, cause error) *ClassifiedError {
	switch {
	case status == 429:
		return classified(KindRateLimitExceeded, status, policyHTTP429, cause)
	case status == 503:
		return classified(KindProviderTransient, status, policyHTTP503, cause)
	case status == 500 || status == 502 || status == 504:
		return classified(KindProviderTransient, status, policyHTTP5xx, cause)
	case status == 408:
		return classified(KindProviderTransient, status, policyHTTP408, cause)
	case status == 400 || status == 401 || status == 403 || status == 404:
		return classified(KindProviderPermanent, status, policyNone, cause)
	default:
		if status >= 500 {
			return classified(KindProviderTransient, status, policyHTTP5xx, cause)
		}
		return classified(KindProviderPermanent, status, policyNone, cause)
	}
}

// ClassifyCondition maps a non-HTTP condition to a ClassifiedError.
func ClassifyCondition(cond Condition, cause error) *ClassifiedError {
	switch cond {
	case ConditionWebSocketHandshake:
		return classified(KindProviderTransient, 0, policyWSConn, cause)
	case ConditionStreamInterrupted:
		return classified(KindProviderTransient, 0, policyStream, cause)
	case ConditionMissingCredential:
		return classified(KindConfiguration, 0, policyNone, cause)
	case ConditionUnsupportedFeature:
		return classified(KindValidation, 0, policyNone, cause)
	default:
		return classified(KindProviderPermanent, 0, policyNone, cause)
	}
}

func classified(kind Kind, status int, policy retryPolicy, cause error) *ClassifiedError {
	msg := string(kind)
	if cause != nil {
		msg = cause.Error()
	}
	return &ClassifiedError{
		Error:  &Error{Kind: kind, Message: msg, StatusCode: status, Cause: cause},
		policy: policy,
	}
}

// IsRetryable reports whether err, if it implements Retryable, says it can
// be retried. Non-Retryable errors are treated as not retryable.
func IsRetryable(err error) bool {
	var r Retryable
	if errors.As(err, &r) {
		return r.IsRetryable()
	}
	return false
}
