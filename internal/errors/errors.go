// Package errors defines the structured error model for Codescope.
// Every failure carries a stable machine-readable Kind plus a human-readable
// message; backend details travel in the cause chain and are never required
// for programmatic handling.
package errors

import (
	"errors"
	"fmt"
)

// Kind is the stable machine-readable classification of an error.
type Kind string

const (
	KindConfig                 Kind = "config"
	KindInvalidInput           Kind = "invalid_input"
	KindNotFound               Kind = "not_found"
	KindIncompatibleCollection Kind = "incompatible_collection"
	KindProviderTransient      Kind = "provider_transient"
	KindProviderRateLimited    Kind = "provider_rate_limited"
	KindProviderPermanent      Kind = "provider_permanent"
	KindTimeout                Kind = "timeout"
	KindCancelled              Kind = "cancelled"
	KindConflict               Kind = "conflict"
	KindCorruption             Kind = "corruption"
	KindInternal               Kind = "internal"
)

// Error is the structured error type for Codescope.
type Error struct {
	// Kind classifies the error for programmatic handling.
	Kind Kind

	// Message is the human-readable error message.
	Message string

	// Details contains additional context as key-value pairs.
	Details map[string]string

	// Cause is the underlying error, if any.
	Cause error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

// Unwrap returns the underlying cause for error chain support.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches errors by Kind, enabling errors.Is against sentinel kinds.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Kind == t.Kind
	}
	return false
}

// WithDetail adds a key-value detail to the error.
// Returns the error for method chaining.
func (e *Error) WithDetail(key, value string) *Error {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// New creates a new Error with the given kind and message.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf creates a new Error with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates an Error wrapping an existing error.
// Returns nil if err is nil.
func Wrap(kind Kind, message string, err error) *Error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Message: message, Cause: err}
}

// KindOf extracts the Kind from an error chain.
// Returns KindInternal for errors that are not *Error.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return KindInternal
}

// IsKind reports whether any error in the chain has the given kind.
func IsKind(err error, kind Kind) bool {
	for err != nil {
		var ce *Error
		if !errors.As(err, &ce) {
			return false
		}
		if ce.Kind == kind {
			return true
		}
		err = ce.Cause
	}
	return false
}

// IsRetryable reports whether the operation that produced err may be retried.
// Transient provider failures, rate limits, and timeouts are retryable.
func IsRetryable(err error) bool {
	switch KindOf(err) {
	case KindProviderTransient, KindProviderRateLimited, KindTimeout:
		return true
	default:
		return false
	}
}

// RetryAfter extracts a provider-supplied retry hint from the error chain.
// Returns false if no hint is present.
func RetryAfter(err error) (string, bool) {
	var ce *Error
	if !errors.As(err, &ce) {
		return "", false
	}
	hint, ok := ce.Details["retry_after"]
	return hint, ok
}

// As is a passthrough to the standard library for callers that already
// import this package.
func As(err error, target any) bool { return errors.As(err, target) }

// Is is a passthrough to the standard library.
func Is(err, target error) bool { return errors.Is(err, target) }
