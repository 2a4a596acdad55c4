// Package incerrors provides structured error classification and retry configuration for incident operations.
package incerrors

import (
	"errors"
	"fmt"
	"time"
)

// Kind represents different categories of incident-handling errors for retry logic.
type Kind int8

const (
	// Non-retryable error kinds.

	// KindValidation represents malformed or rejected input (empty message, bad transition).
	KindValidation Kind = iota
	// KindNotFound represents lookups of incidents or KB entries that do not exist.
	KindNotFound

	// Retryable error kinds.

	// KindCapabilityUnavailable represents a downstream capability (LLM, embedder, index)
	// being unreachable or failing. Retried at most once with backoff before surfacing.
	KindCapabilityUnavailable
	// KindConflict represents a concurrent-modification conflict on an incident record.
	// The caller should re-read current state and re-decide rather than blindly rewrite.
	KindConflict

	// KindInternal represents unclassified internal failures.
	KindInternal
)

// String returns the string representation of the error kind.
func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindCapabilityUnavailable:
		return "capability_unavailable"
	case KindConflict:
		return "conflict"
	case KindInternal:
		return "internal"
	default:
		return "invalid"
	}
}

// Default retry constants - eventually overridable via config.
const (
	DefaultCapabilityRetries = 1
	DefaultConflictRetries   = 2
	DefaultValidationRetries = 0
	DefaultNotFoundRetries   = 0
	DefaultInternalRetries   = 0
)

// RetryConfig defines exponential backoff configuration for each error kind.
type RetryConfig struct {
	MaxRetries    int           // Maximum number of retry attempts
	InitialDelay  time.Duration // Initial delay for exponential backoff
	MaxDelay      time.Duration // Maximum delay between retries
	BackoffFactor float64       // Multiplier for exponential backoff
	Jitter        bool          // Add random jitter to prevent thundering herd
}

// DefaultRetryConfigs provides default retry configurations for each error kind.
//
//nolint:gochecknoglobals // Configuration map - acceptable for package defaults
var DefaultRetryConfigs = map[Kind]RetryConfig{
	KindCapabilityUnavailable: {
		MaxRetries:    DefaultCapabilityRetries,
		InitialDelay:  500 * time.Millisecond,
		MaxDelay:      5 * time.Second,
		BackoffFactor: 2.0,
		Jitter:        true,
	},
	KindConflict: {
		MaxRetries:    DefaultConflictRetries,
		InitialDelay:  50 * time.Millisecond,
		MaxDelay:      1 * time.Second,
		BackoffFactor: 2.0,
		Jitter:        true,
	},
	KindValidation: {
		MaxRetries:    DefaultValidationRetries,
		InitialDelay:  0,
		MaxDelay:      0,
		BackoffFactor: 1.0,
		Jitter:        false,
	},
	KindNotFound: {
		MaxRetries:    DefaultNotFoundRetries,
		InitialDelay:  0,
		MaxDelay:      0,
		BackoffFactor: 1.0,
		Jitter:        false,
	},
	KindInternal: {
		MaxRetries:    DefaultInternalRetries,
		InitialDelay:  0,
		MaxDelay:      0,
		BackoffFactor: 1.0,
		Jitter:        false,
	},
}

// Error represents a classified incident-handling error with retry metadata.
type Error struct {
	Err     error  // Wrapped underlying error
	Message string // Human-readable error message
	Kind    Kind   // Classified error kind
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Message != "" && e.Err != nil {
		return fmt.Sprintf("%s (%s): %v", e.Message, e.Kind.String(), e.Err)
	}
	if e.Message != "" {
		return fmt.Sprintf("%s (%s)", e.Message, e.Kind.String())
	}
	if e.Err != nil {
		return fmt.Sprintf("incident error (%s): %v", e.Kind.String(), e.Err)
	}
	return fmt.Sprintf("incident error (%s)", e.Kind.String())
}

// Unwrap returns the underlying error for error unwrapping.
func (e *Error) Unwrap() error {
	return e.Err
}

// IsRetryable returns whether this error kind should be retried.
func (e *Error) IsRetryable() bool {
	switch e.Kind {
	case KindCapabilityUnavailable, KindConflict:
		return true
	default:
		return false
	}
}

// GetRetryConfig returns the retry configuration for this error kind.
func (e *Error) GetRetryConfig() RetryConfig {
	if config, exists := DefaultRetryConfigs[e.Kind]; exists {
		return config
	}
	return DefaultRetryConfigs[KindInternal]
}

// Is checks if an error is of a specific kind.
func Is(err error, kind Kind) bool {
	var incErr *Error
	if errors.As(err, &incErr) {
		return incErr.Kind == kind
	}
	return false
}

// KindOf returns the error kind of an error, or KindInternal if not classified.
func KindOf(err error) Kind {
	var incErr *Error
	if errors.As(err, &incErr) {
		return incErr.Kind
	}
	return KindInternal
}

// New creates a new classified incident error.
func New(kind Kind, message string) *Error {
	return &Error{
		Kind:    kind,
		Message: message,
	}
}

// Newf creates a new classified incident error with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{
		Kind:    kind,
		Message: fmt.Sprintf(format, args...),
	}
}

// WrapErr creates a new classified incident error wrapping another error.
func WrapErr(kind Kind, cause error, message string) *Error {
	return &Error{
		Kind:    kind,
		Err:     cause,
		Message: message,
	}
}

// Validation creates a validation error with a formatted message.
func Validation(format string, args ...any) *Error {
	return Newf(KindValidation, format, args...)
}

// NotFound creates a not-found error for the named resource.
func NotFound(resource, id string) *Error {
	return Newf(KindNotFound, "%s not found: %s", resource, id)
}

// CapabilityUnavailable creates a capability error wrapping the downstream failure.
func CapabilityUnavailable(capability string, cause error) *Error {
	return WrapErr(KindCapabilityUnavailable, cause, fmt.Sprintf("%s unavailable", capability))
}

// Conflict creates a conflict error for a concurrently modified incident.
func Conflict(incidentID string) *Error {
	return Newf(KindConflict, "incident %s was modified concurrently", incidentID)
}

// UserMessage returns the text a conversational surface should show for err.
// Capability failures deliberately hide the underlying cause from end users.
func UserMessage(err error) string {
	switch KindOf(err) {
	case KindValidation:
		var incErr *Error
		if errors.As(err, &incErr) && incErr.Message != "" {
			return incErr.Message
		}
		return "Your message could not be processed. Please rephrase and try again."
	case KindNotFound:
		return "The requested record could not be found."
	case KindCapabilityUnavailable:
		return "I'm having trouble reaching a backend service right now. Please try again in a moment."
	case KindConflict:
		return "Your request collided with another update. Please try again."
	default:
		return "An internal error occurred. Please try again."
	}
}
