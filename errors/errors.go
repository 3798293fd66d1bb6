// Package errors provides standardized error handling for DMOD services.
// It classifies failures into transient, invalid, and fatal conditions so
// callers can decide between retrying, rejecting, and aborting, and provides
// helpers for consistent error wrapping across the system.
package errors

import (
	"context"
	"errors"
	"fmt"

	"github.com/NOAA-OWP/DMOD-sub002/pkg/retry"
)

// Class represents the classification of an error for handling purposes.
type Class int

const (
	// Transient marks temporary errors that may be retried.
	Transient Class = iota
	// Invalid marks errors caused by bad input, bad frames, or bad config values.
	Invalid
	// Fatal marks programming or configuration errors that must abort the
	// offending job or startup rather than be converted into a Response.
	Fatal
)

// String returns the string representation of a Class.
func (c Class) String() string {
	switch c {
	case Transient:
		return "transient"
	case Invalid:
		return "invalid"
	case Fatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Standard error variables for common conditions.
var (
	// Connection lifecycle errors
	ErrNoConnection      = errors.New("no connection available")
	ErrConnectionLost    = errors.New("connection lost")
	ErrConnectionTimeout = errors.New("connection timeout")
	ErrOpenBlocked       = errors.New("timed out waiting for in-progress connection open")
	ErrClientClosed      = errors.New("client closed")

	// Protocol errors
	ErrInvalidMessage   = errors.New("invalid message")
	ErrParsingFailed    = errors.New("parsing failed")
	ErrUnsupportedType  = errors.New("unsupported message type")
	ErrDuplicateHandler = errors.New("duplicate handler registration")

	// Session errors
	ErrSessionNotFound = errors.New("session not found")
	ErrSessionExpired  = errors.New("session expired")
	ErrAuthFailed      = errors.New("authentication failed")

	// Dataset errors
	ErrDatasetNotFound    = errors.New("dataset not found")
	ErrDatasetExists      = errors.New("dataset already exists")
	ErrInvalidDatasetName = errors.New("invalid dataset name")
	ErrInvalidDomain      = errors.New("invalid data domain")
	ErrItemNotFound       = errors.New("dataset item not found")
	ErrDerivationUnknown  = errors.New("no derivation strategy for requirement")

	// Storage errors
	ErrStorageUnavailable = errors.New("storage unavailable")

	// Configuration errors
	ErrInvalidConfig = errors.New("invalid configuration")
	ErrMissingConfig = errors.New("missing required configuration")
)

// ClassifiedError wraps an error with its classification and the component
// and operation where it originated.
type ClassifiedError struct {
	Class     Class
	Err       error
	Message   string
	Component string
	Operation string
}

// Error implements the error interface.
func (ce *ClassifiedError) Error() string {
	if ce.Message != "" {
		return ce.Message
	}
	return ce.Err.Error()
}

// Unwrap returns the underlying error.
func (ce *ClassifiedError) Unwrap() error {
	return ce.Err
}

// IsTransient reports whether an error is transient and may be retried.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class == Transient
	}

	return errors.Is(err, ErrConnectionTimeout) ||
		errors.Is(err, ErrConnectionLost) ||
		errors.Is(err, ErrNoConnection) ||
		errors.Is(err, ErrStorageUnavailable) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, context.Canceled)
}

// IsFatal reports whether an error is fatal and must stop the operation
// entirely rather than be converted into a failure Response.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}

	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class == Fatal
	}

	return errors.Is(err, ErrInvalidConfig) ||
		errors.Is(err, ErrMissingConfig) ||
		errors.Is(err, ErrDuplicateHandler) ||
		errors.Is(err, ErrDerivationUnknown)
}

// IsInvalid reports whether an error is due to invalid input.
func IsInvalid(err error) bool {
	if err == nil {
		return false
	}

	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class == Invalid
	}

	return errors.Is(err, ErrInvalidMessage) ||
		errors.Is(err, ErrParsingFailed) ||
		errors.Is(err, ErrInvalidDatasetName) ||
		errors.Is(err, ErrInvalidDomain)
}

// Classify returns the class for an error. Unknown errors default to
// Transient so callers err on the side of retrying.
func Classify(err error) Class {
	switch {
	case IsFatal(err):
		return Fatal
	case IsInvalid(err):
		return Invalid
	default:
		return Transient
	}
}

// Wrap creates a standardized error with context following the pattern
// "component.method: action failed: %w".
func Wrap(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s.%s: %s failed: %w", component, method, action, err)
}

func newClassified(class Class, err error, component, method, action string) error {
	wrapped := Wrap(err, component, method, action)
	return &ClassifiedError{
		Class:     class,
		Err:       wrapped,
		Message:   wrapped.Error(),
		Component: component,
		Operation: method,
	}
}

// WrapTransient wraps an error as transient with context.
func WrapTransient(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	return newClassified(Transient, err, component, method, action)
}

// WrapInvalid wraps an error as invalid with context.
func WrapInvalid(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	return newClassified(Invalid, err, component, method, action)
}

// WrapFatal wraps an error as fatal with context.
func WrapFatal(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	return newClassified(Fatal, err, component, method, action)
}

// RetryConfig returns retry settings tuned for transient protocol failures.
// Jitter is enabled to avoid synchronized reconnects.
func RetryConfig(maxAttempts int) retry.Config {
	cfg := retry.DefaultConfig()
	if maxAttempts > 0 {
		cfg.MaxAttempts = maxAttempts
	}
	cfg.AddJitter = true
	return cfg
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool { return errors.Is(err, target) }

// As finds the first error in err's chain that matches target.
func As(err error, target any) bool { return errors.As(err, target) }

// New returns an error that formats as the given text.
func New(text string) error { return errors.New(text) }
