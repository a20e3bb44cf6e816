// Package errors provides the structured error system for trackforge with
// error codes, categories, and retry hints shared by every cache layer.
package errors

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrorCode identifies a specific failure mode.
type ErrorCode string

const (
	// Configuration errors: raised eagerly at construction time.
	ErrCodeInvalidConfig        ErrorCode = "INVALID_CONFIG"
	ErrCodeInvalidCapacity      ErrorCode = "INVALID_CAPACITY"
	ErrCodeInvalidConcurrency   ErrorCode = "INVALID_CONCURRENCY"
	ErrCodeUnsupportedAlgorithm ErrorCode = "UNSUPPORTED_ALGORITHM"
	ErrCodeConfigLoad           ErrorCode = "CONFIG_LOAD"

	// Connectivity errors: transient, retryable, counted by the breaker.
	ErrCodeConnectionFailed   ErrorCode = "CONNECTION_FAILED"
	ErrCodeConnectionTimeout  ErrorCode = "CONNECTION_TIMEOUT"
	ErrCodeNetworkError       ErrorCode = "NETWORK_ERROR"
	ErrCodeBackendUnavailable ErrorCode = "BACKEND_UNAVAILABLE"

	// Data errors: malformed payloads or keys; read paths degrade to a miss.
	ErrCodeValueShape          ErrorCode = "VALUE_SHAPE"
	ErrCodeDecompressionFailed ErrorCode = "DECOMPRESSION_FAILED"
	ErrCodeKeyUnhashable       ErrorCode = "KEY_UNHASHABLE"
	ErrCodeSnapshotCorrupt     ErrorCode = "SNAPSHOT_CORRUPT"

	// Operation errors.
	ErrCodeOperationTimeout  ErrorCode = "OPERATION_TIMEOUT"
	ErrCodeOperationCanceled ErrorCode = "OPERATION_CANCELED"
	ErrCodeRetryExhausted    ErrorCode = "RETRY_EXHAUSTED"
	ErrCodeCircuitOpen       ErrorCode = "CIRCUIT_OPEN"
	ErrCodeProbeBudget       ErrorCode = "PROBE_BUDGET_EXHAUSTED"
	ErrCodeDependencyCycle   ErrorCode = "DEPENDENCY_CYCLE"
	ErrCodeDependencyFailed  ErrorCode = "DEPENDENCY_FAILED"

	// Internal errors: programmer mistakes; logged at highest severity.
	ErrCodeInternalError  ErrorCode = "INTERNAL_ERROR"
	ErrCodePanicRecovered ErrorCode = "PANIC_RECOVERED"
)

// Category is the coarse failure bucket the circuit breaker and the
// propagation policy key off.
type Category string

const (
	CategoryConfiguration Category = "configuration"
	CategoryConnectivity  Category = "connectivity"
	CategoryData          Category = "data"
	CategoryOperation     Category = "operation"
	CategoryInternal      Category = "internal"
)

// Error is a structured error with a code, category, and context.
type Error struct {
	Code      ErrorCode         `json:"code"`
	Category  Category          `json:"category"`
	Message   string            `json:"message"`
	Component string            `json:"component,omitempty"`
	Operation string            `json:"operation,omitempty"`
	Context   map[string]string `json:"context,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
	Retryable bool              `json:"retryable"`
	Cause     error             `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Component != "" {
		if e.Operation != "" {
			return fmt.Sprintf("[%s:%s] %s: %s", e.Component, e.Operation, e.Code, e.Message)
		}
		return fmt.Sprintf("[%s] %s: %s", e.Component, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As chains.
func (e *Error) Unwrap() error { return e.Cause }

// Is matches on code so sentinel-style comparisons work across wrapping.
func (e *Error) Is(target error) bool {
	var te *Error
	if errors.As(target, &te) {
		return e.Code == te.Code
	}
	return false
}

// New creates a structured error with category and retryability derived from
// the code.
func New(code ErrorCode, message string) *Error {
	return &Error{
		Code:      code,
		Category:  CategoryOf(code),
		Message:   message,
		Timestamp: time.Now(),
		Retryable: retryableByDefault(code),
	}
}

// Newf creates a structured error with a formatted message.
func Newf(code ErrorCode, format string, args ...any) *Error {
	return New(code, fmt.Sprintf(format, args...))
}

// WithComponent sets the originating component.
func (e *Error) WithComponent(component string) *Error {
	e.Component = component
	return e
}

// WithOperation sets the originating operation.
func (e *Error) WithOperation(operation string) *Error {
	e.Operation = operation
	return e
}

// WithContext adds a contextual key/value pair.
func (e *Error) WithContext(key, value string) *Error {
	if e.Context == nil {
		e.Context = make(map[string]string)
	}
	e.Context[key] = value
	return e
}

// WithCause attaches the underlying error.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// CategoryOf maps an error code to its category.
func CategoryOf(code ErrorCode) Category {
	s := string(code)
	switch {
	case strings.HasPrefix(s, "INVALID_") || strings.HasPrefix(s, "UNSUPPORTED_") || strings.HasPrefix(s, "CONFIG_"):
		return CategoryConfiguration
	case strings.HasPrefix(s, "CONNECTION_") || strings.HasPrefix(s, "NETWORK_") || strings.HasPrefix(s, "BACKEND_"):
		return CategoryConnectivity
	case s == string(ErrCodeValueShape) || s == string(ErrCodeDecompressionFailed) ||
		s == string(ErrCodeKeyUnhashable) || s == string(ErrCodeSnapshotCorrupt):
		return CategoryData
	case strings.HasPrefix(s, "OPERATION_") || strings.HasPrefix(s, "RETRY_") ||
		strings.HasPrefix(s, "CIRCUIT_") || strings.HasPrefix(s, "PROBE_") ||
		strings.HasPrefix(s, "DEPENDENCY_"):
		return CategoryOperation
	default:
		return CategoryInternal
	}
}

func retryableByDefault(code ErrorCode) bool {
	switch code {
	case ErrCodeConnectionFailed, ErrCodeConnectionTimeout, ErrCodeNetworkError,
		ErrCodeBackendUnavailable, ErrCodeOperationTimeout:
		return true
	}
	return false
}

// Classify buckets an arbitrary error for the circuit breaker and the
// read/write propagation policy. Unknown error types land in the internal
// bucket so programmer mistakes are never silently treated as transient.
func Classify(err error) Category {
	if err == nil {
		return ""
	}
	var te *Error
	if errors.As(err, &te) {
		return te.Category
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return CategoryConnectivity
	}
	return CategoryInternal
}

// IsRetryable reports whether the error is safe to retry.
func IsRetryable(err error) bool {
	var te *Error
	if errors.As(err, &te) {
		return te.Retryable
	}
	return Classify(err) == CategoryConnectivity
}
