// Package errors provides structured error handling for vload
package errors

import (
	"errors"
	"fmt"
	"runtime"
)

// ErrorType represents the category of error
type ErrorType string

const (
	// ErrorTypeInternal represents internal system errors
	ErrorTypeInternal ErrorType = "internal"
	// ErrorTypeConfig represents invalid configuration, such as a
	// conflicting delimiter/quote/terminator combination
	ErrorTypeConfig ErrorType = "config"
	// ErrorTypeConnection represents connection errors (no reachable node,
	// driver-level connect failure)
	ErrorTypeConnection ErrorType = "connection"
	// ErrorTypeExecutor represents a bulk-copy statement failure inside the
	// background executor, wrapping the original database error
	ErrorTypeExecutor ErrorType = "executor"
	// ErrorTypeRejectLimit represents a reject count beyond the configured
	// maximum
	ErrorTypeRejectLimit ErrorType = "reject_limit"
	// ErrorTypeAlreadyImported represents a source that the batch history
	// table records as previously imported
	ErrorTypeAlreadyImported ErrorType = "already_imported"
	// ErrorTypeMigration represents a DDL application or data copy failure
	// for a single migration object
	ErrorTypeMigration ErrorType = "migration"
	// ErrorTypeData represents data processing errors, such as a row whose
	// arity does not match the column list
	ErrorTypeData ErrorType = "data"
	// ErrorTypeQuery represents query execution errors
	ErrorTypeQuery ErrorType = "query"
	// ErrorTypeState represents an operation invoked in an invalid session
	// lifecycle state
	ErrorTypeState ErrorType = "state"
)

// Error represents a structured error with context
type Error struct {
	Type    ErrorType
	Message string
	Cause   error
	Details map[string]interface{}
	Stack   []StackFrame
}

// StackFrame represents a single frame in the call stack
type StackFrame struct {
	Function string
	File     string
	Line     int
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// WithDetail adds a key-value detail to the error
func (e *Error) WithDetail(key string, value interface{}) *Error {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// New creates a new error with the given type and message
func New(errType ErrorType, message string) *Error {
	return &Error{
		Type:    errType,
		Message: message,
		Stack:   captureStack(2),
	}
}

// Newf creates a new error with a formatted message
func Newf(errType ErrorType, format string, args ...interface{}) *Error {
	return &Error{
		Type:    errType,
		Message: fmt.Sprintf(format, args...),
		Stack:   captureStack(2),
	}
}

// Wrap wraps an existing error with additional context
func Wrap(err error, errType ErrorType, message string) *Error {
	if err == nil {
		return nil
	}

	// If already our error type, preserve the stack
	var existingErr *Error
	if errors.As(err, &existingErr) {
		return &Error{
			Type:    errType,
			Message: message,
			Cause:   err,
			Stack:   existingErr.Stack,
		}
	}

	return &Error{
		Type:    errType,
		Message: message,
		Cause:   err,
		Stack:   captureStack(2),
	}
}

// IsRetryable returns true if the error is retryable
func IsRetryable(err error) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}

	switch e.Type {
	case ErrorTypeConnection:
		return true
	default:
		return false
	}
}

// IsType checks if the error is of the given type
func IsType(err error, errType ErrorType) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Type == errType
}

// IsRejectLimit reports whether the error is a reject-limit breach
func IsRejectLimit(err error) bool {
	return IsType(err, ErrorTypeRejectLimit)
}

// IsAlreadyImported reports whether the error marks a previously imported source
func IsAlreadyImported(err error) bool {
	return IsType(err, ErrorTypeAlreadyImported)
}

// IsConnection reports whether the error is a connection failure
func IsConnection(err error) bool {
	return IsType(err, ErrorTypeConnection)
}

// IsExecutor reports whether the error originated in the background executor
func IsExecutor(err error) bool {
	return IsType(err, ErrorTypeExecutor)
}

// captureStack captures the current call stack
func captureStack(skip int) []StackFrame {
	const maxFrames = 32
	frames := make([]StackFrame, 0, maxFrames)

	for i := skip; i < maxFrames+skip; i++ {
		pc, file, line, ok := runtime.Caller(i)
		if !ok {
			break
		}

		fn := runtime.FuncForPC(pc)
		if fn == nil {
			continue
		}

		frames = append(frames, StackFrame{
			Function: fn.Name(),
			File:     file,
			Line:     line,
		})
	}

	return frames
}
