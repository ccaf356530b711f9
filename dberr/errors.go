// Package dberr defines the error taxonomy shared by every layer of the driver.
//
// Errors fall into four categories:
//
//   - Interface errors: misuse of the driver API (wrong parameter counts, fetching
//     before execute, binding a statement that belongs to another cursor). Always
//     raised locally; the engine is never contacted.
//   - Data errors: a value that cannot be represented in the target field (numeric
//     overflow, array shape mismatch, oversized parameter-buffer component).
//     Detected locally before any native call where possible.
//   - Operational errors: a failing native call. They carry the engine's SQL code,
//     the raw status-vector codes and the interpreted message text.
//   - Internal errors: a protocol invariant of the native interface was violated.
package dberr

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorType represents the category of a driver error
type ErrorType int

const (
	// ErrorTypeUnknown represents an unknown error
	ErrorTypeUnknown ErrorType = iota
	// ErrorTypeInterface represents misuse of the driver API
	ErrorTypeInterface
	// ErrorTypeData represents a value that cannot be encoded or decoded
	ErrorTypeData
	// ErrorTypeOperational represents a failing native call
	ErrorTypeOperational
	// ErrorTypeInternal represents a violated protocol invariant
	ErrorTypeInternal
)

func (t ErrorType) String() string {
	switch t {
	case ErrorTypeInterface:
		return "interface error"
	case ErrorTypeData:
		return "data error"
	case ErrorTypeOperational:
		return "operational error"
	case ErrorTypeInternal:
		return "internal error"
	default:
		return "unknown error"
	}
}

// Error represents a structured error with type information
type Error struct {
	Type    ErrorType
	Message string
	// SQLCode is the engine's numeric SQL code; zero for locally raised errors.
	SQLCode int32
	// GDSCodes lists the engine status codes in the order they were reported.
	GDSCodes []int64
	Cause    error
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Type.String())
	b.WriteString(": ")
	b.WriteString(e.Message)
	if e.SQLCode != 0 {
		fmt.Fprintf(&b, " (SQLCODE %d)", e.SQLCode)
	}
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

// Unwrap returns the underlying cause error
func (e *Error) Unwrap() error {
	return e.Cause
}

// IsType checks if the error is of a specific type
func (e *Error) IsType(errorType ErrorType) bool {
	return e.Type == errorType
}

// HasGDSCode reports whether code appears among the engine status codes.
func (e *Error) HasGDSCode(code int64) bool {
	for _, c := range e.GDSCodes {
		if c == code {
			return true
		}
	}
	return false
}

// NewInterfaceError creates an API-misuse error
func NewInterfaceError(format string, args ...any) *Error {
	return &Error{Type: ErrorTypeInterface, Message: fmt.Sprintf(format, args...)}
}

// NewDataError creates a data conversion error
func NewDataError(format string, args ...any) *Error {
	return &Error{Type: ErrorTypeData, Message: fmt.Sprintf(format, args...)}
}

// NewDataErrorWithCause creates a data conversion error wrapping cause
func NewDataErrorWithCause(cause error, format string, args ...any) *Error {
	return &Error{Type: ErrorTypeData, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// NewInternalError creates a protocol-violation error
func NewInternalError(format string, args ...any) *Error {
	return &Error{Type: ErrorTypeInternal, Message: fmt.Sprintf(format, args...)}
}

// NewOperationalError creates an error for a failing native call
func NewOperationalError(message string, sqlCode int32, gdsCodes []int64) *Error {
	return &Error{
		Type:     ErrorTypeOperational,
		Message:  message,
		SQLCode:  sqlCode,
		GDSCodes: gdsCodes,
	}
}

func isType(err error, t ErrorType) bool {
	var dErr *Error
	if errors.As(err, &dErr) {
		return dErr.IsType(t)
	}
	return false
}

// IsInterfaceError checks if an error is an API-misuse error
func IsInterfaceError(err error) bool {
	return isType(err, ErrorTypeInterface)
}

// IsDataError checks if an error is a data conversion error
func IsDataError(err error) bool {
	return isType(err, ErrorTypeData)
}

// IsOperationalError checks if an error came from a failing native call
func IsOperationalError(err error) bool {
	return isType(err, ErrorTypeOperational)
}

// IsInternalError checks if an error is a protocol violation
func IsInternalError(err error) bool {
	return isType(err, ErrorTypeInternal)
}

// SQLCode returns the engine SQL code carried by err, or zero.
func SQLCode(err error) int32 {
	var dErr *Error
	if errors.As(err, &dErr) {
		return dErr.SQLCode
	}
	return 0
}
