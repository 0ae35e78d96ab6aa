// Package errors provides structured error types for packsmith.
//
// This package defines error codes and types that enable:
//   - Consistent error handling across the CLI and the library packages
//   - Machine-readable error codes for programmatic handling
//   - Error wrapping with context preservation
//
// # Error Codes
//
// Error codes follow a hierarchical naming convention:
//   - INVALID_*: Input validation failures
//   - *_NOT_FOUND / MISSING_*: Required inputs that do not exist
//   - MERGE_*, DUPLICATE_*, SEALED, SIGNING: Stage failures
//   - TOOL_* / MISSING_TOOL: Failures reported by external tools
//
// # Usage
//
//	err := errors.New(errors.ErrCodeInvalidInput, "invalid package name: %s", name)
//	if errors.Is(err, errors.ErrCodeInvalidInput) {
//	    // Handle validation error
//	}
//
//	// Wrap existing errors
//	err := errors.Wrap(errors.ErrCodeMergeFailed, origErr, "merge %s", path)
//
// Typed errors that carry extra fields (for example the archive package's
// duplicate entry error) implement [Coder] so that [Is] and [GetCode] see
// through them as well.
package errors

import (
	"errors"
	"fmt"
)

// Code represents a machine-readable error code.
type Code string

// Error codes for different error categories.
const (
	// Input validation errors
	ErrCodeInvalidInput    Code = "INVALID_INPUT"
	ErrCodeInvalidPackage  Code = "INVALID_PACKAGE"
	ErrCodeInvalidManifest Code = "INVALID_MANIFEST"
	ErrCodeInvalidPath     Code = "INVALID_PATH"
	ErrCodeInvalidSymbols  Code = "INVALID_SYMBOLS"
	ErrCodeInvalidConfig   Code = "INVALID_CONFIG"

	// Resource not found errors
	ErrCodeFileNotFound     Code = "FILE_NOT_FOUND"
	ErrCodeMissingFullTable Code = "MISSING_FULL_TABLE"

	// Stage errors
	ErrCodeMergeFailed    Code = "MERGE_FAILED"
	ErrCodeDuplicateEntry Code = "DUPLICATE_ENTRY"
	ErrCodeSealed         Code = "SEALED"
	ErrCodeSigning        Code = "SIGNING_ERROR"

	// External tool errors
	ErrCodeMissingTool Code = "MISSING_TOOL"
	ErrCodeToolFailed  Code = "TOOL_FAILED"

	// Internal errors
	ErrCodeInternal    Code = "INTERNAL_ERROR"
	ErrCodeUnsupported Code = "UNSUPPORTED"
)

// Coder is implemented by typed errors that map onto a [Code].
type Coder interface {
	Code() Code
}

// Error is a structured error with a code and optional cause.
type Error struct {
	Code    Code   // Machine-readable error code
	Message string // Human-readable message
	Cause   error  // Underlying error (optional)
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As compatibility.
func (e *Error) Unwrap() error {
	return e.Cause
}

// New creates a new Error with the given code and formatted message.
func New(code Code, format string, args ...any) *Error {
	return &Error{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
	}
}

// Wrap creates a new Error wrapping an existing error.
func Wrap(code Code, cause error, format string, args ...any) *Error {
	return &Error{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
		Cause:   cause,
	}
}

// Is reports whether err has the given error code.
// It checks the outermost coded error in the chain, so a wrapped error
// reports the code of the wrapper.
func Is(err error, code Code) bool {
	return err != nil && GetCode(err) == code
}

// Has reports whether any error in the chain carries the given code.
// Unlike [Is] it keeps unwrapping past the outermost coded error.
func Has(err error, code Code) bool {
	for err != nil {
		if c := codeOf(err); c == code {
			return true
		}
		err = errors.Unwrap(err)
	}
	return false
}

// GetCode extracts the error code from an error, if available.
// Returns empty string if no error in the chain carries a code.
func GetCode(err error) Code {
	for err != nil {
		if c := codeOf(err); c != "" {
			return c
		}
		err = errors.Unwrap(err)
	}
	return ""
}

func codeOf(err error) Code {
	switch e := err.(type) {
	case *Error:
		return e.Code
	case Coder:
		return e.Code()
	}
	return ""
}

// UserMessage returns a user-friendly message for the error.
// For *Error types, returns the message without the code prefix.
// For other errors, returns the error string as-is.
func UserMessage(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return err.Error()
}
