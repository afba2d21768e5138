// Package errors provides structured error types for the Meridian engine.
// All errors include a category, code, message, and retryable flag for
// consistent error handling across components.
package errors

import (
	"errors"
	"fmt"
)

// ErrorCategory classifies errors by engine component.
type ErrorCategory string

const (
	ErrCategoryCodec    ErrorCategory = "CODEC"
	ErrCategorySchema   ErrorCategory = "SCHEMA"
	ErrCategoryTransact ErrorCategory = "TRANSACT"
	ErrCategoryHistory  ErrorCategory = "HISTORY"
	ErrCategoryHandover ErrorCategory = "HANDOVER"
	ErrCategoryFile     ErrorCategory = "FILE"
	ErrCategoryInternal ErrorCategory = "INTERNAL"
)

// Error codes for each category.
const (
	// Codec codes
	CodeBadTransactLog = "BAD_TRANSACT_LOG"

	// Schema codes
	CodeSchemaMismatch       = "SCHEMA_MISMATCH"
	CodeInvalidSchemaVersion = "INVALID_SCHEMA_VERSION"
	CodeDuplicatePrimaryKey  = "DUPLICATE_PRIMARY_KEY"
	CodeInvalidSchema        = "INVALID_SCHEMA"

	// Transaction codes
	CodeWrongTransactState = "WRONG_TRANSACT_STATE"
	CodeReadOnlySession    = "READ_ONLY_SESSION"
	CodeSessionClosed      = "SESSION_CLOSED"

	// History codes
	CodeVersionNotFound    = "VERSION_NOT_FOUND"
	CodeCorruptionDetected = "CORRUPTION_DETECTED"
	CodeWriteConflict      = "WRITE_CONFLICT"

	// Handover codes
	CodeAlreadyImported     = "ALREADY_IMPORTED"
	CodeIncompatibleVersion = "INCOMPATIBLE_VERSION"

	// File codes
	CodeFileNotFound          = "FILE_NOT_FOUND"
	CodePermissionDenied      = "PERMISSION_DENIED"
	CodeFileAccess            = "FILE_ACCESS"
	CodeIncompatibleLockFile  = "INCOMPATIBLE_LOCK_FILE"
	CodeFormatUpgradeRequired = "FORMAT_UPGRADE_REQUIRED"

	// Internal codes
	CodeUnexpected = "UNEXPECTED"
)

// MeridianError is the structured error type used throughout the engine.
type MeridianError struct {
	Category  ErrorCategory
	Code      string
	Message   string
	Path      string
	Cause     error
	Retryable bool
}

// Error returns a formatted error string.
func (e *MeridianError) Error() string {
	msg := e.Message
	if e.Path != "" {
		msg = fmt.Sprintf("%s (path %q)", msg, e.Path)
	}
	if e.Cause != nil {
		return fmt.Sprintf("[%s:%s] %s: %v", e.Category, e.Code, msg, e.Cause)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Category, e.Code, msg)
}

// Unwrap returns the underlying cause for errors.Is/As compatibility.
func (e *MeridianError) Unwrap() error {
	return e.Cause
}

// Is reports whether the target matches this error's category and code.
func (e *MeridianError) Is(target error) bool {
	var t *MeridianError
	if errors.As(target, &t) {
		return e.Category == t.Category && e.Code == t.Code
	}
	return false
}

// New creates a new MeridianError.
func New(category ErrorCategory, code, message string) *MeridianError {
	return &MeridianError{
		Category:  category,
		Code:      code,
		Message:   message,
		Retryable: isRetryable(category, code),
	}
}

// Newf creates a new MeridianError with a formatted message.
func Newf(category ErrorCategory, code, format string, args ...interface{}) *MeridianError {
	return New(category, code, fmt.Sprintf(format, args...))
}

// Wrap creates a new MeridianError wrapping an existing error.
func Wrap(category ErrorCategory, code, message string, cause error) *MeridianError {
	return &MeridianError{
		Category:  category,
		Code:      code,
		Message:   message,
		Cause:     cause,
		Retryable: isRetryable(category, code),
	}
}

// WithPath returns a copy of the error carrying the offending file path.
func (e *MeridianError) WithPath(path string) *MeridianError {
	cp := *e
	cp.Path = path
	return &cp
}

// IsRetryable checks whether an error (or its chain) is retryable.
func IsRetryable(err error) bool {
	var me *MeridianError
	if errors.As(err, &me) {
		return me.Retryable
	}
	return false
}

// GetCategory extracts the error category from an error chain.
// Returns empty string if the error is not a MeridianError.
func GetCategory(err error) ErrorCategory {
	var me *MeridianError
	if errors.As(err, &me) {
		return me.Category
	}
	return ""
}

// GetCode extracts the error code from an error chain.
// Returns empty string if the error is not a MeridianError.
func GetCode(err error) string {
	var me *MeridianError
	if errors.As(err, &me) {
		return me.Code
	}
	return ""
}

// HasCode reports whether the error chain carries the given code.
func HasCode(err error, code string) bool {
	return GetCode(err) == code
}

// isRetryable determines if an error code represents a transient condition.
// Everything in the schema/codec/transaction families is a hard failure.
func isRetryable(category ErrorCategory, code string) bool {
	switch {
	case category == ErrCategoryHistory && code == CodeWriteConflict:
		return true
	case category == ErrCategoryFile && code == CodeFileAccess:
		return true
	default:
		return false
	}
}

// Convenience constructors for common errors.

func NewBadTransactLog(message string) *MeridianError {
	return New(ErrCategoryCodec, CodeBadTransactLog, message)
}

func NewSchemaMismatch(message string) *MeridianError {
	return New(ErrCategorySchema, CodeSchemaMismatch, message)
}

func NewInvalidSchemaVersion(message string) *MeridianError {
	return New(ErrCategorySchema, CodeInvalidSchemaVersion, message)
}

func NewDuplicatePrimaryKey(message string) *MeridianError {
	return New(ErrCategorySchema, CodeDuplicatePrimaryKey, message)
}

func NewWrongTransactState(message string) *MeridianError {
	return New(ErrCategoryTransact, CodeWrongTransactState, message)
}

func NewHistoryError(code, message string, cause error) *MeridianError {
	return Wrap(ErrCategoryHistory, code, message, cause)
}

func NewFileError(code, message, path string, cause error) *MeridianError {
	return Wrap(ErrCategoryFile, code, message, cause).WithPath(path)
}

func NewInternalError(message string, cause error) *MeridianError {
	return Wrap(ErrCategoryInternal, CodeUnexpected, message, cause)
}
