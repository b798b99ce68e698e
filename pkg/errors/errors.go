package errors

import (
	"errors"
	"fmt"
	"runtime"
	"strings"
	"time"
)

// ErrorCode categorizes pipeline errors for the audit trail and the CLI.
type ErrorCode string

const (
	// Connection errors (1xxx)
	ErrCodeConnectionFailed     ErrorCode = "DWF1001"
	ErrCodeConnectionTimeout    ErrorCode = "DWF1002"
	ErrCodeAuthenticationFailed ErrorCode = "DWF1003"

	// Configuration errors (2xxx)
	ErrCodeConfigNotFound ErrorCode = "DWF2001"
	ErrCodeConfigInvalid  ErrorCode = "DWF2002"

	// Validation errors (3xxx)
	ErrCodeValidationFailed ErrorCode = "DWF3001"
	ErrCodeMissingTable     ErrorCode = "DWF3002"
	ErrCodeEmptyTable       ErrorCode = "DWF3003"

	// SQL execution errors (4xxx)
	ErrCodeSQLExecution   ErrorCode = "DWF4001"
	ErrCodeSQLTransaction ErrorCode = "DWF4002"
	ErrCodeSQLTimeout     ErrorCode = "DWF4003"
	ErrCodeResultParsing  ErrorCode = "DWF4004"

	// Load errors (5xxx)
	ErrCodeCleanupFailed  ErrorCode = "DWF5001"
	ErrCodeDimensionLoad  ErrorCode = "DWF5002"
	ErrCodeFactLoad       ErrorCode = "DWF5003"
	ErrCodeLookupMiss     ErrorCode = "DWF5004"
	ErrCodeReconciliation ErrorCode = "DWF5005"

	// Audit errors (6xxx)
	ErrCodeAuditWrite ErrorCode = "DWF6001"

	// System errors (9xxx)
	ErrCodeInternal           ErrorCode = "DWF9001"
	ErrCodeTimeout            ErrorCode = "DWF9002"
	ErrCodeResourceExhausted  ErrorCode = "DWF9003"
	ErrCodeServiceUnavailable ErrorCode = "DWF9004"
)

// ErrorSeverity represents the severity level of an error
type ErrorSeverity string

const (
	SeverityCritical ErrorSeverity = "CRITICAL" // Pipeline cannot continue
	SeverityError    ErrorSeverity = "ERROR"    // Step failed, run aborts
	SeverityWarning  ErrorSeverity = "WARNING"  // Run continues, flagged for review
	SeverityInfo     ErrorSeverity = "INFO"
)

// AppError represents a structured application error with context
type AppError struct {
	Code        ErrorCode
	Message     string
	Severity    ErrorSeverity
	Context     map[string]interface{}
	Cause       error
	Stack       string
	Timestamp   time.Time
	Recoverable bool
	Suggestions []string
}

// Error implements the error interface
func (e *AppError) Error() string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("[%s] %s: %s", e.Code, e.Severity, e.Message))

	if e.Cause != nil {
		b.WriteString(fmt.Sprintf("\nCaused by: %v", e.Cause))
	}

	if len(e.Suggestions) > 0 {
		b.WriteString("\nSuggestions:")
		for i, suggestion := range e.Suggestions {
			b.WriteString(fmt.Sprintf("\n  %d. %s", i+1, suggestion))
		}
	}

	return b.String()
}

// Unwrap returns the cause of the error
func (e *AppError) Unwrap() error {
	return e.Cause
}

// Is implements error comparison
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// New creates a new AppError
func New(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:      code,
		Message:   message,
		Severity:  SeverityError,
		Context:   make(map[string]interface{}),
		Stack:     captureStack(),
		Timestamp: time.Now(),
	}
}

// Wrap wraps an existing error with AppError
func Wrap(err error, code ErrorCode, message string) *AppError {
	if err == nil {
		return nil
	}

	appErr := New(code, message)
	appErr.Cause = err

	// If wrapping another AppError, inherit its context
	if ae, ok := err.(*AppError); ok {
		for k, v := range ae.Context {
			appErr.Context[k] = v
		}
	}

	return appErr
}

// WithContext adds context to the error
func (e *AppError) WithContext(key string, value interface{}) *AppError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// WithSeverity sets the error severity
func (e *AppError) WithSeverity(severity ErrorSeverity) *AppError {
	e.Severity = severity
	return e
}

// WithSuggestions adds recovery suggestions
func (e *AppError) WithSuggestions(suggestions ...string) *AppError {
	e.Suggestions = append(e.Suggestions, suggestions...)
	return e
}

// AsRecoverable marks the error as recoverable
func (e *AppError) AsRecoverable() *AppError {
	e.Recoverable = true
	return e
}

func captureStack() string {
	const depth = 32
	var pcs [depth]uintptr
	n := runtime.Callers(3, pcs[:])

	var b strings.Builder
	frames := runtime.CallersFrames(pcs[:n])

	for {
		frame, more := frames.Next()
		if !strings.Contains(frame.File, "runtime/") {
			b.WriteString(fmt.Sprintf("%s:%d %s\n", frame.File, frame.Line, frame.Function))
		}
		if !more {
			break
		}
	}

	return b.String()
}

// Common error constructors

// ConnectionError creates a connection-related error
func ConnectionError(message string, cause error) *AppError {
	return Wrap(cause, ErrCodeConnectionFailed, message).
		WithSeverity(SeverityCritical).
		WithSuggestions(
			"Check your network connection",
			"Verify the database endpoint is reachable",
			"Run 'dwflow setup' to review connection settings",
		)
}

// ConfigError creates a configuration-related error
func ConfigError(message string, field string) *AppError {
	return New(ErrCodeConfigInvalid, message).
		WithContext("field", field).
		WithSuggestions(
			fmt.Sprintf("Check the '%s' configuration value", field),
			"Run 'dwflow setup' to reconfigure",
		)
}

// SQLError creates an SQL execution error
func SQLError(message string, query string, cause error) *AppError {
	err := Wrap(cause, ErrCodeSQLExecution, message).
		WithContext("query", truncateString(query, 200))

	if cause != nil && strings.Contains(cause.Error(), "timeout") {
		err.Code = ErrCodeSQLTimeout
		_ = err.WithSuggestions(
			"Increase the query timeout setting",
			"Check database load before re-running",
		)
	}

	return err
}

// ValidationError creates a prerequisite-validation error
func ValidationError(message string) *AppError {
	return New(ErrCodeValidationFailed, message).
		WithSeverity(SeverityCritical).
		WithSuggestions(
			"Verify both schemas exist and are populated",
			"Run 'dwflow validate' for a full report",
		)
}

// CleanupError creates a table-cleanup error (truncate and delete both failed)
func CleanupError(table string, cause error) *AppError {
	return Wrap(cause, ErrCodeCleanupFailed, fmt.Sprintf("Failed to clean table %s", table)).
		WithContext("table", table).
		WithSeverity(SeverityCritical).
		WithSuggestions(
			"Check table permissions for the warehouse role",
			"Check for blocking locks on the table",
		)
}

// AuditError creates an audit-trail persistence error. The audit trail is
// part of the contract, so these propagate to the caller.
func AuditError(message string, cause error) *AppError {
	return Wrap(cause, ErrCodeAuditWrite, message).
		WithContext("table", "etl_logs")
}

// IsRecoverable checks if an error is recoverable
func IsRecoverable(err error) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Recoverable
	}
	return false
}

// GetErrorCode extracts the error code from an error
func GetErrorCode(err error) ErrorCode {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ErrCodeInternal
}

func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
