package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode represents a specific error type for decision engine operations.
type ErrorCode string

const (
	// ErrCodeInvalidArgument indicates malformed or missing input. Never retried.
	ErrCodeInvalidArgument ErrorCode = "INVALID_ARGUMENT"
	// ErrCodeDependencyUnavailable indicates the record store or a population lookup failed.
	ErrCodeDependencyUnavailable ErrorCode = "DEPENDENCY_UNAVAILABLE"
	// ErrCodeBudgetExceeded indicates the estimated campaign cost exceeds the supplied ceiling.
	ErrCodeBudgetExceeded ErrorCode = "BUDGET_EXCEEDED"
	// ErrCodeNoClearWinner indicates a winner was requested before the experiment was conclusive.
	ErrCodeNoClearWinner ErrorCode = "NO_CLEAR_WINNER"
	// ErrCodeNotFound indicates the requested strategy, experiment or record does not exist.
	ErrCodeNotFound ErrorCode = "NOT_FOUND"
	// ErrCodeFailedPrecondition indicates an illegal lifecycle transition.
	ErrCodeFailedPrecondition ErrorCode = "FAILED_PRECONDITION"
	// ErrCodeConfiguration indicates a configuration invariant violation rejected at creation time.
	ErrCodeConfiguration ErrorCode = "CONFIGURATION"
)

// EngineError represents a structured error for decision engine operations.
type EngineError struct {
	Code    ErrorCode
	Field   string
	Message string
	Cause   error
	Context map[string]any
}

// Error implements the error interface.
func (e *EngineError) Error() string {
	msg := e.Message
	if e.Field != "" {
		msg = fmt.Sprintf("%s: %s", e.Field, e.Message)
	}
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, msg, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, msg)
}

// Unwrap returns the underlying cause.
func (e *EngineError) Unwrap() error {
	return e.Cause
}

// WithContext adds context to the error.
func (e *EngineError) WithContext(key string, value any) *EngineError {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// GetCode returns the error code.
func (e *EngineError) GetCode() ErrorCode {
	return e.Code
}

// Convenience constructors for common error types.

// InvalidArgument creates a field-scoped validation error.
func InvalidArgument(field, msg string) *EngineError {
	return &EngineError{Code: ErrCodeInvalidArgument, Field: field, Message: msg}
}

// DependencyUnavailable creates a dependency unavailable error.
func DependencyUnavailable(msg string, cause error) *EngineError {
	return &EngineError{Code: ErrCodeDependencyUnavailable, Message: msg, Cause: cause}
}

// BudgetExceeded creates a budget exceeded error carrying the estimate and the ceiling.
func BudgetExceeded(estimated, ceiling float64) *EngineError {
	return &EngineError{
		Code:    ErrCodeBudgetExceeded,
		Field:   "budget.max",
		Message: fmt.Sprintf("estimated cost %.2f exceeds budget %.2f", estimated, ceiling),
		Context: map[string]any{"estimated_cost": estimated, "budget_max": ceiling},
	}
}

// NoClearWinner creates a no clear winner error.
func NoClearWinner(msg string) *EngineError {
	return &EngineError{Code: ErrCodeNoClearWinner, Message: msg}
}

// NotFound creates a not found error.
func NotFound(kind, id string) *EngineError {
	return &EngineError{Code: ErrCodeNotFound, Message: fmt.Sprintf("%s not found: %s", kind, id)}
}

// FailedPrecondition creates a failed precondition error.
func FailedPrecondition(msg string) *EngineError {
	return &EngineError{Code: ErrCodeFailedPrecondition, Message: msg}
}

// Configuration creates a configuration error.
func Configuration(field, msg string) *EngineError {
	return &EngineError{Code: ErrCodeConfiguration, Field: field, Message: msg}
}

// Wrap wraps an existing error with additional context.
func Wrap(cause error, code ErrorCode, msg string) *EngineError {
	return &EngineError{Code: code, Message: msg, Cause: cause}
}

// IsCode checks if an error, or any error it wraps, carries a specific code.
func IsCode(err error, code ErrorCode) bool {
	var engineErr *EngineError
	if stderrors.As(err, &engineErr) {
		return engineErr.Code == code
	}
	return false
}

// GetCodeFromError extracts the error code from any error.
// Returns the provided default code if the error is not an EngineError.
func GetCodeFromError(err error, defaultCode ErrorCode) ErrorCode {
	var engineErr *EngineError
	if stderrors.As(err, &engineErr) {
		return engineErr.Code
	}
	return defaultCode
}

// FieldOf returns the offending field of a validation error, or "".
func FieldOf(err error) string {
	var engineErr *EngineError
	if stderrors.As(err, &engineErr) {
		return engineErr.Field
	}
	return ""
}
