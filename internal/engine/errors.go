package engine

import (
	"errors"
	"fmt"
)

// RuntimeError represents an error detected while materializing results.
//
// Runtime errors include:
//   - Invalid cast: a hard cast met an entity of an unrelated type
//   - Invalid operation: an empty sequence where an element is required,
//     more than one element for Single, or checked arithmetic overflow
//   - Quota exceeded: batched collections issued too many queries
//
// Translation failures are queryir.TranslationError, not RuntimeError.
type RuntimeError struct {
	// Code identifies the error category.
	Code RuntimeErrorCode

	// Message is a human-readable description.
	Message string

	// ExecutionID identifies the failed execution.
	ExecutionID string

	// Details contains additional context.
	Details map[string]string
}

// RuntimeErrorCode categorizes runtime errors.
type RuntimeErrorCode string

const (
	// ErrCodeInvalidCast indicates a hard cast to a type the entity is not.
	ErrCodeInvalidCast RuntimeErrorCode = "INVALID_CAST"

	// ErrCodeInvalidOperation indicates a materializer or client
	// computation that cannot produce a value.
	ErrCodeInvalidOperation RuntimeErrorCode = "INVALID_OPERATION"

	// ErrCodeQuotaExceeded indicates too many batched queries.
	ErrCodeQuotaExceeded RuntimeErrorCode = "QUOTA_EXCEEDED"
)

// Messages for element access failures.
const (
	msgNoElements      = "Sequence contains no elements"
	msgMoreThanOne     = "Sequence contains more than one element"
	msgIndexOutOfRange = "Index was out of range"
)

// Error implements the error interface.
func (e *RuntimeError) Error() string {
	if e.ExecutionID != "" {
		return fmt.Sprintf("%s: %s (execution=%s)", e.Code, e.Message, e.ExecutionID)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func codeOf(err error) RuntimeErrorCode {
	var re *RuntimeError
	if errors.As(err, &re) {
		return re.Code
	}
	return ""
}

// IsInvalidCast returns true if the error is an invalid cast error.
// Uses errors.As to handle wrapped errors.
func IsInvalidCast(err error) bool {
	return codeOf(err) == ErrCodeInvalidCast
}

// IsInvalidOperation returns true if the error is an invalid operation
// error. Uses errors.As to handle wrapped errors.
func IsInvalidOperation(err error) bool {
	return codeOf(err) == ErrCodeInvalidOperation
}

// IsQuotaError returns true if the error is a quota exceeded error.
// Matches both RuntimeError with ErrCodeQuotaExceeded and
// QueriesExceededError.
func IsQuotaError(err error) bool {
	return codeOf(err) == ErrCodeQuotaExceeded || IsQueriesExceededError(err)
}

// NewCastError creates a RuntimeError for a failed hard cast.
func NewCastError(from, to string) *RuntimeError {
	return &RuntimeError{
		Code:    ErrCodeInvalidCast,
		Message: fmt.Sprintf("unable to cast object of type '%s' to type '%s'", from, to),
		Details: map[string]string{"from": from, "to": to},
	}
}

// NewOperationError creates a RuntimeError for an invalid operation.
func NewOperationError(msg string) *RuntimeError {
	return &RuntimeError{Code: ErrCodeInvalidOperation, Message: msg}
}

// NewQuotaError creates a RuntimeError for quota exceeded.
func NewQuotaError(queries, maxQueries int) *RuntimeError {
	return &RuntimeError{
		Code:    ErrCodeQuotaExceeded,
		Message: fmt.Sprintf("execution exceeded max queries (%d > %d)", queries, maxQueries),
		Details: map[string]string{
			"queries":     fmt.Sprintf("%d", queries),
			"max_queries": fmt.Sprintf("%d", maxQueries),
		},
	}
}

// withExecution stamps err with the execution id when it is a
// RuntimeError.
func withExecution(err error, id string) error {
	var re *RuntimeError
	if errors.As(err, &re) && re.ExecutionID == "" {
		re.ExecutionID = id
	}
	return err
}
