package core

import (
	"errors"
	"fmt"
)

// Classification categorizes a deployment or collaborator failure and
// drives the coordinator's retry/heal decision.
type Classification string

const (
	ClassNone              Classification = ""
	ClassSchemaViolation   Classification = "schema_violation"
	ClassReadOnlyField     Classification = "read_only_field"
	ClassInvalidConnection Classification = "invalid_connection"
	ClassTimeout           Classification = "timeout"
	ClassRateLimited       Classification = "rate_limited"
	ClassAuthFailure       Classification = "auth_failure"
	ClassUnknown           Classification = "unknown"
)

// Healable reports whether the classification can be repaired by
// transforming the definition before resubmission.
func (c Classification) Healable() bool {
	switch c {
	case ClassSchemaViolation, ClassReadOnlyField, ClassInvalidConnection:
		return true
	default:
		return false
	}
}

// Retryable reports whether a resubmission may succeed at all, with or
// without healing. Auth failures and unclassified errors are fatal.
func (c Classification) Retryable() bool {
	switch c {
	case ClassTimeout, ClassRateLimited:
		return true
	default:
		return c.Healable()
	}
}

// String returns the string representation of the classification.
func (c Classification) String() string {
	if c == ClassNone {
		return "none"
	}
	return string(c)
}

// DomainError represents a structured error from the domain layer.
type DomainError struct {
	Classification Classification
	Code           string
	Message        string
	Retryable      bool
	Cause          error
	Details        map[string]interface{}
}

// Error implements the error interface.
func (e *DomainError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %s (%v)", e.Classification, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Classification, e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *DomainError) Unwrap() error {
	return e.Cause
}

// Is checks if this error matches a target.
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return e.Classification == t.Classification && e.Code == t.Code
}

// WithCause wraps an underlying error.
func (e *DomainError) WithCause(cause error) *DomainError {
	e.Cause = cause
	return e
}

// WithDetail adds contextual information.
func (e *DomainError) WithDetail(key string, value interface{}) *DomainError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// ErrValidation creates a validation error for bad requester input.
// It is recovered locally by re-prompting, never surfaced as a failure.
func ErrValidation(code, message string) *DomainError {
	return &DomainError{
		Code:      code,
		Message:   message,
		Retryable: false,
	}
}

// ErrTimeout creates a timeout error.
func ErrTimeout(message string) *DomainError {
	return &DomainError{
		Classification: ClassTimeout,
		Code:           "TIMEOUT",
		Message:        message,
		Retryable:      true,
	}
}

// ErrRateLimited creates a rate limit error.
func ErrRateLimited(message string) *DomainError {
	return &DomainError{
		Classification: ClassRateLimited,
		Code:           "RATE_LIMITED",
		Message:        message,
		Retryable:      true,
	}
}

// ErrSchemaViolation creates a schema rejection error.
func ErrSchemaViolation(message string) *DomainError {
	return &DomainError{
		Classification: ClassSchemaViolation,
		Code:           "SCHEMA_VIOLATION",
		Message:        message,
		Retryable:      true,
	}
}

// ErrReadOnlyField creates an error for engine-owned fields present in a
// submitted definition. Offending field names go into Details["fields"].
func ErrReadOnlyField(message string, fields []string) *DomainError {
	e := &DomainError{
		Classification: ClassReadOnlyField,
		Code:           "READ_ONLY_FIELD",
		Message:        message,
		Retryable:      true,
	}
	if len(fields) > 0 {
		e = e.WithDetail("fields", fields)
	}
	return e
}

// ErrInvalidConnection creates an error for edges referencing nodes the
// engine does not recognize.
func ErrInvalidConnection(message string) *DomainError {
	return &DomainError{
		Classification: ClassInvalidConnection,
		Code:           "INVALID_CONNECTION",
		Message:        message,
		Retryable:      true,
	}
}

// ErrAuth creates an authentication error. Fatal, never retried.
func ErrAuth(message string) *DomainError {
	return &DomainError{
		Classification: ClassAuthFailure,
		Code:           "AUTH_FAILED",
		Message:        message,
		Retryable:      false,
	}
}

// ErrUnknown creates an unclassified engine error. Fatal, never retried.
func ErrUnknown(message string) *DomainError {
	return &DomainError{
		Classification: ClassUnknown,
		Code:           "UNKNOWN",
		Message:        message,
		Retryable:      false,
	}
}

// ErrNotFound creates a not found error.
func ErrNotFound(resource, id string) *DomainError {
	return &DomainError{
		Code:      "NOT_FOUND",
		Message:   fmt.Sprintf("%s not found: %s", resource, id),
		Retryable: false,
	}
}

// ErrSlotsExhausted indicates the slot pool has no free capacity.
// Fatal at signup time; surfaced as a capacity error, never retried.
func ErrSlotsExhausted(poolSize int) *DomainError {
	return &DomainError{
		Code:      CodeSlotsExhausted,
		Message:   fmt.Sprintf("all %d tenant slots are assigned", poolSize),
		Retryable: false,
		Details:   map[string]interface{}{"pool_size": poolSize},
	}
}

// DesignError indicates requirements could not be mapped to a workflow
// definition. When Unsupported is set the session returns to scoping and
// the requester sees the capability name plus supported alternatives.
type DesignError struct {
	Unsupported  string
	Alternatives []string
	Message      string
	Cause        error
}

// Error implements the error interface.
func (e *DesignError) Error() string {
	if e.Unsupported != "" {
		return fmt.Sprintf("design failed: unsupported capability %q", e.Unsupported)
	}
	if e.Cause != nil {
		return fmt.Sprintf("design failed: %s (%v)", e.Message, e.Cause)
	}
	return "design failed: " + e.Message
}

// Unwrap returns the underlying cause.
func (e *DesignError) Unwrap() error {
	return e.Cause
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	var domErr *DomainError
	if errors.As(err, &domErr) {
		return domErr.Retryable
	}
	return false
}

// ClassOf extracts the classification from an error chain.
func ClassOf(err error) Classification {
	var domErr *DomainError
	if errors.As(err, &domErr) {
		return domErr.Classification
	}
	return ClassUnknown
}

// Predefined error codes.
const (
	CodeSessionNotFound  = "SESSION_NOT_FOUND"
	CodeSlotNotFound     = "SLOT_NOT_FOUND"
	CodeInvalidState     = "INVALID_STATE"
	CodeEmptyMessage     = "EMPTY_MESSAGE"
	CodeMessageTooLong   = "MESSAGE_TOO_LONG"
	CodeInvalidConfig    = "INVALID_CONFIG"
	CodeDefinitionFrozen = "DEFINITION_FROZEN"
	CodeUnrepairable     = "UNREPAIRABLE"
	CodeSlotsExhausted   = "SLOTS_EXHAUSTED"
)

// MaxMessageLength is the maximum allowed inbound message length.
const MaxMessageLength = 32768
