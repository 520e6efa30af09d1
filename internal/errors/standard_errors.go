// Package errors provides the standardized error envelope returned by every tool.
package errors

import (
	"encoding/json"
	"fmt"
	"time"
)

// ErrorCode is one of the stable, documented codes a caller can match on.
type ErrorCode string

const (
	ErrNotInitialized      ErrorCode = "NOT_INITIALIZED"
	ErrAlreadyInitialized  ErrorCode = "ALREADY_INITIALIZED"
	ErrUncommittedChanges  ErrorCode = "UNCOMMITTED_CHANGES"
	ErrRemoteUnreachable   ErrorCode = "REMOTE_UNREACHABLE"
	ErrAuthenticationFail  ErrorCode = "AUTHENTICATION_FAILED"
	ErrBranchNotFound      ErrorCode = "BRANCH_NOT_FOUND"
	ErrCommitNotFound      ErrorCode = "COMMIT_NOT_FOUND"
	ErrMergeConflict       ErrorCode = "MERGE_CONFLICT"
	ErrUnresolvedConflicts ErrorCode = "UNRESOLVED_CONFLICTS"
	ErrNoChanges           ErrorCode = "NO_CHANGES"
	ErrRemoteRejected      ErrorCode = "REMOTE_REJECTED"
	ErrInvalidResolution   ErrorCode = "INVALID_RESOLUTION_JSON"
	ErrConfirmationReq     ErrorCode = "CONFIRMATION_REQUIRED"
	ErrCollectionNotFound  ErrorCode = "COLLECTION_NOT_FOUND"
	ErrCollectionExists    ErrorCode = "COLLECTION_EXISTS"
	ErrDuplicateID         ErrorCode = "DUPLICATE_ID"
	ErrOperationFailed     ErrorCode = "OPERATION_FAILED"
	ErrValidationFailed    ErrorCode = "VALIDATION_FAILED"
	ErrNamingCollision     ErrorCode = "NAMING_COLLISION"
	ErrEmbeddingIncompatible ErrorCode = "EMBEDDING_INCOMPATIBLE"
)

// StandardError is the envelope every tool result carries on failure.
type StandardError struct {
	ErrorInfo ErrorDetails `json:"error"`
}

func (e *StandardError) Error() string {
	return e.ErrorInfo.Message
}

// ErrorDetails is the serialized body of a StandardError.
type ErrorDetails struct {
	Code        ErrorCode   `json:"code"`
	Message     string      `json:"message"`
	Details     interface{} `json:"details,omitempty"`
	TraceID     string      `json:"trace_id,omitempty"`
	Suggestions []string    `json:"suggestions,omitempty"`
}

// NewStandardError creates an envelope for the given code.
func NewStandardError(code ErrorCode, message string, details interface{}) *StandardError {
	return &StandardError{
		ErrorInfo: ErrorDetails{Code: code, Message: message, Details: details},
	}
}

// NewValidationError reports a single bad input field.
func NewValidationError(field, reason string, value interface{}) *StandardError {
	return &StandardError{
		ErrorInfo: ErrorDetails{
			Code:    ErrValidationFailed,
			Message: fmt.Sprintf("validation failed for field %q: %s", field, reason),
			Details: map[string]interface{}{"field": field, "reason": reason, "value": value},
		},
	}
}

// NewRequiredFieldError reports a missing required parameter.
func NewRequiredFieldError(field string) *StandardError {
	return &StandardError{
		ErrorInfo: ErrorDetails{
			Code:    ErrValidationFailed,
			Message: fmt.Sprintf("required field %q is missing", field),
			Details: map[string]interface{}{"field": field},
		},
	}
}

// WithTraceID attaches a trace id for correlation with logs.
func (e *StandardError) WithTraceID(traceID string) *StandardError {
	e.ErrorInfo.TraceID = traceID
	return e
}

// WithSuggestions attaches caller-facing remediation hints.
func (e *StandardError) WithSuggestions(s ...string) *StandardError {
	e.ErrorInfo.Suggestions = append(e.ErrorInfo.Suggestions, s...)
	return e
}

// ToJSON renders the envelope for inclusion in a tool result.
func (e *StandardError) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// Envelope is the `{success, ..., message}` / `{success:false, error, message}` shape
// every tool in the façade returns, per the external interface contract.
type Envelope struct {
	Success bool        `json:"success"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
	Error   *ErrorCode  `json:"error,omitempty"`
	Details interface{} `json:"details,omitempty"`
}

// Ok builds a successful envelope.
func Ok(message string, data interface{}) Envelope {
	return Envelope{Success: true, Message: message, Data: data}
}

// Fail builds a failure envelope from a StandardError.
func Fail(err *StandardError) Envelope {
	code := err.ErrorInfo.Code
	return Envelope{
		Success: false,
		Error:   &code,
		Message: err.ErrorInfo.Message,
		Details: err.ErrorInfo.Details,
	}
}

// Timestamped is a convenience for error details that should carry a wall-clock marker.
func Timestamped(fields map[string]interface{}) map[string]interface{} {
	if fields == nil {
		fields = map[string]interface{}{}
	}
	fields["timestamp"] = time.Now().UTC().Format(time.RFC3339)
	return fields
}
