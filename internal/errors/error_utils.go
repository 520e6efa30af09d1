package errors

import (
	"context"
	"runtime"
	"strings"
	"time"
)

// ErrorCategory classifies an adapter error for retry/backoff decisions.
type ErrorCategory string

const (
	CategoryRetryable  ErrorCategory = "retryable"
	CategoryPermanent  ErrorCategory = "permanent"
	CategoryTimeout    ErrorCategory = "timeout"
	CategoryRateLimit  ErrorCategory = "rate_limit"
	CategoryValidation ErrorCategory = "validation"
)

// AdapterContext carries the operation metadata an adapter error is wrapped with
// before it is logged to the operations table and re-raised, per the propagation rule.
type AdapterContext struct {
	Operation  string
	Component  string
	TraceID    string
	Metadata   map[string]interface{}
	StackTrace string
	Timestamp  time.Time
	Category   ErrorCategory
	Retryable  bool
}

// AdapterError wraps an underlying adapter failure with enough context to log and
// to decide whether a caller-driven retry makes sense.
type AdapterError struct {
	Err     error
	Context AdapterContext
}

func (e *AdapterError) Error() string {
	return "[" + e.Context.Component + ":" + e.Context.Operation + "] " + e.Err.Error()
}

func (e *AdapterError) Unwrap() error { return e.Err }

// IsRetryable reports whether the wrapped failure is a caller-retry candidate.
func (e *AdapterError) IsRetryable() bool { return e.Context.Retryable }

// NewAdapterError wraps err with component/operation/category context.
func NewAdapterError(err error, component, operation string, category ErrorCategory) *AdapterError {
	return &AdapterError{
		Err: err,
		Context: AdapterContext{
			Operation:  operation,
			Component:  component,
			Category:   category,
			Retryable:  category == CategoryRetryable || category == CategoryTimeout || category == CategoryRateLimit,
			Timestamp:  time.Now(),
			StackTrace: stackTrace(),
		},
	}
}

// WithContext copies the trace id carried on ctx, if any, onto the error.
func (e *AdapterError) WithContext(ctx context.Context) *AdapterError {
	if traceID, ok := ctx.Value(traceIDKey{}).(string); ok && traceID != "" {
		e.Context.TraceID = traceID
	}
	return e
}

// WithMetadata attaches a single key/value of diagnostic metadata.
func (e *AdapterError) WithMetadata(key string, value interface{}) *AdapterError {
	if e.Context.Metadata == nil {
		e.Context.Metadata = make(map[string]interface{})
	}
	e.Context.Metadata[key] = value
	return e
}

type traceIDKey struct{}

// WrapVersionedStoreError classifies a failure from the versioned-store CLI adapter.
func WrapVersionedStoreError(err error, operation string) error {
	if err == nil {
		return nil
	}
	category := ErrorCategory(CategoryPermanent)
	if isTemporary(err) {
		category = CategoryRetryable
	}
	return NewAdapterError(err, "vcs", operation, category)
}

// WrapVectorStoreError classifies a failure from the vector-store adapter.
func WrapVectorStoreError(err error, operation string) error {
	if err == nil {
		return nil
	}
	category := ErrorCategory(CategoryPermanent)
	switch {
	case isRateLimit(err):
		category = CategoryRateLimit
	case isTemporary(err):
		category = CategoryRetryable
	}
	return NewAdapterError(err, "vectorstore", operation, category)
}

// WrapEmbeddingError classifies a failure from the embedding service.
func WrapEmbeddingError(err error, operation string) error {
	if err == nil {
		return nil
	}
	category := ErrorCategory(CategoryPermanent)
	if isRateLimit(err) {
		category = CategoryRateLimit
	} else if isTemporary(err) {
		category = CategoryRetryable
	}
	return NewAdapterError(err, "embeddings", operation, category)
}

func stackTrace() string {
	buf := make([]byte, 2048)
	n := runtime.Stack(buf, false)
	return string(buf[:n])
}

var temporaryPatterns = []string{
	"connection refused",
	"timeout",
	"temporary failure",
	"service unavailable",
	"too many requests",
	"deadline exceeded",
	"context deadline exceeded",
	"eof",
}

func isTemporary(err error) bool {
	msg := strings.ToLower(err.Error())
	for _, pattern := range temporaryPatterns {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}

var rateLimitPatterns = []string{"rate limit", "quota exceeded", "too many requests", "429"}

func isRateLimit(err error) bool {
	msg := strings.ToLower(err.Error())
	for _, pattern := range rateLimitPatterns {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}
