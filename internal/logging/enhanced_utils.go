package logging

import (
	"context"
	"time"

	apperrors "lerian-sync-engine/internal/errors"
)

// EnhancedLogger wraps the base Logger with a few structured convenience
// helpers used across the sync engine's adapters.
type EnhancedLogger struct {
	Logger
	component string
}

// NewEnhancedLogger creates an enhanced logger for a component.
func NewEnhancedLogger(component string) *EnhancedLogger {
	baseLogger := NewLogger(INFO)
	return &EnhancedLogger{
		Logger:    baseLogger.WithComponent(component),
		component: component,
	}
}

// WithContext creates a logger carrying the trace ID found on ctx, if any.
func (l *EnhancedLogger) WithContext(ctx context.Context) *EnhancedLogger {
	traceID := getTraceIDFromContext(ctx)
	return &EnhancedLogger{
		Logger:    l.Logger.WithTraceID(traceID),
		component: l.component,
	}
}

// WithError logs err, unpacking adapter context when present.
func (l *EnhancedLogger) WithError(err error) *EnhancedLogger {
	if err == nil {
		return l
	}

	if adapterErr, ok := err.(*apperrors.AdapterError); ok {
		l.Error("adapter error",
			"error", err.Error(),
			"category", string(adapterErr.Context.Category),
			"retryable", adapterErr.IsRetryable(),
			"component", adapterErr.Context.Component,
			"operation", adapterErr.Context.Operation,
		)
	} else {
		l.Error("error occurred", "error", err.Error())
	}

	return l
}

// LogOperation logs the start and completion of an operation.
func (l *EnhancedLogger) LogOperation(operation string, fn func() error) error {
	startTime := time.Now()
	l.Info("starting operation", "operation", operation)

	err := fn()
	duration := time.Since(startTime)

	if err != nil {
		l.Error("operation failed",
			"operation", operation,
			"duration_ms", duration.Milliseconds(),
			"error", err.Error(),
		)
		return err
	}

	l.Info("operation completed",
		"operation", operation,
		"duration_ms", duration.Milliseconds(),
	)
	return nil
}

// LogSlowOperation logs operations that exceed an expected duration.
func (l *EnhancedLogger) LogSlowOperation(operation string, duration, expected time.Duration) {
	l.Warn("slow operation detected",
		"operation", operation,
		"duration_ms", duration.Milliseconds(),
		"expected_ms", expected.Milliseconds(),
		"slowdown_factor", float64(duration)/float64(expected),
	)
}

func getTraceIDFromContext(ctx context.Context) string {
	if traceID, ok := ctx.Value("trace_id").(string); ok {
		return traceID
	}
	if traceID, ok := ctx.Value(TraceIDKey).(string); ok {
		return traceID
	}
	return ""
}

// Global logger instances for the engine's main components.
var (
	SyncLogger           = NewEnhancedLogger("syncengine")
	VersionedStoreLogger = NewEnhancedLogger("vcs")
	VectorStoreLogger    = NewEnhancedLogger("vectorstore")
	ConflictLogger       = NewEnhancedLogger("conflict")
	ToolsLogger          = NewEnhancedLogger("tools")
)

// GetComponentLogger returns an enhanced logger for a specific component.
func GetComponentLogger(component string) *EnhancedLogger {
	return NewEnhancedLogger(component)
}
