package logger

import (
	"context"

	"go.uber.org/zap"
)

// Standard field names for structured logging.
const (
	// Identity
	FieldCallID        = "call_id"
	FieldOwnerID       = "owner_id"
	FieldTransactionID = "transaction_id"
	FieldRequestID     = "request_id"

	// Components
	FieldComponent = "component"
	FieldProvider  = "provider"

	// Delivery
	FieldChannel     = "channel"
	FieldDestination = "destination"
	FieldRegion      = "region"
	FieldSimulated   = "simulated"
	FieldOutcome     = "outcome"

	// Timing
	FieldDurationMS    = "duration_ms"
	FieldScheduledTime = "scheduled_time"

	// Errors
	FieldError = "error"

	// Counts
	FieldCount = "count"

	// Status
	FieldStatus = "status"
	FieldFrom   = "from"
	FieldTo     = "to"

	// HTTP
	FieldMethod = "method"
	FieldPath   = "path"
)

type contextKey string

const (
	callIDKey    contextKey = "logger_call_id"
	requestIDKey contextKey = "logger_request_id"
)

// WithCallID adds a wake-up call ID to the context for logging
func WithCallID(ctx context.Context, callID string) context.Context {
	return context.WithValue(ctx, callIDKey, callID)
}

// WithRequestID adds a request ID to the context for logging
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// FieldsFromContext extracts logging fields from context as key-value pairs.
func FieldsFromContext(ctx context.Context) []interface{} {
	var fields []interface{}

	if callID, ok := ctx.Value(callIDKey).(string); ok && callID != "" {
		fields = append(fields, FieldCallID, callID)
	}
	if requestID, ok := ctx.Value(requestIDKey).(string); ok && requestID != "" {
		fields = append(fields, FieldRequestID, requestID)
	}

	return fields
}

// FromContext returns base with the context's fields attached.
func FromContext(ctx context.Context, base *zap.SugaredLogger) *zap.SugaredLogger {
	fields := FieldsFromContext(ctx)
	if len(fields) == 0 {
		return base
	}
	return base.With(fields...)
}

// ComponentLogger returns a named logger for a specific component.
// This is the preferred way to get a logger for dependency injection.
//
//	pool := async.NewWorkerPool(queue, executor, cfg, logger.ComponentLogger("pulse.worker"))
func ComponentLogger(name string) *zap.SugaredLogger {
	return Logger.Named(name)
}
