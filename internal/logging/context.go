package logging

import (
	"context"
	"log/slog"
	"strings"
)

const (
	// FieldComponent is the standardized structured logging key for component names.
	FieldComponent = "component"
	// FieldScanLabel identifies the queue item a record belongs to.
	FieldScanLabel = "scan_label"
	// FieldRunUID is the acquisition run identifier returned by the run recorder.
	FieldRunUID = "run_uid"
	// FieldRunState carries controller state names.
	FieldRunState = "run_state"
	// FieldEventType classifies a record for filtering.
	FieldEventType = "event_type"
	// FieldErrorHint tells the operator what to check next.
	FieldErrorHint = "error_hint"
	// FieldImpact is the user-facing consequence of a warning.
	FieldImpact = "impact"
	// FieldCorrelationID ties records to one IPC or HTTP request.
	FieldCorrelationID = "correlation_id"
)

type contextKey int

const (
	scanLabelKey contextKey = iota
	runUIDKey
	requestIDKey
)

// WithScan tags ctx with the scan label.
func WithScan(ctx context.Context, label string) context.Context {
	return context.WithValue(ctx, scanLabelKey, label)
}

// ScanFromContext returns the scan label stored in ctx.
func ScanFromContext(ctx context.Context) (string, bool) {
	return stringValue(ctx, scanLabelKey)
}

// WithRunUID tags ctx with the open acquisition run.
func WithRunUID(ctx context.Context, uid string) context.Context {
	return context.WithValue(ctx, runUIDKey, uid)
}

// RunUIDFromContext returns the run uid stored in ctx.
func RunUIDFromContext(ctx context.Context) (string, bool) {
	return stringValue(ctx, runUIDKey)
}

// WithRequestID tags ctx with a request correlation id.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestIDFromContext returns the correlation id stored in ctx.
func RequestIDFromContext(ctx context.Context) (string, bool) {
	return stringValue(ctx, requestIDKey)
}

func stringValue(ctx context.Context, key contextKey) (string, bool) {
	if ctx == nil {
		return "", false
	}
	value, ok := ctx.Value(key).(string)
	if !ok || strings.TrimSpace(value) == "" {
		return "", false
	}
	return value, true
}

// ContextFields extracts standardized slog attributes from the provided context.
func ContextFields(ctx context.Context) []slog.Attr {
	fields := make([]slog.Attr, 0, 3)
	if label, ok := ScanFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldScanLabel, label))
	}
	if uid, ok := RunUIDFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldRunUID, uid))
	}
	if rid, ok := RequestIDFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldCorrelationID, rid))
	}
	return fields
}

// WithContext returns a logger augmented with structured fields derived from the supplied context.
func WithContext(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if logger == nil {
		logger = NewNop()
	}
	fields := ContextFields(ctx)
	if len(fields) == 0 {
		return logger
	}
	return logger.With(Args(fields...)...)
}
