package types

import "context"

// contextKey is used for storing values in context.Context.
type contextKey string

const (
	keyTraceID     contextKey = "trace_id"
	keyRequestID   contextKey = "request_id"
	keyTenantID    contextKey = "tenant_id"
	keyUserID      contextKey = "user_id"
	keyAssistantID contextKey = "assistant_id"
	keySessionID   contextKey = "session_id"
)

// WithTraceID adds trace ID to context.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, keyTraceID, traceID)
}

// TraceID extracts trace ID from context.
func TraceID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(keyTraceID).(string)
	return v, ok && v != ""
}

// WithRequestID adds the HTTP request ID to context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, keyRequestID, requestID)
}

// RequestID extracts the HTTP request ID from context.
func RequestID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(keyRequestID).(string)
	return v, ok && v != ""
}

// WithTenantID adds tenant ID to context.
func WithTenantID(ctx context.Context, tenantID string) context.Context {
	return context.WithValue(ctx, keyTenantID, tenantID)
}

// TenantID extracts tenant ID from context.
func TenantID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(keyTenantID).(string)
	return v, ok && v != ""
}

// WithUserID adds user ID to context.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, keyUserID, userID)
}

// UserID extracts user ID from context.
func UserID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(keyUserID).(string)
	return v, ok && v != ""
}

// WithAssistantID adds the assistant scope to context.
func WithAssistantID(ctx context.Context, assistantID string) context.Context {
	return context.WithValue(ctx, keyAssistantID, assistantID)
}

// AssistantID extracts the assistant scope from context.
func AssistantID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(keyAssistantID).(string)
	return v, ok && v != ""
}

// WithSessionID adds the chat session ID to context.
func WithSessionID(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, keySessionID, sessionID)
}

// SessionID extracts the chat session ID from context.
func SessionID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(keySessionID).(string)
	return v, ok && v != ""
}
