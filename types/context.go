package types

import "context"

// contextKey is used for storing values in context.Context.
type contextKey string

const (
	keyTraceID      contextKey = "trace_id"
	keyRequestID    contextKey = "request_id"
	keyReloadSource contextKey = "reload_source"
	keyRemoteAddr   contextKey = "remote_addr"
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

// WithReloadSource records what triggered a reload (http, file, signal...).
func WithReloadSource(ctx context.Context, source ReloadSource) context.Context {
	return context.WithValue(ctx, keyReloadSource, source)
}

// ReloadSourceFrom extracts the reload trigger from context.
func ReloadSourceFrom(ctx context.Context) (ReloadSource, bool) {
	v, ok := ctx.Value(keyReloadSource).(ReloadSource)
	return v, ok && v != ""
}

// WithRemoteAddr records the client address that submitted a reload.
func WithRemoteAddr(ctx context.Context, addr string) context.Context {
	return context.WithValue(ctx, keyRemoteAddr, addr)
}

// RemoteAddr extracts the submitting client address from context.
func RemoteAddr(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(keyRemoteAddr).(string)
	return v, ok && v != ""
}
