package tracing

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ctxKey is unexported so no other package can collide with these keys.
type ctxKey int

const (
	traceIDKey ctxKey = iota
	clientIDKey
	callIDKey
	requestIDKey
)

// NewTraceID generates a fresh trace identifier.
func NewTraceID() string {
	return uuid.New().String()
}

// WithTraceID returns a context carrying the trace ID.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDKey, traceID)
}

// WithClientID returns a context carrying the gateway client ID.
func WithClientID(ctx context.Context, clientID string) context.Context {
	return context.WithValue(ctx, clientIDKey, clientID)
}

// WithCallID returns a context carrying the tool call ID.
func WithCallID(ctx context.Context, callID string) context.Context {
	return context.WithValue(ctx, callIDKey, callID)
}

// WithRequestID returns a context carrying the JSON-RPC request ID.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// GetTraceID returns the trace ID, or an empty string when absent.
func GetTraceID(ctx context.Context) string { return stringValue(ctx, traceIDKey) }

// GetClientID returns the gateway client ID, or an empty string when absent.
func GetClientID(ctx context.Context) string { return stringValue(ctx, clientIDKey) }

// GetCallID returns the tool call ID, or an empty string when absent.
func GetCallID(ctx context.Context) string { return stringValue(ctx, callIDKey) }

// GetRequestID returns the JSON-RPC request ID, or an empty string when absent.
func GetRequestID(ctx context.Context) string { return stringValue(ctx, requestIDKey) }

func stringValue(ctx context.Context, key ctxKey) string {
	v, _ := ctx.Value(key).(string)
	return v
}

// LoggerFromContext returns a logger annotated with the request identifiers
// carried by ctx. Identifiers absent from the context are left off.
func LoggerFromContext(ctx context.Context, base zerolog.Logger) zerolog.Logger {
	lc := base.With()
	if traceID := GetTraceID(ctx); traceID != "" {
		lc = lc.Str("trace_id", traceID)
	}
	if clientID := GetClientID(ctx); clientID != "" {
		lc = lc.Str("client_id", clientID)
	}
	if callID := GetCallID(ctx); callID != "" {
		lc = lc.Str("call_id", callID)
	}
	return lc.Logger()
}
