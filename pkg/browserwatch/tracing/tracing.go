// Package tracing carries request and trace identifiers explicitly through
// the capture pipeline so uploads can be correlated with the run that
// produced them.
package tracing

import (
	"context"
	"strings"

	"github.com/google/uuid"
	oteltrace "go.opentelemetry.io/otel/trace"
)

const (
	// RequestIDHeader is the header carrying the request id.
	RequestIDHeader = "X-Request-ID"

	// TraceIDHeader is the header carrying the distributed trace id.
	TraceIDHeader = "X-Trace-ID"
)

type contextKey string

const (
	requestIDKey contextKey = "request_id"
	traceIDKey   contextKey = "trace_id"
)

// Context identifies one request within a distributed trace.
type Context struct {
	RequestID string
	TraceID   string
}

// Ensure returns c with missing identifiers generated.
func (c Context) Ensure() Context {
	if c.RequestID == "" {
		c.RequestID = GenerateRequestID()
	}
	if c.TraceID == "" {
		c.TraceID = GenerateTraceID()
	}
	return c
}

// WithRequestID stores a request id in ctx.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// WithTraceID stores a trace id in ctx.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDKey, traceID)
}

// WithContext stores both identifiers of tc in ctx.
func WithContext(ctx context.Context, tc Context) context.Context {
	if tc.RequestID != "" {
		ctx = WithRequestID(ctx, tc.RequestID)
	}
	if tc.TraceID != "" {
		ctx = WithTraceID(ctx, tc.TraceID)
	}
	return ctx
}

// FromContext returns the identifiers stored in ctx. When no trace id was
// stored explicitly, the trace id of an active OpenTelemetry span is used.
// Either field may be empty; call Ensure to fill them.
func FromContext(ctx context.Context) Context {
	var tc Context
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		tc.RequestID = v
	}
	if v, ok := ctx.Value(traceIDKey).(string); ok {
		tc.TraceID = v
	}
	if tc.TraceID == "" {
		if sc := oteltrace.SpanContextFromContext(ctx); sc.HasTraceID() {
			tc.TraceID = sc.TraceID().String()
		}
	}
	return tc
}

// GenerateRequestID returns a new random request id.
func GenerateRequestID() string {
	return uuid.NewString()
}

// GenerateTraceID returns a new random trace id in the 32 hex character form
// used by W3C trace context.
func GenerateTraceID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}
