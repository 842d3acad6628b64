package shared

import (
	"context"

	"github.com/google/uuid"
)

type traceKey struct{}
type jobKey struct{}

// WithTraceID attaches a trace_id to the context.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceKey{}, traceID)
}

// TraceID extracts trace_id from context. Returns "-" if absent.
func TraceID(ctx context.Context) string {
	if v, ok := ctx.Value(traceKey{}).(string); ok && v != "" {
		return v
	}
	return "-"
}

// NewTraceID generates a new trace_id.
func NewTraceID() string {
	return uuid.NewString()
}

// WithJob attaches the name of the periodic job driving this context.
func WithJob(ctx context.Context, job string) context.Context {
	return context.WithValue(ctx, jobKey{}, job)
}

// Job extracts the job name from context. Returns "" if absent.
func Job(ctx context.Context) string {
	if v, ok := ctx.Value(jobKey{}).(string); ok {
		return v
	}
	return ""
}
