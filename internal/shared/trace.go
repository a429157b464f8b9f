package shared

import (
	"context"

	"github.com/google/uuid"
)

type traceKey struct{}
type providerKey struct{}
type runIDKey struct{}

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

// WithProvider attaches the provider tag of the active import to the context.
func WithProvider(ctx context.Context, provider string) context.Context {
	return context.WithValue(ctx, providerKey{}, provider)
}

// Provider extracts the provider tag from context. Returns "" if absent.
func Provider(ctx context.Context) string {
	if v, ok := ctx.Value(providerKey{}).(string); ok {
		return v
	}
	return ""
}

// WithRunID attaches the ingestion run row id to the context.
func WithRunID(ctx context.Context, runID int64) context.Context {
	return context.WithValue(ctx, runIDKey{}, runID)
}

// RunID extracts the ingestion run row id from context. Returns 0 if absent.
func RunID(ctx context.Context) int64 {
	if v, ok := ctx.Value(runIDKey{}).(int64); ok {
		return v
	}
	return 0
}
