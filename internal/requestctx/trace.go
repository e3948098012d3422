// Package requestctx carries the explicit per-request context of a purchase:
// correlation data for observability, the resolved site configuration with its
// logger, and per-attempt execution budgets.
package requestctx

import (
	"context"

	"github.com/google/uuid"
)

// TraceContext carries only cross-cutting concerns needed for observability.
type TraceContext struct {
	TraceID string            // correlation id used in logs and spans
	SpanID  string            // current span identifier
	Baggage map[string]string // optional key-value flags
	stdCtx  context.Context
}

// NewTraceContext creates a TraceContext with a fresh correlation id.
func NewTraceContext(ctx context.Context) TraceContext {
	return NewTraceContextWithIDs(ctx, uuid.NewString(), uuid.NewString())
}

// NewTraceContextWithIDs keeps an inbound correlation id, e.g. from a request header.
func NewTraceContextWithIDs(ctx context.Context, traceID, spanID string) TraceContext {
	if ctx == nil {
		ctx = context.Background()
	}
	if traceID == "" {
		traceID = uuid.NewString()
	}
	if spanID == "" {
		spanID = uuid.NewString()
	}
	return TraceContext{TraceID: traceID, SpanID: spanID, Baggage: make(map[string]string), stdCtx: ctx}
}

// Context returns the standard context bound to this trace.
func (tc TraceContext) Context() context.Context {
	if tc.stdCtx == nil {
		return context.Background()
	}
	return tc.stdCtx
}

// WithContext returns a copy bound to ctx.
func (tc TraceContext) WithContext(ctx context.Context) TraceContext {
	tc.stdCtx = ctx
	return tc
}

// NewSpan generates a new SpanID for a child operation within the same trace.
func (tc *TraceContext) NewSpan() string {
	tc.SpanID = uuid.NewString()
	return tc.SpanID
}
