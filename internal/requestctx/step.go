package requestctx

import (
	"context"
	"time"
)

// StepExecutionContext is derived for every biller attempt.
type StepExecutionContext struct {
	TraceID           string
	SpanID            string
	StartTime         time.Time
	RemainingBudgetMs int64
	Biller            string
	AttemptNumber     int
	timeoutMs         int64
}

// DeriveStepContext computes the remaining budget of an attempt started after startTime.
func DeriveStepContext(tc *TraceContext, dc DomainContext, biller string, startTime time.Time, attemptNumber int) StepExecutionContext {
	remaining := dc.TimeoutConfig.OverallBudgetMs - time.Since(startTime).Milliseconds()
	if dc.TimeoutConfig.OverallBudgetMs <= 0 {
		remaining = 0
	} else if remaining < 0 {
		remaining = -1
	}
	return StepExecutionContext{
		TraceID:           tc.TraceID,
		SpanID:            tc.NewSpan(),
		StartTime:         time.Now(),
		RemainingBudgetMs: remaining,
		Biller:            biller,
		AttemptNumber:     attemptNumber,
		timeoutMs:         dc.TimeoutConfig.BillerTimeoutMs,
	}
}

// BudgetExhausted reports whether the overall budget ran out before the attempt.
func (s StepExecutionContext) BudgetExhausted() bool {
	return s.RemainingBudgetMs < 0
}

// Bound returns ctx limited by the remaining budget and the per-biller timeout.
// A zero budget means unlimited.
func (s StepExecutionContext) Bound(ctx context.Context) (context.Context, context.CancelFunc) {
	limit := s.timeoutMs
	if s.RemainingBudgetMs > 0 && (limit <= 0 || s.RemainingBudgetMs < limit) {
		limit = s.RemainingBudgetMs
	}
	if limit <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, time.Duration(limit)*time.Millisecond)
}
