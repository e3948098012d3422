package resilience

import (
	"context"

	"github.com/yourorg/purchase-gateway/internal/adapter"
	"github.com/yourorg/purchase-gateway/internal/circuitbreaker"
)

// BillerBreakerName is the breaker guarding calls to biller.
func BillerBreakerName(biller string) string { return "biller-" + biller }

// Biller guards a BillerAdapter with a breaker. There is no fallback: an open
// circuit is reported as an error so the cascade moves on.
type Biller struct {
	next adapter.BillerAdapter
	cb   *circuitbreaker.CircuitBreaker
}

func NewBiller(next adapter.BillerAdapter, cb *circuitbreaker.CircuitBreaker) *Biller {
	return &Biller{next: next, cb: cb}
}

func (b *Biller) Name() string { return b.next.Name() }

func (b *Biller) Charge(ctx context.Context, req adapter.ChargeRequest) (adapter.BillerResult, error) {
	return circuitbreaker.Execute(ctx, b.cb, BillerBreakerName(b.next.Name()),
		func(ctx context.Context) (adapter.BillerResult, error) { return b.next.Charge(ctx, req) },
		nil)
}

func (b *Biller) LookupThreeD(ctx context.Context, req adapter.LookupRequest) (adapter.BillerResult, error) {
	return circuitbreaker.Execute(ctx, b.cb, BillerBreakerName(b.next.Name()),
		func(ctx context.Context) (adapter.BillerResult, error) { return b.next.LookupThreeD(ctx, req) },
		nil)
}

func (b *Biller) CompleteThreeD(ctx context.Context, req adapter.CompleteRequest) (adapter.BillerResult, error) {
	return circuitbreaker.Execute(ctx, b.cb, BillerBreakerName(b.next.Name()),
		func(ctx context.Context) (adapter.BillerResult, error) { return b.next.CompleteThreeD(ctx, req) },
		nil)
}
