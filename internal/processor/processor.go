// Package processor selects the biller adapter for an attempt and normalizes
// its answer.
package processor

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/yourorg/purchase-gateway/internal/adapter"
	"github.com/yourorg/purchase-gateway/internal/purchase"
)

const (
	CodeAdapterNotFound       = "ADAPTER_NOT_FOUND"
	CodeAdapterExecutionError = "ADAPTER_EXECUTION_ERROR"
)

// Processor is the biller adapter registry.
type Processor struct {
	mu       sync.RWMutex
	registry map[string]adapter.BillerAdapter
}

// NewProcessor registers billers under their Name.
func NewProcessor(billers ...adapter.BillerAdapter) *Processor {
	p := &Processor{registry: make(map[string]adapter.BillerAdapter, len(billers))}
	for _, b := range billers {
		p.Register(b)
	}
	return p
}

func (p *Processor) Register(b adapter.BillerAdapter) {
	if b == nil {
		panic("biller adapter cannot be nil")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.registry[b.Name()] = b
}

// Names lists the registered billers in sorted order.
func (p *Processor) Names() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]string, 0, len(p.registry))
	for name := range p.registry {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Biller returns the adapter for name; an unknown biller is a config error.
func (p *Processor) Biller(name string) (adapter.BillerAdapter, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	b, ok := p.registry[name]
	if !ok {
		return nil, purchase.NewError(purchase.KindConfig, "processor.Biller", fmt.Sprintf("no adapter registered for biller %s", name))
	}
	return b, nil
}

// Charge runs one charge attempt on biller.
func (p *Processor) Charge(ctx context.Context, biller string, req adapter.ChargeRequest) (adapter.BillerResult, error) {
	return p.run(biller, func(b adapter.BillerAdapter) (adapter.BillerResult, error) { return b.Charge(ctx, req) })
}

func (p *Processor) LookupThreeD(ctx context.Context, biller string, req adapter.LookupRequest) (adapter.BillerResult, error) {
	return p.run(biller, func(b adapter.BillerAdapter) (adapter.BillerResult, error) { return b.LookupThreeD(ctx, req) })
}

func (p *Processor) CompleteThreeD(ctx context.Context, biller string, req adapter.CompleteRequest) (adapter.BillerResult, error) {
	return p.run(biller, func(b adapter.BillerAdapter) (adapter.BillerResult, error) { return b.CompleteThreeD(ctx, req) })
}

// run guarantees a result whose Status is TransactionError whenever err is set.
func (p *Processor) run(biller string, call func(adapter.BillerAdapter) (adapter.BillerResult, error)) (adapter.BillerResult, error) {
	b, err := p.Biller(biller)
	if err != nil {
		return adapter.BillerResult{
			Biller:       biller,
			Status:       purchase.TransactionError,
			ErrorCode:    CodeAdapterNotFound,
			ErrorMessage: err.Error(),
			Details:      map[string]string{},
		}, err
	}

	start := time.Now()
	res, err := call(b)
	if res.Biller == "" {
		res.Biller = biller
	}
	if res.Details == nil {
		res.Details = make(map[string]string)
	}
	if res.LatencyMs == 0 {
		res.LatencyMs = time.Since(start).Milliseconds()
	}
	if err != nil {
		res.Status = purchase.TransactionError
		if res.ErrorCode == "" {
			res.ErrorCode = CodeAdapterExecutionError
		}
		if res.ErrorMessage == "" {
			res.ErrorMessage = fmt.Sprintf("Adapter %s failed to process: %s", biller, err.Error())
		}
		res.Details["adapter_error_message"] = err.Error()
		return res, err
	}
	if res.Status == "" {
		res.Status = purchase.TransactionError
		res.ErrorCode = CodeAdapterExecutionError
		res.ErrorMessage = fmt.Sprintf("Adapter %s returned no status", biller)
	}
	return res, nil
}
