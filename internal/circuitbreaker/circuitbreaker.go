// Package circuitbreaker guards calls to external dependencies with a
// Closed/Open/HalfOpen state machine per dependency name. The open flag is
// mirrored into a StateStore so every worker process sees a tripped breaker.
package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

// State represents the state of the circuit breaker.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "Closed"
	case StateOpen:
		return "Open"
	case StateHalfOpen:
		return "HalfOpen"
	default:
		return "Unknown"
	}
}

const (
	defaultFailureThreshold         = 3
	defaultResetTimeout             = 30 * time.Second
	defaultHalfOpenSuccessThreshold = 1
)

// ErrOpen is handed to fallbacks when the call was short-circuited.
var ErrOpen = errors.New("circuitbreaker: circuit open")

// Config tunes every breaker created by a CircuitBreaker.
type Config struct {
	FailureThreshold         int           // consecutive failures that open the circuit
	ResetTimeout             time.Duration // time spent Open before a trial call
	HalfOpenSuccessThreshold int           // trial successes needed to close again
	CallTimeout              time.Duration // per-call deadline, zero means none
	// IsFailure decides whether an error counts against the breaker.
	// Defaults to every non-nil error.
	IsFailure func(error) bool
}

func (c Config) withDefaults() Config {
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = defaultFailureThreshold
	}
	if c.ResetTimeout <= 0 {
		c.ResetTimeout = defaultResetTimeout
	}
	if c.HalfOpenSuccessThreshold <= 0 {
		c.HalfOpenSuccessThreshold = defaultHalfOpenSuccessThreshold
	}
	if c.IsFailure == nil {
		c.IsFailure = func(err error) bool { return err != nil }
	}
	return c
}

// breakerState holds the local view of one dependency.
type breakerState struct {
	state                State
	consecutiveFailures  int
	consecutiveSuccesses int
	openUntil            time.Time
}

// Option customises a CircuitBreaker.
type Option func(*CircuitBreaker)

// WithStateStore shares open flags through store.
func WithStateStore(store StateStore) Option {
	return func(cb *CircuitBreaker) { cb.store = store }
}

func WithLogger(logger *zap.Logger) Option {
	return func(cb *CircuitBreaker) { cb.logger = logger }
}

func WithClock(now func() time.Time) Option {
	return func(cb *CircuitBreaker) { cb.now = now }
}

// CircuitBreaker tracks one breaker per dependency name.
type CircuitBreaker struct {
	mu       sync.Mutex
	cfg      Config
	breakers map[string]*breakerState
	store    StateStore
	logger   *zap.Logger
	now      func() time.Time
}

// NewCircuitBreaker creates a CircuitBreaker; zero Config fields take defaults.
func NewCircuitBreaker(cfg Config, opts ...Option) *CircuitBreaker {
	cb := &CircuitBreaker{
		cfg:      cfg.withDefaults(),
		breakers: make(map[string]*breakerState),
		store:    NewMemoryStateStore(),
		logger:   zap.NewNop(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(cb)
	}
	return cb
}

// Config returns the effective configuration.
func (cb *CircuitBreaker) Config() Config { return cb.cfg }

// getState assumes cb.mu is held.
func (cb *CircuitBreaker) getState(name string) *breakerState {
	bs, ok := cb.breakers[name]
	if !ok {
		bs = &breakerState{state: StateClosed}
		cb.breakers[name] = bs
	}
	return bs
}

// setState assumes cb.mu is held.
func (cb *CircuitBreaker) setState(name string, bs *breakerState, to State) {
	if bs.state == to {
		return
	}
	cb.logger.Info("circuit breaker transition",
		zap.String("breaker", name),
		zap.String("from", bs.state.String()),
		zap.String("to", to.String()))
	bs.state = to
	breakerStateGauge.WithLabelValues(name).Set(float64(to))
	breakerTransitionsTotal.WithLabelValues(name, to.String()).Inc()
}

func (cb *CircuitBreaker) sharedOpen(ctx context.Context, name string) bool {
	open, err := cb.store.IsOpen(ctx, name)
	if err != nil {
		// Store unreachable: fall back to the local view.
		cb.logger.Warn("circuit breaker state store unavailable", zap.String("breaker", name), zap.Error(err))
		return false
	}
	return open
}

// AllowRequest reports whether a call to name may go through. An Open
// breaker moves to HalfOpen once ResetTimeout elapsed and no other worker
// holds the shared open flag.
func (cb *CircuitBreaker) AllowRequest(ctx context.Context, name string) bool {
	shared := cb.sharedOpen(ctx, name)

	cb.mu.Lock()
	defer cb.mu.Unlock()
	bs := cb.getState(name)
	now := cb.now()

	switch bs.state {
	case StateClosed:
		if shared {
			cb.setState(name, bs, StateOpen)
			bs.openUntil = now
			return false
		}
		return true
	case StateOpen:
		if now.Before(bs.openUntil) || shared {
			return false
		}
		cb.setState(name, bs, StateHalfOpen)
		bs.consecutiveSuccesses = 0
		bs.consecutiveFailures = 0
		return true
	case StateHalfOpen:
		return true
	default:
		cb.setState(name, bs, StateClosed)
		return true
	}
}

// RecordFailure records a failed call to name.
func (cb *CircuitBreaker) RecordFailure(ctx context.Context, name string) {
	cb.mu.Lock()
	bs := cb.getState(name)
	opened := false
	switch bs.state {
	case StateClosed:
		bs.consecutiveFailures++
		if bs.consecutiveFailures >= cb.cfg.FailureThreshold {
			cb.setState(name, bs, StateOpen)
			bs.openUntil = cb.now().Add(cb.cfg.ResetTimeout)
			opened = true
		}
	case StateHalfOpen:
		cb.setState(name, bs, StateOpen)
		bs.openUntil = cb.now().Add(cb.cfg.ResetTimeout)
		bs.consecutiveFailures = cb.cfg.FailureThreshold
		bs.consecutiveSuccesses = 0
		opened = true
	case StateOpen:
	}
	cb.mu.Unlock()

	if opened {
		if err := cb.store.MarkOpen(ctx, name, cb.cfg.ResetTimeout); err != nil {
			cb.logger.Warn("circuit breaker could not share open state", zap.String("breaker", name), zap.Error(err))
		}
	}
}

// RecordSuccess records a successful call to name.
func (cb *CircuitBreaker) RecordSuccess(ctx context.Context, name string) {
	cb.mu.Lock()
	bs := cb.getState(name)
	closed := false
	switch bs.state {
	case StateClosed:
		bs.consecutiveFailures = 0
	case StateHalfOpen:
		bs.consecutiveSuccesses++
		if bs.consecutiveSuccesses >= cb.cfg.HalfOpenSuccessThreshold {
			cb.setState(name, bs, StateClosed)
			bs.consecutiveFailures = 0
			bs.consecutiveSuccesses = 0
			closed = true
		}
	case StateOpen:
	}
	cb.mu.Unlock()

	if closed {
		if err := cb.store.Clear(ctx, name); err != nil {
			cb.logger.Warn("circuit breaker could not clear shared state", zap.String("breaker", name), zap.Error(err))
		}
	}
}

// GetStatus returns the local state and consecutive failure count of name.
// It never transitions state.
func (cb *CircuitBreaker) GetStatus(name string) (State, int) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	bs, ok := cb.breakers[name]
	if !ok {
		return StateClosed, 0
	}
	return bs.state, bs.consecutiveFailures
}

// Call runs fn through the breaker named name. See Execute.
func (cb *CircuitBreaker) Call(ctx context.Context, name string, fn func(context.Context) error, fallback func(context.Context, error) error) error {
	_, err := Execute(ctx, cb, name,
		func(ctx context.Context) (struct{}, error) { return struct{}{}, fn(ctx) },
		wrapFallback(fallback))
	return err
}

func wrapFallback(fallback func(context.Context, error) error) func(context.Context, error) (struct{}, error) {
	if fallback == nil {
		return nil
	}
	return func(ctx context.Context, cause error) (struct{}, error) {
		return struct{}{}, fallback(ctx, cause)
	}
}

// Execute runs fn through the breaker named name. When the circuit is open,
// or fn fails with an error counted by Config.IsFailure, fallback supplies the
// result; a nil fallback returns the error instead. Errors that do not count as
// failures are returned unchanged and leave the breaker untouched.
func Execute[T any](
	ctx context.Context,
	cb *CircuitBreaker,
	name string,
	fn func(context.Context) (T, error),
	fallback func(context.Context, error) (T, error),
) (T, error) {
	var zero T
	if !cb.AllowRequest(ctx, name) {
		breakerShortCircuitsTotal.WithLabelValues(name).Inc()
		if fallback == nil {
			return zero, ErrOpen
		}
		return fallback(ctx, ErrOpen)
	}

	callCtx := ctx
	if cb.cfg.CallTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, cb.cfg.CallTimeout)
		defer cancel()
	}

	v, err := fn(callCtx)
	if err == nil {
		cb.RecordSuccess(ctx, name)
		return v, nil
	}
	if !cb.cfg.IsFailure(err) {
		return v, err
	}
	cb.RecordFailure(ctx, name)
	cb.logger.Debug("circuit breaker call failed", zap.String("breaker", name), zap.Error(err))
	if fallback == nil {
		return zero, err
	}
	return fallback(ctx, err)
}
