package idempotency

import (
	"context"
	"time"
)

const DefaultStatusTTL = 24 * time.Hour

// StatusStore publishes the latest session state and counts gateway submits.
type StatusStore struct {
	store Store
	ttl   time.Duration
}

func NewStatusStore(store Store, ttl time.Duration) *StatusStore {
	if store == nil {
		panic("idempotency store cannot be nil")
	}
	if ttl <= 0 {
		ttl = DefaultStatusTTL
	}
	return &StatusStore{store: store, ttl: ttl}
}

// SetStatus records state for sessionID.
func (s *StatusStore) SetStatus(ctx context.Context, sessionID, state string) error {
	return s.store.Set(ctx, PurchaseStatusKey(sessionID), state, s.ttl)
}

// Status returns the last recorded state; ok is false when none exists.
func (s *StatusStore) Status(ctx context.Context, sessionID string) (string, bool, error) {
	return s.store.Get(ctx, PurchaseStatusKey(sessionID))
}

// IncrementSubmits counts one more gateway submit and returns the total.
func (s *StatusStore) IncrementSubmits(ctx context.Context, sessionID string) (int64, error) {
	return s.store.Incr(ctx, GatewaySubmitCountKey(sessionID), s.ttl)
}
