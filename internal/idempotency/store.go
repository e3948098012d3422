// Package idempotency holds the per-session keys that keep concurrent requests
// from processing the same purchase twice.
package idempotency

import (
	"context"
	"errors"
	"time"
)

// ErrLockHeld is returned when another request already owns the session lock.
var ErrLockHeld = errors.New("idempotency: session already being processed")

// ErrLockLost is the cancellation cause seen by work running under a lock
// that expired or was taken over before the work finished.
var ErrLockLost = errors.New("idempotency: session lock lost")

// Store is the key/value contract shared by the memory and Redis backends.
type Store interface {
	// SetNX stores value under key only if the key is absent.
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	// Get reports ok=false for a missing or expired key.
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	Del(ctx context.Context, key string) error
	// DelIfValue deletes key only while it still holds value.
	DelIfValue(ctx context.Context, key, value string) (bool, error)
	// ExpireIfValue resets the ttl of key only while it still holds value.
	ExpireIfValue(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	// Incr increments an integer key, setting ttl when the key is created.
	Incr(ctx context.Context, key string, ttl time.Duration) (int64, error)
}

const (
	sessionLockPrefix        = "session-lock"
	purchaseStatusPrefix     = "purchase-status"
	gatewaySubmitCountPrefix = "gateway-submit-count"
)

func SessionLockKey(sessionID string) string        { return sessionLockPrefix + ":" + sessionID }
func PurchaseStatusKey(sessionID string) string     { return purchaseStatusPrefix + ":" + sessionID }
func GatewaySubmitCountKey(sessionID string) string { return gatewaySubmitCountPrefix + ":" + sessionID }
