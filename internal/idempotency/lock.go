package idempotency

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const DefaultLockTTL = 30 * time.Second

// SessionLocker guards a session with a set-if-not-exists key.
type SessionLocker struct {
	store  Store
	ttl    time.Duration
	logger *zap.Logger
}

func NewSessionLocker(store Store, ttl time.Duration, logger *zap.Logger) *SessionLocker {
	if store == nil {
		panic("idempotency store cannot be nil")
	}
	if ttl <= 0 {
		ttl = DefaultLockTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SessionLocker{store: store, ttl: ttl, logger: logger}
}

// Acquire takes the lock for sessionID or returns ErrLockHeld. The returned
// release only deletes the key while this caller still owns it.
func (l *SessionLocker) Acquire(ctx context.Context, sessionID string) (func(context.Context), error) {
	key := SessionLockKey(sessionID)
	token := uuid.NewString()
	if err := l.acquire(ctx, key, token); err != nil {
		return nil, err
	}
	return func(ctx context.Context) { l.release(ctx, sessionID, key, token) }, nil
}

func (l *SessionLocker) acquire(ctx context.Context, key, token string) error {
	ok, err := l.store.SetNX(ctx, key, token, l.ttl)
	if err != nil {
		return err
	}
	if !ok {
		return ErrLockHeld
	}
	return nil
}

func (l *SessionLocker) release(ctx context.Context, sessionID, key, token string) {
	released, err := l.store.DelIfValue(ctx, key, token)
	if err != nil {
		l.logger.Warn("session lock release failed", zap.String("session_id", sessionID), zap.Error(err))
		return
	}
	if !released {
		l.logger.Warn("session lock expired before release", zap.String("session_id", sessionID))
	}
}

// WithLock runs fn while holding the session lock. The lock is extended every
// third of its ttl for as long as fn runs. If an extension finds the lock
// gone, or extensions keep failing until the ttl has passed, the context
// handed to fn is cancelled with ErrLockLost and WithLock reports it.
func (l *SessionLocker) WithLock(ctx context.Context, sessionID string, fn func(context.Context) error) error {
	key := SessionLockKey(sessionID)
	token := uuid.NewString()
	if err := l.acquire(ctx, key, token); err != nil {
		return err
	}
	defer l.release(context.WithoutCancel(ctx), sessionID, key, token)

	lockCtx, cancel := context.WithCancelCause(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		l.keepAlive(lockCtx, cancel, sessionID, key, token)
	}()

	err := fn(lockCtx)
	lost := errors.Is(context.Cause(lockCtx), ErrLockLost)
	cancel(nil)
	wg.Wait()
	if err != nil && lost {
		return fmt.Errorf("%w: %w", ErrLockLost, err)
	}
	return err
}

func (l *SessionLocker) keepAlive(ctx context.Context, cancel context.CancelCauseFunc, sessionID, key, token string) {
	ticker := time.NewTicker(max(l.ttl/3, time.Millisecond))
	defer ticker.Stop()
	extended := time.Now()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		ok, err := l.store.ExpireIfValue(ctx, key, token, l.ttl)
		switch {
		case err != nil:
			if ctx.Err() != nil {
				return
			}
			l.logger.Warn("session lock extension failed", zap.String("session_id", sessionID), zap.Error(err))
			if time.Since(extended) < l.ttl {
				continue
			}
		case ok:
			extended = time.Now()
			continue
		}
		l.logger.Error("session lock lost while processing", zap.String("session_id", sessionID))
		cancel(ErrLockLost)
		return
	}
}
