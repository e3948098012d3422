package orchestrator

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/yourorg/purchase-gateway/internal/idempotency"
	"github.com/yourorg/purchase-gateway/internal/purchase"
	"github.com/yourorg/purchase-gateway/internal/repository"
)

// Sessions serializes every mutation of a session behind the idempotency lock
// and publishes the resulting state to the purchase-status key.
type Sessions struct {
	repo   repository.Repository
	locker *idempotency.SessionLocker
	status *idempotency.StatusStore
	logger *zap.Logger
}

func NewSessions(repo repository.Repository, locker *idempotency.SessionLocker, status *idempotency.StatusStore, logger *zap.Logger) *Sessions {
	if repo == nil {
		panic("Repository cannot be nil")
	}
	if locker == nil {
		panic("SessionLocker cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sessions{repo: repo, locker: locker, status: status, logger: logger}
}

// Get loads a session without locking it.
func (s *Sessions) Get(ctx context.Context, id purchase.SessionID) (*purchase.Process, error) {
	return s.repo.Get(ctx, id)
}

// Create stores a new session and publishes its state.
func (s *Sessions) Create(ctx context.Context, p *purchase.Process) error {
	if err := s.repo.Create(ctx, p); err != nil {
		return err
	}
	s.publish(ctx, p)
	return nil
}

// Mutate runs fn on the session while holding its lock and saves the result.
// When fn fails nothing is saved. A session already locked by another
// request, or whose lock was lost before fn finished, fails with
// KindSessionAlreadyProcessed. The save ignores cancellation; the repository
// version check rejects it if another request wrote the session first.
func (s *Sessions) Mutate(ctx context.Context, id purchase.SessionID, fn func(ctx context.Context, p *purchase.Process) error) (*purchase.Process, error) {
	var out *purchase.Process
	err := s.locker.WithLock(ctx, id.String(), func(ctx context.Context) error {
		p, err := s.repo.Get(ctx, id)
		if err != nil {
			return err
		}
		if err := fn(ctx, p); err != nil {
			return err
		}
		if err := s.repo.Save(context.WithoutCancel(ctx), p); err != nil {
			return err
		}
		s.publish(ctx, p)
		out = p
		return nil
	})
	if errors.Is(err, idempotency.ErrLockHeld) || errors.Is(err, idempotency.ErrLockLost) {
		return nil, purchase.WrapError(purchase.KindSessionAlreadyProcessed, "orchestrator.Sessions.Mutate", err)
	}
	return out, err
}

// IncrementSubmits counts one more gateway submit for id.
func (s *Sessions) IncrementSubmits(ctx context.Context, id purchase.SessionID) int64 {
	if s.status == nil {
		return 0
	}
	n, err := s.status.IncrementSubmits(ctx, id.String())
	if err != nil {
		s.logger.Warn("gateway submit counter unavailable", zap.String("session_id", id.String()), zap.Error(err))
		return 0
	}
	return n
}

func (s *Sessions) publish(ctx context.Context, p *purchase.Process) {
	if s.status == nil {
		return
	}
	if err := s.status.SetStatus(ctx, p.ID().String(), string(p.State())); err != nil {
		s.logger.Warn("purchase status not published", zap.String("session_id", p.ID().String()), zap.Error(err))
	}
}
